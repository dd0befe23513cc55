//go:build !darwin && !windows && !linux

package ffmpegdecoder

// No hardware decoder is known for this platform.
const platformHWAccel = ""

var commonPaths = []string{
	"/usr/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
}
