//go:build darwin

package ffmpegdecoder

const platformHWAccel = "videotoolbox"

var commonPaths = []string{
	"/opt/homebrew/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
	"/usr/bin/ffmpeg",
}
