//go:build linux

package ffmpegdecoder

const platformHWAccel = "vaapi"

var commonPaths = []string{
	"/usr/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
	"/opt/homebrew/bin/ffmpeg",
	"/snap/bin/ffmpeg",
}
