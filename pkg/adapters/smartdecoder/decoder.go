// Package smartdecoder selects a decoder backend for each stream of a source.
package smartdecoder

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/warpplayer/pkg/adapters/ffmpegdecoder"
	"github.com/user/warpplayer/pkg/adapters/logger"
	"github.com/user/warpplayer/pkg/adapters/rawdecoder"
	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

// Backend represents the decoding backend used.
type Backend string

const (
	// BackendRaw passes uncompressed samples through in-process.
	BackendRaw Backend = "raw"
	// BackendFFmpeg decodes in software with an ffmpeg child process.
	BackendFFmpeg Backend = "ffmpeg"
	// BackendHW decodes with an ffmpeg child process using a hardware device.
	BackendHW Backend = "ffmpeg-hw"
)

const (
	// HWAccelAuto selects the platform default hardware device.
	HWAccelAuto = "auto"
	// HWAccelNone disables hardware decoding.
	HWAccelNone = "none"
)

// Info contains information about the selected decoder.
type Info struct {
	// Codec is the stream codec.
	Codec pipeline.Codec
	// Backend is the decoding backend being used.
	Backend Backend
	// HWAccel names the hardware device when Backend is BackendHW.
	HWAccel string
}

// String returns a human readable backend description.
func (i Info) String() string {
	if i.Backend == BackendHW {
		return fmt.Sprintf("%s (%s)", i.Codec, i.HWAccel)
	}
	return fmt.Sprintf("%s (%s)", i.Codec, i.Backend)
}

// Options configures the smart decoder behavior.
type Options struct {
	// FFmpegPath is an optional custom path to the ffmpeg binary.
	FFmpegPath string
	// HWAccel is "none", "auto" or an ffmpeg hwaccel name.
	HWAccel string
	// QueueSize bounds each decoder's packet queue. Zero uses the backend default.
	QueueSize int
	// Probe checks a hardware device. Nil uses ffmpegdecoder.ProbeHWAccel.
	Probe func(ctx context.Context, ffmpegPath, name string) error
}

// Factory creates decoders, trying hardware first when requested.
type Factory struct {
	opts Options
	log  ports.Logger

	mu    sync.Mutex
	video Info
	audio Info
}

// New creates a decoder factory.
func New(opts Options, log ports.Logger) *Factory {
	if log == nil {
		log = logger.NewNoop()
	}
	if opts.Probe == nil {
		opts.Probe = ffmpegdecoder.ProbeHWAccel
	}
	if opts.FFmpegPath != "" {
		ffmpegdecoder.SetFFmpegPath(opts.FFmpegPath)
	}
	return &Factory{opts: opts, log: log}
}

// NewVideoDecoder creates a decoder for the video stream.
//
// The selection flow:
//   - rawvideo: in-process rawdecoder
//   - H.264/H.265/AV1: ffmpeg with the requested hwaccel, then ffmpeg in software
func (f *Factory) NewVideoDecoder(stream pipeline.StreamInfo) (ports.VideoDecoder, error) {
	if stream.Codec == pipeline.CodecRawVideo {
		dec, err := rawdecoder.NewVideo(stream)
		if err != nil {
			return nil, err
		}
		f.setVideo(Info{Codec: stream.Codec, Backend: BackendRaw})
		return dec, nil
	}

	ffmpegPath, err := ffmpegdecoder.FindFFmpeg()
	if err != nil {
		return nil, err
	}

	if hw := f.hwaccel(); hw != "" {
		dec, err := f.newHWVideo(stream, ffmpegPath, hw)
		if err == nil {
			f.log.Info("Using HW decoder %s for %s", hw, stream.Codec)
			f.setVideo(Info{Codec: stream.Codec, Backend: BackendHW, HWAccel: hw})
			return dec, nil
		}
		f.log.Warn("HW decoder %s failed, falling back to software: %s", hw, err.Error())
	} else {
		f.log.Info("No HW decoder, using software for %s", stream.Codec)
	}

	dec, err := ffmpegdecoder.NewVideo(stream, f.ffmpegOptions(ffmpegPath, ""))
	if err != nil {
		return nil, err
	}
	f.setVideo(Info{Codec: stream.Codec, Backend: BackendFFmpeg})
	return dec, nil
}

func (f *Factory) newHWVideo(stream pipeline.StreamInfo, ffmpegPath, hw string) (ports.VideoDecoder, error) {
	if err := f.opts.Probe(context.Background(), ffmpegPath, hw); err != nil {
		return nil, err
	}
	return ffmpegdecoder.NewVideo(stream, f.ffmpegOptions(ffmpegPath, hw))
}

// NewAudioDecoder creates a decoder for the audio stream. Audio always
// decodes in software.
func (f *Factory) NewAudioDecoder(stream pipeline.StreamInfo) (ports.AudioDecoder, error) {
	if stream.Codec == pipeline.CodecPCMS16LE {
		dec, err := rawdecoder.NewAudio(stream)
		if err != nil {
			return nil, err
		}
		f.setAudio(Info{Codec: stream.Codec, Backend: BackendRaw})
		return dec, nil
	}

	ffmpegPath, err := ffmpegdecoder.FindFFmpeg()
	if err != nil {
		return nil, err
	}
	dec, err := ffmpegdecoder.NewAudio(stream, f.ffmpegOptions(ffmpegPath, ""))
	if err != nil {
		return nil, err
	}
	f.setAudio(Info{Codec: stream.Codec, Backend: BackendFFmpeg})
	return dec, nil
}

// VideoInfo returns the backend chosen for the last video decoder.
func (f *Factory) VideoInfo() Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.video
}

// AudioInfo returns the backend chosen for the last audio decoder.
func (f *Factory) AudioInfo() Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audio
}

func (f *Factory) hwaccel() string {
	switch f.opts.HWAccel {
	case "", HWAccelNone:
		return ""
	case HWAccelAuto:
		return ffmpegdecoder.PlatformHWAccel()
	default:
		return f.opts.HWAccel
	}
}

func (f *Factory) ffmpegOptions(path, hw string) ffmpegdecoder.Options {
	return ffmpegdecoder.Options{
		FFmpegPath: path,
		HWAccel:    hw,
		QueueSize:  f.opts.QueueSize,
		Logger:     f.log,
	}
}

func (f *Factory) setVideo(info Info) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video = info
}

func (f *Factory) setAudio(info Info) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = info
}

// IsFFmpegAvailable reports whether compressed streams can be decoded.
func IsFFmpegAvailable() bool {
	return ffmpegdecoder.IsAvailable()
}

// Ensure Factory implements ports.DecoderFactory
var _ ports.DecoderFactory = (*Factory)(nil)
