package ffmpegdecoder

import (
	"fmt"
	"time"

	"github.com/user/warpplayer/pkg/adapters/logger"
	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

const (
	// DefaultQueueSize is the number of packets buffered ahead of ffmpeg.
	DefaultQueueSize = 16

	// AudioChunkFrames is the number of sample frames per decoded audio frame.
	AudioChunkFrames = 1024
)

// Options configures a decoder process.
type Options struct {
	// FFmpegPath overrides the ffmpeg lookup.
	FFmpegPath string

	// HWAccel is passed to ffmpeg as -hwaccel. Empty decodes in software.
	HWAccel string

	// QueueSize bounds the packet queue. Zero uses DefaultQueueSize.
	QueueSize int

	Logger ports.Logger
}

func (o Options) resolve() (Options, error) {
	if o.FFmpegPath == "" {
		path, err := FindFFmpeg()
		if err != nil {
			return o, err
		}
		o.FFmpegPath = path
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Logger == nil {
		o.Logger = logger.NewNoop()
	}
	return o, nil
}

// inputArgs reads an elementary stream of the given format from stdin.
func inputArgs(hwaccel, format string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if hwaccel != "" {
		args = append(args, "-hwaccel", hwaccel)
	}
	return append(args,
		"-probesize", "32768",
		"-analyzeduration", "0",
		"-f", format,
		"-i", "pipe:0",
	)
}

// VideoDecoder decodes H.264, H.265 or AV1 to yuv420p frames.
type VideoDecoder struct {
	stream pipeline.StreamInfo
	log    ports.Logger
	eng    engine

	pts      ptsHeap
	lastPTS  time.Duration
	hasLast  bool
	frameDur time.Duration
	frame    pipeline.VideoFrame
}

// NewVideo creates a decoder for a compressed video stream. The ffmpeg
// process starts on the first Send.
func NewVideo(stream pipeline.StreamInfo, opts Options) (*VideoDecoder, error) {
	format, err := inputFormat(stream.Codec)
	if err != nil || stream.Kind != pipeline.KindVideo {
		return nil, fmt.Errorf("%w: video %s", pipeline.ErrUnsupportedCodec, stream.Codec)
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return nil, fmt.Errorf("ffmpegdecoder: unknown frame size for %s stream", stream.Codec)
	}
	opts, err = opts.resolve()
	if err != nil {
		return nil, err
	}

	args := append(inputArgs(opts.HWAccel, format),
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-s", fmt.Sprintf("%dx%d", stream.Width, stream.Height),
		"-vsync", "passthrough",
		"pipe:1",
	)

	frameDur := time.Second / 30
	if stream.FrameRate.Valid() {
		frameDur = time.Duration(float64(time.Second) / stream.FrameRate.Float())
	}

	d := &VideoDecoder{
		stream:   stream,
		log:      opts.Logger.WithComponent("ffmpegdecoder"),
		frameDur: frameDur,
		eng: engine{
			path:  opts.FFmpegPath,
			args:  args,
			chunk: pipeline.PixelFormatYUV420P.FrameSize(stream.Width, stream.Height),
			queue: opts.QueueSize,
		},
	}
	d.log.Debug("ffmpeg %s decoder for %s %dx%d (hwaccel %q)", format, stream.Codec, stream.Width, stream.Height, opts.HWAccel)
	return d, nil
}

// Send queues a packet. A nil packet closes ffmpeg's input so the remaining
// frames are flushed out.
func (d *VideoDecoder) Send(pkt *pipeline.Packet) error {
	if pkt == nil {
		d.eng.drain()
		return nil
	}
	if err := d.eng.send(videoPayload(d.stream, pkt)); err != nil {
		return err
	}
	if pkt.PTS != pipeline.NoPTS {
		d.pts.push(pkt.PTS)
	}
	return nil
}

// Receive returns the next decoded frame, valid until the next Receive.
func (d *VideoDecoder) Receive() (*pipeline.VideoFrame, error) {
	buf, err := d.eng.receive()
	if err != nil {
		return nil, err
	}

	w, h := d.stream.Width, d.stream.Height
	cw, ch := (w+1)/2, (h+1)/2
	luma := w * h

	f := &d.frame
	*f = pipeline.VideoFrame{
		Width:  w,
		Height: h,
		Format: pipeline.PixelFormatYUV420P,
	}
	f.Planes[0], f.Strides[0] = buf[:luma], w
	f.Planes[1], f.Strides[1] = buf[luma:luma+cw*ch], cw
	f.Planes[2], f.Strides[2] = buf[luma+cw*ch:], cw

	if ts, ok := d.pts.pop(); ok {
		f.PTS = d.stream.TimeBase.Duration(ts)
	} else if d.hasLast {
		// ffmpeg produced more frames than it was sent timestamps for.
		f.PTS = d.lastPTS + d.frameDur
	}
	f.HasPTS = true
	d.lastPTS, d.hasLast = f.PTS, true
	return f, nil
}

// Flush kills the process and forgets all timestamps. The next Send starts
// a fresh process.
func (d *VideoDecoder) Flush() {
	d.eng.flush()
	d.pts.reset()
	d.hasLast = false
}

// Close stops the process.
func (d *VideoDecoder) Close() error {
	d.eng.close()
	return nil
}

// AudioDecoder decodes AAC to interleaved s16le.
type AudioDecoder struct {
	stream pipeline.StreamInfo
	log    ports.Logger
	eng    engine
	adts   *adtsWrapper

	base    time.Duration
	hasBase bool
	samples int64
	frame   pipeline.AudioFrame
}

// NewAudio creates a decoder for an AAC stream.
func NewAudio(stream pipeline.StreamInfo, opts Options) (*AudioDecoder, error) {
	if stream.Codec != pipeline.CodecAAC {
		return nil, fmt.Errorf("%w: audio %s", pipeline.ErrUnsupportedCodec, stream.Codec)
	}
	adts, err := newADTSWrapper(stream)
	if err != nil {
		return nil, err
	}
	opts, err = opts.resolve()
	if err != nil {
		return nil, err
	}

	args := append(inputArgs("", "aac"),
		"-f", "s16le",
		"-ac", fmt.Sprint(adts.channelCount),
		"-ar", fmt.Sprint(adts.sampleRate),
		"pipe:1",
	)

	d := &AudioDecoder{
		stream: stream,
		log:    opts.Logger.WithComponent("ffmpegdecoder"),
		adts:   adts,
		eng: engine{
			path:    opts.FFmpegPath,
			args:    args,
			chunk:   AudioChunkFrames * adts.channelCount * 2,
			partial: true,
			queue:   opts.QueueSize,
		},
	}
	d.log.Debug("ffmpeg aac decoder for %d Hz, %d channels", adts.sampleRate, adts.channelCount)
	return d, nil
}

// Send wraps the access unit in ADTS and queues it.
func (d *AudioDecoder) Send(pkt *pipeline.Packet) error {
	if pkt == nil {
		d.eng.drain()
		return nil
	}
	data, err := d.adts.wrap(pkt.Data)
	if err != nil {
		return &pipeline.PacketError{
			StreamIndex: pkt.StreamIndex,
			PTS:         d.stream.TimeBase.Duration(pkt.PTS),
			Err:         err,
		}
	}
	if err := d.eng.send(data); err != nil {
		return err
	}
	if !d.hasBase && pkt.PTS != pipeline.NoPTS {
		d.base, d.hasBase = d.stream.TimeBase.Duration(pkt.PTS), true
	}
	return nil
}

// Receive returns the next chunk of decoded samples, valid until the next Receive.
func (d *AudioDecoder) Receive() (*pipeline.AudioFrame, error) {
	buf, err := d.eng.receive()
	if err != nil {
		return nil, err
	}

	n := len(buf) / (2 * d.adts.channelCount)
	d.frame = pipeline.AudioFrame{
		Samples:    n,
		Channels:   d.adts.channelCount,
		SampleRate: d.adts.sampleRate,
		Data:       buf,
		PTS:        d.base + time.Duration(d.samples*int64(time.Second)/int64(d.adts.sampleRate)),
		HasPTS:     d.hasBase,
	}
	d.samples += int64(n)
	return &d.frame, nil
}

// Flush kills the process and resets the sample clock.
func (d *AudioDecoder) Flush() {
	d.eng.flush()
	d.hasBase = false
	d.samples = 0
}

// Close stops the process.
func (d *AudioDecoder) Close() error {
	d.eng.close()
	return nil
}

var (
	_ ports.VideoDecoder = (*VideoDecoder)(nil)
	_ ports.AudioDecoder = (*AudioDecoder)(nil)
)
