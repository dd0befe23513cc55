// Package rawdecoder decodes uncompressed streams: planar video from Y4M
// sources and interleaved s16le PCM. Each packet yields exactly one frame.
package rawdecoder

import (
	"errors"
	"fmt"

	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

// DefaultQueueSize is the number of packets accepted before Send reports
// backpressure.
const DefaultQueueSize = 4

var (
	// ErrShortPacket is returned when a packet does not hold a whole frame.
	ErrShortPacket = errors.New("rawdecoder: packet size does not match frame size")

	// ErrUnsupportedFormat is returned for streams this decoder cannot handle.
	ErrUnsupportedFormat = errors.New("rawdecoder: unsupported stream")
)

// queue is the Send/Receive bookkeeping shared by both decoders.
type queue struct {
	packets  []*pipeline.Packet
	limit    int
	draining bool
}

func (q *queue) send(pkt *pipeline.Packet) error {
	if pkt == nil {
		q.draining = true
		return nil
	}
	if len(q.packets) >= q.limit {
		return pipeline.ErrBackpressure
	}
	// A packet after a completed drain restarts the stage.
	q.draining = false
	cp := *pkt
	cp.Data = append([]byte(nil), pkt.Data...)
	q.packets = append(q.packets, &cp)
	return nil
}

func (q *queue) next() (*pipeline.Packet, error) {
	if len(q.packets) == 0 {
		if q.draining {
			return nil, pipeline.ErrEndOfStream
		}
		return nil, pipeline.ErrNeedMorePackets
	}
	pkt := q.packets[0]
	q.packets[0] = nil
	q.packets = q.packets[1:]
	return pkt, nil
}

func (q *queue) flush() {
	q.packets = q.packets[:0]
}

// VideoDecoder slices raw planar frames out of packets.
type VideoDecoder struct {
	stream pipeline.StreamInfo
	size   int
	q      queue
	frame  pipeline.VideoFrame
	buf    []byte
}

// NewVideo creates a decoder for a raw video stream.
func NewVideo(stream pipeline.StreamInfo) (*VideoDecoder, error) {
	if stream.Codec != pipeline.CodecRawVideo {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, stream.Codec)
	}
	size := stream.PixelFormat.FrameSize(stream.Width, stream.Height)
	if size == 0 {
		return nil, fmt.Errorf("%w: %s %dx%d", ErrUnsupportedFormat, stream.PixelFormat, stream.Width, stream.Height)
	}
	return &VideoDecoder{
		stream: stream,
		size:   size,
		q:      queue{limit: DefaultQueueSize},
		buf:    make([]byte, size),
	}, nil
}

// Send queues one frame-sized packet.
func (d *VideoDecoder) Send(pkt *pipeline.Packet) error {
	if pkt != nil && len(pkt.Data) != d.size {
		return &pipeline.PacketError{
			StreamIndex: pkt.StreamIndex,
			PTS:         d.stream.TimeBase.Duration(pkt.PTS),
			Err:         fmt.Errorf("%w: got %d bytes, want %d", ErrShortPacket, len(pkt.Data), d.size),
		}
	}
	return d.q.send(pkt)
}

// Receive returns the next frame. The planes alias an internal buffer that
// is overwritten by the next Receive.
func (d *VideoDecoder) Receive() (*pipeline.VideoFrame, error) {
	pkt, err := d.q.next()
	if err != nil {
		return nil, err
	}
	copy(d.buf, pkt.Data)

	w, h := d.stream.Width, d.stream.Height
	cw, ch := (w+1)/2, (h+1)/2
	f := &d.frame
	*f = pipeline.VideoFrame{
		Width:  w,
		Height: h,
		Format: d.stream.PixelFormat,
		PTS:    d.stream.TimeBase.Duration(pkt.PTS),
		HasPTS: pkt.PTS != pipeline.NoPTS,
	}

	luma := w * h
	f.Planes[0], f.Strides[0] = d.buf[:luma], w
	switch d.stream.PixelFormat {
	case pipeline.PixelFormatYUV420P:
		f.Planes[1], f.Strides[1] = d.buf[luma:luma+cw*ch], cw
		f.Planes[2], f.Strides[2] = d.buf[luma+cw*ch:], cw
	case pipeline.PixelFormatNV12, pipeline.PixelFormatNV21:
		f.Planes[1], f.Strides[1] = d.buf[luma:], 2*cw
	case pipeline.PixelFormatYUV422P:
		f.Planes[1], f.Strides[1] = d.buf[luma:luma+cw*h], cw
		f.Planes[2], f.Strides[2] = d.buf[luma+cw*h:], cw
	case pipeline.PixelFormatYUV444P:
		f.Planes[1], f.Strides[1] = d.buf[luma:2*luma], w
		f.Planes[2], f.Strides[2] = d.buf[2*luma:], w
	}
	return f, nil
}

// Flush drops queued packets.
func (d *VideoDecoder) Flush() {
	d.q.flush()
}

// Close is a no-op.
func (d *VideoDecoder) Close() error {
	return nil
}

// AudioDecoder passes interleaved s16le PCM through as frames.
type AudioDecoder struct {
	stream pipeline.StreamInfo
	q      queue
	frame  pipeline.AudioFrame
	buf    []byte
}

// NewAudio creates a decoder for a PCM s16le stream.
func NewAudio(stream pipeline.StreamInfo) (*AudioDecoder, error) {
	if stream.Codec != pipeline.CodecPCMS16LE {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, stream.Codec)
	}
	if stream.Channels <= 0 || stream.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d Hz, %d channels", ErrUnsupportedFormat, stream.SampleRate, stream.Channels)
	}
	return &AudioDecoder{
		stream: stream,
		q:      queue{limit: DefaultQueueSize},
	}, nil
}

// Send queues one packet of whole sample frames.
func (d *AudioDecoder) Send(pkt *pipeline.Packet) error {
	if pkt != nil && len(pkt.Data)%(2*d.stream.Channels) != 0 {
		return &pipeline.PacketError{
			StreamIndex: pkt.StreamIndex,
			PTS:         d.stream.TimeBase.Duration(pkt.PTS),
			Err:         fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrShortPacket, len(pkt.Data), 2*d.stream.Channels),
		}
	}
	return d.q.send(pkt)
}

// Receive returns the next frame, valid until the next Receive.
func (d *AudioDecoder) Receive() (*pipeline.AudioFrame, error) {
	pkt, err := d.q.next()
	if err != nil {
		return nil, err
	}
	d.buf = append(d.buf[:0], pkt.Data...)
	d.frame = pipeline.AudioFrame{
		Samples:    len(d.buf) / (2 * d.stream.Channels),
		Channels:   d.stream.Channels,
		SampleRate: d.stream.SampleRate,
		Data:       d.buf,
		PTS:        d.stream.TimeBase.Duration(pkt.PTS),
		HasPTS:     pkt.PTS != pipeline.NoPTS,
	}
	return &d.frame, nil
}

// Flush drops queued packets.
func (d *AudioDecoder) Flush() {
	d.q.flush()
}

// Close is a no-op.
func (d *AudioDecoder) Close() error {
	return nil
}

var (
	_ ports.VideoDecoder = (*VideoDecoder)(nil)
	_ ports.AudioDecoder = (*AudioDecoder)(nil)
)
