package mocks

import (
	"sync"

	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

// VideoDecoder is a mock implementation of ports.VideoDecoder. Without
// overrides every packet yields one gray frame of the stream's size whose
// luma is the first payload byte.
type VideoDecoder struct {
	Stream pipeline.StreamInfo

	SendFunc    func(pkt *pipeline.Packet) error
	ReceiveFunc func() (*pipeline.VideoFrame, error)

	// Recorded calls for verification
	Sent        int
	FlushCalls  int
	CloseCalled bool

	queue    []*pipeline.Packet
	draining bool
	frame    pipeline.VideoFrame
}

func (m *VideoDecoder) Send(pkt *pipeline.Packet) error {
	if m.SendFunc != nil {
		return m.SendFunc(pkt)
	}
	if pkt == nil {
		m.draining = true
		return nil
	}
	m.draining = false
	m.Sent++
	m.queue = append(m.queue, pkt)
	return nil
}

func (m *VideoDecoder) Receive() (*pipeline.VideoFrame, error) {
	if m.ReceiveFunc != nil {
		return m.ReceiveFunc()
	}
	if len(m.queue) == 0 {
		if m.draining {
			return nil, pipeline.ErrEndOfStream
		}
		return nil, pipeline.ErrNeedMorePackets
	}
	pkt := m.queue[0]
	m.queue = m.queue[1:]

	w, h := m.Stream.Width, m.Stream.Height
	luma := byte(0)
	if len(pkt.Data) > 0 {
		luma = pkt.Data[0]
	}
	y := make([]byte, w*h)
	for i := range y {
		y[i] = luma
	}
	m.frame = pipeline.VideoFrame{
		Width:   w,
		Height:  h,
		Format:  pipeline.PixelFormatGray,
		Planes:  [3][]byte{y},
		Strides: [3]int{w},
		PTS:     m.Stream.TimeBase.Duration(pkt.PTS),
		HasPTS:  pkt.PTS != pipeline.NoPTS,
	}
	return &m.frame, nil
}

func (m *VideoDecoder) Flush() {
	m.FlushCalls++
	m.queue = nil
}

func (m *VideoDecoder) Close() error {
	m.CloseCalled = true
	return nil
}

// AudioDecoder is a mock implementation of ports.AudioDecoder. Without
// overrides every packet's data is returned as s16le samples.
type AudioDecoder struct {
	Stream pipeline.StreamInfo

	SendFunc func(pkt *pipeline.Packet) error

	// Recorded calls for verification
	Sent        int
	FlushCalls  int
	CloseCalled bool

	queue    []*pipeline.Packet
	draining bool
	frame    pipeline.AudioFrame
}

func (m *AudioDecoder) Send(pkt *pipeline.Packet) error {
	if m.SendFunc != nil {
		return m.SendFunc(pkt)
	}
	if pkt == nil {
		m.draining = true
		return nil
	}
	m.draining = false
	m.Sent++
	m.queue = append(m.queue, pkt)
	return nil
}

func (m *AudioDecoder) Receive() (*pipeline.AudioFrame, error) {
	if len(m.queue) == 0 {
		if m.draining {
			return nil, pipeline.ErrEndOfStream
		}
		return nil, pipeline.ErrNeedMorePackets
	}
	pkt := m.queue[0]
	m.queue = m.queue[1:]

	ch := m.Stream.Channels
	if ch <= 0 {
		ch = 1
	}
	m.frame = pipeline.AudioFrame{
		Samples:    len(pkt.Data) / (2 * ch),
		Channels:   ch,
		SampleRate: m.Stream.SampleRate,
		Data:       pkt.Data,
		PTS:        m.Stream.TimeBase.Duration(pkt.PTS),
		HasPTS:     pkt.PTS != pipeline.NoPTS,
	}
	return &m.frame, nil
}

func (m *AudioDecoder) Flush() {
	m.FlushCalls++
	m.queue = nil
}

func (m *AudioDecoder) Close() error {
	m.CloseCalled = true
	return nil
}

// DecoderFactory is a mock implementation of ports.DecoderFactory.
type DecoderFactory struct {
	mu sync.Mutex

	NewVideoDecoderFunc func(stream pipeline.StreamInfo) (ports.VideoDecoder, error)
	NewAudioDecoderFunc func(stream pipeline.StreamInfo) (ports.AudioDecoder, error)

	// Created decoders for verification
	Video *VideoDecoder
	Audio *AudioDecoder
}

func (m *DecoderFactory) NewVideoDecoder(stream pipeline.StreamInfo) (ports.VideoDecoder, error) {
	if m.NewVideoDecoderFunc != nil {
		return m.NewVideoDecoderFunc(stream)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Video = &VideoDecoder{Stream: stream}
	return m.Video, nil
}

func (m *DecoderFactory) NewAudioDecoder(stream pipeline.StreamInfo) (ports.AudioDecoder, error) {
	if m.NewAudioDecoderFunc != nil {
		return m.NewAudioDecoderFunc(stream)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Audio = &AudioDecoder{Stream: stream}
	return m.Audio, nil
}

var (
	_ ports.VideoDecoder   = (*VideoDecoder)(nil)
	_ ports.AudioDecoder   = (*AudioDecoder)(nil)
	_ ports.DecoderFactory = (*DecoderFactory)(nil)
)
