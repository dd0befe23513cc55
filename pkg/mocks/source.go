package mocks

import (
	"time"

	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

// Source is a mock implementation of ports.Source that replays a fixed
// packet list. Seek moves to the last video keyframe at or before the target.
type Source struct {
	VideoStream pipeline.StreamInfo
	AudioStream *pipeline.StreamInfo
	Packets     []*pipeline.Packet
	Length      time.Duration

	NextPacketFunc func() (*pipeline.Packet, error)
	SeekFunc       func(target time.Duration) error
	CloseFunc      func() error

	// Recorded calls for verification
	SeekCalls   []time.Duration
	CloseCalled bool

	cursor int
}

func (m *Source) Streams() []pipeline.StreamInfo {
	streams := []pipeline.StreamInfo{m.VideoStream}
	if m.AudioStream != nil {
		streams = append(streams, *m.AudioStream)
	}
	return streams
}

func (m *Source) Video() pipeline.StreamInfo {
	return m.VideoStream
}

func (m *Source) Audio() (pipeline.StreamInfo, bool) {
	if m.AudioStream == nil {
		return pipeline.StreamInfo{}, false
	}
	return *m.AudioStream, true
}

func (m *Source) Duration() time.Duration {
	return m.Length
}

func (m *Source) NextPacket() (*pipeline.Packet, error) {
	if m.NextPacketFunc != nil {
		return m.NextPacketFunc()
	}
	if m.cursor >= len(m.Packets) {
		return nil, pipeline.ErrEndOfStream
	}
	pkt := m.Packets[m.cursor]
	m.cursor++
	return pkt, nil
}

func (m *Source) Seek(target time.Duration) error {
	m.SeekCalls = append(m.SeekCalls, target)
	if m.SeekFunc != nil {
		return m.SeekFunc(target)
	}
	pos := 0
	for i, pkt := range m.Packets {
		if pkt.StreamIndex != m.VideoStream.Index || !pkt.Keyframe {
			continue
		}
		if m.VideoStream.TimeBase.Duration(pkt.PTS) > target {
			break
		}
		pos = i
	}
	m.cursor = pos
	return nil
}

func (m *Source) Close() error {
	m.CloseCalled = true
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

var _ ports.Source = (*Source)(nil)
