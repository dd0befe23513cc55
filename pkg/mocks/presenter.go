package mocks

import (
	"sync"
	"time"

	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

// Presenter is a mock implementation of ports.Presenter and
// ports.PositionDisplay.
type Presenter struct {
	mu sync.Mutex

	ConfigureFunc   func(width, height int) error
	PresentFunc     func(frame *pipeline.PlanarFrame) error
	ShouldCloseFunc func() bool
	CloseFunc       func() error

	// CloseAfter makes ShouldClose return true once this many frames were
	// presented. Zero disables it.
	CloseAfter int

	// Recorded calls for verification
	Width, Height int
	Presented     []time.Duration
	Positions     []time.Duration
	CloseCalled   bool
}

func (m *Presenter) Configure(width, height int) error {
	m.mu.Lock()
	m.Width, m.Height = width, height
	m.mu.Unlock()
	if m.ConfigureFunc != nil {
		return m.ConfigureFunc(width, height)
	}
	return nil
}

func (m *Presenter) Present(frame *pipeline.PlanarFrame) error {
	m.mu.Lock()
	m.Presented = append(m.Presented, frame.PTS)
	m.mu.Unlock()
	if m.PresentFunc != nil {
		return m.PresentFunc(frame)
	}
	return nil
}

func (m *Presenter) ShouldClose() bool {
	if m.ShouldCloseFunc != nil {
		return m.ShouldCloseFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CloseAfter > 0 && len(m.Presented) >= m.CloseAfter
}

func (m *Presenter) Close() error {
	m.mu.Lock()
	m.CloseCalled = true
	m.mu.Unlock()
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *Presenter) SetPosition(position, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Positions = append(m.Positions, position)
}

// PresentedPTS returns a copy of the presented timestamps.
func (m *Presenter) PresentedPTS() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.Presented...)
}

var (
	_ ports.Presenter       = (*Presenter)(nil)
	_ ports.PositionDisplay = (*Presenter)(nil)
)
