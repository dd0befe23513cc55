// Package nullsink provides a headless presenter that only counts frames.
package nullsink

import (
	"sync"
	"time"

	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

// Sink is a no-op implementation of ports.Presenter.
// It discards every frame and remembers how many it saw.
type Sink struct {
	mu      sync.Mutex
	width   int
	height  int
	frames  int
	lastPTS time.Duration
}

// New creates a new NullSink.
func New() *Sink {
	return &Sink{}
}

// Configure records the frame size.
func (s *Sink) Configure(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height = width, height
	return nil
}

// Present counts the frame.
func (s *Sink) Present(frame *pipeline.PlanarFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	s.lastPTS = frame.PTS
	return nil
}

// ShouldClose always returns false.
func (s *Sink) ShouldClose() bool {
	return false
}

// Close does nothing.
func (s *Sink) Close() error {
	return nil
}

// Frames returns the number of presented frames.
func (s *Sink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// LastPTS returns the timestamp of the most recent frame.
func (s *Sink) LastPTS() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPTS
}

// Ensure Sink implements ports.Presenter
var _ ports.Presenter = (*Sink)(nil)
