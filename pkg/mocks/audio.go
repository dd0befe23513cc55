package mocks

import (
	"context"
	"sync"

	"github.com/user/warpplayer/pkg/ports"
)

// AudioDevice is a mock implementation of ports.AudioDevice. Start blocks
// until its context is cancelled and never pulls on its own; tests call Pull.
type AudioDevice struct {
	mu sync.Mutex

	InitFunc  func() error
	OpenFunc  func(spec ports.AudioSpec) error
	StartFunc func(ctx context.Context) error

	// Recorded calls for verification
	InitCalled  bool
	Spec        ports.AudioSpec
	Opened      bool
	Started     bool
	CloseCalled bool

	pull ports.PullFunc
}

func (m *AudioDevice) Init() error {
	m.mu.Lock()
	m.InitCalled = true
	m.mu.Unlock()
	if m.InitFunc != nil {
		return m.InitFunc()
	}
	return nil
}

func (m *AudioDevice) Open(spec ports.AudioSpec, pull ports.PullFunc) error {
	if m.OpenFunc != nil {
		if err := m.OpenFunc(spec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Spec, m.pull, m.Opened = spec, pull, true
	return nil
}

func (m *AudioDevice) Start(ctx context.Context) error {
	m.mu.Lock()
	m.Started = true
	m.mu.Unlock()
	if m.StartFunc != nil {
		return m.StartFunc(ctx)
	}
	<-ctx.Done()
	return nil
}

func (m *AudioDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalled = true
	return nil
}

// Pull invokes the pull function registered by Open.
func (m *AudioDevice) Pull(dst []byte) {
	m.mu.Lock()
	pull := m.pull
	m.mu.Unlock()
	if pull != nil {
		pull(dst)
	}
}

var _ ports.AudioDevice = (*AudioDevice)(nil)
