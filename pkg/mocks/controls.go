package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/user/warpplayer/pkg/ports"
)

// Controls is a mock implementation of ports.Controls.
type Controls struct {
	mu sync.Mutex

	// UpdateFunc is called on every Update, after it is recorded.
	UpdateFunc func(position, duration time.Duration)

	// Recorded calls for verification
	Updates []time.Duration

	pending []float64
}

func (m *Controls) Update(position, duration time.Duration) {
	m.mu.Lock()
	m.Updates = append(m.Updates, position)
	fn := m.UpdateFunc
	m.mu.Unlock()
	if fn != nil {
		fn(position, duration)
	}
}

// Seek queues a seek percentage for PollSeek.
func (m *Controls) Seek(percent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, percent)
}

func (m *Controls) PollSeek() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return 0, false
	}
	p := m.pending[0]
	m.pending = m.pending[1:]
	return p, true
}

func (m *Controls) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

var _ ports.Controls = (*Controls)(nil)
