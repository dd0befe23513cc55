// Package seek coordinates user seek requests with the playback loop.
//
// Requests may arrive from any goroutine. The playback loop calls Service
// once per iteration; that is the only point where the source, decoders,
// audio buffer and clock are repositioned.
package seek

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/user/warpplayer/pkg/pipeline"
)

// State is the controller's position in the seek protocol.
type State int

const (
	Idle State = iota
	Armed
	Repositioning
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Repositioning:
		return "repositioning"
	default:
		return "unknown"
	}
}

// Repositioner performs the steps of a seek on behalf of the controller.
type Repositioner interface {
	// SeekSource moves the source to the sync point at or before target.
	SeekSource(target time.Duration) error
	// FlushDecoders discards all decoder state.
	FlushDecoders()
	// ResetAudio empties the audio ring buffer.
	ResetAudio()
	// Rebase re-anchors the clock so that now corresponds to target.
	Rebase(target time.Duration)
}

// Outcome reports what Service did.
type Outcome struct {
	// Serviced is true when a request was consumed.
	Serviced bool
	Target   time.Duration
	// Err is set when the source could not seek. Playback continues unchanged.
	Err error
}

// Controller holds at most one pending request, last write wins.
type Controller struct {
	mu      sync.Mutex
	state   State
	target  time.Duration
	pending *time.Duration
}

// New creates an idle controller.
func New() *Controller {
	return &Controller{}
}

// Request arms the controller with target. While repositioning, the request
// is held and re-arms the controller once the current seek completes.
func (c *Controller) Request(target time.Duration) {
	if target < 0 {
		target = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Repositioning {
		c.pending = &target
		return
	}
	c.target = target
	c.state = Armed
}

// RequestPercent arms the controller with a position given as a percentage
// of duration. The percentage is clamped to [0, 100].
func (c *Controller) RequestPercent(percent float64, duration time.Duration) time.Duration {
	p := lo.Clamp(percent, 0, 100)
	target := time.Duration(float64(duration) * p / 100)
	c.Request(target)
	return target
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Armed reports whether a seek is waiting to be serviced.
func (c *Controller) Armed() bool {
	return c.State() == Armed
}

// Service performs an armed seek: source seek, decoder flush, audio reset and
// clock rebase, in that order. When the source reports it cannot seek, only
// the armed state is cleared. It is a no-op when nothing is armed.
func (c *Controller) Service(r Repositioner) Outcome {
	c.mu.Lock()
	if c.state != Armed {
		c.mu.Unlock()
		return Outcome{}
	}
	target := c.target
	c.state = Repositioning
	c.mu.Unlock()

	out := Outcome{Serviced: true, Target: target}
	if err := r.SeekSource(target); err != nil {
		if !errors.Is(err, pipeline.ErrSeekUnsupported) {
			err = fmt.Errorf("seek to %v: %w", target, err)
		}
		out.Err = err
	} else {
		r.FlushDecoders()
		r.ResetAudio()
		r.Rebase(target)
	}

	c.mu.Lock()
	c.state = Idle
	if c.pending != nil {
		c.target = *c.pending
		c.pending = nil
		c.state = Armed
	}
	c.mu.Unlock()

	return out
}
