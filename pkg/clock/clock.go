// Package clock decides when decoded video frames are presented.
//
// The clock maps wall time onto media time through an anchor: the wall time
// at which media position basePTS was current. Media time advances 1:1 with
// wall time from there until the next Rebase.
package clock

import (
	"time"
)

const (
	// DefaultCadence is the minimum interval between presented frames.
	DefaultCadence = time.Second / 30

	// DefaultLateDrop is how late a frame may be before it is dropped.
	DefaultLateDrop = 250 * time.Millisecond

	// DefaultDriftThreshold is the audio/video divergence tolerated by Correct.
	DefaultDriftThreshold = 80 * time.Millisecond
)

// Action is the outcome of a presentation decision.
type Action int

const (
	Present Action = iota
	Wait
	Drop
)

// String returns the string representation of the action.
func (a Action) String() string {
	switch a {
	case Present:
		return "present"
	case Wait:
		return "wait"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// Decision tells the playback loop what to do with a frame.
type Decision struct {
	Action Action
	// Wait is the remaining time until the frame is due when Action is Wait.
	Wait time.Duration
}

// Options configures a Clock.
type Options struct {
	Cadence  time.Duration
	LateDrop time.Duration

	// DriftCorrection enables Correct. DriftThreshold defaults to
	// DefaultDriftThreshold when zero.
	DriftCorrection bool
	DriftThreshold  time.Duration
}

// DefaultOptions returns the default clock options.
func DefaultOptions() Options {
	return Options{
		Cadence:        DefaultCadence,
		LateDrop:       DefaultLateDrop,
		DriftThreshold: DefaultDriftThreshold,
	}
}

// Clock is the playback synchronizer. It is used from the playback loop only.
type Clock struct {
	src  TimeSource
	opts Options

	anchor  time.Duration
	basePTS time.Duration

	lastPresentedAt  time.Duration
	lastPresentedPTS time.Duration
	presented        bool
	fresh            bool

	corrections int
}

// New creates a clock anchored at the current time with media position zero.
func New(src TimeSource, opts Options) *Clock {
	if opts.Cadence <= 0 {
		opts.Cadence = DefaultCadence
	}
	if opts.DriftThreshold <= 0 {
		opts.DriftThreshold = DefaultDriftThreshold
	}
	c := &Clock{src: src, opts: opts}
	c.Rebase(src.Now(), 0)
	return c
}

// Source returns the clock's time source.
func (c *Clock) Source() TimeSource {
	return c.src
}

// Now returns the current time of the clock's source.
func (c *Clock) Now() time.Duration {
	return c.src.Now()
}

// Rebase declares that wall time anchor corresponds to media position pts.
// The next frame presented after a rebase is never dropped as late, but it
// still waits out the cadence of the previous presentation.
func (c *Clock) Rebase(anchor, pts time.Duration) {
	c.anchor = anchor
	c.basePTS = pts
	c.fresh = true
}

// MediaTime returns the media position at wall time now.
func (c *Clock) MediaTime(now time.Duration) time.Duration {
	return c.basePTS + (now - c.anchor)
}

// LastPresented returns the pts of the most recently presented frame.
func (c *Clock) LastPresented() (time.Duration, bool) {
	return c.lastPresentedPTS, c.presented
}

// ShouldPresent reports whether a frame with the given pts may be presented
// at wall time now. A true result is recorded as a presentation, so two true
// results are never closer together than the cadence.
func (c *Clock) ShouldPresent(pts, now time.Duration) bool {
	if c.MediaTime(now) < pts {
		return false
	}
	if c.presented && now-c.lastPresentedAt < c.opts.Cadence {
		return false
	}
	c.record(pts, now)
	return true
}

// Decide is the loop's variant of ShouldPresent. It additionally drops frames
// that are more than LateDrop behind media time and reports how long to wait
// for frames that are early or held back by the cadence.
func (c *Clock) Decide(pts, now time.Duration) Decision {
	media := c.MediaTime(now)

	if media < pts {
		return Decision{Action: Wait, Wait: pts - media}
	}

	if c.opts.LateDrop > 0 && !c.fresh && media-pts > c.opts.LateDrop {
		return Decision{Action: Drop}
	}

	if c.presented {
		if since := now - c.lastPresentedAt; since < c.opts.Cadence {
			return Decision{Action: Wait, Wait: c.opts.Cadence - since}
		}
	}

	c.record(pts, now)
	return Decision{Action: Present}
}

func (c *Clock) record(pts, now time.Duration) {
	c.lastPresentedAt = now
	c.lastPresentedPTS = pts
	c.presented = true
	c.fresh = false
}

// Correct re-anchors media time to the audio position when the two have
// drifted further apart than the threshold. It returns true when it
// re-anchored. It does nothing unless drift correction is enabled.
func (c *Clock) Correct(audioPos, now time.Duration) bool {
	if !c.opts.DriftCorrection {
		return false
	}
	drift := c.MediaTime(now) - audioPos
	if drift < 0 {
		drift = -drift
	}
	if drift <= c.opts.DriftThreshold {
		return false
	}
	c.anchor = now
	c.basePTS = audioPos
	c.corrections++
	return true
}

// Corrections returns how many times Correct re-anchored the clock.
func (c *Clock) Corrections() int {
	return c.corrections
}
