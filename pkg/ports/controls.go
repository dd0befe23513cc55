package ports

import (
	"context"
	"time"
)

// Controls is the user interface boundary of a playback session.
type Controls interface {
	// Update shows the current position. It is called once per loop iteration.
	Update(position, duration time.Duration)

	// PollSeek returns the latest requested seek percent, if any.
	PollSeek() (percent float64, ok bool)

	// Run reads user input until ctx is cancelled.
	Run(ctx context.Context) error
}
