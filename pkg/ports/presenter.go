package ports

import (
	"time"

	"github.com/user/warpplayer/pkg/pipeline"
)

// Presenter displays converted frames.
type Presenter interface {
	// Configure creates the presentation surface for the given frame size.
	Configure(width, height int) error

	// Present displays one frame. The frame must not be retained.
	Present(frame *pipeline.PlanarFrame) error

	// ShouldClose reports whether the user closed the surface.
	ShouldClose() bool

	// Close releases the surface.
	Close() error
}

// PositionDisplay is implemented by presenters that draw a position overlay.
type PositionDisplay interface {
	SetPosition(position, duration time.Duration)
}
