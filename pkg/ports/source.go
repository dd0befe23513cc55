package ports

import (
	"time"

	"github.com/user/warpplayer/pkg/pipeline"
)

// Source reads packets from a media container in container order.
// A Source is not safe for concurrent use.
type Source interface {
	// Streams returns the selected streams. The video stream is always present.
	Streams() []pipeline.StreamInfo

	// Video returns the selected video stream.
	Video() pipeline.StreamInfo

	// Audio returns the selected audio stream, if any.
	Audio() (pipeline.StreamInfo, bool)

	// Duration returns the container duration, or zero when unknown.
	Duration() time.Duration

	// NextPacket returns the next packet or pipeline.ErrEndOfStream.
	NextPacket() (*pipeline.Packet, error)

	// Seek repositions to the nearest video sync point at or before target.
	// It returns pipeline.ErrSeekUnsupported when the input cannot reposition,
	// in which case the read position is unchanged.
	Seek(target time.Duration) error

	// Close releases the underlying input.
	Close() error
}
