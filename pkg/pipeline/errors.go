package pipeline

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEndOfStream is returned when a source or decoder has no more data.
	ErrEndOfStream = errors.New("pipeline: end of stream")

	// ErrNeedMorePackets is returned by Receive when the decoder must be fed
	// before it can produce another frame.
	ErrNeedMorePackets = errors.New("pipeline: decoder needs more packets")

	// ErrBackpressure is returned by Send when the decoder queue is full.
	// The caller must Receive before sending again.
	ErrBackpressure = errors.New("pipeline: decoder queue full")

	// ErrSeekUnsupported is returned when the source cannot reposition.
	ErrSeekUnsupported = errors.New("pipeline: seeking not supported")

	// ErrUnsupportedCodec is returned when no decoder matches a stream.
	ErrUnsupportedCodec = errors.New("pipeline: unsupported codec")

	// ErrNoVideoStream is returned when a container has no video stream.
	ErrNoVideoStream = errors.New("pipeline: no video stream")

	// ErrDimensionChange is returned when frame dimensions change mid-stream.
	ErrDimensionChange = errors.New("pipeline: frame dimensions changed mid-stream")
)

// OpenError reports a failure that prevents a playback session from starting.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// PacketError reports a packet that could not be decoded. Playback continues
// with the next packet.
type PacketError struct {
	StreamIndex int
	PTS         time.Duration
	Err         error
}

func (e *PacketError) Error() string {
	return fmt.Sprintf("stream %d packet at %v: %v", e.StreamIndex, e.PTS, e.Err)
}

func (e *PacketError) Unwrap() error {
	return e.Err
}

// WindowError reports that the presentation surface could not be created.
type WindowError struct {
	Err error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("create presentation surface: %v", e.Err)
}

func (e *WindowError) Unwrap() error {
	return e.Err
}

// AudioInitError reports that the audio subsystem could not be initialized.
type AudioInitError struct {
	Err error
}

func (e *AudioInitError) Error() string {
	return fmt.Sprintf("initialize audio: %v", e.Err)
}

func (e *AudioInitError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must abort a playback session.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var pe *PacketError
	if errors.As(err, &pe) {
		return false
	}
	return !errors.Is(err, ErrEndOfStream) && !errors.Is(err, ErrSeekUnsupported)
}
