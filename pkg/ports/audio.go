package ports

import "context"

// AudioSpec describes the PCM format an audio device is opened with.
type AudioSpec struct {
	SampleRate int
	Channels   int
	// Period is the number of frames pulled per callback.
	Period int
}

// BytesPerFrame returns the byte size of one interleaved s16 frame.
func (s AudioSpec) BytesPerFrame() int {
	return s.Channels * 2
}

// PullFunc fills dst completely with interleaved s16le samples.
type PullFunc func(dst []byte)

// AudioDevice is an output that pulls PCM from its own goroutine.
type AudioDevice interface {
	// Init initializes the audio subsystem.
	Init() error

	// Open prepares the device for the given format.
	Open(spec AudioSpec, pull PullFunc) error

	// Start runs the pull loop until ctx is cancelled.
	Start(ctx context.Context) error

	// Close releases the device.
	Close() error
}
