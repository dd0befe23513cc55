// Package audiodevice provides audio outputs that pull PCM from the
// playback ring buffer on their own goroutine.
package audiodevice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/warpplayer/pkg/clock"
	"github.com/user/warpplayer/pkg/ports"
)

// DefaultPeriod is the number of sample frames pulled per callback.
const DefaultPeriod = 1024

var (
	// ErrNotOpen is returned when Start is called before Open.
	ErrNotOpen = errors.New("audiodevice: device not open")

	// ErrInvalidSpec is returned for unusable sample formats.
	ErrInvalidSpec = errors.New("audiodevice: invalid audio spec")
)

// PacedOptions configures a Paced device.
type PacedOptions struct {
	// TimeSource paces the pull loop. Nil uses the system clock.
	TimeSource clock.TimeSource
	// FS and WAVPath, when both set, record every pulled period to a WAV file.
	FS      ports.FileSystem
	WAVPath string
	Logger  ports.Logger
}

// Paced is a software audio output. It pulls one period per period of real
// time, the same cadence a hardware callback would run at.
type Paced struct {
	opts PacedOptions
	log  ports.Logger

	mu      sync.Mutex
	spec    ports.AudioSpec
	pull    ports.PullFunc
	wav     *wavWriter
	periods int
}

// NewPaced creates a paced output.
func NewPaced(opts PacedOptions) *Paced {
	if opts.TimeSource == nil {
		opts.TimeSource = clock.System()
	}
	p := &Paced{opts: opts}
	if opts.Logger != nil {
		p.log = opts.Logger.WithComponent("audiodevice")
	}
	return p
}

// Init checks that the configured outputs are usable.
func (p *Paced) Init() error {
	if p.opts.WAVPath != "" && p.opts.FS == nil {
		return fmt.Errorf("audiodevice: WAV output %s needs a filesystem", p.opts.WAVPath)
	}
	return nil
}

// Open prepares the device for spec. A zero period uses DefaultPeriod.
func (p *Paced) Open(spec ports.AudioSpec, pull ports.PullFunc) error {
	if spec.SampleRate <= 0 || spec.Channels <= 0 || spec.Period < 0 {
		return fmt.Errorf("%w: %d Hz, %d channels, period %d", ErrInvalidSpec, spec.SampleRate, spec.Channels, spec.Period)
	}
	if spec.Period == 0 {
		spec.Period = DefaultPeriod
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.opts.WAVPath != "" {
		f, err := p.opts.FS.Create(p.opts.WAVPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", p.opts.WAVPath, err)
		}
		wav, err := newWAVWriter(f, spec.SampleRate, spec.Channels)
		if err != nil {
			f.Close()
			return err
		}
		p.wav = wav
	}
	p.spec = spec
	p.pull = pull
	if p.log != nil {
		p.log.Debug("Opened %d Hz, %d channels, %d frame period", spec.SampleRate, spec.Channels, spec.Period)
	}
	return nil
}

// Start pulls periods until ctx is cancelled.
func (p *Paced) Start(ctx context.Context) error {
	p.mu.Lock()
	spec, pull := p.spec, p.pull
	p.mu.Unlock()
	if pull == nil {
		return ErrNotOpen
	}

	buf := make([]byte, spec.Period*spec.BytesPerFrame())
	period := time.Duration(int64(spec.Period) * int64(time.Second) / int64(spec.SampleRate))
	src := p.opts.TimeSource
	next := src.Now()

	for ctx.Err() == nil {
		next += period
		wait := next - src.Now()
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-src.After(wait):
		}

		pull(buf)
		if err := p.record(buf); err != nil {
			return err
		}
	}
	return nil
}

func (p *Paced) record(buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.periods++
	if p.wav == nil {
		return nil
	}
	if _, err := p.wav.Write(buf); err != nil {
		return fmt.Errorf("write WAV: %w", err)
	}
	return nil
}

// Periods returns the number of periods pulled so far.
func (p *Paced) Periods() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.periods
}

// Close finishes the WAV file, if any.
func (p *Paced) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wav == nil {
		return nil
	}
	err := p.wav.Close()
	p.wav = nil
	return err
}

// Null is an audio device that opens nothing and never pulls.
type Null struct{}

// NewNull creates a null device.
func NewNull() *Null {
	return &Null{}
}

func (Null) Init() error { return nil }

func (Null) Open(ports.AudioSpec, ports.PullFunc) error { return nil }

func (Null) Close() error { return nil }

// Start blocks until ctx is cancelled.
func (Null) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

var (
	_ ports.AudioDevice = (*Paced)(nil)
	_ ports.AudioDevice = (*Null)(nil)
)
