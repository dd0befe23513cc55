// Package player assembles a playback session and runs its loop.
package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/user/warpplayer/pkg/adapters/codecdetect"
	"github.com/user/warpplayer/pkg/clock"
	"github.com/user/warpplayer/pkg/convert"
	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
	"github.com/user/warpplayer/pkg/ringbuffer"
	"github.com/user/warpplayer/pkg/seek"
)

const (
	// DefaultAudioPeriod is the number of sample frames per device callback.
	DefaultAudioPeriod = 1024

	// DefaultRingSeconds bounds the audio ring buffer. Zero leaves it
	// unbounded; Reset on every seek bounds its growth.
	DefaultRingSeconds = 0

	// maxWait caps a single wait so seeks and UI updates stay responsive.
	maxWait = 50 * time.Millisecond
)

// Deps are the collaborators of a session. FS, Decoders, Presenter and
// Logger are required.
type Deps struct {
	FS        ports.FileSystem
	Decoders  ports.DecoderFactory
	Presenter ports.Presenter
	// Audio plays the audio stream. Nil ignores audio.
	Audio ports.AudioDevice
	// Controls supplies seeks and receives position updates. Optional.
	Controls ports.Controls
	// Time drives the clock. Nil uses the system clock.
	Time   clock.TimeSource
	Logger ports.Logger

	// OpenSource overrides container detection, mainly for tests.
	OpenSource func(path string) (ports.Source, error)
}

// Options configures playback.
type Options struct {
	Clock clock.Options
	// AudioPeriod is the device period in sample frames.
	AudioPeriod int
	// RingSeconds bounds buffered audio. A full ring holds back the source
	// until the device drains it. Zero means unlimited.
	RingSeconds float64
	// TracePTS records every presented timestamp in the result.
	TracePTS bool
}

// DefaultOptions returns the default playback options.
func DefaultOptions() Options {
	return Options{
		Clock:       clock.DefaultOptions(),
		AudioPeriod: DefaultAudioPeriod,
		RingSeconds: DefaultRingSeconds,
	}
}

// Session owns every component of one playback.
type Session struct {
	id        string
	path      string
	container codecdetect.Container
	opts      Options
	log       ports.Logger

	src       ports.Source
	video     pipeline.StreamInfo
	audio     pipeline.StreamInfo
	hasAudio  bool
	vdec      ports.VideoDecoder
	adec      ports.AudioDecoder
	conv      *convert.Converter
	ring      *ringbuffer.Buffer
	clock     *clock.Clock
	seek      *seek.Controller
	presenter ports.Presenter
	display   ports.PositionDisplay
	device    ports.AudioDevice
	spec      ports.AudioSpec
	controls  ports.Controls
	duration  time.Duration

	state  loopState
	result Result
	closed bool
}

// Open creates a session for the media at path. Errors are classified as
// *pipeline.OpenError, *pipeline.WindowError or *pipeline.AudioInitError.
func Open(ctx context.Context, path string, deps Deps, opts Options) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &pipeline.OpenError{Path: path, Err: err}
	}
	if deps.Time == nil {
		deps.Time = clock.System()
	}
	if opts.AudioPeriod <= 0 {
		opts.AudioPeriod = DefaultAudioPeriod
	}

	s := &Session{
		id:        uuid.NewString(),
		path:      path,
		opts:      opts,
		log:       deps.Logger,
		seek:      seek.New(),
		presenter: deps.Presenter,
		controls:  deps.Controls,
	}
	s.log.Info("Opening %s", path)

	if err := s.openSource(deps); err != nil {
		return nil, &pipeline.OpenError{Path: path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		s.Close()
		return nil, &pipeline.OpenError{Path: path, Err: err}
	}
	if err := s.openDecoders(deps); err != nil {
		s.Close()
		return nil, &pipeline.OpenError{Path: path, Err: err}
	}

	conv, err := convert.New(s.video.Width, s.video.Height)
	if err != nil {
		s.Close()
		return nil, &pipeline.OpenError{Path: path, Err: err}
	}
	s.conv = conv
	s.clock = clock.New(deps.Time, opts.Clock)

	if err := s.presenter.Configure(s.video.Width, s.video.Height); err != nil {
		s.Close()
		return nil, &pipeline.WindowError{Err: err}
	}
	if d, ok := s.presenter.(ports.PositionDisplay); ok {
		s.display = d
	}

	if s.hasAudio {
		if err := s.openAudio(deps.Audio); err != nil {
			s.Close()
			return nil, &pipeline.AudioInitError{Err: err}
		}
	}

	s.result = Result{
		SessionID: s.id,
		Path:      path,
		Container: string(s.container),
		Video:     s.video,
		Duration:  s.duration,
	}
	if s.hasAudio {
		a := s.audio
		s.result.Audio = &a
	}
	s.log.Info("Session %s started", s.id)
	return s, nil
}

func (s *Session) openSource(deps Deps) error {
	var err error
	if deps.OpenSource != nil {
		s.src, err = deps.OpenSource(s.path)
	} else {
		s.src, s.container, err = OpenSource(deps.FS, s.path, s.log)
	}
	if err != nil {
		return err
	}

	s.video = s.src.Video()
	if s.video.Kind != pipeline.KindVideo || s.video.Width <= 0 || s.video.Height <= 0 {
		s.src.Close()
		s.src = nil
		return pipeline.ErrNoVideoStream
	}
	s.duration = s.src.Duration()
	s.log.Info("Container %s, duration %s", s.container, pipeline.FormatClock(s.duration))
	s.log.Info("Video stream: %s %dx%d", s.video.Codec, s.video.Width, s.video.Height)

	if audio, ok := s.src.Audio(); ok && deps.Audio != nil {
		if audio.SampleRate > 0 && audio.Channels > 0 {
			s.audio, s.hasAudio = audio, true
			s.log.Info("Audio stream: %s %d Hz, %d channels", audio.Codec, audio.SampleRate, audio.Channels)
		} else {
			s.log.Warn("Ignoring audio stream %d without sample format", audio.Index)
		}
	}
	return nil
}

func (s *Session) openDecoders(deps Deps) error {
	vdec, err := deps.Decoders.NewVideoDecoder(s.video)
	if err != nil {
		return fmt.Errorf("create video decoder: %w", err)
	}
	s.vdec = vdec

	if s.hasAudio {
		adec, err := deps.Decoders.NewAudioDecoder(s.audio)
		if err != nil {
			return fmt.Errorf("create audio decoder: %w", err)
		}
		s.adec = adec
	}
	return nil
}

func (s *Session) openAudio(dev ports.AudioDevice) error {
	if err := dev.Init(); err != nil {
		return err
	}
	s.spec = ports.AudioSpec{
		SampleRate: s.audio.SampleRate,
		Channels:   s.audio.Channels,
		Period:     s.opts.AudioPeriod,
	}

	var ringOpts []ringbuffer.Option
	if s.opts.RingSeconds > 0 {
		limit := int(s.opts.RingSeconds * float64(s.spec.SampleRate*s.spec.BytesPerFrame()))
		ringOpts = append(ringOpts, ringbuffer.WithLimit(limit))
	}
	s.ring = ringbuffer.New(ringOpts...)

	if err := dev.Open(s.spec, s.pull); err != nil {
		dev.Close()
		return err
	}
	s.device = dev
	return nil
}

// pull runs on the audio device goroutine.
func (s *Session) pull(dst []byte) {
	s.ring.Pull(dst)
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Duration returns the media duration, or zero when unknown.
func (s *Session) Duration() time.Duration {
	return s.duration
}

// Seek requests a seek to target. It may be called from any goroutine.
func (s *Session) Seek(target time.Duration) {
	s.seek.Request(target)
}

// SeekPercent requests a seek to a percentage of the duration.
func (s *Session) SeekPercent(percent float64) time.Duration {
	return s.seek.RequestPercent(percent, s.duration)
}

// Ring exposes the audio buffer, or nil when there is no audio.
func (s *Session) Ring() *ringbuffer.Buffer {
	return s.ring
}

// Close releases every component in reverse order of creation.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.device != nil {
		errs = append(errs, s.device.Close())
	}
	if s.conv != nil {
		errs = append(errs, s.presenter.Close())
	}
	if s.adec != nil {
		errs = append(errs, s.adec.Close())
	}
	if s.vdec != nil {
		errs = append(errs, s.vdec.Close())
	}
	if s.src != nil {
		errs = append(errs, s.src.Close())
	}
	return errors.Join(errs...)
}
