// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/warpplayer/pkg/clock"
	"github.com/user/warpplayer/pkg/player"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid configuration")

// Audio output modes.
const (
	AudioPaced = "paced"
	AudioWAV   = "wav"
	AudioNone  = "none"
)

// Presentation modes.
const (
	PresentNull = "null"
	PresentY4M  = "y4m"
	PresentPNG  = "png"
)

// Config represents the full configuration for warpplayer.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Decoding
	FFmpegPath   string `yaml:"ffmpeg"`
	HWAccel      string `yaml:"hwaccel"`
	DecoderQueue int    `yaml:"decoder_queue"`

	Audio   AudioConfig   `yaml:"audio"`
	Present PresentConfig `yaml:"present"`
	Clock   ClockConfig   `yaml:"clock"`

	// Controls
	Console bool     `yaml:"console"`
	Seeks   []string `yaml:"seeks"`

	// Reporting
	Summary  string `yaml:"summary"`
	TracePTS bool   `yaml:"trace_pts"`
}

// AudioConfig represents audio output settings.
type AudioConfig struct {
	Output      string  `yaml:"output"`
	WAVPath     string  `yaml:"wav"`
	Period      int     `yaml:"period"`
	RingSeconds float64 `yaml:"ring_seconds"`
}

// PresentConfig represents presentation settings.
type PresentConfig struct {
	Mode          string `yaml:"mode"`
	Out           string `yaml:"out"`
	SnapshotEvery int    `yaml:"snapshot_every"`
	Overlay       bool   `yaml:"overlay"`
}

// ClockConfig represents synchronizer settings.
type ClockConfig struct {
	CadenceMs        float64 `yaml:"cadence_ms"`
	LateDropMs       int     `yaml:"late_drop_ms"`
	DriftCorrection  bool    `yaml:"drift_correction"`
	DriftThresholdMs int     `yaml:"drift_threshold_ms"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		LogLevel: "info",

		HWAccel: "auto",

		Audio: AudioConfig{
			Output:      AudioPaced,
			Period:      player.DefaultAudioPeriod,
			RingSeconds: player.DefaultRingSeconds,
		},

		Present: PresentConfig{
			Mode:          PresentNull,
			Out:           "./out",
			SnapshotEvery: 30,
			Overlay:       true,
		},

		Clock: ClockConfig{
			CadenceMs:        float64(clock.DefaultCadence) / float64(time.Millisecond),
			LateDropMs:       int(clock.DefaultLateDrop / time.Millisecond),
			DriftThresholdMs: int(clock.DefaultDriftThreshold / time.Millisecond),
		},

		Console: true,
	}
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Defaults(), err
	}
	return Parse(data)
}

// Parse decodes a YAML document over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges and enums.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.LogLevel)
	}
	if c.Clock.CadenceMs <= 0 {
		return fmt.Errorf("%w: clock.cadence_ms must be positive, got %v", ErrInvalid, c.Clock.CadenceMs)
	}
	if c.Clock.LateDropMs < 0 {
		return fmt.Errorf("%w: clock.late_drop_ms must not be negative", ErrInvalid)
	}
	if c.Audio.Period <= 0 || c.Audio.Period > 1<<16 {
		return fmt.Errorf("%w: audio.period must be in 1..65536, got %d", ErrInvalid, c.Audio.Period)
	}
	if c.Audio.RingSeconds < 0 {
		return fmt.Errorf("%w: audio.ring_seconds must not be negative", ErrInvalid)
	}
	switch c.Audio.Output {
	case AudioPaced, AudioNone:
	case AudioWAV:
		if c.Audio.WAVPath == "" {
			return fmt.Errorf("%w: audio output wav needs a wav path", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown audio output %q", ErrInvalid, c.Audio.Output)
	}
	switch c.Present.Mode {
	case PresentNull:
	case PresentY4M, PresentPNG:
		if c.Present.Out == "" {
			return fmt.Errorf("%w: present mode %s needs an output path", ErrInvalid, c.Present.Mode)
		}
	default:
		return fmt.Errorf("%w: unknown present mode %q", ErrInvalid, c.Present.Mode)
	}
	if c.Present.SnapshotEvery < 0 {
		return fmt.Errorf("%w: present.snapshot_every must not be negative", ErrInvalid)
	}
	if c.DecoderQueue < 0 {
		return fmt.Errorf("%w: decoder_queue must not be negative", ErrInvalid)
	}
	return nil
}

// ToPlayerOptions converts Config to player.Options.
func (c Config) ToPlayerOptions() player.Options {
	return player.Options{
		Clock: clock.Options{
			Cadence:         time.Duration(math.Round(c.Clock.CadenceMs * float64(time.Millisecond))),
			LateDrop:        time.Duration(c.Clock.LateDropMs) * time.Millisecond,
			DriftCorrection: c.Clock.DriftCorrection,
			DriftThreshold:  time.Duration(c.Clock.DriftThresholdMs) * time.Millisecond,
		},
		AudioPeriod: c.Audio.Period,
		RingSeconds: c.Audio.RingSeconds,
		TracePTS:    c.TracePTS,
	}
}
