package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/warpplayer/pkg/clock"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	opts := cfg.ToPlayerOptions()
	if opts.Clock.Cadence != clock.DefaultCadence {
		t.Errorf("expected cadence %v, got %v", clock.DefaultCadence, opts.Clock.Cadence)
	}
	if opts.Clock.LateDrop != clock.DefaultLateDrop {
		t.Errorf("expected late drop %v, got %v", clock.DefaultLateDrop, opts.Clock.LateDrop)
	}
	if opts.Clock.DriftCorrection {
		t.Error("drift correction should be off by default")
	}
	if opts.AudioPeriod != 1024 {
		t.Errorf("expected 1024 frame period, got %d", opts.AudioPeriod)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
hwaccel: none
audio:
  output: wav
  wav: out.wav
clock:
  cadence_ms: 20
  drift_correction: true
seeks: ["2s=50", "4=10"]
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.HWAccel != "none" {
		t.Errorf("unexpected top-level values: %+v", cfg)
	}
	if cfg.Audio.Period != 1024 {
		t.Errorf("unset period should keep its default, got %d", cfg.Audio.Period)
	}
	if cfg.Present.Mode != PresentNull {
		t.Errorf("unset present mode should keep its default, got %s", cfg.Present.Mode)
	}
	if len(cfg.Seeks) != 2 {
		t.Errorf("expected 2 seeks, got %v", cfg.Seeks)
	}

	opts := cfg.ToPlayerOptions()
	if opts.Clock.Cadence != 20*time.Millisecond {
		t.Errorf("expected 20ms cadence, got %v", opts.Clock.Cadence)
	}
	if !opts.Clock.DriftCorrection {
		t.Error("expected drift correction enabled")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }},
		{"zero cadence", func(c *Config) { c.Clock.CadenceMs = 0 }},
		{"zero period", func(c *Config) { c.Audio.Period = 0 }},
		{"unknown audio", func(c *Config) { c.Audio.Output = "alsa" }},
		{"wav without path", func(c *Config) { c.Audio.Output = AudioWAV }},
		{"unknown present", func(c *Config) { c.Present.Mode = "window" }},
		{"y4m without out", func(c *Config) { c.Present.Mode = PresentY4M; c.Present.Out = "" }},
		{"negative snapshots", func(c *Config) { c.Present.SnapshotEvery = -1 }},
		{"negative ring", func(c *Config) { c.Audio.RingSeconds = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warpplayer.yaml")
	if err := os.WriteFile(path, []byte("present:\n  mode: png\n  snapshot_every: 5\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Present.Mode != PresentPNG || cfg.Present.SnapshotEvery != 5 {
		t.Errorf("unexpected present config: %+v", cfg.Present)
	}
	if cfg.Present.Out != "./out" {
		t.Errorf("expected default out dir, got %q", cfg.Present.Out)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("clock: [")); err == nil {
		t.Error("expected parse error")
	}
}
