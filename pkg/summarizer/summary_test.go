package summarizer

import (
	"testing"
	"time"
)

func TestNewSummary(t *testing.T) {
	before := time.Now()
	summary := NewSummary()
	after := time.Now()

	if summary.GeneratedAt.Before(before) || summary.GeneratedAt.After(after) {
		t.Errorf("GeneratedAt should be between %v and %v, got %v",
			before, after, summary.GeneratedAt)
	}
}

func TestBuilder_WithSource(t *testing.T) {
	summary := NewBuilder().
		WithSession("0b6f5d8e-2b1a-4c55-9d0e-8f1e4d2c3a10").
		WithSource("clip.mp4", "mp4", 2048, 10*time.Second).
		Build()

	if summary.SessionID != "0b6f5d8e-2b1a-4c55-9d0e-8f1e4d2c3a10" {
		t.Errorf("unexpected session id %q", summary.SessionID)
	}
	if summary.Source.Path != "clip.mp4" || summary.Source.Container != "mp4" {
		t.Errorf("unexpected source %+v", summary.Source)
	}
	if summary.Source.SizeBytes != 2048 {
		t.Errorf("expected SizeBytes 2048, got %d", summary.Source.SizeBytes)
	}
	if summary.Source.DurationMs != 10000 {
		t.Errorf("expected DurationMs 10000, got %d", summary.Source.DurationMs)
	}
}

func TestBuilder_WithStreams(t *testing.T) {
	summary := NewBuilder().
		WithVideo(VideoInfo{Codec: "h264", Width: 1280, Height: 720, FrameRate: 30}).
		Build()

	if summary.Video.Width != 1280 || summary.Video.Height != 720 {
		t.Errorf("unexpected video %+v", summary.Video)
	}
	if summary.Audio != nil {
		t.Error("audio should be nil unless set")
	}

	summary = NewBuilder().
		WithAudio(&AudioInfo{Codec: "aac", SampleRate: 48000, Channels: 2}).
		Build()
	if summary.Audio == nil || summary.Audio.SampleRate != 48000 {
		t.Errorf("unexpected audio %+v", summary.Audio)
	}
}

func TestBuilder_WithPlayback(t *testing.T) {
	playback := PlaybackInfo{
		Presented:  300,
		Dropped:    2,
		Seeks:      1,
		Underruns:  4,
		StopReason: "end of stream",
	}

	summary := NewBuilder().WithPlayback(playback).Build()

	if summary.Playback != playback {
		t.Errorf("expected playback %+v, got %+v", playback, summary.Playback)
	}
}

func TestBuilder_WithSettings(t *testing.T) {
	settings := Settings{
		HWAccel:         "auto",
		AudioOutput:     "paced",
		PresentMode:     "null",
		CadenceMs:       33.33,
		LateDropMs:      250,
		DriftCorrection: true,
	}

	summary := NewBuilder().WithSettings(settings).Build()

	if summary.Settings != settings {
		t.Errorf("expected settings %+v, got %+v", settings, summary.Settings)
	}
}

func TestFormatFunc(t *testing.T) {
	f := FormatFunc(func(s *Summary) string { return s.SessionID })
	if got := f.Format(&Summary{SessionID: "abc"}); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
}
