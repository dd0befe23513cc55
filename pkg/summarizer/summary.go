// Package summarizer provides summary generation for playback sessions.
package summarizer

import "time"

// Summary contains all data collected during a playback session.
type Summary struct {
	// Metadata
	GeneratedAt time.Time
	SessionID   string

	// Input file
	Source SourceInfo

	// Streams
	Video VideoInfo
	Audio *AudioInfo

	// Playback counters
	Playback PlaybackInfo

	// Player settings
	Settings Settings
}

// SourceInfo describes the opened media file.
type SourceInfo struct {
	Path       string
	Container  string
	SizeBytes  int64
	DurationMs int
}

// VideoInfo describes the decoded video stream.
type VideoInfo struct {
	Codec     string
	Width     int
	Height    int
	FrameRate float64
	Decoder   string
}

// AudioInfo describes the decoded audio stream.
type AudioInfo struct {
	Codec      string
	SampleRate int
	Channels   int
	Decoder    string
}

// PlaybackInfo contains the session counters.
type PlaybackInfo struct {
	Presented        int
	Dropped          int
	Seeks            int
	FailedSeeks      int
	PacketErrors     int
	Underruns        int64
	AudioOverflows   int
	DriftCorrections int
	LastPositionMs   int
	WallTimeMs       int
	StopReason       string
}

// Settings contains the player configuration.
type Settings struct {
	HWAccel         string
	AudioOutput     string
	PresentMode     string
	CadenceMs       float64
	LateDropMs      int
	DriftCorrection bool
}

// NewSummary creates a new Summary with the current timestamp.
func NewSummary() *Summary {
	return &Summary{
		GeneratedAt: time.Now(),
	}
}

// Builder provides a fluent interface for building a Summary.
type Builder struct {
	summary *Summary
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{
		summary: NewSummary(),
	}
}

// WithSession sets the session identifier.
func (b *Builder) WithSession(id string) *Builder {
	b.summary.SessionID = id
	return b
}

// WithSource sets input file information.
func (b *Builder) WithSource(path, container string, size int64, duration time.Duration) *Builder {
	b.summary.Source = SourceInfo{
		Path:       path,
		Container:  container,
		SizeBytes:  size,
		DurationMs: int(duration / time.Millisecond),
	}
	return b
}

// WithVideo sets video stream information.
func (b *Builder) WithVideo(video VideoInfo) *Builder {
	b.summary.Video = video
	return b
}

// WithAudio sets audio stream information. Nil means the file was played
// without audio.
func (b *Builder) WithAudio(audio *AudioInfo) *Builder {
	b.summary.Audio = audio
	return b
}

// WithPlayback sets the session counters.
func (b *Builder) WithPlayback(playback PlaybackInfo) *Builder {
	b.summary.Playback = playback
	return b
}

// WithSettings sets player settings.
func (b *Builder) WithSettings(settings Settings) *Builder {
	b.summary.Settings = settings
	return b
}

// Build returns the constructed Summary.
func (b *Builder) Build() *Summary {
	return b.summary
}
