// Package filesink provides a presenter that records presented frames to a
// YUV4MPEG2 file.
package filesink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/user/warpplayer/pkg/adapters/y4msource"
	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

// ErrNotConfigured is returned when Present is called before Configure.
var ErrNotConfigured = errors.New("filesink: presenter not configured")

// Sink writes every presented frame to a Y4M stream.
type Sink struct {
	fs        ports.FileSystem
	path      string
	frameRate pipeline.Rational

	mu     sync.Mutex
	file   io.WriteCloser
	w      *bufio.Writer
	width  int
	height int
	frames int
}

// New creates a sink that writes to path. frameRate is recorded in the
// stream header; an invalid rate defaults to 30 fps.
func New(fs ports.FileSystem, path string, frameRate pipeline.Rational) *Sink {
	if !frameRate.Valid() {
		frameRate = pipeline.Rational{Num: 30, Den: 1}
	}
	return &Sink{fs: fs, path: path, frameRate: frameRate}
}

// Configure creates the output file and writes the stream header.
func (s *Sink) Configure(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if width <= 0 || height <= 0 {
		return fmt.Errorf("filesink: invalid size %dx%d", width, height)
	}
	f, err := s.fs.Create(s.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.path, err)
	}
	s.file = f
	s.w = bufio.NewWriter(f)
	s.width, s.height = width, height

	return y4msource.WriteHeader(s.w, y4msource.Header{
		Width:     width,
		Height:    height,
		FrameRate: s.frameRate,
		Format:    pipeline.PixelFormatYUV420P,
	})
}

// Present appends one frame.
func (s *Sink) Present(frame *pipeline.PlanarFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return ErrNotConfigured
	}
	if frame.Width != s.width || frame.Height != s.height {
		return fmt.Errorf("%w: %dx%d, configured %dx%d", pipeline.ErrDimensionChange, frame.Width, frame.Height, s.width, s.height)
	}
	if err := y4msource.WriteFrame(s.w, frame.Y, frame.U, frame.V); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	s.frames++
	return nil
}

// ShouldClose always returns false.
func (s *Sink) ShouldClose() bool {
	return false
}

// Frames returns the number of frames written.
func (s *Sink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close flushes and closes the output file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.file.Close()
	s.file, s.w = nil, nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Ensure Sink implements ports.Presenter
var _ ports.Presenter = (*Sink)(nil)
