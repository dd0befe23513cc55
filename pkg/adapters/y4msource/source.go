// Package y4msource reads raw planar video from YUV4MPEG2 files. Every frame
// is a sync point, so seeking is exact to the frame.
package y4msource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

// Source reads frames from a YUV4MPEG2 file.
type Source struct {
	r       io.ReadSeeker
	closer  io.Closer
	log     ports.Logger
	header  Header
	stream  pipeline.StreamInfo
	offsets []int64
	cursor  int
}

// Open opens and indexes the file at path.
func Open(fs ports.FileSystem, path string, log ports.Logger) (*Source, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	s, err := New(f, log)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// New indexes the frames of the stream read from r.
func New(r io.ReadSeeker, log ports.Logger) (*Source, error) {
	br := bufio.NewReader(r)
	h, pos, err := ParseHeader(br)
	if err != nil {
		return nil, err
	}

	s := &Source{
		r:      r,
		log:    log.WithComponent("y4msource"),
		header: h,
	}

	frameSize := h.FrameSize()
	offset := int64(pos)
	for {
		line, err := br.ReadString('\n')
		if errors.Is(err, io.EOF) && line == "" {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read frame header: %w", err)
		}
		if !strings.HasPrefix(line, frameMarker) {
			return nil, fmt.Errorf("frame %d: missing %s marker", len(s.offsets), frameMarker)
		}
		offset += int64(len(line))

		n, err := br.Discard(frameSize)
		if n < frameSize {
			s.log.Debug("Truncated frame %d ignored: %v", len(s.offsets), err)
			break
		}
		s.offsets = append(s.offsets, offset)
		offset += int64(frameSize)
	}

	frameDur := pipeline.Rational{Num: h.FrameRate.Den, Den: h.FrameRate.Num}
	s.stream = pipeline.StreamInfo{
		Index:       0,
		Kind:        pipeline.KindVideo,
		Codec:       pipeline.CodecRawVideo,
		TimeBase:    frameDur,
		Duration:    frameDur.Duration(int64(len(s.offsets))),
		Width:       h.Width,
		Height:      h.Height,
		FrameRate:   h.FrameRate,
		PixelFormat: h.Format,
	}

	s.log.Debug("Indexed %d frames %dx%d %s", len(s.offsets), h.Width, h.Height, h.Format)
	return s, nil
}

// Streams returns the single video stream.
func (s *Source) Streams() []pipeline.StreamInfo {
	return []pipeline.StreamInfo{s.stream}
}

// Video returns the video stream.
func (s *Source) Video() pipeline.StreamInfo {
	return s.stream
}

// Audio always reports no audio stream.
func (s *Source) Audio() (pipeline.StreamInfo, bool) {
	return pipeline.StreamInfo{}, false
}

// Duration returns the frame count times the frame interval.
func (s *Source) Duration() time.Duration {
	return s.stream.Duration
}

// Frames returns the number of frames in the file.
func (s *Source) Frames() int {
	return len(s.offsets)
}

// NextPacket reads the next frame. The frame index is its timestamp.
func (s *Source) NextPacket() (*pipeline.Packet, error) {
	if s.cursor >= len(s.offsets) {
		return nil, pipeline.ErrEndOfStream
	}
	i := s.cursor
	s.cursor++

	if _, err := s.r.Seek(s.offsets[i], io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to frame %d: %w", i, err)
	}
	data := make([]byte, s.header.FrameSize())
	if _, err := io.ReadFull(s.r, data); err != nil {
		return nil, fmt.Errorf("read frame %d: %w", i, err)
	}

	return &pipeline.Packet{
		StreamIndex: 0,
		Data:        data,
		PTS:         int64(i),
		DTS:         int64(i),
		Duration:    1,
		Keyframe:    true,
		Pos:         s.offsets[i],
	}, nil
}

// Seek positions the reader at the frame displayed at target.
func (s *Source) Seek(target time.Duration) error {
	if len(s.offsets) == 0 {
		return pipeline.ErrSeekUnsupported
	}
	i := int(s.stream.TimeBase.Ticks(target))
	s.cursor = min(max(i, 0), len(s.offsets)-1)
	return nil
}

// Close releases the underlying file.
func (s *Source) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

var _ ports.Source = (*Source)(nil)
