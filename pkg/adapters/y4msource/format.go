package y4msource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/user/warpplayer/pkg/pipeline"
)

const (
	signature   = "YUV4MPEG2"
	frameMarker = "FRAME"
)

// ErrBadHeader is returned for streams without a valid YUV4MPEG2 header.
var ErrBadHeader = errors.New("y4msource: invalid stream header")

// Header is the stream header of a YUV4MPEG2 file.
type Header struct {
	Width     int
	Height    int
	FrameRate pipeline.Rational
	Format    pipeline.PixelFormat
}

// FrameSize returns the payload size of one frame.
func (h Header) FrameSize() int {
	return h.Format.FrameSize(h.Width, h.Height)
}

// colorspaces maps the C header tag to pixel layouts.
var colorspaces = map[string]pipeline.PixelFormat{
	"420":      pipeline.PixelFormatYUV420P,
	"420jpeg":  pipeline.PixelFormatYUV420P,
	"420paldv": pipeline.PixelFormatYUV420P,
	"420mpeg2": pipeline.PixelFormatYUV420P,
	"422":      pipeline.PixelFormatYUV422P,
	"444":      pipeline.PixelFormatYUV444P,
	"mono":     pipeline.PixelFormatGray,
}

func colorTag(f pipeline.PixelFormat) string {
	switch f {
	case pipeline.PixelFormatYUV422P:
		return "422"
	case pipeline.PixelFormatYUV444P:
		return "444"
	case pipeline.PixelFormatGray:
		return "mono"
	default:
		return "420jpeg"
	}
}

// ParseHeader reads the header line. It returns the header and the number of
// bytes consumed.
func ParseHeader(r *bufio.Reader) (Header, int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return Header{}, 0, fmt.Errorf("read header: %w", err)
	}
	n := len(line)

	fields := strings.Fields(strings.TrimSuffix(line, "\n"))
	if len(fields) == 0 || fields[0] != signature {
		return Header{}, 0, ErrBadHeader
	}

	h := Header{
		FrameRate: pipeline.Rational{Num: 25, Den: 1},
		Format:    pipeline.PixelFormatYUV420P,
	}
	for _, field := range fields[1:] {
		tag, value := field[0], field[1:]
		switch tag {
		case 'W':
			h.Width, err = strconv.Atoi(value)
		case 'H':
			h.Height, err = strconv.Atoi(value)
		case 'F':
			h.FrameRate, err = parseRatio(value)
		case 'C':
			format, ok := colorspaces[value]
			if !ok {
				return Header{}, 0, fmt.Errorf("colorspace %s: %w", value, pipeline.ErrUnsupportedCodec)
			}
			h.Format = format
		}
		if err != nil {
			return Header{}, 0, fmt.Errorf("header field %s: %w", field, ErrBadHeader)
		}
	}

	if h.Width <= 0 || h.Height <= 0 {
		return Header{}, 0, fmt.Errorf("missing frame size: %w", ErrBadHeader)
	}
	return h, n, nil
}

func parseRatio(s string) (pipeline.Rational, error) {
	num, den, ok := strings.Cut(s, ":")
	if !ok {
		return pipeline.Rational{}, ErrBadHeader
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return pipeline.Rational{}, err
	}
	d, err := strconv.ParseInt(den, 10, 64)
	if err != nil {
		return pipeline.Rational{}, err
	}
	if n <= 0 || d <= 0 {
		return pipeline.Rational{}, ErrBadHeader
	}
	return pipeline.Rational{Num: n, Den: d}, nil
}

// WriteHeader writes a stream header.
func WriteHeader(w io.Writer, h Header) error {
	_, err := fmt.Fprintf(w, "%s W%d H%d F%d:%d Ip A1:1 C%s\n",
		signature, h.Width, h.Height, h.FrameRate.Num, h.FrameRate.Den, colorTag(h.Format))
	return err
}

// WriteFrame writes one frame marker followed by the frame planes.
func WriteFrame(w io.Writer, planes ...[]byte) error {
	if _, err := io.WriteString(w, frameMarker+"\n"); err != nil {
		return err
	}
	for _, p := range planes {
		if _, err := w.Write(p); err != nil {
			return err
		}
	}
	return nil
}
