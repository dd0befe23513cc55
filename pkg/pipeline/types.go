// Package pipeline defines the data types that flow between playback stages.
package pipeline

import (
	"fmt"
	"math"
	"time"
)

// NoPTS marks a packet or frame whose presentation timestamp is unset.
const NoPTS int64 = math.MinInt64

// MediaKind identifies the type of an elementary stream.
type MediaKind int

const (
	KindVideo MediaKind = iota
	KindAudio
)

// String returns the string representation of the media kind.
func (k MediaKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Codec identifies a compressed or raw elementary stream format.
type Codec string

const (
	CodecH264     Codec = "h264"
	CodecH265     Codec = "h265"
	CodecAV1      Codec = "av1"
	CodecRawVideo Codec = "rawvideo"
	CodecAAC      Codec = "aac"
	CodecPCMS16LE Codec = "pcm_s16le"
	CodecUnknown  Codec = "unknown"
)

// IsRaw reports whether the codec carries uncompressed samples.
func (c Codec) IsRaw() bool {
	return c == CodecRawVideo || c == CodecPCMS16LE
}

// Rational is a stream time-base expressed as Num/Den seconds per tick.
type Rational struct {
	Num int64
	Den int64
}

// Valid reports whether the rational can be used for conversion.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Float returns the rational as a float64.
func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Duration converts a timestamp in this time-base into a presentation offset.
func (r Rational) Duration(ts int64) time.Duration {
	if !r.Valid() {
		return 0
	}
	// Split to keep ts*Num*1e9 from overflowing on long streams.
	secs := ts / r.Den * r.Num
	rem := ts % r.Den * r.Num
	return time.Duration(secs)*time.Second + time.Duration(rem*int64(time.Second)/r.Den)
}

// Ticks converts a presentation offset back into this time-base, rounding down.
func (r Rational) Ticks(d time.Duration) int64 {
	if !r.Valid() {
		return 0
	}
	return int64(math.Floor(d.Seconds() * float64(r.Den) / float64(r.Num)))
}

// String returns the rational as "num/den".
func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// FormatClock formats a presentation offset as m:ss or h:mm:ss.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, total/60%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// PixelFormat is the native plane layout of a decoded video frame.
type PixelFormat int

const (
	PixelFormatYUV420P PixelFormat = iota
	PixelFormatNV12
	PixelFormatNV21
	PixelFormatYUV422P
	PixelFormatYUV444P
	PixelFormatGray
)

// String returns the ffmpeg-style name of the pixel format.
func (p PixelFormat) String() string {
	switch p {
	case PixelFormatYUV420P:
		return "yuv420p"
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatNV21:
		return "nv21"
	case PixelFormatYUV422P:
		return "yuv422p"
	case PixelFormatYUV444P:
		return "yuv444p"
	case PixelFormatGray:
		return "gray"
	default:
		return "unknown"
	}
}

// FrameSize returns the byte size of one tightly packed frame in this layout.
func (p PixelFormat) FrameSize(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	switch p {
	case PixelFormatYUV420P, PixelFormatNV12, PixelFormatNV21:
		return width*height + 2*cw*ch
	case PixelFormatYUV422P:
		return width*height + 2*cw*height
	case PixelFormatYUV444P:
		return 3 * width * height
	case PixelFormatGray:
		return width * height
	default:
		return 0
	}
}

// StreamInfo describes one elementary stream selected from a container.
type StreamInfo struct {
	Index    int
	Kind     MediaKind
	Codec    Codec
	TimeBase Rational
	Duration time.Duration

	// Video
	Width       int
	Height      int
	FrameRate   Rational
	PixelFormat PixelFormat

	// Audio
	SampleRate int
	Channels   int

	// CodecConfig holds out-of-band decoder configuration: Annex B parameter
	// sets for H.264/H.265, config OBUs for AV1, AudioSpecificConfig for AAC.
	CodecConfig []byte
}

// Packet is one compressed chunk of a single stream. Data is owned by the
// receiving Decoder for the duration of one Send call.
type Packet struct {
	StreamIndex int
	Data        []byte
	PTS         int64
	DTS         int64
	Duration    int64
	Keyframe    bool
	Pos         int64
}

// VideoFrame is a decoded picture in its native layout. It is valid until
// the next Receive on the decoder that produced it.
type VideoFrame struct {
	Width   int
	Height  int
	Format  PixelFormat
	Planes  [3][]byte
	Strides [3]int
	PTS     time.Duration
	HasPTS  bool
}

// AudioFrame is decoded audio as interleaved signed 16-bit little-endian
// samples. It is valid until the next Receive on the decoder that produced it.
type AudioFrame struct {
	Samples    int
	Channels   int
	SampleRate int
	Data       []byte
	PTS        time.Duration
	HasPTS     bool
}

// PlanarFrame is a converted picture: a full resolution Y plane and quarter
// resolution U and V planes. The backing storage is reused on every conversion.
type PlanarFrame struct {
	Width  int
	Height int
	Y      []byte
	U      []byte
	V      []byte
	PTS    time.Duration
}

// ChromaSize returns the dimensions of the U and V planes.
func (f *PlanarFrame) ChromaSize() (int, int) {
	return (f.Width + 1) / 2, (f.Height + 1) / 2
}
