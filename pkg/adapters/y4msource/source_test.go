package y4msource_test

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/user/warpplayer/pkg/adapters/logger"
	"github.com/user/warpplayer/pkg/adapters/y4msource"
	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/testclip"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		line   string
		want   y4msource.Header
		hasErr bool
	}{
		{
			line: "YUV4MPEG2 W320 H240 F30000:1001 Ip A1:1 C420jpeg\n",
			want: y4msource.Header{Width: 320, Height: 240, FrameRate: pipeline.Rational{Num: 30000, Den: 1001}, Format: pipeline.PixelFormatYUV420P},
		},
		{
			line: "YUV4MPEG2 W16 H8 F25:1 C444\n",
			want: y4msource.Header{Width: 16, Height: 8, FrameRate: pipeline.Rational{Num: 25, Den: 1}, Format: pipeline.PixelFormatYUV444P},
		},
		{
			line: "YUV4MPEG2 W16 H8 Cmono\n",
			want: y4msource.Header{Width: 16, Height: 8, FrameRate: pipeline.Rational{Num: 25, Den: 1}, Format: pipeline.PixelFormatGray},
		},
		{line: "YUV4MPEG2 H8\n", hasErr: true},
		{line: "YUV4MPEG2 W16 H8 C420p10\n", hasErr: true},
		{line: "RIFF0000WAVE\n", hasErr: true},
	}

	for _, tt := range tests {
		h, n, err := y4msource.ParseHeader(bufio.NewReader(strings.NewReader(tt.line)))
		if tt.hasErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.line)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.line, err)
			continue
		}
		if h != tt.want {
			t.Errorf("%q: got %+v, want %+v", tt.line, h, tt.want)
		}
		if n != len(tt.line) {
			t.Errorf("%q: consumed %d bytes, want %d", tt.line, n, len(tt.line))
		}
	}
}

func TestParseHeaderUnsupportedColorspace(t *testing.T) {
	_, _, err := y4msource.ParseHeader(bufio.NewReader(strings.NewReader("YUV4MPEG2 W4 H4 C420p12\n")))
	if !errors.Is(err, pipeline.ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec, got %v", err)
	}
}

func TestSource_ReadsAllFrames(t *testing.T) {
	data, err := testclip.Y4M(testclip.Default())
	if err != nil {
		t.Fatalf("failed to build clip: %v", err)
	}

	src, err := y4msource.New(bytes.NewReader(data), logger.NewNoop())
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}

	if src.Frames() != 300 {
		t.Fatalf("expected 300 frames, got %d", src.Frames())
	}
	if src.Duration() != 10*time.Second {
		t.Errorf("expected 10s, got %v", src.Duration())
	}
	if v := src.Video(); v.Codec != pipeline.CodecRawVideo || v.Width != 64 || v.Height != 48 {
		t.Errorf("unexpected stream %+v", v)
	}

	for i := 0; ; i++ {
		pkt, err := src.NextPacket()
		if errors.Is(err, pipeline.ErrEndOfStream) {
			if i != 300 {
				t.Errorf("expected end after 300 frames, got %d", i)
			}
			break
		}
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if pkt.PTS != int64(i) || !pkt.Keyframe {
			t.Errorf("frame %d: pts=%d keyframe=%v", i, pkt.PTS, pkt.Keyframe)
		}
		if pkt.Data[0] != byte(i) || pkt.Data[1] != byte(i+1) {
			t.Errorf("frame %d: unexpected luma %v", i, pkt.Data[:2])
		}
		if len(pkt.Data) != 64*48*3/2 {
			t.Errorf("frame %d: unexpected size %d", i, len(pkt.Data))
		}
	}
}

func TestSource_SeekIsFrameExact(t *testing.T) {
	data, err := testclip.Y4M(testclip.Default())
	if err != nil {
		t.Fatalf("failed to build clip: %v", err)
	}
	src, err := y4msource.New(bytes.NewReader(data), logger.NewNoop())
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}

	tests := []struct {
		target time.Duration
		frame  int64
	}{
		{5 * time.Second, 150},
		{5*time.Second + 20*time.Millisecond, 150},
		{-time.Second, 0},
		{time.Hour, 299},
	}
	for _, tt := range tests {
		if err := src.Seek(tt.target); err != nil {
			t.Fatalf("Seek failed: %v", err)
		}
		pkt, err := src.NextPacket()
		if err != nil {
			t.Fatalf("NextPacket failed: %v", err)
		}
		if pkt.PTS != tt.frame {
			t.Errorf("Seek(%v): expected frame %d, got %d", tt.target, tt.frame, pkt.PTS)
		}
	}
}

func TestSource_TruncatedFrameIgnored(t *testing.T) {
	clip := testclip.Default()
	clip.Frames = 3
	data, err := testclip.Y4M(clip)
	if err != nil {
		t.Fatalf("failed to build clip: %v", err)
	}
	data = data[:len(data)-10]

	src, err := y4msource.New(bytes.NewReader(data), logger.NewNoop())
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	if src.Frames() != 2 {
		t.Errorf("expected 2 complete frames, got %d", src.Frames())
	}
}
