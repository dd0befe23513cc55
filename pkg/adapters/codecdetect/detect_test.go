package codecdetect

import (
	"bytes"
	"errors"
	"testing"

	"github.com/user/warpplayer/pkg/pipeline"
)

func TestDetectContainer(t *testing.T) {
	ts := make([]byte, 3*188)
	for i := 0; i < 3; i++ {
		ts[i*188] = 0x47
	}
	badTS := append([]byte(nil), ts...)
	badTS[188] = 0x00

	tests := []struct {
		name   string
		header []byte
		want   Container
	}{
		{"ftyp", []byte("\x00\x00\x00\x18ftypisom"), ContainerMP4},
		{"moov first", []byte("\x00\x00\x01\x00moov"), ContainerMP4},
		{"y4m", []byte("YUV4MPEG2 W320 H240 F30:1\n"), ContainerY4M},
		{"mpegts", ts, ContainerMPEGTS},
		{"single ts packet", ts[:188], ContainerMPEGTS},
		{"broken ts sync", badTS, ContainerUnknown},
		{"garbage", []byte("hello world"), ContainerUnknown},
		{"empty", nil, ContainerUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectContainer(tt.header); got != tt.want {
				t.Errorf("DetectContainer() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetectFromReaderRewinds(t *testing.T) {
	r := bytes.NewReader([]byte("YUV4MPEG2 W2 H2\nFRAME\n"))
	c, err := DetectFromReader(r)
	if err != nil {
		t.Fatalf("DetectFromReader failed: %v", err)
	}
	if c != ContainerY4M {
		t.Errorf("expected y4m, got %s", c)
	}
	if pos, _ := r.Seek(0, 1); pos != 0 {
		t.Errorf("expected reader rewound to 0, got %d", pos)
	}
}

func TestDetectFromReaderUnknown(t *testing.T) {
	_, err := DetectFromReader(bytes.NewReader([]byte("not a media file")))
	if !errors.Is(err, ErrUnknownContainer) {
		t.Errorf("expected ErrUnknownContainer, got %v", err)
	}
}

func TestSampleEntryCodec(t *testing.T) {
	tests := map[string]pipeline.Codec{
		"avc1": pipeline.CodecH264,
		"avc3": pipeline.CodecH264,
		"hev1": pipeline.CodecH265,
		"av01": pipeline.CodecAV1,
		"mp4a": pipeline.CodecAAC,
		"vp09": pipeline.CodecUnknown,
	}
	for entry, want := range tests {
		if got := SampleEntryCodec(entry); got != want {
			t.Errorf("SampleEntryCodec(%s) = %s, want %s", entry, got, want)
		}
	}
}

func TestParameterSets(t *testing.T) {
	got := ParameterSets([][]byte{{0x67, 0x01}}, [][]byte{{0x68, 0x02}})
	want := []byte{0, 0, 0, 1, 0x67, 0x01, 0, 0, 0, 1, 0x68, 0x02}
	if !bytes.Equal(got, want) {
		t.Errorf("ParameterSets() = %x, want %x", got, want)
	}
	if ParameterSets(nil, nil) != nil {
		t.Error("expected nil for empty parameter sets")
	}
}
