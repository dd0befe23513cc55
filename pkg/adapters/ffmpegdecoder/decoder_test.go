package ffmpegdecoder

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/user/warpplayer/pkg/pipeline"
)

func TestInputFormat(t *testing.T) {
	tests := []struct {
		codec pipeline.Codec
		want  string
	}{
		{pipeline.CodecH264, "h264"},
		{pipeline.CodecH265, "hevc"},
		{pipeline.CodecAV1, "obu"},
		{pipeline.CodecAAC, "aac"},
	}
	for _, tt := range tests {
		got, err := inputFormat(tt.codec)
		if err != nil {
			t.Errorf("inputFormat(%s) failed: %v", tt.codec, err)
			continue
		}
		if got != tt.want {
			t.Errorf("inputFormat(%s) = %q, want %q", tt.codec, got, tt.want)
		}
	}

	if _, err := inputFormat(pipeline.CodecRawVideo); !errors.Is(err, pipeline.ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec for raw video, got %v", err)
	}
}

func TestVideoPayload(t *testing.T) {
	h264 := pipeline.StreamInfo{Codec: pipeline.CodecH264, CodecConfig: []byte{0, 0, 0, 1, 0x67}}
	key := &pipeline.Packet{Data: []byte{0, 0, 0, 1, 0x65}, Keyframe: true}
	delta := &pipeline.Packet{Data: []byte{0, 0, 0, 1, 0x41}}

	if got := videoPayload(h264, key); !bytes.Equal(got, []byte{0, 0, 0, 1, 0x67, 0, 0, 0, 1, 0x65}) {
		t.Errorf("h264 keyframe: parameter sets not prepended, got %x", got)
	}
	if got := videoPayload(h264, delta); !bytes.Equal(got, delta.Data) {
		t.Errorf("h264 delta: expected the packet unchanged, got %x", got)
	}

	av1 := pipeline.StreamInfo{Codec: pipeline.CodecAV1, CodecConfig: []byte{0x0a, 0x01, 0xff}}
	if got := videoPayload(av1, &pipeline.Packet{Data: []byte{0x32, 0x00}, Keyframe: true}); !bytes.Equal(got, []byte{0x12, 0x00, 0x0a, 0x01, 0xff, 0x32, 0x00}) {
		t.Errorf("av1 keyframe: unexpected payload %x", got)
	}
	if got := videoPayload(av1, &pipeline.Packet{Data: []byte{0x32, 0x00}}); !bytes.Equal(got, []byte{0x12, 0x00, 0x32, 0x00}) {
		t.Errorf("av1 delta: unexpected payload %x", got)
	}
}

func TestADTSWrapper(t *testing.T) {
	w, err := newADTSWrapper(pipeline.StreamInfo{Codec: pipeline.CodecAAC, SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("newADTSWrapper failed: %v", err)
	}

	frame, err := w.wrap([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("wrap failed: %v", err)
	}
	if len(frame) != 10 {
		t.Fatalf("expected a 10 byte frame, got %d", len(frame))
	}
	if frame[0] != 0xff || frame[1] != 0xf1 {
		t.Errorf("bad ADTS sync word %x", frame[:2])
	}
	// AAC LC, 48 kHz (index 3), 2 channels.
	if frame[2] != 1<<6|3<<2 {
		t.Errorf("bad profile/rate byte %08b", frame[2])
	}
	if frame[3]&0xc0 != 2<<6 {
		t.Errorf("bad channel bits %08b", frame[3])
	}
	if !bytes.Equal(frame[7:], []byte{1, 2, 3}) {
		t.Errorf("payload not appended, got %x", frame[7:])
	}

	if _, err := newADTSWrapper(pipeline.StreamInfo{Codec: pipeline.CodecAAC}); !errors.Is(err, pipeline.ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec without a sample rate, got %v", err)
	}
}

func TestPTSHeap_ReordersBFrames(t *testing.T) {
	var h ptsHeap
	// Decode order I P B B, presentation order I B B P.
	for _, pts := range []int64{0, 3, 1, 2} {
		h.push(pts)
	}

	var got []int64
	for {
		pts, ok := h.pop()
		if !ok {
			break
		}
		got = append(got, pts)
	}
	if !slices.Equal(got, []int64{0, 1, 2, 3}) {
		t.Errorf("expected presentation order, got %v", got)
	}

	h.push(5)
	h.reset()
	if _, ok := h.pop(); ok {
		t.Error("expected an empty heap after reset")
	}
}

func TestFindFFmpeg_CustomPath(t *testing.T) {
	dir := t.TempDir()
	fake := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(fake, []byte{}, 0o755); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	SetFFmpegPath(fake)
	defer SetFFmpegPath("")

	path, err := FindFFmpeg()
	if err != nil {
		t.Fatalf("FindFFmpeg failed: %v", err)
	}
	if path != fake {
		t.Errorf("expected %s, got %s", fake, path)
	}

	SetFFmpegPath(filepath.Join(dir, "missing"))
	if _, err := FindFFmpeg(); !errors.Is(err, ErrFFmpegNotFound) {
		t.Errorf("expected ErrFFmpegNotFound, got %v", err)
	}
}

func TestFindFFmpeg_EnvPath(t *testing.T) {
	t.Setenv("FFMPEG_PATH", filepath.Join(t.TempDir(), "nope"))
	if _, err := FindFFmpeg(); !errors.Is(err, ErrFFmpegNotFound) {
		t.Errorf("expected ErrFFmpegNotFound, got %v", err)
	}
}

// catEngine echoes stdin to stdout, which exercises the process plumbing
// without ffmpeg.
func catEngine(t *testing.T, chunk, queue int) *engine {
	t.Helper()
	path, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}
	return &engine{path: path, chunk: chunk, partial: true, queue: queue}
}

func receiveWithin(t *testing.T, e *engine, d time.Duration) ([]byte, error) {
	t.Helper()
	deadline := time.Now().Add(d)
	for {
		buf, err := e.receive()
		if err != pipeline.ErrNeedMorePackets || time.Now().After(deadline) {
			return buf, err
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func mustSend(t *testing.T, e *engine, data []byte) {
	t.Helper()
	if err := e.send(data); err != nil {
		t.Fatalf("send failed: %v", err)
	}
}

func TestEngine_SendReceiveDrain(t *testing.T) {
	e := catEngine(t, 4, 4)
	defer e.close()

	if _, err := e.receive(); !errors.Is(err, pipeline.ErrNeedMorePackets) {
		t.Errorf("no process yet, expected ErrNeedMorePackets, got %v", err)
	}

	mustSend(t, e, []byte("abcd"))
	buf, err := receiveWithin(t, e, 2*time.Second)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if string(buf) != "abcd" {
		t.Errorf("expected abcd, got %q", buf)
	}

	mustSend(t, e, []byte("efghij"))
	e.drain()

	var rest bytes.Buffer
	for {
		buf, err := e.receive()
		if err == pipeline.ErrEndOfStream {
			break
		}
		if err != nil {
			t.Fatalf("receive failed: %v", err)
		}
		rest.Write(buf)
	}
	if rest.String() != "efghij" {
		t.Errorf("partial final chunk is delivered: got %q", rest.String())
	}

	if _, err := e.receive(); !errors.Is(err, pipeline.ErrEndOfStream) {
		t.Errorf("expected ErrEndOfStream to repeat, got %v", err)
	}
}

func TestEngine_FlushDiscardsPending(t *testing.T) {
	e := catEngine(t, 4, 4)
	defer e.close()

	mustSend(t, e, []byte("old!"))
	time.Sleep(20 * time.Millisecond)
	e.flush()

	if _, err := e.receive(); !errors.Is(err, pipeline.ErrNeedMorePackets) {
		t.Errorf("no stale output after flush, got %v", err)
	}

	mustSend(t, e, []byte("new!"))
	buf, err := receiveWithin(t, e, 2*time.Second)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if string(buf) != "new!" {
		t.Errorf("expected new!, got %q", buf)
	}
}

func TestEngine_BackpressureWhenQueueFull(t *testing.T) {
	e := catEngine(t, 1<<20, 2)
	defer e.close()

	// Large chunks fill the pipes long before cat can emit one output chunk.
	big := make([]byte, 256<<10)
	var sawBackpressure bool
	for i := 0; i < 64 && !sawBackpressure; i++ {
		err := e.send(big)
		if err == pipeline.ErrBackpressure {
			sawBackpressure = true
		} else if err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}
	if !sawBackpressure {
		t.Fatal("expected ErrBackpressure once the queue filled")
	}

	// Draining lets cat exit, so the queued input comes back as output.
	e.drain()
	buf, err := e.receive()
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if len(buf) == 0 {
		t.Error("expected queued input back as output")
	}
}

func TestEngine_ProcessExit(t *testing.T) {
	path, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}
	e := &engine{path: path, chunk: 4, queue: 4}
	defer e.close()

	mustSend(t, e, []byte("data"))
	if _, err := receiveWithin(t, e, 2*time.Second); !errors.Is(err, ErrProcessExited) {
		t.Errorf("expected ErrProcessExited, got %v", err)
	}
}

func TestVideoDecoder_DecodesH264(t *testing.T) {
	ffmpeg, err := FindFFmpeg()
	if err != nil {
		t.Skip("ffmpeg not available")
	}

	var stream bytes.Buffer
	gen := exec.Command(ffmpeg, "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=size=64x48:rate=30",
		"-frames:v", "10",
		"-c:v", "libx264", "-bf", "0",
		"-f", "h264", "pipe:1")
	gen.Stdout = &stream
	if err := gen.Run(); err != nil {
		t.Skipf("ffmpeg cannot encode h264: %v", err)
	}

	d, err := NewVideo(pipeline.StreamInfo{
		Kind:      pipeline.KindVideo,
		Codec:     pipeline.CodecH264,
		TimeBase:  pipeline.Rational{Num: 1, Den: 90000},
		Width:     64,
		Height:    48,
		FrameRate: pipeline.Rational{Num: 30, Den: 1},
	}, Options{FFmpegPath: ffmpeg})
	if err != nil {
		t.Fatalf("NewVideo failed: %v", err)
	}
	defer d.Close()

	if err := d.Send(&pipeline.Packet{Data: stream.Bytes(), PTS: 0, Keyframe: true}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := d.Send(nil); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	var frames int
	var last time.Duration = -1
	for {
		f, err := d.Receive()
		if err == pipeline.ErrEndOfStream {
			break
		}
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if f.Width != 64 || len(f.Planes[0]) != 64*48 {
			t.Errorf("unexpected frame width %d with %d luma bytes", f.Width, len(f.Planes[0]))
		}
		if f.PTS <= last {
			t.Errorf("pts %v does not follow %v", f.PTS, last)
		}
		last = f.PTS
		frames++
	}
	if frames != 10 {
		t.Errorf("expected 10 frames, got %d", frames)
	}
}

func TestProbeHWAccel_Bogus(t *testing.T) {
	ffmpeg, err := FindFFmpeg()
	if err != nil {
		t.Skip("ffmpeg not available")
	}
	if err := ProbeHWAccel(context.Background(), ffmpeg, "no-such-device"); !errors.Is(err, ErrHWAccelUnavailable) {
		t.Errorf("expected ErrHWAccelUnavailable, got %v", err)
	}
}
