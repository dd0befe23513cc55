package player_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/user/warpplayer/pkg/adapters/codecdetect"
	"github.com/user/warpplayer/pkg/adapters/nullsink"
	"github.com/user/warpplayer/pkg/adapters/smartdecoder"
	"github.com/user/warpplayer/pkg/clock"
	"github.com/user/warpplayer/pkg/mocks"
	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/player"
	"github.com/user/warpplayer/pkg/ports"
	"github.com/user/warpplayer/pkg/testclip"
)

var (
	videoTB = pipeline.Rational{Num: 1, Den: 30}
	audioTB = pipeline.Rational{Num: 1, Den: 48000}
)

// audioPacketBytes is 1024 stereo s16 frames.
const audioPacketBytes = 4096

func videoStream() pipeline.StreamInfo {
	return pipeline.StreamInfo{
		Index:     0,
		Kind:      pipeline.KindVideo,
		Codec:     pipeline.CodecH264,
		TimeBase:  videoTB,
		Width:     16,
		Height:    8,
		FrameRate: pipeline.Rational{Num: 30, Den: 1},
	}
}

func audioStream() *pipeline.StreamInfo {
	return &pipeline.StreamInfo{
		Index:      1,
		Kind:       pipeline.KindAudio,
		Codec:      pipeline.CodecAAC,
		TimeBase:   audioTB,
		SampleRate: 48000,
		Channels:   2,
	}
}

func videoPacket(i, gop int) *pipeline.Packet {
	return &pipeline.Packet{
		StreamIndex: 0,
		Data:        []byte{byte(i)},
		PTS:         int64(i),
		DTS:         int64(i),
		Keyframe:    i%gop == 0,
	}
}

func audioPacket(i int) *pipeline.Packet {
	return &pipeline.Packet{
		StreamIndex: 1,
		Data:        make([]byte, audioPacketBytes),
		PTS:         int64(i * 1024),
		Keyframe:    true,
	}
}

// mockSource returns n video packets, one keyframe every gop frames, with an
// audio packet of 1024 stereo frames after every video packet when withAudio.
func mockSource(n, gop int, withAudio bool) *mocks.Source {
	src := &mocks.Source{
		VideoStream: videoStream(),
		Length:      videoTB.Duration(int64(n)),
	}
	if withAudio {
		src.AudioStream = audioStream()
	}
	for i := 0; i < n; i++ {
		src.Packets = append(src.Packets, videoPacket(i, gop))
		if withAudio {
			src.Packets = append(src.Packets, audioPacket(i))
		}
	}
	return src
}

// audioAheadSource muxes every audio packet before the first video packet.
func audioAheadSource(audio, video int) *mocks.Source {
	src := &mocks.Source{
		VideoStream: videoStream(),
		AudioStream: audioStream(),
		Length:      videoTB.Duration(int64(video)),
	}
	for i := 0; i < audio; i++ {
		src.Packets = append(src.Packets, audioPacket(i))
	}
	for i := 0; i < video; i++ {
		src.Packets = append(src.Packets, videoPacket(i, 1))
	}
	return src
}

// pacedTime pulls from the device for every wait, as a real callback would
// while the loop sleeps.
type pacedTime struct {
	*clock.Manual
	dev *mocks.AudioDevice
	bps int
}

func (p pacedTime) After(d time.Duration) <-chan time.Time {
	if n := int(int64(d)*int64(p.bps)/int64(time.Second)) &^ 3; n > 0 {
		p.dev.Pull(make([]byte, n))
	}
	return p.Manual.After(d)
}

func mockDeps(src ports.Source) (player.Deps, *mocks.DecoderFactory, *mocks.Presenter, *mocks.Logger) {
	factory := &mocks.DecoderFactory{}
	presenter := &mocks.Presenter{}
	log := mocks.NewLogger()
	return player.Deps{
		FS:         mocks.NewFileSystem(),
		Decoders:   factory,
		Presenter:  presenter,
		Time:       clock.NewManual(0),
		Logger:     log,
		OpenSource: func(string) (ports.Source, error) { return src, nil },
	}, factory, presenter, log
}

func tracingOptions() player.Options {
	opts := player.DefaultOptions()
	opts.TracePTS = true
	return opts
}

func assertStrictlyIncreasing(t *testing.T, trace []time.Duration) {
	t.Helper()
	for i := 1; i < len(trace); i++ {
		if trace[i] <= trace[i-1] {
			t.Errorf("pts at %d is %v, not after %v", i, trace[i], trace[i-1])
			return
		}
	}
}

func openSession(t *testing.T, path string, deps player.Deps, opts player.Options) *player.Session {
	t.Helper()
	s, err := player.Open(context.Background(), path, deps, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func openAndRun(t *testing.T, path string, deps player.Deps, opts player.Options) player.Result {
	t.Helper()
	s := openSession(t, path, deps, opts)
	defer s.Close()

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return res
}

func clipFS(t *testing.T, name string, data []byte, err error) *mocks.FileSystem {
	t.Helper()
	if err != nil {
		t.Fatalf("failed to build test clip: %v", err)
	}
	fs := mocks.NewFileSystem()
	if err := fs.WriteFile(name, data); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return fs
}

func after(trace []time.Duration, from time.Duration) []time.Duration {
	var out []time.Duration
	for _, pts := range trace {
		if pts > from {
			out = append(out, pts)
		}
	}
	return out
}

func TestY4MPlaysEveryFrame(t *testing.T) {
	data, err := testclip.Y4M(testclip.Default())
	fs := clipFS(t, "clip.y4m", data, err)

	log := mocks.NewLogger()
	sink := nullsink.New()
	deps := player.Deps{
		FS:        fs,
		Decoders:  smartdecoder.New(smartdecoder.Options{}, log),
		Presenter: sink,
		Time:      clock.NewManual(0),
		Logger:    log,
	}

	res := openAndRun(t, "clip.y4m", deps, tracingOptions())

	if res.Stop != player.StopEndOfStream {
		t.Errorf("expected end of stream, got %v", res.Stop)
	}
	if res.Presented != 300 || res.Dropped != 0 {
		t.Errorf("expected 300 presented and 0 dropped, got %d and %d", res.Presented, res.Dropped)
	}
	if n := sink.Frames(); n != 300 {
		t.Errorf("sink received %d frames", n)
	}
	if res.Container != string(codecdetect.ContainerY4M) {
		t.Errorf("unexpected container %q", res.Container)
	}
	if res.Duration != 10*time.Second {
		t.Errorf("unexpected duration %v", res.Duration)
	}
	if len(res.Trace) != 300 {
		t.Fatalf("expected 300 traced frames, got %d", len(res.Trace))
	}
	if res.Trace[0] != 0 || res.Trace[299] != videoTB.Duration(299) {
		t.Errorf("unexpected trace bounds %v..%v", res.Trace[0], res.Trace[299])
	}
	assertStrictlyIncreasing(t, res.Trace)
	if res.SessionID == "" {
		t.Error("expected a session id")
	}
}

func TestY4MSeekLandsOnTarget(t *testing.T) {
	data, err := testclip.Y4M(testclip.Default())
	fs := clipFS(t, "clip.y4m", data, err)

	controls := &mocks.Controls{}
	sought := false
	controls.UpdateFunc = func(position, duration time.Duration) {
		if !sought && position >= 3*time.Second {
			sought = true
			controls.Seek(50)
		}
	}

	log := mocks.NewLogger()
	deps := player.Deps{
		FS:        fs,
		Decoders:  smartdecoder.New(smartdecoder.Options{}, log),
		Presenter: nullsink.New(),
		Controls:  controls,
		Time:      clock.NewManual(0),
		Logger:    log,
	}

	res := openAndRun(t, "clip.y4m", deps, tracingOptions())

	if res.Seeks != 1 || res.FailedSeeks != 0 {
		t.Errorf("expected one successful seek, got %d ok and %d failed", res.Seeks, res.FailedSeeks)
	}
	assertStrictlyIncreasing(t, res.Trace)

	// Every frame is a sync point, so playback resumes exactly at 5 s.
	rest := after(res.Trace, 3500*time.Millisecond)
	if len(rest) == 0 {
		t.Fatal("nothing was presented after the seek")
	}
	if rest[0] != 5*time.Second {
		t.Errorf("expected playback to resume at 5s, got %v", rest[0])
	}
	if len(rest) != 150 {
		t.Errorf("expected 150 frames after the seek, got %d", len(rest))
	}
}

func TestMP4SeekLandsOnPrecedingSyncPoint(t *testing.T) {
	data, err := testclip.MP4(testclip.Default())
	fs := clipFS(t, "clip.mp4", data, err)

	controls := &mocks.Controls{}
	sought := false
	controls.UpdateFunc = func(position, duration time.Duration) {
		if !sought && position >= 2*time.Second {
			sought = true
			controls.Seek(50)
		}
	}

	factory := &mocks.DecoderFactory{}
	deps := player.Deps{
		FS:        fs,
		Decoders:  factory,
		Presenter: nullsink.New(),
		Controls:  controls,
		Time:      clock.NewManual(0),
		Logger:    mocks.NewLogger(),
	}

	res := openAndRun(t, "clip.mp4", deps, tracingOptions())

	if res.Seeks != 1 || res.Stop != player.StopEndOfStream {
		t.Errorf("expected one seek then end of stream, got %d seeks and %v", res.Seeks, res.Stop)
	}
	assertStrictlyIncreasing(t, res.Trace)
	if factory.Video.FlushCalls != 1 {
		t.Errorf("expected one video flush, got %d", factory.Video.FlushCalls)
	}

	rest := after(res.Trace, 2500*time.Millisecond)
	if len(rest) == 0 {
		t.Fatal("nothing was presented after the seek")
	}
	// GOP of 45 frames at 30 fps: the sync point before 5 s is at 4.5 s.
	if rest[0] != 4500*time.Millisecond {
		t.Errorf("expected playback to resume at 4.5s, got %v", rest[0])
	}
	if last := res.Trace[len(res.Trace)-1]; rest[len(rest)-1] != last {
		t.Errorf("expected the trace to end at %v, got %v", last, rest[len(rest)-1])
	}
	if res.Dropped == 0 {
		t.Error("frames between the sync point and the target should catch up by dropping")
	}
}

func TestOpenClassifiesErrors(t *testing.T) {
	t.Run("unknown container", func(t *testing.T) {
		fs := clipFS(t, "junk.bin", []byte("definitely not media"), nil)
		_, err := player.Open(context.Background(), "junk.bin", player.Deps{
			FS:        fs,
			Decoders:  &mocks.DecoderFactory{},
			Presenter: &mocks.Presenter{},
			Logger:    mocks.NewLogger(),
		}, player.DefaultOptions())

		var oe *pipeline.OpenError
		if !errors.As(err, &oe) {
			t.Fatalf("expected OpenError, got %v", err)
		}
		if oe.Path != "junk.bin" {
			t.Errorf("unexpected path %q", oe.Path)
		}
		if !errors.Is(err, codecdetect.ErrUnknownContainer) {
			t.Errorf("expected ErrUnknownContainer, got %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := player.Open(context.Background(), "missing.mp4", player.Deps{
			FS:        mocks.NewFileSystem(),
			Decoders:  &mocks.DecoderFactory{},
			Presenter: &mocks.Presenter{},
			Logger:    mocks.NewLogger(),
		}, player.DefaultOptions())

		var oe *pipeline.OpenError
		if !errors.As(err, &oe) {
			t.Errorf("expected OpenError, got %v", err)
		}
	})

	t.Run("unsupported codec", func(t *testing.T) {
		src := mockSource(3, 1, false)
		deps, factory, _, _ := mockDeps(src)
		factory.NewVideoDecoderFunc = func(pipeline.StreamInfo) (ports.VideoDecoder, error) {
			return nil, pipeline.ErrUnsupportedCodec
		}
		_, err := player.Open(context.Background(), "x", deps, player.DefaultOptions())

		var oe *pipeline.OpenError
		if !errors.As(err, &oe) || !errors.Is(err, pipeline.ErrUnsupportedCodec) {
			t.Errorf("expected OpenError wrapping ErrUnsupportedCodec, got %v", err)
		}
		if !src.CloseCalled {
			t.Error("expected the source to be closed")
		}
	})

	t.Run("window", func(t *testing.T) {
		src := mockSource(3, 1, false)
		deps, _, presenter, _ := mockDeps(src)
		presenter.ConfigureFunc = func(int, int) error { return errors.New("no display") }
		_, err := player.Open(context.Background(), "x", deps, player.DefaultOptions())

		var we *pipeline.WindowError
		if !errors.As(err, &we) {
			t.Errorf("expected WindowError, got %v", err)
		}
		if !src.CloseCalled {
			t.Error("expected the source to be closed")
		}
	})

	t.Run("audio init", func(t *testing.T) {
		src := mockSource(3, 1, true)
		deps, _, _, _ := mockDeps(src)
		deps.Audio = &mocks.AudioDevice{InitFunc: func() error { return errors.New("no audio subsystem") }}
		_, err := player.Open(context.Background(), "x", deps, player.DefaultOptions())

		var ae *pipeline.AudioInitError
		if !errors.As(err, &ae) {
			t.Errorf("expected AudioInitError, got %v", err)
		}
	})
}

type flakyDecoder struct {
	*mocks.VideoDecoder
	badPTS     int64
	refuseNext bool
	refusals   int
}

func (d *flakyDecoder) Send(pkt *pipeline.Packet) error {
	if pkt != nil && pkt.PTS == d.badPTS {
		return &pipeline.PacketError{StreamIndex: pkt.StreamIndex, Err: errors.New("corrupt slice")}
	}
	if pkt != nil && d.refuseNext {
		d.refuseNext = false
		d.refusals++
		return pipeline.ErrBackpressure
	}
	d.refuseNext = true
	return d.VideoDecoder.Send(pkt)
}

func TestPacketErrorsAreSkipped(t *testing.T) {
	src := mockSource(10, 1, false)
	deps, factory, _, log := mockDeps(src)
	factory.NewVideoDecoderFunc = func(stream pipeline.StreamInfo) (ports.VideoDecoder, error) {
		return &flakyDecoder{VideoDecoder: &mocks.VideoDecoder{Stream: stream}, badPTS: 3}, nil
	}

	res := openAndRun(t, "x", deps, tracingOptions())

	if res.PacketErrors != 1 || res.Presented != 9 {
		t.Errorf("expected 1 packet error and 9 presented, got %d and %d", res.PacketErrors, res.Presented)
	}
	if slices.Contains(res.Trace, videoTB.Duration(3)) {
		t.Error("the corrupt frame was presented")
	}
	if len(log.Messages(ports.LevelWarn)) == 0 {
		t.Error("expected a warning for the corrupt packet")
	}
}

func TestBackpressureIsRetried(t *testing.T) {
	src := mockSource(20, 1, false)
	deps, factory, _, _ := mockDeps(src)
	var dec *flakyDecoder
	factory.NewVideoDecoderFunc = func(stream pipeline.StreamInfo) (ports.VideoDecoder, error) {
		dec = &flakyDecoder{VideoDecoder: &mocks.VideoDecoder{Stream: stream}, badPTS: -1}
		return dec, nil
	}

	res := openAndRun(t, "x", deps, tracingOptions())

	if res.Presented != 20 || res.PacketErrors != 0 {
		t.Errorf("expected 20 presented without errors, got %d and %d", res.Presented, res.PacketErrors)
	}
	if dec.refusals == 0 {
		t.Error("the decoder never refused a packet")
	}
	assertStrictlyIncreasing(t, res.Trace)
}

func TestSeekFailureContinuesPlayback(t *testing.T) {
	src := mockSource(30, 10, false)
	src.SeekFunc = func(time.Duration) error { return pipeline.ErrSeekUnsupported }
	deps, factory, _, _ := mockDeps(src)

	s := openSession(t, "x", deps, tracingOptions())
	defer s.Close()

	s.Seek(500 * time.Millisecond)
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.FailedSeeks != 1 || res.Seeks != 0 {
		t.Errorf("expected one failed seek, got %d failed and %d ok", res.FailedSeeks, res.Seeks)
	}
	if res.Presented != 30 {
		t.Errorf("expected 30 presented, got %d", res.Presented)
	}
	if n := factory.Video.FlushCalls; n != 0 {
		t.Errorf("a failed seek leaves decoders alone, got %d flushes", n)
	}
}

func TestAudioIsRoutedToRing(t *testing.T) {
	src := mockSource(10, 1, true)
	deps, factory, _, _ := mockDeps(src)
	dev := &mocks.AudioDevice{}
	deps.Audio = dev

	s := openSession(t, "x", deps, player.DefaultOptions())
	defer s.Close()

	if !dev.InitCalled {
		t.Error("expected the audio subsystem to be initialized")
	}
	if want := (ports.AudioSpec{SampleRate: 48000, Channels: 2, Period: 1024}); dev.Spec != want {
		t.Errorf("expected spec %+v, got %+v", want, dev.Spec)
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Presented != 10 || factory.Audio.Sent != 10 {
		t.Errorf("expected 10 frames and 10 audio packets, got %d and %d", res.Presented, factory.Audio.Sent)
	}
	if res.Audio == nil {
		t.Fatal("expected audio stream info in the result")
	}
	if !dev.Started {
		t.Error("expected the device to be started")
	}

	if pushed := s.Ring().Stats().Pushed; pushed != 10*audioPacketBytes {
		t.Errorf("expected %d bytes pushed, got %d", 10*audioPacketBytes, pushed)
	}

	dev.Pull(make([]byte, audioPacketBytes))
	if consumed := s.Ring().Stats().Consumed; consumed != audioPacketBytes {
		t.Errorf("expected %d bytes consumed, got %d", audioPacketBytes, consumed)
	}

	s.ResetAudio()
	if index, size := s.Ring().Cursors(); index != 0 || size != 0 {
		t.Errorf("expected zero cursors after reset, got (%d, %d)", index, size)
	}
}

func TestAudioAheadOfVideoReachesRing(t *testing.T) {
	// 141 packets of 1024 frames at 48 kHz is just over 3 s.
	src := audioAheadSource(141, 90)
	deps, _, _, _ := mockDeps(src)
	deps.Audio = &mocks.AudioDevice{}

	s := openSession(t, "x", deps, player.DefaultOptions())
	defer s.Close()

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Presented != 90 {
		t.Errorf("expected 90 frames, got %d", res.Presented)
	}
	if res.AudioOverflows != 0 {
		t.Errorf("expected no dropped audio, got %d overflows", res.AudioOverflows)
	}
	if pushed := s.Ring().Stats().Pushed; pushed != 141*audioPacketBytes {
		t.Errorf("expected every decoded byte in the ring (%d), got %d", 141*audioPacketBytes, pushed)
	}
}

func TestBoundedRingHoldsSourceUntilDeviceDrains(t *testing.T) {
	src := audioAheadSource(141, 90)
	deps, _, _, _ := mockDeps(src)
	dev := &mocks.AudioDevice{}
	deps.Audio = dev
	deps.Time = pacedTime{Manual: clock.NewManual(0), dev: dev, bps: 48000 * 4}

	opts := player.DefaultOptions()
	opts.RingSeconds = 0.25

	s := openSession(t, "x", deps, opts)
	defer s.Close()

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Presented != 90 {
		t.Errorf("expected 90 frames, got %d", res.Presented)
	}
	if res.AudioOverflows != 0 {
		t.Errorf("expected no dropped audio, got %d overflows", res.AudioOverflows)
	}
	stats := s.Ring().Stats()
	if stats.Pushed != 141*audioPacketBytes {
		t.Errorf("expected %d bytes pushed, got %d", 141*audioPacketBytes, stats.Pushed)
	}
	if stats.Capacity > 48000 {
		t.Errorf("ring grew past its limit: capacity %d", stats.Capacity)
	}
}

func TestStalledDeviceDropsHeldAudio(t *testing.T) {
	src := audioAheadSource(141, 90)
	deps, _, _, log := mockDeps(src)
	deps.Audio = &mocks.AudioDevice{}

	opts := player.DefaultOptions()
	opts.RingSeconds = 0.5

	s := openSession(t, "x", deps, opts)
	defer s.Close()

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// 96000 bytes hold 23 packets; the rest is dropped one stall at a time.
	if res.Presented != 90 {
		t.Errorf("video must not freeze behind a stalled device, got %d frames", res.Presented)
	}
	if res.AudioOverflows != 118 {
		t.Errorf("expected 118 dropped packets, got %d", res.AudioOverflows)
	}
	if pushed := s.Ring().Stats().Pushed; pushed != 23*audioPacketBytes {
		t.Errorf("expected %d bytes pushed, got %d", 23*audioPacketBytes, pushed)
	}
	warned := false
	for _, m := range log.Messages(ports.LevelWarn) {
		if strings.Contains(m, "stalled") {
			warned = true
		}
	}
	if !warned {
		t.Error("expected a stall warning")
	}
}

func TestAudioIgnoredWithoutDevice(t *testing.T) {
	src := mockSource(5, 1, true)
	deps, factory, _, _ := mockDeps(src)

	res := openAndRun(t, "x", deps, player.DefaultOptions())

	if res.Presented != 5 {
		t.Errorf("expected 5 frames, got %d", res.Presented)
	}
	if factory.Audio != nil {
		t.Error("no audio decoder should be created without a device")
	}
	if res.Audio != nil {
		t.Error("expected no audio stream info in the result")
	}
}

func TestPresenterCloseStopsPlayback(t *testing.T) {
	src := mockSource(30, 1, false)
	deps, _, presenter, _ := mockDeps(src)
	presenter.CloseAfter = 5

	s := openSession(t, "x", deps, player.DefaultOptions())

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if res.Stop != player.StopClosed || res.Presented != 5 {
		t.Errorf("expected close after 5 frames, got %v after %d", res.Stop, res.Presented)
	}
	if !presenter.CloseCalled || !src.CloseCalled {
		t.Error("expected presenter and source to be closed")
	}
	if n := len(presenter.Positions); n != 5 {
		t.Errorf("expected 5 recorded positions, got %d", n)
	}
}

func TestCancelledContextStopsPlayback(t *testing.T) {
	src := mockSource(30, 1, false)
	deps, _, _, _ := mockDeps(src)

	s := openSession(t, "x", deps, player.DefaultOptions())
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Stop != player.StopCancelled || res.Presented != 0 {
		t.Errorf("expected cancellation before any frame, got %v after %d", res.Stop, res.Presented)
	}
}

func TestAudioDeviceFailureEndsRun(t *testing.T) {
	src := mockSource(30, 1, true)
	deps, _, _, _ := mockDeps(src)
	deps.Audio = &mocks.AudioDevice{StartFunc: func(context.Context) error { return errors.New("device lost") }}

	s := openSession(t, "x", deps, player.DefaultOptions())
	defer s.Close()

	_, err := s.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "device lost") {
		t.Errorf("expected the device error, got %v", err)
	}
}
