package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/warpplayer/pkg/clock"
	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ringbuffer"
)

// loopState is owned by the playback goroutine.
type loopState struct {
	// frame is decoded and waiting for its presentation time.
	frame    *pipeline.VideoFrame
	framePTS time.Duration

	// Packets refused with ErrBackpressure, retried before reading more.
	pendingVideo *pipeline.Packet
	pendingAudio *pipeline.Packet

	// sourceDone is set once the source hit end of stream and both
	// decoders were told to drain.
	sourceDone bool
	audioDone  bool

	anchored bool
	position time.Duration
	lastPTS  time.Duration
	hasLast  bool

	// audioEnd is the pts just past the last sample pushed to the ring.
	audioEnd    time.Duration
	hasAudioEnd bool

	// heldAudio is decoded audio the bounded ring refused. Nothing more is
	// read from the source until it fits.
	heldAudio  *heldPCM
	stalled    bool
	stallSince time.Duration
	stallLen   int
}

type heldPCM struct {
	data   []byte
	end    time.Duration
	hasEnd bool
}

// errAudioFull reports that the source cannot advance until the audio
// device makes room in the ring.
var errAudioFull = errors.New("player: audio ring full")

// stallTimeout is how long a full ring may go without the device pulling
// before held audio is dropped.
const stallTimeout = time.Second

// Run plays until end of stream, cancellation of ctx, or the presenter asking
// to close. All three are normal termination. The audio device and controls
// run on their own goroutines for the duration of the call.
func (s *Session) Run(ctx context.Context) (Result, error) {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stop := context.WithCancel(gctx)
	defer stop()

	if s.device != nil {
		g.Go(func() error {
			if err := s.device.Start(loopCtx); err != nil {
				s.log.Error("Audio device stopped: %s", err)
				return fmt.Errorf("audio device: %w", err)
			}
			return nil
		})
	}
	if s.controls != nil {
		g.Go(func() error {
			return s.controls.Run(loopCtx)
		})
	}
	g.Go(func() error {
		defer stop()
		return s.loop(loopCtx)
	})

	err := g.Wait()

	s.result.WallTime = time.Since(start)
	if s.ring != nil {
		s.result.Underruns = s.ring.Stats().Underruns
	}
	s.result.DriftCorrections = s.clock.Corrections()
	if err != nil {
		return s.result, err
	}
	s.log.Info("Playback finished: %d frames presented, %d dropped", s.result.Presented, s.result.Dropped)
	return s.result, nil
}

func (s *Session) loop(ctx context.Context) error {
	st := &s.state
	st.anchored = false

	for {
		if ctx.Err() != nil {
			s.result.Stop = StopCancelled
			return nil
		}
		if s.presenter.ShouldClose() {
			s.result.Stop = StopClosed
			return nil
		}

		s.serviceSeek()

		if st.frame == nil {
			f, err := s.nextVideoFrame()
			if errors.Is(err, errAudioFull) {
				if s.wait(ctx, maxWait) != nil {
					s.result.Stop = StopCancelled
					return nil
				}
				s.updateControls()
				continue
			}
			if errors.Is(err, pipeline.ErrEndOfStream) {
				s.finishAudio(ctx)
				s.playout(ctx)
				s.log.Info("End of stream")
				s.result.Stop = StopEndOfStream
				return nil
			}
			if err != nil {
				return err
			}
			st.frame = f
			st.framePTS = s.framePTS(f)
		}

		now := s.clock.Now()
		if !st.anchored {
			s.clock.Rebase(now, st.framePTS)
			st.anchored = true
		}
		if st.hasAudioEnd && s.clock.Correct(s.audioPosition(), now) {
			s.log.Debug("Re-anchored clock to audio at %v", s.audioPosition())
		}

		d := s.clock.Decide(st.framePTS, now)
		switch d.Action {
		case clock.Wait:
			if err := s.wait(ctx, d.Wait); err != nil {
				s.result.Stop = StopCancelled
				return nil
			}
		case clock.Drop:
			s.result.Dropped++
			st.frame = nil
		case clock.Present:
			if err := s.present(); err != nil {
				return err
			}
		}

		s.updateControls()
	}
}

func (s *Session) updateControls() {
	if s.controls == nil {
		return
	}
	s.controls.Update(s.state.position, s.duration)
	if p, ok := s.controls.PollSeek(); ok {
		target := s.seek.RequestPercent(p, s.duration)
		s.log.Info("Seeking to %.1f%%", p)
		s.log.Debug("Seek target %v", target)
	}
}

func (s *Session) serviceSeek() {
	out := s.seek.Service(s)
	if !out.Serviced {
		return
	}
	if out.Err != nil {
		s.result.FailedSeeks++
		s.log.Warn("Seek failed: %s", out.Err)
		return
	}
	s.result.Seeks++
}

func (s *Session) present() error {
	st := &s.state
	frame := st.frame
	st.frame = nil

	planar, err := s.conv.Convert(frame)
	if err != nil {
		return fmt.Errorf("convert frame: %w", err)
	}
	planar.PTS = st.framePTS

	if s.display != nil {
		s.display.SetPosition(st.framePTS, s.duration)
	}
	if err := s.presenter.Present(planar); err != nil {
		return fmt.Errorf("present frame: %w", err)
	}

	st.position = st.framePTS
	s.result.Presented++
	s.result.LastPosition = st.framePTS
	if s.opts.TracePTS {
		s.result.Trace = append(s.result.Trace, st.framePTS)
	}
	return nil
}

func (s *Session) wait(ctx context.Context, d time.Duration) error {
	if d > maxWait {
		d = maxWait
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.Source().After(d):
		return nil
	}
}

// framePTS returns the frame's timestamp, extrapolating from the previous
// frame when the decoder could not provide one.
func (s *Session) framePTS(f *pipeline.VideoFrame) time.Duration {
	st := &s.state
	pts := f.PTS
	if !f.HasPTS {
		pts = 0
		if st.hasLast {
			pts = st.lastPTS + s.frameDuration()
		}
	}
	st.lastPTS, st.hasLast = pts, true
	return pts
}

func (s *Session) frameDuration() time.Duration {
	if fr := s.video.FrameRate; fr.Valid() {
		return time.Duration(int64(time.Second) * fr.Den / fr.Num)
	}
	return s.opts.Clock.Cadence
}

// nextVideoFrame receives from the video decoder, reading and routing source
// packets whenever it needs more input.
func (s *Session) nextVideoFrame() (*pipeline.VideoFrame, error) {
	st := &s.state
	for {
		f, err := s.vdec.Receive()
		switch {
		case err == nil:
			return f, nil
		case errors.Is(err, pipeline.ErrEndOfStream):
			// A flushed stage keeps reporting a drain until it is fed again.
			if st.sourceDone {
				return nil, pipeline.ErrEndOfStream
			}
		case errors.Is(err, pipeline.ErrNeedMorePackets):
		default:
			if !s.skipPacketError(err) {
				return nil, fmt.Errorf("decode video: %w", err)
			}
			continue
		}

		if st.sourceDone {
			return nil, pipeline.ErrEndOfStream
		}
		if err := s.feed(); err != nil {
			return nil, err
		}
	}
}

// feed moves one packet from the source, or a previously refused packet,
// into its decoder.
func (s *Session) feed() error {
	st := &s.state

	if st.heldAudio != nil {
		if !s.releaseHeldAudio() {
			return s.audioStalled()
		}
		s.receiveAudio()
		return nil
	}
	if st.pendingVideo != nil {
		pkt := st.pendingVideo
		st.pendingVideo = nil
		return s.sendVideo(pkt)
	}
	if st.pendingAudio != nil {
		pkt := st.pendingAudio
		st.pendingAudio = nil
		s.receiveAudio()
		return s.sendAudio(pkt)
	}

	pkt, err := s.src.NextPacket()
	if errors.Is(err, pipeline.ErrEndOfStream) {
		st.sourceDone = true
		if err := s.vdec.Send(nil); err != nil {
			return fmt.Errorf("drain video decoder: %w", err)
		}
		if s.adec != nil {
			if err := s.adec.Send(nil); err != nil {
				return fmt.Errorf("drain audio decoder: %w", err)
			}
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read packet: %w", err)
	}

	switch {
	case pkt.StreamIndex == s.video.Index:
		return s.sendVideo(pkt)
	case s.adec != nil && pkt.StreamIndex == s.audio.Index:
		return s.sendAudio(pkt)
	}
	return nil
}

func (s *Session) sendVideo(pkt *pipeline.Packet) error {
	err := s.vdec.Send(pkt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrBackpressure):
		s.state.pendingVideo = pkt
		return nil
	case s.skipPacketError(err):
		return nil
	}
	return fmt.Errorf("send video packet: %w", err)
}

func (s *Session) sendAudio(pkt *pipeline.Packet) error {
	err := s.adec.Send(pkt)
	switch {
	case err == nil:
		s.receiveAudio()
		return nil
	case errors.Is(err, pipeline.ErrBackpressure):
		s.state.pendingAudio = pkt
		return nil
	case s.skipPacketError(err):
		return nil
	}
	return fmt.Errorf("send audio packet: %w", err)
}

// receiveAudio moves every available audio frame into the ring. It stops
// early when the ring refuses a frame.
func (s *Session) receiveAudio() {
	if !s.releaseHeldAudio() {
		return
	}
	for {
		f, err := s.adec.Receive()
		switch {
		case err == nil:
			if !s.pushAudio(f) {
				return
			}
		case errors.Is(err, pipeline.ErrEndOfStream):
			if s.state.sourceDone {
				s.state.audioDone = true
			}
			return
		case errors.Is(err, pipeline.ErrNeedMorePackets):
			return
		case s.skipPacketError(err):
		default:
			s.log.Warn("Audio decoder failed: %s", err)
			s.state.audioDone = true
			return
		}
	}
}

// pushAudio appends a decoded frame to the ring. A frame refused by a
// bounded ring is copied and held; it returns false in that case.
func (s *Session) pushAudio(f *pipeline.AudioFrame) bool {
	held := heldPCM{data: f.Data}
	if f.HasPTS && f.SampleRate > 0 {
		held.end = f.PTS + time.Duration(int64(f.Samples)*int64(time.Second)/int64(f.SampleRate))
		held.hasEnd = true
	}
	if err := s.ring.Push(held.data); err != nil {
		if !errors.Is(err, ringbuffer.ErrOverflow) {
			return true
		}
		held.data = bytes.Clone(f.Data)
		s.state.heldAudio = &held
		return false
	}
	s.noteAudioEnd(held)
	return true
}

// releaseHeldAudio retries the held frame. It returns false while the ring
// is still full.
func (s *Session) releaseHeldAudio() bool {
	st := &s.state
	if st.heldAudio == nil {
		return true
	}
	if err := s.ring.Push(st.heldAudio.data); err != nil {
		return false
	}
	s.noteAudioEnd(*st.heldAudio)
	st.heldAudio = nil
	st.stalled = false
	return true
}

func (s *Session) noteAudioEnd(h heldPCM) {
	if h.hasEnd {
		s.state.audioEnd = h.end
		s.state.hasAudioEnd = true
	}
}

// audioStalled returns errAudioFull while the device keeps draining the
// ring. Once the ring has not shrunk for stallTimeout the held frame is
// dropped and counted, so a device that stopped pulling cannot freeze video.
func (s *Session) audioStalled() error {
	st := &s.state
	now := s.clock.Now()
	n := s.ring.Len()
	if !st.stalled || n < st.stallLen {
		st.stalled, st.stallSince, st.stallLen = true, now, n
	}
	if now-st.stallSince < stallTimeout {
		return errAudioFull
	}
	if s.result.AudioOverflows == 0 {
		s.log.Warn("Audio device stalled, dropping audio")
	}
	s.result.AudioOverflows++
	st.heldAudio = nil
	st.stalled = false
	return nil
}

// drainAudio moves the rest of a drained audio stage into the ring.
func (s *Session) drainAudio() {
	if s.adec == nil || !s.state.sourceDone {
		return
	}
	if s.state.audioDone {
		s.releaseHeldAudio()
		return
	}
	s.receiveAudio()
}

// finishAudio drains the audio stage at end of stream, waiting for room
// whenever the ring is full.
func (s *Session) finishAudio(ctx context.Context) {
	for {
		s.drainAudio()
		if s.state.heldAudio == nil {
			return
		}
		if s.audioStalled() == nil {
			continue
		}
		if s.wait(ctx, maxWait) != nil {
			return
		}
	}
}

// playout waits for the device to consume buffered audio, bounded by the
// buffered duration.
func (s *Session) playout(ctx context.Context) {
	if s.ring == nil || s.device == nil {
		return
	}
	bps := s.spec.SampleRate * s.spec.BytesPerFrame()
	pending := s.ring.Len()
	if pending == 0 || bps <= 0 {
		return
	}
	deadline := s.clock.Now() + time.Duration(int64(pending)*int64(time.Second)/int64(bps)) + maxWait
	for s.ring.Len() > 0 && s.clock.Now() < deadline {
		if s.wait(ctx, maxWait) != nil {
			return
		}
	}
}

// audioPosition estimates the media time the audio device is playing now.
func (s *Session) audioPosition() time.Duration {
	buffered := s.ring.Len()
	bps := s.spec.SampleRate * s.spec.BytesPerFrame()
	if bps <= 0 {
		return s.state.audioEnd
	}
	return s.state.audioEnd - time.Duration(int64(buffered)*int64(time.Second)/int64(bps))
}

// skipPacketError logs and counts recoverable packet errors. It returns
// false for any other error.
func (s *Session) skipPacketError(err error) bool {
	var pe *pipeline.PacketError
	if !errors.As(err, &pe) {
		return false
	}
	s.result.PacketErrors++
	s.log.Warn("Skipping undecodable packet: %s", err)
	return true
}

// SeekSource implements seek.Repositioner.
func (s *Session) SeekSource(target time.Duration) error {
	return s.src.Seek(target)
}

// FlushDecoders implements seek.Repositioner. Refused packets and the frame
// waiting for presentation are discarded with the decoder state.
func (s *Session) FlushDecoders() {
	st := &s.state
	s.vdec.Flush()
	if s.adec != nil {
		s.adec.Flush()
	}
	st.frame = nil
	st.pendingVideo = nil
	st.pendingAudio = nil
	st.sourceDone = false
	st.audioDone = false
	st.hasLast = false
	st.hasAudioEnd = false
	st.heldAudio = nil
	st.stalled = false
}

// ResetAudio implements seek.Repositioner.
func (s *Session) ResetAudio() {
	if s.ring != nil {
		s.ring.Reset()
	}
}

// Rebase implements seek.Repositioner.
func (s *Session) Rebase(target time.Duration) {
	s.clock.Rebase(s.clock.Now(), target)
	s.state.anchored = true
	s.state.position = target
	s.log.Debug("Rebased clock to %v", target)
}
