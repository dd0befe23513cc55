// Package tssource reads H.264/H.265 video and AAC audio from MPEG-TS streams.
package tssource

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

// StdinPath selects standard input as the source.
const StdinPath = "-"

// TimeBase is the MPEG-TS clock.
var TimeBase = pipeline.Rational{Num: 1, Den: 90000}

const (
	packetSize = 188
	readBuffer = packetSize * 64

	// maxTablePackets bounds the leading PAT/PMT run kept for seeking.
	maxTablePackets = 16
)

// keyframe is a random access point: its shifted pts and a packet-aligned
// byte offset at or before the start of its PES.
type keyframe struct {
	pts    int64
	offset int64
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Source demuxes an MPEG-TS stream. Timestamps are shifted so that the first
// video access unit is at zero.
type Source struct {
	file   ports.ReadSeekCloser
	reader *mpegts.Reader
	log    ports.Logger

	streams []pipeline.StreamInfo
	video   int
	audio   int

	queue   []*pipeline.Packet
	eof     bool
	base    int64
	hasBase bool

	keyframes []keyframe
	duration  time.Duration

	// tables holds the packets before the first elementary stream packet.
	// They are replayed ahead of a seek offset so the reader can initialize.
	tables []byte

	// After a seek: video is dropped until a keyframe at or after videoFrom,
	// audio access units ending at or before audioFloor are dropped.
	waitKey    bool
	videoFrom  int64
	audioFloor int64
	filtering  bool
}

// Open opens a TS file, or standard input when path is StdinPath.
func Open(fs ports.FileSystem, path string, log ports.Logger) (*Source, error) {
	if path == StdinPath {
		return New(os.Stdin, nil, log)
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	s, err := New(f, f, log)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// New creates a source reading from r. When file is non-nil the stream is
// pre-scanned for duration and keyframes and becomes seekable; file must be
// the same stream as r.
func New(r io.Reader, file ports.ReadSeekCloser, log ports.Logger) (*Source, error) {
	s := &Source{
		file:  file,
		log:   log.WithComponent("tssource"),
		video: -1,
		audio: -1,
	}

	if file != nil {
		if err := s.prescan(); err != nil {
			return nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind: %w", err)
		}
		r = file
	}

	if err := s.start(r, true); err != nil {
		return nil, err
	}
	if err := s.probe(); err != nil {
		return nil, err
	}
	for i := range s.streams {
		s.streams[i].Duration = s.duration
	}

	s.log.Debug("Opened MPEG-TS: %d keyframes, duration %s", len(s.keyframes), s.duration)
	return s, nil
}

// start creates a reader over r and registers track callbacks. Stream
// descriptions are only built on the first start.
func (s *Source) start(r io.Reader, describe bool) error {
	reader := &mpegts.Reader{R: bufio.NewReaderSize(r, readBuffer)}
	if err := reader.Initialize(); err != nil {
		return fmt.Errorf("initialize mpegts reader: %w", err)
	}

	var videoTrack, audioTrack *mpegts.Track
	for _, track := range reader.Tracks() {
		switch codec := track.Codec.(type) {
		case *mpegts.CodecH264, *mpegts.CodecH265:
			if videoTrack != nil {
				continue
			}
			videoTrack = track
			if describe {
				info := pipeline.StreamInfo{
					Kind:        pipeline.KindVideo,
					Codec:       pipeline.CodecH264,
					TimeBase:    TimeBase,
					PixelFormat: pipeline.PixelFormatYUV420P,
				}
				if _, ok := codec.(*mpegts.CodecH265); ok {
					info.Codec = pipeline.CodecH265
				}
				s.addStream(info, &s.video)
			}
		case *mpegts.CodecMPEG4Audio:
			if audioTrack != nil {
				continue
			}
			audioTrack = track
			if describe {
				asc, _ := codec.Config.Marshal()
				s.addStream(pipeline.StreamInfo{
					Kind:        pipeline.KindAudio,
					Codec:       pipeline.CodecAAC,
					TimeBase:    TimeBase,
					SampleRate:  codec.Config.SampleRate,
					Channels:    codec.Config.ChannelCount,
					CodecConfig: asc,
				}, &s.audio)
			}
		}
	}

	if videoTrack == nil {
		return pipeline.ErrNoVideoStream
	}

	switch videoTrack.Codec.(type) {
	case *mpegts.CodecH264:
		reader.OnDataH264(videoTrack, func(pts, dts int64, au [][]byte) error {
			return s.onVideo(pts, dts, au, h264.IsRandomAccess(au))
		})
	case *mpegts.CodecH265:
		reader.OnDataH265(videoTrack, func(pts, dts int64, au [][]byte) error {
			return s.onVideo(pts, dts, au, h265.IsRandomAccess(au))
		})
	}
	if audioTrack != nil && s.audio >= 0 {
		reader.OnDataMPEG4Audio(audioTrack, s.onAudio)
	}
	reader.OnDecodeError(func(err error) {
		s.log.Debug("MPEG-TS decode error: %v", err)
	})

	s.reader = reader
	s.eof = false
	s.queue = s.queue[:0]
	return nil
}

func (s *Source) addStream(info pipeline.StreamInfo, slot *int) {
	info.Index = len(s.streams)
	*slot = info.Index
	s.streams = append(s.streams, info)
}

// probe reads until the first video keyframe so that the frame size is known.
// Packets read meanwhile stay queued.
func (s *Source) probe() error {
	v := &s.streams[s.video]
	for v.Width == 0 {
		if err := s.fill(); err != nil {
			if errors.Is(err, pipeline.ErrEndOfStream) {
				return fmt.Errorf("no decodable video access unit: %w", pipeline.ErrNoVideoStream)
			}
			return err
		}
		for _, pkt := range s.queue {
			if pkt.StreamIndex == s.video && pkt.Keyframe {
				s.describeVideo(v, pkt.Data)
				break
			}
		}
	}
	return nil
}

func (s *Source) describeVideo(v *pipeline.StreamInfo, annexB []byte) {
	var au h264.AnnexB
	if err := au.Unmarshal(annexB); err != nil {
		return
	}
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch v.Codec {
		case pipeline.CodecH264:
			if h264.NALUType(nalu[0]&0x1F) != h264.NALUTypeSPS {
				continue
			}
			var sps h264.SPS
			if err := sps.Unmarshal(nalu); err != nil {
				continue
			}
			v.Width, v.Height = sps.Width(), sps.Height()
			if fps := sps.FPS(); fps > 0 {
				v.FrameRate = pipeline.Rational{Num: int64(fps * 1000), Den: 1000}
			}
		case pipeline.CodecH265:
			if h265.NALUType((nalu[0]>>1)&0x3F) != h265.NALUType_SPS_NUT {
				continue
			}
			var sps h265.SPS
			if err := sps.Unmarshal(nalu); err != nil {
				continue
			}
			v.Width, v.Height = sps.Width(), sps.Height()
		}
	}
}

// prescan reads the whole file once to find its duration and keyframes.
func (s *Source) prescan() error {
	var first, last int64
	var seen bool
	var count int64
	var keyframes []keyframe

	cr := &countingReader{r: s.file}
	reader := &mpegts.Reader{R: bufio.NewReaderSize(cr, readBuffer)}
	if err := reader.Initialize(); err != nil {
		return fmt.Errorf("initialize mpegts reader: %w", err)
	}

	// An access unit is delivered once the next PES on its PID starts, so
	// the byte count at the previous delivery is just past the start of
	// this one. Two read buffers of slack cover the reader's lookahead.
	var prevAt int64
	record := func(pts int64, key bool) {
		if !seen {
			first, last, seen = pts, pts, true
		}
		first = min(first, pts)
		last = max(last, pts)
		count++
		if key {
			off := max(prevAt-2*readBuffer, 0)
			keyframes = append(keyframes, keyframe{pts: pts, offset: off - off%packetSize})
		}
		prevAt = cr.n
	}

	var found bool
	var pids []uint16
	for _, track := range reader.Tracks() {
		if _, ok := track.Codec.(*mpegts.CodecMPEG4Audio); ok {
			pids = append(pids, uint16(track.PID))
		}
		if found {
			continue
		}
		switch track.Codec.(type) {
		case *mpegts.CodecH264:
			found = true
			pids = append(pids, uint16(track.PID))
			reader.OnDataH264(track, func(pts, _ int64, au [][]byte) error {
				record(pts, h264.IsRandomAccess(au))
				return nil
			})
		case *mpegts.CodecH265:
			found = true
			pids = append(pids, uint16(track.PID))
			reader.OnDataH265(track, func(pts, _ int64, au [][]byte) error {
				record(pts, h265.IsRandomAccess(au))
				return nil
			})
		}
	}
	if !found {
		return pipeline.ErrNoVideoStream
	}
	reader.OnDecodeError(func(error) {})

	for {
		if err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("scan mpegts: %w", err)
		}
	}
	if !seen {
		return fmt.Errorf("no video access units: %w", pipeline.ErrNoVideoStream)
	}

	sort.Slice(keyframes, func(i, j int) bool { return keyframes[i].pts < keyframes[j].pts })
	s.keyframes = make([]keyframe, len(keyframes))
	for i, k := range keyframes {
		s.keyframes[i] = keyframe{pts: k.pts - first, offset: k.offset}
	}
	if err := s.readTables(pids); err != nil {
		return err
	}

	// The last access unit lasts one average frame interval.
	span := last - first
	if count > 1 {
		span += span / (count - 1)
	}
	s.base, s.hasBase = first, true
	s.duration = TimeBase.Duration(span)
	return nil
}

// readTables keeps the packets that precede the first packet on any of pids.
func (s *Source) readTables(pids []uint16) error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind: %w", err)
	}
	r := bufio.NewReaderSize(s.file, readBuffer)
	s.tables = s.tables[:0]
	var pkt [packetSize]byte
	for i := 0; i < maxTablePackets; i++ {
		if _, err := io.ReadFull(r, pkt[:]); err != nil || pkt[0] != 0x47 {
			break
		}
		pid := uint16(pkt[1]&0x1f)<<8 | uint16(pkt[2])
		if slices.Contains(pids, pid) {
			break
		}
		s.tables = append(s.tables, pkt[:]...)
	}
	return nil
}

func (s *Source) onVideo(pts, dts int64, au [][]byte, key bool) error {
	if !s.hasBase {
		s.base, s.hasBase = pts, true
	}
	pts -= s.base
	dts -= s.base

	if s.filtering && s.waitKey {
		if !key || pts < s.videoFrom {
			return nil
		}
		s.waitKey = false
	}

	data, err := h264.AnnexB(au).Marshal()
	if err != nil || len(data) == 0 {
		return nil
	}

	s.queue = append(s.queue, &pipeline.Packet{
		StreamIndex: s.video,
		Data:        data,
		PTS:         pts,
		DTS:         dts,
		Keyframe:    key,
		Pos:         -1,
	})
	return nil
}

func (s *Source) onAudio(pts int64, aus [][]byte) error {
	if !s.hasBase {
		return nil
	}
	rate := s.streams[s.audio].SampleRate
	if rate <= 0 {
		rate = 48000
	}
	// Each AAC access unit carries 1024 samples.
	frameDur := int64(1024) * TimeBase.Den / int64(rate)

	pts -= s.base
	for _, au := range aus {
		if len(au) > 0 && !(s.filtering && pts+frameDur <= s.audioFloor) {
			s.queue = append(s.queue, &pipeline.Packet{
				StreamIndex: s.audio,
				Data:        au,
				PTS:         pts,
				DTS:         pts,
				Duration:    frameDur,
				Keyframe:    true,
				Pos:         -1,
			})
		}
		pts += frameDur
	}
	return nil
}

// fill reads until at least one packet is queued.
func (s *Source) fill() error {
	start := len(s.queue)
	for len(s.queue) == start {
		if s.eof {
			return pipeline.ErrEndOfStream
		}
		if err := s.reader.Read(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.eof = true
				continue
			}
			return fmt.Errorf("read mpegts: %w", err)
		}
	}
	return nil
}

// Streams returns the selected streams.
func (s *Source) Streams() []pipeline.StreamInfo {
	return s.streams
}

// Video returns the selected video stream.
func (s *Source) Video() pipeline.StreamInfo {
	return s.streams[s.video]
}

// Audio returns the selected audio stream, if any.
func (s *Source) Audio() (pipeline.StreamInfo, bool) {
	if s.audio < 0 {
		return pipeline.StreamInfo{}, false
	}
	return s.streams[s.audio], true
}

// Duration returns the pre-scanned duration, or zero for standard input.
func (s *Source) Duration() time.Duration {
	return s.duration
}

// NextPacket returns the next demuxed packet.
func (s *Source) NextPacket() (*pipeline.Packet, error) {
	if len(s.queue) == 0 {
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
	pkt := s.queue[0]
	s.queue = s.queue[1:]
	return pkt, nil
}

// Seek restarts demuxing from the byte offset of the keyframe at or before
// target. Audio resumes with the access unit playing at target.
func (s *Source) Seek(target time.Duration) error {
	if s.file == nil || len(s.keyframes) == 0 {
		return pipeline.ErrSeekUnsupported
	}

	ticks := TimeBase.Ticks(target)
	i := sort.Search(len(s.keyframes), func(i int) bool { return s.keyframes[i].pts > ticks })
	key := s.keyframes[max(i-1, 0)]

	if _, err := s.file.Seek(key.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to keyframe: %w", err)
	}
	var r io.Reader = s.file
	if key.offset > 0 {
		r = io.MultiReader(bytes.NewReader(s.tables), s.file)
	}
	if err := s.start(r, false); err != nil {
		return err
	}

	s.filtering = true
	s.waitKey = true
	s.videoFrom = key.pts
	s.audioFloor = ticks
	s.log.Debug("Seek %s: keyframe at %s, byte %d", target, TimeBase.Duration(key.pts), key.offset)
	return nil
}

// Close releases the underlying file.
func (s *Source) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

var _ ports.Source = (*Source)(nil)
