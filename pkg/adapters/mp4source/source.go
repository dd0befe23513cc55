// Package mp4source reads packets from progressive and fragmented ISO-BMFF files.
package mp4source

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/samber/lo"

	"github.com/user/warpplayer/pkg/adapters/codecdetect"
	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

// sampleIsNonSync is the sample_is_non_sync_sample bit of ISO-BMFF sample flags.
const sampleIsNonSync = 0x00010000

type sample struct {
	stream int
	offset int64
	data   []byte
	size   uint32
	dts    int64
	pts    int64
	dur    int64
	sync   bool
}

type track struct {
	id       uint32
	info     pipeline.StreamInfo
	lengthPf bool // samples are length-prefixed NAL units
	trex     *mp4.TrexBox
}

// Source reads samples of one video track and at most one audio track in
// container order.
type Source struct {
	r       io.ReadSeeker
	closer  io.Closer
	log     ports.Logger
	tracks  []track
	streams []pipeline.StreamInfo
	video   int
	audio   int

	samples  []sample
	cursor   int
	duration time.Duration

	// After a seek: video samples before syncIndex and audio samples ending
	// at or before audioFloor (in stream ticks) are not emitted.
	syncIndex  int
	audioFloor int64
	hasFloor   bool
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

// New indexes an MP4 file read from r.
func New(r io.ReadSeeker, log ports.Logger) (*Source, error) {
	mp4File, err := mp4.DecodeFile(r)
	if err != nil {
		return nil, fmt.Errorf("decode mp4: %w", err)
	}

	s := &Source{r: r, log: log.WithComponent("mp4source"), video: -1, audio: -1}

	if err := s.selectTracks(mp4File); err != nil {
		return nil, err
	}

	if mp4File.IsFragmented() {
		err = s.indexFragments(mp4File)
	} else {
		err = s.indexProgressive(mp4File)
	}
	if err != nil {
		return nil, err
	}

	s.computeDuration()
	s.log.Debug("Indexed %d samples, fragmented=%v, duration %s", len(s.samples), mp4File.IsFragmented(), s.duration)
	return s, nil
}

func (s *Source) selectTracks(f *mp4.File) error {
	var unsupportedVideo bool
	for _, trak := range codecdetect.Tracks(f) {
		info, ok := codecdetect.TrackInfo(trak)
		if !ok {
			if trak.Mdia != nil && trak.Mdia.Hdlr != nil && trak.Mdia.Hdlr.HandlerType == "vide" {
				unsupportedVideo = true
			}
			continue
		}
		if info.Kind == pipeline.KindVideo && s.video >= 0 {
			continue
		}
		if info.Kind == pipeline.KindAudio && s.audio >= 0 {
			continue
		}

		info.Index = len(s.tracks)
		t := track{
			id:       trak.Tkhd.TrackID,
			info:     info,
			lengthPf: info.Codec == pipeline.CodecH264 || info.Codec == pipeline.CodecH265,
		}
		if f.Init != nil && f.Init.Moov != nil && f.Init.Moov.Mvex != nil {
			t.trex, _ = lo.Find(f.Init.Moov.Mvex.Trexs, func(x *mp4.TrexBox) bool {
				return x.TrackID == t.id
			})
		}

		if info.Kind == pipeline.KindVideo {
			s.video = info.Index
		} else {
			s.audio = info.Index
		}
		s.tracks = append(s.tracks, t)
	}

	if s.video < 0 {
		if unsupportedVideo {
			return pipeline.ErrUnsupportedCodec
		}
		return pipeline.ErrNoVideoStream
	}
	return nil
}

func (s *Source) trackByID(id uint32) (int, bool) {
	for i, t := range s.tracks {
		if t.id == id {
			return i, true
		}
	}
	return -1, false
}

func (s *Source) indexFragments(f *mp4.File) error {
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil {
				continue
			}
			for _, traf := range frag.Moof.Trafs {
				idx, ok := s.trackByID(traf.Tfhd.TrackID)
				if !ok {
					continue
				}

				var decodeTime uint64
				if traf.Tfdt != nil {
					decodeTime = traf.Tfdt.BaseMediaDecodeTime()
				}

				full, err := frag.GetFullSamples(s.tracks[idx].trex)
				if err != nil {
					return fmt.Errorf("get samples: %w", err)
				}

				for _, fs := range full {
					dts := int64(decodeTime)
					s.samples = append(s.samples, sample{
						stream: idx,
						offset: -1,
						data:   fs.Data,
						size:   uint32(len(fs.Data)),
						dts:    dts,
						pts:    dts + int64(fs.CompositionTimeOffset),
						dur:    int64(fs.Dur),
						sync:   fs.Flags&sampleIsNonSync == 0,
					})
					decodeTime += uint64(fs.Dur)
				}
			}
		}
	}
	return nil
}

func (s *Source) indexProgressive(f *mp4.File) error {
	for _, trak := range f.Moov.Traks {
		idx, ok := s.trackByID(trak.Tkhd.TrackID)
		if !ok {
			continue
		}
		stbl := trak.Mdia.Minf.Stbl
		if stbl.Stsz == nil || stbl.Stsc == nil {
			return fmt.Errorf("track %d: missing stsz or stsc box", trak.Tkhd.TrackID)
		}

		syncSamples := make(map[uint32]bool)
		if stbl.Stss != nil {
			for _, nr := range stbl.Stss.SampleNumber {
				syncSamples[nr] = true
			}
		}

		var chunkNr, chunkFirst int
		var offset uint64
		for nr := uint32(1); nr <= stbl.Stsz.SampleNumber; nr++ {
			cn, first, err := stbl.Stsc.ChunkNrFromSampleNr(int(nr))
			if err != nil {
				return fmt.Errorf("get chunk nr: %w", err)
			}
			if cn != chunkNr || first != chunkFirst {
				chunkNr, chunkFirst = cn, first
				offset, err = chunkOffset(stbl, cn)
				if err != nil {
					return err
				}
			}

			size := stbl.Stsz.GetSampleSize(int(nr))

			var dts uint64
			var dur uint32
			if stbl.Stts != nil {
				dts, dur = stbl.Stts.GetDecodeTime(nr)
			}
			var cto int64
			if stbl.Ctts != nil {
				cto = int64(stbl.Ctts.GetCompositionTimeOffset(nr))
			}

			s.samples = append(s.samples, sample{
				stream: idx,
				offset: int64(offset),
				size:   size,
				dts:    int64(dts),
				pts:    int64(dts) + cto,
				dur:    int64(dur),
				sync:   stbl.Stss == nil || syncSamples[nr],
			})
			offset += uint64(size)
		}
	}

	sort.SliceStable(s.samples, func(i, j int) bool {
		return s.samples[i].offset < s.samples[j].offset
	})
	return nil
}

func chunkOffset(stbl *mp4.StblBox, chunkNr int) (uint64, error) {
	switch {
	case stbl.Stco != nil:
		off, err := stbl.Stco.GetOffset(chunkNr)
		if err != nil {
			return 0, fmt.Errorf("get chunk offset: %w", err)
		}
		return off, nil
	case stbl.Co64 != nil:
		if chunkNr < 1 || chunkNr > len(stbl.Co64.ChunkOffset) {
			return 0, fmt.Errorf("chunk nr %d out of range", chunkNr)
		}
		return stbl.Co64.ChunkOffset[chunkNr-1], nil
	default:
		return 0, fmt.Errorf("no stco or co64 box")
	}
}

func (s *Source) computeDuration() {
	var end int64
	for _, smp := range s.samples {
		if smp.stream == s.video && smp.pts+smp.dur > end {
			end = smp.pts + smp.dur
		}
	}
	tb := s.tracks[s.video].info.TimeBase
	s.duration = tb.Duration(end)
	for i := range s.tracks {
		s.tracks[i].info.Duration = s.duration
	}
	s.streams = lo.Map(s.tracks, func(t track, _ int) pipeline.StreamInfo { return t.info })
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

// Duration returns the video track duration.
func (s *Source) Duration() time.Duration {
	return s.duration
}

// NextPacket returns the next sample in container order.
func (s *Source) NextPacket() (*pipeline.Packet, error) {
	for s.cursor < len(s.samples) {
		i := s.cursor
		smp := s.samples[i]
		s.cursor++

		if smp.stream == s.video && i < s.syncIndex {
			continue
		}
		if smp.stream == s.audio && s.hasFloor && smp.pts+smp.dur <= s.audioFloor {
			continue
		}

		data, err := s.sampleData(smp)
		if err != nil {
			return nil, fmt.Errorf("read sample: %w", err)
		}

		return &pipeline.Packet{
			StreamIndex: smp.stream,
			Data:        data,
			PTS:         smp.pts,
			DTS:         smp.dts,
			Duration:    smp.dur,
			Keyframe:    smp.sync,
			Pos:         smp.offset,
		}, nil
	}
	return nil, pipeline.ErrEndOfStream
}

func (s *Source) sampleData(smp sample) ([]byte, error) {
	data := smp.data
	if data == nil {
		if _, err := s.r.Seek(smp.offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek to sample: %w", err)
		}
		data = make([]byte, smp.size)
		if _, err := io.ReadFull(s.r, data); err != nil {
			return nil, err
		}
	}

	if !s.tracks[smp.stream].lengthPf {
		return data, nil
	}

	var au h264.AVCC
	if err := au.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("unmarshal length-prefixed sample: %w", err)
	}
	return h264.AnnexB(au).Marshal()
}

// Seek positions the reader at the last video sync sample whose
// presentation time is at or before target. Audio resumes with the sample
// playing at target, matching the clock rebase.
func (s *Source) Seek(target time.Duration) error {
	tb := s.tracks[s.video].info.TimeBase
	ticks := tb.Ticks(target)

	syncIdx, first := -1, -1
	for i, smp := range s.samples {
		if smp.stream != s.video || !smp.sync {
			continue
		}
		if first < 0 {
			first = i
		}
		if smp.pts <= ticks && (syncIdx < 0 || smp.pts >= s.samples[syncIdx].pts) {
			syncIdx = i
		}
	}
	if first < 0 {
		return pipeline.ErrSeekUnsupported
	}
	if syncIdx < 0 {
		syncIdx = first
	}

	syncTime := tb.Duration(s.samples[syncIdx].pts)
	start := syncIdx
	s.audioFloor, s.hasFloor = 0, false
	if s.audio >= 0 {
		atb := s.tracks[s.audio].info.TimeBase
		s.audioFloor, s.hasFloor = atb.Ticks(target), true
		for i, smp := range s.samples {
			if smp.stream == s.audio && smp.pts+smp.dur > s.audioFloor {
				start = min(start, i)
				break
			}
		}
	}

	s.cursor = start
	s.syncIndex = syncIdx
	s.log.Debug("Seek %s: sync sample at %s", target, syncTime)
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
