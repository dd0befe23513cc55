// Package testclip generates small media files for tests: fragmented MP4,
// MPEG-TS and YUV4MPEG2 clips with a known frame and keyframe layout.
package testclip

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/aac"
	"github.com/Eyevinn/mp4ff/av1"
	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/user/warpplayer/pkg/adapters/y4msource"
	"github.com/user/warpplayer/pkg/pipeline"
)

// SPS352x288 is a valid H.264 sequence parameter set for a 352x288 picture.
var SPS352x288 = []byte{
	0x67, 0x64, 0x00, 0x0c, 0xac, 0x3b, 0x50, 0xb0,
	0x4b, 0x42, 0x00, 0x00, 0x03, 0x00, 0x02, 0x00,
	0x00, 0x03, 0x00, 0x3d, 0x08,
}

var pps = []byte{0x68, 0xee, 0x3c, 0x80}

// Clip describes the layout of a generated clip.
type Clip struct {
	Width  int
	Height int
	FPS    int
	Frames int
	// GOP is the keyframe interval in frames. Zero makes every frame a keyframe.
	GOP int
	// AudioRate enables an AAC track at the given sample rate.
	AudioRate int
	Format    pipeline.PixelFormat
}

// Default returns a 10 second, 30 fps, 64x48 video-only clip.
func Default() Clip {
	return Clip{Width: 64, Height: 48, FPS: 30, Frames: 300, GOP: 45}
}

// IsKeyframe reports whether frame i starts a GOP.
func (c Clip) IsKeyframe(i int) bool {
	return c.GOP <= 0 || i%c.GOP == 0
}

// FramePayload returns the synthetic compressed payload of frame i.
func FramePayload(i int) []byte {
	return []byte{0x32, 0x02, byte(i >> 8), byte(i)}
}

// MP4 builds a fragmented MP4 with an av01 video track, one fragment per GOP,
// and an optional AAC track fragmented alongside.
func MP4(c Clip) ([]byte, error) {
	timescale := uint32(c.FPS * 1000)
	frameDur := uint32(1000)

	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(timescale, "video", "en")
	vtrak := init.Moov.Traks[0]

	av1C := &mp4.Av1CBox{
		CodecConfRec: av1.CodecConfRec{
			Version:            1,
			SeqLevelIdx0:       8,
			ChromaSubsamplingX: 1,
			ChromaSubsamplingY: 1,
			ConfigOBUs:         []byte{0x0a, 0x0b, 0x00, 0x00, 0x00, 0x24, 0xc4, 0xff, 0xdf, 0x00, 0x68, 0x02},
		},
	}
	av01 := mp4.CreateVisualSampleEntryBox("av01", uint16(c.Width), uint16(c.Height), av1C)
	vtrak.Mdia.Minf.Stbl.Stsd.AddChild(av01)
	vtrak.Tkhd.Width = mp4.Fixed32(c.Width << 16)
	vtrak.Tkhd.Height = mp4.Fixed32(c.Height << 16)

	var atrak *mp4.TrakBox
	if c.AudioRate > 0 {
		init.AddEmptyTrack(uint32(c.AudioRate), "audio", "en")
		atrak = init.Moov.Traks[1]
		if err := atrak.SetAACDescriptor(aac.AAClc, c.AudioRate); err != nil {
			return nil, fmt.Errorf("set aac descriptor: %w", err)
		}
	}

	var buf bytes.Buffer
	ftyp := mp4.NewFtyp("isom", 0x200, []string{"isom", "iso6", "av01", "mp41"})
	if err := ftyp.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode ftyp: %w", err)
	}
	if err := init.Moov.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode moov: %w", err)
	}

	gop := c.GOP
	if gop <= 0 {
		gop = c.FPS
	}

	seq := uint32(1)
	var audioTime uint64
	for start := 0; start < c.Frames; start += gop {
		end := min(start+gop, c.Frames)

		frag, err := mp4.CreateFragment(seq, vtrak.Tkhd.TrackID)
		if err != nil {
			return nil, fmt.Errorf("create fragment: %w", err)
		}
		seq++
		for i := start; i < end; i++ {
			flags := mp4.NonSyncSampleFlags
			if c.IsKeyframe(i) {
				flags = mp4.SyncSampleFlags
			}
			data := FramePayload(i)
			frag.AddFullSample(mp4.FullSample{
				Sample:     mp4.Sample{Flags: flags, Size: uint32(len(data)), Dur: frameDur},
				DecodeTime: uint64(i) * uint64(frameDur),
				Data:       data,
			})
		}
		if err := frag.Encode(&buf); err != nil {
			return nil, fmt.Errorf("encode fragment: %w", err)
		}

		if atrak == nil {
			continue
		}
		afrag, err := mp4.CreateFragment(seq, atrak.Tkhd.TrackID)
		if err != nil {
			return nil, fmt.Errorf("create fragment: %w", err)
		}
		seq++
		// Audio time in samples up to the end of this GOP.
		limit := uint64(end) * uint64(c.AudioRate) / uint64(c.FPS)
		for audioTime < limit {
			data := []byte{0x21, 0x10, 0x04, byte(audioTime >> 10)}
			afrag.AddFullSample(mp4.FullSample{
				Sample:     mp4.Sample{Flags: mp4.SyncSampleFlags, Size: uint32(len(data)), Dur: 1024},
				DecodeTime: audioTime,
				Data:       data,
			})
			audioTime += 1024
		}
		if err := afrag.Encode(&buf); err != nil {
			return nil, fmt.Errorf("encode fragment: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// MPEGTS builds a transport stream with H.264 video, using synthetic slices
// behind a real parameter set, and optional AAC audio. Width and Height are
// ignored: the picture size comes from SPS352x288.
func MPEGTS(c Clip) ([]byte, error) {
	var buf bytes.Buffer

	video := &mpegts.Track{PID: 256, Codec: &mpegts.CodecH264{}}
	tracks := []*mpegts.Track{video}

	var audio *mpegts.Track
	if c.AudioRate > 0 {
		audio = &mpegts.Track{
			PID: 257,
			Codec: &mpegts.CodecMPEG4Audio{Config: mpeg4audio.AudioSpecificConfig{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   c.AudioRate,
				ChannelCount: 2,
			}},
		}
		tracks = append(tracks, audio)
	}

	w := &mpegts.Writer{W: &buf, Tracks: tracks}
	if err := w.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize mpegts writer: %w", err)
	}

	const startPTS = 90000
	frameTicks := int64(90000 / c.FPS)
	audioTicks := int64(1024 * 90000 / max(c.AudioRate, 1))
	audioPTS := int64(startPTS)

	for i := 0; i < c.Frames; i++ {
		pts := startPTS + int64(i)*frameTicks
		var au [][]byte
		if c.IsKeyframe(i) {
			au = [][]byte{SPS352x288, pps, {0x65, 0x88, byte(i >> 8), byte(i)}}
		} else {
			au = [][]byte{{0x41, 0x9a, byte(i >> 8), byte(i)}}
		}
		if err := w.WriteH264(video, pts, pts, au); err != nil {
			return nil, fmt.Errorf("write h264: %w", err)
		}

		for audio != nil && audioPTS <= pts {
			if err := w.WriteMPEG4Audio(audio, audioPTS, [][]byte{{0x21, 0x10, 0x04, byte(i)}}); err != nil {
				return nil, fmt.Errorf("write aac: %w", err)
			}
			audioPTS += audioTicks
		}
	}

	return buf.Bytes(), nil
}

// Y4M builds a raw YUV4MPEG2 clip. The luma of frame i is i modulo 256 plus
// the column index; chroma planes are constant.
func Y4M(c Clip) ([]byte, error) {
	var buf bytes.Buffer
	h := y4msource.Header{
		Width:     c.Width,
		Height:    c.Height,
		FrameRate: pipeline.Rational{Num: int64(c.FPS), Den: 1},
		Format:    c.Format,
	}
	if err := y4msource.WriteHeader(&buf, h); err != nil {
		return nil, err
	}

	size := h.FrameSize()
	luma := c.Width * c.Height
	frame := make([]byte, size)
	for i := 0; i < c.Frames; i++ {
		for p := 0; p < luma; p++ {
			frame[p] = byte(i + p%c.Width)
		}
		for p := luma; p < size; p++ {
			frame[p] = 128
		}
		if err := y4msource.WriteFrame(&buf, frame); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
