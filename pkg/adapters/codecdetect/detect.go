// Package codecdetect identifies container formats and maps ISO-BMFF sample
// entries onto stream descriptions.
package codecdetect

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

// Container identifies a file format.
type Container string

const (
	ContainerMP4     Container = "mp4"
	ContainerMPEGTS  Container = "mpegts"
	ContainerY4M     Container = "y4m"
	ContainerUnknown Container = "unknown"
)

// ErrUnknownContainer is returned when no supported format matches.
var ErrUnknownContainer = errors.New("codecdetect: unknown container format")

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47
	sniffSize    = 3 * tsPacketSize
)

var isoBoxTypes = [][]byte{
	[]byte("ftyp"), []byte("styp"), []byte("moov"), []byte("moof"),
	[]byte("mdat"), []byte("free"), []byte("skip"), []byte("wide"),
}

// DetectContainer identifies the container from the leading bytes of a file.
func DetectContainer(header []byte) Container {
	if bytes.HasPrefix(header, []byte("YUV4MPEG2")) {
		return ContainerY4M
	}

	if len(header) >= 8 {
		for _, t := range isoBoxTypes {
			if bytes.Equal(header[4:8], t) {
				return ContainerMP4
			}
		}
	}

	if len(header) > 0 && header[0] == tsSyncByte {
		for off := tsPacketSize; off < len(header); off += tsPacketSize {
			if header[off] != tsSyncByte {
				return ContainerUnknown
			}
		}
		return ContainerMPEGTS
	}

	return ContainerUnknown
}

// DetectFromFile opens path and identifies its container.
func DetectFromFile(fs ports.FileSystem, path string) (Container, error) {
	f, err := fs.Open(path)
	if err != nil {
		return ContainerUnknown, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	return DetectFromReader(f)
}

// DetectFromReader identifies the container and rewinds the reader.
func DetectFromReader(reader io.ReadSeeker) (Container, error) {
	header := make([]byte, sniffSize)
	n, err := io.ReadFull(reader, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return ContainerUnknown, fmt.Errorf("read header: %w", err)
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return ContainerUnknown, fmt.Errorf("seek: %w", err)
	}

	c := DetectContainer(header[:n])
	if c == ContainerUnknown {
		return c, ErrUnknownContainer
	}
	return c, nil
}

// VideoCodecFromMP4 returns the codec of the first video track in a parsed file.
func VideoCodecFromMP4(f *mp4.File) (pipeline.Codec, error) {
	for _, trak := range Tracks(f) {
		info, ok := TrackInfo(trak)
		if ok && info.Kind == pipeline.KindVideo {
			return info.Codec, nil
		}
	}
	return pipeline.CodecUnknown, pipeline.ErrNoVideoStream
}

// Tracks returns the tracks of a progressive or fragmented file.
func Tracks(f *mp4.File) []*mp4.TrakBox {
	if f.IsFragmented() && f.Init != nil && f.Init.Moov != nil {
		return f.Init.Moov.Traks
	}
	if f.Moov != nil {
		return f.Moov.Traks
	}
	return nil
}

// SampleEntryCodec maps a sample entry four-character code to a codec.
func SampleEntryCodec(entry string) pipeline.Codec {
	switch entry {
	case "avc1", "avc3":
		return pipeline.CodecH264
	case "hvc1", "hev1":
		return pipeline.CodecH265
	case "av01":
		return pipeline.CodecAV1
	case "mp4a":
		return pipeline.CodecAAC
	default:
		return pipeline.CodecUnknown
	}
}

// TrackInfo describes a track from its sample description. The second
// result is false for tracks that are neither video nor audio, and for
// tracks whose codec is not supported.
func TrackInfo(trak *mp4.TrakBox) (pipeline.StreamInfo, bool) {
	if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Mdhd == nil {
		return pipeline.StreamInfo{}, false
	}
	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
		return pipeline.StreamInfo{}, false
	}

	info := pipeline.StreamInfo{
		TimeBase: pipeline.Rational{Num: 1, Den: int64(trak.Mdia.Mdhd.Timescale)},
	}

	stsd := trak.Mdia.Minf.Stbl.Stsd
	switch trak.Mdia.Hdlr.HandlerType {
	case "vide":
		info.Kind = pipeline.KindVideo
		for _, child := range stsd.Children {
			vse, ok := child.(*mp4.VisualSampleEntryBox)
			if !ok {
				continue
			}
			info.Codec = SampleEntryCodec(child.Type())
			info.Width = int(vse.Width)
			info.Height = int(vse.Height)
			info.PixelFormat = pipeline.PixelFormatYUV420P
			switch info.Codec {
			case pipeline.CodecH264:
				if vse.AvcC != nil {
					info.CodecConfig = ParameterSets(vse.AvcC.SPSnalus, vse.AvcC.PPSnalus)
				}
			case pipeline.CodecAV1:
				if vse.Av1C != nil {
					info.CodecConfig = vse.Av1C.ConfigOBUs
				}
			}
			return info, info.Codec != pipeline.CodecUnknown
		}

	case "soun":
		info.Kind = pipeline.KindAudio
		for _, child := range stsd.Children {
			ase, ok := child.(*mp4.AudioSampleEntryBox)
			if !ok {
				continue
			}
			info.Codec = SampleEntryCodec(child.Type())
			info.SampleRate = int(ase.SampleRate)
			info.Channels = int(ase.ChannelCount)
			if info.Codec == pipeline.CodecAAC && ase.Esds != nil {
				asc := ase.Esds.DecConfigDescriptor.DecSpecificInfo.DecConfig
				info.CodecConfig = asc
				var conf mpeg4audio.AudioSpecificConfig
				if err := conf.Unmarshal(asc); err == nil {
					info.SampleRate = conf.SampleRate
					info.Channels = conf.ChannelCount
				}
			}
			return info, info.Codec != pipeline.CodecUnknown
		}
	}

	return pipeline.StreamInfo{}, false
}

// ParameterSets joins SPS and PPS NAL units into an Annex B byte stream.
func ParameterSets(sps, pps [][]byte) []byte {
	au := make([][]byte, 0, len(sps)+len(pps))
	au = append(au, sps...)
	au = append(au, pps...)
	if len(au) == 0 {
		return nil
	}
	b, err := h264.AnnexB(au).Marshal()
	if err != nil {
		return nil
	}
	return b
}

// FrameSizeFromSPS reads picture dimensions from an H.264 SPS NAL unit.
func FrameSizeFromSPS(sps []byte) (int, int, error) {
	var s h264.SPS
	if err := s.Unmarshal(sps); err != nil {
		return 0, 0, fmt.Errorf("parse sps: %w", err)
	}
	return s.Width(), s.Height(), nil
}
