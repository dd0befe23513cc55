package ffmpegdecoder

import (
	"container/heap"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/user/warpplayer/pkg/pipeline"
)

// temporalDelimiter is an AV1 OBU_TEMPORAL_DELIMITER with an empty payload.
// The obu demuxer expects one at the start of every temporal unit.
var temporalDelimiter = []byte{0x12, 0x00}

// inputFormat returns the ffmpeg demuxer for an elementary stream.
func inputFormat(codec pipeline.Codec) (string, error) {
	switch codec {
	case pipeline.CodecH264:
		return "h264", nil
	case pipeline.CodecH265:
		return "hevc", nil
	case pipeline.CodecAV1:
		return "obu", nil
	case pipeline.CodecAAC:
		return "aac", nil
	default:
		return "", fmt.Errorf("%w: %s", pipeline.ErrUnsupportedCodec, codec)
	}
}

// videoPayload frames one sample for the elementary stream on stdin.
// Keyframes carry the out-of-band configuration so decoding can start
// at any sync point.
func videoPayload(stream pipeline.StreamInfo, pkt *pipeline.Packet) []byte {
	var config []byte
	if pkt.Keyframe {
		config = stream.CodecConfig
	}

	var prefix []byte
	if stream.Codec == pipeline.CodecAV1 {
		prefix = temporalDelimiter
	}

	out := make([]byte, 0, len(prefix)+len(config)+len(pkt.Data))
	out = append(out, prefix...)
	out = append(out, config...)
	return append(out, pkt.Data...)
}

// adtsWrapper turns raw AAC access units into ADTS frames.
type adtsWrapper struct {
	objectType   mpeg4audio.ObjectType
	sampleRate   int
	channelCount int
}

func newADTSWrapper(stream pipeline.StreamInfo) (*adtsWrapper, error) {
	w := &adtsWrapper{
		objectType:   mpeg4audio.ObjectTypeAACLC,
		sampleRate:   stream.SampleRate,
		channelCount: stream.Channels,
	}
	if len(stream.CodecConfig) > 0 {
		var conf mpeg4audio.AudioSpecificConfig
		if err := conf.Unmarshal(stream.CodecConfig); err != nil {
			return nil, fmt.Errorf("parse AudioSpecificConfig: %w", err)
		}
		w.objectType = conf.Type
		w.sampleRate = conf.SampleRate
		w.channelCount = conf.ChannelCount
	}
	if w.sampleRate <= 0 || w.channelCount <= 0 {
		return nil, fmt.Errorf("%w: aac %d Hz, %d channels", pipeline.ErrUnsupportedCodec, w.sampleRate, w.channelCount)
	}
	return w, nil
}

func (w *adtsWrapper) wrap(au []byte) ([]byte, error) {
	return mpeg4audio.ADTSPackets{{
		Type:         w.objectType,
		SampleRate:   w.sampleRate,
		ChannelCount: w.channelCount,
		AU:           au,
	}}.Marshal()
}

// ptsHeap is a min-heap of presentation timestamps. Decoders emit frames in
// presentation order, so the smallest outstanding PTS belongs to the next frame.
type ptsHeap []int64

func (h ptsHeap) Len() int           { return len(h) }
func (h ptsHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h ptsHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *ptsHeap) Push(x any) {
	*h = append(*h, x.(int64))
}

func (h *ptsHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (h *ptsHeap) push(pts int64) {
	heap.Push(h, pts)
}

func (h *ptsHeap) pop() (int64, bool) {
	if h.Len() == 0 {
		return 0, false
	}
	return heap.Pop(h).(int64), true
}

func (h *ptsHeap) reset() {
	*h = (*h)[:0]
}
