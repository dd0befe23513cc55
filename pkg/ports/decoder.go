package ports

import "github.com/user/warpplayer/pkg/pipeline"

// Decoder turns packets of one stream into frames of type F.
//
// Send and Receive follow a push/pull protocol: after each Send the caller
// calls Receive until it returns pipeline.ErrNeedMorePackets. Frames returned
// by Receive are valid until the next Receive.
type Decoder[F any] interface {
	// Send queues a packet for decoding. A nil packet starts draining.
	// Returns pipeline.ErrBackpressure when the queue is full.
	Send(pkt *pipeline.Packet) error

	// Receive returns the next decoded frame, pipeline.ErrNeedMorePackets,
	// or pipeline.ErrEndOfStream once a drain has completed.
	Receive() (F, error)

	// Flush discards queued packets, pending frames and timestamp state.
	Flush()

	// Close releases decoder resources.
	Close() error
}

// VideoDecoder decodes a video stream.
type VideoDecoder = Decoder[*pipeline.VideoFrame]

// AudioDecoder decodes an audio stream.
type AudioDecoder = Decoder[*pipeline.AudioFrame]

// DecoderFactory creates decoders for the streams of a source.
type DecoderFactory interface {
	NewVideoDecoder(stream pipeline.StreamInfo) (VideoDecoder, error)
	NewAudioDecoder(stream pipeline.StreamInfo) (AudioDecoder, error)
}
