package player

import (
	"time"

	"github.com/user/warpplayer/pkg/pipeline"
)

// StopReason tells why a session ended.
type StopReason string

const (
	StopEndOfStream StopReason = "end of stream"
	StopClosed      StopReason = "window closed"
	StopCancelled   StopReason = "cancelled"
)

// Result summarizes a finished session.
type Result struct {
	SessionID string
	Path      string
	Container string
	Video     pipeline.StreamInfo
	Audio     *pipeline.StreamInfo
	Duration  time.Duration

	Presented        int
	Dropped          int
	Seeks            int
	FailedSeeks      int
	PacketErrors     int
	Underruns        int64
	AudioOverflows   int
	DriftCorrections int

	// LastPosition is the pts of the last presented frame.
	LastPosition time.Duration
	// Trace lists presented timestamps when tracing is enabled.
	Trace []time.Duration

	WallTime time.Duration
	Stop     StopReason
}
