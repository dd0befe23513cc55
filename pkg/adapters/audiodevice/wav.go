package audiodevice

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnseekableWAV is returned when the WAV destination cannot seek back to
// patch chunk sizes.
var ErrUnseekableWAV = errors.New("audiodevice: WAV output must be seekable")

// wavWriter records interleaved s16le periods as 16-bit PCM WAV.
type wavWriter struct {
	f   io.WriteCloser
	enc *wav.Encoder
	buf *audio.IntBuffer
}

func newWAVWriter(f io.WriteCloser, rate, channels int) (*wavWriter, error) {
	ws, ok := f.(io.WriteSeeker)
	if !ok {
		return nil, ErrUnseekableWAV
	}
	ww := &wavWriter{
		f:   f,
		enc: wav.NewEncoder(ws, rate, 16, channels, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
			SourceBitDepth: 16,
		},
	}
	// An empty write emits the header so even a silent session is a valid file.
	if err := ww.enc.Write(ww.buf); err != nil {
		return nil, fmt.Errorf("write WAV header: %w", err)
	}
	return ww, nil
}

func (ww *wavWriter) Write(p []byte) (int, error) {
	n := len(p) / 2
	if cap(ww.buf.Data) < n {
		ww.buf.Data = make([]int, n)
	}
	ww.buf.Data = ww.buf.Data[:n]
	for i := range ww.buf.Data {
		ww.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(p[2*i:])))
	}
	if err := ww.enc.Write(ww.buf); err != nil {
		return 0, err
	}
	return 2 * n, nil
}

// Close patches the chunk sizes and closes the file.
func (ww *wavWriter) Close() error {
	err := ww.enc.Close()
	if cerr := ww.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("finish WAV: %w", err)
	}
	return nil
}
