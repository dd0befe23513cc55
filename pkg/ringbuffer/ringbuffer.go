// Package ringbuffer buffers decoded audio between the playback loop and the
// audio device callback.
package ringbuffer

import (
	"errors"
	"sync"
)

// ErrOverflow is returned by Push when the buffered bytes would exceed the limit.
var ErrOverflow = errors.New("ringbuffer: limit exceeded")

// Stats summarizes buffer activity.
type Stats struct {
	Pushed    int64
	Consumed  int64
	Silence   int64
	Underruns int64
	Buffered  int
	Capacity  int
}

// Buffer is a linear byte buffer with a read cursor (index) and a write
// cursor (size). Bytes in [index, size) are pending. The allocation grows on
// demand and is never shrunk; Reset returns both cursors to zero.
//
// Push and Pull may be called from different goroutines. Pull only advances
// index. Rewinding or compacting the cursors happens on the producer side,
// in Push and Reset, so the consumer never moves size.
type Buffer struct {
	mu    sync.Mutex
	data  []byte
	index int
	size  int
	limit int
	stats Stats
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithLimit caps the number of pending bytes. Zero means unlimited.
func WithLimit(n int) Option {
	return func(b *Buffer) {
		b.limit = n
	}
}

// WithCapacity preallocates n bytes.
func WithCapacity(n int) Option {
	return func(b *Buffer) {
		b.data = make([]byte, n)
	}
}

// New creates an empty buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Push appends p at the write cursor.
func (b *Buffer) Push(p []byte) error {
	if len(p) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.index == b.size {
		b.index = 0
		b.size = 0
	}
	if b.limit > 0 {
		if b.size-b.index+len(p) > b.limit {
			return ErrOverflow
		}
		b.compact()
	}

	if len(b.data)-b.size < len(p) {
		b.grow(len(p))
	}

	copy(b.data[b.size:], p)
	b.size += len(p)
	b.stats.Pushed += int64(len(p))
	return nil
}

// grow reallocates to index+size+n bytes, keeping cursor positions.
func (b *Buffer) grow(n int) {
	next := make([]byte, b.index+b.size+n)
	copy(next, b.data[:b.size])
	b.data = next
}

// compact moves pending bytes to the front of the allocation.
func (b *Buffer) compact() {
	if b.index == 0 {
		return
	}
	n := copy(b.data, b.data[b.index:b.size])
	b.index = 0
	b.size = n
}

// Pull fills dst completely. Pending bytes are copied first and the rest is
// zero-filled. It never blocks. Returns the number of real bytes copied.
func (b *Buffer) Pull(dst []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := copy(dst, b.data[b.index:b.size])
	b.index += n
	if n < len(dst) {
		clear(dst[n:])
		b.stats.Silence += int64(len(dst) - n)
		b.stats.Underruns++
	}
	b.stats.Consumed += int64(n)
	return n
}

// Reset discards pending bytes and zeroes both cursors.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index = 0
	b.size = 0
}

// Len returns the number of pending bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size - b.index
}

// Cursors returns the read and write cursors.
func (b *Buffer) Cursors() (index, size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index, b.size
}

// Stats returns a snapshot of buffer activity.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Buffered = b.size - b.index
	s.Capacity = len(b.data)
	return s
}
