package session

import "sync"

const defaultScrollbackSize = 1024 * 1024 // 1MB

// RingBuffer is a fixed-size byte ring holding the most recent terminal
// output so reconnecting clients can replay history.
type RingBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
	w    int
	full bool
}

func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

func (r *RingBuffer) Write(p []byte) {
	if len(p) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A write at least as large as the ring replaces the whole contents.
	if len(p) >= r.size {
		copy(r.buf, p[len(p)-r.size:])
		r.w = 0
		r.full = true
		return
	}

	n := copy(r.buf[r.w:], p)
	if n < len(p) {
		copy(r.buf, p[n:])
		r.full = true
	}
	r.w = (r.w + len(p)) % r.size
	if r.w == 0 {
		r.full = true
	}
}

// Bytes returns the buffered output, oldest first.
func (r *RingBuffer) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]byte, r.w)
		copy(out, r.buf[:r.w])
		return out
	}

	out := make([]byte, r.size)
	n := copy(out, r.buf[r.w:])
	copy(out[n:], r.buf[:r.w])
	return out
}
