package session

import (
	"io"
	"time"
)

const (
	readBufSize   = 16 * 1024
	batchMax      = 64 * 1024
	batchInterval = 8 * time.Millisecond
	trailerLines  = 50
)

// lineRing keeps the last trailerLines completed output lines for the
// diagnostic trailer attached to the exit event.
type lineRing struct {
	lines   []string
	partial []byte
}

func (r *lineRing) push(line string) {
	r.lines = append(r.lines, line)
	if len(r.lines) > trailerLines {
		r.lines = r.lines[1:]
	}
}

// feed splits raw output into logical lines: line feeds complete a line,
// carriage returns are discarded.
func (r *lineRing) feed(p []byte) {
	for _, b := range p {
		switch b {
		case '\n':
			r.push(string(r.partial))
			r.partial = r.partial[:0]
		case '\r':
		default:
			r.partial = append(r.partial, b)
		}
	}
}

// flush moves a trailing unterminated line into the ring.
func (r *lineRing) flush() {
	if len(r.partial) > 0 {
		r.push(string(r.partial))
		r.partial = nil
	}
}

// pump reads raw bytes from r until end-of-stream or a read error, handing
// batched output to deliver, and returns the diagnostic trailer.
//
// A batch is flushed once it reaches batchMax or once batchInterval has
// passed since the previous flush. The interval is only checked when the
// next read returns, not by a timer, so a slow trickle of output may
// coalesce into batches spanning longer than the nominal interval.
func pump(r io.Reader, deliver func([]byte)) []string {
	buf := make([]byte, readBufSize)
	batch := make([]byte, 0, batchMax)
	lastFlush := time.Now()
	var ring lineRing

	for {
		n, err := r.Read(buf)
		if n > 0 {
			ring.feed(buf[:n])
			batch = append(batch, buf[:n]...)
			if len(batch) >= batchMax || time.Since(lastFlush) >= batchInterval {
				out := make([]byte, len(batch))
				copy(out, batch)
				deliver(out)
				batch = batch[:0]
				lastFlush = time.Now()
			}
		}
		if err != nil {
			break
		}
	}

	if len(batch) > 0 {
		out := make([]byte, len(batch))
		copy(out, batch)
		deliver(out)
	}

	ring.flush()
	return ring.lines
}

// outputLoop streams one session's PTY output until the stream is exhausted,
// closes the PTY, then waits for the child's exit status and emits the single
// exit event. The loop owns the descriptor: nothing else may close it, so
// every byte the child wrote before exiting is drained before the close.
// It never fails outward: a read error just ends streaming, and the exit
// event is still delivered so consumers always observe completion.
func (m *Manager) outputLoop(s *Session) {
	s.mu.Lock()
	ptmx := s.PTY
	s.mu.Unlock()

	trailer := pump(ptmx, s.deliver)

	s.mu.Lock()
	s.PTY = nil
	s.mu.Unlock()
	ptmx.Close()

	<-s.done
	code, signal := s.exitInfo()
	s.sink.Exit(code, signal, trailer)
	m.logger.Debug("output loop finished", "agent", s.ID, "task", s.TaskID)
}
