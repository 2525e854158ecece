package session

import (
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty/v2"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
)

// Session is one running agent process bound to a pseudo-terminal.
type Session struct {
	mu        sync.Mutex
	ID        string // agent identifier, unique in the manager's table
	TaskID    string
	Command   string
	PTY       *os.File
	Cmd       *exec.Cmd
	CreatedAt time.Time
	Status    Status
	ExitCode  *int
	Signal    string

	sink Sink

	// scrollback for reconnecting clients
	scrollback *RingBuffer

	// broadcast channels
	subscribers map[chan []byte]struct{}
	subMu       sync.Mutex

	// closed by waitLoop once the child has been reaped
	done chan struct{}
}

type Info struct {
	ID        string `json:"id"`
	TaskID    string `json:"taskId"`
	Command   string `json:"command"`
	Status    Status `json:"status"`
	ExitCode  *int   `json:"exitCode,omitempty"`
	Signal    string `json:"signal,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		TaskID:    s.TaskID,
		Command:   s.Command,
		Status:    s.Status,
		ExitCode:  s.ExitCode,
		Signal:    s.Signal,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Subscribe registers a live output channel and returns it together with the
// scrollback accumulated so far.
func (s *Session) Subscribe() (chan []byte, []byte) {
	ch := make(chan []byte, 256)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	scrollback := s.scrollback.Bytes()
	s.subMu.Unlock()
	return ch, scrollback
}

func (s *Session) Unsubscribe(ch chan []byte) {
	s.subMu.Lock()
	delete(s.subscribers, ch)
	s.subMu.Unlock()
	close(ch)
}

// deliver fans one output batch out to the scrollback, live subscribers and
// the spawn-time sink. The scrollback write and the broadcast share one
// critical section with Subscribe, so a subscriber sees each batch exactly
// once: in the snapshot or on the channel, never both.
func (s *Session) deliver(data []byte) {
	s.subMu.Lock()
	s.scrollback.Write(data)
	for ch := range s.subscribers {
		select {
		case ch <- data:
		default:
			// slow consumer, drop
		}
	}
	s.subMu.Unlock()
	s.sink.Data(data)
}

func (s *Session) Write(data []byte) (int, error) {
	s.mu.Lock()
	ptmx := s.PTY
	s.mu.Unlock()
	if ptmx == nil {
		return 0, os.ErrClosed
	}
	return ptmx.Write(data)
}

func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	ptmx := s.PTY
	s.mu.Unlock()
	if ptmx == nil {
		return os.ErrClosed
	}
	return pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Done is closed once the child process has exited and been reaped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// exitInfo reports the reaped exit status. Valid only after Done is closed.
func (s *Session) exitInfo() (*int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ExitCode, s.Signal
}

// exited reports whether the child has already been reaped, without blocking.
func (s *Session) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
