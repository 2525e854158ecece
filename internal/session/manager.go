package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty/v2"

	"github.com/conduitworks/foreman/internal/shell"
)

// ErrNotFound is returned when an operation references an agent identifier
// that has no live session in the table.
var ErrNotFound = errors.New("session not found")

// LaunchError reports a child process that could not be started, naming both
// the requested command and what it resolved to.
type LaunchError struct {
	Command  string
	Resolved string
	Err      error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to spawn %q (resolved: %q): %v. Hint: the command may not be installed or not on PATH",
		e.Command, e.Resolved, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Environment variables that make agent CLIs detect they are running inside
// another agent session and refuse to start; stripped before spawning.
var nestedSessionVars = map[string]bool{
	"CLAUDECODE":             true,
	"CLAUDE_CODE_SESSION":    true,
	"CLAUDE_CODE_ENTRYPOINT": true,
}

// Manager owns the table of live agent sessions, keyed by agent identifier.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *slog.Logger
	resolve  func(string) string

	// callback for session events
	OnSessionExit func(s *Session)
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		resolve:  shell.Resolve,
	}
}

// SpawnRequest describes a new agent session.
type SpawnRequest struct {
	TaskID  string
	AgentID string
	Command string            // empty means the user's interactive shell
	Args    []string
	Dir     string
	Env     map[string]string // applied last, highest precedence
	Cols    uint16
	Rows    uint16
}

// Spawn starts a PTY-backed child process and registers it under the request's
// agent identifier. It returns once the child has started; output streams to
// sink from a dedicated goroutine until the process exits.
func (m *Manager) Spawn(req SpawnRequest, sink Sink) (*Session, error) {
	command := req.Command
	if command == "" {
		command = os.Getenv("SHELL")
		if command == "" {
			command = "/bin/sh"
		}
	}

	resolved := m.resolve(command)

	cmd := exec.Command(resolved, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = buildEnv(req.Env)

	m.logger.Info("spawning agent", "agent", req.AgentID, "task", req.TaskID, "command", command, "cwd", req.Dir)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: req.Cols, Rows: req.Rows})
	if err != nil {
		return nil, &LaunchError{Command: command, Resolved: resolved, Err: err}
	}

	if sink == nil {
		sink = NopSink{}
	}

	s := &Session{
		ID:          req.AgentID,
		TaskID:      req.TaskID,
		Command:     command,
		PTY:         ptmx,
		Cmd:         cmd,
		CreatedAt:   time.Now(),
		Status:      StatusRunning,
		sink:        sink,
		scrollback:  NewRingBuffer(defaultScrollbackSize),
		subscribers: make(map[chan []byte]struct{}),
		done:        make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[req.AgentID] = s
	m.mu.Unlock()

	go m.outputLoop(s)
	go m.waitLoop(s)

	return s, nil
}

// buildEnv starts from the process environment, strips nested-session
// markers, sets terminal capabilities, injects the login shell PATH, and
// applies caller overrides last (os/exec keeps the last duplicate).
func buildEnv(overrides map[string]string) []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+len(overrides)+3)
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if nestedSessionVars[name] {
			continue
		}
		env = append(env, kv)
	}

	// TERM/COLORTERM so CLI tools render properly
	env = append(env, "TERM=xterm-256color", "COLORTERM=truecolor")

	if path, ok := shell.LoginPath(); ok {
		env = append(env, "PATH="+path)
	}

	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

func (m *Manager) Get(agentID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[agentID]
	return s, ok
}

func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}

// Write sends bytes to the agent's input stream.
func (m *Manager) Write(agentID string, data []byte) error {
	s, ok := m.Get(agentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	if _, err := s.Write(data); err != nil {
		return fmt.Errorf("write to agent %s: %w", agentID, err)
	}
	return nil
}

// Resize changes the pseudo-terminal's reported dimensions.
func (m *Manager) Resize(agentID string, cols, rows uint16) error {
	s, ok := m.Get(agentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, agentID)
	}
	if err := s.Resize(cols, rows); err != nil {
		return fmt.Errorf("resize agent %s: %w", agentID, err)
	}
	return nil
}

// Kill removes the session from the table and terminates its child.
// Killing an unknown identifier is a no-op; termination failures are logged,
// never surfaced.
func (m *Manager) Kill(agentID string) {
	m.mu.Lock()
	s, ok := m.sessions[agentID]
	if ok {
		delete(m.sessions, agentID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.terminate(s)
}

// KillAll drains the table and terminates every child.
func (m *Manager) KillAll() {
	m.mu.Lock()
	drained := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		drained = append(drained, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range drained {
		m.terminate(s)
	}
}

func (m *Manager) terminate(s *Session) {
	m.logger.Info("killing agent", "agent", s.ID, "task", s.TaskID)
	if err := s.Cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		m.logger.Error("failed to kill agent process", "agent", s.ID, "task", s.TaskID, "err", err)
	}
}

// CountLive sweeps sessions whose child has already exited out of the table
// and returns how many remain. This is the only path that prunes sessions
// that ended on their own without an explicit Kill.
func (m *Manager) CountLive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.exited() {
			delete(m.sessions, id)
		}
	}
	return len(m.sessions)
}

// waitLoop reaps the child and records its exit status. The PTY stays open:
// the output loop owns it and closes it only once the stream is drained, so
// bytes written just before exit are never lost.
func (m *Manager) waitLoop(s *Session) {
	err := s.Cmd.Wait()

	var code *int
	var signal string
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				signal = ws.Signal().String()
			} else {
				c := exitErr.ExitCode()
				code = &c
			}
		}
	} else {
		c := 0
		code = &c
	}

	s.mu.Lock()
	s.Status = StatusExited
	s.ExitCode = code
	s.Signal = signal
	s.mu.Unlock()

	close(s.done)

	m.logger.Info("agent exited", "agent", s.ID, "task", s.TaskID, "exitCode", code, "signal", signal)

	if m.OnSessionExit != nil {
		m.OnSessionExit(s)
	}
}
