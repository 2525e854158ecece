package git

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// fakeRunner scripts git invocations by their argument list. Unscripted
// commands succeed with empty output.
type fakeRunner struct {
	mu        sync.Mutex
	calls     []string
	responses map[string]Result
	errs      map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		responses: make(map[string]Result),
		errs:      make(map[string]error),
	}
}

func (f *fakeRunner) Run(dir string, args ...string) (Result, error) {
	key := strings.Join(args, " ")
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if err, ok := f.errs[key]; ok {
		return Result{}, err
	}
	if res, ok := f.responses[key]; ok {
		return res, nil
	}
	return Result{ExitOK: true}, nil
}

func (f *fakeRunner) ok(args, stdout string) {
	f.responses[args] = Result{ExitOK: true, Stdout: []byte(stdout)}
}

func (f *fakeRunner) fail(args, stderr string) {
	f.responses[args] = Result{Stderr: []byte(stderr)}
}

func (f *fakeRunner) countCalls(args string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == args {
			n++
		}
	}
	return n
}

func (f *fakeRunner) called(args string) bool {
	return f.countCalls(args) > 0
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(f *fakeRunner) *Service {
	return newService(f, testLogger())
}

func TestOutput_WrapsStderrOnFailure(t *testing.T) {
	f := newFakeRunner()
	f.fail("checkout main", "error: pathspec 'main' did not match\n")
	s := newTestService(f)

	_, err := s.output("/repo", "failed to checkout main", "checkout", "main")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "failed to checkout main") {
		t.Fatalf("error missing operation label: %v", err)
	}
	if !strings.Contains(err.Error(), "pathspec") {
		t.Fatalf("error missing stderr text: %v", err)
	}
}

func TestPathLocks_SamePathSameLock(t *testing.T) {
	locks := newPathLocks()
	a := locks.lockFor("/repo")
	b := locks.lockFor("/repo")
	if a != b {
		t.Fatal("expected same lock for same path")
	}
	c := locks.lockFor("/other")
	if a == c {
		t.Fatal("expected distinct locks for distinct paths")
	}
}
