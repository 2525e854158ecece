package git

import "sync"

// pathLocks maps a working-copy path to its exclusive operation lock,
// created lazily on first use and retained for the process lifetime. Paths
// are compared as given: two spellings of the same directory get distinct
// locks. The table lock guards only lock creation; the per-path lock is
// held for the duration of a mutating operation.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *pathLocks) lockFor(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[path]
	if !ok {
		m = &sync.Mutex{}
		l.locks[path] = m
	}
	return m
}
