// Package git runs repository operations against worktrees via the git CLI.
//
// Read-only queries may run concurrently; operations that mutate a working
// copy serialize on a per-path lock. Branch and merge-base detection go
// through TTL caches owned by the Service, invalidated whenever a mutation
// changes the commit graph.
package git

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	mainBranchTTL = 60 * time.Second
	mergeBaseTTL  = 30 * time.Second
)

type Service struct {
	runner     Runner
	logger     *slog.Logger
	mainBranch *ttlCache
	mergeBase  *ttlCache
	locks      *pathLocks
}

func NewService(logger *slog.Logger) *Service {
	return newService(execRunner{}, logger)
}

func newService(r Runner, logger *slog.Logger) *Service {
	return &Service{
		runner:     r,
		logger:     logger,
		mainBranch: newTTLCache(mainBranchTTL),
		mergeBase:  newTTLCache(mergeBaseTTL),
		locks:      newPathLocks(),
	}
}

// run executes a git command, surfacing only invocation failures.
func (s *Service) run(dir string, args ...string) (Result, error) {
	return s.runner.Run(dir, args...)
}

// output executes a git command and fails on a non-zero exit, wrapping the
// captured stderr into the error.
func (s *Service) output(dir, op string, args ...string) (string, error) {
	res, err := s.run(dir, args...)
	if err != nil {
		return "", err
	}
	if !res.ExitOK {
		return "", fmt.Errorf("%s: %s", op, strings.TrimSpace(string(res.Stderr)))
	}
	return string(res.Stdout), nil
}
