package git

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrDirtyWorktree is returned when a merge is requested while the project
// root has uncommitted changes.
var ErrDirtyWorktree = errors.New("project root has uncommitted changes; commit or stash them before merging")

// MergeResult reports a completed merge.
type MergeResult struct {
	MainBranch   string `json:"mainBranch"`
	LinesAdded   int    `json:"linesAdded"`
	LinesRemoved int    `json:"linesRemoved"`
}

// MergeStatus reports how far main has moved ahead of a worktree and which
// files would conflict if merged now.
type MergeStatus struct {
	MainAheadCount   int      `json:"mainAheadCount"`
	ConflictingFiles []string `json:"conflictingFiles"`
}

// CheckMergeStatus counts commits main is ahead of HEAD and, only when that
// count is nonzero, runs a merge-tree dry run (touching neither index nor
// working tree) to find conflicting paths. Conflicts are a normal result,
// not an error.
func (s *Service) CheckMergeStatus(dir string) (MergeStatus, error) {
	lock := s.locks.lockFor(dir)
	lock.Lock()
	defer lock.Unlock()

	mainBranch, err := s.DetectMainBranch(dir)
	if err != nil {
		return MergeStatus{}, err
	}

	res, err := s.run(dir, "rev-list", "--count", "HEAD.."+mainBranch)
	if err != nil {
		return MergeStatus{}, err
	}
	aheadCount, _ := strconv.Atoi(strings.TrimSpace(string(res.Stdout)))

	if aheadCount == 0 {
		return MergeStatus{MainAheadCount: 0, ConflictingFiles: []string{}}, nil
	}

	mergeRes, err := s.run(dir, "merge-tree", "--write-tree", "HEAD", mainBranch)
	if err != nil {
		return MergeStatus{}, err
	}

	conflicting := []string{}
	if !mergeRes.ExitOK {
		conflicting = parseConflicts(string(mergeRes.Stdout), string(mergeRes.Stderr))
	}

	return MergeStatus{MainAheadCount: aheadCount, ConflictingFiles: conflicting}, nil
}

// MergeTask merges a task branch into the main branch at the project root.
// Squash merges stage everything and commit once with the given message
// (default "Squash merge"). On success the merge-base cache is invalidated
// for all paths, and with cleanup set the source worktree and branch are
// removed.
func (s *Service) MergeTask(projectRoot, branch string, squash bool, message string, cleanup bool) (MergeResult, error) {
	lock := s.locks.lockFor(projectRoot)
	lock.Lock()
	defer lock.Unlock()

	s.logger.Info("merging task branch", "branch", branch, "root", projectRoot, "squash", squash, "cleanup", cleanup)

	mainBranch, err := s.DetectMainBranch(projectRoot)
	if err != nil {
		return MergeResult{}, err
	}

	linesAdded, linesRemoved, err := s.branchDiffStats(projectRoot, mainBranch, branch)
	if err != nil {
		return MergeResult{}, err
	}

	statusRes, err := s.run(projectRoot, "status", "--porcelain")
	if err != nil {
		return MergeResult{}, err
	}
	if len(statusRes.Stdout) != 0 {
		return MergeResult{}, ErrDirtyWorktree
	}

	if _, err := s.output(projectRoot, "failed to checkout "+mainBranch, "checkout", mainBranch); err != nil {
		return MergeResult{}, err
	}

	if squash {
		// Squash merge stages all changes without committing.
		if _, err := s.output(projectRoot, "squash merge failed", "merge", "--squash", "--", branch); err != nil {
			return MergeResult{}, err
		}
		if message == "" {
			message = "Squash merge"
		}
		if _, err := s.output(projectRoot, "commit failed", "commit", "-m", message); err != nil {
			return MergeResult{}, err
		}
	} else {
		if _, err := s.output(projectRoot, "merge failed", "merge", "--", branch); err != nil {
			return MergeResult{}, err
		}
	}

	// Merge moved main forward, so merge bases everywhere changed.
	s.invalidateMergeBase()

	if cleanup {
		if err := s.RemoveWorktree(projectRoot, branch, true); err != nil {
			return MergeResult{}, err
		}
	}

	return MergeResult{MainBranch: mainBranch, LinesAdded: linesAdded, LinesRemoved: linesRemoved}, nil
}

func (s *Service) branchDiffStats(projectRoot, mainBranch, branch string) (added, removed int, err error) {
	out, err := s.output(projectRoot, "failed to collect merge diff stats",
		"diff", "--numstat", mainBranch+".."+branch)
	if err != nil {
		return 0, 0, err
	}

	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			continue
		}
		a, _ := strconv.Atoi(parts[0])
		r, _ := strconv.Atoi(parts[1])
		added += a
		removed += r
	}
	return added, removed, nil
}

// RebaseTask rebases the worktree's branch onto main. A failed rebase is
// aborted before the error surfaces, so no in-progress rebase state is
// left behind. On success the merge-base cache is invalidated globally.
func (s *Service) RebaseTask(dir string) error {
	lock := s.locks.lockFor(dir)
	lock.Lock()
	defer lock.Unlock()

	mainBranch, err := s.DetectMainBranch(dir)
	if err != nil {
		return err
	}
	s.logger.Info("rebasing task onto main", "main", mainBranch, "path", dir)

	res, err := s.run(dir, "rebase", mainBranch)
	if err != nil {
		return err
	}
	if !res.ExitOK {
		if _, err := s.run(dir, "rebase", "--abort"); err != nil {
			s.logger.Warn("rebase abort failed", "path", dir, "err", err)
		}
		return fmt.Errorf("rebase failed: %s", strings.TrimSpace(string(res.Stderr)))
	}

	s.invalidateMergeBase()
	return nil
}

// PushTask pushes the branch to origin with upstream tracking.
func (s *Service) PushTask(projectRoot, branch string) error {
	s.logger.Info("pushing task branch to remote", "branch", branch, "root", projectRoot)
	_, err := s.output(projectRoot, "push failed", "push", "-u", "origin", "--", branch)
	return err
}
