package git

import (
	"errors"
	"strings"
)

// ErrNoMainBranch is returned when neither a remote default branch nor a
// local main/master branch exists.
var ErrNoMainBranch = errors.New("could not find main or master branch")

// DetectMainBranch returns the repository's main branch name, cached per
// path with a 60s TTL.
func (s *Service) DetectMainBranch(dir string) (string, error) {
	if v, ok := s.mainBranch.get(dir); ok {
		return v, nil
	}

	branch, err := s.detectMainBranchUncached(dir)
	if err != nil {
		return "", err
	}

	s.mainBranch.put(dir, branch)
	return branch, nil
}

func (s *Service) detectMainBranchUncached(dir string) (string, error) {
	// Remote HEAD first: handles custom default branch names.
	if res, err := s.run(dir, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil && res.ExitOK {
		refname := strings.TrimSpace(string(res.Stdout))
		if branch, ok := strings.CutPrefix(refname, "refs/remotes/origin/"); ok {
			return branch, nil
		}
	}

	for _, candidate := range []string{"main", "master"} {
		res, err := s.run(dir, "rev-parse", "--verify", candidate)
		if err != nil {
			return "", err
		}
		if res.ExitOK {
			return candidate, nil
		}
	}

	return "", ErrNoMainBranch
}

// CurrentBranch returns the branch HEAD is on, failing on a detached HEAD.
func (s *Service) CurrentBranch(dir string) (string, error) {
	res, err := s.run(dir, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	if !res.ExitOK {
		return "", errors.New("HEAD is detached, not on any branch")
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// DetectMergeBase returns the common ancestor of the main branch and HEAD,
// cached per path with a 30s TTL. When no common ancestor exists it degrades
// to the main branch name itself rather than failing.
func (s *Service) DetectMergeBase(dir string) (string, error) {
	if v, ok := s.mergeBase.get(dir); ok {
		return v, nil
	}

	mainBranch, err := s.DetectMainBranch(dir)
	if err != nil {
		return "", err
	}

	base := mainBranch
	res, err := s.run(dir, "merge-base", mainBranch, "HEAD")
	if err != nil {
		return "", err
	}
	if res.ExitOK {
		if hash := strings.TrimSpace(string(res.Stdout)); hash != "" {
			base = hash
		}
	}

	s.mergeBase.put(dir, base)
	return base, nil
}

// invalidateMergeBase clears merge-base entries for every path. A merge or
// rebase on the main branch makes bases computed against the old graph
// unsafe for all worktrees, not just the one mutated.
func (s *Service) invalidateMergeBase() {
	s.mergeBase.clear()
}
