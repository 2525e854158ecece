package git

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Worktree identifies an isolated working copy on its own branch.
type Worktree struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

// WorktreePath returns where the worktree for a branch lives under the
// repository root.
func WorktreePath(repoRoot, branch string) string {
	return filepath.Join(repoRoot, ".worktrees", branch)
}

// Directories worth symlinking into worktrees: AI tool configs and
// dependency caches.
var symlinkCandidates = []string{
	".claude",
	".cursor",
	".aider",
	".copilot",
	".codeium",
	".continue",
	".windsurf",
	"node_modules",
}

// GitignoredDirs returns the top-level gitignored directories that are
// useful to symlink into a fresh worktree.
func (s *Service) GitignoredDirs(repoRoot string) []string {
	var dirs []string
	for _, name := range symlinkCandidates {
		info, err := os.Stat(filepath.Join(repoRoot, name))
		if err != nil || !info.IsDir() {
			continue
		}
		res, err := s.run(repoRoot, "check-ignore", "-q", name)
		if err != nil || !res.ExitOK {
			continue
		}
		dirs = append(dirs, name)
	}
	return dirs
}

// CreateWorktree creates a working copy on a new branch under
// <root>/.worktrees/<branch>, attaching to an existing branch of that name
// if creating one races with a prior identical name. Directories in
// symlinkDirs are linked from the main tree into the new one, best-effort.
func (s *Service) CreateWorktree(repoRoot, branch string, symlinkDirs []string) (Worktree, error) {
	worktreePath := WorktreePath(repoRoot, branch)
	s.logger.Info("creating worktree", "branch", branch, "path", worktreePath)

	res, err := s.run(repoRoot, "worktree", "add", "-b", branch, worktreePath)
	if err != nil {
		return Worktree{}, err
	}
	if !res.ExitOK {
		// Branch may already exist; attach to it instead.
		res, err = s.run(repoRoot, "worktree", "add", worktreePath, branch)
		if err != nil {
			return Worktree{}, err
		}
	}
	if !res.ExitOK {
		return Worktree{}, fmt.Errorf("failed to create worktree: %s", strings.TrimSpace(string(res.Stderr)))
	}

	for _, name := range symlinkDirs {
		source := filepath.Join(repoRoot, name)
		target := filepath.Join(worktreePath, name)
		if info, err := os.Stat(source); err != nil || !info.IsDir() {
			continue
		}
		// Only link directories git already ignores; linking tracked
		// content would alias it across working copies.
		if res, err := s.run(repoRoot, "check-ignore", "-q", name); err != nil || !res.ExitOK {
			continue
		}
		if _, err := os.Lstat(target); err == nil {
			continue
		}
		if err := os.Symlink(source, target); err != nil {
			s.logger.Warn("failed to symlink into worktree", "dir", name, "err", err)
		}
	}

	return Worktree{Path: worktreePath, Branch: branch}, nil
}

// RemoveWorktree removes a working copy and its registration, falling back
// to deleting the directory tree when git no longer recognizes it, and
// prunes stale registrations afterward. Branch deletion is best-effort.
// No-ops successfully when the repository root itself is gone.
func (s *Service) RemoveWorktree(repoRoot, branch string, deleteBranch bool) error {
	worktreePath := WorktreePath(repoRoot, branch)
	s.logger.Info("removing worktree", "branch", branch, "path", worktreePath, "deleteBranch", deleteBranch)

	if _, err := os.Stat(repoRoot); err != nil {
		s.logger.Info("project directory gone, skipping git cleanup", "root", repoRoot)
		return nil
	}

	if _, err := os.Stat(worktreePath); err == nil {
		res, err := s.run(repoRoot, "worktree", "remove", "--force", worktreePath)
		if err != nil {
			return err
		}
		if !res.ExitOK {
			s.logger.Info("git worktree remove failed, removing directory directly",
				"branch", branch, "stderr", strings.TrimSpace(string(res.Stderr)))
			if err := os.RemoveAll(worktreePath); err != nil {
				s.logger.Warn("failed to remove worktree directory", "path", worktreePath, "err", err)
			}
		}
	}

	// Prune stale entries so git doesn't keep referencing missing directories.
	if _, err := s.run(repoRoot, "worktree", "prune"); err != nil {
		s.logger.Warn("worktree prune failed", "err", err)
	}

	if deleteBranch {
		if _, err := s.run(repoRoot, "branch", "-D", "--", branch); err != nil {
			s.logger.Warn("branch delete failed", "branch", branch, "err", err)
		}
	}

	return nil
}
