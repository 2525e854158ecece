// Package task turns human task names into branches and isolated worktrees,
// and ties agent sessions to them.
package task

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/conduitworks/foreman/internal/git"
	"github.com/conduitworks/foreman/internal/session"
	"github.com/conduitworks/foreman/internal/store"
)

// DefaultBranchPrefix namespaces task branches when the caller supplies none.
const DefaultBranchPrefix = "task"

const maxSlugLen = 64

// Task is the result of creating a task: an id, its branch and its worktree.
type Task struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	BranchName   string `json:"branchName"`
	WorktreePath string `json:"worktreePath"`
}

type Service struct {
	git      *git.Service
	sessions *session.Manager
	store    *store.Store // nil disables record keeping
	logger   *slog.Logger
}

func NewService(g *git.Service, sessions *session.Manager, st *store.Store, logger *slog.Logger) *Service {
	return &Service{git: g, sessions: sessions, store: st, logger: logger}
}

// Slug lowercases a name, collapses runs of non-alphanumerics to single
// hyphens, trims leading/trailing hyphens and caps the length.
func Slug(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	return s
}

// BranchName combines a sanitized multi-segment prefix with the slug of the
// task name, joined by "/". An empty prefix falls back to "task".
func BranchName(prefix, name string) string {
	segments := []string{}
	for seg := range strings.SplitSeq(prefix, "/") {
		if s := Slug(seg); s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		segments = []string{DefaultBranchPrefix}
	}
	return strings.Join(segments, "/") + "/" + Slug(name)
}

// Create makes a branch and worktree for a new task. symlinkDirs names
// top-level gitignored directories to link from the main tree.
func (s *Service) Create(name, projectRoot, branchPrefix string, symlinkDirs []string) (Task, error) {
	branch := BranchName(branchPrefix, name)
	s.logger.Info("creating task", "name", name, "branch", branch, "root", projectRoot)

	worktree, err := s.git.CreateWorktree(projectRoot, branch, symlinkDirs)
	if err != nil {
		return Task{}, fmt.Errorf("create task %q: %w", name, err)
	}

	t := Task{
		ID:           uuid.New().String(),
		Name:         name,
		BranchName:   worktree.Branch,
		WorktreePath: worktree.Path,
	}

	if s.store != nil {
		// Record keeping is secondary to the worktree existing.
		if err := s.store.SaveTask(store.TaskRecord{
			ID:           t.ID,
			Name:         t.Name,
			Branch:       t.BranchName,
			WorktreePath: t.WorktreePath,
			ProjectRoot:  projectRoot,
		}); err != nil {
			s.logger.Warn("failed to persist task record", "task", t.ID, "err", err)
		}
	}

	s.logger.Info("task created", "id", t.ID, "branch", t.BranchName, "path", t.WorktreePath)
	return t, nil
}

// Delete kills the task's agent sessions, then removes the worktree and,
// when requested, its branch.
func (s *Service) Delete(taskID string, agentIDs []string, branch, projectRoot string, deleteBranch bool) error {
	s.logger.Info("deleting task", "task", taskID, "branch", branch, "agents", agentIDs, "deleteBranch", deleteBranch)

	for _, agentID := range agentIDs {
		s.sessions.Kill(agentID)
	}

	if err := s.git.RemoveWorktree(projectRoot, branch, deleteBranch); err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}

	if s.store != nil && taskID != "" {
		if err := s.store.DeleteTask(taskID); err != nil {
			s.logger.Warn("failed to delete task record", "task", taskID, "err", err)
		}
	}

	return nil
}
