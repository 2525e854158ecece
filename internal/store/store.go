// Package store keeps task records in a local sqlite database so the
// frontend can list tasks across restarts. Worktrees and branches remain
// the source of truth; the store is bookkeeping only.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("task record not found")

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id       TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	branch        TEXT NOT NULL,
	worktree_path TEXT NOT NULL,
	project_root  TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
`

type TaskRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Branch       string    `json:"branch"`
	WorktreePath string    `json:"worktreePath"`
	ProjectRoot  string    `json:"projectRoot"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) SaveTask(t TaskRecord) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
INSERT INTO tasks(task_id, name, branch, worktree_path, project_root, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET
	name=excluded.name,
	branch=excluded.branch,
	worktree_path=excluded.worktree_path,
	project_root=excluded.project_root
`, t.ID, t.Name, t.Branch, t.WorktreePath, t.ProjectRoot, t.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *Store) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE task_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *Store) ListTasks() ([]TaskRecord, error) {
	rows, err := s.db.Query(`
SELECT task_id, name, branch, worktree_path, project_root, created_at
FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []TaskRecord
	for rows.Next() {
		var t TaskRecord
		var created string
		if err := rows.Scan(&t.ID, &t.Name, &t.Branch, &t.WorktreePath, &t.ProjectRoot, &created); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, created)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
