package git

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ChangedFile is one file changed since the merge base, with uncommitted
// and untracked changes folded in.
type ChangedFile struct {
	Path         string `json:"path"`
	LinesAdded   int    `json:"linesAdded"`
	LinesRemoved int    `json:"linesRemoved"`
	Status       string `json:"status"`
	Committed    bool   `json:"committed"`
}

// WorktreeState summarizes whether a working copy diverges from main.
type WorktreeState struct {
	HasCommittedChanges   bool `json:"hasCommittedChanges"`
	HasUncommittedChanges bool `json:"hasUncommittedChanges"`
}

// ChangedFiles lists everything changed since the cached merge base, merged
// with uncommitted and untracked paths from the working-tree status. Query
// failures degrade to an empty list with a warning rather than an error.
func (s *Service) ChangedFiles(dir string) []ChangedFile {
	base, err := s.DetectMergeBase(dir)
	if err != nil {
		base = "HEAD"
	}

	// One diff invocation carries both --name-status and --numstat output:
	// numstat lines have 3 tab-separated fields (added, removed, path),
	// name-status lines have 2 (status, path).
	var diffOut string
	if res, err := s.run(dir, "diff", "--name-status", "--numstat", base); err != nil {
		s.logger.Warn("git diff --name-status --numstat failed", "err", err)
	} else {
		diffOut = string(res.Stdout)
	}

	statusByPath := make(map[string]string)
	type stat struct{ added, removed int }
	numstatByPath := make(map[string]stat)

	for _, line := range strings.Split(diffOut, "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) >= 3 {
			added, errA := strconv.Atoi(parts[0])
			removed, errB := strconv.Atoi(parts[1])
			if errA == nil && errB == nil {
				if path := normalizeStatusPath(parts[len(parts)-1]); path != "" {
					numstatByPath[path] = stat{added, removed}
				}
				continue
			}
		}
		if len(parts) >= 2 {
			status := "M"
			if parts[0] != "" {
				status = parts[0][:1]
			}
			if path := normalizeStatusPath(parts[len(parts)-1]); path != "" {
				statusByPath[path] = status
			}
		}
	}

	var statusOut string
	if res, err := s.run(dir, "status", "--porcelain"); err != nil {
		s.logger.Warn("git status --porcelain failed", "err", err)
	} else {
		statusOut = string(res.Stdout)
	}

	uncommitted := make(map[string]bool)
	for _, line := range strings.Split(statusOut, "\n") {
		if len(line) < 3 {
			continue
		}
		path := normalizeStatusPath(strings.TrimLeft(line[3:], " "))
		if path == "" {
			continue
		}
		if strings.HasPrefix(line, "??") {
			if _, ok := statusByPath[path]; !ok {
				statusByPath[path] = "?"
			}
		}
		uncommitted[path] = true
	}

	var files []ChangedFile
	seen := make(map[string]bool)
	for path, st := range numstatByPath {
		status, ok := statusByPath[path]
		if !ok {
			status = "M"
		}
		seen[path] = true
		files = append(files, ChangedFile{
			Path:         path,
			LinesAdded:   st.added,
			LinesRemoved: st.removed,
			Status:       status,
			Committed:    !uncommitted[path],
		})
	}

	// Files only in the status map, e.g. untracked: count their lines
	// directly without loading the file into memory.
	for path, status := range statusByPath {
		if seen[path] {
			continue
		}
		files = append(files, ChangedFile{
			Path:       path,
			LinesAdded: countFileLines(filepath.Join(dir, path)),
			Status:     status,
			Committed:  !uncommitted[path],
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Committed != files[j].Committed {
			return !files[i].Committed
		}
		return files[i].Path < files[j].Path
	})
	return files
}

// normalizeStatusPath unwraps quoting and maps rename/copy entries like
// "old/path -> new/path" to their destination.
func normalizeStatusPath(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if i := strings.LastIndex(trimmed, " -> "); i >= 0 {
		trimmed = strings.TrimSpace(trimmed[i+4:])
	}
	return strings.TrimSuffix(strings.TrimPrefix(trimmed, `"`), `"`)
}

func countFileLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return 0
	}
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		count++
	}
	return count
}

// FileDiff returns the unified diff of one file against the cached merge
// base. An empty diff for an existing file means it is untracked, so an
// all-additions patch is synthesized from its contents.
func (s *Service) FileDiff(dir, file string) (string, error) {
	base, err := s.DetectMergeBase(dir)
	if err != nil {
		base = "HEAD"
	}

	res, err := s.run(dir, "diff", base, "--", file)
	if err != nil {
		return "", err
	}
	diff := string(res.Stdout)
	if strings.TrimSpace(diff) != "" {
		return diff, nil
	}

	fullPath := filepath.Join(dir, file)
	if _, err := os.Stat(fullPath); err != nil {
		return diff, nil
	}
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	lines := splitLines(string(content))
	var b strings.Builder
	fmt.Fprintf(&b, "--- /dev/null\n+++ b/%s\n@@ -0,0 +1,%d @@\n", file, len(lines))
	for _, line := range lines {
		b.WriteByte('+')
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// splitLines splits on line feeds without producing a trailing empty line.
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// WorktreeStatus reports whether a working copy has committed changes
// relative to main or uncommitted changes in the tree.
func (s *Service) WorktreeStatus(dir string) (WorktreeState, error) {
	statusOut, err := s.output(dir, "status failed", "status", "--porcelain")
	if err != nil {
		return WorktreeState{}, err
	}

	mainBranch, err := s.DetectMainBranch(dir)
	if err != nil {
		mainBranch = "HEAD"
	}
	logOut, err := s.output(dir, "log failed", "log", mainBranch+"..HEAD", "--oneline")
	if err != nil {
		return WorktreeState{}, err
	}

	return WorktreeState{
		HasCommittedChanges:   logOut != "",
		HasUncommittedChanges: statusOut != "",
	}, nil
}

// BranchLog returns one-line subjects for commits on the current branch
// since main, for pre-filling squash messages.
func (s *Service) BranchLog(dir string) (string, error) {
	mainBranch, err := s.DetectMainBranch(dir)
	if err != nil {
		mainBranch = "HEAD"
	}
	res, err := s.run(dir, "log", mainBranch+"..HEAD", "--pretty=format:- %s")
	if err != nil {
		return "", err
	}
	return string(res.Stdout), nil
}
