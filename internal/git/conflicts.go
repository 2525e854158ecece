package git

import "strings"

const conflictInPhrase = "Merge conflict in "

// parseConflicts scrapes conflicting paths out of merge-tree output.
// Known formats:
//
//	CONFLICT (content): Merge conflict in <path>
//	CONFLICT (modify/delete): <path> deleted in ...
//
// Stdout is scanned first; stderr only if stdout yields nothing. This is
// text scraping of a tool's human-readable output and deliberately isolated
// here so the patterns can evolve without touching callers.
func parseConflicts(stdout, stderr string) []string {
	paths := scanConflictLines(stdout)
	if len(paths) == 0 {
		paths = scanConflictLines(stderr)
	}
	return paths
}

func scanConflictLines(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "CONFLICT") {
			continue
		}
		if i := strings.Index(trimmed, conflictInPhrase); i >= 0 {
			if path := strings.TrimSpace(trimmed[i+len(conflictInPhrase):]); path != "" {
				paths = append(paths, path)
				continue
			}
		}
		// Fallback: first token after "): " is the path.
		if _, after, ok := strings.Cut(trimmed, "): "); ok {
			if fields := strings.Fields(after); len(fields) > 0 {
				paths = append(paths, fields[0])
			}
		}
	}
	return paths
}
