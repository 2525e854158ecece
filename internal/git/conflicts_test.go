package git

import "testing"

func TestParseConflicts_ContentConflict(t *testing.T) {
	stdout := "deadbeef\nCONFLICT (content): Merge conflict in internal/app/main.go\nsome other line\n"
	paths := parseConflicts(stdout, "")
	if len(paths) != 1 || paths[0] != "internal/app/main.go" {
		t.Fatalf("expected single content conflict, got %v", paths)
	}
}

func TestParseConflicts_ModifyDeleteFallback(t *testing.T) {
	stdout := "CONFLICT (modify/delete): docs/readme.md deleted in HEAD and modified in main\n"
	paths := parseConflicts(stdout, "")
	if len(paths) != 1 || paths[0] != "docs/readme.md" {
		t.Fatalf("expected fallback-parsed path, got %v", paths)
	}
}

func TestParseConflicts_StderrFallback(t *testing.T) {
	stderr := "CONFLICT (content): Merge conflict in a.txt\n"
	paths := parseConflicts("no conflicts here", stderr)
	if len(paths) != 1 || paths[0] != "a.txt" {
		t.Fatalf("expected stderr fallback, got %v", paths)
	}
}

func TestParseConflicts_StdoutWinsOverStderr(t *testing.T) {
	stdout := "CONFLICT (content): Merge conflict in from-stdout.go\n"
	stderr := "CONFLICT (content): Merge conflict in from-stderr.go\n"
	paths := parseConflicts(stdout, stderr)
	if len(paths) != 1 || paths[0] != "from-stdout.go" {
		t.Fatalf("expected stdout to take precedence, got %v", paths)
	}
}

func TestParseConflicts_NoConflicts(t *testing.T) {
	if paths := parseConflicts("clean merge\n", ""); len(paths) != 0 {
		t.Fatalf("expected no conflicts, got %v", paths)
	}
}
