package git

import (
	"errors"
	"strings"
	"testing"
)

func mainOnMain(f *fakeRunner) {
	f.ok("symbolic-ref refs/remotes/origin/HEAD", "refs/remotes/origin/main\n")
}

func TestCheckMergeStatus_NotAhead(t *testing.T) {
	f := newFakeRunner()
	mainOnMain(f)
	f.ok("rev-list --count HEAD..main", "0\n")
	s := newTestService(f)

	status, err := s.CheckMergeStatus("/repo")
	if err != nil {
		t.Fatal(err)
	}
	if status.MainAheadCount != 0 {
		t.Fatalf("expected ahead count 0, got %d", status.MainAheadCount)
	}
	if len(status.ConflictingFiles) != 0 {
		t.Fatalf("expected no conflicts, got %v", status.ConflictingFiles)
	}
	if f.called("merge-tree --write-tree HEAD main") {
		t.Fatal("dry run should be skipped when main is not ahead")
	}
}

func TestCheckMergeStatus_Conflicts(t *testing.T) {
	f := newFakeRunner()
	mainOnMain(f)
	f.ok("rev-list --count HEAD..main", "2\n")
	f.responses["merge-tree --write-tree HEAD main"] = Result{
		Stdout: []byte("deadbeef\nCONFLICT (content): Merge conflict in src/app.go\nCONFLICT (content): Merge conflict in README.md\n"),
	}
	s := newTestService(f)

	status, err := s.CheckMergeStatus("/repo")
	if err != nil {
		t.Fatal(err)
	}
	if status.MainAheadCount != 2 {
		t.Fatalf("expected ahead count 2, got %d", status.MainAheadCount)
	}
	want := []string{"src/app.go", "README.md"}
	if len(status.ConflictingFiles) != len(want) {
		t.Fatalf("expected %v, got %v", want, status.ConflictingFiles)
	}
	for i, p := range want {
		if status.ConflictingFiles[i] != p {
			t.Fatalf("expected %v, got %v", want, status.ConflictingFiles)
		}
	}
}

func TestMergeTask_DirtyTree(t *testing.T) {
	f := newFakeRunner()
	mainOnMain(f)
	f.ok("diff --numstat main..task/fix", "1\t0\tfile.go\n")
	f.ok("status --porcelain", " M file.go\n")
	s := newTestService(f)

	_, err := s.MergeTask("/repo", "task/fix", false, "", false)
	if !errors.Is(err, ErrDirtyWorktree) {
		t.Fatalf("expected ErrDirtyWorktree, got %v", err)
	}
	if f.called("checkout main") {
		t.Fatal("merge should not proceed with a dirty tree")
	}
}

func TestMergeTask_SquashUsesDefaultMessage(t *testing.T) {
	f := newFakeRunner()
	mainOnMain(f)
	f.ok("diff --numstat main..task/fix", "3\t1\ta.go\n2\t0\tb.go\n")
	f.ok("status --porcelain", "")
	s := newTestService(f)

	result, err := s.MergeTask("/repo", "task/fix", true, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if result.MainBranch != "main" {
		t.Fatalf("expected main, got %q", result.MainBranch)
	}
	if result.LinesAdded != 5 || result.LinesRemoved != 1 {
		t.Fatalf("expected 5/1 line stats, got %d/%d", result.LinesAdded, result.LinesRemoved)
	}
	if !f.called("merge --squash -- task/fix") {
		t.Fatal("expected squash merge invocation")
	}
	if !f.called("commit -m Squash merge") {
		t.Fatal("expected commit with default squash message")
	}
}

func TestMergeTask_PlainMerge(t *testing.T) {
	f := newFakeRunner()
	mainOnMain(f)
	f.ok("diff --numstat main..task/fix", "")
	f.ok("status --porcelain", "")
	s := newTestService(f)

	if _, err := s.MergeTask("/repo", "task/fix", false, "", false); err != nil {
		t.Fatal(err)
	}
	if !f.called("merge -- task/fix") {
		t.Fatal("expected plain merge invocation")
	}
	if f.called("merge --squash -- task/fix") {
		t.Fatal("unexpected squash merge")
	}
}

func TestRebaseTask_AbortsOnFailure(t *testing.T) {
	f := newFakeRunner()
	mainOnMain(f)
	f.fail("rebase main", "CONFLICT (content): Merge conflict in a.go\n")
	s := newTestService(f)

	err := s.RebaseTask("/repo")
	if err == nil {
		t.Fatal("expected rebase failure")
	}
	if !strings.Contains(err.Error(), "rebase failed") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.called("rebase --abort") {
		t.Fatal("expected rebase --abort after failure")
	}
}

func TestPushTask_FailureSurfacesStderr(t *testing.T) {
	f := newFakeRunner()
	f.fail("push -u origin -- task/fix", "fatal: 'origin' does not appear to be a git repository\n")
	s := newTestService(f)

	err := s.PushTask("/repo", "task/fix")
	if err == nil {
		t.Fatal("expected push failure")
	}
	if !strings.Contains(err.Error(), "origin") {
		t.Fatalf("error missing stderr text: %v", err)
	}
}
