package shell

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolve_PathSeparatorPassthrough(t *testing.T) {
	if got := Resolve("/usr/bin/env"); got != "/usr/bin/env" {
		t.Fatalf("expected passthrough, got %q", got)
	}
	if got := Resolve("./relative/tool"); got != "./relative/tool" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestResolve_UnresolvableReturnsOriginal(t *testing.T) {
	name := "definitely-not-a-real-command-xyz"
	if got := Resolve(name); got != name {
		t.Fatalf("expected original name back, got %q", got)
	}
}

func TestIsExecutable(t *testing.T) {
	dir := t.TempDir()

	exe := filepath.Join(dir, "tool")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if !isExecutable(exe) {
		t.Fatal("expected executable file to qualify")
	}

	plain := filepath.Join(dir, "data")
	if err := os.WriteFile(plain, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if isExecutable(plain) {
		t.Fatal("expected non-executable file to be rejected")
	}

	if isExecutable(dir) {
		t.Fatal("expected directory to be rejected")
	}
	if isExecutable(filepath.Join(dir, "missing")) {
		t.Fatal("expected missing path to be rejected")
	}
}

func TestIsMinimalPath(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/usr/bin:/bin:/usr/sbin:/sbin", true},
		{"/usr/bin:/bin", true},
		{"/usr/local/bin:/usr/bin:/bin", false},
		{"/usr/bin:/bin:/usr/sbin:/sbin:/opt/homebrew/bin", false},
		{"/home/u/.nvm/versions/node/v20/bin:/usr/bin", false},
	}
	for _, c := range cases {
		if got := isMinimalPath(c.path); got != c.want {
			t.Fatalf("isMinimalPath(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestExtractPath(t *testing.T) {
	out := "some login banner\n" + pathMarker + "/opt/homebrew/bin:/usr/bin:/bin\ntrailing noise\n"
	if got := extractPath(out); got != "/opt/homebrew/bin:/usr/bin:/bin" {
		t.Fatalf("unexpected path: %q", got)
	}
}

func TestExtractPath_RejectsMinimal(t *testing.T) {
	out := pathMarker + "/usr/bin:/bin\n"
	if got := extractPath(out); got != "" {
		t.Fatalf("expected minimal path rejected, got %q", got)
	}
}

func TestExtractPath_NoMarker(t *testing.T) {
	if got := extractPath("PATH=/usr/bin\n"); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestMergePaths_DedupesPreservingOrder(t *testing.T) {
	merged := mergePaths([]string{
		"/a:/b:/c",
		"/b:/d",
	})
	want := strings.Join([]string{"/a", "/b", "/c", "/d"}, string(os.PathListSeparator))
	if merged != want {
		t.Fatalf("expected %q, got %q", want, merged)
	}
}
