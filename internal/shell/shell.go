// Package shell resolves the user's login shell PATH and executable names.
//
// When the server is launched from a desktop entry or a minimal service
// environment, the process PATH is often just the system directories and
// misses tool locations like ~/.nvm/.../bin or /opt/homebrew/bin. Agent
// CLIs installed there would fail to spawn, so the login shell PATH is
// resolved once and used for lookups and for the PATH handed to children.
package shell

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const resolveTimeout = 5 * time.Second

const pathMarker = "FOREMAN_PATH:"

var loginPath = sync.OnceValue(func() string {
	var paths []string

	// Login shell with -lc: sources .zprofile / .bash_profile but not the
	// rc files. Non-interactive, so TTY-dependent shell plugins don't hang.
	if p := resolveViaLoginShell(); p != "" {
		paths = append(paths, p)
	}

	// Source the rc file explicitly: nvm, pyenv and Homebrew shellenv often
	// only touch PATH there.
	if p := resolveViaRCFile(); p != "" {
		paths = append(paths, p)
	}

	return mergePaths(paths)
})

// LoginPath returns the user's login shell PATH, resolved once per process.
func LoginPath() (string, bool) {
	p := loginPath()
	return p, p != ""
}

// Resolve turns a bare command name into an absolute executable path using
// the login PATH, falling back to the process PATH. Names containing a path
// separator pass through unchanged, and unresolvable names are returned
// as-is so the spawn error names the original command.
func Resolve(command string) string {
	if strings.ContainsRune(command, os.PathSeparator) {
		return command
	}

	searchPath, ok := LoginPath()
	if !ok {
		searchPath = os.Getenv("PATH")
	}

	for dir := range strings.SplitSeq(searchPath, string(os.PathListSeparator)) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, command)
		if isExecutable(candidate) {
			return candidate
		}
	}
	return command
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

func resolveViaLoginShell() string {
	sh := os.Getenv("SHELL")
	if sh == "" {
		sh = "/bin/sh"
	}
	out := runWithTimeout(sh, "-lc", `printf "`+pathMarker+`%s\n" "$PATH"`)
	return extractPath(out)
}

func resolveViaRCFile() string {
	sh := os.Getenv("SHELL")
	var sourceCmd string
	switch filepath.Base(sh) {
	case "zsh":
		sourceCmd = `[ -f ~/.zshrc ] && source ~/.zshrc 2>/dev/null; printf "` + pathMarker + `%s\n" "$PATH"`
	case "bash":
		sourceCmd = `[ -f ~/.bashrc ] && source ~/.bashrc 2>/dev/null; printf "` + pathMarker + `%s\n" "$PATH"`
	default:
		return ""
	}
	out := runWithTimeout(sh, "-c", sourceCmd)
	return extractPath(out)
}

// extractPath pulls the marked PATH line out of shell output and rejects
// empty or minimal results.
func extractPath(out string) string {
	for line := range strings.Lines(out) {
		p, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), pathMarker)
		if !ok {
			continue
		}
		if p != "" && !isMinimalPath(p) {
			return p
		}
	}
	return ""
}

func runWithTimeout(program string, args ...string) string {
	cmd := exec.Command(program, args...)
	cmd.Stdin = nil

	var out strings.Builder
	cmd.Stdout = &out
	if err := cmd.Start(); err != nil {
		return ""
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return ""
		}
		return out.String()
	case <-time.After(resolveTimeout):
		_ = cmd.Process.Kill()
		<-done
		return ""
	}
}

// isMinimalPath reports whether the PATH looks like the bare system default,
// with no user tool directories. /usr/local/bin is not minimal; Homebrew on
// Intel Macs installs there.
func isMinimalPath(path string) bool {
	entries := strings.Split(path, string(os.PathListSeparator))
	if len(entries) > 4 {
		return false
	}
	for _, e := range entries {
		switch e {
		case "/usr/bin", "/bin", "/usr/sbin", "/sbin":
		default:
			return false
		}
	}
	return true
}

// mergePaths joins PATH strings, deduplicating entries while preserving order.
func mergePaths(paths []string) string {
	seen := make(map[string]bool)
	var result []string
	for _, p := range paths {
		for entry := range strings.SplitSeq(p, string(os.PathListSeparator)) {
			if entry == "" || seen[entry] {
				continue
			}
			seen[entry] = true
			result = append(result, entry)
		}
	}
	return strings.Join(result, string(os.PathListSeparator))
}
