// Package agent holds the catalog of supported coding agent CLIs.
package agent

import (
	"os/exec"

	"github.com/conduitworks/foreman/internal/shell"
)

// Def describes one agent CLI: how to launch it fresh and how to resume its
// previous conversation in the same directory.
type Def struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Command     string   `json:"command"`
	Args        []string `json:"args"`
	ResumeArgs  []string `json:"resumeArgs"`
	Description string   `json:"description"`
}

// Defaults returns the built-in agent catalog.
func Defaults() []Def {
	return []Def{
		{
			ID:          "claude-code",
			Name:        "Claude Code",
			Command:     "claude",
			ResumeArgs:  []string{"--continue"},
			Description: "Anthropic's Claude Code CLI agent",
		},
		{
			ID:          "codex",
			Name:        "Codex CLI",
			Command:     "codex",
			ResumeArgs:  []string{"resume", "--last"},
			Description: "OpenAI's Codex CLI agent",
		},
		{
			ID:          "gemini",
			Name:        "Gemini CLI",
			Command:     "gemini",
			ResumeArgs:  []string{"--resume", "latest"},
			Description: "Google's Gemini CLI agent",
		},
	}
}

// Lookup finds a catalog entry by id.
func Lookup(id string) (Def, bool) {
	for _, d := range Defaults() {
		if d.ID == id {
			return d, true
		}
	}
	return Def{}, false
}

// CommandInfo reports whether an agent command exists on this system, and
// where. Resolution goes through the login-shell PATH first so agents
// installed by version managers are found even when the server itself was
// launched with a minimal PATH.
type CommandInfo struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
}

// Availability checks every catalog entry's command.
func Availability() map[string]CommandInfo {
	result := make(map[string]CommandInfo)
	for _, d := range Defaults() {
		resolved := shell.Resolve(d.Command)
		path, err := exec.LookPath(resolved)
		result[d.ID] = CommandInfo{
			Available: err == nil,
			Path:      path,
		}
	}
	return result
}
