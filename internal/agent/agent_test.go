package agent

import "testing"

func TestLookup(t *testing.T) {
	d, ok := Lookup("claude-code")
	if !ok {
		t.Fatal("expected claude-code in catalog")
	}
	if d.Command != "claude" {
		t.Fatalf("unexpected command: %q", d.Command)
	}
	if len(d.ResumeArgs) == 0 {
		t.Fatal("expected resume args")
	}

	if _, ok := Lookup("unknown-agent"); ok {
		t.Fatal("expected miss for unknown agent")
	}
}

func TestDefaults_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for _, d := range Defaults() {
		if seen[d.ID] {
			t.Fatalf("duplicate agent id %q", d.ID)
		}
		seen[d.ID] = true
		if d.Command == "" {
			t.Fatalf("agent %q has no command", d.ID)
		}
	}
}
