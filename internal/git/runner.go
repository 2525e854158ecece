package git

import (
	"bytes"
	"fmt"
	"os/exec"
)

// Result captures one external git invocation.
type Result struct {
	ExitOK bool
	Stdout []byte
	Stderr []byte
}

// Runner executes a single git command rooted at a working directory.
// A non-zero exit status is reported through Result, not the error; the
// error is reserved for the command failing to run at all.
type Runner interface {
	Run(dir string, args ...string) (Result, error)
}

type execRunner struct{}

func (execRunner) Run(dir string, args ...string) (Result, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return Result{}, fmt.Errorf("git %s: %w", args[0], err)
		}
	}

	return Result{
		ExitOK: err == nil,
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}, nil
}
