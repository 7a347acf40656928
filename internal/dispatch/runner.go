package dispatch

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// RunResult is the raw outcome of a process that was started.
type RunResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// CommandRunner starts path with args and exactly env as its environment and
// waits for it to exit. An error means the process could not be started or
// waited for; a non-zero exit is reported in RunResult.
type CommandRunner interface {
	Run(ctx context.Context, path string, args, env []string) (RunResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner. The process is not tied to ctx: once started
// it runs to completion.
func (ExecRunner) Run(ctx context.Context, path string, args, env []string) (RunResult, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.Command(path, args...)
	// A nil Env would inherit the parent's environment.
	cmd.Env = append([]string{}, env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return RunResult{}, err
	}

	err := cmd.Wait()
	res := RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}
