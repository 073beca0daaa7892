// Package executor implements the per-action executors behind the
// action dispatch pipeline.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// RunOutput is the captured result of one command invocation.
type RunOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner invokes a command line in a working directory. A non-zero
// exit code is not an error; errors mean the command could not run or
// the context expired.
type Runner interface {
	Run(ctx context.Context, dir, command string) (RunOutput, error)
}

// ShellRunner executes commands through a local shell.
type ShellRunner struct {
	Shell string // e.g. "bash"
}

// Run executes command via `shell -c` with stdout and stderr captured
// separately.
func (r *ShellRunner) Run(ctx context.Context, dir, command string) (RunOutput, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := RunOutput{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, fmt.Errorf("command interrupted: %w", ctxErr)
		}
		return out, fmt.Errorf("run command: %w", err)
	}

	return out, nil
}
