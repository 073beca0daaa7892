package executor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/devbridge/internal/domain"
	"github.com/ashureev/devbridge/internal/security"
)

// Executor runs one kind of action against a session snapshot and
// returns the step result body.
type Executor interface {
	Kind() domain.ActionKind
	Execute(ctx context.Context, sess *domain.Session, payload domain.Payload) (map[string]any, error)
}

// CommandExecutor runs shell commands through the safety analysis.
// Commands the sanitizer refuses never reach the runner.
type CommandExecutor struct {
	runner         Runner
	masker         *security.Masker
	policy         security.SanitizerPolicy
	defaultTimeout time.Duration
}

// NewCommandExecutor creates a command executor.
func NewCommandExecutor(runner Runner, masker *security.Masker, policy security.SanitizerPolicy, defaultTimeout time.Duration) *CommandExecutor {
	return &CommandExecutor{
		runner:         runner,
		masker:         masker,
		policy:         policy,
		defaultTimeout: defaultTimeout,
	}
}

func (e *CommandExecutor) Kind() domain.ActionKind { return domain.ActionRun }

func (e *CommandExecutor) Execute(ctx context.Context, sess *domain.Session, payload domain.Payload) (map[string]any, error) {
	return e.run(ctx, sess, payload)
}

// run is shared with the test executor, which wraps the same pipeline.
func (e *CommandExecutor) run(ctx context.Context, sess *domain.Session, payload domain.Payload) (map[string]any, error) {
	command := strings.TrimSpace(payload.Command)
	start := time.Now()

	verdict := security.Analyze(command, e.policy)
	if !verdict.IsSafe {
		return nil, &domain.UnsafeCommandError{Command: e.masker.Mask(command), Warnings: verdict.Warnings}
	}

	cwd, err := e.resolveCwd(sess, payload.Cwd)
	if err != nil {
		return nil, err
	}

	maskedCommand := e.masker.Mask(command)
	slog.Info("Executing command", "command", maskedCommand, "cwd", cwd, "sessionId", sess.ID)

	timeout := e.defaultTimeout
	if payload.Timeout > 0 {
		timeout = time.Duration(payload.Timeout) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := e.runner.Run(runCtx, cwd, command)
	if err != nil {
		return nil, fmt.Errorf("execute %q: %w", maskedCommand, err)
	}

	duration := time.Since(start)
	slog.Info("Command completed", "exitCode", out.ExitCode, "duration", duration, "sessionId", sess.ID)

	return map[string]any{
		"success":  out.ExitCode == 0,
		"command":  maskedCommand,
		"exitCode": out.ExitCode,
		"stdout":   e.masker.Mask(out.Stdout),
		"stderr":   e.masker.Mask(out.Stderr),
		"duration": duration.Milliseconds(),
	}, nil
}

// resolveCwd resolves the working directory against the session
// workspace and rejects anything outside the allowed paths.
func (e *CommandExecutor) resolveCwd(sess *domain.Session, cwd string) (string, error) {
	if cwd == "" {
		return sess.WorkspaceRoot, nil
	}
	if !filepath.IsAbs(cwd) {
		cwd = filepath.Join(sess.WorkspaceRoot, cwd)
	}
	cwd = filepath.Clean(cwd)

	for _, allowed := range e.policy.AllowedPaths {
		if strings.HasPrefix(cwd, allowed) {
			return cwd, nil
		}
	}
	return "", &domain.UnsafeCommandError{
		Command:  cwd,
		Warnings: []string{fmt.Sprintf("Working directory outside workspace: %s", cwd)},
	}
}
