package executor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/devbridge/internal/domain"
)

// StatusExecutor reports the session's progress and the workspace's
// git state. Read-only; never prompts for approval.
type StatusExecutor struct {
	runner Runner
}

// NewStatusExecutor creates a status executor.
func NewStatusExecutor(runner Runner) *StatusExecutor {
	return &StatusExecutor{runner: runner}
}

func (e *StatusExecutor) Kind() domain.ActionKind { return domain.ActionStatus }

func (e *StatusExecutor) Execute(ctx context.Context, sess *domain.Session, _ domain.Payload) (map[string]any, error) {
	result := map[string]any{
		"success":       true,
		"sessionId":     sess.ID,
		"sessionStatus": string(sess.Status),
		"stepCount":     len(sess.Steps),
		"maxSteps":      sess.MaxSteps,
		"workspaceRoot": sess.WorkspaceRoot,
	}

	// Git state is best effort; a workspace without git is not an error.
	if branch, ok := e.git(ctx, sess.WorkspaceRoot, "git rev-parse --abbrev-ref HEAD"); ok {
		result["gitBranch"] = branch
	}
	if porcelain, ok := e.git(ctx, sess.WorkspaceRoot, "git status --porcelain"); ok {
		result["dirtyFiles"] = parsePorcelain(porcelain)
	}

	return result, nil
}

func (e *StatusExecutor) git(ctx context.Context, dir, command string) (string, bool) {
	out, err := e.runner.Run(ctx, dir, command)
	if err != nil || out.ExitCode != 0 {
		slog.Debug("Git status probe failed", "command", command, "error", err, "exitCode", out.ExitCode)
		return "", false
	}
	return strings.TrimSpace(out.Stdout), true
}

// parsePorcelain extracts file names from `git status --porcelain`
// lines: a status prefix, whitespace, then the path.
func parsePorcelain(output string) []string {
	files := []string{}
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		files = append(files, fields[len(fields)-1])
	}
	return files
}
