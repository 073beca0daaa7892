package executor

import (
	"context"
	"regexp"
	"strings"

	"github.com/ashureev/devbridge/internal/domain"
)

// DiagnosticsExecutor runs the configured diagnostics command and
// parses compiler-style findings out of its output. Read-only.
type DiagnosticsExecutor struct {
	runner  Runner
	command string
}

// NewDiagnosticsExecutor creates a diagnostics executor. command is
// operator-configured, e.g. "go vet ./..." or "npx eslint .".
func NewDiagnosticsExecutor(runner Runner, command string) *DiagnosticsExecutor {
	return &DiagnosticsExecutor{runner: runner, command: command}
}

func (e *DiagnosticsExecutor) Kind() domain.ActionKind { return domain.ActionDiagnostics }

// diagnosticLine matches "path/to/file.go:12:4: message" with the
// column optional.
var diagnosticLine = regexp.MustCompile(`^(.+?):(\d+)(?::(\d+))?:\s*(.+)$`)

func (e *DiagnosticsExecutor) Execute(ctx context.Context, sess *domain.Session, payload domain.Payload) (map[string]any, error) {
	out, err := e.runner.Run(ctx, sess.WorkspaceRoot, e.command)
	if err != nil {
		return nil, err
	}

	findings := ParseDiagnostics(out.Stdout + "\n" + out.Stderr)
	if len(payload.Files) > 0 {
		findings = filterByFiles(findings, payload.Files)
	}

	errorsOut := []map[string]any{}
	warnings := []map[string]any{}
	for _, f := range findings {
		if f.Severity == "warning" {
			warnings = append(warnings, f.asMap())
		} else {
			errorsOut = append(errorsOut, f.asMap())
		}
	}

	return map[string]any{
		"success":  true,
		"errors":   errorsOut,
		"warnings": warnings,
	}, nil
}

// Finding is one parsed diagnostics line.
type Finding struct {
	File     string
	Line     int
	Column   int
	Severity string
	Message  string
}

func (f Finding) asMap() map[string]any {
	return map[string]any{
		"file":     f.File,
		"line":     f.Line,
		"column":   f.Column,
		"severity": f.Severity,
		"message":  f.Message,
	}
}

// ParseDiagnostics extracts file:line[:col]: message findings. A
// message mentioning "warning" is a warning; everything else is an
// error.
func ParseDiagnostics(output string) []Finding {
	var findings []Finding
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		m := diagnosticLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		f := Finding{
			File:     m[1],
			Line:     atoi(m[2]),
			Column:   atoi(m[3]),
			Message:  strings.TrimSpace(m[4]),
			Severity: "error",
		}
		if strings.Contains(strings.ToLower(f.Message), "warning") {
			f.Severity = "warning"
			f.Message = strings.TrimSpace(strings.TrimPrefix(f.Message, "warning:"))
		}
		findings = append(findings, f)
	}
	return findings
}

func filterByFiles(findings []Finding, files []string) []Finding {
	var out []Finding
	for _, f := range findings {
		for _, want := range files {
			if strings.Contains(f.File, want) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}
