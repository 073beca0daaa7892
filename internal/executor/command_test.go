package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/devbridge/internal/domain"
	"github.com/ashureev/devbridge/internal/security"
)

// mockRunner records invocations and returns a canned output.
type mockRunner struct {
	out   RunOutput
	err   error
	calls []string
}

func (r *mockRunner) Run(_ context.Context, dir, command string) (RunOutput, error) {
	r.calls = append(r.calls, dir+"|"+command)
	return r.out, r.err
}

func testSession() *domain.Session {
	return &domain.Session{
		ID:            "sess-1",
		Status:        domain.StatusActive,
		WorkspaceRoot: "/workspace",
		MaxSteps:      50,
	}
}

func commandPolicy() security.SanitizerPolicy {
	return security.SanitizerPolicy{
		AllowedCommands: []string{"npm", "go", "git", "jest", "pytest"},
		BlockedCommands: []string{"rm -rf /", "sudo"},
		AllowedPaths:    []string{"/workspace"},
		WorkspaceRoot:   "/workspace",
	}
}

func newTestCommandExecutor(runner Runner) *CommandExecutor {
	return NewCommandExecutor(runner, security.NewMasker(), commandPolicy(), time.Minute)
}

func TestCommandExecutor_Success(t *testing.T) {
	runner := &mockRunner{out: RunOutput{Stdout: "built", ExitCode: 0}}
	e := newTestCommandExecutor(runner)

	result, err := e.Execute(context.Background(), testSession(), domain.Payload{Command: "npm run build"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if result["success"] != true {
		t.Errorf("success = %v", result["success"])
	}
	if result["exitCode"] != 0 {
		t.Errorf("exitCode = %v", result["exitCode"])
	}
	if result["stdout"] != "built" {
		t.Errorf("stdout = %v", result["stdout"])
	}
	if len(runner.calls) != 1 || runner.calls[0] != "/workspace|npm run build" {
		t.Errorf("runner calls = %v", runner.calls)
	}
}

func TestCommandExecutor_UnsafeCommandNeverRuns(t *testing.T) {
	runner := &mockRunner{}
	e := newTestCommandExecutor(runner)

	_, err := e.Execute(context.Background(), testSession(), domain.Payload{Command: "npm install && rm -rf /"})

	var unsafeErr *domain.UnsafeCommandError
	if !errors.As(err, &unsafeErr) {
		t.Fatalf("error = %v, want *domain.UnsafeCommandError", err)
	}
	if len(unsafeErr.Warnings) == 0 {
		t.Error("unsafe error carries no warnings")
	}
	if len(runner.calls) != 0 {
		t.Fatal("unsafe command reached the runner")
	}
}

func TestCommandExecutor_NonZeroExit(t *testing.T) {
	runner := &mockRunner{out: RunOutput{Stderr: "boom", ExitCode: 2}}
	e := newTestCommandExecutor(runner)

	result, err := e.Execute(context.Background(), testSession(), domain.Payload{Command: "npm test"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result["success"] != false {
		t.Errorf("success = %v, want false for exit code 2", result["success"])
	}
	if result["exitCode"] != 2 {
		t.Errorf("exitCode = %v", result["exitCode"])
	}
}

func TestCommandExecutor_OutputIsMasked(t *testing.T) {
	runner := &mockRunner{out: RunOutput{
		Stdout: "connecting with password=hunter2",
		Stderr: "token=abcdefghij1234567890abcdef rejected",
	}}
	e := newTestCommandExecutor(runner)

	result, err := e.Execute(context.Background(), testSession(), domain.Payload{Command: "npm start"})
	if err != nil {
		t.Fatal(err)
	}

	if strings.Contains(result["stdout"].(string), "hunter2") {
		t.Errorf("stdout leaks credential: %v", result["stdout"])
	}
	if strings.Contains(result["stderr"].(string), "abcdefghij1234567890abcdef") {
		t.Errorf("stderr leaks credential: %v", result["stderr"])
	}
}

func TestCommandExecutor_CwdOutsideWorkspace(t *testing.T) {
	runner := &mockRunner{}
	e := newTestCommandExecutor(runner)

	_, err := e.Execute(context.Background(), testSession(), domain.Payload{Command: "npm test", Cwd: "/etc"})

	var unsafeErr *domain.UnsafeCommandError
	if !errors.As(err, &unsafeErr) {
		t.Fatalf("error = %v, want *domain.UnsafeCommandError", err)
	}
	if len(runner.calls) != 0 {
		t.Fatal("command ran outside the workspace")
	}
}

func TestCommandExecutor_RelativeCwd(t *testing.T) {
	runner := &mockRunner{out: RunOutput{ExitCode: 0}}
	e := newTestCommandExecutor(runner)

	_, err := e.Execute(context.Background(), testSession(), domain.Payload{Command: "npm test", Cwd: "app"})
	if err != nil {
		t.Fatal(err)
	}
	if runner.calls[0] != "/workspace/app|npm test" {
		t.Errorf("runner call = %q", runner.calls[0])
	}
}

func TestCommandExecutor_RunnerFailure(t *testing.T) {
	runner := &mockRunner{err: errors.New("shell not found")}
	e := newTestCommandExecutor(runner)

	_, err := e.Execute(context.Background(), testSession(), domain.Payload{Command: "npm test"})
	if err == nil {
		t.Fatal("expected error from failing runner")
	}
	if domain.ErrorCode(err) != domain.CodeExecutionError {
		t.Errorf("ErrorCode = %q, want EXECUTION_ERROR", domain.ErrorCode(err))
	}
}
