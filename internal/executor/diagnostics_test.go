package executor

import (
	"context"
	"testing"

	"github.com/ashureev/devbridge/internal/domain"
)

func TestDiagnosticsExecutor_ParsesFindings(t *testing.T) {
	output := `main.go:10:2: undefined: frobnicate
util/helpers.go:3: warning: unused variable x
some unrelated line
`
	runner := &mockRunner{out: RunOutput{Stdout: output, ExitCode: 1}}
	e := NewDiagnosticsExecutor(runner, "go vet ./...")

	result, err := e.Execute(context.Background(), testSession(), domain.Payload{})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	errors := result["errors"].([]map[string]any)
	warnings := result["warnings"].([]map[string]any)

	if len(errors) != 1 {
		t.Fatalf("got %d errors, want 1", len(errors))
	}
	if errors[0]["file"] != "main.go" || errors[0]["line"] != 10 || errors[0]["column"] != 2 {
		t.Errorf("error finding = %v", errors[0])
	}
	if errors[0]["message"] != "undefined: frobnicate" {
		t.Errorf("message = %v", errors[0]["message"])
	}

	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}
	if warnings[0]["file"] != "util/helpers.go" || warnings[0]["severity"] != "warning" {
		t.Errorf("warning finding = %v", warnings[0])
	}
}

func TestDiagnosticsExecutor_FilterByFiles(t *testing.T) {
	output := "main.go:1:1: bad\nother.go:2:2: worse\n"
	runner := &mockRunner{out: RunOutput{Stdout: output, ExitCode: 1}}
	e := NewDiagnosticsExecutor(runner, "go vet ./...")

	result, err := e.Execute(context.Background(), testSession(), domain.Payload{Files: []string{"main.go"}})
	if err != nil {
		t.Fatal(err)
	}

	errors := result["errors"].([]map[string]any)
	if len(errors) != 1 || errors[0]["file"] != "main.go" {
		t.Errorf("filtered errors = %v", errors)
	}
}

func TestDiagnosticsExecutor_CleanOutput(t *testing.T) {
	runner := &mockRunner{out: RunOutput{ExitCode: 0}}
	e := NewDiagnosticsExecutor(runner, "go vet ./...")

	result, err := e.Execute(context.Background(), testSession(), domain.Payload{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result["errors"].([]map[string]any)) != 0 {
		t.Errorf("errors = %v, want empty", result["errors"])
	}
}

func TestStatusExecutor_GitState(t *testing.T) {
	runner := &gitRunner{}
	e := NewStatusExecutor(runner)

	sess := testSession()
	sess.Steps = []*domain.Step{{ID: "step-1"}}

	result, err := e.Execute(context.Background(), sess, domain.Payload{})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if result["sessionId"] != "sess-1" || result["stepCount"] != 1 || result["maxSteps"] != 50 {
		t.Errorf("session fields = %v", result)
	}
	if result["gitBranch"] != "main" {
		t.Errorf("gitBranch = %v", result["gitBranch"])
	}
	dirty := result["dirtyFiles"].([]string)
	if len(dirty) != 2 || dirty[0] != "main.go" || dirty[1] != "notes.txt" {
		t.Errorf("dirtyFiles = %v", dirty)
	}
}

func TestStatusExecutor_NoGit(t *testing.T) {
	runner := &mockRunner{out: RunOutput{Stderr: "not a git repository", ExitCode: 128}}
	e := NewStatusExecutor(runner)

	result, err := e.Execute(context.Background(), testSession(), domain.Payload{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := result["gitBranch"]; ok {
		t.Error("gitBranch should be absent without a repository")
	}
	if result["success"] != true {
		t.Error("status must succeed without git")
	}
}

// gitRunner fakes the two git probes.
type gitRunner struct{}

func (r *gitRunner) Run(_ context.Context, _, command string) (RunOutput, error) {
	switch command {
	case "git rev-parse --abbrev-ref HEAD":
		return RunOutput{Stdout: "main\n"}, nil
	case "git status --porcelain":
		return RunOutput{Stdout: " M main.go\n?? notes.txt\n"}, nil
	}
	return RunOutput{ExitCode: 1}, nil
}
