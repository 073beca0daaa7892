package executor

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/devbridge/internal/domain"
)

// TestExecutor runs a test command through the command pipeline and
// parses the framework's summary out of the combined output.
type TestExecutor struct {
	commands *CommandExecutor
}

// NewTestExecutor creates a test executor on top of the command
// executor; test commands go through the same sanitizer and masking.
func NewTestExecutor(commands *CommandExecutor) *TestExecutor {
	return &TestExecutor{commands: commands}
}

func (e *TestExecutor) Kind() domain.ActionKind { return domain.ActionTest }

func (e *TestExecutor) Execute(ctx context.Context, sess *domain.Session, payload domain.Payload) (map[string]any, error) {
	result, err := e.commands.run(ctx, sess, payload)
	if err != nil {
		return nil, err
	}

	output := result["stdout"].(string) + result["stderr"].(string)
	summary := parseTestOutput(output, detectFramework(payload.Command))

	result["framework"] = summary.framework
	result["total"] = summary.total
	result["passed"] = summary.passed
	result["failed"] = summary.failed
	result["skipped"] = summary.skipped
	if len(summary.failures) > 0 {
		result["failures"] = summary.failures
	}
	return result, nil
}

type testSummary struct {
	framework string
	total     int
	passed    int
	failed    int
	skipped   int
	failures  []map[string]any
}

func detectFramework(command string) string {
	switch {
	case strings.Contains(command, "jest"):
		return "jest"
	case strings.Contains(command, "pytest"):
		return "pytest"
	case strings.Contains(command, "go test"):
		return "go"
	case strings.Contains(command, "cargo test"):
		return "rust"
	case strings.Contains(command, "npm test"), strings.Contains(command, "yarn test"):
		return "npm"
	default:
		return "generic"
	}
}

var (
	jestSummary = regexp.MustCompile(`(?i)Tests:\s+(?:(\d+)\s+failed,?\s*)?(?:(\d+)\s+skipped,?\s*)?(?:(\d+)\s+passed,?\s*)?(\d+)\s+total`)

	pytestPassed  = regexp.MustCompile(`(\d+)\s+passed`)
	pytestFailed  = regexp.MustCompile(`(\d+)\s+failed`)
	pytestSkipped = regexp.MustCompile(`(\d+)\s+skipped`)
	pytestFailure = regexp.MustCompile(`FAILED\s+(\S+?)::\S+\s+-\s+(.+)`)

	goPass    = regexp.MustCompile(`--- PASS:`)
	goFail    = regexp.MustCompile(`--- FAIL:`)
	goFailure = regexp.MustCompile(`--- FAIL:\s+(\S+)\s+\([\d.]+s\)\n\s+(.+)`)

	genericPassed  = regexp.MustCompile(`(?i)(\d+)\s+pass(?:ed)?`)
	genericFailed  = regexp.MustCompile(`(?i)(\d+)\s+fail(?:ed)?`)
	genericSkipped = regexp.MustCompile(`(?i)(\d+)\s+skip(?:ped)?`)
)

func parseTestOutput(output, framework string) testSummary {
	switch framework {
	case "jest", "npm":
		return parseJestOutput(output, framework)
	case "pytest":
		return parsePytestOutput(output)
	case "go":
		return parseGoTestOutput(output)
	default:
		return parseGenericOutput(output, framework)
	}
}

func parseJestOutput(output, framework string) testSummary {
	s := testSummary{framework: framework}
	if m := jestSummary.FindStringSubmatch(output); m != nil {
		s.failed = atoi(m[1])
		s.skipped = atoi(m[2])
		s.passed = atoi(m[3])
		s.total = atoi(m[4])
	}
	return s
}

func parsePytestOutput(output string) testSummary {
	s := testSummary{framework: "pytest"}
	if m := pytestPassed.FindStringSubmatch(output); m != nil {
		s.passed = atoi(m[1])
	}
	if m := pytestFailed.FindStringSubmatch(output); m != nil {
		s.failed = atoi(m[1])
	}
	if m := pytestSkipped.FindStringSubmatch(output); m != nil {
		s.skipped = atoi(m[1])
	}
	s.total = s.passed + s.failed + s.skipped

	for _, m := range pytestFailure.FindAllStringSubmatch(output, -1) {
		s.failures = append(s.failures, map[string]any{
			"name":    m[0],
			"file":    m[1],
			"message": m[2],
		})
	}
	return s
}

func parseGoTestOutput(output string) testSummary {
	s := testSummary{framework: "go"}
	s.passed = len(goPass.FindAllString(output, -1))
	s.failed = len(goFail.FindAllString(output, -1))
	s.total = s.passed + s.failed

	for _, m := range goFailure.FindAllStringSubmatch(output, -1) {
		s.failures = append(s.failures, map[string]any{
			"name":    m[1],
			"message": strings.TrimSpace(m[2]),
		})
	}
	return s
}

func parseGenericOutput(output, framework string) testSummary {
	s := testSummary{framework: framework}
	if m := genericPassed.FindStringSubmatch(output); m != nil {
		s.passed = atoi(m[1])
	}
	if m := genericFailed.FindStringSubmatch(output); m != nil {
		s.failed = atoi(m[1])
	}
	if m := genericSkipped.FindStringSubmatch(output); m != nil {
		s.skipped = atoi(m[1])
	}
	s.total = s.passed + s.failed + s.skipped
	return s
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
