package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/devbridge/internal/domain"
)

// Report renders a markdown summary of a session: outcome, step
// statistics, and the set of files touched by edit results.
func Report(sess *domain.Session) string {
	successful, failed := 0, 0
	var totalDuration time.Duration
	modified := map[string]struct{}{}

	for _, step := range sess.Steps {
		if step.Error != nil {
			failed++
		} else {
			successful++
		}
		totalDuration += step.Duration
		for _, file := range modifiedFiles(step.Result) {
			modified[file] = struct{}{}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session Report: %s\n\n", sess.ID)

	goal := sess.Metadata.Goal
	if goal == "" {
		goal = "Not specified"
	}
	fmt.Fprintf(&b, "**Goal:** %s\n", goal)
	fmt.Fprintf(&b, "**Status:** %s\n", sess.Status)
	fmt.Fprintf(&b, "**Started:** %s\n", sess.StartTime.UTC().Format(time.RFC3339))
	if sess.EndTime != nil {
		fmt.Fprintf(&b, "**Ended:** %s\n\n", sess.EndTime.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("**Ended:** In progress\n\n")
	}

	b.WriteString("## Statistics\n\n")
	fmt.Fprintf(&b, "- Total steps: %d\n", len(sess.Steps))
	fmt.Fprintf(&b, "- Successful: %d\n", successful)
	fmt.Fprintf(&b, "- Failed: %d\n", failed)
	fmt.Fprintf(&b, "- Total duration: %ds\n", int(totalDuration.Seconds()))
	fmt.Fprintf(&b, "- Files modified: %d\n\n", len(modified))

	b.WriteString("## Steps\n\n")
	for i, step := range sess.Steps {
		mark := "ok"
		if step.Error != nil {
			mark = "FAILED"
		}
		fmt.Fprintf(&b, "%d. [%s] **%s** (%dms)\n", i+1, mark, step.Action, step.Duration.Milliseconds())
		if step.Error != nil {
			fmt.Fprintf(&b, "   Error: %s\n", step.Error.Message)
		}
	}

	if len(modified) > 0 {
		b.WriteString("\n## Modified Files\n\n")
		files := make([]string, 0, len(modified))
		for file := range modified {
			files = append(files, file)
		}
		sort.Strings(files)
		for _, file := range files {
			fmt.Fprintf(&b, "- %s\n", file)
		}
	}

	return b.String()
}

// modifiedFiles extracts the filesModified list from a step result,
// tolerating both decoded-JSON and native slice shapes.
func modifiedFiles(result map[string]any) []string {
	if result == nil {
		return nil
	}
	switch v := result["filesModified"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
