package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Verdict is the immutable result of analyzing one candidate command.
// Callers must treat IsSafe=false as "do not execute".
type Verdict struct {
	Command  string
	IsSafe   bool
	Warnings []string
}

// SanitizerPolicy carries the allow/deny configuration for command
// analysis.
type SanitizerPolicy struct {
	AllowedCommands []string
	BlockedCommands []string
	AllowedPaths    []string
	WorkspaceRoot   string
}

// metacharacters flagged when they appear outside quoted regions.
var shellMetacharacters = []struct {
	token  string
	reason string
}{
	{";", "command separator"},
	{"|", "pipe"},
	{"&&", "AND operator"},
	{"||", "OR operator"},
	{">", "redirect"},
	{"<", "input redirect"},
	{"`", "command substitution"},
	{"$(", "command substitution"},
}

var (
	pathToken = regexp.MustCompile(`(?:^|\s)(\.{0,2}/\S+|[a-zA-Z]:\S+|/\S+)`)

	injectionPatterns = []struct {
		re      *regexp.Regexp
		message string
	}{
		{regexp.MustCompile(`\$\([^)]*\)`), "Command substitution detected"},
		{regexp.MustCompile("`[^`]*`"), "Backtick command substitution detected"},
		{regexp.MustCompile(`;\s*rm\s+-rf`), "Dangerous rm -rf command"},
		{regexp.MustCompile(`>\s*/dev/null`), "Output redirection to /dev/null"},
		{regexp.MustCompile(`(wget|curl).*\|.*sh`), "Download and execute pattern"},
	}
)

// Analyze runs the full safety analysis for a candidate command. Pure:
// the verdict depends only on the command and the policy. All warnings
// accumulate; the verdict is safe only when no warning fired and the
// allow/deny check passed.
func Analyze(command string, policy SanitizerPolicy) Verdict {
	var warnings []string

	for _, meta := range shellMetacharacters {
		if containsOutsideQuotes(command, meta.token) {
			warnings = append(warnings, fmt.Sprintf("Contains potentially dangerous metacharacter %q (%s)", meta.token, meta.reason))
		}
	}

	warnings = append(warnings, validatePaths(command, policy)...)

	for _, p := range injectionPatterns {
		if p.re.MatchString(command) {
			warnings = append(warnings, p.message)
		}
	}

	allowed, reason := checkAllowance(command, policy)
	if !allowed {
		warnings = append(warnings, reason)
	}

	return Verdict{
		Command:  command,
		IsSafe:   len(warnings) == 0 && allowed,
		Warnings: warnings,
	}
}

// containsOutsideQuotes reports whether token occurs in s outside any
// quoted region. Single-pass state machine: an unescaped ' or " toggles
// the in-quote state, matching the specific quote character.
func containsOutsideQuotes(s, token string) bool {
	inQuotes := false
	var quoteChar byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c == '"' || c == '\'') && (i == 0 || s[i-1] != '\\') {
			if !inQuotes {
				inQuotes = true
				quoteChar = c
			} else if c == quoteChar {
				inQuotes = false
				quoteChar = 0
			}
		}
		if !inQuotes && strings.HasPrefix(s[i:], token) {
			return true
		}
	}
	return false
}

// validatePaths heuristically extracts path-like tokens and flags any
// that resolve outside every allowed root. Tokens containing ".." are
// flagged independently: resolution alone is not trusted to catch
// traversal.
func validatePaths(command string, policy SanitizerPolicy) []string {
	var warnings []string

	for _, match := range pathToken.FindAllStringSubmatch(command, -1) {
		token := strings.TrimSpace(match[1])

		resolved := token
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(policy.WorkspaceRoot, resolved)
		}
		resolved = filepath.Clean(resolved)

		allowed := false
		for _, root := range policy.AllowedPaths {
			if strings.HasPrefix(resolved, root) {
				allowed = true
				break
			}
		}
		if !allowed {
			warnings = append(warnings, fmt.Sprintf("Path outside workspace: %s", token))
		}

		if strings.Contains(token, "..") {
			warnings = append(warnings, fmt.Sprintf("Path traversal detected: %s", token))
		}
	}

	return warnings
}

// checkAllowance applies the allow/deny lists. Blocked substrings are
// checked first so an explicit block always wins over an allow entry.
func checkAllowance(command string, policy SanitizerPolicy) (bool, string) {
	trimmed := strings.TrimSpace(command)

	for _, blocked := range policy.BlockedCommands {
		if strings.Contains(trimmed, blocked) {
			return false, fmt.Sprintf("Blocked command: %s", blocked)
		}
	}

	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return false, "Empty command"
	}
	name := fields[0]

	for _, allowedName := range policy.AllowedCommands {
		if name == allowedName || strings.HasPrefix(name, allowedName+".") {
			return true, ""
		}
	}
	return false, fmt.Sprintf("Command %q not in allowed list", name)
}
