// Package security implements the policy kernels of the mediation
// pipeline: credential redaction, command-safety analysis, and rate
// limiting.
package security

import (
	"regexp"
	"strings"
)

// redactionRule is a single pattern/replacement pair. Rules apply in
// order; structured-secret rules (PEM, JWT, connection URIs, provider
// prefixes) must run before the generic keyword rules so a structured
// secret is swallowed whole instead of partially rewritten.
type redactionRule struct {
	re          *regexp.Regexp
	replacement string
}

// Masker redacts credential-shaped substrings from text and structured
// values. Stateless and safe for concurrent use.
type Masker struct {
	rules   []redactionRule
	envLine *regexp.Regexp
}

var sensitiveEnvKeys = []string{
	"API_KEY",
	"SECRET",
	"PASSWORD",
	"TOKEN",
	"PRIVATE_KEY",
	"DATABASE_URL",
	"CONNECTION_STRING",
	"AWS_ACCESS_KEY",
	"AWS_SECRET_KEY",
	"GITHUB_TOKEN",
}

// NewMasker builds a masker with the standard redaction rule set.
func NewMasker() *Masker {
	return &Masker{
		rules: []redactionRule{
			// PEM-block private keys.
			{
				re:          regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`),
				replacement: "***MASKED_PRIVATE_KEY***",
			},
			// JWT-shaped strings.
			{
				re:          regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
				replacement: "***MASKED_JWT***",
			},
			// Credentialed connection-string URIs.
			{
				re:          regexp.MustCompile(`(?i)(mongodb|mysql|postgresql|postgres|redis)://[^:/\s]+:[^@\s]+@`),
				replacement: "${1}://***MASKED***:***MASKED***@",
			},
			// AWS access key IDs.
			{
				re:          regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
				replacement: "***MASKED_AWS_KEY***",
			},
			// GitHub tokens.
			{
				re:          regexp.MustCompile(`gh[ps]_[a-zA-Z0-9]{36,}`),
				replacement: "***MASKED_GITHUB_TOKEN***",
			},
			// Bearer tokens.
			{
				re:          regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_-]{20,}`),
				replacement: "bearer ***MASKED***",
			},
			// API keys.
			{
				re:          regexp.MustCompile(`(?i)api[_-]?key[_-]?=?\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`),
				replacement: "api_key=***MASKED***",
			},
			// Generic tokens.
			{
				re:          regexp.MustCompile(`(?i)token[_-]?=?\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`),
				replacement: "token=***MASKED***",
			},
			// Passwords.
			{
				re:          regexp.MustCompile(`(?i)password[_-]?=?\s*['"]?[^\s'"]+['"]?`),
				replacement: "password=***MASKED***",
			},
			// Secrets.
			{
				re:          regexp.MustCompile(`(?i)secret[_-]?=?\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`),
				replacement: "secret=***MASKED***",
			},
		},
		envLine: regexp.MustCompile(`(?m)^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.+)$`),
	}
}

// Mask applies every redaction rule in order, then redacts values on
// KEY=value lines whose key name contains a sensitive substring.
// Masking is idempotent: masking already-masked text yields the same
// text.
func (m *Masker) Mask(text string) string {
	masked := text
	for _, rule := range m.rules {
		masked = rule.re.ReplaceAllString(masked, rule.replacement)
	}
	return m.maskEnvLines(masked)
}

func (m *Masker) maskEnvLines(text string) string {
	return m.envLine.ReplaceAllStringFunc(text, func(line string) string {
		parts := m.envLine.FindStringSubmatch(line)
		if parts == nil {
			return line
		}
		key := strings.ToUpper(parts[1])
		for _, sensitive := range sensitiveEnvKeys {
			if strings.Contains(key, sensitive) {
				return parts[1] + "=***MASKED***"
			}
		}
		return line
	})
}

// MaskValue recursively masks strings inside slices and maps. Map
// entries whose key name contains "password", "secret", "token", or
// "key" are redacted outright, regardless of the value's shape.
func (m *Masker) MaskValue(v any) any {
	switch val := v.(type) {
	case string:
		return m.Mask(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = m.MaskValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = m.Mask(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if isSensitiveFieldName(k) {
				out[k] = "***MASKED***"
			} else {
				out[k] = m.MaskValue(item)
			}
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			if isSensitiveFieldName(k) {
				out[k] = "***MASKED***"
			} else {
				out[k] = m.Mask(item)
			}
		}
		return out
	default:
		return v
	}
}

func isSensitiveFieldName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "password") ||
		strings.Contains(lower, "secret") ||
		strings.Contains(lower, "token") ||
		strings.Contains(lower, "key")
}
