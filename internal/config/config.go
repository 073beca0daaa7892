// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ApprovalConfig controls which action categories require interactive
// operator approval.
type ApprovalConfig struct {
	FileOperations   bool
	CommandExecution bool
	NetworkAccess    bool
}

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	WorkspaceRoot string
	ArtifactDir   string

	MaxStepsPerSession int
	CommandTimeout     time.Duration
	SessionRetention   time.Duration

	Shell              string
	Executor           string // "local" or "docker"
	DockerContainer    string
	DiagnosticsCommand string

	AllowedCommands []string
	BlockedCommands []string
	AllowedPaths    []string

	AutoApprove bool
	Approval    ApprovalConfig

	RateLimits map[string]int
}

// defaultAllowedCommands are the program names an agent may invoke
// without being denied outright.
var defaultAllowedCommands = []string{
	"npm", "yarn", "pnpm", "node", "python", "pytest",
	"go", "cargo", "deno", "bun", "npx", "git",
}

// defaultBlockedCommands are substrings that block a command
// unconditionally, before any allow check.
var defaultBlockedCommands = []string{
	"rm -rf /",
	"sudo",
	"su",
	"chmod 777",
	"mkfs",
	"dd if=",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	workspaceRoot := getEnv("WORKSPACE_ROOT", "")
	if workspaceRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine workspace root: %w", err)
		}
		workspaceRoot = wd
	}
	workspaceRoot, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	autoApprove := getEnvBool("AUTO_APPROVE", false)

	cfg := &Config{
		Port:        getEnv("PORT", "3737"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/bridge.db"),

		WorkspaceRoot: workspaceRoot,
		ArtifactDir:   getEnv("ARTIFACT_DIR", filepath.Join(workspaceRoot, ".devbridge", "sessions")),

		MaxStepsPerSession: getEnvInt("MAX_STEPS_PER_SESSION", 50),
		CommandTimeout:     getEnvDuration("COMMAND_TIMEOUT", 10*time.Minute),
		SessionRetention:   getEnvDuration("SESSION_RETENTION", 7*24*time.Hour),

		Shell:              getEnv("SHELL_COMMAND", "bash"),
		Executor:           getEnv("EXECUTOR", "local"),
		DockerContainer:    getEnv("DOCKER_CONTAINER", ""),
		DiagnosticsCommand: getEnv("DIAGNOSTICS_COMMAND", "go vet ./..."),

		AllowedCommands: getEnvList("ALLOWED_COMMANDS", defaultAllowedCommands),
		BlockedCommands: getEnvList("BLOCKED_COMMANDS", defaultBlockedCommands),
		AllowedPaths:    getEnvList("ALLOWED_PATHS", []string{workspaceRoot}),

		AutoApprove: autoApprove,
		Approval: ApprovalConfig{
			FileOperations:   getEnvBool("APPROVE_FILE_OPS", true),
			CommandExecution: getEnvBool("APPROVE_COMMANDS", !autoApprove),
			NetworkAccess:    getEnvBool("APPROVE_NETWORK", true),
		},

		RateLimits: rateLimitsFromEnv(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func rateLimitsFromEnv() map[string]int {
	limits := map[string]int{}
	overrides := map[string]string{
		"actionsPerMinute":   "RATE_ACTIONS_PER_MINUTE",
		"commandsPerMinute":  "RATE_COMMANDS_PER_MINUTE",
		"fileEditsPerMinute": "RATE_FILE_EDITS_PER_MINUTE",
		"previewsPerMinute":  "RATE_PREVIEWS_PER_MINUTE",
		"actionsPerSession":  "RATE_ACTIONS_PER_SESSION",
	}
	for category, key := range overrides {
		if v := getEnvInt(key, 0); v > 0 {
			limits[category] = v
		}
	}
	return limits
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("WORKSPACE_ROOT cannot be empty")
	}
	if c.MaxStepsPerSession <= 0 {
		return fmt.Errorf("MAX_STEPS_PER_SESSION must be > 0")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("COMMAND_TIMEOUT must be > 0")
	}
	if c.Executor != "local" && c.Executor != "docker" {
		return fmt.Errorf("EXECUTOR must be \"local\" or \"docker\", got %q", c.Executor)
	}
	if c.Executor == "docker" && c.DockerContainer == "" {
		return fmt.Errorf("DOCKER_CONTAINER is required when EXECUTOR=docker")
	}
	if len(c.AllowedPaths) == 0 {
		return fmt.Errorf("ALLOWED_PATHS cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList reads a comma-separated list, trimming whitespace around
// each entry and dropping empty ones.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
