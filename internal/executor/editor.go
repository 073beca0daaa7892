package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/devbridge/internal/domain"
)

const maxBackupsPerFile = 10

// EditExecutor applies line-oriented file edits inside the workspace.
// Existing files are backed up into the session's artifact directory
// before being touched.
type EditExecutor struct {
	allowedPaths []string
}

// NewEditExecutor creates an edit executor restricted to allowedPaths.
func NewEditExecutor(allowedPaths []string) *EditExecutor {
	return &EditExecutor{allowedPaths: allowedPaths}
}

func (e *EditExecutor) Kind() domain.ActionKind { return domain.ActionEdit }

func (e *EditExecutor) Execute(_ context.Context, sess *domain.Session, payload domain.Payload) (map[string]any, error) {
	file, err := e.resolvePath(sess, payload.File)
	if err != nil {
		return nil, err
	}

	backupPath := ""
	if _, statErr := os.Stat(file); statErr == nil {
		backupPath, err = e.createBackup(sess, file)
		if err != nil {
			return nil, err
		}
	}

	var linesChanged int
	switch payload.Operation {
	case domain.EditReplace:
		linesChanged, err = replaceFile(file, payload.Content)
	case domain.EditInsert:
		linesChanged, err = insertLines(file, payload.Content, payload.LineStart)
	case domain.EditDelete:
		linesChanged, err = deleteLines(file, payload.LineStart, payload.LineEnd)
	case domain.EditPatch:
		linesChanged, err = applyPatch(file, payload.Content, payload.LineStart, payload.LineEnd)
	default:
		return nil, fmt.Errorf("unknown edit operation %q", payload.Operation)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("File edited", "file", file, "operation", payload.Operation, "linesChanged", linesChanged, "sessionId", sess.ID)

	result := map[string]any{
		"success":       true,
		"filesModified": []string{file},
		"linesChanged":  linesChanged,
	}
	if backupPath != "" {
		result["backupPath"] = backupPath
	}
	return result, nil
}

func (e *EditExecutor) resolvePath(sess *domain.Session, file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("file is required for edit actions")
	}
	resolved := file
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(sess.WorkspaceRoot, resolved)
	}
	resolved = filepath.Clean(resolved)

	for _, allowed := range e.allowedPaths {
		if strings.HasPrefix(resolved, allowed) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("file path not allowed: %s", file)
}

// createBackup copies the file into the session artifact directory
// with a timestamped name and prunes old backups of the same file.
func (e *EditExecutor) createBackup(sess *domain.Session, file string) (string, error) {
	backupDir := filepath.Join(sess.ArtifactDir, "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	name := filepath.Base(file)
	timestamp := time.Now().UTC().Format("2006-01-02T15-04-05.000")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%s.%s.bak", name, timestamp))

	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read file for backup: %w", err)
	}
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	slog.Debug("Backup created", "path", backupPath)
	pruneBackups(backupDir, name)
	return backupPath, nil
}

func pruneBackups(backupDir, name string) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return
	}

	var matches []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), name+".") && strings.HasSuffix(entry.Name(), ".bak") {
			matches = append(matches, entry.Name())
		}
	}
	if len(matches) <= maxBackupsPerFile {
		return
	}

	// Timestamped names sort chronologically; drop the oldest.
	for _, stale := range matches[:len(matches)-maxBackupsPerFile] {
		if err := os.Remove(filepath.Join(backupDir, stale)); err == nil {
			slog.Debug("Removed old backup", "name", stale)
		}
	}
}

// RestoreBackup copies a backup over the target file.
func RestoreBackup(backupPath, targetPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup %s: %w", backupPath, err)
	}
	if err := os.WriteFile(targetPath, data, 0o644); err != nil {
		return fmt.Errorf("restore backup to %s: %w", targetPath, err)
	}
	slog.Info("Restored from backup", "backup", backupPath, "target", targetPath)
	return nil
}

func replaceFile(file, content string) (int, error) {
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		return 0, fmt.Errorf("replace file: %w", err)
	}
	return len(strings.Split(content, "\n")), nil
}

func insertLines(file, content string, lineStart int) (int, error) {
	lines, err := readLines(file)
	if err != nil {
		return 0, err
	}
	inserted := strings.Split(content, "\n")

	at := clamp(lineStart, 0, len(lines))
	out := make([]string, 0, len(lines)+len(inserted))
	out = append(out, lines[:at]...)
	out = append(out, inserted...)
	out = append(out, lines[at:]...)

	if err := writeLines(file, out); err != nil {
		return 0, err
	}
	return len(inserted), nil
}

func deleteLines(file string, lineStart, lineEnd int) (int, error) {
	lines, err := readLines(file)
	if err != nil {
		return 0, err
	}

	start := clamp(lineStart, 0, len(lines))
	if lineEnd <= start {
		lineEnd = start + 1
	}
	end := clamp(lineEnd, start, len(lines))

	out := append(lines[:start:start], lines[end:]...)
	if err := writeLines(file, out); err != nil {
		return 0, err
	}
	return end - start, nil
}

// applyPatch replaces the [lineStart, lineEnd) range with the patch
// content.
func applyPatch(file, content string, lineStart, lineEnd int) (int, error) {
	lines, err := readLines(file)
	if err != nil {
		return 0, err
	}
	patch := strings.Split(content, "\n")

	start := clamp(lineStart, 0, len(lines))
	if lineEnd <= start {
		lineEnd = start + len(patch)
	}
	end := clamp(lineEnd, start, len(lines))

	out := make([]string, 0, len(lines)-(end-start)+len(patch))
	out = append(out, lines[:start]...)
	out = append(out, patch...)
	out = append(out, lines[end:]...)

	if err := writeLines(file, out); err != nil {
		return 0, err
	}
	return len(patch), nil
}

func readLines(file string) ([]string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return strings.Split(string(data), "\n"), nil
}

func writeLines(file string, lines []string) error {
	if err := os.WriteFile(file, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
