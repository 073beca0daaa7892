// Package shared provides small helpers used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import "strings"

// Transient SQLite concurrency markers. The audit store serializes its
// own writes, but WAL checkpoints and outside readers of the database
// file can still surface either of these.
var sqliteConflictMarkers = []string{
	"SQLITE_BUSY",
	"database is locked",
}

// IsSQLiteConflictError reports whether err is a transient SQLite
// concurrency error that warrants a retry.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range sqliteConflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
