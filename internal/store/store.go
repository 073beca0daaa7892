// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/devbridge/internal/domain"
)

// SessionRecord is a persisted session summary, without step bodies.
type SessionRecord struct {
	ID        string               `json:"id"`
	Status    domain.SessionStatus `json:"status"`
	StartTime time.Time            `json:"startTime"`
	EndTime   *time.Time           `json:"endTime,omitempty"`
	Goal      string               `json:"goal,omitempty"`
	StepCount int                  `json:"stepCount"`
}

// Repository defines the interface for persisting the audit trail of
// sessions and their steps.
type Repository interface {
	// SaveSession creates or updates a session record.
	SaveSession(ctx context.Context, session *domain.Session) error

	// SaveStep creates or updates one step of a session.
	SaveStep(ctx context.Context, sessionID string, step *domain.Step) error

	// GetSession retrieves a session with its steps. Returns nil without
	// error when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListSessions retrieves session summaries, newest first.
	ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error)

	// CleanupSessions removes sessions (and their steps) that ended
	// before the retention cutoff. Returns how many sessions were removed.
	CleanupSessions(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
