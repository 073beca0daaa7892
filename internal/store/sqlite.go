package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/devbridge/internal/domain"
	"github.com/ashureev/devbridge/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		max_steps INTEGER NOT NULL,
		workspace_root TEXT NOT NULL,
		artifact_dir TEXT NOT NULL,
		metadata_json TEXT,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_end_time ON sessions(end_time) WHERE end_time IS NOT NULL;

	CREATE TABLE IF NOT EXISTS steps (
		session_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		action TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		result_json TEXT,
		error_code TEXT,
		error_message TEXT,
		approved INTEGER NOT NULL DEFAULT 0,
		approval_time INTEGER,
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, step_id)
	);
	CREATE INDEX IF NOT EXISTS idx_steps_session ON steps(session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// execRetry runs one write, retrying with exponential backoff on
// SQLite concurrency errors.
func (s *SQLiteStore) execRetry(ctx context.Context, label string, fn func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("SQLite write conflict, retrying",
			"op", label,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: %w", label, err)
}

// SaveSession creates or updates a session record.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session) error {
	metadataJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}

	query := `
	INSERT INTO sessions (session_id, status, start_time, end_time, max_steps, workspace_root, artifact_dir, metadata_json, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		status = excluded.status,
		end_time = excluded.end_time,
		metadata_json = excluded.metadata_json,
		updated_at = excluded.updated_at`

	var endTime interface{}
	if session.EndTime != nil {
		endTime = session.EndTime.UnixMilli()
	}

	return s.execRetry(ctx, "save session", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		_, err := s.db.ExecContext(ctx, query,
			session.ID, string(session.Status), session.StartTime.UnixMilli(), endTime,
			session.MaxSteps, session.WorkspaceRoot, session.ArtifactDir,
			string(metadataJSON), time.Now().UnixMilli(),
		)
		return err
	})
}

// SaveStep creates or updates one step of a session.
func (s *SQLiteStore) SaveStep(ctx context.Context, sessionID string, step *domain.Step) error {
	payloadJSON, err := json.Marshal(step.Payload)
	if err != nil {
		return fmt.Errorf("marshal step payload: %w", err)
	}

	var resultJSON interface{}
	if step.Result != nil {
		data, err := json.Marshal(step.Result)
		if err != nil {
			return fmt.Errorf("marshal step result: %w", err)
		}
		resultJSON = string(data)
	}

	var errorCode, errorMessage interface{}
	if step.Error != nil {
		errorCode = step.Error.Code
		errorMessage = step.Error.Message
	}

	var endTime interface{}
	if step.EndTime != nil {
		endTime = step.EndTime.UnixMilli()
	}
	var approvalTime interface{}
	if step.ApprovalTime != nil {
		approvalTime = step.ApprovalTime.UnixMilli()
	}

	query := `
	INSERT INTO steps (session_id, step_id, action, payload_json, result_json, error_code, error_message, approved, approval_time, start_time, end_time, duration_ms, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, step_id) DO UPDATE SET
		result_json = excluded.result_json,
		error_code = excluded.error_code,
		error_message = excluded.error_message,
		approved = excluded.approved,
		approval_time = excluded.approval_time,
		end_time = excluded.end_time,
		duration_ms = excluded.duration_ms,
		updated_at = excluded.updated_at`

	return s.execRetry(ctx, "save step", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		_, err := s.db.ExecContext(ctx, query,
			sessionID, step.ID, string(step.Action), string(payloadJSON), resultJSON,
			errorCode, errorMessage, step.Approved, approvalTime,
			step.StartTime.UnixMilli(), endTime, step.Duration.Milliseconds(),
			time.Now().UnixMilli(),
		)
		return err
	})
}

// GetSession retrieves a session with its steps.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, status, start_time, end_time, max_steps,
		       workspace_root, artifact_dir, metadata_json
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var sess domain.Session
	var status, metadataJSON string
	var startTime int64
	var endTime sql.NullInt64

	err := row.Scan(
		&sess.ID, &status, &startTime, &endTime, &sess.MaxSteps,
		&sess.WorkspaceRoot, &sess.ArtifactDir, &metadataJSON,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.Status = domain.SessionStatus(status)
	sess.StartTime = time.UnixMilli(startTime)
	if endTime.Valid {
		t := time.UnixMilli(endTime.Int64)
		sess.EndTime = &t
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal session metadata: %w", err)
		}
	}

	steps, err := s.getSteps(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Steps = steps
	sess.CurrentStep = len(steps)

	return &sess, nil
}

func (s *SQLiteStore) getSteps(ctx context.Context, sessionID string) ([]*domain.Step, error) {
	query := `
		SELECT step_id, action, payload_json, result_json, error_code, error_message,
		       approved, approval_time, start_time, end_time, duration_ms
		FROM steps WHERE session_id = ? ORDER BY start_time, step_id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close steps rows", "error", closeErr)
		}
	}()

	steps := []*domain.Step{}
	for rows.Next() {
		var step domain.Step
		var action, payloadJSON string
		var resultJSON, errorCode, errorMessage sql.NullString
		var approvalTime, endTime sql.NullInt64
		var startTime, durationMs int64

		if err := rows.Scan(
			&step.ID, &action, &payloadJSON, &resultJSON, &errorCode, &errorMessage,
			&step.Approved, &approvalTime, &startTime, &endTime, &durationMs,
		); err != nil {
			return nil, fmt.Errorf("scan step row: %w", err)
		}

		step.Action = domain.ActionKind(action)
		if err := json.Unmarshal([]byte(payloadJSON), &step.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal step payload: %w", err)
		}
		if resultJSON.Valid {
			if err := json.Unmarshal([]byte(resultJSON.String), &step.Result); err != nil {
				return nil, fmt.Errorf("unmarshal step result: %w", err)
			}
		}
		if errorCode.Valid || errorMessage.Valid {
			step.Error = &domain.ErrorInfo{Code: errorCode.String, Message: errorMessage.String}
		}
		step.StartTime = time.UnixMilli(startTime)
		if endTime.Valid {
			t := time.UnixMilli(endTime.Int64)
			step.EndTime = &t
		}
		if approvalTime.Valid {
			t := time.UnixMilli(approvalTime.Int64)
			step.ApprovalTime = &t
		}
		step.Duration = time.Duration(durationMs) * time.Millisecond

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}

	return steps, nil
}

// ListSessions retrieves session summaries, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT s.session_id, s.status, s.start_time, s.end_time, s.metadata_json,
		       (SELECT COUNT(*) FROM steps WHERE steps.session_id = s.session_id)
		FROM sessions s ORDER BY s.start_time DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close sessions rows", "error", closeErr)
		}
	}()

	var records []*SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var status, metadataJSON string
		var startTime int64
		var endTime sql.NullInt64

		if err := rows.Scan(&rec.ID, &status, &startTime, &endTime, &metadataJSON, &rec.StepCount); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}

		rec.Status = domain.SessionStatus(status)
		rec.StartTime = time.UnixMilli(startTime)
		if endTime.Valid {
			t := time.UnixMilli(endTime.Int64)
			rec.EndTime = &t
		}
		if metadataJSON != "" {
			var meta domain.SessionMetadata
			if err := json.Unmarshal([]byte(metadataJSON), &meta); err == nil {
				rec.Goal = meta.Goal
			}
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return records, nil
}

// CleanupSessions removes sessions that ended before the retention cutoff.
func (s *SQLiteStore) CleanupSessions(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()

	var removed int64
	err := s.execRetry(ctx, "cleanup sessions", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM steps WHERE session_id IN (SELECT session_id FROM sessions WHERE end_time IS NOT NULL AND end_time < ?)`,
			threshold,
		); err != nil {
			return err
		}

		result, err := s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE end_time IS NOT NULL AND end_time < ?`, threshold)
		if err != nil {
			return err
		}
		removed, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
