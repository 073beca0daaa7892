// Package session owns the in-memory session registry and the
// session/step lifecycle rules.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/devbridge/internal/domain"
)

const cleanupInterval = time.Hour

// Options configures a Manager.
type Options struct {
	MaxSteps      int
	WorkspaceRoot string
	ArtifactRoot  string
	Retention     time.Duration
}

// StepUpdate is a partial update applied to a step. Nil fields are left
// untouched. Setting EndTime finalizes the step and fixes its duration.
type StepUpdate struct {
	Result       map[string]any
	Error        *domain.ErrorInfo
	EndTime      *time.Time
	Approved     *bool
	ApprovalTime *time.Time
}

// Manager is the authoritative registry of sessions. All mutation goes
// through it under one lock; callers only ever see deep copies.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	current  string

	opts Options
	now  func() time.Time
}

// NewManager creates an empty session registry.
func NewManager(opts Options) *Manager {
	return &Manager{
		sessions: make(map[string]*domain.Session),
		opts:     opts,
		now:      time.Now,
	}
}

// Create starts a new session and makes it current. The session's
// artifact directory is created eagerly so edit backups and the final
// report always have a place to land.
func (m *Manager) Create(meta domain.SessionMetadata) (*domain.Session, error) {
	id := uuid.New().String()
	artifactDir := filepath.Join(m.opts.ArtifactRoot, id)

	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	sess := &domain.Session{
		ID:            id,
		Status:        domain.StatusActive,
		StartTime:     m.now(),
		Steps:         []*domain.Step{},
		MaxSteps:      m.opts.MaxSteps,
		WorkspaceRoot: m.opts.WorkspaceRoot,
		ArtifactDir:   artifactDir,
		Metadata:      meta,
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.current = id
	m.mu.Unlock()

	slog.Info("Session created", "sessionId", id, "goal", meta.Goal)
	return snapshot(sess), nil
}

// Get returns a deep copy of the session.
func (m *Manager) Get(sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	return snapshot(sess), nil
}

// Current returns a deep copy of the current session, if any.
func (m *Manager) Current() (*domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[m.current]
	if !ok {
		return nil, false
	}
	return snapshot(sess), true
}

// List returns deep copies of every known session.
func (m *Manager) List() []*domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, snapshot(sess))
	}
	return out
}

// AddStep appends a step to an active session. The step-budget check
// and the append are one atomic operation: two concurrent calls at the
// boundary cannot both succeed.
func (m *Manager) AddStep(sessionID string, step *domain.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, domain.ErrSessionTerminal)
	}
	if len(sess.Steps) >= sess.MaxSteps {
		return fmt.Errorf("session %s reached %d steps: %w", sessionID, sess.MaxSteps, domain.ErrMaxStepsExceeded)
	}

	sess.Steps = append(sess.Steps, step.Clone())
	sess.CurrentStep = len(sess.Steps)

	slog.Info("Step added", "sessionId", sessionID, "stepId", step.ID, "action", step.Action, "step", sess.CurrentStep, "maxSteps", sess.MaxSteps)
	return nil
}

// UpdateStep applies a partial update to a step and returns the updated
// copy. When EndTime is set the duration is derived from the step's
// start time; a step already finalized keeps its original end time.
// Steps of a terminal session are frozen: a session ended while an
// approval was pending must not record the late grant.
func (m *Manager) UpdateStep(sessionID, stepID string, upd StepUpdate) (*domain.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	if sess.Status.Terminal() {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, domain.ErrSessionTerminal)
	}

	var step *domain.Step
	for _, s := range sess.Steps {
		if s.ID == stepID {
			step = s
			break
		}
	}
	if step == nil {
		return nil, fmt.Errorf("step %s in session %s: %w", stepID, sessionID, domain.ErrStepNotFound)
	}

	if upd.Result != nil {
		step.Result = upd.Result
	}
	if upd.Error != nil {
		step.Error = upd.Error
	}
	if upd.Approved != nil {
		step.Approved = *upd.Approved
	}
	if upd.ApprovalTime != nil {
		t := *upd.ApprovalTime
		step.ApprovalTime = &t
	}
	if upd.EndTime != nil && step.EndTime == nil {
		t := *upd.EndTime
		step.EndTime = &t
		step.Duration = t.Sub(step.StartTime)
	}

	return step.Clone(), nil
}

// End moves a session to a terminal status, clears it as current, and
// writes its report into the artifact directory. Ending an already
// terminal session is an error.
func (m *Manager) End(sessionID string, status domain.SessionStatus) (*domain.Session, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("invalid terminal status %q", status)
	}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	if sess.Status.Terminal() {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, domain.ErrSessionTerminal)
	}

	end := m.now()
	sess.Status = status
	sess.EndTime = &end
	if m.current == sessionID {
		m.current = ""
	}
	snap := snapshot(sess)
	m.mu.Unlock()

	slog.Info("Session ended",
		"sessionId", sessionID,
		"status", status,
		"duration", end.Sub(snap.StartTime).Round(time.Second),
		"steps", len(snap.Steps),
		"maxSteps", snap.MaxSteps)

	reportPath := filepath.Join(snap.ArtifactDir, "session-report.md")
	if err := os.WriteFile(reportPath, []byte(Report(snap)), 0o644); err != nil {
		slog.Error("Failed to save session report", "sessionId", sessionID, "error", err)
	} else {
		slog.Info("Session report saved", "path", reportPath)
	}

	return snap, nil
}

// Delete removes a session from the registry entirely.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	delete(m.sessions, sessionID)
	if m.current == sessionID {
		m.current = ""
	}
	return nil
}

// CleanupOld drops terminal sessions older than the retention period
// and returns how many were removed.
func (m *Manager) CleanupOld() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.opts.Retention)
	removed := 0
	for id, sess := range m.sessions {
		if sess.EndTime != nil && sess.EndTime.Before(cutoff) {
			delete(m.sessions, id)
			removed++
			slog.Info("Cleaned up old session", "sessionId", id)
		}
	}
	return removed
}

// StartCleanupWorker runs periodic retention cleanup until ctx is done.
func (m *Manager) StartCleanupWorker(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.CleanupOld(); n > 0 {
					slog.Info("Session cleanup pass complete", "removed", n)
				}
			case <-ctx.Done():
				slog.Debug("Session cleanup worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func snapshot(sess *domain.Session) *domain.Session {
	out := *sess
	if sess.EndTime != nil {
		t := *sess.EndTime
		out.EndTime = &t
	}
	out.Steps = make([]*domain.Step, len(sess.Steps))
	for i, step := range sess.Steps {
		out.Steps[i] = step.Clone()
	}
	return &out
}
