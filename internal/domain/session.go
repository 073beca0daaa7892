// Package domain defines the core entities of the action mediation pipeline.
package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCancelled SessionStatus = "cancelled"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status.
func (s SessionStatus) Terminal() bool {
	return s != StatusActive && s.Valid()
}

// SessionMetadata carries free-form hints supplied at session start.
type SessionMetadata struct {
	Goal      string `json:"projectGoal,omitempty"`
	Language  string `json:"language,omitempty"`
	Framework string `json:"framework,omitempty"`
}

// Session is one end-to-end interaction with the mediated environment,
// bounded by a step budget. Owned exclusively by the session manager;
// callers outside it must work on snapshots.
type Session struct {
	ID            string          `json:"id"`
	Status        SessionStatus   `json:"status"`
	StartTime     time.Time       `json:"startTime"`
	EndTime       *time.Time      `json:"endTime,omitempty"`
	Steps         []*Step         `json:"steps"`
	CurrentStep   int             `json:"currentStep"`
	MaxSteps      int             `json:"maxSteps"`
	WorkspaceRoot string          `json:"workspaceRoot"`
	ArtifactDir   string          `json:"artifactDir"`
	Metadata      SessionMetadata `json:"metadata"`
}

// Step is one mediated action within a session.
type Step struct {
	ID           string        `json:"id"`
	Action       ActionKind    `json:"action"`
	Payload      Payload       `json:"payload"`
	StartTime    time.Time     `json:"startTime"`
	EndTime      *time.Time    `json:"endTime,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	Error        *ErrorInfo    `json:"error,omitempty"`
	Approved     bool          `json:"approved,omitempty"`
	ApprovalTime *time.Time    `json:"approvalTime,omitempty"`
}

// Clone returns a deep copy of the step safe to hand outside the
// owning session manager.
func (s *Step) Clone() *Step {
	out := *s
	if s.Result != nil {
		out.Result = make(map[string]any, len(s.Result))
		for k, v := range s.Result {
			out.Result[k] = v
		}
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return &out
}
