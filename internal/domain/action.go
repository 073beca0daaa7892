package domain

import (
	"fmt"
	"time"
)

// ActionKind identifies the kind of action an agent may request.
type ActionKind string

const (
	ActionRun         ActionKind = "run"
	ActionEdit        ActionKind = "edit"
	ActionTest        ActionKind = "test"
	ActionDiagnostics ActionKind = "diagnostics"
	ActionPreview     ActionKind = "preview"
	ActionStatus      ActionKind = "status"
	ActionReset       ActionKind = "reset"
)

// EditOperation is the kind of file edit requested by an edit action.
type EditOperation string

const (
	EditReplace EditOperation = "replace"
	EditInsert  EditOperation = "insert"
	EditDelete  EditOperation = "delete"
	EditPatch   EditOperation = "patch"
)

// BrowserAction is a single scripted interaction for a preview action.
// Interpreted only by the browser automation collaborator.
type BrowserAction struct {
	Type     string `json:"type"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	Timeout  int    `json:"timeout,omitempty"`
}

// Payload carries the action-specific parameters of an inbound action.
// Which fields are meaningful depends on the action kind; the step
// entity never interprets it.
type Payload struct {
	// run / test
	Command string `json:"command,omitempty"`
	Cwd     string `json:"cwd,omitempty"`
	Timeout int    `json:"timeout,omitempty"` // seconds

	// edit
	Operation EditOperation `json:"operation,omitempty"`
	File      string        `json:"file,omitempty"`
	Content   string        `json:"content,omitempty"`
	LineStart int           `json:"lineStart,omitempty"`
	LineEnd   int           `json:"lineEnd,omitempty"`

	// preview
	URL               string          `json:"url,omitempty"`
	Actions           []BrowserAction `json:"actions,omitempty"`
	CaptureScreenshot *bool           `json:"captureScreenshot,omitempty"`

	// diagnostics
	Files []string `json:"files,omitempty"`
}

// ActionMetadata carries optional agent-supplied context for an action.
type ActionMetadata struct {
	Description string `json:"description,omitempty"`
	Reasoning   string `json:"reasoning,omitempty"`
}

// Action is the inbound action envelope.
type Action struct {
	SessionID string          `json:"sessionId"`
	StepID    string          `json:"stepId"`
	Kind      ActionKind      `json:"action"`
	Payload   Payload         `json:"payload"`
	Metadata  *ActionMetadata `json:"metadata,omitempty"`
}

// Validate checks the envelope's required fields.
func (a *Action) Validate() error {
	if a.SessionID == "" {
		return fmt.Errorf("sessionId is required")
	}
	if a.StepID == "" {
		return fmt.Errorf("stepId is required")
	}
	if a.Kind == "" {
		return fmt.Errorf("action is required")
	}
	return nil
}

// ErrorInfo is the error portion of an outbound result.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outbound result envelope for a handled action.
type Result struct {
	SessionID       string         `json:"sessionId"`
	StepID          string         `json:"stepId"`
	Success         bool           `json:"success"`
	Action          ActionKind     `json:"action"`
	Result          map[string]any `json:"result"`
	Error           *ErrorInfo     `json:"error,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	ApprovalGranted *bool          `json:"approvalGranted,omitempty"`
}
