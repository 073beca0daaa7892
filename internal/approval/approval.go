// Package approval decides which actions need a human in the loop and
// runs the interactive approval flow.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/devbridge/internal/domain"
	"github.com/ashureev/devbridge/internal/security"
)

// Decision is an operator's response to an approval prompt.
type Decision string

const (
	Deny        Decision = "deny"
	Approve     Decision = "approve"
	ViewDetails Decision = "view_details"
)

// maxReprompts bounds the view-details loop. Once exhausted the
// request is denied: an operator who never decides has not approved.
const maxReprompts = 8

// Prompt is one approval request shown to the operator. Details is
// empty until the operator asks for them; all content is already
// credential-masked.
type Prompt struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	StepID      string    `json:"stepId"`
	Action      string    `json:"action"`
	Message     string    `json:"message"`
	Preview     string    `json:"preview"`
	Reasoning   string    `json:"reasoning,omitempty"`
	Details     string    `json:"details,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Approver presents a prompt and blocks until the operator decides.
type Approver interface {
	Present(ctx context.Context, prompt Prompt) (Decision, error)
}

// Policy configures which action categories require approval.
type Policy struct {
	AutoApprove      bool
	FileOperations   bool
	CommandExecution bool
	NetworkAccess    bool

	BlockedCommands []string
	AllowedPaths    []string
}

// Manager applies the approval policy and drives the prompt loop.
type Manager struct {
	policy   Policy
	approver Approver
	masker   *security.Masker
}

// NewManager creates an approval manager.
func NewManager(policy Policy, approver Approver, masker *security.Masker) *Manager {
	return &Manager{policy: policy, approver: approver, masker: masker}
}

// RequiresApproval reports whether the action must be confirmed by the
// operator before execution. Read-only actions never prompt; everything
// unknown always does.
func (m *Manager) RequiresApproval(action *domain.Action) bool {
	if m.policy.AutoApprove && m.isSafeAction(action) {
		return false
	}

	switch action.Kind {
	case domain.ActionRun, domain.ActionTest:
		return m.policy.CommandExecution || m.isDangerousCommand(action.Payload.Command)
	case domain.ActionEdit:
		return m.policy.FileOperations || m.isDangerousFileOperation(action)
	case domain.ActionPreview:
		return m.policy.NetworkAccess
	case domain.ActionStatus, domain.ActionDiagnostics:
		return false
	default:
		return true
	}
}

// RequestApproval runs the prompt loop for one action. A view-details
// decision re-prompts with the full masked payload attached, at most
// maxReprompts times before failing closed.
func (m *Manager) RequestApproval(ctx context.Context, action *domain.Action) (bool, error) {
	if !m.RequiresApproval(action) {
		slog.Info("Action auto-approved", "action", action.Kind, "sessionId", action.SessionID)
		return true, nil
	}

	slog.Info("Approval required", "action", action.Kind, "sessionId", action.SessionID, "stepId", action.StepID)

	prompt := Prompt{
		ID:          action.SessionID + ":" + action.StepID,
		SessionID:   action.SessionID,
		StepID:      action.StepID,
		Action:      string(action.Kind),
		Message:     m.buildMessage(action),
		Preview:     m.masker.Mask(commandPreview(action)),
		RequestedAt: time.Now(),
	}
	if action.Metadata != nil {
		prompt.Reasoning = m.masker.Mask(action.Metadata.Reasoning)
	}

	for attempt := 0; attempt <= maxReprompts; attempt++ {
		decision, err := m.approver.Present(ctx, prompt)
		if err != nil {
			return false, fmt.Errorf("present approval prompt: %w", err)
		}

		switch decision {
		case Approve:
			slog.Info("Approval granted", "action", action.Kind, "stepId", action.StepID)
			return true, nil
		case ViewDetails:
			prompt.Details = m.renderDetails(action)
		default:
			slog.Warn("Approval denied", "action", action.Kind, "stepId", action.StepID)
			return false, nil
		}
	}

	slog.Warn("Approval re-prompt budget exhausted, denying", "action", action.Kind, "stepId", action.StepID)
	return false, nil
}

func (m *Manager) isSafeAction(action *domain.Action) bool {
	switch action.Kind {
	case domain.ActionStatus, domain.ActionDiagnostics:
		return true
	case domain.ActionRun, domain.ActionTest:
		cmd := action.Payload.Command
		return isReadOnlyCommand(cmd) && !m.isDangerousCommand(cmd)
	case domain.ActionPreview:
		return true
	default:
		// Edits and everything else stay gated even under auto-approve.
		return false
	}
}

var readOnlyPrefixes = []string{
	"npm list",
	"npm ls",
	"git status",
	"git log",
	"git diff",
	"cat ",
	"ls ",
	"dir ",
	"echo ",
	"node --version",
	"python --version",
	"which ",
	"where ",
}

func isReadOnlyCommand(command string) bool {
	trimmed := strings.TrimSpace(command)
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

func (m *Manager) isDangerousCommand(command string) bool {
	for _, blocked := range m.policy.BlockedCommands {
		if strings.Contains(command, blocked) {
			return true
		}
	}
	return false
}

func (m *Manager) isDangerousFileOperation(action *domain.Action) bool {
	if action.Payload.Operation == domain.EditDelete {
		return true
	}

	file := action.Payload.File
	for _, allowed := range m.policy.AllowedPaths {
		if strings.HasPrefix(file, allowed) {
			return false
		}
	}
	return true
}

func (m *Manager) buildMessage(action *domain.Action) string {
	description := fmt.Sprintf("Execute %s action", action.Kind)
	if action.Metadata != nil && action.Metadata.Description != "" {
		description = m.masker.Mask(action.Metadata.Description)
	}
	return "Agent wants to: " + description
}

func commandPreview(action *domain.Action) string {
	switch action.Kind {
	case domain.ActionRun, domain.ActionTest:
		return "Command: " + action.Payload.Command
	case domain.ActionEdit:
		return fmt.Sprintf("File: %s\nOperation: %s", action.Payload.File, action.Payload.Operation)
	case domain.ActionPreview:
		return "URL: " + action.Payload.URL
	default:
		return "Action: " + string(action.Kind)
	}
}

// renderDetails produces the full masked payload and metadata for a
// view-details response.
func (m *Manager) renderDetails(action *domain.Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\nSession ID: %s\nStep ID: %s\n", action.Kind, action.SessionID, action.StepID)

	var payload map[string]any
	if data, err := json.Marshal(action.Payload); err == nil {
		_ = json.Unmarshal(data, &payload)
	}
	if masked, err := json.MarshalIndent(m.masker.MaskValue(payload), "", "  "); err == nil {
		b.WriteString("\nPayload:\n")
		b.Write(masked)
		b.WriteString("\n")
	}

	if action.Metadata != nil {
		if data, err := json.MarshalIndent(action.Metadata, "", "  "); err == nil {
			b.WriteString("\nMetadata:\n")
			b.WriteString(m.masker.Mask(string(data)))
			b.WriteString("\n")
		}
	}

	return b.String()
}
