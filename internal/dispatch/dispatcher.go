// Package dispatch runs submitted actions through the full mediation
// pipeline: rate limits, step accounting, approval, execution, and the
// audit trail.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/devbridge/internal/approval"
	"github.com/ashureev/devbridge/internal/domain"
	"github.com/ashureev/devbridge/internal/executor"
	"github.com/ashureev/devbridge/internal/security"
	"github.com/ashureev/devbridge/internal/session"
	"github.com/ashureev/devbridge/internal/store"
)

const persistTimeout = 5 * time.Second

// Broadcaster pushes pipeline events to connected clients.
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// Dispatcher owns the action pipeline. Every submitted action produces
// exactly one result envelope; failures are encoded, never thrown.
type Dispatcher struct {
	sessions  *session.Manager
	limiter   *security.Limiter
	approvals *approval.Manager
	masker    *security.Masker
	repo      store.Repository
	hub       Broadcaster
	executors map[domain.ActionKind]executor.Executor

	now func() time.Time
}

// NewDispatcher wires the pipeline. repo and hub may be nil in tests.
func NewDispatcher(
	sessions *session.Manager,
	limiter *security.Limiter,
	approvals *approval.Manager,
	masker *security.Masker,
	repo store.Repository,
	hub Broadcaster,
	executors []executor.Executor,
) *Dispatcher {
	byKind := make(map[domain.ActionKind]executor.Executor, len(executors))
	for _, e := range executors {
		byKind[e.Kind()] = e
	}
	return &Dispatcher{
		sessions:  sessions,
		limiter:   limiter,
		approvals: approvals,
		masker:    masker,
		repo:      repo,
		hub:       hub,
		executors: byKind,
		now:       time.Now,
	}
}

// Handle runs one action end to end and always returns a result
// envelope. A panic in an executor becomes an execution error; it must
// not take the server down.
func (d *Dispatcher) Handle(ctx context.Context, action *domain.Action) (result *domain.Result) {
	stepAdded := false

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Action handler panicked", "action", action.Kind, "sessionId", action.SessionID, "panic", r)
			result = d.fail(ctx, action, stepAdded, nil, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := d.checkLimits(action); err != nil {
		return d.fail(ctx, action, stepAdded, nil, err)
	}

	step := &domain.Step{
		ID:        action.StepID,
		Action:    action.Kind,
		Payload:   action.Payload,
		StartTime: d.now(),
	}
	if err := d.sessions.AddStep(action.SessionID, step); err != nil {
		return d.fail(ctx, action, stepAdded, nil, err)
	}
	stepAdded = true

	d.broadcast("action.executing", map[string]any{
		"sessionId": action.SessionID,
		"stepId":    action.StepID,
		"action":    action.Kind,
	})

	var approvalGranted *bool
	if d.approvals.RequiresApproval(action) {
		approved, err := d.approvals.RequestApproval(ctx, action)
		if err != nil {
			return d.fail(ctx, action, stepAdded, nil, err)
		}
		approvalGranted = &approved
		if !approved {
			return d.fail(ctx, action, stepAdded, approvalGranted, domain.ErrApprovalDenied)
		}

		approvalTime := d.now()
		if _, err := d.sessions.UpdateStep(action.SessionID, action.StepID, session.StepUpdate{
			Approved:     &approved,
			ApprovalTime: &approvalTime,
		}); err != nil {
			return d.fail(ctx, action, stepAdded, approvalGranted, err)
		}
	}

	exec, ok := d.executors[action.Kind]
	if !ok {
		return d.fail(ctx, action, stepAdded, approvalGranted, fmt.Errorf("action %q: %w", action.Kind, domain.ErrUnknownAction))
	}

	snapshot, err := d.sessions.Get(action.SessionID)
	if err != nil {
		return d.fail(ctx, action, stepAdded, approvalGranted, err)
	}

	execResult, err := exec.Execute(ctx, snapshot, action.Payload)
	if err != nil {
		return d.fail(ctx, action, stepAdded, approvalGranted, err)
	}

	endTime := d.now()
	updated, err := d.sessions.UpdateStep(action.SessionID, action.StepID, session.StepUpdate{
		Result:  execResult,
		EndTime: &endTime,
	})
	if err != nil {
		return d.fail(ctx, action, stepAdded, approvalGranted, err)
	}
	d.persistStep(action.SessionID, updated)

	success := true
	if v, ok := execResult["success"].(bool); ok {
		success = v
	}

	d.broadcast("action.completed", map[string]any{
		"sessionId": action.SessionID,
		"stepId":    action.StepID,
		"success":   success,
	})

	return &domain.Result{
		SessionID:       action.SessionID,
		StepID:          action.StepID,
		Success:         success,
		Action:          action.Kind,
		Result:          execResult,
		Timestamp:       endTime,
		ApprovalGranted: approvalGranted,
	}
}

// checkLimits consumes the action's rate budgets: the global
// per-minute and per-session counters, plus the category matching the
// action kind.
func (d *Dispatcher) checkLimits(action *domain.Action) error {
	if err := d.limiter.Check(security.CategoryActions, action.SessionID); err != nil {
		return err
	}
	if err := d.limiter.Check(security.CategorySession, action.SessionID); err != nil {
		return err
	}

	switch action.Kind {
	case domain.ActionRun, domain.ActionTest:
		return d.limiter.Check(security.CategoryCommands, action.SessionID)
	case domain.ActionEdit:
		return d.limiter.Check(security.CategoryFileEdits, action.SessionID)
	case domain.ActionPreview:
		return d.limiter.Check(security.CategoryPreviews, action.SessionID)
	}
	return nil
}

// fail finalizes a failed action: the step (when one exists) gets the
// error and its end time, the audit row is written, and the failure is
// broadcast.
func (d *Dispatcher) fail(ctx context.Context, action *domain.Action, stepAdded bool, approvalGranted *bool, err error) *domain.Result {
	errInfo := &domain.ErrorInfo{Code: domain.ErrorCode(err), Message: err.Error()}
	slog.Error("Action failed", "action", action.Kind, "sessionId", action.SessionID, "stepId", action.StepID, "code", errInfo.Code, "error", err)

	endTime := d.now()
	if stepAdded {
		updated, updateErr := d.sessions.UpdateStep(action.SessionID, action.StepID, session.StepUpdate{
			Error:        errInfo,
			EndTime:      &endTime,
			Approved:     boolPtrValue(approvalGranted),
			ApprovalTime: nil,
		})
		if updateErr != nil {
			slog.Error("Failed to record step failure", "stepId", action.StepID, "error", updateErr)
		} else {
			d.persistStep(action.SessionID, updated)
		}
	}

	d.broadcast("action.failed", map[string]any{
		"sessionId": action.SessionID,
		"stepId":    action.StepID,
		"error":     errInfo.Message,
		"code":      errInfo.Code,
	})

	return &domain.Result{
		SessionID:       action.SessionID,
		StepID:          action.StepID,
		Success:         false,
		Action:          action.Kind,
		Result:          map[string]any{},
		Error:           errInfo,
		Timestamp:       endTime,
		ApprovalGranted: approvalGranted,
	}
}

// persistStep writes the audit row with the payload masked. Persistence
// failures are logged, never surfaced: the action already ran.
func (d *Dispatcher) persistStep(sessionID string, step *domain.Step) {
	if d.repo == nil {
		return
	}

	audited := step.Clone()
	if d.masker != nil {
		audited.Payload.Command = d.masker.Mask(audited.Payload.Command)
		audited.Payload.Content = d.masker.Mask(audited.Payload.Content)
		audited.Payload.URL = d.masker.Mask(audited.Payload.URL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := d.repo.SaveStep(ctx, sessionID, audited); err != nil {
		slog.Error("Failed to persist step", "sessionId", sessionID, "stepId", step.ID, "error", err)
	}
}

func (d *Dispatcher) broadcast(eventType string, data any) {
	if d.hub != nil {
		d.hub.Broadcast(eventType, data)
	}
}

func boolPtrValue(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
