package executor

import (
	"context"
	"log/slog"

	"github.com/ashureev/devbridge/internal/domain"
	"github.com/ashureev/devbridge/internal/security"
)

// ResetExecutor clears the session's rate-limit counters. An
// administrative action: it always goes through approval.
type ResetExecutor struct {
	limiter *security.Limiter
}

// NewResetExecutor creates a reset executor.
func NewResetExecutor(limiter *security.Limiter) *ResetExecutor {
	return &ResetExecutor{limiter: limiter}
}

func (e *ResetExecutor) Kind() domain.ActionKind { return domain.ActionReset }

func (e *ResetExecutor) Execute(_ context.Context, sess *domain.Session, _ domain.Payload) (map[string]any, error) {
	e.limiter.ResetIdentifier(sess.ID)
	slog.Info("Rate counters reset", "sessionId", sess.ID)

	return map[string]any{
		"success": true,
		"cleared": "rate counters",
	}, nil
}
