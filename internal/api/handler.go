// Package api provides HTTP handlers for the bridge API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/devbridge/internal/approval"
	"github.com/ashureev/devbridge/internal/config"
	"github.com/ashureev/devbridge/internal/domain"
	"github.com/ashureev/devbridge/internal/events"
	"github.com/ashureev/devbridge/internal/identity"
	"github.com/ashureev/devbridge/internal/security"
	"github.com/ashureev/devbridge/internal/session"
	"github.com/ashureev/devbridge/internal/store"
)

// Handler provides the HTTP surface over the action pipeline.
type Handler struct {
	actions   events.ActionHandler
	sessions  *session.Manager
	repo      store.Repository
	queue     *approval.Queue
	limiter   *security.Limiter
	hub       *events.Hub
	cfg       *config.Config
	startTime time.Time
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(
	actions events.ActionHandler,
	sessions *session.Manager,
	repo store.Repository,
	queue *approval.Queue,
	limiter *security.Limiter,
	hub *events.Hub,
	cfg *config.Config,
) *Handler {
	return &Handler{
		actions:   actions,
		sessions:  sessions,
		repo:      repo,
		queue:     queue,
		limiter:   limiter,
		hub:       hub,
		cfg:       cfg,
		startTime: time.Now(),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers all API routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)
		r.Post("/action", h.SubmitAction)

		r.Post("/session/start", h.StartSession)
		r.Post("/session/end", h.EndSession)
		r.Get("/session/{sessionID}", h.GetSession)
		r.Delete("/session/{sessionID}", h.DeleteSession)
		r.Get("/sessions", h.ListSessions)

		r.Get("/approvals", h.ListApprovals)
		r.Post("/approvals/{promptID}", h.ResolveApproval)
	})
}

// Health reports process and database health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	db := "ok"
	status := http.StatusOK
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			db = "error"
			status = http.StatusServiceUnavailable
		}
	}

	JSON(w, status, map[string]any{
		"status":        "ok",
		"db":            db,
		"uptimeSeconds": int(time.Since(h.startTime).Seconds()),
	})
}

// Status reports the server and current-session state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"serverRunning":    true,
		"port":             h.cfg.Port,
		"sessionActive":    false,
		"currentSessionId": nil,
		"stepCount":        0,
		"maxSteps":         h.cfg.MaxStepsPerSession,
		"clients":          h.hub.ClientCount(),
	}
	if sess, ok := h.sessions.Current(); ok {
		resp["sessionActive"] = sess.Status == domain.StatusActive
		resp["currentSessionId"] = sess.ID
		resp["stepCount"] = len(sess.Steps)
		resp["maxSteps"] = sess.MaxSteps
	}
	JSON(w, http.StatusOK, resp)
}

// SubmitAction runs one agent action through the pipeline. The response
// is always the result envelope; pipeline failures are encoded in it,
// not in the HTTP status.
func (h *Handler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	var action domain.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		Error(w, http.StatusBadRequest, "invalid action payload: "+err.Error())
		return
	}
	if err := action.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.actions.Handle(r.Context(), &action)
	JSON(w, http.StatusOK, result)
}

type startSessionRequest struct {
	Metadata domain.SessionMetadata `json:"metadata"`
}

// StartSession creates a new session and makes it current. Session
// creation is rate limited per client so a runaway agent cannot churn
// through sessions to escape per-session limits.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	if err := h.limiter.Check(security.CategoryActions, "client:"+clientID); err != nil {
		Error(w, http.StatusTooManyRequests, err.Error())
		return
	}

	var req startSessionRequest
	if r.Body != nil {
		// An empty body is a session with no metadata, not an error.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	sess, err := h.sessions.Create(req.Metadata)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.persistSession(r, sess)
	h.hub.Broadcast("session.started", map[string]any{"sessionId": sess.ID})

	JSON(w, http.StatusCreated, map[string]any{
		"sessionId":     sess.ID,
		"maxSteps":      sess.MaxSteps,
		"workspaceRoot": sess.WorkspaceRoot,
	})
}

type endSessionRequest struct {
	SessionID string               `json:"sessionId"`
	Status    domain.SessionStatus `json:"status"`
}

// EndSession moves a session to a terminal status and writes its report.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.SessionID == "" {
		current, ok := h.sessions.Current()
		if !ok {
			Error(w, http.StatusNotFound, "no active session")
			return
		}
		req.SessionID = current.ID
	}
	if req.Status == "" {
		req.Status = domain.StatusCompleted
	}
	if !req.Status.Terminal() {
		Error(w, http.StatusBadRequest, "status must be completed, failed, or cancelled")
		return
	}

	sess, err := h.sessions.End(req.SessionID, req.Status)
	if err != nil {
		Error(w, sessionErrorStatus(err), err.Error())
		return
	}
	h.persistSession(r, sess)
	h.hub.Broadcast("session.ended", map[string]any{"sessionId": sess.ID, "status": sess.Status})

	JSON(w, http.StatusOK, sess)
}

// GetSession returns a session by ID. Sessions evicted from memory are
// served from the audit store.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.sessions.Get(sessionID)
	if err == nil {
		JSON(w, http.StatusOK, sess)
		return
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.repo != nil {
		stored, repoErr := h.repo.GetSession(r.Context(), sessionID)
		if repoErr == nil && stored != nil {
			JSON(w, http.StatusOK, stored)
			return
		}
	}
	Error(w, http.StatusNotFound, "session not found")
}

// DeleteSession removes a session from the registry.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.sessions.Delete(sessionID); err != nil {
		Error(w, sessionErrorStatus(err), err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]any{"deleted": sessionID})
}

// ListSessions returns recent sessions from the audit store.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		JSON(w, http.StatusOK, []any{})
		return
	}
	records, err := h.repo.ListSessions(r.Context(), 50)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	JSON(w, http.StatusOK, records)
}

// ListApprovals returns the pending approval prompts, oldest first.
func (h *Handler) ListApprovals(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.queue.List())
}

type resolveApprovalRequest struct {
	Decision string `json:"decision"`
}

// ResolveApproval delivers the operator's decision for a pending prompt.
func (h *Handler) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	promptID := chi.URLParam(r, "promptID")

	var req resolveApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	decision, ok := parseDecision(req.Decision)
	if !ok {
		Error(w, http.StatusBadRequest, "decision must be approve, deny, or view_details")
		return
	}

	if err := h.queue.Resolve(promptID, decision); err != nil {
		Error(w, http.StatusNotFound, err.Error())
		return
	}
	h.hub.Broadcast("approval.resolved", map[string]any{"promptId": promptID, "decision": decision})
	JSON(w, http.StatusOK, map[string]any{"promptId": promptID, "decision": decision})
}

func parseDecision(s string) (approval.Decision, bool) {
	switch approval.Decision(s) {
	case approval.Approve, approval.Deny, approval.ViewDetails:
		return approval.Decision(s), true
	}
	return "", false
}

// persistSession writes the session to the audit store. Persistence
// failures are logged, never surfaced: the lifecycle change already
// happened.
func (h *Handler) persistSession(r *http.Request, sess *domain.Session) {
	if h.repo == nil {
		return
	}
	if err := h.repo.SaveSession(r.Context(), sess); err != nil {
		slog.Error("Failed to persist session", "sessionId", sess.ID, "error", err)
	}
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
