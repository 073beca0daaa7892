package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/devbridge/internal/approval"
	"github.com/ashureev/devbridge/internal/config"
	"github.com/ashureev/devbridge/internal/domain"
	"github.com/ashureev/devbridge/internal/events"
	"github.com/ashureev/devbridge/internal/identity"
	"github.com/ashureev/devbridge/internal/security"
	"github.com/ashureev/devbridge/internal/session"
)

// echoActions returns a canned result for every submitted action.
type echoActions struct {
	last *domain.Action
}

func (e *echoActions) Handle(_ context.Context, action *domain.Action) *domain.Result {
	e.last = action
	return &domain.Result{
		SessionID: action.SessionID,
		StepID:    action.StepID,
		Success:   true,
		Action:    action.Kind,
		Result:    map[string]any{"success": true},
		Timestamp: time.Now(),
	}
}

func newTestHandler(t *testing.T) (*Handler, *echoActions, *chi.Mux) {
	t.Helper()

	sessions := session.NewManager(session.Options{
		MaxSteps:      50,
		WorkspaceRoot: "/workspace",
		ArtifactRoot:  t.TempDir(),
		Retention:     time.Hour,
	})
	actions := &echoActions{}
	cfg := &config.Config{Port: "3737", MaxStepsPerSession: 50}

	h := NewHandler(actions, sessions, nil, approval.NewQueue(nil), security.NewLimiter(nil), events.NewHub(), cfg)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	h.RegisterRoutes(r)
	return h, actions, r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func startSession(t *testing.T, r http.Handler) string {
	t.Helper()

	w := doJSON(t, r, http.MethodPost, "/api/session/start", map[string]any{
		"metadata": map[string]any{"projectGoal": "build feature"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("session start = %d: %s", w.Code, w.Body.String())
	}
	id, _ := decodeBody(t, w)["sessionId"].(string)
	if id == "" {
		t.Fatal("missing sessionId")
	}
	return id
}

func TestHealth(t *testing.T) {
	_, _, r := newTestHandler(t)

	w := doJSON(t, r, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" || body["db"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestStatus_ReflectsCurrentSession(t *testing.T) {
	_, _, r := newTestHandler(t)

	body := decodeBody(t, doJSON(t, r, http.MethodGet, "/api/status", nil))
	if body["sessionActive"] != false {
		t.Errorf("sessionActive = %v before any session", body["sessionActive"])
	}

	id := startSession(t, r)

	body = decodeBody(t, doJSON(t, r, http.MethodGet, "/api/status", nil))
	if body["sessionActive"] != true || body["currentSessionId"] != id {
		t.Errorf("body = %v", body)
	}
	if body["maxSteps"] != float64(50) {
		t.Errorf("maxSteps = %v", body["maxSteps"])
	}
}

func TestSubmitAction(t *testing.T) {
	_, actions, r := newTestHandler(t)
	id := startSession(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/action", map[string]any{
		"sessionId": id,
		"stepId":    "step-1",
		"action":    "run",
		"payload":   map[string]any{"command": "npm test"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["success"] != true || body["stepId"] != "step-1" {
		t.Errorf("body = %v", body)
	}
	if actions.last == nil || actions.last.Payload.Command != "npm test" {
		t.Errorf("pipeline got %+v", actions.last)
	}
}

func TestSubmitAction_Invalid(t *testing.T) {
	_, _, r := newTestHandler(t)

	// Missing stepId.
	w := doJSON(t, r, http.MethodPost, "/api/action", map[string]any{
		"sessionId": "s1",
		"action":    "run",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing stepId: status = %d", w.Code)
	}

	// Malformed JSON.
	req := httptest.NewRequest(http.MethodPost, "/api/action", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	_, _, r := newTestHandler(t)
	id := startSession(t, r)

	w := doJSON(t, r, http.MethodGet, "/api/session/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get session = %d", w.Code)
	}

	// End defaults to completed.
	w = doJSON(t, r, http.MethodPost, "/api/session/end", map[string]any{"sessionId": id})
	if w.Code != http.StatusOK {
		t.Fatalf("end session = %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["status"] != "completed" {
		t.Errorf("status = %v", body["status"])
	}

	// Ending twice conflicts.
	w = doJSON(t, r, http.MethodPost, "/api/session/end", map[string]any{"sessionId": id})
	if w.Code != http.StatusConflict {
		t.Errorf("second end = %d", w.Code)
	}
}

func TestEndSession_DefaultsToCurrent(t *testing.T) {
	_, _, r := newTestHandler(t)
	id := startSession(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/session/end", map[string]any{"status": "failed"})
	if w.Code != http.StatusOK {
		t.Fatalf("end = %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["id"] != id || body["status"] != "failed" {
		t.Errorf("body = %v", body)
	}

	// No current session anymore.
	w = doJSON(t, r, http.MethodPost, "/api/session/end", map[string]any{})
	if w.Code != http.StatusNotFound {
		t.Errorf("end without session = %d", w.Code)
	}
}

func TestEndSession_InvalidStatus(t *testing.T) {
	_, _, r := newTestHandler(t)
	id := startSession(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/session/end", map[string]any{"sessionId": id, "status": "active"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	_, _, r := newTestHandler(t)

	w := doJSON(t, r, http.MethodGet, "/api/session/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	_, _, r := newTestHandler(t)
	id := startSession(t, r)

	if w := doJSON(t, r, http.MethodDelete, "/api/session/"+id, nil); w.Code != http.StatusOK {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodDelete, "/api/session/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", w.Code)
	}
}

func TestApprovals_ResolveRoundTrip(t *testing.T) {
	h, _, r := newTestHandler(t)

	decided := make(chan approval.Decision, 1)
	go func() {
		d, _ := h.queue.Present(context.Background(), approval.Prompt{
			ID:          "sess-1:step-1",
			SessionID:   "sess-1",
			StepID:      "step-1",
			Message:     "Agent wants to: run npm test",
			RequestedAt: time.Now(),
		})
		decided <- d
	}()

	// Wait for the prompt to land in the queue.
	deadline := time.After(2 * time.Second)
	for len(h.queue.List()) == 0 {
		select {
		case <-deadline:
			t.Fatal("prompt never queued")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	w := doJSON(t, r, http.MethodGet, "/api/approvals", nil)
	var prompts []approval.Prompt
	if err := json.NewDecoder(w.Body).Decode(&prompts); err != nil {
		t.Fatal(err)
	}
	if len(prompts) != 1 || prompts[0].ID != "sess-1:step-1" {
		t.Fatalf("prompts = %v", prompts)
	}

	w = doJSON(t, r, http.MethodPost, "/api/approvals/sess-1:step-1", map[string]any{"decision": "approve"})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve = %d: %s", w.Code, w.Body.String())
	}

	select {
	case d := <-decided:
		if d != approval.Approve {
			t.Errorf("decision = %q", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prompt never resolved")
	}
}

func TestResolveApproval_Unknown(t *testing.T) {
	_, _, r := newTestHandler(t)

	w := doJSON(t, r, http.MethodPost, "/api/approvals/nope", map[string]any{"decision": "deny"})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}

func TestResolveApproval_BadDecision(t *testing.T) {
	_, _, r := newTestHandler(t)

	w := doJSON(t, r, http.MethodPost, "/api/approvals/x", map[string]any{"decision": "maybe"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}
