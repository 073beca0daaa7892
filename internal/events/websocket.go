package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/devbridge/internal/domain"
)

// ActionHandler runs one submitted action end to end and always
// produces a result envelope.
type ActionHandler interface {
	Handle(ctx context.Context, action *domain.Action) *domain.Result
}

// WebSocketHandler upgrades event-stream connections. Clients receive
// every broadcast event and may submit actions over the same socket.
type WebSocketHandler struct {
	hub           *Hub
	actions       ActionHandler
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a WebSocket handler.
func NewWebSocketHandler(hub *Hub, actions ActionHandler, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		actions:       actions,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage represents an inbound WebSocket message.
type wsMessage struct {
	Type   string          `json:"type"`
	Action json.RawMessage `json:"action,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.Info("Event stream connection request", "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.hub.register(ws)
	defer h.hub.unregister(ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.writeJSON(ctx, ws, Event{Type: "connected", Timestamp: time.Now()}); err != nil {
		slog.Debug("Failed to send welcome event", "error", err)
		return
	}

	h.readLoop(ctx, ws)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client")
			} else {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Debug("Ignoring malformed WebSocket message", "error", err)
			continue
		}

		switch msg.Type {
		case "ping":
			if err := h.writeJSON(ctx, ws, Event{Type: "pong", Timestamp: time.Now()}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case "action.submit":
			h.handleSubmit(ctx, ws, msg.Action)
		default:
			slog.Debug("Ignoring unknown WebSocket message", "type", msg.Type)
		}
	}
}

func (h *WebSocketHandler) handleSubmit(ctx context.Context, ws *websocket.Conn, raw json.RawMessage) {
	var action domain.Action
	if err := json.Unmarshal(raw, &action); err != nil {
		h.writeError(ctx, ws, "invalid action payload: "+err.Error())
		return
	}
	if err := action.Validate(); err != nil {
		h.writeError(ctx, ws, err.Error())
		return
	}

	result := h.actions.Handle(ctx, &action)
	if err := h.writeJSON(ctx, ws, Event{Type: "action.result", Data: result, Timestamp: time.Now()}); err != nil {
		slog.Debug("Failed to send action result", "error", err)
	}
}

func (h *WebSocketHandler) writeError(ctx context.Context, ws *websocket.Conn, message string) {
	if err := h.writeJSON(ctx, ws, Event{
		Type:      "error",
		Data:      map[string]string{"error": message},
		Timestamp: time.Now(),
	}); err != nil {
		slog.Debug("Failed to send error event", "error", err)
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
