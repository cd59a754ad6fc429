package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yash-kavaiya/orchestrator/internal/api/middleware"
	"github.com/yash-kavaiya/orchestrator/internal/workflow"
	ws "github.com/yash-kavaiya/orchestrator/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS on the HTTP routes governs browser access; this
		// transport-level check is left permissive, matching the
		// teacher's handling of the same upgrade path.
		return true
	},
}

// OwnershipChecker is the repository access the WebSocket handler needs
// to authorize room subscriptions beyond a client's own user room.
type OwnershipChecker interface {
	GetExecution(ctx context.Context, userID, executionID string) (*workflow.WorkflowExecution, error)
	GetByID(ctx context.Context, userID, id string) (*workflow.Workflow, error)
}

// WebSocketHandler upgrades connections onto the event bus Hub.
type WebSocketHandler struct {
	hub     *ws.Hub
	checker OwnershipChecker
	logger  *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(hub *ws.Hub, checker OwnershipChecker, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, checker: checker, logger: logger}
}

// HandleConnection upgrades GET /ws into the bidirectional event channel
// described in §6: the client authenticates via the same bearer token as
// the REST routes (carried here in the query string, since a browser
// WebSocket handshake cannot set a custom header), then drives its own
// subscriptions with {type, room_id?} frames.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	client := &ws.Client{
		ID:            uuid.New().String(),
		UserID:        userID,
		Conn:          conn,
		Hub:           h.hub,
		Send:          make(chan []byte, 256),
		Subscriptions: make(map[string]bool),
		Authorize:     h.authorize(r.Context(), userID),
	}

	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	h.logger.Info("websocket connection established", "client_id", client.ID, "user_id", userID)
}

// authorize returns the per-client ACL callback: an execution: or
// workflow: room may only be joined by the user that owns the
// underlying record. The hub itself never touches the repository; this
// is the one place that does, per SPEC_FULL §4.C.
func (h *WebSocketHandler) authorize(ctx context.Context, userID string) func(room string) bool {
	return func(room string) bool {
		switch {
		case strings.HasPrefix(room, "execution:"):
			executionID := strings.TrimPrefix(room, "execution:")
			_, err := h.checker.GetExecution(ctx, userID, executionID)
			return err == nil
		case strings.HasPrefix(room, "workflow:"):
			workflowID := strings.TrimPrefix(room, "workflow:")
			_, err := h.checker.GetByID(ctx, userID, workflowID)
			return err == nil
		default:
			return false
		}
	}
}
