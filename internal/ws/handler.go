package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/presence"
)

// TokenValidator resolves a handshake token to a user id.
type TokenValidator interface {
	ValidateToken(token string) (int, error)
}

// Sessions is the messaging core as seen from the transport.
type Sessions interface {
	Connect(ctx context.Context, userID int, conn presence.Conn) error
	Disconnect(ctx context.Context, userID int, conn presence.Conn) error
	MarkSeen(ctx context.Context, viewerID int, req models.MarkSeenRequest) (int, error)
}

// Handler upgrades authenticated requests to websocket connections.
type Handler struct {
	sessions  Sessions
	validator TokenValidator
	upgrader  websocket.Upgrader
}

// NewHandler constructs a Handler. An empty allowedOrigins accepts any origin.
func NewHandler(sessions Sessions, validator TokenValidator, allowedOrigins []string) *Handler {
	return &Handler{
		sessions:  sessions,
		validator: validator,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

// Handle authenticates the handshake, upgrades, and registers the user.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := observability.Tracer("dm-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.Query("token")
	if header := c.GetHeader("Authorization"); token == "" && header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token = parts[1]
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "missing token"})
		return
	}
	userID, err := h.validator.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	meta := observability.MetaFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   meta.RequestID,
		TraceID:     observability.TraceID(ctx),
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info)
	go client.writePump()

	// Detached from the HTTP request: the handshake request ends before the socket does.
	sessionCtx := context.WithoutCancel(ctx)
	if err := h.sessions.Connect(sessionCtx, userID, client); err != nil {
		slog.Error("websocket connect failed", "user_id", userID, "conn_id", info.ConnID, "err", err)
		client.Close()
		return
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	publishLifecycle(sessionCtx, "ws_connect", info, "")
	slog.Info("websocket connected", "user_id", userID, "conn_id", info.ConnID)

	go h.serve(sessionCtx, client)
}

func (h *Handler) serve(ctx context.Context, client *Client) {
	info := client.info
	err := client.readPump(func(ev inbound) {
		h.handleEvent(ctx, client, ev)
	})

	reason := ""
	if err != nil {
		reason = err.Error()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			observability.IncWSEvent("ws_error")
			publishLifecycle(ctx, "ws_error", info, reason)
		}
	}

	client.Close()
	if err := h.sessions.Disconnect(ctx, info.UserID, client); err != nil {
		slog.Error("websocket disconnect failed", "user_id", info.UserID, "conn_id", info.ConnID, "err", err)
	}
	observability.DecWSActive()
	observability.IncWSEvent("ws_disconnect")
	publishLifecycle(ctx, "ws_disconnect", info, reason)
	slog.Info("websocket disconnected", "user_id", info.UserID, "conn_id", info.ConnID)
}

func (h *Handler) handleEvent(ctx context.Context, client *Client, ev inbound) {
	switch ev.Type {
	case models.EventMarkMessagesAsSeen:
		var req models.MarkSeenRequest
		if err := json.Unmarshal(ev.Payload, &req); err != nil {
			slog.Debug("websocket: bad markMessagesAsSeen payload", "conn_id", client.ID(), "err", err)
			return
		}
		if _, err := h.sessions.MarkSeen(ctx, client.info.UserID, req); err != nil {
			slog.Warn("websocket: mark seen failed", "user_id", client.info.UserID, "sender_id", req.SenderID, "err", err)
		}
	default:
		slog.Debug("websocket: unknown client event", "conn_id", client.ID(), "type", ev.Type)
	}
}

func publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	_ = observability.PublishEvent(ctx, "ws_events.direct", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
