package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messenger-service/internal/auth"
	"messenger-service/internal/observability"
)

// Handler owns the websocket endpoint: it authenticates the handshake,
// binds the connection to its personal room, and pumps inbound events into
// the fan-out engine.
type Handler struct {
	hub    *Hub
	engine *Engine
	auth   *auth.Service
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, engine *Engine, authService *auth.Service) *Handler {
	return &Handler{hub: hub, engine: engine, auth: authService}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and runs it until disconnect. A missing or
// invalid credential terminates the handshake before any state is created.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messenger-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	meta := observability.MetaFromRequest(c.Request)
	client := NewClient(conn, userID, uuid.NewString(), meta.DeviceID, meta.IP)
	h.hub.Join(client, UserRoom(userID))

	observability.IncWSActive()
	observability.IncWSEvent("lifecycle", "ws_connect")
	traceID := span.SpanContext().TraceID().String()
	h.publishLifecycle(ctx, client, "ws_connect", "", meta.RequestID, traceID)

	// Counters must reflect persisted state from before this process
	// started, not just what this process has seen.
	h.engine.PrimeUser(ctx, userID)

	go client.WritePump()
	go func() {
		defer func() {
			h.hub.Forget(client)
			client.Close()
			observability.DecWSActive()
			observability.IncWSEvent("lifecycle", "ws_disconnect")
		}()
		closeReason := client.ReadPump(func(envelope Envelope) {
			h.dispatch(context.Background(), client, envelope)
		})
		h.publishLifecycle(context.Background(), client, "ws_disconnect", closeReason, meta.RequestID, traceID)
	}()
}

func (h *Handler) authenticate(c *gin.Context) (int64, error) {
	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
	} else {
		parts := strings.SplitN(token, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token = parts[1]
		}
	}
	if token == "" {
		return 0, auth.ErrInvalidToken
	}
	return h.auth.VerifyToken(token)
}

func (h *Handler) dispatch(ctx context.Context, client *Client, envelope Envelope) {
	observability.IncWSEvent("inbound", envelope.Event)

	switch envelope.Event {
	case EventJoinPrivateRoom:
		sessionID, err := parseRoomID(envelope.Data)
		if err != nil {
			log.Printf("joinPrivateRoom from user %d: %v", client.UserID, err)
			return
		}
		if !h.engine.CanJoinSession(ctx, client.UserID, sessionID) {
			log.Printf("user %d denied join of session %d", client.UserID, sessionID)
			return
		}
		h.hub.Join(client, SessionRoom(sessionID))

	case EventLeavePrivateRoom:
		sessionID, err := parseRoomID(envelope.Data)
		if err != nil {
			log.Printf("leavePrivateRoom from user %d: %v", client.UserID, err)
			return
		}
		h.hub.Leave(client, SessionRoom(sessionID))

	case EventJoinGroupRoom:
		groupID, err := parseRoomID(envelope.Data)
		if err != nil {
			log.Printf("joinGroupRoom from user %d: %v", client.UserID, err)
			return
		}
		h.hub.Join(client, GroupRoom(groupID))

	case EventLeaveGroupRoom:
		groupID, err := parseRoomID(envelope.Data)
		if err != nil {
			log.Printf("leaveGroupRoom from user %d: %v", client.UserID, err)
			return
		}
		h.hub.Leave(client, GroupRoom(groupID))

	case EventSendMessage:
		var event SendMessageEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			log.Printf("malformed sendMessage from user %d: %v", client.UserID, err)
			return
		}
		h.engine.HandleSendMessage(ctx, event)

	case EventFriendRequest:
		var event FriendRequestEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			log.Printf("malformed friend request event from user %d: %v", client.UserID, err)
			return
		}
		h.engine.HandleFriendRequest(ctx, event)

	default:
		log.Printf("unknown websocket event %q from user %d", envelope.Event, client.UserID)
	}
}

func (h *Handler) publishLifecycle(ctx context.Context, client *Client, event, reason, requestID, traceID string) {
	_ = observability.PublishEvent(ctx, "ws_events.messenger", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     client.ConnID,
				"duration_ms": time.Since(client.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   client.UserID,
				"device_id": client.DeviceID,
				"ip":        client.IP,
			},
		},
	}, observability.BuildHeaders(requestID, traceID))
}
