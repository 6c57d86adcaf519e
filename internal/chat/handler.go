package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go-counsel/internal/consultation"
	"go-counsel/internal/domain"
	"go-counsel/internal/message"
	"go-counsel/internal/metrics"
	myMiddleware "go-counsel/internal/middleware"
	"go-counsel/internal/presence"
	"go-counsel/internal/protocol"
)

const (
	maxStatusQuery   = 200
	heartbeatTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the bearer credential
	},
}

// Messages is what the connection path needs from the message pipeline.
type Messages interface {
	Authorize(ctx context.Context, actor domain.Actor, consultationID string) (*consultation.Consultation, error)
	Send(ctx context.Context, actor domain.Actor, req message.SendRequest) (protocol.MessageView, error)
	MarkRead(ctx context.Context, reader domain.Actor, consultationID string) (protocol.MessagesRead, error)
}

type Handler struct {
	hub      *Hub
	presence presence.Tracker
	messages Messages
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewHandler(hub *Hub, p presence.Tracker, messages Messages, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:      hub,
		presence: p,
		messages: messages,
		logger:   logger.With("component", "ws"),
		metrics:  m,
	}
}

// ServeWs upgrades an authenticated request and runs the connection until it closes.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "upgrade failed",
			"operation", "ws_upgrade",
			"outcome", "failure",
			"user_id", actor.UserID,
			"error", err.Error(),
		)
		return
	}

	// the request context ends when this handler returns; the connection outlives it
	ctx := context.WithoutCancel(r.Context())

	client := &Client{
		ID:     uuid.NewString(),
		UserID: actor.UserID,
		Name:   actor.Name,
		Role:   actor.Role,
		Hub:    h.hub,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		logger: h.logger,
	}
	client.OnPong = func() { h.heartbeat(ctx, client) }

	select {
	case h.hub.Register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}
	h.metrics.ConnectionOpened()
	h.connected(ctx, client)

	go client.WritePump()
	go func() {
		client.ReadPump(func(raw []byte) { h.dispatch(ctx, client, raw) })
		h.disconnected(ctx, client)
	}()
}

// connected broadcasts only the offline->online transition.
func (h *Handler) connected(ctx context.Context, c *Client) {
	wentOnline, err := h.presence.RecordConnect(ctx, c.UserID, c.ID)
	if err != nil {
		h.logger.WarnContext(ctx, "presence connect failed",
			"operation", "presence_connect",
			"outcome", "failure",
			"user_id", c.UserID,
			"error", err.Error(),
		)
		return
	}
	h.logger.InfoContext(ctx, "connection opened",
		"operation", "ws_connect",
		"outcome", "success",
		"user_id", c.UserID,
		"conn_id", c.ID,
		"went_online", wentOnline,
	)
	if wentOnline {
		h.metrics.PresenceTransition(true)
		h.hub.EmitToAll(ctx, protocol.UserStatusChange{UserID: c.UserID, IsOnline: true})
	}
}

func (h *Handler) disconnected(ctx context.Context, c *Client) {
	select {
	case h.hub.Unregister <- c:
	case <-h.hub.done:
	}
	h.metrics.ConnectionClosed()

	wentOffline, err := h.presence.RecordDisconnect(ctx, c.UserID, c.ID)
	if err != nil {
		h.logger.WarnContext(ctx, "presence disconnect failed",
			"operation", "presence_disconnect",
			"outcome", "failure",
			"user_id", c.UserID,
			"error", err.Error(),
		)
		return
	}
	h.logger.InfoContext(ctx, "connection closed",
		"operation", "ws_disconnect",
		"outcome", "success",
		"user_id", c.UserID,
		"conn_id", c.ID,
		"went_offline", wentOffline,
	)
	if wentOffline {
		h.metrics.PresenceTransition(false)
		h.hub.EmitToAll(ctx, protocol.UserStatusChange{UserID: c.UserID, IsOnline: false})
	}
}

// heartbeat keeps the connection fresh in a shared presence store.
func (h *Handler) heartbeat(ctx context.Context, c *Client) {
	hbCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	defer cancel()
	if err := h.presence.Heartbeat(hbCtx, c.UserID, c.ID); err != nil {
		h.logger.WarnContext(ctx, "presence heartbeat failed",
			"operation", "presence_heartbeat",
			"outcome", "failure",
			"user_id", c.UserID,
			"conn_id", c.ID,
			"error", err.Error(),
		)
	}
}

// dispatch runs on the read goroutine of c.
func (h *Handler) dispatch(ctx context.Context, c *Client, raw []byte) {
	in, err := protocol.Decode(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownEvent) {
			h.logger.DebugContext(ctx, "unknown event", "operation", "ws_dispatch", "conn_id", c.ID, "error", err.Error())
		}
		h.hub.SendTo(c, protocol.Error{Code: domain.Code(domain.ErrValidation), Message: err.Error()})
		return
	}

	switch ev := in.(type) {
	case *protocol.JoinConsultation:
		h.join(ctx, c, ev.ConsultationID)
	case *protocol.SendMessage:
		h.send(ctx, c, ev)
	case *protocol.TypingStart:
		h.typing(ctx, c, protocol.EventTypingStart, ev.ConsultationID)
	case *protocol.TypingStop:
		h.typing(ctx, c, protocol.EventTypingStop, ev.ConsultationID)
	case *protocol.ReadReceipt:
		h.readReceipt(ctx, c, ev.ConsultationID)
	case *protocol.GetUsersStatus:
		h.usersStatus(ctx, c, ev.UserIDs)
	}
}

func (h *Handler) join(ctx context.Context, c *Client, consultationID string) {
	cons, err := h.messages.Authorize(ctx, c.Actor(), consultationID)
	if err != nil {
		h.fail(ctx, c, "ws_join", err)
		return
	}
	c.consultationID = cons.ID
	h.hub.Join(c, cons.ID)
	h.hub.SendTo(c, protocol.JoinedConsultation{ConsultationID: cons.ID, Status: string(cons.Status)})
}

func (h *Handler) send(ctx context.Context, c *Client, ev *protocol.SendMessage) {
	_, err := h.messages.Send(ctx, c.Actor(), message.SendRequest{
		ConsultationID: ev.ConsultationID,
		Content:        ev.Content,
		Type:           ev.Type,
		FileURL:        ev.FileURL,
		ReplyToID:      ev.ReplyToID,
	})
	if err == nil {
		return
	}
	if blocked, ok := message.IsBlocked(err); ok {
		h.hub.SendTo(c, protocol.MessageBlocked{
			ConsultationID: ev.ConsultationID,
			Reason:         blocked.Reason,
			Category:       blocked.Category,
		})
		return
	}
	h.fail(ctx, c, "ws_send_message", err)
}

// typing is relayed only inside the consultation channel the connection has joined.
func (h *Handler) typing(ctx context.Context, c *Client, name, consultationID string) {
	if consultationID == "" || c.consultationID != consultationID {
		return
	}
	h.hub.EmitToRoom(ctx, consultationID, c.ID, protocol.TypingNotice{
		Name:           name,
		ConsultationID: consultationID,
		UserID:         c.UserID,
		UserName:       c.Name,
	})
}

// readReceipt is fire-and-forget: failures are logged, never reported to the sender.
func (h *Handler) readReceipt(ctx context.Context, c *Client, consultationID string) {
	if consultationID == "" || c.consultationID != consultationID {
		return
	}
	if _, err := h.messages.MarkRead(ctx, c.Actor(), consultationID); err != nil {
		h.logger.WarnContext(ctx, "read receipt failed",
			"operation", "ws_read_receipt",
			"outcome", "failure",
			"consultation_id", consultationID,
			"user_id", c.UserID,
			"error", err.Error(),
		)
	}
}

func (h *Handler) usersStatus(ctx context.Context, c *Client, ids []string) {
	if len(ids) > maxStatusQuery {
		ids = ids[:maxStatusQuery]
	}
	h.hub.SendTo(c, protocol.UsersStatus{Statuses: presence.Statuses(ctx, h.presence, ids)})
}

func (h *Handler) fail(ctx context.Context, c *Client, operation string, err error) {
	code := domain.Code(err)
	level := slog.LevelInfo
	if code == "INTERNAL_ERROR" {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, "event rejected",
		"operation", operation,
		"outcome", "failure",
		"code", code,
		"user_id", c.UserID,
		"conn_id", c.ID,
		"error", err.Error(),
	)
	h.hub.SendTo(c, protocol.Error{Code: code, Message: domain.PublicMessage(err)})
}
