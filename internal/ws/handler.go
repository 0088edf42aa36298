package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"care-sync/internal/auth"
	"care-sync/internal/events"
	"care-sync/internal/models"
	"care-sync/internal/observability"
	"care-sync/internal/telemetry"
)

// ChatService is the room, message and typing logic the handler dispatches to.
type ChatService interface {
	Join(ctx context.Context, p Peer, userID, counterpartID string) (string, error)
	Leave(p Peer, roomID string)
	Relay(ctx context.Context, p Peer, msg events.SendChatMessage) (models.Message, error)
	MarkRead(ctx context.Context, p Peer, roomID string) (models.ReadReceipt, error)
	StartTyping(p Peer, roomID, userName string) error
	StopTyping(p Peer, roomID, userName string) error
}

// Options tune the push-channel transport.
type Options struct {
	QueueSize      int
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxFrameBytes  int64
	RequestTimeout time.Duration
}

// DefaultOptions mirrors the production defaults.
func DefaultOptions() Options {
	return Options{
		QueueSize:      256,
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxFrameBytes:  64 << 10,
		RequestTimeout: 10 * time.Second,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler serves the push channel.
type Handler struct {
	gateway *Gateway
	chat    ChatService
	audit   *telemetry.AuditEmitter
	opts    Options
}

// NewHandler constructs a Handler. audit may be nil.
func NewHandler(gateway *Gateway, chat ChatService, audit *telemetry.AuditEmitter, opts Options) *Handler {
	return &Handler{gateway: gateway, chat: chat, audit: audit, opts: opts}
}

// Handle upgrades the request. A token in the Authorization header or the
// token query parameter authenticates during the handshake; without one the
// client must send an authenticate event.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("care-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, hasToken := auth.BearerToken(c.GetHeader("Authorization"))
	if !hasToken {
		token = c.Query("token")
		hasToken = token != ""
	}

	var identity auth.Identity
	if hasToken {
		id, err := h.gateway.validator.ValidateToken(ctx, token)
		if err != nil {
			observability.IncWSEvent("chat", "auth_failed")
			h.audit.Emit(ctx, telemetry.LevelWarn, "websocket handshake rejected: "+err.Error(), observability.RequestIDFromRequest(c.Request), nil)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		identity = id
	}

	transport, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	conn := NewConn(transport, info, h.opts.QueueSize)

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if hasToken {
		if err := h.gateway.Bind(conn, identity); err != nil {
			log.Printf("bind failed: %s err=%v", describe(conn), err)
			cancel()
			_ = conn.Close()
			return
		}
		_ = conn.Send(events.Authenticated{UserID: identity.UserID})
	}

	observability.IncWSActive("chat")
	observability.IncWSEvent("chat", "ws_connect")
	observability.PublishWSEvent(connCtx, "ws_connect", h.lifecycle(conn, ""))

	go conn.writePump(h.opts.PingInterval, h.opts.WriteTimeout)
	go func() {
		defer cancel()
		h.serve(connCtx, conn)
	}()
}

func (h *Handler) serve(ctx context.Context, conn *Conn) {
	var closeReason string
	defer func() {
		h.gateway.Deregister(conn)
		observability.DecWSActive("chat")
		observability.IncWSEvent("chat", "ws_disconnect")
		observability.PublishWSEvent(ctx, "ws_disconnect", h.lifecycle(conn, closeReason))
	}()

	t := conn.transport
	t.SetReadLimit(h.opts.MaxFrameBytes)
	_ = t.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	t.SetPongHandler(func(string) error {
		return t.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	for {
		messageType, data, err := t.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("chat", "ws_error")
				observability.PublishWSEvent(ctx, "ws_error", h.lifecycle(conn, closeReason))
			}
			return
		}
		_ = t.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
		if messageType != websocket.TextMessage {
			Deny(conn, events.CodeBadRequest, errors.New("only text frames are accepted"), "")
			continue
		}

		ev, err := events.Decode(data)
		if err != nil {
			observability.IncInboundEvent("invalid", "rejected")
			Deny(conn, events.CodeOf(err), err, "")
			continue
		}
		h.Dispatch(ctx, conn, ev)
	}
}

// Dispatch executes one decoded client event on behalf of conn. Failures are
// reported to the client as chat-error frames.
func (h *Handler) Dispatch(ctx context.Context, conn *Conn, ev events.Inbound) {
	if authEv, ok := ev.(events.Authenticate); ok {
		h.authenticate(ctx, conn, authEv)
		return
	}
	if _, ok := conn.Identity(); !ok {
		observability.IncInboundEvent(ev.Name(), "unauthenticated")
		Deny(conn, events.CodeUnauthenticated, errors.New("authenticate first"), "")
		return
	}

	var (
		err             error
		clientMessageID string
	)
	switch e := ev.(type) {
	case events.JoinChatRoom:
		_, err = h.chat.Join(ctx, conn, e.UserID, e.CounterpartID)
	case events.LeaveChatRoom:
		h.chat.Leave(conn, e.RoomID)
	case events.SendChatMessage:
		clientMessageID = e.ClientMessageID
		reqCtx, cancel := context.WithTimeout(ctx, h.opts.RequestTimeout)
		_, err = h.chat.Relay(reqCtx, conn, e)
		cancel()
	case events.MarkRead:
		reqCtx, cancel := context.WithTimeout(ctx, h.opts.RequestTimeout)
		_, err = h.chat.MarkRead(reqCtx, conn, e.RoomID)
		cancel()
	case events.TypingStart:
		err = h.chat.StartTyping(conn, e.RoomID, e.UserName)
	case events.TypingStop:
		err = h.chat.StopTyping(conn, e.RoomID, e.UserName)
	default:
		err = events.NewError(events.CodeBadRequest, "unsupported event "+ev.Name())
	}

	if err != nil {
		code := events.CodeOf(err)
		observability.IncInboundEvent(ev.Name(), code)
		if code == events.CodePersistenceFailed || code == events.CodeInternal {
			log.Printf("%s failed: %s err=%v", ev.Name(), describe(conn), err)
			userID := conn.UserID()
			h.audit.Emit(ctx, telemetry.LevelError, ev.Name()+" failed: "+err.Error(), conn.Info().RequestID, &userID)
		}
		Deny(conn, code, errors.New(events.PublicMessage(err)), clientMessageID)
		return
	}
	observability.IncInboundEvent(ev.Name(), "ok")
}

func (h *Handler) authenticate(ctx context.Context, conn *Conn, e events.Authenticate) {
	id, err := h.gateway.Authenticate(ctx, conn, e.UserID, e.Token)
	if err != nil {
		observability.IncInboundEvent(e.Name(), events.CodeAuthFailed)
		h.audit.Emit(ctx, telemetry.LevelWarn, "websocket authentication failed: "+err.Error(), conn.Info().RequestID, nil)
		Deny(conn, events.CodeAuthFailed, authFailure(err), "")
		return
	}
	observability.IncInboundEvent(e.Name(), "ok")
	_ = conn.Send(events.Authenticated{UserID: id.UserID})
}

func authFailure(err error) error {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return auth.ErrExpiredToken
	case errors.Is(err, ErrIdentityMismatch), errors.Is(err, ErrAlreadyBound):
		return err
	}
	return auth.ErrInvalidToken
}

func (h *Handler) lifecycle(conn *Conn, reason string) observability.WSEvent {
	info := conn.Info()
	return observability.WSEvent{
		Kind:        "chat",
		ConnID:      info.ConnID,
		UserID:      conn.UserID(),
		DeviceID:    info.DeviceID,
		IP:          info.IP,
		RequestID:   info.RequestID,
		TraceID:     info.TraceID,
		ConnectedAt: info.ConnectedAt,
		Reason:      reason,
	}
}
