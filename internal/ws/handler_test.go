package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"care-sync/internal/auth"
	"care-sync/internal/events"
	"care-sync/internal/models"
)

type fakeChat struct {
	mu       sync.Mutex
	joined   []string
	typing   []string
	relayErr error
}

func (f *fakeChat) Join(_ context.Context, p Peer, _ string, counterpartID string) (string, error) {
	id, _ := p.Identity()
	roomID := id.UserID + "_" + counterpartID
	f.mu.Lock()
	f.joined = append(f.joined, roomID)
	f.mu.Unlock()
	frame, err := events.Encode(events.ChatRoomJoined{RoomID: roomID})
	if err != nil {
		return "", err
	}
	return roomID, p.Deliver(frame)
}

func (f *fakeChat) Leave(Peer, string) {}

func (f *fakeChat) Relay(_ context.Context, p Peer, msg events.SendChatMessage) (models.Message, error) {
	if f.relayErr != nil {
		return models.Message{}, f.relayErr
	}
	id, _ := p.Identity()
	return models.Message{ID: "m1", SenderID: id.UserID, ReceiverID: msg.ReceiverID, Body: msg.Message, State: models.StateSent}, nil
}

func (f *fakeChat) MarkRead(context.Context, Peer, string) (models.ReadReceipt, error) {
	return models.ReadReceipt{}, nil
}

func (f *fakeChat) StartTyping(_ Peer, roomID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, roomID)
	return nil
}

func (f *fakeChat) StopTyping(Peer, string, string) error { return nil }

type handlerHarness struct {
	gateway   *Gateway
	chat      *fakeChat
	validator *auth.JWTValidator
	handler   *Handler
	server    *httptest.Server
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	g, v := newTestGateway()
	chat := &fakeChat{}
	h := NewHandler(g, chat, nil, DefaultOptions())

	router := gin.New()
	router.GET("/ws", h.Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &handlerHarness{gateway: g, chat: chat, validator: v, handler: h, server: srv}
}

func (hh *handlerHarness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hh.server.URL, "http") + "/ws" + query
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(events.Envelope{Event: event, Data: raw}))
}

func read(t *testing.T, c *websocket.Conn) events.Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env events.Envelope
	require.NoError(t, c.ReadJSON(&env))
	return env
}

func readError(t *testing.T, c *websocket.Conn) events.ChatError {
	t.Helper()
	env := read(t, c)
	require.Equal(t, events.NameChatError, env.Event)
	var payload events.ChatError
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	return payload
}

func TestHandlerAuthenticateThenJoin(t *testing.T) {
	hh := newHandlerHarness(t)
	c := hh.dial(t, "")

	send(t, c, events.NameJoinChatRoom, events.JoinChatRoom{CounterpartID: "u2"})
	assert.Equal(t, events.CodeUnauthenticated, readError(t, c).Code)

	send(t, c, events.NameAuthenticate, events.Authenticate{UserID: "u1", Token: "garbage"})
	assert.Equal(t, events.CodeAuthFailed, readError(t, c).Code)

	send(t, c, events.NameAuthenticate, events.Authenticate{UserID: "u1", Token: issue(t, hh.validator, "u1")})
	env := read(t, c)
	require.Equal(t, events.NameAuthenticated, env.Event)
	assert.JSONEq(t, `{"userId":"u1"}`, string(env.Data))

	send(t, c, events.NameJoinChatRoom, events.JoinChatRoom{UserID: "u1", CounterpartID: "u2"})
	env = read(t, c)
	require.Equal(t, events.NameChatRoomJoined, env.Event)
	assert.JSONEq(t, `{"roomId":"u1_u2"}`, string(env.Data))
}

func TestHandlerFailedReauthenticationDropsSession(t *testing.T) {
	hh := newHandlerHarness(t)
	c := hh.dial(t, "?token="+issue(t, hh.validator, "u1"))
	require.Equal(t, events.NameAuthenticated, read(t, c).Event)
	require.Len(t, hh.gateway.Registry().UserConnections("u1"), 1)

	send(t, c, events.NameAuthenticate, events.Authenticate{UserID: "u1", Token: "garbage"})
	assert.Equal(t, events.CodeAuthFailed, readError(t, c).Code)
	assert.Empty(t, hh.gateway.Registry().UserConnections("u1"))

	send(t, c, events.NameJoinChatRoom, events.JoinChatRoom{CounterpartID: "u2"})
	assert.Equal(t, events.CodeUnauthenticated, readError(t, c).Code)
}

func TestHandlerRejectsMalformedFrames(t *testing.T) {
	hh := newHandlerHarness(t)
	c := hh.dial(t, "?token="+issue(t, hh.validator, "u1"))
	require.Equal(t, events.NameAuthenticated, read(t, c).Event)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, events.CodeBadRequest, readError(t, c).Code)

	send(t, c, "delete-everything", map[string]string{})
	assert.Equal(t, events.CodeBadRequest, readError(t, c).Code)

	send(t, c, events.NameSendChatMessage, events.SendChatMessage{ReceiverID: "u2", Message: "   "})
	assert.Equal(t, events.CodeBadRequest, readError(t, c).Code)

	// The connection stays usable after a rejected frame.
	send(t, c, events.NameTypingStart, events.TypingStart{RoomID: "u1_u2", UserName: "Ann"})
	require.Eventually(t, func() bool {
		hh.chat.mu.Lock()
		defer hh.chat.mu.Unlock()
		return len(hh.chat.typing) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHandlerReportsPersistenceFailure(t *testing.T) {
	hh := newHandlerHarness(t)
	hh.chat.relayErr = events.NewError(events.CodePersistenceFailed, "message could not be saved")
	c := hh.dial(t, "?token="+issue(t, hh.validator, "u1"))
	require.Equal(t, events.NameAuthenticated, read(t, c).Event)

	send(t, c, events.NameSendChatMessage, events.SendChatMessage{
		ReceiverID:      "u2",
		Message:         "hello",
		ClientMessageID: "tmp-1",
	})

	payload := readError(t, c)
	assert.Equal(t, events.CodePersistenceFailed, payload.Code)
	assert.Equal(t, "message could not be saved", payload.Message)
	assert.Equal(t, "tmp-1", payload.ClientMessageID)
}

func TestHandlerRejectsBadHandshakeToken(t *testing.T) {
	hh := newHandlerHarness(t)
	url := "ws" + strings.TrimPrefix(hh.server.URL, "http") + "/ws?token=bad"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerDeregistersOnClose(t *testing.T) {
	hh := newHandlerHarness(t)

	var mu sync.Mutex
	gone := []string{}
	hh.gateway.OnDeregister(func(c *Conn) {
		mu.Lock()
		defer mu.Unlock()
		gone = append(gone, c.UserID())
	})

	c := hh.dial(t, "?token="+issue(t, hh.validator, "u1"))
	require.Equal(t, events.NameAuthenticated, read(t, c).Event)
	require.Len(t, hh.gateway.Registry().UserConnections("u1"), 1)

	require.NoError(t, c.Close())

	require.Eventually(t, func() bool {
		return len(hh.gateway.Registry().UserConnections("u1")) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gone) == 1 && gone[0] == "u1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatchWithoutSocket(t *testing.T) {
	g, _ := newTestGateway()
	chat := &fakeChat{}
	h := NewHandler(g, chat, nil, DefaultOptions())

	c := boundConn(t, "c1", "u1")
	h.Dispatch(context.Background(), c, events.JoinChatRoom{CounterpartID: "u2"})

	frames := drain(c)
	require.Len(t, frames, 1)
	assert.Equal(t, events.NameChatRoomJoined, frames[0].Event)
	assert.Equal(t, []string{"u1_u2"}, chat.joined)
}
