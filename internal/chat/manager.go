package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"care-sync/internal/auth"
	"care-sync/internal/events"
	"care-sync/internal/models"
	"care-sync/internal/observability"
	"care-sync/internal/presence"
	"care-sync/internal/ws"
)

// MessageStore is the durable message store.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	// MarkRoomRead moves every unread message in roomID addressed to readerID
	// to read in one statement and returns the ids it changed.
	MarkRoomRead(ctx context.Context, roomID, readerID string, readAt time.Time) ([]string, error)
}

// Router delivers events to every connection of a user.
type Router interface {
	RouteToUser(ctx context.Context, userID string, ev events.Outbound) int
}

// Manager runs rooms, message relay, read receipts and typing.
type Manager struct {
	rooms  *Rooms
	store  MessageStore
	typing *presence.Tracker
	router Router
	locks  *keyLock
	now    func() time.Time
}

func NewManager(rooms *Rooms, store MessageStore, typing *presence.Tracker, router Router) *Manager {
	return &Manager{
		rooms:  rooms,
		store:  store,
		typing: typing,
		router: router,
		locks:  newKeyLock(),
		now:    time.Now,
	}
}

func identityOf(p ws.Peer) (auth.Identity, error) {
	id, ok := p.Identity()
	if !ok {
		return auth.Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// Join adds p to the room it shares with counterpartID and acknowledges with
// chat-room-joined. userID may be empty; otherwise it must be p's own user.
func (m *Manager) Join(ctx context.Context, p ws.Peer, userID, counterpartID string) (string, error) {
	id, err := identityOf(p)
	if err != nil {
		return "", err
	}
	if userID != "" && userID != id.UserID {
		return "", ErrNotOwner
	}
	if err := ValidateUserID(id.UserID); err != nil {
		return "", err
	}
	if err := ValidateUserID(counterpartID); err != nil {
		return "", err
	}
	if counterpartID == id.UserID {
		return "", ErrSelfChat
	}

	roomID := RoomID(id.UserID, counterpartID)
	m.rooms.Add(roomID, p)

	frame, err := events.Encode(events.ChatRoomJoined{RoomID: roomID})
	if err != nil {
		return "", err
	}
	if err := p.Deliver(frame); err != nil {
		log.Printf("chat-room-joined not delivered: conn_id=%s room_id=%s err=%v", p.ID(), roomID, err)
	}
	log.Printf("room joined: conn_id=%s user_id=%s room_id=%s", p.ID(), id.UserID, roomID)
	return roomID, nil
}

// Leave removes p from roomID. It is a no-op when p is not a member. A leave
// waits for an in-flight relay or read transition on the room.
func (m *Manager) Leave(p ws.Peer, roomID string) {
	unlock := m.locks.Lock(roomID)
	removed := m.rooms.Remove(roomID, p.ID())
	unlock()
	if !removed {
		return
	}
	if id, ok := p.Identity(); ok && m.typing.Active(roomID, id.UserID) {
		m.typing.Stop(roomID, id.UserID, id.Name)
	}
}

// Relay persists a message from p's user to msg.ReceiverID and, once the
// store accepted it, broadcasts new-message to every connection in the room.
// Relays and read transitions for one room are serialized, so every
// connection sees the room's messages in commit order.
func (m *Manager) Relay(ctx context.Context, p ws.Peer, msg events.SendChatMessage) (models.Message, error) {
	started := time.Now()
	id, err := identityOf(p)
	if err != nil {
		return models.Message{}, err
	}
	if err := ValidateUserID(msg.ReceiverID); err != nil {
		return models.Message{}, err
	}
	if msg.ReceiverID == id.UserID {
		return models.Message{}, ErrSelfChat
	}
	body := strings.TrimSpace(msg.Message)
	if body == "" {
		return models.Message{}, ErrEmptyMessage
	}
	receiverRole, err := receiverRoleFor(id.Role, msg.ReceiverModel)
	if err != nil {
		return models.Message{}, err
	}

	roomID := RoomID(id.UserID, msg.ReceiverID)
	if !m.rooms.IsMember(roomID, p.ID()) {
		return models.Message{}, ErrNotAMember
	}

	ctx, span := otel.Tracer("care-sync/chat").Start(ctx, "chat.relay")
	defer span.End()
	span.SetAttributes(attribute.String("chat.room_id", roomID))

	unlock := m.locks.Lock(roomID)
	defer unlock()

	// Membership may have changed while waiting for the room.
	if !m.rooms.IsMember(roomID, p.ID()) {
		observability.ObserveRelay("not_a_member", started)
		return models.Message{}, ErrNotAMember
	}

	stored, err := m.store.CreateMessage(ctx, models.Message{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		SenderID:     id.UserID,
		SenderRole:   id.Role,
		ReceiverID:   msg.ReceiverID,
		ReceiverRole: receiverRole,
		Body:         msg.Message,
		State:        models.StateSent,
		CreatedAt:    m.now().UTC(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist message")
		observability.ObserveRelay("persistence_failed", started)
		log.Printf("relay persist failed: room_id=%s sender_id=%s client_message_id=%s err=%v", roomID, id.UserID, msg.ClientMessageID, err)
		return models.Message{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	m.rooms.Touch(roomID)
	n := m.rooms.BroadcastRoom(roomID, events.NewMessage{Message: stored}, "")
	span.SetAttributes(attribute.Int("chat.delivered", n))
	observability.ObserveRelay("ok", started)
	return stored, nil
}

// receiverRoleFor resolves the receiver's role from the client's model name.
// Without one, a patient is assumed to write to a caregiver and anyone else
// to a patient.
func receiverRoleFor(senderRole models.Role, receiverModel string) (models.Role, error) {
	if strings.TrimSpace(receiverModel) != "" {
		role, err := models.ParseRole(receiverModel)
		if err != nil {
			return "", ErrInvalidRole
		}
		return role, nil
	}
	if senderRole == models.RolePatient {
		return models.RoleCaregiver, nil
	}
	return models.RolePatient, nil
}

// MarkRead marks everything in roomID addressed to p's user as read. p must
// have joined the room.
func (m *Manager) MarkRead(ctx context.Context, p ws.Peer, roomID string) (models.ReadReceipt, error) {
	id, err := identityOf(p)
	if err != nil {
		return models.ReadReceipt{}, err
	}
	counterpart, err := Counterpart(roomID, id.UserID)
	if err != nil {
		return models.ReadReceipt{}, err
	}
	if !m.rooms.IsMember(roomID, p.ID()) {
		return models.ReadReceipt{}, ErrNotAMember
	}
	return m.markRead(ctx, roomID, id.UserID, counterpart)
}

// MarkRoomRead is MarkRead for callers without a connection, such as the
// REST fallback. The room is derived from the two participants.
func (m *Manager) MarkRoomRead(ctx context.Context, readerID, counterpartID string) (models.ReadReceipt, error) {
	if err := ValidateUserID(readerID); err != nil {
		return models.ReadReceipt{}, err
	}
	if err := ValidateUserID(counterpartID); err != nil {
		return models.ReadReceipt{}, err
	}
	if readerID == counterpartID {
		return models.ReadReceipt{}, ErrSelfChat
	}
	return m.markRead(ctx, RoomID(readerID, counterpartID), readerID, counterpartID)
}

func (m *Manager) markRead(ctx context.Context, roomID, readerID, counterpartID string) (models.ReadReceipt, error) {
	unlock := m.locks.Lock(roomID)
	defer unlock()

	readAt := m.now().UTC()
	ids, err := m.store.MarkRoomRead(ctx, roomID, readerID, readAt)
	if err != nil {
		log.Printf("mark read failed: room_id=%s reader_id=%s err=%v", roomID, readerID, err)
		return models.ReadReceipt{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	receipt := models.ReadReceipt{RoomID: roomID, ReaderID: readerID, MessageIDs: ids, ReadAt: readAt}
	if len(ids) == 0 {
		return receipt, nil
	}

	m.rooms.Touch(roomID)
	observability.AddMessagesRead(len(ids))
	m.router.RouteToUser(ctx, counterpartID, events.MessagesRead{Receipt: receipt})
	return receipt, nil
}

// StartTyping marks p's user as typing in roomID.
func (m *Manager) StartTyping(p ws.Peer, roomID, userName string) error {
	id, err := m.roomMember(p, roomID)
	if err != nil {
		return err
	}
	m.typing.Start(roomID, id.UserID, displayName(userName, id))
	return nil
}

// StopTyping clears p's user typing state in roomID.
func (m *Manager) StopTyping(p ws.Peer, roomID, userName string) error {
	id, err := m.roomMember(p, roomID)
	if err != nil {
		return err
	}
	m.typing.Stop(roomID, id.UserID, displayName(userName, id))
	return nil
}

func (m *Manager) roomMember(p ws.Peer, roomID string) (auth.Identity, error) {
	id, err := identityOf(p)
	if err != nil {
		return auth.Identity{}, err
	}
	if !m.rooms.IsMember(roomID, p.ID()) {
		return auth.Identity{}, ErrNotAMember
	}
	return id, nil
}

func displayName(userName string, id auth.Identity) string {
	if userName != "" {
		return userName
	}
	return id.Name
}

// Disconnect removes p from every room and emits stop-typing in each of them.
func (m *Manager) Disconnect(p ws.Peer) {
	left := m.rooms.RemovePeer(p.ID())
	id, ok := p.Identity()
	if !ok {
		return
	}
	for _, roomID := range left {
		m.typing.Stop(roomID, id.UserID, id.Name)
	}
	if len(left) > 0 {
		log.Printf("rooms left on disconnect: conn_id=%s user_id=%s rooms=%d", p.ID(), id.UserID, len(left))
	}
}
