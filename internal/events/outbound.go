package events

import (
	"encoding/json"
	"fmt"
	"time"

	"care-sync/internal/models"
)

// Outbound event names.
const (
	NameAuthenticated     = "authenticated"
	NameChatRoomJoined    = "chat-room-joined"
	NameNewMessage        = "new-message"
	NameMessagesRead      = "messages-read"
	NameUserTyping        = "user-typing"
	NameUserStoppedTyping = "user-stopped-typing"
	NameChatError         = "chat-error"
)

// Outbound is an event pushed by the core to clients.
type Outbound interface {
	Name() string
	payload() any
}

type Authenticated struct {
	UserID string `json:"userId"`
}

type ChatRoomJoined struct {
	RoomID string `json:"roomId"`
}

type NewMessage struct {
	Message models.Message
}

type MessagesRead struct {
	Receipt models.ReadReceipt
}

type UserTyping struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type UserStoppedTyping struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// EntityUpdated tells a client to re-fetch an entity; the event name is
// derived from the entity, e.g. "vital-updated".
type EntityUpdated struct {
	EventID   string            `json:"eventId"`
	Entity    models.EntityType `json:"-"`
	Type      models.Operation  `json:"type"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type ChatError struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

func (Authenticated) Name() string     { return NameAuthenticated }
func (ChatRoomJoined) Name() string    { return NameChatRoomJoined }
func (NewMessage) Name() string        { return NameNewMessage }
func (MessagesRead) Name() string      { return NameMessagesRead }
func (UserTyping) Name() string        { return NameUserTyping }
func (UserStoppedTyping) Name() string { return NameUserStoppedTyping }
func (e EntityUpdated) Name() string   { return UpdatedEventName(e.Entity) }
func (ChatError) Name() string         { return NameChatError }

func (e Authenticated) payload() any     { return e }
func (e ChatRoomJoined) payload() any    { return e }
func (e NewMessage) payload() any        { return e.Message }
func (e MessagesRead) payload() any      { return e.Receipt }
func (e UserTyping) payload() any        { return e }
func (e UserStoppedTyping) payload() any { return e }
func (e EntityUpdated) payload() any     { return e }
func (e ChatError) payload() any         { return e }

// UpdatedEventName returns the wire name for an entity change.
func UpdatedEventName(entity models.EntityType) string {
	return string(entity) + "-updated"
}

// NewEntityUpdated converts an UpdateEvent into its wire form.
func NewEntityUpdated(ev models.UpdateEvent) EntityUpdated {
	return EntityUpdated{
		EventID:   ev.ID,
		Entity:    ev.Entity,
		Type:      ev.Operation,
		Data:      ev.Payload,
		Timestamp: ev.Timestamp,
	}
}

// Encode renders an outbound event as an Envelope frame.
func Encode(ev Outbound) ([]byte, error) {
	data, err := json.Marshal(ev.payload())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name(), err)
	}
	return json.Marshal(Envelope{Event: ev.Name(), Data: data})
}
