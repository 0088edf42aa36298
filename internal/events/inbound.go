// Package events defines the push-channel wire protocol. Every frame is an
// Envelope carrying one event name and its payload; the set of inbound and
// outbound events is closed, and anything else is rejected on decode.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope is the JSON frame exchanged over the push channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	NameAuthenticate    = "authenticate"
	NameJoinChatRoom    = "join-chat-room"
	NameLeaveChatRoom   = "leave-chat-room"
	NameSendChatMessage = "send-chat-message"
	NameMarkRead        = "mark-read"
	NameTypingStart     = "typing-start"
	NameTypingStop      = "typing-stop"
)

// Inbound is an event sent by a client.
type Inbound interface {
	Name() string
	validate() error
}

type Authenticate struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type JoinChatRoom struct {
	UserID        string `json:"userId"`
	CounterpartID string `json:"counterpartId"`
}

type LeaveChatRoom struct {
	RoomID string `json:"roomId"`
}

type SendChatMessage struct {
	ReceiverID      string `json:"receiverId"`
	Message         string `json:"message"`
	ReceiverModel   string `json:"receiverModel"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

type MarkRead struct {
	RoomID string `json:"roomId"`
}

type TypingStart struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

type TypingStop struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

func (Authenticate) Name() string    { return NameAuthenticate }
func (JoinChatRoom) Name() string    { return NameJoinChatRoom }
func (LeaveChatRoom) Name() string   { return NameLeaveChatRoom }
func (SendChatMessage) Name() string { return NameSendChatMessage }
func (MarkRead) Name() string        { return NameMarkRead }
func (TypingStart) Name() string     { return NameTypingStart }
func (TypingStop) Name() string      { return NameTypingStop }

func (e Authenticate) validate() error {
	if e.Token == "" {
		return missing("token")
	}
	return nil
}

func (e JoinChatRoom) validate() error {
	if e.CounterpartID == "" {
		return missing("counterpartId")
	}
	return nil
}

func (e LeaveChatRoom) validate() error {
	if e.RoomID == "" {
		return missing("roomId")
	}
	return nil
}

func (e SendChatMessage) validate() error {
	if e.ReceiverID == "" {
		return missing("receiverId")
	}
	if strings.TrimSpace(e.Message) == "" {
		return missing("message")
	}
	return nil
}

func (e MarkRead) validate() error {
	if e.RoomID == "" {
		return missing("roomId")
	}
	return nil
}

func (e TypingStart) validate() error {
	if e.RoomID == "" {
		return missing("roomId")
	}
	return nil
}

func (e TypingStop) validate() error {
	if e.RoomID == "" {
		return missing("roomId")
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrMalformed, field)
}

// Decode parses a client frame into its typed event.
func Decode(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var ev Inbound
	switch env.Event {
	case NameAuthenticate:
		ev = &Authenticate{}
	case NameJoinChatRoom:
		ev = &JoinChatRoom{}
	case NameLeaveChatRoom:
		ev = &LeaveChatRoom{}
	case NameSendChatMessage:
		ev = &SendChatMessage{}
	case NameMarkRead:
		ev = &MarkRead{}
	case NameTypingStart:
		ev = &TypingStart{}
	case NameTypingStop:
		ev = &TypingStop{}
	case "":
		return nil, fmt.Errorf("%w: missing event name", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data", ErrMalformed)
	}
	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ev.validate(); err != nil {
		return nil, err
	}
	return deref(ev), nil
}

// deref returns the value form so callers can switch on concrete value types.
func deref(ev Inbound) Inbound {
	switch e := ev.(type) {
	case *Authenticate:
		return *e
	case *JoinChatRoom:
		return *e
	case *LeaveChatRoom:
		return *e
	case *SendChatMessage:
		return *e
	case *MarkRead:
		return *e
	case *TypingStart:
		return *e
	case *TypingStop:
		return *e
	}
	return ev
}
