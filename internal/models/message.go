package models

import (
	"sort"
	"time"
)

// DeliveryState is the delivery progress of a chat message.
type DeliveryState string

const (
	StateSent DeliveryState = "sent"
	// StateDelivered is reserved. The core never assigns it; messages move from sent to read.
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
)

var stateRank = map[DeliveryState]int{
	StateSent:      1,
	StateDelivered: 2,
	StateRead:      3,
}

// Valid reports whether s is a known delivery state.
func (s DeliveryState) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// CanAdvance reports whether a message in state s may move to next.
// States only move forward; staying put is not an advance.
func (s DeliveryState) CanAdvance(next DeliveryState) bool {
	from, ok := stateRank[s]
	if !ok {
		return false
	}
	to, ok := stateRank[next]
	if !ok {
		return false
	}
	return to > from
}

// AdvanceableTo lists, in order, the states that may move to next.
func AdvanceableTo(next DeliveryState) []DeliveryState {
	out := make([]DeliveryState, 0, len(stateRank))
	for s := range stateRank {
		if s.CanAdvance(next) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return stateRank[out[i]] < stateRank[out[j]] })
	return out
}

// Message represents a chat message between a patient and a caregiver.
type Message struct {
	ID           string        `db:"id" json:"id"`
	Seq          int64         `db:"seq" json:"seq"`
	RoomID       string        `db:"room_id" json:"roomId"`
	SenderID     string        `db:"sender_id" json:"senderId"`
	SenderRole   Role          `db:"sender_role" json:"senderRole"`
	ReceiverID   string        `db:"receiver_id" json:"receiverId"`
	ReceiverRole Role          `db:"receiver_role" json:"receiverRole"`
	Body         string        `db:"body" json:"message"`
	State        DeliveryState `db:"state" json:"state"`
	CreatedAt    time.Time     `db:"created_at" json:"createdAt"`
	ReadAt       *time.Time    `db:"read_at" json:"readAt,omitempty"`
}

// ReadReceipt is the result of a markRead batch.
type ReadReceipt struct {
	RoomID     string    `json:"roomId"`
	ReaderID   string    `json:"readerId"`
	MessageIDs []string  `json:"messageIds"`
	ReadAt     time.Time `json:"readAt"`
}
