package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is the kind of participant on either side of a conversation.
type Role string

const (
	RolePatient   Role = "patient"
	RoleCaregiver Role = "caregiver"
	RoleDoctor    Role = "doctor"
)

// ParseRole accepts role names case-insensitively, including the
// document-model names older clients send ("User", "Doctor").
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patient", "user":
		return RolePatient, nil
	case "caregiver":
		return RoleCaregiver, nil
	case "doctor":
		return RoleDoctor, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// RoomSummary is the per-room unread count returned to polling clients.
type RoomSummary struct {
	RoomID string `db:"room_id" json:"roomId"`
	Unread int    `db:"unread" json:"unread"`
}

// Room is the durable identity of a two-party conversation, created the
// first time the pair exchanges a message.
type Room struct {
	ID            string    `db:"id" json:"roomId"`
	ParticipantA  string    `db:"participant_a" json:"participantA"`
	ParticipantB  string    `db:"participant_b" json:"participantB"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	LastMessageAt time.Time `db:"last_message_at" json:"lastMessageAt"`
}
