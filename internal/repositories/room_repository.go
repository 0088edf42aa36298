package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"care-sync/internal/models"
)

// RoomRepository reads the durable room identities. Rooms are created by
// MessageRepository.CreateMessage on first contact.
type RoomRepository interface {
	ListRooms(ctx context.Context, userID string) ([]models.Room, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// ListRooms returns the user's conversations, most recently active first.
func (r *RoomRepo) ListRooms(ctx context.Context, userID string) ([]models.Room, error) {
	rooms := []models.Room{}
	err := r.db.SelectContext(ctx, &rooms, r.db.Rebind(`SELECT id, participant_a, participant_b, created_at, last_message_at
        FROM chat_rooms
        WHERE participant_a=? OR participant_b=?
        ORDER BY last_message_at DESC, id`), userID, userID)
	return rooms, err
}
