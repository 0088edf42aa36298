package repositories

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"care-sync/internal/models"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// MessageRepository is the durable chat message store.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListRoomMessages(ctx context.Context, roomID string, limit int, beforeSeq int64) ([]models.Message, error)
	MarkRoomRead(ctx context.Context, roomID, readerID string, readAt time.Time) ([]string, error)
	UnreadCounts(ctx context.Context, userID string) ([]models.RoomSummary, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `seq, id, room_id, sender_id, sender_role, receiver_id, receiver_role, body, state, created_at, read_at`

// CreateMessage stores msg and records the room on first contact. The
// returned message carries the store's sequence number.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	a, b := msg.SenderID, msg.ReceiverID
	if b < a {
		a, b = b, a
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO chat_rooms (id, participant_a, participant_b, created_at, last_message_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET last_message_at = excluded.last_message_at`),
		msg.RoomID, a, b, msg.CreatedAt, msg.CreatedAt)
	if err != nil {
		return models.Message{}, fmt.Errorf("upsert room: %w", err)
	}

	err = tx.QueryRowxContext(ctx, tx.Rebind(`INSERT INTO chat_messages (id, room_id, sender_id, sender_role, receiver_id, receiver_role, body, state, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING seq`),
		msg.ID, msg.RoomID, msg.SenderID, msg.SenderRole, msg.ReceiverID, msg.ReceiverRole, msg.Body, msg.State, msg.CreatedAt).
		Scan(&msg.Seq)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListRoomMessages returns up to limit messages of roomID older than
// beforeSeq (all when beforeSeq is 0), in commit order.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID string, limit int, beforeSeq int64) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE room_id=?`
	args := []interface{}{roomID}
	if beforeSeq > 0 {
		query += ` AND seq<?`
		args = append(args, beforeSeq)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkRoomRead moves every message of roomID addressed to readerID that can
// still advance to read, with a single statement, so a batch is never
// partially applied. It returns the changed ids in commit order; none means
// nothing was unread.
func (r *MessageRepo) MarkRoomRead(ctx context.Context, roomID, readerID string, readAt time.Time) ([]string, error) {
	query, args, err := sqlx.In(`UPDATE chat_messages SET state=?, read_at=?
        WHERE room_id=? AND receiver_id=? AND state IN (?)
        RETURNING seq, id`,
		models.StateRead, readAt, roomID, readerID, models.AdvanceableTo(models.StateRead))
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Seq int64  `db:"seq"`
		ID  string `db:"id"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// UnreadCounts returns, per room, how many messages userID has not read.
func (r *MessageRepo) UnreadCounts(ctx context.Context, userID string) ([]models.RoomSummary, error) {
	query, args, err := sqlx.In(`SELECT room_id, COUNT(*) AS unread
        FROM chat_messages
        WHERE receiver_id=? AND state IN (?)
        GROUP BY room_id
        ORDER BY room_id`, userID, models.AdvanceableTo(models.StateRead))
	if err != nil {
		return nil, err
	}

	summaries := []models.RoomSummary{}
	err = r.db.SelectContext(ctx, &summaries, r.db.Rebind(query), args...)
	return summaries, err
}
