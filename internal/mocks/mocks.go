package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"care-sync/internal/auth"
	"care-sync/internal/models"
	"care-sync/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) ListRooms(ctx context.Context, userID string) ([]models.Room, error) {
	args := m.Called(ctx, userID)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) ListRoomMessages(ctx context.Context, roomID string, limit int, beforeSeq int64) ([]models.Message, error) {
	args := m.Called(ctx, roomID, limit, beforeSeq)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRoomRead(ctx context.Context, roomID, readerID string, readAt time.Time) ([]string, error) {
	args := m.Called(ctx, roomID, readerID, readAt)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *MessageRepositoryMock) UnreadCounts(ctx context.Context, userID string) ([]models.RoomSummary, error) {
	args := m.Called(ctx, userID)
	var summaries []models.RoomSummary
	if val := args.Get(0); val != nil {
		summaries = val.([]models.RoomSummary)
	}
	return summaries, args.Error(1)
}

type ReadMarkerMock struct {
	mock.Mock
}

func (m *ReadMarkerMock) MarkRoomRead(ctx context.Context, readerID, counterpartID string) (models.ReadReceipt, error) {
	args := m.Called(ctx, readerID, counterpartID)
	var receipt models.ReadReceipt
	if val := args.Get(0); val != nil {
		receipt = val.(models.ReadReceipt)
	}
	return receipt, args.Error(1)
}

type UpdatePublisherMock struct {
	mock.Mock
}

func (m *UpdatePublisherMock) Publish(ctx context.Context, ev models.UpdateEvent) (int, error) {
	args := m.Called(ctx, ev)
	return args.Int(0), args.Error(1)
}

type ValidatorMock struct {
	mock.Mock
}

func (m *ValidatorMock) ValidateToken(ctx context.Context, token string) (auth.Identity, error) {
	args := m.Called(ctx, token)
	var id auth.Identity
	if val := args.Get(0); val != nil {
		id = val.(auth.Identity)
	}
	return id, args.Error(1)
}

var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ auth.Validator = (*ValidatorMock)(nil)
var _ interface {
	MarkRoomRead(context.Context, string, string) (models.ReadReceipt, error)
} = (*ReadMarkerMock)(nil)
var _ interface {
	Publish(context.Context, models.UpdateEvent) (int, error)
} = (*UpdatePublisherMock)(nil)
