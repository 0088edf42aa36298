package chat

import "care-sync/internal/events"

var (
	ErrUnauthenticated = events.NewError(events.CodeUnauthenticated, "authenticate first")
	ErrNotAMember      = events.NewError(events.CodeNotAMember, "not a member of this room")
	ErrNotOwner        = events.NewError(events.CodeNotAMember, "cannot act on behalf of another user")
	ErrInvalidUser     = events.NewError(events.CodeBadRequest, "invalid user id")
	ErrInvalidRoom     = events.NewError(events.CodeBadRequest, "invalid room id")
	ErrSelfChat        = events.NewError(events.CodeBadRequest, "cannot open a room with yourself")
	ErrEmptyMessage    = events.NewError(events.CodeBadRequest, "message body is empty")
	ErrInvalidRole     = events.NewError(events.CodeBadRequest, "unknown receiver model")
	ErrPersistence     = events.NewError(events.CodePersistenceFailed, "message could not be saved")
)
