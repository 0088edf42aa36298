package ws

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendQueueFull    = errors.New("send queue full")
	ErrNilConnection    = errors.New("connection cannot be nil")
	ErrNotAuthenticated = errors.New("connection is not authenticated")
	ErrIdentityMismatch = errors.New("claimed user does not match token")
	ErrAlreadyBound     = errors.New("connection is bound to another user")
)
