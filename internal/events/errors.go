package events

import "errors"

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed event")
)

// Error codes carried by ChatError.
const (
	CodeAuthFailed        = "auth_failed"
	CodeUnauthenticated   = "unauthenticated"
	CodePersistenceFailed = "persistence_failed"
	CodeNotAMember        = "not_a_member"
	CodeBadRequest        = "bad_request"
	CodeInternal          = "internal"
)

// Error is a failure that is reported to the client with a stable code.
// Message is safe to show to users.
type Error struct {
	Code    string
	Message string
}

// NewError creates a coded error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string { return e.Message }

// CodeOf maps err to the chat-error code reported to clients.
func CodeOf(err error) string {
	var coded *Error
	switch {
	case errors.As(err, &coded):
		return coded.Code
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrUnknownEvent):
		return CodeBadRequest
	}
	return CodeInternal
}

// PublicMessage returns the client-facing text for err.
func PublicMessage(err error) string {
	var coded *Error
	switch {
	case errors.As(err, &coded):
		return coded.Message
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrUnknownEvent):
		return err.Error()
	}
	return "internal error"
}
