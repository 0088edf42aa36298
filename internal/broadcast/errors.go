package broadcast

import "errors"

var (
	ErrInvalidEntity    = errors.New("unknown entity type")
	ErrInvalidOperation = errors.New("unknown operation")
	ErrMissingUser      = errors.New("user id is required")
)

// IsInvalid reports whether err means the event itself was rejected, as
// opposed to a delivery failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidEntity) || errors.Is(err, ErrInvalidOperation) || errors.Is(err, ErrMissingUser)
}
