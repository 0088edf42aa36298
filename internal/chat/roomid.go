package chat

import "strings"

// roomSeparator may not appear in user ids, which keeps RoomID injective.
const roomSeparator = "_"

// ValidateUserID checks that id can take part in a room id.
func ValidateUserID(id string) error {
	if id == "" || strings.Contains(id, roomSeparator) {
		return ErrInvalidUser
	}
	return nil
}

// RoomID derives the canonical id of the conversation between a and b.
// RoomID(a, b) == RoomID(b, a).
func RoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + roomSeparator + b
}

// ParseRoomID returns the two participants of roomID in canonical order.
func ParseRoomID(roomID string) (string, string, error) {
	a, b, ok := strings.Cut(roomID, roomSeparator)
	if !ok || ValidateUserID(a) != nil || ValidateUserID(b) != nil || a == b || b < a {
		return "", "", ErrInvalidRoom
	}
	return a, b, nil
}

// Counterpart returns the participant of roomID that is not userID.
func Counterpart(roomID, userID string) (string, error) {
	a, b, err := ParseRoomID(roomID)
	if err != nil {
		return "", err
	}
	switch userID {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", ErrNotAMember
}
