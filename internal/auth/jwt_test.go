package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"care-sync/internal/models"
)

func TestValidateTokenRoundTrip(t *testing.T) {
	v := NewJWTValidator("secret", "care-sync")

	token, err := v.Issue(Identity{UserID: "u1", Role: models.RoleDoctor, Name: "Dr. Lee"}, time.Minute)
	require.NoError(t, err)

	id, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, models.RoleDoctor, id.Role)
	assert.Equal(t, "Dr. Lee", id.Name)
}

func TestValidateTokenExpired(t *testing.T) {
	v := NewJWTValidator("secret", "")

	token, err := v.Issue(Identity{UserID: "u1", Role: models.RolePatient}, -time.Minute)
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := NewJWTValidator("other", "").Issue(Identity{UserID: "u1"}, time.Minute)
	require.NoError(t, err)

	_, err = NewJWTValidator("secret", "").ValidateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenWrongIssuer(t *testing.T) {
	token, err := NewJWTValidator("secret", "someone-else").Issue(Identity{UserID: "u1"}, time.Minute)
	require.NoError(t, err)

	_, err = NewJWTValidator("secret", "care-sync").ValidateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenEmpty(t *testing.T) {
	_, err := NewJWTValidator("secret", "").ValidateToken(context.Background(), "  ")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("abc")
	assert.False(t, ok)
}
