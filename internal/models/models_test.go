package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryStateOnlyAdvances(t *testing.T) {
	assert.True(t, StateSent.CanAdvance(StateRead))
	assert.True(t, StateSent.CanAdvance(StateDelivered))
	assert.True(t, StateDelivered.CanAdvance(StateRead))

	assert.False(t, StateRead.CanAdvance(StateSent))
	assert.False(t, StateRead.CanAdvance(StateRead))
	assert.False(t, StateSent.CanAdvance(DeliveryState("lost")))
}

func TestAdvanceableTo(t *testing.T) {
	assert.Equal(t, []DeliveryState{StateSent, StateDelivered}, AdvanceableTo(StateRead))
	assert.Equal(t, []DeliveryState{StateSent}, AdvanceableTo(StateDelivered))
	assert.Empty(t, AdvanceableTo(StateSent))
	assert.Empty(t, AdvanceableTo(DeliveryState("lost")))
}

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{
		"patient":   RolePatient,
		"User":      RolePatient,
		"Doctor":    RoleDoctor,
		"caregiver": RoleCaregiver,
	} {
		got, err := ParseRole(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseRole("admin")
	assert.Error(t, err)
}

func TestEntityAndOperationValidation(t *testing.T) {
	for _, e := range EntityTypes {
		assert.True(t, e.Valid(), e)
	}
	assert.False(t, EntityType("invoice").Valid())
	assert.True(t, OpDelete.Valid())
	assert.False(t, Operation("upsert").Valid())
}
