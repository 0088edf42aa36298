package models

import (
	"encoding/json"
	"time"
)

// EntityType tags the kind of record an UpdateEvent refers to.
type EntityType string

const (
	EntityVital        EntityType = "vital"
	EntityMedication   EntityType = "medication"
	EntityAppointment  EntityType = "appointment"
	EntityCarePlan     EntityType = "care-plan"
	EntityNotification EntityType = "notification"
	EntityHealthRecord EntityType = "health-record"
	EntityDoctor       EntityType = "doctor"
)

// EntityTypes lists every entity the invalidation bus understands.
var EntityTypes = []EntityType{
	EntityVital,
	EntityMedication,
	EntityAppointment,
	EntityCarePlan,
	EntityNotification,
	EntityHealthRecord,
	EntityDoctor,
}

// Valid reports whether e is a known entity type.
func (e EntityType) Valid() bool {
	for _, t := range EntityTypes {
		if t == e {
			return true
		}
	}
	return false
}

// Operation is the kind of mutation that happened to an entity.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// UpdateEvent notifies a user's clients that an entity changed in the durable store.
type UpdateEvent struct {
	ID        string          `json:"eventId"`
	UserID    string          `json:"userId"`
	Entity    EntityType      `json:"entity"`
	Operation Operation       `json:"operation"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
