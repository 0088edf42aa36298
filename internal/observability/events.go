package observability

import (
	"context"
	"time"
)

// WSRoutingKey is the routing key for connection lifecycle events.
const WSRoutingKey = "ws_events.chats"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// WSEvent describes one connection lifecycle transition.
type WSEvent struct {
	Kind        string
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
	Reason      string
}

// PublishWSEvent publishes a ws_connect, ws_disconnect or ws_error event.
// Publish failures are counted, never returned.
func PublishWSEvent(ctx context.Context, name string, ev WSEvent) {
	duration := int64(0)
	if name != "ws_connect" {
		duration = time.Since(ev.ConnectedAt).Milliseconds()
	}

	_ = PublishEvent(ctx, WSRoutingKey, EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        ev.Kind,
				"event":       name,
				"conn_id":     ev.ConnID,
				"duration_ms": duration,
				"reason":      ev.Reason,
			},
			"identity": map[string]interface{}{
				"user_id":   ev.UserID,
				"device_id": ev.DeviceID,
				"ip":        ev.IP,
			},
		},
	}, BuildHeaders(ev.RequestID, ev.TraceID))
}
