package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Level is the severity of an audit record.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Publisher delivers audit envelopes to the broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AuditEmitter records security relevant realtime events: rejected
// handshakes, failed authentication and failed persistence. A nil emitter
// is valid and only drops events.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

// AuditEnvelope is the broker message for one audit record.
type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	TraceID       string       `json:"trace_id,omitempty"`
	SpanID        string       `json:"span_id,omitempty"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes an audit record and annotates the active span with it.
// Publish failures are logged.
func (e *AuditEmitter) Emit(ctx context.Context, level Level, text, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	env := e.envelope(ctx, level, text, requestID, userID)
	log.Printf("audit emit: level=%s request_id=%s trace_id=%s text=%q", level, requestID, env.TraceID, text)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("audit", trace.WithAttributes(
			attribute.String("audit.level", string(level)),
			attribute.String("audit.text", text),
		))
	}

	if err := e.publisher.Publish(ctx, e.routingKey, env); err != nil {
		log.Printf("audit publish failed: routing_key=%s err=%v", e.routingKey, err)
	}
}

func (e *AuditEmitter) envelope(ctx context.Context, level Level, text, requestID string, userID *string) AuditEnvelope {
	env := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       AuditPayload{Level: level, Text: text},
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		env.TraceID = sc.TraceID().String()
		env.SpanID = sc.SpanID().String()
	}
	return env
}
