package broadcast

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"care-sync/internal/events"
	"care-sync/internal/models"
	"care-sync/internal/observability"
)

const (
	DefaultDedupeWindow = 5 * time.Minute
	DefaultDedupeSize   = 10000
)

// Router is the part of the gateway the bus fans out through.
type Router interface {
	// RouteFrame delivers locally and forwards to other processes.
	RouteFrame(ctx context.Context, userID, eventID string, frame []byte) int
	// DeliverLocal delivers to this process only.
	DeliverLocal(userID string, frame []byte) int
}

// Bus fans entity change notices out to every connection of the affected
// user. It keeps no queue: a user with no live connection misses the event
// and reconciles by re-fetching on reconnect. Repeated event ids inside the
// de-duplication window are dropped, so at-least-once sources never produce
// duplicate client effects.
type Bus struct {
	router Router
	seen   *seenSet
	now    func() time.Time
}

func NewBus(router Router, window time.Duration, size int) *Bus {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	if size <= 0 {
		size = DefaultDedupeSize
	}
	return &Bus{router: router, seen: newSeenSet(window, size), now: time.Now}
}

// Publish delivers ev. It must only be called after the change it describes
// is committed. It returns the number of local connections reached; a
// duplicate returns 0 and no error.
func (b *Bus) Publish(ctx context.Context, ev models.UpdateEvent) (int, error) {
	ev, err := b.normalize(ev)
	if err != nil {
		observability.IncUpdate(string(ev.Entity), "invalid")
		return 0, err
	}
	if !b.seen.firstSeen(ev.ID) {
		observability.IncUpdate(string(ev.Entity), "duplicate")
		return 0, nil
	}

	frame, err := events.Encode(events.NewEntityUpdated(ev))
	if err != nil {
		return 0, fmt.Errorf("encode update: %w", err)
	}
	n := b.router.RouteFrame(ctx, ev.UserID, ev.ID, frame)
	observability.IncUpdate(string(ev.Entity), "published")
	observability.AddUpdateDeliveries(n)
	log.Printf("update published: event_id=%s user_id=%s entity=%s op=%s delivered=%d", ev.ID, ev.UserID, ev.Entity, ev.Operation, n)
	return n, nil
}

// DeliverRemote hands a frame published by another process to this
// process's connections. It is never forwarded again.
func (b *Bus) DeliverRemote(userID, eventID string, frame []byte) int {
	if eventID != "" && !b.seen.firstSeen(eventID) {
		return 0
	}
	n := b.router.DeliverLocal(userID, frame)
	observability.AddUpdateDeliveries(n)
	return n
}

func (b *Bus) normalize(ev models.UpdateEvent) (models.UpdateEvent, error) {
	if ev.UserID == "" {
		return ev, ErrMissingUser
	}
	if !ev.Entity.Valid() {
		return ev, fmt.Errorf("%w: %q", ErrInvalidEntity, ev.Entity)
	}
	if !ev.Operation.Valid() {
		return ev, fmt.Errorf("%w: %q", ErrInvalidOperation, ev.Operation)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now().UTC()
	}
	return ev, nil
}

// Stats reports the size of the de-duplication window.
func (b *Bus) Stats() map[string]int {
	return map[string]int{"tracked_event_ids": b.seen.len()}
}
