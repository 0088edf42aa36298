package presence

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"care-sync/internal/events"
)

type sent struct {
	roomID string
	except string
	ev     events.Outbound
}

type recorder struct {
	mu  sync.Mutex
	out []sent
}

func (r *recorder) BroadcastRoom(roomID string, ev events.Outbound, exceptUserID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, sent{roomID: roomID, except: exceptUserID, ev: ev})
	return 1
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.out))
	for _, s := range r.out {
		names = append(names, s.ev.Name())
	}
	return names
}

// gatedRecorder holds its first broadcast until release is closed.
type gatedRecorder struct {
	recorder
	gated   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedRecorder() *gatedRecorder {
	return &gatedRecorder{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedRecorder) BroadcastRoom(roomID string, ev events.Outbound, exceptUserID string) int {
	if g.gated.CompareAndSwap(false, true) {
		close(g.entered)
		<-g.release
	}
	return g.recorder.BroadcastRoom(roomID, ev, exceptUserID)
}

func TestTypingEventsFollowStateOrder(t *testing.T) {
	rec := newGatedRecorder()
	tracker := NewTracker(rec, 50*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		tracker.Start("a_b", "a", "Alice")
	}()
	<-rec.entered

	go func() {
		defer wg.Done()
		tracker.Stop("a_b", "a", "Alice")
	}()
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.names(), "stop must not overtake the pending typing event")

	close(rec.release)
	wg.Wait()

	assert.Equal(t, []string{events.NameUserTyping, events.NameUserStoppedTyping}, rec.names())
	assert.False(t, tracker.Active("a_b", "a"))

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, rec.names(), 2)
}

func TestExpiryCannotOvertakeRestart(t *testing.T) {
	rec := newGatedRecorder()
	tracker := NewTracker(rec, time.Hour)
	k := key{roomID: "a_b", userID: "a"}

	// Hold the first typing broadcast while an expiry for that session fires.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		tracker.Start("a_b", "a", "Alice")
	}()
	<-rec.entered
	gen := tracker.gen.Load()

	go func() {
		defer wg.Done()
		tracker.expire(k, gen)
	}()
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.names())

	close(rec.release)
	wg.Wait()
	assert.Equal(t, []string{events.NameUserTyping, events.NameUserStoppedTyping}, rec.names())
	assert.False(t, tracker.Active("a_b", "a"))

	tracker.Start("a_b", "a", "Alice")
	assert.True(t, tracker.Active("a_b", "a"))
	tracker.expire(k, gen)
	assert.True(t, tracker.Active("a_b", "a"))
	assert.Equal(t, []string{events.NameUserTyping, events.NameUserStoppedTyping, events.NameUserTyping}, rec.names())
	tracker.Stop("a_b", "a", "Alice")
}

func TestTypingExpiresWithoutStop(t *testing.T) {
	rec := &recorder{}
	tracker := NewTracker(rec, 40*time.Millisecond)

	tracker.Start("a_b", "a", "Alice")
	assert.True(t, tracker.Active("a_b", "a"))

	require.Eventually(t, func() bool {
		return len(rec.names()) == 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, []string{events.NameUserTyping, events.NameUserStoppedTyping}, rec.names())
	assert.False(t, tracker.Active("a_b", "a"))

	rec.mu.Lock()
	stop := rec.out[1]
	rec.mu.Unlock()
	assert.Equal(t, "a_b", stop.roomID)
	assert.Equal(t, "a", stop.except)
	assert.Equal(t, events.UserStoppedTyping{RoomID: "a_b", UserID: "a", UserName: "Alice"}, stop.ev)
}

func TestRepeatedStartRefreshesSilently(t *testing.T) {
	rec := &recorder{}
	tracker := NewTracker(rec, 60*time.Millisecond)

	for i := 0; i < 5; i++ {
		tracker.Start("a_b", "a", "Alice")
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, []string{events.NameUserTyping}, rec.names())
	assert.True(t, tracker.Active("a_b", "a"))

	require.Eventually(t, func() bool {
		return !tracker.Active("a_b", "a")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{events.NameUserTyping, events.NameUserStoppedTyping}, rec.names())
}

func TestExplicitStopCancelsTimer(t *testing.T) {
	rec := &recorder{}
	tracker := NewTracker(rec, 30*time.Millisecond)

	tracker.Start("a_b", "a", "Alice")
	tracker.Stop("a_b", "a", "")
	time.Sleep(90 * time.Millisecond)

	assert.Equal(t, []string{events.NameUserTyping, events.NameUserStoppedTyping}, rec.names())
	assert.False(t, tracker.Active("a_b", "a"))
}

func TestStaleTimerDoesNotStopNewerSession(t *testing.T) {
	rec := &recorder{}
	tracker := NewTracker(rec, time.Hour)

	tracker.Start("a_b", "a", "Alice")
	k := key{roomID: "a_b", userID: "a"}
	tracker.expire(k, 0)
	assert.True(t, tracker.Active("a_b", "a"))

	tracker.Stop("a_b", "a", "Alice")
	tracker.Start("a_b", "a", "Alice")
	tracker.expire(k, 1)
	assert.True(t, tracker.Active("a_b", "a"))
	tracker.Stop("a_b", "a", "Alice")

	assert.Equal(t, []string{
		events.NameUserTyping,
		events.NameUserStoppedTyping,
		events.NameUserTyping,
		events.NameUserStoppedTyping,
	}, rec.names())
}

func TestTypingStateIsScopedToRoom(t *testing.T) {
	rec := &recorder{}
	tracker := NewTracker(rec, time.Hour)

	tracker.Start("a_b", "a", "Alice")
	assert.True(t, tracker.Active("a_b", "a"))
	assert.False(t, tracker.Active("a_c", "a"))

	tracker.Stop("a_c", "a", "Alice")
	assert.True(t, tracker.Active("a_b", "a"))
	tracker.Stop("a_b", "a", "Alice")
}
