package presence

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"care-sync/internal/events"
	"care-sync/internal/observability"
)

// DefaultWindow is how long a typing indicator survives without a refresh.
const DefaultWindow = 2 * time.Second

const trackerShards = 32

// Broadcaster delivers an event to every connection joined to a room except
// those owned by exceptUserID.
type Broadcaster interface {
	BroadcastRoom(roomID string, ev events.Outbound, exceptUserID string) int
}

type key struct {
	roomID string
	userID string
}

type typingState struct {
	active   bool
	userName string
	gen      uint64
	timer    *time.Timer
}

type trackerShard struct {
	mu     sync.Mutex
	states map[key]*typingState
}

// Tracker holds per (room, user) typing state. Each pair has its own expiry
// timer. Generations are never reused, so a timer that lost a race with a
// newer Start or Stop cannot emit anything.
type Tracker struct {
	window time.Duration
	out    Broadcaster
	gen    atomic.Uint64
	shards [trackerShards]trackerShard
}

// NewTracker creates a tracker. A non-positive window selects DefaultWindow.
func NewTracker(out Broadcaster, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	t := &Tracker{window: window, out: out}
	for i := range t.shards {
		t.shards[i].states = make(map[key]*typingState)
	}
	return t
}

func (t *Tracker) shard(k key) *trackerShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.roomID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.userID))
	return &t.shards[h.Sum32()%trackerShards]
}

// Start marks userID as typing in roomID and re-arms the expiry timer.
// Only the transition to active is broadcast; refreshes are silent.
//
// Broadcasts for a key are emitted under its shard lock, so peers observe
// them in the same order as the state changes. BroadcastRoom only enqueues.
func (t *Tracker) Start(roomID, userID, userName string) {
	k := key{roomID: roomID, userID: userID}
	s := t.shard(k)

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[k]
	if !ok {
		st = &typingState{}
		s.states[k] = st
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	gen := t.gen.Add(1)
	st.gen = gen
	wasActive := st.active
	st.active = true
	if userName != "" {
		st.userName = userName
	}
	st.timer = time.AfterFunc(t.window, func() { t.expire(k, gen) })

	if !wasActive {
		t.out.BroadcastRoom(roomID, events.UserTyping{RoomID: roomID, UserID: userID, UserName: st.userName}, userID)
	}
}

// Stop clears the typing state and broadcasts user-stopped-typing, whether or
// not the user was typing.
func (t *Tracker) Stop(roomID, userID, userName string) {
	k := key{roomID: roomID, userID: userID}
	s := t.shard(k)

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[k]; ok {
		if st.timer != nil {
			st.timer.Stop()
		}
		if userName == "" {
			userName = st.userName
		}
		delete(s.states, k)
	}

	t.out.BroadcastRoom(roomID, events.UserStoppedTyping{RoomID: roomID, UserID: userID, UserName: userName}, userID)
}

func (t *Tracker) expire(k key, gen uint64) {
	s := t.shard(k)

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[k]
	if !ok || st.gen != gen || !st.active {
		return
	}
	delete(s.states, k)

	observability.IncTypingExpired()
	t.out.BroadcastRoom(k.roomID, events.UserStoppedTyping{RoomID: k.roomID, UserID: k.userID, UserName: st.userName}, k.userID)
}

// Active reports whether userID is currently typing in roomID.
func (t *Tracker) Active(roomID, userID string) bool {
	k := key{roomID: roomID, userID: userID}
	s := t.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[k]
	return ok && st.active
}
