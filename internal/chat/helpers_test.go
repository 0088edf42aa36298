package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"care-sync/internal/auth"
	"care-sync/internal/events"
	"care-sync/internal/models"
	"care-sync/internal/presence"
)

type fakePeer struct {
	id       string
	identity auth.Identity
	bound    bool

	mu     sync.Mutex
	frames [][]byte
}

func newPeer(connID, userID string, role models.Role) *fakePeer {
	return &fakePeer{id: connID, identity: auth.Identity{UserID: userID, Role: role, Name: userID}, bound: true}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Identity() (auth.Identity, bool) { return p.identity, p.bound }

func (p *fakePeer) Deliver(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
	return nil
}

func (p *fakePeer) envelopes(t *testing.T) []events.Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Envelope, 0, len(p.frames))
	for _, f := range p.frames {
		var env events.Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

func (p *fakePeer) names(t *testing.T) []string {
	names := []string{}
	for _, env := range p.envelopes(t) {
		names = append(names, env.Event)
	}
	return names
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

// userRouter stands in for the gateway: it fans out to every peer of a user.
type userRouter struct {
	mu    sync.Mutex
	peers map[string][]*fakePeer
}

func (r *userRouter) add(p *fakePeer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peers == nil {
		r.peers = map[string][]*fakePeer{}
	}
	r.peers[p.identity.UserID] = append(r.peers[p.identity.UserID], p)
}

func (r *userRouter) RouteToUser(ctx context.Context, userID string, ev events.Outbound) int {
	frame, err := events.Encode(ev)
	if err != nil {
		return 0
	}
	r.mu.Lock()
	peers := append([]*fakePeer(nil), r.peers[userID]...)
	r.mu.Unlock()
	for _, p := range peers {
		_ = p.Deliver(frame)
	}
	return len(peers)
}

type memoryStore struct {
	mu       sync.Mutex
	seq      int64
	messages []models.Message
	failNext error
}

func (s *memoryStore) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return models.Message{}, err
	}
	s.seq++
	msg.Seq = s.seq
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *memoryStore) MarkRoomRead(ctx context.Context, roomID, readerID string, readAt time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return nil, err
	}
	ids := []string{}
	for i := range s.messages {
		m := &s.messages[i]
		if m.RoomID == roomID && m.ReceiverID == readerID && m.State.CanAdvance(models.StateRead) {
			at := readAt
			m.State = models.StateRead
			m.ReadAt = &at
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (s *memoryStore) states(roomID string) []models.DeliveryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.DeliveryState{}
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m.State)
		}
	}
	return out
}

var errStoreDown = errors.New("store unavailable")

func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// holders counts the goroutines holding or waiting for key.
func (k *keyLock) holders(key string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if l, ok := k.locks[key]; ok {
		return l.refs
	}
	return 0
}

type harness struct {
	manager *Manager
	rooms   *Rooms
	store   *memoryStore
	router  *userRouter
	typing  *presence.Tracker
}

func newHarness(window time.Duration) *harness {
	rooms := NewRooms()
	store := &memoryStore{}
	router := &userRouter{}
	typing := presence.NewTracker(rooms, window)
	return &harness{
		manager: NewManager(rooms, store, typing, router),
		rooms:   rooms,
		store:   store,
		router:  router,
		typing:  typing,
	}
}

func (h *harness) connect(connID, userID string, role models.Role) *fakePeer {
	p := newPeer(connID, userID, role)
	h.router.add(p)
	return p
}
