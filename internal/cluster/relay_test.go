package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu    sync.Mutex
	calls []string
}

func (s *sink) user(userID, eventID string, frame []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "user:"+userID+":"+eventID+":"+string(frame))
	return 1
}

func (s *sink) room(roomID, except string, frame []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "room:"+roomID+":"+except+":"+string(frame))
	return 1
}

func (s *sink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func startRelay(t *testing.T, ctx context.Context, addr string, s *sink) *Relay {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	relay := NewRelay(client, "test:frames", s.user, s.room)
	go func() { _ = relay.Run(ctx) }()

	select {
	case <-relay.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}
	return relay
}

func TestRelayDeliversToOtherProcessesOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sinkA, sinkB := &sink{}, &sink{}
	relayA := startRelay(t, ctx, mr.Addr(), sinkA)
	startRelay(t, ctx, mr.Addr(), sinkB)

	require.NoError(t, relayA.ForwardUser(ctx, "alice", "evt-1", []byte(`{"event":"vital-updated"}`)))
	require.NoError(t, relayA.ForwardRoom(ctx, "alice_bob", "alice", []byte(`{"event":"user-typing"}`)))

	require.Eventually(t, func() bool { return len(sinkB.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{
		`user:alice:evt-1:{"event":"vital-updated"}`,
		`room:alice_bob:alice:{"event":"user-typing"}`,
	}, sinkB.snapshot())

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sinkA.snapshot())
}

func TestRelayHandleRejectsGarbage(t *testing.T) {
	s := &sink{}
	relay := NewRelay(nil, "", s.user, s.room)
	assert.Equal(t, DefaultChannel, relay.channel)

	assert.Error(t, relay.handle([]byte(`nope`)))
	assert.ErrorIs(t, relay.handle([]byte(`{"origin":"other","kind":"broadcast","frame":{}}`)), ErrUnknownKind)
	assert.NoError(t, relay.handle([]byte(`{"origin":"`+relay.Origin()+`","kind":"user","target":"a","frame":{}}`)))
	assert.Empty(t, s.snapshot())
}

func TestRelayPublishFailsWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	relay := NewRelay(client, "test:frames", nil, nil)

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, relay.ForwardUser(ctx, "alice", "", []byte(`{}`)))
}
