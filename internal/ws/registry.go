package ws

import (
	"hash/fnv"
	"sync"
)

const registryShards = 32

type registryShard struct {
	mu    sync.RWMutex
	users map[string]map[string]*Conn // userID -> connID -> Conn
}

// Registry maps user identities to their live connections. It is striped by
// user so lookups for different users do not contend.
type Registry struct {
	shards [registryShards]registryShard
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].users = make(map[string]map[string]*Conn)
	}
	return r
}

func (r *Registry) shard(userID string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.shards[h.Sum32()%registryShards]
}

// Register adds an authenticated connection under its user.
func (r *Registry) Register(c *Conn) error {
	if c == nil {
		return ErrNilConnection
	}
	id, ok := c.Identity()
	if !ok {
		return ErrNotAuthenticated
	}

	s := r.shard(id.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()
	conns, ok := s.users[id.UserID]
	if !ok {
		conns = make(map[string]*Conn)
		s.users[id.UserID] = conns
	}
	conns[c.ID()] = c
	return nil
}

// Unregister removes the connection. It reports whether anything was removed.
func (r *Registry) Unregister(c *Conn) bool {
	if c == nil {
		return false
	}
	userID := c.UserID()
	if userID == "" {
		return false
	}

	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	conns, ok := s.users[userID]
	if !ok {
		return false
	}
	if _, ok := conns[c.ID()]; !ok {
		return false
	}
	delete(conns, c.ID())
	if len(conns) == 0 {
		delete(s.users, userID)
	}
	return true
}

// UserConnections returns a snapshot of the user's live connections.
func (r *Registry) UserConnections(userID string) []*Conn {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := s.users[userID]
	out := make([]*Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Stats reports registry totals.
func (r *Registry) Stats() map[string]int {
	users, conns := 0, 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		users += len(s.users)
		for _, set := range s.users {
			conns += len(set)
		}
		s.mu.RUnlock()
	}
	return map[string]int{
		"total_connections": conns,
		"online_users":      users,
	}
}
