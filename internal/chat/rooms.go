package chat

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"care-sync/internal/events"
	"care-sync/internal/observability"
	"care-sync/internal/ws"
)

const roomShards = 32

// IdleAfter is how long a room may go without a join, message or read
// before Stats reports it as idle.
const IdleAfter = 10 * time.Minute

type room struct {
	members      map[string]ws.Peer // connID -> peer
	lastActivity time.Time
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

type peerShard struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{} // connID -> roomIDs
}

// Rooms is the runtime membership table. It is never persisted; clients
// rebuild it by joining again after a reconnect.
type Rooms struct {
	rooms          [roomShards]roomShard
	peers          [roomShards]peerShard
	forward        ws.Forwarder
	forwardTimeout time.Duration
	now            func() time.Time
}

func NewRooms() *Rooms {
	r := &Rooms{now: time.Now, forwardTimeout: ws.DefaultForwardTimeout}
	for i := 0; i < roomShards; i++ {
		r.rooms[i].rooms = make(map[string]*room)
		r.peers[i].rooms = make(map[string]map[string]struct{})
	}
	return r
}

// SetForwarder makes room broadcasts reach members connected to other
// processes. Call before serving traffic.
func (r *Rooms) SetForwarder(f ws.Forwarder) {
	r.forward = f
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % roomShards
}

// Add joins p to roomID. Joining twice is harmless.
func (r *Rooms) Add(roomID string, p ws.Peer) {
	rs := &r.rooms[shardIndex(roomID)]
	rs.mu.Lock()
	rm, ok := rs.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[string]ws.Peer)}
		rs.rooms[roomID] = rm
	}
	rm.members[p.ID()] = p
	rm.lastActivity = r.now()
	rs.mu.Unlock()

	ps := &r.peers[shardIndex(p.ID())]
	ps.mu.Lock()
	set, ok := ps.rooms[p.ID()]
	if !ok {
		set = make(map[string]struct{})
		ps.rooms[p.ID()] = set
	}
	set[roomID] = struct{}{}
	ps.mu.Unlock()
}

// Remove drops connID from roomID and reports whether it was a member.
func (r *Rooms) Remove(roomID, connID string) bool {
	ps := &r.peers[shardIndex(connID)]
	ps.mu.Lock()
	if set, ok := ps.rooms[connID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(ps.rooms, connID)
		}
	}
	ps.mu.Unlock()

	return r.removeMember(roomID, connID)
}

func (r *Rooms) removeMember(roomID, connID string) bool {
	rs := &r.rooms[shardIndex(roomID)]
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rm, ok := rs.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := rm.members[connID]; !ok {
		return false
	}
	delete(rm.members, connID)
	if len(rm.members) == 0 {
		delete(rs.rooms, roomID)
	}
	return true
}

// RemovePeer drops connID from every room and returns the rooms it had joined.
func (r *Rooms) RemovePeer(connID string) []string {
	ps := &r.peers[shardIndex(connID)]
	ps.mu.Lock()
	set := ps.rooms[connID]
	delete(ps.rooms, connID)
	ps.mu.Unlock()

	left := make([]string, 0, len(set))
	for roomID := range set {
		if r.removeMember(roomID, connID) {
			left = append(left, roomID)
		}
	}
	return left
}

// IsMember reports whether connID has joined roomID.
func (r *Rooms) IsMember(roomID, connID string) bool {
	rs := &r.rooms[shardIndex(roomID)]
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	rm, ok := rs.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = rm.members[connID]
	return ok
}

// Members returns a snapshot of the connections joined to roomID.
func (r *Rooms) Members(roomID string) []ws.Peer {
	rs := &r.rooms[shardIndex(roomID)]
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	rm, ok := rs.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]ws.Peer, 0, len(rm.members))
	for _, p := range rm.members {
		out = append(out, p)
	}
	return out
}

// RoomsOf returns the rooms connID has joined.
func (r *Rooms) RoomsOf(connID string) []string {
	ps := &r.peers[shardIndex(connID)]
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]string, 0, len(ps.rooms[connID]))
	for roomID := range ps.rooms[connID] {
		out = append(out, roomID)
	}
	return out
}

// Touch refreshes the room's last activity time.
func (r *Rooms) Touch(roomID string) {
	rs := &r.rooms[shardIndex(roomID)]
	rs.mu.Lock()
	if rm, ok := rs.rooms[roomID]; ok {
		rm.lastActivity = r.now()
	}
	rs.mu.Unlock()
}

// BroadcastRoom delivers ev to the room's connections, skipping those owned
// by exceptUserID when it is set, and forwards it to other processes. Callers
// may hold per-room locks, so the forward is bounded by forwardTimeout.
func (r *Rooms) BroadcastRoom(roomID string, ev events.Outbound, exceptUserID string) int {
	frame, err := events.Encode(ev)
	if err != nil {
		log.Printf("room broadcast encode failed: room_id=%s event=%s err=%v", roomID, ev.Name(), err)
		return 0
	}
	n := r.DeliverLocal(roomID, exceptUserID, frame)
	if r.forward != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.forwardTimeout)
		defer cancel()
		if err := r.forward.ForwardRoom(ctx, roomID, exceptUserID, frame); err != nil {
			observability.IncClusterForward("out", "room", "error")
			log.Printf("room forward failed: room_id=%s err=%v", roomID, err)
		}
	}
	return n
}

// DeliverLocal delivers an encoded frame to the room's connections in this
// process only.
func (r *Rooms) DeliverLocal(roomID, exceptUserID string, frame []byte) int {
	delivered := 0
	for _, p := range r.Members(roomID) {
		id, ok := p.Identity()
		if !ok || (exceptUserID != "" && id.UserID == exceptUserID) {
			continue
		}
		if err := p.Deliver(frame); err != nil {
			log.Printf("room deliver error: room_id=%s conn_id=%s err=%v", roomID, p.ID(), err)
			continue
		}
		delivered++
	}
	return delivered
}

// Stats reports the number of active rooms, memberships and rooms idle for
// longer than IdleAfter.
func (r *Rooms) Stats() map[string]int {
	rooms, members, idle := 0, 0, 0
	cutoff := r.now().Add(-IdleAfter)
	for i := range r.rooms {
		rs := &r.rooms[i]
		rs.mu.RLock()
		rooms += len(rs.rooms)
		for _, rm := range rs.rooms {
			members += len(rm.members)
			if rm.lastActivity.Before(cutoff) {
				idle++
			}
		}
		rs.mu.RUnlock()
	}
	return map[string]int{
		"active_rooms": rooms,
		"memberships":  members,
		"idle_rooms":   idle,
	}
}
