package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"care-sync/internal/auth"
	"care-sync/internal/events"
)

// Peer is a connection as seen by the room and broadcast layers.
type Peer interface {
	ID() string
	Identity() (auth.Identity, bool)
	Deliver(frame []byte) error
}

// ConnInfo is transport metadata captured at handshake. It feeds lifecycle
// events and audit records.
type ConnInfo struct {
	ConnID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Conn is one client connection. All writes go through a single writer
// goroutine fed by a bounded queue, so delivery never blocks the caller.
type Conn struct {
	transport *websocket.Conn
	info      ConnInfo
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	released  atomic.Bool

	mu       sync.RWMutex
	identity auth.Identity
	bound    bool
}

// NewConn wraps transport. A nil transport is allowed for connections that
// are driven without a socket, such as in tests.
func NewConn(transport *websocket.Conn, info ConnInfo, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Conn{
		transport: transport,
		info:      info,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.info.ConnID }

func (c *Conn) Info() ConnInfo { return c.info }

// Identity returns the bound identity and whether the connection is authenticated.
func (c *Conn) Identity() (auth.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity, c.bound
}

// UserID returns the owning user, or "" before authentication.
func (c *Conn) UserID() string {
	id, _ := c.Identity()
	return id.UserID
}

func (c *Conn) bind(id auth.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound && c.identity.UserID != id.UserID {
		return ErrAlreadyBound
	}
	c.identity = id
	c.bound = true
	return nil
}

func (c *Conn) unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = auth.Identity{}
	c.bound = false
}

// Deliver enqueues an encoded frame. A full queue means the client cannot keep
// up; the connection is closed and its reader goroutine deregisters it.
func (c *Conn) Deliver(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		_ = c.Close()
		return ErrSendQueueFull
	}
}

// Send encodes and enqueues a single event.
func (c *Conn) Send(ev events.Outbound) error {
	frame, err := events.Encode(ev)
	if err != nil {
		return err
	}
	return c.Deliver(frame)
}

// Close is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.transport != nil {
			err = c.transport.Close()
		}
	})
	return err
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// release marks the connection as deregistered and reports whether this call did it.
func (c *Conn) release() bool {
	return c.released.CompareAndSwap(false, true)
}

func (c *Conn) writePump(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.transport.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.transport.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
