package ws

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"care-sync/internal/auth"
	"care-sync/internal/events"
)

// DefaultForwardTimeout bounds a single cross-process forward.
const DefaultForwardTimeout = 500 * time.Millisecond

// Forwarder hands frames to other processes serving the same users and rooms.
type Forwarder interface {
	ForwardUser(ctx context.Context, userID, eventID string, frame []byte) error
	ForwardRoom(ctx context.Context, roomID, exceptUserID string, frame []byte) error
}

// Gateway binds connections to identities and routes events to users.
type Gateway struct {
	registry  *Registry
	validator auth.Validator
	forward   Forwarder

	hooksMu sync.RWMutex
	hooks   []func(*Conn)
}

// NewGateway creates a Gateway over an injected registry.
func NewGateway(registry *Registry, validator auth.Validator) *Gateway {
	return &Gateway{registry: registry, validator: validator}
}

// SetForwarder enables cross-process routing. Call before serving traffic.
func (g *Gateway) SetForwarder(f Forwarder) {
	g.forward = f
}

// OnDeregister registers a hook that runs once for every deregistered connection.
func (g *Gateway) OnDeregister(hook func(*Conn)) {
	g.hooksMu.Lock()
	defer g.hooksMu.Unlock()
	g.hooks = append(g.hooks, hook)
}

// Registry exposes the connection registry.
func (g *Gateway) Registry() *Registry { return g.registry }

// Authenticate validates token and binds the connection to its user. A
// connection that fails re-authentication loses its earlier binding: it is
// removed from the registry, the deregistration hooks run so it leaves its
// rooms, and it stays open as unauthenticated.
func (g *Gateway) Authenticate(ctx context.Context, c *Conn, claimedUserID, token string) (auth.Identity, error) {
	id, err := g.validator.ValidateToken(ctx, token)
	if err != nil {
		g.revoke(c)
		return auth.Identity{}, err
	}
	if claimedUserID != "" && claimedUserID != id.UserID {
		g.revoke(c)
		return auth.Identity{}, ErrIdentityMismatch
	}
	if err := g.Bind(c, id); err != nil {
		return auth.Identity{}, err
	}
	return id, nil
}

func (g *Gateway) revoke(c *Conn) {
	if c == nil {
		return
	}
	if _, bound := c.Identity(); !bound {
		return
	}
	log.Printf("websocket binding revoked: %s", describe(c))
	g.registry.Unregister(c)
	g.runHooks(c)
	c.unbind()
}

// Bind registers c under an already validated identity.
func (g *Gateway) Bind(c *Conn, id auth.Identity) error {
	if c == nil {
		return ErrNilConnection
	}
	if err := c.bind(id); err != nil {
		return err
	}
	return g.registry.Register(c)
}

// RouteToUser delivers ev to every live connection of userID here and, when
// configured, in other processes. It returns the number of local deliveries.
func (g *Gateway) RouteToUser(ctx context.Context, userID string, ev events.Outbound) int {
	frame, err := events.Encode(ev)
	if err != nil {
		log.Printf("route to user failed: user_id=%s err=%v", userID, err)
		return 0
	}
	return g.RouteFrame(ctx, userID, "", frame)
}

// RouteFrame is RouteToUser for an already encoded frame.
func (g *Gateway) RouteFrame(ctx context.Context, userID, eventID string, frame []byte) int {
	n := g.DeliverLocal(userID, frame)
	if g.forward != nil {
		ctx, cancel := context.WithTimeout(ctx, DefaultForwardTimeout)
		defer cancel()
		if err := g.forward.ForwardUser(ctx, userID, eventID, frame); err != nil {
			log.Printf("forward to user failed: user_id=%s err=%v", userID, err)
		}
	}
	return n
}

// DeliverLocal delivers frame to the user's connections in this process only.
// With no live connection the frame is dropped.
func (g *Gateway) DeliverLocal(userID string, frame []byte) int {
	delivered := 0
	for _, c := range g.registry.UserConnections(userID) {
		if err := c.Deliver(frame); err != nil {
			log.Printf("websocket deliver error: conn_id=%s user_id=%s err=%v", c.ID(), userID, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Deregister removes c from the registry, runs the deregistration hooks and
// closes it. Calling it again is a no-op. Hooks must tolerate an
// unauthenticated connection.
func (g *Gateway) Deregister(c *Conn) {
	if c == nil || !c.release() {
		return
	}
	g.registry.Unregister(c)
	g.runHooks(c)
	_ = c.Close()
}

func (g *Gateway) runHooks(c *Conn) {
	g.hooksMu.RLock()
	hooks := append([]func(*Conn){}, g.hooks...)
	g.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(c)
	}
}

// Deny sends a chat-error frame to c.
func Deny(c *Conn, code string, err error, clientMessageID string) {
	if sendErr := c.Send(events.ChatError{Code: code, Message: err.Error(), ClientMessageID: clientMessageID}); sendErr != nil {
		log.Printf("chat-error not delivered: conn_id=%s code=%s err=%v", c.ID(), code, sendErr)
	}
}

func describe(c *Conn) string {
	return fmt.Sprintf("conn_id=%s user_id=%s", c.ID(), c.UserID())
}
