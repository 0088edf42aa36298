package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"care-sync/internal/observability"
)

const (
	kindUser = "user"
	kindRoom = "room"
)

// DefaultChannel is the pub/sub channel shared by every process.
const DefaultChannel = "care-sync:frames"

var ErrUnknownKind = errors.New("unknown relay kind")

// UserSink delivers a frame to a user's connections in this process.
type UserSink func(userID, eventID string, frame []byte) int

// RoomSink delivers a frame to a room's connections in this process.
type RoomSink func(roomID, exceptUserID string, frame []byte) int

type envelope struct {
	Origin  string          `json:"origin"`
	Kind    string          `json:"kind"`
	Target  string          `json:"target"`
	Except  string          `json:"except,omitempty"`
	EventID string          `json:"eventId,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}

// Relay mirrors user and room deliveries to every other process over Redis
// pub/sub, so a user connected to any process receives them. Frames a
// process published itself are ignored when they come back.
type Relay struct {
	client  *redis.Client
	channel string
	origin  string
	users   UserSink
	rooms   RoomSink

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRelay(client *redis.Client, channel string, users UserSink, rooms RoomSink) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		users:   users,
		rooms:   rooms,
		ready:   make(chan struct{}),
	}
}

// Origin identifies this process on the channel.
func (r *Relay) Origin() string { return r.origin }

// Ready is closed once the subscription is active.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

func (r *Relay) ForwardUser(ctx context.Context, userID, eventID string, frame []byte) error {
	return r.publish(ctx, envelope{Kind: kindUser, Target: userID, EventID: eventID, Frame: frame})
}

func (r *Relay) ForwardRoom(ctx context.Context, roomID, exceptUserID string, frame []byte) error {
	return r.publish(ctx, envelope{Kind: kindRoom, Target: roomID, Except: exceptUserID, Frame: frame})
}

func (r *Relay) publish(ctx context.Context, env envelope) error {
	env.Origin = r.origin
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		observability.IncClusterForward("out", env.Kind, "error")
		return fmt.Errorf("relay publish: %w", err)
	}
	observability.IncClusterForward("out", env.Kind, "ok")
	return nil
}

// Run subscribes and delivers frames from other processes until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	log.Printf("cluster relay subscribed channel=%s origin=%s", r.channel, r.origin)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := r.handle([]byte(msg.Payload)); err != nil {
				log.Printf("cluster relay dropped message: err=%v", err)
			}
		}
	}
}

func (r *Relay) handle(payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		observability.IncClusterForward("in", "unknown", "malformed")
		return err
	}
	if env.Origin == r.origin {
		return nil
	}

	switch env.Kind {
	case kindUser:
		if r.users != nil {
			r.users(env.Target, env.EventID, env.Frame)
		}
	case kindRoom:
		if r.rooms != nil {
			r.rooms(env.Target, env.Except, env.Frame)
		}
	default:
		observability.IncClusterForward("in", env.Kind, "malformed")
		return fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	observability.IncClusterForward("in", env.Kind, "ok")
	return nil
}
