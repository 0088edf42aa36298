package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"care-sync/internal/broadcast"
	"care-sync/internal/models"
	"care-sync/internal/observability"
)

// ChangesRoutingKey matches change notices for every entity type.
const ChangesRoutingKey = "changes.#"

// UpdatePublisher receives change notices after the write they describe
// committed.
type UpdatePublisher interface {
	Publish(ctx context.Context, ev models.UpdateEvent) (int, error)
}

// Consumer reads change notices from a durable queue bound to the exchange
// and hands them to the invalidation bus.
type Consumer struct {
	url      string
	exchange string
	queue    string
	target   UpdatePublisher
}

func NewConsumer(amqpURL, exchange, queue string, target UpdatePublisher) *Consumer {
	return &Consumer{url: amqpURL, exchange: exchange, queue: queue, target: target}
}

// Run consumes until ctx is cancelled. It returns nil immediately when AMQP
// is not configured.
func (c *Consumer) Run(ctx context.Context) error {
	if c.url == "" || c.queue == "" {
		log.Printf("rabbitmq consumer disabled: empty amqp url or queue")
		return nil
	}

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, c.exchange); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(c.queue, ChangesRoutingKey, c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	if err := ch.Qos(32, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, "care-sync", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	log.Printf("rabbitmq consumer started queue=%s exchange=%s", c.queue, c.exchange)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return nil
			}
			return fmt.Errorf("amqp connection closed: %w", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery. Malformed or invalid notices are rejected
// without requeue; a failed publish is requeued once.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	var ev models.UpdateEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		log.Printf("change notice rejected: delivery_tag=%d err=%v", d.DeliveryTag, err)
		observability.IncAMQPConsumed("malformed")
		_ = d.Nack(false, false)
		return
	}
	if ev.ID == "" {
		ev.ID = d.MessageId
	}

	if _, err := c.target.Publish(ctx, ev); err != nil {
		requeue := !broadcast.IsInvalid(err) && !d.Redelivered
		log.Printf("change notice failed: event_id=%s requeue=%t err=%v", ev.ID, requeue, err)
		observability.IncAMQPConsumed("failed")
		_ = d.Nack(false, requeue)
		return
	}

	observability.IncAMQPConsumed("ok")
	_ = d.Ack(false)
}
