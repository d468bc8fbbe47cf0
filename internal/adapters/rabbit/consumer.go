package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/observability"
)

// Handler processes one delivery. Returning an error wrapping
// domain.ErrInvalidInput drops the message; any other error requeues it.
type Handler func(ctx context.Context, messageID, eventType string, body []byte) error

type Consumer struct {
	ch     *amqp.Channel
	queue  string
	logger observability.Logger
}

// NewConsumer declares a durable queue bound to Exchange for each of keys.
func NewConsumer(conn *amqp.Connection, queue string, keys []string, logger observability.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, errors.Wrap(err, "declare exchange")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, errors.Wrap(err, "declare queue")
	}
	for _, key := range keys {
		if err := ch.QueueBind(queue, key, Exchange, false, nil); err != nil {
			return nil, errors.Wrapf(err, "bind %s", key)
		}
	}
	if err := ch.Qos(32, 0, false); err != nil {
		return nil, errors.Wrap(err, "set qos")
	}
	return &Consumer{ch: ch, queue: queue, logger: logger}, nil
}

func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

// Run hands deliveries to h until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	deliveries, err := c.Consume(ctx)
	if err != nil {
		return errors.Wrap(err, "consume")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, h, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, d amqp.Delivery) {
	log := c.logger.WithField("message_id", d.MessageId).WithField("routing_key", d.RoutingKey)
	err := h(ctx, d.MessageId, d.RoutingKey, d.Body)
	switch {
	case err == nil:
		if err := d.Ack(false); err != nil {
			log.WithError(err).Error("failed to ack")
		}
	case errors.Is(err, domain.ErrInvalidInput):
		log.WithError(err).Warn("dropping undecodable message")
		_ = d.Nack(false, false)
	default:
		log.WithError(err).Error("failed to handle message, requeueing")
		_ = d.Nack(false, true)
	}
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
