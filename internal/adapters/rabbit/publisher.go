package rabbit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is the topic exchange seat events are published to. Routing keys
// are event types such as reservation.created.
const Exchange = "seats.events"

// ErrNotConfirmed is returned when the broker nacks a publish.
var ErrNotConfirmed = errors.New("publish not confirmed by broker")

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// channel is the part of an AMQP channel in confirm mode the publisher uses.
type channel interface {
	publish(ctx context.Context, key string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

type amqpChannel struct {
	*amqp.Channel
}

func (c amqpChannel) publish(ctx context.Context, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, Exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("channel is not in confirm mode")
	}
	return dc, nil
}

// Publisher publishes on a channel in confirm mode. Publish returns only
// after the broker acknowledged the message.
type Publisher struct {
	ch channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrap(err, "declare exchange")
	}
	if err := ch.Confirm(false); err != nil {
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	return &Publisher{ch: amqpChannel{Channel: ch}}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	conf, err := p.ch.publish(ctx, key, msg)
	if err != nil {
		return errors.Wrapf(err, "publish %s", key)
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "await confirm for %s", key)
	}
	if !acked {
		return errors.Wrapf(ErrNotConfirmed, "message %s", msg.MessageId)
	}
	return nil
}

// PublishEvent publishes a JSON payload under eventType with a fresh
// message id.
func (p *Publisher) PublishEvent(ctx context.Context, eventType string, payload []byte) error {
	return p.Publish(ctx, eventType, NewMessage(uuid.NewString(), payload))
}

func NewMessage(messageID string, payload []byte) amqp.Publishing {
	return amqp.Publishing{
		MessageId:    messageID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	}
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
