package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-inventory/internal/adapters/rabbit"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/observability"
)

type Source interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]domain.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

// Sink returns nil from Publish only once the broker confirmed the message.
type Sink interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher relays outbox records to the broker in creation order. Delivery
// is at least once: a record is marked only after the broker accepted it, and
// its dedupe key travels as the message id.
type Publisher struct {
	source Source
	sink   Sink
	batch  int
	now    func() time.Time
	logger observability.Logger
}

func NewPublisher(source Source, sink Sink, logger observability.Logger) *Publisher {
	return &Publisher{source: source, sink: sink, batch: 100, now: time.Now, logger: logger}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishPending(ctx); err != nil {
				p.logger.WithError(err).Error("failed to relay outbox")
			}
		}
	}
}

// PublishPending relays one batch and returns how many records were
// published. It stops at the first failed publish so records keep their
// order.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	records, err := p.source.GetUnpublishedOutbox(ctx, p.batch)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(p.now().Sub(records[0].CreatedAt).Seconds())

	published := 0
	for _, rec := range records {
		msg := rabbit.NewMessage(rec.DedupeKey, rec.Payload)
		msg.Type = rec.EventType
		if err := p.sink.Publish(ctx, rec.EventType, msg); err != nil {
			observability.RabbitPublishFailures.Inc()
			return published, err
		}
		if err := p.source.MarkPublished(ctx, rec.ID, p.now()); err != nil {
			return published, err
		}
		published++
	}
	p.logger.WithField("published", published).Debug("outbox relayed")
	return published, nil
}
