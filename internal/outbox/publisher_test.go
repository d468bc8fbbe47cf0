package outbox_test

import (
	"context"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-inventory/internal/adapters/memory"
	"github.com/robertarktes/seat-inventory/internal/adapters/rabbit"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/inventory"
	"github.com/robertarktes/seat-inventory/internal/observability"
	"github.com/robertarktes/seat-inventory/internal/outbox"
)

type sink struct {
	failAfter int
	nack      bool
	msgs      []amqp.Publishing
	keys      []string
}

func (s *sink) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	if s.failAfter >= 0 && len(s.msgs) >= s.failAfter {
		return errors.New("channel closed")
	}
	if s.nack {
		return errors.Wrapf(rabbit.ErrNotConfirmed, "message %s", msg.MessageId)
	}
	s.keys = append(s.keys, key)
	s.msgs = append(s.msgs, msg)
	return nil
}

func seed(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	store.AddSeats(domain.Seat{ID: 1, GameID: 7}, domain.Seat{ID: 2, GameID: 7})
	coord := inventory.New(store, inventory.WithRetry(3, 0, 0))
	ctx := context.Background()
	res, err := coord.CreateReservation(ctx, 100, 7, []int64{1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := coord.CreateReservation(ctx, 101, 7, []int64{2}); err != nil {
		t.Fatal(err)
	}
	if _, err := coord.CancelReservation(ctx, res.ID, 100); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestPublisher_PublishPending(t *testing.T) {
	store := seed(t)
	s := &sink{failAfter: -1}
	p := outbox.NewPublisher(store, s, observability.NewLoggerWithOutput(io.Discard))

	n, err := p.PublishPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 published, got %d", n)
	}
	want := []string{domain.EventReservationCreated, domain.EventReservationCreated, domain.EventReservationCanceled}
	for i, key := range want {
		if s.keys[i] != key {
			t.Errorf("message %d: expected key %s, got %s", i, key, s.keys[i])
		}
	}
	records := store.Outbox()
	if s.msgs[0].MessageId != records[0].DedupeKey {
		t.Errorf("expected message id %s, got %s", records[0].DedupeKey, s.msgs[0].MessageId)
	}

	n, err = p.PublishPending(context.Background())
	if err != nil || n != 0 {
		t.Errorf("expected nothing left, got %d %v", n, err)
	}
}

func TestPublisher_StopsAtFailure(t *testing.T) {
	store := seed(t)
	s := &sink{failAfter: 1}
	p := outbox.NewPublisher(store, s, observability.NewLoggerWithOutput(io.Discard))

	n, err := p.PublishPending(context.Background())
	if err == nil || n != 1 {
		t.Fatalf("expected one publish then failure, got %d %v", n, err)
	}
	pending, _ := store.GetUnpublishedOutbox(context.Background(), 10)
	if len(pending) != 2 {
		t.Fatalf("expected 2 records still pending, got %d", len(pending))
	}
	if pending[0].EventType != domain.EventReservationCreated {
		t.Errorf("expected order kept, got %s first", pending[0].EventType)
	}

	s.failAfter = -1
	if n, err := p.PublishPending(context.Background()); err != nil || n != 2 {
		t.Errorf("expected retry to publish 2, got %d %v", n, err)
	}
}

func TestPublisher_NackedRecordStaysPending(t *testing.T) {
	store := seed(t)
	s := &sink{failAfter: -1, nack: true}
	p := outbox.NewPublisher(store, s, observability.NewLoggerWithOutput(io.Discard))

	n, err := p.PublishPending(context.Background())
	if !errors.Is(err, rabbit.ErrNotConfirmed) || n != 0 {
		t.Fatalf("expected unconfirmed publish to fail, got %d %v", n, err)
	}
	pending, _ := store.GetUnpublishedOutbox(context.Background(), 10)
	if len(pending) != 3 {
		t.Fatalf("expected all 3 records pending, got %d", len(pending))
	}
	for _, rec := range pending {
		if rec.PublishedAt != nil {
			t.Errorf("record %s marked published without a confirm", rec.ID)
		}
	}

	s.nack = false
	if n, err := p.PublishPending(context.Background()); err != nil || n != 3 {
		t.Errorf("expected redelivery of 3, got %d %v", n, err)
	}
}
