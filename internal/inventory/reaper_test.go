package inventory_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/inventory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.HoldExpiredEvent
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, eventType string, payload []byte) error {
	var ev domain.HoldExpiredEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func TestReaper_SweepReleasesExpiredHolds(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := newStore(1, 2, 3)
	pub := &recordingPublisher{}
	opts := testOptions(c, inventory.WithHoldTTL(5*time.Minute), inventory.WithPublisher(pub), inventory.WithReapLimits(10, 2))
	holds := inventory.NewHoldManager(inventory.NewController(store, opts...), opts...)
	reaper := inventory.NewReaper(store, holds, opts...)

	for _, id := range []int64{1, 2} {
		if res, _ := holds.TryHold(ctx, id, 100); !res.Acquired() {
			t.Fatalf("hold %d not acquired", id)
		}
	}
	c.Advance(3 * time.Minute)
	if res, _ := holds.TryHold(ctx, 3, 200); !res.Acquired() {
		t.Fatal("hold 3 not acquired")
	}

	if n, err := reaper.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("expected nothing to reap yet, got %d %v", n, err)
	}

	c.Advance(3 * time.Minute)
	n, err := reaper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 released, got %d", n)
	}
	for _, id := range []int64{1, 2} {
		if seat := mustSeat(t, store, id); seat.Status != domain.SeatAvailable {
			t.Errorf("seat %d: expected AVAILABLE, got %s", id, seat.Status)
		}
	}
	if seat := mustSeat(t, store, 3); seat.Status != domain.SeatHeld {
		t.Errorf("live hold reaped: %+v", seat)
	}
	if len(pub.events) != 2 {
		t.Errorf("expected 2 hold.expired events, got %d", len(pub.events))
	}
}
