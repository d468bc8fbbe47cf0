package inventory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robertarktes/seat-inventory/internal/adapters/memory"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/inventory"
)

const gameID = 7

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newStore(ids ...int64) *memory.Store {
	s := memory.NewStore()
	for _, id := range ids {
		s.AddSeats(domain.Seat{ID: id, GameID: gameID, GradeID: 1})
	}
	return s
}

func testOptions(c *clock, extra ...inventory.Option) []inventory.Option {
	return append([]inventory.Option{
		inventory.WithClock(c.Now),
		inventory.WithRetry(3, 0, 0),
	}, extra...)
}

func mustSeat(t *testing.T, s inventory.SeatStore, id int64) domain.Seat {
	t.Helper()
	seat, err := s.GetSeat(context.Background(), id)
	if err != nil {
		t.Fatalf("get seat %d: %v", id, err)
	}
	return seat
}
