package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-inventory/internal/adapters/memory"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/inventory"
)

func seededStore() *memory.Store {
	s := memory.NewStore()
	s.AddSeats(
		domain.Seat{ID: 1, GameID: 7, Label: "A1"},
		domain.Seat{ID: 2, GameID: 7, Label: "A2"},
		domain.Seat{ID: 3, GameID: 7, Label: "A3"},
	)
	return s
}

func TestStore_CompareAndSwapSeat(t *testing.T) {
	ctx := context.Background()
	s := seededStore()

	seat, err := s.GetSeat(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	next, err := seat.Hold(42, seat.Version, time.Now(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.CompareAndSwapSeat(ctx, next, seat.Version)
	if err != nil || !ok {
		t.Fatalf("expected first swap to win, got %v %v", ok, err)
	}
	ok, err = s.CompareAndSwapSeat(ctx, next, seat.Version)
	if err != nil || ok {
		t.Fatalf("expected stale swap to lose, got %v %v", ok, err)
	}

	if _, err := s.CompareAndSwapSeat(ctx, domain.Seat{ID: 99, Version: 1}, 0); !errors.Is(err, domain.ErrSeatNotFound) {
		t.Errorf("expected ErrSeatNotFound, got %v", err)
	}
	if _, err := s.GetSeat(ctx, 99); !errors.Is(err, domain.ErrSeatNotFound) {
		t.Errorf("expected ErrSeatNotFound, got %v", err)
	}
}

func TestStore_LockSeatsAppliesAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := seededStore()
	r := domain.NewReservation(42, 7, []int64{2, 1}, time.Now())

	boom := errors.New("boom")
	err := s.LockSeats(ctx, []int64{2, 1}, func(ctx context.Context, unit inventory.CommitUnit) error {
		seats := unit.Seats()
		if seats[0].ID != 1 || seats[1].ID != 2 {
			t.Errorf("expected seats ascending, got %d %d", seats[0].ID, seats[1].ID)
		}
		for _, seat := range seats {
			next := seat
			next.Status = domain.SeatReserved
			next.Version++
			if err := unit.UpdateSeat(ctx, next, seat.Version); err != nil {
				return err
			}
		}
		if err := unit.InsertReservation(ctx, r); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	for _, id := range []int64{1, 2} {
		seat, _ := s.GetSeat(ctx, id)
		if seat.Status != domain.SeatAvailable || seat.Version != 0 {
			t.Errorf("seat %d changed after failed unit: %+v", id, seat)
		}
	}
	if _, err := s.GetReservation(ctx, r.ID); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Errorf("expected no reservation, got %v", err)
	}
}

func TestStore_LockSeatsRejectsMovedVersion(t *testing.T) {
	ctx := context.Background()
	s := seededStore()

	err := s.LockSeats(ctx, []int64{1, 2}, func(ctx context.Context, unit inventory.CommitUnit) error {
		for _, seat := range unit.Seats() {
			next := seat
			next.Version++
			// seat 2 is written with a stale expectation
			expected := seat.Version
			if seat.ID == 2 {
				expected = 5
			}
			if err := unit.UpdateSeat(ctx, next, expected); err != nil {
				return err
			}
		}
		return unit.InsertOutbox(ctx, domain.OutboxRecord{ID: uuid.New(), Status: domain.OutboxStatusNew})
	})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	seat, _ := s.GetSeat(ctx, 1)
	if seat.Version != 0 {
		t.Errorf("seat 1 written despite conflict: %+v", seat)
	}
	if n := len(s.Outbox()); n != 0 {
		t.Errorf("expected empty outbox, got %d records", n)
	}
}

func TestStore_LockSeatsTimeout(t *testing.T) {
	s := seededStore()
	locked := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = s.LockSeats(context.Background(), []int64{2}, func(ctx context.Context, unit inventory.CommitUnit) error {
			close(locked)
			<-done
			return nil
		})
	}()
	<-locked
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.LockSeats(ctx, []int64{1, 2}, func(ctx context.Context, unit inventory.CommitUnit) error {
		t.Error("fn must not run without every lock")
		return nil
	})
	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	// seat 1 was released again after the timeout
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := s.LockSeats(ctx2, []int64{1}, func(context.Context, inventory.CommitUnit) error { return nil }); err != nil {
		t.Errorf("expected seat 1 lockable, got %v", err)
	}
}

func TestStore_LockSeatsDuplicateIDs(t *testing.T) {
	s := seededStore()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var locked []int64
	err := s.LockSeats(ctx, []int64{2, 1, 2}, func(ctx context.Context, unit inventory.CommitUnit) error {
		for _, seat := range unit.Seats() {
			locked = append(locked, seat.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected duplicate ids to lock once, got %v", err)
	}
	if len(locked) != 2 || locked[0] != 1 || locked[1] != 2 {
		t.Errorf("expected seats [1 2], got %v", locked)
	}
}

func TestStore_LockSeatsUnknownSeat(t *testing.T) {
	s := seededStore()
	err := s.LockSeats(context.Background(), []int64{1, 404}, func(context.Context, inventory.CommitUnit) error {
		return nil
	})
	if !errors.Is(err, domain.ErrSeatNotFound) {
		t.Errorf("expected ErrSeatNotFound, got %v", err)
	}
}

func TestStore_ListExpiredHolds(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := memory.NewStore()
	s.AddSeats(
		domain.Seat{ID: 1, Status: domain.SeatHeld, Version: 1, HoldBuyerID: 9, HoldExpiresAt: now.Add(-time.Minute)},
		domain.Seat{ID: 2, Status: domain.SeatHeld, Version: 1, HoldBuyerID: 9, HoldExpiresAt: now.Add(-2 * time.Minute)},
		domain.Seat{ID: 3, Status: domain.SeatHeld, Version: 1, HoldBuyerID: 9, HoldExpiresAt: now.Add(time.Minute)},
		domain.Seat{ID: 4, Status: domain.SeatReserved, Version: 2},
	)

	seats, err := s.ListExpiredHolds(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(seats) != 2 || seats[0].ID != 2 || seats[1].ID != 1 {
		t.Fatalf("expected seats 2,1 oldest first, got %+v", seats)
	}

	seats, _ = s.ListExpiredHolds(ctx, now, 1)
	if len(seats) != 1 {
		t.Errorf("expected limit 1, got %d", len(seats))
	}
}

func TestStore_OutboxPublishing(t *testing.T) {
	ctx := context.Background()
	s := seededStore()
	rec, err := domain.NewReservationOutbox(domain.NewReservation(1, 7, []int64{1}, time.Now()), domain.EventReservationCreated, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	err = s.LockSeats(ctx, []int64{1}, func(ctx context.Context, unit inventory.CommitUnit) error {
		return unit.InsertOutbox(ctx, rec)
	})
	if err != nil {
		t.Fatal(err)
	}

	pending, _ := s.GetUnpublishedOutbox(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending record, got %d", len(pending))
	}
	if err := s.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	pending, _ = s.GetUnpublishedOutbox(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("expected no pending records, got %d", len(pending))
	}
	if err := s.MarkPublished(ctx, uuid.New(), time.Now()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
