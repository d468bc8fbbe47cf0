package crdb_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/seat-inventory/internal/adapters/crdb"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/inventory"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRepository(t *testing.T) *crdb.Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping cockroach container test in short mode")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	dsn, err := crdbContainer.Endpoint(ctx, "postgresql")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, "postgresql://root@"+strings.TrimPrefix(dsn, "postgresql://")+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	repo := crdb.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	seats := []domain.Seat{
		{ID: 1, GameID: 7, GradeID: 1, Label: "A1"},
		{ID: 2, GameID: 7, GradeID: 1, Label: "A2"},
		{ID: 3, GameID: 7, GradeID: 1, Label: "A3"},
	}
	if err := repo.InsertSeats(ctx, seats); err != nil {
		t.Fatal(err)
	}
	return repo
}

func TestRepository_CompareAndSwapSeat(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	seat, err := repo.GetSeat(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	next, err := seat.Hold(42, seat.Version, time.Now().UTC(), 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := repo.CompareAndSwapSeat(ctx, next, seat.Version)
	if err != nil || !ok {
		t.Fatalf("expected swap to win, got %v %v", ok, err)
	}
	ok, err = repo.CompareAndSwapSeat(ctx, next, seat.Version)
	if err != nil || ok {
		t.Fatalf("expected stale swap to lose, got %v %v", ok, err)
	}

	stored, err := repo.GetSeat(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.SeatHeld || stored.HoldBuyerID != 42 || stored.Version != next.Version {
		t.Errorf("unexpected stored seat %+v", stored)
	}

	if _, err := repo.GetSeat(ctx, 404); !errors.Is(err, domain.ErrSeatNotFound) {
		t.Errorf("expected ErrSeatNotFound, got %v", err)
	}
	if _, err := repo.CompareAndSwapSeat(ctx, domain.Seat{ID: 404, Status: domain.SeatAvailable, Version: 1}, 0); !errors.Is(err, domain.ErrSeatNotFound) {
		t.Errorf("expected ErrSeatNotFound, got %v", err)
	}
}

func TestRepository_CommitReservation(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	coord := inventory.New(repo, inventory.WithRetry(3, 0, 0))
	res, err := coord.CreateReservation(ctx, 100, 7, []int64{2, 1})
	if err != nil {
		t.Fatalf("expected reservation, got %v", err)
	}

	fetched, err := repo.GetReservation(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.Status != domain.ReservationReserved || len(fetched.SeatIDs) != 2 || fetched.SeatIDs[0] != 2 {
		t.Errorf("unexpected reservation %+v", fetched)
	}
	for _, id := range []int64{1, 2} {
		seat, _ := repo.GetSeat(ctx, id)
		if seat.Status != domain.SeatReserved || seat.HoldBuyerID != 0 {
			t.Errorf("seat %d: %+v", id, seat)
		}
	}

	pending, err := repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].EventType != domain.EventReservationCreated {
		t.Fatalf("expected one reservation.created record, got %+v", pending)
	}
	if err := repo.MarkPublished(ctx, pending[0].ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	if _, err := coord.CancelReservation(ctx, res.ID, 100); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	seat, _ := repo.GetSeat(ctx, 1)
	if seat.Status != domain.SeatAvailable {
		t.Errorf("expected AVAILABLE after cancel, got %s", seat.Status)
	}
}

func TestRepository_LockSeatsRollsBack(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	err := repo.LockSeats(ctx, []int64{1, 2}, func(ctx context.Context, unit inventory.CommitUnit) error {
		seats := unit.Seats()
		first := seats[0]
		next := first
		next.Status = domain.SeatReserved
		next.Version++
		if err := unit.UpdateSeat(ctx, next, first.Version); err != nil {
			return err
		}
		stale := seats[1]
		stale.Version += 5
		return unit.UpdateSeat(ctx, stale, seats[1].Version+1)
	})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	seat, _ := repo.GetSeat(ctx, 1)
	if seat.Status != domain.SeatAvailable || seat.Version != 0 {
		t.Errorf("seat 1 written despite rollback: %+v", seat)
	}
}

func TestRepository_LockTimeout(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	locked := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = repo.LockSeats(ctx, []int64{2}, func(context.Context, inventory.CommitUnit) error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	lockCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	err := repo.LockSeats(lockCtx, []int64{1, 2}, func(context.Context, inventory.CommitUnit) error {
		return nil
	})
	close(release)
	wg.Wait()

	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestRepository_ListExpiredHolds(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i, id := range []int64{1, 2} {
		seat, _ := repo.GetSeat(ctx, id)
		next, err := seat.Hold(9, seat.Version, now.Add(-time.Duration(10-i)*time.Minute), 5*time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if ok, err := repo.CompareAndSwapSeat(ctx, next, seat.Version); err != nil || !ok {
			t.Fatalf("hold seat %d: %v %v", id, ok, err)
		}
	}

	seats, err := repo.ListExpiredHolds(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(seats) != 2 || seats[0].ID != 1 {
		t.Errorf("expected seats 1,2 oldest first, got %+v", seats)
	}
}
