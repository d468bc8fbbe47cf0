package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/seat-inventory/internal/domain"
)

// SeatStore is the system of record for seat state. Implementations must
// make CompareAndSwapSeat atomic per seat and LockSeats atomic across the
// whole set.
type SeatStore interface {
	// GetSeat returns domain.ErrSeatNotFound for unknown ids.
	GetSeat(ctx context.Context, seatID int64) (domain.Seat, error)

	// CompareAndSwapSeat writes next only if the stored version still equals
	// expectedVersion. It reports false, nil when the version moved on.
	CompareAndSwapSeat(ctx context.Context, next domain.Seat, expectedVersion int64) (bool, error)

	// LockSeats row-locks seatIDs in ascending id order and runs fn inside one
	// transaction. Writes made through the CommitUnit are applied together
	// when fn returns nil and discarded otherwise. Waiting for a lock past the
	// ctx deadline fails with domain.ErrLockTimeout.
	LockSeats(ctx context.Context, seatIDs []int64, fn func(ctx context.Context, unit CommitUnit) error) error

	GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error)

	// ListExpiredHolds returns HELD seats whose hold expired at or before now,
	// oldest expiry first.
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Seat, error)
}

// CommitUnit is the view of a locked seat set inside LockSeats.
type CommitUnit interface {
	// Seats returns the locked seats as read under the lock, ascending by id.
	Seats() []domain.Seat
	UpdateSeat(ctx context.Context, next domain.Seat, expectedVersion int64) error
	InsertReservation(ctx context.Context, r domain.Reservation) error
	// LockReservation reads a reservation inside the unit.
	LockReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id uuid.UUID, status domain.ReservationStatus) error
	InsertOutbox(ctx context.Context, rec domain.OutboxRecord) error
}

// GameCatalog is the read-only game catalog owned by another subsystem.
type GameCatalog interface {
	GameExists(ctx context.Context, gameID int64) (bool, error)
}

// EventPublisher delivers events that are not part of a seat transaction.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, payload []byte) error
}
