package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")

	ErrSeatNotFound        = errors.New("seat not found")
	ErrGameNotFound        = errors.New("game not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrVersionConflict is returned when a transition or write presents a
	// version that is no longer the seat's current version.
	ErrVersionConflict   = errors.New("seat version conflict")
	ErrIllegalTransition = errors.New("illegal seat transition")

	ErrSeatUnavailable = errors.New("seat unavailable")
	ErrHoldExpired     = errors.New("hold expired")
	ErrContention      = errors.New("seat contention: retries exhausted")
	ErrLockTimeout     = errors.New("seat lock timeout")

	// ErrStoreUnavailable marks infrastructure failures of the seat store.
	// It is never used for domain conflicts.
	ErrStoreUnavailable = errors.New("seat store unavailable")
)

// IsConflict reports whether err is an expected contention outcome the caller
// may resolve by picking another seat or resubmitting with fresh holds.
func IsConflict(err error) bool {
	return errors.IsAny(err, ErrConflict, ErrSeatUnavailable, ErrHoldExpired, ErrContention, ErrLockTimeout, ErrSerializationFailure)
}

func IsNotFound(err error) bool {
	return errors.IsAny(err, ErrNotFound, ErrSeatNotFound, ErrGameNotFound, ErrReservationNotFound)
}

// StoreFailure marks err as an infrastructure failure of the seat store.
func StoreFailure(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrStoreUnavailable)
}
