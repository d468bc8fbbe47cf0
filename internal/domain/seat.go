package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatHeld      SeatStatus = "HELD"
	SeatReserved  SeatStatus = "RESERVED"

	// legacySeatSelected is accepted on read and treated as HELD.
	legacySeatSelected = "SELECTED"
)

func ParseSeatStatus(s string) (SeatStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(SeatAvailable):
		return SeatAvailable, nil
	case string(SeatHeld), legacySeatSelected:
		return SeatHeld, nil
	case string(SeatReserved):
		return SeatReserved, nil
	}
	return "", errors.Wrapf(ErrInvalidInput, "unknown seat status %q", s)
}

// Seat is the unit of inventory. A hold is not a separate record: it lives on
// the seat as HoldBuyerID, HeldAt and HoldExpiresAt, set only while HELD.
type Seat struct {
	ID            int64
	GameID        int64
	GradeID       int64
	Label         string
	Status        SeatStatus
	Version       int64
	HoldBuyerID   int64
	HeldAt        time.Time
	HoldExpiresAt time.Time
}

// HoldExpired reports whether the seat is HELD by a hold that is no longer
// valid at now.
func (s Seat) HoldExpired(now time.Time) bool {
	return s.Status == SeatHeld && !now.Before(s.HoldExpiresAt)
}

// EffectiveStatus is the status readers should act on: an expired hold counts
// as AVAILABLE even before anything overwrites it.
func (s Seat) EffectiveStatus(now time.Time) SeatStatus {
	if s.HoldExpired(now) {
		return SeatAvailable
	}
	return s.Status
}

func (s Seat) IsAvailable(now time.Time) bool {
	return s.EffectiveStatus(now) == SeatAvailable
}

func (s Seat) checkVersion(observed int64) error {
	if s.Version != observed {
		return errors.Wrapf(ErrVersionConflict, "seat %d: observed version %d, current %d", s.ID, observed, s.Version)
	}
	return nil
}

func (s Seat) next(status SeatStatus) Seat {
	n := s
	n.Status = status
	n.Version = s.Version + 1
	n.HoldBuyerID = 0
	n.HeldAt = time.Time{}
	n.HoldExpiresAt = time.Time{}
	return n
}

// Hold moves an available seat, or one whose hold has expired, to HELD for
// buyerID until now+ttl.
func (s Seat) Hold(buyerID, observedVersion int64, now time.Time, ttl time.Duration) (Seat, error) {
	if err := s.checkVersion(observedVersion); err != nil {
		return Seat{}, err
	}
	if ttl <= 0 {
		return Seat{}, errors.Wrapf(ErrInvalidInput, "hold ttl must be positive, got %s", ttl)
	}
	if !s.IsAvailable(now) {
		return Seat{}, errors.Wrapf(ErrSeatUnavailable, "seat %d is %s", s.ID, s.Status)
	}
	n := s.next(SeatHeld)
	n.HoldBuyerID = buyerID
	n.HeldAt = now
	n.HoldExpiresAt = now.Add(ttl)
	return n, nil
}

// Reserve finalizes a live hold owned by buyerID.
func (s Seat) Reserve(buyerID, observedVersion int64, now time.Time) (Seat, error) {
	if err := s.checkVersion(observedVersion); err != nil {
		return Seat{}, err
	}
	if s.Status != SeatHeld || s.HoldBuyerID != buyerID {
		return Seat{}, errors.Wrapf(ErrIllegalTransition, "seat %d: reserve from %s held by %d", s.ID, s.Status, s.HoldBuyerID)
	}
	if s.HoldExpired(now) {
		return Seat{}, errors.Wrapf(ErrHoldExpired, "seat %d: hold expired at %s", s.ID, s.HoldExpiresAt.Format(time.RFC3339))
	}
	return s.next(SeatReserved), nil
}

func (s Seat) Release(observedVersion int64) (Seat, error) {
	if err := s.checkVersion(observedVersion); err != nil {
		return Seat{}, err
	}
	if s.Status != SeatHeld {
		return Seat{}, errors.Wrapf(ErrIllegalTransition, "seat %d: release from %s", s.ID, s.Status)
	}
	return s.next(SeatAvailable), nil
}

// Cancel reverts a reserved seat to AVAILABLE.
func (s Seat) Cancel(observedVersion int64) (Seat, error) {
	if err := s.checkVersion(observedVersion); err != nil {
		return Seat{}, err
	}
	if s.Status != SeatReserved {
		return Seat{}, errors.Wrapf(ErrIllegalTransition, "seat %d: cancel from %s", s.ID, s.Status)
	}
	return s.next(SeatAvailable), nil
}
