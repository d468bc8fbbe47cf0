package inventory

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/observability"
)

type HoldOutcome int

const (
	HoldAcquired HoldOutcome = iota + 1
	HoldConflict
)

func (o HoldOutcome) String() string {
	switch o {
	case HoldAcquired:
		return "acquired"
	case HoldConflict:
		return "conflict"
	}
	return "unknown"
}

// HoldResult is the outcome of a hold attempt. A conflict is a normal result,
// not an error: the seat is held by someone else, reserved, or too contended.
type HoldResult struct {
	Outcome HoldOutcome
	Token   domain.HoldToken
}

func (r HoldResult) Acquired() bool { return r.Outcome == HoldAcquired }

var errHoldGone = errors.New("hold no longer on seat")

type HoldManager struct {
	controller *Controller
	now        func() time.Time
	holdTTL    time.Duration
	selectTTL  time.Duration
	logger     observability.Logger
}

func NewHoldManager(controller *Controller, opts ...Option) *HoldManager {
	o := applyOptions(opts)
	return &HoldManager{
		controller: controller,
		now:        o.now,
		holdTTL:    o.holdTTL,
		selectTTL:  o.selectTTL,
		logger:     o.logger,
	}
}

// TryHold holds seatID for buyerID for the configured hold TTL. Unknown
// seats yield domain.ErrSeatNotFound.
func (m *HoldManager) TryHold(ctx context.Context, seatID, buyerID int64) (HoldResult, error) {
	return m.acquire(ctx, seatID, buyerID, 0, m.holdTTL)
}

// TrySelect is TryHold with the shorter selection TTL, used while the buyer
// is still browsing the seat map.
func (m *HoldManager) TrySelect(ctx context.Context, seatID, buyerID int64) (HoldResult, error) {
	return m.acquire(ctx, seatID, buyerID, 0, m.selectTTL)
}

// acquire holds seatID; a non-zero gameID also requires the seat to belong to
// that game, reporting a mismatch as not found.
func (m *HoldManager) acquire(ctx context.Context, seatID, buyerID, gameID int64, ttl time.Duration) (HoldResult, error) {
	seat, err := m.controller.Mutate(ctx, seatID, func(cur domain.Seat) (domain.Seat, error) {
		if gameID != 0 && cur.GameID != gameID {
			return domain.Seat{}, errors.Wrapf(domain.ErrSeatNotFound, "seat %d in game %d", seatID, gameID)
		}
		return cur.Hold(buyerID, cur.Version, m.now(), ttl)
	})
	switch {
	case err == nil:
		observability.HoldAttempts.WithLabelValues("acquired").Inc()
		return HoldResult{Outcome: HoldAcquired, Token: domain.NewHoldToken(seat)}, nil
	case errors.IsAny(err, domain.ErrSeatUnavailable, domain.ErrContention):
		observability.HoldAttempts.WithLabelValues("conflict").Inc()
		m.logger.WithField("seat_id", seatID).WithField("buyer_id", buyerID).Debug("hold conflict")
		return HoldResult{Outcome: HoldConflict}, nil
	case errors.Is(err, domain.ErrSeatNotFound):
		observability.HoldAttempts.WithLabelValues("not_found").Inc()
		return HoldResult{}, err
	default:
		observability.HoldAttempts.WithLabelValues("error").Inc()
		return HoldResult{}, errors.Wrapf(err, "hold seat %d", seatID)
	}
}

// Release returns a held seat to AVAILABLE if token is still the seat's
// current hold. Releasing a hold that was already released, committed,
// overwritten after expiry, or that names an unknown seat is a no-op.
func (m *HoldManager) Release(ctx context.Context, token domain.HoldToken) error {
	_, err := m.release(ctx, token)
	return err
}

func (m *HoldManager) release(ctx context.Context, token domain.HoldToken) (bool, error) {
	_, err := m.controller.Mutate(ctx, token.SeatID, func(cur domain.Seat) (domain.Seat, error) {
		if !token.Matches(cur) {
			return domain.Seat{}, errHoldGone
		}
		return cur.Release(cur.Version)
	})
	switch {
	case err == nil:
		return true, nil
	case errors.IsAny(err, errHoldGone, domain.ErrSeatNotFound):
		return false, nil
	default:
		return false, errors.Wrapf(err, "release hold on seat %d", token.SeatID)
	}
}
