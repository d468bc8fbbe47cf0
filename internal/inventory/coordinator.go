package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Coordinator turns a set of seats into one committed Reservation, or leaves
// nothing behind. Holds are taken optimistically one seat at a time; only the
// final commit locks, and it locks in ascending seat id order.
type Coordinator struct {
	store       SeatStore
	holds       *HoldManager
	catalog     GameCatalog
	now         func() time.Time
	lockTimeout time.Duration
	logger      observability.Logger
	tracer      trace.Tracer
}

func NewCoordinator(store SeatStore, holds *HoldManager, opts ...Option) *Coordinator {
	o := applyOptions(opts)
	return &Coordinator{
		store:       store,
		holds:       holds,
		catalog:     o.catalog,
		now:         o.now,
		lockTimeout: o.lockTimeout,
		logger:      o.logger,
		tracer:      otel.Tracer("inventory"),
	}
}

// New wires a Controller, HoldManager and Coordinator over store.
func New(store SeatStore, opts ...Option) *Coordinator {
	holds := NewHoldManager(NewController(store, opts...), opts...)
	return NewCoordinator(store, holds, opts...)
}

func (c *Coordinator) Holds() *HoldManager { return c.holds }

// CreateReservation holds seatIDs for buyerID in input order and commits them
// as one reservation for gameID. It fails with domain.ErrSeatUnavailable,
// domain.ErrSeatNotFound or domain.ErrHoldExpired after releasing every hold
// it acquired.
func (c *Coordinator) CreateReservation(ctx context.Context, buyerID, gameID int64, seatIDs []int64) (domain.Reservation, error) {
	ctx, span := c.tracer.Start(ctx, "inventory.CreateReservation", trace.WithAttributes(
		attribute.Int64("buyer.id", buyerID),
		attribute.Int64("game.id", gameID),
		attribute.Int("seats.count", len(seatIDs)),
	))
	defer span.End()

	res, err := c.createReservation(ctx, buyerID, gameID, seatIDs)
	observability.ReservationOutcomes.WithLabelValues(outcome(err)).Inc()

	log := c.logger.WithField("buyer_id", buyerID).WithField("game_id", gameID)
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("reservation.id", res.ID.String()))
		log.WithField("reservation_id", res.ID.String()).Info("reservation committed")
	case errors.Is(err, domain.ErrStoreUnavailable):
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failure")
		log.WithError(err).Error("reservation failed")
	default:
		span.SetAttributes(attribute.String("reservation.outcome", outcome(err)))
		log.WithError(err).Debug("reservation rejected")
	}
	return res, err
}

func (c *Coordinator) createReservation(ctx context.Context, buyerID, gameID int64, seatIDs []int64) (domain.Reservation, error) {
	if err := validateRequest(buyerID, gameID, seatIDs); err != nil {
		return domain.Reservation{}, err
	}
	if c.catalog != nil {
		ok, err := c.catalog.GameExists(ctx, gameID)
		if err != nil {
			return domain.Reservation{}, errors.Wrapf(err, "look up game %d", gameID)
		}
		if !ok {
			return domain.Reservation{}, errors.Wrapf(domain.ErrGameNotFound, "game %d", gameID)
		}
	}

	tokens := make([]domain.HoldToken, 0, len(seatIDs))
	for _, seatID := range seatIDs {
		result, err := c.holds.acquire(ctx, seatID, buyerID, gameID, c.holds.holdTTL)
		if err != nil {
			c.releaseAll(ctx, tokens)
			return domain.Reservation{}, err
		}
		if !result.Acquired() {
			c.releaseAll(ctx, tokens)
			return domain.Reservation{}, errors.Wrapf(domain.ErrSeatUnavailable, "seat %d", seatID)
		}
		tokens = append(tokens, result.Token)
	}

	reservation := domain.NewReservation(buyerID, gameID, seatIDs, c.now())
	if err := c.commit(ctx, reservation, tokens); err != nil {
		c.releaseAll(ctx, tokens)
		return domain.Reservation{}, err
	}
	return reservation, nil
}

func (c *Coordinator) commit(ctx context.Context, reservation domain.Reservation, tokens []domain.HoldToken) error {
	ctx, span := c.tracer.Start(ctx, "inventory.commit")
	defer span.End()
	timer := prometheus.NewTimer(observability.CommitDuration)
	defer timer.ObserveDuration()

	byID := make(map[int64]domain.HoldToken, len(tokens))
	for _, t := range tokens {
		byID[t.SeatID] = t
	}
	record, err := domain.NewReservationOutbox(reservation, domain.EventReservationCreated, reservation.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "encode reservation event")
	}

	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	defer cancel()

	err = c.store.LockSeats(lockCtx, ascending(reservation.SeatIDs), func(ctx context.Context, unit CommitUnit) error {
		now := c.now()
		locked := unit.Seats()
		for _, seat := range locked {
			token := byID[seat.ID]
			if !token.Matches(seat) || token.Expired(now) {
				return errors.Wrapf(domain.ErrHoldExpired, "seat %d", seat.ID)
			}
		}
		if err := unit.InsertReservation(ctx, reservation); err != nil {
			return err
		}
		for _, seat := range locked {
			next, err := seat.Reserve(reservation.BuyerID, seat.Version, now)
			if err != nil {
				return err
			}
			if err := unit.UpdateSeat(ctx, next, seat.Version); err != nil {
				return err
			}
		}
		return unit.InsertOutbox(ctx, record)
	})
	if errors.Is(err, domain.ErrVersionConflict) {
		// a seat moved between the locked read and the write: its hold is gone
		return errors.Wrap(domain.ErrHoldExpired, err.Error())
	}
	return errors.Wrap(err, "commit reservation")
}

// releaseAll releases tokens in reverse acquisition order. It runs even if
// ctx was canceled so a failed attempt never leaves seats held.
func (c *Coordinator) releaseAll(ctx context.Context, tokens []domain.HoldToken) {
	ctx = context.WithoutCancel(ctx)
	for i := len(tokens) - 1; i >= 0; i-- {
		if err := c.holds.Release(ctx, tokens[i]); err != nil {
			c.logger.WithError(err).WithField("seat_id", tokens[i].SeatID).Error("failed to release hold")
		}
	}
}

// ReleaseHold releases a single hold. It is idempotent.
func (c *Coordinator) ReleaseHold(ctx context.Context, token domain.HoldToken) error {
	return c.holds.Release(ctx, token)
}

// CancelReservation reverts the seats of a committed reservation to AVAILABLE
// and marks it CANCELED. Canceling an already canceled reservation returns it
// unchanged; reservations of other buyers are reported as not found.
func (c *Coordinator) CancelReservation(ctx context.Context, reservationID uuid.UUID, buyerID int64) (domain.Reservation, error) {
	ctx, span := c.tracer.Start(ctx, "inventory.CancelReservation", trace.WithAttributes(
		attribute.String("reservation.id", reservationID.String()),
	))
	defer span.End()

	res, err := c.store.GetReservation(ctx, reservationID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if res.BuyerID != buyerID {
		return domain.Reservation{}, errors.Wrapf(domain.ErrReservationNotFound, "reservation %s", reservationID)
	}
	if res.Status == domain.ReservationCanceled {
		return res, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	defer cancel()

	err = c.store.LockSeats(lockCtx, ascending(res.SeatIDs), func(ctx context.Context, unit CommitUnit) error {
		current, err := unit.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		res = current
		if current.Status == domain.ReservationCanceled {
			return nil
		}
		for _, seat := range unit.Seats() {
			next, err := seat.Cancel(seat.Version)
			if err != nil {
				return err
			}
			if err := unit.UpdateSeat(ctx, next, seat.Version); err != nil {
				return err
			}
		}
		if err := unit.UpdateReservationStatus(ctx, reservationID, domain.ReservationCanceled); err != nil {
			return err
		}
		res.Status = domain.ReservationCanceled
		record, err := domain.NewReservationOutbox(res, domain.EventReservationCanceled, c.now())
		if err != nil {
			return err
		}
		return unit.InsertOutbox(ctx, record)
	})
	if err != nil {
		span.RecordError(err)
		return domain.Reservation{}, errors.Wrapf(err, "cancel reservation %s", reservationID)
	}
	c.logger.WithField("reservation_id", reservationID.String()).Info("reservation canceled")
	return res, nil
}

// GetSeat returns the seat with its status as readers should see it now.
func (c *Coordinator) GetSeat(ctx context.Context, seatID int64) (domain.Seat, error) {
	seat, err := c.store.GetSeat(ctx, seatID)
	if err != nil {
		return domain.Seat{}, err
	}
	seat.Status = seat.EffectiveStatus(c.now())
	return seat, nil
}

func validateRequest(buyerID, gameID int64, seatIDs []int64) error {
	if buyerID <= 0 || gameID <= 0 {
		return errors.Wrap(domain.ErrInvalidInput, "buyer and game ids must be positive")
	}
	if len(seatIDs) == 0 {
		return errors.Wrap(domain.ErrInvalidInput, "no seats requested")
	}
	seen := make(map[int64]struct{}, len(seatIDs))
	for _, id := range seatIDs {
		if id <= 0 {
			return errors.Wrapf(domain.ErrInvalidInput, "invalid seat id %d", id)
		}
		if _, dup := seen[id]; dup {
			return errors.Wrapf(domain.ErrInvalidInput, "seat %d requested twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func ascending(ids []int64) []int64 {
	out := make([]int64, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, domain.ErrHoldExpired):
		return "hold_expired"
	case errors.Is(err, domain.ErrLockTimeout):
		return "lock_timeout"
	case domain.IsConflict(err):
		return "seat_unavailable"
	case domain.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
