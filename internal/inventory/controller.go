package inventory

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/observability"
)

// Transition computes the next state of a seat from its current state. It is
// called again with a fresh read after every lost conditional write.
type Transition func(current domain.Seat) (domain.Seat, error)

// errVersionMoved signals a lost compare-and-swap; it never leaves Mutate.
var errVersionMoved = errors.New("seat version moved")

// Controller applies single-seat transitions optimistically: read, compute,
// conditional write, and on a lost write re-read and retry with jittered
// backoff until the attempt budget is spent.
type Controller struct {
	store       SeatStore
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	logger      observability.Logger
}

func NewController(store SeatStore, opts ...Option) *Controller {
	o := applyOptions(opts)
	return &Controller{
		store:       store,
		maxAttempts: o.maxAttempts,
		backoffBase: o.backoffBase,
		backoffMax:  o.backoffMax,
		logger:      o.logger,
	}
}

// Mutate runs transition against seatID and returns the written seat.
// A lost write or a serialization failure of the write is retried; other
// errors from the store or from transition are returned as is. Exhausting the
// attempt budget yields domain.ErrContention.
func (c *Controller) Mutate(ctx context.Context, seatID int64, transition Transition) (domain.Seat, error) {
	var written domain.Seat
	attempts := 0

	op := func() error {
		attempts++
		current, err := c.store.GetSeat(ctx, seatID)
		if err != nil {
			return backoff.Permanent(err)
		}
		next, err := transition(current)
		if err != nil {
			return backoff.Permanent(err)
		}
		if next.Version <= current.Version {
			return backoff.Permanent(errors.Wrapf(domain.ErrInvalidInput, "seat %d: version must increase", seatID))
		}
		ok, err := c.store.CompareAndSwapSeat(ctx, next, current.Version)
		if errors.Is(err, domain.ErrSerializationFailure) {
			observability.SeatWriteRetries.Inc()
			return errVersionMoved
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			observability.SeatWriteRetries.Inc()
			return errVersionMoved
		}
		written = next
		return nil
	}

	err := backoff.Retry(op, c.newBackOff(ctx))
	switch {
	case err == nil:
		return written, nil
	case errors.Is(err, errVersionMoved):
		c.logger.WithField("seat_id", seatID).WithField("attempts", attempts).Debug("seat write retries exhausted")
		return domain.Seat{}, errors.Wrapf(domain.ErrContention, "seat %d after %d attempts", seatID, attempts)
	default:
		return domain.Seat{}, err
	}
}

func (c *Controller) newBackOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if c.backoffBase > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = c.backoffBase
		exp.MaxInterval = c.backoffMax
		exp.RandomizationFactor = 0.5
		exp.Multiplier = 2
		exp.MaxElapsedTime = 0
		b = exp
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
}
