package inventory

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/robertarktes/seat-inventory/internal/domain"
	"github.com/robertarktes/seat-inventory/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Reaper releases expired holds ahead of the next hold attempt so that seat
// listings stop showing them as taken. Correctness does not depend on it:
// TryHold already overwrites expired holds.
type Reaper struct {
	store     SeatStore
	holds     *HoldManager
	publisher EventPublisher
	now       func() time.Time
	batch     int
	workers   int
	logger    observability.Logger
}

func NewReaper(store SeatStore, holds *HoldManager, opts ...Option) *Reaper {
	o := applyOptions(opts)
	return &Reaper{
		store:     store,
		holds:     holds,
		publisher: o.publisher,
		now:       o.now,
		batch:     o.reapBatch,
		workers:   o.reapWorkers,
		logger:    o.logger,
	}
}

func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				r.logger.WithError(err).Error("failed to sweep expired holds")
				continue
			}
			if n > 0 {
				r.logger.WithField("released", n).Info("released expired holds")
			}
		}
	}
}

// Sweep releases one batch of expired holds and returns how many it
// released. Holds that changed since they were listed are left alone.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	seats, err := r.store.ListExpiredHolds(ctx, now, r.batch)
	if err != nil {
		return 0, err
	}

	var released atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, seat := range seats {
		seat := seat
		g.Go(func() error {
			token := domain.NewHoldToken(seat)
			ok, err := r.holds.release(gctx, token)
			if err != nil || !ok {
				return err
			}
			released.Add(1)
			observability.HoldsReaped.Inc()
			r.announce(gctx, token)
			return nil
		})
	}
	err = g.Wait()
	return int(released.Load()), err
}

func (r *Reaper) announce(ctx context.Context, token domain.HoldToken) {
	if r.publisher == nil {
		return
	}
	payload, err := json.Marshal(domain.HoldExpiredEvent{
		SeatID:    token.SeatID,
		GameID:    token.GameID,
		BuyerID:   token.BuyerID,
		Version:   token.Version,
		ExpiredAt: token.ExpiresAt,
	})
	if err != nil {
		return
	}
	if err := r.publisher.PublishEvent(ctx, domain.EventHoldExpired, payload); err != nil {
		observability.RabbitPublishFailures.Inc()
		r.logger.WithError(err).WithField("seat_id", token.SeatID).Warn("failed to publish hold.expired")
	}
}
