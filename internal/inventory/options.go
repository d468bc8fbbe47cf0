package inventory

import (
	"io"
	"time"

	"github.com/robertarktes/seat-inventory/internal/config"
	"github.com/robertarktes/seat-inventory/internal/observability"
)

type options struct {
	now         func() time.Time
	logger      observability.Logger
	holdTTL     time.Duration
	selectTTL   time.Duration
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	lockTimeout time.Duration
	catalog     GameCatalog
	publisher   EventPublisher
	reapBatch   int
	reapWorkers int
}

type Option func(*options)

func defaultOptions() options {
	return options{
		now:         time.Now,
		logger:      observability.NewLoggerWithOutput(io.Discard),
		holdTTL:     config.DefaultHoldTTL,
		selectTTL:   config.DefaultSelectTTL,
		maxAttempts: config.DefaultHoldMaxAttempts,
		backoffBase: config.DefaultHoldBackoffBase,
		backoffMax:  config.DefaultHoldBackoffMax,
		lockTimeout: config.DefaultCommitLockTimeout,
		reapBatch:   100,
		reapWorkers: 8,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithConfig applies every tunable from cfg.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		WithHoldTTL(cfg.HoldTTL)(o)
		WithSelectTTL(cfg.SelectTTL)(o)
		WithRetry(cfg.HoldMaxAttempts, cfg.HoldBackoffBase, cfg.HoldBackoffMax)(o)
		WithLockTimeout(cfg.CommitLockTimeout)(o)
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithHoldTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.holdTTL = d
		}
	}
}

// WithSelectTTL sets the lifetime of holds taken while a buyer is still
// choosing seats.
func WithSelectTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.selectTTL = d
		}
	}
}

// WithRetry bounds optimistic seat writes to maxAttempts tries with
// randomized exponential backoff between base and max. A zero base disables
// sleeping between attempts.
func WithRetry(maxAttempts int, base, max time.Duration) Option {
	return func(o *options) {
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
		if base >= 0 {
			o.backoffBase = base
		}
		if max >= base {
			o.backoffMax = max
		}
	}
}

func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

func WithCatalog(catalog GameCatalog) Option {
	return func(o *options) { o.catalog = catalog }
}

func WithPublisher(publisher EventPublisher) Option {
	return func(o *options) { o.publisher = publisher }
}

func WithReapLimits(batch, workers int) Option {
	return func(o *options) {
		if batch > 0 {
			o.reapBatch = batch
		}
		if workers > 0 {
			o.reapWorkers = workers
		}
	}
}
