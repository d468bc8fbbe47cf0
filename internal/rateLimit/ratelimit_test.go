package rateLimit_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-inventory/internal/observability"
	"github.com/robertarktes/seat-inventory/internal/rateLimit"
)

type counter struct {
	n   map[string]int64
	err error
}

func (c *counter) IncrWindow(ctx context.Context, key string, period time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.n[key]++
	return c.n[key], nil
}

func TestRateLimiter_Allow(t *testing.T) {
	c := &counter{n: map[string]int64{}}
	rl := rateLimit.NewRateLimiter(c, observability.NewLoggerWithOutput(io.Discard))

	for i := 0; i < 3; i++ {
		if !rl.Allow(context.Background(), "buyer:1", 3, time.Minute) {
			t.Fatalf("request %d rejected", i)
		}
	}
	if rl.Allow(context.Background(), "buyer:1", 3, time.Minute) {
		t.Error("expected fourth request to be rejected")
	}
	if !rl.Allow(context.Background(), "buyer:2", 3, time.Minute) {
		t.Error("limits must be per key")
	}
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	c := &counter{err: errors.New("dial tcp: connection refused")}
	rl := rateLimit.NewRateLimiter(c, observability.NewLoggerWithOutput(io.Discard))
	if !rl.Allow(context.Background(), "buyer:1", 1, time.Minute) {
		t.Error("expected fail open")
	}
}
