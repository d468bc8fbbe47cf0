// Package idempotency replays stored responses for repeated requests that
// carry the same Idempotency-Key.
package idempotency

import (
	"context"
	"strconv"
	"time"

	redisadapter "github.com/robertarktes/seat-inventory/internal/adapters/redis"
)

// Backend stores responses; the Redis adapter satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
}

type Idempotency struct {
	backend Backend
	ttl     time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl}
}

type Response struct {
	Status int
	Result []byte
}

// Key scopes a client key to the caller so buyers cannot replay each
// other's responses.
func Key(buyerID int64, route, clientKey string) string {
	return route + ":" + strconv.FormatInt(buyerID, 10) + ":" + clientKey
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.backend.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, Result: stored.Result}, nil
}

// Set stores resp for the configured TTL. Server errors and responses without
// a status are not stored so a retry can succeed.
func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	if resp.Status == 0 || resp.Status >= 500 {
		return nil
	}
	return i.backend.Set(ctx, key, redisadapter.IdempResponse{Status: resp.Status, Result: resp.Result}, i.ttl)
}
