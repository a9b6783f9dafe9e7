package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reservations is an optional fast-path dedup in front of the ledger's
// unique constraint. Under concurrent delivery from multiple sources a
// cheap atomic reservation avoids racing writers into the database;
// the SQL constraint remains the source of truth, so a lost Redis key
// is harmless.
type Reservations struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReservations creates a Redis-backed reservation set.
func NewReservations(addr, password string, db int, ttl time.Duration) *Reservations {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Reservations{client: rdb, ttl: ttl}
}

// Reserve atomically claims an idempotency key. Returns false when the
// key is already held by another writer.
func (r *Reservations) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, "finagent:idem:"+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency reserve: %w", err)
	}
	return ok, nil
}

// Release frees a reservation after a failed append so the source can
// legitimately retry.
func (r *Reservations) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, "finagent:idem:"+key).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *Reservations) Close() error { return r.client.Close() }
