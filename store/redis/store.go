// Package redis implements store.Store on Redis.
//
// Endpoints are JSON strings indexed by owner. Delivery logs are hashes
// holding the JSON document next to its version and status so that the
// conditional update, the status counters and the retry index change in one
// Lua script.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	courier "github.com/xraph/courier"
	courierstore "github.com/xraph/courier/store"
)

// compile-time interface check
var _ courierstore.Store = (*Store)(nil)

// Store implements store.Store using Redis.
type Store struct {
	kv  *kv.Store
	rdb goredis.UniversalClient
}

// New creates a store on a go-redis client. Close closes the client.
func New(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// NewFromKV creates a store sharing the connection of a Grove KV store.
func NewFromKV(store *kv.Store) *Store {
	return &Store{
		kv:  store,
		rdb: redisdriver.UnwrapClient(store),
	}
}

// Migrate loads the Lua scripts. Redis needs no schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, script := range []*goredis.Script{createLogScript, updateLogScript} {
		if err := script.Load(ctx, s.rdb).Err(); err != nil {
			return fmt.Errorf("%w: load script: %w", courier.ErrMigrationFailed, err)
		}
	}
	return nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.kv != nil {
		return s.kv.Ping(ctx)
	}
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if s.kv != nil {
		return s.kv.Close()
	}
	return s.rdb.Close()
}

// score converts a time to a sorted set score in unix milliseconds.
func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// isRedisNil checks if an error is a Redis nil (key not found).
func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}
