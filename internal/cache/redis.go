// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLobbyIndexKey is the Redis key holding the public lobby snapshot.
var DefaultLobbyIndexKey = "tourney:public_lobbies"

// Connect opens a Redis client and pings it.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// LobbyIndex stores a JSON snapshot under one key with a TTL, so every server
// instance can serve the lobby browser without reading the ledger.
type LobbyIndex struct {
	rdb redis.Cmdable
	key string
	ttl time.Duration
}

// NewLobbyIndex returns an index at key. A zero ttl keeps the snapshot until
// it is overwritten.
func NewLobbyIndex(rdb redis.Cmdable, key string, ttl time.Duration) *LobbyIndex {
	if key == "" {
		key = DefaultLobbyIndexKey
	}
	return &LobbyIndex{rdb: rdb, key: key, ttl: ttl}
}

// Put serializes v to JSON and stores it.
func (x *LobbyIndex) Put(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal lobby snapshot: %w", err)
	}
	if err := x.rdb.Set(ctx, x.key, data, x.ttl).Err(); err != nil {
		return fmt.Errorf("failed to SET '%s': %w", x.key, err)
	}
	return nil
}

// Get loads the snapshot into v. It reports false when none is stored.
func (x *LobbyIndex) Get(ctx context.Context, v interface{}) (bool, error) {
	data, err := x.rdb.Get(ctx, x.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to GET '%s': %w", x.key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal lobby snapshot: %w", err)
	}
	return true, nil
}
