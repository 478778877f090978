// internal/wallet/storage_redis.go
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding all wallet links.
const DefaultRedisKey = "tourney:wallet_links"

// RedisStorage keeps links in a single Redis hash keyed by session id.
type RedisStorage struct {
	rdb redis.Cmdable
	key string
}

// NewRedisStorage stores links under key (DefaultRedisKey when empty).
func NewRedisStorage(rdb redis.Cmdable, key string) *RedisStorage {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStorage{rdb: rdb, key: key}
}

// Get implements Storage.
func (s *RedisStorage) Get(ctx context.Context, sessionID string) (Link, bool, error) {
	raw, err := s.rdb.HGet(ctx, s.key, sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Link{}, false, nil
	}
	if err != nil {
		return Link{}, false, fmt.Errorf("redis HGET %s: %w", s.key, err)
	}
	var rec fileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Link{}, false, fmt.Errorf("decode wallet link: %w", err)
	}
	return Link{Address: common.HexToAddress(rec.Address), UpdatedAt: time.UnixMilli(rec.UpdatedAt)}, true, nil
}

// Put implements Storage.
func (s *RedisStorage) Put(ctx context.Context, sessionID string, link Link) error {
	data, err := json.Marshal(fileRecord{Address: link.Address.Hex(), UpdatedAt: link.UpdatedAt.UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode wallet link: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.key, sessionID, data).Err(); err != nil {
		return fmt.Errorf("redis HSET %s: %w", s.key, err)
	}
	return nil
}

// Delete implements Storage.
func (s *RedisStorage) Delete(ctx context.Context, sessionID string) error {
	if err := s.rdb.HDel(ctx, s.key, sessionID).Err(); err != nil {
		return fmt.Errorf("redis HDEL %s: %w", s.key, err)
	}
	return nil
}
