package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jason-s-yu/tourney/internal/cache/cachetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStorage(t *testing.T) {
	rdb := cachetest.New()
	s := NewRedisStorage(rdb, "")
	ctx := context.Background()
	addr := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	at := time.UnixMilli(1_700_000_000_123)

	_, ok, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "s1", Link{Address: addr, UpdatedAt: at}))
	link, ok, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, addr, link.Address)
	assert.True(t, at.Equal(link.UpdatedAt))

	require.NoError(t, s.Delete(ctx, "s1"))
	_, ok, err = s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStorageBackedStore(t *testing.T) {
	rdb := cachetest.New()
	store := NewStore(NewRedisStorage(rdb, "links"))
	ctx := context.Background()

	bound, err := store.Bind(ctx, "s1", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", bound.Hex())

	rdb.Fail(errors.New("READONLY"))
	_, err = store.Bind(ctx, "s2", bound.Hex())
	assert.ErrorIs(t, err, ErrPersist)
}
