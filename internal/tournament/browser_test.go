package tournament_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jason-s-yu/tourney/internal/cache"
	"github.com/jason-s-yu/tourney/internal/cache/cachetest"
	"github.com/jason-s-yu/tourney/internal/ledger"
	"github.com/jason-s-yu/tourney/internal/ledger/ledgertest"
	"github.com/jason-s-yu/tourney/internal/tournament"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var host = common.HexToAddress("0xa11ce00000000000000000000000000000000001")

func TestBrowserListIsolatesFailures(t *testing.T) {
	chain := ledgertest.NewChain(common.Address{})
	reader := ledger.NewReader(chain, ledgertest.Contract, quietLogger())
	for _, name := range []string{"one", "two", "three"} {
		chain.Seed(ledger.NewLobbyID(name), host, big.NewInt(1), ledger.StatusCreated)
	}
	chain.FailReads(ledger.NewLobbyID("two"))

	b := tournament.NewBrowser(reader, nil, quietLogger())
	listing, err := b.List(context.Background())
	require.NoError(t, err)
	require.Len(t, listing.Lobbies, 2)
	assert.Equal(t, "one", listing.Lobbies[0].ID.String())
	assert.Equal(t, "three", listing.Lobbies[1].ID.String())
	assert.Equal(t, []string{"two"}, listing.Failed)
	assert.Equal(t, ledger.NativeAsset, *listing.Lobbies[0].Asset)
	assert.Equal(t, 1, chain.Calls("batch"))
}

func TestBrowserListTransportDown(t *testing.T) {
	chain := ledgertest.NewChain(common.Address{})
	chain.SetDown(true)
	b := tournament.NewBrowser(ledger.NewReader(chain, ledgertest.Contract, quietLogger()), nil, quietLogger())

	_, err := b.List(context.Background())
	assert.Error(t, err)
}

func TestBrowserSnapshotUsesIndex(t *testing.T) {
	chain := ledgertest.NewChain(common.Address{})
	reader := ledger.NewReader(chain, ledgertest.Contract, quietLogger())
	chain.Seed(ledger.NewLobbyID("abc123"), host, big.NewInt(3), ledger.StatusInProgress)

	rdb := cachetest.New()
	index := cache.NewLobbyIndex(rdb, "", time.Minute)
	b := tournament.NewBrowser(reader, index, quietLogger())
	ctx := context.Background()

	_, err := b.Refresh(ctx)
	require.NoError(t, err)
	batches := chain.Calls("batch")

	// A second instance sharing the index serves without touching the ledger.
	other := tournament.NewBrowser(reader, index, quietLogger())
	listing, err := other.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, listing.Lobbies, 1)
	l := listing.Lobbies[0]
	assert.Equal(t, ledger.NewLobbyID("abc123"), l.ID)
	assert.Equal(t, ledger.StatusInProgress, l.Status)
	assert.Equal(t, int64(3), l.Stake.Int64())
	assert.Equal(t, batches, chain.Calls("batch"))
}

func TestBrowserSnapshotRefreshesWhenEmpty(t *testing.T) {
	chain := ledgertest.NewChain(common.Address{})
	reader := ledger.NewReader(chain, ledgertest.Contract, quietLogger())
	chain.Seed(ledger.NewLobbyID("abc123"), host, big.NewInt(3), ledger.StatusCreated)

	b := tournament.NewBrowser(reader, nil, quietLogger())
	listing, err := b.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, listing.Lobbies, 1)

	again, err := b.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, listing, again)
	assert.Equal(t, 1, chain.Calls("batch"))
}
