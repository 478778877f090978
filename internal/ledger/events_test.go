package ledger_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jason-s-yu/tourney/internal/ledger"
	"github.com/jason-s-yu/tourney/internal/ledger/ledgertest"
	"github.com/jason-s-yu/tourney/internal/poll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchStreamsLobbyEvents(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	chain := ledgertest.NewChain(crypto.PubkeyToAddress(serverKey.PublicKey))
	srv := ledger.NewSubmitter(chain, ledgertest.Contract, serverKey,
		ledger.WithRetryPolicy(poll.Immediate(1)), ledger.WithLogger(quietLogger()))

	id := ledger.NewLobbyID("finals")
	other := ledger.NewLobbyID("other")
	chain.Seed(id, alice, big.NewInt(3), ledger.StatusCreated, alice, bob)
	chain.Seed(other, bob, big.NewInt(3), ledger.StatusCreated, bob, alice)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream := ledger.Watch(ctx, chain, ledgertest.Contract,
		ledger.EventFilter{Lobbies: []ledger.LobbyID{id}},
		poll.Policy{MaxAttempts: 3, Interval: 5 * time.Millisecond}, quietLogger())
	defer stream.Close()

	_, err = srv.Submit(ctx, ledger.MethodStartGame, nil, other.Key())
	require.NoError(t, err)
	_, err = srv.Submit(ctx, ledger.MethodStartGame, nil, id.Key())
	require.NoError(t, err)
	_, err = srv.Submit(ctx, ledger.MethodDeclareWinner, nil, id.Key(), bob)
	require.NoError(t, err)

	var got []ledger.Event
	for len(got) < 2 {
		select {
		case ev := <-stream.Events():
			got = append(got, ev)
		case <-ctx.Done():
			t.Fatalf("timed out, got %d events", len(got))
		}
	}
	assert.Equal(t, ledger.EventGameStarted, got[0].Name)
	assert.Equal(t, id, got[0].LobbyID)
	assert.Equal(t, ledger.EventWinnerDeclared, got[1].Name)
	assert.Equal(t, bob, got[1].Winner)
}

func nextEvent(t *testing.T, ctx context.Context, stream *ledger.EventStream) ledger.Event {
	t.Helper()
	select {
	case ev, ok := <-stream.Events():
		require.True(t, ok, "stream stopped: %v", stream.Err())
		return ev
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
		return ledger.Event{}
	}
}

func TestWatchPagesCappedLogRanges(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	chain := ledgertest.NewChain(crypto.PubkeyToAddress(serverKey.PublicKey))
	chain.LimitLogRange(10)
	srv := ledger.NewSubmitter(chain, ledgertest.Contract, serverKey,
		ledger.WithRetryPolicy(poll.Immediate(1)), ledger.WithLogger(quietLogger()))
	id := ledger.NewLobbyID("finals")
	chain.Seed(id, alice, big.NewInt(3), ledger.StatusCreated, alice, bob)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	chain.Mine(95)
	_, err = srv.Submit(ctx, ledger.MethodStartGame, nil, id.Key())
	require.NoError(t, err)

	stream := ledger.Watch(ctx, chain, ledgertest.Contract,
		ledger.EventFilter{Lobbies: []ledger.LobbyID{id}, ChunkSize: 10},
		poll.Policy{MaxAttempts: 2, Interval: 5 * time.Millisecond}, quietLogger())
	defer stream.Close()

	ev := nextEvent(t, ctx, stream)
	assert.Equal(t, ledger.EventGameStarted, ev.Name)
	assert.Equal(t, uint64(97), ev.BlockNumber)
	assert.GreaterOrEqual(t, chain.Calls("eth_getLogs"), 10)
	assert.NoError(t, stream.Err())
}

func TestWatchLookbackStartsNearHead(t *testing.T) {
	serverKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	chain := ledgertest.NewChain(crypto.PubkeyToAddress(serverKey.PublicKey))
	chain.LimitLogRange(20)
	srv := ledger.NewSubmitter(chain, ledgertest.Contract, serverKey,
		ledger.WithRetryPolicy(poll.Immediate(1)), ledger.WithLogger(quietLogger()))
	id := ledger.NewLobbyID("finals")
	chain.Seed(id, alice, big.NewInt(3), ledger.StatusCreated, alice, bob)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = srv.Submit(ctx, ledger.MethodStartGame, nil, id.Key())
	require.NoError(t, err)
	chain.Mine(500)

	stream := ledger.Watch(ctx, chain, ledgertest.Contract,
		ledger.EventFilter{Lobbies: []ledger.LobbyID{id}, Lookback: 10},
		poll.Policy{MaxAttempts: 2, Interval: 5 * time.Millisecond}, quietLogger())
	defer stream.Close()

	_, err = srv.Submit(ctx, ledger.MethodDeclareWinner, nil, id.Key(), bob)
	require.NoError(t, err)

	ev := nextEvent(t, ctx, stream)
	assert.Equal(t, ledger.EventWinnerDeclared, ev.Name, "events older than the lookback are not replayed")
	assert.NoError(t, stream.Err())
}

func TestWatchCloseStopsStream(t *testing.T) {
	chain := ledgertest.NewChain(server)
	stream := ledger.Watch(context.Background(), chain, ledgertest.Contract, ledger.EventFilter{},
		poll.Policy{Interval: time.Millisecond}, quietLogger())
	stream.Close()

	_, open := <-stream.Events()
	assert.False(t, open)
	assert.NoError(t, stream.Err())
}

func TestWatchGivesUpAfterFailures(t *testing.T) {
	chain := ledgertest.NewChain(server)
	chain.SetDown(true)
	stream := ledger.Watch(context.Background(), chain, ledgertest.Contract, ledger.EventFilter{},
		poll.Policy{MaxAttempts: 2, Interval: time.Millisecond}, quietLogger())

	for range stream.Events() {
	}
	assert.ErrorIs(t, stream.Err(), ledgertest.ErrTransport)
}

func TestDecodePrizeClaimed(t *testing.T) {
	serverKey, _ := crypto.GenerateKey()
	winnerKey, _ := crypto.GenerateKey()
	winner := crypto.PubkeyToAddress(winnerKey.PublicKey)
	chain := ledgertest.NewChain(crypto.PubkeyToAddress(serverKey.PublicKey))
	id := ledger.NewLobbyID("pot")
	chain.Seed(id, winner, big.NewInt(7), ledger.StatusFinished, winner, alice)
	chain.SetWinner(id, winner)

	player := ledger.NewSubmitter(chain, ledgertest.Contract, winnerKey,
		ledger.WithRetryPolicy(poll.Immediate(1)), ledger.WithLogger(quietLogger()))
	hash, err := player.Submit(context.Background(), ledger.MethodClaimPrize, nil, id.Key())
	require.NoError(t, err)
	receipt, err := ledger.WaitMined(context.Background(), chain, hash, poll.Immediate(1))
	require.NoError(t, err)
	require.Len(t, receipt.Logs, 1)

	ev, err := ledger.DecodeEvent(*receipt.Logs[0])
	require.NoError(t, err)
	assert.Equal(t, ledger.EventPrizeClaimed, ev.Name)
	assert.Equal(t, winner, ev.Winner)
	assert.Equal(t, int64(14), ev.Amount.Int64())
	assert.Equal(t, common.Hash(id), common.Hash(ev.LobbyID))
}
