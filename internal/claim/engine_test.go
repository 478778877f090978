package claim

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jason-s-yu/tourney/internal/ledger"
	"github.com/jason-s-yu/tourney/internal/poll"
	"github.com/jason-s-yu/tourney/internal/wallet"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	id    = ledger.NewLobbyID("finals")
)

// scriptedReader returns the next lobby in its script on every read and
// repeats the last one once the script runs out.
type scriptedReader struct {
	mu     sync.Mutex
	script []*ledger.Lobby
	reads  int
}

func (r *scriptedReader) GetLobby(_ context.Context, _ ledger.LobbyID) (*ledger.Lobby, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.reads
	if i >= len(r.script) {
		i = len(r.script) - 1
	}
	r.reads++
	l := r.script[i]
	return l, l.Exists()
}

func (r *scriptedReader) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

type staticIDs struct {
	mu   sync.Mutex
	addr common.Address
	ok   bool
	err  error
}

func (s *staticIDs) Lookup(context.Context, string) (common.Address, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr, s.ok, s.err
}

func (s *staticIDs) set(addr common.Address, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr, s.ok = addr, ok
}

func lobby(status ledger.Status, winner common.Address) *ledger.Lobby {
	return &ledger.Lobby{
		ID:           id,
		Host:         alice,
		Stake:        big.NewInt(5),
		Participants: []common.Address{alice, bob},
		Status:       status,
		Winner:       winner,
		TotalPrize:   big.NewInt(10),
	}
}

func newEngine(r LobbyReader, ids IdentityLookup, attempts int) *Engine {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return NewEngine(r, ids, poll.Immediate(attempts), l)
}

func collect(t *testing.T, ch <-chan Result) []Result {
	t.Helper()
	var out []Result
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatal("result channel did not close")
		}
	}
}

func TestNotWinnerIsTerminalInOneCycle(t *testing.T) {
	reader := &scriptedReader{script: []*ledger.Lobby{lobby(ledger.StatusFinished, alice)}}
	e := newEngine(reader, &staticIDs{addr: bob, ok: true}, 15)

	results := collect(t, e.Watch(context.Background(), id, "session-bob"))
	require.Len(t, results, 1)
	assert.Equal(t, StateNotEligible, results[0].State)
	assert.Equal(t, ReasonNotWinner, results[0].Reason)
	assert.True(t, results[0].Final)
	assert.Equal(t, 1, reader.Reads(), "no further polling")
}

func TestNotATournament(t *testing.T) {
	reader := &scriptedReader{script: []*ledger.Lobby{{}}}
	e := newEngine(reader, &staticIDs{addr: bob, ok: true}, 15)

	results := collect(t, e.Watch(context.Background(), id, "s"))
	require.Len(t, results, 1)
	assert.Equal(t, ReasonNotTournament, results[0].Reason)
	assert.True(t, results[0].Final)
}

func TestNoWalletStopsPolling(t *testing.T) {
	reader := &scriptedReader{script: []*ledger.Lobby{lobby(ledger.StatusFinished, alice)}}
	e := newEngine(reader, &staticIDs{}, 15)

	results := collect(t, e.Watch(context.Background(), id, "s"))
	require.Len(t, results, 1)
	assert.Equal(t, ReasonNoWallet, results[0].Reason)
	assert.Equal(t, 1, reader.Reads())
}

func TestWinnerBecomesEligible(t *testing.T) {
	reader := &scriptedReader{script: []*ledger.Lobby{
		lobby(ledger.StatusCreated, common.Address{}),
		lobby(ledger.StatusInProgress, common.Address{}),
		lobby(ledger.StatusFinished, alice),
	}}
	e := newEngine(reader, &staticIDs{addr: alice, ok: true}, 15)

	results := collect(t, e.Watch(context.Background(), id, "session-alice"))
	require.Len(t, results, 3)
	assert.Equal(t, ReasonNotStarted, results[0].Reason)
	assert.Equal(t, ReasonInProgress, results[1].Reason)
	assert.Equal(t, StateEligible, results[2].State)
	assert.Equal(t, int64(10), results[2].Claimable.Int64())
	assert.Equal(t, 3, results[2].Attempt)
}

func TestAlreadyClaimed(t *testing.T) {
	reader := &scriptedReader{script: []*ledger.Lobby{lobby(ledger.StatusClaimed, alice)}}
	e := newEngine(reader, &staticIDs{addr: alice, ok: true}, 15)

	r := e.Check(context.Background(), id, "s")
	assert.Equal(t, ReasonAlreadyClaimed, r.Reason)
	assert.True(t, r.Final)
}

func TestTimeoutIsDistinct(t *testing.T) {
	reader := &scriptedReader{script: []*ledger.Lobby{lobby(ledger.StatusInProgress, common.Address{})}}
	e := newEngine(reader, &staticIDs{addr: alice, ok: true}, 4)

	results := collect(t, e.Watch(context.Background(), id, "s"))
	require.Len(t, results, 5)
	last := results[4]
	assert.Equal(t, ReasonTimedOut, last.Reason)
	assert.NotEqual(t, StateNotEligible, last.State)
	assert.True(t, last.Final)
	assert.Equal(t, 4, reader.Reads())
}

func TestLookupErrorKeepsPolling(t *testing.T) {
	reader := &scriptedReader{script: []*ledger.Lobby{lobby(ledger.StatusFinished, alice)}}
	ids := &staticIDs{err: errors.New("redis: connection refused")}
	e := newEngine(reader, ids, 2)

	results := collect(t, e.Watch(context.Background(), id, "s"))
	require.Len(t, results, 3)
	assert.Equal(t, StateError, results[0].State)
	assert.False(t, results[0].Final)
	assert.Equal(t, ReasonTimedOut, results[2].Reason)
}

func TestWatchCancel(t *testing.T) {
	reader := &scriptedReader{script: []*ledger.Lobby{lobby(ledger.StatusInProgress, common.Address{})}}
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	e := NewEngine(reader, &staticIDs{addr: alice, ok: true}, poll.Policy{MaxAttempts: 100, Interval: time.Hour}, l)

	ctx, cancel := context.WithCancel(context.Background())
	ch := e.Watch(ctx, id, "s")
	first := <-ch
	assert.Equal(t, ReasonInProgress, first.Reason)
	cancel()
	for range ch {
	}
	assert.Equal(t, 1, reader.Reads())
}

func TestFollowRestartsOnLink(t *testing.T) {
	reader := &scriptedReader{script: []*ledger.Lobby{lobby(ledger.StatusFinished, alice)}}
	ids := &staticIDs{}
	e := newEngine(reader, ids, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan wallet.Identity, 1)
	out := e.Follow(ctx, id, "s", changes)

	first := <-out
	assert.Equal(t, ReasonNoWallet, first.Reason)

	ids.set(alice, true)
	changes <- wallet.Identity{SessionID: "s", Address: alice, Linked: true}

	second := <-out
	assert.Equal(t, StateEligible, second.State)

	close(changes)
	for range out {
	}
}
