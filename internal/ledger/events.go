// internal/ledger/events.go
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jason-s-yu/tourney/internal/poll"
	"github.com/sirupsen/logrus"
)

// Event names emitted by the lobby contract.
const (
	EventGameStarted    = "GameStarted"
	EventWinnerDeclared = "WinnerDeclared"
	EventPrizeClaimed   = "PrizeClaimed"
)

// Event is a decoded contract log.
type Event struct {
	Name        string         `json:"name"`
	LobbyID     LobbyID        `json:"lobbyId"`
	Winner      common.Address `json:"winner,omitempty"`
	Amount      *big.Int       `json:"amount,omitempty"`
	BlockNumber uint64         `json:"blockNumber"`
	TxHash      common.Hash    `json:"txHash"`
}

// DecodeEvent decodes a lobby contract log.
func DecodeEvent(lg types.Log) (Event, error) {
	if len(lg.Topics) == 0 {
		return Event{}, fmt.Errorf("log without topics")
	}
	ev, err := lobbyABI.EventByID(lg.Topics[0])
	if err != nil {
		return Event{}, fmt.Errorf("unknown event %s: %w", lg.Topics[0].Hex(), err)
	}
	out := Event{Name: ev.Name, BlockNumber: lg.BlockNumber, TxHash: lg.TxHash}
	if len(lg.Topics) > 1 {
		out.LobbyID = LobbyID(lg.Topics[1])
	}
	if len(lg.Topics) > 2 {
		out.Winner = common.BytesToAddress(lg.Topics[2].Bytes())
	}
	if ev.Name == EventPrizeClaimed {
		values, err := ev.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil {
			return Event{}, fmt.Errorf("unpack %s: %w", ev.Name, err)
		}
		if len(values) == 1 {
			out.Amount, _ = values[0].(*big.Int)
		}
	}
	return out, nil
}

// Log paging defaults. RPC providers cap the block range of one eth_getLogs.
const (
	DefaultLogChunk      uint64 = 1000
	DefaultEventLookback uint64 = 5000
)

// EventFilter narrows a stream to some events and lobbies. Empty fields match all.
type EventFilter struct {
	Names   []string
	Lobbies []LobbyID
	// FromBlock is the first block read. When it is zero and Lookback is set,
	// the stream starts Lookback blocks below the head seen on its first poll.
	FromBlock uint64
	Lookback  uint64
	// ChunkSize bounds the block range of one log query (DefaultLogChunk when zero).
	ChunkSize uint64
}

func (f EventFilter) query(contract common.Address, from, to uint64) ethereum.FilterQuery {
	names := f.Names
	if len(names) == 0 {
		names = []string{EventGameStarted, EventWinnerDeclared, EventPrizeClaimed}
	}
	sigs := make([]common.Hash, 0, len(names))
	for _, n := range names {
		if ev, ok := lobbyABI.Events[n]; ok {
			sigs = append(sigs, ev.ID)
		}
	}
	topics := [][]common.Hash{sigs}
	if len(f.Lobbies) > 0 {
		ids := make([]common.Hash, len(f.Lobbies))
		for i, id := range f.Lobbies {
			ids[i] = common.Hash(id)
		}
		topics = append(topics, ids)
	}
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{contract},
		Topics:    topics,
	}
}

// EventStream delivers decoded events until closed.
type EventStream struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Events returns the channel of decoded events. It is closed when the stream stops.
func (s *EventStream) Events() <-chan Event {
	return s.events
}

// Err returns the error that stopped the stream, if any.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream and waits for the loop to exit. Calls in flight are
// allowed to finish and their results are dropped.
func (s *EventStream) Close() {
	s.cancel()
	<-s.done
}

// Watch polls the contract's logs and streams decoded events. The loop runs
// until ctx is cancelled or Close is called; policy.MaxAttempts bounds
// consecutive failed polls before the stream gives up.
func Watch(ctx context.Context, backend Backend, contract common.Address, f EventFilter, p poll.Policy, logger logrus.FieldLogger) *EventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &EventStream{
		events: make(chan Event, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("component", "event_stream")

	go func() {
		defer close(s.done)
		defer close(s.events)

		next := f.FromBlock
		anchored := f.FromBlock != 0 || f.Lookback == 0
		chunk := f.ChunkSize
		if chunk == 0 {
			chunk = DefaultLogChunk
		}
		failures := 0
		for {
			head, err := backend.BlockNumber(ctx)
			if err == nil && !anchored {
				if head > f.Lookback {
					next = head - f.Lookback
				}
				anchored = true
			}
			for err == nil && next <= head {
				to := next + chunk - 1
				if to > head {
					to = head
				}
				var logs []types.Log
				logs, err = backend.FilterLogs(ctx, f.query(contract, next, to))
				if err != nil {
					break
				}
				for _, lg := range logs {
					ev, derr := DecodeEvent(lg)
					if derr != nil {
						log.WithError(derr).Debug("skipping undecodable log")
						continue
					}
					select {
					case s.events <- ev:
					case <-ctx.Done():
						return
					}
				}
				next = to + 1
			}
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				failures++
				log.WithFields(logrus.Fields{"error": err, "failures": failures}).Warn("log poll failed")
				if p.MaxAttempts > 0 && failures >= p.MaxAttempts {
					s.mu.Lock()
					s.err = err
					s.mu.Unlock()
					return
				}
			} else {
				failures = 0
			}
			if poll.Sleep(ctx, p.Delay(1)) != nil {
				return
			}
		}
	}()
	return s
}

// Merge fans several streams into one channel. The channel closes once every
// input has closed.
func Merge(ctx context.Context, streams ...*EventStream) <-chan Event {
	out := make(chan Event)
	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func(s *EventStream) {
			defer wg.Done()
			for ev := range s.Events() {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(s)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
