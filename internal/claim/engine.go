// internal/claim/engine.go
package claim

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jason-s-yu/tourney/internal/ledger"
	"github.com/jason-s-yu/tourney/internal/poll"
	"github.com/jason-s-yu/tourney/internal/wallet"
	"github.com/sirupsen/logrus"
)

// State is the coarse outcome of an eligibility check.
type State string

const (
	StateChecking    State = "checking"
	StateEligible    State = "eligible"
	StateNotEligible State = "not_eligible"
	StateError       State = "error"
)

// Reason refines State for display.
type Reason string

const (
	ReasonNotTournament  Reason = "not_tournament"
	ReasonNoWallet       Reason = "no_wallet"
	ReasonNotStarted     Reason = "not_started"
	ReasonInProgress     Reason = "in_progress"
	ReasonAwaitingResult Reason = "awaiting_result"
	ReasonAlreadyClaimed Reason = "already_claimed"
	ReasonWinner         Reason = "winner"
	ReasonNotWinner      Reason = "not_winner"
	ReasonTimedOut       Reason = "timed_out"
	ReasonLookupFailed   Reason = "lookup_failed"
)

var messages = map[Reason]string{
	ReasonNotTournament:  "This was a regular game, so there is no prize to claim.",
	ReasonNoWallet:       "Connect your wallet to check for tournament winnings.",
	ReasonNotStarted:     "The tournament has not started on-chain yet.",
	ReasonInProgress:     "Waiting for the result to be recorded on-chain...",
	ReasonAwaitingResult: "The result is being finalized on-chain...",
	ReasonAlreadyClaimed: "The prize for this tournament has already been claimed.",
	ReasonWinner:         "You won! Your prize is ready to claim.",
	ReasonNotWinner:      "You did not win this tournament, so there is no prize to claim.",
	ReasonTimedOut:       "Could not confirm the result yet. Check the ledger later or try again.",
	ReasonLookupFailed:   "Could not read your wallet link. Retrying...",
}

// Result is one evaluation of claim eligibility.
type Result struct {
	State     State          `json:"state"`
	Reason    Reason         `json:"reason"`
	Message   string         `json:"message"`
	Final     bool           `json:"final"`
	Attempt   int            `json:"attempt"`
	Address   common.Address `json:"address,omitempty"`
	Claimable *big.Int       `json:"claimable,omitempty"`
	Lobby     *ledger.Lobby  `json:"lobby,omitempty"`
}

func result(state State, reason Reason, final bool) Result {
	return Result{State: state, Reason: reason, Message: messages[reason], Final: final}
}

// LobbyReader reads a lobby, reporting false when it does not exist.
type LobbyReader interface {
	GetLobby(ctx context.Context, id ledger.LobbyID) (*ledger.Lobby, bool)
}

// IdentityLookup resolves the wallet bound to a session.
type IdentityLookup interface {
	Lookup(ctx context.Context, sessionID string) (common.Address, bool, error)
}

// Engine decides whether a session's wallet may claim a lobby's prize.
// Nothing is cached between checks.
type Engine struct {
	reader LobbyReader
	ids    IdentityLookup
	policy poll.Policy
	log    logrus.FieldLogger
}

// NewEngine returns an Engine polling with p.
func NewEngine(reader LobbyReader, ids IdentityLookup, p poll.Policy, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{reader: reader, ids: ids, policy: p, log: logger.WithField("component", "claim_engine")}
}

// Check evaluates eligibility once.
func (e *Engine) Check(ctx context.Context, id ledger.LobbyID, sessionID string) Result {
	lobby, ok := e.reader.GetLobby(ctx, id)
	if !ok {
		return result(StateNotEligible, ReasonNotTournament, true)
	}

	addr, linked, err := e.ids.Lookup(ctx, sessionID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"session": sessionID, "error": err}).Warn("wallet lookup failed")
		r := result(StateError, ReasonLookupFailed, false)
		r.Lobby = lobby
		return r
	}
	if !linked {
		r := result(StateNotEligible, ReasonNoWallet, true)
		r.Lobby = lobby
		return r
	}

	var r Result
	switch lobby.Status {
	case ledger.StatusCreated:
		r = result(StateChecking, ReasonNotStarted, false)
	case ledger.StatusInProgress:
		r = result(StateChecking, ReasonInProgress, false)
	case ledger.StatusClaimed:
		r = result(StateNotEligible, ReasonAlreadyClaimed, true)
	case ledger.StatusFinished:
		switch {
		case !lobby.HasWinner():
			r = result(StateChecking, ReasonAwaitingResult, false)
		case lobby.Winner != addr:
			r = result(StateNotEligible, ReasonNotWinner, true)
		case lobby.Claimable().Sign() == 0:
			r = result(StateChecking, ReasonAwaitingResult, false)
		default:
			r = result(StateEligible, ReasonWinner, true)
			r.Claimable = lobby.Claimable()
		}
	default:
		r = result(StateChecking, ReasonAwaitingResult, false)
	}
	r.Address = addr
	r.Lobby = lobby
	return r
}

// Watch re-checks eligibility until a final result or until the policy's
// attempts are spent, in which case a final timed-out result is emitted. The
// channel closes when the loop ends. Cancelling ctx stops the loop; a check
// in flight finishes and its result is dropped.
func (e *Engine) Watch(ctx context.Context, id ledger.LobbyID, sessionID string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		emit := func(r Result) bool {
			select {
			case out <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			last    Result
			attempt int
		)
		ok, err := poll.Until(ctx, e.policy, func(ctx context.Context) (bool, error) {
			attempt++
			last = e.Check(ctx, id, sessionID)
			last.Attempt = attempt
			if ctx.Err() != nil {
				return false, nil
			}
			if !emit(last) {
				return false, ctx.Err()
			}
			return last.Final, nil
		})
		if ok || err != nil || ctx.Err() != nil {
			return
		}

		timeout := result(StateChecking, ReasonTimedOut, true)
		timeout.Attempt = attempt
		timeout.Address = last.Address
		timeout.Lobby = last.Lobby
		emit(timeout)
	}()
	return out
}

// Follow runs Watch and restarts it whenever the session's wallet link
// changes, so connecting a wallet re-evaluates eligibility. The channel closes
// when ctx is done or the identity channel closes after the current watch ends.
func (e *Engine) Follow(ctx context.Context, id ledger.LobbyID, sessionID string, changes <-chan wallet.Identity) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		for {
			wctx, cancel := context.WithCancel(ctx)
			results := e.Watch(wctx, id, sessionID)
			restart := false
		drain:
			for {
				select {
				case r, open := <-results:
					if !open {
						break drain
					}
					select {
					case out <- r:
					case <-ctx.Done():
						cancel()
						return
					}
				case _, open := <-changes:
					if !open {
						changes = nil
						continue
					}
					restart = true
					break drain
				case <-ctx.Done():
					cancel()
					return
				}
			}
			cancel()
			if restart {
				continue
			}
			// Watch finished; wait for a link change or the end.
			if changes == nil {
				return
			}
			select {
			case _, open := <-changes:
				if !open {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
