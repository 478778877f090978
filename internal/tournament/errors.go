// internal/tournament/errors.go
package tournament

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jason-s-yu/tourney/internal/ledger"
	"github.com/jason-s-yu/tourney/internal/wallet"
)

// Kind classifies a failed operation by what the caller should do next.
type Kind int

const (
	// KindTransport is a network or RPC failure. Retrying may help.
	KindTransport Kind = iota + 1
	// KindAuth is a missing session or failed wallet proof. The caller must
	// restart the challenge flow.
	KindAuth
	// KindRejected is a call the ledger refused with a named error.
	KindRejected
	// KindAmbiguous means a transaction was broadcast but its effect was not
	// observed in time. Resubmitting may duplicate it.
	KindAmbiguous
	// KindUnconfigured means the server has no signing key.
	KindUnconfigured
	// KindPrecondition is a local check that failed before anything was sent.
	KindPrecondition
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindRejected:
		return "rejected"
	case KindAmbiguous:
		return "ambiguous"
	case KindUnconfigured:
		return "unconfigured"
	case KindPrecondition:
		return "precondition"
	default:
		return "unknown"
	}
}

// Precondition failures detected before submission.
var (
	ErrAlreadyParticipant = errors.New("address already joined this lobby")
	ErrNotJoinable        = errors.New("lobby is no longer accepting players")
	ErrNotAllowlisted     = errors.New("address is not on the lobby allowlist")
	ErrNotParticipant     = errors.New("winner is not a participant")
	ErrNotFound           = errors.New("lobby not found")
	ErrInvalidStake       = errors.New("stake must be positive")
	ErrUnknownAction      = errors.New("unknown action")
)

var preconditionMessages = map[error]string{
	ErrAlreadyParticipant: "You have already joined this lobby.",
	ErrNotJoinable:        "This game has already started.",
	ErrNotAllowlisted:     "You are not on this lobby's allowlist.",
	ErrNotParticipant:     "The declared winner is not a participant in this lobby.",
	ErrNotFound:           "Lobby not found.",
	ErrInvalidStake:       "Enter a stake greater than zero.",
	ErrUnknownAction:      "That action is not supported.",
}

// Error is an orchestration failure with a player-facing message.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	// TxHash is set when a transaction was broadcast.
	TxHash common.Hash
	Err    error
}

func (e *Error) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("%s (%s, tx %s): %v", e.Op, e.Kind, e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or 0 for nil.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return classify("", err).Kind
}

// Message returns the player-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Message
	}
	return classify("", err).Message
}

// classify maps an error from the ledger, wallet or local checks into an *Error.
func classify(op string, err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}

	e := &Error{Op: op, Err: err}
	for sentinel, msg := range preconditionMessages {
		if errors.Is(err, sentinel) {
			e.Kind, e.Message = KindPrecondition, msg
			return e
		}
	}

	var rev *ledger.RevertError
	switch {
	case errors.Is(err, ledger.ErrNoSigningKey):
		e.Kind, e.Message = KindUnconfigured, "Server-side ledger actions are unavailable: no signing key is configured."
	case errors.As(err, &rev), errors.Is(err, ledger.ErrReverted):
		e.Kind, e.Message = KindRejected, ledger.UserMessage(err)
	case errors.Is(err, ledger.ErrLobbyNotFound):
		e.Kind, e.Message = KindPrecondition, preconditionMessages[ErrNotFound]
	case errors.Is(err, ledger.ErrNotConfirmed):
		e.Kind, e.Message = KindAmbiguous, "The transaction was sent but is not confirmed yet. Check the ledger before trying again."
	case errors.Is(err, wallet.ErrMissingSession),
		errors.Is(err, wallet.ErrInvalidNonce),
		errors.Is(err, wallet.ErrSignatureMismatch),
		errors.Is(err, wallet.ErrMessageMismatch),
		errors.Is(err, wallet.ErrMalformedSignature),
		errors.Is(err, wallet.ErrInvalidAddress):
		e.Kind, e.Message = KindAuth, "Wallet verification failed. Request a new challenge and sign it again."
	case errors.Is(err, wallet.ErrPersist):
		e.Kind, e.Message = KindTransport, "Could not save your wallet link. Please try again."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.Kind, e.Message = KindTransport, "The request was cancelled."
	default:
		e.Kind, e.Message = KindTransport, ledger.UserMessage(err)
	}
	return e
}

func ambiguous(op string, hash common.Hash) *Error {
	return &Error{
		Kind:    KindAmbiguous,
		Op:      op,
		TxHash:  hash,
		Message: fmt.Sprintf("Transaction %s was sent but the ledger has not reflected it yet. Check it on the ledger before trying again.", hash.Hex()),
		Err:     ledger.ErrNotConfirmed,
	}
}
