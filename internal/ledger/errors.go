// internal/ledger/errors.go
package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrLobbyNotFound means the contract holds no lobby under the key.
	ErrLobbyNotFound = errors.New("lobby not found")
	// ErrNoSigningKey means no key is configured for server-initiated writes.
	ErrNoSigningKey = errors.New("no signing key configured")
	// ErrNotConfirmed means a receipt did not appear within the poll budget.
	// The transaction may still be mined later.
	ErrNotConfirmed = errors.New("transaction not confirmed yet")
	// ErrReverted means the transaction was mined but failed.
	ErrReverted = errors.New("transaction reverted")
)

// Named contract errors.
const (
	ErrNameInsufficientFunds   = "InsufficientFunds"
	ErrNameGameAlreadyStarted  = "GameAlreadyStarted"
	ErrNameNotWinner           = "NotWinner"
	ErrNameGameNotFinished     = "GameNotFinished"
	ErrNamePrizeAlreadyClaimed = "PrizeAlreadyClaimed"
	ErrNameNotGameServer       = "NotGameServer"
	ErrNameGameNotInProgress   = "GameNotInProgress"
	ErrNameInvalidWinner       = "InvalidWinner"
	ErrNameNotHost             = "NotHost"
	ErrNameLobbyNotFound       = "LobbyNotFound"
	ErrNameLobbyAlreadyExists  = "LobbyAlreadyExists"
	ErrNameAlreadyJoined       = "AlreadyJoined"
	ErrNameNotAllowlisted      = "NotAllowlisted"
)

var userMessages = map[string]string{
	ErrNameInsufficientFunds:   "Insufficient funds to cover the stake.",
	ErrNameGameAlreadyStarted:  "This game has already started.",
	ErrNameNotWinner:           "Only the winner can claim this prize.",
	ErrNameGameNotFinished:     "The game has not finished yet.",
	ErrNamePrizeAlreadyClaimed: "The prize has already been claimed.",
	ErrNameNotGameServer:       "Only the game server can declare winners",
	ErrNameGameNotInProgress:   "The game is not in progress.",
	ErrNameInvalidWinner:       "The declared winner is not a participant in this lobby.",
	ErrNameNotHost:             "Only the lobby host can do that.",
	ErrNameLobbyNotFound:       "Lobby not found.",
	ErrNameLobbyAlreadyExists:  "A lobby with this ID already exists.",
	ErrNameAlreadyJoined:       "You have already joined this lobby.",
	ErrNameNotAllowlisted:      "You are not on this lobby's allowlist.",
}

// RevertError is a call rejected by the contract.
type RevertError struct {
	// Name is the custom error name, or empty for a plain reason string.
	Name   string
	Reason string
	Raw    string
}

func (e *RevertError) Error() string {
	switch {
	case e.Name != "":
		return "execution reverted: " + e.Name
	case e.Reason != "":
		return "execution reverted: " + e.Reason
	default:
		return "execution reverted: " + e.Raw
	}
}

// Is lets errors.Is match on a named revert: errors.Is(err, &RevertError{Name: "NotHost"}).
func (e *RevertError) Is(target error) bool {
	t, ok := target.(*RevertError)
	if !ok {
		return false
	}
	return t.Name != "" && t.Name == e.Name
}

// Reverted builds a target for errors.Is comparisons.
func Reverted(name string) error {
	return &RevertError{Name: name}
}

// errorNames lists the contract's error names longest first, then by name.
var errorNames = sortedErrorNames()

func sortedErrorNames() []string {
	names := make([]string, 0, len(lobbyABI.Errors))
	for name := range lobbyABI.Errors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}

// DecodeRevert turns an RPC error into a *RevertError when it carries revert
// data or names a known contract error. Other errors are returned unchanged.
func DecodeRevert(err error) error {
	if err == nil {
		return nil
	}
	var rev *RevertError
	if errors.As(err, &rev) {
		return err
	}

	var de rpc.DataError
	if errors.As(err, &de) {
		if data := revertData(de.ErrorData()); len(data) >= 4 {
			if out := decodeRevertData(data); out != nil {
				out.Raw = err.Error()
				return out
			}
		}
	}

	msg := err.Error()
	for _, name := range errorNames {
		if strings.Contains(msg, name) {
			return &RevertError{Name: name, Raw: msg}
		}
	}
	if strings.Contains(msg, "execution reverted") {
		return &RevertError{Raw: msg}
	}
	return err
}

func revertData(v interface{}) []byte {
	switch d := v.(type) {
	case string:
		b, err := hexutil.Decode(d)
		if err != nil {
			return nil
		}
		return b
	case []byte:
		return d
	case hexutil.Bytes:
		return d
	}
	return nil
}

func decodeRevertData(data []byte) *RevertError {
	for name, e := range lobbyABI.Errors {
		if bytes.Equal(e.ID[:4], data[:4]) {
			return &RevertError{Name: name}
		}
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return &RevertError{Reason: reason}
	}
	return nil
}

// UserMessage maps an error to a message fit for players. Named contract
// errors get a specific text; anything else falls back to a generic message
// including the raw error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var rev *RevertError
	if errors.As(DecodeRevert(err), &rev) {
		if msg, ok := userMessages[rev.Name]; ok {
			return msg
		}
		if rev.Reason != "" {
			return fmt.Sprintf("Transaction failed: %s", rev.Reason)
		}
	}
	if errors.Is(err, ErrLobbyNotFound) {
		return userMessages[ErrNameLobbyNotFound]
	}
	return fmt.Sprintf("Transaction failed: %v", err)
}

// ErrorSelector returns the 4-byte selector of a named contract error.
func ErrorSelector(name string) ([]byte, bool) {
	e, ok := lobbyABI.Errors[name]
	if !ok {
		return nil, false
	}
	return e.ID[:4], true
}
