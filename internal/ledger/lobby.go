// internal/ledger/lobby.go
package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// LobbyIDSize is the width of an on-chain lobby key.
const LobbyIDSize = 32

// LobbyID is the fixed-width key the contract stores lobbies under.
type LobbyID [LobbyIDSize]byte

// NewLobbyID packs the UTF-8 bytes of s into a key, zero-filling the tail.
// Strings longer than LobbyIDSize bytes are truncated.
func NewLobbyID(s string) LobbyID {
	var id LobbyID
	copy(id[:], s)
	return id
}

// ParseLobbyID accepts either a 0x-prefixed 32-byte hex key or a plain lobby name.
func ParseLobbyID(s string) LobbyID {
	if len(s) == 2+2*LobbyIDSize && (s[:2] == "0x" || s[:2] == "0X") {
		if b := common.FromHex(s); len(b) == LobbyIDSize {
			var id LobbyID
			copy(id[:], b)
			return id
		}
	}
	return NewLobbyID(s)
}

// String decodes the key back into the lobby name.
func (id LobbyID) String() string {
	return string(bytes.TrimRight(id[:], "\x00"))
}

// Hex returns the 0x-prefixed key.
func (id LobbyID) Hex() string {
	return hexutil.Encode(id[:])
}

// Key returns the raw bytes32 value for ABI encoding.
func (id LobbyID) Key() [32]byte {
	return [32]byte(id)
}

// IsZero reports whether the key is empty.
func (id LobbyID) IsZero() bool {
	return id == LobbyID{}
}

// Ref returns the name when ParseLobbyID maps it back to the same key, and the
// hex key otherwise, e.g. when truncation split a multi-byte character.
func (id LobbyID) Ref() string {
	name := id.String()
	if utf8.ValidString(name) && ParseLobbyID(name) == id {
		return name
	}
	return id.Hex()
}

func (id LobbyID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Ref())
}

func (id *LobbyID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("lobby id: %w", err)
	}
	*id = ParseLobbyID(s)
	return nil
}

// Status mirrors the contract's lobby status enum.
type Status uint8

const (
	StatusCreated Status = iota
	StatusInProgress
	StatusFinished
	StatusClaimed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusInProgress:
		return "in_progress"
	case StatusFinished:
		return "finished"
	case StatusClaimed:
		return "claimed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	for v := StatusCreated; v <= StatusClaimed; v++ {
		if v.String() == name {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("status: unknown value %q", name)
}

// Lobby is a read-through copy of a lobby record held by the contract.
// It is never mutated locally; a fresh read replaces it.
type Lobby struct {
	ID               LobbyID          `json:"id"`
	Host             common.Address   `json:"host"`
	Stake            *big.Int         `json:"stake"`
	StakeToken       common.Address   `json:"stakeToken"`
	Participants     []common.Address `json:"participants"`
	Status           Status           `json:"status"`
	Winner           common.Address   `json:"winner"`
	TotalPrize       *big.Int         `json:"totalPrize"`
	AllowlistEnabled bool             `json:"allowlistEnabled"`
	Asset            *Asset           `json:"asset,omitempty"`
}

// Exists reports whether the record is a live lobby. The contract returns a
// zeroed struct for unknown keys, so a zero host means absent.
func (l *Lobby) Exists() bool {
	return l != nil && l.Host != (common.Address{})
}

// IsNative reports whether the stake is paid in the chain's native currency.
func (l *Lobby) IsNative() bool {
	return l.StakeToken == (common.Address{})
}

// HasWinner reports whether a winner has been recorded.
func (l *Lobby) HasWinner() bool {
	return l.Winner != (common.Address{})
}

// HasParticipant reports whether addr already joined.
func (l *Lobby) HasParticipant(addr common.Address) bool {
	for _, p := range l.Participants {
		if p == addr {
			return true
		}
	}
	return false
}

// Claimable is the amount the winner may withdraw. It is only non-zero while
// the lobby is finished and unclaimed.
func (l *Lobby) Claimable() *big.Int {
	if l.Status != StatusFinished || l.TotalPrize == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(l.TotalPrize)
}
