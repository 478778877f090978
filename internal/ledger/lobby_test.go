package ledger_test

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/jason-s-yu/tourney/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLobbyIDRoundTrip(t *testing.T) {
	cases := []string{
		"abc123",
		"",
		"x",
		"lobby with spaces",
		"ünïcødé-🎲",
		strings.Repeat("z", ledger.LobbyIDSize),
	}
	for _, s := range cases {
		id := ledger.NewLobbyID(s)
		assert.Equal(t, s, id.String(), "round trip of %q", s)
	}
}

func TestLobbyIDTruncates(t *testing.T) {
	long := strings.Repeat("a", 40)
	id := ledger.NewLobbyID(long)
	assert.Equal(t, long[:ledger.LobbyIDSize], id.String())
}

func TestParseLobbyIDHex(t *testing.T) {
	id := ledger.NewLobbyID("abc123")
	assert.Equal(t, id, ledger.ParseLobbyID(id.Hex()))
	assert.Equal(t, id, ledger.ParseLobbyID("abc123"))
}

func TestLobbyIDJSON(t *testing.T) {
	id := ledger.NewLobbyID("finals")
	b, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"finals"`, string(b))

	var back ledger.LobbyID
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, id, back)
}

func TestLobbyIDJSONSplitRune(t *testing.T) {
	// 31 bytes then a two-byte rune: the key keeps only its first byte.
	id := ledger.NewLobbyID(strings.Repeat("a", 31) + "é")
	assert.Equal(t, id.Hex(), id.Ref())

	b, err := json.Marshal(id)
	require.NoError(t, err)
	var back ledger.LobbyID
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, id, back)

	full := ledger.NewLobbyID(strings.Repeat("a", 30) + "é")
	assert.Equal(t, full.String(), full.Ref())
}

func TestStatusJSON(t *testing.T) {
	b, err := json.Marshal(ledger.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, `"in_progress"`, string(b))

	var back ledger.Status
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, ledger.StatusInProgress, back)
	assert.Error(t, json.Unmarshal([]byte(`"cancelled"`), &back))
}

func TestLobbyClaimable(t *testing.T) {
	l := &ledger.Lobby{Status: ledger.StatusInProgress, TotalPrize: big.NewInt(10)}
	assert.Zero(t, l.Claimable().Sign())
	l.Status = ledger.StatusFinished
	assert.Equal(t, int64(10), l.Claimable().Int64())
	l.Status = ledger.StatusClaimed
	assert.Zero(t, l.Claimable().Sign())
}

func TestParseUnits(t *testing.T) {
	v, err := ledger.ParseUnits("1.5", 18)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())

	v, err = ledger.ParseUnits("42", 6)
	require.NoError(t, err)
	assert.Equal(t, "42000000", v.String())

	v, err = ledger.ParseUnits(".25", 2)
	require.NoError(t, err)
	assert.Equal(t, "25", v.String())

	for _, bad := range []string{"", "-1", "1.2.3", "abc", "0.001"} {
		_, err := ledger.ParseUnits(bad, 2)
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "input %q", bad)
	}
}

func TestFormatUnits(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", ledger.FormatUnits(v, 18))
	assert.Equal(t, "0.000001", ledger.FormatUnits(big.NewInt(1), 6))
	assert.Equal(t, "3", ledger.FormatUnits(big.NewInt(300), 2))
	assert.Equal(t, "0", ledger.FormatUnits(nil, 18))
}
