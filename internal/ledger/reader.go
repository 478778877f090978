// internal/ledger/reader.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// NativeAsset describes the chain's own currency.
var NativeAsset = Asset{Symbol: "ETH", Decimals: DefaultDecimals}

// Asset is display metadata for a stake currency.
type Asset struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// Reader is the read-only facade over the lobby contract.
type Reader struct {
	backend  Backend
	contract common.Address
	log      logrus.FieldLogger

	mu     sync.Mutex
	assets map[common.Address]Asset
}

// NewReader returns a Reader for the contract at addr.
func NewReader(backend Backend, addr common.Address, logger logrus.FieldLogger) *Reader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reader{
		backend:  backend,
		contract: addr,
		log:      logger.WithField("component", "ledger_reader"),
		assets:   make(map[common.Address]Asset),
	}
}

// Contract returns the lobby contract address.
func (r *Reader) Contract() common.Address {
	return r.contract
}

// Pack ABI-encodes a call to the lobby contract.
func Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := lobbyABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}

func (r *Reader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, DecodeRevert(err))
	}
	values, err := lobbyABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// GetLobby returns the lobby, or false when it does not exist. Transport
// failures also return false; use FetchLobby to tell the two apart.
func (r *Reader) GetLobby(ctx context.Context, id LobbyID) (*Lobby, bool) {
	l, err := r.FetchLobby(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrLobbyNotFound) {
			r.log.WithFields(logrus.Fields{"lobby": id.String(), "error": err}).Warn("lobby read failed")
		}
		return nil, false
	}
	return l, true
}

// FetchLobby reads a lobby. It returns ErrLobbyNotFound when the contract has
// no record under id and a wrapped transport error otherwise.
func (r *Reader) FetchLobby(ctx context.Context, id LobbyID) (*Lobby, error) {
	values, err := r.call(ctx, MethodGetLobby, id.Key())
	if err != nil {
		var rev *RevertError
		if errors.As(err, &rev) && rev.Name == ErrNameLobbyNotFound {
			return nil, ErrLobbyNotFound
		}
		return nil, err
	}
	l, err := lobbyFromValues(id, values)
	if err != nil {
		return nil, err
	}
	if !l.Exists() {
		return nil, ErrLobbyNotFound
	}

	enabled, err := r.IsAllowlistEnabled(ctx, id)
	if err != nil {
		r.log.WithFields(logrus.Fields{"lobby": id.String(), "error": err}).Debug("allowlist flag read failed")
	}
	l.AllowlistEnabled = enabled
	return l, nil
}

func lobbyFromValues(id LobbyID, v []interface{}) (*Lobby, error) {
	if len(v) != 7 {
		return nil, fmt.Errorf("getLobby: expected 7 values, got %d", len(v))
	}
	l := &Lobby{ID: id}
	var ok bool
	if l.Host, ok = v[0].(common.Address); !ok {
		return nil, fmt.Errorf("getLobby: bad host %T", v[0])
	}
	if l.Stake, ok = v[1].(*big.Int); !ok {
		return nil, fmt.Errorf("getLobby: bad bet amount %T", v[1])
	}
	if l.Participants, ok = v[2].([]common.Address); !ok {
		return nil, fmt.Errorf("getLobby: bad participants %T", v[2])
	}
	status, ok := v[3].(uint8)
	if !ok {
		return nil, fmt.Errorf("getLobby: bad status %T", v[3])
	}
	l.Status = Status(status)
	if l.Winner, ok = v[4].(common.Address); !ok {
		return nil, fmt.Errorf("getLobby: bad winner %T", v[4])
	}
	if l.TotalPrize, ok = v[5].(*big.Int); !ok {
		return nil, fmt.Errorf("getLobby: bad total prize %T", v[5])
	}
	if l.StakeToken, ok = v[6].(common.Address); !ok {
		return nil, fmt.Errorf("getLobby: bad stake token %T", v[6])
	}
	return l, nil
}

// IsAllowlistEnabled reports whether joins are gated by the allowlist.
func (r *Reader) IsAllowlistEnabled(ctx context.Context, id LobbyID) (bool, error) {
	values, err := r.call(ctx, MethodIsAllowlistEnabled, id.Key())
	if err != nil {
		return false, err
	}
	return values[0].(bool), nil
}

// IsAllowlisted reports whether account may join a gated lobby.
func (r *Reader) IsAllowlisted(ctx context.Context, id LobbyID, account common.Address) (bool, error) {
	values, err := r.call(ctx, MethodIsAllowlisted, id.Key(), account)
	if err != nil {
		return false, err
	}
	return values[0].(bool), nil
}

// PublicLobbyIDs lists the keys of every public lobby.
func (r *Reader) PublicLobbyIDs(ctx context.Context) ([]LobbyID, error) {
	values, err := r.call(ctx, MethodGetAllPublicLobbies)
	if err != nil {
		return nil, err
	}
	raw, ok := values[0].([][32]byte)
	if !ok {
		return nil, fmt.Errorf("getAllPublicLobbies: bad result %T", values[0])
	}
	ids := make([]LobbyID, len(raw))
	for i, k := range raw {
		ids[i] = LobbyID(k)
	}
	return ids, nil
}

// PublicLobbyCount returns the number of public lobbies.
func (r *Reader) PublicLobbyCount(ctx context.Context) (uint64, error) {
	values, err := r.call(ctx, MethodGetPublicLobbyCount)
	if err != nil {
		return 0, err
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("getPublicLobbyCount: bad result %T", values[0])
	}
	return n.Uint64(), nil
}

// Simulate executes a state-changing call as a read from the given sender so a
// revert can be surfaced before anything is broadcast.
func (r *Reader) Simulate(ctx context.Context, from common.Address, value *big.Int, method string, args ...interface{}) error {
	data, err := Pack(method, args...)
	if err != nil {
		return err
	}
	msg := ethereum.CallMsg{From: from, To: &r.contract, Value: value, Data: data}
	if _, err := r.backend.CallContract(ctx, msg, nil); err != nil {
		return DecodeRevert(err)
	}
	return nil
}

// BatchEntry is one lookup in a batched read.
type BatchEntry struct {
	ID    LobbyID
	Lobby *Lobby
	Err   error
}

// Found reports whether the entry holds a live lobby.
func (e BatchEntry) Found() bool {
	return e.Err == nil && e.Lobby.Exists()
}

// BatchResult holds per-entry outcomes in request order.
type BatchResult struct {
	Entries []BatchEntry
}

// Lobbies returns the lobbies that exist, skipping failures and absent keys.
func (b BatchResult) Lobbies() []*Lobby {
	out := make([]*Lobby, 0, len(b.Entries))
	for _, e := range b.Entries {
		if e.Found() {
			out = append(out, e.Lobby)
		}
	}
	return out
}

// Failures returns the entries whose read failed. Absent lobbies are not failures.
func (b BatchResult) Failures() []BatchEntry {
	var out []BatchEntry
	for _, e := range b.Entries {
		if e.Err != nil {
			out = append(out, e)
		}
	}
	return out
}

func (r *Reader) callArg(data []byte) map[string]interface{} {
	return map[string]interface{}{
		"to":    r.contract,
		"data":  hexutil.Bytes(data),
		"input": hexutil.Bytes(data),
	}
}

// BatchGetLobbies reads many lobbies in one round-trip. A failing entry does
// not affect the others. Entries with a zero host are reported absent.
func (r *Reader) BatchGetLobbies(ctx context.Context, ids []LobbyID) BatchResult {
	res := BatchResult{Entries: make([]BatchEntry, len(ids))}
	if len(ids) == 0 {
		return res
	}

	lobbyOut := make([]hexutil.Bytes, len(ids))
	flagOut := make([]hexutil.Bytes, len(ids))
	elems := make([]rpc.BatchElem, 0, 2*len(ids))
	for i, id := range ids {
		res.Entries[i].ID = id
		lobbyData, _ := Pack(MethodGetLobby, id.Key())
		flagData, _ := Pack(MethodIsAllowlistEnabled, id.Key())
		elems = append(elems,
			rpc.BatchElem{Method: "eth_call", Args: []interface{}{r.callArg(lobbyData), "latest"}, Result: &lobbyOut[i]},
			rpc.BatchElem{Method: "eth_call", Args: []interface{}{r.callArg(flagData), "latest"}, Result: &flagOut[i]},
		)
	}

	if err := r.backend.BatchCallContext(ctx, elems); err != nil {
		r.log.WithError(err).WithField("count", len(ids)).Warn("batched lobby read failed")
		for i := range res.Entries {
			res.Entries[i].Err = fmt.Errorf("batch call: %w", err)
		}
		return res
	}

	for i, id := range ids {
		entry := &res.Entries[i]
		lobbyElem, flagElem := elems[2*i], elems[2*i+1]
		if lobbyElem.Error != nil {
			err := DecodeRevert(lobbyElem.Error)
			var rev *RevertError
			if errors.As(err, &rev) && rev.Name == ErrNameLobbyNotFound {
				continue
			}
			entry.Err = fmt.Errorf("getLobby %s: %w", id, err)
			continue
		}
		values, err := lobbyABI.Unpack(MethodGetLobby, lobbyOut[i])
		if err != nil {
			entry.Err = fmt.Errorf("unpack getLobby %s: %w", id, err)
			continue
		}
		l, err := lobbyFromValues(id, values)
		if err != nil {
			entry.Err = err
			continue
		}
		if !l.Exists() {
			continue
		}
		if flagElem.Error == nil {
			if v, err := lobbyABI.Unpack(MethodIsAllowlistEnabled, flagOut[i]); err == nil {
				l.AllowlistEnabled, _ = v[0].(bool)
			}
		}
		entry.Lobby = l
	}
	return res
}

// Asset returns display metadata for a stake token, fetched once per address.
// A token whose metadata call fails is shown with DefaultDecimals, and the
// lookup is retried on the next access.
func (r *Reader) Asset(ctx context.Context, token common.Address) Asset {
	if token == (common.Address{}) {
		return NativeAsset
	}
	r.mu.Lock()
	a, ok := r.assets[token]
	r.mu.Unlock()
	if ok {
		return a
	}

	a = Asset{Address: token, Symbol: "???", Decimals: DefaultDecimals}
	cached := true
	if sym, err := r.tokenCall(ctx, token, "symbol"); err == nil {
		a.Symbol = sym[0].(string)
	} else {
		cached = false
		r.log.WithFields(logrus.Fields{"token": token.Hex(), "error": err}).Debug("token symbol read failed")
	}
	if dec, err := r.tokenCall(ctx, token, "decimals"); err == nil {
		a.Decimals = dec[0].(uint8)
	} else {
		cached = false
		r.log.WithFields(logrus.Fields{"token": token.Hex(), "error": err}).Debug("token decimals read failed, using default")
	}

	if cached {
		r.mu.Lock()
		r.assets[token] = a
		r.mu.Unlock()
	}
	return a
}

// Assets resolves metadata for every distinct stake token of the given lobbies
// and attaches it to them.
func (r *Reader) Assets(ctx context.Context, lobbies []*Lobby) {
	tokens := make(map[common.Address]struct{})
	for _, l := range lobbies {
		tokens[l.StakeToken] = struct{}{}
	}

	var mu sync.Mutex
	resolved := make(map[common.Address]Asset, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for token := range tokens {
		g.Go(func() error {
			a := r.Asset(gctx, token)
			mu.Lock()
			resolved[token] = a
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, l := range lobbies {
		a := resolved[l.StakeToken]
		l.Asset = &a
	}
}

func (r *Reader) tokenCall(ctx context.Context, token common.Address, method string) ([]interface{}, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, err
	}
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s: expected 1 value, got %d", method, len(values))
	}
	return values, nil
}
