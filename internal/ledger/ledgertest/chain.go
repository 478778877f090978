// Package ledgertest provides an in-process lobby contract that speaks the
// same RPC surface as a node, for tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/jason-s-yu/tourney/internal/ledger"
)

// ChainID is the id the simulated chain reports.
var ChainID = big.NewInt(1337)

// ErrTransport is returned for injected transport failures.
var ErrTransport = errors.New("ledgertest: connection refused")

// Contract is the address the simulated lobby contract lives at.
var Contract = common.HexToAddress("0x00000000000000000000000000000000000C0FFE")

type lobbyState struct {
	host         common.Address
	bet          *big.Int
	token        common.Address
	participants []common.Address
	status       ledger.Status
	winner       common.Address
	prize        *big.Int
	public       bool
	allowEnabled bool
	allowlist    map[common.Address]bool
}

func (l *lobbyState) clone() *lobbyState {
	c := *l
	c.bet = new(big.Int).Set(l.bet)
	c.prize = new(big.Int).Set(l.prize)
	c.participants = append([]common.Address(nil), l.participants...)
	c.allowlist = make(map[common.Address]bool, len(l.allowlist))
	for k, v := range l.allowlist {
		c.allowlist[k] = v
	}
	return &c
}

type token struct {
	symbol   string
	decimals uint8
	broken   bool
}

// Chain simulates a node hosting the lobby contract. Transactions are mined
// as soon as they are sent.
type Chain struct {
	GameServer common.Address

	mu        sync.Mutex
	abi       abi.ABI
	lobbies   map[ledger.LobbyID]*lobbyState
	public    []ledger.LobbyID
	tokens    map[common.Address]*token
	nonces    map[common.Address]uint64
	receipts  map[common.Hash]*types.Receipt
	logs      []types.Log
	block     uint64
	calls     map[string]int
	down      bool
	sendErr   error
	failReads map[ledger.LobbyID]bool
	hidden    bool
	maxRange  uint64
}

// NewChain returns an empty chain whose game-server role is held by server.
func NewChain(server common.Address) *Chain {
	return &Chain{
		GameServer: server,
		abi:        ledger.ABI(),
		lobbies:    make(map[ledger.LobbyID]*lobbyState),
		tokens:     make(map[common.Address]*token),
		nonces:     make(map[common.Address]uint64),
		receipts:   make(map[common.Hash]*types.Receipt),
		calls:      make(map[string]int),
		failReads:  make(map[ledger.LobbyID]bool),
		block:      1,
	}
}

// SetDown makes every RPC fail with ErrTransport.
func (c *Chain) SetDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

// FailSends makes SendTransaction fail with err until reset with nil.
func (c *Chain) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// FailReads makes getLobby for id fail with a transport error.
func (c *Chain) FailReads(id ledger.LobbyID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failReads[id] = true
}

// HideReceipts keeps mined transactions from reporting receipts, as if the
// node had not seen them yet.
func (c *Chain) HideReceipts(hidden bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hidden = hidden
}

// AddToken registers an ERC-20 with metadata. A broken token fails its metadata calls.
func (c *Chain) AddToken(addr common.Address, symbol string, decimals uint8, broken bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[addr] = &token{symbol: symbol, decimals: decimals, broken: broken}
}

// Calls returns how many times an RPC method was invoked.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// Seed places a lobby directly into contract storage.
func (c *Chain) Seed(id ledger.LobbyID, host common.Address, bet *big.Int, status ledger.Status, participants ...common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(participants) == 0 {
		participants = []common.Address{host}
	}
	prize := new(big.Int).Mul(bet, big.NewInt(int64(len(participants))))
	c.lobbies[id] = &lobbyState{
		host:         host,
		bet:          new(big.Int).Set(bet),
		participants: participants,
		status:       status,
		prize:        prize,
		public:       true,
		allowlist:    make(map[common.Address]bool),
	}
	c.public = append(c.public, id)
}

// SetWinner records a winner and marks the lobby finished.
func (c *Chain) SetWinner(id ledger.LobbyID, winner common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.lobbies[id]; ok {
		l.winner = winner
		l.status = ledger.StatusFinished
	}
}

func (c *Chain) count(method string) error {
	c.calls[method]++
	if c.down {
		return ErrTransport
	}
	return nil
}

// ChainID implements ledger.Backend.
func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.count("eth_chainId"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(ChainID), nil
}

// BlockNumber implements ledger.Backend.
func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.count("eth_blockNumber"); err != nil {
		return 0, err
	}
	return c.block, nil
}

// PendingNonceAt implements ledger.Backend.
func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.count("eth_getTransactionCount"); err != nil {
		return 0, err
	}
	return c.nonces[account], nil
}

// CallContract implements ledger.Backend.
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.count("eth_call"); err != nil {
		return nil, err
	}
	if msg.To == nil {
		return nil, errors.New("ledgertest: contract creation not supported")
	}
	return c.call(*msg.To, msg.From, msg.Value, msg.Data)
}

// BatchCallContext implements ledger.Backend for eth_call batches.
func (c *Chain) BatchCallContext(ctx context.Context, elems []rpc.BatchElem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.count("batch"); err != nil {
		return err
	}
	for i := range elems {
		el := &elems[i]
		if el.Method != "eth_call" || len(el.Args) == 0 {
			el.Error = fmt.Errorf("ledgertest: unsupported batch method %s", el.Method)
			continue
		}
		arg, ok := el.Args[0].(map[string]interface{})
		if !ok {
			el.Error = errors.New("ledgertest: bad call argument")
			continue
		}
		to, data := callTarget(arg)
		out, err := c.call(to, common.Address{}, nil, data)
		if err != nil {
			el.Error = err
			continue
		}
		if res, ok := el.Result.(*hexutil.Bytes); ok {
			*res = out
		}
	}
	return nil
}

func callTarget(arg map[string]interface{}) (common.Address, []byte) {
	var to common.Address
	switch v := arg["to"].(type) {
	case common.Address:
		to = v
	case *common.Address:
		to = *v
	case string:
		to = common.HexToAddress(v)
	}
	raw := arg["input"]
	if raw == nil {
		raw = arg["data"]
	}
	switch v := raw.(type) {
	case hexutil.Bytes:
		return to, v
	case []byte:
		return to, v
	case string:
		return to, common.FromHex(v)
	}
	return to, nil
}

// SendTransaction implements ledger.Backend. The transaction is mined
// immediately; a contract revert produces a failed receipt.
func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.count("eth_sendRawTransaction"); err != nil {
		return err
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	from, err := types.Sender(types.LatestSignerForChainID(ChainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if want := c.nonces[from]; tx.Nonce() != want {
		return fmt.Errorf("nonce too low: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), want)
	}
	c.nonces[from]++
	c.block++

	receipt := &types.Receipt{
		Type:        tx.Type(),
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(c.block),
		GasUsed:     21000,
	}
	if tx.To() == nil || *tx.To() != Contract {
		c.receipts[tx.Hash()] = receipt
		return nil
	}
	logs, err := c.execute(from, tx.Value(), tx.Data())
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
	}
	for i := range logs {
		logs[i].BlockNumber = c.block
		logs[i].TxHash = tx.Hash()
		logs[i].Index = uint(len(c.logs) + i)
	}
	receipt.Logs = make([]*types.Log, len(logs))
	for i := range logs {
		receipt.Logs[i] = &logs[i]
	}
	c.logs = append(c.logs, logs...)
	c.receipts[tx.Hash()] = receipt
	return nil
}

// LimitLogRange makes FilterLogs reject queries spanning more than n blocks,
// as hosted RPC providers do. Zero removes the limit.
func (c *Chain) LimitLogRange(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxRange = n
}

// Mine advances the head by n empty blocks.
func (c *Chain) Mine(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block += n
}

// TransactionReceipt implements ledger.Backend.
func (c *Chain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.count("eth_getTransactionReceipt"); err != nil {
		return nil, err
	}
	r, ok := c.receipts[hash]
	if !ok || c.hidden {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// FilterLogs implements ledger.Backend.
func (c *Chain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.count("eth_getLogs"); err != nil {
		return nil, err
	}
	if c.maxRange > 0 && q.FromBlock != nil && q.ToBlock != nil &&
		q.ToBlock.Uint64()-q.FromBlock.Uint64()+1 > c.maxRange {
		return nil, fmt.Errorf("query exceeds max block range %d", c.maxRange)
	}
	var out []types.Log
	for _, lg := range c.logs {
		if q.FromBlock != nil && lg.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddr(q.Addresses, lg.Address) {
			continue
		}
		if !topicsMatch(q.Topics, lg.Topics) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func containsAddr(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func topicsMatch(filter [][]common.Hash, topics []common.Hash) bool {
	for i, alts := range filter {
		if len(alts) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		match := false
		for _, h := range alts {
			if h == topics[i] {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}
