package ledgertest

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jason-s-yu/tourney/internal/ledger"
)

// RevertError mimics the JSON-RPC error a node returns for a reverted call.
type RevertError struct {
	Data []byte
}

func (e *RevertError) Error() string { return "execution reverted" }

// ErrorCode matches rpc.Error.
func (e *RevertError) ErrorCode() int { return 3 }

// ErrorData matches rpc.DataError.
func (e *RevertError) ErrorData() interface{} { return hexutil.Encode(e.Data) }

func revert(name string) error {
	sel, ok := ledger.ErrorSelector(name)
	if !ok {
		panic("ledgertest: unknown error " + name)
	}
	return &RevertError{Data: sel}
}

func (c *Chain) call(to, from common.Address, value *big.Int, data []byte) ([]byte, error) {
	if tok, ok := c.tokens[to]; ok {
		return c.tokenCall(tok, data)
	}
	if to != Contract {
		return nil, nil
	}
	if len(data) < 4 {
		return nil, errors.New("ledgertest: short calldata")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	if method.IsConstant() {
		return c.view(method.Name, args)
	}

	// Dry run: execute on a copy of storage and throw it away.
	saved := c.snapshot()
	defer c.restore(saved)
	if _, err := c.apply(from, value, method.Name, args); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Chain) tokenCall(tok *token, data []byte) ([]byte, error) {
	if tok.broken {
		return nil, &RevertError{}
	}
	erc20 := ledger.ERC20ABI()
	method, err := erc20.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "symbol":
		return method.Outputs.Pack(tok.symbol)
	case "decimals":
		return method.Outputs.Pack(tok.decimals)
	}
	return nil, fmt.Errorf("ledgertest: token method %s", method.Name)
}

type snapshot struct {
	lobbies map[ledger.LobbyID]*lobbyState
	public  []ledger.LobbyID
}

func (c *Chain) snapshot() snapshot {
	s := snapshot{
		lobbies: make(map[ledger.LobbyID]*lobbyState, len(c.lobbies)),
		public:  append([]ledger.LobbyID(nil), c.public...),
	}
	for k, v := range c.lobbies {
		s.lobbies[k] = v.clone()
	}
	return s
}

func (c *Chain) restore(s snapshot) {
	c.lobbies = s.lobbies
	c.public = s.public
}

func (c *Chain) view(name string, args []interface{}) ([]byte, error) {
	method := c.abi.Methods[name]
	switch name {
	case ledger.MethodGetLobby:
		id := ledger.LobbyID(args[0].([32]byte))
		if c.failReads[id] {
			return nil, ErrTransport
		}
		l, ok := c.lobbies[id]
		if !ok {
			return method.Outputs.Pack(common.Address{}, new(big.Int), []common.Address{}, uint8(0), common.Address{}, new(big.Int), common.Address{})
		}
		return method.Outputs.Pack(l.host, l.bet, l.participants, uint8(l.status), l.winner, l.prize, l.token)
	case ledger.MethodIsAllowlistEnabled:
		l, ok := c.lobbies[ledger.LobbyID(args[0].([32]byte))]
		return method.Outputs.Pack(ok && l.allowEnabled)
	case ledger.MethodIsAllowlisted:
		l, ok := c.lobbies[ledger.LobbyID(args[0].([32]byte))]
		return method.Outputs.Pack(ok && l.allowlist[args[1].(common.Address)])
	case ledger.MethodGetAllPublicLobbies:
		ids := make([][32]byte, len(c.public))
		for i, id := range c.public {
			ids[i] = id.Key()
		}
		return method.Outputs.Pack(ids)
	case ledger.MethodGetPublicLobbyCount:
		return method.Outputs.Pack(big.NewInt(int64(len(c.public))))
	}
	return nil, fmt.Errorf("ledgertest: view %s not supported", name)
}

func (c *Chain) execute(from common.Address, value *big.Int, data []byte) ([]types.Log, error) {
	if len(data) < 4 {
		return nil, errors.New("ledgertest: short calldata")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	saved := c.snapshot()
	logs, err := c.apply(from, value, method.Name, args)
	if err != nil {
		c.restore(saved)
		return nil, err
	}
	return logs, nil
}

func (c *Chain) event(name string, topics []common.Hash, data ...interface{}) types.Log {
	ev := c.abi.Events[name]
	packed, _ := ev.Inputs.NonIndexed().Pack(data...)
	return types.Log{
		Address: Contract,
		Topics:  append([]common.Hash{ev.ID}, topics...),
		Data:    packed,
	}
}

func (c *Chain) apply(from common.Address, value *big.Int, name string, args []interface{}) ([]types.Log, error) {
	if value == nil {
		value = new(big.Int)
	}
	id := ledger.LobbyID(args[0].([32]byte))
	l, exists := c.lobbies[id]

	switch name {
	case ledger.MethodCreateLobby:
		if exists {
			return nil, revert(ledger.ErrNameLobbyAlreadyExists)
		}
		bet := args[1].(*big.Int)
		stakeToken := args[3].(common.Address)
		if bet.Sign() <= 0 || (stakeToken == (common.Address{}) && value.Cmp(bet) != 0) {
			return nil, revert(ledger.ErrNameInsufficientFunds)
		}
		c.lobbies[id] = &lobbyState{
			host:         from,
			bet:          new(big.Int).Set(bet),
			token:        stakeToken,
			participants: []common.Address{from},
			status:       ledger.StatusCreated,
			prize:        new(big.Int).Set(bet),
			public:       args[2].(bool),
			allowlist:    make(map[common.Address]bool),
		}
		if args[2].(bool) {
			c.public = append(c.public, id)
		}
		return nil, nil
	}

	if !exists {
		return nil, revert(ledger.ErrNameLobbyNotFound)
	}

	switch name {
	case ledger.MethodJoinLobby:
		if l.status != ledger.StatusCreated {
			return nil, revert(ledger.ErrNameGameAlreadyStarted)
		}
		for _, p := range l.participants {
			if p == from {
				return nil, revert(ledger.ErrNameAlreadyJoined)
			}
		}
		if l.allowEnabled && !l.allowlist[from] {
			return nil, revert(ledger.ErrNameNotAllowlisted)
		}
		if l.token == (common.Address{}) && value.Cmp(l.bet) != 0 {
			return nil, revert(ledger.ErrNameInsufficientFunds)
		}
		l.participants = append(l.participants, from)
		l.prize.Add(l.prize, l.bet)

	case ledger.MethodCancelLobby:
		if from != l.host && from != c.GameServer {
			return nil, revert(ledger.ErrNameNotHost)
		}
		if l.status != ledger.StatusCreated {
			return nil, revert(ledger.ErrNameGameAlreadyStarted)
		}
		delete(c.lobbies, id)
		for i, p := range c.public {
			if p == id {
				c.public = append(c.public[:i:i], c.public[i+1:]...)
				break
			}
		}

	case ledger.MethodStartGame:
		if from != c.GameServer {
			return nil, revert(ledger.ErrNameNotGameServer)
		}
		if l.status != ledger.StatusCreated {
			return nil, revert(ledger.ErrNameGameAlreadyStarted)
		}
		l.status = ledger.StatusInProgress
		return []types.Log{c.event(ledger.EventGameStarted, []common.Hash{common.Hash(id)})}, nil

	case ledger.MethodDeclareWinner:
		if from != c.GameServer {
			return nil, revert(ledger.ErrNameNotGameServer)
		}
		if l.status != ledger.StatusInProgress {
			return nil, revert(ledger.ErrNameGameNotInProgress)
		}
		winner := args[1].(common.Address)
		found := false
		for _, p := range l.participants {
			if p == winner {
				found = true
			}
		}
		if !found {
			return nil, revert(ledger.ErrNameInvalidWinner)
		}
		l.status = ledger.StatusFinished
		l.winner = winner
		return []types.Log{c.event(ledger.EventWinnerDeclared, []common.Hash{common.Hash(id), common.BytesToHash(winner.Bytes())})}, nil

	case ledger.MethodClaimPrize:
		if l.status == ledger.StatusClaimed {
			return nil, revert(ledger.ErrNamePrizeAlreadyClaimed)
		}
		if l.status != ledger.StatusFinished {
			return nil, revert(ledger.ErrNameGameNotFinished)
		}
		if from != l.winner {
			return nil, revert(ledger.ErrNameNotWinner)
		}
		amount := new(big.Int).Set(l.prize)
		l.status = ledger.StatusClaimed
		l.prize = new(big.Int)
		return []types.Log{c.event(ledger.EventPrizeClaimed, []common.Hash{common.Hash(id), common.BytesToHash(from.Bytes())}, amount)}, nil

	case ledger.MethodAddToAllowlist, ledger.MethodRemoveFromAllowlist:
		if from != l.host {
			return nil, revert(ledger.ErrNameNotHost)
		}
		for _, a := range args[1].([]common.Address) {
			if name == ledger.MethodAddToAllowlist {
				l.allowlist[a] = true
			} else {
				delete(l.allowlist, a)
			}
		}

	case ledger.MethodSetAllowlistEnabled:
		if from != l.host {
			return nil, revert(ledger.ErrNameNotHost)
		}
		l.allowEnabled = args[1].(bool)

	default:
		return nil, fmt.Errorf("ledgertest: method %s not supported", name)
	}
	return nil, nil
}
