// internal/tournament/orchestrator.go
package tournament

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jason-s-yu/tourney/internal/ledger"
	"github.com/jason-s-yu/tourney/internal/poll"
	"github.com/sirupsen/logrus"
)

// Actions a client can prepare or track.
const (
	ActionCreate       = "create"
	ActionJoin         = "join"
	ActionCancel       = "cancel"
	ActionStart        = "start"
	ActionDeclare      = "declare"
	ActionClaim        = "claim"
	ActionAllowlist    = "allowlist"
	ActionAllowlistAdd = "allowlist_add"
	ActionAllowlistDel = "allowlist_remove"
)

// Lifecycle is the game-server side of a lobby. It is told about ledger
// transitions after they are confirmed.
type Lifecycle interface {
	GameStarted(ctx context.Context, lobby *ledger.Lobby)
	WinnerDeclared(ctx context.Context, lobby *ledger.Lobby)
	LobbyCancelled(ctx context.Context, id ledger.LobbyID)
}

// NopLifecycle ignores every notification.
type NopLifecycle struct{}

func (NopLifecycle) GameStarted(context.Context, *ledger.Lobby)     {}
func (NopLifecycle) WinnerDeclared(context.Context, *ledger.Lobby)  {}
func (NopLifecycle) LobbyCancelled(context.Context, ledger.LobbyID) {}

// Expectation reports whether a lobby read reflects a write. l is nil when the
// lobby does not exist.
type Expectation func(l *ledger.Lobby) bool

// Outcome describes a write. Confirmed is false when the expected state was
// not observed in time; TxHash and Lobby then let the player check the
// ledger themselves.
type Outcome struct {
	Action    string        `json:"action"`
	TxHash    common.Hash   `json:"txHash"`
	Confirmed bool          `json:"confirmed"`
	Lobby     *ledger.Lobby `json:"lobby,omitempty"`
}

// CreateParams describes a new lobby.
type CreateParams struct {
	ID     ledger.LobbyID
	Stake  *big.Int
	Token  common.Address
	Public bool
}

// PreparedCall is an unsigned contract call for a wallet to sign off-box.
type PreparedCall struct {
	Action               string         `json:"action"`
	LobbyID              ledger.LobbyID `json:"lobbyId"`
	From                 common.Address `json:"from"`
	To                   common.Address `json:"to"`
	Data                 hexutil.Bytes  `json:"data"`
	Value                *hexutil.Big   `json:"value"`
	Gas                  hexutil.Uint64 `json:"gas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
}

// PrepareRequest names an action and its arguments. Fields not used by the
// action are ignored.
type PrepareRequest struct {
	Action   string
	ID       ledger.LobbyID
	Stake    *big.Int
	Token    common.Address
	Public   bool
	Enabled  bool
	Accounts []common.Address
}

// call is a planned contract write.
type call struct {
	action string
	id     ledger.LobbyID
	from   common.Address
	method string
	value  *big.Int
	args   []interface{}
	expect Expectation
}

// Orchestrator runs lobby flows against the ledger: local pre-checks,
// simulation, submission, receipt wait and state convergence.
type Orchestrator struct {
	reader    *ledger.Reader
	backend   ledger.Backend
	server    ledger.Transactor
	lifecycle Lifecycle
	confirm   poll.Policy
	state     poll.Policy
	log       logrus.FieldLogger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPolicies sets the receipt and state polling policies.
func WithPolicies(confirm, state poll.Policy) Option {
	return func(o *Orchestrator) {
		o.confirm = confirm
		o.state = state
	}
}

// WithLifecycle sets the game-server collaborator.
func WithLifecycle(l Lifecycle) Option {
	return func(o *Orchestrator) { o.lifecycle = l }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New returns an Orchestrator. server signs start, declare and cancel; it
// may be nil or an unconfigured Submitter, in which case those flows fail
// with KindUnconfigured and everything else keeps working.
func New(reader *ledger.Reader, backend ledger.Backend, server ledger.Transactor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reader:    reader,
		backend:   backend,
		server:    server,
		lifecycle: NopLifecycle{},
		confirm:   poll.Confirm,
		state:     poll.State,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.WithField("component", "orchestrator")
	return o
}

// Reader returns the ledger reader.
func (o *Orchestrator) Reader() *ledger.Reader {
	return o.reader
}

// ServerConfigured reports whether server-initiated writes are available.
func (o *Orchestrator) ServerConfigured() bool {
	return configured(o.server)
}

func configured(tx ledger.Transactor) bool {
	if tx == nil {
		return false
	}
	if c, ok := tx.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}

// CreateLobby opens a lobby with the signer as host and first participant.
func (o *Orchestrator) CreateLobby(ctx context.Context, tx ledger.Transactor, p CreateParams) (Outcome, error) {
	return o.player(ctx, tx, ActionCreate, func(from common.Address) (call, error) {
		return o.planCreate(from, p)
	})
}

// JoinLobby adds the signer to a lobby, paying the stake.
func (o *Orchestrator) JoinLobby(ctx context.Context, tx ledger.Transactor, id ledger.LobbyID) (Outcome, error) {
	return o.player(ctx, tx, ActionJoin, func(from common.Address) (call, error) {
		return o.planJoin(ctx, from, id)
	})
}

// ClaimPrize withdraws the prize to the winner.
func (o *Orchestrator) ClaimPrize(ctx context.Context, tx ledger.Transactor, id ledger.LobbyID) (Outcome, error) {
	return o.player(ctx, tx, ActionClaim, func(common.Address) (call, error) {
		return o.planClaim(ctx, id)
	})
}

// SetAllowlist turns the lobby allowlist on or off. Only the host may.
func (o *Orchestrator) SetAllowlist(ctx context.Context, tx ledger.Transactor, id ledger.LobbyID, enabled bool) (Outcome, error) {
	return o.player(ctx, tx, ActionAllowlist, func(common.Address) (call, error) {
		return o.planSetAllowlist(id, enabled), nil
	})
}

// UpdateAllowlist adds or removes allowlist members.
func (o *Orchestrator) UpdateAllowlist(ctx context.Context, tx ledger.Transactor, id ledger.LobbyID, add bool, accounts []common.Address) (Outcome, error) {
	action := ActionAllowlistDel
	if add {
		action = ActionAllowlistAdd
	}
	return o.player(ctx, tx, action, func(common.Address) (call, error) {
		return o.planUpdateAllowlist(id, add, accounts), nil
	})
}

func (o *Orchestrator) player(ctx context.Context, tx ledger.Transactor, action string, plan func(from common.Address) (call, error)) (Outcome, error) {
	if !configured(tx) {
		return Outcome{Action: action}, classify(action, ledger.ErrNoSigningKey)
	}
	c, err := plan(tx.From())
	if err != nil {
		return Outcome{Action: action}, classify(action, err)
	}
	return o.execute(ctx, tx, c)
}

// StartGame moves a lobby to InProgress with the server key.
func (o *Orchestrator) StartGame(ctx context.Context, id ledger.LobbyID) (Outcome, error) {
	out, err := o.serverExecute(ctx, call{
		action: ActionStart,
		id:     id,
		method: ledger.MethodStartGame,
		args:   []interface{}{id.Key()},
		expect: expectFor(ActionStart, common.Address{}, common.Address{}),
	})
	if err == nil && out.Confirmed {
		o.lifecycle.GameStarted(ctx, out.Lobby)
	}
	return out, err
}

// DeclareWinner records the winner with the server key. The winner must
// already be a participant.
func (o *Orchestrator) DeclareWinner(ctx context.Context, id ledger.LobbyID, winner common.Address) (Outcome, error) {
	l, err := o.fetch(ctx, id)
	if err != nil {
		return Outcome{Action: ActionDeclare}, classify(ActionDeclare, err)
	}
	if !l.HasParticipant(winner) {
		return Outcome{Action: ActionDeclare, Lobby: l}, classify(ActionDeclare, ErrNotParticipant)
	}
	out, err := o.serverExecute(ctx, call{
		action: ActionDeclare,
		id:     id,
		method: ledger.MethodDeclareWinner,
		args:   []interface{}{id.Key(), winner},
		expect: expectFor(ActionDeclare, common.Address{}, winner),
	})
	if err == nil && out.Confirmed {
		o.lifecycle.WinnerDeclared(ctx, out.Lobby)
	}
	return out, err
}

// CancelLobby removes a lobby that has not started, with the server key.
func (o *Orchestrator) CancelLobby(ctx context.Context, id ledger.LobbyID) (Outcome, error) {
	out, err := o.serverExecute(ctx, o.planCancel(id))
	if err == nil && out.Confirmed {
		o.lifecycle.LobbyCancelled(ctx, id)
	}
	return out, err
}

// Prepare runs the pre-checks and simulation for a player action and returns
// the unsigned call for the player's wallet.
func (o *Orchestrator) Prepare(ctx context.Context, from common.Address, req PrepareRequest) (*PreparedCall, error) {
	c, err := o.plan(ctx, from, req)
	if err != nil {
		return nil, classify(req.Action, err)
	}
	if err := o.reader.Simulate(ctx, from, c.value, c.method, c.args...); err != nil {
		return nil, classify(c.action, err)
	}
	data, err := ledger.Pack(c.method, c.args...)
	if err != nil {
		return nil, classify(c.action, err)
	}
	value := c.value
	if value == nil {
		value = new(big.Int)
	}
	return &PreparedCall{
		Action:               c.action,
		LobbyID:              c.id,
		From:                 from,
		To:                   o.reader.Contract(),
		Data:                 data,
		Value:                (*hexutil.Big)(value),
		Gas:                  hexutil.Uint64(ledger.GasLimit),
		MaxFeePerGas:         (*hexutil.Big)(ledger.MaxFeePerGas),
		MaxPriorityFeePerGas: (*hexutil.Big)(ledger.MaxPriorityFeePerGas),
	}, nil
}

// Track waits for a transaction the client broadcast itself and then for the
// lobby to reflect action. from is the sender; winner is only used for
// ActionDeclare.
func (o *Orchestrator) Track(ctx context.Context, action string, id ledger.LobbyID, from, winner common.Address, hash common.Hash) (Outcome, error) {
	expect := expectFor(action, from, winner)
	if expect == nil {
		return Outcome{Action: action}, classify(action, ErrUnknownAction)
	}
	return o.await(ctx, call{action: action, id: id, from: from, expect: expect}, hash)
}

func (o *Orchestrator) plan(ctx context.Context, from common.Address, req PrepareRequest) (call, error) {
	switch req.Action {
	case ActionCreate:
		return o.planCreate(from, CreateParams{ID: req.ID, Stake: req.Stake, Token: req.Token, Public: req.Public})
	case ActionJoin:
		return o.planJoin(ctx, from, req.ID)
	case ActionClaim:
		return o.planClaim(ctx, req.ID)
	case ActionCancel:
		return o.planCancel(req.ID), nil
	case ActionAllowlist:
		return o.planSetAllowlist(req.ID, req.Enabled), nil
	case ActionAllowlistAdd, ActionAllowlistDel:
		return o.planUpdateAllowlist(req.ID, req.Action == ActionAllowlistAdd, req.Accounts), nil
	}
	return call{}, ErrUnknownAction
}

func (o *Orchestrator) planCreate(from common.Address, p CreateParams) (call, error) {
	if p.Stake == nil || p.Stake.Sign() <= 0 {
		return call{}, ErrInvalidStake
	}
	var value *big.Int
	if p.Token == (common.Address{}) {
		value = p.Stake
	}
	return call{
		action: ActionCreate,
		id:     p.ID,
		method: ledger.MethodCreateLobby,
		value:  value,
		args:   []interface{}{p.ID.Key(), p.Stake, p.Public, p.Token},
		expect: expectFor(ActionCreate, from, common.Address{}),
	}, nil
}

func (o *Orchestrator) planJoin(ctx context.Context, from common.Address, id ledger.LobbyID) (call, error) {
	l, err := o.fetch(ctx, id)
	if err != nil {
		return call{}, err
	}
	if l.HasParticipant(from) {
		return call{}, ErrAlreadyParticipant
	}
	if l.Status != ledger.StatusCreated {
		return call{}, ErrNotJoinable
	}
	if l.AllowlistEnabled {
		ok, err := o.reader.IsAllowlisted(ctx, id, from)
		if err != nil {
			return call{}, err
		}
		if !ok {
			return call{}, ErrNotAllowlisted
		}
	}
	var value *big.Int
	if l.IsNative() {
		value = l.Stake
	}
	return call{
		action: ActionJoin,
		id:     id,
		method: ledger.MethodJoinLobby,
		value:  value,
		args:   []interface{}{id.Key()},
		expect: expectFor(ActionJoin, from, common.Address{}),
	}, nil
}

func (o *Orchestrator) planClaim(ctx context.Context, id ledger.LobbyID) (call, error) {
	if _, err := o.fetch(ctx, id); err != nil {
		return call{}, err
	}
	return call{
		action: ActionClaim,
		id:     id,
		method: ledger.MethodClaimPrize,
		args:   []interface{}{id.Key()},
		expect: expectFor(ActionClaim, common.Address{}, common.Address{}),
	}, nil
}

func (o *Orchestrator) planCancel(id ledger.LobbyID) call {
	return call{
		action: ActionCancel,
		id:     id,
		method: ledger.MethodCancelLobby,
		args:   []interface{}{id.Key()},
		expect: expectFor(ActionCancel, common.Address{}, common.Address{}),
	}
}

func (o *Orchestrator) planSetAllowlist(id ledger.LobbyID, enabled bool) call {
	return call{
		action: ActionAllowlist,
		id:     id,
		method: ledger.MethodSetAllowlistEnabled,
		args:   []interface{}{id.Key(), enabled},
		expect: func(l *ledger.Lobby) bool { return l != nil && l.AllowlistEnabled == enabled },
	}
}

func (o *Orchestrator) planUpdateAllowlist(id ledger.LobbyID, add bool, accounts []common.Address) call {
	c := call{
		action: ActionAllowlistDel,
		id:     id,
		method: ledger.MethodRemoveFromAllowlist,
		args:   []interface{}{id.Key(), accounts},
		expect: func(l *ledger.Lobby) bool { return l != nil },
	}
	if add {
		c.action = ActionAllowlistAdd
		c.method = ledger.MethodAddToAllowlist
	}
	return c
}

// expectFor returns the converged-state check for action, or nil.
func expectFor(action string, from, winner common.Address) Expectation {
	switch action {
	case ActionCreate:
		return func(l *ledger.Lobby) bool { return l != nil && l.Host == from }
	case ActionJoin:
		return func(l *ledger.Lobby) bool { return l != nil && l.HasParticipant(from) }
	case ActionCancel:
		return func(l *ledger.Lobby) bool { return l == nil }
	case ActionStart:
		return func(l *ledger.Lobby) bool { return l != nil && l.Status >= ledger.StatusInProgress }
	case ActionDeclare:
		return func(l *ledger.Lobby) bool {
			if l == nil || l.Status < ledger.StatusFinished || !l.HasWinner() {
				return false
			}
			return winner == (common.Address{}) || l.Winner == winner
		}
	case ActionClaim:
		return func(l *ledger.Lobby) bool { return l != nil && l.Status == ledger.StatusClaimed }
	case ActionAllowlist, ActionAllowlistAdd, ActionAllowlistDel:
		return func(l *ledger.Lobby) bool { return l != nil }
	}
	return nil
}

func (o *Orchestrator) fetch(ctx context.Context, id ledger.LobbyID) (*ledger.Lobby, error) {
	l, err := o.reader.FetchLobby(ctx, id)
	if errors.Is(err, ledger.ErrLobbyNotFound) {
		return nil, ErrNotFound
	}
	return l, err
}

func (o *Orchestrator) serverExecute(ctx context.Context, c call) (Outcome, error) {
	if !configured(o.server) {
		return Outcome{Action: c.action}, classify(c.action, ledger.ErrNoSigningKey)
	}
	return o.execute(ctx, o.server, c)
}

// execute simulates c as tx's sender, submits it and waits for convergence.
// A simulated revert stops the flow before anything is broadcast.
func (o *Orchestrator) execute(ctx context.Context, tx ledger.Transactor, c call) (Outcome, error) {
	out := Outcome{Action: c.action}
	if !configured(tx) {
		return out, classify(c.action, ledger.ErrNoSigningKey)
	}
	c.from = tx.From()
	fields := logrus.Fields{"lobby": c.id.String(), "action": c.action, "from": c.from.Hex()}

	if err := o.reader.Simulate(ctx, c.from, c.value, c.method, c.args...); err != nil {
		o.log.WithFields(fields).WithError(err).Info("call rejected in simulation")
		return out, classify(c.action, err)
	}

	hash, err := tx.Submit(ctx, c.method, c.value, c.args...)
	if err != nil {
		o.log.WithFields(fields).WithError(err).Warn("submission failed")
		return out, classify(c.action, err)
	}
	o.log.WithFields(fields).WithField("tx", hash.Hex()).Info("transaction submitted")
	return o.await(ctx, c, hash)
}

// await waits for hash to be mined and then for the lobby to satisfy
// c.expect. Exhausting either wait yields an ambiguous result, not a failure.
func (o *Orchestrator) await(ctx context.Context, c call, hash common.Hash) (Outcome, error) {
	out := Outcome{Action: c.action, TxHash: hash}
	fields := logrus.Fields{"lobby": c.id.String(), "action": c.action, "tx": hash.Hex()}

	_, err := ledger.WaitMined(ctx, o.backend, hash, o.confirm)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrNotConfirmed):
		o.log.WithFields(fields).Warn("receipt not observed, polling lobby state")
	case errors.Is(err, ledger.ErrReverted):
		// The receipt carries no reason; re-simulating usually names it.
		cause := err
		if c.method != "" {
			if simErr := o.reader.Simulate(ctx, c.from, c.value, c.method, c.args...); simErr != nil {
				cause = errors.Join(err, simErr)
			}
		}
		e := classify(c.action, cause)
		e.TxHash = hash
		out.Lobby, _ = o.reader.GetLobby(ctx, c.id)
		return out, e
	default:
		e := classify(c.action, err)
		e.TxHash = hash
		return out, e
	}

	ok, err := poll.Until(ctx, o.state, func(ctx context.Context) (bool, error) {
		l, err := o.reader.FetchLobby(ctx, c.id)
		switch {
		case errors.Is(err, ledger.ErrLobbyNotFound):
			out.Lobby = nil
		case err != nil:
			return false, err
		default:
			out.Lobby = l
		}
		return c.expect(out.Lobby), nil
	})
	if err != nil {
		e := classify(c.action, err)
		e.TxHash = hash
		return out, e
	}
	if !ok {
		o.log.WithFields(fields).Warn("lobby state did not converge")
		return out, ambiguous(c.action, hash)
	}
	out.Confirmed = true
	o.log.WithFields(fields).Info("transaction confirmed")
	return out, nil
}
