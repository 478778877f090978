// internal/ledger/submitter.go
package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/jason-s-yu/tourney/internal/poll"
	"github.com/sirupsen/logrus"
)

// Fixed fee parameters. Dynamic estimation against the target RPC was not
// reliable, so every transaction uses the same limits.
const (
	GasLimit uint64 = 500_000
)

var (
	MaxFeePerGas         = big.NewInt(50 * params.GWei)
	MaxPriorityFeePerGas = big.NewInt(2 * params.GWei)
)

// Transactor sends state-changing calls to the lobby contract from one account.
type Transactor interface {
	From() common.Address
	Submit(ctx context.Context, method string, value *big.Int, args ...interface{}) (common.Hash, error)
}

// SubmissionError is returned when a call could not be broadcast.
type SubmissionError struct {
	Method   string
	Attempts int
	// Fatal marks failures that retrying cannot fix, such as a missing key.
	Fatal bool
	Err   error
}

func (e *SubmissionError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("submit %s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("submit %s: failed after %d attempts: %v", e.Method, e.Attempts, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Submitter signs and broadcasts calls with a single held key. Sequence
// number lookup and broadcast happen under one lock so concurrent callers
// never claim the same nonce.
type Submitter struct {
	backend  Backend
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	policy   poll.Policy
	log      logrus.FieldLogger

	// mu serializes fetch-nonce-then-send for this key.
	mu      sync.Mutex
	chainID *big.Int
}

// SubmitterOption customizes a Submitter.
type SubmitterOption func(*Submitter)

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p poll.Policy) SubmitterOption {
	return func(s *Submitter) { s.policy = p }
}

// WithChainID skips the chain id lookup.
func WithChainID(id *big.Int) SubmitterOption {
	return func(s *Submitter) {
		if id != nil && id.Sign() > 0 {
			s.chainID = new(big.Int).Set(id)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) SubmitterOption {
	return func(s *Submitter) { s.log = l }
}

// NewSubmitter builds a Submitter. A nil key yields a Submitter whose every
// call fails with ErrNoSigningKey.
func NewSubmitter(backend Backend, contract common.Address, key *ecdsa.PrivateKey, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		backend:  backend,
		contract: contract,
		key:      key,
		policy:   poll.Submit,
		log:      logrus.StandardLogger(),
	}
	if key != nil {
		s.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "submitter")
	return s
}

// ParseKey decodes a hex private key, with or without 0x prefix.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) > 1 && (hexKey[:2] == "0x" || hexKey[:2] == "0X") {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return key, nil
}

// Configured reports whether a signing key is present.
func (s *Submitter) Configured() bool {
	return s.key != nil
}

// From returns the signing address.
func (s *Submitter) From() common.Address {
	return s.from
}

// Submit signs and broadcasts a call, retrying with linear backoff. It
// returns as soon as a node accepts the transaction and never waits for it to
// be mined.
func (s *Submitter) Submit(ctx context.Context, method string, value *big.Int, args ...interface{}) (common.Hash, error) {
	if s.key == nil {
		return common.Hash{}, &SubmissionError{Method: method, Fatal: true, Err: ErrNoSigningKey}
	}
	data, err := Pack(method, args...)
	if err != nil {
		return common.Hash{}, &SubmissionError{Method: method, Fatal: true, Err: err}
	}
	if value == nil {
		value = new(big.Int)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		hash     common.Hash
		attempts int
	)
	err = poll.Retry(ctx, s.policy, func(ctx context.Context, attempt int) error {
		attempts = attempt
		h, err := s.send(ctx, data, value)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"method":  method,
				"attempt": attempt,
				"error":   err,
			}).Warn("transaction broadcast failed")
			return err
		}
		hash = h
		return nil
	})
	if err != nil {
		return common.Hash{}, &SubmissionError{Method: method, Attempts: attempts, Err: err}
	}

	s.log.WithFields(logrus.Fields{
		"method":  method,
		"tx":      hash.Hex(),
		"attempt": attempts,
	}).Info("transaction broadcast")
	return hash, nil
}

func (s *Submitter) send(ctx context.Context, data []byte, value *big.Int) (common.Hash, error) {
	if s.chainID == nil {
		id, err := s.backend.ChainID(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("chain id: %w", err)
		}
		s.chainID = id
	}

	// Always fetched fresh: a cached value collides with any transaction
	// sent from this key elsewhere.
	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}

	to := s.contract
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: MaxPriorityFeePerGas,
		GasFeeCap: MaxFeePerGas,
		Gas:       GasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send: %w", err)
	}
	return signed.Hash(), nil
}
