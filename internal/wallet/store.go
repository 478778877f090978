// internal/wallet/store.go
package wallet

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultNonceTTL is how long an issued challenge stays valid.
	DefaultNonceTTL = 10 * time.Minute
	// DefaultMaxNonceFailures is how many wrong guesses a challenge survives.
	DefaultMaxNonceFailures = 5

	nonceBytes = 16
)

var (
	ErrMissingSession = errors.New("missing session")
	ErrInvalidAddress = errors.New("invalid wallet address")
	// ErrPersist means a link could not be made durable. The bind did not happen.
	ErrPersist = errors.New("failed to persist wallet link")
)

// Nonce is a single-use link challenge.
type Nonce struct {
	Value     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type pendingNonce struct {
	Nonce
	failures int
}

// Store maps persistent session ids to wallet addresses and tracks the
// pending link challenge of each session.
type Store struct {
	storage     Storage
	hub         *Hub
	now         func() time.Time
	ttl         time.Duration
	maxFailures int

	mu        sync.Mutex
	nonces    map[string]*pendingNonce
	lastSweep time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithNonceTTL sets the challenge lifetime.
func WithNonceTTL(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithMaxNonceFailures drops a challenge after n mismatched attempts. 0 disables the limit.
func WithMaxNonceFailures(n int) StoreOption {
	return func(s *Store) { s.maxFailures = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithHub publishes link changes to h.
func WithHub(h *Hub) StoreOption {
	return func(s *Store) { s.hub = h }
}

// NewStore returns a Store backed by storage.
func NewStore(storage Storage, opts ...StoreOption) *Store {
	s := &Store{
		storage:     storage,
		now:         time.Now,
		ttl:         DefaultNonceTTL,
		maxFailures: DefaultMaxNonceFailures,
		nonces:      make(map[string]*pendingNonce),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueNonce creates a fresh challenge for the session, replacing any pending one.
func (s *Store) IssueNonce(sessionID string) (Nonce, error) {
	if sessionID == "" {
		return Nonce{}, ErrMissingSession
	}
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return Nonce{}, fmt.Errorf("generate nonce: %w", err)
	}
	n := Nonce{Value: hex.EncodeToString(buf), ExpiresAt: s.now().Add(s.ttl)}

	s.mu.Lock()
	// Abandoned challenges are swept at most once per TTL.
	if now := s.now(); now.Sub(s.lastSweep) >= s.ttl {
		s.sweepLocked(now)
	}
	s.nonces[sessionID] = &pendingNonce{Nonce: n}
	s.mu.Unlock()
	return n, nil
}

// SweepNonces drops every expired challenge and returns how many were removed.
func (s *Store) SweepNonces() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *Store) sweepLocked(now time.Time) int {
	n := 0
	for id, p := range s.nonces {
		if !now.Before(p.ExpiresAt) {
			delete(s.nonces, id)
			n++
		}
	}
	s.lastSweep = now
	return n
}

// PendingNonces returns how many challenges are outstanding.
func (s *Store) PendingNonces() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nonces)
}

// ValidateAndConsume reports whether nonce is the session's pending,
// unexpired challenge. A match deletes the challenge so it cannot be replayed;
// a mismatch leaves it in place until it has failed maxFailures times.
func (s *Store) ValidateAndConsume(sessionID, nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.nonces[sessionID]
	if !ok {
		return false
	}
	if !s.now().Before(p.ExpiresAt) {
		delete(s.nonces, sessionID)
		return false
	}
	if subtle.ConstantTimeCompare([]byte(p.Value), []byte(nonce)) != 1 {
		p.failures++
		if s.maxFailures > 0 && p.failures >= s.maxFailures {
			delete(s.nonces, sessionID)
		}
		return false
	}
	delete(s.nonces, sessionID)
	return true
}

// Bind links the session to address. The record is persisted and read back
// before Bind returns; any failure is reported as ErrPersist.
func (s *Store) Bind(ctx context.Context, sessionID, address string) (common.Address, error) {
	if sessionID == "" {
		return common.Address{}, ErrMissingSession
	}
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	addr := common.HexToAddress(address)
	link := Link{Address: addr, UpdatedAt: s.now()}

	if err := s.storage.Put(ctx, sessionID, link); err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrPersist, err)
	}
	got, ok, err := s.storage.Get(ctx, sessionID)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: read back: %v", ErrPersist, err)
	}
	if !ok || got.Address != addr {
		return common.Address{}, fmt.Errorf("%w: read back mismatch", ErrPersist)
	}

	s.hub.Publish(Identity{SessionID: sessionID, Address: addr, Linked: true})
	return addr, nil
}

// Lookup returns the address bound to the session.
func (s *Store) Lookup(ctx context.Context, sessionID string) (common.Address, bool, error) {
	if sessionID == "" {
		return common.Address{}, false, ErrMissingSession
	}
	l, ok, err := s.storage.Get(ctx, sessionID)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("lookup wallet link: %w", err)
	}
	return l.Address, ok, nil
}

// LinkFor returns the full link record of the session.
func (s *Store) LinkFor(ctx context.Context, sessionID string) (Link, bool, error) {
	return s.storage.Get(ctx, sessionID)
}

// Unbind removes the session's link.
func (s *Store) Unbind(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrMissingSession
	}
	if err := s.storage.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	s.hub.Publish(Identity{SessionID: sessionID})
	return nil
}
