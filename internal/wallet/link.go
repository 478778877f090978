// internal/wallet/link.go
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

// MessageLabel opens every link message.
const MessageLabel = "Link wallet to game session"

var (
	ErrInvalidNonce       = errors.New("nonce is invalid or expired")
	ErrSignatureMismatch  = errors.New("signature does not match address")
	ErrMessageMismatch    = errors.New("signed message does not match the challenge")
	ErrMalformedSignature = errors.New("malformed signature")
)

// BuildMessage renders the text a wallet signs to prove control of address.
// The timestamp is for the signer's benefit only and is never parsed back.
func BuildMessage(domain string, address common.Address, nonce string, issuedAt time.Time) string {
	var b strings.Builder
	b.WriteString(MessageLabel)
	b.WriteString("\n\nDomain: ")
	b.WriteString(domain)
	b.WriteString("\nAddress: ")
	b.WriteString(address.Hex())
	b.WriteString("\nNonce: ")
	b.WriteString(nonce)
	b.WriteString("\nIssued At: ")
	b.WriteString(issuedAt.UTC().Format(time.RFC3339))
	return b.String()
}

// HashMessage returns the EIP-191 personal_sign digest of msg.
func HashMessage(msg []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg))))
	h.Write(msg)
	return h.Sum(nil)
}

// RecoverAddress returns the signer of msg from a 65-byte hex signature.
func RecoverAddress(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrMalformedSignature, len(sig))
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(HashMessage(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignMessage produces a personal_sign signature, as a wallet would.
func SignMessage(key *ecdsa.PrivateKey, msg string) (string, error) {
	sig, err := crypto.Sign(HashMessage([]byte(msg)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Challenge is the response to a nonce request.
type Challenge struct {
	// AlreadyLinked is set when the session is bound to the claimed address
	// and no challenge was issued.
	AlreadyLinked bool           `json:"alreadyLinked"`
	Address       common.Address `json:"address,omitempty"`
	Nonce         string         `json:"nonce,omitempty"`
	ExpiresAt     time.Time      `json:"expiresAt,omitempty"`
	Domain        string         `json:"domain"`
	Message       string         `json:"message,omitempty"`
}

// LinkRequest is a signed challenge submitted by a wallet.
type LinkRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
}

// Linker runs the nonce, sign, verify, bind flow.
type Linker struct {
	store  *Store
	domain string
	now    func() time.Time
	log    logrus.FieldLogger
}

// NewLinker returns a Linker issuing messages for domain.
func NewLinker(store *Store, domain string, logger logrus.FieldLogger) *Linker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Linker{
		store:  store,
		domain: domain,
		now:    store.now,
		log:    logger.WithField("component", "wallet_linker"),
	}
}

// Store returns the underlying identity store.
func (l *Linker) Store() *Store {
	return l.store
}

// Me returns the session's current identity.
func (l *Linker) Me(ctx context.Context, sessionID string) (Identity, error) {
	addr, ok, err := l.store.Lookup(ctx, sessionID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{SessionID: sessionID, Address: addr, Linked: ok}, nil
}

// Challenge issues a nonce unless the session is already bound to claimed.
// claimed may be empty.
func (l *Linker) Challenge(ctx context.Context, sessionID, claimed string) (Challenge, error) {
	if sessionID == "" {
		return Challenge{}, ErrMissingSession
	}
	var addr common.Address
	if claimed != "" {
		if !common.IsHexAddress(claimed) {
			return Challenge{}, fmt.Errorf("%w: %q", ErrInvalidAddress, claimed)
		}
		addr = common.HexToAddress(claimed)
		bound, ok, err := l.store.Lookup(ctx, sessionID)
		if err != nil {
			return Challenge{}, err
		}
		if ok && bound == addr {
			return Challenge{AlreadyLinked: true, Address: addr, Domain: l.domain}, nil
		}
	}

	n, err := l.store.IssueNonce(sessionID)
	if err != nil {
		return Challenge{}, err
	}
	ch := Challenge{Address: addr, Nonce: n.Value, ExpiresAt: n.ExpiresAt, Domain: l.domain}
	if claimed != "" {
		ch.Message = BuildMessage(l.domain, addr, n.Value, l.now())
	}
	return ch, nil
}

// Link verifies a signed challenge and binds the session to the signer. The
// nonce is consumed before the signature is checked, so any failure after
// that point requires a new challenge.
func (l *Linker) Link(ctx context.Context, sessionID string, req LinkRequest) (common.Address, error) {
	if sessionID == "" {
		return common.Address{}, ErrMissingSession
	}
	if !common.IsHexAddress(req.Address) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, req.Address)
	}
	addr := common.HexToAddress(req.Address)
	log := l.log.WithFields(logrus.Fields{"session": sessionID, "address": addr.Hex()})

	if !l.store.ValidateAndConsume(sessionID, req.Nonce) {
		log.Info("wallet link rejected: bad nonce")
		return common.Address{}, ErrInvalidNonce
	}

	if err := l.checkMessage(req.Message, addr, req.Nonce); err != nil {
		log.WithError(err).Info("wallet link rejected: message mismatch")
		return common.Address{}, err
	}
	signer, err := RecoverAddress([]byte(req.Message), req.Signature)
	if err != nil {
		log.WithError(err).Info("wallet link rejected: bad signature")
		return common.Address{}, err
	}
	if signer != addr {
		log.WithField("signer", signer.Hex()).Info("wallet link rejected: signer mismatch")
		return common.Address{}, ErrSignatureMismatch
	}

	bound, err := l.store.Bind(ctx, sessionID, addr.Hex())
	if err != nil {
		log.WithError(err).Error("wallet link not persisted")
		return common.Address{}, err
	}
	log.Info("wallet linked")
	return bound, nil
}

// Unlink removes the session's wallet binding.
func (l *Linker) Unlink(ctx context.Context, sessionID string) error {
	return l.store.Unbind(ctx, sessionID)
}

func (l *Linker) checkMessage(msg string, addr common.Address, nonce string) error {
	if !strings.HasPrefix(msg, MessageLabel) {
		return fmt.Errorf("%w: missing label", ErrMessageMismatch)
	}
	if !strings.Contains(msg, "Nonce: "+nonce) {
		return fmt.Errorf("%w: nonce", ErrMessageMismatch)
	}
	if !strings.Contains(strings.ToLower(msg), "address: "+strings.ToLower(addr.Hex())) {
		return fmt.Errorf("%w: address", ErrMessageMismatch)
	}
	if l.domain != "" && !strings.Contains(msg, "Domain: "+l.domain) {
		return fmt.Errorf("%w: domain", ErrMessageMismatch)
	}
	return nil
}
