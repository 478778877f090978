package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDomain = "play.example.com"

func newTestLinker(t *testing.T) (*Linker, *memStorage) {
	t.Helper()
	s, _, mem := newTestStore(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewLinker(s, testDomain, logger), mem
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, ch Challenge) LinkRequest {
	t.Helper()
	sig, err := SignMessage(key, ch.Message)
	require.NoError(t, err)
	return LinkRequest{
		Address:   ch.Address.Hex(),
		Message:   ch.Message,
		Signature: sig,
		Nonce:     ch.Nonce,
	}
}

func TestLinkFlow(t *testing.T) {
	l, _ := newTestLinker(t)
	ctx := context.Background()
	key, addr := newKey(t)

	me, err := l.Me(ctx, "session-1")
	require.NoError(t, err)
	assert.False(t, me.Linked)

	ch, err := l.Challenge(ctx, "session-1", strings.ToLower(addr.Hex()))
	require.NoError(t, err)
	require.False(t, ch.AlreadyLinked)
	assert.Contains(t, ch.Message, MessageLabel)
	assert.Contains(t, ch.Message, "Domain: "+testDomain)
	assert.Contains(t, ch.Message, ch.Nonce)

	bound, err := l.Link(ctx, "session-1", signedRequest(t, key, ch))
	require.NoError(t, err)
	assert.Equal(t, addr, bound)

	me, err = l.Me(ctx, "session-1")
	require.NoError(t, err)
	assert.True(t, me.Linked)
	assert.Equal(t, addr, me.Address)

	again, err := l.Challenge(ctx, "session-1", addr.Hex())
	require.NoError(t, err)
	assert.True(t, again.AlreadyLinked, "re-linking the bound address is a no-op")
	assert.Empty(t, again.Nonce)
}

func TestLinkReplayRejected(t *testing.T) {
	l, _ := newTestLinker(t)
	ctx := context.Background()
	key, addr := newKey(t)

	ch, err := l.Challenge(ctx, "session-1", addr.Hex())
	require.NoError(t, err)
	req := signedRequest(t, key, ch)
	_, err = l.Link(ctx, "session-1", req)
	require.NoError(t, err)

	require.NoError(t, l.Unlink(ctx, "session-1"))
	_, err = l.Link(ctx, "session-1", req)
	assert.ErrorIs(t, err, ErrInvalidNonce)
}

func TestLinkWrongSignerConsumesNonce(t *testing.T) {
	l, _ := newTestLinker(t)
	ctx := context.Background()
	_, addr := newKey(t)
	mallory, _ := newKey(t)

	ch, err := l.Challenge(ctx, "session-1", addr.Hex())
	require.NoError(t, err)

	_, err = l.Link(ctx, "session-1", signedRequest(t, mallory, ch))
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	_, ok, _ := l.Store().Lookup(ctx, "session-1")
	assert.False(t, ok, "no partial state")
	assert.False(t, l.Store().ValidateAndConsume("session-1", ch.Nonce), "caller must request a new challenge")
}

func TestLinkTamperedMessage(t *testing.T) {
	l, _ := newTestLinker(t)
	ctx := context.Background()
	key, addr := newKey(t)

	ch, err := l.Challenge(ctx, "session-1", addr.Hex())
	require.NoError(t, err)
	req := signedRequest(t, key, ch)
	req.Message += "\nextra"

	_, err = l.Link(ctx, "session-1", req)
	assert.ErrorIs(t, err, ErrSignatureMismatch, "signature covers exactly the submitted bytes")
}

func TestLinkMessageMustCarryNonce(t *testing.T) {
	l, _ := newTestLinker(t)
	ctx := context.Background()
	key, addr := newKey(t)

	ch, err := l.Challenge(ctx, "session-1", addr.Hex())
	require.NoError(t, err)
	ch.Message = strings.Replace(ch.Message, ch.Nonce, "0000", 1)

	_, err = l.Link(ctx, "session-1", signedRequest(t, key, ch))
	assert.ErrorIs(t, err, ErrMessageMismatch)
}

func TestLinkMissingSession(t *testing.T) {
	l, _ := newTestLinker(t)
	_, err := l.Challenge(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrMissingSession)
	_, err = l.Link(context.Background(), "", LinkRequest{})
	assert.ErrorIs(t, err, ErrMissingSession)
}

func TestLinkPersistFailureSurfaces(t *testing.T) {
	l, mem := newTestLinker(t)
	ctx := context.Background()
	key, addr := newKey(t)
	mem.putErr = errors.New("read-only file system")

	ch, err := l.Challenge(ctx, "session-1", addr.Hex())
	require.NoError(t, err)
	_, err = l.Link(ctx, "session-1", signedRequest(t, key, ch))
	assert.ErrorIs(t, err, ErrPersist)
}

func TestRecoverAddressAcceptsBothRecoveryForms(t *testing.T) {
	key, addr := newKey(t)
	msg := "hello"
	sig, err := crypto.Sign(HashMessage([]byte(msg)), key)
	require.NoError(t, err)

	got, err := RecoverAddress([]byte(msg), "0x"+common.Bytes2Hex(sig))
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	_, err = RecoverAddress([]byte(msg), "0x1234")
	assert.ErrorIs(t, err, ErrMalformedSignature)
}
