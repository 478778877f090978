package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionFromBearerToken(t *testing.T) {
	require.NoError(t, Init(time.Hour))
	token, err := CreateJWT("session-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/wallet/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s, err := SessionFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "session-1", s.ID)
	assert.False(t, s.Server)
	assert.False(t, s.Persistent)
}

func TestSessionFromPersistentID(t *testing.T) {
	require.NoError(t, Init(0))
	id := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/wallet/me", nil)
	req.Header.Set("Authorization", "bearer "+id.String())
	s, err := SessionFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, id.String(), s.ID)
	assert.True(t, s.Persistent)

	cookieReq := httptest.NewRequest(http.MethodGet, "/wallet/me", nil)
	cookieReq.AddCookie(&http.Cookie{Name: CookieName, Value: id.String()})
	s, err = SessionFromRequest(cookieReq)
	require.NoError(t, err)
	assert.Equal(t, id.String(), s.ID)
}

func TestSessionRejected(t *testing.T) {
	require.NoError(t, Init(0))

	req := httptest.NewRequest(http.MethodGet, "/wallet/me", nil)
	_, err := SessionFromRequest(req)
	assert.ErrorIs(t, err, ErrMissingAuth)

	req.Header.Set("Authorization", "Bearer not-a-uuid")
	_, err = SessionFromRequest(req)
	assert.ErrorIs(t, err, ErrInvalidAuth)

	token, err := CreateJWT("session-1")
	require.NoError(t, err)
	// A token signed by an earlier key pair no longer verifies.
	require.NoError(t, Init(0))
	req.Header.Set("Authorization", "Bearer "+token)
	_, err = SessionFromRequest(req)
	assert.ErrorIs(t, err, ErrInvalidAuth)
}

func TestServerRole(t *testing.T) {
	require.NoError(t, Init(0))
	token, err := CreateServerJWT("game-server")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/tournament/start", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s, err := SessionFromRequest(req)
	require.NoError(t, err)
	assert.True(t, s.Server)

	sub, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "game-server", sub)
}

func TestParseTTL(t *testing.T) {
	for _, never := range []string{"", "0", "never"} {
		d, err := ParseTTL(never)
		require.NoError(t, err)
		assert.Zero(t, d)
	}
	d, err := ParseTTL("72h")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, d)
	_, err = ParseTTL("soon")
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	require.NoError(t, Init(-time.Minute))
	token, err := CreateJWT("session-1")
	require.NoError(t, err)
	_, err = AuthenticateJWT(token)
	assert.Error(t, err)
}
