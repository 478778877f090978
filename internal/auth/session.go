// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleGameServer marks tokens minted for the game server itself.
const RoleGameServer = "game_server"

// CookieName is the cookie carrying a session token or persistent id.
const CookieName = "auth_token"

var (
	ErrMissingAuth = errors.New("missing authorization")
	ErrInvalidAuth = errors.New("invalid authorization")
)

// privateKey and publicKey are used for signing and verifying JWT tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenTTL is how long a JWT stays valid (0 => never).
	tokenTTL time.Duration
)

// Session is the caller identity established by a request.
type Session struct {
	ID string
	// Server is true for tokens carrying the game-server role.
	Server bool
	// Persistent is true when the id came from a bare persistent identifier
	// rather than a signed token.
	Persistent bool
}

// Init generates a fresh ed25519 key pair at runtime and sets the token expiration.
func Init(ttl time.Duration) error {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	tokenTTL = ttl
	return nil
}

// InitFromPath reads ed25519 private/public keys from file and sets the token expiration.
func InitFromPath(privatePath, publicPath string, ttl time.Duration) error {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return fmt.Errorf("unexpected ed25519 key sizes %d/%d", len(privateKeyData), len(publicKeyData))
	}

	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	tokenTTL = ttl
	return nil
}

// ParseTTL reads a TOKEN_EXPIRE_TIME style value: "never", "0" or "" mean no expiry.
func ParseTTL(s string) (time.Duration, error) {
	if s == "never" || s == "0" || s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// CreateJWT creates a signed JWT token with "sub" = sessionID.
func CreateJWT(sessionID string) (string, error) {
	return sign(jwt.MapClaims{"sub": sessionID})
}

// CreateServerJWT creates a token carrying the game-server role.
func CreateServerJWT(sessionID string) (string, error) {
	return sign(jwt.MapClaims{"sub": sessionID, "role": RoleGameServer})
}

func sign(claims jwt.MapClaims) (string, error) {
	if privateKey == nil {
		return "", errors.New("auth keys not initialized")
	}
	if tokenTTL != 0 {
		claims["exp"] = time.Now().Add(tokenTTL).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies a JWT string, returns the "sub" field if valid, else an error.
func AuthenticateJWT(tokenString string) (string, error) {
	s, err := parse(tokenString)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

func parse(tokenString string) (Session, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})

	if err != nil {
		return Session{}, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return Session{}, fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, fmt.Errorf("invalid jwt claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Session{}, fmt.Errorf("missing sub in jwt")
	}
	role, _ := claims["role"].(string)
	return Session{ID: sub, Server: role == RoleGameServer}, nil
}

// SessionFromRequest resolves the caller's session from "Authorization:
// Bearer <value>" or the auth_token cookie. The value is either a signed
// session token or a persistent UUID identifier.
func SessionFromRequest(r *http.Request) (Session, error) {
	value := bearer(r.Header.Get("Authorization"))
	if value == "" {
		if c, err := r.Cookie(CookieName); err == nil {
			value = c.Value
		}
	}
	if value == "" {
		return Session{}, ErrMissingAuth
	}

	if strings.Count(value, ".") == 2 {
		s, err := parse(value)
		if err != nil {
			return Session{}, fmt.Errorf("%w: %v", ErrInvalidAuth, err)
		}
		return s, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return Session{}, fmt.Errorf("%w: not a token or persistent id", ErrInvalidAuth)
	}
	return Session{ID: id.String(), Persistent: true}, nil
}

func bearer(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
