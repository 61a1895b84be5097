// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid presence token")

// Tokens signs and verifies the short-lived JWTs embedded in presence
// websocket URLs. The subject is the player id.
type Tokens struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	ttl        time.Duration // 0 => no exp claim
	now        func() time.Time
}

// NewTokens generates a fresh ed25519 key pair. Tokens issued by one process
// are only valid in that process.
func NewTokens(ttl time.Duration) (*Tokens, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Tokens{privateKey: priv, publicKey: pub, ttl: ttl, now: time.Now}, nil
}

// NewTokensFromPath reads a raw ed25519 key pair from disk so that every
// instance accepts tokens issued by any other.
func NewTokensFromPath(privatePath, publicPath string, ttl time.Duration) (*Tokens, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("malformed ed25519 key files")
	}
	return &Tokens{
		privateKey: ed25519.PrivateKey(privateKeyData),
		publicKey:  ed25519.PublicKey(publicKeyData),
		ttl:        ttl,
		now:        time.Now,
	}, nil
}

// Create returns a signed token with "sub" = playerID.
func (t *Tokens) Create(playerID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": playerID,
		"iat": t.now().Unix(),
	}
	if t.ttl > 0 {
		claims["exp"] = t.now().Add(t.ttl).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(t.privateKey)
}

// Authenticate verifies tokenString and returns its subject.
func (t *Tokens) Authenticate(tokenString string) (string, error) {
	parsed, err := jwt.Parse(tokenString, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.publicKey, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}
	playerID, ok := claims["sub"].(string)
	if !ok || playerID == "" {
		return "", fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return playerID, nil
}
