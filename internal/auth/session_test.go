package auth

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndAuthenticate(t *testing.T) {
	tokens, err := NewTokens(time.Minute)
	require.NoError(t, err)

	signed, err := tokens.Create("player-1")
	require.NoError(t, err)

	sub, err := tokens.Authenticate(signed)
	require.NoError(t, err)
	assert.Equal(t, "player-1", sub)
}

func TestExpiredTokenRejected(t *testing.T) {
	tokens, err := NewTokens(time.Minute)
	require.NoError(t, err)
	start := time.Now()
	tokens.now = func() time.Time { return start }

	signed, err := tokens.Create("player-1")
	require.NoError(t, err)

	tokens.now = func() time.Time { return start.Add(2 * time.Minute) }
	_, err = tokens.Authenticate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestForeignKeyRejected(t *testing.T) {
	a, err := NewTokens(0)
	require.NoError(t, err)
	b, err := NewTokens(0)
	require.NoError(t, err)

	signed, err := a.Create("player-1")
	require.NoError(t, err)
	_, err = b.Authenticate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Authenticate("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokensFromPath(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	dir := t.TempDir()
	privPath := filepath.Join(dir, "key")
	pubPath := filepath.Join(dir, "key.pub")
	require.NoError(t, os.WriteFile(privPath, priv, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o600))

	issuer, err := NewTokensFromPath(privPath, pubPath, time.Minute)
	require.NoError(t, err)
	verifier, err := NewTokensFromPath(privPath, pubPath, time.Minute)
	require.NoError(t, err)

	signed, err := issuer.Create("player-9")
	require.NoError(t, err)
	sub, err := verifier.Authenticate(signed)
	require.NoError(t, err)
	assert.Equal(t, "player-9", sub)

	_, err = NewTokensFromPath(filepath.Join(dir, "missing"), pubPath, 0)
	assert.Error(t, err)
}
