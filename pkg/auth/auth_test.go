package auth

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/sign"
)

func TestAllowAll(t *testing.T) {
	assert.NoError(t, AllowAll{}.Require("anyone"))
}

func TestGrantAndRequire(t *testing.T) {
	pub, priv, err := sign.GenerateKey(rand.Reader)
	require.NoError(t, err)

	r := NewRegistry(time.Minute)
	r.RegisterKey("alice", pub)

	assert.ErrorIs(t, r.Require("alice"), ErrNotAuthorized)

	signed := sign.Sign(nil, GrantMessage("alice", 1), priv)
	require.NoError(t, r.Grant("alice", 1, signed))
	assert.NoError(t, r.Require("alice"))
}

func TestGrantValidation(t *testing.T) {
	pub, priv, err := sign.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, otherPriv, err := sign.GenerateKey(rand.Reader)
	require.NoError(t, err)

	r := NewRegistry(time.Minute)
	r.RegisterKey("alice", pub)

	t.Run("unknown principal", func(t *testing.T) {
		signed := sign.Sign(nil, GrantMessage("bob", 1), priv)
		assert.ErrorIs(t, r.Grant("bob", 1, signed), ErrUnknownPrincipal)
	})

	t.Run("wrong key", func(t *testing.T) {
		signed := sign.Sign(nil, GrantMessage("alice", 1), otherPriv)
		assert.ErrorIs(t, r.Grant("alice", 1, signed), ErrBadSignature)
	})

	t.Run("message mismatch", func(t *testing.T) {
		signed := sign.Sign(nil, GrantMessage("alice", 2), priv)
		assert.ErrorIs(t, r.Grant("alice", 3, signed), ErrBadSignature)
	})

	t.Run("replayed nonce", func(t *testing.T) {
		signed := sign.Sign(nil, GrantMessage("alice", 5), priv)
		require.NoError(t, r.Grant("alice", 5, signed))
		assert.ErrorIs(t, r.Grant("alice", 5, signed), ErrStaleNonce)

		old := sign.Sign(nil, GrantMessage("alice", 4), priv)
		assert.ErrorIs(t, r.Grant("alice", 4, old), ErrStaleNonce)
	})
}

func TestGrantExpiry(t *testing.T) {
	pub, priv, err := sign.GenerateKey(rand.Reader)
	require.NoError(t, err)

	r := NewRegistry(time.Minute)
	r.RegisterKey("alice", pub)

	base := time.Now()
	r.now = func() time.Time { return base }

	signed := sign.Sign(nil, GrantMessage("alice", 1), priv)
	require.NoError(t, r.Grant("alice", 1, signed))
	assert.NoError(t, r.Require("alice"))

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.ErrorIs(t, r.Require("alice"), ErrNotAuthorized)
}
