package sealbox

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/sealbox/crypto"
)

func TestNewRawWrapKey(t *testing.T) {
	t.Run("valid key", func(t *testing.T) {
		key := make([]byte, crypto.KeySize)
		_, err := rand.Read(key)
		require.NoError(t, err)

		wk, err := NewRawWrapKey(key)
		require.NoError(t, err)
		assert.Equal(t, "raw", wk.Method())
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := NewRawWrapKey(make([]byte, 16))
		assert.ErrorIs(t, err, crypto.ErrInvalidKeyLength)
	})
}

func TestWrapUnwrap(t *testing.T) {
	key := make([]byte, crypto.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	wk, err := NewRawWrapKey(key)
	require.NoError(t, err)

	profileKey, err := generateProfileKey()
	require.NoError(t, err)

	wrapped, err := wk.wrap(profileKey)
	require.NoError(t, err)
	assert.NotContains(t, string(wrapped), string(profileKey))

	t.Run("round trip", func(t *testing.T) {
		unwrapped, err := wk.unwrap(wrapped)
		require.NoError(t, err)
		assert.Equal(t, profileKey, unwrapped)
	})

	t.Run("different wrap key fails", func(t *testing.T) {
		otherRaw := make([]byte, crypto.KeySize)
		_, err := rand.Read(otherRaw)
		require.NoError(t, err)
		other, err := NewRawWrapKey(otherRaw)
		require.NoError(t, err)

		_, err = other.unwrap(wrapped)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("truncated blob fails", func(t *testing.T) {
		_, err := wk.unwrap(wrapped[:4])
		assert.ErrorIs(t, err, ErrDecryption)
	})
}

func TestPassphraseWrapKey(t *testing.T) {
	wk, err := NewPassphraseWrapKey("open sesame", crypto.LevelInteractive)
	require.NoError(t, err)

	t.Run("method records level and salt", func(t *testing.T) {
		assert.True(t, strings.HasPrefix(wk.Method(), "kdf:argon2id:int?salt="))
	})

	t.Run("method round trips with the passphrase", func(t *testing.T) {
		rebuilt, err := wrapKeyFromMethod(wk.Method(), "open sesame", nil)
		require.NoError(t, err)

		profileKey, err := generateProfileKey()
		require.NoError(t, err)
		wrapped, err := wk.wrap(profileKey)
		require.NoError(t, err)

		unwrapped, err := rebuilt.unwrap(wrapped)
		require.NoError(t, err)
		assert.Equal(t, profileKey, unwrapped)
	})

	t.Run("wrong passphrase cannot unwrap", func(t *testing.T) {
		rebuilt, err := wrapKeyFromMethod(wk.Method(), "wrong horse", nil)
		require.NoError(t, err)

		profileKey, err := generateProfileKey()
		require.NoError(t, err)
		wrapped, err := wk.wrap(profileKey)
		require.NoError(t, err)

		_, err = rebuilt.unwrap(wrapped)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("unknown method is rejected", func(t *testing.T) {
		_, err := wrapKeyFromMethod("kdf:scrypt:mod?salt=00", "x", nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("missing salt is rejected", func(t *testing.T) {
		_, err := wrapKeyFromMethod("kdf:argon2id:int", "x", nil)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}
