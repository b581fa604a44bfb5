package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScheme(t *testing.T) *ProfileScheme {
	t.Helper()
	scheme, err := NewProfileScheme(testKey(t), ChaCha20)
	require.NoError(t, err)
	t.Cleanup(scheme.Close)
	return scheme
}

func TestNewProfileScheme(t *testing.T) {
	t.Run("valid profile key", func(t *testing.T) {
		scheme, err := NewProfileScheme(testKey(t), AESGCM)
		assert.NoError(t, err)
		require.NotNil(t, scheme)
		assert.Equal(t, AESGCM, scheme.Algorithm())
		scheme.Close()
	})

	t.Run("invalid profile key length", func(t *testing.T) {
		scheme, err := NewProfileScheme(make([]byte, 16), AESGCM)
		assert.ErrorIs(t, err, ErrInvalidKeyLength)
		assert.Nil(t, scheme)
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		scheme, err := NewProfileScheme(testKey(t), Algorithm("des"))
		assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
		assert.Nil(t, scheme)
	})
}

func TestProfileSchemeDeterministicFields(t *testing.T) {
	scheme := testScheme(t)

	t.Run("same category encrypts identically", func(t *testing.T) {
		first, err := scheme.EncryptCategory([]byte("credential"))
		require.NoError(t, err)
		second, err := scheme.EncryptCategory([]byte("credential"))
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("different categories differ", func(t *testing.T) {
		first, err := scheme.EncryptCategory([]byte("credential"))
		require.NoError(t, err)
		second, err := scheme.EncryptCategory([]byte("connection"))
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("category round trip", func(t *testing.T) {
		blob, err := scheme.EncryptCategory([]byte("credential"))
		require.NoError(t, err)
		plain, err := scheme.DecryptCategory(blob)
		assert.NoError(t, err)
		assert.Equal(t, []byte("credential"), plain)
	})

	t.Run("name and category purposes are independent", func(t *testing.T) {
		asCategory, err := scheme.EncryptCategory([]byte("item"))
		require.NoError(t, err)
		asName, err := scheme.EncryptName([]byte("item"))
		require.NoError(t, err)
		assert.NotEqual(t, asCategory, asName)
	})

	t.Run("tag name round trip", func(t *testing.T) {
		blob, err := scheme.EncryptTagName([]byte("color"))
		require.NoError(t, err)
		plain, err := scheme.DecryptTagName(blob)
		assert.NoError(t, err)
		assert.Equal(t, []byte("color"), plain)
	})
}

func TestProfileSchemeValue(t *testing.T) {
	scheme := testScheme(t)

	encCategory, err := scheme.EncryptCategory([]byte("credential"))
	require.NoError(t, err)
	encName, err := scheme.EncryptName([]byte("alice"))
	require.NoError(t, err)

	t.Run("randomized per call", func(t *testing.T) {
		first, err := scheme.EncryptValue([]byte("secret"), encCategory, encName)
		require.NoError(t, err)
		second, err := scheme.EncryptValue([]byte("secret"), encCategory, encName)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("round trip", func(t *testing.T) {
		blob, err := scheme.EncryptValue([]byte("secret"), encCategory, encName)
		require.NoError(t, err)
		plain, err := scheme.DecryptValue(blob, encCategory, encName)
		assert.NoError(t, err)
		assert.Equal(t, []byte("secret"), plain)
	})

	t.Run("bound to its row", func(t *testing.T) {
		blob, err := scheme.EncryptValue([]byte("secret"), encCategory, encName)
		require.NoError(t, err)

		otherName, err := scheme.EncryptName([]byte("bob"))
		require.NoError(t, err)
		_, err = scheme.DecryptValue(blob, encCategory, otherName)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("truncated blob", func(t *testing.T) {
		_, err := scheme.DecryptValue([]byte{0x01}, encCategory, encName)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func TestProfileSchemeTags(t *testing.T) {
	scheme := testScheme(t)

	t.Run("blind value is deterministic", func(t *testing.T) {
		first := scheme.BlindTagValue([]byte("blue"))
		second := scheme.BlindTagValue([]byte("blue"))
		assert.Equal(t, first, second)
		assert.NotEqual(t, first, scheme.BlindTagValue([]byte("red")))
	})

	t.Run("tag true-value round trip", func(t *testing.T) {
		blob, err := scheme.EncryptTagValue([]byte("blue"))
		require.NoError(t, err)
		plain, err := scheme.DecryptTagValue(blob)
		assert.NoError(t, err)
		assert.Equal(t, []byte("blue"), plain)
	})

	t.Run("tag true-value is randomized", func(t *testing.T) {
		first, err := scheme.EncryptTagValue([]byte("blue"))
		require.NoError(t, err)
		second, err := scheme.EncryptTagValue([]byte("blue"))
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})
}

func TestProfileSchemeIsolation(t *testing.T) {
	first := testScheme(t)
	second := testScheme(t)

	t.Run("blind values differ across profiles", func(t *testing.T) {
		assert.NotEqual(t, first.BlindTagValue([]byte("blue")), second.BlindTagValue([]byte("blue")))
	})

	t.Run("categories differ across profiles", func(t *testing.T) {
		a, err := first.EncryptCategory([]byte("credential"))
		require.NoError(t, err)
		b, err := second.EncryptCategory([]byte("credential"))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("one profile cannot decrypt another", func(t *testing.T) {
		blob, err := first.EncryptName([]byte("alice"))
		require.NoError(t, err)
		_, err = second.DecryptName(blob)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})
}
