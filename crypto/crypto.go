// Package crypto provides the cryptographic capability consumed by the sealbox
// storage engine: AEAD ciphers (AES-256-GCM, ChaCha20-Poly1305), the per-profile
// encryption scheme with deterministic and randomized modes plus blind-tag
// derivation, passphrase key derivation (Argon2id), and the closed set of key
// algorithms handled by the key store.
package crypto

// Algorithm represents the AEAD algorithm used for record encryption.
//
// Both supported algorithms provide authenticated encryption with associated
// data using 256-bit keys, 12-byte nonces and 16-byte authentication tags.
// AESGCM is preferred on CPUs with AES-NI; ChaCha20 performs better in pure
// software and is constant-time everywhere.
type Algorithm string

const (
	// AESGCM is AES-256 in Galois/Counter Mode.
	AESGCM Algorithm = "aes-gcm"

	// ChaCha20 is ChaCha20-Poly1305.
	ChaCha20 Algorithm = "chacha20-poly1305"
)

// KeySize is the key length in bytes required by every supported algorithm.
const KeySize = 32

// AEAD defines authenticated encryption with associated data.
//
// Encrypt generates a fresh random nonce per call. EncryptWithNonce is the
// deterministic entry point used for fields that double as lookup keys; the
// caller is responsible for deriving a nonce that is unique per (key,
// plaintext) pair.
type AEAD interface {
	// Encrypt encrypts plaintext with a random nonce and optional AAD.
	Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error)

	// EncryptWithNonce encrypts plaintext using the provided nonce and AAD.
	EncryptWithNonce(plaintext, nonce, aad []byte) ([]byte, error)

	// Decrypt decrypts ciphertext using the provided nonce and AAD.
	Decrypt(ciphertext, nonce, aad []byte) ([]byte, error)

	// NonceSize returns the nonce length in bytes.
	NonceSize() int
}

// NewCipher creates an AEAD cipher instance for the specified algorithm.
// Returns ErrInvalidKeyLength if key is not 32 bytes or ErrUnsupportedAlgorithm
// if the algorithm is unknown.
func NewCipher(key []byte, alg Algorithm) (AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	switch alg {
	case AESGCM:
		return NewAESGCM(key)
	case ChaCha20:
		return NewChaCha20Poly1305(key)
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}
