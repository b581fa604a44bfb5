package crypto

import "errors"

// Cryptographic operation errors. All of them are terminal for the operation
// that produced them: retrying an authenticated-encryption failure with the
// same inputs cannot change the outcome.
var (
	// ErrUnsupportedAlgorithm indicates the requested algorithm is not in the
	// supported set.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrInvalidKeyLength indicates key material of the wrong size was supplied.
	ErrInvalidKeyLength = errors.New("invalid key length")

	// ErrEncryptionFailed indicates the underlying primitive failed during
	// encryption (for example nonce generation).
	ErrEncryptionFailed = errors.New("encryption failed")

	// ErrDecryptionFailed indicates an authentication failure during
	// decryption: corrupted data, wrong key, or wrong profile. The specific
	// cause is deliberately not disclosed.
	ErrDecryptionFailed = errors.New("decryption failed")
)
