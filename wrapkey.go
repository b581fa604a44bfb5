package sealbox

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/allisson/sealbox/crypto"
)

// Wrap-key method descriptors persisted in the store config so an existing
// database records how its wrap key is obtained. The raw method never
// persists key material, only the fact that the caller supplies it.
const (
	wrapMethodRaw       = "raw"
	wrapMethodKDFPrefix = "kdf:argon2id:"
)

// WrapKey is the root secret of a store. It is either caller-supplied raw key
// material or derived from a passphrase with Argon2id and a persisted salt.
// The key bytes live in a memguard enclave for the lifetime of the store and
// are zeroized on close.
type WrapKey struct {
	enclave *memguard.Enclave
	method  string
}

// NewRawWrapKey builds a wrap key from caller-supplied 32-byte key material.
// The input slice is copied into locked memory and wiped.
func NewRawWrapKey(key []byte) (*WrapKey, error) {
	if len(key) != crypto.KeySize {
		return nil, crypto.ErrInvalidKeyLength
	}
	buf := make([]byte, crypto.KeySize)
	copy(buf, key)
	return &WrapKey{
		// NewEnclave wipes buf after sealing it.
		enclave: memguard.NewEnclave(buf),
		method:  wrapMethodRaw,
	}, nil
}

// NewPassphraseWrapKey derives a wrap key from a passphrase with a fresh
// random salt at the given Argon2 level (crypto.LevelInteractive or
// crypto.LevelModerate; empty selects moderate). Used when provisioning.
func NewPassphraseWrapKey(passphrase, level string) (*WrapKey, error) {
	if level == "" {
		level = crypto.LevelModerate
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	method := fmt.Sprintf("%s%s?salt=%s", wrapMethodKDFPrefix, level, hex.EncodeToString(salt))
	return wrapKeyFromMethod(method, passphrase, nil)
}

// wrapKeyFromMethod rebuilds a wrap key from a persisted method descriptor,
// deriving from the passphrase for kdf methods or copying the raw key bytes.
func wrapKeyFromMethod(method, passphrase string, rawKey []byte) (*WrapKey, error) {
	if method == wrapMethodRaw {
		return NewRawWrapKey(rawKey)
	}

	rest, ok := strings.CutPrefix(method, wrapMethodKDFPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: unknown wrap key method %q", ErrInvalidInput, method)
	}
	level, saltPart, ok := strings.Cut(rest, "?salt=")
	if !ok {
		return nil, fmt.Errorf("%w: wrap key method %q has no salt", ErrInvalidInput, method)
	}
	salt, err := hex.DecodeString(saltPart)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap key salt: %v", ErrInvalidInput, err)
	}

	params, err := crypto.ParamsForLevel(level)
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveWrapKey([]byte(passphrase), salt, params)
	if err != nil {
		return nil, err
	}

	return &WrapKey{enclave: memguard.NewEnclave(key), method: method}, nil
}

// Method returns the persisted method descriptor.
func (w *WrapKey) Method() string {
	return w.method
}

// wrap encrypts a profile key under the wrap key with ChaCha20-Poly1305.
func (w *WrapKey) wrap(profileKey []byte) ([]byte, error) {
	buf, err := w.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open wrap key: %v", ErrEncryption, err)
	}
	defer buf.Destroy()

	cipher, err := crypto.NewCipher(buf.Bytes(), crypto.ChaCha20)
	if err != nil {
		return nil, err
	}
	ct, nonce, err := cipher.Encrypt(profileKey, nil)
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

// unwrap decrypts a wrapped profile key. An authentication failure here is
// how a wrong passphrase or wrong raw key surfaces.
func (w *WrapKey) unwrap(blob []byte) ([]byte, error) {
	buf, err := w.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open wrap key: %v", ErrEncryption, err)
	}
	defer buf.Destroy()

	cipher, err := crypto.NewCipher(buf.Bytes(), crypto.ChaCha20)
	if err != nil {
		return nil, err
	}
	if len(blob) < cipher.NonceSize() {
		return nil, ErrDecryption
	}
	return cipher.Decrypt(blob[cipher.NonceSize():], blob[:cipher.NonceSize()], nil)
}
