package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"golang.org/x/crypto/curve25519"
)

// KeyAlg identifies a managed key algorithm. The set is closed and
// security-reviewed: adding an algorithm means extending the switch statements
// below, not registering an open-ended implementation.
type KeyAlg string

const (
	// KeyAlgAES256GCM is a 256-bit AES-GCM symmetric encryption key.
	KeyAlgAES256GCM KeyAlg = "a256gcm"
	// KeyAlgChaCha20 is a 256-bit ChaCha20-Poly1305 symmetric encryption key.
	KeyAlgChaCha20 KeyAlg = "c20p"
	// KeyAlgEd25519 is an Ed25519 signing key.
	KeyAlgEd25519 KeyAlg = "ed25519"
	// KeyAlgX25519 is an X25519 key-exchange key.
	KeyAlgX25519 KeyAlg = "x25519"
	// KeyAlgP256 is a NIST P-256 ECDSA signing key.
	KeyAlgP256 KeyAlg = "p256"
)

// KeyAlgs lists every supported key algorithm.
func KeyAlgs() []KeyAlg {
	return []KeyAlg{KeyAlgAES256GCM, KeyAlgChaCha20, KeyAlgEd25519, KeyAlgX25519, KeyAlgP256}
}

// Key is a managed cryptographic key: symmetric AEAD key, signing key pair or
// key-exchange key pair, depending on the algorithm. Capability methods return
// ErrUnsupportedAlgorithm when the algorithm does not support the operation.
//
// The secret material lives in process memory for the lifetime of the Key;
// call Close to zeroize it.
type Key struct {
	alg    KeyAlg
	secret []byte
	public []byte
}

// GenerateKey generates a fresh random key for the given algorithm.
func GenerateKey(alg KeyAlg) (*Key, error) {
	switch alg {
	case KeyAlgAES256GCM, KeyAlgChaCha20:
		secret := make([]byte, KeySize)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("%w: generate key: %v", ErrEncryptionFailed, err)
		}
		return &Key{alg: alg, secret: secret}, nil

	case KeyAlgEd25519:
		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("%w: generate key: %v", ErrEncryptionFailed, err)
		}
		return KeyFromSecretBytes(alg, seed)

	case KeyAlgX25519:
		secret := make([]byte, curve25519.ScalarSize)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("%w: generate key: %v", ErrEncryptionFailed, err)
		}
		return KeyFromSecretBytes(alg, secret)

	case KeyAlgP256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("%w: generate key: %v", ErrEncryptionFailed, err)
		}
		secret := make([]byte, 32)
		priv.D.FillBytes(secret)
		return KeyFromSecretBytes(alg, secret)

	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// KeyFromSecretBytes reconstructs a key from its secret material: the raw key
// for symmetric algorithms, the seed for Ed25519, the scalar for X25519 and
// P-256. The secret slice is copied; the caller keeps ownership of its copy.
func KeyFromSecretBytes(alg KeyAlg, secret []byte) (*Key, error) {
	cp := func(want int) ([]byte, error) {
		if len(secret) != want {
			return nil, ErrInvalidKeyLength
		}
		out := make([]byte, want)
		copy(out, secret)
		return out, nil
	}

	switch alg {
	case KeyAlgAES256GCM, KeyAlgChaCha20:
		s, err := cp(KeySize)
		if err != nil {
			return nil, err
		}
		return &Key{alg: alg, secret: s}, nil

	case KeyAlgEd25519:
		s, err := cp(ed25519.SeedSize)
		if err != nil {
			return nil, err
		}
		priv := ed25519.NewKeyFromSeed(s)
		pub := make([]byte, ed25519.PublicKeySize)
		copy(pub, priv[ed25519.SeedSize:])
		return &Key{alg: alg, secret: s, public: pub}, nil

	case KeyAlgX25519:
		s, err := cp(curve25519.ScalarSize)
		if err != nil {
			return nil, err
		}
		pub, err := curve25519.X25519(s, curve25519.Basepoint)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
		}
		return &Key{alg: alg, secret: s, public: pub}, nil

	case KeyAlgP256:
		s, err := cp(32)
		if err != nil {
			return nil, err
		}
		priv := p256PrivateKey(s)
		pub := elliptic.MarshalCompressed(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)
		return &Key{alg: alg, secret: s, public: pub}, nil

	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

func hashMessage(message []byte) []byte {
	h := sha256.Sum256(message)
	return h[:]
}

func p256PrivateKey(secret []byte) *ecdsa.PrivateKey {
	d := new(big.Int).SetBytes(secret)
	x, y := elliptic.P256().ScalarBaseMult(secret)
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y},
		D:         d,
	}
}

// Algorithm returns the key's algorithm.
func (k *Key) Algorithm() KeyAlg {
	return k.alg
}

// SecretBytes returns the key's secret material. The returned slice aliases
// the key's internal buffer; do not modify it.
func (k *Key) SecretBytes() []byte {
	return k.secret
}

// PublicBytes returns the public half of an asymmetric key, or
// ErrUnsupportedAlgorithm for symmetric keys.
func (k *Key) PublicBytes() ([]byte, error) {
	if k.public == nil {
		return nil, ErrUnsupportedAlgorithm
	}
	return k.public, nil
}

// AEAD returns an AEAD cipher backed by a symmetric key, or
// ErrUnsupportedAlgorithm for signing and exchange keys.
func (k *Key) AEAD() (AEAD, error) {
	switch k.alg {
	case KeyAlgAES256GCM:
		return NewCipher(k.secret, AESGCM)
	case KeyAlgChaCha20:
		return NewCipher(k.secret, ChaCha20)
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// Sign signs a message with an Ed25519 or P-256 key. P-256 signatures are
// ASN.1 DER encoded.
func (k *Key) Sign(message []byte) ([]byte, error) {
	switch k.alg {
	case KeyAlgEd25519:
		priv := ed25519.NewKeyFromSeed(k.secret)
		defer Zero(priv)
		return ed25519.Sign(priv, message), nil

	case KeyAlgP256:
		priv := p256PrivateKey(k.secret)
		sig, err := ecdsa.SignASN1(rand.Reader, priv, hashMessage(message))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
		}
		return sig, nil

	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// Verify reports whether signature is valid for message under the key's
// public half.
func (k *Key) Verify(message, signature []byte) (bool, error) {
	switch k.alg {
	case KeyAlgEd25519:
		return ed25519.Verify(ed25519.PublicKey(k.public), message, signature), nil

	case KeyAlgP256:
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), k.public)
		if x == nil {
			return false, ErrDecryptionFailed
		}
		pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
		return ecdsa.VerifyASN1(pub, hashMessage(message), signature), nil

	default:
		return false, ErrUnsupportedAlgorithm
	}
}

// KeyExchange computes the X25519 shared secret between this key's secret
// scalar and a peer public key.
func (k *Key) KeyExchange(peerPublic []byte) ([]byte, error) {
	if k.alg != KeyAlgX25519 {
		return nil, ErrUnsupportedAlgorithm
	}
	shared, err := curve25519.X25519(k.secret, peerPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return shared, nil
}

// Close zeroizes the key's secret material.
func (k *Key) Close() {
	Zero(k.secret)
	k.secret = nil
}
