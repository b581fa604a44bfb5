package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/jellydator/validation"
	"golang.org/x/crypto/argon2"
)

// Argon2 parameter levels. The levels follow the libsodium pwhash presets:
// interactive for frequently-opened stores, moderate (the default) for stores
// where open latency matters less than brute-force resistance.
const (
	// LevelInteractive selects the faster Argon2id preset (32 MiB, 3 passes).
	LevelInteractive = "int"

	// LevelModerate selects the slower Argon2id preset (128 MiB, 6 passes).
	LevelModerate = "mod"
)

// SaltSize is the salt length in bytes generated for passphrase derivation.
const SaltSize = 16

// Argon2Params holds the cost parameters for Argon2id passphrase derivation.
type Argon2Params struct {
	// Memory is the memory cost in KiB.
	Memory uint32
	// Iterations is the time cost in passes.
	Iterations uint32
	// Parallelism is the number of lanes.
	Parallelism uint8
}

// Validate checks that the parameters meet minimum safe bounds.
func (p Argon2Params) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Memory, validation.Required, validation.Min(uint32(8*1024))),
		validation.Field(&p.Iterations, validation.Required, validation.Min(uint32(1))),
		validation.Field(&p.Parallelism, validation.Required),
	)
}

// ParamsForLevel returns the Argon2 cost parameters for a named level.
// An empty level selects LevelModerate.
func ParamsForLevel(level string) (Argon2Params, error) {
	switch level {
	case LevelInteractive:
		return Argon2Params{Memory: 32 * 1024, Iterations: 3, Parallelism: 1}, nil
	case LevelModerate, "":
		return Argon2Params{Memory: 128 * 1024, Iterations: 6, Parallelism: 1}, nil
	default:
		return Argon2Params{}, fmt.Errorf("%w: unknown kdf level %q", ErrUnsupportedAlgorithm, level)
	}
}

// GenerateSalt produces a fresh random salt for passphrase derivation.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: generate salt: %v", ErrEncryptionFailed, err)
	}
	return salt, nil
}

// DeriveWrapKey derives a 32-byte wrap key from a passphrase and salt using
// Argon2id. This is CPU and memory bound and deliberately slow: callers must
// not assume it is cheap.
func DeriveWrapKey(passphrase, salt []byte, params Argon2Params) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", ErrInvalidKeyLength)
	}
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", ErrInvalidKeyLength, SaltSize)
	}

	return argon2.IDKey(passphrase, salt, params.Iterations, params.Memory, params.Parallelism, KeySize), nil
}
