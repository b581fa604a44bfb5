package sealbox

import (
	"errors"

	"github.com/allisson/sealbox/backend"
	"github.com/allisson/sealbox/crypto"
	"github.com/allisson/sealbox/tags"
)

// Standard engine errors. All failures are returned to the immediate caller
// as wrapped sentinels; none are swallowed or retried internally.
var (
	// ErrNotFound indicates the requested entry, key or row does not exist
	// where the operation requires existence.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a unique-constraint violation: the category and
	// name pair already exists within the profile.
	ErrDuplicate = errors.New("duplicate entry")

	// ErrProfileNotFound indicates no profile with the given name exists in
	// the store.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrDuplicateProfile indicates a profile with the given name already
	// exists.
	ErrDuplicateProfile = errors.New("duplicate profile")

	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrTransactionClosed indicates an operation on a transaction that was
	// already committed or rolled back.
	ErrTransactionClosed = errors.New("transaction closed")

	// ErrInvalidInput indicates a caller-supplied argument is invalid, such
	// as writing to the reserved key category through the entry interface.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreClosed indicates an operation on a closed store.
	ErrStoreClosed = errors.New("store closed")
)

// Errors surfaced from the capability layers, re-exported so callers can match
// them without importing the subpackages.
var (
	// ErrBackend indicates a backend connection or I/O failure.
	ErrBackend = backend.ErrBackend

	// ErrSerialization indicates a backend serialization or deadlock failure
	// that the caller may choose to retry.
	ErrSerialization = backend.ErrSerialization

	// ErrEncryption indicates an underlying encryption primitive failure.
	ErrEncryption = crypto.ErrEncryptionFailed

	// ErrDecryption indicates an authentication failure while decrypting:
	// corrupted data, wrong key, or wrong profile.
	ErrDecryption = crypto.ErrDecryptionFailed

	// ErrUnsupportedQuery indicates a tag filter requested a comparison that
	// is invalid on an encrypted tag.
	ErrUnsupportedQuery = tags.ErrUnsupportedQuery
)
