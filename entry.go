package sealbox

import (
	"time"
)

// TagEntry is one piece of searchable metadata attached to an entry.
//
// An encrypted tag (the default) stores a deterministically encrypted name, a
// blind derivation of the value for matching, and a randomized encryption of
// the true value for retrieval. A plaintext tag stores name and value
// verbatim; use it for non-sensitive indexes and for values that need order
// comparisons, which blind values cannot support.
type TagEntry struct {
	Name      string
	Value     string
	Plaintext bool
}

// Tag creates an encrypted tag.
func Tag(name, value string) TagEntry {
	return TagEntry{Name: name, Value: value}
}

// PlainTag creates a plaintext tag.
func PlainTag(name, value string) TagEntry {
	return TagEntry{Name: name, Value: value, Plaintext: true}
}

// Entry is a stored record. Category and name together are unique within a
// profile. Value is ciphertext at rest; the plaintext bytes held here exist
// only in the session's working memory.
type Entry struct {
	Category string
	Name     string
	Value    []byte
	Tags     []TagEntry
	// Expiry is the time after which the entry is treated as absent; nil
	// means the entry does not expire.
	Expiry *time.Time
}
