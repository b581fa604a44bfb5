package sealbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/allisson/sealbox/crypto"
	"github.com/allisson/sealbox/tags"
)

// keyAlgTag is the tag automatically maintained on every stored key so keys
// can be filtered by algorithm without decrypting their payloads.
const keyAlgTag = "alg"

// KeyEntry is a managed key fetched from the store: the live key material plus
// the caller-owned metadata attached to it.
type KeyEntry struct {
	Name      string
	Key       *crypto.Key
	Metadata  string
	Tags      []TagEntry
	CreatedAt time.Time
}

// keyPayload is the JSON value stored for a managed key. The whole payload is
// encrypted like any other entry value; JSON is only its in-cleartext shape.
type keyPayload struct {
	Alg       crypto.KeyAlg `json:"alg"`
	Secret    []byte        `json:"secret"`
	Metadata  string        `json:"metadata,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// InsertKey stores a key under the given name, attaching the metadata, tags
// and optional expiry. An algorithm tag is added automatically. Fails with
// ErrDuplicate when the name is taken.
func (s *Session) InsertKey(ctx context.Context, name string, key *crypto.Key, metadata string, keyTags []TagEntry, expiry *time.Time) error {
	if err := s.active(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: empty key name", ErrInvalidInput)
	}
	if key == nil {
		return fmt.Errorf("%w: nil key", ErrInvalidInput)
	}

	entry, err := keyEntryRecord(name, keyPayload{
		Alg:       key.Algorithm(),
		Secret:    key.SecretBytes(),
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}, keyTags, expiry)
	if err != nil {
		return err
	}
	return s.insert(ctx, entry)
}

// FetchKey retrieves the key stored under name, or (nil, nil) when absent.
// forUpdate follows the same locking rules as Fetch.
func (s *Session) FetchKey(ctx context.Context, name string, forUpdate bool) (*KeyEntry, error) {
	if err := s.active(); err != nil {
		return nil, err
	}

	entry, err := s.fetch(ctx, keyCategory, name, forUpdate)
	if err != nil || entry == nil {
		return nil, err
	}
	return decodeKeyEntry(entry)
}

// FetchAllKeys retrieves stored keys, optionally restricted to one algorithm
// and a tag filter. limit <= 0 means no limit.
func (s *Session) FetchAllKeys(ctx context.Context, alg crypto.KeyAlg, filter tags.Filter, limit int64) ([]*KeyEntry, error) {
	if err := s.active(); err != nil {
		return nil, err
	}

	if alg != "" {
		algFilter := tags.Eq(keyAlgTag, string(alg))
		if filter == nil {
			filter = algFilter
		} else {
			filter = tags.And(algFilter, filter)
		}
	}

	scan, err := s.fetchAll(ctx, keyCategory, filter, limit, false)
	if err != nil {
		return nil, err
	}
	defer scan.Close()

	var out []*KeyEntry
	for scan.Next() {
		entry, err := scan.Entry()
		if err != nil {
			return nil, err
		}
		key, err := decodeKeyEntry(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateKeyMeta replaces the metadata and tags of a stored key, leaving its
// key material and creation time untouched. Fails with ErrNotFound when the
// key does not exist.
func (s *Session) UpdateKeyMeta(ctx context.Context, name, metadata string, keyTags []TagEntry) error {
	if err := s.active(); err != nil {
		return err
	}

	entry, err := s.fetch(ctx, keyCategory, name, true)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: key %q", ErrNotFound, name)
	}

	var payload keyPayload
	if err := json.Unmarshal(entry.Value, &payload); err != nil {
		return fmt.Errorf("%w: corrupt key payload for %q: %v", ErrDecryption, name, err)
	}
	payload.Metadata = metadata

	updated, err := keyEntryRecord(name, payload, keyTags, entry.Expiry)
	if err != nil {
		return err
	}
	return s.replace(ctx, updated)
}

// RemoveKey deletes the key stored under name. Fails with ErrNotFound when it
// does not exist.
func (s *Session) RemoveKey(ctx context.Context, name string) error {
	if err := s.active(); err != nil {
		return err
	}
	return s.remove(ctx, keyCategory, name)
}

func keyEntryRecord(name string, payload keyPayload, keyTags []TagEntry, expiry *time.Time) (*Entry, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode key payload: %v", ErrEncryption, err)
	}

	entryTags := make([]TagEntry, 0, len(keyTags)+1)
	for _, tag := range keyTags {
		if tag.Name == keyAlgTag {
			continue
		}
		entryTags = append(entryTags, tag)
	}
	entryTags = append(entryTags, Tag(keyAlgTag, string(payload.Alg)))

	return &Entry{
		Category: keyCategory,
		Name:     name,
		Value:    value,
		Tags:     entryTags,
		Expiry:   expiry,
	}, nil
}

func decodeKeyEntry(entry *Entry) (*KeyEntry, error) {
	var payload keyPayload
	if err := json.Unmarshal(entry.Value, &payload); err != nil {
		return nil, fmt.Errorf("%w: corrupt key payload for %q: %v", ErrDecryption, entry.Name, err)
	}

	key, err := crypto.KeyFromSecretBytes(payload.Alg, payload.Secret)
	if err != nil {
		return nil, err
	}

	userTags := make([]TagEntry, 0, len(entry.Tags))
	for _, tag := range entry.Tags {
		if !tag.Plaintext && tag.Name == keyAlgTag {
			continue
		}
		userTags = append(userTags, tag)
	}

	return &KeyEntry{
		Name:      entry.Name,
		Key:       key,
		Metadata:  payload.Metadata,
		Tags:      userTags,
		CreatedAt: payload.CreatedAt,
	}, nil
}
