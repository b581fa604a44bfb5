package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Per-purpose derivation labels. A fixed label per purpose guarantees that
// unrelated purposes can never be confused and that compromise of one derived
// key does not trivially reveal another.
const (
	purposeCategory = "sealbox:category"
	purposeName     = "sealbox:name"
	purposeValue    = "sealbox:value"
	purposeTagName  = "sealbox:tag-name"
	purposeTagValue = "sealbox:tag-value"
	purposeTagHMAC  = "sealbox:tag-hmac"
)

// purposeKeys holds the derived material for one encryption purpose: a cipher
// key and an HMAC key used to derive deterministic nonces. Keeping the two
// separate means determinism never reuses the cipher key as a MAC key.
type purposeKeys struct {
	cipher AEAD
	encKey []byte
	macKey []byte
}

// ProfileScheme holds the working key set for one profile and implements the
// record encryption protocol: deterministic authenticated encryption for
// category, name and tag names (so they can serve as lookup keys without
// storing plaintext), randomized authenticated encryption for values and tag
// true-values, and keyed blind derivation for searchable tag values.
//
// All keys are derived from the profile's 32-byte profile key via
// HKDF-SHA256 with a fixed per-purpose label. Profiles are independent
// encryption domains: two distinct profile keys produce unrelated schemes.
//
// A ProfileScheme is safe for concurrent use. Close zeroizes the derived key
// material; the scheme must not be used afterwards.
type ProfileScheme struct {
	alg      Algorithm
	category purposeKeys
	name     purposeKeys
	value    purposeKeys
	tagName  purposeKeys
	tagValue purposeKeys
	tagHMAC  []byte
}

// NewProfileScheme derives the full per-purpose key set for a profile from its
// 32-byte profile key. The profile key itself is not retained.
func NewProfileScheme(profileKey []byte, alg Algorithm) (*ProfileScheme, error) {
	if len(profileKey) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	s := &ProfileScheme{alg: alg}

	for _, p := range []struct {
		label string
		keys  *purposeKeys
	}{
		{purposeCategory, &s.category},
		{purposeName, &s.name},
		{purposeValue, &s.value},
		{purposeTagName, &s.tagName},
		{purposeTagValue, &s.tagValue},
	} {
		pk, err := derivePurposeKeys(profileKey, p.label, alg)
		if err != nil {
			s.Close()
			return nil, err
		}
		*p.keys = pk
	}

	tagHMAC, err := deriveBytes(profileKey, purposeTagHMAC, KeySize)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.tagHMAC = tagHMAC

	return s, nil
}

func derivePurposeKeys(profileKey []byte, label string, alg Algorithm) (purposeKeys, error) {
	material, err := deriveBytes(profileKey, label, 2*KeySize)
	if err != nil {
		return purposeKeys{}, err
	}

	encKey := material[:KeySize]
	macKey := material[KeySize:]

	cipher, err := NewCipher(encKey, alg)
	if err != nil {
		Zero(material)
		return purposeKeys{}, err
	}

	return purposeKeys{cipher: cipher, encKey: encKey, macKey: macKey}, nil
}

func deriveBytes(ikm []byte, label string, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, nil, []byte(label))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: derive %q: %v", ErrEncryptionFailed, label, err)
	}
	return out, nil
}

// Algorithm returns the AEAD algorithm the scheme encrypts with.
func (s *ProfileScheme) Algorithm() Algorithm {
	return s.alg
}

// Close zeroizes all derived key material. The scheme must not be used after
// Close returns.
func (s *ProfileScheme) Close() {
	for _, pk := range []*purposeKeys{&s.category, &s.name, &s.value, &s.tagName, &s.tagValue} {
		Zero(pk.encKey)
		Zero(pk.macKey)
		pk.cipher = nil
	}
	Zero(s.tagHMAC)
	s.tagHMAC = nil
}

// sealDeterministic encrypts plaintext with a nonce derived from the plaintext
// itself: HMAC-SHA256 of the plaintext under the purpose's MAC key, truncated
// to the nonce size. Identical plaintext always yields identical output for a
// fixed key set, which is what makes the result usable as a lookup key.
// The result is nonce || ciphertext.
func sealDeterministic(pk purposeKeys, plaintext, aad []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, pk.macKey)
	mac.Write(plaintext)
	nonce := mac.Sum(nil)[:pk.cipher.NonceSize()]

	ct, err := pk.cipher.EncryptWithNonce(plaintext, nonce, aad)
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

// sealRandom encrypts plaintext with a fresh random nonce. Identical plaintext
// yields a different blob on every call. The result is nonce || ciphertext.
func sealRandom(pk purposeKeys, plaintext, aad []byte) ([]byte, error) {
	ct, nonce, err := pk.cipher.Encrypt(plaintext, aad)
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

func open(pk purposeKeys, blob, aad []byte) ([]byte, error) {
	ns := pk.cipher.NonceSize()
	if len(blob) < ns {
		return nil, ErrDecryptionFailed
	}
	return pk.cipher.Decrypt(blob[ns:], blob[:ns], aad)
}

// EncryptCategory deterministically encrypts a record category.
func (s *ProfileScheme) EncryptCategory(category []byte) ([]byte, error) {
	return sealDeterministic(s.category, category, nil)
}

// DecryptCategory decrypts a category blob.
func (s *ProfileScheme) DecryptCategory(blob []byte) ([]byte, error) {
	return open(s.category, blob, nil)
}

// EncryptName deterministically encrypts a record name.
func (s *ProfileScheme) EncryptName(name []byte) ([]byte, error) {
	return sealDeterministic(s.name, name, nil)
}

// DecryptName decrypts a name blob.
func (s *ProfileScheme) DecryptName(blob []byte) ([]byte, error) {
	return open(s.name, blob, nil)
}

// EncryptValue encrypts a record value with a random nonce. The encrypted
// category and name blobs are bound in as AAD so a value ciphertext cannot be
// transplanted onto another row without failing authentication.
func (s *ProfileScheme) EncryptValue(value, encCategory, encName []byte) ([]byte, error) {
	return sealRandom(s.value, value, valueAAD(encCategory, encName))
}

// DecryptValue decrypts a value blob using the row's encrypted category and
// name as AAD.
func (s *ProfileScheme) DecryptValue(blob, encCategory, encName []byte) ([]byte, error) {
	return open(s.value, blob, valueAAD(encCategory, encName))
}

func valueAAD(encCategory, encName []byte) []byte {
	aad := make([]byte, 0, len(encCategory)+len(encName))
	aad = append(aad, encCategory...)
	return append(aad, encName...)
}

// EncryptTagName deterministically encrypts a tag name so that filters can
// match it without decryption.
func (s *ProfileScheme) EncryptTagName(name []byte) ([]byte, error) {
	return sealDeterministic(s.tagName, name, nil)
}

// DecryptTagName decrypts a tag name blob.
func (s *ProfileScheme) DecryptTagName(blob []byte) ([]byte, error) {
	return open(s.tagName, blob, nil)
}

// EncryptTagValue encrypts a tag's true value with a random nonce. The blob is
// returned to callers on read and is never used for matching; matching uses
// the blind value.
func (s *ProfileScheme) EncryptTagValue(value []byte) ([]byte, error) {
	return sealRandom(s.tagValue, value, nil)
}

// DecryptTagValue decrypts a tag true-value blob.
func (s *ProfileScheme) DecryptTagValue(blob []byte) ([]byte, error) {
	return open(s.tagValue, blob, nil)
}

// BlindTagValue derives the deterministic blind representation of a tag value:
// HMAC-SHA256 of the value under the profile's tag HMAC key. Equality, in-set
// and exact-prefix comparisons on blind values are valid; the transform does
// not preserve ordering.
func (s *ProfileScheme) BlindTagValue(value []byte) []byte {
	mac := hmac.New(sha256.New, s.tagHMAC)
	mac.Write(value)
	return mac.Sum(nil)
}
