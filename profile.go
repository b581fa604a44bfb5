package sealbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/allisson/sealbox/crypto"
)

// Profile is a named tenant within a store: an independent encryption domain
// with its own derived key set. Compromising one profile's keys exposes
// nothing about another's.
type Profile struct {
	id     int64
	name   string
	scheme *crypto.ProfileScheme
}

// Name returns the profile name.
func (p *Profile) Name() string { return p.name }

// getProfile resolves a profile name to its cached encryption scheme. A cache
// miss fetches the wrapped profile key, unwraps it with the store wrap key and
// derives the scheme; concurrent misses for the same name are collapsed into
// one load. Key derivation is deliberately CPU-bound on the passphrase path,
// so callers must not assume this is cheap on first access.
func (s *Store) getProfile(ctx context.Context, name string) (*Profile, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStoreClosed
	}
	if name == "" {
		name = s.defaultProfile
	}
	if p, ok := s.profiles[name]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	v, err, _ := s.loads.Do(name, func() (any, error) {
		p, err := s.loadProfile(ctx, name)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			p.scheme.Close()
			return nil, ErrStoreClosed
		}
		// A concurrent CreateProfile may have populated the cache first;
		// keep the existing entry so only one live scheme exists per name.
		if existing, ok := s.profiles[name]; ok {
			p.scheme.Close()
			return existing, nil
		}
		s.profiles[name] = p
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Profile), nil
}

func (s *Store) loadProfile(ctx context.Context, name string) (*Profile, error) {
	d := s.db.Dialect
	query := fmt.Sprintf(
		"SELECT id, wrapped_key FROM profiles WHERE name = %s",
		d.Placeholder(1),
	)

	var id int64
	var wrapped []byte
	err := s.db.SQL.QueryRowContext(ctx, query, name).Scan(&id, &wrapped)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
		}
		return nil, s.db.MapError(err)
	}

	profileKey, err := s.wrapKey.unwrap(wrapped)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(profileKey)

	scheme, err := crypto.NewProfileScheme(profileKey, s.alg)
	if err != nil {
		return nil, err
	}

	return &Profile{id: id, name: name, scheme: scheme}, nil
}

// CreateProfile creates a new profile with a fresh random profile key wrapped
// under the store wrap key, and returns its backend id. Fails with
// ErrDuplicateProfile if the name exists.
func (s *Store) CreateProfile(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty profile name", ErrInvalidInput)
	}

	profileKey, err := generateProfileKey()
	if err != nil {
		return 0, err
	}
	defer crypto.Zero(profileKey)

	wrapped, err := s.wrapKey.wrap(profileKey)
	if err != nil {
		return 0, err
	}

	scheme, err := crypto.NewProfileScheme(profileKey, s.alg)
	if err != nil {
		return 0, err
	}

	// Creation and first-lookup insertion are mutually exclusive per store:
	// the row insert and the cache insert happen under the cache lock, and
	// concurrent getProfile misses defer to an existing cache entry.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		scheme.Close()
		return 0, ErrStoreClosed
	}
	if _, ok := s.profiles[name]; ok {
		scheme.Close()
		return 0, fmt.Errorf("%w: %q", ErrDuplicateProfile, name)
	}

	id, err := s.insertProfile(ctx, name, wrapped)
	if err != nil {
		scheme.Close()
		return 0, err
	}

	s.profiles[name] = &Profile{id: id, name: name, scheme: scheme}
	return id, nil
}

func (s *Store) insertProfile(ctx context.Context, name string, wrapped []byte) (int64, error) {
	d := s.db.Dialect

	if d.SupportsReturning() {
		query := fmt.Sprintf(
			"INSERT INTO profiles (name, wrapped_key) VALUES (%s, %s) RETURNING id",
			d.Placeholder(1), d.Placeholder(2),
		)
		var id int64
		if err := s.db.SQL.QueryRowContext(ctx, query, name, wrapped).Scan(&id); err != nil {
			if d.IsDuplicate(err) {
				return 0, fmt.Errorf("%w: %q", ErrDuplicateProfile, name)
			}
			return 0, s.db.MapError(err)
		}
		return id, nil
	}

	query := fmt.Sprintf(
		"INSERT INTO profiles (name, wrapped_key) VALUES (%s, %s)",
		d.Placeholder(1), d.Placeholder(2),
	)
	res, err := s.db.SQL.ExecContext(ctx, query, name, wrapped)
	if err != nil {
		if d.IsDuplicate(err) {
			return 0, fmt.Errorf("%w: %q", ErrDuplicateProfile, name)
		}
		return 0, s.db.MapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, s.db.MapError(err)
	}
	return id, nil
}

// RemoveProfile deletes the profile row and, through the backend's cascading
// delete, every entry scoped to it. This is irreversible.
func (s *Store) RemoveProfile(ctx context.Context, name string) error {
	d := s.db.Dialect
	query := fmt.Sprintf("DELETE FROM profiles WHERE name = %s", d.Placeholder(1))

	res, err := s.db.SQL.ExecContext(ctx, query, name)
	if err != nil {
		return s.db.MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.db.MapError(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}

	s.mu.Lock()
	if p, ok := s.profiles[name]; ok {
		p.scheme.Close()
		delete(s.profiles, name)
	}
	s.mu.Unlock()
	return nil
}

// RenameProfile changes a profile's name, keeping its id and key set. Entries
// are untouched; only the cache entry moves.
func (s *Store) RenameProfile(ctx context.Context, oldName, newName string) error {
	if newName == "" {
		return fmt.Errorf("%w: empty profile name", ErrInvalidInput)
	}

	d := s.db.Dialect
	query := fmt.Sprintf("UPDATE profiles SET name = %s WHERE name = %s",
		d.Placeholder(1), d.Placeholder(2))

	res, err := s.db.SQL.ExecContext(ctx, query, newName, oldName)
	if err != nil {
		if d.IsDuplicate(err) {
			return fmt.Errorf("%w: %q", ErrDuplicateProfile, newName)
		}
		return s.db.MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.db.MapError(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrProfileNotFound, oldName)
	}

	s.mu.Lock()
	if p, ok := s.profiles[oldName]; ok {
		delete(s.profiles, oldName)
		// Sessions opened before the rename keep the old Profile value, so
		// the cached entry is replaced rather than mutated in place. The
		// scheme is shared; it stays open until the store closes.
		s.profiles[newName] = &Profile{id: p.id, name: newName, scheme: p.scheme}
	}
	if s.defaultProfile == oldName {
		s.defaultProfile = newName
	}
	s.mu.Unlock()
	return nil
}

// ListProfiles returns the names of all profiles in the store.
func (s *Store) ListProfiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.SQL.QueryContext(ctx, "SELECT name FROM profiles ORDER BY name")
	if err != nil {
		return nil, s.db.MapError(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, s.db.MapError(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, s.db.MapError(err)
	}
	return names, nil
}
