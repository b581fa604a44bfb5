// Package sealbox is an encrypted-at-rest storage and key-management engine
// for identity-agent software. It persists categorized records and
// cryptographic keys behind a pluggable relational backend while guaranteeing
// that categories, names, values and searchable metadata never cross the
// backend boundary in plaintext.
//
// A Store is opened from a URI whose scheme selects the backend:
//
//	store, err := sealbox.Provision(ctx, "sqlite:///tmp/agent.db", sealbox.Options{
//		Passphrase: "correct horse battery staple",
//	})
//
// Backends register themselves on import; blank-import the ones you need:
//
//	import (
//		_ "github.com/allisson/sealbox/backend/postgres"
//		_ "github.com/allisson/sealbox/backend/sqlite"
//	)
//
// A Store yields Sessions (and Transactions), each bound to one backend
// connection and one profile's encryption scheme. Every record operation
// encrypts and decrypts through the profile scheme; nothing is cached between
// reads, so multi-session consistency is bounded only by the backend's
// transaction isolation.
package sealbox

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/allisson/sealbox/backend"
	"github.com/allisson/sealbox/crypto"
)

// Config row names persisted per store.
const (
	configVersion        = "version"
	configDefaultProfile = "default_profile"
	configWrapKeyMethod  = "wrap_key"
	configAlgorithm      = "algorithm"
)

// storeVersion is the schema/config version written on provision.
const storeVersion = "1"

// Options configures Provision and Open.
type Options struct {
	// WrapKey supplies raw 32-byte root key material. Mutually exclusive
	// with Passphrase.
	WrapKey []byte

	// Passphrase derives the wrap key with Argon2id. The salt and cost level
	// are persisted in the store config on provision and reused on open.
	Passphrase string

	// KDFLevel selects the Argon2 cost level when provisioning with a
	// passphrase: crypto.LevelInteractive or crypto.LevelModerate (default).
	KDFLevel string

	// DefaultProfile names the profile created on provision and used by
	// sessions that do not name one. Defaults to "default".
	DefaultProfile string

	// Algorithm selects the record AEAD algorithm on provision. Defaults to
	// crypto.ChaCha20.
	Algorithm crypto.Algorithm
}

func (o Options) validate(provision bool) error {
	if (o.WrapKey == nil) == (o.Passphrase == "") {
		return fmt.Errorf("%w: exactly one of WrapKey and Passphrase must be set", ErrInvalidInput)
	}
	if !provision && (o.KDFLevel != "" || o.DefaultProfile != "" || o.Algorithm != "") {
		return fmt.Errorf("%w: KDFLevel, DefaultProfile and Algorithm apply only when provisioning", ErrInvalidInput)
	}
	return nil
}

// Store owns one backend connection pool, the store wrap key and the
// per-store profile cache. It is safe for concurrent use; obtain a Session or
// Transaction per unit of work.
type Store struct {
	db             *backend.DB
	wrapKey        *WrapKey
	alg            crypto.Algorithm
	defaultProfile string

	mu       sync.Mutex
	profiles map[string]*Profile
	loads    singleflight.Group
	closed   bool
}

// Provision creates a new store database: connects, creates the schema,
// persists the store configuration and creates the default profile.
func Provision(ctx context.Context, uri string, opts Options) (*Store, error) {
	if err := opts.validate(true); err != nil {
		return nil, err
	}

	wrapKey, err := provisionWrapKey(opts)
	if err != nil {
		return nil, err
	}

	alg := opts.Algorithm
	if alg == "" {
		alg = crypto.ChaCha20
	}
	defaultProfile := opts.DefaultProfile
	if defaultProfile == "" {
		defaultProfile = "default"
	}

	db, err := backend.Open(uri)
	if err != nil {
		return nil, err
	}
	if err := backend.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:             db,
		wrapKey:        wrapKey,
		alg:            alg,
		defaultProfile: defaultProfile,
		profiles:       make(map[string]*Profile),
	}

	if err := s.writeConfig(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := s.CreateProfile(ctx, defaultProfile); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func provisionWrapKey(opts Options) (*WrapKey, error) {
	if opts.WrapKey != nil {
		return NewRawWrapKey(opts.WrapKey)
	}
	return NewPassphraseWrapKey(opts.Passphrase, opts.KDFLevel)
}

// Open opens an existing store database, reading the persisted configuration
// to rebuild the wrap key. A wrong passphrase or wrong raw key is not
// detected here; it surfaces as ErrDecryption on the first profile access.
func Open(ctx context.Context, uri string, opts Options) (*Store, error) {
	if err := opts.validate(false); err != nil {
		return nil, err
	}

	db, err := backend.Open(uri)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, profiles: make(map[string]*Profile)}
	if err := s.readConfig(ctx, opts); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) writeConfig(ctx context.Context) error {
	d := s.db.Dialect
	query := fmt.Sprintf(
		"INSERT INTO config (name, value) VALUES (%s, %s)",
		d.Placeholder(1), d.Placeholder(2),
	)

	rows := [][2]string{
		{configVersion, storeVersion},
		{configDefaultProfile, s.defaultProfile},
		{configWrapKeyMethod, s.wrapKey.Method()},
		{configAlgorithm, string(s.alg)},
	}
	for _, row := range rows {
		if _, err := s.db.SQL.ExecContext(ctx, query, row[0], row[1]); err != nil {
			return s.db.MapError(err)
		}
	}
	return nil
}

func (s *Store) readConfig(ctx context.Context, opts Options) error {
	d := s.db.Dialect
	query := fmt.Sprintf("SELECT name, value FROM config WHERE name IN (%s, %s, %s, %s)",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4))

	rows, err := s.db.SQL.QueryContext(ctx, query,
		configVersion, configDefaultProfile, configWrapKeyMethod, configAlgorithm)
	if err != nil {
		return s.db.MapError(err)
	}
	defer rows.Close()

	config := make(map[string]string, 4)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return s.db.MapError(err)
		}
		config[name] = value
	}
	if err := rows.Err(); err != nil {
		return s.db.MapError(err)
	}

	method, ok := config[configWrapKeyMethod]
	if !ok {
		return fmt.Errorf("%w: store is not provisioned", ErrBackend)
	}
	if v := config[configVersion]; v != storeVersion {
		return fmt.Errorf("%w: unsupported store version %q", ErrBackend, v)
	}

	wrapKey, err := wrapKeyFromMethod(method, opts.Passphrase, opts.WrapKey)
	if err != nil {
		return err
	}

	s.wrapKey = wrapKey
	s.defaultProfile = config[configDefaultProfile]
	s.alg = crypto.Algorithm(config[configAlgorithm])
	return nil
}

// DefaultProfile returns the profile name used when a session does not name
// one.
func (s *Store) DefaultProfile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultProfile
}

// SetDefaultProfile changes the stored default profile name. The profile must
// exist.
func (s *Store) SetDefaultProfile(ctx context.Context, name string) error {
	if _, err := s.getProfile(ctx, name); err != nil {
		return err
	}

	d := s.db.Dialect
	query := fmt.Sprintf("UPDATE config SET value = %s WHERE name = %s",
		d.Placeholder(1), d.Placeholder(2))
	if _, err := s.db.SQL.ExecContext(ctx, query, name, configDefaultProfile); err != nil {
		return s.db.MapError(err)
	}

	s.mu.Lock()
	s.defaultProfile = name
	s.mu.Unlock()
	return nil
}

// Rekey re-wraps every profile key under a new wrap key inside one backend
// transaction and updates the persisted wrap-key method. On success the store
// uses the new wrap key; the old one is discarded.
func (s *Store) Rekey(ctx context.Context, newKey *WrapKey) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	oldKey := s.wrapKey
	s.mu.Unlock()

	d := s.db.Dialect
	tx, err := s.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return s.db.MapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "SELECT id, wrapped_key FROM profiles")
	if err != nil {
		return s.db.MapError(err)
	}

	type rewrapped struct {
		id      int64
		wrapped []byte
	}
	var updates []rewrapped
	for rows.Next() {
		var id int64
		var wrapped []byte
		if err := rows.Scan(&id, &wrapped); err != nil {
			rows.Close()
			return s.db.MapError(err)
		}
		profileKey, err := oldKey.unwrap(wrapped)
		if err != nil {
			rows.Close()
			return err
		}
		newWrapped, err := newKey.wrap(profileKey)
		crypto.Zero(profileKey)
		if err != nil {
			rows.Close()
			return err
		}
		updates = append(updates, rewrapped{id: id, wrapped: newWrapped})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return s.db.MapError(err)
	}

	update := fmt.Sprintf("UPDATE profiles SET wrapped_key = %s WHERE id = %s",
		d.Placeholder(1), d.Placeholder(2))
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, update, u.wrapped, u.id); err != nil {
			return s.db.MapError(err)
		}
	}

	method := fmt.Sprintf("UPDATE config SET value = %s WHERE name = %s",
		d.Placeholder(1), d.Placeholder(2))
	if _, err := tx.ExecContext(ctx, method, newKey.Method(), configWrapKeyMethod); err != nil {
		return s.db.MapError(err)
	}

	if err := tx.Commit(); err != nil {
		return s.db.MapError(err)
	}

	s.mu.Lock()
	s.wrapKey = newKey
	s.mu.Unlock()
	return nil
}

// SweepExpired removes entries whose expiry has passed, across all profiles,
// and returns the number of rows removed. Expired entries are already
// invisible to reads; the sweep reclaims their storage.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	d := s.db.Dialect
	query := fmt.Sprintf(
		"DELETE FROM entries WHERE expiry IS NOT NULL AND expiry <= %s",
		d.Placeholder(1),
	)
	res, err := s.db.SQL.ExecContext(ctx, query, time.Now().Unix())
	if err != nil {
		return 0, s.db.MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.db.MapError(err)
	}
	return n, nil
}

// Close tears down the profile cache, zeroizing every cached key set, and
// releases all pooled backend connections. Sessions still open become
// unusable.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for name, profile := range s.profiles {
		profile.scheme.Close()
		delete(s.profiles, name)
	}
	s.mu.Unlock()

	return s.db.Close()
}

// acquireConn pins one pooled connection, blocking (or failing with the
// context) when the pool is exhausted.
func (s *Store) acquireConn(ctx context.Context) (*sql.Conn, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrStoreClosed
	}

	conn, err := s.db.SQL.Conn(ctx)
	if err != nil {
		return nil, s.db.MapError(err)
	}
	return conn, nil
}

// generateProfileKey produces fresh random profile key material.
func generateProfileKey() ([]byte, error) {
	key := make([]byte, crypto.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: generate profile key: %v", ErrEncryption, err)
	}
	return key, nil
}
