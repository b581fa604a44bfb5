// Package backend provides the relational storage capability consumed by the
// sealbox engine: a URI-based registry of backends, a uniform handle over
// database/sql with a dialect descriptor, and embedded schema migrations.
//
// Concrete backends live in the sqlite, postgres and mysql subpackages and
// register themselves on import.
package backend

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Backend and query translation errors.
var (
	// ErrBackend indicates a connection or I/O failure in the backing store.
	// It is surfaced to the caller and never retried internally.
	ErrBackend = errors.New("backend failure")

	// ErrSerialization indicates the backend aborted a transaction due to
	// lock contention or a serialization conflict. It wraps ErrBackend;
	// callers may retry the whole transaction.
	ErrSerialization = fmt.Errorf("%w: serialization conflict", ErrBackend)

	// ErrUnknownScheme indicates no backend is registered for the URI scheme.
	ErrUnknownScheme = errors.New("unknown backend scheme")
)

// Dialect describes the SQL variant spoken by a backend.
type Dialect interface {
	// Name returns the dialect identifier ("sqlite", "postgres", "mysql").
	Name() string

	// Placeholder renders the n-th (1-based) statement parameter.
	Placeholder(n int) string

	// SupportsReturning reports whether INSERT ... RETURNING is available.
	SupportsReturning() bool

	// SupportsForUpdate reports whether SELECT ... FOR UPDATE row locking is
	// available. Backends without it rely on coarser locking.
	SupportsForUpdate() bool

	// IsDuplicate reports whether err is a unique-constraint violation.
	IsDuplicate(err error) bool

	// IsSerialization reports whether err is a serialization or deadlock
	// failure that a caller could retry.
	IsSerialization(err error) bool
}

// DB is an open backend: a database/sql pool plus its dialect.
type DB struct {
	SQL     *sql.DB
	Dialect Dialect
}

// Close releases the connection pool.
func (d *DB) Close() error {
	return d.SQL.Close()
}

// MapError normalizes a driver error: duplicates and serialization failures
// become distinguishable sentinels, everything else is wrapped as ErrBackend.
// sql.ErrNoRows is passed through untouched for the caller to interpret.
func (d *DB) MapError(err error) error {
	switch {
	case err == nil, errors.Is(err, sql.ErrNoRows):
		return err
	case d.Dialect.IsSerialization(err):
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	default:
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
}

// PoolConfig holds connection-pool settings, configurable through store URI
// query parameters.
type PoolConfig struct {
	// MaxOpenConnections bounds the pool; acquisition blocks when exhausted.
	MaxOpenConnections int
	// MaxIdleConnections is the number of idle connections retained.
	MaxIdleConnections int
	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns the pool settings used when the URI does not
// override them.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConnections: 10,
		MaxIdleConnections: 2,
		ConnMaxLifetime:    5 * time.Minute,
	}
}

// Pool URI query parameters, shared across backends and stripped from the DSN
// before it reaches the driver.
const (
	paramMaxConnections  = "max_connections"
	paramIdleConnections = "idle_connections"
	paramConnMaxLifetime = "conn_max_lifetime"
)

// ParsePoolConfig extracts pool settings from URI query values, removing the
// recognized parameters so the remaining values can be passed to the driver.
func ParsePoolConfig(query url.Values) (PoolConfig, error) {
	cfg := DefaultPoolConfig()

	if v := query.Get(paramMaxConnections); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("%w: invalid %s=%q", ErrBackend, paramMaxConnections, v)
		}
		cfg.MaxOpenConnections = n
	}
	if v := query.Get(paramIdleConnections); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("%w: invalid %s=%q", ErrBackend, paramIdleConnections, v)
		}
		cfg.MaxIdleConnections = n
	}
	if v := query.Get(paramConnMaxLifetime); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("%w: invalid %s=%q", ErrBackend, paramConnMaxLifetime, v)
		}
		cfg.ConnMaxLifetime = d
	}

	query.Del(paramMaxConnections)
	query.Del(paramIdleConnections)
	query.Del(paramConnMaxLifetime)

	return cfg, nil
}

// Apply configures a database/sql pool with the settings.
func (c PoolConfig) Apply(db *sql.DB) {
	db.SetMaxOpenConns(c.MaxOpenConnections)
	db.SetMaxIdleConns(c.MaxIdleConnections)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
}

// Opener opens a backend for a parsed store URI.
type Opener func(uri *url.URL) (*DB, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Opener)
)

// Register makes a backend available under a URI scheme. Backends call it
// from their init functions; registering the same scheme twice panics.
func Register(scheme string, opener Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[scheme]; dup {
		panic(fmt.Sprintf("backend: scheme %q registered twice", scheme))
	}
	registry[scheme] = opener
}

// Open parses a store URI and opens the backend registered for its scheme.
func Open(uri string) (*DB, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid store uri: %v", ErrBackend, err)
	}

	registryMu.RLock()
	opener, ok := registry[u.Scheme]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, u.Scheme)
	}

	return opener(u)
}
