// Package sqlite implements the embedded file-based backend using the pure-Go
// modernc.org/sqlite driver. Importing the package registers the "sqlite" URI
// scheme.
//
// Store URIs take the form sqlite:///path/to/store.db. The special URI
// sqlite::memory: opens a private in-memory database, limited to a single
// connection so it survives for the pool's lifetime.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	sqlite3 "modernc.org/sqlite"

	"github.com/allisson/sealbox/backend"
)

func init() {
	backend.Register("sqlite", Open)
}

// Connection pragmas applied through the DSN so every pooled connection gets
// them, not just the one that happened to run an Exec.
const dsnPragmas = "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Open opens or creates an SQLite store database.
func Open(uri *url.URL) (*backend.DB, error) {
	query := uri.Query()
	pool, err := backend.ParsePoolConfig(query)
	if err != nil {
		return nil, err
	}

	path := uri.Path
	if path == "" {
		path = uri.Opaque
	}
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite uri has no path", backend.ErrBackend)
	}

	var dsn string
	if path == ":memory:" {
		// A shared-cache in-memory database disappears when its last
		// connection closes, so the pool is pinned to one connection.
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
		pool.MaxOpenConnections = 1
		pool.MaxIdleConnections = 1
		pool.ConnMaxLifetime = 0
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("%w: create store dir: %v", backend.ErrBackend, err)
		}
		dsn = "file:" + path + "?" + dsnPragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", backend.ErrBackend, err)
	}
	pool.Apply(db)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping sqlite: %v", backend.ErrBackend, err)
	}

	if path != ":memory:" {
		ensureFilePermissions(path)
	}

	return &backend.DB{SQL: db, Dialect: dialect{}}, nil
}

// ensureFilePermissions tightens the database and WAL files to owner-only.
func ensureFilePermissions(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Chmod(p, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
			return
		}
	}
}

// SQLite extended result codes for constraint and contention failures.
const (
	codeConstraintPrimaryKey = 1555
	codeConstraintUnique     = 2067
	codeBusy                 = 5
	codeLocked               = 6
)

type dialect struct{}

func (dialect) Name() string { return "sqlite" }

func (dialect) Placeholder(int) string { return "?" }

func (dialect) SupportsReturning() bool { return true }

// SupportsForUpdate is false: SQLite locks at database granularity, so
// row-level lock requests are a no-op.
func (dialect) SupportsForUpdate() bool { return false }

func (dialect) IsDuplicate(err error) bool {
	var se *sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == codeConstraintPrimaryKey || se.Code() == codeConstraintUnique
}

func (dialect) IsSerialization(err error) bool {
	var se *sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	primary := se.Code() & 0xff
	return primary == codeBusy || primary == codeLocked
}
