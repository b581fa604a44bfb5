package backend

import (
	"database/sql"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDialect struct {
	duplicate     bool
	serialization bool
}

func (fakeDialect) Name() string              { return "fake" }
func (fakeDialect) Placeholder(int) string    { return "?" }
func (fakeDialect) SupportsReturning() bool   { return false }
func (fakeDialect) SupportsForUpdate() bool   { return false }
func (d fakeDialect) IsDuplicate(error) bool  { return d.duplicate }
func (d fakeDialect) IsSerialization(error) bool { return d.serialization }

func TestMapError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		db := &DB{Dialect: fakeDialect{}}
		assert.NoError(t, db.MapError(nil))
	})

	t.Run("no rows passes through", func(t *testing.T) {
		db := &DB{Dialect: fakeDialect{}}
		assert.ErrorIs(t, db.MapError(sql.ErrNoRows), sql.ErrNoRows)
	})

	t.Run("serialization failure", func(t *testing.T) {
		db := &DB{Dialect: fakeDialect{serialization: true}}
		err := db.MapError(errors.New("deadlock"))
		assert.ErrorIs(t, err, ErrSerialization)
		assert.ErrorIs(t, err, ErrBackend)
	})

	t.Run("other errors wrap as backend", func(t *testing.T) {
		db := &DB{Dialect: fakeDialect{}}
		err := db.MapError(errors.New("io failure"))
		assert.ErrorIs(t, err, ErrBackend)
		assert.NotErrorIs(t, err, ErrSerialization)
	})
}

func TestParsePoolConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := ParsePoolConfig(url.Values{})
		require.NoError(t, err)
		assert.Equal(t, DefaultPoolConfig(), cfg)
	})

	t.Run("overrides and strips parameters", func(t *testing.T) {
		query := url.Values{}
		query.Set("max_connections", "20")
		query.Set("idle_connections", "4")
		query.Set("conn_max_lifetime", "1m")
		query.Set("sslmode", "disable")

		cfg, err := ParsePoolConfig(query)
		require.NoError(t, err)
		assert.Equal(t, 20, cfg.MaxOpenConnections)
		assert.Equal(t, 4, cfg.MaxIdleConnections)
		assert.Equal(t, time.Minute, cfg.ConnMaxLifetime)

		assert.Empty(t, query.Get("max_connections"))
		assert.Empty(t, query.Get("idle_connections"))
		assert.Empty(t, query.Get("conn_max_lifetime"))
		assert.Equal(t, "disable", query.Get("sslmode"))
	})

	t.Run("invalid max connections", func(t *testing.T) {
		query := url.Values{}
		query.Set("max_connections", "zero")
		_, err := ParsePoolConfig(query)
		assert.ErrorIs(t, err, ErrBackend)
	})

	t.Run("invalid lifetime", func(t *testing.T) {
		query := url.Values{}
		query.Set("conn_max_lifetime", "forever")
		_, err := ParsePoolConfig(query)
		assert.ErrorIs(t, err, ErrBackend)
	})
}

func TestOpen(t *testing.T) {
	t.Run("unknown scheme", func(t *testing.T) {
		_, err := Open("voodoo://somewhere")
		assert.ErrorIs(t, err, ErrUnknownScheme)
	})

	t.Run("invalid uri", func(t *testing.T) {
		_, err := Open("://")
		assert.ErrorIs(t, err, ErrBackend)
	})
}

func TestRegister(t *testing.T) {
	opener := func(*url.URL) (*DB, error) { return nil, nil }

	t.Run("duplicate scheme panics", func(t *testing.T) {
		Register("backend-test-scheme", opener)
		assert.Panics(t, func() {
			Register("backend-test-scheme", opener)
		})
	})
}
