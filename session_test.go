package sealbox_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/sealbox"
	"github.com/allisson/sealbox/backend"
	"github.com/allisson/sealbox/tags"
)

func testSession(t *testing.T, store *sealbox.Store) *sealbox.Session {
	t.Helper()
	session, err := store.Session(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func collectEntries(t *testing.T, scan *sealbox.Scan) []*sealbox.Entry {
	t.Helper()
	defer scan.Close()

	var out []*sealbox.Entry
	for scan.Next() {
		entry, err := scan.Entry()
		require.NoError(t, err)
		out = append(out, entry)
	}
	require.NoError(t, scan.Err())
	return out
}

func TestSessionInsertFetch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	session := testSession(t, store)

	t.Run("round trip with tags", func(t *testing.T) {
		original := &sealbox.Entry{
			Category: "credential",
			Name:     "alice",
			Value:    []byte("sealed payload"),
			Tags: []sealbox.TagEntry{
				sealbox.Tag("issuer", "acme"),
				sealbox.PlainTag("index", "0001"),
			},
		}
		require.NoError(t, session.Insert(ctx, original))

		entry, err := session.Fetch(ctx, "credential", "alice", false)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, "credential", entry.Category)
		assert.Equal(t, "alice", entry.Name)
		assert.Equal(t, []byte("sealed payload"), entry.Value)
		assert.ElementsMatch(t, original.Tags, entry.Tags)
		assert.Nil(t, entry.Expiry)
	})

	t.Run("absent entry fetches as nil", func(t *testing.T) {
		entry, err := session.Fetch(ctx, "credential", "ghost", false)
		assert.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("duplicate insert is rejected", func(t *testing.T) {
		err := session.Insert(ctx, &sealbox.Entry{
			Category: "credential",
			Name:     "alice",
			Value:    []byte("other"),
		})
		assert.ErrorIs(t, err, sealbox.ErrDuplicate)
	})

	t.Run("same name in another category is fine", func(t *testing.T) {
		err := session.Insert(ctx, &sealbox.Entry{
			Category: "connection",
			Name:     "alice",
			Value:    []byte("other"),
		})
		assert.NoError(t, err)
	})

	t.Run("reserved category is rejected", func(t *testing.T) {
		err := session.Insert(ctx, &sealbox.Entry{
			Category: "sealbox:key",
			Name:     "sneaky",
			Value:    []byte("x"),
		})
		assert.ErrorIs(t, err, sealbox.ErrInvalidInput)

		_, err = session.Fetch(ctx, "sealbox:key", "sneaky", false)
		assert.ErrorIs(t, err, sealbox.ErrInvalidInput)
	})

	t.Run("empty category or name is rejected", func(t *testing.T) {
		err := session.Insert(ctx, &sealbox.Entry{Category: "", Name: "x", Value: []byte("v")})
		assert.ErrorIs(t, err, sealbox.ErrInvalidInput)

		err = session.Insert(ctx, &sealbox.Entry{Category: "credential", Name: "", Value: []byte("v")})
		assert.ErrorIs(t, err, sealbox.ErrInvalidInput)
	})
}

func TestSessionReplace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	session := testSession(t, store)

	t.Run("inserts when absent", func(t *testing.T) {
		require.NoError(t, session.Replace(ctx, &sealbox.Entry{
			Category: "credential",
			Name:     "alice",
			Value:    []byte("first"),
			Tags:     []sealbox.TagEntry{sealbox.Tag("rev", "1")},
		}))

		entry, err := session.Fetch(ctx, "credential", "alice", false)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, []byte("first"), entry.Value)
	})

	t.Run("overwrites value and tags", func(t *testing.T) {
		require.NoError(t, session.Replace(ctx, &sealbox.Entry{
			Category: "credential",
			Name:     "alice",
			Value:    []byte("second"),
			Tags:     []sealbox.TagEntry{sealbox.Tag("rev", "2"), sealbox.PlainTag("index", "0002")},
		}))

		entry, err := session.Fetch(ctx, "credential", "alice", false)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, []byte("second"), entry.Value)
		assert.ElementsMatch(t, []sealbox.TagEntry{
			sealbox.Tag("rev", "2"),
			sealbox.PlainTag("index", "0002"),
		}, entry.Tags)

		n, err := session.Count(ctx, "credential", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestSessionRemove(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	session := testSession(t, store)

	require.NoError(t, session.Insert(ctx, &sealbox.Entry{
		Category: "credential",
		Name:     "alice",
		Value:    []byte("sealed"),
	}))

	t.Run("removes an existing entry", func(t *testing.T) {
		require.NoError(t, session.Remove(ctx, "credential", "alice"))

		entry, err := session.Fetch(ctx, "credential", "alice", false)
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("absent entry is reported", func(t *testing.T) {
		assert.ErrorIs(t, session.Remove(ctx, "credential", "alice"), sealbox.ErrNotFound)
	})
}

func seedEntries(t *testing.T, ctx context.Context, session *sealbox.Session) {
	t.Helper()
	entries := []*sealbox.Entry{
		{
			Category: "credential",
			Name:     "alice",
			Value:    []byte("a"),
			Tags: []sealbox.TagEntry{
				sealbox.Tag("issuer", "acme"),
				sealbox.Tag("status", "active"),
				sealbox.PlainTag("height", "170"),
			},
		},
		{
			Category: "credential",
			Name:     "bob",
			Value:    []byte("b"),
			Tags: []sealbox.TagEntry{
				sealbox.Tag("issuer", "acme"),
				sealbox.Tag("status", "revoked"),
				sealbox.PlainTag("height", "185"),
			},
		},
		{
			Category: "credential",
			Name:     "carol",
			Value:    []byte("c"),
			Tags: []sealbox.TagEntry{
				sealbox.Tag("issuer", "initech"),
				sealbox.Tag("status", "active"),
				sealbox.PlainTag("height", "160"),
			},
		},
		{
			Category: "connection",
			Name:     "mediator",
			Value:    []byte("m"),
			Tags:     []sealbox.TagEntry{sealbox.Tag("status", "active")},
		},
	}
	for _, entry := range entries {
		require.NoError(t, session.Insert(ctx, entry))
	}
}

func TestSessionFetchAll(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	session := testSession(t, store)
	seedEntries(t, ctx, session)

	names := func(entries []*sealbox.Entry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Name)
		}
		return out
	}

	t.Run("by category", func(t *testing.T) {
		scan, err := session.FetchAll(ctx, "credential", nil, 0, false)
		require.NoError(t, err)
		entries := collectEntries(t, scan)
		assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, names(entries))
	})

	t.Run("all categories", func(t *testing.T) {
		scan, err := session.FetchAll(ctx, "", nil, 0, false)
		require.NoError(t, err)
		entries := collectEntries(t, scan)
		assert.ElementsMatch(t, []string{"alice", "bob", "carol", "mediator"}, names(entries))
	})

	t.Run("equality on encrypted tag", func(t *testing.T) {
		scan, err := session.FetchAll(ctx, "credential", tags.Eq("issuer", "acme"), 0, false)
		require.NoError(t, err)
		entries := collectEntries(t, scan)
		assert.ElementsMatch(t, []string{"alice", "bob"}, names(entries))
	})

	t.Run("conjunction", func(t *testing.T) {
		filter := tags.And(tags.Eq("issuer", "acme"), tags.Eq("status", "active"))
		scan, err := session.FetchAll(ctx, "credential", filter, 0, false)
		require.NoError(t, err)
		entries := collectEntries(t, scan)
		assert.Equal(t, []string{"alice"}, names(entries))
	})

	t.Run("in set", func(t *testing.T) {
		scan, err := session.FetchAll(ctx, "credential", tags.In("issuer", "acme", "initech"), 0, false)
		require.NoError(t, err)
		entries := collectEntries(t, scan)
		assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, names(entries))
	})

	t.Run("not equals", func(t *testing.T) {
		scan, err := session.FetchAll(ctx, "credential", tags.Neq("status", "revoked"), 0, false)
		require.NoError(t, err)
		entries := collectEntries(t, scan)
		assert.ElementsMatch(t, []string{"alice", "carol"}, names(entries))
	})

	t.Run("ordered comparison on plaintext tag", func(t *testing.T) {
		scan, err := session.FetchAll(ctx, "credential", tags.Gte("~height", "170"), 0, false)
		require.NoError(t, err)
		entries := collectEntries(t, scan)
		assert.ElementsMatch(t, []string{"alice", "bob"}, names(entries))
	})

	t.Run("ordered comparison on encrypted tag is rejected", func(t *testing.T) {
		_, err := session.FetchAll(ctx, "credential", tags.Gte("issuer", "a"), 0, false)
		assert.ErrorIs(t, err, sealbox.ErrUnsupportedQuery)
	})

	t.Run("exist", func(t *testing.T) {
		scan, err := session.FetchAll(ctx, "", tags.Exist("issuer"), 0, false)
		require.NoError(t, err)
		entries := collectEntries(t, scan)
		assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, names(entries))
	})

	t.Run("limit", func(t *testing.T) {
		scan, err := session.FetchAll(ctx, "credential", nil, 2, false)
		require.NoError(t, err)
		entries := collectEntries(t, scan)
		assert.Len(t, entries, 2)
	})

	t.Run("parsed json filter", func(t *testing.T) {
		filter, err := tags.ParseJSON([]byte(`{"$or": [{"issuer": "initech"}, {"status": "revoked"}]}`))
		require.NoError(t, err)

		scan, err := session.FetchAll(ctx, "credential", filter, 0, false)
		require.NoError(t, err)
		entries := collectEntries(t, scan)
		assert.ElementsMatch(t, []string{"bob", "carol"}, names(entries))
	})
}

func TestSessionCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	session := testSession(t, store)
	seedEntries(t, ctx, session)

	n, err := session.Count(ctx, "credential", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = session.Count(ctx, "credential", tags.Eq("status", "active"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = session.Count(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestSessionRemoveAll(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	session := testSession(t, store)
	seedEntries(t, ctx, session)

	t.Run("by filter", func(t *testing.T) {
		n, err := session.RemoveAll(ctx, "credential", tags.Eq("status", "revoked"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		entry, err := session.Fetch(ctx, "credential", "bob", false)
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("whole category", func(t *testing.T) {
		n, err := session.RemoveAll(ctx, "credential", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = session.Count(ctx, "", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("reserved category is rejected", func(t *testing.T) {
		_, err := session.RemoveAll(ctx, "sealbox:key", nil)
		assert.ErrorIs(t, err, sealbox.ErrInvalidInput)
	})
}

func TestEntryExpiry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	session := testSession(t, store)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	require.NoError(t, session.Insert(ctx, &sealbox.Entry{
		Category: "cache",
		Name:     "stale",
		Value:    []byte("old"),
		Expiry:   &past,
	}))
	require.NoError(t, session.Insert(ctx, &sealbox.Entry{
		Category: "cache",
		Name:     "fresh",
		Value:    []byte("new"),
		Expiry:   &future,
	}))

	t.Run("expired entries are invisible", func(t *testing.T) {
		entry, err := session.Fetch(ctx, "cache", "stale", false)
		require.NoError(t, err)
		assert.Nil(t, entry)

		n, err := session.Count(ctx, "cache", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		assert.ErrorIs(t, session.Remove(ctx, "cache", "stale"), sealbox.ErrNotFound)
	})

	t.Run("live entries keep their expiry", func(t *testing.T) {
		entry, err := session.Fetch(ctx, "cache", "fresh", false)
		require.NoError(t, err)
		require.NotNil(t, entry)
		require.NotNil(t, entry.Expiry)
		assert.Equal(t, future.Unix(), entry.Expiry.Unix())
	})

	t.Run("sweep reclaims expired rows", func(t *testing.T) {
		n, err := store.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = store.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()

	entry := func(name string) *sealbox.Entry {
		return &sealbox.Entry{Category: "credential", Name: name, Value: []byte("v")}
	}

	t.Run("commit makes writes visible", func(t *testing.T) {
		store := newTestStore(t)

		tx, err := store.Transaction(ctx, "")
		require.NoError(t, err)
		require.NoError(t, tx.Insert(ctx, entry("alice")))
		require.NoError(t, tx.Commit())

		session := testSession(t, store)
		got, err := session.Fetch(ctx, "credential", "alice", false)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("uncommitted writes are invisible to other sessions", func(t *testing.T) {
		store := newTestStore(t)

		tx, err := store.Transaction(ctx, "")
		require.NoError(t, err)
		defer tx.Close()
		require.NoError(t, tx.Insert(ctx, entry("alice")))

		session := testSession(t, store)
		got, err := session.Fetch(ctx, "credential", "alice", false)
		require.NoError(t, err)
		assert.Nil(t, got)

		n, err := session.Count(ctx, "credential", nil)
		require.NoError(t, err)
		assert.Zero(t, n)

		require.NoError(t, tx.Commit())
		got, err = session.Fetch(ctx, "credential", "alice", false)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		store := newTestStore(t)

		tx, err := store.Transaction(ctx, "")
		require.NoError(t, err)
		require.NoError(t, tx.Insert(ctx, entry("alice")))
		require.NoError(t, tx.Rollback())

		session := testSession(t, store)
		got, err := session.Fetch(ctx, "credential", "alice", false)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("close rolls back open work", func(t *testing.T) {
		store := newTestStore(t)

		tx, err := store.Transaction(ctx, "")
		require.NoError(t, err)
		require.NoError(t, tx.Insert(ctx, entry("alice")))
		require.NoError(t, tx.Close())

		session := testSession(t, store)
		got, err := session.Fetch(ctx, "credential", "alice", false)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("finished transactions reject further work", func(t *testing.T) {
		store := newTestStore(t)

		tx, err := store.Transaction(ctx, "")
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.ErrorIs(t, tx.Insert(ctx, entry("alice")), sealbox.ErrTransactionClosed)
		assert.ErrorIs(t, tx.Commit(), sealbox.ErrTransactionClosed)
		assert.ErrorIs(t, tx.Rollback(), sealbox.ErrTransactionClosed)
	})

	t.Run("closed sessions reject further work", func(t *testing.T) {
		store := newTestStore(t)

		session, err := store.Session(ctx, "")
		require.NoError(t, err)
		require.NoError(t, session.Close())

		assert.ErrorIs(t, session.Insert(ctx, entry("alice")), sealbox.ErrSessionClosed)
		_, err = session.Fetch(ctx, "credential", "alice", false)
		assert.ErrorIs(t, err, sealbox.ErrSessionClosed)
	})

	t.Run("fetch for update inside a transaction", func(t *testing.T) {
		store := newTestStore(t)

		session := testSession(t, store)
		require.NoError(t, session.Insert(ctx, entry("alice")))
		require.NoError(t, session.Close())

		tx, err := store.Transaction(ctx, "")
		require.NoError(t, err)
		defer tx.Close()

		// SQLite reports no row-locking support, so this exercises the no-op
		// path rather than an actual lock.
		got, err := tx.Fetch(ctx, "credential", "alice", true)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}

func TestScanSkipsDamagedRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	uri := "sqlite://" + path

	store, err := sealbox.Provision(ctx, uri, sealbox.Options{WrapKey: testRawKey(t)})
	require.NoError(t, err)
	defer store.Close()

	session := testSession(t, store)
	require.NoError(t, session.Insert(ctx, &sealbox.Entry{
		Category: "credential", Name: "alice", Value: []byte("a"),
	}))
	require.NoError(t, session.Insert(ctx, &sealbox.Entry{
		Category: "credential", Name: "bob", Value: []byte("b"),
	}))
	require.NoError(t, session.Close())

	// Damage one stored value behind the engine's back.
	raw, err := backend.Open(uri)
	require.NoError(t, err)
	res, err := raw.SQL.ExecContext(ctx,
		"UPDATE entries SET value = X'00' WHERE id = (SELECT id FROM entries LIMIT 1)")
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.NoError(t, raw.Close())

	session = testSession(t, store)
	scan, err := session.FetchAll(ctx, "credential", nil, 0, false)
	require.NoError(t, err)
	defer scan.Close()

	var good, damaged int
	for scan.Next() {
		if _, err := scan.Entry(); err != nil {
			assert.ErrorIs(t, err, sealbox.ErrDecryption)
			damaged++
			continue
		}
		good++
	}
	require.NoError(t, scan.Err())
	assert.Equal(t, 1, good)
	assert.Equal(t, 1, damaged)
}
