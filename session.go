package sealbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/sealbox/tags"
)

// keyCategory is the reserved category holding managed keys. It is accessible
// only through the key-store operations; the entry operations reject it.
const keyCategory = "sealbox:key"

// querier is satisfied by both a pinned connection and a transaction, so every
// statement helper runs identically inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Session is a unit of work against one profile. It pins a single backend
// connection for its lifetime and carries the profile's encryption scheme, so
// every operation encrypts on the way in and decrypts on the way out.
//
// A Session is not safe for concurrent use. Close releases the pinned
// connection; forgetting to close a session leaks a pool slot until the store
// closes.
type Session struct {
	store   *Store
	profile *Profile
	conn    *sql.Conn
	tx      *sql.Tx
	isTx    bool
	closed  bool
}

// Transaction is a Session whose operations run inside one backend
// transaction. It must be finished with Commit or Rollback; Close rolls back
// anything still open.
type Transaction struct {
	Session
}

// Session starts a non-transactional session on the named profile. An empty
// profile name selects the store's default profile.
func (s *Store) Session(ctx context.Context, profile string) (*Session, error) {
	p, err := s.getProfile(ctx, profile)
	if err != nil {
		return nil, err
	}
	conn, err := s.acquireConn(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{store: s, profile: p, conn: conn}, nil
}

// Transaction starts a transactional session on the named profile. An empty
// profile name selects the store's default profile.
func (s *Store) Transaction(ctx context.Context, profile string) (*Transaction, error) {
	p, err := s.getProfile(ctx, profile)
	if err != nil {
		return nil, err
	}
	conn, err := s.acquireConn(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, s.db.MapError(err)
	}
	return &Transaction{Session{store: s, profile: p, conn: conn, tx: tx, isTx: true}}, nil
}

// Profile returns the name of the profile the session operates on.
func (s *Session) Profile() string {
	return s.profile.name
}

func (s *Session) active() error {
	if !s.closed {
		return nil
	}
	if s.isTx {
		return ErrTransactionClosed
	}
	return ErrSessionClosed
}

func (s *Session) runner() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.conn
}

// writeTx runs fn against the session's transaction when one is open. On a
// plain session every statement auto-commits, so fn is wrapped in a short
// transaction on the pinned connection instead; a multi-statement write then
// commits or rolls back as one unit.
func (s *Session) writeTx(ctx context.Context, fn func(q querier) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return s.store.db.MapError(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.store.db.MapError(err)
	}
	return nil
}

// Close releases the session's pinned connection. For a transaction with
// uncommitted work, the work is rolled back first. Close is idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.tx != nil {
		err = s.tx.Rollback()
		if errors.Is(err, sql.ErrTxDone) {
			err = nil
		}
		s.tx = nil
	}
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return s.store.db.MapError(err)
	}
	return nil
}

// Commit makes the transaction's writes visible and ends it. The transaction
// cannot be used afterwards.
func (t *Transaction) Commit() error {
	if err := t.active(); err != nil {
		return err
	}
	t.closed = true

	err := t.tx.Commit()
	t.tx = nil
	if cerr := t.conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return t.store.db.MapError(err)
	}
	return nil
}

// Rollback discards the transaction's writes and ends it.
func (t *Transaction) Rollback() error {
	if err := t.active(); err != nil {
		return err
	}
	t.closed = true

	err := t.tx.Rollback()
	t.tx = nil
	if cerr := t.conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return t.store.db.MapError(err)
	}
	return nil
}

func guardCategory(category string) error {
	if category == "" {
		return fmt.Errorf("%w: empty category", ErrInvalidInput)
	}
	if category == keyCategory {
		return fmt.Errorf("%w: category %q is reserved", ErrInvalidInput, keyCategory)
	}
	return nil
}

// Insert stores a new entry. Fails with ErrDuplicate if the profile already
// holds an entry with the same category and name, even an expired one.
func (s *Session) Insert(ctx context.Context, entry *Entry) error {
	if err := s.active(); err != nil {
		return err
	}
	if err := guardCategory(entry.Category); err != nil {
		return err
	}
	return s.insert(ctx, entry)
}

func (s *Session) insert(ctx context.Context, entry *Entry) error {
	return s.writeTx(ctx, func(q querier) error {
		return s.insertIn(ctx, q, entry)
	})
}

func (s *Session) insertIn(ctx context.Context, q querier, entry *Entry) error {
	if entry.Name == "" {
		return fmt.Errorf("%w: empty entry name", ErrInvalidInput)
	}

	row, err := s.encryptEntry(entry)
	if err != nil {
		return err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("%w: generate entry id: %v", ErrBackend, err)
	}

	d := s.store.db.Dialect
	query := fmt.Sprintf(
		"INSERT INTO entries (id, profile_id, category, name, value, expiry) VALUES (%s, %s, %s, %s, %s, %s)",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3),
		d.Placeholder(4), d.Placeholder(5), d.Placeholder(6),
	)
	_, err = q.ExecContext(ctx, query,
		id.String(), s.profile.id, row.category, row.name, row.value, expiryParam(entry.Expiry))
	if err != nil {
		if d.IsDuplicate(err) {
			return fmt.Errorf("%w: %s/%s", ErrDuplicate, entry.Category, entry.Name)
		}
		return s.store.db.MapError(err)
	}

	return s.insertTags(ctx, q, id.String(), row.tags)
}

// Replace stores an entry, overwriting value, tags and expiry of an existing
// entry with the same category and name, or inserting when none exists.
func (s *Session) Replace(ctx context.Context, entry *Entry) error {
	if err := s.active(); err != nil {
		return err
	}
	if err := guardCategory(entry.Category); err != nil {
		return err
	}
	return s.replace(ctx, entry)
}

func (s *Session) replace(ctx context.Context, entry *Entry) error {
	return s.writeTx(ctx, func(q querier) error {
		return s.replaceIn(ctx, q, entry)
	})
}

func (s *Session) replaceIn(ctx context.Context, q querier, entry *Entry) error {
	if entry.Name == "" {
		return fmt.Errorf("%w: empty entry name", ErrInvalidInput)
	}

	row, err := s.encryptEntry(entry)
	if err != nil {
		return err
	}

	d := s.store.db.Dialect
	lookup := fmt.Sprintf(
		"SELECT id FROM entries WHERE profile_id = %s AND category = %s AND name = %s",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3),
	)

	var id string
	err = q.QueryRowContext(ctx, lookup, s.profile.id, row.category, row.name).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.insertIn(ctx, q, entry)
	case err != nil:
		return s.store.db.MapError(err)
	}

	update := fmt.Sprintf("UPDATE entries SET value = %s, expiry = %s WHERE id = %s",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	if _, err := q.ExecContext(ctx, update, row.value, expiryParam(entry.Expiry), id); err != nil {
		return s.store.db.MapError(err)
	}

	clearTags := fmt.Sprintf("DELETE FROM entry_tags WHERE entry_id = %s", d.Placeholder(1))
	if _, err := q.ExecContext(ctx, clearTags, id); err != nil {
		return s.store.db.MapError(err)
	}

	return s.insertTags(ctx, q, id, row.tags)
}

// Remove deletes the entry with the given category and name. Fails with
// ErrNotFound when no live entry matches; an expired entry counts as absent.
func (s *Session) Remove(ctx context.Context, category, name string) error {
	if err := s.active(); err != nil {
		return err
	}
	if err := guardCategory(category); err != nil {
		return err
	}
	return s.remove(ctx, category, name)
}

func (s *Session) remove(ctx context.Context, category, name string) error {
	encCategory, err := s.profile.scheme.EncryptCategory([]byte(category))
	if err != nil {
		return err
	}
	encName, err := s.profile.scheme.EncryptName([]byte(name))
	if err != nil {
		return err
	}

	d := s.store.db.Dialect
	query := fmt.Sprintf(
		"DELETE FROM entries WHERE profile_id = %s AND category = %s AND name = %s AND (expiry IS NULL OR expiry > %s)",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4),
	)
	res, err := s.runner().ExecContext(ctx, query, s.profile.id, encCategory, encName, time.Now().Unix())
	if err != nil {
		return s.store.db.MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.store.db.MapError(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, category, name)
	}
	return nil
}

// RemoveAll deletes every live entry matching the category and tag filter and
// returns the number removed. An empty category matches all categories except
// the reserved key category. A nil filter matches everything in scope.
func (s *Session) RemoveAll(ctx context.Context, category string, filter tags.Filter) (int64, error) {
	if err := s.active(); err != nil {
		return 0, err
	}
	if category == keyCategory {
		return 0, fmt.Errorf("%w: category %q is reserved", ErrInvalidInput, keyCategory)
	}
	return s.removeAll(ctx, category, filter)
}

func (s *Session) removeAll(ctx context.Context, category string, filter tags.Filter) (int64, error) {
	where, args, err := s.buildWhere(category, filter)
	if err != nil {
		return 0, err
	}

	// MySQL rejects a DELETE whose subquery reads the deleted table directly;
	// the extra derived-table wrapper works on every backend.
	query := fmt.Sprintf(
		"DELETE FROM entries WHERE id IN (SELECT id FROM (SELECT e.id FROM entries e WHERE %s) AS matched)",
		where,
	)
	res, err := s.runner().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.store.db.MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.store.db.MapError(err)
	}
	return n, nil
}

// Fetch retrieves the entry with the given category and name, or (nil, nil)
// when no live entry matches. Inside a transaction on a backend with row
// locking, forUpdate locks the row until the transaction ends; elsewhere it is
// a no-op.
func (s *Session) Fetch(ctx context.Context, category, name string, forUpdate bool) (*Entry, error) {
	if err := s.active(); err != nil {
		return nil, err
	}
	if err := guardCategory(category); err != nil {
		return nil, err
	}
	return s.fetch(ctx, category, name, forUpdate)
}

func (s *Session) fetch(ctx context.Context, category, name string, forUpdate bool) (*Entry, error) {
	encCategory, err := s.profile.scheme.EncryptCategory([]byte(category))
	if err != nil {
		return nil, err
	}
	encName, err := s.profile.scheme.EncryptName([]byte(name))
	if err != nil {
		return nil, err
	}

	d := s.store.db.Dialect
	query := fmt.Sprintf(
		"SELECT id, value, expiry FROM entries WHERE profile_id = %s AND category = %s AND name = %s AND (expiry IS NULL OR expiry > %s)%s",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4),
		s.lockSuffix(forUpdate),
	)

	var id string
	var encValue []byte
	var expiry sql.NullInt64
	err = s.runner().QueryRowContext(ctx, query,
		s.profile.id, encCategory, encName, time.Now().Unix()).Scan(&id, &encValue, &expiry)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, s.store.db.MapError(err)
	}

	value, err := s.profile.scheme.DecryptValue(encValue, encCategory, encName)
	if err != nil {
		return nil, err
	}

	entryTags, err := s.fetchTags(ctx, id)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Category: category,
		Name:     name,
		Value:    value,
		Tags:     entryTags,
		Expiry:   expiryTime(expiry),
	}, nil
}

func (s *Session) fetchTags(ctx context.Context, entryID string) ([]TagEntry, error) {
	d := s.store.db.Dialect
	query := fmt.Sprintf(
		"SELECT name, value, value_enc, plaintext FROM entry_tags WHERE entry_id = %s",
		d.Placeholder(1),
	)
	rows, err := s.runner().QueryContext(ctx, query, entryID)
	if err != nil {
		return nil, s.store.db.MapError(err)
	}
	defer rows.Close()

	var out []TagEntry
	for rows.Next() {
		var name, value, valueEnc []byte
		var plaintext int
		if err := rows.Scan(&name, &value, &valueEnc, &plaintext); err != nil {
			return nil, s.store.db.MapError(err)
		}
		tag, err := s.decodeTag(name, value, valueEnc, plaintext != 0)
		if err != nil {
			return nil, err
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, s.store.db.MapError(err)
	}
	return out, nil
}

// FetchAll retrieves every live entry matching the category and tag filter as
// a Scan. An empty category matches all categories except the reserved key
// category; a nil filter matches everything in scope; limit <= 0 means no
// limit. The scan must be closed.
func (s *Session) FetchAll(ctx context.Context, category string, filter tags.Filter, limit int64, forUpdate bool) (*Scan, error) {
	if err := s.active(); err != nil {
		return nil, err
	}
	if category == keyCategory {
		return nil, fmt.Errorf("%w: category %q is reserved", ErrInvalidInput, keyCategory)
	}
	return s.fetchAll(ctx, category, filter, limit, forUpdate)
}

func (s *Session) fetchAll(ctx context.Context, category string, filter tags.Filter, limit int64, forUpdate bool) (*Scan, error) {
	where, args, err := s.buildWhere(category, filter)
	if err != nil {
		return nil, err
	}

	inner := fmt.Sprintf("SELECT e.id, e.category, e.name, e.value, e.expiry FROM entries e WHERE %s ORDER BY e.id", where)
	if limit > 0 {
		inner += fmt.Sprintf(" LIMIT %d", limit)
	}
	inner += s.lockSuffix(forUpdate)

	// One statement streams entries and their tags together. The session's
	// pinned connection cannot run tag lookups while this cursor is open, so
	// the join is not an optimization, it is the only shape that works.
	query := fmt.Sprintf(
		"SELECT e.id, e.category, e.name, e.value, e.expiry, t.name, t.value, t.value_enc, t.plaintext "+
			"FROM (%s) e LEFT JOIN entry_tags t ON t.entry_id = e.id ORDER BY e.id",
		inner,
	)
	rows, err := s.runner().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.store.db.MapError(err)
	}
	return &Scan{session: s, rows: rows}, nil
}

// Count returns the number of live entries matching the category and tag
// filter, under the same scope rules as FetchAll.
func (s *Session) Count(ctx context.Context, category string, filter tags.Filter) (int64, error) {
	if err := s.active(); err != nil {
		return 0, err
	}
	if category == keyCategory {
		return 0, fmt.Errorf("%w: category %q is reserved", ErrInvalidInput, keyCategory)
	}

	where, args, err := s.buildWhere(category, filter)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM entries e WHERE %s", where)
	var n int64
	if err := s.runner().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, s.store.db.MapError(err)
	}
	return n, nil
}

// lockSuffix renders the row-locking clause when it can take effect: inside a
// transaction, on a backend that supports it.
func (s *Session) lockSuffix(forUpdate bool) string {
	if forUpdate && s.tx != nil && s.store.db.Dialect.SupportsForUpdate() {
		return " FOR UPDATE"
	}
	return ""
}

// buildWhere renders the shared entry predicate: profile scope, category
// scope, liveness, and the compiled tag filter. An empty category widens the
// scope to everything but the reserved key category.
func (s *Session) buildWhere(category string, filter tags.Filter) (string, []any, error) {
	d := s.store.db.Dialect
	var clauses []string
	var args []any
	ph := func(v any) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}

	clauses = append(clauses, fmt.Sprintf("e.profile_id = %s", ph(s.profile.id)))

	if category != "" {
		encCategory, err := s.profile.scheme.EncryptCategory([]byte(category))
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, fmt.Sprintf("e.category = %s", ph(encCategory)))
	} else {
		encReserved, err := s.profile.scheme.EncryptCategory([]byte(keyCategory))
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, fmt.Sprintf("e.category <> %s", ph(encReserved)))
	}

	clauses = append(clauses, fmt.Sprintf("(e.expiry IS NULL OR e.expiry > %s)", ph(time.Now().Unix())))

	if filter != nil {
		pred, filterArgs, err := tags.Compile(filter, s.profile.scheme, d, len(args)+1)
		if err != nil {
			return "", nil, err
		}
		args = append(args, filterArgs...)
		clauses = append(clauses, pred)
	}

	return strings.Join(clauses, " AND "), args, nil
}

// encryptedEntry holds the at-rest representation of one entry.
type encryptedEntry struct {
	category []byte
	name     []byte
	value    []byte
	tags     []encryptedTag
}

type encryptedTag struct {
	name      []byte
	value     []byte
	valueEnc  []byte
	plaintext bool
}

func (s *Session) encryptEntry(entry *Entry) (encryptedEntry, error) {
	scheme := s.profile.scheme

	encCategory, err := scheme.EncryptCategory([]byte(entry.Category))
	if err != nil {
		return encryptedEntry{}, err
	}
	encName, err := scheme.EncryptName([]byte(entry.Name))
	if err != nil {
		return encryptedEntry{}, err
	}
	encValue, err := scheme.EncryptValue(entry.Value, encCategory, encName)
	if err != nil {
		return encryptedEntry{}, err
	}

	encTags := make([]encryptedTag, 0, len(entry.Tags))
	for _, tag := range entry.Tags {
		if tag.Name == "" {
			return encryptedEntry{}, fmt.Errorf("%w: empty tag name", ErrInvalidInput)
		}
		if tag.Plaintext {
			encTags = append(encTags, encryptedTag{
				name:      []byte(tag.Name),
				value:     []byte(tag.Value),
				plaintext: true,
			})
			continue
		}
		encTagName, err := scheme.EncryptTagName([]byte(tag.Name))
		if err != nil {
			return encryptedEntry{}, err
		}
		encTagValue, err := scheme.EncryptTagValue([]byte(tag.Value))
		if err != nil {
			return encryptedEntry{}, err
		}
		encTags = append(encTags, encryptedTag{
			name:     encTagName,
			value:    scheme.BlindTagValue([]byte(tag.Value)),
			valueEnc: encTagValue,
		})
	}

	return encryptedEntry{category: encCategory, name: encName, value: encValue, tags: encTags}, nil
}

func (s *Session) insertTags(ctx context.Context, q querier, entryID string, encTags []encryptedTag) error {
	if len(encTags) == 0 {
		return nil
	}

	d := s.store.db.Dialect
	query := fmt.Sprintf(
		"INSERT INTO entry_tags (entry_id, name, value, value_enc, plaintext) VALUES (%s, %s, %s, %s, %s)",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4), d.Placeholder(5),
	)
	for _, tag := range encTags {
		plaintext := 0
		if tag.plaintext {
			plaintext = 1
		}
		if _, err := q.ExecContext(ctx, query,
			entryID, tag.name, tag.value, tag.valueEnc, plaintext); err != nil {
			return s.store.db.MapError(err)
		}
	}
	return nil
}

func (s *Session) decodeTag(name, value, valueEnc []byte, plaintext bool) (TagEntry, error) {
	if plaintext {
		return TagEntry{Name: string(name), Value: string(value), Plaintext: true}, nil
	}
	tagName, err := s.profile.scheme.DecryptTagName(name)
	if err != nil {
		return TagEntry{}, err
	}
	tagValue, err := s.profile.scheme.DecryptTagValue(valueEnc)
	if err != nil {
		return TagEntry{}, err
	}
	return TagEntry{Name: string(tagName), Value: string(tagValue)}, nil
}

func expiryParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func expiryTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
