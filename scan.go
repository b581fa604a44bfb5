package sealbox

import (
	"database/sql"
)

// Scan streams the results of FetchAll. Rows arrive grouped by entry; Next
// advances to the next entry and Entry decrypts it. A decryption failure is
// reported by Entry for that entry alone and does not end the scan, so a
// caller can skip damaged rows and keep iterating.
//
//	scan, err := session.FetchAll(ctx, "credential", nil, 0, false)
//	if err != nil { ... }
//	defer scan.Close()
//	for scan.Next() {
//		entry, err := scan.Entry()
//		...
//	}
//	if err := scan.Err(); err != nil { ... }
type Scan struct {
	session *Session
	rows    *sql.Rows

	pending *scanRow
	current []scanRow
	err     error
	closed  bool
}

// scanRow is one joined row: entry columns plus at most one tag.
type scanRow struct {
	id          string
	category    []byte
	name        []byte
	value       []byte
	expiry      sql.NullInt64
	tagName     []byte
	tagValue    []byte
	tagValueEnc []byte
	tagPlain    sql.NullInt64
}

// Next advances to the next entry, returning false at the end of the results
// or on a backend error. Check Err after the loop.
func (s *Scan) Next() bool {
	if s.closed || s.err != nil {
		return false
	}

	first, ok := s.nextRow()
	if !ok {
		return false
	}
	s.current = s.current[:0]
	s.current = append(s.current, first)

	for {
		row, ok := s.nextRow()
		if !ok {
			return s.err == nil
		}
		if row.id != first.id {
			s.pending = &row
			return true
		}
		s.current = append(s.current, row)
	}
}

func (s *Scan) nextRow() (scanRow, bool) {
	if s.pending != nil {
		row := *s.pending
		s.pending = nil
		return row, true
	}

	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			s.err = s.session.store.db.MapError(err)
		}
		return scanRow{}, false
	}

	var row scanRow
	if err := s.rows.Scan(
		&row.id, &row.category, &row.name, &row.value, &row.expiry,
		&row.tagName, &row.tagValue, &row.tagValueEnc, &row.tagPlain,
	); err != nil {
		s.err = s.session.store.db.MapError(err)
		return scanRow{}, false
	}
	return row, true
}

// Entry decrypts and returns the entry Next advanced to. An error here means
// this entry could not be decrypted; the scan itself remains usable.
func (s *Scan) Entry() (*Entry, error) {
	if len(s.current) == 0 {
		return nil, ErrNotFound
	}
	head := s.current[0]

	scheme := s.session.profile.scheme
	category, err := scheme.DecryptCategory(head.category)
	if err != nil {
		return nil, err
	}
	name, err := scheme.DecryptName(head.name)
	if err != nil {
		return nil, err
	}
	value, err := scheme.DecryptValue(head.value, head.category, head.name)
	if err != nil {
		return nil, err
	}

	var entryTags []TagEntry
	for _, row := range s.current {
		if !row.tagPlain.Valid {
			// No tags: the LEFT JOIN produced one all-null tag side.
			continue
		}
		tag, err := s.session.decodeTag(row.tagName, row.tagValue, row.tagValueEnc, row.tagPlain.Int64 != 0)
		if err != nil {
			return nil, err
		}
		entryTags = append(entryTags, tag)
	}

	return &Entry{
		Category: string(category),
		Name:     string(name),
		Value:    value,
		Tags:     entryTags,
		Expiry:   expiryTime(head.expiry),
	}, nil
}

// Err returns the first backend error encountered while iterating.
func (s *Scan) Err() error {
	return s.err
}

// Close releases the underlying cursor. The session cannot run further
// statements until the scan is closed.
func (s *Scan) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.rows.Close(); err != nil {
		return s.session.store.db.MapError(err)
	}
	return nil
}
