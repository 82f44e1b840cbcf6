package audit

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// ErrNotFound is returned when an entry doesn't exist.
var ErrNotFound = errors.New("entry not found")

// Store is the SQLite-backed journal. Several reef processes may append to
// the same file: each append reads the chain head inside an immediate
// transaction.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates a journal at path, creating its directory.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	dsn := "file:" + path + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			seq       INTEGER PRIMARY KEY,
			ts        TEXT NOT NULL,
			type      TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			data      TEXT NOT NULL,
			hash      TEXT NOT NULL UNIQUE
		);
		CREATE INDEX IF NOT EXISTS idx_entries_type ON entries(type);
		CREATE INDEX IF NOT EXISTS idx_entries_ts ON entries(ts);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

// Append adds a new entry to the journal and returns it.
func (s *Store) Append(entryType EntryType, data any) (*Entry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var lastSeq uint64
	var lastHash string
	err = tx.QueryRow(`SELECT seq, hash FROM entries ORDER BY seq DESC LIMIT 1`).Scan(&lastSeq, &lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading chain head: %w", err)
	}

	entry, err := NewEntry(lastSeq+1, lastHash, entryType, data)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO entries (seq, ts, type, prev_hash, data, hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.Sequence, entry.Timestamp.Format(time.RFC3339Nano),
		string(entry.Type), entry.PrevHash, string(entry.Data), entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("inserting entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing entry: %w", err)
	}
	return entry, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves an entry by sequence number.
func (s *Store) Get(seq uint64) (*Entry, error) {
	row := s.db.QueryRow(`
		SELECT seq, ts, type, prev_hash, data, hash
		FROM entries WHERE seq = ?
	`, seq)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// Count returns the total number of entries.
func (s *Store) Count() (uint64, error) {
	var count uint64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return count, nil
}

// Range retrieves entries from startSeq to endSeq (inclusive).
func (s *Store) Range(startSeq, endSeq uint64) ([]*Entry, error) {
	return s.query(`
		SELECT seq, ts, type, prev_hash, data, hash
		FROM entries WHERE seq >= ? AND seq <= ?
		ORDER BY seq
	`, startSeq, endSeq)
}

// Recent returns up to n of the newest entries, oldest first, optionally
// filtered by type.
func (s *Store) Recent(n int, entryType EntryType) ([]*Entry, error) {
	entries, err := s.query(`
		SELECT seq, ts, type, prev_hash, data, hash
		FROM entries WHERE ? = '' OR type = ?
		ORDER BY seq DESC LIMIT ?
	`, string(entryType), string(entryType), n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ChainResult is the outcome of VerifyChain.
type ChainResult struct {
	Valid      bool   `json:"valid"`
	EntryCount uint64 `json:"entry_count"`
	// BrokenAt is the first sequence that failed verification.
	BrokenAt uint64 `json:"broken_at,omitempty"`
	Error    string `json:"error,omitempty"`
}

// VerifyChain walks the whole journal and checks that sequences are
// contiguous from FirstSequence, each entry links to its predecessor's hash,
// and each entry's hash matches its contents.
func (s *Store) VerifyChain() (*ChainResult, error) {
	rows, err := s.db.Query(`
		SELECT seq, ts, type, prev_hash, data, hash
		FROM entries ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	res := &ChainResult{Valid: true}
	want := FirstSequence
	prevHash := ""
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res.EntryCount++
		if !res.Valid {
			continue
		}
		var problem string
		switch {
		case e.Sequence != want:
			problem = fmt.Sprintf("sequence gap: expected %d, found %d", want, e.Sequence)
		case e.PrevHash != prevHash:
			problem = fmt.Sprintf("entry %d does not link to entry %d", e.Sequence, e.Sequence-1)
		case !e.Verify():
			problem = fmt.Sprintf("entry %d hash mismatch", e.Sequence)
		}
		if problem != "" {
			res.Valid = false
			res.BrokenAt = want
			res.Error = problem
			continue
		}
		want++
		prevHash = e.Hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading entries: %w", err)
	}
	return res, nil
}

func (s *Store) query(q string, args ...any) ([]*Entry, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var ts, typ, data string
	if err := row.Scan(&e.Sequence, &ts, &typ, &e.PrevHash, &data, &e.Hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning entry: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("entry %d: parsing timestamp: %w", e.Sequence, err)
	}
	e.Timestamp = t
	e.Type = EntryType(typ)
	e.Data = []byte(data)
	return &e, nil
}
