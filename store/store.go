// Package store keeps fetched save states and battery RAM on the UI side.
// Blobs are content addressed by SHA3-256, so identical snapshots taken from
// several instances share one row.
package store

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/sha3"

	"retrohost/debug"
)

// Kind is the resource a snapshot holds.
type Kind string

const (
	KindState Kind = "state"
	KindSram  Kind = "sram"
)

var ErrEmptyKey = errors.New("store: empty snapshot key")

// Digest is the content key of a blob.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Sum hashes data.
func Sum(data []byte) Digest { return Digest(sha3.Sum256(data)) }

// RomKey names the snapshots of one ROM image.
func RomKey(rom []byte) string {
	d := Sum(rom)
	return hex.EncodeToString(d[:8])
}

// Store is a SQLite backed snapshot store. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path (":memory:" works for tests).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	debug.DropMessage("STORE", "opened "+path)
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("store: %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blobs (
		digest BLOB PRIMARY KEY,
		data   BLOB NOT NULL
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS snapshots (
		key        TEXT NOT NULL,
		kind       TEXT NOT NULL,
		digest     BLOB NOT NULL REFERENCES blobs(digest),
		size       INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (key, kind)
	) WITHOUT ROWID;
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put stores data as the latest kind snapshot of key and returns its digest.
func (s *Store) Put(key string, kind Kind, data []byte) (Digest, error) {
	if key == "" {
		return Digest{}, ErrEmptyKey
	}
	d := Sum(data)
	tx, err := s.db.Begin()
	if err != nil {
		return d, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO blobs (digest, data) VALUES (?, ?)`, d[:], data); err != nil {
		return d, fmt.Errorf("store: insert blob: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO snapshots (key, kind, digest, size, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key, kind) DO UPDATE SET digest = excluded.digest, size = excluded.size, updated_at = excluded.updated_at`,
		key, string(kind), d[:], len(data), time.Now().UnixNano())
	if err != nil {
		return d, fmt.Errorf("store: upsert snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return d, fmt.Errorf("store: commit: %w", err)
	}
	return d, nil
}

// Get returns the latest kind snapshot of key. ok is false when none exists.
func (s *Store) Get(key string, kind Kind) (data []byte, ok bool, err error) {
	err = s.db.QueryRow(`SELECT b.data FROM snapshots s JOIN blobs b ON b.digest = s.digest
		WHERE s.key = ? AND s.kind = ?`, key, string(kind)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s/%s: %w", key, kind, err)
	}
	return data, true, nil
}

// Entry describes one stored snapshot.
type Entry struct {
	Key     string
	Kind    Kind
	Digest  Digest
	Size    int
	Updated time.Time
}

// List returns every snapshot ordered by key and kind.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT key, kind, digest, size, updated_at FROM snapshots ORDER BY key, kind`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			kind   string
			digest []byte
			nanos  int64
		)
		if err := rows.Scan(&e.Key, &kind, &digest, &e.Size, &nanos); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		e.Kind = Kind(kind)
		copy(e.Digest[:], digest)
		e.Updated = time.Unix(0, nanos)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes blobs no snapshot references and returns how many went.
func (s *Store) Prune() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM blobs WHERE digest NOT IN (SELECT digest FROM snapshots)`)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
