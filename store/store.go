// Package store caches decompiled scripts in SQLite, keyed by the script
// bytes and the profile that rendered them.
package store

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"

	"github.com/chazu/unscript/pkg/debuginfo"
)

var log = commonlog.GetLogger("unscript.store")

// ErrNotFound indicates the requested entry is not cached.
var ErrNotFound = errors.New("entry not found")

// Key identifies a cached result.
type Key [16]byte

// KeyFor derives the cache key of a script decompiled under the profile
// with the given fingerprint.
func KeyFor(script []byte, fingerprint uint64) Key {
	var k Key
	binary.BigEndian.PutUint64(k[:8], xxh3.Hash(script))
	binary.BigEndian.PutUint64(k[8:], fingerprint)
	return k
}

// String renders the key as hex, as stored in the database.
func (k Key) String() string {
	return fmt.Sprintf("%x", k[:])
}

// Entry is one cached decompilation.
type Entry struct {
	Text  string
	Debug *debuginfo.ScriptDebugInfo
}

// Store handles SQLite storage for decompiled scripts.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS scripts (
		key TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		debug BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores an entry, replacing any previous one under the same key.
func (s *Store) Put(key Key, e *Entry) error {
	debug, err := debuginfo.Marshal(e.Debug)
	if err != nil {
		return fmt.Errorf("encoding debug info: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO scripts (key, text, debug) VALUES (?, ?, ?)",
		key.String(), e.Text, debug,
	)
	if err != nil {
		return fmt.Errorf("saving entry: %w", err)
	}
	return nil
}

// Get retrieves an entry. It returns ErrNotFound when the key is absent.
func (s *Store) Get(key Key) (*Entry, error) {
	var text string
	var debug []byte
	err := s.db.QueryRow("SELECT text, debug FROM scripts WHERE key = ?", key.String()).Scan(&text, &debug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying entry: %w", err)
	}

	d, err := debuginfo.Unmarshal(debug)
	if err != nil {
		return nil, fmt.Errorf("decoding debug info for %s: %w", key, err)
	}
	return &Entry{Text: text, Debug: d}, nil
}

// Delete removes an entry if present.
func (s *Store) Delete(key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM scripts WHERE key = ?", key.String()); err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

// Count returns the number of cached entries.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM scripts").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}
