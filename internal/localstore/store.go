// Package localstore is the client's durable local state: the installation
// id, the throttle override flag and a short narrative history per player.
// Nothing in here is authoritative game state and the session signing key
// is never written to it.
package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const DefaultRingCap = 200

const (
	prefInstallationID = "installation_id"
	prefThrottleOver   = "throttle_override"
)

type Store struct {
	db      *sql.DB
	ringCap int

	mu     sync.Mutex
	closed bool
}

func Open(path string) (*Store, error) {
	return OpenWithRing(path, DefaultRingCap)
}

func OpenWithRing(path string, ringCap int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if ringCap <= 0 {
		ringCap = DefaultRingCap
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, ringCap: ringCap}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS prefs (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS narrative (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player TEXT NOT NULL,
			line TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_narrative_player_id ON narrative(player, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) pref(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM prefs WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) setPref(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO prefs(key,value) VALUES(?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// InstallationID returns the id generated the first time this store was
// used.
func (s *Store) InstallationID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok, err := s.pref(prefInstallationID)
	if err != nil {
		return "", err
	}
	if ok && v != "" {
		return v, nil
	}
	id := uuid.NewString()
	if err := s.setPref(prefInstallationID, id); err != nil {
		return "", err
	}
	return id, nil
}

// Override reads the throttle override flag; false when never set.
func (s *Store) Override() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok, err := s.pref(prefThrottleOver)
	if err != nil || !ok {
		return false, err
	}
	return v == "1", nil
}

func (s *Store) SetOverride(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := "0"
	if on {
		v = "1"
	}
	return s.setPref(prefThrottleOver, v)
}

// AppendNarrative adds lines to player's ring, trimming the oldest past the
// ring capacity.
func (s *Store) AppendNarrative(player string, lines ...string) error {
	player = strings.TrimSpace(player)
	if player == "" || len(lines) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO narrative(player,line) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, l := range lines {
		if _, err := stmt.Exec(player, l); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`DELETE FROM narrative WHERE player=? AND id NOT IN (
		SELECT id FROM narrative WHERE player=? ORDER BY id DESC LIMIT ?
	)`, player, player, s.ringCap); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentNarrative returns up to n of player's most recent lines, oldest
// first. n <= 0 means the whole ring.
func (s *Store) RecentNarrative(player string, n int) ([]string, error) {
	if n <= 0 || n > s.ringCap {
		n = s.ringCap
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT line FROM (
		SELECT id, line FROM narrative WHERE player=? ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`, strings.TrimSpace(player), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
