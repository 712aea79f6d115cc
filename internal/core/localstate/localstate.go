// Package localstate persists device-local preferences that survive process
// restart but are never shared across devices: session activity, per-gig
// build flags, manual section ordering, locked-song history, hidden
// sections, and the last active tenant. Everything here is a best-effort
// cache; the backend collection store stays authoritative once reachable.
package localstate

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/setsync/setsync/internal/core/observability/log"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS session (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  last_active_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS build_flags (
  gig_id TEXT NOT NULL,
  section TEXT NOT NULL,
  done INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (gig_id, section)
);

CREATE TABLE IF NOT EXISTS section_order (
  gig_id TEXT NOT NULL,
  section TEXT NOT NULL,
  position INTEGER NOT NULL,
  PRIMARY KEY (gig_id, section)
);

CREATE TABLE IF NOT EXISTS locked_songs (
  gig_id TEXT NOT NULL,
  song_id TEXT NOT NULL,
  locked_at INTEGER NOT NULL,
  PRIMARY KEY (gig_id, song_id)
);

CREATE TABLE IF NOT EXISTS hidden_sections (
  gig_id TEXT NOT NULL,
  section TEXT NOT NULL,
  PRIMARY KEY (gig_id, section)
);

CREATE TABLE IF NOT EXISTS prefs (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`

// Store wraps the local SQLite file. A nil Store is valid and treats every
// read as a miss and every write as a no-op, so an unopenable file degrades
// the app instead of stopping it.
type Store struct {
	db     *sql.DB
	logger log.Log
}

// Open opens (or creates) the local state file and applies the schema.
// On failure it logs and returns (nil, err); callers may keep the nil
// store and continue.
func Open(path string, logger log.Log) (*Store, error) {
	logger = logger.With(log.String("component", "localstate"))

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logger.Warn("Local state unavailable", log.String("path", path), log.Error(err))
		return nil, fmt.Errorf("localstate: open %s: %w", path, err)
	}
	if _, err := db.Exec(schemaV1); err != nil {
		_ = db.Close()
		logger.Warn("Local state schema failed", log.Error(err))
		return nil, fmt.Errorf("localstate: apply schema: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (1)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("localstate: record schema version: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// TouchSession records activity for session-timeout bookkeeping.
func (s *Store) TouchSession(at time.Time) {
	if s == nil {
		return
	}
	_, err := s.db.Exec(
		`INSERT INTO session (id, last_active_at) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET last_active_at = excluded.last_active_at`,
		at.Unix())
	if err != nil {
		s.logger.Warn("Touch session failed", log.Error(err))
	}
}

// LastActive returns the recorded activity timestamp, zero when absent.
func (s *Store) LastActive() time.Time {
	if s == nil {
		return time.Time{}
	}
	var unix int64
	err := s.db.QueryRow(`SELECT last_active_at FROM session WHERE id = 1`).Scan(&unix)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// SetBuildFlag marks a gig section as built or not.
func (s *Store) SetBuildFlag(gigID, section string, done bool) {
	if s == nil {
		return
	}
	flag := 0
	if done {
		flag = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO build_flags (gig_id, section, done) VALUES (?, ?, ?)
		 ON CONFLICT(gig_id, section) DO UPDATE SET done = excluded.done`,
		gigID, section, flag)
	if err != nil {
		s.logger.Warn("Set build flag failed", log.Error(err))
	}
}

// BuildFlag reports whether a gig section is marked built.
func (s *Store) BuildFlag(gigID, section string) bool {
	if s == nil {
		return false
	}
	var done int
	err := s.db.QueryRow(
		`SELECT done FROM build_flags WHERE gig_id = ? AND section = ?`,
		gigID, section).Scan(&done)
	return err == nil && done == 1
}

// SetSectionOrder replaces the manual section ordering for a gig.
func (s *Store) SetSectionOrder(gigID string, sections []string) {
	if s == nil {
		return
	}
	tx, err := s.db.Begin()
	if err != nil {
		s.logger.Warn("Set section order failed", log.Error(err))
		return
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM section_order WHERE gig_id = ?`, gigID); err != nil {
		s.logger.Warn("Set section order failed", log.Error(err))
		return
	}
	for i, section := range sections {
		if _, err := tx.Exec(
			`INSERT INTO section_order (gig_id, section, position) VALUES (?, ?, ?)`,
			gigID, section, i); err != nil {
			s.logger.Warn("Set section order failed", log.Error(err))
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Warn("Set section order failed", log.Error(err))
	}
}

// SectionOrder returns the manual section ordering for a gig, nil when none
// was saved.
func (s *Store) SectionOrder(gigID string) []string {
	if s == nil {
		return nil
	}
	rows, err := s.db.Query(
		`SELECT section FROM section_order WHERE gig_id = ? ORDER BY position`, gigID)
	if err != nil {
		return nil
	}
	defer func() { _ = rows.Close() }()

	var sections []string
	for rows.Next() {
		var section string
		if err := rows.Scan(&section); err != nil {
			return nil
		}
		sections = append(sections, section)
	}
	return sections
}

// LockSong records a song as queued for a gig.
func (s *Store) LockSong(gigID, songID string, at time.Time) {
	if s == nil {
		return
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO locked_songs (gig_id, song_id, locked_at) VALUES (?, ?, ?)`,
		gigID, songID, at.Unix())
	if err != nil {
		s.logger.Warn("Lock song failed", log.Error(err))
	}
}

// IsLocked reports whether a song was previously queued for a gig.
func (s *Store) IsLocked(gigID, songID string) bool {
	if s == nil {
		return false
	}
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM locked_songs WHERE gig_id = ? AND song_id = ?`,
		gigID, songID).Scan(&n)
	return err == nil && n > 0
}

// SetSectionHidden hides or shows a section for a gig.
func (s *Store) SetSectionHidden(gigID, section string, hidden bool) {
	if s == nil {
		return
	}
	var err error
	if hidden {
		_, err = s.db.Exec(
			`INSERT OR IGNORE INTO hidden_sections (gig_id, section) VALUES (?, ?)`,
			gigID, section)
	} else {
		_, err = s.db.Exec(
			`DELETE FROM hidden_sections WHERE gig_id = ? AND section = ?`,
			gigID, section)
	}
	if err != nil {
		s.logger.Warn("Set section hidden failed", log.Error(err))
	}
}

// SectionHidden reports whether a section is hidden for a gig.
func (s *Store) SectionHidden(gigID, section string) bool {
	if s == nil {
		return false
	}
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM hidden_sections WHERE gig_id = ? AND section = ?`,
		gigID, section).Scan(&n)
	return err == nil && n > 0
}

// SetLastTenant records the last active tenant identity.
func (s *Store) SetLastTenant(tenant string) {
	if s == nil {
		return
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO prefs (key, value) VALUES ('last_tenant', ?)`, tenant)
	if err != nil {
		s.logger.Warn("Set last tenant failed", log.Error(err))
	}
}

// LastTenant returns the last active tenant, empty when unknown.
func (s *Store) LastTenant() string {
	if s == nil {
		return ""
	}
	var tenant string
	if err := s.db.QueryRow(
		`SELECT value FROM prefs WHERE key = 'last_tenant'`).Scan(&tenant); err != nil {
		return ""
	}
	return tenant
}
