package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SessionStore persists named session snapshots: a capture of broadcast
// traffic plus the bridge mode it was recorded under.
type SessionStore struct {
	db     *sql.DB
	dbType string // "sqlite" or "postgres"
}

// StoredSession is one saved snapshot.
type StoredSession struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	BridgeMode string    `json:"bridge_mode"`
	Capture    string    `json:"-"`
	Messages   int       `json:"messages"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewSessionStore opens the backing database. connectionString is either a
// SQLite file path or a postgres:// connection string; the driver is
// detected from the prefix.
func NewSessionStore(connectionString string) (*SessionStore, error) {
	dbType, driverName := "sqlite", "sqlite"
	if strings.HasPrefix(connectionString, "postgres://") || strings.HasPrefix(connectionString, "postgresql://") {
		dbType, driverName = "postgres", "postgres"
	}

	db, err := sql.Open(driverName, connectionString)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}

	s := &SessionStore{db: db, dbType: dbType}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initializing schema: %w", err)
	}
	return s, nil
}

func (s *SessionStore) initDB() error {
	var query string
	if s.dbType == "postgres" {
		query = `
			CREATE TABLE IF NOT EXISTS sessions (
				id SERIAL PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				bridge_mode TEXT NOT NULL,
				capture TEXT NOT NULL,
				messages INTEGER NOT NULL,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`
	} else {
		query = `
			CREATE TABLE IF NOT EXISTS sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT UNIQUE NOT NULL,
				bridge_mode TEXT NOT NULL,
				capture TEXT NOT NULL,
				messages INTEGER NOT NULL,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`
	}
	_, err := s.db.Exec(query)
	return err
}

// SaveSession stores a snapshot, replacing any session with the same name.
func (s *SessionStore) SaveSession(name, bridgeMode, capture string, messages int) error {
	var query string
	if s.dbType == "postgres" {
		query = `
			INSERT INTO sessions (name, bridge_mode, capture, messages)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE
			SET bridge_mode = EXCLUDED.bridge_mode,
			    capture = EXCLUDED.capture,
			    messages = EXCLUDED.messages,
			    created_at = CURRENT_TIMESTAMP`
	} else {
		query = `
			INSERT INTO sessions (name, bridge_mode, capture, messages)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE
			SET bridge_mode = excluded.bridge_mode,
			    capture = excluded.capture,
			    messages = excluded.messages,
			    created_at = CURRENT_TIMESTAMP`
	}
	if _, err := s.db.Exec(query, name, bridgeMode, capture, messages); err != nil {
		return fmt.Errorf("store: saving session %q: %w", name, err)
	}
	return nil
}

// GetSessionByName loads one snapshot including its capture.
func (s *SessionStore) GetSessionByName(name string) (*StoredSession, error) {
	query := `SELECT id, name, bridge_mode, capture, messages, created_at FROM sessions WHERE name = ?`
	if s.dbType == "postgres" {
		query = `SELECT id, name, bridge_mode, capture, messages, created_at FROM sessions WHERE name = $1`
	}
	var sess StoredSession
	err := s.db.QueryRow(query, name).Scan(
		&sess.ID, &sess.Name, &sess.BridgeMode, &sess.Capture, &sess.Messages, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: session %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading session %q: %w", name, err)
	}
	return &sess, nil
}

// ListSessions returns all snapshots without their captures, newest first.
func (s *SessionStore) ListSessions() ([]StoredSession, error) {
	rows, err := s.db.Query(`SELECT id, name, bridge_mode, messages, created_at FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []StoredSession
	for rows.Next() {
		var sess StoredSession
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.BridgeMode, &sess.Messages, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Close releases the database handle.
func (s *SessionStore) Close() error {
	return s.db.Close()
}
