// Package db keeps a per-session event log in SQLite under the log
// directory. Logging is best-effort: a failed insert is reported and
// ignored, it never fails the pipeline.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the events database.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates events.db inside dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	path := filepath.Join(dir, "events.db")

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	-- Installer activity: downloads, clones, remediation
	CREATE TABLE IF NOT EXISTS install_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		component TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Managed process lifecycle: spawn, ready, exit, kill
	CREATE TABLE IF NOT EXISTS process_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		process_name TEXT NOT NULL,
		event_type TEXT NOT NULL,
		pid INTEGER,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Session lifecycle: start, url discovery, shutdown, cleanup
	CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_install_events_timestamp ON install_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_process_events_timestamp ON process_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_process_events_name ON process_events(process_name);
	CREATE INDEX IF NOT EXISTS idx_session_events_timestamp ON session_events(timestamp);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// LogInstallEvent records installer activity for a component.
func (db *DB) LogInstallEvent(component, eventType, details string) error {
	_, err := db.conn.Exec(
		"INSERT INTO install_events (component, event_type, details) VALUES (?, ?, ?)",
		component, eventType, details)
	return err
}

// LogProcessEvent records a managed process lifecycle transition.
func (db *DB) LogProcessEvent(name, eventType string, pid int, details string) error {
	_, err := db.conn.Exec(
		"INSERT INTO process_events (process_name, event_type, pid, details) VALUES (?, ?, ?, ?)",
		name, eventType, pid, details)
	return err
}

// LogSessionEvent records a session-level event.
func (db *DB) LogSessionEvent(eventType, details string) error {
	_, err := db.conn.Exec(
		"INSERT INTO session_events (event_type, details) VALUES (?, ?)",
		eventType, details)
	return err
}

// SessionEvent is one row from session_events.
type SessionEvent struct {
	ID        int64
	EventType string
	Details   string
	Timestamp time.Time
}

// RecentSessionEvents returns up to limit session events, newest first.
func (db *DB) RecentSessionEvents(limit int) ([]SessionEvent, error) {
	rows, err := db.conn.Query(
		"SELECT id, event_type, COALESCE(details, ''), timestamp FROM session_events ORDER BY timestamp DESC, id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
