package store

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/rahul/esteira/internal/pipeline"
)

// Index is a sqlite catalogue of stored artifacts and published events,
// queryable across sessions.
type Index struct {
	DB *sql.DB
}

// IndexedArtifact is one row of the artifacts table.
type IndexedArtifact struct {
	SessionID string
	Agent     string
	Name      string
	Path      string
	Status    string
	Created   time.Time
}

// IndexedEvent is one row of the events table.
type IndexedEvent struct {
	SessionID string
	Name      string
	Agent     string
	Step      int
	Payload   string
	Timestamp time.Time
}

func NewIndex(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			agent TEXT,
			name TEXT,
			path TEXT,
			status TEXT,
			created DATETIME,
			UNIQUE(session_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			name TEXT,
			agent TEXT,
			step INTEGER,
			payload TEXT,
			timestamp DATETIME
		);`,
	}
	for _, q := range queries {
		_, err = db.Exec(q)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Index{DB: db}, nil
}

func (i *Index) Close() error {
	return i.DB.Close()
}

// RecordArtifact inserts or refreshes the row of an artifact. Re-running a
// step overwrites its row.
func (i *Index) RecordArtifact(h Header, name, path string) error {
	query := `INSERT INTO artifacts (session_id, agent, name, path, status, created) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, name) DO UPDATE SET agent = excluded.agent, path = excluded.path,
		status = excluded.status, created = excluded.created`
	_, err := i.DB.Exec(query, h.Session, h.Agent, name, path, h.Status, h.Created.UTC())
	return err
}

func (i *Index) Artifacts(sessionID string) ([]IndexedArtifact, error) {
	query := `SELECT session_id, agent, name, path, status, created FROM artifacts WHERE session_id = ? ORDER BY created, id`
	rows, err := i.DB.Query(query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []IndexedArtifact
	for rows.Next() {
		var a IndexedArtifact
		if err := rows.Scan(&a.SessionID, &a.Agent, &a.Name, &a.Path, &a.Status, &a.Created); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// Publish records a pipeline event. Stream chunks are skipped: they are
// reassembled in the artifact anyway.
func (i *Index) Publish(ev pipeline.Event) {
	if ev.Name == pipeline.EventStream {
		return
	}
	if err := i.RecordEvent(ev); err != nil {
		log.Printf("[Store] Failed to index event %s: %v", ev.Name, err)
	}
}

func (i *Index) RecordEvent(ev pipeline.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	query := `INSERT INTO events (session_id, name, agent, step, payload, timestamp) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = i.DB.Exec(query, ev.SessionID, string(ev.Name), ev.Agent, ev.Step, string(payload), ts.UTC())
	return err
}

// Events returns the most recent events, oldest first. An empty sessionID
// matches events published without one.
func (i *Index) Events(sessionID string, limit int) ([]IndexedEvent, error) {
	query := `SELECT session_id, name, agent, step, payload, timestamp FROM events WHERE session_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := i.DB.Query(query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []IndexedEvent
	for rows.Next() {
		var e IndexedEvent
		if err := rows.Scan(&e.SessionID, &e.Name, &e.Agent, &e.Step, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for l, r := 0, len(events)-1; l < r; l, r = l+1, r-1 {
		events[l], events[r] = events[r], events[l]
	}
	return events, nil
}
