package storage

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/hyperstudy/bridge/internal/ids"
)

// Session mirrors the spec's Session record: at most one may be active
// (EndedAt nil) at a time.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   *time.Time
	Metadata  map[string]any
}

var currentSessionMu sync.RWMutex

// StartSession opens a new session and records it as current. Only one
// session may be active at a time; callers must EndSession first.
func (s *Store) StartSession(metadata map[string]any) (*Session, error) {
	currentSessionMu.Lock()
	defer currentSessionMu.Unlock()

	var activeCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE ended_at IS NULL`).Scan(&activeCount); err != nil {
		return nil, wrapDBErr(err, "checking active sessions")
	}
	if activeCount > 0 {
		return nil, ids.New(ids.KindConfigurationErr, "a session is already active")
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, ids.Wrap(ids.KindSerialization, err, "marshaling session metadata")
	}

	sess := &Session{
		ID:        ids.NewSessionID(),
		StartedAt: time.Now().UTC(),
		Metadata:  metadata,
	}

	_, err = s.db.Exec(
		`INSERT INTO sessions (id, started_at, metadata) VALUES (?, ?, ?)`,
		sess.ID, sess.StartedAt, string(metaJSON),
	)
	if err != nil {
		return nil, wrapDBErr(err, "inserting session %s", sess.ID)
	}
	return sess, nil
}

// EndSession closes the session with the given id by stamping ended_at.
func (s *Store) EndSession(id string) error {
	currentSessionMu.Lock()
	defer currentSessionMu.Unlock()

	res, err := s.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return wrapDBErr(err, "ending session %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBErr(err, "checking rows affected ending session %s", id)
	}
	if n == 0 {
		return ids.New(ids.KindSessionNotFound, "no active session %s", id)
	}
	return nil
}

// CurrentSessionID returns the id of the active session, if any.
func (s *Store) CurrentSessionID() (string, bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM sessions WHERE ended_at IS NULL ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapDBErr(err, "querying current session")
	}
	return id, true, nil
}

// GetSession fetches a single session by id.
func (s *Store) GetSession(id string) (*Session, error) {
	var sess Session
	var endedAt sql.NullTime
	var metaJSON string

	err := s.db.QueryRow(
		`SELECT id, started_at, ended_at, metadata FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.StartedAt, &endedAt, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, ids.New(ids.KindSessionNotFound, "session %s not found", id)
	}
	if err != nil {
		return nil, wrapDBErr(err, "querying session %s", id)
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &sess.Metadata); err != nil {
			return nil, ids.Wrap(ids.KindSerialization, err, "unmarshaling session metadata")
		}
	}
	return &sess, nil
}

// ListSessions returns every session, newest first.
func (s *Store) ListSessions() ([]*Session, error) {
	rows, err := s.db.Query(`SELECT id, started_at, ended_at, metadata FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, wrapDBErr(err, "listing sessions")
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		var endedAt sql.NullTime
		var metaJSON string
		if err := rows.Scan(&sess.ID, &sess.StartedAt, &endedAt, &metaJSON); err != nil {
			return nil, wrapDBErr(err, "scanning session row")
		}
		if endedAt.Valid {
			t := endedAt.Time
			sess.EndedAt = &t
		}
		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &sess.Metadata)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}
