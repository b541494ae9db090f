package storage

import (
	"database/sql"
	"time"
)

// StreamDescriptor is the persisted form of an LSL Stream Descriptor.
type StreamDescriptor struct {
	UID          string
	Name         string
	Type         string
	Channels     int
	Rate         float64
	Format       string
	SourceID     string
	Hostname     string
	DiscoveredAt time.Time
	LastSeen     time.Time
}

// UpsertStream records a newly discovered stream or refreshes LastSeen for
// one already known, tagging it with the currently active session if any.
func (s *Store) UpsertStream(d StreamDescriptor) error {
	sessionID, hasSession, err := s.CurrentSessionID()
	if err != nil {
		return err
	}
	var sid any
	if hasSession {
		sid = sessionID
	}

	_, err = s.db.Exec(`
		INSERT INTO lsl_streams (uid, session_id, name, type, channels, rate, format, source_id, hostname, discovered_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET last_seen = excluded.last_seen
	`, d.UID, sid, d.Name, d.Type, d.Channels, d.Rate, d.Format, d.SourceID, d.Hostname, d.DiscoveredAt, d.LastSeen)
	return wrapDBErr(err, "upserting stream %s", d.UID)
}

// GetStream fetches a stream descriptor by uid.
func (s *Store) GetStream(uid string) (*StreamDescriptor, error) {
	var d StreamDescriptor
	var sourceID, hostname sql.NullString
	err := s.db.QueryRow(`
		SELECT uid, name, type, channels, rate, format, source_id, hostname, discovered_at, last_seen
		FROM lsl_streams WHERE uid = ?
	`, uid).Scan(&d.UID, &d.Name, &d.Type, &d.Channels, &d.Rate, &d.Format, &sourceID, &hostname, &d.DiscoveredAt, &d.LastSeen)
	if err != nil {
		return nil, wrapDBErr(err, "querying stream %s", uid)
	}
	d.SourceID = sourceID.String
	d.Hostname = hostname.String
	return &d, nil
}
