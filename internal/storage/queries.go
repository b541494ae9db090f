package storage

import (
	"strings"
	"time"
)

const maxSampleQueryRows = 10000

// LogRecord is one row of the logs table.
type LogRecord struct {
	ID        int64
	SessionID string
	Timestamp time.Time
	Level     string
	Message   string
	Device    string
	Source    string
}

// LogQuery filters a paginated log query. Zero values mean "no filter".
type LogQuery struct {
	Level     string
	Device    string
	Search    string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// escapeLike escapes SQLite LIKE metacharacters so Search is matched
// literally; callers must also pass `ESCAPE '\'` alongside this pattern.
func escapeLike(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}

// QueryLogs returns a page of log rows matching q, newest first. All
// filter values are bound parameters; user input never enters SQL text.
func (s *Store) QueryLogs(q LogQuery) ([]LogRecord, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 100
	}

	var clauses []string
	var args []any

	if q.Level != "" {
		clauses = append(clauses, "level = ?")
		args = append(args, q.Level)
	}
	if q.Device != "" {
		clauses = append(clauses, "device = ?")
		args = append(args, q.Device)
	}
	if q.Search != "" {
		clauses = append(clauses, "message LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(q.Search)+"%")
	}
	if q.StartTime != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, q.StartTime.UTC())
	}
	if q.EndTime != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, q.EndTime.UTC())
	}

	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	query := `SELECT id, COALESCE(session_id, ''), timestamp, level, message, COALESCE(device, ''), source
		FROM logs ` + where + ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapDBErr(err, "querying logs")
	}
	defer rows.Close()

	var out []LogRecord
	for rows.Next() {
		var r LogRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Timestamp, &r.Level, &r.Message, &r.Device, &r.Source); err != nil {
			return nil, wrapDBErr(err, "scanning log row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SampleRecord is one row of the lsl_samples table.
type SampleRecord struct {
	ID          int64
	SessionID   string
	StreamUID   string
	Timestamp   float64
	ChannelData []byte
}

// SampleQuery filters a sample query by stream and time range, capped at
// maxSampleQueryRows per spec §4.3.
type SampleQuery struct {
	SessionID string
	StreamUID string
	StartTime *float64
	EndTime   *float64
	Limit     int
}

// QuerySamples returns samples for a stream within a time range, oldest
// first, never exceeding maxSampleQueryRows.
func (s *Store) QuerySamples(q SampleQuery) ([]SampleRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > maxSampleQueryRows {
		limit = maxSampleQueryRows
	}

	clauses := []string{"stream_uid = ?"}
	args := []any{q.StreamUID}

	if q.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if q.StartTime != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, *q.StartTime)
	}
	if q.EndTime != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, *q.EndTime)
	}

	query := `SELECT id, COALESCE(session_id, ''), stream_uid, timestamp, channel_data
		FROM lsl_samples WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY timestamp ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapDBErr(err, "querying samples")
	}
	defer rows.Close()

	var out []SampleRecord
	for rows.Next() {
		var r SampleRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.StreamUID, &r.Timestamp, &r.ChannelData); err != nil {
			return nil, wrapDBErr(err, "scanning sample row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
