package storage

import "time"

// Stats are the diagnostic counters exposed via Query(Stats), supplementing
// the spec's documented query surface the way original_source's
// get_stats() does.
type Stats struct {
	LogCount          int64 `json:"log_count"`
	SampleCount       int64 `json:"sample_count"`
	StreamCount       int64 `json:"stream_count"`
	SessionCount      int64 `json:"session_count"`
	DatabaseSizeBytes int64 `json:"database_size_bytes"`
}

// GetStats reports row counts and an approximate on-disk size.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM logs`).Scan(&st.LogCount); err != nil {
		return st, wrapDBErr(err, "counting logs")
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM lsl_samples`).Scan(&st.SampleCount); err != nil {
		return st, wrapDBErr(err, "counting samples")
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM lsl_streams`).Scan(&st.StreamCount); err != nil {
		return st, wrapDBErr(err, "counting streams")
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&st.SessionCount); err != nil {
		return st, wrapDBErr(err, "counting sessions")
	}

	var pageCount, pageSize int64
	_ = s.db.QueryRow(`SELECT page_count, page_size FROM pragma_page_count(), pragma_page_size()`).Scan(&pageCount, &pageSize)
	st.DatabaseSizeBytes = pageCount * pageSize

	return st, nil
}

// Vacuum reclaims free space left by deleted rows.
func (s *Store) Vacuum() error {
	_, err := s.db.Exec(`VACUUM`)
	return wrapDBErr(err, "vacuuming database")
}

// CleanupOldLogs deletes log rows older than olderThanDays and returns the
// number of rows removed.
func (s *Store) CleanupOldLogs(olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	res, err := s.db.Exec(`DELETE FROM logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, wrapDBErr(err, "cleaning up old logs")
	}
	return res.RowsAffected()
}

// CleanupOldSamples deletes LSL samples belonging to sessions that ended
// before the cutoff. Samples are timestamped on the LSL clock rather than
// wall-clock time, so cleanup is scoped by the owning session's end time
// instead of the sample timestamp itself.
func (s *Store) CleanupOldSamples(olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	res, err := s.db.Exec(`
		DELETE FROM lsl_samples WHERE session_id IN
		(SELECT id FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?)
	`, cutoff)
	if err != nil {
		return 0, wrapDBErr(err, "cleaning up old samples")
	}
	return res.RowsAffected()
}
