// Package storage is the bridge's Persistence Layer: an embedded
// write-ahead-logged SQLite store holding sessions, captured logs, and LSL
// stream/sample archives, fronted by two bounded batched writers. See
// spec §4.3.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/hyperstudy/bridge/internal/ids"
	"github.com/hyperstudy/bridge/pkg/db"
)

// Store owns the database connection and the two batched writers layered
// on top of it.
type Store struct {
	db           *sql.DB
	LogBatcher   *LogBatcher
	SampleBatcher *SampleBatcher
}

// Open creates (or reuses) the SQLite database at path, applies the
// teacher's performance pragma set, runs pending migrations, and starts
// the log/sample batchers at their default sizes and intervals.
func Open(path string) (*Store, error) {
	return OpenWithBatching(path, DefaultLogBatchSize, DefaultLogFlushInterval, DefaultSampleBatchSize, DefaultSampleFlushInterval)
}

// OpenWithBatching is Open, but lets the caller size the log and sample
// batchers from configuration instead of accepting the defaults.
func OpenWithBatching(path string, logBatchSize int, logFlushInterval time.Duration, sampleBatchSize int, sampleFlushInterval time.Duration) (*Store, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, ids.Wrap(ids.KindDatabase, err, "opening database %s", path)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA cache_size = -10000",
		"PRAGMA temp_store = memory",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA optimize",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, ids.Wrap(ids.KindDatabase, err, "applying pragma %q", pragma)
		}
	}

	migrator := db.NewMigrationManager(conn)
	if err := migrator.ApplyPendingMigrations(); err != nil {
		conn.Close()
		return nil, ids.Wrap(ids.KindMigration, err, "applying migrations")
	}

	s := &Store{db: conn}
	s.LogBatcher = NewLogBatcher(s, logBatchSize, logFlushInterval)
	s.SampleBatcher = NewSampleBatcher(s, sampleBatchSize, sampleFlushInterval)
	return s, nil
}

// Close stops the batchers (flushing whatever remains) and closes the
// underlying database connection.
func (s *Store) Close() error {
	s.LogBatcher.Stop()
	s.SampleBatcher.Stop()
	return s.db.Close()
}

// DB exposes the underlying connection for components (migrations,
// maintenance) that need direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

func wrapDBErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return ids.Wrap(ids.KindDatabase, err, fmt.Sprintf(format, args...))
}
