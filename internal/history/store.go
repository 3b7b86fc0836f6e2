// Package history records the live update feed in DuckDB and answers the
// snapshot query: the last known value of every topic at a point in time.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/synoptic-visualizer/backend/internal/models"
)

// DefaultBatchSize is how many recorded updates accumulate before an insert.
const DefaultBatchSize = 500

type recordedUpdate struct {
	ts       int64
	sourceID string
	topicID  string
	payload  string
}

// Store is a DuckDB-backed update recorder and snapshot source.
type Store struct {
	db     *sql.DB
	dbPath string

	mu        sync.Mutex
	batch     []recordedUpdate
	batchSize int
	count     int
	minTs     int64
	maxTs     int64

	intern *StringIntern
}

// Options tunes the store; zero values select defaults.
type Options struct {
	BatchSize   int
	Threads     int
	MemoryLimit string
}

// NewStore opens (or creates) the history database in dir.
func NewStore(dir string, opts Options) (*Store, error) {
	dbPath := filepath.Join(dir, "history.duckdb")
	fmt.Printf("[History] opening database at: %s\n", dbPath)

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Threads <= 0 {
		opts.Threads = 2
	}
	if opts.MemoryLimit == "" {
		opts.MemoryLimit = "512MB"
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", opts.Threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return fmt.Errorf("executing %s: %w", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating duckdb connector: %w", err)
	}

	db := sql.OpenDB(connector)

	createTable := `
		CREATE TABLE IF NOT EXISTS updates (
			timestamp BIGINT NOT NULL,
			source_id VARCHAR NOT NULL,
			topic_id  VARCHAR NOT NULL,
			payload   VARCHAR
		)
	`
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating updates table: %w", err)
	}

	s := &Store{
		db:        db,
		dbPath:    dbPath,
		batchSize: opts.BatchSize,
		intern:    NewStringIntern(),
	}
	s.loadExistingRange()
	return s, nil
}

func (s *Store) loadExistingRange() {
	row := s.db.QueryRow("SELECT COUNT(*), COALESCE(MIN(timestamp), 0), COALESCE(MAX(timestamp), 0) FROM updates")
	var count int
	var min, max int64
	if err := row.Scan(&count, &min, &max); err != nil {
		return
	}
	s.count = count
	s.minTs = min
	s.maxTs = max
}

// Record appends one live update. Writes are batched; Flush or SnapshotAt
// forces the pending batch down.
func (s *Store) Record(sourceID, topicID, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now().UnixMilli()
	s.batch = append(s.batch, recordedUpdate{
		ts:       ts,
		sourceID: s.intern.Intern(sourceID),
		topicID:  s.intern.Intern(topicID),
		payload:  payload,
	})
	if s.minTs == 0 || ts < s.minTs {
		s.minTs = ts
	}
	if ts > s.maxTs {
		s.maxTs = ts
	}
	s.count++

	if len(s.batch) >= s.batchSize {
		return s.flushLocked()
	}
	return nil
}

// Flush writes any pending batch to the database.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if len(s.batch) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert tx: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO updates (timestamp, source_id, topic_id, payload) VALUES (?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert: %w", err)
	}
	for _, u := range s.batch {
		if _, err := stmt.Exec(u.ts, u.sourceID, u.topicID, u.payload); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("inserting update: %w", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}

	s.batch = s.batch[:0]
	return nil
}

// SnapshotAt returns the latest payload per (source, topic) at or before ts,
// using a window function so one pass answers every topic.
func (s *Store) SnapshotAt(ctx context.Context, ts time.Time) ([]models.SnapshotEntry, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}

	query := `
		WITH latest AS (
			SELECT
				timestamp, source_id, topic_id, payload,
				ROW_NUMBER() OVER(PARTITION BY source_id, topic_id ORDER BY timestamp DESC) AS rn
			FROM updates
			WHERE timestamp <= ?
		)
		SELECT timestamp, source_id, topic_id, payload
		FROM latest
		WHERE rn = 1
	`

	rows, err := s.db.QueryContext(ctx, query, ts.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.SnapshotEntry
	for rows.Next() {
		var e models.SnapshotEntry
		if err := rows.Scan(&e.Timestamp, &e.SourceID, &e.TopicID, &e.Payload); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TimeRange returns the recorded span, ok=false when nothing is recorded yet.
func (s *Store) TimeRange() (min, max time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return time.Time{}, time.Time{}, false
	}
	return time.UnixMilli(s.minTs), time.UnixMilli(s.maxTs), true
}

// Count returns the number of recorded updates, pending batch included.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		fmt.Printf("[History] flush on close failed: %v\n", err)
	}
	return s.db.Close()
}
