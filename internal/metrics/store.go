// Package metrics is the local single-writer metrics log.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Point is one recorded metric value
type Point struct {
	TS     time.Time         `json:"ts"`
	Name   string            `json:"name"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Store appends (ts, name, value, labels) rows to SQLite.
// A nil *Store is a valid no-op recorder.
// ⭐ SSOT: 프로세스당 하나의 appender
type Store struct {
	mu    sync.Mutex
	db    *sql.DB
	clock func() time.Time
}

// Open opens (or creates) the store at path with WAL enabled
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create metrics dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metrics store: %w", err)
	}
	// 단일 writer
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			name TEXT NOT NULL,
			value REAL NOT NULL,
			labels TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_metrics_name_ts ON metrics(name, ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create metrics table: %w", err)
	}

	return &Store{db: db, clock: time.Now}, nil
}

// WithClock overrides the timestamp source
func (s *Store) WithClock(clock func() time.Time) *Store {
	if s != nil {
		s.clock = clock
	}
	return s
}

// Record appends one value
func (s *Store) Record(ctx context.Context, name string, value float64, labels map[string]string) error {
	if s == nil {
		return nil
	}
	if labels == nil {
		labels = map[string]string{}
	}
	encoded, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO metrics (ts, name, value, labels) VALUES (?, ?, ?, ?)",
		s.clock().UTC().UnixMilli(), name, value, string(encoded),
	)
	if err != nil {
		return fmt.Errorf("insert metric %s: %w", name, err)
	}
	return nil
}

// RecordAll appends several values sharing the same labels
func (s *Store) RecordAll(ctx context.Context, values map[string]float64, labels map[string]string) error {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.Record(ctx, name, values[name], labels); err != nil {
			return err
		}
	}
	return nil
}

// Query returns the points of name recorded at or after since, oldest first
func (s *Store) Query(ctx context.Context, name string, since time.Time) ([]Point, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT ts, name, value, labels FROM metrics WHERE name = ? AND ts >= ? ORDER BY ts ASC, id ASC",
		name, since.UTC().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var (
			ts     int64
			p      Point
			labels string
		)
		if err := rows.Scan(&ts, &p.Name, &p.Value, &labels); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		p.TS = time.UnixMilli(ts).UTC()
		if labels != "" {
			if err := json.Unmarshal([]byte(labels), &p.Labels); err != nil {
				return nil, fmt.Errorf("decode labels: %w", err)
			}
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return points, nil
}

// Names returns the distinct metric names
func (s *Store) Names(ctx context.Context) ([]string, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT name FROM metrics ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query metric names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Ping verifies the database is writable
func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _ping (id INTEGER)"); err != nil {
		return fmt.Errorf("metrics store not writable: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
