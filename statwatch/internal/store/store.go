// Package store is the persistence layer for statwatch: the metric history,
// its last-updated stamp, the collection config and the diagnostic log, all
// kept as JSON values in one SQLite key-value table.
//
// Every append is a read-modify-write of the whole value. Writers are
// serialised by a mutex and each write runs in a single transaction, so two
// overlapping appends never lose one another.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/kworkstat/dbopen"
	"github.com/hazyhaar/kworkstat/statwatch/internal/metric"
)

// LogEntry is one diagnostic line.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Store is the statwatch database handle.
type Store struct {
	DB  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already-open database. The schema must be applied.
func New(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// SetClock overrides the timestamp source (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getJSON decodes the value stored under key into dst. It reports false
// when the key is absent.
func getJSON(ctx context.Context, q queryer, key string, dst any) (bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

func putJSON(ctx context.Context, tx *sql.Tx, key string, v any, at time.Time) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), at.UnixNano())
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// GetHistory returns every stored record, oldest first.
func (s *Store) GetHistory(ctx context.Context) (metric.History, error) {
	var h metric.History
	if _, err := getJSON(ctx, s.DB, KeyMetrics, &h); err != nil {
		return nil, err
	}
	if h == nil {
		h = metric.History{}
	}
	return h, nil
}

// AppendRecord appends r to the history and stamps lastUpdated. It returns
// the stamp.
func (s *Store) AppendRecord(ctx context.Context, r metric.Record) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var h metric.History
		if _, err := getJSON(ctx, tx, KeyMetrics, &h); err != nil {
			return err
		}
		h = append(h, r)
		if err := putJSON(ctx, tx, KeyMetrics, h, now); err != nil {
			return err
		}
		return putJSON(ctx, tx, KeyLastUpdated, now.Format(time.RFC3339Nano), now)
	})
	if err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// LastUpdated returns the stamp of the most recent append. ok is false
// before the first append.
func (s *Store) LastUpdated(ctx context.Context) (t time.Time, ok bool, err error) {
	var raw string
	found, err := getJSON(ctx, s.DB, KeyLastUpdated, &raw)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	t, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: parse %s: %w", KeyLastUpdated, err)
	}
	return t, true, nil
}

// GetConfig returns the persisted collection config. A missing or
// malformed interval yields the default.
func (s *Store) GetConfig(ctx context.Context) (metric.Config, error) {
	var raw json.RawMessage
	found, err := getJSON(ctx, s.DB, KeyCollectInterval, &raw)
	if err != nil || !found {
		return metric.Config{}.Normalize(), err
	}
	var minutes float64
	if err := json.Unmarshal(raw, &minutes); err != nil {
		return metric.Config{}.Normalize(), nil
	}
	return metric.Config{IntervalMinutes: minutes}.Normalize(), nil
}

// SetConfig persists c, normalised.
func (s *Store) SetConfig(ctx context.Context, c metric.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c = c.Normalize()
	now := s.now().UTC()
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		return putJSON(ctx, tx, KeyCollectInterval, c.IntervalMinutes, now)
	})
}

// ConfigVersion returns a token that changes whenever the config is
// written, by this process or another one.
func (s *Store) ConfigVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(updated_at), 0) FROM kv WHERE key = ?`, KeyCollectInterval).Scan(&v)
	return v, err
}

// AppendLog appends one diagnostic entry.
func (s *Store) AppendLog(ctx context.Context, e LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var logs []LogEntry
		if _, err := getJSON(ctx, tx, KeyLogs, &logs); err != nil {
			return err
		}
		logs = append(logs, e)
		return putJSON(ctx, tx, KeyLogs, logs, now)
	})
}

// Logs returns the diagnostic log, oldest first.
func (s *Store) Logs(ctx context.Context) ([]LogEntry, error) {
	var logs []LogEntry
	if _, err := getJSON(ctx, s.DB, KeyLogs, &logs); err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []LogEntry{}
	}
	return logs, nil
}

// ClearLogs removes the diagnostic log.
func (s *Store) ClearLogs(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := dbopen.Exec(ctx, s.DB, `DELETE FROM kv WHERE key = ?`, KeyLogs)
	if err != nil {
		return fmt.Errorf("store: clear logs: %w", err)
	}
	return nil
}
