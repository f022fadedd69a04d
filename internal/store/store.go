package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"bken/signaling/internal/core"
)

// journalBuffer bounds how many room events may wait for the writer.
const journalBuffer = 1024

// EventRow is one persisted room lifecycle transition.
type EventRow struct {
	ID       int64     `json:"id"`
	Kind     string    `json:"kind"`
	RoomID   string    `json:"roomId"`
	ClientID string    `json:"clientId,omitempty"`
	Category string    `json:"category"`
	At       time.Time `json:"at"`
}

// Store journals room lifecycle events in SQLite. It implements
// core.Observer; observed events are written by a background goroutine so the
// registry lock is never held across disk I/O.
type Store struct {
	db  *sql.DB
	log *zap.Logger

	mu      sync.Mutex
	closed  bool
	pending chan core.RoomEvent
	done    chan struct{}
	dropped int
}

// Open opens (or creates) a SQLite database, runs migrations and starts the
// journal writer.
func Open(path string, logger *zap.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer keeps sqlite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	st := &Store{
		db:      db,
		log:     logger,
		pending: make(chan core.RoomEvent, journalBuffer),
		done:    make(chan struct{}),
	}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	go st.drain()

	logger.Info("room journal opened", zap.String("path", path))
	return st, nil
}

// Close flushes queued events and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.pending)
	}
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS room_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	room_id TEXT NOT NULL,
	client_id TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_room_events_room ON room_events(room_id, at_unix_ms);
CREATE INDEX IF NOT EXISTS idx_room_events_at ON room_events(at_unix_ms);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	s.log.Debug("sqlite migrations applied")
	return nil
}

// ObserveRoom queues ev for the writer. It never blocks; events are dropped
// when the queue is full or the store is closed.
func (s *Store) ObserveRoom(ev core.RoomEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.pending <- ev:
	default:
		s.dropped++
		if s.dropped == 1 || s.dropped%100 == 0 {
			s.log.Warn("room journal backlog full, dropping events", zap.Int("dropped", s.dropped))
		}
	}
}

func (s *Store) drain() {
	defer close(s.done)
	for ev := range s.pending {
		if err := s.Record(context.Background(), ev); err != nil {
			s.log.Error("journal write failed", zap.String("kind", ev.Kind), zap.String("room_id", ev.RoomID), zap.Error(err))
		}
	}
}

// Record persists one event synchronously.
func (s *Store) Record(ctx context.Context, ev core.RoomEvent) error {
	if strings.TrimSpace(ev.Kind) == "" {
		return fmt.Errorf("event kind is required")
	}
	if strings.TrimSpace(ev.RoomID) == "" {
		return fmt.Errorf("room id is required")
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	const q = `INSERT INTO room_events (kind, room_id, client_id, category, at_unix_ms) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, ev.Kind, ev.RoomID, ev.ClientID, ev.Category, ev.At.UnixMilli()); err != nil {
		return fmt.Errorf("insert room event: %w", err)
	}
	return nil
}

// History returns the most recent events, ordered oldest first.
func (s *Store) History(ctx context.Context, limit int) ([]EventRow, error) {
	return s.query(ctx, "", limit)
}

// RoomHistory returns the most recent events of one room, ordered oldest first.
func (s *Store) RoomHistory(ctx context.Context, roomID string, limit int) ([]EventRow, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, fmt.Errorf("room id is required")
	}
	return s.query(ctx, roomID, limit)
}

func (s *Store) query(ctx context.Context, roomID string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, kind, room_id, client_id, category, at_unix_ms
FROM room_events
WHERE ? = '' OR room_id = ?
ORDER BY at_unix_ms DESC, id DESC
LIMIT ?
`
	rows, err := s.db.QueryContext(ctx, q, roomID, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query room events: %w", err)
	}
	defer rows.Close()

	out := make([]EventRow, 0)
	for rows.Next() {
		var (
			row EventRow
			at  int64
		)
		if err := rows.Scan(&row.ID, &row.Kind, &row.RoomID, &row.ClientID, &row.Category, &at); err != nil {
			return nil, fmt.Errorf("scan room event: %w", err)
		}
		row.At = time.UnixMilli(at).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room events: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
