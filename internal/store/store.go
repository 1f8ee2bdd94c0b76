package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"roomcast/pkg/types"
)

// Store owns the SQLite database backing the per-room message logs and the
// quota clock records. All writes funnel through a single goroutine; SQLite
// allows concurrent readers under WAL but serializes writers, so the single
// writer keeps the hot path free of busy errors.
type Store struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Config carries the connection settings the store needs.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
}

// Open opens the database, applies the schema, and starts the write loop.
func Open(cfg *Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop processes all write operations in a single goroutine, retrying
// once after a short delay before reporting failure to the caller.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			err := op.operation(s.db)
			if err != nil {
				log.Printf("Store write failed, retrying: %v", err)
				time.Sleep(100 * time.Millisecond)
				err = op.operation(s.db)
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (s *Store) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-ctx.Done():
		return ctx.Err()
	case <-s.shutdown:
		return ErrStoreClosed
	}
}

// AppendMessage persists one message for a room under its time-ordered key.
func (s *Store) AppendMessage(ctx context.Context, roomID string, msg *types.Message) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO messages (room_id, ts_key, name, body, timestamp)
			VALUES (?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			roomID,
			TimestampKey(msg.Timestamp),
			msg.Name,
			msg.Text,
			msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// RecentMessages returns up to limit of the newest messages for a room in
// chronological order. The query walks keys newest-first, then the slice is
// reversed so callers always replay oldest-first.
func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]*types.Message, error) {
	query := `
		SELECT name, body, timestamp
		FROM messages
		WHERE room_id = ?
		ORDER BY ts_key DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		if err := rows.Scan(&msg.Name, &msg.Text, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	// Newest-first from the index, oldest-first for the caller.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// NextAllowed returns the stored quota clock for a client identity, or zero
// when no record exists yet.
func (s *Store) NextAllowed(ctx context.Context, clientKey string) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`SELECT next_allowed FROM quota WHERE client_key = ?`, clientKey,
	).Scan(&next)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query quota record: %w", err)
	}
	return next, nil
}

// SetNextAllowed upserts the quota clock for a client identity.
func (s *Store) SetNextAllowed(ctx context.Context, clientKey string, nextAllowedMillis int64) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO quota (client_key, next_allowed)
			VALUES (?, ?)
			ON CONFLICT(client_key) DO UPDATE SET next_allowed = excluded.next_allowed
		`
		if _, err := db.ExecContext(ctx, query, clientKey, nextAllowedMillis); err != nil {
			return fmt.Errorf("failed to upsert quota record: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close shuts down the write loop and the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
