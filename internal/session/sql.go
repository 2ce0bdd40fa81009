// ABOUTME: database/sql implementation of the session Store
// ABOUTME: Supports modernc sqlite, mattn sqlite3 and pgx drivers with automatic schema creation

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, cgo
	DriverPgx     = "pgx"     // github.com/jackc/pgx/v5/stdlib
)

// SQLStore implements Store on top of database/sql
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// NewSQLStore opens the database with the given driver and DSN (a file path
// for the sqlite drivers). The schema is created if it doesn't exist.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	logger := slog.Default().With("component", "session-store")

	if isSQLite(driver) && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if isSQLite(driver) {
		// A single connection keeps :memory: databases coherent and avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)

		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	s := &SQLStore{
		db:     db,
		driver: driver,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("session store initialized", "driver", driver)
	return s, nil
}

func isSQLite(driver string) bool {
	return driver == DriverSQLite || driver == DriverSQLite3
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_key TEXT PRIMARY KEY,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_messages (
			message_id  TEXT PRIMARY KEY,
			session_key TEXT NOT NULL REFERENCES sessions(session_key) ON DELETE CASCADE,
			seq         BIGINT NOT NULL,
			role        TEXT NOT NULL,
			content     TEXT NOT NULL,
			created_at  TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_session_messages_seq
			ON session_messages(session_key, seq)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for the pgx driver.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPgx {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get returns the session for key or an empty one. SQLStore has no cache, so
// refresh has no effect.
func (s *SQLStore) Get(ctx context.Context, key string, _ bool) (*Session, error) {
	sess := &Session{Key: key}

	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT created_at, updated_at FROM sessions WHERE session_key = ?`), key,
	).Scan(&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		now := time.Now().UTC()
		sess.CreatedAt, sess.UpdatedAt = now, now
		return sess, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", key, err)
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT role, content, created_at FROM session_messages WHERE session_key = ? ORDER BY seq ASC`), key)
	if err != nil {
		return nil, fmt.Errorf("loading messages for %s: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		sess.Messages = append(sess.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return sess, nil
}

// Append adds messages to the session in a single transaction.
func (s *SQLStore) Append(ctx context.Context, key string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO sessions (session_key, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (session_key) DO UPDATE SET updated_at = excluded.updated_at`),
		key, now, now); err != nil {
		return fmt.Errorf("upserting session %s: %w", key, err)
	}

	var last int64
	if err := tx.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(MAX(seq), 0) FROM session_messages WHERE session_key = ?`), key,
	).Scan(&last); err != nil {
		return fmt.Errorf("reading last sequence: %w", err)
	}

	for i, m := range msgs {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO session_messages (message_id, session_key, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			uuid.NewString(), key, last+int64(i)+1, m.Role, m.Content, ts.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing messages: %w", err)
	}
	return nil
}

// Delete removes the session and its messages.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM session_messages WHERE session_key = ?`), key); err != nil {
		return fmt.Errorf("deleting messages for %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE session_key = ?`), key); err != nil {
		return fmt.Errorf("deleting session %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	s.logger.Debug("session deleted", "session_key", key)
	return nil
}

// Close closes the underlying database
func (s *SQLStore) Close() error {
	return s.db.Close()
}
