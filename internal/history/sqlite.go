package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore keeps delivered IDs in a single sqlite table.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSQLiteStore(ctx context.Context, path string, logger zerolog.Logger) (*SQLiteStore, error) {
	logger = logger.With().Str("component", "sqlite_store").Logger()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database at '%s': %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database at '%s': %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("sqlite history opened")
	return s, nil
}

func (s *SQLiteStore) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS delivered_messages (
		message_id TEXT PRIMARY KEY,
		delivered_at TIMESTAMP NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Contains(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM delivered_messages WHERE message_id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query delivered message: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO delivered_messages (message_id, delivered_at) VALUES (?, ?)`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert delivered message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
