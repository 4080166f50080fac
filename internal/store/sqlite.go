// This file implements an SQLite-backed record store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/LifeStation/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
	// DefaultSQLiteBusyTimeoutMs is how long a writer waits on a locked database
	DefaultSQLiteBusyTimeoutMs = 5000
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the default durable record store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// One writer connection: SQLite serializes writes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	pragmas := fmt.Sprintf("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=%d;", DefaultSQLiteBusyTimeoutMs)
	if _, err := db.Exec(pragmas); err != nil {
		slog.Error("Failed to configure SQLite", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveTarget upserts the user's target.
func (s *SQLiteStore) SaveTarget(ctx context.Context, userID, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO targets (user_id, text, updated_at) VALUES (?, ?, ?)`,
		userID, text, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveTarget failed", "error", err, "userID", userID)
		return persistErr("SaveTarget", userID, err)
	}
	slog.Debug("SQLiteStore SaveTarget succeeded", "userID", userID)
	return nil
}

// GetTarget returns the user's target or nil if none was saved.
func (s *SQLiteStore) GetTarget(ctx context.Context, userID string) (*models.TargetRecord, error) {
	var rec models.TargetRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, text, updated_at FROM targets WHERE user_id = ?`, userID,
	).Scan(&rec.UserID, &rec.Text, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetTarget not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetTarget failed", "error", err, "userID", userID)
		return nil, persistErr("GetTarget", userID, err)
	}
	return &rec, nil
}

// AppendMood inserts one mood log row.
func (s *SQLiteStore) AppendMood(ctx context.Context, userID, text, date string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mood_logs (user_id, mood_text, date, created_at) VALUES (?, ?, ?, ?)`,
		userID, text, date, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore AppendMood failed", "error", err, "userID", userID)
		return persistErr("AppendMood", userID, err)
	}
	slog.Debug("SQLiteStore AppendMood succeeded", "userID", userID, "date", date)
	return nil
}

// ListMoods returns the most recent entries in insertion order.
func (s *SQLiteStore) ListMoods(ctx context.Context, userID string, limit int) ([]models.MoodLogEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, mood_text, date, created_at FROM (
			SELECT id, user_id, mood_text, date, created_at FROM mood_logs
			WHERE user_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, userID, limit)
	if err != nil {
		slog.Error("SQLiteStore ListMoods query failed", "error", err, "userID", userID)
		return nil, persistErr("ListMoods", userID, err)
	}
	defer rows.Close()

	entries, err := scanMoods(rows)
	if err != nil {
		slog.Error("SQLiteStore ListMoods scan failed", "error", err, "userID", userID)
		return nil, persistErr("ListMoods", userID, err)
	}
	slog.Debug("SQLiteStore ListMoods succeeded", "userID", userID, "count", len(entries))
	return entries, nil
}

// RecordInbound records an inbound event id; false means it was seen before.
func (s *SQLiteStore) RecordInbound(ctx context.Context, eventID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_events (event_id, user_id, received_at) VALUES (?, ?, ?)`,
		eventID, userID, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore RecordInbound failed", "error", err, "eventID", eventID)
		return false, persistErr("RecordInbound", userID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, persistErr("RecordInbound", userID, err)
	}
	return n > 0, nil
}

// ForgetInbound deletes the inbound record for eventID.
func (s *SQLiteStore) ForgetInbound(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM inbound_events WHERE event_id = ?`, eventID); err != nil {
		slog.Error("SQLiteStore ForgetInbound failed", "error", err, "eventID", eventID)
		return persistErr("ForgetInbound", "", err)
	}
	return nil
}

// PruneInbound deletes inbound event ids recorded before cutoff.
func (s *SQLiteStore) PruneInbound(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM inbound_events WHERE received_at < ?`, cutoff.UTC())
	if err != nil {
		slog.Error("SQLiteStore PruneInbound failed", "error", err)
		return 0, fmt.Errorf("failed to prune inbound events: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}

// scanMoods reads (user_id, mood_text, date, created_at) rows.
func scanMoods(rows *sql.Rows) ([]models.MoodLogEntry, error) {
	var entries []models.MoodLogEntry
	for rows.Next() {
		var e models.MoodLogEntry
		if err := rows.Scan(&e.UserID, &e.MoodText, &e.Date, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mood row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mood rows: %w", err)
	}
	return entries, nil
}
