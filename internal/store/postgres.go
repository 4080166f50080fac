// This file implements a PostgreSQL-backed record store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/LifeStation/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a record store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveTarget upserts the user's target.
func (s *PostgresStore) SaveTarget(ctx context.Context, userID, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO targets (user_id, text, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET text = EXCLUDED.text, updated_at = EXCLUDED.updated_at`,
		userID, text, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore SaveTarget failed", "error", err, "userID", userID)
		return persistErr("SaveTarget", userID, err)
	}
	slog.Debug("PostgresStore SaveTarget succeeded", "userID", userID)
	return nil
}

// GetTarget returns the user's target or nil if none was saved.
func (s *PostgresStore) GetTarget(ctx context.Context, userID string) (*models.TargetRecord, error) {
	var rec models.TargetRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, text, updated_at FROM targets WHERE user_id = $1`, userID,
	).Scan(&rec.UserID, &rec.Text, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetTarget not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetTarget failed", "error", err, "userID", userID)
		return nil, persistErr("GetTarget", userID, err)
	}
	return &rec, nil
}

// AppendMood inserts one mood log row.
func (s *PostgresStore) AppendMood(ctx context.Context, userID, text, date string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mood_logs (user_id, mood_text, date, created_at) VALUES ($1, $2, $3, $4)`,
		userID, text, date, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore AppendMood failed", "error", err, "userID", userID)
		return persistErr("AppendMood", userID, err)
	}
	slog.Debug("PostgresStore AppendMood succeeded", "userID", userID, "date", date)
	return nil
}

// ListMoods returns the most recent entries in insertion order.
func (s *PostgresStore) ListMoods(ctx context.Context, userID string, limit int) ([]models.MoodLogEntry, error) {
	var limitArg interface{}
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, mood_text, date::text, created_at FROM (
			SELECT id, user_id, mood_text, date, created_at FROM mood_logs
			WHERE user_id = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC`, userID, limitArg)
	if err != nil {
		slog.Error("PostgresStore ListMoods query failed", "error", err, "userID", userID)
		return nil, persistErr("ListMoods", userID, err)
	}
	defer rows.Close()

	entries, err := scanMoods(rows)
	if err != nil {
		slog.Error("PostgresStore ListMoods scan failed", "error", err, "userID", userID)
		return nil, persistErr("ListMoods", userID, err)
	}
	slog.Debug("PostgresStore ListMoods succeeded", "userID", userID, "count", len(entries))
	return entries, nil
}

// RecordInbound records an inbound event id; false means it was seen before.
func (s *PostgresStore) RecordInbound(ctx context.Context, eventID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_events (event_id, user_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (event_id) DO NOTHING`,
		eventID, userID, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore RecordInbound failed", "error", err, "eventID", eventID)
		return false, persistErr("RecordInbound", userID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, persistErr("RecordInbound", userID, err)
	}
	return n > 0, nil
}

// ForgetInbound deletes the inbound record for eventID.
func (s *PostgresStore) ForgetInbound(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM inbound_events WHERE event_id = $1`, eventID); err != nil {
		slog.Error("PostgresStore ForgetInbound failed", "error", err, "eventID", eventID)
		return persistErr("ForgetInbound", "", err)
	}
	return nil
}

// PruneInbound deletes inbound event ids recorded before cutoff.
func (s *PostgresStore) PruneInbound(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM inbound_events WHERE received_at < $1`, cutoff.UTC())
	if err != nil {
		slog.Error("PostgresStore PruneInbound failed", "error", err)
		return 0, fmt.Errorf("failed to prune inbound events: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
