package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Backend names returned by DetectDSNType.
const (
	BackendSQLite   = "sqlite3"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// MemoryDSN selects the in-memory backend.
const MemoryDSN = "memory:"

// DetectDSNType determines the backend for a DSN. Anything not recognized is a SQLite path.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	switch {
	case lower == MemoryDSN:
		return BackendMemory
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return BackendPostgres
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return BackendRedis
	case strings.HasPrefix(lower, "dynamodb://"):
		return BackendDynamoDB
	case strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user="):
		return BackendPostgres
	default:
		return BackendSQLite
	}
}

// IsFileBacked reports whether the DSN points at a local database file.
func IsFileBacked(dsn string) bool {
	return DetectDSNType(dsn) == BackendSQLite
}

// Open creates the RecordStore selected by the configured DSN.
func Open(ctx context.Context, opts ...Option) (RecordStore, error) {
	cfg := applyOpts(opts)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	backend := DetectDSNType(cfg.DSN)
	slog.Info("Opening record store", "backend", backend)

	switch backend {
	case BackendMemory:
		return NewInMemoryStore(), nil
	case BackendPostgres:
		return NewPostgresStore(opts...)
	case BackendRedis:
		return NewRedisStore(ctx, opts...)
	case BackendDynamoDB:
		table := strings.Trim(strings.TrimSpace(cfg.DSN)[len("dynamodb://"):], "/")
		if cfg.Table == "" {
			opts = append(opts, WithDynamoDBTable(table))
		}
		return NewDynamoDBStore(ctx, opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}
