// Package postgres provides Postgres-backed persistence for fetch records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tmorandi/stubborn/internal/fetch"
	"github.com/tmorandi/stubborn/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for fetch records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// TrailStore writes fetch records into Postgres.
type TrailStore struct {
	pool  queryExecCloser
	table string
}

// NewTrailStore creates a Postgres-backed TrailStore using the provided config.
func NewTrailStore(ctx context.Context, cfg Config) (*TrailStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "fetches"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TrailStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewTrailStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTrailStoreWithPool(pool queryExecCloser, table string) (*TrailStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "fetches"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &TrailStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *TrailStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Save inserts a fetch record. The attempt trail is stored as JSONB.
func (s *TrailStore) Save(ctx context.Context, rec storage.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("trail store is not configured")
	}
	if rec.Result.RequestID == "" {
		return fmt.Errorf("request id is required")
	}
	attemptsJSON, err := json.Marshal(rec.Result.Attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	url,
	success,
	failure_kind,
	status_code,
	won_attempt,
	attempts,
	blob_uri,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (id) DO UPDATE SET
	success = EXCLUDED.success,
	failure_kind = EXCLUDED.failure_kind,
	status_code = EXCLUDED.status_code,
	won_attempt = EXCLUDED.won_attempt,
	attempts = EXCLUDED.attempts,
	blob_uri = EXCLUDED.blob_uri`, s.table)

	args := []any{
		rec.Result.RequestID,
		rec.Result.URL,
		rec.Result.Success,
		string(rec.Result.FailureKind),
		rec.Result.StatusCode,
		rec.Result.WonAttempt,
		attemptsJSON,
		rec.BlobURI,
		createdAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert fetch record: %w", err)
	}
	return nil
}

// Get fetches a record by request ID.
func (s *TrailStore) Get(ctx context.Context, id string) (storage.Record, error) {
	if s == nil || s.pool == nil {
		return storage.Record{}, fmt.Errorf("trail store is not configured")
	}
	query := fmt.Sprintf(`
SELECT
	id,
	url,
	success,
	failure_kind,
	status_code,
	won_attempt,
	attempts,
	blob_uri,
	created_at
FROM %s
WHERE id = $1`, s.table)

	var (
		rec          storage.Record
		failureKind  string
		attemptsJSON []byte
	)
	row := s.pool.QueryRow(ctx, query, id)
	err := row.Scan(
		&rec.Result.RequestID,
		&rec.Result.URL,
		&rec.Result.Success,
		&failureKind,
		&rec.Result.StatusCode,
		&rec.Result.WonAttempt,
		&attemptsJSON,
		&rec.BlobURI,
		&rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("select fetch record: %w", err)
	}
	rec.Result.FailureKind = fetch.FailureKind(failureKind)
	if len(attemptsJSON) > 0 {
		if err := json.Unmarshal(attemptsJSON, &rec.Result.Attempts); err != nil {
			return storage.Record{}, fmt.Errorf("unmarshal attempts: %w", err)
		}
	}
	return rec, nil
}
