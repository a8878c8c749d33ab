package cachestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a durable Cache Store, adapted from the teacher's
// internal/database package: same table shape and running-total pruning
// query, generalized to the Store interface and to TTL-aware entries
// (the teacher's table only ever held methods that never expire).
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and ensures the cache table exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Postgres{pool: pool}
	if err := s.init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	return s, nil
}

func (s *Postgres) init(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS rpc_cache (
		key TEXT PRIMARY KEY,
		response BYTEA NOT NULL,
		result_length BIGINT NOT NULL,
		ttl_seconds BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		last_accessed_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to execute query %s: %w", query, err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		response    []byte
		ttlSeconds  int64
		createdAt   time.Time
	)
	err := s.pool.QueryRow(ctx, `
		UPDATE rpc_cache
		SET last_accessed_at = NOW()
		WHERE key = $1
		RETURNING response, ttl_seconds, created_at
	`, key).Scan(&response, &ttlSeconds, &createdAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("failed to get cached rpc result: %w", err)
	}

	entry := Entry{
		Result:    response,
		CreatedAt: createdAt,
		TTL:       time.Duration(ttlSeconds) * time.Second,
	}
	if entry.Expired(time.Now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *Postgres) Set(ctx context.Context, key string, entry Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rpc_cache (key, response, result_length, ttl_seconds, created_at, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (key) DO UPDATE
		SET response = $2, result_length = $3, ttl_seconds = $4, created_at = $5, last_accessed_at = NOW()
	`, key, entry.Result, len(entry.Result), int64(entry.TTL/time.Second), createdAt)

	if err != nil {
		return fmt.Errorf("failed to set cached rpc result: %w", err)
	}
	return nil
}

func (s *Postgres) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM rpc_cache`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

func (s *Postgres) Size(ctx context.Context) (int64, error) {
	var size int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(result_length + 64), 0) FROM rpc_cache
	`).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("failed to get cache size: %w", err)
	}
	return size, nil
}

func (s *Postgres) ItemCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rpc_cache`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get cache item count: %w", err)
	}
	return count, nil
}

func (s *Postgres) Prune(ctx context.Context, bytesToFree int64) (int64, error) {
	var freedBytes int64
	err := s.pool.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM rpc_cache
			WHERE key IN (
				SELECT key
				FROM (
					SELECT key, result_length + 64 as item_size, SUM(result_length + 64) OVER (ORDER BY last_accessed_at ASC, result_length DESC) as running_total
					FROM rpc_cache
				) t
				WHERE running_total - item_size < $1
			)
			RETURNING result_length
		)
		SELECT COALESCE(SUM(result_length + 64), 0) FROM deleted;
	`, bytesToFree).Scan(&freedBytes)

	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	return freedBytes, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
