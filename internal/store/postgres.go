package store

/*
Снапшот в PostgreSQL хранится одной строкой на ключ. Истории нет:
каждая запись продюсера делает UPSERT поверх предыдущей.
*/

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/packetwarden/cloudflare-feed/internal/infra"
)

const (
	schemaQuery = `
		CREATE TABLE IF NOT EXISTS feed_snapshots (
			key        TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`

	getSnapshotQuery = `SELECT value FROM feed_snapshots WHERE key = $1`

	putSnapshotQuery = `
		INSERT INTO feed_snapshots (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
)

// pgQuerier: то, что нужно репозиторию от пула (подменяется в тестах).
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db   pgQuerier
	pool *pgxpool.Pool
}

// NewPostgresStore открывает пул. Схему создает EnsureSchema.
func NewPostgresStore(ctx context.Context, cfg infra.DatabaseConfig) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: database.url is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}

	return &PostgresStore{db: pool, pool: pool}, nil
}

// EnsureSchema вызывается при старте после успешного Ping.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaQuery); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(ctx, getSnapshotQuery, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get snapshot: %w", err)
	}
	return value, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.Exec(ctx, putSnapshotQuery, key, value); err != nil {
		return fmt.Errorf("postgres: put snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
