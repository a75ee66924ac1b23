// Package postgres is the PostgreSQL implementation of the ledger store.
package postgres

import (
	"context"
	"fmt"

	"github.com/CamberLoid/TrustlessSwap/internal/config"
	"github.com/CamberLoid/TrustlessSwap/internal/swap"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Pool is the part of *pgxpool.Pool the store uses.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// 所有写事务先取得同一个事务级 advisory lock，多个服务实例共享一个数据库时仍然串行
const ledgerLockKey int64 = 0x7377617000000001

const schema = `
CREATE TABLE IF NOT EXISTS balances (
	addr TEXT PRIMARY KEY,
	handle BYTEA NOT NULL
);
CREATE TABLE IF NOT EXISTS native_balances (
	addr TEXT PRIMARY KEY,
	wei TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	seq BIGSERIAL PRIMARY KEY,
	tx UUID NOT NULL,
	kind TEXT NOT NULL,
	addr TEXT NOT NULL,
	amount_in TEXT NOT NULL,
	amount_out TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS events_addr ON events (addr);
CREATE TABLE IF NOT EXISTS transactions (
	id UUID PRIMARY KEY,
	confirming_phase TEXT NOT NULL,
	method TEXT NOT NULL,
	caller TEXT NOT NULL,
	value TEXT NOT NULL,
	amount TEXT NOT NULL,
	handle BYTEA,
	error TEXT,
	created_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS fhe_ciphertexts (
	handle BYTEA PRIMARY KEY,
	ct BYTEA NOT NULL
);
CREATE TABLE IF NOT EXISTS fhe_acl (
	handle BYTEA NOT NULL REFERENCES fhe_ciphertexts (handle),
	principal TEXT NOT NULL,
	PRIMARY KEY (handle, principal)
);
`

// NewPool creates a PostgreSQL connection pool using pgx.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("dbname", cfg.DBName).
		Msg("PostgreSQL connection pool established")
	return pool, nil
}

// Store implements swap.Store.
type Store struct {
	pool Pool
}

func NewStore(pool Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, fn func(tx swap.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			err = fmt.Errorf("ledger update failed: %v", p)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockKey); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("lock ledger: %w", err)
	}
	if err = fn(&ledgerTx{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx swap.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	err = fn(&ledgerTx{q: tx, readOnly: true})
	_ = tx.Rollback(ctx)
	return err
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
