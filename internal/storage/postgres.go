// Package storage provides the snapshot cache, the history document store
// and the analytics ledger, together with their database connections.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crypto-temple/internal/config"
)

// historyTable holds one jsonb history document per key
const historyTable = "history_documents"

// PostgresDB is the pool behind the Postgres history store
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB opens a pool from cfg's DSN and pings it. The history is a
// single row per key, so the pool keeps one warm connection and caps the
// rest at cfg.MaxConnections.
func NewPostgresDB(cfg *config.PostgresConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres DSN: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections) // #nosec G115 - MaxConnections is validated in config
	poolConfig.MinConns = 1
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "crypto-temple"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the pool
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool returns the underlying pool
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks if the database is reachable
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// CheckSchema fails when the history table has not been migrated
func (db *PostgresDB) CheckSchema(ctx context.Context) error {
	return requireTables(ctx, "postgres", db.tableExists, historyTable)
}

func (db *PostgresDB) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists)
	return exists, err
}

// tableExistsFunc reports whether a table is present in a database
type tableExistsFunc func(ctx context.Context, table string) (bool, error)

// requireTables returns an error naming the first missing table
func requireTables(ctx context.Context, backend string, exists tableExistsFunc, tables ...string) error {
	for _, table := range tables {
		ok, err := exists(ctx, table)
		if err != nil {
			return &SchemaError{Backend: backend, Table: table, Err: err}
		}
		if !ok {
			return &SchemaError{Backend: backend, Table: table}
		}
	}
	return nil
}

// SchemaError reports a table that is missing or could not be inspected
type SchemaError struct {
	Backend string
	Table   string
	Err     error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: cannot inspect table %s: %v", e.Backend, e.Table, e.Err)
	}
	return fmt.Sprintf("%s: table %s is missing, run the migrate command first", e.Backend, e.Table)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}
