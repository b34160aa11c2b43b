package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/crypto-temple/internal/config"
)

// ledgerTables are created by migrations/clickhouse
var ledgerTables = []string{"divination_events", "donation_events"}

// ClickHouseDB is the connection behind the analytics ledger
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB connects and pings ClickHouse. The ledger only appends
// small batches, so the pool is tiny and LZ4 keeps the native protocol
// frames compact.
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "crypto-temple", Version: "1"}},
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		Settings: clickhouse.Settings{
			"max_execution_time": 10,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Ping checks if the server is reachable
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Exec runs a statement without rows; migrations use it
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}

// CheckSchema fails when a ledger table has not been migrated
func (db *ClickHouseDB) CheckSchema(ctx context.Context) error {
	return requireTables(ctx, "clickhouse", db.tableExists, ledgerTables...)
}

func (db *ClickHouseDB) tableExists(ctx context.Context, table string) (bool, error) {
	var exists uint8
	if err := db.conn.QueryRow(ctx, "EXISTS TABLE "+table).Scan(&exists); err != nil {
		return false, err
	}
	return exists == 1, nil
}
