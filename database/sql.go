// Package database provides SQL connectivity, migrations and the location
// repository for the MySQL/MariaDB and PostgreSQL/PostGIS dialects.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/mycobrun/cobrun-location/geometry"
	"github.com/mycobrun/cobrun-location/resilience"
)

// SQLConfig holds SQL connection configuration.
type SQLConfig struct {
	Dialect      geometry.Dialect
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	Retry        resilience.RetryConfig
}

// DefaultSQLConfig returns sensible defaults.
func DefaultSQLConfig(dialect geometry.Dialect, dsn string) SQLConfig {
	return SQLConfig{
		Dialect:      dialect,
		DSN:          dsn,
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		MaxLifetime:  5 * time.Minute,
		Retry:        resilience.DefaultRetryConfig(),
	}
}

// SQLClient wraps a SQL database connection. Queries are written with `?`
// placeholders and rebound for the dialect before they reach the driver.
type SQLClient struct {
	db      *sql.DB
	dialect geometry.Dialect
	config  SQLConfig
}

// NewSQLClient opens a connection pool for the configured dialect and pings
// it, retrying while the server is still starting. For the MySQL family the
// server version decides between MySQL 8 and MariaDB, whatever the
// configured name.
func NewSQLClient(ctx context.Context, config SQLConfig) (*SQLClient, error) {
	db, err := openDB(config.Dialect, config.DSN)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.MaxLifetime)

	err = resilience.Retry(ctx, config.Retry, func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dialect, err := serverDialect(ctx, db, config.Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLClient{db: db, dialect: dialect, config: config}, nil
}

func serverDialect(ctx context.Context, db *sql.DB, configured geometry.Dialect) (geometry.Dialect, error) {
	if configured.Family() != geometry.DialectMySQL {
		return configured, nil
	}
	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read server version: %w", err)
	}
	return geometry.ServerDialect(configured, version), nil
}

// NewSQLClientFromDB wraps an existing pool. The dialect family is taken
// from the pool's driver; a MySQL-family pool is treated as MySQL 8.
func NewSQLClientFromDB(db *sql.DB) (*SQLClient, error) {
	dialect, err := geometry.DialectOf(db)
	if err != nil {
		return nil, err
	}
	return &SQLClient{db: db, dialect: dialect}, nil
}

func openDB(dialect geometry.Dialect, dsn string) (*sql.DB, error) {
	switch dialect.Family() {
	case geometry.DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		// Timestamps scan into time.Time only with parseTime.
		cfg.ParseTime = true
		if cfg.Loc == nil {
			cfg.Loc = time.UTC
		}
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create mysql connector: %w", err)
		}
		return sql.OpenDB(connector), nil

	case geometry.DialectPostgres:
		cfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres dsn: %w", err)
		}
		return stdlib.OpenDB(*cfg), nil

	default:
		return nil, fmt.Errorf("unsupported dialect %s", dialect)
	}
}

// DB returns the underlying sql.DB instance.
func (c *SQLClient) DB() *sql.DB {
	return c.db
}

// Dialect returns the client's SQL dialect.
func (c *SQLClient) Dialect() geometry.Dialect {
	return c.dialect
}

// Ping checks the database connection.
func (c *SQLClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection.
func (c *SQLClient) Close() error {
	return c.db.Close()
}

// Exec executes a query without returning results.
func (c *SQLClient) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, c.dialect.Rebind(query), args...)
}

// Query executes a query and returns rows.
func (c *SQLClient) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, c.dialect.Rebind(query), args...)
}

// QueryRow executes a query and returns a single row.
func (c *SQLClient) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, c.dialect.Rebind(query), args...)
}

// Transaction represents a database transaction.
type Transaction struct {
	tx      *sql.Tx
	dialect geometry.Dialect
}

// Begin starts a new transaction.
func (c *SQLClient) Begin(ctx context.Context) (*Transaction, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: tx, dialect: c.dialect}, nil
}

// Commit commits the transaction.
func (t *Transaction) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Transaction) Rollback() error {
	return t.tx.Rollback()
}

// Exec executes a query in the transaction.
func (t *Transaction) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

// QueryRow executes a query in the transaction and returns a single row.
func (t *Transaction) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

// WithTransaction executes fn within a transaction. If fn returns an error
// the transaction is rolled back, otherwise it is committed.
func (c *SQLClient) WithTransaction(ctx context.Context, fn func(*Transaction) error) error {
	tx, err := c.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}
