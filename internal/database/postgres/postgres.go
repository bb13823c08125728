// Package postgres stores the attendance ledger and the pgvector mirror of
// the gallery in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Pool is a migrated PostgreSQL connection pool shared by the repositories.
type Pool struct {
	db *sql.DB
}

// Open connects to cfg.URL and applies pending ledger migrations. The
// gallery mirror tables come with OpenGalleryRepository.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(constants.DatabaseConnMaxLifetime)
	db.SetConnMaxIdleTime(constants.DatabaseConnMaxIdleTime)

	pool := &Pool{db: db}
	if err := pool.ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return pool, nil
}

func (p *Pool) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseConnectTimeout)
	defer cancel()
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func (p *Pool) Close() error {
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

// QueryRow runs a single-row query; errors surface on Scan.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

func (p *Pool) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres query: %w", err)
	}
	return rows, nil
}

func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres exec: %w", err)
	}
	return res, nil
}

// BeginTx starts a transaction; the gallery mirror replaces its rows in one.
func (p *Pool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("postgres begin: %w", err)
	}
	return tx, nil
}
