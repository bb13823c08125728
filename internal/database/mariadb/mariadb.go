// Package mariadb stores the attendance ledger in MariaDB or MySQL.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// NormalizeDSN accepts a go-sql-driver DSN with or without a mysql:// or
// mariadb:// prefix and returns it with parseTime enabled and times in UTC.
func NormalizeDSN(dsn string) (string, error) {
	for _, prefix := range []string{"mysql://", "mariadb://"} {
		dsn = strings.TrimPrefix(dsn, prefix)
	}
	if dsn == "" {
		return "", errors.New("MariaDB DSN is required")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid MariaDB DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// NewPool creates a new MariaDB connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	normalized, err := NormalizeDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	// One row per mark; a handful of connections covers every worker.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(constants.DatabaseConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, constants.DatabaseConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

func (p *Pool) Close() error {
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("closing MariaDB connection: %w", err)
	}
	return nil
}
