// Package database selects and opens the attendance ledger backend.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/mariadb"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/database/sqlite"
)

// Backend names a ledger storage engine.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendMariaDB  Backend = "mariadb"
)

// ParseDSN returns the backend a ledger DSN selects and the locator to hand
// to that backend. A bare path selects SQLite.
func ParseDSN(dsn string) (Backend, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", errors.New("ledger DSN is required")
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite DSN %q has no path", dsn)
		}
		return BackendSQLite, path, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return BackendPostgres, dsn, nil
	case strings.HasPrefix(dsn, "mysql://"), strings.HasPrefix(dsn, "mariadb://"):
		return BackendMariaDB, dsn, nil
	case strings.Contains(dsn, "://"):
		return "", "", fmt.Errorf("unsupported ledger DSN scheme in %q", dsn)
	default:
		return BackendSQLite, dsn, nil
	}
}

// OpenLedger opens the ledger selected by dsn. Pool sizes for PostgreSQL come
// from pool; its URL is ignored in favour of dsn.
func OpenLedger(ctx context.Context, dsn string, pool config.DatabaseConfig) (attendance.Ledger, error) {
	backend, locator, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendSQLite:
		if locator == ":memory:" {
			return sqlite.OpenInMemory()
		}
		return sqlite.Open(locator)
	case BackendPostgres:
		pool.URL = locator
		p, err := postgres.Open(ctx, &pool)
		if err != nil {
			return nil, err
		}
		return postgres.NewLedgerRepository(p), nil
	case BackendMariaDB:
		return mariadb.OpenLedger(ctx, locator)
	default:
		return nil, fmt.Errorf("unsupported ledger backend %q", backend)
	}
}
