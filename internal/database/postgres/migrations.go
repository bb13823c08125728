package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID serializes Migrate across workers sharing one database.
const migrationLockID = 0x6661636561747464

// mirrorMigrations need the pgvector extension and run only for the
// gallery mirror, so a ledger-only server does not need it installed.
var mirrorMigrations = map[string]bool{
	"002_gallery_embeddings.sql": true,
}

// appliedMigrations returns a set of already-applied migration versions.
func appliedMigrations(ctx context.Context, tx *sql.Tx) (map[string]bool, error) {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// pendingMigrationFiles returns sorted SQL migration filenames not yet
// applied. Mirror migrations are left out unless withMirror is set.
func pendingMigrationFiles(applied map[string]bool, withMirror bool) ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".sql") || applied[e.Name()] {
			continue
		}
		if mirrorMigrations[e.Name()] && !withMirror {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// Migrate applies pending ledger migrations in one transaction.
// Concurrent callers wait on an advisory lock.
func (p *Pool) Migrate(ctx context.Context) error {
	_, err := p.migrate(ctx, false)
	return err
}

// MigrateMirror applies pending ledger and gallery mirror migrations.
// It fails when the server cannot install pgvector.
func (p *Pool) MigrateMirror(ctx context.Context) error {
	_, err := p.migrate(ctx, true)
	return err
}

// migrate returns the versions it applied.
func (p *Pool) migrate(ctx context.Context, withMirror bool) ([]string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", int64(migrationLockID)); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}

	applied, err := appliedMigrations(ctx, tx)
	if err != nil {
		return nil, err
	}
	files, err := pendingMigrationFiles(applied, withMirror)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		content, err := migrationsFS.ReadFile("migrations/" + file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return nil, fmt.Errorf("execute migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", file); err != nil {
			return nil, fmt.Errorf("record migration %s: %w", file, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit migrations: %w", err)
	}
	return files, nil
}

// MigrationsApplied returns the list of applied migrations
func (p *Pool) MigrationsApplied(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration versions: %w", err)
	}
	return versions, nil
}
