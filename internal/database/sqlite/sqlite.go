// Package sqlite is the default attendance ledger, a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	_ "modernc.org/sqlite"
)

// markedAtLayout sorts lexically in time order; values are stored in UTC.
const markedAtLayout = "2006-01-02 15:04:05.000000000"

// Ledger is an attendance ledger backed by SQLite.
type Ledger struct {
	conn *sql.DB
	path string
}

// Open opens or creates the ledger database at path.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// WAL lets readers run next to the writer; busy_timeout makes a second
	// process wait for the write lock instead of failing.
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return initialize(conn, path)
}

// OpenInMemory creates an in-memory ledger (for testing).
func OpenInMemory() (*Ledger, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	return initialize(conn, ":memory:")
}

func initialize(conn *sql.DB, path string) (*Ledger, error) {
	// SQLite has one writer; a single connection also keeps an in-memory
	// database from being split across connections.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := conn.Exec(Schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Ledger{conn: conn, path: path}, nil
}

// Path returns the database file path
func (l *Ledger) Path() string {
	return l.path
}

// Record inserts the day's record for identity unless one exists.
func (l *Ledger) Record(ctx context.Context, identity, date string, at time.Time, status attendance.Status) (attendance.Outcome, error) {
	res, err := l.conn.ExecContext(ctx, `
		INSERT INTO attendance (identity, attendance_date, marked_at, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (identity, attendance_date) DO NOTHING`,
		identity, date, at.UTC().Format(markedAtLayout), string(status))
	if err != nil {
		return 0, fmt.Errorf("inserting attendance for %s: %w", identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return attendance.AlreadyMarked, nil
	}
	return attendance.Inserted, nil
}

// Summary counts the records of date by status.
func (l *Ledger) Summary(ctx context.Context, date string) (attendance.Summary, error) {
	s := attendance.Summary{Date: date}
	err := l.conn.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'Present' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'Late' THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM attendance WHERE attendance_date = ?`, date).Scan(&s.Present, &s.Late, &s.Total)
	if err != nil {
		return s, fmt.Errorf("summarizing %s: %w", date, err)
	}
	return s, nil
}

// List returns the records of date, most recent first.
func (l *Ledger) List(ctx context.Context, date string) ([]attendance.Record, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT id, identity, attendance_date, marked_at, status
		FROM attendance WHERE attendance_date = ?
		ORDER BY marked_at DESC, id DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", date, err)
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		var (
			r        attendance.Record
			markedAt string
			status   string
		)
		if err := rows.Scan(&r.ID, &r.Identity, &r.Date, &markedAt, &status); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		t, err := time.ParseInLocation(markedAtLayout, markedAt, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("record %d has malformed time %q: %w", r.ID, markedAt, err)
		}
		r.MarkedAt = t.Local()
		if r.Status, err = attendance.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("record %d: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

// Close closes the database connection
func (l *Ledger) Close() error {
	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			return fmt.Errorf("closing database: %w", err)
		}
	}
	return nil
}
