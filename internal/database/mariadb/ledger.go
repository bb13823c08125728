package mariadb

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// maxIdentityLen is the identity column width in characters.
const maxIdentityLen = 255

// utf8mb4_bin keeps identity comparison byte-exact like the other backends.
const schema = `
CREATE TABLE IF NOT EXISTS attendance (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	identity VARCHAR(255) NOT NULL,
	attendance_date DATE NOT NULL,
	marked_at DATETIME(6) NOT NULL,
	status VARCHAR(16) NOT NULL,
	UNIQUE KEY attendance_identity_date (identity, attendance_date),
	KEY idx_attendance_date_marked (attendance_date, marked_at)
) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin`

// Ledger is an attendance ledger backed by MariaDB.
type Ledger struct {
	pool *Pool
}

// OpenLedger connects and creates the attendance table if missing.
func OpenLedger(ctx context.Context, dsn string) (*Ledger, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.db.ExecContext(ctx, schema); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("create attendance table: %w", err)
	}
	return &Ledger{pool: pool}, nil
}

// validateRecord checks what INSERT IGNORE would otherwise truncate or
// coerce with only a warning. A truncated identity could collide with
// another one and report AlreadyMarked.
func validateRecord(identity, date string, status attendance.Status) error {
	if identity == "" {
		return errors.New("identity is required")
	}
	if n := utf8.RuneCountInString(identity); n > maxIdentityLen {
		return fmt.Errorf("identity is %d characters, the ledger stores at most %d", n, maxIdentityLen)
	}
	if _, err := attendance.ParseStatus(string(status)); err != nil {
		return err
	}
	if _, err := time.Parse(attendance.DateLayout, date); err != nil {
		return fmt.Errorf("invalid attendance date %q: %w", date, err)
	}
	return nil
}

// Record inserts the day's record for identity unless one exists.
func (l *Ledger) Record(ctx context.Context, identity, date string, at time.Time, status attendance.Status) (attendance.Outcome, error) {
	if err := validateRecord(identity, date, status); err != nil {
		return 0, err
	}

	res, err := l.pool.db.ExecContext(ctx, `
		INSERT IGNORE INTO attendance (identity, attendance_date, marked_at, status)
		VALUES (?, ?, ?, ?)`,
		identity, date, at.UTC(), string(status))
	if err != nil {
		return 0, fmt.Errorf("insert attendance for %s: %w", identity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return attendance.AlreadyMarked, nil
	}
	return attendance.Inserted, nil
}

// Summary counts the records of date by status.
func (l *Ledger) Summary(ctx context.Context, date string) (attendance.Summary, error) {
	s := attendance.Summary{Date: date}
	err := l.pool.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(status = 'Present'), 0),
			COALESCE(SUM(status = 'Late'), 0),
			COUNT(*)
		FROM attendance WHERE attendance_date = ?`, date).Scan(&s.Present, &s.Late, &s.Total)
	if err != nil {
		return s, fmt.Errorf("summarize %s: %w", date, err)
	}
	return s, nil
}

// List returns the records of date, most recent first.
func (l *Ledger) List(ctx context.Context, date string) ([]attendance.Record, error) {
	rows, err := l.pool.db.QueryContext(ctx, `
		SELECT id, identity, attendance_date, marked_at, status
		FROM attendance WHERE attendance_date = ?
		ORDER BY marked_at DESC, id DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", date, err)
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		var (
			r      attendance.Record
			day    time.Time
			status string
		)
		if err := rows.Scan(&r.ID, &r.Identity, &day, &r.MarkedAt, &status); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		r.Date = day.Format(attendance.DateLayout)
		r.MarkedAt = r.MarkedAt.Local()
		if r.Status, err = attendance.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("attendance %d: %w", r.ID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return records, nil
}

// Close closes the connection pool.
func (l *Ledger) Close() error {
	return l.pool.Close()
}
