package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// LedgerRepository is an attendance ledger stored in the attendance table.
type LedgerRepository struct {
	pool *Pool
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(pool *Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Record inserts the day's record for identity unless one exists.
func (r *LedgerRepository) Record(ctx context.Context, identity, date string, at time.Time, status attendance.Status) (attendance.Outcome, error) {
	res, err := r.pool.Exec(ctx, `
		INSERT INTO attendance (identity, attendance_date, marked_at, status)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (identity, attendance_date) DO NOTHING
	`, identity, date, at, string(status))
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
func (r *LedgerRepository) Summary(ctx context.Context, date string) (attendance.Summary, error) {
	s := attendance.Summary{Date: date}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'Present'),
			COUNT(*) FILTER (WHERE status = 'Late'),
			COUNT(*)
		FROM attendance
		WHERE attendance_date = $1::date
	`, date).Scan(&s.Present, &s.Late, &s.Total)
	if err != nil {
		return s, fmt.Errorf("summarize %s: %w", date, err)
	}
	return s, nil
}

// List returns the records of date, most recent first.
func (r *LedgerRepository) List(ctx context.Context, date string) ([]attendance.Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, identity, attendance_date::text, marked_at, status
		FROM attendance
		WHERE attendance_date = $1::date
		ORDER BY marked_at DESC, id DESC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", date, err)
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		var (
			rec    attendance.Record
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.Identity, &rec.Date, &rec.MarkedAt, &status); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		if rec.Status, err = attendance.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("attendance %d: %w", rec.ID, err)
		}
		rec.MarkedAt = rec.MarkedAt.Local()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return records, nil
}

// Close releases the underlying pool.
func (r *LedgerRepository) Close() error {
	return r.pool.Close()
}
