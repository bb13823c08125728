// Package report exports a day of attendance records as CSV.
package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// DefaultDir is where Export writes reports unless told otherwise.
const DefaultDir = "Attendance_Reports"

// ErrNoRecords means the day has nothing to export. No file is written.
var ErrNoRecords = errors.New("no attendance records for date")

var header = []string{"identity", "attendance_date", "marked_at", "status"}

// FileName returns the report file name for date (YYYY-MM-DD).
func FileName(date string) string {
	return "attendance_report_" + date + ".csv"
}

// WriteCSV writes records with a header row. marked_at is rendered in loc
// (UTC when nil) as RFC 3339.
func WriteCSV(w io.Writer, records []attendance.Record, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{r.Identity, r.Date, r.MarkedAt.In(loc).Format(time.RFC3339), string(r.Status)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Result describes a written report.
type Result struct {
	Path    string `json:"path"`
	Date    string `json:"date"`
	Records int    `json:"records"`
}

// Export writes the records of date to dir/FileName(date), oldest first.
// It returns ErrNoRecords, without creating a file, for an empty day.
func Export(ctx context.Context, ledger attendance.Ledger, date, dir string, loc *time.Location) (Result, error) {
	records, err := ledger.List(ctx, date)
	if err != nil {
		return Result{}, fmt.Errorf("listing %s: %w", date, err)
	}
	if len(records) == 0 {
		return Result{Date: date}, ErrNoRecords
	}
	// List is newest first, a report reads top to bottom
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("creating report directory: %w", err)
	}

	path := filepath.Join(dir, FileName(date))
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return Result{}, fmt.Errorf("creating report: %w", err)
	}
	if err := WriteCSV(f, records, loc); err != nil {
		f.Close()
		os.Remove(tmp)
		return Result{}, fmt.Errorf("writing report: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return Result{}, fmt.Errorf("writing report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Result{}, fmt.Errorf("writing report: %w", err)
	}
	return Result{Path: path, Date: date, Records: len(records)}, nil
}
