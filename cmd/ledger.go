package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/report"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show how many people were Present and Late on a day",
	RunE:  runSummary,
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List the attendance records of a day, newest first",
	RunE:  runLog,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a day's attendance to CSV",
	Long: `Export a day's attendance records, oldest first, to
<dir>/attendance_report_YYYY-MM-DD.csv. Nothing is written for a day
without records.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(summaryCmd, logCmd, exportCmd)

	for _, c := range []*cobra.Command{summaryCmd, logCmd, exportCmd} {
		c.Flags().String("date", "", "Day as YYYY-MM-DD (default today)")
		c.Flags().String("ledger", "", "Ledger DSN (default LEDGER_DSN)")
	}
	summaryCmd.Flags().Bool("json", false, "Output as JSON")
	logCmd.Flags().Bool("json", false, "Output as JSON")
	exportCmd.Flags().String("dir", report.DefaultDir, "Report directory")
}

// ledgerDate returns the --date flag, or today.
func ledgerDate(cmd *cobra.Command) (string, error) {
	date := mustGetString(cmd, "date")
	if date == "" {
		return attendance.DateOf(time.Now()), nil
	}
	if _, err := time.Parse(attendance.DateLayout, date); err != nil {
		return "", fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
	}
	return date, nil
}

// openLedgerFor loads configuration with the --ledger override and opens it.
func openLedgerFor(cmd *cobra.Command) (*app, attendance.Ledger, error) {
	a, err := newApp(cmd, nil)
	if err != nil {
		return nil, nil, err
	}
	if v := mustGetString(cmd, "ledger"); v != "" {
		a.cfg.Ledger.DSN = v
	}
	ledger, err := a.openLedger(context.Background())
	if err != nil {
		a.close()
		return nil, nil, err
	}
	return a, ledger, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSummary(cmd *cobra.Command, args []string) error {
	date, err := ledgerDate(cmd)
	if err != nil {
		return err
	}
	a, ledger, err := openLedgerFor(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	defer ledger.Close()

	s, err := ledger.Summary(context.Background(), date)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return printJSON(s)
	}

	fmt.Printf("Attendance on %s\n", s.Date)
	fmt.Printf("  Present: %d\n", s.Present)
	fmt.Printf("  Late:    %d\n", s.Late)
	fmt.Printf("  Total:   %d\n", s.Total)
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	date, err := ledgerDate(cmd)
	if err != nil {
		return err
	}
	a, ledger, err := openLedgerFor(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	defer ledger.Close()

	records, err := ledger.List(context.Background(), date)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		if records == nil {
			records = []attendance.Record{}
		}
		return printJSON(records)
	}

	if len(records) == 0 {
		fmt.Printf("No attendance records on %s\n", date)
		return nil
	}
	fmt.Printf("%-24s %-8s %s\n", "IDENTITY", "STATUS", "MARKED AT")
	for _, r := range records {
		fmt.Printf("%-24s %-8s %s\n", r.Identity, r.Status, r.MarkedAt.Local().Format("15:04:05"))
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	date, err := ledgerDate(cmd)
	if err != nil {
		return err
	}
	a, ledger, err := openLedgerFor(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	defer ledger.Close()

	res, err := report.Export(context.Background(), ledger, date, mustGetString(cmd, "dir"), time.Local)
	if errors.Is(err, report.ErrNoRecords) {
		fmt.Printf("No attendance records on %s, nothing to export.\n", date)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Report written to %s (%d records)\n", res.Path, res.Records)
	return nil
}
