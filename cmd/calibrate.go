package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Suggest a match threshold from the enrolled gallery",
	Long: `Score every enrolled vector against the rest of the gallery (leave one out)
and compare genuine scores (same person) with impostor scores (everyone
else). The suggested threshold sits between the two distributions.

Identities need at least two enrolled photos to contribute genuine scores.`,
	RunE: runCalibrate,
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
	calibrateCmd.Flags().Bool("json", false, "Output as JSON")
	addMatchingFlags(calibrateCmd)
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, func(cfg *config.Config) { applyMatchingFlags(cmd, cfg) })
	if err != nil {
		return err
	}
	defer a.close()

	g, err := a.loadGallery()
	if err != nil {
		return err
	}
	strategy, err := matcher.ParseStrategy(a.cfg.Matching.Strategy)
	if err != nil {
		return err
	}

	c, err := matcher.Calibrate(g, strategy)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return printJSON(c)
	}

	fmt.Printf("Calibration for %s on a %s gallery (%d vectors, %d identities)\n\n",
		c.Strategy, c.Metric, g.Len(), len(g.Identities()))
	fmt.Printf("%-10s %8s %8s %8s %8s %8s %8s\n", "", "n", "mean", "std", "p05", "p50", "p95")
	for _, row := range []struct {
		name string
		d    matcher.Distribution
	}{{"genuine", c.Genuine}, {"impostor", c.Impostor}} {
		fmt.Printf("%-10s %8d %8.4f %8.4f %8.4f %8.4f %8.4f\n",
			row.name, row.d.N, row.d.Mean, row.d.StdDev, row.d.P05, row.d.P50, row.d.P95)
	}

	fmt.Printf("\nSuggested threshold: %.4f (configured %.4f)\n", c.Suggested, a.cfg.Matching.Threshold)
	if c.Overlap {
		fmt.Println("Warning: genuine and impostor scores overlap; enroll more or better photos.")
	}
	return nil
}
