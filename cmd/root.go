package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "face-attendance",
	Short: "Face recognition attendance tracker",
	Long: `face-attendance enrolls known people from a folder of photos, watches a
camera stream during timed sessions and records each recognized person once
per day as Present or Late.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-file", "", "Rotating JSON log file; overrides LOG_FILE")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
