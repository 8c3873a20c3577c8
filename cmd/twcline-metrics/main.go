package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "twcline-metrics",
	Short: "Usage metrics engine for TWCline task history",
	Long: `twcline-metrics reads the task history and transcripts the TWCline
host writes, derives usage metrics from them, and serves snapshots on
demand. Run "serve" for the background engine or "snapshot" for a
one-shot report.`,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ~/.twcline/config.toml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(provenanceCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
