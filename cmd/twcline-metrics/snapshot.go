package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shrijayan/TWCline-open-source/internal/stats"
)

var (
	snapshotRange   string
	snapshotForce   bool
	snapshotVerbose bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the current metrics snapshot as JSON",
	RunE:  runSnapshot,
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotRange, "range", "all", `Time range: "7d", "30d", or "all"`)
	snapshotCmd.Flags().BoolVar(&snapshotForce, "force", false, "Re-extract every task instead of reusing the cache")
	snapshotCmd.Flags().BoolVar(&snapshotVerbose, "verbose", false, "Print the refresh journal to stderr")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	r, err := stats.ParseRange(snapshotRange)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.store.Close() }()

	snap, err := eng.agg.Refresh(cmd.Context(), r, snapshotForce)
	if err != nil {
		return fmt.Errorf("computing snapshot: %w", err)
	}

	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	fmt.Println(string(out))

	if snapshotVerbose {
		for _, rec := range eng.journal.List() {
			fmt.Fprintln(os.Stderr, formatRecord(rec))
		}
	}
	return nil
}
