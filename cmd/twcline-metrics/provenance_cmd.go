package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shrijayan/TWCline-open-source/internal/provenance"
	"github.com/shrijayan/TWCline-open-source/internal/storage"
)

var provenanceCycle bool

var provenanceCmd = &cobra.Command{
	Use:   "provenance",
	Short: "Report how much assistant-written code reached commits",
	RunE:  runProvenance,
}

func init() {
	provenanceCmd.Flags().BoolVar(&provenanceCycle, "cycle", false, "Run a match cycle before reporting")
}

func runProvenance(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Provenance.Enabled {
		return fmt.Errorf("provenance tracking is disabled in config")
	}

	store, _, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	tracker := provenance.NewTracker(store, provenance.ExecGit{}, cfg.Provenance)

	if provenanceCycle {
		res, err := tracker.MatchCycle(cmd.Context())
		if err != nil {
			return fmt.Errorf("running match cycle: %w", err)
		}
		fmt.Printf("cycle: scanned %d commit(s), cleared %d line(s), pruned %d batch(es)\n",
			res.CommitsScanned, res.LinesCleared, res.BatchesPruned)
	}

	st := tracker.Stats()
	fmt.Printf("written:   %d line(s)\n", st.TotalWritten)
	fmt.Printf("committed: %d line(s)\n", st.TotalCommitted)
	fmt.Printf("ratio:     %.1f%%\n", st.CommitRatio*100)
	fmt.Printf("pending:   %d line(s) in %d batch(es)\n", st.PendingLines, st.PendingBatches)
	if st.LastCheck > 0 {
		fmt.Printf("last run:  %s\n", time.UnixMilli(st.LastCheck).Format(time.RFC3339))
	}
	return nil
}
