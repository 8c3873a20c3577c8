package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shrijayan/TWCline-open-source/internal/scheduler"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Classify unflagged tasks and refresh the snapshot",
	Long: `Runs the completion heuristic over every history entry that carries no
completion flag, persists the flags it derives, and forces a refresh.`,
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.store.Close() }()

	sched := scheduler.New(eng.agg, eng.hist)
	marked, err := sched.Reconcile(cmd.Context())
	if err != nil {
		return fmt.Errorf("reconciling history: %w", err)
	}

	fmt.Printf("marked %d task(s) completed\n", marked)
	if rec, ok := eng.journal.Last(); ok {
		fmt.Println(formatRecord(rec))
	}
	return nil
}
