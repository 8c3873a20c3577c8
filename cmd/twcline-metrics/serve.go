package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shrijayan/TWCline-open-source/internal/aggregator"
	"github.com/shrijayan/TWCline-open-source/internal/provenance"
	"github.com/shrijayan/TWCline-open-source/internal/scheduler"
	"github.com/shrijayan/TWCline-open-source/internal/storage"
	"github.com/shrijayan/TWCline-open-source/internal/telemetry"
	"github.com/shrijayan/TWCline-open-source/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the metrics engine until interrupted",
	Long: `Reconciles task completion flags, then keeps the snapshot current with
periodic refreshes, file-watch refreshes, and provenance match cycles
until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var rec *telemetry.Recorder
	if cfg.Telemetry.Enabled {
		rec, err = telemetry.New(ctx, cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("starting telemetry: %w", err)
		}
	}

	meter := &refreshLogger{}
	if rec != nil {
		meter.next = rec
	}

	eng, err := buildEngine(cfg, aggregator.WithMeter(meter))
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.store.Close(); err != nil {
			log.Printf("WARNING: closing store: %v", err)
		}
	}()

	if rec != nil {
		if err := rec.ObserveSnapshots(eng.agg); err != nil {
			log.Printf("WARNING: snapshot gauges unavailable: %v", err)
		}
	}

	schedOpts := []scheduler.Option{
		scheduler.WithRefreshInterval(time.Duration(cfg.Refresh.IntervalMinutes) * time.Minute),
	}
	if cfg.Provenance.Enabled {
		var provOpts []provenance.Option
		if rec != nil {
			provOpts = append(provOpts, provenance.WithMeter(rec))
		}
		tracker := provenance.NewTracker(eng.store, provenance.ExecGit{}, cfg.Provenance, provOpts...)
		schedOpts = append(schedOpts, scheduler.WithProvenance(tracker,
			time.Duration(cfg.Provenance.IntervalMinutes)*time.Minute))
	}

	sched := scheduler.New(eng.agg, eng.hist, schedOpts...)

	var watch *watcher.Watcher
	if cfg.Refresh.Watch && cfg.Storage.DBPath != "" {
		watch = watcher.New(storage.ExpandTilde(cfg.Storage.DBPath), sched.OnHistoryChange)
		if err := watch.Start(); err != nil {
			log.Printf("WARNING: history watch unavailable: %v", err)
			watch = nil
		}
	}

	log.Printf("twcline-metrics: serving, refresh every %dm", cfg.Refresh.IntervalMinutes)
	sched.Start(ctx)

	<-ctx.Done()
	log.Printf("twcline-metrics: shutting down")

	if watch != nil {
		watch.Close()
	}
	sched.Stop()
	if rec != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := rec.Close(flushCtx); err != nil {
			log.Printf("WARNING: telemetry shutdown: %v", err)
		}
		cancel()
	}
	return nil
}

// refreshLogger logs each successful refresh and forwards it to the
// telemetry recorder when one is wired.
type refreshLogger struct {
	next aggregator.Meter
}

func (l *refreshLogger) RecordRecompute(trigger string, d time.Duration, changed, removed int) {
	log.Printf("refresh %s: %d changed, %d removed in %s", trigger, changed, removed, d.Round(time.Millisecond))
	if l.next != nil {
		l.next.RecordRecompute(trigger, d, changed, removed)
	}
}
