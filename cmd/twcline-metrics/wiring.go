package main

import (
	"fmt"
	"os"
	"time"

	"github.com/shrijayan/TWCline-open-source/internal/aggregator"
	"github.com/shrijayan/TWCline-open-source/internal/config"
	"github.com/shrijayan/TWCline-open-source/internal/events"
	"github.com/shrijayan/TWCline-open-source/internal/history"
	"github.com/shrijayan/TWCline-open-source/internal/storage"
)

// engine bundles the components every data-reading subcommand wires.
type engine struct {
	cfg     config.Config
	store   storage.Store
	hist    *history.Service
	journal *events.Journal
	agg     *aggregator.Service
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	res, err := config.LoadFrom(path)
	if err != nil {
		return config.Config{}, err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "twcline-metrics: config warning: %s\n", w)
	}
	return res.Config, nil
}

func buildEngine(cfg config.Config, extra ...aggregator.Option) (*engine, error) {
	store, _, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	hist := history.NewService(store)
	journal := events.NewJournal(cfg.Refresh.JournalSize)

	aggOpts := []aggregator.Option{
		aggregator.WithFreshness(time.Duration(cfg.Refresh.FreshnessSeconds) * time.Second),
		aggregator.WithBatchSize(cfg.Refresh.BatchSize),
		aggregator.WithJournal(journal),
	}
	aggOpts = append(aggOpts, extra...)

	return &engine{
		cfg:     cfg,
		store:   store,
		hist:    hist,
		journal: journal,
		agg:     aggregator.NewService(store, hist, aggOpts...),
	}, nil
}

func formatRecord(r events.RefreshRecord) string {
	line := fmt.Sprintf("%s %-9s %4dms %d changed, %d removed",
		time.UnixMilli(r.At).Format(time.RFC3339), r.Trigger, r.DurationMS, r.TasksChanged, r.TasksRemoved)
	if r.Err != "" {
		line += " (error: " + r.Err + ")"
	}
	return line
}
