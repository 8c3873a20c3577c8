// Package telemetry exports engine metrics to an OTLP collector.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/shrijayan/TWCline-open-source/internal/config"
	"github.com/shrijayan/TWCline-open-source/internal/stats"
)

const (
	serviceName    = "twcline-metrics"
	serviceVersion = "1.0.0"
)

// SnapshotSource feeds the observable gauges. The aggregator service
// satisfies it.
type SnapshotSource interface {
	LastSnapshot() *stats.Snapshot
}

// Recorder pushes refresh and provenance measurements to an OTEL
// collector. It satisfies the aggregator and provenance meter hooks.
type Recorder struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	recomputes     metric.Int64Counter
	recomputeSecs  metric.Float64Histogram
	tasksChanged   metric.Int64Counter
	tasksRemoved   metric.Int64Counter
	linesCommitted metric.Int64Counter

	tasksTotal  metric.Int64ObservableGauge
	tokensTotal metric.Int64ObservableGauge
	costUSD     metric.Float64ObservableGauge
}

type Option func(*options)

type options struct {
	reader sdkmetric.Reader
}

// WithReader replaces the periodic OTLP reader. Used by tests to
// collect measurements without a running collector.
func WithReader(r sdkmetric.Reader) Option {
	return func(o *options) {
		o.reader = r
	}
}

// New builds a Recorder from the telemetry config. The config must be
// enabled; callers skip construction entirely when it is not.
func New(ctx context.Context, cfg config.TelemetryConfig, opts ...Option) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("telemetry is disabled")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	reader := o.reader
	if reader == nil {
		expOpts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			expOpts = append(expOpts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
			expOpts = append(expOpts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, expOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp,
			sdkmetric.WithInterval(time.Duration(cfg.IntervalSeconds)*time.Second))
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	recomputes, err := meter.Int64Counter(
		"twcline.recomputes",
		metric.WithDescription("Metric recomputations by trigger"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating recompute counter: %w", err)
	}

	recomputeSecs, err := meter.Float64Histogram(
		"twcline.recompute.duration",
		metric.WithDescription("Recompute duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	tasksChanged, err := meter.Int64Counter(
		"twcline.tasks.changed",
		metric.WithDescription("Tasks re-extracted during recomputes"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating changed counter: %w", err)
	}

	tasksRemoved, err := meter.Int64Counter(
		"twcline.tasks.removed",
		metric.WithDescription("Tasks dropped during recomputes"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating removed counter: %w", err)
	}

	linesCommitted, err := meter.Int64Counter(
		"twcline.lines.committed",
		metric.WithDescription("Assistant-written lines matched in commits"),
		metric.WithUnit("{line}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating lines counter: %w", err)
	}

	tasksTotal, err := meter.Int64ObservableGauge(
		"twcline.tasks.total",
		metric.WithDescription("Tasks in the current snapshot"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tasks gauge: %w", err)
	}

	tokensTotal, err := meter.Int64ObservableGauge(
		"twcline.tokens.total",
		metric.WithDescription("Input plus output tokens in the current snapshot"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tokens gauge: %w", err)
	}

	costUSD, err := meter.Float64ObservableGauge(
		"twcline.cost.usd",
		metric.WithDescription("Estimated cost in the current snapshot"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cost gauge: %w", err)
	}

	return &Recorder{
		provider:       provider,
		meter:          meter,
		recomputes:     recomputes,
		recomputeSecs:  recomputeSecs,
		tasksChanged:   tasksChanged,
		tasksRemoved:   tasksRemoved,
		linesCommitted: linesCommitted,
		tasksTotal:     tasksTotal,
		tokensTotal:    tokensTotal,
		costUSD:        costUSD,
	}, nil
}

// ObserveSnapshots registers the gauge callback against a snapshot
// source. Call once after the aggregator is built.
func (r *Recorder) ObserveSnapshots(src SnapshotSource) error {
	_, err := r.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := src.LastSnapshot()
		if snap == nil {
			return nil
		}
		o.ObserveInt64(r.tasksTotal, int64(snap.Tasks.Total))
		o.ObserveInt64(r.tokensTotal, snap.Tokens.TokensIn+snap.Tokens.TokensOut)
		o.ObserveFloat64(r.costUSD, snap.Tokens.Cost)
		return nil
	}, r.tasksTotal, r.tokensTotal, r.costUSD)
	if err != nil {
		return fmt.Errorf("registering snapshot gauges: %w", err)
	}
	return nil
}

// RecordRecompute records one successful refresh.
func (r *Recorder) RecordRecompute(trigger string, duration time.Duration, tasksChanged, tasksRemoved int) {
	ctx := context.Background()
	opt := metric.WithAttributes(attribute.String("trigger", trigger))
	r.recomputes.Add(ctx, 1, opt)
	r.recomputeSecs.Record(ctx, duration.Seconds(), opt)
	if tasksChanged > 0 {
		r.tasksChanged.Add(ctx, int64(tasksChanged), opt)
	}
	if tasksRemoved > 0 {
		r.tasksRemoved.Add(ctx, int64(tasksRemoved), opt)
	}
}

// RecordLinesCommitted records lines cleared by a provenance cycle.
func (r *Recorder) RecordLinesCommitted(n int) {
	r.linesCommitted.Add(context.Background(), int64(n))
}

// Close shuts down the provider and flushes pending metrics.
func (r *Recorder) Close(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}
