package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ethereum/go-ethereum/common"

	tokenDomain "github.com/nkozak/capsplit/business/token/domain"
	"github.com/nkozak/capsplit/internal/apperror"
	"github.com/nkozak/capsplit/internal/logger"
	"github.com/nkozak/capsplit/internal/ratelimit"
)

const watcherMeterName = "github.com/nkozak/capsplit/business/splitter/app/watcher"

// WatcherConfig holds configuration for the liquidation watcher.
type WatcherConfig struct {
	Interval       time.Duration // price sampling interval
	SamplesPerMin  int           // rate limit on oracle reads
	AutoHarvest    bool          // harvest surplus when possible
	HarvestActor   string        // ledger account name crediting harvest rewards
	ReportInterval time.Duration // snapshot push interval for reporters
}

// DefaultWatcherConfig returns sensible defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Interval:       5 * time.Second,
		SamplesPerMin:  30,
		AutoHarvest:    false,
		HarvestActor:   "watcher",
		ReportInterval: 2 * time.Second,
	}
}

// watcherMetrics holds OTEL metric instruments.
type watcherMetrics struct {
	samples      metric.Int64Counter
	sampleErrors metric.Int64Counter
}

// Watcher samples the oracle price on an interval and triggers liquidation
// the moment the cap is reached. It can also opportunistically harvest
// surplus and pushes engine snapshots to the reporter.
type Watcher struct {
	config   WatcherConfig
	engine   *Engine
	prices   PriceSource
	reporter StatusReporter
	limiter  *ratelimit.Limiter
	logger   logger.LoggerInterface
	metrics  *watcherMetrics

	done chan struct{}
}

// NewWatcher creates a watcher over the engine and price source.
func NewWatcher(cfg WatcherConfig, engine *Engine, prices PriceSource, reporter StatusReporter, log logger.LoggerInterface) (*Watcher, error) {
	w := &Watcher{
		config:   cfg,
		engine:   engine,
		prices:   prices,
		reporter: reporter,
		limiter:  ratelimit.New(cfg.SamplesPerMin),
		logger:   log,
		done:     make(chan struct{}),
	}
	if err := w.initMetrics(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Watcher) initMetrics() error {
	meter := otel.Meter(watcherMeterName)
	var err error

	w.metrics = &watcherMetrics{}

	w.metrics.samples, err = meter.Int64Counter(
		"watcher_price_samples_total",
		metric.WithDescription("Oracle price samples taken"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return err
	}

	w.metrics.sampleErrors, err = meter.Int64Counter(
		"watcher_sample_errors_total",
		metric.WithDescription("Failed oracle price samples"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Start launches the sampling loop. Returns immediately.
func (w *Watcher) Start(ctx context.Context) error {
	if w.reporter != nil {
		if err := w.reporter.Start(ctx); err != nil {
			return err
		}
	}
	go w.run(ctx)
	if w.reporter != nil && w.config.ReportInterval > 0 {
		go w.runReporter(ctx)
	}
	w.logger.Info(ctx, "liquidation watcher started",
		"interval", w.config.Interval,
		"auto_harvest", w.config.AutoHarvest)
	return nil
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() error {
	close(w.done)
	if w.reporter != nil {
		return w.reporter.Stop()
	}
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			w.logger.Info(ctx, "watcher stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			w.sample(ctx)
		}
	}
}

func (w *Watcher) sample(ctx context.Context) {
	if !w.limiter.Allow() {
		return
	}

	price, err := w.prices.Latest(ctx)
	if err != nil {
		w.metrics.sampleErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("code", string(apperror.GetCode(err)))))
		w.logger.Debug(ctx, "price sample failed", "error", err)
		if w.reporter != nil {
			w.reporter.UpdateConnectionStatus("oracle", false)
		}
		return
	}

	w.metrics.samples.Add(ctx, 1)
	if w.reporter != nil {
		w.reporter.UpdateConnectionStatus("oracle", true)
		w.reporter.UpdatePrice(price)
	}

	if !w.engine.IsLiquidated() && price.Cmp(w.engine.Cap()) >= 0 {
		if err := w.engine.TriggerLiquidation(ctx, price); err != nil {
			if apperror.GetCode(err) != apperror.CodeAlreadyLiquidated {
				w.logger.Error(ctx, "liquidation trigger failed", "error", err)
			}
			return
		}
		w.logger.Warn(ctx, "liquidation triggered by watcher", "price", price.String())
		return
	}

	if w.config.AutoHarvest {
		w.tryHarvest(ctx)
	}
}

// tryHarvest attempts a harvest and swallows the expected rejections
// (cooldown, surplus below minimum).
func (w *Watcher) tryHarvest(ctx context.Context) {
	actor := harvestActorAddress(w.config.HarvestActor)
	receipt, err := w.engine.HarvestYield(ctx, actor)
	if err != nil {
		switch apperror.GetCode(err) {
		case apperror.CodeNoSurplus, apperror.CodeHarvestBelowMinimum, apperror.CodeHarvestCooldown:
			return
		}
		w.logger.Debug(ctx, "auto harvest failed", "error", err)
		return
	}
	w.logger.Info(ctx, "auto harvest completed",
		"surplus", receipt.Surplus,
		"caller_reward", receipt.CallerReward)
}

// harvestActorAddress derives the ledger account credited with the caller
// reward for watcher-initiated harvests.
func harvestActorAddress(name string) common.Address {
	if name == "" {
		name = "watcher"
	}
	return tokenDomain.ModuleAddress(name)
}

func (w *Watcher) runReporter(ctx context.Context) {
	ticker := time.NewTicker(w.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := w.engine.Snapshot(ctx)
			if err != nil {
				w.logger.Debug(ctx, "snapshot failed", "error", err)
				continue
			}
			w.reporter.UpdateEngine(snap)
		}
	}
}
