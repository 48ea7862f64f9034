// Package splitter implements the splitter bounded context: the mint/burn
// engine over the collateral ledger, the yield buffer policy, liquidation
// and the watcher that drives it from oracle prices.
package splitter

import (
	"context"
	"math/big"

	oracleDI "github.com/nkozak/capsplit/business/oracle/di"
	"github.com/nkozak/capsplit/business/splitter/app"
	splitterDI "github.com/nkozak/capsplit/business/splitter/di"
	"github.com/nkozak/capsplit/business/splitter/infra"
	tokenDI "github.com/nkozak/capsplit/business/token/di"
	vaultDI "github.com/nkozak/capsplit/business/vault/di"
	"github.com/nkozak/capsplit/internal/asset"
	"github.com/nkozak/capsplit/internal/config"
	"github.com/nkozak/capsplit/internal/di"
	"github.com/nkozak/capsplit/internal/logger"
	"github.com/nkozak/capsplit/internal/monolith"
)

// Module implements the splitter bounded context.
type Module struct{}

// RegisterServices registers all splitter services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register Engine (public - the application's core service)
	di.RegisterToken(c, splitterDI.Engine, func(sr di.ServiceRegistry) *app.Engine {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		engineCfg, err := buildEngineConfig(cfg)
		if err != nil {
			panic("invalid splitter configuration: " + err.Error())
		}

		pair := tokenDI.GetTokenPair(sr)
		collateral := tokenDI.GetCollateralLedger(sr)
		vault := vaultDI.GetActiveVault(sr)
		prices := oracleDI.GetOracleService(sr)

		engine, err := app.NewEngine(engineCfg, pair, collateral, vault, prices, log)
		if err != nil {
			panic("failed to create engine: " + err.Error())
		}
		return engine
	})

	// Register Reporter (private - console or TUI per run mode)
	di.RegisterToken(c, splitterDI.Reporter, func(sr di.ServiceRegistry) app.StatusReporter {
		cfg := sr.Get("config").(*config.Config)
		collateral := tokenDI.GetCollateralLedger(sr).Asset()

		if cfg.App.TUIMode {
			capRaw, err := cfg.Splitter.CapRaw()
			if err != nil {
				panic("invalid splitter.cap: " + err.Error())
			}
			return infra.NewTUIReporter(collateral, capRaw)
		}
		return infra.NewConsoleReporter(collateral)
	})

	// Register Watcher (public - main starts and stops it)
	di.RegisterToken(c, splitterDI.Watcher, func(sr di.ServiceRegistry) *app.Watcher {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		engine := splitterDI.GetEngine(sr)
		prices := oracleDI.GetOracleService(sr)
		reporter := splitterDI.GetReporter(sr)

		watcherCfg := app.DefaultWatcherConfig()
		if cfg.Watcher.SampleInterval > 0 {
			watcherCfg.Interval = cfg.Watcher.SampleInterval
		}
		if cfg.Watcher.SamplesPerMinute > 0 {
			watcherCfg.SamplesPerMin = cfg.Watcher.SamplesPerMinute
		}
		watcherCfg.AutoHarvest = cfg.Watcher.HarvestEnabled

		watcher, err := app.NewWatcher(watcherCfg, engine, prices, reporter, log)
		if err != nil {
			panic("failed to create watcher: " + err.Error())
		}
		return watcher
	})

	return nil
}

// buildEngineConfig translates file configuration into engine parameters.
func buildEngineConfig(cfg *config.Config) (app.EngineConfig, error) {
	capRaw, err := cfg.Splitter.CapRaw()
	if err != nil {
		return app.EngineConfig{}, err
	}

	// Minimum surplus is configured in whole collateral units.
	minSurplus := big.NewInt(0)
	if d := cfg.Splitter.Harvest.MinSurplusDecimal(); d.IsPositive() {
		minSurplus = d.Shift(int32(cfg.Splitter.CollateralDecimals)).BigInt()
	}

	return app.EngineConfig{
		Cap:                   capRaw,
		TokenDecimals:         cfg.Splitter.TokenDecimals,
		CollateralDecimals:    cfg.Splitter.CollateralDecimals,
		BufferTargetBps:       cfg.Splitter.BufferTargetBps,
		Operator:              cfg.Splitter.OperatorAddressHex(),
		Treasury:              cfg.Splitter.TreasuryAddressHex(),
		Staking:               cfg.Splitter.StakingAddressHex(),
		SolvencyTolerance:     big.NewInt(cfg.Splitter.SolvencyToleranceUnits),
		AdapterDelay:          cfg.Splitter.AdapterDelay,
		AllowAfterLiquidation: cfg.Splitter.AllowAfterLiquidation,
		CallerRewardBps:       cfg.Splitter.Harvest.CallerRewardBps,
		TreasurySplitBps:      cfg.Splitter.Harvest.TreasurySplitBps,
		MinSurplus:            minSurplus,
		HarvestCooldown:       cfg.Splitter.Harvest.Cooldown,
	}, nil
}

// Startup initializes the splitter module and starts the watcher.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()

	engine := splitterDI.GetEngine(mono.Services())
	watcher := splitterDI.GetWatcher(mono.Services())

	if err := watcher.Start(ctx); err != nil {
		return err
	}

	log.Info(ctx, "splitter module started",
		"cap", asset.FormatFixedPoint(engine.Cap()),
		"status", engine.Status().String())
	return nil
}
