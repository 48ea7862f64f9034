// Package oracle implements the price oracle bounded context. It turns raw
// rounds from a configured source (Chainlink feed, exchange stream or a
// manually set value) into validated prices for the splitter.
package oracle

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/nkozak/capsplit/business/oracle/app"
	oracleDI "github.com/nkozak/capsplit/business/oracle/di"
	"github.com/nkozak/capsplit/business/oracle/infra/chainlink"
	"github.com/nkozak/capsplit/business/oracle/infra/feed"
	"github.com/nkozak/capsplit/business/oracle/infra/manual"
	"github.com/nkozak/capsplit/internal/asset"
	"github.com/nkozak/capsplit/internal/config"
	"github.com/nkozak/capsplit/internal/di"
	"github.com/nkozak/capsplit/internal/logger"
	"github.com/nkozak/capsplit/internal/monolith"
)

// Source kinds accepted in oracle.source.
const (
	SourceChainlink = "chainlink"
	SourceFeed      = "feed"
	SourceManual    = "manual"
)

// Module implements the oracle bounded context.
type Module struct{}

// RegisterServices registers all oracle services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register RoundSource (private - selected by oracle.source)
	di.RegisterToken(c, oracleDI.RoundSource, func(sr di.ServiceRegistry) app.RoundSource {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		switch cfg.Oracle.Source {
		case SourceChainlink:
			client := sr.Get("ethClient").(*ethclient.Client)
			agg, err := chainlink.NewAggregator(client, cfg.Oracle.AggregatorAddressHex(), log)
			if err != nil {
				panic("failed to create aggregator: " + err.Error())
			}
			return agg

		case SourceFeed:
			feedCfg := feed.DefaultClientConfig(cfg.Oracle.FeedURL, cfg.Oracle.FeedSymbol)
			client, err := feed.NewClient(feedCfg, log)
			if err != nil {
				panic("failed to create feed client: " + err.Error())
			}
			return client

		case SourceManual:
			return oracleDI.GetManualSource(sr)

		default:
			panic(fmt.Sprintf("unknown oracle.source %q", cfg.Oracle.Source))
		}
	})

	// Register ManualSource (public in sim mode - the TUI and sim driver set
	// its price by hand)
	di.RegisterToken(c, oracleDI.ManualSource, func(sr di.ServiceRegistry) *manual.Source {
		return manual.New()
	})

	// Register OracleService (public - the splitter's price source)
	di.RegisterToken(c, oracleDI.OracleService, func(sr di.ServiceRegistry) *app.Service {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		registry := sr.Get("assetRegistry").(*asset.Registry)

		source := oracleDI.GetRoundSource(sr)
		sequencer := m.buildSequencer(sr, cfg, log)

		quote, ok := registry.GetBySymbolAndChain(cfg.Splitter.CollateralSymbol, cfg.Splitter.CollateralChainID)
		if !ok {
			panic(fmt.Sprintf("collateral asset %s not registered", cfg.Splitter.CollateralSymbol))
		}

		svcCfg := app.ServiceConfig{
			MaxStaleness:   cfg.Oracle.MaxStaleness,
			SequencerGrace: cfg.Oracle.SequencerGrace,
		}
		svc, err := app.NewService(svcCfg, source, sequencer, asset.BEAR, quote, log)
		if err != nil {
			panic("failed to create oracle service: " + err.Error())
		}
		return svc
	})

	return nil
}

// buildSequencer creates the L2 uptime source when one is configured.
// Returns nil otherwise; the service skips the check.
func (m *Module) buildSequencer(sr di.ServiceRegistry, cfg *config.Config, log logger.LoggerInterface) app.SequencerSource {
	if cfg.Oracle.Source != SourceChainlink || cfg.Oracle.SequencerFeed == "" {
		return nil
	}

	client := sr.Get("ethClient").(*ethclient.Client)
	seq, err := chainlink.NewSequencerFeed(client, cfg.Oracle.SequencerFeedAddressHex(), log)
	if err != nil {
		panic("failed to create sequencer feed: " + err.Error())
	}
	return seq
}

// Startup initializes the oracle module.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()

	source := oracleDI.GetRoundSource(mono.Services())

	// The websocket feed needs an explicit connection; contract and manual
	// sources are pull-based.
	if connector, ok := source.(interface{ Connect(context.Context) error }); ok {
		if err := connector.Connect(ctx); err != nil {
			log.Error(ctx, "failed to connect price feed", "error", err)
			// Don't fail - the watcher surfaces unavailable reads
		}
	}

	log.Info(ctx, "oracle module started", "source", source.Name())
	return nil
}
