// Package main is the entry point for the capsplit engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/nkozak/capsplit/business/oracle"
	oracleDI "github.com/nkozak/capsplit/business/oracle/di"
	"github.com/nkozak/capsplit/business/splitter"
	splitterDI "github.com/nkozak/capsplit/business/splitter/di"
	"github.com/nkozak/capsplit/business/token"
	tokenDI "github.com/nkozak/capsplit/business/token/di"
	tokenDomain "github.com/nkozak/capsplit/business/token/domain"
	"github.com/nkozak/capsplit/business/vault"
	"github.com/nkozak/capsplit/internal/apm"
	"github.com/nkozak/capsplit/internal/config"
	"github.com/nkozak/capsplit/internal/health"
	"github.com/nkozak/capsplit/internal/logger"
	"github.com/nkozak/capsplit/internal/metrics"
	"github.com/nkozak/capsplit/internal/monolith"
	"github.com/nkozak/capsplit/pkg/ui"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Parse flags
	configPath := flag.String("config", "", "Path to configuration file")
	cliMode := flag.Bool("cli", false, "Run in CLI mode with logs (no TUI)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("capsplit %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// TUI is the default, CLI is for debugging
	tuiMode := !*cliMode

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		if !tuiMode {
			fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		}
		cancel()
	}()

	// Run application
	if err := run(ctx, *configPath, tuiMode); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, tuiMode bool) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set TUI mode in config so modules know
	cfg.App.TUIMode = tuiMode

	// Setup logger (only log to stderr in CLI mode)
	logLevel := logger.LevelInfo
	switch cfg.App.LogLevel {
	case "debug":
		logLevel = logger.LevelDebug
	case "warn":
		logLevel = logger.LevelWarn
	case "error":
		logLevel = logger.LevelError
	}

	var log *logger.Logger
	if tuiMode {
		// In TUI mode, suppress logs (discard output)
		log = logger.New(io.Discard, logLevel, cfg.App.Name, nil)
	} else {
		log = logger.New(os.Stderr, logLevel, cfg.App.Name, nil)
		log.Info(ctx, "starting capsplit",
			"version", version,
			"mode", cfg.App.Mode,
			"environment", cfg.App.Environment,
		)
	}

	// Initialize observability if enabled
	var traceProvider apm.TraceProvider
	if cfg.Telemetry.Enabled {
		// Set service name env var for OTEL
		if cfg.Telemetry.ServiceName != "" {
			os.Setenv("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
		}
		if cfg.Telemetry.OTLPEndpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
		}

		// Initialize tracing with Zipkin (local dev friendly)
		traceProvider = apm.NewTraceProvider(log, apm.WithProvider(apm.ZipkinProvider, log))
		log.Info(ctx, "tracing initialized", "provider", "zipkin", "endpoint", cfg.Telemetry.OTLPEndpoint)

		// Initialize metrics with Prometheus
		metrics.NewMetricProvider(
			metrics.WithServiceName(cfg.Telemetry.ServiceName),
			metrics.WithProviderConfig(metrics.ProviderCfg{
				Provider: metrics.PrometheusProvider,
			}),
		)

		// Start Prometheus metrics server in background
		port := cfg.Telemetry.PrometheusPort
		if port == 0 {
			port = 9090
		}
		go metrics.ServePrometheusMetrics(metrics.WithPort(strconv.Itoa(port)))
		log.Info(ctx, "prometheus metrics server started", "port", port)
	}
	defer func() {
		if traceProvider != nil {
			traceProvider.Stop()
		}
	}()

	// Start health check server
	healthServer := health.NewServer(cfg.Health.Port, version)
	if err := healthServer.Start(); err != nil {
		log.Warn(ctx, "failed to start health server", "error", err)
	} else {
		log.Info(ctx, "health server started", "port", cfg.Health.Port)
	}
	defer healthServer.Stop(ctx)

	// Create monolith (application container)
	mono, err := monolith.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}
	defer mono.Close()

	// Define modules in dependency order
	modules := []monolith.Module{
		&token.Module{},    // Must be first - provides the ledgers
		&oracle.Module{},   // Price source for the engine
		&vault.Module{},    // Yield adapter over the collateral ledger
		&splitter.Module{}, // Depends on all of the above
	}

	// Register all module services
	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}

	startFunc := func() error {
		if err := mono.StartModules(ctx, modules...); err != nil {
			return fmt.Errorf("failed to start modules: %w", err)
		}
		registerHealthChecks(healthServer, mono)
		if cfg.App.Mode == config.ModeSim {
			return seedSim(ctx, cfg, mono)
		}
		return nil
	}
	stopFunc := func() {
		watcher := splitterDI.GetWatcher(mono.Services())
		if err := watcher.Stop(); err != nil {
			log.Error(ctx, "error stopping watcher", "error", err)
		}
	}

	if tuiMode {
		// TUI mode: Start modules in background so TUI shows immediately
		return runTUI(ctx, startFunc, stopFunc)
	}

	// CLI mode: Start modules synchronously
	if err := startFunc(); err != nil {
		return err
	}
	log.Info(ctx, "all modules started, watching for the cap")

	<-ctx.Done()
	log.Info(ctx, "shutting down")
	stopFunc()
	return nil
}

// registerHealthChecks wires readiness checks once the modules are up.
func registerHealthChecks(server *health.Server, mono monolith.Monolith) {
	services := mono.Services()
	engine := splitterDI.GetEngine(services)
	prices := oracleDI.GetOracleService(services)

	server.RegisterCheck("oracle", func(ctx context.Context) (bool, string) {
		if _, err := prices.Latest(ctx); err != nil {
			return false, err.Error()
		}
		return true, "fresh"
	})
	server.RegisterCheck("engine", func(ctx context.Context) (bool, string) {
		snap, err := engine.Snapshot(ctx)
		if err != nil {
			return false, err.Error()
		}
		if !snap.Solvent {
			return false, "insolvent"
		}
		return true, snap.Status
	})
	server.RegisterCheck("vault", func(ctx context.Context) (bool, string) {
		snap, err := engine.Snapshot(ctx)
		if err != nil {
			return false, err.Error()
		}
		return true, snap.AdapterName
	})
}

// seedSim gives the simulation something to show: a funded demo trader, an
// opening position and an initial oracle price below the cap.
func seedSim(ctx context.Context, cfg *config.Config, mono monolith.Monolith) error {
	services := mono.Services()
	ledger := tokenDI.GetCollateralLedger(services)
	engine := splitterDI.GetEngine(services)
	manual := oracleDI.GetManualSource(services)

	// Opening price: 75% of the cap.
	capRaw, err := cfg.Splitter.CapRaw()
	if err != nil {
		return err
	}
	opening := new(big.Int).Mul(capRaw, big.NewInt(75))
	opening.Quo(opening, big.NewInt(100))
	manual.Set(decimal.NewFromBigInt(opening, -8))

	// Fund the demo trader with 1,000,000 collateral units and open a
	// position of 1,000 token pairs.
	trader := tokenDomain.ModuleAddress("trader")
	funding := decimal.NewFromInt(1_000_000).Shift(int32(ledger.Asset().Decimals())).BigInt()
	if err := ledger.Mint(token.BankAddress, trader, funding); err != nil {
		return fmt.Errorf("failed to fund demo trader: %w", err)
	}

	position := decimal.NewFromInt(1_000).Shift(int32(cfg.Splitter.TokenDecimals)).BigInt()
	if _, err := engine.Mint(ctx, trader, position); err != nil {
		return fmt.Errorf("failed to open demo position: %w", err)
	}

	mono.Logger().Info(ctx, "sim seeded",
		"trader", trader.Hex(),
		"opening_price", decimal.NewFromBigInt(opening, -8))
	return nil
}

func runTUI(ctx context.Context, startFunc func() error, stopFunc func()) error {
	// Channel to receive StartModulesMsg signal
	startSignal := make(chan struct{}, 1)
	ui.OnStartModules = func() {
		select {
		case startSignal <- struct{}{}:
		default:
		}
	}

	// Create and start the TUI program IMMEDIATELY (shows welcome screen)
	p := tea.NewProgram(ui.New(), tea.WithAltScreen())
	ui.Program = p

	// Run engine logic in background (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		// Wait for welcome screen to complete (StartModulesMsg signal)
		select {
		case <-startSignal:
			// Welcome complete, start modules
		case <-ctx.Done():
			errCh <- nil
			return
		}

		// Start modules (connections happen here, TUI shows progress)
		if err := startFunc(); err != nil {
			ui.Send(ui.ErrorMsg{Error: err})
			errCh <- err
			return
		}

		// Wait for context cancellation
		<-ctx.Done()

		stopFunc()
		errCh <- nil
	}()

	// Run TUI (blocking) - shows immediately with welcome screen
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	// Check for engine errors
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
