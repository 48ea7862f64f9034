// Package infra contains infrastructure adapters for the splitter context.
package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/nkozak/capsplit/business/splitter/app"
	"github.com/nkozak/capsplit/internal/asset"
)

// ConsoleReporter implements StatusReporter for CLI output. It prints a
// compact line per snapshot and a banner on liquidation.
type ConsoleReporter struct {
	out        io.Writer
	collateral *asset.Asset

	mu         sync.Mutex
	lastStatus string
}

// NewConsoleReporter creates a console reporter formatting collateral
// amounts in the given asset.
func NewConsoleReporter(collateral *asset.Asset) *ConsoleReporter {
	return &ConsoleReporter{
		out:        os.Stdout,
		collateral: collateral,
	}
}

// Start initializes the console reporter.
func (r *ConsoleReporter) Start(ctx context.Context) error {
	fmt.Fprintln(r.out, "Capsplit Engine Started")
	fmt.Fprintln(r.out, "=======================")
	return nil
}

// UpdateEngine prints the engine snapshot.
func (r *ConsoleReporter) UpdateEngine(snap app.EngineSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Status != r.lastStatus {
		if r.lastStatus != "" {
			fmt.Fprintf(r.out, "[%s] status: %s -> %s\n",
				time.Now().Format("15:04:05"), r.lastStatus, snap.Status)
		}
		if snap.Status == "LIQUIDATED" {
			r.printLiquidationBanner(snap)
		}
		r.lastStatus = snap.Status
	}

	solvency := "SOLVENT"
	if !snap.Solvent {
		solvency = "INSOLVENT"
	}
	fmt.Fprintf(r.out, "[%s] %s  pair=%s  buffer=%s  vault=%s (%s)  surplus=%s  %s\n",
		time.Now().Format("15:04:05"),
		snap.Status,
		asset.NewAmount(asset.BEAR, snap.BearSupply),
		asset.NewAmount(r.collateral, snap.Buffer),
		asset.NewAmount(r.collateral, snap.VaultAssets),
		snap.AdapterName,
		asset.NewAmount(r.collateral, snap.Surplus),
		solvency,
	)

	if snap.PendingAdapter != "" {
		fmt.Fprintf(r.out, "           pending adapter %q activatable at %s\n",
			snap.PendingAdapter, snap.PendingActiveAt.Format(time.RFC3339))
	}
}

func (r *ConsoleReporter) printLiquidationBanner(snap app.EngineSnapshot) {
	fmt.Fprintln(r.out, "")
	fmt.Fprintln(r.out, "================================================================================")
	fmt.Fprintln(r.out, "LIQUIDATION TRIGGERED")
	fmt.Fprintln(r.out, "================================================================================")
	fmt.Fprintf(r.out, "Time:           %s\n", snap.LiquidatedAt.Format(time.RFC3339))
	if snap.LiquidationRate != nil {
		fmt.Fprintf(r.out, "Price:          %s\n", asset.FormatFixedPoint(snap.LiquidationRate))
	}
	fmt.Fprintf(r.out, "BEAR supply:    %s\n", asset.NewAmount(asset.BEAR, snap.BearSupply))
	fmt.Fprintln(r.out, "BULL is now worthless; BEAR redeems at the cap.")
	fmt.Fprintln(r.out, "================================================================================")
}

// UpdatePrice prints price updates (throttled to meaningful output by the
// watcher's report interval).
func (r *ConsoleReporter) UpdatePrice(price asset.Price) {
	fmt.Fprintf(r.out, "[%s] price: %s\n", time.Now().Format("15:04:05"), price.String())
}

// UpdateConnectionStatus prints connection status changes.
func (r *ConsoleReporter) UpdateConnectionStatus(name string, connected bool) {
	status := "disconnected"
	if connected {
		status = "connected"
	}
	fmt.Fprintf(r.out, "[%s] %s: %s\n", time.Now().Format("15:04:05"), name, status)
}

// Stop gracefully shuts down the console reporter.
func (r *ConsoleReporter) Stop() error {
	fmt.Fprintln(r.out, "")
	fmt.Fprintln(r.out, "Capsplit Engine Stopped")
	return nil
}
