package infra

import (
	"context"
	"math/big"

	"github.com/nkozak/capsplit/business/splitter/app"
	"github.com/nkozak/capsplit/internal/asset"
	"github.com/nkozak/capsplit/pkg/ui"
)

// TUIReporter implements StatusReporter for the Bubble Tea TUI. It projects
// engine snapshots into display-ready views and pushes them as messages.
type TUIReporter struct {
	collateral *asset.Asset
	cap        *big.Int

	lastStatus string
}

// NewTUIReporter creates a TUI reporter. cap is the engine's fixed-point
// price ceiling, used to render price-vs-cap proximity.
func NewTUIReporter(collateral *asset.Asset, cap *big.Int) *TUIReporter {
	return &TUIReporter{
		collateral: collateral,
		cap:        new(big.Int).Set(cap),
	}
}

// Start initializes the TUI reporter. The Bubble Tea program itself is run
// by main; this reporter only feeds it.
func (r *TUIReporter) Start(ctx context.Context) error {
	ui.Send(ui.StartupMsg{Step: "engine", Status: "connecting"})
	return nil
}

// UpdateEngine sends the engine snapshot to the TUI.
func (r *TUIReporter) UpdateEngine(snap app.EngineSnapshot) {
	view := ui.EngineView{
		Status:          snap.Status,
		BearSupply:      asset.NewAmount(asset.BEAR, snap.BearSupply).String(),
		BullSupply:      asset.NewAmount(asset.BULL, snap.BullSupply).String(),
		Buffer:          asset.NewAmount(r.collateral, snap.Buffer).String(),
		VaultAssets:     asset.NewAmount(r.collateral, snap.VaultAssets).String(),
		TotalAssets:     asset.NewAmount(r.collateral, snap.TotalAssets).String(),
		Liabilities:     asset.NewAmount(r.collateral, snap.Liabilities).String(),
		Surplus:         asset.NewAmount(r.collateral, snap.Surplus).String(),
		Solvent:         snap.Solvent,
		AdapterName:     snap.AdapterName,
		PendingAdapter:  snap.PendingAdapter,
		PendingActiveAt: snap.PendingActiveAt,
		Liquidated:      snap.Status == "LIQUIDATED",
		LiquidatedAt:    snap.LiquidatedAt,
	}
	if snap.LiquidationRate != nil {
		view.LiquidationRate = asset.FormatFixedPoint(snap.LiquidationRate)
	}
	ui.Send(ui.EngineUpdateMsg{View: view})

	if snap.Status != r.lastStatus {
		if r.lastStatus != "" {
			kind := "status"
			if view.Liquidated {
				kind = "liquidation"
			}
			ui.Send(ui.EventMsg{Kind: kind, Text: r.lastStatus + " -> " + snap.Status})
		}
		r.lastStatus = snap.Status
	}
}

// UpdatePrice sends a price update to the TUI.
func (r *TUIReporter) UpdatePrice(price asset.Price) {
	ratio := 0.0
	if r.cap.Sign() > 0 {
		rate, _ := price.Rate().Float64()
		ratio = rate / fixedPointFloat(r.cap)
	}

	ui.Send(ui.PriceUpdateMsg{
		Pair:     price.Pair(),
		Price:    price.Rate().StringFixed(4),
		CapRatio: ratio,
		At:       price.Timestamp(),
	})
}

// UpdateConnectionStatus sends connection status to the TUI.
func (r *TUIReporter) UpdateConnectionStatus(name string, connected bool) {
	ui.Send(ui.ConnectionStatusMsg{Name: name, Connected: connected})
	status := "connected"
	if !connected {
		status = "failed"
	}
	ui.Send(ui.StartupMsg{Step: "oracle", Status: status})
}

// Stop gracefully shuts down the TUI reporter.
func (r *TUIReporter) Stop() error {
	return nil
}

func fixedPointFloat(raw *big.Int) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(raw),
		big.NewFloat(1e8),
	).Float64()
	return f
}
