// Package app contains application services and port definitions for the splitter context.
package app

import (
	"context"
	"math/big"

	"github.com/nkozak/capsplit/internal/asset"
)

// PriceSource provides the tracked asset's reference price in collateral
// units, fixed-point with asset.PricePrecision decimals.
type PriceSource interface {
	// Latest returns the most recent usable price. Implementations reject
	// stale, invalid or sequencer-degraded readings with an error.
	Latest(ctx context.Context) (asset.Price, error)
}

// YieldVault is the engine's port to the active yield adapter. Amounts are
// raw collateral units. Deposited funds are owned by the engine; the vault
// only grows (or in degraded adapters shrinks) the balance.
type YieldVault interface {
	// Name identifies the adapter (e.g. "sim", "erc4626:aave-v3").
	Name() string

	// Collateral returns the asset the vault accepts.
	Collateral() *asset.Asset

	// Deposit moves amount from the engine's buffer into the vault.
	Deposit(ctx context.Context, amount *big.Int) error

	// Withdraw pulls amount back to the engine's buffer and returns the
	// amount actually withdrawn.
	Withdraw(ctx context.Context, amount *big.Int) (*big.Int, error)

	// MaxWithdraw returns the amount currently withdrawable.
	MaxWithdraw(ctx context.Context) (*big.Int, error)

	// TotalAssets returns the engine's full position including accrued
	// yield.
	TotalAssets(ctx context.Context) (*big.Int, error)
}

// StatusReporter receives engine state changes for display. Implemented by
// the console and TUI reporters.
type StatusReporter interface {
	Start(ctx context.Context) error
	UpdateEngine(snapshot EngineSnapshot)
	UpdatePrice(price asset.Price)
	UpdateConnectionStatus(name string, connected bool)
	Stop() error
}
