// Package token implements the token bounded context: the collateral ledger
// and the BEAR/BULL pair minted against it.
package token

import (
	"context"
	"fmt"

	"github.com/nkozak/capsplit/business/token/app"
	tokenDI "github.com/nkozak/capsplit/business/token/di"
	"github.com/nkozak/capsplit/business/token/domain"
	"github.com/nkozak/capsplit/internal/asset"
	"github.com/nkozak/capsplit/internal/config"
	"github.com/nkozak/capsplit/internal/di"
	"github.com/nkozak/capsplit/internal/monolith"
)

// BankAddress is the sim-mode collateral issuer. It mints starting balances
// for demo accounts; nothing else may mint collateral.
var BankAddress = domain.ModuleAddress("bank")

// engineAddress matches the splitter engine's ledger account.
var engineAddress = domain.ModuleAddress("engine")

// Module implements the token bounded context.
type Module struct{}

// RegisterServices registers all token services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register CollateralLedger (public - engine, vaults and the faucet all
	// move collateral on it)
	di.RegisterToken(c, tokenDI.CollateralLedger, func(sr di.ServiceRegistry) *domain.Ledger {
		cfg := sr.Get("config").(*config.Config)
		registry := sr.Get("assetRegistry").(*asset.Registry)

		collateral, ok := registry.GetBySymbolAndChain(cfg.Splitter.CollateralSymbol, cfg.Splitter.CollateralChainID)
		if !ok {
			panic(fmt.Sprintf("collateral asset %s not registered", cfg.Splitter.CollateralSymbol))
		}
		return domain.NewLedger(collateral, BankAddress)
	})

	// Register TokenPair (public - the splitter mints and burns through it)
	di.RegisterToken(c, tokenDI.TokenPair, func(sr di.ServiceRegistry) *app.Pair {
		return app.NewPair(engineAddress, asset.BEAR, asset.BULL)
	})

	return nil
}

// Startup initializes the token module.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	ledger := tokenDI.GetCollateralLedger(mono.Services())
	mono.Logger().Info(ctx, "token module started",
		"collateral", ledger.Asset().Symbol(),
		"pair", asset.BEAR.Symbol()+"/"+asset.BULL.Symbol())
	return nil
}
