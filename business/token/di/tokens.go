// Package di contains dependency injection tokens for the token context.
package di

import (
	"github.com/nkozak/capsplit/business/token/app"
	"github.com/nkozak/capsplit/business/token/domain"
	"github.com/nkozak/capsplit/internal/di"
)

// Public service tokens - exposed to other modules
var (
	// CollateralLedger tracks the collateral token (e.g. USDC) balances of
	// every actor, including the engine buffer and the sim vault.
	CollateralLedger = di.NewToken[*domain.Ledger]("token.CollateralLedger")

	// TokenPair is the BEAR/BULL paired ledger controlled by the engine.
	TokenPair = di.NewToken[*app.Pair]("token.TokenPair")
)

// Helper functions for type-safe access
func GetCollateralLedger(c di.ServiceRegistry) *domain.Ledger {
	return di.GetToken(c, CollateralLedger)
}

func GetTokenPair(c di.ServiceRegistry) *app.Pair {
	return di.GetToken(c, TokenPair)
}
