// Package di contains dependency injection tokens for the oracle context.
package di

import (
	"github.com/nkozak/capsplit/business/oracle/app"
	"github.com/nkozak/capsplit/business/oracle/infra/manual"
	"github.com/nkozak/capsplit/internal/di"
)

// Public service tokens - exposed to other modules
var (
	OracleService = di.NewToken[*app.Service]("oracle.OracleService")
)

// Private dependency tokens - internal to oracle module
var (
	RoundSource = di.NewToken[app.RoundSource]("oracle:roundSource")

	// ManualSource is only registered when oracle.source is "manual".
	ManualSource = di.NewToken[*manual.Source]("oracle:manualSource")
)

// Helper functions for type-safe access
func GetOracleService(c di.ServiceRegistry) *app.Service {
	return di.GetToken(c, OracleService)
}

func GetRoundSource(c di.ServiceRegistry) app.RoundSource {
	return di.GetToken(c, RoundSource)
}

func GetManualSource(c di.ServiceRegistry) *manual.Source {
	return di.GetToken(c, ManualSource)
}
