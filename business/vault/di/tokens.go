// Package di contains dependency injection tokens for the vault context.
package di

import (
	splitterApp "github.com/nkozak/capsplit/business/splitter/app"
	"github.com/nkozak/capsplit/internal/di"
)

// Public service tokens - exposed to other modules
var (
	// ActiveVault is the yield adapter the engine starts with. Migrations
	// swap the engine's vault at runtime; this token keeps the boot-time one.
	ActiveVault = di.NewToken[splitterApp.YieldVault]("vault.ActiveVault")
)

// Helper functions for type-safe access
func GetActiveVault(c di.ServiceRegistry) splitterApp.YieldVault {
	return di.GetToken(c, ActiveVault)
}
