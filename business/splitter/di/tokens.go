// Package di contains dependency injection tokens for the splitter context.
package di

import (
	"github.com/nkozak/capsplit/business/splitter/app"
	"github.com/nkozak/capsplit/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Engine  = di.NewToken[*app.Engine]("splitter.Engine")
	Watcher = di.NewToken[*app.Watcher]("splitter.Watcher")
)

// Private dependency tokens - internal to splitter module
var (
	Reporter = di.NewToken[app.StatusReporter]("splitter:reporter")
)

// Helper functions for type-safe access
func GetEngine(c di.ServiceRegistry) *app.Engine {
	return di.GetToken(c, Engine)
}

func GetWatcher(c di.ServiceRegistry) *app.Watcher {
	return di.GetToken(c, Watcher)
}

func GetReporter(c di.ServiceRegistry) app.StatusReporter {
	return di.GetToken(c, Reporter)
}
