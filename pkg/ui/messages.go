// Package ui provides the Bubble Tea TUI for the splitter engine.
package ui

import "time"

// Message types for TUI updates

// EngineView is a display-ready projection of the engine state. All values
// are pre-formatted by the reporter - the UI does not calculate anything.
type EngineView struct {
	Status     string
	BearSupply string
	BullSupply string

	Buffer      string
	VaultAssets string
	TotalAssets string
	Liabilities string
	Surplus     string
	Solvent     bool

	AdapterName     string
	PendingAdapter  string
	PendingActiveAt time.Time

	Liquidated      bool
	LiquidatedAt    time.Time
	LiquidationRate string
}

// EngineUpdateMsg is sent when the engine snapshot changes.
type EngineUpdateMsg struct {
	View EngineView
}

// PriceUpdateMsg is sent when a fresh oracle price arrives.
type PriceUpdateMsg struct {
	Pair     string
	Price    string
	CapRatio float64 // price / cap, 1.0 means at the cap
	At       time.Time
}

// ConnectionStatusMsg is sent when a dependency's connection state changes.
type ConnectionStatusMsg struct {
	Name      string
	Connected bool
}

// EventMsg is sent for notable engine events (mint, burn, liquidation,
// harvest, migration).
type EventMsg struct {
	Kind string // "mint", "burn", "redeem", "harvest", "liquidation", "migration"
	Text string
}

// ErrorMsg is sent when an error occurs.
type ErrorMsg struct {
	Error error
}

// TickMsg is sent periodically for UI updates.
type TickMsg struct{}

// WelcomeCompleteMsg signals the welcome screen is done (timeout or keypress).
type WelcomeCompleteMsg struct{}

// StartModulesMsg signals that modules should start loading.
type StartModulesMsg struct{}

// LogMsg is sent to display a log message in the UI.
type LogMsg struct {
	Level   string // "info", "warn", "error"
	Message string
}

// StartupMsg is sent during application startup to show progress.
type StartupMsg struct {
	Step    string // Current step name
	Status  string // "connecting", "connected", "failed"
	Message string // Optional message
}
