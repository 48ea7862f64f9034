package domain

import "fmt"

// Status is the splitter lifecycle state.
type Status int

const (
	// StatusActive allows all operations.
	StatusActive Status = iota
	// StatusPaused blocks mints; burns remain allowed while solvent.
	StatusPaused
	// StatusLiquidated is terminal: only emergency BEAR redemption (and,
	// when configured, harvest and adapter migration) remain.
	StatusLiquidated
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusPaused:
		return "PAUSED"
	case StatusLiquidated:
		return "LIQUIDATED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// ACTIVE and PAUSED flip freely; LIQUIDATED is reachable from both and is
// one-way.
func (s Status) CanTransition(next Status) bool {
	if s == StatusLiquidated {
		return false
	}
	switch next {
	case StatusActive, StatusPaused, StatusLiquidated:
		return next != s
	default:
		return false
	}
}
