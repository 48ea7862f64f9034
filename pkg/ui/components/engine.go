// Package components provides reusable TUI components.
package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// EngineState holds display-ready engine data. All values are pre-formatted
// strings - the component only lays them out.
type EngineState struct {
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
	LiquidationRate string
}

// EngineComponent renders the engine accounting panel.
type EngineComponent struct {
	state EngineState
	ready bool
}

// NewEngineComponent creates a new engine component.
func NewEngineComponent() *EngineComponent {
	return &EngineComponent{}
}

// Update updates the engine state.
func (e *EngineComponent) Update(state EngineState) {
	e.state = state
	e.ready = true
}

// View renders the engine component.
func (e *EngineComponent) View() string {
	if !e.ready {
		return "Waiting for engine snapshot..."
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	goodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	badStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))

	s := e.state
	var b strings.Builder

	b.WriteString(headerStyle.Render("ENGINE"))
	b.WriteString("\n\n")

	statusStyle := goodStyle
	switch s.Status {
	case "PAUSED":
		statusStyle = warnStyle
	case "LIQUIDATED":
		statusStyle = badStyle
	}
	b.WriteString(fmt.Sprintf("  Status:       %s\n", statusStyle.Render(s.Status)))
	if s.Liquidated && s.LiquidationRate != "" {
		b.WriteString(fmt.Sprintf("  Locked price: %s\n", badStyle.Render("$"+s.LiquidationRate)))
	}
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("  %-14s %s\n", "BEAR supply:", s.BearSupply))
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "BULL supply:", s.BullSupply))
	b.WriteString(dimStyle.Render("  "+strings.Repeat("─", 40)) + "\n")
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Buffer:", s.Buffer))
	b.WriteString(fmt.Sprintf("  %-14s %s (%s)\n", "Vault:", s.VaultAssets, s.AdapterName))
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Total assets:", s.TotalAssets))
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Liabilities:", s.Liabilities))

	surplusStyle := goodStyle
	if !s.Solvent {
		surplusStyle = badStyle
	}
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Surplus:", surplusStyle.Render(s.Surplus)))

	solvency := goodStyle.Render("✓ solvent")
	if !s.Solvent {
		solvency = badStyle.Render("✗ INSOLVENT")
	}
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Solvency:", solvency))

	if s.PendingAdapter != "" {
		b.WriteString("\n")
		remaining := time.Until(s.PendingActiveAt).Round(time.Minute)
		if remaining > 0 {
			b.WriteString(warnStyle.Render(fmt.Sprintf("  Migration to %q in %s", s.PendingAdapter, remaining)))
		} else {
			b.WriteString(goodStyle.Render(fmt.Sprintf("  Migration to %q ready to finalize", s.PendingAdapter)))
		}
		b.WriteString("\n")
	}

	return b.String()
}
