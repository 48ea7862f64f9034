// Package components provides reusable TUI components.
package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// EventRow represents an engine event in the list.
type EventRow struct {
	Timestamp string
	Kind      string // "mint", "burn", "redeem", "harvest", "liquidation", "migration", "error"
	Text      string
}

// EventsComponent renders the scrolling event list.
type EventsComponent struct {
	rows    []EventRow
	maxRows int
	offset  int
	visible int
}

// NewEventsComponent creates a new events component keeping up to maxRows.
func NewEventsComponent(maxRows int) *EventsComponent {
	return &EventsComponent{
		rows:    make([]EventRow, 0),
		maxRows: maxRows,
		visible: 10,
	}
}

// Add prepends a new event.
func (e *EventsComponent) Add(row EventRow) {
	e.rows = append([]EventRow{row}, e.rows...)
	if len(e.rows) > e.maxRows {
		e.rows = e.rows[:e.maxRows]
	}
	e.offset = 0
}

// Clear removes all events.
func (e *EventsComponent) Clear() {
	e.rows = make([]EventRow, 0)
	e.offset = 0
}

// ScrollUp moves the view toward older events.
func (e *EventsComponent) ScrollUp() {
	if e.offset+e.visible < len(e.rows) {
		e.offset++
	}
}

// ScrollDown moves the view toward recent events.
func (e *EventsComponent) ScrollDown() {
	if e.offset > 0 {
		e.offset--
	}
}

// View renders the events component.
func (e *EventsComponent) View() string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	var b strings.Builder
	b.WriteString(headerStyle.Render("EVENTS"))
	if e.offset > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  (scrolled %d)", e.offset)))
	}
	b.WriteString("\n\n")

	if len(e.rows) == 0 {
		b.WriteString(dimStyle.Render("  No events yet..."))
		return b.String()
	}

	end := e.offset + e.visible
	if end > len(e.rows) {
		end = len(e.rows)
	}
	for _, row := range e.rows[e.offset:end] {
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			dimStyle.Render("["+row.Timestamp+"]"),
			e.kindStyle(row.Kind).Render(fmt.Sprintf("%-11s", row.Kind)),
			row.Text,
		))
	}

	return b.String()
}

func (e *EventsComponent) kindStyle(kind string) lipgloss.Style {
	switch kind {
	case "liquidation", "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	case "harvest", "mint":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	case "migration":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	}
}
