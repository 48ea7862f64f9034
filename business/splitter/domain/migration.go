package domain

import (
	"errors"
	"fmt"
	"time"
)

// Migration errors
var (
	ErrNoPendingProposal = errors.New("splitter: no pending adapter proposal")
	ErrProposalPending   = errors.New("splitter: an adapter proposal is already pending")
	ErrTimelockActive    = errors.New("splitter: adapter timelock has not elapsed")
)

// AdapterProposal is a pending, timelocked yield-adapter change.
type AdapterProposal struct {
	AdapterName   string
	ProposedAt    time.Time
	ActivatableAt time.Time
}

// MigrationClock gates adapter changes behind a fixed delay. A new proposal
// replaces nothing: while one is pending, a second propose is rejected and
// the pending one must be finalized or cancelled first.
type MigrationClock struct {
	delay   time.Duration
	pending *AdapterProposal
}

// NewMigrationClock creates a clock with the given timelock delay.
func NewMigrationClock(delay time.Duration) *MigrationClock {
	return &MigrationClock{delay: delay}
}

// Delay returns the configured timelock delay.
func (c *MigrationClock) Delay() time.Duration {
	return c.delay
}

// Pending returns a copy of the pending proposal, or nil.
func (c *MigrationClock) Pending() *AdapterProposal {
	if c.pending == nil {
		return nil
	}
	p := *c.pending
	return &p
}

// Propose records a new pending adapter. Fails if one is already pending.
func (c *MigrationClock) Propose(adapterName string, now time.Time) (*AdapterProposal, error) {
	if c.pending != nil {
		return nil, fmt.Errorf("%w: %s activatable at %s",
			ErrProposalPending, c.pending.AdapterName, c.pending.ActivatableAt.Format(time.RFC3339))
	}
	c.pending = &AdapterProposal{
		AdapterName:   adapterName,
		ProposedAt:    now,
		ActivatableAt: now.Add(c.delay),
	}
	p := *c.pending
	return &p, nil
}

// Finalize consumes the pending proposal once its timelock has elapsed.
func (c *MigrationClock) Finalize(now time.Time) (*AdapterProposal, error) {
	if c.pending == nil {
		return nil, ErrNoPendingProposal
	}
	if now.Before(c.pending.ActivatableAt) {
		return nil, fmt.Errorf("%w: %s remaining",
			ErrTimelockActive, c.pending.ActivatableAt.Sub(now).Round(time.Second))
	}
	p := c.pending
	c.pending = nil
	return p, nil
}

// Cancel drops the pending proposal, if any.
func (c *MigrationClock) Cancel() *AdapterProposal {
	p := c.pending
	c.pending = nil
	return p
}
