package domain

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func newBooks(t *testing.T) *Books {
	t.Helper()
	m, err := NewCapMath(capTwo, 18, 6)
	if err != nil {
		t.Fatalf("NewCapMath: %v", err)
	}
	return NewBooks(m)
}

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusActive, StatusPaused, true},
		{StatusPaused, StatusActive, true},
		{StatusActive, StatusLiquidated, true},
		{StatusPaused, StatusLiquidated, true},
		{StatusLiquidated, StatusActive, false},
		{StatusLiquidated, StatusPaused, false},
		{StatusLiquidated, StatusLiquidated, false},
		{StatusActive, StatusActive, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestBooks_PauseUnpause(t *testing.T) {
	b := newBooks(t)

	if err := b.SetStatus(StatusPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if b.Status() != StatusPaused {
		t.Errorf("status = %s, want PAUSED", b.Status())
	}
	if err := b.SetStatus(StatusActive); err != nil {
		t.Fatalf("unpause: %v", err)
	}

	// Liquidation must go through RecordLiquidation.
	if err := b.SetStatus(StatusLiquidated); !errors.Is(err, ErrBadTransition) {
		t.Errorf("SetStatus(LIQUIDATED) = %v, want ErrBadTransition", err)
	}
}

func TestBooks_LiquidationIsOneWay(t *testing.T) {
	b := newBooks(t)
	now := time.Now()

	if err := b.RecordLiquidation(capTwo, e(1000, 18), now); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !b.IsLiquidated() {
		t.Fatal("expected liquidated")
	}
	if got := b.LiquidationPrice(); got.Cmp(capTwo) != 0 {
		t.Errorf("liquidation price = %s, want %s", got, capTwo)
	}
	if got := b.PairSupplyAtLiquidation(); got.Cmp(e(1000, 18)) != 0 {
		t.Errorf("supply snapshot = %s", got)
	}

	if err := b.RecordLiquidation(capTwo, e(1000, 18), now); !errors.Is(err, ErrBadTransition) {
		t.Errorf("second liquidation = %v, want ErrBadTransition", err)
	}
	if err := b.SetStatus(StatusActive); !errors.Is(err, ErrBadTransition) {
		t.Errorf("unpause after liquidation = %v, want ErrBadTransition", err)
	}
}

func TestBooks_Liabilities(t *testing.T) {
	b := newBooks(t)

	// Active: 1000 pairs owe 2000 USDC regardless of bear supply argument.
	if got := b.Liabilities(e(1000, 18), e(1000, 18)); got.Cmp(e(2000, 6)) != 0 {
		t.Errorf("active liabilities = %s, want %s", got, e(2000, 6))
	}

	if err := b.RecordLiquidation(capTwo, e(1000, 18), time.Now()); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// Liquidated: only the remaining BEAR supply is owed.
	if got := b.Liabilities(e(1000, 18), e(400, 18)); got.Cmp(e(800, 6)) != 0 {
		t.Errorf("post-liquidation liabilities = %s, want %s", got, e(800, 6))
	}
}

func TestBooks_SolvencyAndSurplus(t *testing.T) {
	b := newBooks(t)
	pairs := e(1000, 18)
	owed := e(2000, 6)

	if !b.Solvent(owed, pairs, pairs, nil) {
		t.Error("exactly funded should be solvent")
	}
	short := new(big.Int).Sub(owed, big.NewInt(1))
	if b.Solvent(short, pairs, pairs, nil) {
		t.Error("one unit short should be insolvent")
	}
	// A tolerance of one unit absorbs the shortfall.
	if !b.Solvent(short, pairs, pairs, big.NewInt(1)) {
		t.Error("one unit short within tolerance should be solvent")
	}

	over := new(big.Int).Add(owed, e(5, 6))
	if got := b.Surplus(over, pairs, pairs); got.Cmp(e(5, 6)) != 0 {
		t.Errorf("surplus = %s, want %s", got, e(5, 6))
	}
	if got := b.Surplus(short, pairs, pairs); got.Sign() != 0 {
		t.Errorf("surplus when short = %s, want 0", got)
	}
}

func TestBooks_BearRedemptionTally(t *testing.T) {
	b := newBooks(t)

	if err := b.RecordBearRedemption(e(1, 18)); !errors.Is(err, ErrNotLiquidated) {
		t.Errorf("redeem before liquidation = %v, want ErrNotLiquidated", err)
	}

	if err := b.RecordLiquidation(capTwo, e(1000, 18), time.Now()); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if err := b.RecordBearRedemption(e(300, 18)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := b.RecordBearRedemption(e(200, 18)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got := b.BearRedeemed(); got.Cmp(e(500, 18)) != 0 {
		t.Errorf("bear redeemed = %s, want %s", got, e(500, 18))
	}
}

func TestBooks_PairBurnTally(t *testing.T) {
	b := newBooks(t)

	if err := b.RecordPairBurn(e(1, 18)); !errors.Is(err, ErrNotLiquidated) {
		t.Errorf("pair burn before liquidation = %v, want ErrNotLiquidated", err)
	}

	if err := b.RecordLiquidation(capTwo, e(1000, 18), time.Now()); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if err := b.RecordPairBurn(e(150, 18)); err != nil {
		t.Fatalf("pair burn: %v", err)
	}
	if err := b.RecordPairBurn(e(50, 18)); err != nil {
		t.Fatalf("pair burn: %v", err)
	}
	if got := b.PairBurned(); got.Cmp(e(200, 18)) != 0 {
		t.Errorf("pair burned = %s, want %s", got, e(200, 18))
	}
}

func TestMigrationClock(t *testing.T) {
	c := NewMigrationClock(7 * 24 * time.Hour)
	now := time.Now()

	if _, err := c.Finalize(now); !errors.Is(err, ErrNoPendingProposal) {
		t.Errorf("finalize with nothing pending = %v, want ErrNoPendingProposal", err)
	}

	p, err := c.Propose("aave-v3", now)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if want := now.Add(7 * 24 * time.Hour); !p.ActivatableAt.Equal(want) {
		t.Errorf("activatable at %s, want %s", p.ActivatableAt, want)
	}

	if _, err := c.Propose("compound", now); !errors.Is(err, ErrProposalPending) {
		t.Errorf("second propose = %v, want ErrProposalPending", err)
	}

	// One second early is still locked.
	early := now.Add(7*24*time.Hour - time.Second)
	if _, err := c.Finalize(early); !errors.Is(err, ErrTimelockActive) {
		t.Errorf("early finalize = %v, want ErrTimelockActive", err)
	}

	got, err := c.Finalize(now.Add(7 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got.AdapterName != "aave-v3" {
		t.Errorf("finalized adapter = %s, want aave-v3", got.AdapterName)
	}
	if c.Pending() != nil {
		t.Error("pending should be cleared after finalize")
	}
}

func TestMigrationClock_Cancel(t *testing.T) {
	c := NewMigrationClock(time.Hour)
	now := time.Now()

	if _, err := c.Propose("aave-v3", now); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if p := c.Cancel(); p == nil || p.AdapterName != "aave-v3" {
		t.Errorf("cancel returned %+v", p)
	}
	// A fresh proposal is allowed after cancel.
	if _, err := c.Propose("compound", now); err != nil {
		t.Fatalf("propose after cancel: %v", err)
	}
}
