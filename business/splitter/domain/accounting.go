package domain

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Accounting errors
var (
	ErrBadTransition = errors.New("splitter: invalid status transition")
	ErrNotLiquidated = errors.New("splitter: not liquidated")
)

// Books tracks the splitter's lifecycle status and liquidation bookkeeping.
// Supplies live in the token ledgers and custody balances in the collateral
// ledger and vault; Books only records what cannot be derived from them:
// the current status and the frozen liquidation snapshot. Not safe for
// concurrent use; the engine serializes access.
type Books struct {
	math   *CapMath
	status Status

	// Liquidation snapshot, set once when status becomes LIQUIDATED.
	liquidationPrice *big.Int
	liquidationTime  time.Time
	pairSupplyAtLiq  *big.Int
	bearRedeemed     *big.Int
	pairBurned       *big.Int
}

// NewBooks creates active books over the given conversion math.
func NewBooks(math *CapMath) *Books {
	return &Books{
		math:         math,
		status:       StatusActive,
		bearRedeemed: big.NewInt(0),
		pairBurned:   big.NewInt(0),
	}
}

// Math returns the CAP conversion math.
func (b *Books) Math() *CapMath {
	return b.math
}

// Status returns the current lifecycle status.
func (b *Books) Status() Status {
	return b.status
}

// IsLiquidated reports whether liquidation has been triggered.
func (b *Books) IsLiquidated() bool {
	return b.status == StatusLiquidated
}

// SetStatus moves to next, enforcing the lifecycle rules. Use
// RecordLiquidation for the transition into LIQUIDATED.
func (b *Books) SetStatus(next Status) error {
	if next == StatusLiquidated {
		return fmt.Errorf("%w: use RecordLiquidation", ErrBadTransition)
	}
	if !b.status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, b.status, next)
	}
	b.status = next
	return nil
}

// RecordLiquidation freezes the liquidation snapshot and moves to
// LIQUIDATED. One-way; a second call is an error.
func (b *Books) RecordLiquidation(price *big.Int, pairSupply *big.Int, at time.Time) error {
	if !b.status.CanTransition(StatusLiquidated) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, b.status, StatusLiquidated)
	}
	b.status = StatusLiquidated
	b.liquidationPrice = new(big.Int).Set(price)
	b.liquidationTime = at
	b.pairSupplyAtLiq = new(big.Int).Set(pairSupply)
	return nil
}

// LiquidationPrice returns the price that triggered liquidation, or nil.
func (b *Books) LiquidationPrice() *big.Int {
	if b.liquidationPrice == nil {
		return nil
	}
	return new(big.Int).Set(b.liquidationPrice)
}

// LiquidationTime returns when liquidation was recorded.
func (b *Books) LiquidationTime() time.Time {
	return b.liquidationTime
}

// PairSupplyAtLiquidation returns the matched supply frozen at liquidation.
func (b *Books) PairSupplyAtLiquidation() *big.Int {
	if b.pairSupplyAtLiq == nil {
		return nil
	}
	return new(big.Int).Set(b.pairSupplyAtLiq)
}

// RecordBearRedemption adds to the running total of BEAR redeemed after
// liquidation.
func (b *Books) RecordBearRedemption(amount *big.Int) error {
	if b.status != StatusLiquidated {
		return ErrNotLiquidated
	}
	b.bearRedeemed.Add(b.bearRedeemed, amount)
	return nil
}

// BearRedeemed returns the total BEAR redeemed since liquidation.
func (b *Books) BearRedeemed() *big.Int {
	return new(big.Int).Set(b.bearRedeemed)
}

// RecordPairBurn adds to the running total of matched pairs burned after
// liquidation. Together with BearRedeemed it reconciles the frozen supply
// snapshot: pairSupplyAtLiq = remaining BEAR + bearRedeemed + pairBurned.
func (b *Books) RecordPairBurn(amount *big.Int) error {
	if b.status != StatusLiquidated {
		return ErrNotLiquidated
	}
	b.pairBurned.Add(b.pairBurned, amount)
	return nil
}

// PairBurned returns the matched pairs burned since liquidation.
func (b *Books) PairBurned() *big.Int {
	return new(big.Int).Set(b.pairBurned)
}

// Liabilities returns the collateral owed to token holders. Before
// liquidation each matched pair is owed CAP; after, only the remaining
// BEAR supply is owed CAP per token and BULL is a worthless residual.
func (b *Books) Liabilities(pairSupply, bearSupply *big.Int) *big.Int {
	if b.status == StatusLiquidated {
		return b.math.Liabilities(bearSupply)
	}
	return b.math.Liabilities(pairSupply)
}

// Solvent reports whether totalAssets covers the liabilities within the
// given tolerance (raw collateral units; absorbs vault share rounding).
func (b *Books) Solvent(totalAssets, pairSupply, bearSupply, tolerance *big.Int) bool {
	owed := b.Liabilities(pairSupply, bearSupply)
	if tolerance != nil && tolerance.Sign() > 0 {
		owed = owed.Sub(owed, tolerance)
	}
	return totalAssets.Cmp(owed) >= 0
}

// Surplus returns totalAssets minus liabilities, floored at zero.
func (b *Books) Surplus(totalAssets, pairSupply, bearSupply *big.Int) *big.Int {
	owed := b.Liabilities(pairSupply, bearSupply)
	s := new(big.Int).Sub(totalAssets, owed)
	if s.Sign() < 0 {
		return big.NewInt(0)
	}
	return s
}
