// Package domain contains the core domain logic for the splitter context:
// CAP conversion math, lifecycle status, accounting and adapter migration.
package domain

import (
	"fmt"
	"math/big"

	"github.com/nkozak/capsplit/internal/asset"
)

// CapMath converts between synthetic token amounts and collateral amounts
// at a fixed CAP price. The CAP is an immutable fixed-point value with
// asset.PricePrecision decimals (e.g. $2.00 stored as 200000000).
//
// For each matched pair minted, the engine escrows exactly CAP worth of
// collateral; the conversion factor between raw token units and raw
// collateral units is
//
//	multiplier = 10^(tokenDecimals + PricePrecision - collateralDecimals)
//
// Mints round the collateral charge up, burns round the payout down, so
// rounding dust always accrues to the system, never to the caller.
type CapMath struct {
	cap        *big.Int
	multiplier *big.Int
}

// NewCapMath builds the conversion math for a CAP and decimal configuration.
// Returns an error when the CAP is not positive or the decimal configuration
// would need a fractional multiplier.
func NewCapMath(capRaw *big.Int, tokenDecimals, collateralDecimals uint8) (*CapMath, error) {
	if capRaw == nil || capRaw.Sign() <= 0 {
		return nil, fmt.Errorf("cap must be positive, got %s", capRaw)
	}

	exp := int(tokenDecimals) + asset.PricePrecision - int(collateralDecimals)
	if exp < 0 {
		return nil, fmt.Errorf("unsupported decimals: token=%d collateral=%d", tokenDecimals, collateralDecimals)
	}

	return &CapMath{
		cap:        new(big.Int).Set(capRaw),
		multiplier: new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil),
	}, nil
}

// Cap returns the raw fixed-point CAP.
func (m *CapMath) Cap() *big.Int {
	return new(big.Int).Set(m.cap)
}

// CollateralIn returns the collateral required to mint tokenAmount matched
// pairs, rounding up. A non-zero token amount always charges at least one
// collateral unit.
func (m *CapMath) CollateralIn(tokenAmount *big.Int) *big.Int {
	num := new(big.Int).Mul(tokenAmount, m.cap)
	quo, rem := new(big.Int).QuoRem(num, m.multiplier, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// PayoutOut returns the collateral released for burning tokenAmount matched
// pairs, rounding down. Tiny amounts may pay out zero.
func (m *CapMath) PayoutOut(tokenAmount *big.Int) *big.Int {
	num := new(big.Int).Mul(tokenAmount, m.cap)
	return num.Quo(num, m.multiplier)
}

// Liabilities returns the collateral owed against a given matched pair
// supply: supply x CAP, rounded up to match the mint-side charge.
func (m *CapMath) Liabilities(pairSupply *big.Int) *big.Int {
	return m.CollateralIn(pairSupply)
}
