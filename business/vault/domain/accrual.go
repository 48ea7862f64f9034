// Package domain contains yield accrual math for the vault context.
package domain

import (
	"math/big"
	"time"
)

const (
	bpsDenominator = 10_000
	secondsPerYear = 365 * 24 * 60 * 60
)

// AccruedYield returns the simple-interest yield earned on principal at
// aprBps over elapsed time, floored to integer base units. Negative or zero
// inputs yield zero.
func AccruedYield(principal *big.Int, aprBps uint32, elapsed time.Duration) *big.Int {
	if principal == nil || principal.Sign() <= 0 || aprBps == 0 || elapsed <= 0 {
		return big.NewInt(0)
	}

	// principal * aprBps * elapsedSeconds / (10000 * secondsPerYear)
	y := new(big.Int).Mul(principal, big.NewInt(int64(aprBps)))
	y.Mul(y, big.NewInt(int64(elapsed/time.Second)))
	y.Quo(y, big.NewInt(bpsDenominator*secondsPerYear))
	return y
}
