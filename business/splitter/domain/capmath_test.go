package domain

import (
	"math/big"
	"testing"
)

// cap of $2.00 at 8 price decimals.
var capTwo = big.NewInt(200_000_000)

func e(base int64, exp int64) *big.Int {
	m := new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil)
	return m.Mul(big.NewInt(base), m)
}

func TestCapMath_CollateralIn(t *testing.T) {
	m, err := NewCapMath(capTwo, 18, 6)
	if err != nil {
		t.Fatalf("NewCapMath: %v", err)
	}

	tests := []struct {
		name   string
		tokens *big.Int
		want   *big.Int
	}{
		{"1000 tokens -> 2000 USDC", e(1000, 18), e(2000, 6)},
		{"1 token -> 2 USDC", e(1, 18), e(2, 6)},
		{"half token -> 1 USDC", e(5, 17), e(1, 6)},
		{"1 wei rounds up to 1 unit", big.NewInt(1), big.NewInt(1)},
		{"just below a unit rounds up", big.NewInt(499_999_999_999), big.NewInt(1)},
		{"exactly one unit", e(5, 11), big.NewInt(1)},
		{"one unit plus a wei", new(big.Int).Add(e(5, 11), big.NewInt(1)), big.NewInt(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.CollateralIn(tt.tokens); got.Cmp(tt.want) != 0 {
				t.Errorf("CollateralIn(%s) = %s, want %s", tt.tokens, got, tt.want)
			}
		})
	}
}

func TestCapMath_PayoutOut(t *testing.T) {
	m, err := NewCapMath(capTwo, 18, 6)
	if err != nil {
		t.Fatalf("NewCapMath: %v", err)
	}

	tests := []struct {
		name   string
		tokens *big.Int
		want   *big.Int
	}{
		{"500 tokens -> 1000 USDC", e(500, 18), e(1000, 6)},
		{"1 token -> 2 USDC", e(1, 18), e(2, 6)},
		{"1 wei pays out nothing", big.NewInt(1), big.NewInt(0)},
		{"just below a unit pays out nothing", big.NewInt(499_999_999_999), big.NewInt(0)},
		{"one unit plus a wei floors", new(big.Int).Add(e(5, 11), big.NewInt(1)), big.NewInt(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.PayoutOut(tt.tokens); got.Cmp(tt.want) != 0 {
				t.Errorf("PayoutOut(%s) = %s, want %s", tt.tokens, got, tt.want)
			}
		})
	}
}

func TestCapMath_RoundingNeverFavorsCaller(t *testing.T) {
	m, err := NewCapMath(capTwo, 18, 6)
	if err != nil {
		t.Fatalf("NewCapMath: %v", err)
	}

	amounts := []*big.Int{
		big.NewInt(1),
		big.NewInt(3),
		big.NewInt(4_999_999_999),
		e(1, 12),
		new(big.Int).Add(e(7, 17), big.NewInt(13)),
	}
	for _, a := range amounts {
		in := m.CollateralIn(a)
		out := m.PayoutOut(a)
		if out.Cmp(in) > 0 {
			t.Errorf("amount %s: payout %s exceeds charge %s", a, out, in)
		}
	}
}

func TestCapMath_OddCap(t *testing.T) {
	// $1.50 cap, same decimals: 10 tokens cost 15 USDC.
	m, err := NewCapMath(big.NewInt(150_000_000), 18, 6)
	if err != nil {
		t.Fatalf("NewCapMath: %v", err)
	}

	if got := m.CollateralIn(e(10, 18)); got.Cmp(e(15, 6)) != 0 {
		t.Errorf("CollateralIn = %s, want %s", got, e(15, 6))
	}
	if got := m.PayoutOut(e(10, 18)); got.Cmp(e(15, 6)) != 0 {
		t.Errorf("PayoutOut = %s, want %s", got, e(15, 6))
	}
}

func TestNewCapMath_Validation(t *testing.T) {
	if _, err := NewCapMath(big.NewInt(0), 18, 6); err == nil {
		t.Error("zero cap should fail")
	}
	if _, err := NewCapMath(big.NewInt(-1), 18, 6); err == nil {
		t.Error("negative cap should fail")
	}
	if _, err := NewCapMath(nil, 18, 6); err == nil {
		t.Error("nil cap should fail")
	}
	// 18-decimal collateral against 8 price decimals still works.
	if _, err := NewCapMath(capTwo, 18, 18); err != nil {
		t.Errorf("18-decimal collateral: %v", err)
	}
}
