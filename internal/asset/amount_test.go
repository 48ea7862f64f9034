package asset_test

import (
	"math/big"
	"testing"

	"github.com/nkozak/capsplit/internal/asset"
	"github.com/shopspring/decimal"
)

func TestAmount_Basic(t *testing.T) {
	// 1 BULL = 1e18 base units
	oneBull := asset.NewAmount(asset.BULL, big.NewInt(1e18))

	if oneBull.IsZero() {
		t.Error("expected non-zero amount")
	}

	// ToDecimal should return 1.0
	d := oneBull.ToDecimal()
	if !d.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected 1, got %s", d.String())
	}

	// String should be "1 BULL"
	if oneBull.String() != "1 BULL" {
		t.Errorf("expected '1 BULL', got '%s'", oneBull.String())
	}
}

func TestAmount_Add(t *testing.T) {
	one := asset.NewAmount(asset.BEAR, big.NewInt(1e18))
	two := asset.NewAmount(asset.BEAR, big.NewInt(2e18))

	sum, err := one.Add(two)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := decimal.NewFromInt(3)
	if !sum.ToDecimal().Equal(expected) {
		t.Errorf("expected 3, got %s", sum.ToDecimal().String())
	}
}

func TestAmount_CannotAddDifferentAssets(t *testing.T) {
	oneBear := asset.NewAmount(asset.BEAR, big.NewInt(1e18))
	oneUSDC := asset.NewAmount(asset.USDC, big.NewInt(1e6))

	_, err := oneBear.Add(oneUSDC)
	if err == nil {
		t.Error("expected error when adding different assets")
	}
}

func TestAmount_Sub(t *testing.T) {
	three := asset.NewAmount(asset.USDC, big.NewInt(3e6))
	one := asset.NewAmount(asset.USDC, big.NewInt(1e6))

	diff, err := three.Sub(one)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := decimal.NewFromInt(2)
	if !diff.ToDecimal().Equal(expected) {
		t.Errorf("expected 2, got %s", diff.ToDecimal().String())
	}
}

func TestAmount_SubNegativeError(t *testing.T) {
	one := asset.NewAmount(asset.USDC, big.NewInt(1e6))
	two := asset.NewAmount(asset.USDC, big.NewInt(2e6))

	_, err := one.Sub(two)
	if err == nil {
		t.Error("expected error for negative result")
	}
}

func TestParseDecimal(t *testing.T) {
	// Parse "1.5" BULL
	d := decimal.NewFromFloat(1.5)
	amount, err := asset.ParseDecimal(asset.BULL, d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Should be 1.5e18 base units
	expected := big.NewInt(0)
	expected.SetString("1500000000000000000", 10)

	if amount.Raw().Cmp(expected) != 0 {
		t.Errorf("expected %s, got %s", expected.String(), amount.Raw().String())
	}
}

func TestParseDecimal_TooManyDecimals(t *testing.T) {
	// USDC has 6 decimals, try to parse 1.1234567 (7 decimals)
	d := decimal.NewFromFloat(1.1234567)
	_, err := asset.ParseDecimal(asset.USDC, d)
	if err == nil {
		t.Error("expected error for too many decimals")
	}
}

func TestPrice_FixedPointRoundTrip(t *testing.T) {
	// CAP-style price: $2.00 with 8-decimal precision
	price := asset.NewPriceNow(asset.BEAR, asset.USDC, decimal.NewFromFloat(2.00))

	expected := big.NewInt(200000000)
	if price.RateRaw().Cmp(expected) != 0 {
		t.Errorf("expected raw %s, got %s", expected, price.RateRaw())
	}

	if !price.Rate().Equal(decimal.NewFromFloat(2.00)) {
		t.Errorf("expected 2, got %s", price.Rate().String())
	}
}

func TestPrice_Cmp(t *testing.T) {
	price := asset.NewPriceNow(asset.BEAR, asset.USDC, decimal.NewFromFloat(1.50))
	cap := big.NewInt(200000000) // $2.00

	if price.Cmp(cap) >= 0 {
		t.Error("1.50 should compare below 2.00")
	}

	atCap := asset.NewPriceNow(asset.BEAR, asset.USDC, decimal.NewFromFloat(2.00))
	if atCap.Cmp(cap) < 0 {
		t.Error("2.00 should not compare below 2.00")
	}
}

func TestAssetID_Identity(t *testing.T) {
	usdcEth := asset.NewTokenAssetID(1, asset.AddrUSDCEthereum)
	usdcEth2 := asset.NewTokenAssetID(1, asset.AddrUSDCEthereum)

	if !usdcEth.Equals(usdcEth2) {
		t.Error("same asset should have equal IDs")
	}

	// Different chains
	usdcArb := asset.NewTokenAssetID(42161, asset.AddrUSDCEthereum) // hypothetically same address

	if usdcEth.Equals(usdcArb) {
		t.Error("different chains should have different IDs")
	}
}

func TestAssetID_Synthetic(t *testing.T) {
	bear := asset.NewSyntheticAssetID("BEAR")
	bull := asset.NewSyntheticAssetID("BULL")

	if bear.Equals(bull) {
		t.Error("different symbols should have different synthetic IDs")
	}
	if !bear.IsSynthetic() {
		t.Error("expected synthetic ID")
	}
}

func TestRegistry(t *testing.T) {
	r := asset.DefaultRegistry()

	// Should find USDC by symbol and chain
	usdc, ok := r.GetBySymbolAndChain("USDC", asset.ChainIDEthereum)
	if !ok {
		t.Fatal("USDC not found in registry")
	}
	if usdc.Decimals() != 6 {
		t.Errorf("expected 6 decimals, got %d", usdc.Decimals())
	}

	// Synthetic pair should be pre-registered
	bear, ok := r.Get(asset.IDBear)
	if !ok {
		t.Fatal("BEAR not found in registry")
	}
	if bear.Decimals() != 18 {
		t.Errorf("expected 18 decimals, got %d", bear.Decimals())
	}
}
