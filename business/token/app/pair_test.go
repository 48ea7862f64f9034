package app

import (
	"math/big"
	"testing"

	"github.com/nkozak/capsplit/business/token/domain"
	"github.com/nkozak/capsplit/internal/asset"
)

var (
	engine = domain.ModuleAddress("engine")
	alice  = domain.ModuleAddress("test:alice")
)

func newPair() *Pair {
	return NewPair(engine, asset.BEAR, asset.BULL)
}

func TestPair_MintMatchedKeepsParity(t *testing.T) {
	p := newPair()

	amounts := []int64{100, 7, 1, 50000}
	for _, a := range amounts {
		if err := p.MintMatched(alice, big.NewInt(a)); err != nil {
			t.Fatalf("mint %d: %v", a, err)
		}
		if p.BearSupply().Cmp(p.BullSupply()) != 0 {
			t.Fatalf("parity broken after mint %d: bear=%s bull=%s", a, p.BearSupply(), p.BullSupply())
		}
	}
}

func TestPair_BurnMatchedKeepsParity(t *testing.T) {
	p := newPair()

	if err := p.MintMatched(alice, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := p.BurnMatched(alice, big.NewInt(400)); err != nil {
		t.Fatalf("burn: %v", err)
	}

	if p.BearSupply().Cmp(big.NewInt(600)) != 0 {
		t.Errorf("bear supply = %s, want 600", p.BearSupply())
	}
	if p.BearSupply().Cmp(p.BullSupply()) != 0 {
		t.Errorf("parity broken: bear=%s bull=%s", p.BearSupply(), p.BullSupply())
	}
}

func TestPair_BurnMatchedInsufficientRollsBack(t *testing.T) {
	p := newPair()

	if err := p.MintMatched(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Drain alice's BULL so the matched burn fails on the second leg.
	other := domain.ModuleAddress("test:other")
	if err := p.Bull().Transfer(alice, other, big.NewInt(60)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if err := p.BurnMatched(alice, big.NewInt(80)); err == nil {
		t.Fatal("expected burn to fail")
	}

	// The bear leg must have been rolled back.
	if got := p.Bear().BalanceOf(alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("bear balance = %s, want 100 (rollback)", got)
	}
	if p.BearSupply().Cmp(p.BullSupply()) != 0 {
		t.Errorf("parity broken: bear=%s bull=%s", p.BearSupply(), p.BullSupply())
	}
}

func TestPair_BurnBearBreaksParityOnPurpose(t *testing.T) {
	p := newPair()

	if err := p.MintMatched(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := p.BurnBear(alice, big.NewInt(25)); err != nil {
		t.Fatalf("burnBear: %v", err)
	}

	if p.BearSupply().Cmp(big.NewInt(75)) != 0 {
		t.Errorf("bear supply = %s, want 75", p.BearSupply())
	}
	if p.BullSupply().Cmp(big.NewInt(100)) != 0 {
		t.Errorf("bull supply = %s, want 100 (untouched)", p.BullSupply())
	}
}

func TestPair_HasMatchedBalance(t *testing.T) {
	p := newPair()

	if err := p.MintMatched(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !p.HasMatchedBalance(alice, big.NewInt(100)) {
		t.Error("expected matched balance of 100")
	}

	other := domain.ModuleAddress("test:other")
	if err := p.Bull().Transfer(alice, other, big.NewInt(1)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if p.HasMatchedBalance(alice, big.NewInt(100)) {
		t.Error("matched balance should fail after bull transfer")
	}
}
