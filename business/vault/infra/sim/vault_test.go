package sim_test

import (
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	splitterApp "github.com/nkozak/capsplit/business/splitter/app"
	tokenDomain "github.com/nkozak/capsplit/business/token/domain"
	"github.com/nkozak/capsplit/business/vault/infra/sim"
	"github.com/nkozak/capsplit/internal/asset"
	"github.com/nkozak/capsplit/internal/logger"
)

var bank = tokenDomain.ModuleAddress("bank")

func newVault(t *testing.T, cfg sim.Config) (*sim.Vault, *tokenDomain.Ledger) {
	t.Helper()

	ledger := tokenDomain.NewLedger(asset.USDC, bank)
	cfg.Minter = bank

	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	v, err := sim.New(cfg, ledger, log)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Fund the engine buffer.
	if err := ledger.Mint(bank, splitterApp.EngineAddress, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("funding mint error = %v", err)
	}
	return v, ledger
}

func TestVault_DepositWithdraw(t *testing.T) {
	ctx := context.Background()
	v, ledger := newVault(t, sim.Config{APRBps: 0})

	if err := v.Deposit(ctx, big.NewInt(600_000_000)); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}

	total, err := v.TotalAssets(ctx)
	if err != nil {
		t.Fatalf("TotalAssets() error = %v", err)
	}
	if total.Cmp(big.NewInt(600_000_000)) != 0 {
		t.Errorf("TotalAssets() = %s, want 600000000", total)
	}

	got, err := v.Withdraw(ctx, big.NewInt(200_000_000))
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if got.Cmp(big.NewInt(200_000_000)) != 0 {
		t.Errorf("Withdraw() = %s, want 200000000", got)
	}

	if b := ledger.BalanceOf(splitterApp.EngineAddress); b.Cmp(big.NewInt(600_000_000)) != 0 {
		t.Errorf("engine buffer = %s, want 600000000", b)
	}
}

func TestVault_DepositExceedingBuffer(t *testing.T) {
	ctx := context.Background()
	v, _ := newVault(t, sim.Config{APRBps: 0})

	if err := v.Deposit(ctx, big.NewInt(2_000_000_000)); err == nil {
		t.Fatal("Deposit() exceeding buffer should fail")
	}
}

func TestVault_AccruesYield(t *testing.T) {
	ctx := context.Background()
	v, _ := newVault(t, sim.Config{APRBps: 400}) // 4% APR

	clock := time.Unix(1_700_000_000, 0)
	v.SetNowFunc(func() time.Time { return clock })

	if err := v.Deposit(ctx, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}

	// A full year at 4% on 1,000 USDC earns 40 USDC.
	clock = clock.Add(365 * 24 * time.Hour)

	total, err := v.TotalAssets(ctx)
	if err != nil {
		t.Fatalf("TotalAssets() error = %v", err)
	}
	if total.Cmp(big.NewInt(1_040_000_000)) != 0 {
		t.Errorf("TotalAssets() = %s, want 1040000000", total)
	}

	// Yield is withdrawable like any other balance.
	got, err := v.Withdraw(ctx, big.NewInt(1_040_000_000))
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if got.Cmp(big.NewInt(1_040_000_000)) != 0 {
		t.Errorf("Withdraw() = %s, want full balance with yield", got)
	}
}

func TestVault_LiquidityCap(t *testing.T) {
	ctx := context.Background()
	v, _ := newVault(t, sim.Config{APRBps: 0, LiquidityCap: big.NewInt(100_000_000)})

	if err := v.Deposit(ctx, big.NewInt(500_000_000)); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}

	max, err := v.MaxWithdraw(ctx)
	if err != nil {
		t.Fatalf("MaxWithdraw() error = %v", err)
	}
	if max.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Errorf("MaxWithdraw() = %s, want 100000000", max)
	}

	// Withdraw is clamped to the cap, not failed.
	got, err := v.Withdraw(ctx, big.NewInt(500_000_000))
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if got.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Errorf("Withdraw() = %s, want 100000000", got)
	}
}
