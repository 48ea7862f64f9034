package app

import (
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/nkozak/capsplit/business/splitter/domain"
	tokenApp "github.com/nkozak/capsplit/business/token/app"
	tokenDomain "github.com/nkozak/capsplit/business/token/domain"
	"github.com/nkozak/capsplit/internal/apperror"
	"github.com/nkozak/capsplit/internal/asset"
	"github.com/nkozak/capsplit/internal/logger"
)

var (
	bank     = tokenDomain.ModuleAddress("test:bank")
	operator = tokenDomain.ModuleAddress("test:operator")
	treasury = tokenDomain.ModuleAddress("test:treasury")
	staking  = tokenDomain.ModuleAddress("test:staking")
	alice    = tokenDomain.ModuleAddress("test:alice")
	bob      = tokenDomain.ModuleAddress("test:bob")
)

func units(base int64, exp int64) *big.Int {
	m := new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil)
	return m.Mul(big.NewInt(base), m)
}

// testVault is a yield vault backed by the same collateral ledger as the
// engine, with a settable liquidity cap, fault injection for deposits and
// withdrawals, and a hook run inside Deposit.
type testVault struct {
	name         string
	ledger       *tokenDomain.Ledger
	addr         common.Address
	liquidityCap *big.Int // nil = unlimited
	onDeposit    func()

	depositErr      error    // returned by Deposit before any transfer
	shortfallBy     *big.Int // Withdraw delivers this much less than asked
	withdrawHaircut *big.Int // burned from the vault after a withdrawal, once
}

func newTestVault(name string, ledger *tokenDomain.Ledger) *testVault {
	return &testVault{
		name:   name,
		ledger: ledger,
		addr:   tokenDomain.ModuleAddress("vault:" + name),
	}
}

func (v *testVault) Name() string             { return v.name }
func (v *testVault) Collateral() *asset.Asset { return v.ledger.Asset() }

func (v *testVault) Deposit(_ context.Context, amount *big.Int) error {
	if v.onDeposit != nil {
		v.onDeposit()
	}
	if v.depositErr != nil {
		return v.depositErr
	}
	return v.ledger.Transfer(EngineAddress, v.addr, amount)
}

func (v *testVault) Withdraw(_ context.Context, amount *big.Int) (*big.Int, error) {
	delivered := new(big.Int).Set(amount)
	if v.shortfallBy != nil {
		delivered.Sub(delivered, v.shortfallBy)
	}
	if err := v.ledger.Transfer(v.addr, EngineAddress, delivered); err != nil {
		return nil, err
	}
	if v.withdrawHaircut != nil {
		if err := v.ledger.Burn(bank, v.addr, v.withdrawHaircut); err != nil {
			return nil, err
		}
		v.withdrawHaircut = nil
	}
	return delivered, nil
}

func (v *testVault) MaxWithdraw(_ context.Context) (*big.Int, error) {
	balance := v.ledger.BalanceOf(v.addr)
	if v.liquidityCap != nil && balance.Cmp(v.liquidityCap) > 0 {
		return new(big.Int).Set(v.liquidityCap), nil
	}
	return balance, nil
}

func (v *testVault) TotalAssets(_ context.Context) (*big.Int, error) {
	return v.ledger.BalanceOf(v.addr), nil
}

// accrue simulates yield by minting collateral into the vault account.
func (v *testVault) accrue(t *testing.T, amount *big.Int) {
	t.Helper()
	if err := v.ledger.Mint(bank, v.addr, amount); err != nil {
		t.Fatalf("accrue: %v", err)
	}
}

type stubPrices struct {
	price asset.Price
	err   error
}

func (s *stubPrices) Latest(context.Context) (asset.Price, error) {
	return s.price, s.err
}

type fixture struct {
	engine     *Engine
	pair       *tokenApp.Pair
	collateral *tokenDomain.Ledger
	vault      *testVault
	prices     *stubPrices
}

func testConfig() EngineConfig {
	return EngineConfig{
		Cap:                   big.NewInt(200_000_000), // $2.00
		TokenDecimals:         18,
		CollateralDecimals:    6,
		BufferTargetBps:       1000, // 10%
		Operator:              operator,
		Treasury:              treasury,
		Staking:               staking,
		AdapterDelay:          7 * 24 * time.Hour,
		AllowAfterLiquidation: true,
		CallerRewardBps:       50,
		TreasurySplitBps:      5000,
		MinSurplus:            units(1, 6), // 1 USDC
		HarvestCooldown:       time.Hour,
	}
}

func newFixture(t *testing.T, cfg EngineConfig) *fixture {
	t.Helper()

	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	collateral := tokenDomain.NewLedger(asset.USDC, bank)
	pair := tokenApp.NewPair(EngineAddress, asset.BEAR, asset.BULL)
	vault := newTestVault("sim", collateral)
	prices := &stubPrices{price: asset.NewPriceNow(asset.BEAR, asset.USDC, decimal.NewFromFloat(1.00))}

	engine, err := NewEngine(cfg, pair, collateral, vault, prices, log)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// Fund the actors.
	for _, addr := range []common.Address{alice, bob} {
		if err := collateral.Mint(bank, addr, units(1_000_000, 6)); err != nil {
			t.Fatalf("fund %s: %v", addr.Hex(), err)
		}
	}

	return &fixture{
		engine:     engine,
		pair:       pair,
		collateral: collateral,
		vault:      vault,
		prices:     prices,
	}
}

func wantCode(t *testing.T, err error, code apperror.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error code %s, got nil", code)
	}
	if got := apperror.GetCode(err); got != code {
		t.Fatalf("error code = %s, want %s (err: %v)", got, code, err)
	}
}

func TestEngine_MintHappyPath(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	receipt, err := f.engine.Mint(ctx, alice, units(1000, 18))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	// 1000 pairs at $2.00 cap cost 2000 USDC.
	if receipt.CollateralIn.Cmp(units(2000, 6)) != 0 {
		t.Errorf("collateral in = %s, want %s", receipt.CollateralIn, units(2000, 6))
	}
	// 10% buffer target.
	if receipt.ToBuffer.Cmp(units(200, 6)) != 0 {
		t.Errorf("to buffer = %s, want %s", receipt.ToBuffer, units(200, 6))
	}
	if receipt.ToVault.Cmp(units(1800, 6)) != 0 {
		t.Errorf("to vault = %s, want %s", receipt.ToVault, units(1800, 6))
	}

	if got := f.pair.Bear().BalanceOf(alice); got.Cmp(units(1000, 18)) != 0 {
		t.Errorf("bear balance = %s", got)
	}
	if got := f.pair.Bull().BalanceOf(alice); got.Cmp(units(1000, 18)) != 0 {
		t.Errorf("bull balance = %s", got)
	}
	if got := f.collateral.BalanceOf(EngineAddress); got.Cmp(units(200, 6)) != 0 {
		t.Errorf("buffer = %s, want %s", got, units(200, 6))
	}
	if got := f.collateral.BalanceOf(f.vault.addr); got.Cmp(units(1800, 6)) != 0 {
		t.Errorf("vault = %s, want %s", got, units(1800, 6))
	}
}

func TestEngine_MintCeilRounding(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	// 1 wei of pair still charges a full collateral unit.
	receipt, err := f.engine.Mint(ctx, alice, big.NewInt(1))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if receipt.CollateralIn.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("collateral in = %s, want 1", receipt.CollateralIn)
	}
}

func TestEngine_MintRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("zero amount", func(t *testing.T) {
		f := newFixture(t, testConfig())
		_, err := f.engine.Mint(ctx, alice, big.NewInt(0))
		wantCode(t, err, apperror.CodeZeroAmount)
	})

	t.Run("nil amount", func(t *testing.T) {
		f := newFixture(t, testConfig())
		_, err := f.engine.Mint(ctx, alice, nil)
		wantCode(t, err, apperror.CodeInvalidAmount)
	})

	t.Run("paused", func(t *testing.T) {
		f := newFixture(t, testConfig())
		if err := f.engine.Pause(ctx, operator); err != nil {
			t.Fatalf("pause: %v", err)
		}
		_, err := f.engine.Mint(ctx, alice, units(1, 18))
		wantCode(t, err, apperror.CodePaused)
	})

	t.Run("liquidated", func(t *testing.T) {
		f := newFixture(t, testConfig())
		liquidate(t, f)
		_, err := f.engine.Mint(ctx, alice, units(1, 18))
		wantCode(t, err, apperror.CodeLiquidationActive)
	})

	t.Run("oracle unavailable", func(t *testing.T) {
		f := newFixture(t, testConfig())
		f.prices.err = apperror.New(apperror.CodeStalePrice)

		_, err := f.engine.Mint(ctx, alice, units(1, 18))
		wantCode(t, err, apperror.CodeStalePrice)

		// No exposure opens without a live price.
		if f.pair.BearSupply().Sign() != 0 {
			t.Error("bear supply changed on failed mint")
		}
		if got := f.collateral.BalanceOf(alice); got.Cmp(units(1_000_000, 6)) != 0 {
			t.Errorf("alice balance changed: %s", got)
		}
	})

	t.Run("vault deposit fails", func(t *testing.T) {
		f := newFixture(t, testConfig())
		f.vault.depositErr = apperror.New(apperror.CodeVaultUnavailable)

		_, err := f.engine.Mint(ctx, alice, units(1000, 18))
		wantCode(t, err, apperror.CodeVaultUnavailable)

		// Atomic failure: the whole mint unwinds.
		if f.pair.BearSupply().Sign() != 0 {
			t.Error("bear supply changed on failed mint")
		}
		if got := f.collateral.BalanceOf(EngineAddress); got.Sign() != 0 {
			t.Errorf("buffer holds %s after failed mint", got)
		}
		if got := f.collateral.BalanceOf(alice); got.Cmp(units(1_000_000, 6)) != 0 {
			t.Errorf("alice balance changed: %s", got)
		}
	})

	t.Run("collateral short by one unit", func(t *testing.T) {
		f := newFixture(t, testConfig())
		// Alice holds 1,000,000 USDC; minting 500,000 pairs + 1 wei
		// needs 1,000,000 USDC + 1 unit.
		amount := new(big.Int).Add(units(500_000, 18), big.NewInt(1))
		_, err := f.engine.Mint(ctx, alice, amount)
		wantCode(t, err, apperror.CodeInsufficientBalance)

		// Atomic failure: no supply, no collateral moved.
		if f.pair.BearSupply().Sign() != 0 {
			t.Error("bear supply changed on failed mint")
		}
		if got := f.collateral.BalanceOf(alice); got.Cmp(units(1_000_000, 6)) != 0 {
			t.Errorf("alice balance changed: %s", got)
		}
	})
}

func TestEngine_BurnHappyPath(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if _, err := f.engine.Mint(ctx, alice, units(1000, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	before := f.collateral.BalanceOf(alice)

	receipt, err := f.engine.Burn(ctx, alice, units(500, 18))
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if receipt.Payout.Cmp(units(1000, 6)) != 0 {
		t.Errorf("payout = %s, want %s", receipt.Payout, units(1000, 6))
	}

	after := f.collateral.BalanceOf(alice)
	if diff := new(big.Int).Sub(after, before); diff.Cmp(units(1000, 6)) != 0 {
		t.Errorf("alice received %s, want %s", diff, units(1000, 6))
	}
	if got := f.pair.BearSupply(); got.Cmp(units(500, 18)) != 0 {
		t.Errorf("bear supply = %s, want %s", got, units(500, 18))
	}
	if got := f.pair.BullSupply(); got.Cmp(units(500, 18)) != 0 {
		t.Errorf("bull supply = %s, want %s", got, units(500, 18))
	}
}

func TestEngine_BurnDrainsBufferThenVault(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if _, err := f.engine.Mint(ctx, alice, units(1000, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Buffer holds 200, vault 1800. A 1000 payout drains the buffer and
	// pulls 800 from the vault, plus a 0.1% margin against share rounding
	// that stays behind in the buffer.
	if _, err := f.engine.Burn(ctx, alice, units(500, 18)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	pad := big.NewInt(800_000) // 0.8 USDC
	if got := f.collateral.BalanceOf(EngineAddress); got.Cmp(pad) != 0 {
		t.Errorf("buffer = %s, want %s", got, pad)
	}
	wantVault := new(big.Int).Sub(units(1000, 6), pad)
	if got := f.collateral.BalanceOf(f.vault.addr); got.Cmp(wantVault) != 0 {
		t.Errorf("vault = %s, want %s", got, wantVault)
	}
}

func TestEngine_BurnFloorsToZeroPayout(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if _, err := f.engine.Mint(ctx, alice, units(1, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	before := f.collateral.BalanceOf(alice)

	// A dust burn destroys tokens but pays out nothing.
	receipt, err := f.engine.Burn(ctx, alice, big.NewInt(1))
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if receipt.Payout.Sign() != 0 {
		t.Errorf("payout = %s, want 0", receipt.Payout)
	}
	if got := f.collateral.BalanceOf(alice); got.Cmp(before) != 0 {
		t.Errorf("alice balance changed: %s", got)
	}
}

func TestEngine_BurnVaultIlliquid(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if _, err := f.engine.Mint(ctx, alice, units(1000, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Vault can only free 100 USDC; a 1000 payout needs 800 from it.
	f.vault.liquidityCap = units(100, 6)

	_, err := f.engine.Burn(ctx, alice, units(500, 18))
	wantCode(t, err, apperror.CodeInsufficientLiquidity)

	// Atomic failure: supplies and balances untouched.
	if got := f.pair.BearSupply(); got.Cmp(units(1000, 18)) != 0 {
		t.Errorf("bear supply = %s", got)
	}
	if got := f.collateral.BalanceOf(EngineAddress); got.Cmp(units(200, 6)) != 0 {
		t.Errorf("buffer = %s", got)
	}
}

func TestEngine_BurnWhilePaused(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if _, err := f.engine.Mint(ctx, alice, units(1000, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.engine.Pause(ctx, operator); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// Solvent: burns stay open while paused.
	if _, err := f.engine.Burn(ctx, alice, units(100, 18)); err != nil {
		t.Fatalf("burn while paused: %v", err)
	}

	// Make the engine insolvent by pulling assets out of the vault.
	if err := f.collateral.Transfer(f.vault.addr, bob, units(500, 6)); err != nil {
		t.Fatalf("drain vault: %v", err)
	}
	_, err := f.engine.Burn(ctx, alice, units(100, 18))
	wantCode(t, err, apperror.CodePausedInsolvent)
}

func liquidate(t *testing.T, f *fixture) {
	t.Helper()
	price := asset.NewPriceNow(asset.BEAR, asset.USDC, decimal.NewFromFloat(2.00))
	if err := f.engine.TriggerLiquidation(context.Background(), price); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
}

func TestEngine_TriggerLiquidation(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	below := asset.NewPriceNow(asset.BEAR, asset.USDC, decimal.NewFromFloat(1.99))
	err := f.engine.TriggerLiquidation(ctx, below)
	wantCode(t, err, apperror.CodeCapNotBreached)

	at := asset.NewPriceNow(asset.BEAR, asset.USDC, decimal.NewFromFloat(2.00))
	if err := f.engine.TriggerLiquidation(ctx, at); err != nil {
		t.Fatalf("liquidate at cap: %v", err)
	}
	if !f.engine.IsLiquidated() {
		t.Fatal("expected liquidated")
	}

	// One-way.
	err = f.engine.TriggerLiquidation(ctx, at)
	wantCode(t, err, apperror.CodeAlreadyLiquidated)
	err = f.engine.Unpause(ctx, operator)
	wantCode(t, err, apperror.CodeAlreadyLiquidated)
}

func TestEngine_CheckLiquidation(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	fired, err := f.engine.CheckLiquidation(ctx)
	if err != nil || fired {
		t.Fatalf("below cap: fired=%v err=%v", fired, err)
	}

	f.prices.price = asset.NewPriceNow(asset.BEAR, asset.USDC, decimal.NewFromFloat(2.50))
	fired, err = f.engine.CheckLiquidation(ctx)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !fired {
		t.Fatal("expected liquidation to fire above cap")
	}

	// Second check is a no-op, not an error.
	fired, err = f.engine.CheckLiquidation(ctx)
	if err != nil || fired {
		t.Fatalf("after liquidation: fired=%v err=%v", fired, err)
	}
}

func TestEngine_EmergencyRedeem(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if _, err := f.engine.Mint(ctx, alice, units(1000, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	_, err := f.engine.EmergencyRedeem(ctx, alice, units(100, 18))
	wantCode(t, err, apperror.CodeNotLiquidated)

	liquidate(t, f)
	before := f.collateral.BalanceOf(alice)

	receipt, err := f.engine.EmergencyRedeem(ctx, alice, units(100, 18))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	// BEAR redeems at the cap: 100 tokens -> 200 USDC.
	if receipt.Payout.Cmp(units(200, 6)) != 0 {
		t.Errorf("payout = %s, want %s", receipt.Payout, units(200, 6))
	}
	diff := new(big.Int).Sub(f.collateral.BalanceOf(alice), before)
	if diff.Cmp(units(200, 6)) != 0 {
		t.Errorf("alice received %s", diff)
	}

	// BEAR supply drops, BULL is untouched.
	if got := f.pair.BearSupply(); got.Cmp(units(900, 18)) != 0 {
		t.Errorf("bear supply = %s", got)
	}
	if got := f.pair.BullSupply(); got.Cmp(units(1000, 18)) != 0 {
		t.Errorf("bull supply = %s", got)
	}

	// A matched pair still redeems at the cap after liquidation.
	burnReceipt, err := f.engine.Burn(ctx, alice, units(100, 18))
	if err != nil {
		t.Fatalf("matched burn after liquidation: %v", err)
	}
	if burnReceipt.Payout.Cmp(units(200, 6)) != 0 {
		t.Errorf("burn payout = %s, want %s", burnReceipt.Payout, units(200, 6))
	}
	if got := f.pair.BearSupply(); got.Cmp(units(800, 18)) != 0 {
		t.Errorf("bear supply = %s", got)
	}
	if got := f.pair.BullSupply(); got.Cmp(units(900, 18)) != 0 {
		t.Errorf("bull supply = %s", got)
	}
}

func TestEngine_BurnAfterLiquidation(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if _, err := f.engine.Mint(ctx, alice, units(1000, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	liquidate(t, f)
	before := f.collateral.BalanceOf(alice)

	receipt, err := f.engine.Burn(ctx, alice, units(250, 18))
	if err != nil {
		t.Fatalf("burn after liquidation: %v", err)
	}
	// A matched pair is always worth the cap: 250 pairs -> 500 USDC.
	if receipt.Payout.Cmp(units(500, 6)) != 0 {
		t.Errorf("payout = %s, want %s", receipt.Payout, units(500, 6))
	}
	diff := new(big.Int).Sub(f.collateral.BalanceOf(alice), before)
	if diff.Cmp(units(500, 6)) != 0 {
		t.Errorf("alice received %s", diff)
	}

	// The books tally matched burns against the frozen supply snapshot.
	if got := f.engine.Books().PairBurned(); got.Cmp(units(250, 18)) != 0 {
		t.Errorf("pair burned tally = %s, want %s", got, units(250, 18))
	}
	reconstructed := new(big.Int).Add(f.pair.BearSupply(), f.engine.Books().BearRedeemed())
	reconstructed.Add(reconstructed, f.engine.Books().PairBurned())
	if got := f.engine.Books().PairSupplyAtLiquidation(); got.Cmp(reconstructed) != 0 {
		t.Errorf("snapshot = %s, reconstructed = %s", got, reconstructed)
	}
}

func TestEngine_Harvest(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if _, err := f.engine.Mint(ctx, alice, units(1000, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	_, err := f.engine.HarvestYield(ctx, bob)
	wantCode(t, err, apperror.CodeNoSurplus)

	// 100 USDC of yield accrues in the vault.
	f.vault.accrue(t, units(100, 6))

	receipt, err := f.engine.HarvestYield(ctx, bob)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if receipt.Surplus.Cmp(units(100, 6)) != 0 {
		t.Errorf("surplus = %s, want %s", receipt.Surplus, units(100, 6))
	}
	// 50 bps caller reward = 0.5 USDC; remainder split 50/50.
	wantReward := big.NewInt(500_000)
	if receipt.CallerReward.Cmp(wantReward) != 0 {
		t.Errorf("caller reward = %s, want %s", receipt.CallerReward, wantReward)
	}
	rest := new(big.Int).Sub(receipt.Surplus, wantReward)
	wantTreasury := new(big.Int).Quo(rest, big.NewInt(2))
	if receipt.ToTreasury.Cmp(wantTreasury) != 0 {
		t.Errorf("treasury = %s, want %s", receipt.ToTreasury, wantTreasury)
	}
	sum := new(big.Int).Add(receipt.CallerReward, receipt.ToTreasury)
	sum.Add(sum, receipt.ToStaking)
	if sum.Cmp(receipt.Surplus) != 0 {
		t.Errorf("splits sum to %s, surplus %s", sum, receipt.Surplus)
	}
	if got := f.collateral.BalanceOf(treasury); got.Cmp(receipt.ToTreasury) != 0 {
		t.Errorf("treasury balance = %s", got)
	}

	// Cooldown blocks an immediate second harvest.
	f.vault.accrue(t, units(100, 6))
	_, err = f.engine.HarvestYield(ctx, bob)
	wantCode(t, err, apperror.CodeHarvestCooldown)

	// After the cooldown, surplus below the minimum is rejected.
	f.engine.SetNowFunc(func() time.Time { return time.Now().Add(2 * time.Hour) })
	if _, err := f.engine.HarvestYield(ctx, bob); err != nil {
		t.Fatalf("harvest after cooldown: %v", err)
	}
	f.engine.SetNowFunc(func() time.Time { return time.Now().Add(5 * time.Hour) })
	f.vault.accrue(t, big.NewInt(100)) // 0.0001 USDC
	_, err = f.engine.HarvestYield(ctx, bob)
	wantCode(t, err, apperror.CodeHarvestBelowMinimum)
}

func TestEngine_HarvestRevaluesAfterWithdrawal(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if _, err := f.engine.Mint(ctx, alice, units(1000, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Buffer 200, vault 1800 + 300 of yield: surplus 300 exceeds the
	// buffer, so the harvest has to pull from the vault. Exiting costs a
	// 150 USDC haircut, so only half the surplus survives realization.
	f.vault.accrue(t, units(300, 6))
	f.vault.withdrawHaircut = units(150, 6)

	receipt, err := f.engine.HarvestYield(ctx, bob)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if receipt.Surplus.Cmp(units(150, 6)) != 0 {
		t.Errorf("surplus = %s, want %s", receipt.Surplus, units(150, 6))
	}
	sum := new(big.Int).Add(receipt.CallerReward, receipt.ToTreasury)
	sum.Add(sum, receipt.ToStaking)
	if sum.Cmp(receipt.Surplus) != 0 {
		t.Errorf("splits sum to %s, surplus %s", sum, receipt.Surplus)
	}

	// Paying out more than the realized surplus would have broken this.
	snap, err := f.engine.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.Solvent {
		t.Errorf("harvest left the engine insolvent: assets %s, liabilities %s",
			snap.TotalAssets, snap.Liabilities)
	}
	if snap.TotalAssets.Cmp(units(2000, 6)) != 0 {
		t.Errorf("total assets = %s, want %s", snap.TotalAssets, units(2000, 6))
	}
}

func TestEngine_BurnVaultShortfall(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if _, err := f.engine.Mint(ctx, alice, units(1000, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// The vault reports it can free exactly what the payout needs but
	// delivers one unit less.
	f.vault.liquidityCap = units(800, 6)
	f.vault.shortfallBy = big.NewInt(1)

	before := f.collateral.BalanceOf(alice)
	_, err := f.engine.Burn(ctx, alice, units(500, 18))
	wantCode(t, err, apperror.CodeVaultShortfall)

	// Supplies and the caller's balance are untouched.
	if got := f.pair.BearSupply(); got.Cmp(units(1000, 18)) != 0 {
		t.Errorf("bear supply = %s", got)
	}
	if got := f.collateral.BalanceOf(alice); got.Cmp(before) != 0 {
		t.Errorf("alice balance changed: %s", got)
	}
}

func TestEngine_AdapterMigration(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if _, err := f.engine.Mint(ctx, alice, units(1000, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	next := newTestVault("next", f.collateral)

	_, err := f.engine.ProposeAdapter(ctx, alice, next)
	wantCode(t, err, apperror.CodeUnauthorized)

	base := time.Now()
	f.engine.SetNowFunc(func() time.Time { return base })

	if _, err := f.engine.ProposeAdapter(ctx, operator, next); err != nil {
		t.Fatalf("propose: %v", err)
	}
	_, err = f.engine.ProposeAdapter(ctx, operator, next)
	wantCode(t, err, apperror.CodeProposalPending)

	// Finalizing before the delay fails.
	err = f.engine.FinalizeAdapter(ctx, operator)
	wantCode(t, err, apperror.CodeTimelockActive)

	// After 7 days the migration completes and funds move.
	f.engine.SetNowFunc(func() time.Time { return base.Add(7 * 24 * time.Hour) })
	if err := f.engine.FinalizeAdapter(ctx, operator); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if got := f.collateral.BalanceOf(f.vault.addr); got.Sign() != 0 {
		t.Errorf("old vault still holds %s", got)
	}
	if got := f.collateral.BalanceOf(next.addr); got.Sign() == 0 {
		t.Error("new vault received nothing")
	}

	// Total assets unchanged by the migration.
	snap, err := f.engine.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TotalAssets.Cmp(units(2000, 6)) != 0 {
		t.Errorf("total assets = %s, want %s", snap.TotalAssets, units(2000, 6))
	}
	if snap.AdapterName != "next" {
		t.Errorf("adapter = %s, want next", snap.AdapterName)
	}
}

func TestEngine_AdapterAssetMismatch(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	daiLedger := tokenDomain.NewLedger(asset.DAI, bank)
	wrong := newTestVault("dai", daiLedger)

	_, err := f.engine.ProposeAdapter(ctx, operator, wrong)
	wantCode(t, err, apperror.CodeAdapterAssetMismatch)
}

func TestEngine_ReentrancyRejected(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	var nested error
	f.vault.onDeposit = func() {
		_, nested = f.engine.Mint(ctx, bob, units(1, 18))
	}

	if _, err := f.engine.Mint(ctx, alice, units(10, 18)); err != nil {
		t.Fatalf("outer mint: %v", err)
	}
	wantCode(t, nested, apperror.CodeReentrantCall)
}

func TestEngine_NoValueCreation(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	supplyBefore := f.collateral.TotalSupply()

	for _, step := range []struct {
		actor common.Address
		mint  *big.Int
		burn  *big.Int
	}{
		{alice, units(1000, 18), units(300, 18)},
		{bob, units(250, 18), units(250, 18)},
		{alice, units(7, 18), units(707, 18)},
	} {
		if _, err := f.engine.Mint(ctx, step.actor, step.mint); err != nil {
			t.Fatalf("mint: %v", err)
		}
		if _, err := f.engine.Burn(ctx, step.actor, step.burn); err != nil {
			t.Fatalf("burn: %v", err)
		}
	}

	// Mint/burn only move collateral around, never create it.
	if got := f.collateral.TotalSupply(); got.Cmp(supplyBefore) != 0 {
		t.Errorf("collateral supply changed: %s -> %s", supplyBefore, got)
	}

	// And the engine stays solvent throughout.
	snap, err := f.engine.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.Solvent {
		t.Errorf("engine insolvent: assets %s, liabilities %s", snap.TotalAssets, snap.Liabilities)
	}
}

func TestEngine_Previews(t *testing.T) {
	f := newFixture(t, testConfig())

	in, err := f.engine.PreviewMint(units(1000, 18))
	if err != nil {
		t.Fatalf("preview mint: %v", err)
	}
	if in.Cmp(units(2000, 6)) != 0 {
		t.Errorf("preview mint = %s", in)
	}

	out, err := f.engine.PreviewBurn(units(500, 18))
	if err != nil {
		t.Fatalf("preview burn: %v", err)
	}
	if out.Cmp(units(1000, 6)) != 0 {
		t.Errorf("preview burn = %s", out)
	}

	if _, err := f.engine.PreviewMint(nil); err == nil {
		t.Error("nil preview should fail")
	}
}

func TestEngine_StatusDomainWiring(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if got := f.engine.Status(); got != domain.StatusActive {
		t.Errorf("status = %s, want ACTIVE", got)
	}
	if err := f.engine.Pause(ctx, alice); apperror.GetCode(err) != apperror.CodeUnauthorized {
		t.Errorf("pause by non-operator = %v", err)
	}
	if err := f.engine.Pause(ctx, operator); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := f.engine.Status(); got != domain.StatusPaused {
		t.Errorf("status = %s, want PAUSED", got)
	}
}

func TestEngine_OperatorSetters(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()
	newDest := tokenDomain.ModuleAddress("test:treasury2")

	if err := f.engine.SetTreasury(ctx, alice, newDest); apperror.GetCode(err) != apperror.CodeUnauthorized {
		t.Errorf("set treasury by non-operator = %v", err)
	}
	if err := f.engine.SetTreasury(ctx, operator, newDest); err != nil {
		t.Fatalf("set treasury: %v", err)
	}
	if err := f.engine.SetStakingReceiver(ctx, operator, newDest); err != nil {
		t.Fatalf("set staking receiver: %v", err)
	}

	if err := f.engine.SetBufferTarget(ctx, operator, 10_001); apperror.GetCode(err) != apperror.CodeInvalidAmount {
		t.Errorf("oversized buffer target = %v", err)
	}
	if err := f.engine.SetBufferTarget(ctx, operator, 10_000); err != nil {
		t.Fatalf("set buffer target: %v", err)
	}

	// With a 100% buffer target, a fresh mint leaves everything liquid.
	if _, err := f.engine.Mint(ctx, alice, units(100, 18)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := f.collateral.BalanceOf(EngineAddress); got.Cmp(units(200, 6)) != 0 {
		t.Errorf("buffer = %s, want %s", got, units(200, 6))
	}

	// Harvest after accrual pays the new treasury destination.
	f.vault.accrue(t, units(50, 6))
	receipt, err := f.engine.HarvestYield(ctx, bob)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if f.collateral.BalanceOf(newDest).Sign() <= 0 {
		t.Error("new destination received nothing")
	}
	if receipt.Surplus.Cmp(units(50, 6)) != 0 {
		t.Errorf("surplus = %s", receipt.Surplus)
	}
}
