// Package sim implements an in-memory yield vault over the collateral
// ledger. Yield is simulated as simple interest minted by the bank.
package sim

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	splitterApp "github.com/nkozak/capsplit/business/splitter/app"
	tokenDomain "github.com/nkozak/capsplit/business/token/domain"
	"github.com/nkozak/capsplit/business/vault/domain"
	"github.com/nkozak/capsplit/internal/apperror"
	"github.com/nkozak/capsplit/internal/asset"
	"github.com/nkozak/capsplit/internal/logger"
)

const meterName = "github.com/nkozak/capsplit/business/vault/infra/sim"

// Ensure Vault implements YieldVault.
var _ splitterApp.YieldVault = (*Vault)(nil)

// Config holds sim vault settings.
type Config struct {
	// APRBps is the simulated annual yield in basis points.
	APRBps uint32

	// LiquidityCap limits the amount withdrawable at once; nil means
	// unlimited. Models adapters with utilization-bound liquidity.
	LiquidityCap *big.Int

	// Minter is the ledger controller used to mint simulated yield.
	Minter common.Address
}

// vaultMetrics holds OTEL metric instruments.
type vaultMetrics struct {
	deposits    metric.Int64Counter
	withdrawals metric.Int64Counter
	yieldMinted metric.Int64Counter
}

// Vault holds engine collateral at its own ledger address and accrues
// yield lazily whenever it is read or moved.
type Vault struct {
	config Config
	ledger *tokenDomain.Ledger
	addr   common.Address
	logger logger.LoggerInterface

	mu          sync.Mutex
	lastAccrual time.Time
	now         func() time.Time

	metrics *vaultMetrics
}

// New creates a sim vault over the collateral ledger.
func New(cfg Config, ledger *tokenDomain.Ledger, log logger.LoggerInterface) (*Vault, error) {
	v := &Vault{
		config: cfg,
		ledger: ledger,
		addr:   tokenDomain.ModuleAddress("vault:sim"),
		logger: log,
		now:    time.Now,
	}
	v.lastAccrual = v.now()
	if err := v.initMetrics(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Vault) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	v.metrics = &vaultMetrics{}

	v.metrics.deposits, err = meter.Int64Counter(
		"vault_deposits_total",
		metric.WithDescription("Vault deposits"),
	)
	if err != nil {
		return err
	}

	v.metrics.withdrawals, err = meter.Int64Counter(
		"vault_withdrawals_total",
		metric.WithDescription("Vault withdrawals"),
	)
	if err != nil {
		return err
	}

	v.metrics.yieldMinted, err = meter.Int64Counter(
		"vault_sim_yield_units_total",
		metric.WithDescription("Simulated yield minted, in collateral base units"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Name identifies this adapter.
func (v *Vault) Name() string {
	return "sim"
}

// Collateral returns the asset the vault accepts.
func (v *Vault) Collateral() *asset.Asset {
	return v.ledger.Asset()
}

// Address returns the vault's ledger account.
func (v *Vault) Address() common.Address {
	return v.addr
}

// Deposit moves amount from the engine's buffer into the vault.
func (v *Vault) Deposit(ctx context.Context, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.accrueLocked(ctx)

	if err := v.ledger.Transfer(splitterApp.EngineAddress, v.addr, amount); err != nil {
		return apperror.New(apperror.CodeVaultUnavailable,
			apperror.WithCause(err),
			apperror.WithContext("sim deposit"))
	}
	v.metrics.deposits.Add(ctx, 1)
	return nil
}

// Withdraw pulls up to amount back to the engine's buffer.
func (v *Vault) Withdraw(ctx context.Context, amount *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.accrueLocked(ctx)

	w := v.maxWithdrawLocked()
	if w.Cmp(amount) > 0 {
		w = new(big.Int).Set(amount)
	}
	if w.Sign() <= 0 {
		return big.NewInt(0), nil
	}

	if err := v.ledger.Transfer(v.addr, splitterApp.EngineAddress, w); err != nil {
		return nil, apperror.New(apperror.CodeVaultUnavailable,
			apperror.WithCause(err),
			apperror.WithContext("sim withdraw"))
	}
	v.metrics.withdrawals.Add(ctx, 1)
	return w, nil
}

// MaxWithdraw returns the amount currently withdrawable.
func (v *Vault) MaxWithdraw(ctx context.Context) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.accrueLocked(ctx)
	return v.maxWithdrawLocked(), nil
}

// TotalAssets returns the engine's position including accrued yield.
func (v *Vault) TotalAssets(ctx context.Context) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.accrueLocked(ctx)
	return v.ledger.BalanceOf(v.addr), nil
}

// SetNowFunc overrides the vault clock. Test hook.
func (v *Vault) SetNowFunc(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
	v.lastAccrual = now()
}

func (v *Vault) maxWithdrawLocked() *big.Int {
	balance := v.ledger.BalanceOf(v.addr)
	if v.config.LiquidityCap != nil && balance.Cmp(v.config.LiquidityCap) > 0 {
		return new(big.Int).Set(v.config.LiquidityCap)
	}
	return balance
}

// accrueLocked mints yield for the time elapsed since the last accrual.
// Compounds on whatever cadence the vault gets poked.
func (v *Vault) accrueLocked(ctx context.Context) {
	now := v.now()
	elapsed := now.Sub(v.lastAccrual)
	if elapsed <= 0 {
		return
	}
	v.lastAccrual = now

	balance := v.ledger.BalanceOf(v.addr)
	yield := domain.AccruedYield(balance, v.config.APRBps, elapsed)
	if yield.Sign() <= 0 {
		return
	}

	if err := v.ledger.Mint(v.config.Minter, v.addr, yield); err != nil {
		v.logger.Warn(ctx, "failed to mint sim yield", "error", err)
		return
	}
	v.metrics.yieldMinted.Add(ctx, yield.Int64())
	v.logger.Debug(ctx, "sim yield accrued",
		"yield", yield,
		"elapsed", elapsed,
		"balance", v.ledger.BalanceOf(v.addr))
}
