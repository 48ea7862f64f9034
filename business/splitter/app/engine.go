package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nkozak/capsplit/business/splitter/domain"
	tokenApp "github.com/nkozak/capsplit/business/token/app"
	tokenDomain "github.com/nkozak/capsplit/business/token/domain"
	"github.com/nkozak/capsplit/internal/apperror"
	"github.com/nkozak/capsplit/internal/asset"
	"github.com/nkozak/capsplit/internal/logger"
)

const (
	tracerName = "github.com/nkozak/capsplit/business/splitter/app"
	meterName  = "github.com/nkozak/capsplit/business/splitter/app"

	bpsDenominator = 10_000

	// withdrawPadBps is the extra margin requested when draining the vault
	// to cover a payout, absorbing adapter share rounding.
	withdrawPadBps = 10
)

// EngineAddress is the ledger account holding the collateral buffer.
var EngineAddress = tokenDomain.ModuleAddress("engine")

// EngineConfig holds the immutable engine parameters.
type EngineConfig struct {
	Cap                *big.Int // fixed-point, asset.PricePrecision decimals
	TokenDecimals      uint8
	CollateralDecimals uint8

	// BufferTargetBps is the share of collateral kept liquid instead of
	// deposited into the yield vault.
	BufferTargetBps uint32

	Operator common.Address
	Treasury common.Address
	Staking  common.Address

	// SolvencyTolerance absorbs vault share rounding when checking
	// solvency, in raw collateral units.
	SolvencyTolerance *big.Int

	AdapterDelay          time.Duration
	AllowAfterLiquidation bool

	CallerRewardBps  uint32
	TreasurySplitBps uint32
	MinSurplus       *big.Int
	HarvestCooldown  time.Duration
}

// MintReceipt describes a completed mint.
type MintReceipt struct {
	TokenAmount  *big.Int
	CollateralIn *big.Int
	ToBuffer     *big.Int
	ToVault      *big.Int
}

// BurnReceipt describes a completed burn or emergency redemption.
type BurnReceipt struct {
	TokenAmount *big.Int
	Payout      *big.Int
}

// HarvestReceipt describes a completed surplus harvest.
type HarvestReceipt struct {
	Surplus      *big.Int
	CallerReward *big.Int
	ToTreasury   *big.Int
	ToStaking    *big.Int
}

// EngineSnapshot is a point-in-time view of the engine for reporters.
type EngineSnapshot struct {
	Status          string
	BearSupply      *big.Int
	BullSupply      *big.Int
	Buffer          *big.Int
	VaultAssets     *big.Int
	TotalAssets     *big.Int
	Liabilities     *big.Int
	Surplus         *big.Int
	Solvent         bool
	AdapterName     string
	PendingAdapter  string
	PendingActiveAt time.Time
	LiquidatedAt    time.Time
	LiquidationRate *big.Int
}

// engineMetrics holds OTEL metric instruments.
type engineMetrics struct {
	mints        metric.Int64Counter
	burns        metric.Int64Counter
	redemptions  metric.Int64Counter
	harvests     metric.Int64Counter
	liquidations metric.Int64Counter
	opErrors     metric.Int64Counter
	totalAssets  metric.Float64Gauge
	surplus      metric.Float64Gauge
}

// Engine is the splitter's application service. It owns the lifecycle
// books, the matched token pair, the collateral buffer (its account on the
// collateral ledger) and the active yield vault.
//
// Mutating operations are guarded by a single-flight flag: any call that
// arrives while another is in progress is rejected, mirroring a reentrancy
// guard. Reads take a shared lock for a consistent view.
type Engine struct {
	config EngineConfig
	math   *domain.CapMath
	books  *domain.Books
	clock  *domain.MigrationClock

	pair       *tokenApp.Pair
	collateral *tokenDomain.Ledger
	vault      YieldVault
	pending    YieldVault
	prices     PriceSource

	mu          sync.RWMutex
	busy        atomic.Bool
	lastHarvest time.Time
	now         func() time.Time

	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *engineMetrics
}

// NewEngine creates the engine over its collaborators. The collateral
// ledger must track the same asset the vault accepts.
func NewEngine(
	cfg EngineConfig,
	pair *tokenApp.Pair,
	collateral *tokenDomain.Ledger,
	vault YieldVault,
	prices PriceSource,
	log logger.LoggerInterface,
) (*Engine, error) {
	math, err := domain.NewCapMath(cfg.Cap, cfg.TokenDecimals, cfg.CollateralDecimals)
	if err != nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithCause(err),
			apperror.WithContext("invalid cap configuration"))
	}
	if cfg.BufferTargetBps > bpsDenominator {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext(fmt.Sprintf("buffer target %d bps exceeds %d", cfg.BufferTargetBps, bpsDenominator)))
	}
	if cfg.CallerRewardBps > bpsDenominator || cfg.TreasurySplitBps > bpsDenominator {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("harvest split exceeds 10000 bps"))
	}
	if vault != nil && !vault.Collateral().ID().Equals(collateral.Asset().ID()) {
		return nil, apperror.New(apperror.CodeAdapterAssetMismatch,
			apperror.WithContext(fmt.Sprintf("vault accepts %s, ledger tracks %s",
				vault.Collateral().Symbol(), collateral.Asset().Symbol())))
	}

	e := &Engine{
		config:     cfg,
		math:       math,
		books:      domain.NewBooks(math),
		clock:      domain.NewMigrationClock(cfg.AdapterDelay),
		pair:       pair,
		collateral: collateral,
		vault:      vault,
		prices:     prices,
		now:        time.Now,
		logger:     log,
		tracer:     otel.Tracer(tracerName),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *Engine) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	e.metrics = &engineMetrics{}

	e.metrics.mints, err = meter.Int64Counter(
		"splitter_mints_total",
		metric.WithDescription("Total completed mints"),
		metric.WithUnit("{mint}"),
	)
	if err != nil {
		return err
	}

	e.metrics.burns, err = meter.Int64Counter(
		"splitter_burns_total",
		metric.WithDescription("Total completed burns"),
		metric.WithUnit("{burn}"),
	)
	if err != nil {
		return err
	}

	e.metrics.redemptions, err = meter.Int64Counter(
		"splitter_emergency_redemptions_total",
		metric.WithDescription("Total post-liquidation BEAR redemptions"),
		metric.WithUnit("{redemption}"),
	)
	if err != nil {
		return err
	}

	e.metrics.harvests, err = meter.Int64Counter(
		"splitter_harvests_total",
		metric.WithDescription("Total surplus harvests"),
		metric.WithUnit("{harvest}"),
	)
	if err != nil {
		return err
	}

	e.metrics.liquidations, err = meter.Int64Counter(
		"splitter_liquidations_total",
		metric.WithDescription("Liquidation triggers (at most one)"),
		metric.WithUnit("{liquidation}"),
	)
	if err != nil {
		return err
	}

	e.metrics.opErrors, err = meter.Int64Counter(
		"splitter_operation_errors_total",
		metric.WithDescription("Failed engine operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	e.metrics.totalAssets, err = meter.Float64Gauge(
		"splitter_total_assets",
		metric.WithDescription("Buffer plus vault assets in raw collateral units"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return err
	}

	e.metrics.surplus, err = meter.Float64Gauge(
		"splitter_surplus",
		metric.WithDescription("Assets above liabilities in raw collateral units"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// begin acquires the single-flight guard, rejecting overlapping calls.
func (e *Engine) begin(op string) error {
	if !e.busy.CompareAndSwap(false, true) {
		return apperror.New(apperror.CodeReentrantCall,
			apperror.WithContext(op))
	}
	e.mu.Lock()
	return nil
}

func (e *Engine) end() {
	e.mu.Unlock()
	e.busy.Store(false)
}

// Mint locks collateral and mints the matched BEAR/BULL pair. The
// collateral charge rounds up; a slice of it stays in the liquid buffer and
// the remainder is deposited into the yield vault.
func (e *Engine) Mint(ctx context.Context, caller common.Address, tokenAmount *big.Int) (*MintReceipt, error) {
	ctx, span := e.tracer.Start(ctx, "splitter.mint",
		trace.WithAttributes(attribute.String("caller", caller.Hex())),
	)
	defer span.End()

	if err := e.begin("mint"); err != nil {
		return nil, e.fail(ctx, span, "mint", err)
	}
	defer e.end()

	if err := validateAmount(tokenAmount); err != nil {
		return nil, e.fail(ctx, span, "mint", err)
	}
	if err := e.requireActive(); err != nil {
		return nil, e.fail(ctx, span, "mint", err)
	}
	// New exposure needs a live price: a stale or unreachable oracle could
	// mask a cap breach that should have liquidated first.
	if e.prices != nil {
		if _, err := e.prices.Latest(ctx); err != nil {
			return nil, e.fail(ctx, span, "mint", err)
		}
	}

	collateralIn := e.math.CollateralIn(tokenAmount)
	toBuffer := bpsShare(collateralIn, e.config.BufferTargetBps)
	toVault := new(big.Int).Sub(collateralIn, toBuffer)

	if err := e.collateral.Transfer(caller, EngineAddress, collateralIn); err != nil {
		return nil, e.fail(ctx, span, "mint", mapLedgerError(err))
	}
	if err := e.pair.MintMatched(caller, tokenAmount); err != nil {
		// Refund; the transfer above is the only prior effect.
		_ = e.collateral.Transfer(EngineAddress, caller, collateralIn)
		return nil, e.fail(ctx, span, "mint", mapLedgerError(err))
	}

	if toVault.Sign() > 0 && e.vault != nil {
		if err := e.vault.Deposit(ctx, toVault); err != nil {
			// Unwind the mint entirely; a position must not open while the
			// adapter is refusing funds.
			_ = e.pair.BurnMatched(caller, tokenAmount)
			_ = e.collateral.Transfer(EngineAddress, caller, collateralIn)
			return nil, e.fail(ctx, span, "mint", apperror.Wrap(err, apperror.CodeVaultUnavailable, "vault deposit"))
		}
	}

	e.metrics.mints.Add(ctx, 1)
	e.recordGauges(ctx)
	e.logger.Info(ctx, "minted matched pair",
		"caller", caller.Hex(),
		"tokens", tokenAmount,
		"collateral_in", collateralIn,
		"to_buffer", toBuffer,
		"to_vault", toVault)
	span.SetStatus(codes.Ok, "minted")

	return &MintReceipt{
		TokenAmount:  new(big.Int).Set(tokenAmount),
		CollateralIn: collateralIn,
		ToBuffer:     toBuffer,
		ToVault:      toVault,
	}, nil
}

// Burn destroys a matched pair and pays out collateral, rounding down.
// Allowed while active, and while paused only if the engine is solvent.
// A matched pair stays redeemable at the cap even after liquidation; the
// books tally those burns against the frozen supply snapshot.
func (e *Engine) Burn(ctx context.Context, caller common.Address, tokenAmount *big.Int) (*BurnReceipt, error) {
	ctx, span := e.tracer.Start(ctx, "splitter.burn",
		trace.WithAttributes(attribute.String("caller", caller.Hex())),
	)
	defer span.End()

	if err := e.begin("burn"); err != nil {
		return nil, e.fail(ctx, span, "burn", err)
	}
	defer e.end()

	if err := validateAmount(tokenAmount); err != nil {
		return nil, e.fail(ctx, span, "burn", err)
	}
	if e.books.Status() == domain.StatusPaused {
		solvent, err := e.solventLocked(ctx)
		if err != nil {
			return nil, e.fail(ctx, span, "burn", err)
		}
		if !solvent {
			return nil, e.fail(ctx, span, "burn", apperror.New(apperror.CodePausedInsolvent))
		}
	}
	if !e.pair.HasMatchedBalance(caller, tokenAmount) {
		return nil, e.fail(ctx, span, "burn", apperror.New(apperror.CodeInsufficientBalance,
			apperror.WithContext("matched BEAR and BULL balance required")))
	}

	payout := e.math.PayoutOut(tokenAmount)
	if err := e.ensureBuffer(ctx, payout); err != nil {
		return nil, e.fail(ctx, span, "burn", err)
	}
	if err := e.pair.BurnMatched(caller, tokenAmount); err != nil {
		return nil, e.fail(ctx, span, "burn", mapLedgerError(err))
	}
	if payout.Sign() > 0 {
		if err := e.collateral.Transfer(EngineAddress, caller, payout); err != nil {
			// Buffer was pre-funded; re-mint to undo the burn.
			_ = e.pair.MintMatched(caller, tokenAmount)
			return nil, e.fail(ctx, span, "burn", mapLedgerError(err))
		}
	}
	if e.books.IsLiquidated() {
		_ = e.books.RecordPairBurn(tokenAmount)
	}

	e.metrics.burns.Add(ctx, 1)
	e.recordGauges(ctx)
	e.logger.Info(ctx, "burned matched pair",
		"caller", caller.Hex(),
		"tokens", tokenAmount,
		"payout", payout)
	span.SetStatus(codes.Ok, "burned")

	return &BurnReceipt{
		TokenAmount: new(big.Int).Set(tokenAmount),
		Payout:      payout,
	}, nil
}

// CheckLiquidation fetches the latest price and triggers liquidation when
// it has reached the cap. Returns true when liquidation fired. Used by the
// price watcher; anyone may call it.
func (e *Engine) CheckLiquidation(ctx context.Context) (bool, error) {
	price, err := e.prices.Latest(ctx)
	if err != nil {
		return false, err
	}
	if price.Cmp(e.math.Cap()) < 0 {
		return false, nil
	}
	if err := e.TriggerLiquidation(ctx, price); err != nil {
		if apperror.GetCode(err) == apperror.CodeAlreadyLiquidated {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// TriggerLiquidation moves the engine into its terminal LIQUIDATED state.
// The price must have reached the cap; the transition is one-way.
func (e *Engine) TriggerLiquidation(ctx context.Context, price asset.Price) error {
	ctx, span := e.tracer.Start(ctx, "splitter.trigger_liquidation",
		trace.WithAttributes(attribute.String("price", price.String())),
	)
	defer span.End()

	if err := e.begin("trigger_liquidation"); err != nil {
		return e.fail(ctx, span, "trigger_liquidation", err)
	}
	defer e.end()

	if e.books.IsLiquidated() {
		return e.fail(ctx, span, "trigger_liquidation", apperror.New(apperror.CodeAlreadyLiquidated))
	}
	if price.IsZero() {
		return e.fail(ctx, span, "trigger_liquidation", apperror.New(apperror.CodeInvalidPrice))
	}
	if price.Cmp(e.math.Cap()) < 0 {
		return e.fail(ctx, span, "trigger_liquidation", apperror.New(apperror.CodeCapNotBreached,
			apperror.WithContext(fmt.Sprintf("price %s below cap %s", price.RateRaw(), e.math.Cap()))))
	}

	if err := e.books.RecordLiquidation(price.RateRaw(), e.pair.BearSupply(), e.now()); err != nil {
		return e.fail(ctx, span, "trigger_liquidation", apperror.Wrap(err, apperror.CodeInvalidState, "record liquidation"))
	}

	e.metrics.liquidations.Add(ctx, 1)
	e.logger.Warn(ctx, "liquidation triggered",
		"price", price.String(),
		"cap", e.math.Cap(),
		"pair_supply", e.books.PairSupplyAtLiquidation())
	span.SetStatus(codes.Ok, "liquidated")

	return nil
}

// EmergencyRedeem burns BEAR only and pays out at the cap. Available only
// after liquidation; BULL is left as a worthless residual.
func (e *Engine) EmergencyRedeem(ctx context.Context, caller common.Address, bearAmount *big.Int) (*BurnReceipt, error) {
	ctx, span := e.tracer.Start(ctx, "splitter.emergency_redeem",
		trace.WithAttributes(attribute.String("caller", caller.Hex())),
	)
	defer span.End()

	if err := e.begin("emergency_redeem"); err != nil {
		return nil, e.fail(ctx, span, "emergency_redeem", err)
	}
	defer e.end()

	if err := validateAmount(bearAmount); err != nil {
		return nil, e.fail(ctx, span, "emergency_redeem", err)
	}
	if !e.books.IsLiquidated() {
		return nil, e.fail(ctx, span, "emergency_redeem", apperror.New(apperror.CodeNotLiquidated))
	}

	payout := e.math.PayoutOut(bearAmount)
	if err := e.ensureBuffer(ctx, payout); err != nil {
		return nil, e.fail(ctx, span, "emergency_redeem", err)
	}
	if err := e.pair.BurnBear(caller, bearAmount); err != nil {
		return nil, e.fail(ctx, span, "emergency_redeem", mapLedgerError(err))
	}
	if err := e.books.RecordBearRedemption(bearAmount); err != nil {
		return nil, e.fail(ctx, span, "emergency_redeem", apperror.Wrap(err, apperror.CodeInvalidState, "record redemption"))
	}
	if payout.Sign() > 0 {
		if err := e.collateral.Transfer(EngineAddress, caller, payout); err != nil {
			return nil, e.fail(ctx, span, "emergency_redeem", mapLedgerError(err))
		}
	}

	e.metrics.redemptions.Add(ctx, 1)
	e.recordGauges(ctx)
	e.logger.Info(ctx, "emergency redemption",
		"caller", caller.Hex(),
		"bear", bearAmount,
		"payout", payout)
	span.SetStatus(codes.Ok, "redeemed")

	return &BurnReceipt{
		TokenAmount: new(big.Int).Set(bearAmount),
		Payout:      payout,
	}, nil
}

// ProposeAdapter starts the timelocked migration to a new yield vault.
// Operator only.
func (e *Engine) ProposeAdapter(ctx context.Context, caller common.Address, adapter YieldVault) (*domain.AdapterProposal, error) {
	ctx, span := e.tracer.Start(ctx, "splitter.propose_adapter",
		trace.WithAttributes(attribute.String("adapter", adapter.Name())),
	)
	defer span.End()

	if err := e.begin("propose_adapter"); err != nil {
		return nil, e.fail(ctx, span, "propose_adapter", err)
	}
	defer e.end()

	if caller != e.config.Operator {
		return nil, e.fail(ctx, span, "propose_adapter", apperror.New(apperror.CodeUnauthorized,
			apperror.WithContext("operator only")))
	}
	if e.books.IsLiquidated() && !e.config.AllowAfterLiquidation {
		return nil, e.fail(ctx, span, "propose_adapter", apperror.New(apperror.CodeLiquidationActive))
	}
	if !adapter.Collateral().ID().Equals(e.collateral.Asset().ID()) {
		return nil, e.fail(ctx, span, "propose_adapter", apperror.New(apperror.CodeAdapterAssetMismatch,
			apperror.WithContext(fmt.Sprintf("adapter accepts %s", adapter.Collateral().Symbol()))))
	}

	proposal, err := e.clock.Propose(adapter.Name(), e.now())
	if err != nil {
		return nil, e.fail(ctx, span, "propose_adapter", mapMigrationError(err))
	}
	e.pending = adapter

	e.logger.Info(ctx, "adapter migration proposed",
		"adapter", adapter.Name(),
		"activatable_at", proposal.ActivatableAt)
	span.SetStatus(codes.Ok, "proposed")

	return proposal, nil
}

// CancelAdapter drops the pending migration. Operator only.
func (e *Engine) CancelAdapter(ctx context.Context, caller common.Address) error {
	if err := e.begin("cancel_adapter"); err != nil {
		return err
	}
	defer e.end()

	if caller != e.config.Operator {
		return apperror.New(apperror.CodeUnauthorized, apperror.WithContext("operator only"))
	}
	if p := e.clock.Cancel(); p != nil {
		e.pending = nil
		e.logger.Info(ctx, "adapter migration cancelled", "adapter", p.AdapterName)
	}
	return nil
}

// FinalizeAdapter completes the migration once the timelock has elapsed:
// the old vault is fully drained into the buffer, the new adapter becomes
// active, and the buffer above target is re-deposited. Operator only.
func (e *Engine) FinalizeAdapter(ctx context.Context, caller common.Address) error {
	ctx, span := e.tracer.Start(ctx, "splitter.finalize_adapter")
	defer span.End()

	if err := e.begin("finalize_adapter"); err != nil {
		return e.fail(ctx, span, "finalize_adapter", err)
	}
	defer e.end()

	if caller != e.config.Operator {
		return e.fail(ctx, span, "finalize_adapter", apperror.New(apperror.CodeUnauthorized,
			apperror.WithContext("operator only")))
	}
	if e.books.IsLiquidated() && !e.config.AllowAfterLiquidation {
		return e.fail(ctx, span, "finalize_adapter", apperror.New(apperror.CodeLiquidationActive))
	}

	proposal, err := e.clock.Finalize(e.now())
	if err != nil {
		return e.fail(ctx, span, "finalize_adapter", mapMigrationError(err))
	}

	// Drain the old vault completely.
	if e.vault != nil {
		max, err := e.vault.MaxWithdraw(ctx)
		if err != nil {
			e.clock.Cancel()
			_, _ = e.clock.Propose(proposal.AdapterName, proposal.ProposedAt)
			return e.fail(ctx, span, "finalize_adapter", apperror.Wrap(err, apperror.CodeVaultUnavailable, "max withdraw"))
		}
		if max.Sign() > 0 {
			if _, err := e.vault.Withdraw(ctx, max); err != nil {
				e.clock.Cancel()
				_, _ = e.clock.Propose(proposal.AdapterName, proposal.ProposedAt)
				return e.fail(ctx, span, "finalize_adapter", apperror.Wrap(err, apperror.CodeVaultUnavailable, "drain old vault"))
			}
		}
	}

	old := ""
	if e.vault != nil {
		old = e.vault.Name()
	}
	e.vault = e.pending
	e.pending = nil

	// Re-deposit everything above the buffer target.
	buffer := e.collateral.BalanceOf(EngineAddress)
	target := bpsShare(buffer, e.config.BufferTargetBps)
	excess := new(big.Int).Sub(buffer, target)
	if excess.Sign() > 0 && e.vault != nil {
		if err := e.vault.Deposit(ctx, excess); err != nil {
			e.logger.Warn(ctx, "deposit into new adapter failed, funds stay in buffer",
				"amount", excess, "error", err)
			span.AddEvent("new_adapter_deposit_failed")
		}
	}

	e.recordGauges(ctx)
	e.logger.Info(ctx, "adapter migration finalized",
		"old", old,
		"new", e.vault.Name())
	span.SetStatus(codes.Ok, "finalized")

	return nil
}

// HarvestYield skims assets above liabilities. The caller earns a reward
// and the remainder is split between treasury and staking. Anyone may call.
func (e *Engine) HarvestYield(ctx context.Context, caller common.Address) (*HarvestReceipt, error) {
	ctx, span := e.tracer.Start(ctx, "splitter.harvest",
		trace.WithAttributes(attribute.String("caller", caller.Hex())),
	)
	defer span.End()

	if err := e.begin("harvest"); err != nil {
		return nil, e.fail(ctx, span, "harvest", err)
	}
	defer e.end()

	if e.books.IsLiquidated() && !e.config.AllowAfterLiquidation {
		return nil, e.fail(ctx, span, "harvest", apperror.New(apperror.CodeLiquidationActive))
	}
	if e.config.HarvestCooldown > 0 && !e.lastHarvest.IsZero() {
		if elapsed := e.now().Sub(e.lastHarvest); elapsed < e.config.HarvestCooldown {
			return nil, e.fail(ctx, span, "harvest", apperror.New(apperror.CodeHarvestCooldown,
				apperror.WithContext(fmt.Sprintf("%s remaining", (e.config.HarvestCooldown-elapsed).Round(time.Second)))))
		}
	}

	total, err := e.totalAssetsLocked(ctx)
	if err != nil {
		return nil, e.fail(ctx, span, "harvest", err)
	}
	surplus := e.books.Surplus(total, e.pair.BearSupply(), e.pair.BearSupply())
	if surplus.Sign() == 0 {
		return nil, e.fail(ctx, span, "harvest", apperror.New(apperror.CodeNoSurplus))
	}
	if e.config.MinSurplus != nil && surplus.Cmp(e.config.MinSurplus) < 0 {
		return nil, e.fail(ctx, span, "harvest", apperror.New(apperror.CodeHarvestBelowMinimum,
			apperror.WithContext(fmt.Sprintf("surplus %s below minimum %s", surplus, e.config.MinSurplus))))
	}

	if err := e.ensureBuffer(ctx, surplus); err != nil {
		return nil, e.fail(ctx, span, "harvest", err)
	}

	// Realizing the surplus may move the vault valuation (share rounding,
	// exit haircuts). Recompute from settled balances before paying out.
	total, err = e.totalAssetsLocked(ctx)
	if err != nil {
		return nil, e.fail(ctx, span, "harvest", err)
	}
	surplus = e.books.Surplus(total, e.pair.BearSupply(), e.pair.BearSupply())
	if surplus.Sign() == 0 {
		return nil, e.fail(ctx, span, "harvest", apperror.New(apperror.CodeNoSurplus))
	}
	if e.config.MinSurplus != nil && surplus.Cmp(e.config.MinSurplus) < 0 {
		return nil, e.fail(ctx, span, "harvest", apperror.New(apperror.CodeHarvestBelowMinimum,
			apperror.WithContext(fmt.Sprintf("surplus %s below minimum %s", surplus, e.config.MinSurplus))))
	}

	callerReward := bpsShare(surplus, e.config.CallerRewardBps)
	rest := new(big.Int).Sub(surplus, callerReward)
	toTreasury := bpsShare(rest, e.config.TreasurySplitBps)
	toStaking := new(big.Int).Sub(rest, toTreasury)

	for _, leg := range []struct {
		to     common.Address
		amount *big.Int
	}{
		{caller, callerReward},
		{e.config.Treasury, toTreasury},
		{e.config.Staking, toStaking},
	} {
		if leg.amount.Sign() == 0 {
			continue
		}
		if err := e.collateral.Transfer(EngineAddress, leg.to, leg.amount); err != nil {
			return nil, e.fail(ctx, span, "harvest", mapLedgerError(err))
		}
	}

	e.lastHarvest = e.now()
	e.metrics.harvests.Add(ctx, 1)
	e.recordGauges(ctx)
	e.logger.Info(ctx, "surplus harvested",
		"caller", caller.Hex(),
		"surplus", surplus,
		"caller_reward", callerReward,
		"treasury", toTreasury,
		"staking", toStaking)
	span.SetStatus(codes.Ok, "harvested")

	return &HarvestReceipt{
		Surplus:      surplus,
		CallerReward: callerReward,
		ToTreasury:   toTreasury,
		ToStaking:    toStaking,
	}, nil
}

// Pause blocks mints. Operator only.
func (e *Engine) Pause(ctx context.Context, caller common.Address) error {
	return e.setStatus(ctx, caller, domain.StatusPaused)
}

// Unpause re-enables mints. Operator only.
func (e *Engine) Unpause(ctx context.Context, caller common.Address) error {
	return e.setStatus(ctx, caller, domain.StatusActive)
}

func (e *Engine) setStatus(ctx context.Context, caller common.Address, next domain.Status) error {
	if err := e.begin("set_status"); err != nil {
		return err
	}
	defer e.end()

	if caller != e.config.Operator {
		return apperror.New(apperror.CodeUnauthorized, apperror.WithContext("operator only"))
	}
	if err := e.books.SetStatus(next); err != nil {
		if e.books.IsLiquidated() {
			return apperror.New(apperror.CodeAlreadyLiquidated)
		}
		return apperror.Wrap(err, apperror.CodeInvalidState, "status change")
	}
	e.logger.Info(ctx, "status changed", "status", next.String())
	return nil
}

// SetTreasury changes the treasury destination for harvests. Operator only.
func (e *Engine) SetTreasury(ctx context.Context, caller common.Address, treasury common.Address) error {
	if err := e.begin("set_treasury"); err != nil {
		return err
	}
	defer e.end()

	if caller != e.config.Operator {
		return apperror.New(apperror.CodeUnauthorized, apperror.WithContext("operator only"))
	}
	e.config.Treasury = treasury
	e.logger.Info(ctx, "treasury changed", "treasury", treasury.Hex())
	return nil
}

// SetStakingReceiver changes the staking destination for harvests.
// Operator only.
func (e *Engine) SetStakingReceiver(ctx context.Context, caller common.Address, staking common.Address) error {
	if err := e.begin("set_staking_receiver"); err != nil {
		return err
	}
	defer e.end()

	if caller != e.config.Operator {
		return apperror.New(apperror.CodeUnauthorized, apperror.WithContext("operator only"))
	}
	e.config.Staking = staking
	e.logger.Info(ctx, "staking receiver changed", "staking", staking.Hex())
	return nil
}

// SetBufferTarget changes the share of incoming collateral kept liquid.
// Applies to future mints only; existing positions are not rebalanced.
// Operator only.
func (e *Engine) SetBufferTarget(ctx context.Context, caller common.Address, bps uint32) error {
	if err := e.begin("set_buffer_target"); err != nil {
		return err
	}
	defer e.end()

	if caller != e.config.Operator {
		return apperror.New(apperror.CodeUnauthorized, apperror.WithContext("operator only"))
	}
	if bps > bpsDenominator {
		return apperror.New(apperror.CodeInvalidAmount,
			apperror.WithContext(fmt.Sprintf("buffer target %d bps exceeds %d", bps, bpsDenominator)))
	}
	e.config.BufferTargetBps = bps
	e.logger.Info(ctx, "buffer target changed", "bps", bps)
	return nil
}

// PreviewMint returns the collateral a mint of tokenAmount would charge.
func (e *Engine) PreviewMint(tokenAmount *big.Int) (*big.Int, error) {
	if err := validateAmount(tokenAmount); err != nil {
		return nil, err
	}
	return e.math.CollateralIn(tokenAmount), nil
}

// PreviewBurn returns the collateral a burn of tokenAmount would pay out.
func (e *Engine) PreviewBurn(tokenAmount *big.Int) (*big.Int, error) {
	if err := validateAmount(tokenAmount); err != nil {
		return nil, err
	}
	return e.math.PayoutOut(tokenAmount), nil
}

// Status returns the lifecycle status.
func (e *Engine) Status() domain.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.books.Status()
}

// IsLiquidated reports whether liquidation has fired.
func (e *Engine) IsLiquidated() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.books.IsLiquidated()
}

// Cap returns the raw fixed-point cap.
func (e *Engine) Cap() *big.Int {
	return e.math.Cap()
}

// Pair returns the matched token pair.
func (e *Engine) Pair() *tokenApp.Pair {
	return e.pair
}

// Books returns the lifecycle books.
func (e *Engine) Books() *domain.Books {
	return e.books
}

// Snapshot builds a consistent view of the engine for reporters.
func (e *Engine) Snapshot(ctx context.Context) (EngineSnapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	buffer := e.collateral.BalanceOf(EngineAddress)
	vaultAssets := big.NewInt(0)
	adapterName := ""
	if e.vault != nil {
		va, err := e.vault.TotalAssets(ctx)
		if err != nil {
			return EngineSnapshot{}, apperror.Wrap(err, apperror.CodeVaultUnavailable, "total assets")
		}
		vaultAssets = va
		adapterName = e.vault.Name()
	}
	total := new(big.Int).Add(buffer, vaultAssets)

	bear := e.pair.BearSupply()
	bull := e.pair.BullSupply()
	liabilities := e.books.Liabilities(bear, bear)
	surplus := e.books.Surplus(total, bear, bear)
	solvent := e.books.Solvent(total, bear, bear, e.config.SolvencyTolerance)

	snap := EngineSnapshot{
		Status:      e.books.Status().String(),
		BearSupply:  bear,
		BullSupply:  bull,
		Buffer:      buffer,
		VaultAssets: vaultAssets,
		TotalAssets: total,
		Liabilities: liabilities,
		Surplus:     surplus,
		Solvent:     solvent,
		AdapterName: adapterName,
	}
	if p := e.clock.Pending(); p != nil {
		snap.PendingAdapter = p.AdapterName
		snap.PendingActiveAt = p.ActivatableAt
	}
	if e.books.IsLiquidated() {
		snap.LiquidatedAt = e.books.LiquidationTime()
		snap.LiquidationRate = e.books.LiquidationPrice()
	}
	return snap, nil
}

// SetNowFunc overrides the engine clock. Test hook.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.now = now
}

// requireActive rejects operations outside the ACTIVE state.
func (e *Engine) requireActive() error {
	switch e.books.Status() {
	case domain.StatusActive:
		return nil
	case domain.StatusPaused:
		return apperror.New(apperror.CodePaused)
	default:
		return apperror.New(apperror.CodeLiquidationActive)
	}
}

// totalAssetsLocked sums the buffer and the vault position. Callers hold
// the engine lock.
func (e *Engine) totalAssetsLocked(ctx context.Context) (*big.Int, error) {
	total := e.collateral.BalanceOf(EngineAddress)
	if e.vault == nil {
		return total, nil
	}
	va, err := e.vault.TotalAssets(ctx)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeVaultUnavailable, "total assets")
	}
	return total.Add(total, va), nil
}

func (e *Engine) solventLocked(ctx context.Context) (bool, error) {
	total, err := e.totalAssetsLocked(ctx)
	if err != nil {
		return false, err
	}
	bear := e.pair.BearSupply()
	return e.books.Solvent(total, bear, bear, e.config.SolvencyTolerance), nil
}

// ensureBuffer tops the buffer up to at least amount, draining the vault
// for the difference. Fails without side effects when liquidity is short.
func (e *Engine) ensureBuffer(ctx context.Context, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return nil
	}
	buffer := e.collateral.BalanceOf(EngineAddress)
	if buffer.Cmp(amount) >= 0 {
		return nil
	}
	need := new(big.Int).Sub(amount, buffer)

	if e.vault == nil {
		return apperror.New(apperror.CodeInsufficientLiquidity,
			apperror.WithContext(fmt.Sprintf("buffer %s short of %s", buffer, amount)))
	}
	max, err := e.vault.MaxWithdraw(ctx)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeVaultUnavailable, "max withdraw")
	}
	if max.Cmp(need) < 0 {
		return apperror.New(apperror.CodeInsufficientLiquidity,
			apperror.WithContext(fmt.Sprintf("vault can free %s, need %s", max, need)))
	}
	// Over-ask slightly so adapter share rounding cannot leave the buffer a
	// unit short, capped at what the vault reports it can free.
	pad := bpsShare(need, withdrawPadBps)
	if pad.Sign() == 0 {
		pad = big.NewInt(1)
	}
	request := new(big.Int).Add(need, pad)
	if request.Cmp(max) > 0 {
		request.Set(max)
	}
	withdrawn, err := e.vault.Withdraw(ctx, request)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeVaultUnavailable, "withdraw")
	}
	if withdrawn.Cmp(need) < 0 {
		return apperror.New(apperror.CodeVaultShortfall,
			apperror.WithContext(fmt.Sprintf("asked %s, got %s", need, withdrawn)))
	}
	return nil
}

func (e *Engine) recordGauges(ctx context.Context) {
	total, err := e.totalAssetsLocked(ctx)
	if err != nil {
		return
	}
	bear := e.pair.BearSupply()
	surplus := e.books.Surplus(total, bear, bear)

	e.metrics.totalAssets.Record(ctx, bigToFloat(total))
	e.metrics.surplus.Record(ctx, bigToFloat(surplus))
}

func (e *Engine) fail(ctx context.Context, span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	e.metrics.opErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	e.logger.Debug(ctx, "operation rejected", "op", op, "error", err)
	return err
}

func validateAmount(amount *big.Int) error {
	if amount == nil {
		return apperror.New(apperror.CodeInvalidAmount, apperror.WithContext("nil amount"))
	}
	if amount.Sign() < 0 {
		return apperror.New(apperror.CodeInvalidAmount, apperror.WithContext("negative amount"))
	}
	if amount.Sign() == 0 {
		return apperror.New(apperror.CodeZeroAmount)
	}
	return nil
}

// bpsShare returns x * bps / 10000, rounded down.
func bpsShare(x *big.Int, bps uint32) *big.Int {
	share := new(big.Int).Mul(x, big.NewInt(int64(bps)))
	return share.Quo(share, big.NewInt(bpsDenominator))
}

func bigToFloat(x *big.Int) float64 {
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}

func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, tokenDomain.ErrInsufficientBalance):
		return apperror.New(apperror.CodeInsufficientBalance, apperror.WithCause(err))
	case errors.Is(err, tokenDomain.ErrInsufficientAllowance):
		return apperror.New(apperror.CodeInsufficientBalance, apperror.WithCause(err))
	case errors.Is(err, tokenDomain.ErrNilAmount), errors.Is(err, tokenDomain.ErrZeroAmount):
		return apperror.New(apperror.CodeInvalidAmount, apperror.WithCause(err))
	default:
		return apperror.Wrap(err, apperror.CodeInternalError, "ledger operation")
	}
}

func mapMigrationError(err error) error {
	switch {
	case errors.Is(err, domain.ErrProposalPending):
		return apperror.New(apperror.CodeProposalPending, apperror.WithCause(err))
	case errors.Is(err, domain.ErrNoPendingProposal):
		return apperror.New(apperror.CodeNoPendingAdapter, apperror.WithCause(err))
	case errors.Is(err, domain.ErrTimelockActive):
		return apperror.New(apperror.CodeTimelockActive, apperror.WithCause(err))
	default:
		return apperror.Wrap(err, apperror.CodeInternalError, "adapter migration")
	}
}
