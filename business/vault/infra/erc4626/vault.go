// Package erc4626 implements a yield vault adapter over an on-chain
// ERC-4626 tokenized vault. Reads go through a circuit breaker; deposits
// and withdrawals are signed transactions from the operator key.
package erc4626

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	splitterApp "github.com/nkozak/capsplit/business/splitter/app"
	"github.com/nkozak/capsplit/internal/apperror"
	"github.com/nkozak/capsplit/internal/asset"
	"github.com/nkozak/capsplit/internal/circuitbreaker"
	"github.com/nkozak/capsplit/internal/logger"
)

const (
	tracerName = "erc4626"
	meterName  = "erc4626"
)

// Ensure Vault implements YieldVault.
var _ splitterApp.YieldVault = (*Vault)(nil)

// vaultMetrics holds OTEL metric instruments.
type vaultMetrics struct {
	callsTotal  metric.Int64Counter
	callErrors  metric.Int64Counter
	txsTotal    metric.Int64Counter
	callLatency metric.Float64Histogram
}

// Vault adapts an ERC-4626 vault contract to the engine's port. The
// engine's position is the share balance of the signer address.
type Vault struct {
	client     *ethclient.Client
	addr       common.Address
	collateral *asset.Asset

	vaultABI abi.ABI
	erc20ABI abi.ABI

	key     *ecdsa.PrivateKey
	owner   common.Address
	chainID *big.Int

	logger logger.LoggerInterface
	cb     *circuitbreaker.CircuitBreaker[[]byte]

	tracer  trace.Tracer
	metrics *vaultMetrics
}

// NewVault creates an adapter for the vault contract at addr. The key signs
// deposit and withdraw transactions; its address owns the shares.
func NewVault(client *ethclient.Client, addr common.Address, collateral *asset.Asset, key *ecdsa.PrivateKey, chainID uint64, log logger.LoggerInterface) (*Vault, error) {
	vaultABI, err := abi.JSON(strings.NewReader(ERC4626ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse vault ABI: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 ABI: %w", err)
	}
	if key == nil {
		return nil, fmt.Errorf("erc4626 vault requires a signing key")
	}

	v := &Vault{
		client:     client,
		addr:       addr,
		collateral: collateral,
		vaultABI:   vaultABI,
		erc20ABI:   erc20ABI,
		key:        key,
		owner:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:    new(big.Int).SetUint64(chainID),
		logger:     log,
		tracer:     otel.Tracer(tracerName),
		cb:         circuitbreaker.New[[]byte](circuitbreaker.DefaultConfig("erc4626-" + addr.Hex()[:10])),
	}
	if err := v.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	return v, nil
}

func (v *Vault) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	v.metrics = &vaultMetrics{}

	v.metrics.callsTotal, err = meter.Int64Counter(
		"erc4626_calls_total",
		metric.WithDescription("Vault contract reads"),
	)
	if err != nil {
		return err
	}

	v.metrics.callErrors, err = meter.Int64Counter(
		"erc4626_call_errors_total",
		metric.WithDescription("Vault contract read errors"),
	)
	if err != nil {
		return err
	}

	v.metrics.txsTotal, err = meter.Int64Counter(
		"erc4626_txs_total",
		metric.WithDescription("Vault transactions sent"),
	)
	if err != nil {
		return err
	}

	v.metrics.callLatency, err = meter.Float64Histogram(
		"erc4626_call_latency_ms",
		metric.WithDescription("Vault call latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Name identifies this adapter.
func (v *Vault) Name() string {
	return "erc4626:" + v.addr.Hex()
}

// Collateral returns the asset the vault accepts.
func (v *Vault) Collateral() *asset.Asset {
	return v.collateral
}

// Owner returns the share-holding signer address.
func (v *Vault) Owner() common.Address {
	return v.owner
}

// Deposit supplies amount of collateral to the vault, approving first if
// the current allowance is short.
func (v *Vault) Deposit(ctx context.Context, amount *big.Int) error {
	ctx, span := v.tracer.Start(ctx, "erc4626.deposit",
		trace.WithAttributes(attribute.String("amount", amount.String())),
	)
	defer span.End()

	if err := v.ensureAllowance(ctx, amount); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allowance failed")
		return err
	}

	calldata, err := v.vaultABI.Pack("deposit", amount, v.owner)
	if err != nil {
		return fmt.Errorf("failed to encode deposit: %w", err)
	}
	if err := v.send(ctx, v.addr, calldata); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deposit failed")
		return err
	}

	span.SetStatus(codes.Ok, "deposited")
	v.logger.Info(ctx, "vault deposit", "vault", v.addr.Hex(), "amount", amount)
	return nil
}

// Withdraw pulls amount of collateral back to the signer address. ERC-4626
// withdraw is exact-out, so the returned amount equals the request.
func (v *Vault) Withdraw(ctx context.Context, amount *big.Int) (*big.Int, error) {
	ctx, span := v.tracer.Start(ctx, "erc4626.withdraw",
		trace.WithAttributes(attribute.String("amount", amount.String())),
	)
	defer span.End()

	calldata, err := v.vaultABI.Pack("withdraw", amount, v.owner, v.owner)
	if err != nil {
		return nil, fmt.Errorf("failed to encode withdraw: %w", err)
	}
	if err := v.send(ctx, v.addr, calldata); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "withdraw failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "withdrawn")
	v.logger.Info(ctx, "vault withdraw", "vault", v.addr.Hex(), "amount", amount)
	return new(big.Int).Set(amount), nil
}

// MaxWithdraw returns the amount currently withdrawable for the signer.
func (v *Vault) MaxWithdraw(ctx context.Context) (*big.Int, error) {
	return v.readUint(ctx, "maxWithdraw", v.owner)
}

// TotalAssets returns the signer's position valued in collateral.
func (v *Vault) TotalAssets(ctx context.Context) (*big.Int, error) {
	shares, err := v.readUint(ctx, "balanceOf", v.owner)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return v.readUint(ctx, "convertToAssets", shares)
}

// Asset reads the vault's underlying token address.
func (v *Vault) Asset(ctx context.Context) (common.Address, error) {
	data, err := v.call(ctx, v.addr, v.vaultABI, "asset")
	if err != nil {
		return common.Address{}, err
	}
	outputs, err := v.vaultABI.Unpack("asset", data)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode asset: %w", err)
	}
	return outputs[0].(common.Address), nil
}

// readUint calls a view method returning a single uint256 on the vault.
func (v *Vault) readUint(ctx context.Context, method string, args ...any) (*big.Int, error) {
	data, err := v.call(ctx, v.addr, v.vaultABI, method, args...)
	if err != nil {
		return nil, err
	}
	outputs, err := v.vaultABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", method, err)
	}
	return outputs[0].(*big.Int), nil
}

// call performs an eth_call through the circuit breaker.
func (v *Vault) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...any) ([]byte, error) {
	calldata, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}

	start := time.Now()
	v.metrics.callsTotal.Add(ctx, 1)

	result, err := v.cb.Execute(func() ([]byte, error) {
		return v.client.CallContract(ctx, ethereum.CallMsg{
			To:   &to,
			Data: calldata,
		}, nil)
	})

	v.metrics.callLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		v.metrics.callErrors.Add(ctx, 1)
		return nil, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s on %s", method, to.Hex())))
	}
	return result, nil
}

// ensureAllowance approves the vault on the underlying token when the
// current allowance cannot cover amount.
func (v *Vault) ensureAllowance(ctx context.Context, amount *big.Int) error {
	tokenAddr := v.collateral.Address()

	data, err := v.call(ctx, tokenAddr, v.erc20ABI, "allowance", v.owner, v.addr)
	if err != nil {
		return err
	}
	outputs, err := v.erc20ABI.Unpack("allowance", data)
	if err != nil {
		return fmt.Errorf("failed to decode allowance: %w", err)
	}
	if outputs[0].(*big.Int).Cmp(amount) >= 0 {
		return nil
	}

	calldata, err := v.erc20ABI.Pack("approve", v.addr, amount)
	if err != nil {
		return fmt.Errorf("failed to encode approve: %w", err)
	}
	v.logger.Info(ctx, "approving vault on collateral token",
		"token", tokenAddr.Hex(), "vault", v.addr.Hex(), "amount", amount)
	return v.send(ctx, tokenAddr, calldata)
}

// send signs, submits and waits for a transaction to to.
func (v *Vault) send(ctx context.Context, to common.Address, calldata []byte) error {
	nonce, err := v.client.PendingNonceAt(ctx, v.owner)
	if err != nil {
		return v.txError(err, "nonce")
	}
	gasPrice, err := v.client.SuggestGasPrice(ctx)
	if err != nil {
		return v.txError(err, "gas price")
	}
	gasLimit, err := v.client.EstimateGas(ctx, ethereum.CallMsg{
		From: v.owner,
		To:   &to,
		Data: calldata,
	})
	if err != nil {
		return v.txError(err, "gas estimate")
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(v.chainID), v.key)
	if err != nil {
		return v.txError(err, "sign")
	}
	if err := v.client.SendTransaction(ctx, signed); err != nil {
		return v.txError(err, "send")
	}
	v.metrics.txsTotal.Add(ctx, 1)

	receipt, err := bind.WaitMined(ctx, v.client, signed)
	if err != nil {
		return v.txError(err, "wait mined")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return apperror.New(apperror.CodeEthereumRPCError,
			apperror.WithContext(fmt.Sprintf("tx %s reverted", signed.Hash().Hex())))
	}
	return nil
}

func (v *Vault) txError(err error, stage string) error {
	return apperror.New(apperror.CodeEthereumRPCError,
		apperror.WithCause(err),
		apperror.WithContext(stage))
}
