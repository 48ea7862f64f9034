// Package chainlink reads Chainlink aggregator contracts over an Ethereum
// RPC connection.
package chainlink

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nkozak/capsplit/business/oracle/app"
	"github.com/nkozak/capsplit/business/oracle/domain"
	"github.com/nkozak/capsplit/internal/apperror"
	"github.com/nkozak/capsplit/internal/circuitbreaker"
	"github.com/nkozak/capsplit/internal/logger"
)

const (
	tracerName = "chainlink"
	meterName  = "chainlink"
)

// Ensure Aggregator implements RoundSource.
var _ app.RoundSource = (*Aggregator)(nil)

// aggregatorMetrics holds OTEL metric instruments.
type aggregatorMetrics struct {
	callsTotal  metric.Int64Counter
	callLatency metric.Float64Histogram
	callErrors  metric.Int64Counter
}

// Aggregator reads latestRoundData from a Chainlink price feed.
type Aggregator struct {
	client *ethclient.Client
	addr   common.Address
	abi    abi.ABI

	logger logger.LoggerInterface
	cb     *circuitbreaker.CircuitBreaker[[]byte]

	tracer  trace.Tracer
	metrics *aggregatorMetrics
}

// NewAggregator creates an aggregator client for the feed at addr.
func NewAggregator(client *ethclient.Client, addr common.Address, log logger.LoggerInterface) (*Aggregator, error) {
	parsedABI, err := abi.JSON(strings.NewReader(AggregatorV3ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse aggregator ABI: %w", err)
	}

	a := &Aggregator{
		client: client,
		addr:   addr,
		abi:    parsedABI,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}

	cbCfg := circuitbreaker.DefaultConfig("chainlink-" + addr.Hex()[:10])
	a.cb = circuitbreaker.New[[]byte](cbCfg)

	if err := a.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	return a, nil
}

func (a *Aggregator) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	a.metrics = &aggregatorMetrics{}

	a.metrics.callsTotal, err = meter.Int64Counter(
		"chainlink_calls_total",
		metric.WithDescription("Total aggregator calls"),
	)
	if err != nil {
		return err
	}

	a.metrics.callLatency, err = meter.Float64Histogram(
		"chainlink_call_latency_ms",
		metric.WithDescription("Aggregator call latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	a.metrics.callErrors, err = meter.Int64Counter(
		"chainlink_call_errors_total",
		metric.WithDescription("Total aggregator call errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Name identifies this source.
func (a *Aggregator) Name() string {
	return "chainlink:" + a.addr.Hex()
}

// LatestRound fetches latestRoundData from the feed contract.
func (a *Aggregator) LatestRound(ctx context.Context) (domain.Round, error) {
	ctx, span := a.tracer.Start(ctx, "chainlink.latest_round",
		trace.WithAttributes(attribute.String("feed", a.addr.Hex())),
	)
	defer span.End()

	start := time.Now()
	a.metrics.callsTotal.Add(ctx, 1)

	data, err := a.callLatestRoundData(ctx)

	a.metrics.callLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		a.metrics.callErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "call failed")
		return domain.Round{}, err
	}

	round, err := a.decodeRound(data)
	if err != nil {
		a.metrics.callErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return domain.Round{}, err
	}

	span.SetAttributes(
		attribute.String("round_id", round.ID.String()),
		attribute.String("answer", round.Answer.String()),
	)
	span.SetStatus(codes.Ok, "round fetched")

	a.logger.Debug(ctx, "chainlink round",
		"feed", a.addr.Hex(),
		"round_id", round.ID,
		"answer", round.Answer,
		"updated_at", round.UpdatedAt)

	return round, nil
}

func (a *Aggregator) callLatestRoundData(ctx context.Context) ([]byte, error) {
	callData, err := a.abi.Pack("latestRoundData")
	if err != nil {
		return nil, fmt.Errorf("failed to encode call: %w", err)
	}

	result, err := a.cb.Execute(func() ([]byte, error) {
		return a.client.CallContract(ctx, ethereum.CallMsg{
			To:   &a.addr,
			Data: callData,
		}, nil)
	})
	if err != nil {
		return nil, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("latestRoundData on %s", a.addr.Hex())))
	}
	return result, nil
}

func (a *Aggregator) decodeRound(data []byte) (domain.Round, error) {
	outputs, err := a.abi.Unpack("latestRoundData", data)
	if err != nil {
		return domain.Round{}, fmt.Errorf("failed to decode result: %w", err)
	}
	if len(outputs) < 5 {
		return domain.Round{}, fmt.Errorf("unexpected output length: %d", len(outputs))
	}

	roundID := outputs[0].(*big.Int)
	answer := outputs[1].(*big.Int)
	updatedAt := outputs[3].(*big.Int)

	return domain.Round{
		ID:        roundID,
		Answer:    answer,
		UpdatedAt: time.Unix(updatedAt.Int64(), 0),
	}, nil
}

// Decimals reads the feed's answer precision.
func (a *Aggregator) Decimals(ctx context.Context) (uint8, error) {
	callData, err := a.abi.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("failed to encode call: %w", err)
	}

	result, err := a.cb.Execute(func() ([]byte, error) {
		return a.client.CallContract(ctx, ethereum.CallMsg{
			To:   &a.addr,
			Data: callData,
		}, nil)
	})
	if err != nil {
		return 0, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("decimals on %s", a.addr.Hex())))
	}

	outputs, err := a.abi.Unpack("decimals", result)
	if err != nil {
		return 0, fmt.Errorf("failed to decode result: %w", err)
	}
	return outputs[0].(uint8), nil
}
