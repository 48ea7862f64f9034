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

	"github.com/nkozak/capsplit/business/oracle/app"
	"github.com/nkozak/capsplit/business/oracle/domain"
	"github.com/nkozak/capsplit/internal/apperror"
	"github.com/nkozak/capsplit/internal/circuitbreaker"
	"github.com/nkozak/capsplit/internal/logger"
)

// Ensure SequencerFeed implements SequencerSource.
var _ app.SequencerSource = (*SequencerFeed)(nil)

// SequencerFeed reads an L2 sequencer uptime feed. The feed uses the
// aggregator interface with answer 0 (up) or 1 (down).
type SequencerFeed struct {
	client *ethclient.Client
	addr   common.Address
	abi    abi.ABI
	logger logger.LoggerInterface
	cb     *circuitbreaker.CircuitBreaker[[]byte]
}

// NewSequencerFeed creates a sequencer uptime client for the feed at addr.
func NewSequencerFeed(client *ethclient.Client, addr common.Address, log logger.LoggerInterface) (*SequencerFeed, error) {
	parsedABI, err := abi.JSON(strings.NewReader(AggregatorV3ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse aggregator ABI: %w", err)
	}

	return &SequencerFeed{
		client: client,
		addr:   addr,
		abi:    parsedABI,
		logger: log,
		cb:     circuitbreaker.New[[]byte](circuitbreaker.DefaultConfig("sequencer-" + addr.Hex()[:10])),
	}, nil
}

// Status reads the current sequencer uptime state.
func (s *SequencerFeed) Status(ctx context.Context) (domain.SequencerStatus, error) {
	callData, err := s.abi.Pack("latestRoundData")
	if err != nil {
		return domain.SequencerStatus{}, fmt.Errorf("failed to encode call: %w", err)
	}

	result, err := s.cb.Execute(func() ([]byte, error) {
		return s.client.CallContract(ctx, ethereum.CallMsg{
			To:   &s.addr,
			Data: callData,
		}, nil)
	})
	if err != nil {
		return domain.SequencerStatus{}, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("uptime feed %s", s.addr.Hex())))
	}

	outputs, err := s.abi.Unpack("latestRoundData", result)
	if err != nil {
		return domain.SequencerStatus{}, fmt.Errorf("failed to decode result: %w", err)
	}
	if len(outputs) < 5 {
		return domain.SequencerStatus{}, fmt.Errorf("unexpected output length: %d", len(outputs))
	}

	answer := outputs[1].(*big.Int)
	startedAt := outputs[2].(*big.Int)

	return domain.SequencerStatus{
		Up:        answer.Int64() == sequencerUp,
		ChangedAt: time.Unix(startedAt.Int64(), 0),
	}, nil
}
