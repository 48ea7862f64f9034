// Package manual provides a settable round source for sim mode and tests.
package manual

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkozak/capsplit/business/oracle/app"
	"github.com/nkozak/capsplit/business/oracle/domain"
	"github.com/nkozak/capsplit/internal/apperror"
	"github.com/nkozak/capsplit/internal/asset"
)

// Ensure Source implements RoundSource.
var _ app.RoundSource = (*Source)(nil)

// Source is an in-memory round source whose price is set by hand.
type Source struct {
	mu    sync.RWMutex
	round domain.Round
	seq   int64
}

// New creates an empty source. LatestRound fails until Set is called.
func New() *Source {
	return &Source{}
}

// Name identifies this source.
func (s *Source) Name() string {
	return "manual"
}

// Set records a new price from a decimal rate (e.g. 1.50 for $1.50).
func (s *Source) Set(rate decimal.Decimal) {
	s.SetRaw(rate.Shift(asset.PricePrecision).BigInt(), time.Now())
}

// SetRaw records a new fixed-point price with an explicit timestamp.
func (s *Source) SetRaw(answer *big.Int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.round = domain.Round{
		ID:        big.NewInt(s.seq),
		Answer:    new(big.Int).Set(answer),
		UpdatedAt: at,
	}
}

// LatestRound returns the last set round.
func (s *Source) LatestRound(context.Context) (domain.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.round.Answer == nil {
		return domain.Round{}, apperror.New(apperror.CodeOracleUnavailable,
			apperror.WithContext("no price set"))
	}
	return domain.Round{
		ID:        new(big.Int).Set(s.round.ID),
		Answer:    new(big.Int).Set(s.round.Answer),
		UpdatedAt: s.round.UpdatedAt,
	}, nil
}
