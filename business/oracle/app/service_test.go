package app

import (
	"context"
	"errors"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/nkozak/capsplit/business/oracle/domain"
	"github.com/nkozak/capsplit/internal/apperror"
	"github.com/nkozak/capsplit/internal/asset"
	"github.com/nkozak/capsplit/internal/logger"
)

type stubSource struct {
	round domain.Round
	err   error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) LatestRound(context.Context) (domain.Round, error) {
	return s.round, s.err
}

type stubSequencer struct {
	status domain.SequencerStatus
	err    error
}

func (s *stubSequencer) Status(context.Context) (domain.SequencerStatus, error) {
	return s.status, s.err
}

func newService(t *testing.T, cfg ServiceConfig, source RoundSource, seq SequencerSource) *Service {
	t.Helper()
	log := logger.New(io.Discard, logger.LevelError, "test", nil)
	svc, err := NewService(cfg, source, seq, asset.BEAR, asset.USDC, log)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
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

func TestService_LatestHappyPath(t *testing.T) {
	now := time.Now()
	source := &stubSource{round: domain.Round{
		ID:        big.NewInt(42),
		Answer:    big.NewInt(150_000_000), // $1.50
		UpdatedAt: now.Add(-10 * time.Second),
	}}
	svc := newService(t, ServiceConfig{MaxStaleness: time.Hour}, source, nil)
	svc.SetNowFunc(func() time.Time { return now })

	price, err := svc.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if price.RateRaw().Cmp(big.NewInt(150_000_000)) != 0 {
		t.Errorf("rate = %s, want 150000000", price.RateRaw())
	}
	if price.Base() != asset.BEAR || price.Quote() != asset.USDC {
		t.Errorf("pair = %s", price.Pair())
	}
}

func TestService_Rejections(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		src  *stubSource
		want apperror.Code
	}{
		{
			name: "stale round",
			src: &stubSource{round: domain.Round{
				Answer:    big.NewInt(100_000_000),
				UpdatedAt: now.Add(-2 * time.Hour),
			}},
			want: apperror.CodeStalePrice,
		},
		{
			name: "zero answer",
			src: &stubSource{round: domain.Round{
				Answer:    big.NewInt(0),
				UpdatedAt: now,
			}},
			want: apperror.CodeInvalidPrice,
		},
		{
			name: "negative answer",
			src: &stubSource{round: domain.Round{
				Answer:    big.NewInt(-1),
				UpdatedAt: now,
			}},
			want: apperror.CodeInvalidPrice,
		},
		{
			name: "future timestamp",
			src: &stubSource{round: domain.Round{
				Answer:    big.NewInt(100_000_000),
				UpdatedAt: now.Add(time.Hour),
			}},
			want: apperror.CodeInvalidPrice,
		},
		{
			name: "source failure",
			src:  &stubSource{err: errors.New("rpc timeout")},
			want: apperror.CodeOracleUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, ServiceConfig{MaxStaleness: time.Hour}, tt.src, nil)
			svc.SetNowFunc(func() time.Time { return now })
			_, err := svc.Latest(context.Background())
			wantCode(t, err, tt.want)
		})
	}
}

func TestService_SourceErrorPassthrough(t *testing.T) {
	// AppError codes from the source survive unchanged.
	src := &stubSource{err: apperror.New(apperror.CodeCircuitOpen)}
	svc := newService(t, ServiceConfig{}, src, nil)

	_, err := svc.Latest(context.Background())
	wantCode(t, err, apperror.CodeCircuitOpen)
}

func TestService_Sequencer(t *testing.T) {
	now := time.Now()
	goodRound := &stubSource{round: domain.Round{
		Answer:    big.NewInt(100_000_000),
		UpdatedAt: now,
	}}
	cfg := ServiceConfig{MaxStaleness: time.Hour, SequencerGrace: time.Hour}

	t.Run("down", func(t *testing.T) {
		seq := &stubSequencer{status: domain.SequencerStatus{Up: false}}
		svc := newService(t, cfg, goodRound, seq)
		svc.SetNowFunc(func() time.Time { return now })
		_, err := svc.Latest(context.Background())
		wantCode(t, err, apperror.CodeSequencerDown)
	})

	t.Run("within grace period", func(t *testing.T) {
		seq := &stubSequencer{status: domain.SequencerStatus{
			Up:        true,
			ChangedAt: now.Add(-10 * time.Minute),
		}}
		svc := newService(t, cfg, goodRound, seq)
		svc.SetNowFunc(func() time.Time { return now })
		_, err := svc.Latest(context.Background())
		wantCode(t, err, apperror.CodeSequencerGracePeriod)
	})

	t.Run("grace elapsed", func(t *testing.T) {
		seq := &stubSequencer{status: domain.SequencerStatus{
			Up:        true,
			ChangedAt: now.Add(-2 * time.Hour),
		}}
		svc := newService(t, cfg, goodRound, seq)
		svc.SetNowFunc(func() time.Time { return now })
		if _, err := svc.Latest(context.Background()); err != nil {
			t.Fatalf("Latest: %v", err)
		}
	})

	t.Run("status error", func(t *testing.T) {
		seq := &stubSequencer{err: errors.New("rpc down")}
		svc := newService(t, cfg, goodRound, seq)
		_, err := svc.Latest(context.Background())
		wantCode(t, err, apperror.CodeOracleUnavailable)
	})
}
