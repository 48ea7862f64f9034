package app

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nkozak/capsplit/business/oracle/domain"
	"github.com/nkozak/capsplit/internal/apperror"
	"github.com/nkozak/capsplit/internal/asset"
	"github.com/nkozak/capsplit/internal/logger"
)

const (
	tracerName = "github.com/nkozak/capsplit/business/oracle/app"
	meterName  = "github.com/nkozak/capsplit/business/oracle/app"
)

// ServiceConfig holds the oracle validation policy.
type ServiceConfig struct {
	// MaxStaleness is the oldest acceptable round age. Zero disables the
	// check (sim mode).
	MaxStaleness time.Duration

	// SequencerGrace is the wait after a sequencer restart before prices
	// are trusted again.
	SequencerGrace time.Duration
}

// serviceMetrics holds OTEL metric instruments.
type serviceMetrics struct {
	reads      metric.Int64Counter
	rejections metric.Int64Counter
}

// Service validates raw rounds into usable prices. It is the splitter's
// PriceSource: a returned price is positive, fresh, and (on L2) backed by
// a healthy sequencer.
type Service struct {
	config    ServiceConfig
	source    RoundSource
	sequencer SequencerSource // nil when not on an L2
	base      *asset.Asset
	quote     *asset.Asset
	now       func() time.Time

	logger  logger.LoggerInterface
	tracer  trace.Tracer
	metrics *serviceMetrics
}

// NewService creates the oracle service over a round source. sequencer may
// be nil.
func NewService(cfg ServiceConfig, source RoundSource, sequencer SequencerSource, base, quote *asset.Asset, log logger.LoggerInterface) (*Service, error) {
	s := &Service{
		config:    cfg,
		source:    source,
		sequencer: sequencer,
		base:      base,
		quote:     quote,
		now:       time.Now,
		logger:    log,
		tracer:    otel.Tracer(tracerName),
	}
	if err := s.initMetrics(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &serviceMetrics{}

	s.metrics.reads, err = meter.Int64Counter(
		"oracle_reads_total",
		metric.WithDescription("Oracle price reads"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		return err
	}

	s.metrics.rejections, err = meter.Int64Counter(
		"oracle_rejections_total",
		metric.WithDescription("Rejected oracle readings by reason"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Latest returns the current validated price.
func (s *Service) Latest(ctx context.Context) (asset.Price, error) {
	ctx, span := s.tracer.Start(ctx, "oracle.latest",
		trace.WithAttributes(attribute.String("source", s.source.Name())),
	)
	defer span.End()

	s.metrics.reads.Add(ctx, 1)
	now := s.now()

	if s.sequencer != nil {
		status, err := s.sequencer.Status(ctx)
		if err != nil {
			return asset.Price{}, s.reject(ctx, span, apperror.Wrap(err, apperror.CodeOracleUnavailable, "sequencer status"))
		}
		if !status.Up {
			return asset.Price{}, s.reject(ctx, span, apperror.New(apperror.CodeSequencerDown))
		}
		if !status.GraceElapsed(now, s.config.SequencerGrace) {
			return asset.Price{}, s.reject(ctx, span, apperror.New(apperror.CodeSequencerGracePeriod))
		}
	}

	round, err := s.source.LatestRound(ctx)
	if err != nil {
		if apperror.IsAppError(err) {
			return asset.Price{}, s.reject(ctx, span, err)
		}
		return asset.Price{}, s.reject(ctx, span, apperror.New(apperror.CodeOracleUnavailable,
			apperror.WithCause(err),
			apperror.WithContext(s.source.Name())))
	}

	if err := round.Validate(now, s.config.MaxStaleness); err != nil {
		switch {
		case errors.Is(err, domain.ErrStaleRound):
			return asset.Price{}, s.reject(ctx, span, apperror.New(apperror.CodeStalePrice,
				apperror.WithCause(err)))
		default:
			return asset.Price{}, s.reject(ctx, span, apperror.New(apperror.CodeInvalidPrice,
				apperror.WithCause(err)))
		}
	}

	price := asset.NewPriceFromBigInt(s.base, s.quote, round.Answer, round.UpdatedAt)

	span.SetAttributes(attribute.String("price", price.String()))
	span.SetStatus(codes.Ok, "price validated")
	s.logger.Debug(ctx, "oracle price",
		"source", s.source.Name(),
		"price", price.String(),
		"age", round.Age(now))

	return price, nil
}

// SetNowFunc overrides the service clock. Test hook.
func (s *Service) SetNowFunc(now func() time.Time) {
	s.now = now
}

func (s *Service) reject(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "reading rejected")
	s.metrics.rejections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("code", string(apperror.GetCode(err)))))
	return err
}
