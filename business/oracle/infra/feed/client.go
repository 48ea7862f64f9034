package feed

import (
	"context"
	"encoding/json"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nkozak/capsplit/business/oracle/app"
	"github.com/nkozak/capsplit/business/oracle/domain"
	"github.com/nkozak/capsplit/internal/apperror"
	"github.com/nkozak/capsplit/internal/asset"
	"github.com/nkozak/capsplit/internal/logger"
	"github.com/nkozak/capsplit/internal/wsconn"
)

const (
	tracerName = "feed"
	meterName  = "feed"
)

// Ensure Client implements RoundSource.
var _ app.RoundSource = (*Client)(nil)

// ClientConfig holds configuration for the market feed client.
type ClientConfig struct {
	BaseURL      string        // websocket base URL
	RESTBaseURL  string        // REST base URL for the snapshot fallback
	Symbol       string        // pair symbol, e.g. "STETHUSDC"
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL, symbol string) ClientConfig {
	return ClientConfig{
		BaseURL:      baseURL,
		RESTBaseURL:  BaseAPIURL,
		Symbol:       symbol,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// clientMetrics holds OTEL metric instruments.
type clientMetrics struct {
	ticksReceived metric.Int64Counter
	parseErrors   metric.Int64Counter
}

// Client subscribes to a trade stream and caches the last tick as a
// round. LatestRound never blocks on the network.
type Client struct {
	config ClientConfig
	logger logger.LoggerInterface

	conn   *wsconn.Client
	connMu sync.RWMutex

	rest *HTTPClient // snapshot fallback, nil when no REST URL configured

	last   domain.Round
	lastMu sync.RWMutex
	seq    int64

	tracer  trace.Tracer
	metrics *clientMetrics
}

// NewClient creates a market feed client.
func NewClient(cfg ClientConfig, log logger.LoggerInterface) (*Client, error) {
	c := &Client{
		config: cfg,
		logger: log,
		tracer: otel.Tracer(tracerName),
	}
	if err := c.initMetrics(); err != nil {
		return nil, err
	}

	if cfg.RESTBaseURL != "" {
		rest, err := NewHTTPClient(HTTPClientConfig{BaseURL: cfg.RESTBaseURL}, log)
		if err != nil {
			return nil, err
		}
		c.rest = rest
	}

	return c, nil
}

func (c *Client) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &clientMetrics{}

	c.metrics.ticksReceived, err = meter.Int64Counter(
		"feed_ticks_total",
		metric.WithDescription("Trade ticks received"),
	)
	if err != nil {
		return err
	}

	c.metrics.parseErrors, err = meter.Int64Counter(
		"feed_parse_errors_total",
		metric.WithDescription("Message parse errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Name identifies this source.
func (c *Client) Name() string {
	return "feed:" + strings.ToUpper(c.config.Symbol)
}

// Connect establishes the stream connection.
func (c *Client) Connect(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "feed.connect",
		trace.WithAttributes(attribute.String("symbol", c.config.Symbol)),
	)
	defer span.End()

	wsURL, err := c.buildStreamURL()
	if err != nil {
		return err
	}

	wsCfg := wsconn.DefaultConfig(wsURL, "feed")
	wsCfg.ReadTimeout = c.config.ReadTimeout
	wsCfg.WriteTimeout = c.config.WriteTimeout

	conn, err := wsconn.New(wsCfg)
	if err != nil {
		return apperror.New(apperror.CodeFeedConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext("failed to create wsconn"))
	}

	conn.OnMessage(c.handleMessage)

	if err := conn.ConnectWithRetry(ctx); err != nil {
		return apperror.New(apperror.CodeFeedConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext("failed to connect to feed"))
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.logger.Info(ctx, "feed connected", "url", wsURL, "symbol", c.config.Symbol)
	return nil
}

// buildStreamURL constructs the combined streams URL.
func (c *Client) buildStreamURL() (string, error) {
	if c.config.Symbol == "" {
		return "", apperror.New(apperror.CodeConfigurationError,
			apperror.WithContext("no symbol configured"))
	}

	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", err
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + TradeStream(c.config.Symbol)
	return u.String(), nil
}

// handleMessage processes incoming stream messages.
func (c *Client) handleMessage(ctx context.Context, data []byte) {
	var event StreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		var resp WSResponse
		if json.Unmarshal(data, &resp) == nil {
			return // subscription confirmation
		}
		c.metrics.parseErrors.Add(ctx, 1)
		c.logger.Debug(ctx, "failed to parse feed message", "error", err)
		return
	}

	if !strings.HasSuffix(event.Stream, "@aggTrade") {
		return
	}

	var trade TradeEvent
	if err := json.Unmarshal(event.Data, &trade); err != nil {
		c.metrics.parseErrors.Add(ctx, 1)
		return
	}
	c.recordTrade(ctx, &trade)
}

func (c *Client) recordTrade(ctx context.Context, trade *TradeEvent) {
	price, err := trade.ParsePrice()
	if err != nil {
		c.metrics.parseErrors.Add(ctx, 1)
		c.logger.Warn(ctx, "unparseable trade price", "price", trade.Price, "error", err)
		return
	}

	// Scale to the fixed-point precision the engine expects.
	answer := price.Shift(asset.PricePrecision).BigInt()

	c.lastMu.Lock()
	c.seq++
	c.last = domain.Round{
		ID:        big.NewInt(c.seq),
		Answer:    answer,
		UpdatedAt: trade.Timestamp(),
	}
	c.lastMu.Unlock()

	c.metrics.ticksReceived.Add(ctx, 1)
}

// LatestRound returns the last cached tick. Before the first tick arrives
// it falls back to a REST snapshot when one is configured.
func (c *Client) LatestRound(ctx context.Context) (domain.Round, error) {
	c.lastMu.RLock()
	last := c.last
	c.lastMu.RUnlock()

	if last.Answer == nil {
		return c.snapshotRound(ctx)
	}
	return domain.Round{
		ID:        new(big.Int).Set(last.ID),
		Answer:    new(big.Int).Set(last.Answer),
		UpdatedAt: last.UpdatedAt,
	}, nil
}

// snapshotRound fetches the last trade price over REST and caches it as
// round zero so the stream's first tick supersedes it.
func (c *Client) snapshotRound(ctx context.Context) (domain.Round, error) {
	if c.rest == nil {
		return domain.Round{}, apperror.New(apperror.CodeOracleUnavailable,
			apperror.WithContext("no tick received yet"))
	}

	price, err := c.rest.GetTickerPrice(ctx, strings.ToUpper(c.config.Symbol))
	if err != nil {
		return domain.Round{}, apperror.New(apperror.CodeOracleUnavailable,
			apperror.WithCause(err),
			apperror.WithContext("no tick received yet and snapshot failed"))
	}

	answer := price.Shift(asset.PricePrecision).BigInt()
	now := time.Now()

	c.lastMu.Lock()
	if c.last.Answer == nil {
		c.last = domain.Round{
			ID:        big.NewInt(0),
			Answer:    new(big.Int).Set(answer),
			UpdatedAt: now,
		}
	}
	c.lastMu.Unlock()

	return domain.Round{
		ID:        big.NewInt(0),
		Answer:    answer,
		UpdatedAt: now,
	}, nil
}

// IsConnected reports whether the stream is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Close closes the stream connection.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
