package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nkozak/capsplit/internal/apperror"
	"github.com/nkozak/capsplit/internal/httpclient"
	"github.com/nkozak/capsplit/internal/logger"
)

const (
	// Default REST endpoint for the price fallback.
	BaseAPIURL = "https://api.binance.com"

	tickerEndpoint = "/api/v3/ticker/price"

	httpTimeout = 10 * time.Second
)

// HTTPClientConfig holds configuration for the REST fallback client.
type HTTPClientConfig struct {
	BaseURL string        // API base URL (empty = default)
	Timeout time.Duration // Request timeout
}

// DefaultHTTPClientConfig returns sensible defaults.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		BaseURL: BaseAPIURL,
		Timeout: httpTimeout,
	}
}

// HTTPClient fetches the last trade price over REST. Used before the first
// websocket tick arrives and when the stream goes stale.
type HTTPClient struct {
	client httpclient.Client
	config HTTPClientConfig
	logger logger.LoggerInterface
	tracer trace.Tracer
}

// NewHTTPClient creates the REST fallback client.
func NewHTTPClient(cfg HTTPClientConfig, log logger.LoggerInterface) (*HTTPClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BaseAPIURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = httpTimeout
	}

	tracer := otel.Tracer(tracerName)

	client, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName("feed"),
		httpclient.WithBaseURL(baseURL),
		httpclient.WithRequestTimeout(timeout),
		httpclient.WithTraceOptions(tracer, httpclient.TraceRequest, httpclient.TraceResponse),
		httpclient.WithHeaders(map[string]string{
			"Accept": "application/json",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &HTTPClient{
		client: client,
		config: cfg,
		logger: log,
		tracer: tracer,
	}, nil
}

// TickerResponse is the REST API response for the last price.
type TickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetTickerPrice fetches the last trade price for a symbol via REST.
func (c *HTTPClient) GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ctx, span := c.tracer.Start(ctx, "feed.http.get_ticker",
		trace.WithAttributes(attribute.String("symbol", symbol)),
	)
	defer span.End()

	var result TickerResponse
	resp, err := c.client.NewRequestWithOptions(
		httpclient.WithLabels(
			httpclient.NewLabel("endpoint", "ticker"),
			httpclient.NewLabel("symbol", symbol),
		),
		httpclient.WithResponseErrorHandler(feedErrorHandler),
	).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get(ctx, tickerEndpoint)

	if err != nil {
		span.RecordError(err)
		return decimal.Zero, apperror.New(apperror.CodeFeedConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext("failed to fetch ticker from REST API"))
	}

	if resp.IsError() {
		return decimal.Zero, apperror.New(apperror.CodeFeedConnectionFailed,
			apperror.WithContext(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.String())))
	}

	price, err := decimal.NewFromString(result.Price)
	if err != nil {
		return decimal.Zero, apperror.New(apperror.CodeFeedParseError,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("unparseable ticker price %q", result.Price)))
	}

	c.logger.Debug(ctx, "fetched ticker via HTTP", "symbol", symbol, "price", price)
	return price, nil
}

// APIError represents an error response from the exchange API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API error %d: %s", e.Code, e.Message)
}

// feedErrorHandler parses exchange API error responses.
func feedErrorHandler(statusCode int, body []byte) error {
	if statusCode >= 400 {
		var apiErr APIError
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != 0 {
			return &apiErr
		}
		return fmt.Errorf("HTTP %d: %s", statusCode, string(body))
	}
	return nil
}
