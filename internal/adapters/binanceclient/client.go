package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"execEngine/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// PriceSource selects which Binance price backs the reference price.
type PriceSource string

const (
	SourceLast PriceSource = "last" // 24h ticker last trade price
	SourceMark PriceSource = "mark" // premium index mark price
)

var _ ports.PriceProvider = (*Client)(nil)

// Client implements ports.PriceProvider using the go-binance futures API. It is read-only:
// the engine never routes orders to the exchange.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	source        PriceSource
	cacheTTL      time.Duration
	now           func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrice
}

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // Overrides the testnet/production URL when set
	Source     PriceSource
	CacheTTL   time.Duration // Zero disables caching
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.CacheTTL < 0 {
		return nil, fmt.Errorf("cache TTL must not be negative: %w", ports.ErrConfigurationError)
	}
	source := cfg.Source
	switch source {
	case "":
		source = SourceLast
	case SourceLast, SourceMark:
	default:
		return nil, fmt.Errorf("unknown price source %q: %w", cfg.Source, ports.ErrConfigurationError)
	}

	// Public market data endpoints work without keys.
	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance price client configured", map[string]interface{}{
		"baseURL": client.BaseURL,
		"source":  string(source),
	})

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		source:        source,
		cacheTTL:      cfg.CacheTTL,
		now:           time.Now,
		cache:         make(map[string]cachedPrice),
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Signature or API-key problems
			mappedErr = ports.ErrAuthenticationFailed
		case -1121: // Invalid symbol
			mappedErr = ports.ErrPriceUnavailable
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		default:
			// General classification for unmapped API errors
			mappedErr = ports.ErrExchangeUnavailable
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		// Parsing errors and empty responses mean there is no usable price.
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrPriceUnavailable, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// ReferencePrice returns the current price for a symbol from the configured source.
func (c *Client) ReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if price, ok := c.cached(symbol); ok {
		return price, nil
	}

	var (
		price decimal.Decimal
		err   error
	)
	switch c.source {
	case SourceMark:
		price, err = c.markPrice(ctx, symbol)
	default:
		price, err = c.lastPrice(ctx, symbol)
	}
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("non-positive price %s for %s", price, symbol), "ReferencePrice")
	}

	c.store(symbol, price)
	c.logger.Debug(ctx, "Reference price fetched", map[string]interface{}{"symbol": symbol, "price": price.String()})
	return price, nil
}

// markPrice retrieves the current mark price for a given symbol.
func (c *Client) markPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetMarkPrice"
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no price data returned for symbol %s", symbol)
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	return c.parsePrice(ctx, tickers[0].MarkPrice, op)
}

// lastPrice retrieves the last ticker price for a given symbol.
func (c *Client) lastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetTickerPrice"
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s", symbol)
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	return c.parsePrice(ctx, tickers[0].LastPrice, op)
}

func (c *Client) parsePrice(ctx context.Context, raw, op string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(raw)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", raw, err)
		return decimal.Zero, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

func (c *Client) cached(symbol string) (decimal.Decimal, bool) {
	if c.cacheTTL <= 0 {
		return decimal.Zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[symbol]
	if !ok || c.now().Sub(entry.fetchedAt) > c.cacheTTL {
		return decimal.Zero, false
	}
	return entry.price, true
}

func (c *Client) store(symbol string, price decimal.Decimal) {
	if c.cacheTTL <= 0 {
		return
	}
	c.mu.Lock()
	c.cache[symbol] = cachedPrice{price: price, fetchedAt: c.now()}
	c.mu.Unlock()
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		// Ping failure likely indicates connection or availability issues
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}
