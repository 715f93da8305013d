package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"execEngine/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestClient(t *testing.T, baseURL string, ttl time.Duration) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, CacheTTL: ttl, Logger: &mockLogger{}})
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		wantURL string
	}{
		{name: "missing logger", cfg: Config{}, wantErr: true},
		{name: "production default", cfg: Config{Logger: &mockLogger{}}, wantURL: baseURLProduction},
		{name: "testnet", cfg: Config{UseTestnet: true, Logger: &mockLogger{}}, wantURL: baseURLTestnet},
		{name: "explicit base url", cfg: Config{BaseURL: "http://localhost:1", UseTestnet: true, Logger: &mockLogger{}}, wantURL: "http://localhost:1"},
		{name: "unknown source", cfg: Config{Source: "bid", Logger: &mockLogger{}}, wantErr: true},
		{name: "negative ttl", cfg: Config{CacheTTL: -time.Second, Logger: &mockLogger{}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, c.futuresClient.BaseURL)
			assert.Equal(t, SourceLast, c.source)
		})
	}
}

func TestHandleError(t *testing.T) {
	c := newTestClient(t, "http://localhost:1", 0)
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "rate limited", err: &common.APIError{Code: -1003, Message: "too many"}, want: ports.ErrRateLimited},
		{name: "bad signature", err: &common.APIError{Code: -1022}, want: ports.ErrAuthenticationFailed},
		{name: "invalid symbol", err: &common.APIError{Code: -1121, Message: "Invalid symbol."}, want: ports.ErrPriceUnavailable},
		{name: "bad parameter", err: &common.APIError{Code: -1102}, want: ports.ErrInvalidRequest},
		{name: "unmapped api code", err: &common.APIError{Code: -9999}, want: ports.ErrExchangeUnavailable},
		{name: "wrapped api error", err: fmt.Errorf("ping failed: %w", &common.APIError{Code: -1003}), want: ports.ErrRateLimited},
		{name: "deadline", err: context.DeadlineExceeded, want: ports.ErrTimeout},
		{name: "canceled", err: context.Canceled, want: ports.ErrContextCanceled},
		{name: "refused", err: errors.New("dial tcp: connection refused"), want: ports.ErrConnectionFailed},
		{name: "parse failure", err: errors.New("could not parse price 'x'"), want: ports.ErrPriceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.handleError(ctx, tt.err, "Op")
			assert.ErrorIs(t, got, tt.want)
		})
	}

	assert.NoError(t, c.handleError(ctx, nil, "Op"))
}

func TestReferencePrice_APIErrorMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	_, err := c.ReferencePrice(context.Background(), "NOPEUSDT")
	assert.ErrorIs(t, err, ports.ErrPriceUnavailable)
}

func TestReferencePrice_ServedFromCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":-1001,"msg":"Internal error"}`))
	}))
	defer srv.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, srv.URL, time.Minute)
	c.now = func() time.Time { return now }
	c.store("BTCUSDT", decimal.NewFromInt(64000))

	price, err := c.ReferencePrice(context.Background(), " btcusdt ")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(64000).Equal(price))
	assert.Equal(t, 0, calls)

	// Expired entries go back to the exchange.
	now = now.Add(2 * time.Minute)
	_, err = c.ReferencePrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)
	assert.Equal(t, 1, calls)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/ping", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	assert.NoError(t, c.Ping(context.Background()))
}
