package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"quotefeed/internal/cache"
	"quotefeed/internal/fetch"
	"quotefeed/internal/ratelimit"
	"quotefeed/internal/source"
	"quotefeed/internal/source/sourcetest"
)

func testFetcher(t *testing.T, qc *cache.Cache, price float64) *fetch.Fetcher {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := sourcetest.NewMockSource(ctrl)
	m.EXPECT().Name().Return("test").AnyTimes()
	m.EXPECT().Tier().Return(source.TierPrimary).AnyTimes()
	m.EXPECT().FetchQuote(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, symbol string) (source.Result, error) {
			if symbol == "NOPE" {
				return source.Failed("test", symbol, source.KindNotFound), source.NewNotFoundError(symbol)
			}
			return source.Result{
				SourceName: "test",
				Symbol:     symbol,
				Price:      price,
				FetchedAt:  time.Now().UTC(),
				Succeeded:  true,
			}, nil
		}).
		AnyTimes()

	gate := ratelimit.NewGate(time.Millisecond)
	return fetch.New([]source.Source{m}, gate, qc, fetch.Config{}, zerolog.Nop())
}

func TestHandleQuote_ReturnsAggregate(t *testing.T) {
	qc := cache.New(cache.Config{Log: zerolog.Nop()})
	f := testFetcher(t, qc, 189.3)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/quote?symbol=AAPL", nil)
	handleQuote(f, 5*time.Second)(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var agg fetch.Aggregated
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &agg))
	require.Equal(t, "AAPL", agg.Symbol)
	require.Equal(t, 189.3, agg.Primary.Price)
	require.False(t, agg.IsFromCache)
}

func TestHandleQuote_MissingSymbolIsBadRequest(t *testing.T) {
	qc := cache.New(cache.Config{Log: zerolog.Nop()})
	f := testFetcher(t, qc, 1)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/quote", nil)
	handleQuote(f, 5*time.Second)(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleQuote_UnknownSymbolIs404(t *testing.T) {
	qc := cache.New(cache.Config{Log: zerolog.Nop()})
	f := testFetcher(t, qc, 1)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/quote?symbol=NOPE", nil)
	handleQuote(f, 5*time.Second)(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleStats(t *testing.T) {
	qc := cache.New(cache.Config{Log: zerolog.Nop()})
	require.NoError(t, qc.Set("stocks:AAPL", []byte("x"), 0, "stocks"))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	handleStats(qc)(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.TotalEntries)
}

func TestHandleInvalidate(t *testing.T) {
	qc := cache.New(cache.Config{Log: zerolog.Nop()})
	require.NoError(t, qc.Set("stocks:AAPL", []byte("x"), 0, "stocks"))
	require.NoError(t, qc.Set("crypto:BTC", []byte("y"), 0, "crypto"))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/invalidate", strings.NewReader(`{"category":"stocks"}`))
	handleInvalidate(qc)(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp["deleted"])
	require.Equal(t, 1, qc.Stats().TotalEntries)
}

func TestHandleInvalidate_RequiresPost(t *testing.T) {
	qc := cache.New(cache.Config{Log: zerolog.Nop()})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/invalidate", nil)
	handleInvalidate(qc)(rr, req)

	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
