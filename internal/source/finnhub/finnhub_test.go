package finnhub_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quotefeed/internal/httpx"
	"quotefeed/internal/source"
	"quotefeed/internal/source/finnhub"
)

func newClient(t *testing.T, handler http.HandlerFunc) *finnhub.Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The real endpoint serves JSON; resty only unmarshals into
		// SetResult when the response says so.
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return finnhub.New(finnhub.Config{APIKey: "k"}, httpx.New(ts.URL, time.Second))
}

func TestFetchQuote_ParsesQuote(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/quote", r.URL.Path)
		require.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		require.Equal(t, "k", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(`{"c":189.3,"d":1.35,"dp":0.7183,"pc":187.95,"t":1700000000}`))
	})

	res, err := c.FetchQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	require.True(t, res.Succeeded)
	require.Equal(t, "finnhub", res.SourceName)
	require.Equal(t, 189.3, res.Price)
	require.Equal(t, 1.35, *res.Change)
	require.InDelta(t, 0.7183, *res.ChangePercent, 1e-9)
}

func TestFetchQuote_AllZeroBodyIsNotFound(t *testing.T) {
	t.Parallel()

	// Finnhub answers 200 with zeroes for unknown symbols.
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"c":0,"d":0,"dp":0,"pc":0,"t":0}`))
	})

	res, err := c.FetchQuote(context.Background(), "NOPE")
	require.Error(t, err)
	require.False(t, res.Succeeded)
	require.Equal(t, source.KindNotFound, res.ErrKind)
}

func TestFetchQuote_Unauthorized(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid API key", http.StatusUnauthorized)
	})

	res, err := c.FetchQuote(context.Background(), "AAPL")
	require.Error(t, err)
	require.Equal(t, source.KindBadResponse, res.ErrKind)
}
