package yahoo_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quotefeed/internal/httpx"
	"quotefeed/internal/source"
	"quotefeed/internal/source/yahoo"
)

func newClient(t *testing.T, handler http.HandlerFunc) *yahoo.Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The real endpoint serves JSON; resty only unmarshals into
		// SetResult when the response says so.
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return yahoo.New(yahoo.Config{}, httpx.New(ts.URL, time.Second))
}

func TestFetchQuote_ComputesChangeFromPreviousClose(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"chart": {
				"result": [{
					"meta": {
						"symbol": "AAPL",
						"regularMarketPrice": 200.0,
						"chartPreviousClose": 190.0,
						"regularMarketVolume": 1000
					}
				}],
				"error": null
			}
		}`))
	})

	res, err := c.FetchQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	require.True(t, res.Succeeded)
	require.Equal(t, "yahoo", res.SourceName)
	require.Equal(t, source.TierBackup, c.Tier())
	require.Equal(t, 200.0, res.Price)
	require.NotNil(t, res.Change)
	require.InDelta(t, 10.0, *res.Change, 1e-9)
	require.NotNil(t, res.ChangePercent)
	require.InDelta(t, 10.0/190.0*100, *res.ChangePercent, 1e-9)
	require.NotNil(t, res.Volume)
	require.Equal(t, 1000.0, *res.Volume)
}

func TestFetchQuote_ChartErrorIsNotFound(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	})

	res, err := c.FetchQuote(context.Background(), "NOPE")
	require.Error(t, err)
	require.Equal(t, source.KindNotFound, res.ErrKind)
}

func TestFetchQuote_MissingPriceIsBadResponse(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"symbol":"AAPL"}}],"error":null}}`))
	})

	res, err := c.FetchQuote(context.Background(), "AAPL")
	require.Error(t, err)
	require.Equal(t, source.KindBadResponse, res.ErrKind)
}
