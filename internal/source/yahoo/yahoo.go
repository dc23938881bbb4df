// Package yahoo fetches quotes from the Yahoo Finance v8 chart endpoint.
// No API key is required, which makes it the natural backup tier, but the
// endpoint is slow and aggressively throttles unattributed traffic.
package yahoo

import (
	"context"
	"time"

	"resty.dev/v3"

	"quotefeed/internal/source"
)

type Config struct {
	Name string
	Tier source.Tier
}

type Client struct {
	cfg    Config
	client *resty.Client
}

func New(cfg Config, rc *resty.Client) *Client {
	if cfg.Name == "" {
		cfg.Name = "yahoo"
	}
	if cfg.Tier == "" {
		cfg.Tier = source.TierBackup
	}
	return &Client{cfg: cfg, client: rc}
}

func (c *Client) Name() string      { return c.cfg.Name }
func (c *Client) Tier() source.Tier { return c.cfg.Tier }

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol              string   `json:"symbol"`
				RegularMarketPrice  float64  `json:"regularMarketPrice"`
				ChartPreviousClose  float64  `json:"chartPreviousClose"`
				RegularMarketVolume *float64 `json:"regularMarketVolume"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *Client) FetchQuote(ctx context.Context, symbol string) (source.Result, error) {
	var body chartResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"interval": "1d",
			"range":    "1d",
		}).
		SetResult(&body).
		Get("/v8/finance/chart/" + symbol)
	if err != nil {
		kind := source.Classify(err)
		if kind == "" || kind == source.KindUnknown {
			kind = source.KindTimeout
		}
		return source.Failed(c.cfg.Name, symbol, kind), err
	}
	if !resp.IsSuccess() {
		ferr := source.ClassifyStatus(resp.StatusCode(), symbol)
		return source.Failed(c.cfg.Name, symbol, ferr.Kind), ferr
	}
	if body.Chart.Error != nil {
		ferr := source.NewNotFoundError(symbol)
		return source.Failed(c.cfg.Name, symbol, ferr.Kind), ferr
	}
	if len(body.Chart.Result) == 0 || body.Chart.Result[0].Meta.RegularMarketPrice == 0 {
		ferr := source.NewBadResponseError("chart response missing market price")
		return source.Failed(c.cfg.Name, symbol, ferr.Kind), ferr
	}

	meta := body.Chart.Result[0].Meta
	res := source.Result{
		SourceName: c.cfg.Name,
		Symbol:     symbol,
		Price:      meta.RegularMarketPrice,
		Volume:     meta.RegularMarketVolume,
		FetchedAt:  time.Now().UTC(),
		Succeeded:  true,
	}
	if meta.ChartPreviousClose > 0 {
		change := meta.RegularMarketPrice - meta.ChartPreviousClose
		pct := change / meta.ChartPreviousClose * 100
		res.Change = &change
		res.ChangePercent = &pct
	}
	return res, nil
}
