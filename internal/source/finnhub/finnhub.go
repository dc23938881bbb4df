// Package finnhub fetches quotes from the Finnhub /quote endpoint.
// Finnhub answers 200 with all-zero fields for symbols it does not know.
package finnhub

import (
	"context"
	"time"

	"resty.dev/v3"

	"quotefeed/internal/source"
)

type Config struct {
	Name   string
	APIKey string
	Tier   source.Tier
}

type Client struct {
	cfg    Config
	client *resty.Client
}

func New(cfg Config, rc *resty.Client) *Client {
	if cfg.Name == "" {
		cfg.Name = "finnhub"
	}
	if cfg.Tier == "" {
		cfg.Tier = source.TierPrimary
	}
	return &Client{cfg: cfg, client: rc}
}

func (c *Client) Name() string      { return c.cfg.Name }
func (c *Client) Tier() source.Tier { return c.cfg.Tier }

type quoteResponse struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	PrevClose     float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

func (c *Client) FetchQuote(ctx context.Context, symbol string) (source.Result, error) {
	var body quoteResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"token":  c.cfg.APIKey,
		}).
		SetResult(&body).
		Get("/quote")
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
	if body.Current == 0 && body.PrevClose == 0 && body.Timestamp == 0 {
		ferr := source.NewNotFoundError(symbol)
		return source.Failed(c.cfg.Name, symbol, ferr.Kind), ferr
	}

	change := body.Change
	changePct := body.ChangePercent
	return source.Result{
		SourceName:    c.cfg.Name,
		Symbol:        symbol,
		Price:         body.Current,
		Change:        &change,
		ChangePercent: &changePct,
		FetchedAt:     time.Now().UTC(),
		Succeeded:     true,
	}, nil
}
