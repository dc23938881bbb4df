// Package alphavantage fetches quotes from the Alpha Vantage GLOBAL_QUOTE
// endpoint. Every numeric field arrives as a string and the free tier
// signals rate limiting with a 200 response carrying only a "Note".
package alphavantage

import (
	"context"
	"strconv"
	"strings"
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
		cfg.Name = "alphavantage"
	}
	if cfg.Tier == "" {
		cfg.Tier = source.TierPrimary
	}
	return &Client{cfg: cfg, client: rc}
}

func (c *Client) Name() string      { return c.cfg.Name }
func (c *Client) Tier() source.Tier { return c.cfg.Tier }

type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol        string `json:"01. symbol"`
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

func (c *Client) FetchQuote(ctx context.Context, symbol string) (source.Result, error) {
	var body globalQuoteResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"function": "GLOBAL_QUOTE",
			"symbol":   symbol,
			"apikey":   c.cfg.APIKey,
		}).
		SetResult(&body).
		Get("")
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
	// The free tier reports throttling inside a 200 body.
	if body.Note != "" || body.Information != "" {
		ferr := source.NewRateLimitedError(resp.StatusCode())
		return source.Failed(c.cfg.Name, symbol, ferr.Kind), ferr
	}
	if body.GlobalQuote.Price == "" {
		ferr := source.NewNotFoundError(symbol)
		return source.Failed(c.cfg.Name, symbol, ferr.Kind), ferr
	}
	price, err := strconv.ParseFloat(body.GlobalQuote.Price, 64)
	if err != nil {
		ferr := source.NewBadResponseError("unparseable price " + body.GlobalQuote.Price)
		return source.Failed(c.cfg.Name, symbol, ferr.Kind), ferr
	}

	res := source.Result{
		SourceName: c.cfg.Name,
		Symbol:     symbol,
		Price:      price,
		FetchedAt:  time.Now().UTC(),
		Succeeded:  true,
	}
	if v, err := strconv.ParseFloat(body.GlobalQuote.Change, 64); err == nil {
		res.Change = &v
	}
	pct := strings.TrimSuffix(body.GlobalQuote.ChangePercent, "%")
	if v, err := strconv.ParseFloat(pct, 64); err == nil {
		res.ChangePercent = &v
	}
	if v, err := strconv.ParseFloat(body.GlobalQuote.Volume, 64); err == nil {
		res.Volume = &v
	}
	return res, nil
}
