// Command fetch resolves one or more symbols once and prints the aggregates
// as JSON. Useful for smoke-testing source credentials and inspecting
// cross-validation output without running the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"quotefeed/internal/cache"
	"quotefeed/internal/config"
	"quotefeed/internal/fetch"
	"quotefeed/internal/httpx"
	"quotefeed/internal/logging"
	"quotefeed/internal/ratelimit"
	"quotefeed/internal/source"
	"quotefeed/internal/source/alphavantage"
	"quotefeed/internal/source/finnhub"
	"quotefeed/internal/source/yahoo"
)

func main() {
	var symbolsCSV string
	var category string
	var configPath string
	var timeout int
	var noStore bool

	flag.StringVar(&symbolsCSV, "symbols", "AAPL", "comma-separated symbols to fetch")
	flag.StringVar(&category, "category", "stocks", "cache category for the symbols")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to quotefeed.yaml (optional)")
	flag.IntVar(&timeout, "timeout", 30, "overall timeout in seconds")
	flag.BoolVar(&noStore, "no-store", false, "skip the persistent cache tier")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(logging.Options{Level: cfg.Log.Level, Console: true})

	symbols := splitCSV(symbolsCSV)
	if len(symbols) == 0 {
		logger.Fatal().Msg("no symbols provided")
	}

	var store *cache.Store
	if !noStore {
		if store, err = cache.OpenStore(cfg.Cache.Path); err != nil {
			logger.Warn().Err(err).Msg("persistent cache unavailable, running memory-only")
			store = nil
		}
	}
	qc := cache.New(cache.Config{MaxBytes: cfg.Cache.MaxBytes, Store: store, Log: logger})
	defer qc.Close()

	gate := ratelimit.NewGate(time.Duration(cfg.Fetch.MinIntervalMs) * time.Millisecond)
	timeouts := make(map[string]time.Duration)

	var sources []source.Source
	for _, name := range cfg.Fetch.PriorityOrder {
		sc := cfg.Sources[name]
		if !sc.Enabled {
			continue
		}
		rc := httpx.New(sc.BaseURL, time.Duration(cfg.Server.RequestTimeoutSec)*time.Second)

		var src source.Source
		switch name {
		case "alphavantage":
			src = alphavantage.New(alphavantage.Config{APIKey: sc.APIKey, Tier: source.Tier(sc.Tier)}, rc)
		case "finnhub":
			src = finnhub.New(finnhub.Config{APIKey: sc.APIKey, Tier: source.Tier(sc.Tier)}, rc)
		case "yahoo":
			src = yahoo.New(yahoo.Config{Tier: source.Tier(sc.Tier)}, rc)
		default:
			logger.Warn().Str("source", name).Msg("unknown source in priority order, skipping")
			continue
		}
		if sc.MinIntervalMs > 0 {
			gate.SetInterval(src.Name(), time.Duration(sc.MinIntervalMs)*time.Millisecond)
		}
		if sc.TimeoutMs > 0 {
			timeouts[src.Name()] = time.Duration(sc.TimeoutMs) * time.Millisecond
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		logger.Fatal().Msg("no sources enabled; check sources config and API keys")
	}

	fetcher := fetch.New(sources, gate, qc, fetch.Config{
		MaxSecondarySources: cfg.Fetch.MaxSecondarySources,
		DefaultTTL:          cfg.Cache.DefaultTTL(),
		TTLByCategory:       cfg.Cache.TTLs(),
		Timeouts:            timeouts,
		Scoring:             cfg.Fetch.Scoring,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	var aggregates []fetch.Aggregated
	for _, symbol := range symbols {
		agg, err := fetcher.GetQuote(ctx, symbol, category)
		if err != nil {
			logger.Error().Err(err).Str("symbol", symbol).Msg("fetch failed")
			continue
		}
		aggregates = append(aggregates, agg)
	}
	if len(aggregates) == 0 {
		logger.Fatal().Msg("no quotes resolved")
	}

	out := struct {
		Quotes []fetch.Aggregated `json:"quotes"`
	}{Quotes: aggregates}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
