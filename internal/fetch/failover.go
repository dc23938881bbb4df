// Package fetch implements the failover quote pipeline: cache check, a
// rate-limited walk over the configured sources in priority order,
// cross-validation of secondary answers, and write-back into the tiered
// cache.
package fetch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"quotefeed/internal/cache"
	"quotefeed/internal/ratelimit"
	"quotefeed/internal/source"
)

// Aggregated is the value object returned to callers: the primary answer,
// any secondary answers gathered for cross-validation, and provenance. It is
// never mutated after construction; it is also what gets persisted as the
// cache payload.
type Aggregated struct {
	Symbol           string          `json:"symbol"`
	Primary          source.Result   `json:"primary"`
	Secondaries      []source.Result `json:"secondaries,omitempty"`
	SourcesUsed      []string        `json:"sources_used"`
	SourcesFailed    []string        `json:"sources_failed,omitempty"`
	ReliabilityScore float64         `json:"reliability_score"`
	CrossValidation  CrossValidation `json:"cross_validation"`

	IsFromCache    bool            `json:"is_from_cache"`
	CacheFreshness cache.Freshness `json:"cache_freshness,omitempty"`
	CacheAge       string          `json:"cache_age,omitempty"`
	Warning        string          `json:"warning,omitempty"`
}

// Config tunes the fetcher. Zero values fall back to the documented
// defaults.
type Config struct {
	MaxSecondarySources int
	DefaultTTL          time.Duration
	TTLByCategory       map[string]time.Duration
	Timeouts            map[string]time.Duration // per source name, else tier default
	Scoring             ScoringConfig
}

const (
	DefaultMaxSecondarySources = 2
	DefaultTTL                 = 300 * time.Second
)

// Fetcher walks sources in priority order behind the rate gate, shielding
// callers from upstream failure. Safe for concurrent use; calls for the same
// symbol are coalesced so only one upstream sequence runs at a time per key.
type Fetcher struct {
	sources []source.Source
	gate    *ratelimit.Gate
	cache   *cache.Cache
	cfg     Config
	log     zerolog.Logger

	flight singleflight.Group
}

func New(sources []source.Source, gate *ratelimit.Gate, c *cache.Cache, cfg Config, log zerolog.Logger) *Fetcher {
	if cfg.MaxSecondarySources <= 0 {
		cfg.MaxSecondarySources = DefaultMaxSecondarySources
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if (cfg.Scoring == ScoringConfig{}) {
		cfg.Scoring = DefaultScoring()
	}
	return &Fetcher{
		sources: sources,
		gate:    gate,
		cache:   c,
		cfg:     cfg,
		log:     log.With().Str("component", "fetcher").Logger(),
	}
}

// GetQuote is the sole entry point. A fresh cache hit returns immediately;
// otherwise the sources are walked in priority order and the aggregate is
// written back with the category's TTL. When every source fails, a stale
// cache entry is served with its freshness classification; with no cached
// value either, the caller sees a single not_found error.
func (f *Fetcher) GetQuote(ctx context.Context, symbol, category string) (Aggregated, error) {
	key := cache.Key(category, symbol)

	if agg, ok := f.fromCache(key, false); ok {
		return agg, nil
	}

	// Concurrent callers for the same key await the first caller's fetch
	// instead of issuing duplicate upstream sequences.
	v, err, shared := f.flight.Do(key, func() (interface{}, error) {
		// A coalesced predecessor may have populated the cache while we
		// waited on the flight group.
		if agg, ok := f.fromCache(key, false); ok {
			return agg, nil
		}
		return f.fetchUpstream(ctx, key, symbol, category)
	})
	if err != nil {
		return Aggregated{}, err
	}
	if shared {
		f.log.Debug().Str("key", key).Msg("coalesced duplicate fetch")
	}
	return v.(Aggregated), nil
}

// fromCache decodes a cached aggregate. allowStale switches between the
// fresh-read and fallback-read paths.
func (f *Fetcher) fromCache(key string, allowStale bool) (Aggregated, bool) {
	var payload []byte
	var meta cache.Meta
	var ok bool
	if allowStale {
		payload, meta, ok = f.cache.GetEvenIfStale(key)
	} else {
		payload, meta, ok = f.cache.Get(key)
	}
	if !ok {
		return Aggregated{}, false
	}
	var agg Aggregated
	if err := json.Unmarshal(payload, &agg); err != nil {
		f.log.Warn().Err(err).Str("key", key).Msg("undecodable cache payload, invalidating")
		f.cache.Invalidate(key, "")
		return Aggregated{}, false
	}
	agg.IsFromCache = true
	agg.CacheFreshness = meta.Freshness
	agg.CacheAge = meta.AgeString
	// A fresh hit is current by definition; only fallback reads surface the
	// age warning.
	if allowStale {
		agg.Warning = meta.Warning
	}
	return agg, true
}

func (f *Fetcher) fetchUpstream(ctx context.Context, key, symbol, category string) (Aggregated, error) {
	var primary *source.Result
	var secondaries []source.Result
	var used, failed []string

	for _, src := range f.sources {
		if primary != nil && len(secondaries) >= f.cfg.MaxSecondarySources {
			break
		}
		if err := f.gate.Acquire(ctx, src.Name()); err != nil {
			// Context died while waiting on the gate; no point trying the
			// remaining sources against the same context.
			failed = append(failed, src.Name())
			f.log.Debug().Err(err).Str("source", src.Name()).Msg("rate gate wait aborted")
			break
		}

		res, err := f.fetchOne(ctx, src, symbol)
		if err != nil || !res.Succeeded {
			failed = append(failed, src.Name())
			f.log.Debug().Err(err).
				Str("source", src.Name()).
				Str("symbol", symbol).
				Str("kind", string(res.ErrKind)).
				Msg("source failed")
			continue
		}

		used = append(used, src.Name())
		if primary == nil {
			p := res
			primary = &p
		} else {
			secondaries = append(secondaries, res)
		}
	}

	if primary == nil {
		if agg, ok := f.fromCache(key, true); ok {
			if agg.Warning == "" {
				agg.Warning = "all sources failed; serving cached data from " + agg.CacheAge
			}
			f.log.Warn().Str("symbol", symbol).Strs("failed", failed).Msg("all sources failed, served stale cache")
			return agg, nil
		}
		return Aggregated{}, &source.FetchError{
			Kind:    source.KindNotFound,
			Message: "no data available for " + symbol + " from any source, and no cached value exists",
		}
	}

	agg := Aggregated{
		Symbol:           symbol,
		Primary:          *primary,
		Secondaries:      secondaries,
		SourcesUsed:      used,
		SourcesFailed:    failed,
		ReliabilityScore: f.cfg.Scoring.score(f.tierOf(primary.SourceName), len(secondaries)),
		CrossValidation:  Compare(*primary, secondaries),
	}

	if payload, err := json.Marshal(agg); err == nil {
		if err := f.cache.Set(key, payload, f.ttlFor(category), category); err != nil {
			f.log.Warn().Err(err).Str("key", key).Msg("cache write-back failed")
		}
	}

	f.log.Info().
		Str("symbol", symbol).
		Str("primary", primary.SourceName).
		Int("secondaries", len(secondaries)).
		Float64("confidence", agg.CrossValidation.Confidence).
		Float64("score", agg.ReliabilityScore).
		Msg("quote aggregated")
	return agg, nil
}

// fetchOne runs a single adapter under its timeout budget. The network call
// happens with no cache or fetcher lock held.
func (f *Fetcher) fetchOne(ctx context.Context, src source.Source, symbol string) (source.Result, error) {
	timeout := src.Tier().DefaultTimeout()
	if t, ok := f.cfg.Timeouts[src.Name()]; ok && t > 0 {
		timeout = t
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return src.FetchQuote(fctx, symbol)
}

func (f *Fetcher) tierOf(sourceName string) source.Tier {
	for _, src := range f.sources {
		if src.Name() == sourceName {
			return src.Tier()
		}
	}
	return source.TierBackup
}

func (f *Fetcher) ttlFor(category string) time.Duration {
	if ttl, ok := f.cfg.TTLByCategory[category]; ok && ttl > 0 {
		return ttl
	}
	return f.cfg.DefaultTTL
}
