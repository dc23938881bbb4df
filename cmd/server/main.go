package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"quotefeed/internal/cache"
	"quotefeed/internal/config"
	"quotefeed/internal/fetch"
	"quotefeed/internal/httpx"
	"quotefeed/internal/logging"
	"quotefeed/internal/maintenance"
	"quotefeed/internal/persist"
	"quotefeed/internal/ratelimit"
	"quotefeed/internal/source"
	"quotefeed/internal/source/alphavantage"
	"quotefeed/internal/source/finnhub"
	"quotefeed/internal/source/yahoo"

	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		boot := logging.Setup(logging.Options{Console: true})
		boot.Fatal().Err(err).Msg("config")
	}
	logger := logging.Setup(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console,
	})

	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
		logger.Fatal().Err(err).Msg("create cache dir")
	}
	store, err := cache.OpenStore(cfg.Cache.Path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Cache.Path).Msg("open cache store")
	}
	qc := cache.New(cache.Config{MaxBytes: cfg.Cache.MaxBytes, Store: store, Log: logger})

	snap, err := persist.NewSnapshotter(cfg.Maintenance.BackupDir, qc, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("snapshotter")
	}
	if admitted, err := snap.RestoreLatest(); err != nil {
		logger.Warn().Err(err).Msg("snapshot restore failed, starting cold")
	} else if admitted > 0 {
		logger.Info().Int("entries", admitted).Msg("restored cache from latest snapshot")
	}

	fetcher := buildFetcher(cfg, qc, logger)

	daemon := maintenance.NewDaemon(qc, snap, maintenance.Config{
		SweepInterval: cfg.Maintenance.SweepInterval(),
		RetentionDays: cfg.Maintenance.BackupRetentionDays,
	}, logger)
	if err := daemon.Start(); err != nil {
		logger.Fatal().Err(err).Msg("maintenance daemon")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/quote", handleQuote(fetcher, time.Duration(cfg.Server.RequestTimeoutSec)*time.Second))
	mux.HandleFunc("/api/stats", handleStats(qc))
	mux.HandleFunc("/api/invalidate", handleInvalidate(qc))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(mux), logger))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Server.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	daemon.Stop()
	if _, err := snap.Snapshot(); err != nil {
		logger.Warn().Err(err).Msg("final snapshot failed")
	}
	if err := qc.Close(); err != nil {
		logger.Warn().Err(err).Msg("cache close failed")
	}
	logger.Info().Msg("shutdown complete")
}

// buildFetcher assembles the sources named by the priority order, their rate
// gate and the failover fetcher on top of them.
func buildFetcher(cfg config.Config, qc *cache.Cache, logger zerolog.Logger) *fetch.Fetcher {
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

	return fetch.New(sources, gate, qc, fetch.Config{
		MaxSecondarySources: cfg.Fetch.MaxSecondarySources,
		DefaultTTL:          cfg.Cache.DefaultTTL(),
		TTLByCategory:       cfg.Cache.TTLs(),
		Timeouts:            timeouts,
		Scoring:             cfg.Fetch.Scoring,
	}, logger)
}

func handleQuote(f *fetch.Fetcher, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
		if symbol == "" {
			writeError(w, http.StatusBadRequest, "missing symbol query param")
			return
		}
		category := strings.TrimSpace(r.URL.Query().Get("category"))
		if category == "" {
			category = "stocks"
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		agg, err := f.GetQuote(ctx, symbol, category)
		if err != nil {
			var ferr *source.FetchError
			if errors.As(err, &ferr) && ferr.Kind == source.KindNotFound {
				writeError(w, http.StatusNotFound, ferr.Message)
				return
			}
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, agg)
	}
}

func handleStats(qc *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, qc.Stats())
	}
}

type invalidateBody struct {
	Pattern  string `json:"pattern"`
	Category string `json:"category"`
}

func handleInvalidate(qc *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var b invalidateBody
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&b); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		deleted := qc.Invalidate(b.Pattern, b.Category)
		writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses responses when the client supports gzip.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		next.ServeHTTP(gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
