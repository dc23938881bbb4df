package source

import (
	"context"
	"time"
)

// Tier ranks a source for timeout budgets and reliability scoring.
// Primary-tier sources are fast and answer first; backup-tier sources are
// slower and only consulted further down the priority list.
type Tier string

const (
	TierPrimary Tier = "primary"
	TierBackup  Tier = "backup"
)

// DefaultTimeout returns the fetch budget for a tier when the config does
// not override it.
func (t Tier) DefaultTimeout() time.Duration {
	if t == TierBackup {
		return 10 * time.Second
	}
	return 2 * time.Second
}

// Result is the normalized answer from one upstream provider for one symbol.
// Fields a provider does not report stay nil. A Result is immutable once
// constructed; it is owned by the fetch that produced it.
type Result struct {
	SourceName    string    `json:"source_name"`
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        *float64  `json:"change,omitempty"`
	ChangePercent *float64  `json:"change_percent,omitempty"`
	Volume        *float64  `json:"volume,omitempty"`
	FetchedAt     time.Time `json:"fetched_at"`
	Succeeded     bool      `json:"succeeded"`
	ErrKind       ErrKind   `json:"err_kind,omitempty"`
}

// Failed builds the Result recorded for a source that did not answer.
func Failed(name, symbol string, kind ErrKind) Result {
	return Result{
		SourceName: name,
		Symbol:     symbol,
		FetchedAt:  time.Now().UTC(),
		ErrKind:    kind,
	}
}

//go:generate mockgen -package=sourcetest -destination=sourcetest/mock_source.go -source=source.go Source

// Source is implemented once per upstream provider. Adapters must honor the
// context deadline, must not touch the cache, and report expected failures
// (timeouts, 4xx, empty bodies) as a *FetchError rather than panicking.
type Source interface {
	Name() string
	Tier() Tier
	FetchQuote(ctx context.Context, symbol string) (Result, error)
}
