package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Entry is one cached payload plus the bookkeeping the cache needs for TTL
// expiry, byte-budget eviction and integrity checking. The payload is opaque
// to the cache.
type Entry struct {
	Key            string    `msgpack:"key"`
	Payload        []byte    `msgpack:"payload"`
	CreatedAt      time.Time `msgpack:"created_at"`
	LastAccessedAt time.Time `msgpack:"last_accessed_at"`
	AccessCount    uint64    `msgpack:"access_count"`
	TTLSeconds     uint32    `msgpack:"ttl_seconds"`
	ExpiresAt      time.Time `msgpack:"expires_at"` // zero => no absolute expiry
	SizeBytes      uint32    `msgpack:"size_bytes"`
	Category       string    `msgpack:"category"`
	Checksum       string    `msgpack:"checksum"`
}

// Expired reports whether the entry has an absolute expiry in the past.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Age is the time since the entry was created.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Checksum computes the integrity digest stored alongside each payload.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Key builds the composite cache key for a category and logical identifier,
// e.g. Key("stocks", "AAPL") -> "stocks:AAPL".
func Key(category, id string) string {
	return category + ":" + id
}

// Freshness buckets an entry's age for staleness reporting on fallback
// reads.
type Freshness string

const (
	VeryFresh Freshness = "very_fresh"
	Fresh     Freshness = "fresh"
	Recent    Freshness = "recent"
	Stale     Freshness = "stale"
	VeryStale Freshness = "very_stale"
)

func ClassifyAge(age time.Duration) Freshness {
	switch {
	case age < time.Minute:
		return VeryFresh
	case age < time.Hour:
		return Fresh
	case age < 24*time.Hour:
		return Recent
	case age < 7*24*time.Hour:
		return Stale
	default:
		return VeryStale
	}
}

// AgeString renders an age for provenance display, e.g. "14 minutes ago".
func AgeString(age time.Duration) string {
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		m := int(age.Minutes())
		if m == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", m)
	case age < 24*time.Hour:
		h := int(age.Hours())
		if h == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", h)
	default:
		d := int(age.Hours() / 24)
		if d == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", d)
	}
}

// AgeWarning returns a reliability warning for stale fallback reads. Empty
// below two hours; stronger wording past a day.
func AgeWarning(age time.Duration) string {
	switch {
	case age <= 2*time.Hour:
		return ""
	case age <= 24*time.Hour:
		return fmt.Sprintf("data is %s old and may not reflect current prices", AgeString(age))
	default:
		return fmt.Sprintf("data is %s old and is likely outdated; treat with caution", AgeString(age))
	}
}

// Meta is the read-side view of an entry's bookkeeping returned by Get and
// GetEvenIfStale.
type Meta struct {
	Key         string
	Category    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	AccessCount uint64
	SizeBytes   uint32
	Checksum    string
	Freshness   Freshness
	AgeString   string
	Warning     string
}

func metaFor(e *Entry, now time.Time) Meta {
	age := e.Age(now)
	return Meta{
		Key:         e.Key,
		Category:    e.Category,
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   e.ExpiresAt,
		AccessCount: e.AccessCount,
		SizeBytes:   e.SizeBytes,
		Checksum:    e.Checksum,
		Freshness:   ClassifyAge(age),
		AgeString:   AgeString(age),
		Warning:     AgeWarning(age),
	}
}
