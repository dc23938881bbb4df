package fetch

import "quotefeed/internal/source"

// ScoringConfig holds the reliability-score weights. The exact numbers are
// tunable configuration, not business logic; they only need to encode that
// primary-tier sources outweigh backup-tier ones and that live data beats
// cached data.
type ScoringConfig struct {
	PrimaryTierPoints float64 `mapstructure:"primary_tier_points"`
	BackupTierPoints  float64 `mapstructure:"backup_tier_points"`
	SecondaryPoints   float64 `mapstructure:"secondary_points"`
	LiveBonus         float64 `mapstructure:"live_bonus"`
}

func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		PrimaryTierPoints: 40,
		BackupTierPoints:  25,
		SecondaryPoints:   15,
		LiveBonus:         10,
	}
}

// score computes the 0-100 reliability estimate for a live aggregate: tier
// points for the primary, flat points per additional responding source, and
// a bonus because nothing was served from cache.
func (sc ScoringConfig) score(primaryTier source.Tier, secondaries int) float64 {
	s := sc.BackupTierPoints
	if primaryTier == source.TierPrimary {
		s = sc.PrimaryTierPoints
	}
	s += float64(secondaries) * sc.SecondaryPoints
	s += sc.LiveBonus
	if s > 100 {
		s = 100
	}
	if s < 0 {
		s = 0
	}
	return s
}
