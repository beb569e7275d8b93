// Package scorer computes the focus/priority score of open deals and flags
// zombie deals for exclusion from active pipeline metrics.
package scorer

import "github.com/sells-group/deal-health/internal/config"

// DefaultScorerConfig returns a config.ScorerConfig with sensible defaults.
// Caps sum to 100.
func DefaultScorerConfig() config.ScorerConfig {
	return config.ScorerConfig{
		// Caps (sum = 100).
		EngagementCap: 30,
		ThreadingCap:  30,
		StageAgeCap:   20,
		SizeCap:       20,

		// Normalization.
		EngagementWindowDays:  14,
		FullThreadingContacts: 2,

		// Priority buckets.
		CriticalRevenue: 100_000,
		HighRevenue:     50_000,
	}
}

// DefaultZombieConfig returns the zombie exclusion defaults.
func DefaultZombieConfig() config.ZombieConfig {
	return config.ZombieConfig{
		CycleMultiplier:   3,
		MaxDaysInStage:    180,
		CycleLookbackDays: 90,
		MinAgeDays:        0,
	}
}
