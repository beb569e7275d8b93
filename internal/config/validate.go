package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-health/internal/model"
)

// Validate checks the configuration for the given command mode. Engine
// thresholds are checked in every mode; credentials only where the mode
// reaches the collaborator that needs them. The returned error wraps
// model.ErrInvalidConfiguration and lists every problem found.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "query", "migrate", "import":
	case "summary":
		if c.Summary.Enabled && c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required when summary.enabled is set")
		}
	case "sync":
		if c.Salesforce.ClientID == "" {
			errs = append(errs, "salesforce.client_id is required")
		}
		if c.Salesforce.Username == "" {
			errs = append(errs, "salesforce.username is required")
		}
		if c.Salesforce.KeyPath == "" {
			errs = append(errs, "salesforce.key_path is required")
		}
	case "serve":
		if c.Summary.Enabled && c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required when summary.enabled is set")
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Monitoring.Enabled && c.Monitoring.CheckIntervalMinutes <= 0 {
			errs = append(errs, "monitoring.check_interval_minutes must be > 0")
		}
		if c.Monitoring.AtRiskValueRatio <= 0 || c.Monitoring.AtRiskValueRatio > 1 {
			errs = append(errs, "monitoring.at_risk_value_ratio must be in (0, 1]")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for the postgres driver")
	}
	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	errs = append(errs, c.engineErrors()...)

	if len(errs) > 0 {
		return eris.Wrap(model.ErrInvalidConfiguration, "config: "+strings.Join(errs, "; "))
	}
	return nil
}

// engineErrors reports negative or contradictory engine thresholds.
func (c *Config) engineErrors() []string {
	var errs []string

	r := c.Risk
	if r.EnterpriseThreshold < 0 {
		errs = append(errs, "risk.enterprise_threshold must be >= 0")
	}
	nonNegative := map[string]int{
		"risk.stalled_days":               r.StalledDays,
		"risk.stalled_days_enterprise":    r.StalledDaysEnterprise,
		"risk.ghosted_days":               r.GhostedDays,
		"risk.ghosted_days_enterprise":    r.GhostedDaysEnterprise,
		"risk.recent_activity_days":       r.RecentActivityDays,
		"risk.delayed_stage_days":         r.DelayedStageDays,
		"movement.new_entity_window_days": c.Movement.NewEntityWindowDays,
		"movement.lookback_days":          c.Movement.LookbackDays,
		"zombie.cycle_lookback_days":      c.Zombie.CycleLookbackDays,
		"zombie.min_age_days":             c.Zombie.MinAgeDays,
	}
	for _, name := range sortedKeys(nonNegative) {
		if nonNegative[name] < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}
	if r.StalledDaysEnterprise < r.StalledDays {
		errs = append(errs, "risk.stalled_days_enterprise must be >= risk.stalled_days")
	}
	if r.GhostedDaysEnterprise < r.GhostedDays {
		errs = append(errs, "risk.ghosted_days_enterprise must be >= risk.ghosted_days")
	}
	if r.RebookCoordinator != "" {
		for _, p := range r.PlaceholderOwners {
			if strings.EqualFold(p, r.RebookCoordinator) {
				errs = append(errs, "risk.rebook_coordinator must not appear in risk.placeholder_owners")
				break
			}
		}
	}

	if len(c.Engagement.HealthWindows) == 0 {
		errs = append(errs, "engagement.health_windows must name at least one window")
	}
	for _, name := range sortedKeys(c.Engagement.HealthWindows) {
		if c.Engagement.HealthWindows[name] <= 0 {
			errs = append(errs, fmt.Sprintf("engagement.health_windows.%s must be > 0", name))
		}
	}

	for _, f := range c.Aging.Families {
		errs = append(errs, ageLimitErrors("aging.families."+f.Name, f.Limits)...)
	}
	errs = append(errs, ageLimitErrors("aging.default", c.Aging.Default)...)

	s := c.Scorer
	if s.EngagementCap < 0 || s.ThreadingCap < 0 || s.StageAgeCap < 0 || s.SizeCap < 0 {
		errs = append(errs, "scorer caps must be >= 0")
	}
	if sum := s.EngagementCap + s.ThreadingCap + s.StageAgeCap + s.SizeCap; sum > 100 {
		errs = append(errs, fmt.Sprintf("scorer caps must sum to <= 100, got %.0f", sum))
	}
	if s.EngagementWindowDays <= 0 {
		errs = append(errs, "scorer.engagement_window_days must be > 0")
	}
	if s.FullThreadingContacts <= 0 {
		errs = append(errs, "scorer.full_threading_contacts must be > 0")
	}
	if s.HighRevenue < 0 || s.CriticalRevenue < s.HighRevenue {
		errs = append(errs, "scorer.critical_revenue must be >= scorer.high_revenue >= 0")
	}

	if c.Zombie.CycleMultiplier <= 0 {
		errs = append(errs, "zombie.cycle_multiplier must be > 0")
	}
	if c.Zombie.MaxDaysInStage <= 0 {
		errs = append(errs, "zombie.max_days_in_stage must be > 0")
	}

	if c.Pace.QuarterlyTarget < 0 {
		errs = append(errs, "pace.quarterly_target must be >= 0")
	}
	if c.Pace.AtRiskRatio <= 0 || c.Pace.AtRiskRatio > 1 {
		errs = append(errs, "pace.at_risk_ratio must be in (0, 1]")
	}

	if c.Cache.TTLMinutes <= 0 {
		errs = append(errs, "cache.ttl_minutes must be > 0")
	}
	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		errs = append(errs, fmt.Sprintf("cache.driver %q is not supported", c.Cache.Driver))
	}
	if c.Cache.Driver == "redis" && c.Cache.RedisURL == "" {
		errs = append(errs, "cache.redis_url is required for the redis driver")
	}

	if c.Engine.MaxConcurrency < 1 || c.Engine.MaxConcurrency > 64 {
		errs = append(errs, "engine.max_concurrency must be between 1 and 64")
	}
	if c.Engine.StoreTimeoutSecs <= 0 {
		errs = append(errs, "engine.store_timeout_secs must be > 0")
	}
	if c.Summary.TimeoutSecs <= 0 {
		errs = append(errs, "summary.timeout_secs must be > 0")
	}

	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func ageLimitErrors(name string, l AgeLimits) []string {
	var errs []string
	if l.YellowDays < 0 {
		errs = append(errs, name+".yellow_days must be >= 0")
	}
	if l.YellowDays < l.GreenDays {
		errs = append(errs, name+".yellow_days must be >= green_days")
	}
	return errs
}
