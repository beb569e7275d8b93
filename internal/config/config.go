package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Risk       RiskConfig       `yaml:"risk" mapstructure:"risk"`
	Engagement EngagementConfig `yaml:"engagement" mapstructure:"engagement"`
	Aging      AgingConfig      `yaml:"aging" mapstructure:"aging"`
	Scorer     ScorerConfig     `yaml:"scorer" mapstructure:"scorer"`
	Zombie     ZombieConfig     `yaml:"zombie" mapstructure:"zombie"`
	Movement   MovementConfig   `yaml:"movement" mapstructure:"movement"`
	Pace       PaceConfig       `yaml:"pace" mapstructure:"pace"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Summary    SummaryConfig    `yaml:"summary" mapstructure:"summary"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the snapshot store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the query-result cache in front of the engine.
type CacheConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	TTLMinutes int    `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
	RedisURL   string `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix  string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// RiskConfig holds the risk classifier thresholds and identity sets.
type RiskConfig struct {
	EnterpriseThreshold   float64  `yaml:"enterprise_threshold" mapstructure:"enterprise_threshold"`
	StalledDays           int      `yaml:"stalled_days" mapstructure:"stalled_days"`
	StalledDaysEnterprise int      `yaml:"stalled_days_enterprise" mapstructure:"stalled_days_enterprise"`
	GhostedDays           int      `yaml:"ghosted_days" mapstructure:"ghosted_days"`
	GhostedDaysEnterprise int      `yaml:"ghosted_days_enterprise" mapstructure:"ghosted_days_enterprise"`
	RecentActivityDays    int      `yaml:"recent_activity_days" mapstructure:"recent_activity_days"`
	IndustryKeywords      []string `yaml:"industry_keywords" mapstructure:"industry_keywords"`
	CompanyNameKeywords   []string `yaml:"company_name_keywords" mapstructure:"company_name_keywords"`
	IndustryNameKeywords  []string `yaml:"industry_name_keywords" mapstructure:"industry_name_keywords"`
	PlaceholderOwners     []string `yaml:"placeholder_owners" mapstructure:"placeholder_owners"`
	RebookCoordinator     string   `yaml:"rebook_coordinator" mapstructure:"rebook_coordinator"`
	DelayedStageKeyword   string   `yaml:"delayed_stage_keyword" mapstructure:"delayed_stage_keyword"`
	DelayedStageDays      int      `yaml:"delayed_stage_days" mapstructure:"delayed_stage_days"`
}

// EngagementConfig holds the named recency windows for health status.
type EngagementConfig struct {
	HealthWindows map[string]int `yaml:"health_windows" mapstructure:"health_windows"`
}

// AgingConfig holds the stage-aging limits. A deal's stage label picks the
// first family with a matching keyword; unmatched stages use Default.
type AgingConfig struct {
	Families []StageFamily `yaml:"families" mapstructure:"families"`
	Default  AgeLimits     `yaml:"default" mapstructure:"default"`
}

// StageFamily groups stages that share aging limits.
type StageFamily struct {
	Name     string    `yaml:"name" mapstructure:"name"`
	Keywords []string  `yaml:"keywords" mapstructure:"keywords"`
	Limits   AgeLimits `yaml:"limits" mapstructure:"limits"`
}

// AgeLimits are the inclusive day limits for GREEN and YELLOW. A negative
// GreenDays means the family is never GREEN.
type AgeLimits struct {
	GreenDays  int `yaml:"green_days" mapstructure:"green_days"`
	YellowDays int `yaml:"yellow_days" mapstructure:"yellow_days"`
}

// DefaultStageFamilies returns the built-in stage families, checked in order.
func DefaultStageFamilies() []StageFamily {
	return []StageFamily{
		{Name: "delayed", Keywords: []string{"stalled", "delayed"}, Limits: AgeLimits{GreenDays: -1, YellowDays: 14}},
		{Name: "early", Keywords: []string{"nbm", "discovery", "qualification", "prospecting", "lead", "scheduled"}, Limits: AgeLimits{GreenDays: 14, YellowDays: 30}},
		{Name: "mid", Keywords: []string{"technical", "evaluation", "demo", "proposal"}, Limits: AgeLimits{GreenDays: 30, YellowDays: 45}},
		{Name: "late", Keywords: []string{"negotiation", "contract", "closing", "final"}, Limits: AgeLimits{GreenDays: 45, YellowDays: 60}},
	}
}

// ScorerConfig holds the focus score caps and normalization constants.
type ScorerConfig struct {
	EngagementCap         float64 `yaml:"engagement_cap" mapstructure:"engagement_cap"`
	ThreadingCap          float64 `yaml:"threading_cap" mapstructure:"threading_cap"`
	StageAgeCap           float64 `yaml:"stage_age_cap" mapstructure:"stage_age_cap"`
	SizeCap               float64 `yaml:"size_cap" mapstructure:"size_cap"`
	EngagementWindowDays  int     `yaml:"engagement_window_days" mapstructure:"engagement_window_days"`
	FullThreadingContacts int     `yaml:"full_threading_contacts" mapstructure:"full_threading_contacts"`
	CriticalRevenue       float64 `yaml:"critical_revenue" mapstructure:"critical_revenue"`
	HighRevenue           float64 `yaml:"high_revenue" mapstructure:"high_revenue"`
}

// ZombieConfig holds the zombie-deal exclusion rules.
type ZombieConfig struct {
	CycleMultiplier   float64 `yaml:"cycle_multiplier" mapstructure:"cycle_multiplier"`
	MaxDaysInStage    int     `yaml:"max_days_in_stage" mapstructure:"max_days_in_stage"`
	CycleLookbackDays int     `yaml:"cycle_lookback_days" mapstructure:"cycle_lookback_days"`
	MinAgeDays        int     `yaml:"min_age_days" mapstructure:"min_age_days"`
}

// MovementConfig configures stage transition classification.
type MovementConfig struct {
	NewEntityWindowDays int `yaml:"new_entity_window_days" mapstructure:"new_entity_window_days"`
	LookbackDays        int `yaml:"lookback_days" mapstructure:"lookback_days"`
}

// PaceConfig configures quarterly pacing.
type PaceConfig struct {
	QuarterlyTarget float64 `yaml:"quarterly_target" mapstructure:"quarterly_target"`
	AtRiskRatio     float64 `yaml:"at_risk_ratio" mapstructure:"at_risk_ratio"`
}

// EngineConfig configures view computation.
type EngineConfig struct {
	MaxConcurrency   int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	StoreTimeoutSecs int `yaml:"store_timeout_secs" mapstructure:"store_timeout_secs"`
	TopN             int `yaml:"top_n" mapstructure:"top_n"`
}

// ResilienceConfig controls retries and the circuit breaker around
// external collaborators.
type ResilienceConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// SummaryConfig configures the narrative summary collaborator.
type SummaryConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSecs int  `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens   int  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SyncConfig configures snapshot ingestion.
type SyncConfig struct {
	Schedule            string `yaml:"schedule" mapstructure:"schedule"`
	ClosedLookbackDays  int    `yaml:"closed_lookback_days" mapstructure:"closed_lookback_days"`
	MeetingLookbackDays int    `yaml:"meeting_lookback_days" mapstructure:"meeting_lookback_days"`
}

// MonitoringConfig configures pipeline health alerts.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalMinutes int     `yaml:"check_interval_minutes" mapstructure:"check_interval_minutes"`
	AtRiskValueRatio     float64 `yaml:"at_risk_value_ratio" mapstructure:"at_risk_value_ratio"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALHEALTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.ttl_minutes", 15)
	v.SetDefault("cache.key_prefix", "dealhealth")
	v.SetDefault("risk.enterprise_threshold", 100_000)
	v.SetDefault("risk.stalled_days", 14)
	v.SetDefault("risk.stalled_days_enterprise", 30)
	v.SetDefault("risk.ghosted_days", 5)
	v.SetDefault("risk.ghosted_days_enterprise", 10)
	v.SetDefault("risk.recent_activity_days", 7)
	v.SetDefault("risk.industry_keywords", []string{"logistics", "transport", "warehouse", "supply chain"})
	v.SetDefault("risk.company_name_keywords", []string{"3pl", "fulfillment", "logistics", "warehouse", "shipping", "freight", "distribution"})
	v.SetDefault("risk.industry_name_keywords", []string{"3pl", "fulfillment", "logistics"})
	v.SetDefault("risk.placeholder_owners", []string{})
	v.SetDefault("risk.delayed_stage_keyword", "delay")
	v.SetDefault("risk.delayed_stage_days", 30)
	v.SetDefault("engagement.health_windows", map[string]int{"weekly": 7, "biweekly": 14})
	v.SetDefault("aging.default.green_days", 21)
	v.SetDefault("aging.default.yellow_days", 45)
	v.SetDefault("scorer.engagement_cap", 30)
	v.SetDefault("scorer.threading_cap", 30)
	v.SetDefault("scorer.stage_age_cap", 20)
	v.SetDefault("scorer.size_cap", 20)
	v.SetDefault("scorer.engagement_window_days", 14)
	v.SetDefault("scorer.full_threading_contacts", 2)
	v.SetDefault("scorer.critical_revenue", 100_000)
	v.SetDefault("scorer.high_revenue", 50_000)
	v.SetDefault("zombie.cycle_multiplier", 3)
	v.SetDefault("zombie.max_days_in_stage", 180)
	v.SetDefault("zombie.cycle_lookback_days", 90)
	v.SetDefault("zombie.min_age_days", 0)
	v.SetDefault("movement.new_entity_window_days", 7)
	v.SetDefault("movement.lookback_days", 30)
	v.SetDefault("pace.quarterly_target", 0)
	v.SetDefault("pace.at_risk_ratio", 0.9)
	v.SetDefault("engine.max_concurrency", 4)
	v.SetDefault("engine.store_timeout_secs", 30)
	v.SetDefault("engine.top_n", 10)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 5000)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("summary.enabled", false)
	v.SetDefault("summary.timeout_secs", 20)
	v.SetDefault("summary.max_tokens", 1024)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5)
	v.SetDefault("sync.schedule", "0 6 * * *")
	v.SetDefault("sync.closed_lookback_days", 120)
	v.SetDefault("sync.meeting_lookback_days", 30)
	v.SetDefault("monitoring.check_interval_minutes", 60)
	v.SetDefault("monitoring.at_risk_value_ratio", 0.5)
	v.SetDefault("monitoring.stale_after_hours", 36)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if len(cfg.Aging.Families) == 0 {
		cfg.Aging.Families = DefaultStageFamilies()
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
