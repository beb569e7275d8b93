package model

import "time"

// Primary risk reasons, in priority order.
const (
	ReasonPendingRebook     = "Pending Rebook"
	ReasonOwnershipRisk     = "Ownership Risk"
	ReasonStalledAndGhosted = "Stalled & Ghosted"
	ReasonStalledEnterprise = "Stalled (enterprise)"
	ReasonStalled           = "Stalled"
	ReasonGhostedEnterprise = "Ghosted (enterprise)"
	ReasonGhosted           = "Ghosted"
	ReasonNotIndustryMatch  = "Not Industry Match"
	ReasonHealthy           = "Healthy"
)

// RiskFlags is the per-entity risk classification for one as-of date.
type RiskFlags struct {
	EntityID     string  `json:"entity_id"`
	Name         string  `json:"name"`
	Owner        string  `json:"owner"`
	Stage        string  `json:"stage"`
	Revenue      float64 `json:"revenue"`
	IsEnterprise bool    `json:"is_enterprise"`

	OwnershipRisk    bool `json:"ownership_risk"`
	PendingRebook    bool `json:"pending_rebook"`
	Stalled          bool `json:"stalled"`
	Ghosted          bool `json:"ghosted"`
	NotIndustryMatch bool `json:"not_industry_match"`
	StalledDelayed   bool `json:"stalled_delayed"`

	// Set when the raw rule fired but an override forced it false.
	StalledOverridden bool `json:"stalled_overridden"`
	GhostedOverridden bool `json:"ghosted_overridden"`

	HasUpcomingMeeting bool `json:"has_upcoming_meeting"`
	HasRecentActivity  bool `json:"has_recent_activity"`

	IsAtRisk      bool   `json:"is_at_risk"`
	PrimaryReason string `json:"primary_reason"`
	FlagCount     int    `json:"risk_flag_count"`

	DaysInStage       int          `json:"days_in_stage"`
	DaysSinceContact  *int         `json:"days_since_contact,omitempty"`
	DaysSinceModified *int         `json:"days_since_modified,omitempty"`
	Diagnostics       []Diagnostic `json:"diagnostics,omitempty"`
}

// SavedByActivity reports whether an override suppressed a stalled or
// ghosted flag.
func (f RiskFlags) SavedByActivity() bool {
	return f.StalledOverridden || f.GhostedOverridden
}

// ThreadingBucket classifies contact coverage on a deal.
type ThreadingBucket string

const (
	ThreadingCritical ThreadingBucket = "Critical"
	ThreadingLow      ThreadingBucket = "Low"
	ThreadingModerate ThreadingBucket = "Moderate"
	ThreadingHealthy  ThreadingBucket = "Healthy"
)

// HealthStatus is the tri-state engagement health.
type HealthStatus string

const (
	HealthRed    HealthStatus = "RED"
	HealthYellow HealthStatus = "YELLOW"
	HealthGreen  HealthStatus = "GREEN"
)

// Engagement is the threading and health analysis for one deal.
type Engagement struct {
	EntityID             string                  `json:"entity_id"`
	ContactCount         int                     `json:"contact_count"`
	Threading            ThreadingBucket         `json:"threading"`
	CriticalMomentumLoss bool                    `json:"critical_momentum_loss"`
	Health               map[string]HealthStatus `json:"health"`
}

// RiskPriority buckets at-risk deals by value.
type RiskPriority string

const (
	PriorityCritical RiskPriority = "CRITICAL"
	PriorityHigh     RiskPriority = "HIGH"
	PriorityMedium   RiskPriority = "MEDIUM"
	PriorityLow      RiskPriority = "LOW"
)

// FocusScore is the 0-100 prioritization score of one open deal.
type FocusScore struct {
	EntityID     string       `json:"entity_id"`
	Name         string       `json:"name"`
	Owner        string       `json:"owner"`
	Revenue      float64      `json:"revenue"`
	Engagement   float64      `json:"engagement_score"`
	Threading    float64      `json:"threading_score"`
	StageAge     float64      `json:"stage_age_score"`
	Size         float64      `json:"size_score"`
	Total        float64      `json:"focus_score"`
	RiskPriority RiskPriority `json:"risk_priority"`
}

// Zombie marks an open deal excluded from active pipeline metrics.
type Zombie struct {
	EntityID          string   `json:"entity_id"`
	Name              string   `json:"name"`
	Owner             string   `json:"owner"`
	Revenue           float64  `json:"revenue"`
	DaysSinceCreation int      `json:"days_since_creation"`
	DaysSinceActivity int      `json:"days_since_activity"`
	DaysInStage       int      `json:"days_in_stage"`
	MedianCycleDays   *float64 `json:"median_cycle_days,omitempty"`
	Reasons           []string `json:"reasons"`
}

// MovementType classifies a detected change between adjacent snapshots.
type MovementType string

const (
	MovementNewEntity          MovementType = "NewEntity"
	MovementInitialObservation MovementType = "InitialObservation"
	MovementNoChange           MovementType = "NoChange"
	MovementClosed             MovementType = "Closed"
	MovementReopened           MovementType = "Reopened"
	MovementStageChange        MovementType = "StageChange"
)

// IsStageMovement reports whether the type counts as a stage movement in
// rollups.
func (t MovementType) IsStageMovement() bool {
	return t == MovementStageChange || t == MovementClosed || t == MovementReopened
}

// MovementEvent is one detected transition for an entity.
type MovementEvent struct {
	EntityID         string       `json:"entity_id"`
	Name             string       `json:"name"`
	Type             MovementType `json:"movement_type"`
	FromStage        string       `json:"from_stage,omitempty"`
	ToStage          string       `json:"to_stage"`
	FromStageCode    string       `json:"from_stage_code,omitempty"`
	ToStageCode      string       `json:"to_stage_code"`
	TransitionDate   time.Time    `json:"transition_date"`
	DaysInPriorStage int          `json:"days_in_prior_stage"`
	Owner            string       `json:"owner"`
	AttributedRep    string       `json:"attributed_rep"`
	Revenue          float64      `json:"revenue"`
}

// Slippage records a close date pushed later between adjacent snapshots.
type Slippage struct {
	EntityID      string    `json:"entity_id"`
	Name          string    `json:"name"`
	Owner         string    `json:"owner"`
	Revenue       float64   `json:"revenue"`
	PreviousClose time.Time `json:"previous_close"`
	CurrentClose  time.Time `json:"current_close"`
	DaysPushed    int       `json:"days_pushed"`
	ObservedOn    time.Time `json:"observed_on"`
}

// PaceStatus summarizes progress against the quarterly target.
type PaceStatus string

const (
	PaceOnTrack PaceStatus = "ON_TRACK"
	PaceAtRisk  PaceStatus = "AT_RISK"
	PaceBehind  PaceStatus = "BEHIND"
)

// PaceMetrics is the quarter-relative pacing for one as-of date.
type PaceMetrics struct {
	QuarterStart        time.Time    `json:"quarter_start"`
	QuarterEnd          time.Time    `json:"quarter_end"`
	TotalQuarterDays    int          `json:"total_quarter_days"`
	DaysElapsed         int          `json:"days_elapsed"`
	DaysRemaining       int          `json:"days_remaining"`
	Target              float64      `json:"target"`
	StartingValue       float64      `json:"starting_value_before_quarter"`
	RemainingToTarget   float64      `json:"remaining_to_target"`
	QTDWon              float64      `json:"qtd_won"`
	QTDWonCount         int          `json:"qtd_won_count"`
	CurrentPaceMonthly  float64      `json:"current_pace_monthly"`
	RequiredPaceMonthly float64      `json:"required_pace_monthly"`
	PaceDelta           float64      `json:"pace_delta"`
	ExpectedByNow       float64      `json:"expected_by_now"`
	GapToExpected       float64      `json:"gap_to_expected"`
	PctOfTarget         float64      `json:"pct_of_target"`
	RequiredDaily       float64      `json:"required_daily"`
	RequiredWeekly      float64      `json:"required_weekly"`
	OpenPipeline        float64      `json:"open_pipeline"`
	CoverageRatio       float64      `json:"coverage_ratio"`
	Status              PaceStatus   `json:"status"`
	Diagnostics         []Diagnostic `json:"diagnostics,omitempty"`
}

// RollupWindow names an aggregation window.
type RollupWindow string

const (
	WindowTrailing7  RollupWindow = "7d"
	WindowTrailing30 RollupWindow = "30d"
	WindowQTD        RollupWindow = "qtd"
)

// RollupRanks holds the independent dense rank of an owner per metric.
type RollupRanks struct {
	PipelineAdded  int `json:"pipeline_added"`
	StageMovements int `json:"stage_movements"`
	AvgEngagement  int `json:"avg_engagement"`
	WonValue       int `json:"won_value"`
	WinRate        int `json:"win_rate"`
}

// OwnerRollup aggregates one owner's activity over one window.
type OwnerRollup struct {
	OwnerID        string       `json:"owner_id"`
	Window         RollupWindow `json:"window"`
	WindowStart    time.Time    `json:"window_start"`
	WindowEnd      time.Time    `json:"window_end"`
	DealsAdded     int          `json:"deals_added"`
	PipelineAdded  float64      `json:"pipeline_added"`
	StageMovements int          `json:"stage_movements"`
	OpenDeals      int          `json:"open_deals"`
	AvgEngagement  float64      `json:"avg_engagement"`
	WonCount       int          `json:"won_count"`
	WonValue       float64      `json:"won_value"`
	LostCount      int          `json:"lost_count"`
	WinRatePct     float64      `json:"win_rate_pct"`
	AtRiskCount    int          `json:"at_risk_count"`
	AtRiskValue    float64      `json:"at_risk_value"`
	WithNextStep   int          `json:"with_next_step"`
	NextStepPct    float64      `json:"next_step_coverage_pct"`
	Ranks          RollupRanks  `json:"ranks"`
}

// StageBreakdown is the open pipeline of one stage.
type StageBreakdown struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Value float64 `json:"value"`
}

// PipelineOverview is the weekly pipeline picture for one as-of date. Open
// metrics exclude zombie deals.
type PipelineOverview struct {
	AsOf            time.Time        `json:"as_of"`
	OpenCount       int              `json:"open_count"`
	OpenValue       float64          `json:"open_value"`
	EnterpriseCount int              `json:"enterprise_count"`
	EnterpriseValue float64          `json:"enterprise_value"`
	StandardCount   int              `json:"standard_count"`
	StandardValue   float64          `json:"standard_value"`
	AtRiskCount     int              `json:"at_risk_count"`
	AtRiskValue     float64          `json:"at_risk_value"`
	HealthyPct      float64          `json:"healthy_pct"`
	Stages          []StageBreakdown `json:"stages"`
	WonCount7d      int              `json:"won_count_7d"`
	WonValue7d      float64          `json:"won_value_7d"`
	LostCount7d     int              `json:"lost_count_7d"`
	LostValue7d     float64          `json:"lost_value_7d"`
	WinRate7d       float64          `json:"win_rate_7d"`
	SavedByActivity int              `json:"saved_by_activity"`
	SlippedCount    int              `json:"slipped_count"`
	ZombieCount     int              `json:"zombie_count"`
	ZombieValue     float64          `json:"zombie_value"`
	NextStepPct     float64          `json:"next_step_coverage_pct"`
	Aging           []AgingBucket    `json:"aging"`
	Diagnostics     []Diagnostic     `json:"diagnostics,omitempty"`
}

// DealAge is the stage-aging status of one open deal. Limits come from the
// stage family the deal's stage label falls in.
type DealAge struct {
	EntityID    string       `json:"entity_id"`
	Name        string       `json:"name"`
	Owner       string       `json:"owner"`
	Stage       string       `json:"stage"`
	Family      string       `json:"family"`
	Revenue     float64      `json:"revenue"`
	DaysInStage int          `json:"days_in_stage"`
	Status      HealthStatus `json:"status"`
}

// AgingBucket summarizes the open deals of one aging status.
type AgingBucket struct {
	Status         HealthStatus `json:"status"`
	Count          int          `json:"count"`
	Value          float64      `json:"value"`
	AvgDaysInStage float64      `json:"avg_days_in_stage"`
	PctOfDeals     float64      `json:"pct_of_deals"`
}

// AgingReport lists deal ages worst first with a per-status summary.
type AgingReport struct {
	Deals   []DealAge     `json:"deals"`
	Summary []AgingBucket `json:"summary"`
}
