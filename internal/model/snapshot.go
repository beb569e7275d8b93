package model

import "time"

// SchemaV1 is the schema tag stamped on every snapshot row written by ingestion.
const SchemaV1 = "v1"

// DealSnapshot is one immutable observation of an opportunity on a given date.
// For a given entity and observation date at most one row exists.
type DealSnapshot struct {
	EntityID        string     `json:"entity_id" yaml:"entity_id"`
	Name            string     `json:"name" yaml:"name"`
	PrimaryRevenue  *float64   `json:"primary_revenue,omitempty" yaml:"primary_revenue"`
	FallbackAmount  *float64   `json:"fallback_amount,omitempty" yaml:"fallback_amount"`
	StageCode       string     `json:"stage_code" yaml:"stage_code"`
	StageLabel      string     `json:"stage_label" yaml:"stage_label"`
	OwnerID         string     `json:"owner_id" yaml:"owner_id"`
	OwnerName       string     `json:"owner_name" yaml:"owner_name"`
	OwnerEmail      string     `json:"owner_email,omitempty" yaml:"owner_email"`
	CreatedBy       string     `json:"created_by,omitempty" yaml:"created_by"`
	CompanyName     string     `json:"company_name" yaml:"company_name"`
	Industry        string     `json:"industry,omitempty" yaml:"industry"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at"`
	LastModifiedAt  *time.Time `json:"last_modified_at,omitempty" yaml:"last_modified_at"`
	LastContactAt   *time.Time `json:"last_contact_at,omitempty" yaml:"last_contact_at"`
	CloseDate       *time.Time `json:"close_date,omitempty" yaml:"close_date"`
	DaysInStage     int        `json:"days_in_stage" yaml:"days_in_stage"`
	ContactCount    int        `json:"contact_count" yaml:"contact_count"`
	NextStep        string     `json:"next_step,omitempty" yaml:"next_step"`
	IsWon           bool       `json:"is_won" yaml:"is_won"`
	IsLost          bool       `json:"is_lost" yaml:"is_lost"`
	ObservationDate time.Time  `json:"observation_date" yaml:"observation_date"`
	SchemaVersion   string     `json:"schema_version" yaml:"schema_version"`
	RunID           string     `json:"run_id,omitempty" yaml:"run_id"`
}

// IsClosed reports whether the deal sits in a terminal stage.
func (s DealSnapshot) IsClosed() bool { return s.IsWon || s.IsLost }

// IsOpen reports whether the deal is still being worked.
func (s DealSnapshot) IsOpen() bool { return !s.IsClosed() }

// MeetingOutcome is the recorded state of a scheduled engagement.
type MeetingOutcome string

const (
	MeetingHeld        MeetingOutcome = "held"
	MeetingNoShow      MeetingOutcome = "no_show"
	MeetingCancelled   MeetingOutcome = "cancelled"
	MeetingRescheduled MeetingOutcome = "rescheduled"
	MeetingPending     MeetingOutcome = "pending"
)

// Valid reports whether o is a known outcome.
func (o MeetingOutcome) Valid() bool {
	switch o {
	case MeetingHeld, MeetingNoShow, MeetingCancelled, MeetingRescheduled, MeetingPending:
		return true
	}
	return false
}

// MeetingSnapshot is one observation of a scheduled engagement, linked to
// zero or more deals.
type MeetingSnapshot struct {
	MeetingID       string         `json:"meeting_id" yaml:"meeting_id"`
	DealIDs         []string       `json:"deal_ids" yaml:"deal_ids"`
	StartTime       time.Time      `json:"start_time" yaml:"start_time"`
	Outcome         MeetingOutcome `json:"outcome" yaml:"outcome"`
	ObservationDate time.Time      `json:"observation_date" yaml:"observation_date"`
	SchemaVersion   string         `json:"schema_version" yaml:"schema_version"`
	RunID           string         `json:"run_id,omitempty" yaml:"run_id"`
}
