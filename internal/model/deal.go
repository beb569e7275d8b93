package model

import "time"

// OwnerRole tags the normalized owner of a deal. It is resolved once during
// normalization from the configured canonical identifiers.
type OwnerRole string

const (
	OwnerStandard          OwnerRole = "standard"
	OwnerPlaceholder       OwnerRole = "placeholder"
	OwnerRebookCoordinator OwnerRole = "rebook_coordinator"
)

// Deal is the current view of one entity as of a chosen date, with fallback
// fields resolved.
type Deal struct {
	DealSnapshot

	Revenue        float64      `json:"revenue"`
	AttributedRep  string       `json:"attributed_rep"`
	OwnerRole      OwnerRole    `json:"owner_role"`
	LastActivityAt *time.Time   `json:"last_activity_at,omitempty"`
	NextMeetingAt  *time.Time   `json:"next_meeting_at,omitempty"`
	Diagnostics    []Diagnostic `json:"diagnostics,omitempty"`
}

// Owner returns the display identity of the deal owner.
func (d Deal) Owner() string {
	if d.OwnerName != "" {
		return d.OwnerName
	}
	return d.OwnerID
}

// HasUpcomingMeeting reports whether a non-cancelled meeting is scheduled.
func (d Deal) HasUpcomingMeeting() bool { return d.NextMeetingAt != nil }
