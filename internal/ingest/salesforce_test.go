package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/pkg/salesforce"
)

// stubSF answers SOQL by the queried object.
type stubSF struct {
	opps   []salesforce.Opportunity
	roles  []salesforce.ContactRole
	events []salesforce.Event
}

func (s *stubSF) Query(_ context.Context, soql string, out any) error {
	switch {
	case strings.Contains(soql, "FROM Opportunity"):
		*out.(*[]salesforce.Opportunity) = s.opps
	case strings.Contains(soql, "FROM OpportunityContactRole"):
		*out.(*[]salesforce.ContactRole) = s.roles
	case strings.Contains(soql, "FROM Event"):
		*out.(*[]salesforce.Event) = s.events
	}
	return nil
}

func fp(v float64) *float64 { return &v }

func TestSalesforceSource_Fetch(t *testing.T) {
	sf := &stubSF{
		opps: []salesforce.Opportunity{
			{
				ID:                  "006A",
				Name:                "Acme Expansion",
				Amount:              fp(50000),
				ARR:                 fp(120000),
				StageName:           "Contract Sent",
				OwnerID:             "005A",
				Owner:               &salesforce.Ref{ID: "005A", Name: "Alice Reyes", Email: "alice@example.com"},
				CreatedByID:         "005C",
				Account:             &salesforce.Ref{Name: "Acme", Industry: "Manufacturing"},
				CreatedDate:         "2025-03-01T15:00:00.000+0000",
				LastModifiedDate:    "2025-05-19T08:00:00.000+0000",
				LastActivityDate:    "2025-05-15",
				LastStageChangeDate: "2025-05-10T12:00:00.000+0000",
				CloseDate:           "2025-06-30",
			},
			{
				ID:          "006B",
				Name:        "Lost Deal",
				StageName:   "Closed Lost",
				IsClosed:    true,
				CreatedDate: "2025-01-10T15:00:00.000+0000",
			},
			{ID: "006C", Name: "No created date"},
		},
		roles: []salesforce.ContactRole{
			{OpportunityID: "006A", ContactID: "003A"},
			{OpportunityID: "006A", ContactID: "003B"},
		},
		events: []salesforce.Event{
			{ID: "00U1", WhatID: "006A", StartDateTime: "2025-05-22T16:00:00.000+0000", Outcome: "No Show"},
			{ID: "00U2", WhatID: "006A"},
		},
	}

	b, err := NewSalesforceSource(sf, SalesforceConfig{}).Fetch(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, b.Deals, 2)
	require.Len(t, b.Meetings, 1)

	d := b.Deals[0]
	assert.Equal(t, "contract_sent", d.StageCode)
	assert.Equal(t, "Contract Sent", d.StageLabel)
	assert.InDelta(t, 120000.0, *d.PrimaryRevenue, 0.001)
	assert.InDelta(t, 50000.0, *d.FallbackAmount, 0.001)
	assert.Equal(t, "Alice Reyes", d.OwnerName)
	assert.Equal(t, "005C", d.CreatedBy)
	assert.Equal(t, "Manufacturing", d.Industry)
	assert.Equal(t, 2, d.ContactCount)
	assert.Equal(t, 10, d.DaysInStage)
	require.NotNil(t, d.LastContactAt)

	lost := b.Deals[1]
	assert.True(t, lost.IsLost)
	assert.False(t, lost.IsWon)
	assert.Zero(t, lost.ContactCount)

	assert.Equal(t, model.MeetingNoShow, b.Meetings[0].Outcome)
	assert.Equal(t, []string{"006A"}, b.Meetings[0].DealIDs)
}
