package salesforce

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListOpportunities(t *testing.T) {
	since := time.Date(2025, 2, 19, 0, 0, 0, 0, time.UTC)

	t.Run("selects open and recently closed", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(_ context.Context, soql string, out any) error {
				assert.Contains(t, soql, "FROM Opportunity WHERE IsClosed = false OR CloseDate >= 2025-02-19")
				assert.Contains(t, soql, "Owner.Name")
				opps := out.(*[]Opportunity)
				*opps = []Opportunity{{ID: "006A", Name: "Acme"}}
				return nil
			},
		}

		opps, err := ListOpportunities(context.Background(), mock, since)
		require.NoError(t, err)
		require.Len(t, opps, 1)
		assert.Equal(t, "006A", opps[0].ID)
	})

	t.Run("wraps query failure", func(t *testing.T) {
		mock := &mockClient{
			queryFn: func(context.Context, string, any) error { return errors.New("connection refused") },
		}

		_, err := ListOpportunities(context.Background(), mock, since)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "list opportunities")
	})
}

func TestListEvents_Chunks(t *testing.T) {
	ids := make([]string, maxIDsPerQuery+5)
	for i := range ids {
		ids[i] = fmt.Sprintf("006%04d", i)
	}

	mock := &mockClient{
		queryFn: func(_ context.Context, soql string, out any) error {
			events := out.(*[]Event)
			*events = []Event{{ID: "00U" + fmt.Sprint(len(*events)), WhatID: "0060000"}}
			return nil
		},
	}

	events, err := ListEvents(context.Background(), mock, ids, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, events, 2)
	require.Len(t, mock.queries, 2)
	assert.Contains(t, mock.queries[0], "StartDateTime >= 2025-05-01T00:00:00Z")
	assert.Contains(t, mock.queries[1], "'0060200'")
}

func TestListEvents_NoIDs(t *testing.T) {
	mock := &mockClient{}
	events, err := ListEvents(context.Background(), mock, nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, mock.queries)
}

func TestCountContacts(t *testing.T) {
	mock := &mockClient{
		queryFn: func(_ context.Context, _ string, out any) error {
			roles := out.(*[]ContactRole)
			*roles = []ContactRole{
				{OpportunityID: "006A", ContactID: "003A"},
				{OpportunityID: "006A", ContactID: "003B"},
				{OpportunityID: "006A", ContactID: "003A"},
				{OpportunityID: "006B", ContactID: "003C"},
			}
			return nil
		},
	}

	counts, err := CountContacts(context.Background(), mock, []string{"006A", "006B", "006C"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"006A": 2, "006B": 1}, counts)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-05-01T14:30:00.000+0000", time.Date(2025, 5, 1, 14, 30, 0, 0, time.UTC)},
		{"2025-05-01T10:30:00.000-0400", time.Date(2025, 5, 1, 14, 30, 0, 0, time.UTC)},
		{"2025-05-01T14:30:00Z", time.Date(2025, 5, 1, 14, 30, 0, 0, time.UTC)},
		{"2025-05-01", time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.in)
		require.NoError(t, err, tt.in)
		require.NotNil(t, got)
		assert.True(t, tt.want.Equal(*got), tt.in)
	}

	got, err := ParseTime("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}

func TestEscapeSoql(t *testing.T) {
	assert.Equal(t, `O\'Brien`, escapeSoql("O'Brien"))
	assert.Equal(t, `'a', 'b\'c'`, quoteIDs([]string{"a", "b'c"}))
}
