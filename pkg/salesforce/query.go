package salesforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Ref is a lookup relationship as returned inside a SOQL record.
type Ref struct {
	ID       string `json:"Id" salesforce:"Id"`
	Name     string `json:"Name" salesforce:"Name"`
	Email    string `json:"Email" salesforce:"Email"`
	Industry string `json:"Industry" salesforce:"Industry"`
}

// Opportunity represents a Salesforce Opportunity record.
type Opportunity struct {
	ID                  string   `json:"Id" salesforce:"Id"`
	Name                string   `json:"Name" salesforce:"Name"`
	Amount              *float64 `json:"Amount" salesforce:"Amount"`
	ARR                 *float64 `json:"ARR__c" salesforce:"ARR__c"`
	StageName           string   `json:"StageName" salesforce:"StageName"`
	IsWon               bool     `json:"IsWon" salesforce:"IsWon"`
	IsClosed            bool     `json:"IsClosed" salesforce:"IsClosed"`
	OwnerID             string   `json:"OwnerId" salesforce:"OwnerId"`
	Owner               *Ref     `json:"Owner" salesforce:"Owner"`
	CreatedByID         string   `json:"CreatedById" salesforce:"CreatedById"`
	Account             *Ref     `json:"Account" salesforce:"Account"`
	CreatedDate         string   `json:"CreatedDate" salesforce:"CreatedDate"`
	LastModifiedDate    string   `json:"LastModifiedDate" salesforce:"LastModifiedDate"`
	LastActivityDate    string   `json:"LastActivityDate" salesforce:"LastActivityDate"`
	LastStageChangeDate string   `json:"LastStageChangeDate" salesforce:"LastStageChangeDate"`
	CloseDate           string   `json:"CloseDate" salesforce:"CloseDate"`
	NextStep            string   `json:"NextStep" salesforce:"NextStep"`
}

// Event represents a Salesforce Event linked to an opportunity.
type Event struct {
	ID            string `json:"Id" salesforce:"Id"`
	WhatID        string `json:"WhatId" salesforce:"WhatId"`
	StartDateTime string `json:"StartDateTime" salesforce:"StartDateTime"`
	Outcome       string `json:"Outcome__c" salesforce:"Outcome__c"`
}

// ContactRole links a contact to an opportunity.
type ContactRole struct {
	OpportunityID string `json:"OpportunityId" salesforce:"OpportunityId"`
	ContactID     string `json:"ContactId" salesforce:"ContactId"`
}

// opportunityFields are the SOQL fields selected for Opportunity queries.
var opportunityFields = []string{
	"Id", "Name", "Amount", "ARR__c", "StageName", "IsWon", "IsClosed",
	"OwnerId", "Owner.Name", "Owner.Email", "CreatedById",
	"Account.Name", "Account.Industry",
	"CreatedDate", "LastModifiedDate", "LastActivityDate", "LastStageChangeDate",
	"CloseDate", "NextStep",
}

// maxIDsPerQuery bounds IN-clause size to keep SOQL under the URI limit.
const maxIDsPerQuery = 200

// ListOpportunities returns every open opportunity plus those closed on or
// after closedSince.
func ListOpportunities(ctx context.Context, c Client, closedSince time.Time) ([]Opportunity, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Opportunity WHERE IsClosed = false OR CloseDate >= %s",
		strings.Join(opportunityFields, ", "),
		closedSince.UTC().Format(time.DateOnly),
	)

	var opps []Opportunity
	if err := c.Query(ctx, soql, &opps); err != nil {
		return nil, eris.Wrap(err, "sf: list opportunities")
	}
	return opps, nil
}

// ListEvents returns events attached to the given opportunities that start
// on or after from.
func ListEvents(ctx context.Context, c Client, opportunityIDs []string, from time.Time) ([]Event, error) {
	var out []Event
	for ids := range chunks(opportunityIDs, maxIDsPerQuery) {
		soql := fmt.Sprintf(
			"SELECT Id, WhatId, StartDateTime, Outcome__c FROM Event WHERE WhatId IN (%s) AND StartDateTime >= %s",
			quoteIDs(ids),
			from.UTC().Format("2006-01-02T15:04:05Z"),
		)
		var events []Event
		if err := c.Query(ctx, soql, &events); err != nil {
			return nil, eris.Wrap(err, "sf: list events")
		}
		out = append(out, events...)
	}
	return out, nil
}

// CountContacts returns the number of distinct contacts per opportunity.
func CountContacts(ctx context.Context, c Client, opportunityIDs []string) (map[string]int, error) {
	seen := make(map[string]map[string]struct{})
	for ids := range chunks(opportunityIDs, maxIDsPerQuery) {
		soql := fmt.Sprintf(
			"SELECT OpportunityId, ContactId FROM OpportunityContactRole WHERE OpportunityId IN (%s)",
			quoteIDs(ids),
		)
		var roles []ContactRole
		if err := c.Query(ctx, soql, &roles); err != nil {
			return nil, eris.Wrap(err, "sf: count contacts")
		}
		for _, r := range roles {
			if seen[r.OpportunityID] == nil {
				seen[r.OpportunityID] = make(map[string]struct{})
			}
			seen[r.OpportunityID][r.ContactID] = struct{}{}
		}
	}

	counts := make(map[string]int, len(seen))
	for id, contacts := range seen {
		counts[id] = len(contacts)
	}
	return counts, nil
}

// ParseTime parses a Salesforce date or datetime literal. Empty input
// returns nil.
func ParseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, eris.Errorf("sf: unrecognized timestamp %q", s)
}

func chunks(ids []string, size int) func(yield func([]string) bool) {
	return func(yield func([]string) bool) {
		for start := 0; start < len(ids); start += size {
			if !yield(ids[start:min(start+size, len(ids))]) {
				return
			}
		}
	}
}

func quoteIDs(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + escapeSoql(id) + "'"
	}
	return strings.Join(quoted, ", ")
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
