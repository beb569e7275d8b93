// Package ingest turns upstream CRM records into append-only snapshot rows.
package ingest

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/pkg/salesforce"
)

// Batch is one observation of the upstream system.
type Batch struct {
	Deals    []model.DealSnapshot    `yaml:"deals"`
	Meetings []model.MeetingSnapshot `yaml:"meetings"`
}

// Source produces a batch observed at now.
type Source interface {
	Name() string
	Fetch(ctx context.Context, now time.Time) (Batch, error)
}

// FileSource reads a YAML fixture with top-level deals and meetings lists.
type FileSource struct {
	Path string
}

// NewFileSource creates a FileSource.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Fetch(_ context.Context, _ time.Time) (Batch, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Batch{}, eris.Wrapf(err, "ingest: read %s", s.Path)
	}
	var b Batch
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Batch{}, eris.Wrapf(err, "ingest: parse %s", s.Path)
	}
	return b, nil
}

// SalesforceConfig bounds how much history a Salesforce fetch pulls.
type SalesforceConfig struct {
	// ClosedLookbackDays keeps recently closed deals so wins and losses
	// remain visible to pace and rollups.
	ClosedLookbackDays int
	// MeetingLookbackDays is how far back events are read.
	MeetingLookbackDays int
}

// SalesforceSource reads Opportunity, OpportunityContactRole and Event.
type SalesforceSource struct {
	client salesforce.Client
	cfg    SalesforceConfig
}

// NewSalesforceSource creates a SalesforceSource.
func NewSalesforceSource(client salesforce.Client, cfg SalesforceConfig) *SalesforceSource {
	if cfg.ClosedLookbackDays <= 0 {
		cfg.ClosedLookbackDays = 120
	}
	if cfg.MeetingLookbackDays <= 0 {
		cfg.MeetingLookbackDays = 30
	}
	return &SalesforceSource{client: client, cfg: cfg}
}

func (s *SalesforceSource) Name() string { return "salesforce" }

func (s *SalesforceSource) Fetch(ctx context.Context, now time.Time) (Batch, error) {
	opps, err := salesforce.ListOpportunities(ctx, s.client, now.AddDate(0, 0, -s.cfg.ClosedLookbackDays))
	if err != nil {
		return Batch{}, eris.Wrap(err, "ingest: salesforce opportunities")
	}

	ids := make([]string, len(opps))
	for i, o := range opps {
		ids[i] = o.ID
	}
	contacts, err := salesforce.CountContacts(ctx, s.client, ids)
	if err != nil {
		return Batch{}, eris.Wrap(err, "ingest: salesforce contact roles")
	}
	events, err := salesforce.ListEvents(ctx, s.client, ids, now.AddDate(0, 0, -s.cfg.MeetingLookbackDays))
	if err != nil {
		return Batch{}, eris.Wrap(err, "ingest: salesforce events")
	}

	var b Batch
	for _, o := range opps {
		d, err := dealFromOpportunity(o, contacts[o.ID], now)
		if err != nil {
			zap.L().Warn("ingest: skipping opportunity", zap.String("entity_id", o.ID), zap.Error(err))
			continue
		}
		b.Deals = append(b.Deals, d)
	}
	for _, e := range events {
		m, err := meetingFromEvent(e)
		if err != nil {
			zap.L().Warn("ingest: skipping event", zap.String("meeting_id", e.ID), zap.Error(err))
			continue
		}
		b.Meetings = append(b.Meetings, m)
	}
	return b, nil
}

func dealFromOpportunity(o salesforce.Opportunity, contactCount int, now time.Time) (model.DealSnapshot, error) {
	created, err := salesforce.ParseTime(o.CreatedDate)
	if err != nil {
		return model.DealSnapshot{}, err
	}
	if created == nil {
		return model.DealSnapshot{}, eris.New("missing CreatedDate")
	}
	modified, err := salesforce.ParseTime(o.LastModifiedDate)
	if err != nil {
		return model.DealSnapshot{}, err
	}
	activity, err := salesforce.ParseTime(o.LastActivityDate)
	if err != nil {
		return model.DealSnapshot{}, err
	}
	closeDate, err := salesforce.ParseTime(o.CloseDate)
	if err != nil {
		return model.DealSnapshot{}, err
	}
	stageSince, err := salesforce.ParseTime(o.LastStageChangeDate)
	if err != nil || stageSince == nil {
		stageSince = created
	}

	d := model.DealSnapshot{
		EntityID:       o.ID,
		Name:           o.Name,
		PrimaryRevenue: o.ARR,
		FallbackAmount: o.Amount,
		StageCode:      stageCode(o.StageName),
		StageLabel:     o.StageName,
		OwnerID:        o.OwnerID,
		CreatedBy:      o.CreatedByID,
		CreatedAt:      *created,
		LastModifiedAt: modified,
		LastContactAt:  activity,
		CloseDate:      closeDate,
		DaysInStage:    max(model.DaysBetween(*stageSince, now), 0),
		ContactCount:   contactCount,
		NextStep:       o.NextStep,
		IsWon:          o.IsWon,
		IsLost:         o.IsClosed && !o.IsWon,
	}
	if o.Owner != nil {
		d.OwnerName = o.Owner.Name
		d.OwnerEmail = o.Owner.Email
	}
	if o.Account != nil {
		d.CompanyName = o.Account.Name
		d.Industry = o.Account.Industry
	}
	return d, nil
}

func meetingFromEvent(e salesforce.Event) (model.MeetingSnapshot, error) {
	start, err := salesforce.ParseTime(e.StartDateTime)
	if err != nil {
		return model.MeetingSnapshot{}, err
	}
	if start == nil {
		return model.MeetingSnapshot{}, eris.New("missing StartDateTime")
	}
	outcome := model.MeetingOutcome(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(e.Outcome)), " ", "_"))
	if !outcome.Valid() {
		outcome = model.MeetingPending
	}
	m := model.MeetingSnapshot{
		MeetingID: e.ID,
		StartTime: *start,
		Outcome:   outcome,
	}
	if e.WhatID != "" {
		m.DealIDs = []string{e.WhatID}
	}
	return m, nil
}

// stageCode derives a stable machine code from a picklist label.
func stageCode(label string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "_")
}
