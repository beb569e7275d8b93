// Package movement detects stage transitions and close-date slippage between
// chronologically adjacent snapshots of the same entity.
package movement

import (
	"sort"
	"time"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/normalize"
)

// DefaultConfig returns the movement defaults.
func DefaultConfig() config.MovementConfig {
	return config.MovementConfig{
		NewEntityWindowDays: 7,
		LookbackDays:        30,
	}
}

// Tracker classifies transitions between an entity's consecutive snapshots.
type Tracker struct {
	cfg  config.MovementConfig
	norm *normalize.Normalizer
}

// NewTracker creates a Tracker. The normalizer resolves the value and
// attributed rep carried on each event.
func NewTracker(cfg config.MovementConfig, norm *normalize.Normalizer) *Tracker {
	return &Tracker{cfg: cfg, norm: norm}
}

// Classify returns the movement type between prior and cur. prior is nil
// when cur is the first snapshot of the entity.
func (t *Tracker) Classify(prior *model.DealSnapshot, cur model.DealSnapshot) model.MovementType {
	if prior == nil {
		age := model.DaysBetween(cur.CreatedAt, cur.ObservationDate)
		if age >= 0 && age <= t.cfg.NewEntityWindowDays {
			return model.MovementNewEntity
		}
		return model.MovementInitialObservation
	}

	switch {
	case stageKey(*prior) == stageKey(cur) && prior.IsClosed() == cur.IsClosed():
		return model.MovementNoChange
	case cur.IsClosed():
		return model.MovementClosed
	case prior.IsClosed():
		return model.MovementReopened
	default:
		return model.MovementStageChange
	}
}

// Track walks every entity's history through asOf and returns one event per
// detected change. NoChange pairs are not emitted. Events are ordered by
// transition date descending, then entity id.
func (t *Tracker) Track(rows []model.DealSnapshot, asOf time.Time) []model.MovementEvent {
	var events []model.MovementEvent
	for _, hist := range histories(rows, asOf) {
		var prior *model.DealSnapshot
		for i := range hist {
			cur := hist[i]
			typ := t.Classify(prior, cur)
			if typ != model.MovementNoChange {
				events = append(events, t.event(prior, cur, typ))
			}
			prior = &hist[i]
		}
	}
	SortEvents(events)
	return events
}

// Slippage returns close dates pushed later between adjacent snapshots of
// open deals, ordered like Track.
func (t *Tracker) Slippage(rows []model.DealSnapshot, asOf time.Time) []model.Slippage {
	var out []model.Slippage
	for _, hist := range histories(rows, asOf) {
		for i := 1; i < len(hist); i++ {
			prev, cur := hist[i-1], hist[i]
			if !cur.IsOpen() || prev.CloseDate == nil || cur.CloseDate == nil {
				continue
			}
			pushed := model.DaysBetween(*prev.CloseDate, *cur.CloseDate)
			if pushed <= 0 {
				continue
			}
			d := t.norm.Resolve(cur)
			out = append(out, model.Slippage{
				EntityID:      cur.EntityID,
				Name:          cur.Name,
				Owner:         d.Owner(),
				Revenue:       d.Revenue,
				PreviousClose: model.DateOf(*prev.CloseDate),
				CurrentClose:  model.DateOf(*cur.CloseDate),
				DaysPushed:    pushed,
				ObservedOn:    model.DateOf(cur.ObservationDate),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ObservedOn.Equal(out[j].ObservedOn) {
			return out[i].ObservedOn.After(out[j].ObservedOn)
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

// Window returns the events whose transition date falls in the trailing
// window of days ending on asOf, inclusive of asOf.
func Window(events []model.MovementEvent, asOf time.Time, days int) []model.MovementEvent {
	end := model.DateOf(asOf)
	start := end.AddDate(0, 0, -days)
	var out []model.MovementEvent
	for _, e := range events {
		if e.TransitionDate.After(start) && !e.TransitionDate.After(end) {
			out = append(out, e)
		}
	}
	return out
}

// SortEvents applies the default ordering: transition date descending, then
// entity id.
func SortEvents(events []model.MovementEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].TransitionDate.Equal(events[j].TransitionDate) {
			return events[i].TransitionDate.After(events[j].TransitionDate)
		}
		return events[i].EntityID < events[j].EntityID
	})
}

func (t *Tracker) event(prior *model.DealSnapshot, cur model.DealSnapshot, typ model.MovementType) model.MovementEvent {
	d := t.norm.Resolve(cur)
	e := model.MovementEvent{
		EntityID:       cur.EntityID,
		Name:           cur.Name,
		Type:           typ,
		ToStage:        cur.StageLabel,
		ToStageCode:    cur.StageCode,
		TransitionDate: model.DateOf(cur.ObservationDate),
		Owner:          d.Owner(),
		AttributedRep:  d.AttributedRep,
		Revenue:        d.Revenue,
	}
	if prior != nil {
		e.FromStage = prior.StageLabel
		e.FromStageCode = prior.StageCode
		gap := model.DaysBetween(prior.ObservationDate, cur.ObservationDate)
		e.DaysInPriorStage = prior.DaysInStage + max(gap, 0)
	}
	return e
}

// histories groups rows through asOf by entity in chronological order. A
// repeated observation date keeps the last row seen.
func histories(rows []model.DealSnapshot, asOf time.Time) map[string][]model.DealSnapshot {
	cutoff := model.DateOf(asOf)
	byDate := make(map[string]map[time.Time]model.DealSnapshot)
	for _, r := range rows {
		day := model.DateOf(r.ObservationDate)
		if day.After(cutoff) {
			continue
		}
		m, ok := byDate[r.EntityID]
		if !ok {
			m = make(map[time.Time]model.DealSnapshot)
			byDate[r.EntityID] = m
		}
		m[day] = r
	}

	out := make(map[string][]model.DealSnapshot, len(byDate))
	for id, m := range byDate {
		hist := make([]model.DealSnapshot, 0, len(m))
		for _, r := range m {
			hist = append(hist, r)
		}
		sort.Slice(hist, func(i, j int) bool {
			return hist[i].ObservationDate.Before(hist[j].ObservationDate)
		})
		out[id] = hist
	}
	return out
}

// stageKey identifies a stage by code, falling back to the label.
func stageKey(s model.DealSnapshot) string {
	if s.StageCode != "" {
		return s.StageCode
	}
	return s.StageLabel
}
