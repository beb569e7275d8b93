// Package normalize reduces append-only snapshot rows to one current view per
// entity as of a chosen date, resolving fallback fields and owner roles.
package normalize

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/model"
)

// Unattributed is the rep recorded when neither creator nor owner is known.
const Unattributed = "unattributed"

// Normalizer resolves raw snapshots into current deals. Owner roles are
// resolved once here from the configured canonical identifiers so that no
// downstream rule needs to match owner names.
type Normalizer struct {
	placeholder map[string]struct{}
	coordinator string
}

// New builds a Normalizer from the risk configuration.
func New(cfg config.RiskConfig) *Normalizer {
	n := &Normalizer{
		placeholder: make(map[string]struct{}, len(cfg.PlaceholderOwners)),
	}
	for _, id := range cfg.PlaceholderOwners {
		if k := n.key(id); k != "" {
			n.placeholder[k] = struct{}{}
		}
	}
	n.coordinator = n.key(cfg.RebookCoordinator)
	return n
}

func (n *Normalizer) key(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Latest returns, per entity, the row with the greatest observation date on
// or before asOf. Entities with no such row are absent. The result is
// ordered by entity id.
func Latest(rows []model.DealSnapshot, asOf time.Time) []model.DealSnapshot {
	cutoff := model.DateOf(asOf)
	latest := make(map[string]model.DealSnapshot, len(rows))
	for _, r := range rows {
		if model.DateOf(r.ObservationDate).After(cutoff) {
			continue
		}
		cur, ok := latest[r.EntityID]
		if !ok || r.ObservationDate.After(cur.ObservationDate) {
			latest[r.EntityID] = r
		}
	}

	out := make([]model.DealSnapshot, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// LatestMeetings returns, per meeting, the row with the greatest observation
// date on or before asOf.
func LatestMeetings(rows []model.MeetingSnapshot, asOf time.Time) []model.MeetingSnapshot {
	cutoff := model.DateOf(asOf)
	latest := make(map[string]model.MeetingSnapshot, len(rows))
	for _, r := range rows {
		if model.DateOf(r.ObservationDate).After(cutoff) {
			continue
		}
		cur, ok := latest[r.MeetingID]
		if !ok || r.ObservationDate.After(cur.ObservationDate) {
			latest[r.MeetingID] = r
		}
	}

	out := make([]model.MeetingSnapshot, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MeetingID < out[j].MeetingID })
	return out
}

// Normalize produces the current deal view as of asOf. Upcoming meetings are
// those starting at or after now that have not been cancelled.
func (n *Normalizer) Normalize(rows []model.DealSnapshot, meetings []model.MeetingSnapshot, asOf, now time.Time) []model.Deal {
	next := nextMeetings(LatestMeetings(meetings, asOf), now)

	current := Latest(rows, asOf)
	deals := make([]model.Deal, 0, len(current))
	var missing, ambiguous int
	for _, s := range current {
		d := n.Resolve(s)
		if t, ok := next[s.EntityID]; ok {
			d.NextMeetingAt = &t
		}
		for _, diag := range d.Diagnostics {
			switch diag.Kind {
			case model.DiagMissingField:
				missing++
			case model.DiagAmbiguousAttribution:
				ambiguous++
			}
			zap.L().Debug("normalize: resolved field",
				zap.String("entity_id", s.EntityID),
				zap.String("kind", string(diag.Kind)),
				zap.String("field", diag.Field),
				zap.String("message", diag.Message),
			)
		}
		deals = append(deals, d)
	}

	if missing > 0 || ambiguous > 0 {
		zap.L().Info("normalize: fallbacks applied",
			zap.Time("as_of", model.DateOf(asOf)),
			zap.Int("deals", len(deals)),
			zap.Int("missing_field", missing),
			zap.Int("ambiguous_attribution", ambiguous),
		)
	}
	return deals
}

// Resolve turns one snapshot into a deal with fallback fields and the owner
// role resolved. Meeting data is not attached.
func (n *Normalizer) Resolve(s model.DealSnapshot) model.Deal {
	d := model.Deal{DealSnapshot: s}

	switch {
	case s.PrimaryRevenue != nil:
		d.Revenue = *s.PrimaryRevenue
	case s.FallbackAmount != nil:
		d.Revenue = *s.FallbackAmount
		d.Diagnostics = append(d.Diagnostics, model.Diagnostic{
			Kind:    model.DiagMissingField,
			Field:   "primary_revenue",
			Message: "primary revenue missing; used fallback amount",
		})
	default:
		d.Diagnostics = append(d.Diagnostics, model.Diagnostic{
			Kind:    model.DiagMissingField,
			Field:   "primary_revenue",
			Message: "primary revenue and fallback amount missing; defaulted to 0",
		})
	}

	owner := strings.TrimSpace(s.OwnerID)
	if owner == "" {
		owner = strings.TrimSpace(s.OwnerName)
	}
	switch creator := strings.TrimSpace(s.CreatedBy); {
	case creator != "":
		d.AttributedRep = creator
	case owner != "":
		d.AttributedRep = owner
		d.Diagnostics = append(d.Diagnostics, model.Diagnostic{
			Kind:    model.DiagAmbiguousAttribution,
			Field:   "created_by",
			Message: "creator of record missing; attributed to owner",
		})
	default:
		d.AttributedRep = Unattributed
		d.Diagnostics = append(d.Diagnostics, model.Diagnostic{
			Kind:    model.DiagAmbiguousAttribution,
			Field:   "created_by",
			Message: "creator and owner missing; left unattributed",
		})
	}

	d.OwnerRole = n.role(s)
	d.LastActivityAt = latestOf(s.LastModifiedAt, s.LastContactAt)
	if s.LastModifiedAt == nil {
		d.Diagnostics = append(d.Diagnostics, model.Diagnostic{
			Kind:    model.DiagMissingField,
			Field:   "last_modified_at",
			Message: "last-modified missing; treated as maximally stale",
		})
	}
	if s.LastContactAt == nil {
		d.Diagnostics = append(d.Diagnostics, model.Diagnostic{
			Kind:    model.DiagMissingField,
			Field:   "last_contact_at",
			Message: "last-contact missing; treated as maximally stale",
		})
	}
	return d
}

// role matches the owner id, email and name against the canonical sets.
// The coordinator takes precedence over the placeholder set.
func (n *Normalizer) role(s model.DealSnapshot) model.OwnerRole {
	ids := []string{n.key(s.OwnerID), n.key(s.OwnerEmail), n.key(s.OwnerName)}
	if n.coordinator != "" {
		for _, id := range ids {
			if id == n.coordinator {
				return model.OwnerRebookCoordinator
			}
		}
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := n.placeholder[id]; ok {
			return model.OwnerPlaceholder
		}
	}
	return model.OwnerStandard
}

// nextMeetings maps each deal id to its earliest upcoming meeting start.
func nextMeetings(meetings []model.MeetingSnapshot, now time.Time) map[string]time.Time {
	next := make(map[string]time.Time)
	for _, m := range meetings {
		if m.Outcome == model.MeetingCancelled || m.StartTime.Before(now) {
			continue
		}
		for _, id := range m.DealIDs {
			if cur, ok := next[id]; !ok || m.StartTime.Before(cur) {
				next[id] = m.StartTime
			}
		}
	}
	return next
}

func latestOf(ts ...*time.Time) *time.Time {
	var out *time.Time
	for _, t := range ts {
		if t == nil || t.IsZero() {
			continue
		}
		if out == nil || t.After(*out) {
			v := *t
			out = &v
		}
	}
	return out
}
