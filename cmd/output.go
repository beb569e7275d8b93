package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/risk"
	"github.com/sells-group/deal-health/internal/rollup"
	"github.com/sells-group/deal-health/internal/store"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

var printer = message.NewPrinter(language.English)

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(out io.Writer, header ...string) *tabwriter.Writer {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	dashes := make([]string, len(header))
	for i, h := range header {
		dashes[i] = strings.Repeat("-", len(h))
	}
	_, _ = fmt.Fprintln(w, strings.Join(header, "\t"))
	_, _ = fmt.Fprintln(w, strings.Join(dashes, "\t"))
	return w
}

func money(v float64) string {
	return printer.Sprintf("%.0f", v)
}

func date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func optDays(d *int) string {
	if d == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *d)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

// truncate shortens s to n runes for compact display.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}

// formatRisk writes one row per classified deal.
func formatRisk(out io.Writer, flags []model.RiskFlags) {
	w := newTable(out, "ID", "NAME", "OWNER", "STAGE", "REVENUE", "AT_RISK", "REASON", "FLAGS", "IN_STAGE", "SINCE_CONTACT")
	for _, f := range flags {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			f.EntityID,
			truncate(f.Name, 30),
			f.Owner,
			f.Stage,
			money(f.Revenue),
			yesNo(f.IsAtRisk),
			f.PrimaryReason,
			f.FlagCount,
			f.DaysInStage,
			optDays(f.DaysSinceContact),
		)
	}
	_ = w.Flush()
}

// formatEngagement writes threading and one health column per window.
func formatEngagement(out io.Writer, rows []model.Engagement) {
	var windows []string
	if len(rows) > 0 {
		for name := range rows[0].Health {
			windows = append(windows, name)
		}
		sort.Strings(windows)
	}

	header := []string{"ID", "CONTACTS", "THREADING", "MOMENTUM_LOSS"}
	for _, name := range windows {
		header = append(header, strings.ToUpper(name))
	}
	w := newTable(out, header...)
	for _, e := range rows {
		cols := []string{
			e.EntityID,
			fmt.Sprintf("%d", e.ContactCount),
			string(e.Threading),
			yesNo(e.CriticalMomentumLoss),
		}
		for _, name := range windows {
			cols = append(cols, string(e.Health[name]))
		}
		_, _ = fmt.Fprintln(w, strings.Join(cols, "\t"))
	}
	_ = w.Flush()
}

// formatFocus writes the sub-scores and total per deal.
func formatFocus(out io.Writer, scores []model.FocusScore) {
	w := newTable(out, "ID", "NAME", "OWNER", "REVENUE", "ENGAGE", "THREAD", "AGE", "SIZE", "TOTAL", "PRIORITY")
	for _, s := range scores {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t%s\n",
			s.EntityID,
			truncate(s.Name, 30),
			s.Owner,
			money(s.Revenue),
			s.Engagement,
			s.Threading,
			s.StageAge,
			s.Size,
			s.Total,
			s.RiskPriority,
		)
	}
	_ = w.Flush()
}

func formatZombies(out io.Writer, zombies []model.Zombie) {
	w := newTable(out, "ID", "NAME", "OWNER", "REVENUE", "AGE", "IDLE", "IN_STAGE", "REASONS")
	for _, z := range zombies {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			z.EntityID,
			truncate(z.Name, 30),
			z.Owner,
			money(z.Revenue),
			z.DaysSinceCreation,
			z.DaysSinceActivity,
			z.DaysInStage,
			strings.Join(z.Reasons, "; "),
		)
	}
	_ = w.Flush()
}

func formatMovements(out io.Writer, events []model.MovementEvent) {
	w := newTable(out, "DATE", "ID", "NAME", "TYPE", "FROM", "TO", "DAYS_PRIOR", "REP", "REVENUE")
	for _, e := range events {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			date(e.TransitionDate),
			e.EntityID,
			truncate(e.Name, 30),
			e.Type,
			e.FromStage,
			e.ToStage,
			e.DaysInPriorStage,
			e.AttributedRep,
			money(e.Revenue),
		)
	}
	_ = w.Flush()
}

func formatSlippage(out io.Writer, rows []model.Slippage) {
	w := newTable(out, "OBSERVED", "ID", "NAME", "OWNER", "REVENUE", "WAS", "NOW", "PUSHED")
	for _, s := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			date(s.ObservedOn),
			s.EntityID,
			truncate(s.Name, 30),
			s.Owner,
			money(s.Revenue),
			date(s.PreviousClose),
			date(s.CurrentClose),
			s.DaysPushed,
		)
	}
	_ = w.Flush()
}

// formatPace writes the pace metrics as label/value pairs.
func formatPace(out io.Writer, p model.PaceMetrics) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Quarter:\t%s .. %s\n", date(p.QuarterStart), date(p.QuarterEnd))
	_, _ = fmt.Fprintf(w, "Days elapsed:\t%d of %d (%d remaining)\n", p.DaysElapsed, p.TotalQuarterDays, p.DaysRemaining)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", p.Status)
	_, _ = fmt.Fprintf(w, "Target:\t%s\n", money(p.Target))
	_, _ = fmt.Fprintf(w, "Won QTD:\t%s (%d deals, %.1f%% of target)\n", money(p.QTDWon), p.QTDWonCount, p.PctOfTarget)
	_, _ = fmt.Fprintf(w, "Expected by now:\t%s\n", money(p.ExpectedByNow))
	_, _ = fmt.Fprintf(w, "Gap to expected:\t%s\n", money(p.GapToExpected))
	_, _ = fmt.Fprintf(w, "Remaining:\t%s\n", money(p.RemainingToTarget))
	_, _ = fmt.Fprintf(w, "Pace (monthly):\t%s current, %s required\n", money(p.CurrentPaceMonthly), money(p.RequiredPaceMonthly))
	_, _ = fmt.Fprintf(w, "Required:\t%s/day, %s/week\n", money(p.RequiredDaily), money(p.RequiredWeekly))
	_, _ = fmt.Fprintf(w, "Open pipeline:\t%s (%.2fx coverage)\n", money(p.OpenPipeline), p.CoverageRatio)
	for _, d := range p.Diagnostics {
		_, _ = fmt.Fprintf(w, "Note:\t%s: %s\n", d.Kind, d.Message)
	}
	_ = w.Flush()
}

// formatLeaderboard writes one section per rollup window.
func formatLeaderboard(out io.Writer, board map[model.RollupWindow][]model.OwnerRollup) {
	for i, win := range rollup.Windows {
		rows := board[win]
		if i > 0 {
			_, _ = fmt.Fprintln(out)
		}
		_, _ = fmt.Fprintf(out, "Window %s\n", win)
		if len(rows) == 0 {
			_, _ = fmt.Fprintln(out, "  (no owners)")
			continue
		}
		w := newTable(out, "OWNER", "ADDED", "PIPELINE", "MOVES", "OPEN", "ENGAGE", "WON", "WON_VALUE", "WIN%", "NEXT_STEP%", "AT_RISK", "RANK_PIPE", "RANK_WON")
		for _, r := range rows {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%.1f\t%d/%d\t%s\t%.0f\t%.0f\t%d\t%d\t%d\n",
				r.OwnerID,
				r.DealsAdded,
				money(r.PipelineAdded),
				r.StageMovements,
				r.OpenDeals,
				r.AvgEngagement,
				r.WonCount, r.WonCount+r.LostCount,
				money(r.WonValue),
				r.WinRatePct,
				r.NextStepPct,
				r.AtRiskCount,
				r.Ranks.PipelineAdded,
				r.Ranks.WonValue,
			)
		}
		_ = w.Flush()
	}
}

func formatRebook(out io.Writer, s risk.RebookSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Pending rebook:\t%d deals, %s\n", s.Count, money(s.TotalValue))
	_, _ = fmt.Fprintf(w, "Avg days in stage:\t%.1f\n", s.AvgDaysInStage)
	_, _ = fmt.Fprintf(w, "Upcoming meeting:\t%d with, %d without (%s)\n", s.WithMeeting, s.WithoutMeeting, money(s.ValueWithoutMeeting))
	_ = w.Flush()
	if len(s.Top) > 0 {
		_, _ = fmt.Fprintln(out)
		formatRisk(out, s.Top)
	}
}

// formatAging writes the per-status summary followed by every deal, worst
// first.
func formatAging(out io.Writer, r model.AgingReport) {
	w := newTable(out, "STATUS", "COUNT", "VALUE", "AVG_DAYS", "SHARE")
	for _, b := range r.Summary {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%.1f\t%.1f%%\n", b.Status, b.Count, money(b.Value), b.AvgDaysInStage, b.PctOfDeals)
	}
	_ = w.Flush()
	if len(r.Deals) == 0 {
		return
	}

	_, _ = fmt.Fprintln(out)
	w = newTable(out, "ID", "NAME", "OWNER", "STAGE", "FAMILY", "DAYS", "VALUE", "STATUS")
	for _, d := range r.Deals {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			d.EntityID,
			truncate(d.Name, 30),
			d.Owner,
			d.Stage,
			d.Family,
			d.DaysInStage,
			money(d.Revenue),
			d.Status,
		)
	}
	_ = w.Flush()
}

// formatOverview writes the headline numbers followed by the stage table.
func formatOverview(out io.Writer, o model.PipelineOverview) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "As of:\t%s\n", date(o.AsOf))
	_, _ = fmt.Fprintf(w, "Open:\t%d deals, %s\n", o.OpenCount, money(o.OpenValue))
	_, _ = fmt.Fprintf(w, "  Enterprise:\t%d deals, %s\n", o.EnterpriseCount, money(o.EnterpriseValue))
	_, _ = fmt.Fprintf(w, "  Standard:\t%d deals, %s\n", o.StandardCount, money(o.StandardValue))
	_, _ = fmt.Fprintf(w, "At risk:\t%d deals, %s (%.1f%% healthy)\n", o.AtRiskCount, money(o.AtRiskValue), o.HealthyPct)
	_, _ = fmt.Fprintf(w, "Saved by activity:\t%d\n", o.SavedByActivity)
	_, _ = fmt.Fprintf(w, "Next step set:\t%.1f%%\n", o.NextStepPct)
	_, _ = fmt.Fprintf(w, "Won (7d):\t%d deals, %s\n", o.WonCount7d, money(o.WonValue7d))
	_, _ = fmt.Fprintf(w, "Lost (7d):\t%d deals, %s\n", o.LostCount7d, money(o.LostValue7d))
	_, _ = fmt.Fprintf(w, "Win rate (7d):\t%.1f%%\n", o.WinRate7d)
	_, _ = fmt.Fprintf(w, "Slipped:\t%d\n", o.SlippedCount)
	_, _ = fmt.Fprintf(w, "Zombies:\t%d deals, %s\n", o.ZombieCount, money(o.ZombieValue))
	for _, b := range o.Aging {
		_, _ = fmt.Fprintf(w, "Aging %s:\t%d deals, %s\n", b.Status, b.Count, money(b.Value))
	}
	for _, d := range o.Diagnostics {
		_, _ = fmt.Fprintf(w, "Note:\t%s: %s\n", d.Kind, d.Message)
	}
	_ = w.Flush()

	if len(o.Stages) > 0 {
		_, _ = fmt.Fprintln(out)
		t := newTable(out, "STAGE", "COUNT", "VALUE")
		for _, s := range o.Stages {
			_, _ = fmt.Fprintf(t, "%s\t%d\t%s\n", s.Stage, s.Count, money(s.Value))
		}
		_ = t.Flush()
	}
}

// formatRunsList writes a tabular list of ingest runs to w.
func formatRunsList(out io.Writer, runs []store.IngestRun) {
	w := newTable(out, "ID", "SOURCE", "OBSERVED", "DEALS", "MEETINGS", "STARTED", "DURATION", "ERROR")
	for _, r := range runs {
		dur := r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d/%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Source,
			date(r.ObservedOn),
			r.DealsInserted, r.DealsSeen,
			r.MeetingsInserted, r.MeetingsSeen,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			truncate(r.Error, 40),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
