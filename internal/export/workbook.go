package export

import (
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/rollup"
)

// Sheet names in workbook order.
const (
	SheetOverview    = "Overview"
	SheetRisk        = "Risk"
	SheetFocus       = "Focus"
	SheetZombies     = "Zombies"
	SheetMovements   = "Movements"
	SheetSlippage    = "Slippage"
	SheetPace        = "Pace"
	SheetLeaderboard = "Leaderboard"
	SheetRebook      = "Pending Rebook"
	SheetAging       = "Aging"
)

const (
	moneyFormat = "#,##0"
	pctFormat   = "0.0"
)

// Workbook builds the XLSX file for a report.
func Workbook(r *Report) (*xlsx.File, error) {
	f := xlsx.NewFile()
	builders := []struct {
		name  string
		build func(s *xlsx.Sheet)
	}{
		{SheetOverview, func(s *xlsx.Sheet) { overviewSheet(s, r.Overview) }},
		{SheetRisk, func(s *xlsx.Sheet) { riskSheet(s, r.Risk) }},
		{SheetFocus, func(s *xlsx.Sheet) { focusSheet(s, r.Focus) }},
		{SheetZombies, func(s *xlsx.Sheet) { zombieSheet(s, r.Zombies) }},
		{SheetMovements, func(s *xlsx.Sheet) { movementSheet(s, r.Movements) }},
		{SheetSlippage, func(s *xlsx.Sheet) { slippageSheet(s, r.Slippage) }},
		{SheetPace, func(s *xlsx.Sheet) { paceSheet(s, r.Pace) }},
		{SheetLeaderboard, func(s *xlsx.Sheet) { leaderboardSheet(s, r.Leaderboard) }},
		{SheetRebook, func(s *xlsx.Sheet) { rebookSheet(s, r) }},
		{SheetAging, func(s *xlsx.Sheet) { agingSheet(s, r.Aging) }},
	}
	for _, b := range builders {
		s, err := f.AddSheet(b.name)
		if err != nil {
			return nil, eris.Wrapf(err, "export: add sheet %s", b.name)
		}
		b.build(s)
	}
	return f, nil
}

// Save writes the report workbook to path.
func Save(r *Report, path string) error {
	f, err := Workbook(r)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

// Write streams the report workbook to w.
func Write(r *Report, w io.Writer) error {
	f, err := Workbook(r)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}

// row appends one row. Values are typed so spreadsheet math works on the
// numeric columns.
func row(s *xlsx.Sheet, values ...any) {
	r := s.AddRow()
	for _, v := range values {
		c := r.AddCell()
		switch v := v.(type) {
		case string:
			c.SetString(v)
		case int:
			c.SetInt(v)
		case bool:
			c.SetBool(v)
		case money:
			c.SetFloatWithFormat(float64(v), moneyFormat)
		case pct:
			c.SetFloatWithFormat(float64(v), pctFormat)
		case float64:
			c.SetFloat(v)
		case time.Time:
			c.SetString(date(v))
		case *time.Time:
			if v != nil {
				c.SetString(date(*v))
			}
		case *int:
			if v != nil {
				c.SetInt(*v)
			}
		case *float64:
			if v != nil {
				c.SetFloat(*v)
			}
		}
	}
}

type (
	money float64
	pct   float64
)

func date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

func overviewSheet(s *xlsx.Sheet, o model.PipelineOverview) {
	row(s, "Metric", "Value")
	row(s, "As of", o.AsOf)
	row(s, "Open deals", o.OpenCount)
	row(s, "Open value", money(o.OpenValue))
	row(s, "Enterprise deals", o.EnterpriseCount)
	row(s, "Enterprise value", money(o.EnterpriseValue))
	row(s, "Standard deals", o.StandardCount)
	row(s, "Standard value", money(o.StandardValue))
	row(s, "At-risk deals", o.AtRiskCount)
	row(s, "At-risk value", money(o.AtRiskValue))
	row(s, "Healthy %", pct(o.HealthyPct))
	row(s, "Won (7d)", o.WonCount7d)
	row(s, "Won value (7d)", money(o.WonValue7d))
	row(s, "Lost (7d)", o.LostCount7d)
	row(s, "Lost value (7d)", money(o.LostValue7d))
	row(s, "Win rate % (7d)", pct(o.WinRate7d))
	row(s, "Saved by activity", o.SavedByActivity)
	row(s, "Next step set %", pct(o.NextStepPct))
	row(s, "Slipped close dates", o.SlippedCount)
	row(s, "Zombie deals", o.ZombieCount)
	row(s, "Zombie value", money(o.ZombieValue))

	row(s)
	row(s, "Stage", "Deals", "Value")
	for _, st := range o.Stages {
		row(s, st.Stage, st.Count, money(st.Value))
	}
}

func riskSheet(s *xlsx.Sheet, flags []model.RiskFlags) {
	row(s, "Entity ID", "Name", "Owner", "Stage", "Revenue", "Enterprise",
		"At Risk", "Primary Reason", "Flags", "Ownership Risk", "Pending Rebook",
		"Stalled", "Ghosted", "Not Industry Match", "Stalled (Delayed)",
		"Saved By Activity", "Upcoming Meeting", "Days In Stage",
		"Days Since Contact", "Days Since Modified")
	for _, f := range flags {
		row(s, f.EntityID, f.Name, f.Owner, f.Stage, money(f.Revenue), f.IsEnterprise,
			f.IsAtRisk, f.PrimaryReason, f.FlagCount, f.OwnershipRisk, f.PendingRebook,
			f.Stalled, f.Ghosted, f.NotIndustryMatch, f.StalledDelayed,
			f.SavedByActivity(), f.HasUpcomingMeeting, f.DaysInStage,
			f.DaysSinceContact, f.DaysSinceModified)
	}
}

func focusSheet(s *xlsx.Sheet, scores []model.FocusScore) {
	row(s, "Rank", "Entity ID", "Name", "Owner", "Revenue", "Engagement",
		"Threading", "Stage Age", "Size", "Focus Score", "Priority")
	for i, fs := range scores {
		row(s, i+1, fs.EntityID, fs.Name, fs.Owner, money(fs.Revenue), fs.Engagement,
			fs.Threading, fs.StageAge, fs.Size, fs.Total, string(fs.RiskPriority))
	}
}

func zombieSheet(s *xlsx.Sheet, zombies []model.Zombie) {
	row(s, "Entity ID", "Name", "Owner", "Revenue", "Days Since Creation",
		"Days Since Activity", "Days In Stage", "Median Cycle Days", "Reasons")
	for _, z := range zombies {
		row(s, z.EntityID, z.Name, z.Owner, money(z.Revenue), z.DaysSinceCreation,
			z.DaysSinceActivity, z.DaysInStage, z.MedianCycleDays, strings.Join(z.Reasons, "; "))
	}
}

func movementSheet(s *xlsx.Sheet, events []model.MovementEvent) {
	row(s, "Date", "Entity ID", "Name", "Type", "From", "To",
		"Days In Prior Stage", "Owner", "Attributed Rep", "Revenue")
	for _, e := range events {
		row(s, e.TransitionDate, e.EntityID, e.Name, string(e.Type), e.FromStage, e.ToStage,
			e.DaysInPriorStage, e.Owner, e.AttributedRep, money(e.Revenue))
	}
}

func slippageSheet(s *xlsx.Sheet, slipped []model.Slippage) {
	row(s, "Observed", "Entity ID", "Name", "Owner", "Revenue",
		"Previous Close", "Current Close", "Days Pushed")
	for _, sl := range slipped {
		row(s, sl.ObservedOn, sl.EntityID, sl.Name, sl.Owner, money(sl.Revenue),
			sl.PreviousClose, sl.CurrentClose, sl.DaysPushed)
	}
}

func paceSheet(s *xlsx.Sheet, p model.PaceMetrics) {
	row(s, "Metric", "Value")
	row(s, "Status", string(p.Status))
	row(s, "Quarter start", p.QuarterStart)
	row(s, "Quarter end", p.QuarterEnd)
	row(s, "Days elapsed", p.DaysElapsed)
	row(s, "Days remaining", p.DaysRemaining)
	row(s, "Target", money(p.Target))
	row(s, "Starting value", money(p.StartingValue))
	row(s, "Remaining to target", money(p.RemainingToTarget))
	row(s, "QTD won", money(p.QTDWon))
	row(s, "QTD won deals", p.QTDWonCount)
	row(s, "Current pace (monthly)", money(p.CurrentPaceMonthly))
	row(s, "Required pace (monthly)", money(p.RequiredPaceMonthly))
	row(s, "Pace delta", money(p.PaceDelta))
	row(s, "Expected by now", money(p.ExpectedByNow))
	row(s, "Gap to expected", money(p.GapToExpected))
	row(s, "% of target", pct(p.PctOfTarget))
	row(s, "Required daily", money(p.RequiredDaily))
	row(s, "Required weekly", money(p.RequiredWeekly))
	row(s, "Open pipeline", money(p.OpenPipeline))
	row(s, "Coverage ratio", p.CoverageRatio)
}

func leaderboardSheet(s *xlsx.Sheet, board map[model.RollupWindow][]model.OwnerRollup) {
	row(s, "Window", "Owner", "Deals Added", "Pipeline Added", "Stage Movements",
		"Open Deals", "Avg Engagement", "Won", "Lost", "Won Value", "Win Rate %",
		"Next Step %", "At Risk", "At-Risk Value", "Rank (Won)", "Rank (Pipeline)",
		"Rank (Movements)", "Rank (Engagement)", "Rank (Win Rate)")
	for _, w := range rollup.Windows {
		for _, o := range board[w] {
			row(s, string(w), o.OwnerID, o.DealsAdded, money(o.PipelineAdded), o.StageMovements,
				o.OpenDeals, o.AvgEngagement, o.WonCount, o.LostCount, money(o.WonValue),
				pct(o.WinRatePct), pct(o.NextStepPct), o.AtRiskCount, money(o.AtRiskValue),
				o.Ranks.WonValue, o.Ranks.PipelineAdded, o.Ranks.StageMovements,
				o.Ranks.AvgEngagement, o.Ranks.WinRate)
		}
	}
}

func rebookSheet(s *xlsx.Sheet, r *Report) {
	rb := r.Rebook
	row(s, "Metric", "Value")
	row(s, "Deals", rb.Count)
	row(s, "Total value", money(rb.TotalValue))
	row(s, "Avg days in stage", rb.AvgDaysInStage)
	row(s, "With upcoming meeting", rb.WithMeeting)
	row(s, "Without upcoming meeting", rb.WithoutMeeting)
	row(s, "Value without upcoming meeting", money(rb.ValueWithoutMeeting))

	row(s)
	row(s, "Entity ID", "Name", "Revenue", "Days In Stage", "Upcoming Meeting")
	for _, f := range rb.Top {
		row(s, f.EntityID, f.Name, money(f.Revenue), f.DaysInStage, f.HasUpcomingMeeting)
	}
}

func agingSheet(s *xlsx.Sheet, r model.AgingReport) {
	row(s, "Status", "Deals", "Value", "Avg Days In Stage", "% Of Deals")
	for _, b := range r.Summary {
		row(s, string(b.Status), b.Count, money(b.Value), b.AvgDaysInStage, pct(b.PctOfDeals))
	}

	row(s)
	row(s, "Entity ID", "Name", "Owner", "Stage", "Family", "Revenue", "Days In Stage", "Status")
	for _, d := range r.Deals {
		row(s, d.EntityID, d.Name, d.Owner, d.Stage, d.Family, money(d.Revenue), d.DaysInStage, string(d.Status))
	}
}
