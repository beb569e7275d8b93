package summary

import (
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const fallbackText = `Pipeline digest for {{date .AsOf}}
Open pipeline: {{money .Overview.OpenValue}} across {{.Overview.OpenCount}} deals ({{.Overview.EnterpriseCount}} enterprise, {{.Overview.StandardCount}} standard).
At risk: {{.Overview.AtRiskCount}} deals worth {{money .Overview.AtRiskValue}}; {{pct .Overview.HealthyPct}} of open deals are healthy.
{{- range .RiskCounts}}
  - {{.Reason}}: {{.Count}} ({{money .Value}})
{{- end}}
Pace: {{.Pace.Status}} at {{pct .Pace.PctOfTarget}} of target; {{money .Pace.QTDWon}} won this quarter against {{money .Pace.ExpectedByNow}} expected by now.
{{- if gt .Pace.DaysRemaining 0}}
Required: {{money .Pace.RequiredWeekly}} per week over the remaining {{.Pace.DaysRemaining}} days.
{{- end}}
Last 7 days: {{.Overview.WonCount7d}} won ({{money .Overview.WonValue7d}}), {{.Overview.LostCount7d}} lost, {{.Overview.SlippedCount}} close dates slipped.
{{- if .TopAtRisk}}
Top at-risk deals:
{{- range .TopAtRisk}}
  - {{.Name}} ({{.Owner}}): {{money .Revenue}}, {{.PrimaryReason}}
{{- end}}
{{- end}}
{{- if .Rebook.Count}}
Pending rebook: {{.Rebook.Count}} deals worth {{money .Rebook.TotalValue}}, {{.Rebook.WithoutMeeting}} without an upcoming meeting.
{{- end}}
`

var fallbackTmpl = template.Must(template.New("fallback").Funcs(template.FuncMap{
	"money": func(v float64) string { return message.NewPrinter(language.English).Sprintf("$%.0f", v) },
	"pct":   func(v float64) string { return message.NewPrinter(language.English).Sprintf("%.1f%%", v) },
	"date":  func(t time.Time) string { return t.UTC().Format(time.DateOnly) },
}).Parse(fallbackText))

// Fallback renders the digest with a fixed template. The same digest always
// yields the same text.
func Fallback(d Digest) string {
	var sb strings.Builder
	if err := fallbackTmpl.Execute(&sb, d); err != nil {
		// Only reachable through a template bug; keep whatever rendered.
		return sb.String()
	}
	return sb.String()
}
