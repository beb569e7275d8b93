package scorer

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/model"
)

// Zombie reasons.
const (
	ReasonNoActivity = "no activity since creation"
)

// ReasonExceedsCycle formats the cycle-multiple reason, e.g. "exceeds 3× cycle".
func ReasonExceedsCycle(multiplier float64) string {
	return fmt.Sprintf("exceeds %s× cycle", strconv.FormatFloat(multiplier, 'f', -1, 64))
}

// ReasonStageAge formats the absolute stage-age reason.
func ReasonStageAge(maxDays int) string {
	return fmt.Sprintf("in stage > %d days", maxDays)
}

// MedianCycleDays returns the median creation-to-close span of deals closed
// within the trailing lookback window. ok is false when no deal qualifies.
func MedianCycleDays(deals []model.Deal, now time.Time, lookbackDays int) (median float64, ok bool) {
	var cycles []int
	for _, d := range deals {
		if !d.IsClosed() || d.CloseDate == nil {
			continue
		}
		ago := model.DaysBetween(*d.CloseDate, now)
		if ago < 0 || ago > lookbackDays {
			continue
		}
		if span := model.DaysBetween(d.CreatedAt, *d.CloseDate); span >= 0 {
			cycles = append(cycles, span)
		}
	}
	if len(cycles) == 0 {
		return 0, false
	}

	sort.Ints(cycles)
	mid := len(cycles) / 2
	if len(cycles)%2 == 1 {
		return float64(cycles[mid]), true
	}
	return float64(cycles[mid-1]+cycles[mid]) / 2, true
}

// ZombieDetector flags open deals that should leave active pipeline metrics.
type ZombieDetector struct {
	cfg config.ZombieConfig
}

// NewZombieDetector creates a ZombieDetector.
func NewZombieDetector(cfg config.ZombieConfig) *ZombieDetector {
	return &ZombieDetector{cfg: cfg}
}

// Detect evaluates every open deal. The cycle median is computed over the
// closed deals of the same input. Results are ordered by entity id.
func (z *ZombieDetector) Detect(deals []model.Deal, now time.Time) []model.Zombie {
	median, haveMedian := MedianCycleDays(deals, now, z.cfg.CycleLookbackDays)

	var out []model.Zombie
	for _, d := range deals {
		if !d.IsOpen() {
			continue
		}
		zb, ok := z.evaluate(d, now, median, haveMedian)
		if ok {
			out = append(out, zb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Evaluate checks a single open deal against a known median cycle.
func (z *ZombieDetector) Evaluate(d model.Deal, now time.Time, medianCycleDays float64) (model.Zombie, bool) {
	return z.evaluate(d, now, medianCycleDays, medianCycleDays > 0)
}

func (z *ZombieDetector) evaluate(d model.Deal, now time.Time, median float64, haveMedian bool) (model.Zombie, bool) {
	sinceCreation := model.DaysBetween(d.CreatedAt, now)
	sinceActivity, ok := model.DaysSince(d.LastActivityAt, now)
	if !ok {
		// Nothing recorded: as stale as the deal is old.
		sinceActivity = sinceCreation
	}

	zb := model.Zombie{
		EntityID:          d.EntityID,
		Name:              d.Name,
		Owner:             d.Owner(),
		Revenue:           d.Revenue,
		DaysSinceCreation: sinceCreation,
		DaysSinceActivity: sinceActivity,
		DaysInStage:       d.DaysInStage,
	}
	if haveMedian {
		m := median
		zb.MedianCycleDays = &m
		if float64(sinceCreation) > z.cfg.CycleMultiplier*median {
			zb.Reasons = append(zb.Reasons, ReasonExceedsCycle(z.cfg.CycleMultiplier))
		}
	}
	if sinceCreation >= z.cfg.MinAgeDays && sinceActivity >= sinceCreation-1 {
		zb.Reasons = append(zb.Reasons, ReasonNoActivity)
	}
	if d.DaysInStage > z.cfg.MaxDaysInStage {
		zb.Reasons = append(zb.Reasons, ReasonStageAge(z.cfg.MaxDaysInStage))
	}
	return zb, len(zb.Reasons) > 0
}

// IDs returns the set of zombie entity ids.
func IDs(zombies []model.Zombie) map[string]struct{} {
	ids := make(map[string]struct{}, len(zombies))
	for _, z := range zombies {
		ids[z.EntityID] = struct{}{}
	}
	return ids
}
