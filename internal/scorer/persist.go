package scorer

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-health/internal/db"
	"github.com/sells-group/deal-health/internal/model"
)

var focusRunColumns = []string{
	"run_id", "as_of", "entity_id", "rank", "engagement_score", "threading_score",
	"stage_age_score", "size_score", "focus_score", "risk_priority", "config_hash",
}

// SaveFocusScores persists one focus scoring run to focus_score_runs and
// returns the generated run id. The scores are an audit record only; views
// always recompute from snapshots.
func SaveFocusScores(ctx context.Context, pool db.Pool, scores []model.FocusScore, asOf time.Time, configHash string) (string, error) {
	if len(scores) == 0 {
		return "", nil
	}

	runID := uuid.NewString()
	day := model.DateOf(asOf)
	rows := make([][]any, len(scores))
	for i, s := range scores {
		rows[i] = []any{runID, day, s.EntityID, i + 1, s.Engagement, s.Threading,
			s.StageAge, s.Size, s.Total, string(s.RiskPriority), configHash}
	}

	if _, err := db.CopyFrom(ctx, pool, "focus_score_runs", focusRunColumns, rows); err != nil {
		return "", eris.Wrap(err, "scorer: save focus scores")
	}

	zap.L().Info("scorer: saved focus scores",
		zap.String("run_id", runID),
		zap.Int("count", len(scores)),
		zap.Time("as_of", asOf),
	)
	return runID, nil
}

// LoadFocusRun loads the scores of a stored run ordered by rank.
func LoadFocusRun(ctx context.Context, pool db.Pool, runID string) ([]model.FocusScore, error) {
	rows, err := pool.Query(ctx, `
		SELECT entity_id, engagement_score, threading_score, stage_age_score,
		       size_score, focus_score, risk_priority
		FROM focus_score_runs
		WHERE run_id = $1
		ORDER BY rank
	`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "scorer: query focus run")
	}
	defer rows.Close()

	var out []model.FocusScore
	for rows.Next() {
		var fs model.FocusScore
		var priority string
		if err := rows.Scan(&fs.EntityID, &fs.Engagement, &fs.Threading, &fs.StageAge,
			&fs.Size, &fs.Total, &priority); err != nil {
			return nil, eris.Wrap(err, "scorer: scan focus run")
		}
		fs.RiskPriority = model.RiskPriority(priority)
		out = append(out, fs)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "scorer: iterate focus run")
	}
	return out, nil
}

// ConfigHash returns a SHA-256 hash of the scoring config for reproducibility.
func ConfigHash(cfg any) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16]) // 32 hex chars
}
