package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// AppendConfig defines the parameters for an append-only bulk insert.
type AppendConfig struct {
	Table        string   // target table (e.g., "deal_snapshots")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
}

func (c AppendConfig) validate() error {
	if len(c.Columns) == 0 {
		return eris.New("db: append: no columns specified")
	}
	if len(c.ConflictKeys) == 0 {
		return eris.New("db: append: no conflict keys specified")
	}
	return nil
}

// AppendOnly inserts rows without ever touching existing ones, in its own
// transaction. Returns the number of rows actually appended.
func AppendOnly(ctx context.Context, pool Pool, cfg AppendConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: append: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := AppendTx(ctx, tx, cfg, rows)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: append: commit tx")
	}
	return n, nil
}

// AppendTx runs an append-only insert inside the caller's transaction:
// 1. Creates a temp table shaped like the target
// 2. COPY rows into the temp table
// 3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO NOTHING
// The temp table is dropped on commit.
func AppendTx(ctx context.Context, tx pgx.Tx, cfg AppendConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tempTable := fmt.Sprintf("_tmp_append_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: append: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: append: COPY into temp table for %s", cfg.Table)
	}

	colList := quoteAndJoin(cfg.Columns)
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO NOTHING",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
	)

	tag, err := tx.Exec(ctx, insertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: append: INSERT ON CONFLICT for %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

// tableIdentifier splits schema-qualified names like "audit.focus_scores".
func tableIdentifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.SplitN(table, ".", 2))
}

// sanitizeTable quotes a possibly schema-qualified table name.
func sanitizeTable(table string) string {
	return tableIdentifier(table).Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
