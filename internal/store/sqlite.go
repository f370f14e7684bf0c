package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"escalens/internal/config"
	"escalens/internal/domain"
	"escalens/internal/logger"
	"escalens/internal/pipeline"
)

// SQLite column names of the escalations table. The classification columns
// are also the migration targets of EnsureClassificationColumns for tables
// created by other tooling.
const (
	dbColID          = "id"
	dbColCreated     = "created"
	dbColSummary     = "summary"
	dbColDescription = "description"
	dbColIssueType   = "issue_type"
	dbColIssueConf   = "issue_confidence"
	dbColRootCause   = "root_cause"
	dbColRootConf    = "root_confidence"
)

// classificationColumns maps each migratable column to the DDL used when an
// existing escalations table lacks it. NUMERIC affinity keeps raw confidence
// cells heterogeneous: numbers stay numbers, "72%" stays text.
var classificationColumns = []struct {
	name string
	ddl  string
}{
	{dbColIssueType, "TEXT NOT NULL DEFAULT ''"},
	{dbColIssueConf, "NUMERIC"},
	{dbColRootCause, "TEXT NOT NULL DEFAULT ''"},
	{dbColRootConf, "NUMERIC"},
}

// SQLite is the database-backed record store. It also keeps the run-history
// table and receives the trend, insight, and debug outputs as queryable rows
// keyed by run ID, one set per run.
type SQLite struct {
	db  *sql.DB
	log *logger.Logger
}

// OpenSQLite opens (creating if needed) the configured database and brings
// the schema up to date.
func OpenSQLite(cfg config.Config) (*SQLite, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS escalations (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		created          NUMERIC,
		summary          TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		issue_type       TEXT NOT NULL DEFAULT '',
		issue_confidence NUMERIC,
		root_cause       TEXT NOT NULL DEFAULT '',
		root_confidence  NUMERIC
	);

	CREATE TABLE IF NOT EXISTS runs (
		id            TEXT PRIMARY KEY,
		started_at    DATETIME NOT NULL,
		days_back     INTEGER NOT NULL,
		threshold     INTEGER NOT NULL,
		fill_mode     TEXT NOT NULL,
		total_records INTEGER NOT NULL,
		qualified     INTEGER NOT NULL,
		issue_filled  INTEGER NOT NULL DEFAULT 0,
		root_filled   INTEGER NOT NULL DEFAULT 0,
		model_calls   INTEGER NOT NULL DEFAULT 0,
		fallbacks     INTEGER NOT NULL DEFAULT 0,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		duration_ms   INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS trend_groups (
		run_id         TEXT NOT NULL,
		axis           TEXT NOT NULL,
		position       INTEGER NOT NULL,
		label          TEXT NOT NULL,
		count          INTEGER NOT NULL,
		avg_confidence REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trend_groups_run ON trend_groups(run_id);

	CREATE TABLE IF NOT EXISTS insights (
		run_id  TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		line    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_insights_run ON insights(run_id);

	CREATE TABLE IF NOT EXISTS debug_entries (
		run_id         TEXT NOT NULL,
		row_num        INTEGER NOT NULL,
		created_raw    TEXT NOT NULL DEFAULT '',
		created_parsed TEXT NOT NULL DEFAULT '',
		window         TEXT NOT NULL,
		summary        TEXT NOT NULL DEFAULT '',
		issue_type     TEXT NOT NULL DEFAULT '',
		issue_conf     TEXT NOT NULL DEFAULT '',
		root_cause     TEXT NOT NULL DEFAULT '',
		root_conf      TEXT NOT NULL DEFAULT '',
		reason         TEXT NOT NULL,
		included       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_debug_entries_run ON debug_entries(run_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLite{db: db, log: logger.New()}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// ReadAll maps every escalations row into a Record in id order. Values come
// back in their stored representation (REAL stays float64, TEXT stays
// string) so the domain parsers see the same raw shapes the workbook store
// produces; columns beyond the canonical set ride along in Record.Extra.
func (s *SQLite) ReadAll(ctx context.Context) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT * FROM escalations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read escalations: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []domain.Record
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		var rec domain.Record
		for i, col := range cols {
			v := rawDBValue(values[i])
			switch col {
			case dbColID:
				if id, ok := v.(int64); ok {
					rec.Row = int(id)
				}
			case dbColCreated:
				rec.Created = v
			case dbColSummary:
				rec.Summary = stringValue(v)
			case dbColDescription:
				rec.Description = stringValue(v)
			case dbColIssueType:
				rec.IssueType = stringValue(v)
			case dbColIssueConf:
				rec.IssueConfidence = v
			case dbColRootCause:
				rec.RootCause = stringValue(v)
			case dbColRootConf:
				rec.RootConfidence = v
			default:
				if v == nil {
					continue
				}
				if rec.Extra == nil {
					rec.Extra = make(map[string]string)
				}
				rec.Extra[col] = domain.RawString(v)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// EnsureClassificationColumns adds any classification column an existing
// escalations table is missing. The allowed-label lists have no DDL surface
// here; label enforcement is the workbook store's droplists.
func (s *SQLite) EnsureClassificationColumns(ctx context.Context, _, _ []string) error {
	added := 0
	for _, col := range classificationColumns {
		var count int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pragma_table_info('escalations') WHERE name = ?`, col.name,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("inspect escalations schema: %w", err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`ALTER TABLE escalations ADD COLUMN %s %s`, col.name, col.ddl),
		); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
		added++
	}
	if added > 0 {
		s.log.WithField("columns", added).Info("classification columns added to escalations table")
	}
	return nil
}

// WriteAll commits the classification fields of every record back to its
// row. Raw confidence values keep their representation: numbers are stored
// numerically, strings as text.
func (s *SQLite) WriteAll(ctx context.Context, records []domain.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE escalations
		 SET issue_type = ?, issue_confidence = ?, root_cause = ?, root_confidence = ?
		 WHERE id = ?`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.IssueType, rec.IssueConfidence, rec.RootCause, rec.RootConfidence, rec.Row,
		); err != nil {
			return fmt.Errorf("update escalation %d: %w", rec.Row, err)
		}
	}
	return tx.Commit()
}

// WriteSummary stores both trend tables for the run, position preserving the
// count-descending order.
func (s *SQLite) WriteSummary(ctx context.Context, run pipeline.RunInfo, issueGroups, rootGroups []domain.GroupSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trend_groups (run_id, axis, position, label, count, avg_confidence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, table := range []struct {
		axis   string
		groups []domain.GroupSummary
	}{
		{"issue_type", issueGroups},
		{"root_cause", rootGroups},
	} {
		for i, g := range table.groups {
			if _, err := stmt.ExecContext(ctx, run.ID, table.axis, i+1, g.Label, g.Count, g.AvgConfidence); err != nil {
				return fmt.Errorf("insert %s group: %w", table.axis, err)
			}
		}
	}
	return tx.Commit()
}

// WriteInsights stores the narrative one line per row.
func (s *SQLite) WriteInsights(ctx context.Context, run pipeline.RunInfo, narrative string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO insights (run_id, line_no, line) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, line := range strings.Split(narrative, "\n") {
		if _, err := stmt.ExecContext(ctx, run.ID, i+1, line); err != nil {
			return fmt.Errorf("insert insight line: %w", err)
		}
	}
	return tx.Commit()
}

// WriteDebug stores the audit trail, one row per input record, input order.
func (s *SQLite) WriteDebug(ctx context.Context, run pipeline.RunInfo, entries []domain.DebugEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO debug_entries
		 (run_id, row_num, created_raw, created_parsed, window, summary,
		  issue_type, issue_conf, root_cause, root_conf, reason, included)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		parsed := "Invalid"
		if e.CreatedOK {
			parsed = e.Created.Format("2006-01-02 15:04:05")
		}
		if _, err := stmt.ExecContext(ctx,
			run.ID, e.Row, e.RawCreated, parsed, e.Window, e.Summary,
			e.IssueType, debugConf(e.IssueConfidence, e.IssueConfOK),
			e.RootCause, debugConf(e.RootConfidence, e.RootConfOK),
			e.Reason, e.Included,
		); err != nil {
			return fmt.Errorf("insert debug row %d: %w", e.Row, err)
		}
	}
	return tx.Commit()
}

// RecordRun appends the run-history row.
func (s *SQLite) RecordRun(ctx context.Context, res *pipeline.Result) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs
		 (id, started_at, days_back, threshold, fill_mode, total_records, qualified,
		  issue_filled, root_filled, model_calls, fallbacks, input_tokens, output_tokens, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.Run.ID, res.Run.Started, res.Run.DaysBack, res.Run.Threshold, res.Run.FillMode,
		res.Total, res.Qualified,
		res.Fill.IssueFilled, res.Fill.RootFilled, res.Fill.ModelCalls, res.Fill.Fallbacks,
		res.Usage.InputTokens, res.Usage.OutputTokens, res.Duration.Milliseconds(),
	)
	return err
}

// InsertRecords loads source rows, e.g. from an import job or test fixture.
// Classification fields land exactly as given; empty labels stay empty for
// the fill engine.
func (s *SQLite) InsertRecords(ctx context.Context, records []domain.Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO escalations
		 (created, summary, description, issue_type, issue_confidence, root_cause, root_confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.Created, rec.Summary, rec.Description,
			rec.IssueType, rec.IssueConfidence, rec.RootCause, rec.RootConfidence,
		); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, tx.Commit()
}

// rawDBValue unwraps driver values: TEXT arrives as []byte and becomes
// string, everything else (int64, float64, nil) passes through.
func rawDBValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return domain.RawString(v)
}

func debugConf(v float64, ok bool) string {
	if !ok {
		return "Invalid"
	}
	return domain.RawString(v)
}
