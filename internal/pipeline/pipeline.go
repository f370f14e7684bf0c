package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"escalens/internal/config"
	"escalens/internal/domain"
	"escalens/internal/fill"
	"escalens/internal/llm"
	"escalens/internal/logger"
)

// RecordStore is the bulk source and sink for escalation records. ReadAll
// preserves source row order; WriteAll commits fill mutations and must add
// the classification columns if the store lacks them.
type RecordStore interface {
	ReadAll(ctx context.Context) ([]domain.Record, error)
	EnsureClassificationColumns(ctx context.Context, issueTypes, rootCauses []string) error
	WriteAll(ctx context.Context, records []domain.Record) error
}

// Filler mutates records in place and reports what it touched.
type Filler interface {
	FillAll(ctx context.Context, records []domain.Record) fill.Stats
}

// SummarySink receives both ordered trend tables.
type SummarySink interface {
	WriteSummary(ctx context.Context, run RunInfo, issueGroups, rootGroups []domain.GroupSummary) error
}

// InsightSink receives the composed narrative, line-oriented.
type InsightSink interface {
	WriteInsights(ctx context.Context, run RunInfo, narrative string) error
}

// DebugSink receives the audit trail, one row per input record, input order.
type DebugSink interface {
	WriteDebug(ctx context.Context, run RunInfo, entries []domain.DebugEntry) error
}

// Publisher delivers a completed run to an outward surface (Markdown digest,
// Slack). Publish errors are logged and swallowed; a broken outward surface
// never fails a run that already committed its results.
type Publisher interface {
	Publish(ctx context.Context, res *Result) error
}

// RunRecorder is implemented by stores that keep a run-history table.
type RunRecorder interface {
	RecordRun(ctx context.Context, res *Result) error
}

// RunInfo identifies one pipeline run.
type RunInfo struct {
	ID        string
	Started   time.Time
	Cutoff    time.Time
	DaysBack  int
	Threshold int
	FillMode  string
	DryRun    bool
}

// Result is everything a run produced.
type Result struct {
	Run         RunInfo
	Total       int
	Qualified   int
	Fill        fill.Stats
	IssueGroups []domain.GroupSummary
	RootGroups  []domain.GroupSummary
	Narrative   string
	Debug       []domain.DebugEntry
	Usage       llm.Usage
	Duration    time.Duration
}

// Deps wires the run's collaborators. Narrator may be nil (no credential);
// Usage and Now are optional. Store, Filler, and the three sinks are
// required.
type Deps struct {
	Store      RecordStore
	Filler     Filler
	Narrator   Narrator
	Summary    SummarySink
	Insights   InsightSink
	Debug      DebugSink
	Publishers []Publisher
	Usage      func() llm.Usage
	Now        func() time.Time
	DryRun     bool
}

// Run executes one pipeline pass: read, extend schema, fill, write back,
// qualify, aggregate, compose insights, publish. Dry-run performs every
// in-memory stage but skips schema extension, write-back, sink writes,
// publishing, and the run-history row. Store errors abort the run;
// collaborator failures have already degraded to fallbacks by the time they
// reach here.
func Run(ctx context.Context, cfg config.Config, deps Deps) (*Result, error) {
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	started := now()
	run := RunInfo{
		ID:        uuid.New().String(),
		Started:   started,
		Cutoff:    started.Add(-time.Duration(cfg.DaysBack) * 24 * time.Hour),
		DaysBack:  cfg.DaysBack,
		Threshold: cfg.ConfidenceThreshold,
		FillMode:  cfg.FillMode,
		DryRun:    deps.DryRun,
	}
	log := logger.New().WithRun(run.ID)

	log.WithFields(logrus.Fields{
		"fill_mode": run.FillMode,
		"days_back": run.DaysBack,
		"threshold": run.Threshold,
		"dry_run":   run.DryRun,
	}).Info("pipeline run starting")

	records, err := deps.Store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}
	log.WithField("records", len(records)).Info("records loaded")

	if !deps.DryRun {
		if err := deps.Store.EnsureClassificationColumns(ctx, cfg.AllowedIssueTypes, cfg.AllowedRootCauses); err != nil {
			return nil, fmt.Errorf("extending classification columns: %w", err)
		}
	}

	fillStats := deps.Filler.FillAll(ctx, records)
	if fillStats.NeedingFill > 0 {
		log.WithFields(logrus.Fields{
			"needing_fill": fillStats.NeedingFill,
			"issue_filled": fillStats.IssueFilled,
			"root_filled":  fillStats.RootFilled,
			"model_calls":  fillStats.ModelCalls,
			"fallbacks":    fillStats.Fallbacks,
		}).Info("fill pass complete")
	}

	if !deps.DryRun && fillStats.NeedingFill > 0 {
		if err := deps.Store.WriteAll(ctx, records); err != nil {
			return nil, fmt.Errorf("writing records back: %w", err)
		}
	}

	qualified, debug := QualifyAll(records, run.Cutoff, float64(cfg.ConfidenceThreshold))

	res := &Result{
		Run:         run,
		Total:       len(records),
		Qualified:   len(qualified),
		Fill:        fillStats,
		IssueGroups: AggregateByIssueType(qualified),
		RootGroups:  AggregateByRootCause(qualified),
		Debug:       debug,
	}
	res.Narrative = ComposeInsights(ctx, deps.Narrator, res.RootGroups, cfg.DaysBack, cfg.ConfidenceThreshold, cfg.MockFallback())

	if !deps.DryRun {
		if err := deps.Summary.WriteSummary(ctx, run, res.IssueGroups, res.RootGroups); err != nil {
			return nil, fmt.Errorf("writing trend summary: %w", err)
		}
		if err := deps.Insights.WriteInsights(ctx, run, res.Narrative); err != nil {
			return nil, fmt.Errorf("writing insights: %w", err)
		}
		if err := deps.Debug.WriteDebug(ctx, run, res.Debug); err != nil {
			return nil, fmt.Errorf("writing debug trail: %w", err)
		}
	}

	if deps.Usage != nil {
		res.Usage = deps.Usage()
	}
	res.Duration = now().Sub(started)

	if !deps.DryRun {
		for _, p := range deps.Publishers {
			if err := p.Publish(ctx, res); err != nil {
				log.WithError(err).Warnf("publisher %T failed", p)
			}
		}
		if recorder, ok := deps.Store.(RunRecorder); ok {
			if err := recorder.RecordRun(ctx, res); err != nil {
				log.WithError(err).Warn("run history row not recorded")
			}
		}
	}

	log.WithFields(logrus.Fields{
		"records":   res.Total,
		"qualified": res.Qualified,
		"filled":    fillStats.IssueFilled + fillStats.RootFilled,
		"tokens":    res.Usage.TotalTokens(),
		"duration":  res.Duration.Round(time.Millisecond).String(),
	}).Info("pipeline run complete")

	return res, nil
}
