package fill

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"escalens/internal/config"
	"escalens/internal/domain"
	"escalens/internal/llm"
	"escalens/internal/logger"
)

// Modes for populating missing classification fields.
const (
	ModeMirror   = "mirror"
	ModeMock     = "mock"
	ModeExternal = "external"
)

// Classifier is the external classification collaborator. Implementations
// must be safe for concurrent calls.
type Classifier interface {
	Classify(ctx context.Context, summary, description string) (llm.Classification, error)
}

// ExampleSource is implemented by classifiers that take few-shot context
// harvested from already-labeled records.
type ExampleSource interface {
	SetExamples(examples []llm.Example)
}

// Stats summarizes one fill pass.
type Stats struct {
	NeedingFill int
	IssueFilled int
	RootFilled  int
	ModelCalls  int
	Fallbacks   int
}

func (s *Stats) add(other Stats) {
	s.NeedingFill += other.NeedingFill
	s.IssueFilled += other.IssueFilled
	s.RootFilled += other.RootFilled
	s.ModelCalls += other.ModelCalls
	s.Fallbacks += other.Fallbacks
}

// Engine fills empty classification labels and their confidences. A record
// needs fill only when a label field is the empty string; populated labels
// are never overwritten, so a second pass over the same records is a no-op.
type Engine struct {
	mode             string
	issueTypes       []string
	rootCauses       []string
	sourceIssueField string
	sourceCauseField string
	workers          int

	classifier Classifier // nil when no credential: external degrades to mock

	mu  sync.Mutex // guards rng
	rng *rand.Rand

	log *logger.Logger
}

// New builds an engine. rng is injectable so tests can fix the seed; the
// randomized strategies are deliberately non-deterministic in production.
func New(cfg config.Config, classifier Classifier, rng *rand.Rand) *Engine {
	return &Engine{
		mode:             cfg.FillMode,
		issueTypes:       cfg.AllowedIssueTypes,
		rootCauses:       cfg.AllowedRootCauses,
		sourceIssueField: cfg.SourceIssueField,
		sourceCauseField: cfg.SourceCauseField,
		workers:          cfg.LLMWorkers,
		classifier:       classifier,
		rng:              rng,
		log:              logger.New(),
	}
}

// FillAll mutates records in place. External-model calls run on a bounded
// worker pool; every failure degrades to a mock pick for the affected field
// only and never aborts the pass.
func (e *Engine) FillAll(ctx context.Context, records []domain.Record) Stats {
	var needy []int
	for i := range records {
		if records[i].IssueType == "" || records[i].RootCause == "" {
			needy = append(needy, i)
		}
	}
	if len(needy) == 0 {
		return Stats{}
	}

	if e.mode == ModeExternal && e.classifier != nil {
		// Harvest few-shot context before any worker mutates a record, so
		// engine fills never feed back into the prompt.
		if src, ok := e.classifier.(ExampleSource); ok {
			src.SetExamples(labeledExamples(records))
		}
		return e.fillExternal(ctx, records, needy)
	}

	var stats Stats
	for _, i := range needy {
		stats.add(e.fillLocal(&records[i]))
	}
	return stats
}

// fillLocal handles the mirror and mock strategies, plus the no-credential
// external case which behaves exactly like mock.
func (e *Engine) fillLocal(rec *domain.Record) Stats {
	stats := Stats{NeedingFill: 1}
	if rec.IssueType == "" {
		if e.mode == ModeMirror {
			e.mirrorIssue(rec)
		} else {
			e.mockIssue(rec)
		}
		stats.IssueFilled = 1
	}
	if rec.RootCause == "" {
		if e.mode == ModeMirror {
			e.mirrorRoot(rec)
		} else {
			e.mockRoot(rec)
		}
		stats.RootFilled = 1
	}
	return stats
}

func (e *Engine) fillExternal(ctx context.Context, records []domain.Record, needy []int) Stats {
	workers := e.workers
	if workers > len(needy) {
		workers = len(needy)
	}

	results := make([]Stats, len(needy))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range jobs {
				results[k] = e.classifyFill(ctx, &records[needy[k]])
			}
		}()
	}
	for k := range needy {
		jobs <- k
	}
	close(jobs)
	wg.Wait()

	var stats Stats
	for _, r := range results {
		stats.add(r)
	}
	return stats
}

// labeledExamples collects the records whose labels are both present
// already. Half-labeled records are fill targets, not precedents.
func labeledExamples(records []domain.Record) []llm.Example {
	var examples []llm.Example
	for i := range records {
		rec := &records[i]
		if rec.IssueType == "" || rec.RootCause == "" {
			continue
		}
		text := strings.TrimSpace(rec.Summary + " " + rec.Description)
		if text == "" {
			continue
		}
		examples = append(examples, llm.Example{
			Text:      text,
			IssueType: rec.IssueType,
			RootCause: rec.RootCause,
		})
	}
	return examples
}

// classifyFill issues one bundled model call per record: a single call
// answers both fields even when only one is missing.
func (e *Engine) classifyFill(ctx context.Context, rec *domain.Record) Stats {
	needIssue := rec.IssueType == ""
	needRoot := rec.RootCause == ""
	stats := Stats{NeedingFill: 1, ModelCalls: 1}

	res, err := e.classifier.Classify(ctx, rec.Summary, rec.Description)
	if err != nil {
		e.log.WithFields(logrus.Fields{"row": rec.Row, "error": err.Error()}).
			Warn("classify failed; falling back to mock fill")
		if needIssue {
			e.mockIssue(rec)
			stats.IssueFilled++
			stats.Fallbacks++
		}
		if needRoot {
			e.mockRoot(rec)
			stats.RootFilled++
			stats.Fallbacks++
		}
		return stats
	}

	if needIssue {
		if res.IssueType != "" {
			rec.IssueType = res.IssueType
			rec.IssueConfidence = math.Round(res.IssueConfidence * 100)
		} else {
			e.mockIssue(rec)
			stats.Fallbacks++
		}
		stats.IssueFilled++
	}
	if needRoot {
		if res.RootCause != "" {
			rec.RootCause = res.RootCause
			rec.RootConfidence = math.Round(res.RootConfidence * 100)
		} else {
			e.mockRoot(rec)
			stats.Fallbacks++
		}
		stats.RootFilled++
	}
	return stats
}

func (e *Engine) mirrorIssue(rec *domain.Record) {
	label := strings.TrimSpace(rec.Extra[e.sourceIssueField])
	if label == "" {
		label = e.randLabel(e.issueTypes)
	}
	rec.IssueType = label
	if !truthy(rec.IssueConfidence) {
		rec.IssueConfidence = float64(90)
	}
}

func (e *Engine) mirrorRoot(rec *domain.Record) {
	label := strings.TrimSpace(rec.Extra[e.sourceCauseField])
	if label == "" {
		label = e.randLabel(e.rootCauses)
	}
	rec.RootCause = label
	if !truthy(rec.RootConfidence) {
		rec.RootConfidence = float64(90)
	}
}

func (e *Engine) mockIssue(rec *domain.Record) {
	rec.IssueType = e.randLabel(e.issueTypes)
	rec.IssueConfidence = e.mockConfidence()
}

func (e *Engine) mockRoot(rec *domain.Record) {
	rec.RootCause = e.randLabel(e.rootCauses)
	rec.RootConfidence = e.mockConfidence()
}

// mockConfidence draws round(65 + (U(0,1)-0.5)*20), clamped to [30,99]. The
// formula's natural range is [55,75]; the clamp stays anyway.
func (e *Engine) mockConfidence() float64 {
	e.mu.Lock()
	u := e.rng.Float64()
	e.mu.Unlock()
	v := math.Round(65 + (u-0.5)*20)
	if v < 30 {
		v = 30
	}
	if v > 99 {
		v = 99
	}
	return v
}

func (e *Engine) randLabel(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	e.mu.Lock()
	i := e.rng.Intn(len(labels))
	e.mu.Unlock()
	return labels[i]
}

// truthy mirrors loose-truthiness for raw confidence cells: nil, empty
// string, zero numbers are falsy; any other value (including "0" as a
// string) counts as present.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case bool:
		return t
	default:
		return true
	}
}
