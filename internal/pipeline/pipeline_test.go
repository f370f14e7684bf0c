package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"escalens/internal/config"
	"escalens/internal/domain"
	"escalens/internal/fill"
	"escalens/internal/llm"
)

type fakeStore struct {
	records   []domain.Record
	readErr   error
	ensureErr error
	writeErr  error

	ensureCalls int
	issueTypes  []string
	rootCauses  []string
	written     [][]domain.Record

	issueGroups []domain.GroupSummary
	rootGroups  []domain.GroupSummary
	narrative   string
	debug       []domain.DebugEntry
	runs        []*Result
}

func (s *fakeStore) ReadAll(context.Context) ([]domain.Record, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	out := make([]domain.Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *fakeStore) EnsureClassificationColumns(_ context.Context, issueTypes, rootCauses []string) error {
	s.ensureCalls++
	s.issueTypes, s.rootCauses = issueTypes, rootCauses
	return s.ensureErr
}

func (s *fakeStore) WriteAll(_ context.Context, records []domain.Record) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	cp := make([]domain.Record, len(records))
	copy(cp, records)
	s.written = append(s.written, cp)
	return nil
}

func (s *fakeStore) WriteSummary(_ context.Context, _ RunInfo, issues, roots []domain.GroupSummary) error {
	s.issueGroups, s.rootGroups = issues, roots
	return nil
}

func (s *fakeStore) WriteInsights(_ context.Context, _ RunInfo, narrative string) error {
	s.narrative = narrative
	return nil
}

func (s *fakeStore) WriteDebug(_ context.Context, _ RunInfo, entries []domain.DebugEntry) error {
	s.debug = entries
	return nil
}

func (s *fakeStore) RecordRun(_ context.Context, res *Result) error {
	s.runs = append(s.runs, res)
	return nil
}

type stubFiller struct {
	stats  fill.Stats
	mutate func([]domain.Record)
}

func (f *stubFiller) FillAll(_ context.Context, records []domain.Record) fill.Stats {
	if f.mutate != nil {
		f.mutate(records)
	}
	return f.stats
}

type fakePublisher struct {
	results []*Result
	err     error
}

func (p *fakePublisher) Publish(_ context.Context, res *Result) error {
	p.results = append(p.results, res)
	return p.err
}

func testConfig() config.Config {
	return config.Config{
		ConfidenceThreshold: 60,
		DaysBack:            30,
		FillMode:            fill.ModeMock,
		AllowedIssueTypes:   []string{"Bug", "How-To"},
		AllowedRootCauses:   []string{"Product Defect", "User Error"},
	}
}

func TestRunEndToEnd(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []domain.Record{
		{Row: 2, Created: now.Add(-24 * time.Hour), Summary: "crash on login",
			IssueType: "Bug", IssueConfidence: 90, RootCause: "Product Defect", RootConfidence: 0.85},
		{Row: 3, Created: now.Add(-60 * 24 * time.Hour), Summary: "stale ticket",
			IssueType: "Bug", IssueConfidence: 90, RootCause: "Product Defect", RootConfidence: 85},
		{Row: 4, Created: now.Add(-2 * time.Hour), Summary: "slow dashboards",
			IssueType: "Performance", IssueConfidence: 40, RootCause: "Product Defect", RootConfidence: 85},
	}}
	pub := &fakePublisher{}
	filler := &stubFiller{stats: fill.Stats{NeedingFill: 1, IssueFilled: 1}}

	res, err := Run(context.Background(), testConfig(), Deps{
		Store:      store,
		Filler:     filler,
		Summary:    store,
		Insights:   store,
		Debug:      store,
		Publishers: []Publisher{pub},
		Usage:      func() llm.Usage { return llm.Usage{InputTokens: 100, OutputTokens: 40} },
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Total != 3 || res.Qualified != 1 {
		t.Fatalf("total/qualified = %d/%d, want 3/1", res.Total, res.Qualified)
	}
	if res.Run.ID == "" {
		t.Fatal("run ID empty")
	}
	if want := now.Add(-30 * 24 * time.Hour); !res.Run.Cutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", res.Run.Cutoff, want)
	}

	if len(res.Debug) != 3 {
		t.Fatalf("debug entries = %d, want 3", len(res.Debug))
	}
	if !res.Debug[0].Included || res.Debug[0].Reason != domain.ReasonPass {
		t.Fatalf("row 2: included %v reason %q", res.Debug[0].Included, res.Debug[0].Reason)
	}
	if res.Debug[1].Included || res.Debug[1].Window != domain.WindowOld {
		t.Fatalf("row 3: included %v window %q", res.Debug[1].Included, res.Debug[1].Window)
	}
	if res.Debug[2].Included || res.Debug[2].Reason != domain.ReasonIssueBelow {
		t.Fatalf("row 4: included %v reason %q", res.Debug[2].Included, res.Debug[2].Reason)
	}

	if len(res.RootGroups) != 1 || res.RootGroups[0] != (domain.GroupSummary{Label: "Product Defect", Count: 1, AvgConfidence: 85}) {
		t.Fatalf("root groups = %+v", res.RootGroups)
	}
	if len(res.IssueGroups) != 1 || res.IssueGroups[0].Label != "Bug" {
		t.Fatalf("issue groups = %+v", res.IssueGroups)
	}

	// No narrator wired and mock fallback defaults on.
	if res.Narrative != mockNarrative {
		t.Fatalf("narrative = %q", res.Narrative)
	}

	if store.ensureCalls != 1 {
		t.Fatalf("ensure calls = %d, want 1", store.ensureCalls)
	}
	if len(store.issueTypes) != 2 || store.issueTypes[0] != "Bug" {
		t.Fatalf("ensure issue types = %v", store.issueTypes)
	}
	if len(store.written) != 1 {
		t.Fatalf("write-backs = %d, want 1", len(store.written))
	}
	if store.narrative != res.Narrative || len(store.debug) != 3 || len(store.rootGroups) != 1 {
		t.Fatal("sink writes incomplete")
	}
	if len(pub.results) != 1 || pub.results[0] != res {
		t.Fatalf("publisher calls = %d", len(pub.results))
	}
	if len(store.runs) != 1 {
		t.Fatalf("run history rows = %d, want 1", len(store.runs))
	}
	if res.Usage.TotalTokens() != 140 {
		t.Fatalf("usage = %d tokens, want 140", res.Usage.TotalTokens())
	}
}

func TestRunDelegatesNarrative(t *testing.T) {
	now := time.Now()
	store := &fakeStore{records: []domain.Record{
		{Row: 2, Created: now, IssueType: "Bug", IssueConfidence: 90,
			RootCause: "User Error", RootConfidence: 88},
	}}
	n := &stubNarrator{text: "- user error dominates"}

	res, err := Run(context.Background(), testConfig(), Deps{
		Store:    store,
		Filler:   &stubFiller{},
		Narrator: n,
		Summary:  store,
		Insights: store,
		Debug:    store,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Narrative != "- user error dominates" {
		t.Fatalf("narrative = %q", res.Narrative)
	}
	if len(n.prompts) != 1 || !strings.Contains(n.prompts[0], "User Error: 1 tickets") {
		t.Fatalf("prompts = %v", n.prompts)
	}
}

func TestRunDryRunSkipsAllWrites(t *testing.T) {
	now := time.Now()
	store := &fakeStore{records: []domain.Record{
		{Row: 2, Created: now, IssueType: "Bug", IssueConfidence: 90,
			RootCause: "Product Defect", RootConfidence: 85},
	}}
	pub := &fakePublisher{}

	res, err := Run(context.Background(), testConfig(), Deps{
		Store:      store,
		Filler:     &stubFiller{stats: fill.Stats{NeedingFill: 1}},
		Summary:    store,
		Insights:   store,
		Debug:      store,
		Publishers: []Publisher{pub},
		DryRun:     true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if store.ensureCalls != 0 || len(store.written) != 0 {
		t.Fatalf("dry run touched the store: ensure=%d writes=%d", store.ensureCalls, len(store.written))
	}
	if store.narrative != "" || store.debug != nil || store.rootGroups != nil {
		t.Fatal("dry run wrote to sinks")
	}
	if len(pub.results) != 0 || len(store.runs) != 0 {
		t.Fatal("dry run published")
	}

	// The in-memory stages still happen.
	if res.Qualified != 1 || res.Narrative == "" || len(res.Debug) != 1 {
		t.Fatalf("dry run result incomplete: %+v", res)
	}
}

func TestRunSkipsWritebackWhenNothingFilled(t *testing.T) {
	store := &fakeStore{records: []domain.Record{
		{Row: 2, Created: time.Now(), IssueType: "Bug", IssueConfidence: 90,
			RootCause: "Product Defect", RootConfidence: 85},
	}}
	_, err := Run(context.Background(), testConfig(), Deps{
		Store:    store,
		Filler:   &stubFiller{},
		Summary:  store,
		Insights: store,
		Debug:    store,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.ensureCalls != 1 {
		t.Fatalf("ensure calls = %d, want 1", store.ensureCalls)
	}
	if len(store.written) != 0 {
		t.Fatal("write-back happened with nothing filled")
	}
}

func TestRunReadFailureIsFatal(t *testing.T) {
	store := &fakeStore{readErr: errors.New("no such sheet: Escalations")}
	_, err := Run(context.Background(), testConfig(), Deps{
		Store:    store,
		Filler:   &stubFiller{},
		Summary:  store,
		Insights: store,
		Debug:    store,
	})
	if err == nil {
		t.Fatal("want error for missing record source")
	}
	if !strings.Contains(err.Error(), "no such sheet") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunWriteFailureIsFatal(t *testing.T) {
	store := &fakeStore{
		records:  []domain.Record{{Row: 2, Created: time.Now()}},
		writeErr: errors.New("workbook locked"),
	}
	_, err := Run(context.Background(), testConfig(), Deps{
		Store:    store,
		Filler:   &stubFiller{stats: fill.Stats{NeedingFill: 1}},
		Summary:  store,
		Insights: store,
		Debug:    store,
	})
	if err == nil || !strings.Contains(err.Error(), "workbook locked") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunPublisherFailureIsSwallowed(t *testing.T) {
	store := &fakeStore{records: []domain.Record{
		{Row: 2, Created: time.Now(), IssueType: "Bug", IssueConfidence: 90,
			RootCause: "Product Defect", RootConfidence: 85},
	}}
	pub := &fakePublisher{err: errors.New("slack down")}

	_, err := Run(context.Background(), testConfig(), Deps{
		Store:      store,
		Filler:     &stubFiller{},
		Summary:    store,
		Insights:   store,
		Debug:      store,
		Publishers: []Publisher{pub},
	})
	if err != nil {
		t.Fatalf("publisher failure escaped: %v", err)
	}
	if len(pub.results) != 1 {
		t.Fatal("publisher was not invoked")
	}
}
