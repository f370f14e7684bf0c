package notify

import (
	"strings"
	"testing"
	"time"

	"escalens/internal/domain"
	"escalens/internal/pipeline"
)

func TestBuildMessage(t *testing.T) {
	res := &pipeline.Result{
		Run: pipeline.RunInfo{
			Started:   time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
			DaysBack:  30,
			Threshold: 60,
		},
		Total:     12,
		Qualified: 5,
		IssueGroups: []domain.GroupSummary{
			{Label: "Bug", Count: 3, AvgConfidence: 82.5},
		},
		RootGroups: []domain.GroupSummary{
			{Label: "Product Defect", Count: 4, AvgConfidence: 88},
			{Label: "User Error", Count: 1, AvgConfidence: 70},
		},
		Narrative: "- first insight\n- second insight",
	}

	got := BuildMessage("escalations", res)

	for _, want := range []string{
		"*Escalation Report: escalations* (2024-06-01)",
		"Last 30 days, threshold 60: 5 of 12 records qualified.",
		"*Top Issue Types*",
		"• Bug: 3 (avg 82.5)",
		"*Top Root Causes*",
		"• Product Defect: 4 (avg 88)",
		"• User Error: 1 (avg 70)",
		"*Insights*",
		"- second insight",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("message missing %q:\n%s", want, got)
		}
	}
}

func TestBuildMessageEmptyRun(t *testing.T) {
	res := &pipeline.Result{
		Run:       pipeline.RunInfo{Started: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), DaysBack: 30},
		Narrative: "- nothing to report",
	}

	got := BuildMessage("escalations", res)
	if n := strings.Count(got, "No qualified records in the window."); n != 2 {
		t.Fatalf("empty-list placeholder appeared %d times, want 2:\n%s", n, got)
	}
}
