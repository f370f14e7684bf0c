package pipeline

import (
	"fmt"
	"testing"

	"escalens/internal/domain"
)

func TestAggregateGroupsAndMeans(t *testing.T) {
	records := []domain.Record{
		{RootCause: "Product Defect", RootConfidence: 80},
		{RootCause: "Product Defect", RootConfidence: 0.85},
		{RootCause: "", RootConfidence: 70},
		{RootCause: "User Error", RootConfidence: "abc"},
		{RootCause: "User Error", RootConfidence: 90},
	}
	groups := AggregateByRootCause(records)

	want := []domain.GroupSummary{
		{Label: "Product Defect", Count: 2, AvgConfidence: 82.5},
		{Label: "User Error", Count: 2, AvgConfidence: 45}, // unparseable counts as 0
		{Label: domain.UnknownLabel, Count: 1, AvgConfidence: 70},
	}
	if len(groups) != len(want) {
		t.Fatalf("groups = %d, want %d", len(groups), len(want))
	}
	for i := range want {
		if groups[i] != want[i] {
			t.Fatalf("groups[%d] = %+v, want %+v", i, groups[i], want[i])
		}
	}
}

func TestAggregateMeanRoundsToOneDecimal(t *testing.T) {
	records := []domain.Record{
		{IssueType: "Bug", IssueConfidence: 80},
		{IssueType: "Bug", IssueConfidence: 85},
		{IssueType: "Bug", IssueConfidence: 89},
	}
	groups := AggregateByIssueType(records)
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	// (80+85+89)/3 = 84.666...
	if groups[0].AvgConfidence != 84.7 {
		t.Fatalf("AvgConfidence = %v, want 84.7", groups[0].AvgConfidence)
	}
}

func TestAggregateKeepsTopFiveByCount(t *testing.T) {
	sizes := []int{50, 46, 34, 10, 5, 1}
	var records []domain.Record
	for g, n := range sizes {
		label := fmt.Sprintf("cause-%d", g)
		for i := 0; i < n; i++ {
			records = append(records, domain.Record{RootCause: label, RootConfidence: 75})
		}
	}
	groups := AggregateByRootCause(records)

	if len(groups) != 5 {
		t.Fatalf("groups = %d, want 5", len(groups))
	}
	for i, wantCount := range []int{50, 46, 34, 10, 5} {
		if groups[i].Count != wantCount {
			t.Fatalf("groups[%d].Count = %d, want %d", i, groups[i].Count, wantCount)
		}
	}
	for _, g := range groups {
		if g.Label == "cause-5" {
			t.Fatal("smallest group survived the top-5 cut")
		}
	}
}

func TestAggregateTiesKeepDiscoveryOrder(t *testing.T) {
	records := []domain.Record{
		{IssueType: "How-To", IssueConfidence: 70},
		{IssueType: "Bug", IssueConfidence: 70},
		{IssueType: "Performance", IssueConfidence: 70},
		{IssueType: "How-To", IssueConfidence: 70},
		{IssueType: "Bug", IssueConfidence: 70},
		{IssueType: "Performance", IssueConfidence: 70},
	}
	groups := AggregateByIssueType(records)
	wantOrder := []string{"How-To", "Bug", "Performance"}
	for i, label := range wantOrder {
		if groups[i].Label != label {
			t.Fatalf("groups[%d].Label = %q, want %q", i, groups[i].Label, label)
		}
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	if groups := AggregateByRootCause(nil); len(groups) != 0 {
		t.Fatalf("groups = %d, want 0", len(groups))
	}
}
