package llm

import (
	"testing"
)

func TestExampleIndex_TopK(t *testing.T) {
	items := []Example{
		{Text: "Fix database connection pool timeout", IssueType: "Bug", RootCause: "Product Defect"},
		{Text: "Add user authentication OAuth flow", IssueType: "How-To", RootCause: "Missing Documentation"},
		{Text: "Database migration for new schema", IssueType: "Configuration", RootCause: "User Error"},
	}
	idx := buildExampleIndex(items)

	results := idx.topK("database connection issue", 2)
	if len(results) == 0 {
		t.Fatalf("expected at least one result for database query")
	}
	// The top result should be the database connection pool item.
	if results[0].Text != "Fix database connection pool timeout" {
		t.Fatalf("expected most similar item first, got %s", results[0].Text)
	}
	if results[0].IssueType != "Bug" || results[0].RootCause != "Product Defect" {
		t.Fatalf("expected labels carried with the example, got %+v", results[0])
	}
}

func TestExampleIndex_NoVocabularyOverlap(t *testing.T) {
	items := []Example{
		{Text: "printer jam on floor three", IssueType: "Bug", RootCause: "Product Defect"},
	}
	idx := buildExampleIndex(items)
	if results := idx.topK("kubernetes pod eviction", 3); len(results) != 0 {
		t.Fatalf("expected no results without token overlap, got %v", results)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Hello, World!", []string{"hello", "world"}},
		{"Fix bug-123 in API", []string{"fix", "bug", "123", "in", "api"}},
		{"UPPERCASE MiXeD", []string{"uppercase", "mixed"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := tokenize(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("tokenize(%q) = %v, want %v", tt.input, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("tokenize(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
			}
		}
	}
}

func TestCosineSim_Orthogonal(t *testing.T) {
	a := sparseVec{0: 1.0, 1: 0.0}
	b := sparseVec{2: 1.0, 3: 0.0}
	if sim := cosineSim(a, b); sim != 0 {
		t.Fatalf("expected zero similarity for orthogonal vectors, got %f", sim)
	}
}

func TestCosineSim_Identical(t *testing.T) {
	a := sparseVec{0: 1.0, 1: 2.0}
	sim := cosineSim(a, a)
	if sim < 0.999 || sim > 1.001 {
		t.Fatalf("expected similarity ~1.0 for identical vectors, got %f", sim)
	}
}

func TestBuildExampleIndex_Empty(t *testing.T) {
	idx := buildExampleIndex(nil)
	if results := idx.topK("anything", 5); len(results) != 0 {
		t.Fatalf("expected no results from empty index")
	}
}
