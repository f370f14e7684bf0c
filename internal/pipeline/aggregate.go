package pipeline

import (
	"math"
	"sort"

	"escalens/internal/domain"
)

// topGroups caps how many buckets a trend table reports.
const topGroups = 5

// Aggregate buckets records by labelOf and averages the confidences picked by
// confOf. Every record lands in a bucket: an empty label maps to the Unknown
// sentinel, and an unparseable confidence contributes 0 to the sum while
// still counting toward the denominator. Buckets come back count-descending,
// ties in first-seen order, at most topGroups of them.
func Aggregate(records []domain.Record, labelOf func(domain.Record) string, confOf func(domain.Record) any) []domain.GroupSummary {
	type bucket struct {
		label string
		count int
		sum   float64
	}
	index := make(map[string]int)
	var buckets []*bucket
	for _, rec := range records {
		label := labelOf(rec)
		if label == "" {
			label = domain.UnknownLabel
		}
		i, seen := index[label]
		if !seen {
			i = len(buckets)
			index[label] = i
			buckets = append(buckets, &bucket{label: label})
		}
		b := buckets[i]
		b.count++
		if conf, ok := domain.ParseConfidence(confOf(rec)); ok {
			b.sum += conf
		}
	}

	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].count > buckets[j].count })
	if len(buckets) > topGroups {
		buckets = buckets[:topGroups]
	}

	out := make([]domain.GroupSummary, len(buckets))
	for i, b := range buckets {
		out[i] = domain.GroupSummary{
			Label:         b.label,
			Count:         b.count,
			AvgConfidence: math.Round(b.sum/float64(b.count)*10) / 10,
		}
	}
	return out
}

// AggregateByIssueType groups on the issue-type label and its confidence.
func AggregateByIssueType(records []domain.Record) []domain.GroupSummary {
	return Aggregate(records,
		func(r domain.Record) string { return r.IssueType },
		func(r domain.Record) any { return r.IssueConfidence })
}

// AggregateByRootCause groups on the root-cause label and its confidence.
func AggregateByRootCause(records []domain.Record) []domain.GroupSummary {
	return Aggregate(records,
		func(r domain.Record) string { return r.RootCause },
		func(r domain.Record) any { return r.RootConfidence })
}
