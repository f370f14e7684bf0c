package pipeline

import (
	"time"

	"escalens/internal/domain"
)

// Verdict is the qualification outcome for one record.
type Verdict struct {
	Included bool
	Window   string
	Reason   string
}

// Qualify evaluates one record against the recency cutoff and the confidence
// threshold. The reason precedence is fixed: missing both, invalid issue,
// invalid root, both below, issue below, root below, pass. Exactly one state
// applies, and inclusion requires the pass state AND a created timestamp
// inside the window.
func Qualify(rec domain.Record, cutoff time.Time, threshold float64) (Verdict, domain.DebugEntry) {
	created, createdOK := domain.ParseCreated(rec.Created)
	inWindow := createdOK && !created.Before(cutoff)
	window := domain.WindowOld
	if inWindow {
		window = domain.WindowRecent
	}

	issueConf, issueOK := domain.ParseConfidence(rec.IssueConfidence)
	rootConf, rootOK := domain.ParseConfidence(rec.RootConfidence)

	var reason string
	switch {
	case !issueOK && !rootOK:
		reason = domain.ReasonMissingBoth
	case !issueOK:
		reason = domain.ReasonInvalidIssue
	case !rootOK:
		reason = domain.ReasonInvalidRoot
	case issueConf < threshold && rootConf < threshold:
		reason = domain.ReasonBothBelow
	case issueConf < threshold:
		reason = domain.ReasonIssueBelow
	case rootConf < threshold:
		reason = domain.ReasonRootBelow
	default:
		reason = domain.ReasonPass
	}

	included := inWindow && reason == domain.ReasonPass

	entry := domain.DebugEntry{
		Row:             rec.Row,
		RawCreated:      domain.RawString(rec.Created),
		Created:         created,
		CreatedOK:       createdOK,
		Window:          window,
		Summary:         rec.Summary,
		IssueType:       rec.IssueType,
		IssueConfidence: issueConf,
		IssueConfOK:     issueOK,
		RootCause:       rec.RootCause,
		RootConfidence:  rootConf,
		RootConfOK:      rootOK,
		Reason:          reason,
		Included:        included,
	}
	return Verdict{Included: included, Window: window, Reason: reason}, entry
}

// QualifyAll runs Qualify over every record in input order. The debug trail
// covers all records; the returned subset only the included ones.
func QualifyAll(records []domain.Record, cutoff time.Time, threshold float64) ([]domain.Record, []domain.DebugEntry) {
	var qualified []domain.Record
	entries := make([]domain.DebugEntry, 0, len(records))
	for _, rec := range records {
		v, entry := Qualify(rec, cutoff, threshold)
		entries = append(entries, entry)
		if v.Included {
			qualified = append(qualified, rec)
		}
	}
	return qualified, entries
}
