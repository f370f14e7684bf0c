package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Record is one support-escalation ticket. Created and the two confidence
// fields keep whatever representation the record store handed over (native
// time, numeric serial, or string); parsing happens at use sites.
type Record struct {
	Row         int // 1-based position in the source, stable for a run
	Created     any
	Summary     string
	Description string

	IssueType       string
	IssueConfidence any
	RootCause       string
	RootConfidence  any

	// Extra carries passthrough columns keyed by header name, e.g. the
	// mirror-mode source fields.
	Extra map[string]string
}

// Window verdicts.
const (
	WindowRecent = "Recent"
	WindowOld    = "Old"
)

// Qualification reason codes. Exactly one applies per record.
const (
	ReasonPass         = "✅"
	ReasonMissingBoth  = "Missing both confidences"
	ReasonInvalidIssue = "Invalid issue confidence"
	ReasonInvalidRoot  = "Invalid root confidence"
	ReasonBothBelow    = "Both below threshold"
	ReasonIssueBelow   = "Issue confidence below threshold"
	ReasonRootBelow    = "Root confidence below threshold"
)

// UnknownLabel stands in for an empty classification label during grouping.
const UnknownLabel = "Unknown"

// DebugEntry is the audit row emitted for every input record, included or
// not. Confidence values are the parsed 0-100 forms; the OK flags record
// parseability.
type DebugEntry struct {
	Row        int
	RawCreated string
	Created    time.Time
	CreatedOK  bool
	Window     string
	Summary    string

	IssueType       string
	IssueConfidence float64
	IssueConfOK     bool
	RootCause       string
	RootConfidence  float64
	RootConfOK      bool

	Reason   string
	Included bool
}

// GroupSummary is one aggregation bucket: label, contributing record count,
// and mean confidence rounded to one decimal.
type GroupSummary struct {
	Label         string
	Count         int
	AvgConfidence float64
}

// RawString renders a raw cell value for display (debug trail, logs).
func RawString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}
