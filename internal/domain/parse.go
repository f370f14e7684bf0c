package domain

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// nonConfidenceChars strips everything that is not a digit or decimal point,
// so "72%", "~0.8", "85 pts" all reduce to their numeric core. Note the minus
// sign is stripped too; only natively numeric inputs keep their sign.
var nonConfidenceChars = regexp.MustCompile(`[^0-9.]`)

// ParseConfidence normalizes a raw confidence cell to the 0-100 scale.
// Values ≤ 1 are treated as fractions and scaled by 100, values > 1 pass
// through unchanged. A literal 1 on a 0-100 scale is therefore misread as
// 100 percent; that ambiguity is inherited behavior and kept as-is.
// The second return is false when the value is absent or unparseable.
func ParseConfidence(raw any) (float64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case float64:
		return scaleConfidence(v)
	case float32:
		return scaleConfidence(float64(v))
	case int:
		return scaleConfidence(float64(v))
	case int64:
		return scaleConfidence(float64(v))
	case string:
		cleaned := nonConfidenceChars.ReplaceAllString(v, "")
		if cleaned == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return scaleConfidence(f)
	default:
		return 0, false
	}
}

func scaleConfidence(v float64) (float64, bool) {
	if math.IsNaN(v) {
		return 0, false
	}
	if v <= 1 {
		return v * 100, true
	}
	return v, true
}

// serialEpochOffsetDays is the day count between the 1899-12-30 spreadsheet
// epoch and 1970-01-01.
const serialEpochOffsetDays = 25569

// maxEpochMillis bounds the representable serial-date range; serials that
// land outside it are treated as unparseable rather than clamped.
const maxEpochMillis = 8.64e15

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// localDatePattern matches M/D/YYYY H:MM[:SS] with either a space or a T
// between date and clock.
var localDatePattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})[ T](\d{1,2}):(\d{2})(?::(\d{2}))?$`)

// ParseCreated normalizes a raw created cell to an absolute timestamp.
// Native times pass through, numerics are read as days-since-1899-12-30
// spreadsheet serials, strings try ISO layouts then the local M/D/YYYY
// pattern. The second return is false for anything unparseable; callers
// must never substitute a sentinel date.
func ParseCreated(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v, true
	case float64:
		return fromSerial(v)
	case float32:
		return fromSerial(float64(v))
	case int:
		return fromSerial(float64(v))
	case int64:
		return fromSerial(float64(v))
	case string:
		return fromString(v)
	default:
		return time.Time{}, false
	}
}

func fromSerial(serial float64) (time.Time, bool) {
	if math.IsNaN(serial) || math.IsInf(serial, 0) {
		return time.Time{}, false
	}
	ms := (serial - serialEpochOffsetDays) * 86400 * 1000
	if math.Abs(ms) > maxEpochMillis {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}

func fromString(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	m := localDatePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	sec := 0
	if m[6] != "" {
		sec, _ = strconv.Atoi(m[6])
	}

	t := time.Date(year, time.Month(month), day, hour, minute, sec, 0, time.Local)
	// time.Date normalizes out-of-range components (month 13 becomes
	// January); a round-trip mismatch means the calendar values were bogus.
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute || t.Second() != sec {
		return time.Time{}, false
	}
	return t, true
}
