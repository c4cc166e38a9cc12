package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"relosla/internal/sla"
)

const (
	DefaultDays = 30
	MaxDays     = 3650
)

var ErrInvalidFilter = errors.New("invalid report filter")

// FilterError names the offending filter field.
type FilterError struct {
	Field   string
	Message string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FilterError) Is(target error) bool { return target == ErrInvalidFilter }

// ReportFilter is the request surface of a report.
type ReportFilter struct {
	Days          int    `json:"days,omitempty"`
	Start         string `json:"start,omitempty"`
	End           string `json:"end,omitempty"`
	OnlyCompleted bool   `json:"only_completed,omitempty"`
}

// parseDate accepts a calendar date or an RFC3339 instant. Calendar dates
// are UTC; endOfDay moves them to the last millisecond of the day.
func parseDate(field, raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	if err != nil {
		return time.Time{}, &FilterError{Field: field, Message: fmt.Sprintf("invalid date %q, want YYYY-MM-DD or RFC3339", raw)}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}

// Window resolves the filter against now. It returns the window and the
// number of days it spans, rounded up.
func (f ReportFilter) Window(now time.Time) (sla.Window, int, error) {
	days := f.Days
	if days == 0 {
		days = DefaultDays
	}
	if days < 1 || days > MaxDays {
		return sla.Window{}, 0, &FilterError{Field: "days", Message: fmt.Sprintf("must be between 1 and %d", MaxDays)}
	}
	span := time.Duration(days) * 24 * time.Hour

	var w sla.Window
	switch {
	case f.Start != "" && f.End != "":
		from, err := parseDate("start", f.Start, false)
		if err != nil {
			return sla.Window{}, 0, err
		}
		to, err := parseDate("end", f.End, true)
		if err != nil {
			return sla.Window{}, 0, err
		}
		w = sla.Window{From: from, To: to}
	case f.Start != "":
		from, err := parseDate("start", f.Start, false)
		if err != nil {
			return sla.Window{}, 0, err
		}
		w = sla.Window{From: from, To: now.UTC()}
	case f.End != "":
		to, err := parseDate("end", f.End, true)
		if err != nil {
			return sla.Window{}, 0, err
		}
		w = sla.Window{From: to.Add(-span), To: to}
	default:
		w = sla.Window{From: now.UTC().Add(-span), To: now.UTC()}
	}
	if w.From.After(w.To) {
		return sla.Window{}, 0, &FilterError{Field: "start", Message: "start must not be after end"}
	}
	period := int(math.Ceil(w.To.Sub(w.From).Hours() / 24))
	if period < 1 {
		period = 1
	}
	return w, period, nil
}
