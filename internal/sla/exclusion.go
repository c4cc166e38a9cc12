package sla

import (
	"sort"
	"time"

	"relosla/internal/domain"
)

// ExclusionWindows derives the parked intervals of a case, clipped to
// [start, end). history must already be filtered to the validation-status
// field; records without a timestamp are ignored. Without history the
// case's current validation status decides for the whole lifetime.
func ExclusionWindows(c domain.Case, history []domain.AuditRecord, start, end time.Time, vocab *Vocabulary) []ExclusionWindow {
	if !end.After(start) {
		return nil
	}
	var timed []domain.AuditRecord
	for _, r := range history {
		if r.At != nil {
			timed = append(timed, r)
		}
	}
	if len(timed) == 0 {
		if vocab.Excluded(c.ValidationStatus) {
			return []ExclusionWindow{{Start: start, End: end}}
		}
		return nil
	}
	sort.SliceStable(timed, func(i, j int) bool { return timed[i].At.Before(*timed[j].At) })

	var out []ExclusionWindow
	add := func(from, to time.Time) {
		from = clampTime(from, start, end)
		to = clampTime(to, start, end)
		if !to.After(from) {
			return
		}
		if n := len(out); n > 0 && !from.After(out[n-1].End) {
			out[n-1].End = maxTime(out[n-1].End, to)
			return
		}
		out = append(out, ExclusionWindow{Start: from, End: to})
	}
	for i, r := range timed {
		if !vocab.Excluded(r.NewValue) {
			continue
		}
		to := end
		if i+1 < len(timed) {
			to = *timed[i+1].At
		}
		add(*r.At, to)
	}
	return out
}

// overlap returns how much of [from,to) the windows cover.
func overlap(windows []ExclusionWindow, from, to time.Time) time.Duration {
	var total time.Duration
	for _, w := range windows {
		s := maxTime(w.Start, from)
		e := minTime(w.End, to)
		if e.After(s) {
			total += e.Sub(s)
		}
	}
	return total
}
