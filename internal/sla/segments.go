package sla

import (
	"sort"
	"time"

	"relosla/internal/domain"
)

// BuildSegments partitions [task.CreatedAt ∨ windowStart, task.CompletedAt ∨ windowEnd)
// into contiguous status segments. Events without a timestamp count as
// happening at the window end so their status change is kept. Zero-length
// segments are dropped.
func BuildSegments(task domain.Task, events []domain.StatusEvent, windowStart, windowEnd time.Time) []Segment {
	start := windowStart
	if task.CreatedAt != nil {
		start = *task.CreatedAt
	}
	end := windowEnd
	if task.CompletedAt != nil {
		end = *task.CompletedAt
	}
	if end.Before(start) {
		end = start
	}

	sorted := sortEvents(events, windowEnd)
	current := task.Status
	if len(sorted) > 0 {
		current = sorted[0].PrevStatus
		if current == "" {
			current = task.Status
		}
	}

	var segments []Segment
	emit := func(status string, from, to time.Time) {
		if !to.After(from) {
			return
		}
		segments = append(segments, Segment{
			TaskID:     task.ID,
			Status:     status,
			Start:      from,
			End:        to,
			DurationMs: ms(to.Sub(from)),
		})
	}

	prev := start
	for _, ev := range sorted {
		at := clampTime(eventTime(ev, windowEnd), start, end)
		if at.After(prev) {
			emit(current, prev, at)
			prev = at
		}
		current = ev.NewStatus
	}
	emit(current, prev, end)
	return segments
}

type timedEvent struct {
	domain.StatusEvent
	at time.Time
}

func eventTime(ev domain.StatusEvent, fallback time.Time) time.Time {
	if ev.At == nil {
		return fallback
	}
	return *ev.At
}

// sortEvents orders events by time; missing timestamps sort as fallback.
func sortEvents(events []domain.StatusEvent, fallback time.Time) []domain.StatusEvent {
	tmp := make([]timedEvent, len(events))
	for i, ev := range events {
		tmp[i] = timedEvent{StatusEvent: ev, at: eventTime(ev, fallback)}
	}
	sort.SliceStable(tmp, func(i, j int) bool { return tmp[i].at.Before(tmp[j].at) })
	out := make([]domain.StatusEvent, len(tmp))
	for i := range tmp {
		out[i] = tmp[i].StatusEvent
	}
	return out
}

func clampTime(t, lo, hi time.Time) time.Time {
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
