package sla

import (
	"sort"
	"time"
)

// DedupRejections collapses rejections of the same task that fall within
// window of the last kept one, keeping the earlier. Different tasks are
// never merged. The result is sorted by time, then task id, and running
// it again on its own output returns the same list.
func DedupRejections(events []RejectionEvent, window time.Duration) []RejectionEvent {
	sorted := append([]RejectionEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].At.Equal(sorted[j].At) {
			return sorted[i].At.Before(sorted[j].At)
		}
		return sorted[i].TaskID < sorted[j].TaskID
	})
	last := make(map[string]time.Time)
	out := make([]RejectionEvent, 0, len(sorted))
	for _, ev := range sorted {
		if prev, ok := last[ev.TaskID]; ok && ev.At.Sub(prev) < window {
			continue
		}
		last[ev.TaskID] = ev.At
		out = append(out, ev)
	}
	return out
}
