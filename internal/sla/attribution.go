package sla

import (
	"math/bits"
	"sort"
	"time"
)

type interval struct {
	start, end time.Time
}

// workIntervals derives when a task was being worked on: creation and
// rejections open work, completions close it. Work still open at the end
// of the signals runs unbounded and is clipped by the caller.
func workIntervals(tf *taskFacts) []interval {
	type signal struct {
		at   time.Time
		open bool
	}
	var sigs []signal
	if tf.task.CreatedAt != nil {
		sigs = append(sigs, signal{at: *tf.task.CreatedAt, open: true})
	}
	for _, r := range tf.rejections {
		sigs = append(sigs, signal{at: r, open: true})
	}
	for _, c := range tf.completions {
		sigs = append(sigs, signal{at: c})
	}
	// completions close before a rejection at the same instant reopens
	sort.SliceStable(sigs, func(i, j int) bool {
		if !sigs[i].at.Equal(sigs[j].at) {
			return sigs[i].at.Before(sigs[j].at)
		}
		return !sigs[i].open && sigs[j].open
	})

	var out []interval
	var openAt *time.Time
	for _, s := range sigs {
		switch {
		case s.open && openAt == nil:
			at := s.at
			openAt = &at
		case !s.open && openAt != nil:
			out = append(out, interval{start: *openAt, end: s.at})
			openAt = nil
		}
	}
	if openAt != nil {
		out = append(out, interval{start: *openAt, end: time.Unix(1<<40, 0)})
	}
	return out
}

// mergeClipped clips intervals to [from,to) and merges overlaps.
func mergeClipped(in []interval, from, to time.Time) []interval {
	var clipped []interval
	for _, iv := range in {
		s := maxTime(iv.start, from)
		e := minTime(iv.end, to)
		if e.After(s) {
			clipped = append(clipped, interval{start: s, end: e})
		}
	}
	sort.Slice(clipped, func(i, j int) bool { return clipped[i].start.Before(clipped[j].start) })
	var out []interval
	for _, iv := range clipped {
		if n := len(out); n > 0 && !iv.start.After(out[n-1].end) {
			out[n-1].end = maxTime(out[n-1].end, iv.end)
			continue
		}
		out = append(out, iv)
	}
	return out
}

// responsibleSectors returns the active task count per sector taking part
// in a sector cycle. Correction cycles only count sectors whose rejection
// falls within the tolerance before the cycle start through its end.
func (f *caseFacts) responsibleSectors(c Cycle) map[Sector]int {
	counts := make(map[Sector]int)
	for _, tf := range f.activeTasks() {
		counts[tf.sector]++
	}
	if c.Phase == PhaseCorrection {
		from := c.Start.Add(-f.params.RejectionTolerance)
		blamed := make(map[Sector]int)
		for _, r := range f.rejectionsBetween(from, c.End) {
			if n, ok := counts[r.Sector]; ok {
				blamed[r.Sector] = n
			}
		}
		if len(blamed) > 0 {
			counts = blamed
		}
	}
	if len(counts) == 0 {
		counts[SectorUnknown] = 1
	}
	return counts
}

// attribute fills Cycle.Attribution and returns the measured sector
// intervals. Excluded time inside a cycle always goes to OTHER; the rest is
// split so every cycle's attribution sums to its duration.
func (f *caseFacts) attribute(cycles []Cycle, exclusions []ExclusionWindow) []SectorInterval {
	var intervals []SectorInterval
	for i := range cycles {
		c := &cycles[i]
		total := c.DurationMs
		excluded := ms(overlap(exclusions, c.Start, c.End))
		if excluded > total {
			excluded = total
		}
		attr := make(map[Sector]int64)
		if excluded > 0 {
			attr[SectorOther] = excluded
		}
		rest := total - excluded

		if c.Party == PartyLogistics {
			if rest > 0 {
				attr[SectorLogistics] = rest
			}
			c.Attribution = attr
			continue
		}

		counts := f.responsibleSectors(*c)
		measured := make(map[Sector]int64, len(counts))
		var covered int64
		for sector := range counts {
			var ivs []interval
			for _, tf := range f.activeTasks() {
				if tf.sector == sector {
					ivs = append(ivs, workIntervals(tf)...)
				}
			}
			for _, iv := range mergeClipped(ivs, c.Start, c.End) {
				d := ms(iv.end.Sub(iv.start))
				measured[sector] += d
				intervals = append(intervals, SectorInterval{Sector: sector, CycleIndex: i, Start: iv.start, End: iv.end, DurationMs: d})
			}
			covered += measured[sector]
		}

		weights := make(map[Sector]int64, len(counts))
		if total > 0 && float64(covered) >= f.params.CoverageThreshold*float64(total) && covered > 0 {
			for s, m := range measured {
				weights[s] = m
			}
		} else {
			for s, n := range counts {
				weights[s] = int64(n)
			}
		}
		for s, v := range splitProportional(rest, weights) {
			if v > 0 {
				attr[s] += v
			}
		}
		c.Attribution = attr
	}
	sort.SliceStable(intervals, func(i, j int) bool {
		if intervals[i].CycleIndex != intervals[j].CycleIndex {
			return intervals[i].CycleIndex < intervals[j].CycleIndex
		}
		if !intervals[i].Start.Equal(intervals[j].Start) {
			return intervals[i].Start.Before(intervals[j].Start)
		}
		return sectorRank(intervals[i].Sector) < sectorRank(intervals[j].Sector)
	})
	return intervals
}

// splitProportional divides total across weights using largest-remainder
// rounding, so the parts always sum to total. Zero total weight splits
// evenly.
func splitProportional(total int64, weights map[Sector]int64) map[Sector]int64 {
	out := make(map[Sector]int64, len(weights))
	if total <= 0 || len(weights) == 0 {
		return out
	}
	type share struct {
		sector Sector
		weight uint64
		rem    uint64
	}
	shares := make([]share, 0, len(weights))
	var sum uint64
	for s, w := range weights {
		if w < 0 {
			w = 0
		}
		shares = append(shares, share{sector: s, weight: uint64(w)})
		sum += uint64(w)
	}
	sort.Slice(shares, func(i, j int) bool {
		ri, rj := sectorRank(shares[i].sector), sectorRank(shares[j].sector)
		if ri != rj {
			return ri < rj
		}
		return shares[i].sector < shares[j].sector
	})
	if sum == 0 {
		for i := range shares {
			shares[i].weight = 1
		}
		sum = uint64(len(shares))
	}

	var assigned int64
	for i := range shares {
		hi, lo := bits.Mul64(uint64(total), shares[i].weight)
		quo, rem := bits.Div64(hi, lo, sum)
		out[shares[i].sector] = int64(quo)
		shares[i].rem = rem
		assigned += int64(quo)
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].rem > shares[j].rem })
	for i := 0; assigned < total; i++ {
		out[shares[i%len(shares)].sector]++
		assigned++
	}
	return out
}
