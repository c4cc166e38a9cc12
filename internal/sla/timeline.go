package sla

import (
	"time"
)

// Timeline is the reconstructed responsibility sequence of one case.
type Timeline struct {
	Cycles    []Cycle
	Validated bool
	// Exhausted is set when the loop hit MaxIterations without a terminal
	// decision.
	Exhausted bool
	Fallback  bool
}

type timelineBuilder struct {
	f      *caseFacts
	cycles []Cycle
}

func (b *timelineBuilder) emit(c Cycle) {
	if c.End.Before(c.Start) {
		c.End = c.Start
	}
	c.DurationMs = ms(c.End.Sub(c.Start))
	b.cycles = append(b.cycles, c)
}

// extendTo stretches the last sector cycle so the timeline stays contiguous
// when sectors were still completing work past the cursor.
func (b *timelineBuilder) extendTo(t time.Time) {
	n := len(b.cycles)
	if n == 0 {
		return
	}
	last := &b.cycles[n-1]
	if last.Party != PartySectors || !t.After(last.End) {
		return
	}
	last.End = t
	last.DurationMs = ms(last.End.Sub(last.Start))
}

// BuildTimeline runs the approval → execution → (analysis ⇄ correction)
// state machine over the case facts. It never fails: missing data shortens
// or degrades the timeline, and a case with no tasks and no audit history,
// or no cycles at all, gets a single fallback cycle over its lifetime.
func buildTimeline(f *caseFacts) Timeline {
	b := &timelineBuilder{f: f}
	tl := Timeline{}
	c := f.c

	if len(f.tasks) == 0 && !f.hasAuditHistory() {
		b.fallback(&tl, c.CreatedAt)
		tl.Cycles = b.cycles
		return tl
	}

	start := c.CreatedAt
	if t, ok := f.earliestTaskCreated(); ok && t.After(start) {
		start = t
	}
	approvalEnd := start
	if c.ApprovedAt != nil && c.ApprovedAt.After(start) {
		approvalEnd = *c.ApprovedAt
	}
	if approvalEnd.After(start) {
		b.emit(Cycle{Phase: PhaseApproval, Party: PartyLogistics, Tag: TagApproval, Start: start, End: approvalEnd})
	}

	cursor, submitted, ok := b.execution(approvalEnd)
	if ok {
		tl.Validated, tl.Exhausted = b.loop(cursor, submitted)
	}

	switch {
	case len(b.cycles) == 0:
		b.fallback(&tl, c.CreatedAt)
	case !ok && len(f.activeTasks()) == 0:
		// nobody else holds the case after approval
		b.fallback(&tl, approvalEnd)
	}
	tl.Cycles = b.cycles
	return tl
}

// fallback attributes [from, nominal end) to Logistics. A case with a
// recorded completion date counts as validated.
func (b *timelineBuilder) fallback(tl *Timeline, from time.Time) {
	f := b.f
	if !f.nominalEnd.After(from) {
		return
	}
	b.emit(Cycle{Phase: PhaseApproval, Party: PartyLogistics, Tag: TagFallback, Start: from, End: f.nominalEnd, Synthetic: true})
	tl.Fallback = true
	tl.Validated = f.c.CompletedAt != nil
}

// execution emits phase 2 and returns the cursor for the loop. ok is false
// when the loop must not run.
func (b *timelineBuilder) execution(from time.Time) (cursor time.Time, submitted, ok bool) {
	f := b.f
	end, found := time.Time{}, false
	if sub, has := f.firstSubmissionFrom(from); has {
		end, found, submitted = sub, true, true
		if lc, has := f.lastCompletionUpTo(sub); has && lc.After(from) {
			end = lc
		}
	} else if t, has := allConcludedFrom(f.activeTasks(), from, false); has {
		end, found = t, true
	}

	if !found {
		closing, has := f.closingPoint(from)
		if !has {
			if len(f.activeTasks()) > 0 {
				b.emit(Cycle{Phase: PhaseExecution, Party: PartySectors, Tag: TagExecution, Start: from, End: maxTime(from, f.nominalEnd), Open: true})
			}
			return time.Time{}, false, false
		}
		// Sectors hold the case up to their last completion before the
		// closing point; the loop attributes the rest to Logistics.
		end = from
		if lc, has := f.lastCompletionUpTo(closing); has && lc.After(from) && lc.Before(closing) {
			end = lc
		}
	}
	if end.After(from) {
		b.emit(Cycle{Phase: PhaseExecution, Party: PartySectors, Tag: TagExecution, Start: from, End: end})
	}
	return end, submitted, true
}

// loop alternates analysis and correction. It returns whether the case
// reached a validated terminal and whether the iteration bound was hit.
func (b *timelineBuilder) loop(cursor time.Time, submitted bool) (validated, exhausted bool) {
	f := b.f
	p := f.params
	var lastDecision *time.Time

	for iter := 0; iter < p.MaxIterations; iter++ {
		analysisStart := cursor
		if sub, has := f.firstSubmissionFrom(cursor); has {
			submitted = true
			if lc, has := f.lastCompletionUpTo(sub); has && lc.After(cursor) {
				analysisStart = lc
			}
		}

		d, found := f.nextDecision(cursor, lastDecision)
		if !found {
			b.noDecision(cursor, analysisStart, submitted, &validated)
			return validated, false
		}
		if d.at.Before(analysisStart) {
			analysisStart = d.at
		}
		b.extendTo(analysisStart)

		if d.status == ValidationValidated {
			b.emit(Cycle{Phase: PhaseValidation, Party: PartyLogistics, Tag: TagFinalValidation, Start: analysisStart, End: d.at})
			return true, false
		}

		tag := TagAnalysis
		if iter > 0 {
			tag = TagReAnalysis
		}
		b.emit(Cycle{Phase: PhaseAnalysis, Party: PartyLogistics, Tag: tag, Start: analysisStart, End: d.at})
		at := d.at
		lastDecision = &at

		end, progressed := b.correctionEnd(d.at)
		corr := Cycle{Phase: PhaseCorrection, Party: PartySectors, Tag: TagCorrection, Start: d.at}
		if !progressed {
			corr.End = maxTime(d.at, f.nominalEnd)
			corr.Open = true
		} else {
			corr.End = end
		}
		corr.Rejections = f.rejectionsBetween(d.at.Add(-p.RejectionTolerance), corr.End)
		corr.RejectionCount = len(corr.Rejections)
		b.emit(corr)
		if !progressed {
			return false, false
		}
		cursor = end
		submitted = false
	}
	return false, true
}

// correctionEnd finds when the sectors handed the case back after a
// negative decision at d.
func (b *timelineBuilder) correctionEnd(d time.Time) (time.Time, bool) {
	f := b.f
	if t, ok := f.aggregateLeftAttend(d); ok {
		return t, true
	}
	tol := f.params.RejectionTolerance
	var rejected []*taskFacts
	for _, tf := range f.activeTasks() {
		for _, r := range tf.rejections {
			if !r.Before(d.Add(-tol)) && !r.After(d.Add(tol)) {
				rejected = append(rejected, tf)
				break
			}
		}
	}
	if len(rejected) == 0 {
		rejected = f.activeTasks()
	}
	return allConcludedFrom(rejected, d, true)
}

func (b *timelineBuilder) noDecision(cursor, analysisStart time.Time, submitted bool, validated *bool) {
	f := b.f
	if done := f.c.CompletedAt; done != nil && done.After(cursor) {
		start := minTime(analysisStart, *done)
		b.extendTo(start)
		b.emit(Cycle{Phase: PhaseValidation, Party: PartyLogistics, Tag: TagFinalValidation, Start: start, End: *done, Synthetic: true})
		*validated = true
		return
	}
	if submitted {
		b.extendTo(analysisStart)
		b.emit(Cycle{Phase: PhaseAnalysis, Party: PartyLogistics, Tag: TagAnalysisNoDecided, Start: analysisStart, End: maxTime(analysisStart, f.nominalEnd), Open: true})
	}
}
