package sla

import (
	"sort"
	"time"

	"relosla/internal/domain"
)

// BuildCase computes the full drill-down record of one case. It is a pure
// function of its inputs: now is only used as the end of open intervals.
func BuildCase(in CaseInput, window Window, now time.Time, p Params) CaseDetail {
	p = p.withDefaults()
	f := newCaseFacts(in, window, now, p)
	tl := buildTimeline(f)

	detail := CaseDetail{
		CaseID:                 in.Case.ID,
		Employee:               in.Case.Employee,
		ResponsibilityTimeline: tl.Cycles,
		Validated:              tl.Validated,
		Exhausted:              tl.Exhausted,
		MeanDurationsBySector:  map[Sector]int64{},
		SectorDurationsMs:      map[Sector]int64{},
		SectorSegments:         map[Sector][]TaskSegments{},
		RejectionsBySector:     map[Sector]int{},
		RejectionEvents:        []RejectionEvent{},
		SectorIntervals:        []SectorInterval{},
		ExclusionWindows:       []ExclusionWindow{},
		taskSectors:            map[Sector]int{},
		completionMs:           map[Sector][]int64{},
		approvalsByType:        map[string]int{},
		rejectsByType:          map[string]int{},
	}
	if detail.ResponsibilityTimeline == nil {
		detail.ResponsibilityTimeline = []Cycle{}
	}

	caseStart := in.Case.CreatedAt
	if n := len(tl.Cycles); n > 0 {
		totalStart, totalEnd := tl.Cycles[0].Start, tl.Cycles[n-1].End
		caseStart = totalStart
		valField := Normalize(p.ValidationField)
		var history []domain.AuditRecord
		for _, r := range in.Audit {
			if Normalize(r.Field) == valField {
				history = append(history, r)
			}
		}
		if ex := ExclusionWindows(in.Case, history, totalStart, totalEnd, p.Vocabulary); ex != nil {
			detail.ExclusionWindows = ex
		}
		if iv := f.attribute(detail.ResponsibilityTimeline, detail.ExclusionWindows); iv != nil {
			detail.SectorIntervals = iv
		}
		for _, c := range detail.ResponsibilityTimeline {
			detail.TotalDurationMs += c.DurationMs
			for s, v := range c.Attribution {
				detail.SectorDurationsMs[s] += v
			}
		}
	}

	for _, tf := range f.tasks {
		segs := BuildSegments(tf.task, tf.events, caseStart, maxTime(caseStart, f.nominalEnd))
		if segs == nil {
			segs = []Segment{}
		}
		detail.SectorSegments[tf.sector] = append(detail.SectorSegments[tf.sector], TaskSegments{
			TaskID:   tf.task.ID,
			TaskType: tf.task.Type,
			Segments: segs,
		})
		if !tf.active() {
			continue
		}
		detail.taskSectors[tf.sector]++
		if len(tf.completions) > 0 {
			detail.completionMs[tf.sector] = append(detail.completionMs[tf.sector], ms(tf.completions[0].Sub(in.Case.CreatedAt)))
		}
		if tf.state == TaskCompleted {
			detail.approvalsByType[tf.task.Type]++
		}
	}
	for s, n := range detail.taskSectors {
		detail.MeanDurationsBySector[s] = detail.SectorDurationsMs[s] / int64(n)
	}

	for _, r := range f.rejections {
		detail.RejectionEvents = append(detail.RejectionEvents, r)
		detail.RejectionsBySector[r.Sector]++
		detail.rejectsByType[r.TaskType]++
	}
	detail.HadRejection = len(f.rejections) > 0
	for _, c := range tl.Cycles {
		if c.Phase == PhaseCorrection {
			detail.HadRejection = true
		}
	}
	return detail
}

// Aggregator folds case details into the report. It is not safe for
// concurrent use; fold results from a single goroutine.
type Aggregator struct {
	periodDays int
	cases      []CaseDetail
	tasks      map[Sector]int
	active     map[Sector]int64
	activeN    map[Sector]int
	completion map[Sector][]int64
	rejections map[Sector]int
	rejByType  map[string]int
	apprByType map[string]int
}

func NewAggregator(periodDays int) *Aggregator {
	return &Aggregator{
		periodDays: periodDays,
		tasks:      map[Sector]int{},
		active:     map[Sector]int64{},
		activeN:    map[Sector]int{},
		completion: map[Sector][]int64{},
		rejections: map[Sector]int{},
		rejByType:  map[string]int{},
		apprByType: map[string]int{},
	}
}

// Add folds one case.
func (a *Aggregator) Add(d CaseDetail) {
	a.cases = append(a.cases, d)
	for s, n := range d.taskSectors {
		a.tasks[s] += n
	}
	for s, v := range d.SectorDurationsMs {
		a.active[s] += v
		a.activeN[s]++
	}
	for s, v := range d.completionMs {
		a.completion[s] = append(a.completion[s], v...)
	}
	for s, n := range d.RejectionsBySector {
		a.rejections[s] += n
	}
	for t, n := range d.rejectsByType {
		a.rejByType[t] += n
	}
	for t, n := range d.approvalsByType {
		a.apprByType[t] += n
	}
}

// Report emits the final payload. Cases keep the order they were added in.
func (a *Aggregator) Report() Report {
	seen := map[Sector]bool{}
	for _, m := range []map[Sector]int{a.tasks, a.rejections, a.activeN} {
		for s := range m {
			seen[s] = true
		}
	}
	sectors := make([]Sector, 0, len(seen))
	for s := range seen {
		sectors = append(sectors, s)
	}
	sort.Slice(sectors, func(i, j int) bool { return sectorRank(sectors[i]) < sectorRank(sectors[j]) })

	by := make([]SectorSummary, 0, len(sectors))
	for _, s := range sectors {
		sum := SectorSummary{Sector: s, TaskCount: a.tasks[s], RejectionCount: a.rejections[s]}
		if n := a.activeN[s]; n > 0 {
			sum.MeanActiveDurationMs = a.active[s] / int64(n)
		}
		if c := a.completion[s]; len(c) > 0 {
			var total int64
			for _, v := range c {
				total += v
			}
			sum.MeanCompletionDurationMs = total / int64(len(c))
		}
		by = append(by, sum)
	}
	cases := a.cases
	if cases == nil {
		cases = []CaseDetail{}
	}
	return Report{
		PeriodDays:       a.periodDays,
		BySector:         by,
		ByCase:           cases,
		RejectionsByType: a.rejByType,
		ApprovalsByType:  a.apprByType,
	}
}
