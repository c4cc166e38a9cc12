package sla

import (
	"sort"
	"time"

	"relosla/internal/domain"
)

// Window is the reporting interval. A zero Window disables filtering.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// CaseInput is everything fetched for one case.
type CaseInput struct {
	Case   domain.Case
	Tasks  []domain.Task
	Events map[string][]domain.StatusEvent // by task id
	Audit  []domain.AuditRecord
}

type taskFacts struct {
	task        domain.Task
	sector      Sector
	state       TaskState
	events      []domain.StatusEvent
	completions []time.Time
	rejections  []time.Time
}

func (t *taskFacts) active() bool { return t.state != TaskCancelled }

// firstCompletionFrom returns the first completion at or after t
// (strictly after when strict is set).
func (t *taskFacts) firstCompletionFrom(from time.Time, strict bool) (time.Time, bool) {
	for _, c := range t.completions {
		if c.After(from) || (!strict && c.Equal(from)) {
			return c, true
		}
	}
	return time.Time{}, false
}

type statusRecord struct {
	at    time.Time
	value string
}

// caseFacts is the normalized, time-sorted view of one case used by the
// timeline builder and attribution.
type caseFacts struct {
	c           domain.Case
	tasks       []*taskFacts
	validation  []statusRecord
	aggregate   []statusRecord
	submissions []time.Time
	decisions   []decision
	rejections  []RejectionEvent
	nominalEnd  time.Time
	params      Params
}

type decision struct {
	at     time.Time
	status ValidationStatus
	audit  bool
}

func newCaseFacts(in CaseInput, window Window, now time.Time, p Params) *caseFacts {
	vocab := p.Vocabulary
	f := &caseFacts{c: in.Case, params: p, nominalEnd: now}
	if in.Case.CompletedAt != nil {
		f.nominalEnd = *in.Case.CompletedAt
	}
	if f.nominalEnd.Before(in.Case.CreatedAt) {
		f.nominalEnd = in.Case.CreatedAt
	}

	valField := Normalize(p.ValidationField)
	aggField := Normalize(p.TaskStatusField)
	for _, r := range in.Audit {
		if r.At == nil {
			continue
		}
		switch Normalize(r.Field) {
		case valField:
			f.validation = append(f.validation, statusRecord{at: *r.At, value: r.NewValue})
		case aggField:
			f.aggregate = append(f.aggregate, statusRecord{at: *r.At, value: r.NewValue})
		}
	}
	byTime := func(s []statusRecord) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].at.Before(s[j].at) })
	}
	byTime(f.validation)
	byTime(f.aggregate)
	for _, r := range f.validation {
		switch st := vocab.Validation(r.value); {
		case st == ValidationSubmitted:
			f.submissions = append(f.submissions, r.at)
		case st == ValidationValidated || st.IsNegative():
			f.decisions = append(f.decisions, decision{at: r.at, status: st, audit: true})
		}
	}

	var raw []RejectionEvent
	for _, t := range in.Tasks {
		tf := &taskFacts{
			task:   t,
			sector: ClassifySector(t, in.Audit, vocab),
			state:  vocab.Task(t.Status),
			events: in.Events[t.ID],
		}
		if t.CompletedAt != nil {
			tf.completions = append(tf.completions, *t.CompletedAt)
		}
		for _, ev := range tf.events {
			if ev.At == nil {
				continue
			}
			switch vocab.Task(ev.NewStatus) {
			case TaskCompleted:
				tf.completions = append(tf.completions, *ev.At)
			case TaskRejected:
				if window.contains(*ev.At) {
					raw = append(raw, RejectionEvent{TaskID: t.ID, TaskType: t.Type, Sector: tf.sector, At: *ev.At})
				}
			}
		}
		sort.Slice(tf.completions, func(i, j int) bool { return tf.completions[i].Before(tf.completions[j]) })
		f.tasks = append(f.tasks, tf)
	}
	f.rejections = DedupRejections(raw, p.DedupWindow)
	byID := make(map[string]*taskFacts, len(f.tasks))
	for _, tf := range f.tasks {
		byID[tf.task.ID] = tf
	}
	for _, r := range f.rejections {
		byID[r.TaskID].rejections = append(byID[r.TaskID].rejections, r.At)
	}
	return f
}

func (f *caseFacts) activeTasks() []*taskFacts {
	var out []*taskFacts
	for _, t := range f.tasks {
		if t.active() {
			out = append(out, t)
		}
	}
	return out
}

func (f *caseFacts) earliestTaskCreated() (time.Time, bool) {
	var best time.Time
	found := false
	for _, t := range f.tasks {
		if t.task.CreatedAt == nil {
			continue
		}
		if !found || t.task.CreatedAt.Before(best) {
			best, found = *t.task.CreatedAt, true
		}
	}
	return best, found
}

// lastCompletionUpTo is the latest completion of an active task at or before t.
func (f *caseFacts) lastCompletionUpTo(t time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, tf := range f.activeTasks() {
		for _, c := range tf.completions {
			if c.After(t) {
				break
			}
			if !found || c.After(best) {
				best, found = c, true
			}
		}
	}
	return best, found
}

func (f *caseFacts) firstSubmissionFrom(t time.Time) (time.Time, bool) {
	for _, s := range f.submissions {
		if !s.Before(t) {
			return s, true
		}
	}
	return time.Time{}, false
}

// closingPoint is the first decision at or after t or, when there is none,
// the case completion date if it lies after t.
func (f *caseFacts) closingPoint(t time.Time) (time.Time, bool) {
	if d, ok := f.nextDecision(t, nil); ok {
		return d.at, true
	}
	if done := f.c.CompletedAt; done != nil && done.After(t) {
		return *done, true
	}
	return time.Time{}, false
}

func (f *caseFacts) hasAuditHistory() bool {
	return len(f.validation) > 0 || len(f.aggregate) > 0
}

// allConcludedFrom returns the instant every given task shows a completion
// from t onwards, i.e. the latest of their first completions.
func allConcludedFrom(tasks []*taskFacts, t time.Time, strict bool) (time.Time, bool) {
	if len(tasks) == 0 {
		return time.Time{}, false
	}
	var latest time.Time
	for _, tf := range tasks {
		c, ok := tf.firstCompletionFrom(t, strict)
		if !ok {
			return time.Time{}, false
		}
		latest = maxTime(latest, c)
	}
	return latest, true
}

// nextDecision finds the earliest decision at or after cursor and strictly
// after the previous decision. Audit decisions win exact ties against task
// rejections.
func (f *caseFacts) nextDecision(cursor time.Time, after *time.Time) (decision, bool) {
	eligible := func(t time.Time) bool {
		if t.Before(cursor) {
			return false
		}
		return after == nil || t.After(*after)
	}
	var best decision
	found := false
	for _, d := range f.decisions {
		if eligible(d.at) {
			best, found = d, true
			break
		}
	}
	for _, r := range f.rejections {
		if !eligible(r.At) {
			continue
		}
		if !found || r.At.Before(best.at) {
			best, found = decision{at: r.At, status: ValidationRejected}, true
		}
		break
	}
	return best, found
}

// aggregateLeftAttend is the first task-aggregate change after t whose value
// is no longer the attend-tasks state.
func (f *caseFacts) aggregateLeftAttend(t time.Time) (time.Time, bool) {
	vocab := f.params.Vocabulary
	for _, r := range f.aggregate {
		if r.at.After(t) && !vocab.AttendTasks(r.value) {
			return r.at, true
		}
	}
	return time.Time{}, false
}

// rejectionsBetween returns deduplicated rejections in [from, to].
func (f *caseFacts) rejectionsBetween(from, to time.Time) []RejectionEvent {
	var out []RejectionEvent
	for _, r := range f.rejections {
		if !r.At.Before(from) && !r.At.After(to) {
			out = append(out, r)
		}
	}
	return out
}
