package sla

import (
	"fmt"
	"time"

	"relosla/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

type caseBuilder struct {
	in  CaseInput
	seq int
}

func newCase(id string) *caseBuilder {
	return &caseBuilder{in: CaseInput{
		Case:   domain.Case{ID: id, Employee: "employee " + id, CreatedAt: t0},
		Events: map[string][]domain.StatusEvent{},
	}}
}

func (b *caseBuilder) approved(d time.Duration) *caseBuilder {
	b.in.Case.ApprovedAt = at(d)
	return b
}

func (b *caseBuilder) completed(d time.Duration) *caseBuilder {
	b.in.Case.CompletedAt = at(d)
	return b
}

func (b *caseBuilder) task(t domain.Task) *caseBuilder {
	t.CaseID = b.in.Case.ID
	b.in.Tasks = append(b.in.Tasks, t)
	return b
}

func (b *caseBuilder) event(taskID, prev, next string, d time.Duration) *caseBuilder {
	b.seq++
	b.in.Events[taskID] = append(b.in.Events[taskID], domain.StatusEvent{
		ID: fmt.Sprintf("ev-%d", b.seq), TaskID: taskID, PrevStatus: prev, NewStatus: next, At: at(d),
	})
	return b
}

func (b *caseBuilder) audit(field, value string, d time.Duration) *caseBuilder {
	b.seq++
	b.in.Audit = append(b.in.Audit, domain.AuditRecord{
		ID: fmt.Sprintf("au-%d", b.seq), CaseID: b.in.Case.ID, Entity: "solicitacao", Field: field, NewValue: value, At: at(d),
	})
	return b
}

func (b *caseBuilder) validation(value string, d time.Duration) *caseBuilder {
	return b.audit("status_validacao", value, d)
}

func (b *caseBuilder) build(now time.Duration) CaseDetail {
	return BuildCase(b.in, Window{}, t0.Add(now), DefaultParams())
}

func tags(cycles []Cycle) []string {
	out := make([]string, len(cycles))
	for i, c := range cycles {
		out[i] = c.Tag
	}
	return out
}

func sumDurations(m map[Sector]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}
