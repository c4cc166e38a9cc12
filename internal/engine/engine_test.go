package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relosla/internal/config"
	"relosla/internal/db"
	"relosla/internal/domain"
	"relosla/internal/engine"
	"relosla/internal/migrate"
	"relosla/internal/repo"
	"relosla/internal/sla"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.SLA.Workers = 4
	eng := engine.New(conn, dialect, cfg, nil)
	eng.Now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.Import(ctx, seedBundle()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

// seedBundle holds one case validated first time, one rejected once and an
// open case with no history at all.
func seedBundle() domain.Bundle {
	return domain.Bundle{
		Cases: []domain.Case{
			{ID: "c1", Employee: "Ana", CreatedAt: t0, ApprovedAt: at(time.Hour), CompletedAt: at(210 * time.Minute)},
			{ID: "c2", Employee: "Bruno", CreatedAt: t0, ApprovedAt: at(time.Hour), CompletedAt: at(4 * time.Hour)},
			{ID: "c3", Employee: "Carla", CreatedAt: t0.Add(72 * time.Hour)},
		},
		Tasks: []domain.Task{
			{ID: "c1-t1", CaseID: "c1", Type: "Exame admissional", Status: "CONCLUIDA", CreatedAt: at(0), CompletedAt: at(3 * time.Hour)},
			{ID: "c2-t1", CaseID: "c2", Type: "Exame admissional", Status: "CONCLUIDA", CreatedAt: at(0), CompletedAt: at(225 * time.Minute)},
		},
		StatusEvents: []domain.StatusEvent{
			{TaskID: "c1-t1", PrevStatus: "PENDENTE", NewStatus: "CONCLUIDA", At: at(3 * time.Hour)},
			{TaskID: "c2-t1", PrevStatus: "PENDENTE", NewStatus: "CONCLUIDA", At: at(3 * time.Hour)},
			{TaskID: "c2-t1", PrevStatus: "CONCLUIDA", NewStatus: "REJEITADA", At: at(3 * time.Hour)},
			{TaskID: "c2-t1", PrevStatus: "REJEITADA", NewStatus: "CONCLUIDA", At: at(225 * time.Minute)},
		},
		AuditRecords: []domain.AuditRecord{
			{CaseID: "c1", Field: "status_validacao", NewValue: "SUBMETIDO", At: at(3 * time.Hour)},
			{CaseID: "c1", Field: "status_validacao", NewValue: "VALIDADO", At: at(210 * time.Minute)},
			{CaseID: "c2", Field: "status_validacao", NewValue: "SUBMETIDO", At: at(3 * time.Hour)},
			{CaseID: "c2", Field: "status_validacao", NewValue: "REJEITADO", At: at(3 * time.Hour)},
			{CaseID: "c2", Field: "status_validacao", NewValue: "VALIDADO", At: at(4 * time.Hour)},
		},
	}
}

func byID(r sla.Report) map[string]sla.CaseDetail {
	out := make(map[string]sla.CaseDetail, len(r.ByCase))
	for _, d := range r.ByCase {
		out[d.CaseID] = d
	}
	return out
}

func TestComputeReport(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.ComputeReport(env.Ctx, engine.ReportFilter{})
	require.NoError(t, err)

	r := res.Report
	assert.Equal(t, 30, r.PeriodDays)
	require.Len(t, r.ByCase, 3)
	cases := byID(r)

	assert.Len(t, cases["c1"].ResponsibilityTimeline, 3)
	assert.Equal(t, (210 * time.Minute).Milliseconds(), cases["c1"].TotalDurationMs)

	c2 := cases["c2"]
	assert.Len(t, c2.ResponsibilityTimeline, 5)
	assert.Equal(t, map[sla.Sector]int{sla.SectorMedical: 1}, c2.RejectionsBySector)

	c3 := cases["c3"]
	require.Len(t, c3.ResponsibilityTimeline, 1)
	assert.Equal(t, sla.TagFallback, c3.ResponsibilityTimeline[0].Tag)

	for _, d := range r.ByCase {
		var sum int64
		for _, v := range d.SectorDurationsMs {
			sum += v
		}
		assert.Equal(t, d.TotalDurationMs, sum, d.CaseID)
	}

	assert.Equal(t, map[string]int{"Exame admissional": 1}, r.RejectionsByType)
	assert.NotEmpty(t, res.Run.ID)
	assert.Equal(t, 3, res.Run.CaseCount)

	runs, err := env.Engine.ReportRuns(env.Ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.Run.ID, runs[0].ID)
	assert.JSONEq(t, `{}`, runs[0].FilterJSON)
}

func TestComputeReportOnlyCompleted(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.ComputeReport(env.Ctx, engine.ReportFilter{Start: "2024-03-01", End: "2024-03-02", OnlyCompleted: true})
	require.NoError(t, err)
	assert.Len(t, res.Report.ByCase, 2)
	assert.Equal(t, 2, res.Report.PeriodDays)
}

func TestComputeReportEmptyWindow(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.ComputeReport(env.Ctx, engine.ReportFilter{Start: "2020-01-01", End: "2020-01-31"})
	require.NoError(t, err)
	assert.Empty(t, res.Report.ByCase)
	assert.NotNil(t, res.Report.ByCase)
	assert.Empty(t, res.Report.BySector)
}

func TestComputeReportRejectsBadFilter(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ComputeReport(env.Ctx, engine.ReportFilter{Start: "2024-03-05", End: "2024-03-01"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrInvalidFilter))

	runs, err := env.Engine.ReportRuns(env.Ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestComputeReportFailsOnClosedDB(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.DB.Close())
	_, err := env.Engine.ComputeReport(env.Ctx, engine.ReportFilter{})
	assert.Error(t, err)
}

func TestCaseTimeline(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.CaseTimeline(env.Ctx, "c2", time.Time{})
	require.NoError(t, err)
	tags := make([]string, len(d.ResponsibilityTimeline))
	for i, c := range d.ResponsibilityTimeline {
		tags[i] = c.Tag
	}
	assert.Equal(t, []string{sla.TagApproval, sla.TagExecution, sla.TagAnalysis, sla.TagCorrection, sla.TagFinalValidation}, tags)

	open, err := env.Engine.CaseTimeline(env.Ctx, "c3", t0.Add(80*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, (8 * time.Hour).Milliseconds(), open.TotalDurationMs)

	_, err = env.Engine.CaseTimeline(env.Ctx, "missing", time.Time{})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestReportFilterWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	w, days, err := engine.ReportFilter{}.Window(now)
	require.NoError(t, err)
	assert.Equal(t, 30, days)
	assert.True(t, w.To.Equal(now))
	assert.True(t, w.From.Equal(now.Add(-30*24*time.Hour)))

	w, days, err = engine.ReportFilter{Days: 7, End: "2024-03-05"}.Window(now)
	require.NoError(t, err)
	assert.Equal(t, 7, days)
	assert.True(t, w.To.Equal(time.Date(2024, 3, 5, 23, 59, 59, int(999*time.Millisecond), time.UTC)))

	w, _, err = engine.ReportFilter{Start: "2024-03-01T10:00:00-03:00"}.Window(now)
	require.NoError(t, err)
	assert.True(t, w.From.Equal(time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)))

	bad := []engine.ReportFilter{
		{Days: -1},
		{Days: engine.MaxDays + 1},
		{Start: "03/01/2024"},
		{End: "tomorrow"},
		{Start: "2024-03-02", End: "2024-03-01"},
	}
	for _, f := range bad {
		_, _, err := f.Window(now)
		require.Error(t, err, "%+v", f)
		var fe *engine.FilterError
		assert.True(t, errors.As(err, &fe))
		assert.ErrorIs(t, err, engine.ErrInvalidFilter)
	}
}
