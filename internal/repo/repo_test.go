package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relosla/internal/db"
	"relosla/internal/domain"
	"relosla/internal/migrate"
)

var base = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func ptr(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func newMock(t *testing.T, dialect db.Dialect) (Repo, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return Repo{DB: conn, Dialect: dialect}, mock
}

var caseCols = []string{"id", "employee", "created_at", "submitted_at", "responded_at", "approved_at", "completed_at", "task_status", "validation_status"}

func TestListCases_OnlyCompleted(t *testing.T) {
	r, mock := newMock(t, db.SQLite)
	from, to := base, base.Add(24*time.Hour)
	mock.ExpectQuery(`SELECT .* FROM cases WHERE completed_at IS NOT NULL AND completed_at>=\? AND completed_at<=\? ORDER BY created_at`).
		WithArgs(FormatTime(from), FormatTime(to)).
		WillReturnRows(sqlmock.NewRows(caseCols).
			AddRow("c1", "Ana", "2024-03-01T08:00:00.000Z", nil, nil, "2024-03-01T09:00:00Z", "2024-03-01T12:00:00.000Z", "", "VALIDADO"))

	cases, err := r.ListCases(context.Background(), CaseFilter{From: from, To: to, OnlyCompleted: true})
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "Ana", cases[0].Employee)
	assert.True(t, cases[0].CreatedAt.Equal(base))
	assert.Nil(t, cases[0].SubmittedAt)
	require.NotNil(t, cases[0].ApprovedAt)
	assert.True(t, cases[0].ApprovedAt.Equal(base.Add(time.Hour)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListCases_ActiveWindow(t *testing.T) {
	r, mock := newMock(t, db.SQLite)
	mock.ExpectQuery(`WHERE created_at<=\? AND \(completed_at IS NULL OR completed_at>=\?\)`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(caseCols))

	cases, err := r.ListCases(context.Background(), CaseFilter{From: base, To: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, cases)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTasks_PostgresPlaceholders(t *testing.T) {
	r, mock := newMock(t, db.Postgres)
	mock.ExpectQuery(`FROM tasks WHERE case_id IN \(\$1,\$2\)`).
		WithArgs("c1", "c2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "case_id", "type", "description", "responsible", "status", "created_at", "completed_at"}).
			AddRow("t1", "c1", "Exame", "", "", "CONCLUIDA", "2024-03-01T08:00:00.000Z", "not a date").
			AddRow("t2", "c2", "Curso", "", "", "PENDENTE", nil, nil))

	tasks, err := r.ListTasks(context.Background(), []string{"c1", "c2"})
	require.NoError(t, err)
	require.Len(t, tasks["c1"], 1)
	assert.NotNil(t, tasks["c1"][0].CreatedAt)
	assert.Nil(t, tasks["c1"][0].CompletedAt)
	assert.Len(t, tasks["c2"], 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTasks_NoIDsSkipsQuery(t *testing.T) {
	r, mock := newMock(t, db.SQLite)
	tasks, err := r.ListTasks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCase_NotFound(t *testing.T) {
	r, mock := newMock(t, db.SQLite)
	mock.ExpectQuery(`FROM cases WHERE id=\?`).WithArgs("missing").WillReturnRows(sqlmock.NewRows(caseCols))
	_, err := r.GetCase(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListStatusEvents_QueryError(t *testing.T) {
	r, mock := newMock(t, db.SQLite)
	mock.ExpectQuery(`FROM task_status_events`).WillReturnError(sql.ErrConnDone)
	_, err := r.ListStatusEvents(context.Background(), []string{"t1"})
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestChunks(t *testing.T) {
	ids := make([]string, maxInArgs*2+1)
	got := chunks(ids)
	require.Len(t, got, 3)
	assert.Len(t, got[2], 1)
	assert.Empty(t, chunks(nil))
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2024-03-01T08:00:00Z", "2024-03-01T05:00:00-03:00", "2024-03-01 08:00:00", "2024-03-01T08:00:00.000Z"} {
		got, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.True(t, got.Equal(base), s)
	}
	_, err := ParseTime("yesterday")
	assert.Error(t, err)
	assert.Equal(t, "2024-03-01T08:00:00.000Z", FormatTime(base))
}

func newSQLiteRepo(t *testing.T) Repo {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	return Repo{DB: conn, Dialect: dialect}
}

func sampleBundle() domain.Bundle {
	return domain.Bundle{
		Cases: []domain.Case{
			{ID: "c1", Employee: "Ana", CreatedAt: base, ApprovedAt: ptr(time.Hour), CompletedAt: ptr(4 * time.Hour)},
			{ID: "c2", Employee: "Bruno", CreatedAt: base.Add(48 * time.Hour)},
		},
		Tasks: []domain.Task{
			{ID: "t1", CaseID: "c1", Type: "Exame", Status: "CONCLUIDA", CreatedAt: ptr(0), CompletedAt: ptr(3 * time.Hour)},
		},
		StatusEvents: []domain.StatusEvent{
			{TaskID: "t1", PrevStatus: "PENDENTE", NewStatus: "CONCLUIDA", At: ptr(3 * time.Hour)},
			{TaskID: "t1", PrevStatus: "CONCLUIDA", NewStatus: "REJEITADA"},
		},
		AuditRecords: []domain.AuditRecord{
			{CaseID: "c1", Field: "status_validacao", NewValue: "VALIDADO", At: ptr(4 * time.Hour)},
			{CaseID: "c1", TaskID: "t1", Field: "equipe", Team: "Medicina", At: ptr(0)},
		},
	}
}

func TestImportBundleRoundTrip(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()

	stats, err := r.ImportBundle(ctx, sampleBundle())
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Cases: 2, Tasks: 1, StatusEvents: 2, AuditRecords: 2}, stats)
	_, err = r.ImportBundle(ctx, sampleBundle())
	require.NoError(t, err)

	all, err := r.ListCases(ctx, CaseFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c1", all[0].ID)

	done, err := r.ListCases(ctx, CaseFilter{From: base, To: base.Add(24 * time.Hour), OnlyCompleted: true})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "c1", done[0].ID)

	alive, err := r.ListCases(ctx, CaseFilter{From: base.Add(24 * time.Hour), To: base.Add(72 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, alive, 1)
	assert.Equal(t, "c2", alive[0].ID)

	tasks, err := r.ListTasks(ctx, []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Len(t, tasks["c1"], 1)
	assert.Empty(t, tasks["c2"])

	events, err := r.ListStatusEvents(ctx, []string{"t1"})
	require.NoError(t, err)
	require.Len(t, events["t1"], 2)

	audit, err := r.ListAuditRecords(ctx, []string{"c1"})
	require.NoError(t, err)
	require.Len(t, audit["c1"], 2)
	var team string
	for _, a := range audit["c1"] {
		if a.TaskID == "t1" {
			team = a.Team
		}
	}
	assert.Equal(t, "Medicina", team)

	got, err := r.GetCase(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(base.Add(4*time.Hour)))
}

func TestImportBundleRejectsDanglingReferences(t *testing.T) {
	r := newSQLiteRepo(t)
	b := sampleBundle()
	b.Tasks[0].CaseID = "nope"
	_, err := r.ImportBundle(context.Background(), b)
	assert.ErrorContains(t, err, "unknown case")

	all, err := r.ListCases(context.Background(), CaseFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAssignIDsIsDeterministic(t *testing.T) {
	a, b := sampleBundle(), sampleBundle()
	AssignIDs(&a)
	AssignIDs(&b)
	assert.NotEmpty(t, a.StatusEvents[0].ID)
	assert.Equal(t, a.StatusEvents[0].ID, b.StatusEvents[0].ID)
	assert.NotEqual(t, a.StatusEvents[0].ID, a.StatusEvents[1].ID)
	assert.Equal(t, a.AuditRecords[1].ID, b.AuditRecords[1].ID)
}

func TestReportRuns(t *testing.T) {
	r := newSQLiteRepo(t)
	ctx := context.Background()
	for i, id := range []string{"01A", "01B"} {
		run := domain.ReportRun{ID: id, GeneratedAt: base.Add(time.Duration(i) * time.Minute), FilterJSON: `{"days":30}`, CaseCount: i, TotalDurationMs: 1000}
		require.NoError(t, r.InsertReportRun(ctx, r.DB, run))
	}
	runs, err := r.ListReportRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "01B", runs[0].ID)
	assert.True(t, runs[0].GeneratedAt.Equal(base.Add(time.Minute)))
}
