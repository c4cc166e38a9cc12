package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"relosla/internal/db"
	"relosla/internal/domain"
)

// Repo reads and writes case history. Dialect only affects placeholder
// syntax; queries are written with ?.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var ErrNotFound = errors.New("not found")

// TimeLayout is the stored timestamp format. Fixed width keeps text
// comparison in time order.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// maxInArgs keeps IN lists under SQLite's bound-parameter limit.
const maxInArgs = 500

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CaseFilter selects the cases of a report window.
type CaseFilter struct {
	From time.Time
	To   time.Time
	// OnlyCompleted selects cases completed inside the window; otherwise
	// cases alive at some point of it.
	OnlyCompleted bool
}

func (r Repo) q(query string) string { return db.Rebind(r.Dialect, query) }

// FormatTime renders an instant the way it is stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts RFC3339 with or without fractional seconds and the
// SQL datetime form.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// scanTime converts a nullable text column. Unparseable values read as
// missing so one bad row never fails a report.
func scanTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := ParseTime(v.String)
	if err != nil {
		return nil
	}
	return &t
}

const caseColumns = `id,employee,created_at,submitted_at,responded_at,approved_at,completed_at,task_status,validation_status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (domain.Case, error) {
	var c domain.Case
	var created string
	var submitted, responded, approved, completed sql.NullString
	if err := row.Scan(&c.ID, &c.Employee, &created, &submitted, &responded, &approved, &completed, &c.TaskStatus, &c.ValidationStatus); err != nil {
		return c, err
	}
	t, err := ParseTime(created)
	if err != nil {
		return c, fmt.Errorf("case %s: %w", c.ID, err)
	}
	c.CreatedAt = t
	c.SubmittedAt = scanTime(submitted)
	c.RespondedAt = scanTime(responded)
	c.ApprovedAt = scanTime(approved)
	c.CompletedAt = scanTime(completed)
	return c, nil
}

// GetCase returns one case or ErrNotFound.
func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	c, err := scanCase(r.DB.QueryRowContext(ctx, r.q(`SELECT `+caseColumns+` FROM cases WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// ListCases returns the cases selected by filter, oldest first.
func (r Repo) ListCases(ctx context.Context, f CaseFilter) ([]domain.Case, error) {
	var clauses []string
	var args []any
	if f.OnlyCompleted {
		clauses = append(clauses, "completed_at IS NOT NULL")
		if !f.From.IsZero() {
			clauses = append(clauses, "completed_at>=?")
			args = append(args, FormatTime(f.From))
		}
		if !f.To.IsZero() {
			clauses = append(clauses, "completed_at<=?")
			args = append(args, FormatTime(f.To))
		}
	} else {
		if !f.To.IsZero() {
			clauses = append(clauses, "created_at<=?")
			args = append(args, FormatTime(f.To))
		}
		if !f.From.IsZero() {
			clauses = append(clauses, "(completed_at IS NULL OR completed_at>=?)")
			args = append(args, FormatTime(f.From))
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, r.q(fmt.Sprintf(`SELECT %s FROM cases %s ORDER BY created_at ASC, id ASC`, caseColumns, where)), args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// chunks splits ids into IN-list sized batches.
func chunks(ids []string) [][]string {
	var out [][]string
	for len(ids) > maxInArgs {
		out = append(out, ids[:maxInArgs])
		ids = ids[maxInArgs:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")", args
}

// ListTasks returns the tasks of the given cases keyed by case id.
func (r Repo) ListTasks(ctx context.Context, caseIDs []string) (map[string][]domain.Task, error) {
	res := make(map[string][]domain.Task, len(caseIDs))
	for _, batch := range chunks(caseIDs) {
		in, args := inClause(batch)
		rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,case_id,type,description,responsible,status,created_at,completed_at FROM tasks WHERE case_id IN `+in+` ORDER BY case_id, id`), args...)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		for rows.Next() {
			var t domain.Task
			var created, completed sql.NullString
			if err := rows.Scan(&t.ID, &t.CaseID, &t.Type, &t.Description, &t.Responsible, &t.Status, &created, &completed); err != nil {
				rows.Close()
				return nil, err
			}
			t.CreatedAt = scanTime(created)
			t.CompletedAt = scanTime(completed)
			res[t.CaseID] = append(res[t.CaseID], t)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ListStatusEvents returns status transitions keyed by task id.
func (r Repo) ListStatusEvents(ctx context.Context, taskIDs []string) (map[string][]domain.StatusEvent, error) {
	res := make(map[string][]domain.StatusEvent, len(taskIDs))
	for _, batch := range chunks(taskIDs) {
		in, args := inClause(batch)
		rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,task_id,prev_status,new_status,at FROM task_status_events WHERE task_id IN `+in+` ORDER BY task_id, at, id`), args...)
		if err != nil {
			return nil, fmt.Errorf("list status events: %w", err)
		}
		for rows.Next() {
			var e domain.StatusEvent
			var at sql.NullString
			if err := rows.Scan(&e.ID, &e.TaskID, &e.PrevStatus, &e.NewStatus, &at); err != nil {
				rows.Close()
				return nil, err
			}
			e.At = scanTime(at)
			res[e.TaskID] = append(res[e.TaskID], e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ListAuditRecords returns audit records keyed by case id.
func (r Repo) ListAuditRecords(ctx context.Context, caseIDs []string) (map[string][]domain.AuditRecord, error) {
	res := make(map[string][]domain.AuditRecord, len(caseIDs))
	for _, batch := range chunks(caseIDs) {
		in, args := inClause(batch)
		rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,case_id,COALESCE(task_id,''),entity,field,new_value,at,team FROM audit_records WHERE case_id IN `+in+` ORDER BY case_id, at, id`), args...)
		if err != nil {
			return nil, fmt.Errorf("list audit records: %w", err)
		}
		for rows.Next() {
			var a domain.AuditRecord
			var at sql.NullString
			if err := rows.Scan(&a.ID, &a.CaseID, &a.TaskID, &a.Entity, &a.Field, &a.NewValue, &at, &a.Team); err != nil {
				rows.Close()
				return nil, err
			}
			a.At = scanTime(at)
			res[a.CaseID] = append(res[a.CaseID], a)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) InsertCaseTx(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO cases(`+caseColumns+`) VALUES (?,?,?,?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`),
		c.ID, c.Employee, FormatTime(c.CreatedAt), nullableTime(c.SubmittedAt), nullableTime(c.RespondedAt),
		nullableTime(c.ApprovedAt), nullableTime(c.CompletedAt), c.TaskStatus, c.ValidationStatus)
	return err
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO tasks(id,case_id,type,description,responsible,status,created_at,completed_at) VALUES (?,?,?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`),
		t.ID, t.CaseID, t.Type, t.Description, t.Responsible, t.Status, nullableTime(t.CreatedAt), nullableTime(t.CompletedAt))
	return err
}

func (r Repo) InsertStatusEventTx(ctx context.Context, tx *sql.Tx, e domain.StatusEvent) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO task_status_events(id,task_id,prev_status,new_status,at) VALUES (?,?,?,?,?) ON CONFLICT(id) DO NOTHING`),
		e.ID, e.TaskID, e.PrevStatus, e.NewStatus, nullableTime(e.At))
	return err
}

func (r Repo) InsertAuditRecordTx(ctx context.Context, tx *sql.Tx, a domain.AuditRecord) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO audit_records(id,case_id,task_id,entity,field,new_value,at,team) VALUES (?,?,?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`),
		a.ID, a.CaseID, nullable(a.TaskID), a.Entity, a.Field, a.NewValue, nullableTime(a.At), a.Team)
	return err
}

// InsertReportRun appends one report-run row.
func (r Repo) InsertReportRun(ctx context.Context, ex execer, run domain.ReportRun) error {
	_, err := ex.ExecContext(ctx, r.q(`INSERT INTO report_runs(id,generated_at,filter_json,case_count,total_duration_ms) VALUES (?,?,?,?,?)`),
		run.ID, FormatTime(run.GeneratedAt), run.FilterJSON, run.CaseCount, run.TotalDurationMs)
	return err
}

// ListReportRuns returns the most recent runs first.
func (r Repo) ListReportRuns(ctx context.Context, limit int) ([]domain.ReportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT id,generated_at,filter_json,case_count,total_duration_ms FROM report_runs ORDER BY generated_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list report runs: %w", err)
	}
	defer rows.Close()
	res := []domain.ReportRun{}
	for rows.Next() {
		var run domain.ReportRun
		var generated string
		if err := rows.Scan(&run.ID, &generated, &run.FilterJSON, &run.CaseCount, &run.TotalDurationMs); err != nil {
			return nil, err
		}
		t, err := ParseTime(generated)
		if err != nil {
			return nil, fmt.Errorf("report run %s: %w", run.ID, err)
		}
		run.GeneratedAt = t
		res = append(res, run)
	}
	return res, rows.Err()
}
