package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"relosla/internal/config"
	"relosla/internal/db"
	"relosla/internal/domain"
	"relosla/internal/events"
	"relosla/internal/obs"
	"relosla/internal/repo"
	"relosla/internal/sla"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Params sla.Params
	Log    logrus.FieldLogger
	Now    func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config, log logrus.FieldLogger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = obs.Discard()
	}
	r := repo.Repo{DB: conn, Dialect: dialect}
	return Engine{
		DB:     conn,
		Repo:   r,
		Events: events.Writer{Repo: r},
		Config: cfg,
		Params: cfg.Params(),
		Log:    log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log == nil {
		return obs.Discard()
	}
	return e.Log
}

func (e Engine) workers() int {
	if e.Config != nil && e.Config.SLA.Workers > 0 {
		return e.Config.SLA.Workers
	}
	return 1
}

// ReportResult is a computed report plus the run it was logged as.
type ReportResult struct {
	Report sla.Report
	Run    domain.ReportRun
}

// ComputeReport validates the filter, bulk-loads every case in scope and
// folds their timelines into one report. Any data-access failure aborts the
// whole report.
func (e Engine) ComputeReport(ctx context.Context, f ReportFilter) (ReportResult, error) {
	started := time.Now()
	now := e.now()
	log := e.log().WithField("op", "compute_report")

	window, days, err := f.Window(now)
	if err != nil {
		return ReportResult{}, err
	}
	cases, err := e.Repo.ListCases(ctx, repo.CaseFilter{From: window.From, To: window.To, OnlyCompleted: f.OnlyCompleted})
	if err != nil {
		obs.ObserveReportFailure()
		return ReportResult{}, err
	}
	inputs, err := e.loadInputs(ctx, cases)
	if err != nil {
		obs.ObserveReportFailure()
		return ReportResult{}, err
	}

	details := make([]sla.CaseDetail, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			details[i] = sla.BuildCase(inputs[i], window, now, e.Params)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		obs.ObserveReportFailure()
		return ReportResult{}, err
	}

	agg := sla.NewAggregator(days)
	outcomes := make([]obs.CaseOutcome, len(details))
	var total int64
	for i, d := range details {
		agg.Add(d)
		total += d.TotalDurationMs
		outcomes[i] = e.outcome(log, d)
	}
	report := agg.Report()

	run, err := e.Events.ReportRun(ctx, f, len(details), total)
	if err != nil {
		obs.ObserveReportFailure()
		return ReportResult{}, err
	}
	elapsed := time.Since(started)
	obs.ObserveReport(elapsed, outcomes)
	log.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"cases":    len(details),
		"days":     days,
		"duration": elapsed.String(),
	}).Info("report computed")
	return ReportResult{Report: report, Run: run}, nil
}

// outcome logs per-case degradations and summarizes them for metrics.
func (e Engine) outcome(log logrus.FieldLogger, d sla.CaseDetail) obs.CaseOutcome {
	out := obs.CaseOutcome{Exhausted: d.Exhausted}
	cycles := d.ResponsibilityTimeline
	if len(cycles) == 1 && cycles[0].Tag == sla.TagFallback {
		out.Fallback = true
		log.WithField("case_id", d.CaseID).Debug("fallback cycle emitted")
	}
	if d.Exhausted {
		log.WithField("case_id", d.CaseID).Debug("iteration bound reached")
	}
	if n := len(cycles); n > 0 && cycles[n-1].Open && cycles[n-1].Phase == sla.PhaseCorrection {
		log.WithField("case_id", d.CaseID).Debug("correction still open")
	}
	return out
}

// CaseTimeline computes the drill-down of one case over its whole history.
// A zero now uses the engine clock.
func (e Engine) CaseTimeline(ctx context.Context, caseID string, now time.Time) (sla.CaseDetail, error) {
	if now.IsZero() {
		now = e.now()
	}
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return sla.CaseDetail{}, err
	}
	inputs, err := e.loadInputs(ctx, []domain.Case{c})
	if err != nil {
		return sla.CaseDetail{}, err
	}
	d := sla.BuildCase(inputs[0], sla.Window{}, now, e.Params)
	e.outcome(e.log().WithField("op", "case_timeline"), d)
	return d, nil
}

// ReportRuns lists the most recent report runs.
func (e Engine) ReportRuns(ctx context.Context, limit int) ([]domain.ReportRun, error) {
	return e.Repo.ListReportRuns(ctx, limit)
}

// Import loads a history bundle into the store.
func (e Engine) Import(ctx context.Context, b domain.Bundle) (repo.ImportStats, error) {
	stats, err := e.Repo.ImportBundle(ctx, b)
	if err != nil {
		return repo.ImportStats{}, err
	}
	e.log().WithFields(logrus.Fields{
		"op":            "import",
		"cases":         stats.Cases,
		"tasks":         stats.Tasks,
		"status_events": stats.StatusEvents,
		"audit_records": stats.AuditRecords,
	}).Info("bundle imported")
	return stats, nil
}

// loadInputs fetches tasks, status events and audit records for all cases
// in three bulk reads.
func (e Engine) loadInputs(ctx context.Context, cases []domain.Case) ([]sla.CaseInput, error) {
	if len(cases) == 0 {
		return nil, nil
	}
	caseIDs := make([]string, len(cases))
	for i, c := range cases {
		caseIDs[i] = c.ID
	}
	tasks, err := e.Repo.ListTasks(ctx, caseIDs)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	var taskIDs []string
	for _, id := range caseIDs {
		for _, t := range tasks[id] {
			taskIDs = append(taskIDs, t.ID)
		}
	}
	statusEvents, err := e.Repo.ListStatusEvents(ctx, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("load status events: %w", err)
	}
	audit, err := e.Repo.ListAuditRecords(ctx, caseIDs)
	if err != nil {
		return nil, fmt.Errorf("load audit records: %w", err)
	}

	inputs := make([]sla.CaseInput, len(cases))
	for i, c := range cases {
		in := sla.CaseInput{
			Case:   c,
			Tasks:  tasks[c.ID],
			Events: make(map[string][]domain.StatusEvent, len(tasks[c.ID])),
			Audit:  audit[c.ID],
		}
		for _, t := range in.Tasks {
			in.Events[t.ID] = statusEvents[t.ID]
		}
		inputs[i] = in
	}
	return inputs, nil
}
