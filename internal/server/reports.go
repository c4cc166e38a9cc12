package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"relosla/internal/engine"
	"relosla/internal/sla"
)

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sla-report",
		Method:      http.MethodGet,
		Path:        "/reports/sla",
		Summary:     "Compute the SLA report for a window",
		Tags:        []string{"reports"},
	}, func(ctx context.Context, input *ReportQuery) (*struct {
		RunID string `header:"X-Report-Run"`
		Body  sla.Report
	}, error) {
		res, err := e.ComputeReport(ctx, input.filter())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			RunID string `header:"X-Report-Run"`
			Body  sla.Report
		}{RunID: res.Run.ID, Body: res.Report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-runs",
		Method:      http.MethodGet,
		Path:        "/reports/runs",
		Summary:     "List recent report runs",
		Tags:        []string{"reports"},
	}, func(ctx context.Context, input *ReportRunsQuery) (*struct {
		Body ReportRunsResponse
	}, error) {
		runs, err := e.ReportRuns(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportRunsResponse
		}{Body: ReportRunsResponse{Items: runs}}, nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "case-timeline",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/timeline",
		Summary:     "Responsibility timeline of one case",
		Tags:        []string{"cases"},
	}, func(ctx context.Context, input *CaseTimelineQuery) (*struct {
		Body sla.CaseDetail
	}, error) {
		var now time.Time
		if input.Now != "" {
			t, err := time.Parse(time.RFC3339, input.Now)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "now: invalid RFC3339 instant", map[string]any{"field": "now"})
			}
			now = t
		}
		detail, err := e.CaseTimeline(ctx, input.CaseID, now)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body sla.CaseDetail
		}{Body: detail}, nil
	})
}
