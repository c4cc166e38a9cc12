package server

import (
	"relosla/internal/domain"
	"relosla/internal/engine"
)

// Request payloads

type ReportQuery struct {
	Days          int    `query:"days" doc:"Lookback window in days, 1..3650. Defaults to 30."`
	Start         string `query:"start" doc:"Window start, YYYY-MM-DD or RFC3339."`
	End           string `query:"end" doc:"Window end, YYYY-MM-DD (inclusive) or RFC3339."`
	OnlyCompleted bool   `query:"only_completed" doc:"Only cases completed inside the window."`
}

func (q ReportQuery) filter() engine.ReportFilter {
	return engine.ReportFilter{
		Days:          q.Days,
		Start:         q.Start,
		End:           q.End,
		OnlyCompleted: q.OnlyCompleted,
	}
}

type CaseTimelineQuery struct {
	CaseID string `path:"case_id"`
	Now    string `query:"now" doc:"Evaluate open cycles at this RFC3339 instant instead of the server clock."`
}

type ReportRunsQuery struct {
	Limit int `query:"limit" doc:"Maximum runs to return, newest first. Defaults to 50."`
}

// Response payloads

type ReportRunsResponse struct {
	Items []domain.ReportRun `json:"items"`
}
