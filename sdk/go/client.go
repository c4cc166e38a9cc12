package reloslasdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal relocation SLA API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		Timeout:  30 * time.Second,
	}
}

// ReportFilter selects the cases a report covers. Zero values use server
// defaults.
type ReportFilter struct {
	Days          int
	Start         string
	End           string
	OnlyCompleted bool
}

func (f ReportFilter) query() url.Values {
	q := url.Values{}
	if f.Days > 0 {
		q.Set("days", strconv.Itoa(f.Days))
	}
	if f.Start != "" {
		q.Set("start", f.Start)
	}
	if f.End != "" {
		q.Set("end", f.End)
	}
	if f.OnlyCompleted {
		q.Set("only_completed", "true")
	}
	return q
}

// SectorSummary is the per-sector aggregate (partial).
type SectorSummary struct {
	Sector                   string `json:"sector"`
	TaskCount                int    `json:"task_count"`
	MeanActiveDurationMs     int64  `json:"mean_active_duration_ms"`
	MeanCompletionDurationMs int64  `json:"mean_completion_duration_ms"`
	RejectionCount           int    `json:"rejection_count"`
}

// Cycle is one unit of a responsibility timeline (partial).
type Cycle struct {
	Phase          int              `json:"phase"`
	Party          string           `json:"party"`
	Tag            string           `json:"tag"`
	Start          time.Time        `json:"start"`
	End            time.Time        `json:"end"`
	DurationMs     int64            `json:"duration_ms"`
	Open           bool             `json:"open"`
	RejectionCount int              `json:"rejection_count"`
	Attribution    map[string]int64 `json:"attribution"`
}

// CaseDetail is the per-case drill-down (partial).
type CaseDetail struct {
	CaseID                 string           `json:"case_id"`
	Employee               string           `json:"employee"`
	TotalDurationMs        int64            `json:"total_duration_ms"`
	SectorDurationsMs      map[string]int64 `json:"sector_durations_ms"`
	ResponsibilityTimeline []Cycle          `json:"responsibility_timeline"`
	HadRejection           bool             `json:"had_rejection"`
	RejectionsBySector     map[string]int   `json:"rejections_by_sector"`
	Validated              bool             `json:"validated"`
}

// Report is the SLA report payload.
type Report struct {
	RunID            string          `json:"-"`
	PeriodDays       int             `json:"period_days"`
	BySector         []SectorSummary `json:"by_sector"`
	ByCase           []CaseDetail    `json:"by_case"`
	RejectionsByType map[string]int  `json:"rejections_by_type"`
	ApprovalsByType  map[string]int  `json:"approvals_by_type"`
}

// ReportRun is one entry of the report-run log.
type ReportRun struct {
	ID              string    `json:"id"`
	GeneratedAt     time.Time `json:"generated_at"`
	FilterJSON      string    `json:"filter_json"`
	CaseCount       int       `json:"case_count"`
	TotalDurationMs int64     `json:"total_duration_ms"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Report computes the SLA report for a filter.
func (c *Client) Report(ctx context.Context, f ReportFilter) (Report, error) {
	var resp Report
	header, err := c.do(ctx, "reports/sla", f.query(), &resp)
	resp.RunID = header.Get("X-Report-Run")
	return resp, err
}

// CaseTimeline returns the drill-down of one case. A zero now uses the
// server clock.
func (c *Client) CaseTimeline(ctx context.Context, caseID string, now time.Time) (CaseDetail, error) {
	var resp CaseDetail
	q := url.Values{}
	if !now.IsZero() {
		q.Set("now", now.UTC().Format(time.RFC3339))
	}
	_, err := c.do(ctx, fmt.Sprintf("cases/%s/timeline", url.PathEscape(caseID)), q, &resp)
	return resp, err
}

// ReportRuns lists recent report runs, newest first.
func (c *Client) ReportRuns(ctx context.Context, limit int) ([]ReportRun, error) {
	var resp struct {
		Items []ReportRun `json:"items"`
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	_, err := c.do(ctx, "reports/runs", q, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, endpoint string, q url.Values, out any) (http.Header, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return http.Header{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return http.Header{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return resp.Header, apiErr
	}
	if out != nil {
		return resp.Header, json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.Header, nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
