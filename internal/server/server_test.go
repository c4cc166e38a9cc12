package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relosla/internal/config"
	"relosla/internal/db"
	"relosla/internal/domain"
	"relosla/internal/engine"
	"relosla/internal/migrate"
	"relosla/internal/sla"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, dialect, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, dialect, config.Default(), nil)
	e.Now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	if _, err := e.Import(context.Background(), seedBundle()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cfg := Config{Engine: e, BasePath: "/v0"}
	if mutate != nil {
		mutate(&cfg)
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

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

func get(t *testing.T, srv *testServer, path string) (*http.Response, []byte) {
	t.Helper()
	res, err := srv.Client().Get(srv.URL + path)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := get(t, srv, "/v0/health")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var body map[string]string
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestSLAReport(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := get(t, srv, "/v0/reports/sla?start=2024-03-01&end=2024-03-02")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.NotEmpty(t, res.Header.Get("X-Report-Run"))

	var report sla.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 2, report.PeriodDays)
	require.Len(t, report.ByCase, 2)
	assert.Equal(t, map[string]int{"Exame admissional": 1}, report.RejectionsByType)

	res, data = get(t, srv, "/v0/reports/runs?limit=5")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var runs ReportRunsResponse
	require.NoError(t, json.Unmarshal(data, &runs))
	require.Len(t, runs.Items, 1)
	assert.Equal(t, 2, runs.Items[0].CaseCount)
}

func TestSLAReportBadFilter(t *testing.T) {
	srv := newTestServer(t, nil)
	cases := []struct {
		query string
		field string
	}{
		{"start=2024-03-05&end=2024-03-01", "start"},
		{"start=03/01/2024", "start"},
		{"end=tomorrow", "end"},
		{"days=-3", "days"},
	}
	for _, tc := range cases {
		res, data := get(t, srv, "/v0/reports/sla?"+tc.query)
		require.Equal(t, http.StatusBadRequest, res.StatusCode, tc.query)
		env := decodeError(t, data)
		assert.Equal(t, "bad_request", env.Error.Code, tc.query)
		assert.Equal(t, tc.field, env.Error.Details["field"], tc.query)
	}

	res, data := get(t, srv, "/v0/reports/runs")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var runs ReportRunsResponse
	require.NoError(t, json.Unmarshal(data, &runs))
	assert.Empty(t, runs.Items)
}

func TestCaseTimeline(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := get(t, srv, "/v0/cases/c2/timeline")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var detail sla.CaseDetail
	require.NoError(t, json.Unmarshal(data, &detail))
	require.Len(t, detail.ResponsibilityTimeline, 5)
	assert.Equal(t, sla.TagCorrection, detail.ResponsibilityTimeline[3].Tag)
	assert.True(t, detail.HadRejection)

	res, data = get(t, srv, "/v0/cases/c3/timeline?now=2024-03-04T16:00:00Z")
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &detail))
	assert.Equal(t, (8 * time.Hour).Milliseconds(), detail.TotalDurationMs)

	res, data = get(t, srv, "/v0/cases/missing/timeline")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, data).Error.Code)

	res, data = get(t, srv, "/v0/cases/c1/timeline?now=soon")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "now", decodeError(t, data).Error.Details["field"])
}

func TestReportFailsWhenStoreIsGone(t *testing.T) {
	var eng engine.Engine
	srv := newTestServer(t, func(c *Config) { eng = c.Engine })
	require.NoError(t, eng.DB.Close())

	res, data := get(t, srv, "/v0/reports/sla")
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "internal_error", decodeError(t, data).Error.Code)
}

func TestOpenAPIDocsAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil)

	res, data := get(t, srv, "/v0/openapi.json")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var oas struct {
		Paths map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(data, &oas))
	assert.Contains(t, oas.Paths, "/v0/reports/sla")
	assert.Contains(t, oas.Paths, "/v0/cases/{case_id}/timeline")

	res, data = get(t, srv, "/docs")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/v0/openapi.json")

	get(t, srv, "/v0/health")
	res, data = get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.Contains(string(data), "relosla_http_requests_total"))
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	srv := newTestServer(t, nil)

	const n = 16
	bodies := make([][]byte, n)
	statuses := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				return
			}
			defer res.Body.Close()
			statuses[i] = res.StatusCode
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.Equal(t, http.StatusOK, statuses[i], "request %d", i)
		assert.NotEmpty(t, bodies[i])
		assert.Equal(t, bodies[0], bodies[i], "request %d", i)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, func(c *Config) {
		c.RateLimit = 0.001
		c.Burst = 1
	})
	res, _ := get(t, srv, "/v0/health")
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, data := get(t, srv, "/v0/health")
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "rate_limited", decodeError(t, data).Error.Code)
}
