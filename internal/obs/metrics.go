package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relosla_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relosla_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relosla_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	reportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relosla_report_duration_seconds",
		Help:    "Time to compute one SLA report.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	casesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relosla_cases_processed_total",
		Help: "Cases whose timeline was reconstructed.",
	})

	fallbackCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relosla_fallback_cycles_total",
		Help: "Cases reported with a single fallback cycle.",
	})

	loopExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relosla_loop_exhausted_total",
		Help: "Cases that hit the analysis/correction iteration bound.",
	})

	reportFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relosla_report_failures_total",
		Help: "Report computations aborted by an error.",
	})
)

// Init registers metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			reportDuration, casesProcessed, fallbackCycles, loopExhausted, reportFailures,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CaseOutcome is what the engine reports per computed case.
type CaseOutcome struct {
	Fallback  bool
	Exhausted bool
}

// ObserveReport records one finished report.
func ObserveReport(d time.Duration, cases []CaseOutcome) {
	reportDuration.Observe(d.Seconds())
	casesProcessed.Add(float64(len(cases)))
	for _, c := range cases {
		if c.Fallback {
			fallbackCycles.Inc()
		}
		if c.Exhausted {
			loopExhausted.Inc()
		}
	}
}

// ObserveReportFailure counts a report aborted by an error.
func ObserveReportFailure() {
	reportFailures.Inc()
}

// Instrument measures in-flight requests, request count and latency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses case ids so the path label stays bounded.
func CanonicalPath(p string) string {
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	for i := 1; i+1 < len(parts); i++ {
		if parts[i] == "cases" && parts[i+1] != "" {
			parts[i+1] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
