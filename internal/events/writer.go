package events

import (
	"context"
	"encoding/json"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"relosla/internal/domain"
	"relosla/internal/repo"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a time-sortable report-run id.
func NewID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// Writer appends report runs to the run log.
type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

// ReportRun records one successful report. filter is stored as JSON.
func (w Writer) ReportRun(ctx context.Context, filter any, caseCount int, totalDurationMs int64) (domain.ReportRun, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	now := w.Now().UTC()
	data, err := json.Marshal(filter)
	if err != nil {
		return domain.ReportRun{}, fmt.Errorf("marshal report filter: %w", err)
	}
	run := domain.ReportRun{
		ID:              NewID(now),
		GeneratedAt:     now,
		FilterJSON:      string(data),
		CaseCount:       caseCount,
		TotalDurationMs: totalDurationMs,
	}
	if err := w.Repo.InsertReportRun(ctx, w.Repo.DB, run); err != nil {
		return domain.ReportRun{}, fmt.Errorf("append report run: %w", err)
	}
	return run, nil
}
