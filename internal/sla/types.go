// Package sla reconstructs responsibility timelines for relocation cases
// from their audit trail and folds them into SLA statistics.
package sla

import (
	"time"
)

// Sector is a responsible party label. Execution sectors are inferred from
// task text; Logistics and Other are bookkeeping buckets.
type Sector string

const (
	SectorHR        Sector = "HR"
	SectorMedical   Sector = "MEDICAL"
	SectorTraining  Sector = "TRAINING"
	SectorUnknown   Sector = "UNKNOWN"
	SectorLogistics Sector = "LOGISTICS"
	SectorOther     Sector = "OTHER"
)

// sectorOrder fixes output ordering for maps rendered as lists.
var sectorOrder = []Sector{SectorHR, SectorMedical, SectorTraining, SectorUnknown, SectorLogistics, SectorOther}

func sectorRank(s Sector) int {
	for i, v := range sectorOrder {
		if v == s {
			return i
		}
	}
	return len(sectorOrder)
}

// PartyKind tells whether a cycle belongs to the central authority or to
// the execution sectors.
type PartyKind string

const (
	PartyLogistics PartyKind = "LOGISTICS"
	PartySectors   PartyKind = "SECTORS"
)

// Phase numbers used on cycles.
const (
	PhaseApproval   = 1
	PhaseExecution  = 2
	PhaseAnalysis   = 3
	PhaseCorrection = 4
	PhaseValidation = 5
)

// Cycle tags.
const (
	TagApproval          = "APPROVAL"
	TagExecution         = "EXECUTION"
	TagAnalysis          = "ANALYSIS"
	TagReAnalysis        = "RE-ANALYSIS"
	TagCorrection        = "SECTOR CORRECTION"
	TagFinalValidation   = "FINAL VALIDATION"
	TagAnalysisNoDecided = "ANALYSIS (NO DECISION)"
	TagFallback          = "FALLBACK_GENERAL"
)

// Segment is a [Start,End) interval during which one task held Status.
type Segment struct {
	TaskID     string    `json:"task_id"`
	Status     string    `json:"status"`
	Start      time.Time `json:"start" format:"date-time"`
	End        time.Time `json:"end" format:"date-time"`
	DurationMs int64     `json:"duration_ms"`
}

// ExclusionWindow is a [Start,End) interval where the case was parked.
type ExclusionWindow struct {
	Start time.Time `json:"start" format:"date-time"`
	End   time.Time `json:"end" format:"date-time"`
}

func (w ExclusionWindow) Duration() time.Duration { return w.End.Sub(w.Start) }

// RejectionEvent is a deduplicated task rejection.
type RejectionEvent struct {
	TaskID   string    `json:"task_id"`
	TaskType string    `json:"task_type,omitempty"`
	Sector   Sector    `json:"sector"`
	At       time.Time `json:"at" format:"date-time"`
}

// Cycle is one unit of the reconstructed responsibility timeline.
type Cycle struct {
	Phase          int              `json:"phase"`
	Party          PartyKind        `json:"party"`
	Tag            string           `json:"tag"`
	Start          time.Time        `json:"start" format:"date-time"`
	End            time.Time        `json:"end" format:"date-time"`
	DurationMs     int64            `json:"duration_ms"`
	Open           bool             `json:"open,omitempty"`
	Synthetic      bool             `json:"synthetic,omitempty"`
	RejectionCount int              `json:"rejection_count,omitempty"`
	Rejections     []RejectionEvent `json:"rejections,omitempty"`
	// Attribution holds per-sector milliseconds for this cycle, excluded
	// time already moved to OTHER.
	Attribution map[Sector]int64 `json:"attribution,omitempty"`
}

func (c Cycle) duration() time.Duration { return c.End.Sub(c.Start) }

// SectorInterval is a measured window of sector activity inside a cycle.
type SectorInterval struct {
	Sector     Sector    `json:"sector"`
	CycleIndex int       `json:"cycle_index"`
	Start      time.Time `json:"start" format:"date-time"`
	End        time.Time `json:"end" format:"date-time"`
	DurationMs int64     `json:"duration_ms"`
}

// TaskSegments groups the status segments of one task.
type TaskSegments struct {
	TaskID   string    `json:"task_id"`
	TaskType string    `json:"task_type,omitempty"`
	Segments []Segment `json:"segments"`
}

// CaseDetail is the per-case drill-down record.
type CaseDetail struct {
	CaseID                 string                    `json:"case_id"`
	Employee               string                    `json:"employee"`
	TotalDurationMs        int64                     `json:"total_duration_ms"`
	MeanDurationsBySector  map[Sector]int64          `json:"mean_durations_by_sector"`
	SectorIntervals        []SectorInterval          `json:"sector_intervals"`
	SectorDurationsMs      map[Sector]int64          `json:"sector_durations_ms"`
	ResponsibilityTimeline []Cycle                   `json:"responsibility_timeline"`
	SectorSegments         map[Sector][]TaskSegments `json:"sector_segments"`
	ExclusionWindows       []ExclusionWindow         `json:"exclusion_windows"`
	HadRejection           bool                      `json:"had_rejection"`
	RejectionsBySector     map[Sector]int            `json:"rejections_by_sector"`
	RejectionEvents        []RejectionEvent          `json:"rejection_events"`
	Validated              bool                      `json:"validated"`
	Exhausted              bool                      `json:"exhausted,omitempty"`

	// fold inputs, not rendered
	taskSectors     map[Sector]int
	completionMs    map[Sector][]int64
	approvalsByType map[string]int
	rejectsByType   map[string]int
}

// SectorSummary is the cross-case aggregate for one sector.
type SectorSummary struct {
	Sector                   Sector `json:"sector"`
	TaskCount                int    `json:"task_count"`
	MeanActiveDurationMs     int64  `json:"mean_active_duration_ms"`
	MeanCompletionDurationMs int64  `json:"mean_completion_duration_ms"`
	RejectionCount           int    `json:"rejection_count"`
}

// Report is the payload handed to the reporting layer.
type Report struct {
	PeriodDays       int             `json:"period_days"`
	BySector         []SectorSummary `json:"by_sector"`
	ByCase           []CaseDetail    `json:"by_case"`
	RejectionsByType map[string]int  `json:"rejections_by_type"`
	ApprovalsByType  map[string]int  `json:"approvals_by_type"`
}

func ms(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}
