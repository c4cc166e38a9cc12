package sla

import "time"

// MaxIterations bounds the analysis/correction loop of one case. Reaching
// it keeps the partial timeline; it never raises an error.
const MaxIterations = 30

const (
	DefaultDedupWindow        = 5 * time.Minute
	DefaultCoverageThreshold  = 0.10
	DefaultRejectionTolerance = 60 * time.Second
)

// Params carries the tunables of one computation. The coverage threshold
// and rejection tolerance were chosen empirically and stay configurable.
type Params struct {
	MaxIterations      int
	DedupWindow        time.Duration
	CoverageThreshold  float64
	RejectionTolerance time.Duration

	// ValidationField and TaskStatusField name the case-level audit fields.
	ValidationField string
	TaskStatusField string

	Vocabulary *Vocabulary
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		MaxIterations:      MaxIterations,
		DedupWindow:        DefaultDedupWindow,
		CoverageThreshold:  DefaultCoverageThreshold,
		RejectionTolerance: DefaultRejectionTolerance,
		ValidationField:    "status_validacao",
		TaskStatusField:    "status_tarefas",
		Vocabulary:         DefaultVocabulary(),
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.MaxIterations <= 0 {
		p.MaxIterations = d.MaxIterations
	}
	if p.DedupWindow <= 0 {
		p.DedupWindow = d.DedupWindow
	}
	if p.CoverageThreshold < 0 {
		p.CoverageThreshold = d.CoverageThreshold
	}
	if p.RejectionTolerance < 0 {
		p.RejectionTolerance = d.RejectionTolerance
	}
	if p.ValidationField == "" {
		p.ValidationField = d.ValidationField
	}
	if p.TaskStatusField == "" {
		p.TaskStatusField = d.TaskStatusField
	}
	if p.Vocabulary == nil {
		p.Vocabulary = d.Vocabulary
	}
	return p
}
