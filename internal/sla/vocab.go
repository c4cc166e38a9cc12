package sla

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize strips diacritics, uppercases and collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToUpper(out)), " ")
}

// ValidationStatus is the closed vocabulary of the case-level validation field.
type ValidationStatus int

const (
	ValidationOther ValidationStatus = iota
	ValidationDraft
	ValidationSubmitted
	ValidationValidated
	ValidationInvalidated
	ValidationRejected
)

func (v ValidationStatus) String() string {
	switch v {
	case ValidationDraft:
		return "DRAFT"
	case ValidationSubmitted:
		return "SUBMITTED"
	case ValidationValidated:
		return "VALIDATED"
	case ValidationInvalidated:
		return "INVALIDATED"
	case ValidationRejected:
		return "REJECTED"
	default:
		return "OTHER"
	}
}

// IsNegative reports whether the decision sends the case back to the sectors.
func (v ValidationStatus) IsNegative() bool {
	return v == ValidationInvalidated || v == ValidationRejected
}

// TaskState is the closed vocabulary of task status values.
type TaskState int

const (
	TaskOpen TaskState = iota
	TaskCompleted
	TaskRejected
	TaskCancelled
)

// VocabularyConfig is the keyword source for a Vocabulary. Keywords are
// matched as substrings of normalized text; entries in WordKeywords only
// match whole words.
type VocabularyConfig struct {
	Invalidated    []string
	Rejected       []string
	Validated      []string
	Submitted      []string
	Draft          []string
	TaskCompleted  []string
	TaskRejected   []string
	TaskCancelled  []string
	AttendTasks    []string
	ExcludedCodes  []string
	Excluded       []string
	SectorKeywords map[Sector][]string
	WordKeywords   []string
}

// DefaultVocabularyConfig returns the keyword tables used in production.
func DefaultVocabularyConfig() VocabularyConfig {
	return VocabularyConfig{
		Invalidated:   []string{"INVALID", "NAO VALIDADO"},
		Rejected:      []string{"REJEIT", "REPROV", "DESAPROV", "REJECT", "DEVOLVID"},
		Validated:     []string{"VALIDADO", "APROVADO", "VALIDATED", "APPROVED"},
		Submitted:     []string{"SUBMETID", "ENVIAD", "SUBMITTED", "AGUARDANDO ANALISE"},
		Draft:         []string{"RASCUNHO", "DRAFT"},
		TaskCompleted: []string{"CONCLUID", "FINALIZAD", "COMPLETED", "DONE"},
		TaskRejected:  []string{"REJEIT", "REJECTED", "REPROV"},
		TaskCancelled: []string{"CANCEL"},
		AttendTasks:   []string{"ATENDER", "PENDENTE", "AGUARDANDO SETORES"},
		ExcludedCodes: []string{"7", "8"},
		Excluded: []string{
			"AGUARDANDO DESLIGAMENTO",
			"PENDENTE DE DESLIGAMENTO",
			"DESLIGAMENTO PENDENTE",
			"EM VALIDACAO",
			"SOB VALIDACAO",
		},
		SectorKeywords: map[Sector][]string{
			SectorTraining: {"TREIN", "CAPACIT", "CURSO", "CERTIFIC"},
			SectorMedical:  {"MEDIC", "SAUDE", "EXAME", "ASO", "CLINIC"},
			SectorHR:       {"RH", "RECURSOS HUMANOS", "DEPARTAMENTO PESSOAL"},
		},
		WordKeywords: []string{"RH", "ASO"},
	}
}

type sectorPattern struct {
	sector Sector
	re     *regexp.Regexp
}

// Vocabulary is the compiled classification table. Build it once with
// NewVocabulary and share it; it is read-only after construction.
type Vocabulary struct {
	validation []validationPattern
	task       []taskPattern
	attend     *regexp.Regexp
	excluded   *regexp.Regexp
	codes      map[string]struct{}
	sectors    []sectorPattern
}

type validationPattern struct {
	status ValidationStatus
	re     *regexp.Regexp
}

type taskPattern struct {
	state TaskState
	re    *regexp.Regexp
}

// DefaultVocabulary compiles DefaultVocabularyConfig.
func DefaultVocabulary() *Vocabulary {
	return NewVocabulary(DefaultVocabularyConfig())
}

// NewVocabulary compiles keyword tables into regular expressions.
func NewVocabulary(cfg VocabularyConfig) *Vocabulary {
	words := make(map[string]struct{}, len(cfg.WordKeywords))
	for _, w := range cfg.WordKeywords {
		words[Normalize(w)] = struct{}{}
	}
	compile := func(keywords []string) *regexp.Regexp {
		var alts []string
		for _, k := range keywords {
			k = Normalize(k)
			if k == "" {
				continue
			}
			q := regexp.QuoteMeta(k)
			if _, ok := words[k]; ok {
				q = `\b` + q + `\b`
			}
			alts = append(alts, q)
		}
		if len(alts) == 0 {
			return nil
		}
		return regexp.MustCompile(strings.Join(alts, "|"))
	}
	v := &Vocabulary{
		validation: []validationPattern{
			{ValidationInvalidated, compile(cfg.Invalidated)},
			{ValidationRejected, compile(cfg.Rejected)},
			{ValidationValidated, compile(cfg.Validated)},
			{ValidationSubmitted, compile(cfg.Submitted)},
			{ValidationDraft, compile(cfg.Draft)},
		},
		task: []taskPattern{
			{TaskCancelled, compile(cfg.TaskCancelled)},
			{TaskRejected, compile(cfg.TaskRejected)},
			{TaskCompleted, compile(cfg.TaskCompleted)},
		},
		attend:   compile(cfg.AttendTasks),
		excluded: compile(cfg.Excluded),
		codes:    make(map[string]struct{}, len(cfg.ExcludedCodes)),
	}
	for _, c := range cfg.ExcludedCodes {
		v.codes[strings.TrimSpace(c)] = struct{}{}
	}
	for _, s := range []Sector{SectorTraining, SectorMedical, SectorHR} {
		if re := compile(cfg.SectorKeywords[s]); re != nil {
			v.sectors = append(v.sectors, sectorPattern{sector: s, re: re})
		}
	}
	return v
}

// Validation classifies a value of the case-level validation field.
func (v *Vocabulary) Validation(value string) ValidationStatus {
	n := Normalize(value)
	if n == "" {
		return ValidationOther
	}
	for _, p := range v.validation {
		if p.re != nil && p.re.MatchString(n) {
			return p.status
		}
	}
	return ValidationOther
}

// Task classifies a task status value.
func (v *Vocabulary) Task(value string) TaskState {
	n := Normalize(value)
	for _, p := range v.task {
		if p.re != nil && p.re.MatchString(n) {
			return p.state
		}
	}
	return TaskOpen
}

// AttendTasks reports whether a task-aggregate value means the case is
// waiting on its sectors.
func (v *Vocabulary) AttendTasks(value string) bool {
	return v.attend != nil && v.attend.MatchString(Normalize(value))
}

// Excluded reports whether a validation status value is a parked state.
func (v *Vocabulary) Excluded(value string) bool {
	raw := strings.TrimSpace(value)
	if _, ok := v.codes[raw]; ok {
		return true
	}
	return v.excluded != nil && v.excluded.MatchString(Normalize(value))
}

// Sector maps free text to an execution sector, or SectorUnknown.
func (v *Vocabulary) Sector(text string) Sector {
	n := Normalize(text)
	if n == "" {
		return SectorUnknown
	}
	for _, p := range v.sectors {
		if p.re.MatchString(n) {
			return p.sector
		}
	}
	return SectorUnknown
}
