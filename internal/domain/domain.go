package domain

import "time"

// Case is a relocation request for one employee.
type Case struct {
	ID               string     `json:"id"`
	Employee         string     `json:"employee"`
	CreatedAt        time.Time  `json:"created_at" format:"date-time"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty" format:"date-time"`
	RespondedAt      *time.Time `json:"responded_at,omitempty" format:"date-time"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty" format:"date-time"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" format:"date-time"`
	TaskStatus       string     `json:"task_status,omitempty"`
	ValidationStatus string     `json:"validation_status,omitempty"`
}

type Task struct {
	ID          string     `json:"id"`
	CaseID      string     `json:"case_id"`
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	Responsible string     `json:"responsible,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   *time.Time `json:"created_at,omitempty" format:"date-time"`
	CompletedAt *time.Time `json:"completed_at,omitempty" format:"date-time"`
}

// StatusEvent is one transition of a task. At is nil when the source row
// carried no timestamp.
type StatusEvent struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	PrevStatus string     `json:"prev_status,omitempty"`
	NewStatus  string     `json:"new_status"`
	At         *time.Time `json:"at,omitempty" format:"date-time"`
}

// AuditRecord is a generic field change tied to a case and optionally a task.
type AuditRecord struct {
	ID       string     `json:"id"`
	CaseID   string     `json:"case_id"`
	TaskID   string     `json:"task_id,omitempty"`
	Entity   string     `json:"entity"`
	Field    string     `json:"field"`
	NewValue string     `json:"new_value"`
	At       *time.Time `json:"at,omitempty" format:"date-time"`
	Team     string     `json:"team,omitempty"`
}

// ReportRun records one successful report computation.
type ReportRun struct {
	ID              string    `json:"id"`
	GeneratedAt     time.Time `json:"generated_at" format:"date-time"`
	FilterJSON      string    `json:"filter_json"`
	CaseCount       int       `json:"case_count"`
	TotalDurationMs int64     `json:"total_duration_ms"`
}

// Bundle is the import format: a flat dump of case history.
type Bundle struct {
	Cases        []Case        `json:"cases"`
	Tasks        []Task        `json:"tasks"`
	StatusEvents []StatusEvent `json:"status_events"`
	AuditRecords []AuditRecord `json:"audit_records"`
}
