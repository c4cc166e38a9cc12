package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"relosla/internal/domain"
)

// importNamespace seeds deterministic ids for records imported without one.
var importNamespace = uuid.MustParse("6f1c7a52-3d4e-4b8e-9a51-2f0c1d9e7b30")

// ImportStats counts the records handed to the database.
type ImportStats struct {
	Cases        int `json:"cases"`
	Tasks        int `json:"tasks"`
	StatusEvents int `json:"status_events"`
	AuditRecords int `json:"audit_records"`
}

func derivedID(kind string, parts ...string) string {
	return uuid.NewSHA1(importNamespace, []byte(kind+"|"+strings.Join(parts, "|"))).String()
}

// AssignIDs fills missing ids from the record content, so importing the same
// bundle twice yields the same ids.
func AssignIDs(b *domain.Bundle) {
	for i := range b.StatusEvents {
		e := &b.StatusEvents[i]
		if e.ID != "" {
			continue
		}
		at := ""
		if e.At != nil {
			at = FormatTime(*e.At)
		}
		e.ID = derivedID("status_event", e.TaskID, e.PrevStatus, e.NewStatus, at, fmt.Sprint(i))
	}
	for i := range b.AuditRecords {
		a := &b.AuditRecords[i]
		if a.ID != "" {
			continue
		}
		at := ""
		if a.At != nil {
			at = FormatTime(*a.At)
		}
		a.ID = derivedID("audit_record", a.CaseID, a.TaskID, a.Field, a.NewValue, at, fmt.Sprint(i))
	}
}

// Validate checks references inside a bundle before anything is written.
func Validate(b domain.Bundle) error {
	cases := make(map[string]bool, len(b.Cases))
	for _, c := range b.Cases {
		if c.ID == "" {
			return fmt.Errorf("case without id")
		}
		if c.CreatedAt.IsZero() {
			return fmt.Errorf("case %s has no created_at", c.ID)
		}
		cases[c.ID] = true
	}
	tasks := make(map[string]bool, len(b.Tasks))
	for _, t := range b.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task without id in case %s", t.CaseID)
		}
		if !cases[t.CaseID] {
			return fmt.Errorf("task %s references unknown case %s", t.ID, t.CaseID)
		}
		tasks[t.ID] = true
	}
	for _, e := range b.StatusEvents {
		if !tasks[e.TaskID] {
			return fmt.Errorf("status event %s references unknown task %s", e.ID, e.TaskID)
		}
	}
	for _, a := range b.AuditRecords {
		if !cases[a.CaseID] {
			return fmt.Errorf("audit record %s references unknown case %s", a.ID, a.CaseID)
		}
	}
	return nil
}

// ImportBundle writes a bundle in one transaction. Records whose id already
// exists are left untouched.
func (r Repo) ImportBundle(ctx context.Context, b domain.Bundle) (ImportStats, error) {
	AssignIDs(&b)
	if err := Validate(b); err != nil {
		return ImportStats{}, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return ImportStats{}, err
	}
	defer tx.Rollback()

	var stats ImportStats
	for _, c := range b.Cases {
		if err := r.InsertCaseTx(ctx, tx, c); err != nil {
			return ImportStats{}, fmt.Errorf("insert case %s: %w", c.ID, err)
		}
		stats.Cases++
	}
	for _, t := range b.Tasks {
		if err := r.InsertTaskTx(ctx, tx, t); err != nil {
			return ImportStats{}, fmt.Errorf("insert task %s: %w", t.ID, err)
		}
		stats.Tasks++
	}
	for _, e := range b.StatusEvents {
		if err := r.InsertStatusEventTx(ctx, tx, e); err != nil {
			return ImportStats{}, fmt.Errorf("insert status event %s: %w", e.ID, err)
		}
		stats.StatusEvents++
	}
	for _, a := range b.AuditRecords {
		if err := r.InsertAuditRecordTx(ctx, tx, a); err != nil {
			return ImportStats{}, fmt.Errorf("insert audit record %s: %w", a.ID, err)
		}
		stats.AuditRecords++
	}
	if err := tx.Commit(); err != nil {
		return ImportStats{}, err
	}
	return stats, nil
}
