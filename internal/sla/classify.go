package sla

import (
	"sort"

	"relosla/internal/domain"
)

// ClassifySector infers the sector of a task. Sources are tried in order:
// teams recorded on the task's audit trail (oldest first), the responsible
// label, the type, then the description. The first source that maps to a
// sector wins.
func ClassifySector(task domain.Task, audit []domain.AuditRecord, vocab *Vocabulary) Sector {
	teams := make([]domain.AuditRecord, 0, len(audit))
	for _, r := range audit {
		if r.TaskID == task.ID && r.Team != "" {
			teams = append(teams, r)
		}
	}
	sort.SliceStable(teams, func(i, j int) bool {
		ai, aj := teams[i].At, teams[j].At
		switch {
		case ai == nil:
			return false
		case aj == nil:
			return true
		default:
			return ai.Before(*aj)
		}
	})
	for _, r := range teams {
		if s := vocab.Sector(r.Team); s != SectorUnknown {
			return s
		}
	}
	for _, text := range []string{task.Responsible, task.Type, task.Description} {
		if s := vocab.Sector(text); s != SectorUnknown {
			return s
		}
	}
	return SectorUnknown
}
