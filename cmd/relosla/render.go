package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"relosla/internal/domain"
	"relosla/internal/sla"
)

var (
	openStyle     = color.New(color.FgYellow).SprintFunc()
	fallbackStyle = color.New(color.FgRed).SprintFunc()
)

func fmtMs(ms int64) string {
	if ms <= 0 {
		return "0s"
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

func renderReport(w io.Writer, r sla.Report, showCases bool) {
	fmt.Fprintf(w, "SLA report, %d day(s), %d case(s)\n", r.PeriodDays, len(r.ByCase))

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Sector", "Tasks", "Mean active", "Mean completion", "Rejections"})
	for _, s := range r.BySector {
		tw.AppendRow(table.Row{s.Sector, s.TaskCount, fmtMs(s.MeanActiveDurationMs), fmtMs(s.MeanCompletionDurationMs), s.RejectionCount})
	}
	tw.Render()

	if len(r.RejectionsByType) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{"Task type", "Rejections", "Approvals"})
		for _, k := range sortedKeys(r.RejectionsByType) {
			tw.AppendRow(table.Row{k, r.RejectionsByType[k], r.ApprovalsByType[k]})
		}
		tw.Render()
	}

	if !showCases {
		return
	}
	tw = table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Case", "Employee", "Total", "Cycles", "Rejected", "Validated"})
	for _, d := range r.ByCase {
		tw.AppendRow(table.Row{d.CaseID, d.Employee, fmtMs(d.TotalDurationMs), len(d.ResponsibilityTimeline), d.HadRejection, d.Validated})
	}
	tw.Render()
}

func renderTimeline(w io.Writer, d sla.CaseDetail) {
	fmt.Fprintf(w, "Case %s (%s), total %s\n", d.CaseID, d.Employee, fmtMs(d.TotalDurationMs))

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "Phase", "Party", "Tag", "Start", "End", "Duration", "Rejections"})
	for i, c := range d.ResponsibilityTimeline {
		tag := c.Tag
		switch {
		case c.Tag == sla.TagFallback:
			tag = fallbackStyle(tag)
		case c.Open:
			tag = openStyle(tag + " (open)")
		}
		tw.AppendRow(table.Row{
			i + 1, c.Phase, c.Party, tag,
			c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339),
			fmtMs(c.DurationMs), c.RejectionCount,
		})
	}
	tw.Render()

	if len(d.SectorDurationsMs) == 0 {
		return
	}
	tw = table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Sector", "Attributed", "Rejections"})
	sectors := make([]string, 0, len(d.SectorDurationsMs))
	for s := range d.SectorDurationsMs {
		sectors = append(sectors, string(s))
	}
	sort.Strings(sectors)
	for _, s := range sectors {
		sec := sla.Sector(s)
		tw.AppendRow(table.Row{s, fmtMs(d.SectorDurationsMs[sec]), d.RejectionsBySector[sec]})
	}
	tw.Render()
}

func renderRuns(w io.Writer, runs []domain.ReportRun) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Run", "Generated", "Cases", "Total", "Filter"})
	for _, r := range runs {
		tw.AppendRow(table.Row{r.ID, r.GeneratedAt.Format(time.RFC3339), r.CaseCount, fmtMs(r.TotalDurationMs), r.FilterJSON})
	}
	tw.Render()
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
