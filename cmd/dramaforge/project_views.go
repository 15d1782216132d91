package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"dramaforge/internal/api"
	"dramaforge/internal/events"
	"dramaforge/internal/workflow"
)

func formatPercent(value float64) string {
	return fmt.Sprintf("%.0f%%", value)
}

func formatCost(value float64) string {
	return fmt.Sprintf("$%.4f", value)
}

func renderProjectList(out io.Writer, projects []api.ProjectSummary) {
	if len(projects) == 0 {
		fmt.Fprintln(out, "No projects")
		return
	}
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		stage := p.Stage
		if stage == "" {
			stage = "-"
		}
		rows = append(rows, []string{
			p.ID,
			p.Kind,
			displayStatus(p.Status),
			fmt.Sprintf("%s (%d/%d)", stage, min(p.StageIndex+1, p.Stages), p.Stages),
			formatPercent(p.Overall),
			fmt.Sprintf("%d", p.Calls),
			formatCost(p.Cost),
		})
	}
	fmt.Fprintln(out, renderTable([]column{
		col("ID"), col("Input"), col("Status"), col("Stage"), numCol("Progress"), numCol("Calls"), numCol("Cost"),
	}, rows))
}

func renderProject(printer *statusPrinter, p workflow.Project) {
	out := printer.out
	printer.section("Project " + p.ID)
	printer.line("Status", projectTone(p.Status), displayStatus(string(p.Status)))
	printer.line("Progress", toneInfo, formatPercent(p.Overall()))
	if p.Input.Title != "" {
		printer.line("Title", toneInfo, p.Input.Title)
	}
	printer.line("Usage", toneInfo, fmt.Sprintf("%d calls, %s", p.Totals.Calls, formatCost(p.Totals.Cost)))
	if p.Error != "" {
		printer.line("Error", toneBad, p.Error)
	}
	printer.blank()

	rows := make([][]string, 0, len(p.Stages))
	for i, st := range p.Stages {
		marker := ""
		if i == p.CurrentStageIndex && !st.Status.Done() {
			marker = "▶"
		}
		status := displayStatus(string(st.Status))
		if st.SkipRequested {
			status += " (skip requested)"
		}
		if st.Optional {
			status += " *"
		}
		status = printer.paint(stageTone(st.Status), status)
		rows = append(rows, []string{
			marker,
			st.Name,
			status,
			formatPercent(st.Progress),
			fmt.Sprintf("%d", st.Attempts),
			st.Error,
		})
	}
	fmt.Fprintln(out, renderTable([]column{
		col(""), col("Stage"), col("Status"), numCol("Progress"), numCol("Attempts"), col("Error"),
	}, rows))

	if len(p.Totals.ByKind) > 0 {
		parts := make([]string, 0, len(p.Totals.ByKind))
		for _, kind := range slices.Sorted(maps.Keys(p.Totals.ByKind)) {
			parts = append(parts, fmt.Sprintf("%s %s", kind, formatCost(p.Totals.ByKind[kind])))
		}
		fmt.Fprintf(out, "Cost by kind: %s\n", strings.Join(parts, ", "))
	}
}

// formatEvent renders one workflow event as a single progress line.
func formatEvent(evt events.Event) string {
	ts := evt.Timestamp.Local().Format("15:04:05")
	subject := evt.ProjectID
	if evt.StageID != "" {
		subject += "/" + evt.StageID
	}
	line := fmt.Sprintf("%s %-18s %-24s %5s", ts, evt.Type, subject, formatPercent(evt.Overall))
	switch evt.Type {
	case events.StageProgress:
		line += fmt.Sprintf("  stage %s", formatPercent(evt.Progress))
	case events.StageRetry:
		line += fmt.Sprintf("  attempt %d in %s", evt.Attempt, evt.Delay)
	}
	if evt.Error != "" {
		line += "  " + evt.Error
	} else if evt.Message != "" {
		line += "  " + evt.Message
	}
	return line
}
