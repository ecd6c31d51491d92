package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentcrew/core"
	"github.com/hupe1980/agentcrew/planner"
)

func writeReport(w io.Writer, format string, r planner.Report) error {
	switch format {
	case "json":
		return writeJSON(w, r)
	case "yaml":
		out, err := r.YAML()
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}

	fmt.Fprintf(w, "%s %s\n", color.New(color.Bold).Sprint("Goal:"), r.Goal)
	fmt.Fprintf(w, "%s %s\n\n", color.New(color.Bold).Sprint("Plan:"), r.PlanID)
	for i, t := range r.Tasks {
		printTask(w, i+1, t)
	}
	fmt.Fprintln(w)

	status := color.GreenString("succeeded")
	if !r.Success {
		status = color.RedString("failed")
	}
	fmt.Fprintf(w, "Plan %s: %d completed, %d failed in %s\n", status, r.Completed, r.Failed, r.Duration.Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(w, "%s %s\n", color.RedString("Error:"), r.Error)
	}
	fmt.Fprintf(w, "\n%s\n%s\n", color.New(color.Bold).Sprint("Summary"), r.Summary)
	return nil
}

func writePlan(w io.Writer, format string, p core.Plan) error {
	switch format {
	case "json":
		return writeJSON(w, p)
	case "yaml":
		out, err := yaml.Marshal(p)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}

	fmt.Fprintf(w, "%s %s\n", color.New(color.Bold).Sprint("Goal:"), p.Goal)
	fmt.Fprintf(w, "%s %s (created %s)\n\n", color.New(color.Bold).Sprint("Plan:"), p.ID, p.CreatedAt.Format(time.RFC3339))
	for i, t := range p.Tasks {
		printTask(w, i+1, t)
		for _, ev := range t.History {
			line := fmt.Sprintf("      %s %s", ev.At.Format(time.RFC3339), ev.Status)
			if ev.Note != "" {
				line += ": " + oneLine(ev.Note)
			}
			fmt.Fprintln(w, color.New(color.Faint).Sprint(line))
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTask prints a status line with color.
func printTask(w io.Writer, n int, t core.PlanTask) {
	symbol, attr := "•", color.FgYellow
	switch t.Status {
	case core.PlanTaskCompleted:
		symbol, attr = "✓", color.FgGreen
	case core.PlanTaskFailed:
		symbol, attr = "✗", color.FgRed
	}
	fmt.Fprintf(w, "%s %d. %s\n", color.New(attr).Sprint(symbol), n, t.Description)
	if t.Result != "" {
		fmt.Fprintf(w, "     %s\n", oneLine(t.Result))
	}
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 160 {
		s = s[:157] + "..."
	}
	return s
}
