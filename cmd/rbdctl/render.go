package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-reliability/pkg/pdm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Width(14)

	modelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFF00"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)
)

func render(w io.Writer, format string, v any) error {
	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	var out string
	switch r := v.(type) {
	case modelReport:
		out = renderModel(r)
	case recalcReport:
		out = renderRecalc(r)
	case checkReport:
		out = renderCheck(r)
	case []pdm.NodeView:
		out = renderLayer(r)
	default:
		return fmt.Errorf("no text rendering for %T", v)
	}
	_, err := fmt.Fprintln(w, out)
	return err
}

func field(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func renderModel(r modelReport) string {
	lines := []string{
		titleStyle.Render(r.Rbd),
		field("model", modelStyle.Render(r.Model)),
		field("timespan", fmt.Sprintf("%gh", r.Timespan)),
		field("reliability", fmt.Sprintf("%.6f", r.Reliability)),
		field("rate", fmt.Sprintf("%.4e /h", r.EquivalentRate)),
	}
	if r.Open {
		lines = append(lines, errorStyle.Render("diagram has open parts"))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderRecalc(r recalcReport) string {
	head := []string{
		titleStyle.Render(r.Product),
		field("timespan", fmt.Sprintf("%gh", r.Timespan)),
		field("visited", strings.Join(r.Visited, " ")),
	}
	return lipgloss.JoinVertical(lipgloss.Left, boxStyle.Render(strings.Join(head, "\n")), renderLayer(r.Layer))
}

func renderLayer(views []pdm.NodeView) string {
	rows := make([]string, 0, len(views)+1)
	rows = append(rows, titleStyle.Render(fmt.Sprintf("%-16s %-16s %-12s %-12s %s", "SEMANTIC", "ROLE", "RATE", "RELIABILITY", "FLAGS")))
	for _, v := range views {
		var flags []string
		if v.Dirty {
			flags = append(flags, "dirty")
		}
		if v.Deleted {
			flags = append(flags, "deleted")
		}
		if v.Locked {
			flags = append(flags, "locked")
		}
		rows = append(rows, fmt.Sprintf("%-16s %-16s %-12.4e %-12.6f %s",
			v.Semantic, v.Role, v.Computed.FailureRate, v.Computed.Reliability, strings.Join(flags, ",")))
	}
	return strings.Join(rows, "\n")
}

func renderCheck(r checkReport) string {
	if r.Valid {
		return successStyle.Render(r.Project + ": valid")
	}
	lines := []string{errorStyle.Render(fmt.Sprintf("%s: %d violation(s)", r.Project, len(r.Violations)))}
	for _, v := range r.Violations {
		lines = append(lines, fmt.Sprintf("  %-10s %-22s %s", v.Severity, v.Constraint, v.Message))
	}
	return strings.Join(lines, "\n")
}
