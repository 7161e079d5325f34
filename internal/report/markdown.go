package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/probes"
	"github.com/user/circuitdiag/internal/util"
)

const stamp = "2006-01-02 15:04:05"

// FormatMarkdown renders a service report as markdown.
func FormatMarkdown(data *ReportData) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Service Report: %s\n\n", data.ServiceID)
	fmt.Fprintf(&sb, "Generated %s for %s to %s\n\n",
		data.GeneratedAt.Format(stamp), data.Since.Format(stamp), data.Until.Format(stamp))

	sb.WriteString("## Summary\n\n")
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Diagnoses", len(data.Diagnoses)},
		{"Vendor", data.VendorCount},
		{"Customer", data.CustomerCount},
		{"Unknown", data.UnknownCount},
		{"Interruptions", data.Availability.Interruptions},
		{"Unavailable", data.Availability.TotalUnavailable.Round(time.Second)},
		{"Uptime", fmt.Sprintf("%.2f%%", data.UptimePercent)},
		{"Loss events", len(data.LossEvents)},
	})
	sb.WriteString(t.RenderMarkdown())
	sb.WriteString("\n\n")

	if data.Latest != nil {
		sb.WriteString("## Latest Diagnosis\n\n")
		sb.WriteString(diagnosisMarkdown(data.Latest))
		if chain := GenerateServiceChain(data.ServiceID, data.Latest.Evidence); chain != "" {
			sb.WriteString("\n### Devices\n\n")
			sb.WriteString(chain)
		}
		for _, p := range data.Latest.Probes {
			if diagram := GenerateMermaidDiagram(p); diagram != "" {
				fmt.Fprintf(&sb, "\n### Path to %s\n\n", p.Destination)
				sb.WriteString(diagram)
			}
		}
		sb.WriteString("\n")
	}

	if len(data.Availability.Intervals) > 0 {
		sb.WriteString("## Outages\n\n")
		t := table.NewWriter()
		t.AppendHeader(table.Row{"Start", "End", "Duration"})
		for _, iv := range data.Availability.Intervals {
			end, dur := "ongoing", data.Until.Sub(iv.Start)
			if iv.End != nil {
				end, dur = iv.End.Format(stamp), iv.End.Sub(iv.Start)
			}
			t.AppendRow(table.Row{iv.Start.Format(stamp), end, dur.Round(time.Second)})
		}
		sb.WriteString(t.RenderMarkdown())
		sb.WriteString("\n\n")
	}

	if len(data.VerdictChanges) > 0 {
		sb.WriteString("## Verdict Changes\n\n")
		t := table.NewWriter()
		t.AppendHeader(table.Row{"Time", "From", "To", "Reason"})
		for _, c := range data.VerdictChanges {
			t.AppendRow(table.Row{c.Timestamp.Format(stamp), c.From, c.To, c.Reason})
		}
		sb.WriteString(t.RenderMarkdown())
		sb.WriteString("\n\n")
	}

	if len(data.PathChanges) > 0 {
		sb.WriteString("## Path Changes\n\n")
		for _, c := range data.PathChanges {
			fmt.Fprintf(&sb, "### %s at %s\n\n", c.Destination, c.Timestamp.Format(stamp))
			if len(c.Added) > 0 {
				fmt.Fprintf(&sb, "- Added: %s\n", strings.Join(c.Added, ", "))
			}
			if len(c.Removed) > 0 {
				fmt.Fprintf(&sb, "- Removed: %s\n", strings.Join(c.Removed, ", "))
			}
			sb.WriteString("\n")
			sb.WriteString(GeneratePathComparison(c))
			sb.WriteString("\n")
		}
	}

	if len(data.Diagnoses) > 0 {
		sb.WriteString("## History\n\n")
		t := table.NewWriter()
		t.AppendHeader(table.Row{"ID", "Time", "Status", "Responsibility", "Issue", "Reason"})
		for _, d := range data.Diagnoses {
			t.AppendRow(table.Row{d.ID, d.EvaluatedAt.Format(stamp), d.Status, d.Responsibility, d.IssueType, d.Reason})
		}
		sb.WriteString(t.RenderMarkdown())
		sb.WriteString("\n")
	}

	return sb.String()
}

// WriteMarkdownFile writes the report to a timestamped file in dir and
// returns its path.
func WriteMarkdownFile(data *ReportData, dir string) (string, error) {
	if err := util.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}
	name := fmt.Sprintf("circuitdiag-%s-%s.md", safeName(data.ServiceID), data.GeneratedAt.Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(FormatMarkdown(data)), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// FormatDiagnosis renders one diagnosis as markdown.
func FormatDiagnosis(d *model.Diagnosis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Diagnosis: %s\n\n", d.ServiceID)
	sb.WriteString(diagnosisMarkdown(d))
	return sb.String()
}

func diagnosisMarkdown(d *model.Diagnosis) string {
	var sb strings.Builder

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows(verdictRows(d))
	sb.WriteString(t.RenderMarkdown())
	sb.WriteString("\n\n")

	if len(d.Evidence) > 0 {
		sb.WriteString("### Evidence\n\n")
		t := table.NewWriter()
		t.AppendHeader(table.Row{"#", "Device", "Stage", "Outcome"})
		for i, e := range d.Evidence {
			t.AppendRow(table.Row{i + 1, e.Device, e.Stage, evidenceOutcome(e)})
		}
		sb.WriteString(t.RenderMarkdown())
		sb.WriteString("\n\n")
	}

	if len(d.Probes) > 0 {
		sb.WriteString("### Probes\n\n")
		for _, p := range d.Probes {
			fmt.Fprintf(&sb, "- %s\n", probes.Summary(p))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatText renders a diagnosis for a terminal.
func FormatText(d *model.Diagnosis) string {
	var sb strings.Builder

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle("Service " + d.ServiceID)
	t.AppendRows(verdictRows(d))
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, WidthMax: 80},
	})
	sb.WriteString(t.Render())
	sb.WriteString("\n")

	if len(d.Evidence) > 0 {
		t := table.NewWriter()
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"#", "Device", "Stage", "Outcome"})
		for i, e := range d.Evidence {
			t.AppendRow(table.Row{i + 1, e.Device, e.Stage, evidenceOutcome(e)})
		}
		t.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, Align: text.AlignRight},
			{Number: 4, WidthMax: 70},
		})
		sb.WriteString(t.Render())
		sb.WriteString("\n")
	}

	for _, p := range d.Probes {
		fmt.Fprintf(&sb, "probe %s\n", probes.Summary(p))
	}
	return sb.String()
}

func verdictRows(d *model.Diagnosis) []table.Row {
	rows := []table.Row{
		{"Status", d.Status},
		{"Responsibility", d.Responsibility},
		{"Issue", d.IssueType},
		{"Reason", d.Reason},
		{"Message", d.Message},
		{"Lookback", fmt.Sprintf("%dh", d.LookbackHours)},
		{"Interruptions", d.Availability.Interruptions},
		{"Unavailable", d.Availability.TotalUnavailable.Round(time.Second)},
	}
	if d.MaxLossPercent > 0 {
		rows = append(rows, table.Row{"Max loss", fmt.Sprintf("%g%%", d.MaxLossPercent)})
	}
	if !d.EvaluatedAt.IsZero() {
		rows = append(rows, table.Row{"Evaluated", d.EvaluatedAt.UTC().Format(stamp) + " UTC"})
	}
	return rows
}

func evidenceOutcome(e model.EvidenceRecord) string {
	if e.Err != "" {
		return "error: " + e.Err
	}
	return e.Outcome
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, s)
}
