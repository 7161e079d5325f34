package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/circuitdiag/internal/model"
)

// DashboardData holds data for the dashboard view.
type DashboardData struct {
	DaemonRunning bool
	DaemonPID     int
	Watched       []string
	LastCheck     time.Time
	// Services holds the latest diagnosis of every diagnosed service.
	Services []model.Diagnosis
}

// Dashboard is the main dashboard view.
type Dashboard struct {
	data   *DashboardData
	width  int
	height int
}

// NewDashboard creates a new dashboard.
func NewDashboard(msg dataMsg, width, height int) *Dashboard {
	return &Dashboard{
		data:   msg.Data,
		width:  width,
		height: height,
	}
}

// SetSize updates the dashboard size.
func (d *Dashboard) SetSize(width, height int) {
	d.width = width
	d.height = height
}

// View renders the dashboard with the live diagnosis of serviceID, if any.
func (d *Dashboard) View(serviceID string, run *diagnosisRun, spin string) string {
	var sb strings.Builder

	sb.WriteString(HeaderStyle.Width(d.width).Render("circuitdiag"))
	sb.WriteString("\n\n")

	if serviceID != "" {
		sb.WriteString(d.renderDiagnosisSection(serviceID, run, spin))
		sb.WriteString("\n")
	}

	sb.WriteString(d.renderDaemonSection())
	sb.WriteString("\n")

	sb.WriteString(d.renderServicesSection())
	sb.WriteString("\n")

	help := "Press 'r' to refresh • 'q' to quit"
	if serviceID != "" {
		help = "Press 'd' to diagnose again • " + help
	}
	sb.WriteString(HelpStyle.Render(help))

	return sb.String()
}

func (d *Dashboard) sectionWidth() int {
	w := d.width - 4
	if w < 40 {
		w = 40
	}
	return w
}

func (d *Dashboard) renderDiagnosisSection(serviceID string, run *diagnosisRun, spin string) string {
	title := SectionTitleStyle.Render("Diagnosis " + serviceID)

	if run == nil {
		return SectionStyle.Width(d.sectionWidth()).Render(title + "\n" + DimStyle.Render("Not started"))
	}

	var rows []string
	bar := RenderBar(run.percent, 100, 30) + fmt.Sprintf(" %3d%%", run.percent)
	if run.active() {
		bar = spin + " " + bar
	}
	rows = append(rows, bar)

	steps := run.steps
	if len(steps) > 5 {
		steps = steps[len(steps)-5:]
	}
	for _, s := range steps {
		rows = append(rows, DimStyle.Render("  "+s))
	}

	switch {
	case run.err != nil:
		rows = append(rows, ErrorStyle.Render("Error: "+run.err.Error()))
	case run.result != nil:
		r := run.result
		rows = append(rows,
			"",
			fmt.Sprintf("%s %s", LabelStyle.Render("Status:"), ValueStyle.Render(string(r.Status))),
			fmt.Sprintf("%s %s", LabelStyle.Render("Responsible:"), RenderResponsibility(r.Responsibility)),
			fmt.Sprintf("%s %s", LabelStyle.Render("Issue:"), ValueStyle.Render(string(r.IssueType))),
			fmt.Sprintf("%s %s", LabelStyle.Render("Reason:"), r.Reason),
		)
		for _, e := range r.Evidence {
			rows = append(rows, "  "+RenderEvidence(e))
		}
	}

	return SectionStyle.Width(d.sectionWidth()).Render(title + "\n" + strings.Join(rows, "\n"))
}

func (d *Dashboard) renderDaemonSection() string {
	lastCheck := "-"
	if !d.data.LastCheck.IsZero() {
		lastCheck = d.data.LastCheck.Format("15:04:05")
	}
	daemon := RenderStatus(d.data.DaemonRunning, fmt.Sprintf("running (PID %d)", d.data.DaemonPID), "stopped")

	content := fmt.Sprintf(
		"%s %s\n%s %s\n%s %s",
		LabelStyle.Render("Watch daemon:"),
		daemon,
		LabelStyle.Render("Watching:"),
		ValueStyle.Render(fmt.Sprintf("%d services", len(d.data.Watched))),
		LabelStyle.Render("Last Check:"),
		ValueStyle.Render(lastCheck),
	)

	return SectionStyle.Width(d.sectionWidth()).Render(
		SectionTitleStyle.Render("Watch") + "\n" + content)
}

func (d *Dashboard) renderServicesSection() string {
	title := SectionTitleStyle.Render("Latest Verdicts")

	if len(d.data.Services) == 0 {
		return SectionStyle.Width(d.sectionWidth()).Render(title + "\n" + DimStyle.Render("No diagnoses yet"))
	}

	var rows []string
	rows = append(rows, fmt.Sprintf("%-16s %-8s %-10s %-20s %s", "Service", "Status", "Resp.", "Reason", "When"))
	rows = append(rows, strings.Repeat("─", 70))

	maxRows := 15
	if len(d.data.Services) < maxRows {
		maxRows = len(d.data.Services)
	}

	for i := 0; i < maxRows; i++ {
		s := d.data.Services[i]
		id := s.ServiceID
		if len(id) > 16 {
			id = id[:13] + "..."
		}
		resp := responsibilityStyle(s.Responsibility).Render(fmt.Sprintf("%-10s", s.Responsibility))
		rows = append(rows, fmt.Sprintf("%-16s %-8s %s %-20s %s",
			id, s.Status, resp, s.Reason, s.EvaluatedAt.Format("01-02 15:04")))
	}

	if len(d.data.Services) > maxRows {
		rows = append(rows, DimStyle.Render(fmt.Sprintf("... and %d more", len(d.data.Services)-maxRows)))
	}

	return SectionStyle.Width(d.sectionWidth()).Render(title + "\n" + strings.Join(rows, "\n"))
}
