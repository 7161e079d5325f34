package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/user/circuitdiag/internal/model"
)

var (
	// Colors
	Primary   = lipgloss.Color("205")
	Secondary = lipgloss.Color("86")
	Subtle    = lipgloss.Color("241")
	Success   = lipgloss.Color("46")
	Warning   = lipgloss.Color("214")
	Error     = lipgloss.Color("196")

	// Header styles
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(Primary).
			Padding(0, 2).
			Align(lipgloss.Center)

	// Section styles
	SectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Subtle).
			Padding(1, 2).
			MarginBottom(1)

	SectionTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Primary).
				MarginBottom(1)

	// Label and value styles
	LabelStyle = lipgloss.NewStyle().
			Foreground(Subtle).
			Width(14)

	ValueStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	// Status styles
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	DimStyle = lipgloss.NewStyle().
			Foreground(Subtle).
			Italic(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(Subtle).
			MarginTop(1)

	LoadingStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Padding(2, 4)
)

// RenderStatus returns a styled status indicator.
func RenderStatus(ok bool, okText, failText string) string {
	if ok {
		return SuccessStyle.Render("✓ " + okText)
	}
	return ErrorStyle.Render("✗ " + failText)
}

// responsibilityStyle colours vendor faults red and customer faults green.
func responsibilityStyle(r model.Responsibility) lipgloss.Style {
	switch r {
	case model.ResponsibilityVendor:
		return ErrorStyle
	case model.ResponsibilityCustomer, model.ResponsibilityNotVendor:
		return SuccessStyle
	default:
		return WarningStyle
	}
}

// RenderResponsibility returns a styled responsibility.
func RenderResponsibility(r model.Responsibility) string {
	return responsibilityStyle(r).Render(string(r))
}

// RenderEvidence renders one evidence record on a single line.
func RenderEvidence(e model.EvidenceRecord) string {
	label := e.Stage
	if e.Device != "" {
		label = e.Device + " " + e.Stage
	}
	if e.Err != "" {
		return ErrorStyle.Render("✗ ") + label + DimStyle.Render(" "+e.Err)
	}
	return SuccessStyle.Render("✓ ") + label + " " + e.Outcome
}

// RenderBar renders a progress bar.
func RenderBar(value, max int, width int) string {
	if max == 0 {
		max = 1
	}

	filled := int(float64(value) / float64(max) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return lipgloss.NewStyle().Foreground(Secondary).Render(bar)
}
