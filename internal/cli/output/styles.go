package output

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/leapstack-labs/tabularlint/pkg/core"
)

// Styles holds the lipgloss styles used by commands.
type Styles struct {
	Header1   lipgloss.Style
	Header2   lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Info      lipgloss.Style
	ModelPath lipgloss.Style
}

// DefaultStyles returns the coloured terminal styles.
func DefaultStyles() *Styles {
	return &Styles{
		Header1:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Underline(true),
		Header2:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		Bold:      lipgloss.NewStyle().Bold(true),
		Muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Error:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Warning:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Info:      lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		ModelPath: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13")),
	}
}

// PlainStyles returns styles that leave text unchanged.
func PlainStyles() *Styles {
	plain := lipgloss.NewStyle()
	return &Styles{
		Header1:   plain,
		Header2:   plain,
		Bold:      plain,
		Muted:     plain,
		Success:   plain,
		Error:     plain,
		Warning:   plain,
		Info:      plain,
		ModelPath: plain,
	}
}

// Severity returns the style for a severity level.
func (s *Styles) Severity(sev core.Severity) lipgloss.Style {
	switch sev {
	case core.SeverityError:
		return s.Error
	case core.SeverityWarning:
		return s.Warning
	case core.SeverityInfo:
		return s.Info
	default:
		return s.Muted
	}
}

// SeverityLabel renders a severity padded to a fixed width.
func (s *Styles) SeverityLabel(sev core.Severity) string {
	return s.Severity(sev).Render(fmt.Sprintf("%-7s", sev.String()))
}
