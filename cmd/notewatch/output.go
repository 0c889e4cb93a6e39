package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/FranksOps/notewatch/internal/report"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#04B575"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFB000"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Width(22)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")).
			Padding(0, 1)
)

func line(label, value string) string {
	return labelStyle.Render(label) + value
}

func count(n int) string {
	s := fmt.Sprintf("%d", n)
	if n > 0 {
		return warnStyle.Render(s)
	}
	return okStyle.Render(s)
}

// renderOutcome formats a finished run for the terminal.
func renderOutcome(out *report.Outcome) string {
	lines := []string{
		titleStyle.Render("notewatch run complete"),
		"",
		line("Total rows", okStyle.Render(fmt.Sprintf("%d", out.TotalRows))),
		line("Errors", count(out.ErrorCount)),
		line("Failed keywords", count(out.FailedKeywordCount)),
		line("Detail error rows", count(out.DetailErrorRowCount)),
		"",
		line("Reports", out.ReportDir),
		line("Run stats", out.RunStatsFile),
		line("Errors file", out.ErrorsFile),
		line("Failed keywords file", out.FailedKeywordsFile),
		line("Detail error report", out.DetailErrorReport),
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func printOutcome(w io.Writer, out *report.Outcome) {
	fmt.Fprintln(w, renderOutcome(out))
}
