package probe

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type theme struct {
	header  lipgloss.Style
	service lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	skipped lipgloss.Style
	detail  lipgloss.Style
	summary lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("88")),
		service: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")),
		success: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true),
		failure: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		skipped: lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")),
		detail: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		summary: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("130")).
			Padding(0, 1),
	}
}

// Render formats the report for a terminal.
func (r Report) Render() string {
	th := defaultTheme()

	var b strings.Builder
	b.WriteString(th.header.Render("Webhook probe " + r.StartedAt.Format("2006-01-02 15:04:05 MST")))
	b.WriteString("\n\n")

	previous := ""
	for _, check := range r.Checks {
		if check.ServiceID != previous {
			if previous != "" {
				b.WriteString("\n")
			}
			b.WriteString(th.service.Render(check.ServiceID))
			b.WriteString("\n")
			previous = check.ServiceID
		}

		symbol, style := "✗", th.failure
		switch check.Outcome {
		case OutcomeSuccess:
			symbol, style = "✓", th.success
		case OutcomeSkipped:
			symbol, style = "⊘", th.skipped
		}

		line := fmt.Sprintf("  %s %s webhook: %s", symbol, check.Webhook, check.Outcome)
		b.WriteString(style.Render(line))
		if check.Detail != "" {
			b.WriteString(" " + th.detail.Render("("+check.Detail+")"))
		}
		b.WriteString("\n")
	}

	counts := r.Counts()
	summary := strings.Join([]string{
		fmt.Sprintf("Total webhooks tested: %d", len(r.Checks)),
		fmt.Sprintf("✓ Success: %d", counts[OutcomeSuccess]),
		fmt.Sprintf("✗ Failed: %d", counts[OutcomeFailed]),
		fmt.Sprintf("✗ Error: %d", counts[OutcomeError]),
		fmt.Sprintf("⊘ Skipped: %d", counts[OutcomeSkipped]),
	}, "\n")
	b.WriteString("\n")
	b.WriteString(th.summary.Render(summary))
	b.WriteString("\n")

	return b.String()
}
