package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
)

func renderView(m Model) string {
	var b strings.Builder

	renderHeader(&b, m)
	renderProgressBar(&b, m)
	renderSteps(&b, m)
	if m.Result != nil {
		renderResult(&b, *m.Result)
	}
	renderFooter(&b, m)

	return b.String()
}

func renderHeader(b *strings.Builder, m Model) {
	title := fmt.Sprintf("shipyard: %s", m.Project)
	if m.AppType != "" {
		title += fmt.Sprintf(" (%s)", m.AppType)
	}
	b.WriteString(titleStyle.Render(title))

	status := " "
	switch {
	case m.Err != nil:
		status += failedStyle.Render(fmt.Sprintf("Error: %v", m.Err))
	case m.Result != nil && m.Result.Success && len(m.Result.Warnings()) > 0:
		status += warningStyle.Render("Deployed with warnings")
	case m.Result != nil && m.Result.Success:
		status += readyStyle.Render("Deployed")
	case m.Result != nil:
		status += failedStyle.Render("Failed")
	default:
		status += activeStyle.Render(currentSpinner(m.SpinnerFrame)) + dimStyle.Render(" Deploying...")
	}
	b.WriteString(status)
	b.WriteString("\n\n")
}

func renderProgressBar(b *strings.Builder, m Model) {
	barWidth := 40
	if m.Width > 0 && m.Width < 80 {
		barWidth = m.Width - 30
		if barWidth < 10 {
			barWidth = 10
		}
	}
	b.WriteString("  ")
	b.WriteString(progressBar(m.Progress, barWidth))
	fmt.Fprintf(b, " %3d%%  %s\n", m.Progress, dimStyle.Render(formatDuration(time.Since(m.StartTime))))
}

func progressBar(pct, width int) string {
	filled := pct * width / 100
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return progressBarFull.Render(strings.Repeat("█", filled)) + progressBarEmpty.Render(strings.Repeat("░", width-filled))
}

func renderSteps(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Pipeline"))
	b.WriteString("\n")

	for _, step := range m.Steps {
		var icon, name string
		switch step.State {
		case domain.EventRunning:
			icon = activeStyle.Render(currentSpinner(m.SpinnerFrame))
			name = activeStyle.Render(step.Name)
		case domain.EventSucceeded:
			icon = readyStyle.Render(domain.IconSucceeded)
			name = step.Name
		case domain.EventWarning:
			icon = warningStyle.Render(domain.IconWarning)
			name = warningStyle.Render(step.Name)
		case domain.EventFailed:
			icon = failedStyle.Render(domain.IconFailed)
			name = failedStyle.Render(step.Name)
		default:
			icon = dimStyle.Render("·")
			name = dimStyle.Render(step.Name)
		}

		detail := step.Status
		if !step.Ended.IsZero() && !step.Started.IsZero() {
			detail += " " + dimStyle.Render("("+formatDuration(step.Ended.Sub(step.Started))+")")
		}
		fmt.Fprintf(b, "  %s %-18s %s\n", icon, name, detail)
	}
}

func renderResult(b *strings.Builder, result domain.DeploymentResult) {
	b.WriteString(sectionStyle.Render("  Result"))
	b.WriteString("\n")

	urls := []struct{ label, url string }{
		{"Frontend", result.URLs.Frontend},
		{"Backend", result.URLs.Backend},
		{"Admin", result.URLs.Admin},
		{"Companion", result.URLs.CompanionURL},
	}
	for _, u := range urls {
		if u.url != "" {
			fmt.Fprintf(b, "  %-10s %s\n", u.label, readyStyle.Render(u.url))
		}
	}
	if c := result.Credentials; c != nil {
		fmt.Fprintf(b, "  %-10s %s\n", "Email", c.Email)
		if c.Password != "" {
			fmt.Fprintf(b, "  %-10s %s\n", "Password", c.Password)
		}
	}

	for _, e := range result.Errors {
		style := warningStyle
		if e.Fatal {
			style = failedStyle
		}
		fmt.Fprintf(b, "  %s\n", style.Render(e.Error()))
	}
}

func renderFooter(b *strings.Builder, m Model) {
	if m.Done || m.Err != nil {
		b.WriteString("\n")
		return
	}
	b.WriteString(footerStyle.Render("  q: cancel the deployment"))
	b.WriteString("\n")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
