package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/progress"
)

// ErrAborted is returned when the view is closed before the run finished.
var ErrAborted = errors.New("deployment cancelled from the terminal")

// RunFunc executes one deployment, reporting progress to r.
type RunFunc func(ctx context.Context, r progress.Reporter) domain.DeploymentResult

// Run drives fn under a Bubble Tea program and returns its result. Closing
// the view cancels ctx for fn and waits for it to return.
func Run(ctx context.Context, project string, appType domain.AppType, fn RunFunc, opts ...tea.ProgramOption) (domain.DeploymentResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(project, appType), opts...)

	done := make(chan domain.DeploymentResult, 1)
	go func() {
		result := fn(ctx, progress.Func(func(event domain.ProgressEvent) {
			p.Send(EventMsg{Event: event})
		}))
		done <- result
		p.Send(DoneMsg{Result: result})
	}()

	final, err := p.Run()
	if err != nil {
		cancel()
		<-done
		return domain.DeploymentResult{}, fmt.Errorf("TUI error: %w", err)
	}

	fm := final.(Model)
	if !fm.Done {
		cancel()
		return <-done, ErrAborted
	}
	return <-done, nil
}

// IsInteractive reports whether f is a terminal.
func IsInteractive(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// =============================================================================
// Plain Output
// =============================================================================

// LineReporter writes one line per progress event, for pipes and CI logs.
func LineReporter(w io.Writer) progress.Reporter {
	var mu sync.Mutex
	return progress.Func(func(event domain.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "%s [%3d%%] %-12s %s\n", event.Icon, event.Progress, event.Step, event.Status)
	})
}

// WriteSummary prints the result of a run without styling.
func WriteSummary(w io.Writer, result domain.DeploymentResult) {
	if result.Success {
		fmt.Fprintln(w, "Deployment succeeded")
	} else {
		fmt.Fprintln(w, "Deployment failed")
	}

	urls := []struct{ label, url string }{
		{"Frontend", result.URLs.Frontend},
		{"Backend", result.URLs.Backend},
		{"Admin", result.URLs.Admin},
		{"Companion", result.URLs.CompanionURL},
	}
	for _, u := range urls {
		if u.url != "" {
			fmt.Fprintf(w, "  %-10s %s\n", u.label, u.url)
		}
	}
	if c := result.Credentials; c != nil {
		fmt.Fprintf(w, "  %-10s %s\n", "Email", c.Email)
		if c.Password != "" {
			fmt.Fprintf(w, "  %-10s %s\n", "Password", c.Password)
		}
	}
	if result.ComputeProjectID != "" {
		fmt.Fprintf(w, "  %-10s %s\n", "Project", result.ComputeProjectID)
	}
	for _, e := range result.Errors {
		level := "warning"
		if e.Fatal {
			level = "error"
		}
		fmt.Fprintf(w, "  %s: %s\n", level, e.Error())
	}
}
