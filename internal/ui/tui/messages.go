// Package tui renders the live deployment pipeline in a terminal.
package tui

import "github.com/artpar/shipyard/internal/core/domain"

// EventMsg carries one progress event from the orchestrator.
type EventMsg struct {
	Event domain.ProgressEvent
}

// TickMsg is sent periodically to animate the spinner.
type TickMsg struct{}

// ErrMsg carries an error.
type ErrMsg struct{ Err error }

// DoneMsg signals that the run returned.
type DoneMsg struct {
	Result domain.DeploymentResult
}
