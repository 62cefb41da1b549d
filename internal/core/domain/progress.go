package domain

import "time"

// =============================================================================
// Progress Events
// =============================================================================

// EventStatus is the outcome carried by a progress event.
type EventStatus string

const (
	EventRunning   EventStatus = "running"
	EventSucceeded EventStatus = "succeeded"
	EventWarning   EventStatus = "warning"
	EventFailed    EventStatus = "failed"
)

// Icons shown next to a step.
const (
	IconRunning   = "⏳"
	IconSucceeded = "✅"
	IconWarning   = "⚠️"
	IconFailed    = "❌"
	IconComplete  = "🚀"
)

// ProgressEvent is emitted before and after every pipeline stage.
// The last event of every run has Step == StageComplete and a Result.
type ProgressEvent struct {
	DeploymentID string            `json:"deploymentId,omitempty"`
	Step         Stage             `json:"step"`
	Status       string            `json:"status"`
	State        EventStatus       `json:"state"`
	Icon         string            `json:"icon"`
	Progress     int               `json:"progress"`
	Result       *DeploymentResult `json:"result,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Terminal reports whether this is the final event of a run.
func (e ProgressEvent) Terminal() bool {
	return e.Step == StageComplete
}

// IconFor returns the icon for an event status.
func IconFor(s EventStatus) string {
	switch s {
	case EventSucceeded:
		return IconSucceeded
	case EventWarning:
		return IconWarning
	case EventFailed:
		return IconFailed
	default:
		return IconRunning
	}
}
