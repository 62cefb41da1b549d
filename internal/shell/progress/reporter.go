// Package progress delivers pipeline progress events to observers.
//
// Reporting is fire-and-forget: a slow or failed observer never blocks or
// fails a deployment.
package progress

import (
	"log/slog"
	"sync"

	"github.com/artpar/shipyard/internal/core/domain"
)

// Reporter receives progress events. Implementations must not block.
type Reporter interface {
	Report(event domain.ProgressEvent)
}

// Func adapts a function to Reporter.
type Func func(event domain.ProgressEvent)

// Report calls f.
func (f Func) Report(event domain.ProgressEvent) {
	f(event)
}

// Nop discards every event.
var Nop Reporter = Func(func(domain.ProgressEvent) {})

// Multi fans an event out to several reporters in order.
func Multi(reporters ...Reporter) Reporter {
	return Func(func(event domain.ProgressEvent) {
		for _, r := range reporters {
			if r != nil {
				r.Report(event)
			}
		}
	})
}

// Safe wraps r so that a panicking observer cannot take the pipeline down.
func Safe(r Reporter, logger *slog.Logger) Reporter {
	return Func(func(event domain.ProgressEvent) {
		defer func() {
			if p := recover(); p != nil {
				logger.Warn("progress reporter panicked", "step", event.Step, "panic", p)
			}
		}()
		r.Report(event)
	})
}

// Log writes every event to logger.
func Log(logger *slog.Logger) Reporter {
	return Func(func(event domain.ProgressEvent) {
		attrs := []any{
			"deployment_id", event.DeploymentID,
			"step", event.Step,
			"state", event.State,
			"progress", event.Progress,
		}
		switch event.State {
		case domain.EventFailed:
			logger.Error(event.Status, attrs...)
		case domain.EventWarning:
			logger.Warn(event.Status, attrs...)
		default:
			logger.Info(event.Status, attrs...)
		}
	})
}

// Recorder keeps every event in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

// Report appends the event.
func (r *Recorder) Report(event domain.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []domain.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ProgressEvent(nil), r.events...)
}

// Last returns the most recent event.
func (r *Recorder) Last() (domain.ProgressEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return domain.ProgressEvent{}, false
	}
	return r.events[len(r.events)-1], true
}
