package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
)

// DefaultSubscriberBuffer comfortably holds every event of one run.
const DefaultSubscriberBuffer = 64

// Broker keeps a replay log per deployment and fans events out to live
// subscribers. Publishing never blocks: a subscriber whose buffer is full
// is dropped and its channel closed.
type Broker struct {
	mu        sync.Mutex
	streams   map[string]*stream
	buffer    int
	retention time.Duration
	logger    *slog.Logger
}

type stream struct {
	events []domain.ProgressEvent
	subs   map[chan domain.ProgressEvent]struct{}
	done   bool
}

// BrokerConfig configures a Broker.
type BrokerConfig struct {
	// SubscriberBuffer is the channel capacity of each subscriber.
	SubscriberBuffer int
	// Retention is how long a finished stream stays available for replay.
	Retention time.Duration
}

// NewBroker creates a broker.
func NewBroker(cfg BrokerConfig, logger *slog.Logger) *Broker {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 15 * time.Minute
	}
	return &Broker{
		streams:   make(map[string]*stream),
		buffer:    cfg.SubscriberBuffer,
		retention: cfg.Retention,
		logger:    logger.With("component", "progress_broker"),
	}
}

// Reporter returns a Reporter that publishes to deploymentID's stream.
func (b *Broker) Reporter(deploymentID string) Reporter {
	return Func(func(event domain.ProgressEvent) {
		b.Publish(deploymentID, event)
	})
}

// Publish appends event to the replay log and delivers it to subscribers.
// A terminal event closes every subscriber after delivery.
func (b *Broker) Publish(deploymentID string, event domain.ProgressEvent) {
	if event.DeploymentID == "" {
		event.DeploymentID = deploymentID
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.streamLocked(deploymentID)
	if s.done {
		return
	}
	s.events = append(s.events, event)

	for ch := range s.subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping slow progress subscriber", "deployment_id", deploymentID)
			delete(s.subs, ch)
			close(ch)
		}
	}

	if event.Terminal() {
		s.done = true
		for ch := range s.subs {
			delete(s.subs, ch)
			close(ch)
		}
		time.AfterFunc(b.retention, func() { b.forget(deploymentID) })
	}
}

// Subscribe returns every event published so far for deploymentID followed
// by live events. The channel is closed after the terminal event, when ctx
// is done, or when the subscriber falls too far behind.
func (b *Broker) Subscribe(ctx context.Context, deploymentID string) <-chan domain.ProgressEvent {
	b.mu.Lock()
	s := b.streamLocked(deploymentID)

	size := b.buffer
	if len(s.events) > size {
		size = len(s.events)
	}
	ch := make(chan domain.ProgressEvent, size)
	for _, e := range s.events {
		ch <- e
	}
	if s.done {
		close(ch)
		b.mu.Unlock()
		return ch
	}
	s.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(deploymentID, ch)
	}()
	return ch
}

// Events returns the replay log for deploymentID.
func (b *Broker) Events(deploymentID string) []domain.ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[deploymentID]
	if !ok {
		return nil
	}
	return append([]domain.ProgressEvent(nil), s.events...)
}

// Known reports whether a stream exists for deploymentID.
func (b *Broker) Known(deploymentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.streams[deploymentID]
	return ok
}

func (b *Broker) streamLocked(deploymentID string) *stream {
	s, ok := b.streams[deploymentID]
	if !ok {
		s = &stream{subs: make(map[chan domain.ProgressEvent]struct{})}
		b.streams[deploymentID] = s
	}
	return s
}

func (b *Broker) unsubscribe(deploymentID string, ch chan domain.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[deploymentID]
	if !ok {
		return
	}
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
	if len(s.events) == 0 && len(s.subs) == 0 {
		delete(b.streams, deploymentID)
	}
}

func (b *Broker) forget(deploymentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[deploymentID]; ok && s.done {
		delete(b.streams, deploymentID)
	}
}
