// Package workers contains the background workers of the deployment server.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/shipyard/internal/core/crypto"
	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/progress"
	"github.com/artpar/shipyard/internal/shell/store"
)

// ErrDeploymentActive is returned when a project already has a pending or
// running deployment.
var ErrDeploymentActive = errors.New("a deployment for this project is already in progress")

// Deployer runs one deployment to completion.
type Deployer interface {
	Deploy(ctx context.Context, deploymentID string, req domain.DeploymentRequest, reporter progress.Reporter) domain.DeploymentResult
}

// RunnerConfig configures the deployment runner.
type RunnerConfig struct {
	Interval      time.Duration
	MaxConcurrent int
	// RunTimeout bounds a single deployment.
	RunTimeout time.Duration
	// EncryptionKey seals admin passwords at rest. Without a key passwords
	// are not stored.
	EncryptionKey []byte
}

// DefaultRunnerConfig returns default configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Interval:      5 * time.Second,
		MaxConcurrent: 2,
		RunTimeout:    30 * time.Minute,
	}
}

// Runner accepts deployment requests, persists them and executes pending
// runs in the background.
type Runner struct {
	store    store.Store
	deployer Deployer
	broker   *progress.Broker
	config   RunnerConfig
	logger   *slog.Logger

	submitMu sync.Mutex
	wake     chan struct{}

	mu       sync.Mutex
	inflight map[string]struct{}
	sem      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a new runner.
func NewRunner(s store.Store, deployer Deployer, broker *progress.Broker, config RunnerConfig, logger *slog.Logger) *Runner {
	defaults := DefaultRunnerConfig()
	if config.Interval == 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.RunTimeout == 0 {
		config.RunTimeout = defaults.RunTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		store:    s,
		deployer: deployer,
		broker:   broker,
		config:   config,
		logger:   logger.With("component", "runner"),
		wake:     make(chan struct{}, 1),
		inflight: make(map[string]struct{}),
		sem:      make(chan struct{}, config.MaxConcurrent),
	}
}

// Submit validates and persists a request as a pending deployment.
func (r *Runner) Submit(ctx context.Context, req domain.DeploymentRequest) (*domain.Deployment, error) {
	d, err := domain.NewDeployment(req)
	if err != nil {
		return nil, err
	}

	// Serialize the active check with the insert.
	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	active, err := r.store.GetActiveDeploymentBySlug(ctx, d.Slug)
	switch {
	case err == nil:
		return active, fmt.Errorf("%w: %s", ErrDeploymentActive, active.ID)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	if err := r.store.CreateDeployment(ctx, d); err != nil {
		return nil, err
	}
	r.logger.Info("deployment submitted", "deployment_id", d.ID, "project", d.Slug, "app_type", d.Request.AppType)

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return d, nil
}

// Start begins the runner background goroutine.
func (r *Runner) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(1)
	go r.run()
	r.logger.Info("runner started", "interval", r.config.Interval, "max_concurrent", r.config.MaxConcurrent)
}

// Stop cancels in-flight deployments and waits for them to record a result.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("runner stopped")
}

func (r *Runner) run() {
	defer r.wg.Done()

	r.recoverInterrupted()
	r.runCycle()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.runCycle()
		case <-r.wake:
			r.runCycle()
		}
	}
}

// recoverInterrupted fails runs left running by a previous process. Their
// platform calls may have been cut off halfway; a new submission
// reconciles whatever exists.
func (r *Runner) recoverInterrupted() {
	ctx, cancel := context.WithTimeout(r.ctx, time.Minute)
	defer cancel()

	running, err := r.store.ListDeploymentsByStatus(ctx, domain.StatusRunning, store.DefaultListOptions())
	if err != nil {
		r.logger.Error("failed to list interrupted deployments", "error", err)
		return
	}
	for i := range running {
		d := &running[i]
		if err := d.Fail("interrupted by restart"); err != nil {
			continue
		}
		if err := r.store.UpdateDeployment(ctx, d); err != nil {
			r.logger.Error("failed to mark deployment interrupted", "deployment_id", d.ID, "error", err)
			continue
		}
		r.logger.Warn("deployment interrupted by restart", "deployment_id", d.ID)
	}
}

func (r *Runner) runCycle() {
	ctx, cancel := context.WithTimeout(r.ctx, 30*time.Second)
	defer cancel()

	pending, err := r.store.ListDeploymentsByStatus(ctx, domain.StatusPending, store.ListOptions{Limit: 100})
	if err != nil {
		r.logger.Error("failed to list pending deployments", "error", err)
		return
	}

	for i := range pending {
		d := pending[i]
		if !r.claim(d.ID) {
			continue
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.release(d.ID)

			select {
			case <-r.ctx.Done():
				return
			case r.sem <- struct{}{}:
				defer func() { <-r.sem }()
			}
			r.execute(&d)
		}()
	}
}

func (r *Runner) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.inflight[id]; ok {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}

func (r *Runner) execute(d *domain.Deployment) {
	logger := r.logger.With("deployment_id", d.ID, "project", d.Slug)

	// Status writes use a context that survives shutdown so the final
	// state is always recorded.
	persistCtx := context.WithoutCancel(r.ctx)

	if err := d.Transition(domain.StatusRunning); err != nil {
		logger.Warn("deployment not runnable", "status", d.Status, "error", err)
		return
	}
	if err := r.store.UpdateDeployment(persistCtx, d); err != nil {
		logger.Error("failed to mark deployment running", "error", err)
		return
	}

	runCtx, cancel := context.WithTimeout(r.ctx, r.config.RunTimeout)
	defer cancel()

	reporter := redacting(progress.Multi(r.brokerReporter(d.ID), r.historyReporter(persistCtx, d.ID, logger)))
	result := r.deployer.Deploy(runCtx, d.ID, d.Request, reporter)

	if result.Credentials != nil && result.Credentials.Password != "" && len(r.config.EncryptionKey) > 0 {
		sealed, err := crypto.Encrypt([]byte(result.Credentials.Password), r.config.EncryptionKey)
		if err != nil {
			logger.Error("failed to encrypt admin password", "error", err)
		} else {
			d.AdminPasswordEncrypted = sealed
		}
	}

	d.Domains = result.Domains
	if err := d.Complete(result.Redacted()); err != nil {
		logger.Error("failed to complete deployment", "error", err)
		return
	}
	if err := r.store.UpdateDeployment(persistCtx, d); err != nil {
		logger.Error("failed to record deployment result", "error", err)
		return
	}
	logger.Info("deployment recorded", "status", d.Status)
}

func (r *Runner) brokerReporter(id string) progress.Reporter {
	if r.broker == nil {
		return progress.Nop
	}
	return r.broker.Reporter(id)
}

// historyReporter appends every event to the store so streams can be
// replayed after the broker forgets them.
func (r *Runner) historyReporter(ctx context.Context, id string, logger *slog.Logger) progress.Reporter {
	return progress.Func(func(event domain.ProgressEvent) {
		if err := r.store.AppendProgressEvent(ctx, event); err != nil {
			logger.Warn("failed to persist progress event", "step", event.Step, "error", err)
		}
	})
}

// redacting strips the admin password from terminal events. The password
// is only retrievable through the credentials endpoint.
func redacting(next progress.Reporter) progress.Reporter {
	return progress.Func(func(event domain.ProgressEvent) {
		if event.Result != nil {
			redacted := event.Result.Redacted()
			event.Result = &redacted
		}
		next.Report(event)
	})
}
