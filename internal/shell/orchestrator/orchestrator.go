// Package orchestrator runs a deployment as an ordered pipeline of named
// stages: credentials, workspace, repositories, compute, build and dns.
//
// Every stage reports progress before and after it runs. A fatal error
// skips the remaining stages; advisory errors are recorded and the
// pipeline continues. Deploy never returns a Go error: every failure,
// including a panic, ends up in the DeploymentResult.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/shipyard/internal/core/credentials"
	"github.com/artpar/shipyard/internal/core/deployment"
	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/archive"
	"github.com/artpar/shipyard/internal/shell/metrics"
	"github.com/artpar/shipyard/internal/shell/progress"
	"github.com/artpar/shipyard/internal/shell/provision"
	"github.com/artpar/shipyard/internal/shell/scm"
	"github.com/artpar/shipyard/internal/shell/workspace"
)

// =============================================================================
// Stage Components
// =============================================================================

type WorkspacePreparer interface {
	Prepare(ctx context.Context, root string, plan deployment.Plan) (workspace.Prepared, error)
}

type RepositoryProvisioner interface {
	Provision(ctx context.Context, plan deployment.Plan, ws workspace.Prepared) []provision.RepoOutcome
}

type ComputeProvisioner interface {
	Provision(ctx context.Context, plan deployment.Plan, repos map[deployment.ServiceRole]scm.RepoHandle, ws workspace.Prepared) provision.ComputeOutcome
	Build(ctx context.Context, services []provision.ServiceOutcome) provision.BuildOutcome
}

type DNSConfigurator interface {
	Configure(ctx context.Context, plan deployment.Plan, endpoints map[deployment.ServiceRole]string) provision.DNSOutcome
}

// Archiver snapshots prepared service directories. Optional.
type Archiver interface {
	Archive(ctx context.Context, slug, deploymentID string, entries []archive.Entry) ([]string, error)
}

// Config wires the orchestrator. Credentials are read once; the orchestrator
// never consults the environment.
type Config struct {
	Credentials  domain.Credentials
	Workspace    WorkspacePreparer
	Repositories RepositoryProvisioner
	Compute      ComputeProvisioner
	DNS          DNSConfigurator
	Archiver     Archiver
	Metrics      *metrics.Metrics
}

// Orchestrator composes the stage components.
type Orchestrator struct {
	creds        domain.Credentials
	workspace    WorkspacePreparer
	repositories RepositoryProvisioner
	compute      ComputeProvisioner
	dns          DNSConfigurator
	archiver     Archiver
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		creds:        cfg.Credentials,
		workspace:    cfg.Workspace,
		repositories: cfg.Repositories,
		compute:      cfg.Compute,
		dns:          cfg.DNS,
		archiver:     cfg.Archiver,
		metrics:      cfg.Metrics,
		logger:       logger.With("component", "orchestrator"),
	}
}

// =============================================================================
// Pipeline
// =============================================================================

// stage progress: reported at start and at end of each stage.
var stageProgress = map[domain.Stage][2]int{
	domain.StageCredentials:  {0, 5},
	domain.StageWorkspace:    {10, 20},
	domain.StageRepositories: {25, 40},
	domain.StageCompute:      {45, 60},
	domain.StageBuild:        {65, 85},
	domain.StageDNS:          {90, 95},
}

// run is the state of one pipeline execution.
type run struct {
	id       string
	req      domain.DeploymentRequest
	reporter progress.Reporter
	logger   *slog.Logger
	stage    domain.Stage

	plan      deployment.Plan
	prepared  workspace.Prepared
	repos     map[deployment.ServiceRole]scm.RepoHandle
	compute   provision.ComputeOutcome
	dns       provision.DNSOutcome
	errors    []domain.DeploymentError
	resources []domain.ProvisionedResource
}

func (r *run) record(errs ...domain.DeploymentError) {
	r.errors = append(r.errors, errs...)
}

func (r *run) fatal() bool {
	for _, e := range r.errors {
		if e.Fatal {
			return true
		}
	}
	return false
}

// Deploy runs the pipeline for req. deploymentID tags progress events and
// logs. The terminal event (step "complete") always carries the result.
func (o *Orchestrator) Deploy(ctx context.Context, deploymentID string, req domain.DeploymentRequest, reporter progress.Reporter) (result domain.DeploymentResult) {
	if reporter == nil {
		reporter = progress.Nop
	}
	r := &run{
		id:       deploymentID,
		req:      req,
		reporter: progress.Safe(reporter, o.logger),
		stage:    domain.StageCredentials,
		logger: o.logger.With(
			"deployment_id", deploymentID,
			"project", domain.ProjectSlug(req.ProjectName),
			"app_type", req.AppType,
		),
	}

	o.metrics.RunStarted()
	defer o.metrics.RunFinished()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("deployment panicked", "panic", p)
			err := domain.NewDeploymentError(r.stage, stageKinds[r.stage], "", fmt.Sprintf("internal error: %v", p))
			err.Fatal = true
			r.record(err)
			result = o.finish(r)
		}
	}()

	r.logger.Info("deployment started")

	stages := []struct {
		stage domain.Stage
		fn    func(context.Context, *run) stageStatus
	}{
		{domain.StageCredentials, o.validateCredentials},
		{domain.StageWorkspace, o.prepareWorkspace},
		{domain.StageRepositories, o.provisionRepositories},
		{domain.StageCompute, o.provisionCompute},
		{domain.StageBuild, o.build},
		{domain.StageDNS, o.configureDNS},
	}
	for _, s := range stages {
		o.runStage(ctx, r, s.stage, s.fn)
		if r.fatal() {
			r.logger.Error("deployment halted", "stage", s.stage)
			break
		}
	}

	return o.finish(r)
}

// stageStatus is the outcome a stage reports.
type stageStatus struct {
	state   domain.EventStatus
	message string
}

func (o *Orchestrator) runStage(ctx context.Context, r *run, stage domain.Stage, fn func(context.Context, *run) stageStatus) {
	r.stage = stage
	bounds := stageProgress[stage]
	o.emit(r, stage, domain.EventRunning, runningMessages[stage], bounds[0], nil)

	start := time.Now()
	status := fn(ctx, r)
	o.metrics.ObserveStage(string(stage), string(status.state), time.Since(start))

	o.emit(r, stage, status.state, status.message, bounds[1], nil)
}

func (o *Orchestrator) emit(r *run, stage domain.Stage, state domain.EventStatus, message string, pct int, result *domain.DeploymentResult) {
	icon := domain.IconFor(state)
	if stage == domain.StageComplete && state == domain.EventSucceeded {
		icon = domain.IconComplete
	}
	r.reporter.Report(domain.ProgressEvent{
		DeploymentID: r.id,
		Step:         stage,
		Status:       message,
		State:        state,
		Icon:         icon,
		Progress:     pct,
		Result:       result,
		Timestamp:    time.Now().UTC(),
	})
}

func (o *Orchestrator) finish(r *run) domain.DeploymentResult {
	urls := o.urls(r)
	result := domain.NewDeploymentResult(urls, r.compute.Admin, r.compute.Project.ID, r.errors, r.resources)
	for _, rec := range r.dns.Records {
		if rec.Err == nil {
			result.Domains = append(result.Domains, domain.NewDomain(rec.Host.Hostname, rec.Record.Content, rec.Record.Type))
		}
	}

	o.metrics.DeploymentFinished(string(r.req.AppType), result.Success)
	state, message := domain.EventSucceeded, "Deployment complete"
	switch {
	case !result.Success:
		state, message = domain.EventFailed, "Deployment failed"
	case len(result.Warnings()) > 0:
		state, message = domain.EventWarning, "Deployment complete with warnings"
	}
	r.logger.Info("deployment finished",
		"success", result.Success,
		"frontend", result.URLs.Frontend,
		"errors", len(result.Errors),
	)
	o.emit(r, domain.StageComplete, state, message, 100, &result)
	return result
}

// stageKinds classifies unexpected failures inside a stage.
var stageKinds = map[domain.Stage]domain.ErrorKind{
	domain.StageCredentials:  domain.KindCredentialMissing,
	domain.StageWorkspace:    domain.KindWorkspacePrepFailure,
	domain.StageRepositories: domain.KindRepositoryProvision,
	domain.StageCompute:      domain.KindComputeProvision,
	domain.StageBuild:        domain.KindBuildFailure,
	domain.StageDNS:          domain.KindDNSReconcileFailure,
}

var runningMessages = map[domain.Stage]string{
	domain.StageCredentials:  "Checking credentials",
	domain.StageWorkspace:    "Preparing workspace",
	domain.StageRepositories: "Creating repositories",
	domain.StageCompute:      "Provisioning services",
	domain.StageBuild:        "Building services",
	domain.StageDNS:          "Configuring DNS",
}

// =============================================================================
// Stages
// =============================================================================

func (o *Orchestrator) validateCredentials(_ context.Context, r *run) stageStatus {
	report := credentials.Check(r.req.AppType, o.creds)
	if !report.OK() {
		r.record(report.Error())
		return stageStatus{domain.EventFailed, report.Error().Message}
	}
	return stageStatus{domain.EventSucceeded, "Credentials verified"}
}

func (o *Orchestrator) prepareWorkspace(ctx context.Context, r *run) stageStatus {
	fail := func(err error) stageStatus {
		r.record(domain.NewDeploymentError(domain.StageWorkspace, domain.KindWorkspacePrepFailure, r.req.ProjectPath, err.Error()))
		return stageStatus{domain.EventFailed, "Workspace preparation failed: " + err.Error()}
	}

	plan, err := deployment.BuildPlan(r.req, o.creds.Zones)
	if err != nil {
		return fail(err)
	}
	r.plan = plan

	prepared, err := o.workspace.Prepare(ctx, r.req.ProjectPath, plan)
	if err != nil {
		return fail(err)
	}
	r.prepared = prepared

	if o.archiver != nil {
		entries := make([]archive.Entry, 0, len(prepared.Services))
		for _, s := range prepared.Services {
			entries = append(entries, archive.Entry{Name: string(s.Role), Dir: s.Dir})
		}
		if keys, err := o.archiver.Archive(ctx, plan.Slug, r.id, entries); err != nil {
			r.logger.Warn("workspace archive failed", "error", err)
		} else {
			r.logger.Info("workspace archived", "keys", keys)
		}
	}

	return stageStatus{domain.EventSucceeded, fmt.Sprintf("Workspace ready (%d services)", len(prepared.Services))}
}

func (o *Orchestrator) provisionRepositories(ctx context.Context, r *run) stageStatus {
	outcomes := o.repositories.Provision(ctx, r.plan, r.prepared)

	r.repos = make(map[deployment.ServiceRole]scm.RepoHandle, len(outcomes))
	failed := 0
	for _, out := range outcomes {
		r.resources = append(r.resources, out.Resource)
		if out.Err != nil {
			r.record(*out.Err)
			failed++
			continue
		}
		r.repos[out.Role] = out.Repo
	}

	if failed > 0 {
		return stageStatus{domain.EventFailed, fmt.Sprintf("%d of %d repositories failed", failed, len(outcomes))}
	}
	return stageStatus{domain.EventSucceeded, fmt.Sprintf("%d repositories pushed", len(outcomes))}
}

func (o *Orchestrator) provisionCompute(ctx context.Context, r *run) stageStatus {
	r.compute = o.compute.Provision(ctx, r.plan, r.repos, r.prepared)
	r.resources = append(r.resources, r.compute.Resources()...)
	r.record(r.compute.Errors...)

	if r.compute.Failed() {
		return stageStatus{domain.EventFailed, "Service provisioning failed"}
	}
	return stageStatus{domain.EventSucceeded, fmt.Sprintf("%d services configured", len(r.compute.Services))}
}

func (o *Orchestrator) build(ctx context.Context, r *run) stageStatus {
	out := o.compute.Build(ctx, r.compute.Services)
	r.record(out.Errors...)

	for i, svc := range r.compute.Services {
		if state, ok := out.States[svc.Role]; ok {
			r.compute.Services[i].State = state
		}
	}

	switch {
	case r.fatal():
		return stageStatus{domain.EventFailed, "Build failed"}
	case len(out.Errors) > 0:
		return stageStatus{domain.EventWarning, "Build still running; check the compute dashboard"}
	default:
		return stageStatus{domain.EventSucceeded, "Build deployed"}
	}
}

func (o *Orchestrator) configureDNS(ctx context.Context, r *run) stageStatus {
	endpoints := make(map[deployment.ServiceRole]string, len(r.compute.Services))
	for _, s := range r.compute.Services {
		endpoints[s.Role] = s.Endpoint
	}

	r.dns = o.dns.Configure(ctx, r.plan, endpoints)
	for _, rec := range r.dns.Records {
		r.resources = append(r.resources, rec.Resource)
	}
	r.record(r.dns.Errors...)

	if len(r.dns.Errors) > 0 {
		return stageStatus{domain.EventWarning, fmt.Sprintf("%d of %d DNS records failed; using platform URLs", len(r.dns.Errors), len(r.dns.Records))}
	}
	return stageStatus{domain.EventSucceeded, fmt.Sprintf("%d DNS records configured", len(r.dns.Records))}
}

// urls prefers configured hostnames and falls back to compute endpoints.
func (o *Orchestrator) urls(r *run) domain.URLs {
	if len(r.compute.Services) == 0 {
		return domain.URLs{}
	}

	pick := func(purpose deployment.HostPurpose, role deployment.ServiceRole) string {
		if host, ok := r.plan.Host(purpose); ok && r.dns.Configured(host.Hostname) {
			return deployment.HTTPSURL(host.Hostname)
		}
		return deployment.HTTPSURL(r.compute.Endpoint(role))
	}

	urls := domain.URLs{Frontend: pick(deployment.HostPrimary, deployment.RoleFrontend)}
	if _, ok := r.plan.Service(deployment.RoleBackend); ok {
		urls.Backend = pick(deployment.HostAPI, deployment.RoleBackend)
		if urls.Backend != "" {
			urls.Admin = urls.Backend + "/admin"
		}
	}
	if _, ok := r.plan.Host(deployment.HostCompanion); ok {
		urls.CompanionURL = pick(deployment.HostCompanion, deployment.RoleFrontend)
	}
	return urls
}
