package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/shipyard/internal/core/crypto"
	"github.com/artpar/shipyard/internal/core/deployment"
	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/compute"
	"github.com/artpar/shipyard/internal/shell/metrics"
	"github.com/artpar/shipyard/internal/shell/retry"
	"github.com/artpar/shipyard/internal/shell/scm"
	"github.com/artpar/shipyard/internal/shell/workspace"
)

// Admin variables injected into services that seed an admin account.
const (
	AdminEmailVar    = "ADMIN_EMAIL"
	AdminPasswordVar = "ADMIN_PASSWORD"

	adminPasswordLength = 20
)

// errNoEndpoint is transient: the platform may assign a domain after the
// service is created.
var errNoEndpoint = errors.New("service has no public domain yet")

// ServiceOutcome is the compute state of one service.
type ServiceOutcome struct {
	Role     deployment.ServiceRole
	Service  compute.Service
	Ref      compute.ServiceRef
	Endpoint string
	Resource domain.ProvisionedResource
	State    domain.ServiceState
}

// ComputeOutcome is the result of the compute stage.
type ComputeOutcome struct {
	Project         compute.Project
	ProjectResource domain.ProvisionedResource
	// Services are in plan order.
	Services []ServiceOutcome
	Admin    *domain.AdminCredentials
	Errors   []domain.DeploymentError
}

// Failed reports whether a fatal error was recorded.
func (o ComputeOutcome) Failed() bool {
	for _, e := range o.Errors {
		if e.Fatal {
			return true
		}
	}
	return false
}

// Endpoint returns the public host of role's service.
func (o ComputeOutcome) Endpoint(role deployment.ServiceRole) string {
	for _, s := range o.Services {
		if s.Role == role {
			return s.Endpoint
		}
	}
	return ""
}

// Resources lists the project and every service resource.
func (o ComputeOutcome) Resources() []domain.ProvisionedResource {
	var out []domain.ProvisionedResource
	if o.ProjectResource.Name != "" {
		out = append(out, o.ProjectResource)
	}
	for _, s := range o.Services {
		out = append(out, s.Resource)
	}
	return out
}

// BuildOutcome is the result of the build stage.
type BuildOutcome struct {
	States map[deployment.ServiceRole]domain.ServiceState
	Errors []domain.DeploymentError
}

// ComputeConfig configures a ComputeProvisioner.
type ComputeConfig struct {
	Retry        retry.Policy
	PollInterval time.Duration
	BuildTimeout time.Duration
}

// ComputeProvisioner creates or reuses the compute project and services,
// configures them and drives their builds.
type ComputeProvisioner struct {
	platform     compute.Platform
	pollInterval time.Duration
	buildTimeout time.Duration
	retrier      retrier
	logger       *slog.Logger
}

// NewComputeProvisioner creates a compute provisioner.
func NewComputeProvisioner(platform compute.Platform, cfg ComputeConfig, m *metrics.Metrics, logger *slog.Logger) *ComputeProvisioner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = 10 * time.Minute
	}
	logger = logger.With("component", "compute")
	return &ComputeProvisioner{
		platform:     platform,
		pollInterval: cfg.PollInterval,
		buildTimeout: cfg.BuildTimeout,
		retrier:      retrier{policy: withDefaults(cfg.Retry), metrics: m, logger: logger},
		logger:       logger,
	}
}

// =============================================================================
// Provision
// =============================================================================

// Provision ensures the project and services exist, resolves their endpoints
// and injects variables. It stops at the first step with a fatal error.
func (p *ComputeProvisioner) Provision(ctx context.Context, plan deployment.Plan, repos map[deployment.ServiceRole]scm.RepoHandle, ws workspace.Prepared) ComputeOutcome {
	out := ComputeOutcome{}

	project, resource, err := p.ensureProject(ctx, plan.ProjectName)
	out.Project, out.ProjectResource = project, resource
	if err != nil {
		out.Errors = append(out.Errors, computeError(plan.ProjectName, err))
		return out
	}

	out.Services = make([]ServiceOutcome, len(plan.Services))
	errs := p.forEach(ctx, plan.Services, func(ctx context.Context, i int, spec deployment.ServiceSpec) error {
		svc, err := p.ensureService(ctx, project, spec, repos[spec.Role])
		out.Services[i] = svc
		return err
	})
	if len(errs) > 0 {
		out.Errors = append(out.Errors, errs...)
		return out
	}

	errs = p.forEach(ctx, plan.Services, func(ctx context.Context, i int, spec deployment.ServiceSpec) error {
		var endpoint string
		_, err := retry.Do(ctx, func(ctx context.Context) error {
			var err error
			endpoint, err = p.platform.ServiceDomain(ctx, out.Services[i].Ref)
			if err == nil && endpoint == "" {
				return errNoEndpoint
			}
			return err
		}, p.retrier.options(PlatformCompute, "service domain")...)
		if err != nil {
			return fmt.Errorf("resolve endpoint: %w", err)
		}
		out.Services[i].Endpoint = endpoint
		return nil
	})
	if len(errs) > 0 {
		out.Errors = append(out.Errors, errs...)
		return out
	}

	for i, spec := range plan.Services {
		if !spec.Admin {
			continue
		}
		admin, err := p.adminCredentials(ctx, plan, out.Services[i])
		if err != nil {
			p.logger.Error("admin credentials failed", "service", spec.Name, "error", err)
			out.Errors = append(out.Errors, computeError(spec.Name, err))
			return out
		}
		out.Admin = admin
	}
	vars := p.variables(plan, out, ws)

	installed := make([]bool, len(plan.Services))
	errs = p.forEach(ctx, plan.Services, func(ctx context.Context, i int, spec deployment.ServiceSpec) error {
		_, err := retry.Do(ctx, func(ctx context.Context) error {
			return p.platform.UpsertVariables(ctx, out.Services[i].Ref, vars[spec.Role])
		}, p.retrier.options(PlatformCompute, "upsert variables")...)
		if err != nil {
			return fmt.Errorf("set variables: %w", err)
		}
		installed[i] = true
		return nil
	})
	out.Errors = append(out.Errors, errs...)

	// Credentials whose upsert failed were never installed.
	for i, spec := range plan.Services {
		if spec.Admin && !installed[i] {
			out.Admin = nil
		}
	}
	return out
}

func (p *ComputeProvisioner) ensureProject(ctx context.Context, name string) (compute.Project, domain.ProvisionedResource, error) {
	resource := domain.NewResource(domain.ResourceComputeProject, name)

	var project compute.Project
	retries, err := retry.Do(ctx, func(ctx context.Context) error {
		found, err := p.platform.FindProject(ctx, name)
		if errors.Is(err, compute.ErrNotFound) {
			found, err = p.platform.CreateProject(ctx, name)
		}
		if err != nil {
			return err
		}
		project = found
		return nil
	}, p.retrier.options(PlatformCompute, "ensure project")...)
	resource.RetryCount = retries
	if err != nil {
		_ = resource.MarkFailed(err.Error())
		p.logger.Error("compute project failed", "project", name, "error", err)
		return compute.Project{}, resource, err
	}

	settle(&resource, project.ID, project.Reused)
	p.logger.Info("compute project ready", "project", name, "project_id", project.ID, "reused", project.Reused)
	return project, resource, nil
}

func (p *ComputeProvisioner) ensureService(ctx context.Context, project compute.Project, spec deployment.ServiceSpec, repo scm.RepoHandle) (ServiceOutcome, error) {
	resource := domain.NewResource(domain.ResourceComputeService, spec.Name)
	out := ServiceOutcome{Role: spec.Role, State: domain.ServicePending}

	if repo.FullName == "" {
		err := errors.New("no repository to bind")
		_ = resource.MarkFailed(err.Error())
		out.Resource = resource
		return out, err
	}

	var svc compute.Service
	retries, err := retry.Do(ctx, func(ctx context.Context) error {
		found, err := p.platform.FindService(ctx, project.ID, spec.Name)
		if errors.Is(err, compute.ErrNotFound) {
			found, err = p.platform.CreateService(ctx, project.ID, spec.Name, repo.FullName)
		}
		if err != nil {
			return err
		}
		svc = found
		return nil
	}, p.retrier.options(PlatformCompute, "ensure service")...)
	resource.RetryCount = retries
	if err != nil {
		_ = resource.MarkFailed(err.Error())
		out.Resource = resource
		return out, err
	}

	settle(&resource, svc.ID, svc.Reused)
	out.Service = svc
	out.Resource = resource
	out.Ref = compute.ServiceRef{ProjectID: project.ID, EnvironmentID: project.EnvironmentID, ServiceID: svc.ID}
	return out, nil
}

// adminCredentials generates a login for the admin service unless one is
// already installed on it.
func (p *ComputeProvisioner) adminCredentials(ctx context.Context, plan deployment.Plan, svc ServiceOutcome) (*domain.AdminCredentials, error) {
	var current map[string]string
	_, err := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		current, err = p.platform.ServiceVariables(ctx, svc.Ref)
		return err
	}, p.retrier.options(PlatformCompute, "read variables")...)
	if err != nil {
		return nil, fmt.Errorf("read variables: %w", err)
	}
	if current[AdminEmailVar] != "" && current[AdminPasswordVar] != "" {
		return nil, nil
	}

	password, err := crypto.GeneratePassword(adminPasswordLength)
	if err != nil {
		return nil, fmt.Errorf("generate admin password: %w", err)
	}
	host := svc.Endpoint
	if primary, ok := plan.Host(deployment.HostPrimary); ok {
		host = primary.Hostname
	}
	return &domain.AdminCredentials{Email: deployment.AdminEmail(host), Password: password}, nil
}

// variables renders each service's variables once every endpoint is known.
func (p *ComputeProvisioner) variables(plan deployment.Plan, out ComputeOutcome, ws workspace.Prepared) map[deployment.ServiceRole]map[string]string {
	urls := make(map[string]string, len(out.Services))
	for _, s := range out.Services {
		urls[s.Role.EnvVar()] = deployment.HTTPSURL(s.Endpoint)
	}

	vars := make(map[deployment.ServiceRole]map[string]string, len(plan.Services))
	for _, spec := range plan.Services {
		v := map[string]string{}
		if svc, ok := ws.Service(spec.Role); ok {
			for k, val := range svc.Env {
				v[k] = val
			}
		}

		rendered, missing := deployment.ResolveEnv(spec.Env, urls)
		if len(missing) > 0 {
			p.logger.Warn("unresolved variables", "service", spec.Name, "missing", missing)
		}
		for k, val := range rendered {
			v[k] = val
		}

		if spec.Admin && out.Admin != nil {
			v[AdminEmailVar] = out.Admin.Email
			v[AdminPasswordVar] = out.Admin.Password
		}
		vars[spec.Role] = v
	}
	return vars
}

// forEach runs fn for every service concurrently and converts failures into
// compute errors, in plan order.
func (p *ComputeProvisioner) forEach(ctx context.Context, specs []deployment.ServiceSpec, fn func(ctx context.Context, i int, spec deployment.ServiceSpec) error) []domain.DeploymentError {
	failures := make([]error, len(specs))

	var g errgroup.Group
	for i, spec := range specs {
		g.Go(func() error {
			failures[i] = fn(ctx, i, spec)
			return nil
		})
	}
	_ = g.Wait()

	var errs []domain.DeploymentError
	for i, err := range failures {
		if err == nil {
			continue
		}
		p.logger.Error("compute service failed", "service", specs[i].Name, "error", err)
		errs = append(errs, computeError(specs[i].Name, err))
	}
	return errs
}

// =============================================================================
// Build
// =============================================================================

// Build triggers a deploy of every service and polls until each reaches a
// terminal state or the build timeout passes. Failed builds are fatal;
// timeouts are advisory.
func (p *ComputeProvisioner) Build(ctx context.Context, services []ServiceOutcome) BuildOutcome {
	out := BuildOutcome{States: make(map[deployment.ServiceRole]domain.ServiceState, len(services))}
	states := make([]domain.ServiceState, len(services))
	errs := make([]*domain.DeploymentError, len(services))

	buildCtx, cancel := context.WithTimeout(ctx, p.buildTimeout)
	defer cancel()

	var g errgroup.Group
	for i, svc := range services {
		g.Go(func() error {
			states[i], errs[i] = p.buildOne(ctx, buildCtx, svc)
			return nil
		})
	}
	_ = g.Wait()

	for i, svc := range services {
		out.States[svc.Role] = states[i]
		if errs[i] != nil {
			out.Errors = append(out.Errors, *errs[i])
		}
	}
	return out
}

func (p *ComputeProvisioner) buildOne(ctx, buildCtx context.Context, svc ServiceOutcome) (domain.ServiceState, *domain.DeploymentError) {
	logger := p.logger.With("service", svc.Service.Name)

	var deployID string
	_, err := retry.Do(ctx, func(ctx context.Context) error {
		id, err := p.platform.TriggerDeploy(ctx, svc.Ref)
		if err != nil {
			return err
		}
		if id == "" {
			return retry.Permanent(errors.New("platform returned no deployment id"))
		}
		deployID = id
		return nil
	}, p.retrier.options(PlatformCompute, "trigger deploy")...)
	if err != nil {
		derr := computeError(svc.Service.Name, fmt.Errorf("trigger deploy: %w", err))
		logger.Error("deploy trigger failed", "error", err)
		return domain.ServiceBuildFailed, &derr
	}
	logger = logger.With("deployment_id", deployID)

	state := domain.ServicePending
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		dep, err := p.platform.Deployment(buildCtx, svc.Ref, deployID)
		switch {
		case err == nil && dep.ID != deployID:
			// An earlier deployment's status says nothing about this build.
			logger.Debug("ignoring status of another deployment", "other_id", dep.ID, "status", dep.Status)
		case err == nil:
			next := compute.MapStatus(dep.Status)
			if next != state && domain.ValidateServiceTransition(state, next) == nil {
				logger.Debug("build state changed", "from", state, "to", next, "status", dep.Status)
				state = next
			}
		case retry.IsPermanent(err):
			derr := domain.NewDeploymentError(domain.StageBuild, domain.KindBuildFailure, svc.Service.Name, err.Error())
			logger.Error("build status failed", "error", err)
			return domain.ServiceBuildFailed, &derr
		default:
			logger.Debug("build status unavailable", "error", err)
		}

		switch state {
		case domain.ServiceDeployed:
			logger.Info("build deployed")
			return state, nil
		case domain.ServiceBuildFailed:
			derr := domain.NewDeploymentError(domain.StageBuild, domain.KindBuildFailure, svc.Service.Name,
				fmt.Sprintf("build finished with status %s", dep.Status))
			logger.Error("build failed", "status", dep.Status)
			return state, &derr
		}

		select {
		case <-buildCtx.Done():
			derr := domain.NewDeploymentError(domain.StageBuild, domain.KindBuildTimeout, svc.Service.Name,
				fmt.Sprintf("build did not finish within %s; last state %s", p.buildTimeout, state))
			logger.Warn("build timed out", "last_state", state)
			return domain.ServiceTimedOut, &derr
		case <-ticker.C:
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

func computeError(resource string, err error) domain.DeploymentError {
	return domain.NewDeploymentError(domain.StageCompute, domain.KindComputeProvision, resource, err.Error())
}

func settle(r *domain.ProvisionedResource, id string, reused bool) {
	if reused {
		_ = r.MarkReused(id)
		return
	}
	_ = r.MarkCreated(id)
}
