package provision

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/shipyard/internal/core/deployment"
	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/metrics"
	"github.com/artpar/shipyard/internal/shell/retry"
	"github.com/artpar/shipyard/internal/shell/scm"
	"github.com/artpar/shipyard/internal/shell/workspace"
)

// RepoOutcome is the result of provisioning one service repository.
type RepoOutcome struct {
	Role     deployment.ServiceRole
	Repo     scm.RepoHandle
	Resource domain.ProvisionedResource
	Err      *domain.DeploymentError
}

// RepositoryConfig configures a RepositoryProvisioner.
type RepositoryConfig struct {
	Private bool
	Retry   retry.Policy
}

// RepositoryProvisioner finds or creates one repository per service and
// pushes the prepared directory into it.
type RepositoryProvisioner struct {
	host    scm.RepositoryHost
	pusher  scm.Pusher
	private bool
	retrier retrier
	logger  *slog.Logger
}

// NewRepositoryProvisioner creates a repository provisioner.
func NewRepositoryProvisioner(host scm.RepositoryHost, pusher scm.Pusher, cfg RepositoryConfig, m *metrics.Metrics, logger *slog.Logger) *RepositoryProvisioner {
	logger = logger.With("component", "repositories")
	return &RepositoryProvisioner{
		host:    host,
		pusher:  pusher,
		private: cfg.Private,
		retrier: retrier{policy: withDefaults(cfg.Retry), metrics: m, logger: logger},
		logger:  logger,
	}
}

// Provision handles every service of plan concurrently. A failure in one
// repository does not stop the others; each is reported in its outcome.
// Outcomes are in plan order.
func (p *RepositoryProvisioner) Provision(ctx context.Context, plan deployment.Plan, ws workspace.Prepared) []RepoOutcome {
	outcomes := make([]RepoOutcome, len(plan.Services))

	var owner string
	ownerRetries, ownerErr := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		owner, err = p.host.Owner(ctx)
		return err
	}, p.retrier.options(PlatformSCM, "owner")...)

	var g errgroup.Group
	for i, spec := range plan.Services {
		g.Go(func() error {
			resource := domain.NewResource(domain.ResourceRepository, spec.RepoName)
			resource.RetryCount = ownerRetries
			if ownerErr != nil {
				outcomes[i] = p.fail(spec, resource, ownerErr)
				return nil
			}

			svc, ok := ws.Service(spec.Role)
			if !ok {
				outcomes[i] = p.fail(spec, resource, errors.New("service directory was not prepared"))
				return nil
			}
			outcomes[i] = p.provisionOne(ctx, owner, spec, svc.Dir, resource)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (p *RepositoryProvisioner) provisionOne(ctx context.Context, owner string, spec deployment.ServiceSpec, dir string, resource domain.ProvisionedResource) RepoOutcome {
	var repo scm.RepoHandle
	retries, err := retry.Do(ctx, func(ctx context.Context) error {
		found, err := p.host.GetRepository(ctx, owner, spec.RepoName)
		if errors.Is(err, scm.ErrRepositoryNotFound) {
			found, err = p.host.CreateRepository(ctx, owner, spec.RepoName, p.private)
		}
		if err != nil {
			return err
		}
		repo = found
		return nil
	}, p.retrier.options(PlatformSCM, "ensure repository")...)
	resource.RetryCount += retries
	if err != nil {
		return p.fail(spec, resource, err)
	}
	resource.Name = repo.FullName

	retries, err = retry.Do(ctx, func(ctx context.Context) error {
		return p.pusher.Push(ctx, dir, repo)
	}, p.retrier.options(PlatformSCM, "push")...)
	resource.RetryCount += retries
	if err != nil {
		out := p.fail(spec, resource, err)
		out.Repo = repo
		return out
	}

	if repo.Reused {
		_ = resource.MarkReused(repo.HTMLURL)
	} else {
		_ = resource.MarkCreated(repo.HTMLURL)
	}
	p.logger.Info("repository ready",
		"repo", repo.FullName,
		"reused", repo.Reused,
		"retries", resource.RetryCount,
	)
	return RepoOutcome{Role: spec.Role, Repo: repo, Resource: resource}
}

func (p *RepositoryProvisioner) fail(spec deployment.ServiceSpec, resource domain.ProvisionedResource, err error) RepoOutcome {
	_ = resource.MarkFailed(err.Error())
	derr := domain.NewDeploymentError(domain.StageRepositories, domain.KindRepositoryProvision, spec.RepoName, err.Error())
	p.logger.Error("repository provisioning failed", "repo", spec.RepoName, "error", err)
	return RepoOutcome{Role: spec.Role, Resource: resource, Err: &derr}
}
