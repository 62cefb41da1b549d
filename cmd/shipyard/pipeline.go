package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/artpar/shipyard/internal/core/crypto"
	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/archive"
	"github.com/artpar/shipyard/internal/shell/compute"
	"github.com/artpar/shipyard/internal/shell/dns"
	"github.com/artpar/shipyard/internal/shell/fakes"
	"github.com/artpar/shipyard/internal/shell/metrics"
	"github.com/artpar/shipyard/internal/shell/orchestrator"
	"github.com/artpar/shipyard/internal/shell/provision"
	"github.com/artpar/shipyard/internal/shell/scm"
	"github.com/artpar/shipyard/internal/shell/workspace"
)

// encryptionSalt is fixed so the same passphrase always opens passwords
// stored by earlier runs.
var encryptionSalt = []byte("shipyard/admin-credentials")

// EncryptionKey derives the at-rest key from store.encryption_key. It
// returns nil when no passphrase is configured.
func (c *Config) EncryptionKey() []byte {
	if c.Store.EncryptionKey == "" {
		return nil
	}
	return crypto.DeriveKey(c.Store.EncryptionKey, encryptionSalt)
}

// =============================================================================
// Platform Clients
// =============================================================================

// platforms are the clients the provisioners talk to.
type platforms struct {
	host     scm.RepositoryHost
	pusher   scm.Pusher
	compute  compute.Platform
	dns      dns.Provider
	uploader archive.Uploader
}

// livePlatforms connects to the configured platforms. A client whose token
// is missing is left nil: the credential stage rejects every request before
// it could be used.
func livePlatforms(ctx context.Context, cfg *Config, logger *slog.Logger) (platforms, error) {
	var p platforms

	if cfg.SCM.Token != "" {
		host, err := scm.NewGitHub(scm.GitHubConfig{
			Token:   cfg.SCM.Token,
			Owner:   cfg.SCM.Owner,
			BaseURL: cfg.SCM.BaseURL,
		})
		if err != nil {
			return platforms{}, err
		}
		p.host = host
		p.pusher = scm.NewGitPusher(scm.GitPusherConfig{
			Token:       cfg.SCM.Token,
			AuthorName:  cfg.SCM.AuthorName,
			AuthorEmail: cfg.SCM.AuthorEmail,
			Branch:      cfg.SCM.Branch,
		})
	}

	if cfg.Compute.Token != "" {
		p.compute = compute.NewRailway(compute.RailwayConfig{
			Token:       cfg.Compute.Token,
			TeamID:      cfg.Compute.TeamID,
			Endpoint:    cfg.Compute.Endpoint,
			Environment: cfg.Compute.Environment,
			Timeout:     cfg.Timeouts.HTTP,
		})
	}

	if cfg.DNS.Token != "" {
		provider, err := dns.NewProvider(dns.ProviderConfig{
			Type:    cfg.DNS.Provider,
			Token:   cfg.DNS.Token,
			BaseURL: cfg.DNS.BaseURL,
		}, logger)
		if err != nil {
			return platforms{}, err
		}
		p.dns = provider
	}

	if cfg.Archive.Bucket != "" {
		client, err := archive.NewS3(ctx, archive.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			PathStyle: cfg.Archive.PathStyle,
		})
		if err != nil {
			return platforms{}, fmt.Errorf("archive: %w", err)
		}
		p.uploader = client
	}

	return p, nil
}

// dryRunPlatforms returns in-memory platforms. Every call succeeds and is
// only recorded.
func dryRunPlatforms(cfg *Config) platforms {
	owner := cfg.SCM.Owner
	if owner == "" {
		owner = "dry-run"
	}
	host := fakes.NewSCM(owner)
	p := platforms{
		host:    host,
		pusher:  host,
		compute: fakes.NewCompute(),
		dns:     fakes.NewDNS(),
	}
	if cfg.Archive.Bucket != "" {
		p.uploader = fakes.NewUploader()
	}
	return p
}

// dryRunCredentials fills every missing secret and zone with placeholders
// so a dry run exercises the whole pipeline.
func dryRunCredentials(creds domain.Credentials) domain.Credentials {
	placeholder := func(v, fallback string) string {
		if v == "" {
			return fallback
		}
		return v
	}
	creds.SCMToken = placeholder(creds.SCMToken, "dry-run")
	creds.ComputeToken = placeholder(creds.ComputeToken, "dry-run")
	creds.DNSToken = placeholder(creds.DNSToken, "dry-run")

	zones := make(map[domain.ZoneFamily]domain.Zone, 3)
	for _, family := range []domain.ZoneFamily{domain.ZoneSite, domain.ZoneCompanion, domain.ZoneApps} {
		z := creds.Zones[family]
		z.Domain = placeholder(z.Domain, string(family)+".example.test")
		z.ID = placeholder(z.ID, "dry-run-"+string(family))
		zones[family] = z
	}
	creds.Zones = zones
	return creds
}

// =============================================================================
// Orchestrator
// =============================================================================

// newOrchestrator wires the stage components over p.
func newOrchestrator(cfg *Config, creds domain.Credentials, p platforms, m *metrics.Metrics, logger *slog.Logger) *orchestrator.Orchestrator {
	policy := cfg.Retry.Policy()

	ocfg := orchestrator.Config{
		Credentials: creds,
		Workspace: workspace.NewPreparer(workspace.Config{
			DatabaseParam: cfg.Workspace.DatabaseParam,
			IgnoreRules:   cfg.Workspace.IgnoreRules,
		}, logger),
		Repositories: provision.NewRepositoryProvisioner(p.host, p.pusher, provision.RepositoryConfig{
			Private: cfg.SCM.Private,
			Retry:   policy,
		}, m, logger),
		Compute: provision.NewComputeProvisioner(p.compute, provision.ComputeConfig{
			Retry:        policy,
			PollInterval: cfg.Timeouts.PollInterval,
			BuildTimeout: cfg.Timeouts.Build,
		}, m, logger),
		DNS: provision.NewDNSConfigurator(p.dns, provision.DNSConfig{
			Zones: creds.Zones,
			Retry: policy,
		}, m, logger),
		Metrics: m,
	}
	if p.uploader != nil {
		ocfg.Archiver = archive.NewArchiver(p.uploader, cfg.Archive.Bucket, logger)
	}
	return orchestrator.New(ocfg, logger)
}
