package provision

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	coredns "github.com/artpar/shipyard/internal/core/dns"
	"github.com/artpar/shipyard/internal/core/deployment"
	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/dns"
	"github.com/artpar/shipyard/internal/shell/metrics"
	"github.com/artpar/shipyard/internal/shell/retry"
)

// RecordOutcome is the reconciled state of one hostname.
type RecordOutcome struct {
	Host     deployment.HostnameSpec
	Record   coredns.Record
	Removed  int
	Resource domain.ProvisionedResource
	Err      *domain.DeploymentError
}

// DNSOutcome is the result of the DNS stage. All errors are advisory.
type DNSOutcome struct {
	Records []RecordOutcome
	Errors  []domain.DeploymentError
}

// Configured reports whether hostname now has a record.
func (o DNSOutcome) Configured(hostname string) bool {
	for _, r := range o.Records {
		if r.Host.Hostname == hostname && r.Err == nil {
			return true
		}
	}
	return false
}

// DNSConfig configures a DNSConfigurator.
type DNSConfig struct {
	Zones map[domain.ZoneFamily]domain.Zone
	Retry retry.Policy
}

// DNSConfigurator points hostnames at compute endpoints. Existing records
// for a hostname are deleted before the new one is created, so repeated
// runs never accumulate records and the record type may change.
type DNSConfigurator struct {
	provider dns.Provider
	zones    map[domain.ZoneFamily]domain.Zone
	retrier  retrier
	logger   *slog.Logger
}

// NewDNSConfigurator creates a DNS configurator.
func NewDNSConfigurator(provider dns.Provider, cfg DNSConfig, m *metrics.Metrics, logger *slog.Logger) *DNSConfigurator {
	logger = logger.With("component", "dns")
	return &DNSConfigurator{
		provider: provider,
		zones:    cfg.Zones,
		retrier:  retrier{policy: withDefaults(cfg.Retry), metrics: m, logger: logger},
		logger:   logger,
	}
}

// Configure reconciles every hostname of plan concurrently. endpoints maps
// each role to its compute host; hostnames whose role has no endpoint are
// reported as failures.
func (c *DNSConfigurator) Configure(ctx context.Context, plan deployment.Plan, endpoints map[deployment.ServiceRole]string) DNSOutcome {
	records := make([]RecordOutcome, len(plan.Hostnames))

	var g errgroup.Group
	for i, host := range plan.Hostnames {
		g.Go(func() error {
			records[i] = c.configureOne(ctx, host, endpoints[host.Role])
			return nil
		})
	}
	_ = g.Wait()

	out := DNSOutcome{Records: records}
	for _, r := range records {
		if r.Err != nil {
			out.Errors = append(out.Errors, *r.Err)
		}
	}
	return out
}

func (c *DNSConfigurator) configureOne(ctx context.Context, host deployment.HostnameSpec, endpoint string) RecordOutcome {
	out := RecordOutcome{
		Host:     host,
		Resource: domain.NewResource(domain.ResourceDNSRecord, host.Hostname),
	}
	fail := func(err error) RecordOutcome {
		_ = out.Resource.MarkFailed(err.Error())
		derr := domain.NewDeploymentError(domain.StageDNS, domain.KindDNSReconcileFailure, host.Hostname, err.Error())
		out.Err = &derr
		c.logger.Warn("dns reconcile failed", "hostname", host.Hostname, "error", err)
		return out
	}

	zone, ok := c.zones[host.Zone]
	if !ok || !zone.Configured() {
		return fail(fmt.Errorf("%w: %s", deployment.ErrZoneNotConfigured, host.Zone))
	}
	if endpoint == "" {
		return fail(fmt.Errorf("no endpoint for %s", host.Role))
	}

	record, removed, retries, err := c.Reconcile(ctx, host.Hostname, endpoint, zone)
	out.Removed = removed
	out.Resource.RetryCount = retries
	if err != nil {
		return fail(err)
	}

	out.Record = record
	_ = out.Resource.MarkCreated(record.ID)
	c.logger.Info("dns record configured",
		"hostname", host.Hostname,
		"type", record.Type,
		"target", record.Content,
		"removed", removed,
	)
	return out
}

// Reconcile makes hostname in zone point at target: it deletes every
// existing record with that name and then creates the desired one. A retry
// repeats the whole sequence, so a create that succeeded without a response
// is cleaned up rather than duplicated. It returns the created record, the
// number of records removed and the retries spent.
func (c *DNSConfigurator) Reconcile(ctx context.Context, hostname, target string, zone domain.Zone) (coredns.Record, int, int, error) {
	settings := c.provider.Settings()
	desired, err := coredns.DesiredRecord(hostname, zone.Domain, target, settings.TTL, settings.Proxied)
	if err != nil {
		return coredns.Record{}, 0, 0, err
	}

	var created coredns.Record
	removed := 0
	retries, err := retry.Do(ctx, func(ctx context.Context) error {
		existing, err := c.provider.ListRecords(ctx, zone, desired.Name)
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}

		for _, stale := range coredns.Conflicting(existing, desired.Name) {
			if err := c.provider.DeleteRecord(ctx, zone, stale.ID); err != nil {
				return fmt.Errorf("delete record %s: %w", stale.ID, err)
			}
			removed++
		}

		created, err = c.provider.CreateRecord(ctx, zone, desired)
		if err != nil {
			return fmt.Errorf("create record: %w", err)
		}
		return nil
	}, c.retrier.options(PlatformDNS, "reconcile")...)
	if err != nil {
		return coredns.Record{}, removed, retries, err
	}
	return created, removed, retries, nil
}
