package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	coredns "github.com/artpar/shipyard/internal/core/dns"
	"github.com/artpar/shipyard/internal/core/domain"
	shelldns "github.com/artpar/shipyard/internal/shell/dns"
	"github.com/artpar/shipyard/internal/shell/metrics"
	"github.com/artpar/shipyard/internal/shell/store"
)

// DNSVerifierConfig configures the DNS verification worker.
type DNSVerifierConfig struct {
	Interval      time.Duration
	MaxConcurrent int
	// InitialDelay is the wait before the first cycle.
	InitialDelay time.Duration
	// GiveUpAfter marks a hostname failed once this long has passed since
	// the deployment completed.
	GiveUpAfter time.Duration
	// Proxied hostnames resolve to the provider's edge, so any address counts.
	Proxied bool
}

// DefaultDNSVerifierConfig returns default configuration.
func DefaultDNSVerifierConfig() DNSVerifierConfig {
	return DNSVerifierConfig{
		Interval:      60 * time.Second,
		MaxConcurrent: 5,
		InitialDelay:  10 * time.Second,
		GiveUpAfter:   24 * time.Hour,
	}
}

// DNSVerifier polls deployments whose hostnames are not yet verified and
// checks that they resolve to their compute endpoint.
type DNSVerifier struct {
	store    store.Store
	resolver *shelldns.Resolver
	metrics  *metrics.Metrics
	config   DNSVerifierConfig
	logger   *slog.Logger
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewDNSVerifier creates a new DNS verification worker.
func NewDNSVerifier(s store.Store, resolver *shelldns.Resolver, m *metrics.Metrics, config DNSVerifierConfig, logger *slog.Logger) *DNSVerifier {
	defaults := DefaultDNSVerifierConfig()
	if config.Interval == 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.GiveUpAfter == 0 {
		config.GiveUpAfter = defaults.GiveUpAfter
	}
	if resolver == nil {
		resolver = shelldns.NewResolver(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DNSVerifier{
		store:    s,
		resolver: resolver,
		metrics:  m,
		config:   config,
		logger:   logger.With("component", "dns_verifier"),
		now:      time.Now,
	}
}

// Start begins the DNS verifier background goroutine.
func (v *DNSVerifier) Start() {
	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.wg.Add(1)
	go v.run()
	v.logger.Info("DNS verifier started", "interval", v.config.Interval)
}

// Stop gracefully stops the DNS verifier.
func (v *DNSVerifier) Stop() {
	if v.cancel != nil {
		v.cancel()
	}
	v.wg.Wait()
	v.logger.Info("DNS verifier stopped")
}

func (v *DNSVerifier) run() {
	defer v.wg.Done()

	// Freshly written records take a moment to propagate.
	select {
	case <-v.ctx.Done():
		return
	case <-time.After(v.config.InitialDelay):
	}
	v.RunCycle(v.ctx)

	ticker := time.NewTicker(v.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-v.ctx.Done():
			return
		case <-ticker.C:
			v.RunCycle(v.ctx)
		}
	}
}

// RunCycle verifies every pending hostname once.
func (v *DNSVerifier) RunCycle(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 2*time.Minute)
	defer cancel()

	deployments, err := v.store.ListUnverifiedDeployments(ctx, 200)
	if err != nil {
		v.logger.Error("failed to list deployments for DNS verification", "error", err)
		return
	}
	if len(deployments) == 0 {
		return
	}

	v.logger.Debug("verifying hostnames", "deployments", len(deployments))

	sem := make(chan struct{}, v.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i := range deployments {
		d := &deployments[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}
			v.verifyDeployment(ctx, d)
		}()
	}

	wg.Wait()
}

func (v *DNSVerifier) verifyDeployment(ctx context.Context, d *domain.Deployment) {
	expired := d.CompletedAt != nil && v.now().Sub(*d.CompletedAt) > v.config.GiveUpAfter

	changed := false
	for j := range d.Domains {
		dom := &d.Domains[j]
		if dom.VerificationStatus != domain.DomainVerificationPending {
			continue
		}

		input := v.resolver.Resolve(ctx, dom.Hostname)
		result := coredns.Verify(input, dom.Target, v.config.Proxied)
		v.metrics.DNSVerification(result.Verified)

		switch {
		case result.Verified:
			now := v.now().UTC()
			dom.VerificationStatus = domain.DomainVerificationVerified
			dom.VerifiedAt = &now
			dom.LastCheckError = ""
			v.logger.Info("hostname verified",
				"deployment", d.ID, "hostname", dom.Hostname, "method", result.Method)
		case expired:
			dom.VerificationStatus = domain.DomainVerificationFailed
			dom.LastCheckError = result.Error
			v.logger.Warn("hostname verification gave up",
				"deployment", d.ID, "hostname", dom.Hostname, "error", result.Error)
		default:
			dom.LastCheckError = result.Error
		}
		changed = true
	}

	if !changed {
		return
	}
	if err := v.store.UpdateDeployment(ctx, d); err != nil {
		v.logger.Error("failed to update deployment hostname status",
			"deployment", d.ID, "error", err)
	}
}
