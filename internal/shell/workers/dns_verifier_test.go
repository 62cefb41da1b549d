package workers

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/shipyard/internal/core/domain"
	shelldns "github.com/artpar/shipyard/internal/shell/dns"
	"github.com/artpar/shipyard/internal/shell/metrics"
	"github.com/artpar/shipyard/internal/shell/store"
)

// stubLookup answers from fixed tables.
type stubLookup struct {
	cnames map[string]string
	ips    map[string][]net.IPAddr
}

func (s stubLookup) LookupCNAME(_ context.Context, host string) (string, error) {
	if c, ok := s.cnames[host]; ok {
		return c, nil
	}
	return "", errors.New("no such host")
}

func (s stubLookup) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if ips, ok := s.ips[host]; ok {
		return ips, nil
	}
	return nil, errors.New("no such host")
}

func completedDeployment(t *testing.T, s store.Store, name string, hostnames ...string) *domain.Deployment {
	t.Helper()
	ctx := context.Background()
	d, err := domain.NewDeployment(request(name))
	require.NoError(t, err)
	require.NoError(t, s.CreateDeployment(ctx, d))
	require.NoError(t, d.Transition(domain.StatusRunning))
	require.NoError(t, d.Complete(domain.NewDeploymentResult(domain.URLs{Frontend: "https://x"}, nil, "p", nil, nil)))
	for _, h := range hostnames {
		d.Domains = append(d.Domains, domain.NewDomain(h, "fe.up.railway.app", "CNAME"))
	}
	require.NoError(t, s.UpdateDeployment(ctx, d))
	return d
}

// =============================================================================
// Configuration
// =============================================================================

func TestDefaultDNSVerifierConfig(t *testing.T) {
	config := DefaultDNSVerifierConfig()

	assert.Equal(t, 60*time.Second, config.Interval)
	assert.Equal(t, 5, config.MaxConcurrent)
	assert.Equal(t, 24*time.Hour, config.GiveUpAfter)
}

// =============================================================================
// Verification Cycle
// =============================================================================

func TestDNSVerifier_VerifiesMatchingCNAME(t *testing.T) {
	s := setupStore(t)
	m := metrics.New()
	d := completedDeployment(t, s, "Acme Cafe", "acme-cafe.sites.example.com", "api-acme-cafe.apps.example.com")
	resolver := shelldns.NewResolver(stubLookup{
		cnames: map[string]string{"acme-cafe.sites.example.com": "fe.up.railway.app."},
	})
	v := NewDNSVerifier(s, resolver, m, DNSVerifierConfig{}, testLogger())

	v.RunCycle(context.Background())

	got, err := s.GetDeployment(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, got.Domains, 2)
	assert.Equal(t, domain.DomainVerificationVerified, got.Domains[0].VerificationStatus)
	require.NotNil(t, got.Domains[0].VerifiedAt)
	assert.Equal(t, domain.DomainVerificationPending, got.Domains[1].VerificationStatus)
	assert.NotEmpty(t, got.Domains[1].LastCheckError)

	// one verified and one unverified series
	series, err := testutil.GatherAndCount(m.Registry(), "shipyard_dns_verifications_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series)
}

func TestDNSVerifier_ProxiedAcceptsAnyAddress(t *testing.T) {
	s := setupStore(t)
	d := completedDeployment(t, s, "Acme Cafe", "acme-cafe.sites.example.com")
	resolver := shelldns.NewResolver(stubLookup{
		ips: map[string][]net.IPAddr{"acme-cafe.sites.example.com": {{IP: net.ParseIP("104.16.0.1")}}},
	})
	v := NewDNSVerifier(s, resolver, nil, DNSVerifierConfig{Proxied: true}, testLogger())

	v.RunCycle(context.Background())

	got, err := s.GetDeployment(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DomainVerificationVerified, got.Domains[0].VerificationStatus)

	remaining, err := s.ListUnverifiedDeployments(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDNSVerifier_GivesUpAfterDeadline(t *testing.T) {
	s := setupStore(t)
	d := completedDeployment(t, s, "Acme Cafe", "acme-cafe.sites.example.com")
	v := NewDNSVerifier(s, shelldns.NewResolver(stubLookup{}), nil, DNSVerifierConfig{GiveUpAfter: time.Hour}, testLogger())
	v.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	v.RunCycle(context.Background())

	got, err := s.GetDeployment(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DomainVerificationFailed, got.Domains[0].VerificationStatus)
	assert.Contains(t, got.Domains[0].LastCheckError, "DNS lookup failed")
}

func TestDNSVerifier_StartStop(t *testing.T) {
	v := NewDNSVerifier(setupStore(t), shelldns.NewResolver(stubLookup{}), nil, DNSVerifierConfig{
		Interval:     100 * time.Millisecond,
		InitialDelay: time.Millisecond,
	}, testLogger())

	v.Start()
	time.Sleep(20 * time.Millisecond)
	v.Stop()

	v.Start()
	v.Stop()
}

func TestDNSVerifier_StopWithoutStart(t *testing.T) {
	v := NewDNSVerifier(setupStore(t), nil, nil, DNSVerifierConfig{}, testLogger())
	v.Stop()
}
