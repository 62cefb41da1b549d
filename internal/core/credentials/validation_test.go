package credentials

import (
	"testing"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func fullCredentials() domain.Credentials {
	return domain.Credentials{
		SCMToken:     "ghp_x",
		ComputeToken: "rw_x",
		DNSToken:     "cf_x",
		Zones: map[domain.ZoneFamily]domain.Zone{
			domain.ZoneSite:      {Domain: "sites.example.com", ID: "z1"},
			domain.ZoneCompanion: {Domain: "companion.example.com", ID: "z2"},
			domain.ZoneApps:      {Domain: "apps.example.com", ID: "z3"},
		},
	}
}

// =============================================================================
// Check Tests
// =============================================================================

func TestCheck_AllPresent(t *testing.T) {
	for _, appType := range domain.AppTypes {
		t.Run(string(appType), func(t *testing.T) {
			report := Check(appType, fullCredentials())
			assert.True(t, report.OK())
			assert.True(t, Valid(appType, fullCredentials()))
		})
	}
}

func TestCheck_MissingToken(t *testing.T) {
	creds := fullCredentials()
	creds.DNSToken = ""

	report := Check(domain.AppTypeWebsite, creds)
	assert.False(t, report.OK())
	assert.Equal(t, []string{DNSToken}, report.Missing)
}

func TestCheck_ZoneSubsetPerAppType(t *testing.T) {
	creds := fullCredentials()
	delete(creds.Zones, domain.ZoneApps)

	assert.True(t, Valid(domain.AppTypeWebsite, creds))
	assert.True(t, Valid(domain.AppTypeCompanionApp, creds))
	assert.False(t, Valid(domain.AppTypeAdvancedApp, creds))
}

func TestCheck_CompanionNeedsBothZones(t *testing.T) {
	creds := fullCredentials()
	creds.Zones[domain.ZoneSite] = domain.Zone{Domain: "sites.example.com"}

	report := Check(domain.AppTypeCompanionApp, creds)
	assert.Equal(t, []string{"dns.zones.site"}, report.Missing)
}

func TestCheck_ReportsEverythingMissing(t *testing.T) {
	report := Check(domain.AppTypeWebsite, domain.Credentials{})
	assert.Equal(t, []string{SCMToken, ComputeToken, DNSToken, "dns.zones.site"}, report.Missing)
}

func TestCheck_UnknownAppType(t *testing.T) {
	report := Check("desktop", fullCredentials())
	assert.False(t, report.OK())
	assert.Equal(t, []string{"app_type"}, report.Missing)
}

func TestReport_Error(t *testing.T) {
	report := Check(domain.AppTypeWebsite, domain.Credentials{SCMToken: "x"})
	err := report.Error()

	assert.Equal(t, domain.KindCredentialMissing, err.Kind)
	assert.Equal(t, domain.StageCredentials, err.Stage)
	assert.True(t, err.Fatal)
	assert.Contains(t, err.Message, "compute.token, dns.token")
}

func TestRequired(t *testing.T) {
	assert.Equal(t,
		[]string{SCMToken, ComputeToken, DNSToken, "dns.zones.companion", "dns.zones.site"},
		Required(domain.AppTypeCompanionApp))
}
