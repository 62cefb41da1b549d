// Package credentials decides which secrets a deployment needs and whether
// they are present. It never reads the environment; callers pass in the
// Credentials loaded at startup.
package credentials

import (
	"strings"

	"github.com/artpar/shipyard/internal/core/domain"
)

// =============================================================================
// Requirements
// =============================================================================

// Credential names reported when something is missing. They match the
// configuration keys the value is loaded from.
const (
	SCMToken      = "scm.token"
	ComputeToken  = "compute.token"
	DNSToken      = "dns.token"
	zoneKeyPrefix = "dns.zones."
)

type requirement struct {
	name    string
	present func(domain.Credentials) bool
}

func tokenRequirement(name string, get func(domain.Credentials) string) requirement {
	return requirement{name: name, present: func(c domain.Credentials) bool { return get(c) != "" }}
}

func zoneRequirement(family domain.ZoneFamily) requirement {
	return requirement{
		name: zoneKeyPrefix + string(family),
		present: func(c domain.Credentials) bool {
			_, ok := c.Zone(family)
			return ok
		},
	}
}

// ZonesFor returns the DNS zone families an app type writes records into.
func ZonesFor(appType domain.AppType) []domain.ZoneFamily {
	switch appType {
	case domain.AppTypeWebsite:
		return []domain.ZoneFamily{domain.ZoneSite}
	case domain.AppTypeCompanionApp:
		return []domain.ZoneFamily{domain.ZoneCompanion, domain.ZoneSite}
	case domain.AppTypeAdvancedApp:
		return []domain.ZoneFamily{domain.ZoneApps}
	default:
		return nil
	}
}

func requirementsFor(appType domain.AppType) []requirement {
	reqs := []requirement{
		tokenRequirement(SCMToken, func(c domain.Credentials) string { return c.SCMToken }),
		tokenRequirement(ComputeToken, func(c domain.Credentials) string { return c.ComputeToken }),
		tokenRequirement(DNSToken, func(c domain.Credentials) string { return c.DNSToken }),
	}
	for _, family := range ZonesFor(appType) {
		reqs = append(reqs, zoneRequirement(family))
	}
	return reqs
}

// Required lists the credential names an app type needs, in check order.
func Required(appType domain.AppType) []string {
	reqs := requirementsFor(appType)
	names := make([]string, len(reqs))
	for i, r := range reqs {
		names[i] = r.name
	}
	return names
}

// =============================================================================
// Validation
// =============================================================================

// Report is the outcome of checking credentials for one app type.
type Report struct {
	AppType domain.AppType
	Missing []string
}

// OK reports whether nothing is missing.
func (r Report) OK() bool {
	return len(r.Missing) == 0
}

// Error returns the single fatal error for a failed check.
func (r Report) Error() domain.DeploymentError {
	return domain.NewDeploymentError(
		domain.StageCredentials,
		domain.KindCredentialMissing,
		"",
		"missing credentials for "+string(r.AppType)+": "+strings.Join(r.Missing, ", "),
	)
}

// Check lists every missing credential for appType. An unknown app type is
// reported as a missing app_type.
func Check(appType domain.AppType, creds domain.Credentials) Report {
	report := Report{AppType: appType}
	if !appType.Valid() {
		report.Missing = []string{"app_type"}
		return report
	}
	for _, r := range requirementsFor(appType) {
		if !r.present(creds) {
			report.Missing = append(report.Missing, r.name)
		}
	}
	return report
}

// Valid reports whether every credential appType needs is present.
func Valid(appType domain.AppType, creds domain.Credentials) bool {
	return Check(appType, creds).OK()
}
