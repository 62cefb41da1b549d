package domain

// =============================================================================
// DNS Zones
// =============================================================================

// ZoneFamily names which configured DNS zone a hostname belongs to.
type ZoneFamily string

const (
	ZoneSite      ZoneFamily = "site"
	ZoneCompanion ZoneFamily = "companion"
	ZoneApps      ZoneFamily = "apps"
)

// Zone is a DNS zone the orchestrator may write records into.
type Zone struct {
	Domain string `mapstructure:"domain" json:"domain"`
	ID     string `mapstructure:"zone_id" json:"zone_id"`
}

// Configured reports whether the zone has both a domain and an ID.
func (z Zone) Configured() bool {
	return z.Domain != "" && z.ID != ""
}

// =============================================================================
// Credentials
// =============================================================================

// Credentials are the tokens and zone IDs a deployment may need.
// They are loaded once at startup and passed in; nothing reads the
// environment after that.
type Credentials struct {
	SCMToken      string
	SCMOwner      string
	ComputeToken  string
	ComputeTeamID string
	DNSToken      string
	Zones         map[ZoneFamily]Zone
}

// Zone returns the configured zone for a family.
func (c Credentials) Zone(family ZoneFamily) (Zone, bool) {
	z, ok := c.Zones[family]
	if !ok || !z.Configured() {
		return Zone{}, false
	}
	return z, true
}
