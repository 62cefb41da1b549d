package deployment

import (
	"errors"
	"fmt"

	"github.com/artpar/shipyard/internal/core/domain"
)

var ErrZoneNotConfigured = errors.New("dns zone not configured")

// =============================================================================
// Plan Types
// =============================================================================

// ServiceRole identifies a service within a project.
type ServiceRole string

const (
	RoleBackend  ServiceRole = "backend"
	RoleFrontend ServiceRole = "frontend"
)

// EnvVar returns the placeholder name under which a role's public URL is
// exposed to environment templates, e.g. BACKEND_URL.
func (r ServiceRole) EnvVar() string {
	switch r {
	case RoleBackend:
		return "BACKEND_URL"
	case RoleFrontend:
		return "FRONTEND_URL"
	default:
		return ""
	}
}

// FrontendAPIEnvKey is the build-time variable the frontend reads its API
// base URL from.
const FrontendAPIEnvKey = "VITE_API_BASE_URL"

// ServiceSpec describes one deployable service.
type ServiceSpec struct {
	Role      ServiceRole
	Name      string
	Dir       string
	RepoName  string
	DependsOn []ServiceRole
	// Env values may reference ${BACKEND_URL} and friends; they are rendered
	// once endpoints are known.
	Env map[string]string
	// Admin services receive bootstrap admin credentials until one is installed.
	Admin bool
}

// HostPurpose is what a hostname is used for.
type HostPurpose string

const (
	HostPrimary   HostPurpose = "primary"
	HostAPI       HostPurpose = "api"
	HostCompanion HostPurpose = "companion"
)

// HostnameSpec is a DNS name that must point at a service endpoint.
type HostnameSpec struct {
	Hostname string
	Zone     domain.ZoneFamily
	Role     ServiceRole
	Purpose  HostPurpose
}

// Plan is everything the provisioners need to know about one deployment.
type Plan struct {
	AppType     domain.AppType
	Slug        string
	ParentSlug  string
	ProjectName string
	// Services are in dependency order.
	Services  []ServiceSpec
	Hostnames []HostnameSpec
}

// Service returns the service with the given role.
func (p Plan) Service(role ServiceRole) (ServiceSpec, bool) {
	for _, s := range p.Services {
		if s.Role == role {
			return s, true
		}
	}
	return ServiceSpec{}, false
}

// Host returns the first hostname with the given purpose.
func (p Plan) Host(purpose HostPurpose) (HostnameSpec, bool) {
	for _, h := range p.Hostnames {
		if h.Purpose == purpose {
			return h, true
		}
	}
	return HostnameSpec{}, false
}

// OwnerSlug is the slug whose backend serves this project's API.
func (p Plan) OwnerSlug() string {
	if p.ParentSlug != "" {
		return p.ParentSlug
	}
	return p.Slug
}

// =============================================================================
// Plan Construction
// =============================================================================

// BuildPlan derives the services and hostnames for a request. Zones map
// each family to its configured zone; only the families the app type
// needs are read.
//
//	website:       backend + frontend, {slug}.{site}
//	advanced-app:  backend + frontend, {slug}.{apps} and api-{slug}.{apps}
//	companion-app: frontend only,      {slug}.{companion} and {parent}-app.{site}
func BuildPlan(req domain.DeploymentRequest, zones map[domain.ZoneFamily]domain.Zone) (Plan, error) {
	if err := req.Validate(); err != nil {
		return Plan{}, err
	}

	slug := domain.ProjectSlug(req.ProjectName)
	plan := Plan{
		AppType:     req.AppType,
		Slug:        slug,
		ProjectName: slug,
	}

	zone := func(family domain.ZoneFamily) (string, error) {
		z, ok := zones[family]
		if !ok || !z.Configured() {
			return "", fmt.Errorf("%w: %s", ErrZoneNotConfigured, family)
		}
		return z.Domain, nil
	}

	var services []ServiceSpec
	switch req.AppType {
	case domain.AppTypeWebsite, domain.AppTypeAdvancedApp:
		services = fullStackServices(slug)

		family := domain.ZoneSite
		if req.AppType == domain.AppTypeAdvancedApp {
			family = domain.ZoneApps
		}
		zoneDomain, err := zone(family)
		if err != nil {
			return Plan{}, err
		}
		plan.Hostnames = append(plan.Hostnames, HostnameSpec{
			Hostname: Hostname(slug, zoneDomain),
			Zone:     family,
			Role:     RoleFrontend,
			Purpose:  HostPrimary,
		})
		if req.AppType == domain.AppTypeAdvancedApp {
			plan.Hostnames = append(plan.Hostnames, HostnameSpec{
				Hostname: Hostname(APIHostLabel(slug), zoneDomain),
				Zone:     family,
				Role:     RoleBackend,
				Purpose:  HostAPI,
			})
		}

	case domain.AppTypeCompanionApp:
		plan.ParentSlug = domain.ProjectSlug(req.ParentSiteSubdomain)
		services = []ServiceSpec{{
			Role:     RoleFrontend,
			Name:     string(RoleFrontend),
			RepoName: RepoName(slug, "app"),
			Env:      map[string]string{FrontendAPIEnvKey: APIBaseURL(plan.ParentSlug)},
		}}

		companionDomain, err := zone(domain.ZoneCompanion)
		if err != nil {
			return Plan{}, err
		}
		siteDomain, err := zone(domain.ZoneSite)
		if err != nil {
			return Plan{}, err
		}
		plan.Hostnames = []HostnameSpec{
			{
				Hostname: Hostname(slug, companionDomain),
				Zone:     domain.ZoneCompanion,
				Role:     RoleFrontend,
				Purpose:  HostPrimary,
			},
			{
				Hostname: Hostname(CompanionHostLabel(plan.ParentSlug), siteDomain),
				Zone:     domain.ZoneSite,
				Role:     RoleFrontend,
				Purpose:  HostCompanion,
			},
		}
	}

	ordered, err := TopologicalSort(services)
	if err != nil {
		return Plan{}, err
	}
	plan.Services = ordered
	return plan, nil
}

func fullStackServices(slug string) []ServiceSpec {
	return []ServiceSpec{
		{
			Role:      RoleFrontend,
			Name:      string(RoleFrontend),
			Dir:       "frontend",
			RepoName:  RepoName(slug, string(RoleFrontend)),
			DependsOn: []ServiceRole{RoleBackend},
			Env:       map[string]string{FrontendAPIEnvKey: "${" + RoleBackend.EnvVar() + "}/api"},
		},
		{
			Role:     RoleBackend,
			Name:     string(RoleBackend),
			Dir:      "backend",
			RepoName: RepoName(slug, string(RoleBackend)),
			Admin:    true,
		},
	}
}
