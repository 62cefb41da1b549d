package deployment

import (
	"fmt"
	"strings"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

// ComputeHostSuffix is the public suffix of generated compute endpoints.
const ComputeHostSuffix = "up.railway.app"

// RepoName generates a repository name for a service of a project.
// Pattern: {slug}-{suffix}
//
// Example:
//
//	RepoName("joes-bakery", "frontend") // returns "joes-bakery-frontend"
func RepoName(slug, suffix string) string {
	return fmt.Sprintf("%s-%s", slug, suffix)
}

// Hostname joins a label and a zone domain.
//
// Example:
//
//	Hostname("joes-bakery", "sites.example.com") // returns "joes-bakery.sites.example.com"
func Hostname(label, zoneDomain string) string {
	return strings.ToLower(fmt.Sprintf("%s.%s", label, strings.TrimSuffix(zoneDomain, ".")))
}

// APIHostLabel is the hostname label of a project's public API.
// Pattern: api-{slug}
func APIHostLabel(slug string) string {
	return "api-" + slug
}

// CompanionHostLabel is the label under the site zone that aliases a
// companion app of a parent site.
// Pattern: {parent}-app
func CompanionHostLabel(parentSlug string) string {
	return parentSlug + "-app"
}

// DefaultBackendHost is the compute hostname a backend gets before any
// custom domain is attached.
// Pattern: {ownerSlug}-backend-production.up.railway.app
func DefaultBackendHost(ownerSlug string) string {
	return fmt.Sprintf("%s-backend-production.%s", ownerSlug, ComputeHostSuffix)
}

// APIBaseURL is the URL a frontend uses to reach the backend API owned by
// ownerSlug. Companion apps pass the parent site's slug.
//
// Example:
//
//	APIBaseURL("joes-bakery") // returns "https://joes-bakery-backend-production.up.railway.app/api"
func APIBaseURL(ownerSlug string) string {
	return "https://" + DefaultBackendHost(ownerSlug) + "/api"
}

// HTTPSURL turns a bare host or URL into an https URL without a trailing slash.
func HTTPSURL(host string) string {
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "https://") || strings.HasPrefix(host, "http://") {
		return host
	}
	return "https://" + host
}

// AdminEmail generates the bootstrap admin login for a site.
// Pattern: admin@{hostname}
func AdminEmail(hostname string) string {
	return "admin@" + hostname
}
