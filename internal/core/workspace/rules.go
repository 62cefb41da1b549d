// Package workspace holds the pure rules for preparing a generated project
// before it is pushed: which paths are ignored, how database URLs are
// adjusted and what runtime config the frontend is built with.
package workspace

import (
	"net/url"
	"sort"
	"strings"
)

// =============================================================================
// Ignore Rules
// =============================================================================

// IgnoreFile is the name of the ignore file written at each service root.
const IgnoreFile = ".gitignore"

// DefaultIgnoreRules keep build output, dependencies and local secrets out of
// pushed repositories. .env.production is deliberately absent: the frontend
// reads it at build time.
var DefaultIgnoreRules = []string{
	"node_modules/",
	"dist/",
	"build/",
	".next/",
	".cache/",
	"coverage/",
	"__pycache__/",
	".venv/",
	"*.log",
	".DS_Store",
	".env",
	".env.local",
}

// MergeIgnore appends the rules missing from an existing ignore file.
// Existing content is kept as-is; merging twice is a no-op.
func MergeIgnore(existing string, rules []string) (string, bool) {
	present := make(map[string]bool)
	for _, line := range strings.Split(existing, "\n") {
		present[strings.TrimSpace(line)] = true
	}

	var missing []string
	for _, r := range rules {
		if !present[r] {
			missing = append(missing, r)
			present[r] = true
		}
	}
	if len(missing) == 0 {
		return existing, false
	}

	var b strings.Builder
	b.WriteString(existing)
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		b.WriteByte('\n')
	}
	for _, r := range missing {
		b.WriteString(r)
		b.WriteByte('\n')
	}
	return b.String(), true
}

// =============================================================================
// Database URLs
// =============================================================================

// DefaultDatabaseParam is appended to database URLs that lack it.
const DefaultDatabaseParam = "sslmode=require"

var databaseSchemes = []string{"postgres://", "postgresql://", "mysql://"}

// IsDatabaseURL reports whether an env entry holds a database connection
// string that should receive the connection parameter.
func IsDatabaseURL(key, value string) bool {
	if key == "DATABASE_URL" || strings.HasSuffix(key, "_DATABASE_URL") {
		return true
	}
	lower := strings.ToLower(value)
	for _, scheme := range databaseSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// AppendQueryParam adds param ("key=value") to a connection string unless
// the key is already present. The rest of the string is left untouched.
// It reports whether the string changed.
func AppendQueryParam(dsn, param string) (string, bool) {
	if dsn == "" || param == "" {
		return dsn, false
	}
	key, _, _ := strings.Cut(param, "=")

	base, rawQuery, hasQuery := strings.Cut(dsn, "?")
	if hasQuery {
		if values, err := url.ParseQuery(rawQuery); err == nil && values.Has(key) {
			return dsn, false
		}
		// Fall back to a textual check for queries url.ParseQuery rejects.
		for _, part := range strings.Split(rawQuery, "&") {
			if k, _, _ := strings.Cut(part, "="); k == key {
				return dsn, false
			}
		}
	}

	switch {
	case !hasQuery:
		return base + "?" + param, true
	case rawQuery == "" || strings.HasSuffix(rawQuery, "&"):
		return dsn + param, true
	default:
		return dsn + "&" + param, true
	}
}

// ApplyDatabaseParam returns env with param added to every database URL.
// The input map is not modified. The second result lists the keys changed.
func ApplyDatabaseParam(env map[string]string, param string) (map[string]string, []string) {
	out := make(map[string]string, len(env))
	var changed []string
	for k, v := range env {
		out[k] = v
		if !IsDatabaseURL(k, v) {
			continue
		}
		if updated, ok := AppendQueryParam(v, param); ok {
			out[k] = updated
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return out, changed
}

// =============================================================================
// Runtime Config
// =============================================================================

// RuntimeEnvFile is the env file the frontend build reads.
const RuntimeEnvFile = ".env.production"

// SourceEnvFile is the local env file a service's variables come from.
const SourceEnvFile = ".env"

// MergeEnv overlays computed onto existing. Computed keys win; other existing
// keys survive.
func MergeEnv(existing, computed map[string]string) map[string]string {
	out := make(map[string]string, len(existing)+len(computed))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range computed {
		out[k] = v
	}
	return out
}

// =============================================================================
// Service Directories
// =============================================================================

// ExcludedPaths are removed from a service directory before it is pushed.
var ExcludedPaths = []string{".git"}
