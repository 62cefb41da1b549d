package deployment

import (
	"regexp"
	"sort"
)

// =============================================================================
// Variable Substitution Functions
// =============================================================================

// varPlaceholderRegex matches ${VAR} and ${VAR:-default} patterns.
// Groups:
//   - Group 1: Variable name
//   - Group 2: ":-default" when present
//   - Group 3: Default value
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// SubstituteVariables replaces ${VAR} and ${VAR:-default} placeholders with values
// from the variables map.
//
// Behavior:
//   - ${VAR} - replaced with variables["VAR"] if exists, otherwise kept as-is
//   - ${VAR:-default} - replaced with variables["VAR"] if exists, otherwise "default"
//   - Unmatched text is left unchanged
//
// Examples:
//
//	SubstituteVariables("${BACKEND_URL}/api", map[string]string{"BACKEND_URL": "https://b.up.railway.app"})
//	// Returns: "https://b.up.railway.app/api"
//
//	SubstituteVariables("${PORT:-8080}", nil)
//	// Returns: "8080"
func SubstituteVariables(value string, variables map[string]string) string {
	return varPlaceholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		submatch := varPlaceholderRegex.FindStringSubmatch(match)
		if val, ok := variables[submatch[1]]; ok {
			return val
		}
		if submatch[2] != "" {
			return submatch[3]
		}
		return match
	})
}

// UnresolvedVariables lists placeholders in value that have neither a
// value in variables nor a default. The result is sorted and unique.
func UnresolvedVariables(value string, variables map[string]string) []string {
	seen := make(map[string]bool)
	for _, submatch := range varPlaceholderRegex.FindAllStringSubmatch(value, -1) {
		if _, ok := variables[submatch[1]]; ok || submatch[2] != "" {
			continue
		}
		seen[submatch[1]] = true
	}
	missing := make([]string, 0, len(seen))
	for name := range seen {
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return missing
}

// ResolveEnv renders every template in env. It returns the rendered map and
// the names of placeholders that could not be resolved.
func ResolveEnv(env map[string]string, variables map[string]string) (map[string]string, []string) {
	rendered := make(map[string]string, len(env))
	var missing []string
	for key, tmpl := range env {
		missing = append(missing, UnresolvedVariables(tmpl, variables)...)
		rendered[key] = SubstituteVariables(tmpl, variables)
	}
	sort.Strings(missing)
	return rendered, missing
}
