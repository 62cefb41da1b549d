package domain

import "strings"

// =============================================================================
// Slug Generation
// =============================================================================

// Slugify converts a name to a URL-safe slug.
//
// The transformation rules are:
//   - Lowercase letters (a-z) are kept as-is
//   - Digits (0-9) are kept as-is
//   - Hyphens (-) are kept as-is
//   - Uppercase letters (A-Z) are converted to lowercase
//   - Spaces and underscores are converted to hyphens
//   - All other characters are removed
//
// Example:
//
//	Slugify("Hello World")     // returns "hello-world"
//	Slugify("My App 2.0!")     // returns "my-app-20"
//	Slugify("Bakery_Site")     // returns "bakery-site"
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32)
		case r == ' ' || r == '_':
			b.WriteByte('-')
		}
	}
	return b.String()
}

// maxSlugLength keeps derived hostnames like api-<slug> inside a DNS label.
const maxSlugLength = 48

// ProjectSlug derives the stable identifier used for repositories, compute
// projects and hostnames. Runs of hyphens collapse and edges are trimmed so
// the result is always a valid DNS label (or empty).
func ProjectSlug(name string) string {
	slug := Slugify(strings.TrimSpace(name))
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}
