// Package dns contains pure functions for DNS record planning and
// verification.
// This is part of the Functional Core - all functions are pure with no I/O.
package dns

import (
	"errors"
	"net"
	"regexp"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInvalidHostname = errors.New("invalid hostname format")
	ErrHostnameTooLong = errors.New("hostname must be under 253 characters")
	ErrInvalidTarget   = errors.New("invalid record target")
	ErrOutsideZone     = errors.New("hostname is outside the zone")
)

// =============================================================================
// Records
// =============================================================================

const (
	TypeA     = "A"
	TypeCNAME = "CNAME"
)

// Record is a provider-neutral DNS record.
type Record struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// =============================================================================
// Validation
// =============================================================================

var hostnameRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// NormalizeHostname lowercases and strips surrounding space and a trailing dot.
func NormalizeHostname(hostname string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
}

// ValidateHostname validates a hostname format for use in a record.
func ValidateHostname(hostname string) error {
	hostname = NormalizeHostname(hostname)
	if hostname == "" {
		return ErrInvalidHostname
	}
	if len(hostname) > 253 {
		return ErrHostnameTooLong
	}
	if !hostnameRegex.MatchString(hostname) {
		return ErrInvalidHostname
	}
	return nil
}

// InZone reports whether hostname is the zone apex or a name under it.
func InZone(hostname, zone string) bool {
	hostname, zone = NormalizeHostname(hostname), NormalizeHostname(zone)
	return hostname == zone || strings.HasSuffix(hostname, "."+zone)
}

// RelativeName returns hostname relative to zone ("@" for the apex).
func RelativeName(hostname, zone string) string {
	hostname, zone = NormalizeHostname(hostname), NormalizeHostname(zone)
	if hostname == zone {
		return "@"
	}
	return strings.TrimSuffix(hostname, "."+zone)
}

// =============================================================================
// Record Planning
// =============================================================================

// TargetHost strips a scheme and path from an endpoint URL.
//
//	TargetHost("https://fe-production.up.railway.app/") // "fe-production.up.railway.app"
func TargetHost(endpoint string) string {
	host := strings.TrimSpace(endpoint)
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	return NormalizeHostname(host)
}

// RecordTypeFor returns A for an IPv4 target and CNAME for a hostname.
func RecordTypeFor(target string) (string, error) {
	if ip := net.ParseIP(target); ip != nil {
		if ip.To4() == nil {
			return "", ErrInvalidTarget
		}
		return TypeA, nil
	}
	if ValidateHostname(target) != nil {
		return "", ErrInvalidTarget
	}
	return TypeCNAME, nil
}

// DesiredRecord builds the record that should exist for hostname.
func DesiredRecord(hostname, zone, endpoint string, ttl int, proxied bool) (Record, error) {
	if err := ValidateHostname(hostname); err != nil {
		return Record{}, err
	}
	if !InZone(hostname, zone) {
		return Record{}, ErrOutsideZone
	}
	target := TargetHost(endpoint)
	recordType, err := RecordTypeFor(target)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Type:    recordType,
		Name:    NormalizeHostname(hostname),
		Content: target,
		TTL:     ttl,
		Proxied: proxied,
	}, nil
}

// Conflicting returns the existing records that share hostname. They must
// be removed before the desired record is created.
func Conflicting(existing []Record, hostname string) []Record {
	hostname = NormalizeHostname(hostname)
	var out []Record
	for _, r := range existing {
		if NormalizeHostname(r.Name) == hostname {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// Verification
// =============================================================================

// VerificationInput contains DNS lookup results passed from the shell layer.
type VerificationInput struct {
	Hostname     string
	CNAMERecords []string
	ARecords     []net.IP
	LookupError  string
}

// VerificationResult is the pure output of verification logic.
type VerificationResult struct {
	Verified bool
	Method   string
	Error    string
}

// Verify checks whether lookup results point at the expected target.
// Proxied records resolve to the DNS provider's edge rather than the
// target, so any A record counts when proxied is set.
func Verify(input VerificationInput, expectedTarget string, proxied bool) VerificationResult {
	if input.LookupError != "" {
		return VerificationResult{
			Verified: false,
			Error:    "DNS lookup failed: " + input.LookupError,
		}
	}

	expected := NormalizeHostname(expectedTarget)
	for _, cname := range input.CNAMERecords {
		if NormalizeHostname(cname) == expected {
			return VerificationResult{Verified: true, Method: TypeCNAME}
		}
	}

	for _, a := range input.ARecords {
		if proxied || a.String() == expected {
			return VerificationResult{Verified: true, Method: TypeA}
		}
	}

	return VerificationResult{
		Verified: false,
		Error:    "DNS records do not point to the expected target",
	}
}
