package domain

import "time"

// =============================================================================
// Hostnames
// =============================================================================

// DomainVerificationStatus represents the verification state of a hostname.
type DomainVerificationStatus string

const (
	DomainVerificationPending  DomainVerificationStatus = "pending"
	DomainVerificationVerified DomainVerificationStatus = "verified"
	DomainVerificationFailed   DomainVerificationStatus = "failed"
)

// Domain is a hostname the DNS stage pointed at a service endpoint.
type Domain struct {
	Hostname           string                   `json:"hostname"`
	Target             string                   `json:"target"`
	RecordType         string                   `json:"record_type"`
	VerificationStatus DomainVerificationStatus `json:"verification_status"`
	VerifiedAt         *time.Time               `json:"verified_at,omitempty"`
	LastCheckError     string                   `json:"last_check_error,omitempty"`
}

// NewDomain creates a hostname entry awaiting verification.
func NewDomain(hostname, target, recordType string) Domain {
	return Domain{
		Hostname:           hostname,
		Target:             target,
		RecordType:         recordType,
		VerificationStatus: DomainVerificationPending,
	}
}
