package api

import (
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
)

// =============================================================================
// Request Types
// =============================================================================

// CreateDeploymentRequest is the request body for starting a deployment.
type CreateDeploymentRequest struct {
	ProjectPath         string `json:"project_path"`
	ProjectName         string `json:"project_name"`
	AppType             string `json:"app_type"`
	ParentSiteSubdomain string `json:"parent_site_subdomain,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// DeploymentResponse is the response for deployment operations.
type DeploymentResponse struct {
	ID                  string                   `json:"id"`
	Slug                string                   `json:"slug"`
	ProjectName         string                   `json:"project_name"`
	ProjectPath         string                   `json:"project_path"`
	AppType             string                   `json:"app_type"`
	ParentSiteSubdomain string                   `json:"parent_site_subdomain,omitempty"`
	Status              string                   `json:"status"`
	Result              *domain.DeploymentResult `json:"result,omitempty"`
	Domains             []DomainResponse         `json:"domains"`
	HasCredentials      bool                     `json:"has_credentials"`
	ErrorMessage        string                   `json:"error_message,omitempty"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
	StartedAt           *time.Time               `json:"started_at,omitempty"`
	CompletedAt         *time.Time               `json:"completed_at,omitempty"`
}

// DomainResponse represents a hostname in a deployment response.
type DomainResponse struct {
	Hostname       string     `json:"hostname"`
	Target         string     `json:"target"`
	RecordType     string     `json:"record_type"`
	Verification   string     `json:"verification"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	LastCheckError string     `json:"last_check_error,omitempty"`
}

// ListDeploymentsResponse is the response for listing deployments.
type ListDeploymentsResponse struct {
	Deployments []DeploymentResponse `json:"deployments"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

// CredentialsResponse carries the admin account seeded into a new backend.
type CredentialsResponse struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// =============================================================================
// Conversions
// =============================================================================

func deploymentToResponse(d *domain.Deployment) DeploymentResponse {
	resp := DeploymentResponse{
		ID:                  d.ID,
		Slug:                d.Slug,
		ProjectName:         d.Request.ProjectName,
		ProjectPath:         d.Request.ProjectPath,
		AppType:             string(d.Request.AppType),
		ParentSiteSubdomain: d.Request.ParentSiteSubdomain,
		Status:              string(d.Status),
		Result:              d.Result,
		Domains:             make([]DomainResponse, 0, len(d.Domains)),
		HasCredentials:      len(d.AdminPasswordEncrypted) > 0,
		ErrorMessage:        d.ErrorMessage,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
		StartedAt:           d.StartedAt,
		CompletedAt:         d.CompletedAt,
	}
	if resp.Result != nil {
		redacted := resp.Result.Redacted()
		resp.Result = &redacted
	}
	for _, dom := range d.Domains {
		resp.Domains = append(resp.Domains, DomainResponse{
			Hostname:       dom.Hostname,
			Target:         dom.Target,
			RecordType:     dom.RecordType,
			Verification:   string(dom.VerificationStatus),
			VerifiedAt:     dom.VerifiedAt,
			LastCheckError: dom.LastCheckError,
		})
	}
	return resp
}
