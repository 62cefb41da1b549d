package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrInvalidAppType      = errors.New("invalid app type")
	ErrProjectPathRequired = errors.New("project path is required")
	ErrProjectNameRequired = errors.New("project name is required")
	ErrParentSiteRequired  = errors.New("parent site subdomain is required for companion apps")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// =============================================================================
// App Types
// =============================================================================

// AppType selects which services, repositories and hostnames a deployment gets.
type AppType string

const (
	AppTypeWebsite      AppType = "website"
	AppTypeCompanionApp AppType = "companion-app"
	AppTypeAdvancedApp  AppType = "advanced-app"
)

// AppTypes lists every supported app type.
var AppTypes = []AppType{AppTypeWebsite, AppTypeCompanionApp, AppTypeAdvancedApp}

// Valid reports whether t is a known app type.
func (t AppType) Valid() bool {
	for _, known := range AppTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseAppType converts user input into an AppType.
func ParseAppType(s string) (AppType, error) {
	t := AppType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAppType, s)
	}
	return t, nil
}

// =============================================================================
// Deployment Request
// =============================================================================

// DeploymentRequest is the input to a single orchestrated deployment.
type DeploymentRequest struct {
	ProjectPath         string  `json:"project_path" yaml:"project_path"`
	ProjectName         string  `json:"project_name" yaml:"project_name"`
	AppType             AppType `json:"app_type" yaml:"app_type"`
	ParentSiteSubdomain string  `json:"parent_site_subdomain,omitempty" yaml:"parent_site_subdomain,omitempty"`
}

// Validate checks the request shape. It does not touch the filesystem.
func (r DeploymentRequest) Validate() error {
	if strings.TrimSpace(r.ProjectPath) == "" {
		return ErrProjectPathRequired
	}
	if ProjectSlug(r.ProjectName) == "" {
		return ErrProjectNameRequired
	}
	if !r.AppType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAppType, r.AppType)
	}
	if r.AppType == AppTypeCompanionApp && ProjectSlug(r.ParentSiteSubdomain) == "" {
		return ErrParentSiteRequired
	}
	return nil
}

// =============================================================================
// Result
// =============================================================================

// URLs holds the public endpoints of a deployment.
type URLs struct {
	Frontend     string `json:"frontend"`
	Backend      string `json:"backend,omitempty"`
	Admin        string `json:"admin,omitempty"`
	CompanionURL string `json:"companionUrl,omitempty"`
}

// AdminCredentials are generated when a backend has no admin login yet.
type AdminCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// DeploymentResult is the immutable summary returned to callers.
type DeploymentResult struct {
	Success          bool                  `json:"success"`
	URLs             URLs                  `json:"urls"`
	Credentials      *AdminCredentials     `json:"credentials,omitempty"`
	ComputeProjectID string                `json:"railwayProjectId,omitempty"`
	Errors           []DeploymentError     `json:"errors,omitempty"`
	Resources        []ProvisionedResource `json:"resources,omitempty"`
	// Domains are the hostnames whose records were written.
	Domains []Domain `json:"domains,omitempty"`
}

// NewDeploymentResult builds a result and derives Success: no fatal error
// was recorded and a frontend URL exists.
func NewDeploymentResult(urls URLs, creds *AdminCredentials, projectID string, errs []DeploymentError, resources []ProvisionedResource) DeploymentResult {
	result := DeploymentResult{
		URLs:             urls,
		ComputeProjectID: projectID,
		Errors:           append([]DeploymentError(nil), errs...),
		Resources:        append([]ProvisionedResource(nil), resources...),
	}
	if creds != nil {
		c := *creds
		result.Credentials = &c
	}
	result.Success = urls.Frontend != "" && len(result.FatalErrors()) == 0
	return result
}

// Redacted returns a copy without the admin password. The email is kept so
// the caller knows which account was seeded.
func (r DeploymentResult) Redacted() DeploymentResult {
	if r.Credentials != nil {
		r.Credentials = &AdminCredentials{Email: r.Credentials.Email}
	}
	return r
}

// FatalErrors returns the errors that aborted the run.
func (r DeploymentResult) FatalErrors() []DeploymentError {
	var fatal []DeploymentError
	for _, e := range r.Errors {
		if e.Fatal {
			fatal = append(fatal, e)
		}
	}
	return fatal
}

// Warnings returns the non-fatal errors.
func (r DeploymentResult) Warnings() []DeploymentError {
	var warnings []DeploymentError
	for _, e := range r.Errors {
		if !e.Fatal {
			warnings = append(warnings, e)
		}
	}
	return warnings
}

// =============================================================================
// Deployment Status
// =============================================================================

// DeploymentStatus is the lifecycle of a persisted deployment run.
type DeploymentStatus string

const (
	StatusPending   DeploymentStatus = "pending"
	StatusRunning   DeploymentStatus = "running"
	StatusSucceeded DeploymentStatus = "succeeded"
	StatusFailed    DeploymentStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s DeploymentStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// =============================================================================
// Deployment
// =============================================================================

// Deployment is a persisted record of one orchestrated run.
type Deployment struct {
	ID                     string            `json:"id"`
	Request                DeploymentRequest `json:"request"`
	Slug                   string            `json:"slug"`
	Status                 DeploymentStatus  `json:"status"`
	Result                 *DeploymentResult `json:"result,omitempty"`
	Domains                []Domain          `json:"domains,omitempty"`
	AdminPasswordEncrypted []byte            `json:"-"`
	ErrorMessage           string            `json:"error_message,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
	StartedAt              *time.Time        `json:"started_at,omitempty"`
	CompletedAt            *time.Time        `json:"completed_at,omitempty"`
}

// NewDeployment creates a pending deployment for a validated request.
func NewDeployment(req DeploymentRequest) (*Deployment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Deployment{
		ID:        uuid.New().String(),
		Request:   req,
		Slug:      ProjectSlug(req.ProjectName),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Transition attempts to move the deployment to a new status.
func (d *Deployment) Transition(to DeploymentStatus) error {
	if err := ValidateTransition(d.Status, to); err != nil {
		return err
	}
	now := time.Now().UTC()
	d.Status = to
	d.UpdatedAt = now
	switch to {
	case StatusRunning:
		d.StartedAt = &now
	case StatusSucceeded, StatusFailed:
		d.CompletedAt = &now
	}
	return nil
}

// Complete records the final result and moves to the matching terminal status.
func (d *Deployment) Complete(result DeploymentResult) error {
	to := StatusSucceeded
	if !result.Success {
		to = StatusFailed
	}
	if err := d.Transition(to); err != nil {
		return err
	}
	d.Result = &result
	if !result.Success {
		d.ErrorMessage = summarize(result.FatalErrors())
	}
	return nil
}

// Fail marks a run that could not produce a result at all.
func (d *Deployment) Fail(message string) error {
	if err := d.Transition(StatusFailed); err != nil {
		return err
	}
	d.ErrorMessage = message
	return nil
}

func summarize(errs []DeploymentError) string {
	if len(errs) == 0 {
		return "deployment did not produce a frontend URL"
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// =============================================================================
// State Machine
// =============================================================================

var validTransitions = map[DeploymentStatus][]DeploymentStatus{
	StatusPending:   {StatusRunning, StatusFailed},
	StatusRunning:   {StatusSucceeded, StatusFailed},
	StatusSucceeded: {},
	StatusFailed:    {},
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to DeploymentStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
