package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() DeploymentRequest {
	return DeploymentRequest{
		ProjectPath: "/tmp/bakery",
		ProjectName: "Joe's Bakery",
		AppType:     AppTypeWebsite,
	}
}

// =============================================================================
// App Type Tests
// =============================================================================

func TestParseAppType(t *testing.T) {
	tests := []struct {
		input   string
		want    AppType
		wantErr bool
	}{
		{"website", AppTypeWebsite, false},
		{" Companion-App ", AppTypeCompanionApp, false},
		{"advanced-app", AppTypeAdvancedApp, false},
		{"mobile", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAppType(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAppType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Request Validation Tests
// =============================================================================

func TestDeploymentRequest_Validate(t *testing.T) {
	assert.NoError(t, validRequest().Validate())

	req := validRequest()
	req.ProjectPath = " "
	assert.ErrorIs(t, req.Validate(), ErrProjectPathRequired)

	req = validRequest()
	req.ProjectName = "???"
	assert.ErrorIs(t, req.Validate(), ErrProjectNameRequired)

	req = validRequest()
	req.AppType = "desktop"
	assert.ErrorIs(t, req.Validate(), ErrInvalidAppType)
}

func TestDeploymentRequest_CompanionNeedsParent(t *testing.T) {
	req := validRequest()
	req.AppType = AppTypeCompanionApp
	assert.ErrorIs(t, req.Validate(), ErrParentSiteRequired)

	req.ParentSiteSubdomain = "joes-bakery"
	assert.NoError(t, req.Validate())
}

// =============================================================================
// Result Tests
// =============================================================================

func TestNewDeploymentResult_SuccessRequiresFrontend(t *testing.T) {
	result := NewDeploymentResult(URLs{}, nil, "proj", nil, nil)
	assert.False(t, result.Success)

	result = NewDeploymentResult(URLs{Frontend: "https://x.example.com"}, nil, "proj", nil, nil)
	assert.True(t, result.Success)
}

func TestNewDeploymentResult_NonFatalErrorsKeepSuccess(t *testing.T) {
	errs := []DeploymentError{
		NewDeploymentError(StageDNS, KindDNSReconcileFailure, "joes-bakery.example.com", "zone locked"),
		NewDeploymentError(StageBuild, KindBuildTimeout, "frontend", "still building"),
	}
	result := NewDeploymentResult(URLs{Frontend: "https://fe.up.railway.app"}, nil, "proj", errs, nil)

	assert.True(t, result.Success)
	assert.Empty(t, result.FatalErrors())
	assert.Len(t, result.Warnings(), 2)
}

func TestNewDeploymentResult_FatalErrorFails(t *testing.T) {
	errs := []DeploymentError{NewDeploymentError(StageBuild, KindBuildFailure, "backend", "exit 1")}
	result := NewDeploymentResult(URLs{Frontend: "https://fe.up.railway.app"}, nil, "proj", errs, nil)

	assert.False(t, result.Success)
	assert.Len(t, result.FatalErrors(), 1)
}

func TestNewDeploymentResult_CopiesInputs(t *testing.T) {
	errs := []DeploymentError{NewDeploymentError(StageDNS, KindDNSReconcileFailure, "", "x")}
	creds := &AdminCredentials{Email: "admin@x", Password: "p"}
	result := NewDeploymentResult(URLs{Frontend: "https://x"}, creds, "", errs, nil)

	errs[0].Message = "mutated"
	creds.Password = "changed"

	assert.Equal(t, "x", result.Errors[0].Message)
	assert.Equal(t, "p", result.Credentials.Password)
}

func TestDeploymentResult_Redacted(t *testing.T) {
	creds := &AdminCredentials{Email: "admin@acme.example.com", Password: "s3cret-password"}
	result := NewDeploymentResult(URLs{Frontend: "https://acme.example.com"}, creds, "p1", nil, nil)

	redacted := result.Redacted()
	require.NotNil(t, redacted.Credentials)
	assert.Equal(t, "admin@acme.example.com", redacted.Credentials.Email)
	assert.Empty(t, redacted.Credentials.Password)
	assert.Equal(t, "s3cret-password", result.Credentials.Password)

	assert.Nil(t, NewDeploymentResult(URLs{}, nil, "", nil, nil).Redacted().Credentials)
}

func TestErrorKind_Fatal(t *testing.T) {
	assert.True(t, KindCredentialMissing.Fatal())
	assert.True(t, KindWorkspacePrepFailure.Fatal())
	assert.True(t, KindRepositoryProvision.Fatal())
	assert.True(t, KindComputeProvision.Fatal())
	assert.True(t, KindBuildFailure.Fatal())
	assert.False(t, KindBuildTimeout.Fatal())
	assert.False(t, KindDNSReconcileFailure.Fatal())
}

func TestDeploymentError_Error(t *testing.T) {
	err := NewDeploymentError(StageRepositories, KindRepositoryProvision, "bakery-frontend", "quota exceeded")
	assert.Equal(t, "repositories [RepositoryProvisionFailure] bakery-frontend: quota exceeded", err.Error())
	assert.True(t, err.Fatal)
}

// =============================================================================
// Deployment Lifecycle Tests
// =============================================================================

func TestNewDeployment(t *testing.T) {
	d, err := NewDeployment(validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "joes-bakery", d.Slug)
	assert.Equal(t, StatusPending, d.Status)
	assert.NotZero(t, d.CreatedAt)
}

func TestNewDeployment_InvalidRequest(t *testing.T) {
	req := validRequest()
	req.AppType = ""
	_, err := NewDeployment(req)
	assert.ErrorIs(t, err, ErrInvalidAppType)
}

func TestDeployment_Complete(t *testing.T) {
	d, err := NewDeployment(validRequest())
	require.NoError(t, err)
	require.NoError(t, d.Transition(StatusRunning))
	assert.NotNil(t, d.StartedAt)

	result := NewDeploymentResult(URLs{Frontend: "https://joes-bakery.example.com"}, nil, "p1", nil, nil)
	require.NoError(t, d.Complete(result))

	assert.Equal(t, StatusSucceeded, d.Status)
	assert.NotNil(t, d.CompletedAt)
	assert.Empty(t, d.ErrorMessage)
}

func TestDeployment_CompleteWithFailure(t *testing.T) {
	d, err := NewDeployment(validRequest())
	require.NoError(t, err)
	require.NoError(t, d.Transition(StatusRunning))

	result := NewDeploymentResult(URLs{}, nil, "", []DeploymentError{
		NewDeploymentError(StageCredentials, KindCredentialMissing, "", "dns.token"),
	}, nil)
	require.NoError(t, d.Complete(result))

	assert.Equal(t, StatusFailed, d.Status)
	assert.Contains(t, d.ErrorMessage, "CredentialMissing")
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StatusPending, StatusRunning))
	assert.NoError(t, ValidateTransition(StatusRunning, StatusFailed))
	assert.ErrorIs(t, ValidateTransition(StatusSucceeded, StatusRunning), ErrInvalidTransition)
	assert.ErrorIs(t, ValidateTransition(StatusPending, StatusSucceeded), ErrInvalidTransition)
}

// =============================================================================
// Resource Tests
// =============================================================================

func TestProvisionedResource_SettlesOnce(t *testing.T) {
	r := NewResource(ResourceRepository, "bakery-frontend")
	assert.False(t, r.Settled())

	require.NoError(t, r.MarkReused("123"))
	assert.Equal(t, ResourceReused, r.State)
	assert.Equal(t, "123", r.ExternalID)

	assert.ErrorIs(t, r.MarkCreated("456"), ErrResourceSettled)
	assert.Equal(t, "123", r.ExternalID)
}

func TestProvisionedResource_MarkFailed(t *testing.T) {
	r := NewResource(ResourceComputeService, "backend")
	require.NoError(t, r.MarkFailed("boom"))
	assert.Equal(t, ResourceFailed, r.State)
	assert.Equal(t, "boom", r.Message)
}

func TestValidateServiceTransition(t *testing.T) {
	assert.NoError(t, ValidateServiceTransition(ServicePending, ServiceBuilding))
	assert.NoError(t, ValidateServiceTransition(ServiceBuilding, ServiceBuilding))
	assert.NoError(t, ValidateServiceTransition(ServiceBuilding, ServiceDeployed))
	assert.ErrorIs(t, ValidateServiceTransition(ServiceDeployed, ServiceBuilding), ErrInvalidTransition)
	assert.True(t, ServiceTimedOut.Terminal())
	assert.False(t, ServiceBuilding.Terminal())
}
