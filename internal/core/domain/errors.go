package domain

import "fmt"

// =============================================================================
// Stages
// =============================================================================

// Stage names a step of the deployment pipeline.
type Stage string

const (
	StageCredentials  Stage = "credentials"
	StageWorkspace    Stage = "workspace"
	StageRepositories Stage = "repositories"
	StageCompute      Stage = "compute"
	StageBuild        Stage = "build"
	StageDNS          Stage = "dns"
	StageComplete     Stage = "complete"
)

// Stages is the pipeline order.
var Stages = []Stage{
	StageCredentials,
	StageWorkspace,
	StageRepositories,
	StageCompute,
	StageBuild,
	StageDNS,
	StageComplete,
}

// =============================================================================
// Error Kinds
// =============================================================================

// ErrorKind classifies a deployment failure.
type ErrorKind string

const (
	KindCredentialMissing    ErrorKind = "CredentialMissing"
	KindWorkspacePrepFailure ErrorKind = "WorkspacePrepFailure"
	KindRepositoryProvision  ErrorKind = "RepositoryProvisionFailure"
	KindComputeProvision     ErrorKind = "ComputeProvisionFailure"
	KindBuildFailure         ErrorKind = "BuildFailure"
	KindBuildTimeout         ErrorKind = "BuildTimeout"
	KindDNSReconcileFailure  ErrorKind = "DNSReconcileFailure"
)

// Fatal reports whether an error of this kind stops the pipeline.
// Build timeouts and DNS failures are recorded and the run continues.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindBuildTimeout, KindDNSReconcileFailure:
		return false
	default:
		return true
	}
}

// =============================================================================
// Deployment Error
// =============================================================================

// DeploymentError is a classified failure carried in a DeploymentResult.
type DeploymentError struct {
	Stage    Stage     `json:"stage"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Fatal    bool      `json:"fatal"`
	Resource string    `json:"resource,omitempty"`
}

// NewDeploymentError creates an error whose fatality follows its kind.
func NewDeploymentError(stage Stage, kind ErrorKind, resource, message string) DeploymentError {
	return DeploymentError{
		Stage:    stage,
		Kind:     kind,
		Message:  message,
		Fatal:    kind.Fatal(),
		Resource: resource,
	}
}

// Error implements the error interface.
func (e DeploymentError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s [%s] %s: %s", e.Stage, e.Kind, e.Resource, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Stage, e.Kind, e.Message)
}
