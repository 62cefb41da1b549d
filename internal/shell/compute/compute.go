// Package compute drives the compute platform that builds and hosts
// services: projects, services, variables, endpoints and deploys.
package compute

import (
	"context"
	"errors"
	"strings"

	"github.com/artpar/shipyard/internal/core/domain"
)

var (
	ErrNotFound     = errors.New("compute resource not found")
	ErrUnauthorized = errors.New("compute credentials rejected")
)

// Project is a compute project and the environment services deploy into.
type Project struct {
	ID            string
	Name          string
	EnvironmentID string
	Reused        bool
}

// Service is a deployable unit bound to a source repository.
type Service struct {
	ID     string
	Name   string
	Reused bool
}

// ServiceRef addresses a service within a project environment.
type ServiceRef struct {
	ProjectID     string
	EnvironmentID string
	ServiceID     string
}

// Deployment is one build/deploy attempt of a service.
type Deployment struct {
	ID     string
	Status string
}

// Platform is the compute platform API.
type Platform interface {
	FindProject(ctx context.Context, name string) (Project, error)
	CreateProject(ctx context.Context, name string) (Project, error)
	FindService(ctx context.Context, projectID, name string) (Service, error)
	CreateService(ctx context.Context, projectID, name, repoFullName string) (Service, error)
	UpsertVariables(ctx context.Context, ref ServiceRef, vars map[string]string) error
	ServiceVariables(ctx context.Context, ref ServiceRef) (map[string]string, error)
	// ServiceDomain returns the service's generated public hostname,
	// creating one if it has none.
	ServiceDomain(ctx context.Context, ref ServiceRef) (string, error)
	// TriggerDeploy starts a build and returns the new deployment's ID.
	TriggerDeploy(ctx context.Context, ref ServiceRef) (string, error)
	Deployment(ctx context.Context, ref ServiceRef, id string) (Deployment, error)
}

// MapStatus converts a platform deployment status into a build state.
func MapStatus(status string) domain.ServiceState {
	switch strings.ToUpper(status) {
	case "SUCCESS":
		return domain.ServiceDeployed
	case "FAILED", "CRASHED", "REMOVED":
		return domain.ServiceBuildFailed
	case "BUILDING", "DEPLOYING", "INITIALIZING", "QUEUED", "WAITING":
		return domain.ServiceBuilding
	default:
		return domain.ServicePending
	}
}
