package domain

import (
	"errors"
	"fmt"
)

var ErrResourceSettled = errors.New("resource already settled")

// =============================================================================
// Provisioned Resources
// =============================================================================

// ResourceKind identifies what an external resource is.
type ResourceKind string

const (
	ResourceRepository     ResourceKind = "repository"
	ResourceComputeProject ResourceKind = "compute_project"
	ResourceComputeService ResourceKind = "compute_service"
	ResourceDNSRecord      ResourceKind = "dns_record"
)

// ResourceState is the lifecycle of a single provisioned resource.
// pending -> created | reused | failed, all terminal.
type ResourceState string

const (
	ResourcePending ResourceState = "pending"
	ResourceCreated ResourceState = "created"
	ResourceReused  ResourceState = "reused"
	ResourceFailed  ResourceState = "failed"
)

// ProvisionedResource tracks one external object touched by a run.
type ProvisionedResource struct {
	Kind       ResourceKind  `json:"kind"`
	Name       string        `json:"name"`
	ExternalID string        `json:"externalId,omitempty"`
	State      ResourceState `json:"state"`
	RetryCount int           `json:"retryCount"`
	Message    string        `json:"message,omitempty"`
}

// NewResource starts tracking a resource in the pending state.
func NewResource(kind ResourceKind, name string) ProvisionedResource {
	return ProvisionedResource{Kind: kind, Name: name, State: ResourcePending}
}

// MarkCreated records that the resource was newly created.
func (r *ProvisionedResource) MarkCreated(externalID string) error {
	return r.settle(ResourceCreated, externalID, "")
}

// MarkReused records that an existing resource was adopted.
func (r *ProvisionedResource) MarkReused(externalID string) error {
	return r.settle(ResourceReused, externalID, "")
}

// MarkFailed records a terminal failure.
func (r *ProvisionedResource) MarkFailed(message string) error {
	return r.settle(ResourceFailed, r.ExternalID, message)
}

func (r *ProvisionedResource) settle(to ResourceState, externalID, message string) error {
	if r.State != ResourcePending {
		return fmt.Errorf("%w: %s %s is %s", ErrResourceSettled, r.Kind, r.Name, r.State)
	}
	r.State = to
	r.ExternalID = externalID
	r.Message = message
	return nil
}

// Settled reports whether the resource reached a terminal state.
func (r ProvisionedResource) Settled() bool {
	return r.State != ResourcePending
}
