package domain

// =============================================================================
// Service Build State
// =============================================================================

// ServiceState is the build lifecycle of one compute service.
type ServiceState string

const (
	ServicePending     ServiceState = "pending"
	ServiceBuilding    ServiceState = "building"
	ServiceDeployed    ServiceState = "deployed"
	ServiceBuildFailed ServiceState = "build_failed"
	ServiceTimedOut    ServiceState = "timed_out"
)

var validServiceTransitions = map[ServiceState][]ServiceState{
	ServicePending:     {ServiceBuilding, ServiceDeployed, ServiceBuildFailed, ServiceTimedOut},
	ServiceBuilding:    {ServiceBuilding, ServiceDeployed, ServiceBuildFailed, ServiceTimedOut},
	ServiceDeployed:    {},
	ServiceBuildFailed: {},
	ServiceTimedOut:    {},
}

// Terminal reports whether polling should stop.
func (s ServiceState) Terminal() bool {
	return s == ServiceDeployed || s == ServiceBuildFailed || s == ServiceTimedOut
}

// ValidateServiceTransition checks a build state change.
func ValidateServiceTransition(from, to ServiceState) error {
	for _, s := range validServiceTransitions[from] {
		if s == to {
			return nil
		}
	}
	return ErrInvalidTransition
}
