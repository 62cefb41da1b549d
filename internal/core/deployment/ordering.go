package deployment

import (
	"errors"
	"fmt"
)

var (
	ErrDependencyCycle   = errors.New("service dependency cycle")
	ErrUnknownDependency = errors.New("service depends on unknown service")
)

// =============================================================================
// Service Ordering Functions
// =============================================================================

// TopologicalSort sorts services by their dependencies using Kahn's algorithm.
// Services with no dependencies come first. Ties keep input order so the
// result is deterministic.
//
// The function implements a BFS-based topological sort:
//  1. Build a map of service dependencies (in-degree)
//  2. Start with services that have no dependencies (in-degree = 0)
//  3. Process each service, reducing the in-degree of its dependents
//  4. When a dependent's in-degree reaches 0, add it to the queue
//
// Example:
//
//	// frontend depends on backend
//	services := []ServiceSpec{
//	    {Role: RoleFrontend, DependsOn: []ServiceRole{RoleBackend}},
//	    {Role: RoleBackend},
//	}
//	sorted, _ := TopologicalSort(services)
//	// Result: [backend, frontend]
func TopologicalSort(services []ServiceSpec) ([]ServiceSpec, error) {
	if len(services) == 0 {
		return services, nil
	}

	index := make(map[ServiceRole]int, len(services))
	for i, svc := range services {
		index[svc.Role] = i
	}

	inDegree := make([]int, len(services))
	dependents := make([][]int, len(services))
	for i, svc := range services {
		for _, dep := range svc.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %s -> %s", ErrUnknownDependency, svc.Role, dep)
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var queue []int
	for i := range services {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	result := make([]ServiceSpec, 0, len(services))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		result = append(result, services[i])

		for _, dep := range dependents[i] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(result) < len(services) {
		return nil, ErrDependencyCycle
	}
	return result, nil
}
