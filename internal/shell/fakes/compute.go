package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/artpar/shipyard/internal/shell/compute"
)

// Compute is an in-memory compute platform. Each triggered deployment
// reports the statuses queued with SetStatuses; the last status repeats.
// Without statuses a build succeeds immediately.
type Compute struct {
	recorder

	mu           sync.Mutex
	projects     map[string]compute.Project
	projectNames map[string]string
	services     map[string]map[string]compute.Service
	serviceNames map[string]string
	variables    map[string]map[string]string
	domains      map[string]string
	statuses     map[string][]string
	deployments  map[string]string
	polls        map[string]int
	nextID       int
}

// NewCompute creates an empty platform.
func NewCompute() *Compute {
	return &Compute{
		projects:     make(map[string]compute.Project),
		projectNames: make(map[string]string),
		services:     make(map[string]map[string]compute.Service),
		serviceNames: make(map[string]string),
		variables:    make(map[string]map[string]string),
		domains:      make(map[string]string),
		statuses:     make(map[string][]string),
		deployments:  make(map[string]string),
		polls:        make(map[string]int),
	}
}

func (c *Compute) id(prefix string) string {
	c.nextID++
	return fmt.Sprintf("%s-%d", prefix, c.nextID)
}

// SetStatuses queues the deployment statuses a service reports.
func (c *Compute) SetStatuses(service string, statuses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[service] = statuses
}

func (c *Compute) FindProject(ctx context.Context, name string) (compute.Project, error) {
	if err := c.record("FindProject", name); err != nil {
		return compute.Project{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.projects[name]
	if !ok {
		return compute.Project{}, fmt.Errorf("project %s: %w", name, compute.ErrNotFound)
	}
	p.Reused = true
	return p, nil
}

func (c *Compute) CreateProject(ctx context.Context, name string) (compute.Project, error) {
	if err := c.record("CreateProject", name); err != nil {
		return compute.Project{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p := compute.Project{ID: c.id("prj"), Name: name, EnvironmentID: c.id("env")}
	c.projects[name] = p
	c.projectNames[p.ID] = name
	c.services[p.ID] = make(map[string]compute.Service)
	return p, nil
}

func (c *Compute) FindService(ctx context.Context, projectID, name string) (compute.Service, error) {
	if err := c.record("FindService", projectID, name); err != nil {
		return compute.Service{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.services[projectID][name]
	if !ok {
		return compute.Service{}, fmt.Errorf("service %s: %w", name, compute.ErrNotFound)
	}
	s.Reused = true
	return s, nil
}

func (c *Compute) CreateService(ctx context.Context, projectID, name, repoFullName string) (compute.Service, error) {
	if err := c.record("CreateService", projectID, name, repoFullName); err != nil {
		return compute.Service{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.services[projectID]; !ok {
		return compute.Service{}, fmt.Errorf("project %s: %w", projectID, compute.ErrNotFound)
	}
	s := compute.Service{ID: c.id("svc"), Name: name}
	c.services[projectID][name] = s
	c.serviceNames[s.ID] = name
	return s, nil
}

func (c *Compute) UpsertVariables(ctx context.Context, ref compute.ServiceRef, vars map[string]string) error {
	if err := c.record("UpsertVariables", ref.ServiceID); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.variables[ref.ServiceID] == nil {
		c.variables[ref.ServiceID] = make(map[string]string)
	}
	for k, v := range vars {
		c.variables[ref.ServiceID][k] = v
	}
	return nil
}

func (c *Compute) ServiceVariables(ctx context.Context, ref compute.ServiceRef) (map[string]string, error) {
	if err := c.record("ServiceVariables", ref.ServiceID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.variables[ref.ServiceID]))
	for k, v := range c.variables[ref.ServiceID] {
		out[k] = v
	}
	return out, nil
}

func (c *Compute) ServiceDomain(ctx context.Context, ref compute.ServiceRef) (string, error) {
	if err := c.record("ServiceDomain", ref.ServiceID); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.domains[ref.ServiceID]; ok {
		return d, nil
	}
	d := fmt.Sprintf("%s-%s-production.up.railway.app", c.projectNames[ref.ProjectID], c.serviceNames[ref.ServiceID])
	c.domains[ref.ServiceID] = d
	return d, nil
}

func (c *Compute) TriggerDeploy(ctx context.Context, ref compute.ServiceRef) (string, error) {
	if err := c.record("TriggerDeploy", ref.ServiceID); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.id("dep")
	c.deployments[id] = ref.ServiceID
	return id, nil
}

func (c *Compute) Deployment(ctx context.Context, ref compute.ServiceRef, id string) (compute.Deployment, error) {
	if err := c.record("Deployment", ref.ServiceID, id); err != nil {
		return compute.Deployment{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deployments[id] != ref.ServiceID {
		return compute.Deployment{}, fmt.Errorf("deployment %s: %w", id, compute.ErrNotFound)
	}
	statuses := c.statuses[c.serviceNames[ref.ServiceID]]
	if len(statuses) == 0 {
		statuses = []string{"SUCCESS"}
	}
	i := c.polls[id]
	if i >= len(statuses) {
		i = len(statuses) - 1
	}
	c.polls[id]++
	return compute.Deployment{ID: id, Status: statuses[i]}, nil
}

// Variables returns the variables set on the service named name.
func (c *Compute) Variables(name string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, n := range c.serviceNames {
		if n == name {
			out := make(map[string]string, len(c.variables[id]))
			for k, v := range c.variables[id] {
				out[k] = v
			}
			return out
		}
	}
	return nil
}

// ProjectCount returns the number of projects.
func (c *Compute) ProjectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.projects)
}
