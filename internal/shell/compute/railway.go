package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/shipyard/internal/shell/retry"
)

// DefaultRailwayEndpoint is the public GraphQL API.
const DefaultRailwayEndpoint = "https://backboard.railway.app/graphql/v2"

// RailwayConfig configures the Railway client.
type RailwayConfig struct {
	Token       string
	TeamID      string
	Endpoint    string
	Environment string
	Timeout     time.Duration
}

// Railway implements Platform over Railway's GraphQL API.
type Railway struct {
	token       string
	teamID      string
	endpoint    string
	environment string
	httpClient  *http.Client
}

// NewRailway creates a Railway client.
func NewRailway(cfg RailwayConfig) *Railway {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRailwayEndpoint
	}
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Railway{
		token:       cfg.Token,
		teamID:      cfg.TeamID,
		endpoint:    cfg.Endpoint,
		environment: cfg.Environment,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// =============================================================================
// GraphQL Transport
// =============================================================================

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

func (r *Railway) do(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return retry.Permanent(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return retry.Permanent(fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return retry.FromStatus(resp.StatusCode,
			fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var envelope gqlResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return classifyGraphQL(envelope.Errors)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return retry.Permanent(fmt.Errorf("parse data: %w", err))
	}
	return nil
}

func classifyGraphQL(errs []gqlError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	joined := strings.Join(msgs, "; ")
	lower := strings.ToLower(joined)

	switch {
	case strings.Contains(lower, "not authorized") || strings.Contains(lower, "unauthorized"):
		return retry.Permanent(fmt.Errorf("%w: %s", ErrUnauthorized, joined))
	case strings.Contains(lower, "not found"):
		return retry.Permanent(fmt.Errorf("%w: %s", ErrNotFound, joined))
	case strings.Contains(lower, "rate limit"):
		return fmt.Errorf("graphql: %s", joined)
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "validation"):
		return retry.Permanent(fmt.Errorf("graphql: %s", joined))
	default:
		return fmt.Errorf("graphql: %s", joined)
	}
}

// =============================================================================
// Projects
// =============================================================================

type edges[T any] struct {
	Edges []struct {
		Node T `json:"node"`
	} `json:"edges"`
}

func (e edges[T]) nodes() []T {
	out := make([]T, 0, len(e.Edges))
	for _, edge := range e.Edges {
		out = append(out, edge.Node)
	}
	return out
}

type environmentNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type projectNode struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Environments edges[environmentNode] `json:"environments"`
}

const projectFields = `id name environments { edges { node { id name } } }`

func (r *Railway) toProject(node projectNode, reused bool) (Project, error) {
	for _, env := range node.Environments.nodes() {
		if env.Name == r.environment {
			return Project{ID: node.ID, Name: node.Name, EnvironmentID: env.ID, Reused: reused}, nil
		}
	}
	return Project{}, retry.Permanent(fmt.Errorf("project %s has no %q environment", node.Name, r.environment))
}

// FindProject returns the project named name.
func (r *Railway) FindProject(ctx context.Context, name string) (Project, error) {
	query := `query projects($teamId: String) { projects(teamId: $teamId) { edges { node { ` + projectFields + ` } } } }`
	vars := map[string]any{}
	if r.teamID != "" {
		vars["teamId"] = r.teamID
	}

	var data struct {
		Projects edges[projectNode] `json:"projects"`
	}
	if err := r.do(ctx, query, vars, &data); err != nil {
		return Project{}, fmt.Errorf("find project %s: %w", name, err)
	}
	for _, node := range data.Projects.nodes() {
		if node.Name == name {
			return r.toProject(node, true)
		}
	}
	return Project{}, fmt.Errorf("project %s: %w", name, ErrNotFound)
}

// CreateProject creates a project with the default environment.
func (r *Railway) CreateProject(ctx context.Context, name string) (Project, error) {
	query := `mutation projectCreate($input: ProjectCreateInput!) { projectCreate(input: $input) { ` + projectFields + ` } }`
	input := map[string]any{"name": name, "defaultEnvironmentName": r.environment}
	if r.teamID != "" {
		input["teamId"] = r.teamID
	}

	var data struct {
		ProjectCreate projectNode `json:"projectCreate"`
	}
	if err := r.do(ctx, query, map[string]any{"input": input}, &data); err != nil {
		return Project{}, fmt.Errorf("create project %s: %w", name, err)
	}
	return r.toProject(data.ProjectCreate, false)
}

// =============================================================================
// Services
// =============================================================================

type serviceNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FindService returns the service named name in projectID.
func (r *Railway) FindService(ctx context.Context, projectID, name string) (Service, error) {
	query := `query project($id: String!) { project(id: $id) { services { edges { node { id name } } } } }`

	var data struct {
		Project struct {
			Services edges[serviceNode] `json:"services"`
		} `json:"project"`
	}
	if err := r.do(ctx, query, map[string]any{"id": projectID}, &data); err != nil {
		return Service{}, fmt.Errorf("find service %s: %w", name, err)
	}
	for _, node := range data.Project.Services.nodes() {
		if node.Name == name {
			return Service{ID: node.ID, Name: node.Name, Reused: true}, nil
		}
	}
	return Service{}, fmt.Errorf("service %s: %w", name, ErrNotFound)
}

// CreateService creates a service that builds from repoFullName.
func (r *Railway) CreateService(ctx context.Context, projectID, name, repoFullName string) (Service, error) {
	query := `mutation serviceCreate($input: ServiceCreateInput!) { serviceCreate(input: $input) { id name } }`
	input := map[string]any{
		"projectId": projectID,
		"name":      name,
		"source":    map[string]any{"repo": repoFullName},
	}

	var data struct {
		ServiceCreate serviceNode `json:"serviceCreate"`
	}
	if err := r.do(ctx, query, map[string]any{"input": input}, &data); err != nil {
		return Service{}, fmt.Errorf("create service %s: %w", name, err)
	}
	return Service{ID: data.ServiceCreate.ID, Name: data.ServiceCreate.Name}, nil
}

// UpsertVariables sets vars on the service, replacing existing values.
func (r *Railway) UpsertVariables(ctx context.Context, ref ServiceRef, vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}
	query := `mutation variableCollectionUpsert($input: VariableCollectionUpsertInput!) { variableCollectionUpsert(input: $input) }`
	input := map[string]any{
		"projectId":     ref.ProjectID,
		"environmentId": ref.EnvironmentID,
		"serviceId":     ref.ServiceID,
		"variables":     vars,
	}
	if err := r.do(ctx, query, map[string]any{"input": input}, nil); err != nil {
		return fmt.Errorf("upsert variables: %w", err)
	}
	return nil
}

// ServiceVariables returns the variables currently set on the service.
func (r *Railway) ServiceVariables(ctx context.Context, ref ServiceRef) (map[string]string, error) {
	query := `query variables($projectId: String!, $environmentId: String!, $serviceId: String) {
  variables(projectId: $projectId, environmentId: $environmentId, serviceId: $serviceId)
}`
	vars := map[string]any{
		"projectId":     ref.ProjectID,
		"environmentId": ref.EnvironmentID,
		"serviceId":     ref.ServiceID,
	}

	var data struct {
		Variables map[string]string `json:"variables"`
	}
	if err := r.do(ctx, query, vars, &data); err != nil {
		return nil, fmt.Errorf("get variables: %w", err)
	}
	if data.Variables == nil {
		data.Variables = map[string]string{}
	}
	return data.Variables, nil
}

// ServiceDomain returns the first generated domain, creating one if needed.
func (r *Railway) ServiceDomain(ctx context.Context, ref ServiceRef) (string, error) {
	query := `query domains($projectId: String!, $environmentId: String!, $serviceId: String!) {
  domains(projectId: $projectId, environmentId: $environmentId, serviceId: $serviceId) { serviceDomains { domain } }
}`
	vars := map[string]any{
		"projectId":     ref.ProjectID,
		"environmentId": ref.EnvironmentID,
		"serviceId":     ref.ServiceID,
	}

	var data struct {
		Domains struct {
			ServiceDomains []struct {
				Domain string `json:"domain"`
			} `json:"serviceDomains"`
		} `json:"domains"`
	}
	if err := r.do(ctx, query, vars, &data); err != nil {
		return "", fmt.Errorf("get service domain: %w", err)
	}
	if len(data.Domains.ServiceDomains) > 0 {
		return data.Domains.ServiceDomains[0].Domain, nil
	}

	create := `mutation serviceDomainCreate($input: ServiceDomainCreateInput!) { serviceDomainCreate(input: $input) { domain } }`
	var created struct {
		ServiceDomainCreate struct {
			Domain string `json:"domain"`
		} `json:"serviceDomainCreate"`
	}
	input := map[string]any{"environmentId": ref.EnvironmentID, "serviceId": ref.ServiceID}
	if err := r.do(ctx, create, map[string]any{"input": input}, &created); err != nil {
		return "", fmt.Errorf("create service domain: %w", err)
	}
	return created.ServiceDomainCreate.Domain, nil
}

// TriggerDeploy starts a new deployment and returns its ID.
func (r *Railway) TriggerDeploy(ctx context.Context, ref ServiceRef) (string, error) {
	query := `mutation serviceInstanceDeployV2($serviceId: String!, $environmentId: String!) { serviceInstanceDeployV2(serviceId: $serviceId, environmentId: $environmentId) }`
	var data struct {
		DeploymentID string `json:"serviceInstanceDeployV2"`
	}
	vars := map[string]any{"serviceId": ref.ServiceID, "environmentId": ref.EnvironmentID}
	if err := r.do(ctx, query, vars, &data); err != nil {
		return "", fmt.Errorf("trigger deploy: %w", err)
	}
	return data.DeploymentID, nil
}

// Deployment returns the deployment with the given ID.
func (r *Railway) Deployment(ctx context.Context, ref ServiceRef, id string) (Deployment, error) {
	query := `query deployment($id: String!) { deployment(id: $id) { id status } }`

	var data struct {
		Deployment *Deployment `json:"deployment"`
	}
	if err := r.do(ctx, query, map[string]any{"id": id}, &data); err != nil {
		return Deployment{}, fmt.Errorf("get deployment %s: %w", id, err)
	}
	if data.Deployment == nil {
		return Deployment{}, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	return *data.Deployment, nil
}
