// Package deployment provides pure functions for deployment planning.
//
// This package turns a validated DeploymentRequest into a Plan: which
// services exist, which repository backs each one, the order they must be
// deployed in, which environment each receives and which hostnames point
// at them. All functions are pure (no I/O, no side effects).
//
// # Functions
//
//   - Naming: Generate consistent resource names (RepoName, Hostname, APIBaseURL)
//   - Ordering: Sort services by dependencies (TopologicalSort)
//   - Variables: Render environment templates (SubstituteVariables, ResolveEnv)
//   - Planning: Build the per-app-type plan (BuildPlan)
//
// # Usage
//
// The orchestrator (internal/shell/orchestrator) builds a plan once and
// hands slices of it to the provisioners.
//
//	plan, err := deployment.BuildPlan(req, creds.Zones)
//	for _, svc := range plan.Services { ... }
package deployment
