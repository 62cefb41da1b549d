package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/progress"
	"github.com/artpar/shipyard/internal/ui/tui"
)

var isTerminal = tui.IsInteractive

// =============================================================================
// Request
// =============================================================================

// deployOptions are the deploy command's flags.
type deployOptions struct {
	manifest    string
	projectPath string
	projectName string
	appType     string
	parent      string
	dryRun      bool
	plain       bool
}

// request merges the manifest, if any, with the flags and validates the
// result.
func (o deployOptions) request() (domain.DeploymentRequest, error) {
	var req domain.DeploymentRequest
	if o.manifest != "" {
		m, err := LoadManifest(o.manifest)
		if err != nil {
			return domain.DeploymentRequest{}, err
		}
		req = m
	}

	if o.projectPath != "" {
		req.ProjectPath = o.projectPath
	}
	if o.projectName != "" {
		req.ProjectName = o.projectName
	}
	if o.appType != "" {
		req.AppType = domain.AppType(o.appType)
	}
	if o.parent != "" {
		req.ParentSiteSubdomain = o.parent
	}

	if req.AppType != "" {
		t, err := domain.ParseAppType(string(req.AppType))
		if err != nil {
			return domain.DeploymentRequest{}, err
		}
		req.AppType = t
	}
	if req.ProjectPath != "" {
		abs, err := filepath.Abs(req.ProjectPath)
		if err != nil {
			return domain.DeploymentRequest{}, fmt.Errorf("resolve project path: %w", err)
		}
		req.ProjectPath = abs
	}

	if err := req.Validate(); err != nil {
		return domain.DeploymentRequest{}, err
	}
	return req, nil
}

// LoadManifest reads a YAML deployment request. A relative project_path is
// resolved against the manifest's directory.
func LoadManifest(path string) (domain.DeploymentRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.DeploymentRequest{}, fmt.Errorf("read manifest: %w", err)
	}

	var req domain.DeploymentRequest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return domain.DeploymentRequest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	if req.ProjectPath != "" && !filepath.IsAbs(req.ProjectPath) {
		req.ProjectPath = filepath.Join(filepath.Dir(path), req.ProjectPath)
	}
	return req, nil
}

// =============================================================================
// Run
// =============================================================================

// runDeploy executes req in-process. Interactive runs render the pipeline
// with the terminal UI and keep logs out of the way; plain runs print one
// line per event to stdout and log to stderr.
func runDeploy(ctx context.Context, cfg *Config, req domain.DeploymentRequest, dryRun, interactive bool, stdout, stderr io.Writer) (domain.DeploymentResult, error) {
	logOut := stderr
	if interactive {
		logOut = io.Discard
	}
	logger := newLogger(cfg, logOut)

	creds := cfg.Credentials()
	var p platforms
	if dryRun {
		creds = dryRunCredentials(creds)
		p = dryRunPlatforms(cfg)
	} else {
		var err error
		p, err = livePlatforms(ctx, cfg, logger)
		if err != nil {
			return domain.DeploymentResult{}, err
		}
	}

	orch := newOrchestrator(cfg, creds, p, nil, logger)
	id := uuid.New().String()
	deploy := func(ctx context.Context, r progress.Reporter) domain.DeploymentResult {
		return orch.Deploy(ctx, id, req, r)
	}

	if interactive {
		result, err := tui.Run(ctx, domain.ProjectSlug(req.ProjectName), req.AppType, deploy)
		if errors.Is(err, tui.ErrAborted) {
			tui.WriteSummary(stdout, result)
			return result, nil
		}
		return result, err
	}

	fmt.Fprintf(stdout, "Deploying %s (%s)\n", domain.ProjectSlug(req.ProjectName), req.AppType)
	result := deploy(ctx, tui.LineReporter(stdout))
	tui.WriteSummary(stdout, result)
	return result, nil
}
