// Package workspace normalizes a generated project directory on disk so
// each service directory can be pushed as a fresh repository.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/artpar/shipyard/internal/core/deployment"
	coreworkspace "github.com/artpar/shipyard/internal/core/workspace"
)

var (
	ErrProjectNotFound    = errors.New("project directory not found")
	ErrServiceDirNotFound = errors.New("service directory not found")
)

// Service is one prepared service directory.
type Service struct {
	Role deployment.ServiceRole
	Dir  string
	// Env holds the service's .env variables after database URL adjustment.
	// They are injected into the compute service.
	Env map[string]string
}

// Prepared is a workspace ready to push.
type Prepared struct {
	Root     string
	Services []Service
}

// Service returns the prepared directory for role.
func (p Prepared) Service(role deployment.ServiceRole) (Service, bool) {
	for _, s := range p.Services {
		if s.Role == role {
			return s, true
		}
	}
	return Service{}, false
}

// Config configures a Preparer.
type Config struct {
	DatabaseParam string
	IgnoreRules   []string
}

// Preparer applies the workspace rules to a project directory in place.
// Every step is idempotent.
type Preparer struct {
	dbParam     string
	ignoreRules []string
	logger      *slog.Logger
}

// NewPreparer creates a preparer with defaults for unset fields.
func NewPreparer(cfg Config, logger *slog.Logger) *Preparer {
	if cfg.DatabaseParam == "" {
		cfg.DatabaseParam = coreworkspace.DefaultDatabaseParam
	}
	rules := append([]string(nil), coreworkspace.DefaultIgnoreRules...)
	rules = append(rules, cfg.IgnoreRules...)
	return &Preparer{
		dbParam:     cfg.DatabaseParam,
		ignoreRules: rules,
		logger:      logger.With("component", "workspace"),
	}
}

// Prepare normalizes every service directory of plan under root.
func (p *Preparer) Prepare(ctx context.Context, root string, plan deployment.Plan) (Prepared, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return Prepared{}, fmt.Errorf("%w: %s", ErrProjectNotFound, root)
	}

	prepared := Prepared{Root: root}
	for _, spec := range plan.Services {
		if err := ctx.Err(); err != nil {
			return Prepared{}, err
		}

		svc, err := p.prepareService(root, spec, plan)
		if err != nil {
			return Prepared{}, fmt.Errorf("prepare %s: %w", spec.Role, err)
		}
		prepared.Services = append(prepared.Services, svc)
	}
	return prepared, nil
}

func (p *Preparer) prepareService(root string, spec deployment.ServiceSpec, plan deployment.Plan) (Service, error) {
	dir := filepath.Join(root, spec.Dir)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Service{}, fmt.Errorf("%w: %s", ErrServiceDirNotFound, dir)
	}

	for _, excluded := range coreworkspace.ExcludedPaths {
		if err := os.RemoveAll(filepath.Join(dir, excluded)); err != nil {
			return Service{}, fmt.Errorf("remove %s: %w", excluded, err)
		}
	}

	if err := p.writeIgnore(dir); err != nil {
		return Service{}, err
	}

	env, err := p.adjustEnv(dir)
	if err != nil {
		return Service{}, err
	}

	if spec.Role == deployment.RoleFrontend {
		if err := p.writeRuntimeEnv(dir, plan); err != nil {
			return Service{}, err
		}
	}

	return Service{Role: spec.Role, Dir: dir, Env: env}, nil
}

func (p *Preparer) writeIgnore(dir string) error {
	path := filepath.Join(dir, coreworkspace.IgnoreFile)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", coreworkspace.IgnoreFile, err)
	}

	merged, changed := coreworkspace.MergeIgnore(string(existing), p.ignoreRules)
	if !changed {
		return nil
	}
	if err := os.WriteFile(path, []byte(merged), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", coreworkspace.IgnoreFile, err)
	}
	return nil
}

// adjustEnv appends the database parameter to URLs in .env and returns the
// resulting variables.
func (p *Preparer) adjustEnv(dir string) (map[string]string, error) {
	path := filepath.Join(dir, coreworkspace.SourceEnvFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]string{}, nil
	}

	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", coreworkspace.SourceEnvFile, err)
	}

	adjusted, changed := coreworkspace.ApplyDatabaseParam(env, p.dbParam)
	if len(changed) == 0 {
		return adjusted, nil
	}
	if err := godotenv.Write(adjusted, path); err != nil {
		return nil, fmt.Errorf("write %s: %w", coreworkspace.SourceEnvFile, err)
	}
	p.logger.Debug("database urls adjusted", "dir", dir, "keys", changed)
	return adjusted, nil
}

// writeRuntimeEnv writes the frontend build config. Companion apps point at
// the parent site's backend.
func (p *Preparer) writeRuntimeEnv(dir string, plan deployment.Plan) error {
	path := filepath.Join(dir, coreworkspace.RuntimeEnvFile)
	existing := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		existing, err = godotenv.Read(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", coreworkspace.RuntimeEnvFile, err)
		}
	}

	computed := map[string]string{
		deployment.FrontendAPIEnvKey: deployment.APIBaseURL(plan.OwnerSlug()),
	}
	if err := godotenv.Write(coreworkspace.MergeEnv(existing, computed), path); err != nil {
		return fmt.Errorf("write %s: %w", coreworkspace.RuntimeEnvFile, err)
	}
	return nil
}
