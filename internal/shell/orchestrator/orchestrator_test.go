package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coredns "github.com/artpar/shipyard/internal/core/dns"
	"github.com/artpar/shipyard/internal/core/deployment"
	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/archive"
	"github.com/artpar/shipyard/internal/shell/compute"
	"github.com/artpar/shipyard/internal/shell/fakes"
	"github.com/artpar/shipyard/internal/shell/progress"
	"github.com/artpar/shipyard/internal/shell/provision"
	"github.com/artpar/shipyard/internal/shell/retry"
	"github.com/artpar/shipyard/internal/shell/workspace"
)

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	scm      *fakes.SCM
	compute  *fakes.Compute
	dns      *fakes.DNS
	uploader *fakes.Uploader
	creds    domain.Credentials
}

func newHarness() *harness {
	return &harness{
		scm:      fakes.NewSCM("acme"),
		compute:  fakes.NewCompute(),
		dns:      fakes.NewDNS(),
		uploader: fakes.NewUploader(),
		creds: domain.Credentials{
			SCMToken:     "ghp_test",
			ComputeToken: "rw_test",
			DNSToken:     "cf_test",
			Zones: map[domain.ZoneFamily]domain.Zone{
				domain.ZoneSite:      {Domain: "sites.example.com", ID: "z-site"},
				domain.ZoneCompanion: {Domain: "companion.example.com", ID: "z-comp"},
				domain.ZoneApps:      {Domain: "apps.example.com", ID: "z-apps"},
			},
		},
	}
}

func (h *harness) orchestrator(withArchive bool) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	cfg := Config{
		Credentials: h.creds,
		Workspace:   workspace.NewPreparer(workspace.Config{}, logger),
		Repositories: provision.NewRepositoryProvisioner(h.scm, h.scm,
			provision.RepositoryConfig{Private: true, Retry: policy}, nil, logger),
		Compute: provision.NewComputeProvisioner(h.compute, provision.ComputeConfig{
			Retry:        policy,
			PollInterval: time.Millisecond,
			BuildTimeout: 100 * time.Millisecond,
		}, nil, logger),
		DNS: provision.NewDNSConfigurator(h.dns,
			provision.DNSConfig{Zones: h.creds.Zones, Retry: policy}, nil, logger),
	}
	if withArchive {
		cfg.Archiver = archive.NewArchiver(h.uploader, "snapshots", logger)
	}
	return New(cfg, logger)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func websiteProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "frontend", "index.html"), "<h1>acme</h1>")
	writeFile(t, filepath.Join(root, "backend", "main.js"), "console.log('api')")
	writeFile(t, filepath.Join(root, "backend", ".env"), "DATABASE_URL=postgres://u:p@db.example.com/acme\n")
	return root
}

func companionProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), "<h1>menu</h1>")
	return root
}

func websiteRequest(root string) domain.DeploymentRequest {
	return domain.DeploymentRequest{ProjectPath: root, ProjectName: "Acme Cafe", AppType: domain.AppTypeWebsite}
}

// =============================================================================
// Success Paths
// =============================================================================

func TestDeploy_Website(t *testing.T) {
	h := newHarness()
	rec := &progress.Recorder{}

	result := h.orchestrator(false).Deploy(context.Background(), "dep-1", websiteRequest(websiteProject(t)), rec)

	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "https://acme-cafe.sites.example.com", result.URLs.Frontend)
	assert.Equal(t, "https://acme-cafe-backend-production.up.railway.app", result.URLs.Backend)
	assert.Equal(t, "https://acme-cafe-backend-production.up.railway.app/admin", result.URLs.Admin)
	assert.Empty(t, result.URLs.CompanionURL)
	assert.NotEmpty(t, result.ComputeProjectID)

	require.NotNil(t, result.Credentials)
	assert.Equal(t, "admin@acme-cafe.sites.example.com", result.Credentials.Email)

	assert.ElementsMatch(t, []string{"acme/acme-cafe-backend", "acme/acme-cafe-frontend"}, h.scm.Repositories())
	assert.Len(t, h.dns.Records("z-site", "acme-cafe.sites.example.com"), 1)
	// 2 repositories, 1 project, 2 services, 1 record
	assert.Len(t, result.Resources, 6)
	require.Len(t, result.Domains, 1)
	assert.Equal(t, "acme-cafe.sites.example.com", result.Domains[0].Hostname)
	assert.Equal(t, "acme-cafe-frontend-production.up.railway.app", result.Domains[0].Target)
	assert.Equal(t, domain.DomainVerificationPending, result.Domains[0].VerificationStatus)
}

func TestDeploy_EventSequence(t *testing.T) {
	h := newHarness()
	rec := &progress.Recorder{}

	h.orchestrator(false).Deploy(context.Background(), "dep-1", websiteRequest(websiteProject(t)), rec)

	events := rec.Events()
	require.Len(t, events, 13)

	wantSteps := []domain.Stage{
		domain.StageCredentials, domain.StageWorkspace, domain.StageRepositories,
		domain.StageCompute, domain.StageBuild, domain.StageDNS,
	}
	for i, step := range wantSteps {
		start, end := events[2*i], events[2*i+1]
		assert.Equal(t, step, start.Step)
		assert.Equal(t, domain.EventRunning, start.State)
		assert.Equal(t, domain.IconRunning, start.Icon)
		assert.Equal(t, step, end.Step)
		assert.Equal(t, domain.EventSucceeded, end.State)
	}

	last := events[len(events)-1]
	assert.True(t, last.Terminal())
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, domain.IconComplete, last.Icon)
	require.NotNil(t, last.Result)
	assert.True(t, last.Result.Success)

	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Progress, events[i-1].Progress)
		assert.Equal(t, "dep-1", events[i].DeploymentID)
	}
}

func TestDeploy_CompanionApp(t *testing.T) {
	h := newHarness()
	req := domain.DeploymentRequest{
		ProjectPath:         companionProject(t),
		ProjectName:         "Joes Menu",
		AppType:             domain.AppTypeCompanionApp,
		ParentSiteSubdomain: "joes-diner",
	}

	result := h.orchestrator(false).Deploy(context.Background(), "dep-2", req, nil)

	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Equal(t, "https://joes-menu.companion.example.com", result.URLs.Frontend)
	assert.Equal(t, "https://joes-diner-app.sites.example.com", result.URLs.CompanionURL)
	assert.Empty(t, result.URLs.Backend)
	assert.Nil(t, result.Credentials)
	assert.Equal(t, []string{"acme/joes-menu-app"}, h.scm.Repositories())
}

func TestDeploy_AdvancedApp(t *testing.T) {
	h := newHarness()
	req := websiteRequest(websiteProject(t))
	req.AppType = domain.AppTypeAdvancedApp

	result := h.orchestrator(false).Deploy(context.Background(), "dep-3", req, nil)

	require.True(t, result.Success, "errors: %v", result.Errors)
	assert.Equal(t, "https://acme-cafe.apps.example.com", result.URLs.Frontend)
	assert.Equal(t, "https://api-acme-cafe.apps.example.com", result.URLs.Backend)
	assert.Equal(t, "https://api-acme-cafe.apps.example.com/admin", result.URLs.Admin)
}

func TestDeploy_ArchivesWorkspace(t *testing.T) {
	h := newHarness()

	result := h.orchestrator(true).Deploy(context.Background(), "dep-4", websiteRequest(websiteProject(t)), nil)
	require.True(t, result.Success)

	_, ok := h.uploader.Object("snapshots", archive.Key("acme-cafe", "dep-4", "backend"))
	assert.True(t, ok)
	_, ok = h.uploader.Object("snapshots", archive.Key("acme-cafe", "dep-4", "frontend"))
	assert.True(t, ok)
}

func TestDeploy_ArchiveFailureIsIgnored(t *testing.T) {
	h := newHarness()
	h.uploader.FailAlways("PutObject", errors.New("access denied"))

	result := h.orchestrator(true).Deploy(context.Background(), "dep-5", websiteRequest(websiteProject(t)), nil)
	assert.True(t, result.Success)
	assert.Empty(t, result.Errors)
}

// =============================================================================
// Failure Paths
// =============================================================================

func TestDeploy_MissingCredentialMakesNoCalls(t *testing.T) {
	h := newHarness()
	h.creds.DNSToken = ""
	root := websiteProject(t)
	rec := &progress.Recorder{}

	result := h.orchestrator(false).Deploy(context.Background(), "dep-6", websiteRequest(root), rec)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.KindCredentialMissing, result.Errors[0].Kind)
	assert.Contains(t, result.Errors[0].Message, "dns.token")

	assert.Empty(t, h.scm.Calls())
	assert.Empty(t, h.compute.Calls())
	assert.Empty(t, h.dns.Calls())
	assert.NoFileExists(t, filepath.Join(root, "frontend", ".gitignore"))

	events := rec.Events()
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventFailed, events[1].State)
	assert.Equal(t, domain.StageComplete, events[2].Step)
	assert.Equal(t, domain.EventFailed, events[2].State)
}

func TestDeploy_InvalidRequest(t *testing.T) {
	h := newHarness()
	req := domain.DeploymentRequest{ProjectName: "Acme", AppType: domain.AppTypeWebsite}

	result := h.orchestrator(false).Deploy(context.Background(), "dep-7", req, nil)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.KindWorkspacePrepFailure, result.Errors[0].Kind)
	assert.Empty(t, h.scm.Calls())
}

func TestDeploy_MissingProjectDirectory(t *testing.T) {
	h := newHarness()

	result := h.orchestrator(false).Deploy(context.Background(), "dep-8", websiteRequest(filepath.Join(t.TempDir(), "missing")), nil)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.StageWorkspace, result.Errors[0].Stage)
	assert.Empty(t, h.scm.Calls())
}

func TestDeploy_RepositoryFailureStops(t *testing.T) {
	h := newHarness()
	h.scm.FailAlways("Push", retry.Permanent(errors.New("protected branch")))

	result := h.orchestrator(false).Deploy(context.Background(), "dep-9", websiteRequest(websiteProject(t)), nil)

	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, domain.KindRepositoryProvision, result.Errors[0].Kind)
	assert.Empty(t, h.compute.Calls())
	assert.Empty(t, h.dns.Calls())
	assert.Empty(t, result.URLs.Frontend)
}

func TestDeploy_ComputeFailureSkipsDNS(t *testing.T) {
	h := newHarness()
	h.compute.FailAlways("CreateProject", retry.Permanent(errors.New("Not Authorized")))

	result := h.orchestrator(false).Deploy(context.Background(), "dep-10", websiteRequest(websiteProject(t)), nil)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.KindComputeProvision, result.Errors[0].Kind)
	assert.Len(t, h.scm.Repositories(), 2)
	assert.Empty(t, h.dns.Calls())
}

// domainlessCompute never assigns its services a public domain.
type domainlessCompute struct {
	*fakes.Compute
}

func (c domainlessCompute) ServiceDomain(ctx context.Context, ref compute.ServiceRef) (string, error) {
	if _, err := c.Compute.ServiceDomain(ctx, ref); err != nil {
		return "", err
	}
	return "", nil
}

func TestDeploy_MissingEndpointIsFatal(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(false)
	o.compute = provision.NewComputeProvisioner(domainlessCompute{h.compute}, provision.ComputeConfig{
		Retry:        retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		PollInterval: time.Millisecond,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	result := o.Deploy(context.Background(), "dep-18", websiteRequest(websiteProject(t)), nil)

	assert.False(t, result.Success)
	require.NotEmpty(t, result.FatalErrors())
	assert.Equal(t, domain.KindComputeProvision, result.FatalErrors()[0].Kind)
	assert.Empty(t, result.URLs.Frontend)
	assert.Zero(t, h.compute.Count("TriggerDeploy"))
	assert.Empty(t, h.dns.Calls())
}

func TestDeploy_RerunInstallsAdminCredentialsAfterFailedUpsert(t *testing.T) {
	h := newHarness()
	locked := retry.Permanent(errors.New("variables locked"))
	h.compute.FailNext("UpsertVariables", locked, locked)
	root := websiteProject(t)
	o := h.orchestrator(false)

	first := o.Deploy(context.Background(), "dep-19", websiteRequest(root), nil)
	assert.False(t, first.Success)
	assert.Nil(t, first.Credentials)

	second := o.Deploy(context.Background(), "dep-20", websiteRequest(root), nil)
	require.True(t, second.Success, "errors: %v", second.Errors)
	require.NotNil(t, second.Credentials)

	vars := h.compute.Variables("backend")
	assert.Equal(t, second.Credentials.Email, vars[provision.AdminEmailVar])
	assert.Equal(t, second.Credentials.Password, vars[provision.AdminPasswordVar])
}

func TestDeploy_BuildFailureSkipsDNS(t *testing.T) {
	h := newHarness()
	h.compute.SetStatuses("frontend", "BUILDING", "FAILED")

	result := h.orchestrator(false).Deploy(context.Background(), "dep-11", websiteRequest(websiteProject(t)), nil)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.KindBuildFailure, result.Errors[0].Kind)
	assert.Empty(t, h.dns.Calls())
}

func TestDeploy_BuildTimeoutIsAdvisory(t *testing.T) {
	h := newHarness()
	h.compute.SetStatuses("backend", "BUILDING")
	rec := &progress.Recorder{}

	result := h.orchestrator(false).Deploy(context.Background(), "dep-12", websiteRequest(websiteProject(t)), rec)

	assert.True(t, result.Success)
	require.Len(t, result.Warnings(), 1)
	assert.Equal(t, domain.KindBuildTimeout, result.Warnings()[0].Kind)
	assert.Equal(t, "https://acme-cafe.sites.example.com", result.URLs.Frontend)
	assert.Len(t, h.dns.Records("z-site", "acme-cafe.sites.example.com"), 1)

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, domain.EventWarning, last.State)
}

func TestDeploy_DNSFailureFallsBackThenRecovers(t *testing.T) {
	h := newHarness()
	h.dns.FailNext("CreateRecord", retry.Permanent(errors.New("zone locked")))
	root := websiteProject(t)
	o := h.orchestrator(false)

	first := o.Deploy(context.Background(), "dep-13", websiteRequest(root), nil)
	assert.True(t, first.Success)
	require.Len(t, first.Errors, 1)
	assert.Equal(t, domain.KindDNSReconcileFailure, first.Errors[0].Kind)
	assert.Equal(t, "https://acme-cafe-frontend-production.up.railway.app", first.URLs.Frontend)

	second := o.Deploy(context.Background(), "dep-14", websiteRequest(root), nil)
	require.True(t, second.Success)
	assert.Empty(t, second.Errors)
	assert.Equal(t, "https://acme-cafe.sites.example.com", second.URLs.Frontend)
	assert.Nil(t, second.Credentials)

	assert.Len(t, h.dns.Records("z-site", "acme-cafe.sites.example.com"), 1)
	assert.Equal(t, 1, h.compute.ProjectCount())
	assert.Len(t, h.scm.Repositories(), 2)
}

func TestDeploy_RerunReplacesStaleRecord(t *testing.T) {
	h := newHarness()
	h.dns.Seed("z-site", coredns.Record{Type: "A", Name: "acme-cafe.sites.example.com", Content: "10.0.0.1"})

	result := h.orchestrator(false).Deploy(context.Background(), "dep-15", websiteRequest(websiteProject(t)), nil)
	require.True(t, result.Success)

	records := h.dns.Records("z-site", "acme-cafe.sites.example.com")
	require.Len(t, records, 1)
	assert.Equal(t, coredns.TypeCNAME, records[0].Type)
}

func TestDeploy_PanickingReporterDoesNotFailRun(t *testing.T) {
	h := newHarness()
	reporter := progress.Func(func(domain.ProgressEvent) { panic("observer bug") })

	result := h.orchestrator(false).Deploy(context.Background(), "dep-16", websiteRequest(websiteProject(t)), reporter)
	assert.True(t, result.Success)
}

type panickingPreparer struct{}

func (panickingPreparer) Prepare(context.Context, string, deployment.Plan) (workspace.Prepared, error) {
	panic("boom")
}

func TestDeploy_PanicBecomesFatalError(t *testing.T) {
	h := newHarness()
	o := h.orchestrator(false)
	o.workspace = panickingPreparer{}
	rec := &progress.Recorder{}

	result := o.Deploy(context.Background(), "dep-17", websiteRequest(websiteProject(t)), rec)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.StageWorkspace, result.Errors[0].Stage)
	assert.True(t, result.Errors[0].Fatal)
	assert.Contains(t, result.Errors[0].Message, "boom")

	last, ok := rec.Last()
	require.True(t, ok)
	assert.True(t, last.Terminal())
	assert.Empty(t, h.scm.Calls())
}
