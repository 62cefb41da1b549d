package workspace

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/shipyard/internal/core/deployment"
	"github.com/artpar/shipyard/internal/core/domain"
)

func testPreparer() *Preparer {
	return NewPreparer(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testPlan(t *testing.T, root string, appType domain.AppType, parent string) deployment.Plan {
	t.Helper()
	plan, err := deployment.BuildPlan(domain.DeploymentRequest{
		ProjectPath:         root,
		ProjectName:         "Acme Cafe",
		AppType:             appType,
		ParentSiteSubdomain: parent,
	}, map[domain.ZoneFamily]domain.Zone{
		domain.ZoneSite:      {Domain: "sites.example.com", ID: "z-site"},
		domain.ZoneCompanion: {Domain: "companion.example.com", ID: "z-comp"},
		domain.ZoneApps:      {Domain: "apps.example.com", ID: "z-apps"},
	})
	require.NoError(t, err)
	return plan
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fullStackProject lays out a generated website with git metadata left over
// from a previous run.
func fullStackProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "frontend", "index.html"), "<h1>acme</h1>")
	writeFile(t, filepath.Join(root, "frontend", ".git", "HEAD"), "ref: refs/heads/main")
	writeFile(t, filepath.Join(root, "backend", "main.js"), "console.log('api')")
	writeFile(t, filepath.Join(root, "backend", ".gitignore"), "secrets/\nnode_modules/\n")
	writeFile(t, filepath.Join(root, "backend", ".env"), "DATABASE_URL=postgres://u:p@db.example.com/acme\nPORT=3000\n")
	return root
}

// =============================================================================
// Prepare Tests
// =============================================================================

func TestPrepare_Website(t *testing.T) {
	root := fullStackProject(t)
	plan := testPlan(t, root, domain.AppTypeWebsite, "")

	prepared, err := testPreparer().Prepare(context.Background(), root, plan)
	require.NoError(t, err)
	require.Len(t, prepared.Services, 2)
	assert.Equal(t, deployment.RoleBackend, prepared.Services[0].Role)

	assert.NoDirExists(t, filepath.Join(root, "frontend", ".git"))

	ignore, err := os.ReadFile(filepath.Join(root, "backend", ".gitignore"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(ignore), "secrets/\n"))
	assert.Equal(t, 1, strings.Count(string(ignore), "node_modules/"))
	assert.Contains(t, string(ignore), "dist/")

	backend, ok := prepared.Service(deployment.RoleBackend)
	require.True(t, ok)
	assert.Equal(t, "postgres://u:p@db.example.com/acme?sslmode=require", backend.Env["DATABASE_URL"])
	assert.Equal(t, "3000", backend.Env["PORT"])

	runtime, err := godotenv.Read(filepath.Join(root, "frontend", ".env.production"))
	require.NoError(t, err)
	assert.Equal(t, "https://acme-cafe-backend-production.up.railway.app/api", runtime["VITE_API_BASE_URL"])
}

func TestPrepare_Idempotent(t *testing.T) {
	root := fullStackProject(t)
	plan := testPlan(t, root, domain.AppTypeWebsite, "")
	p := testPreparer()

	_, err := p.Prepare(context.Background(), root, plan)
	require.NoError(t, err)
	firstIgnore, err := os.ReadFile(filepath.Join(root, "frontend", ".gitignore"))
	require.NoError(t, err)

	_, err = p.Prepare(context.Background(), root, plan)
	require.NoError(t, err)

	env, err := godotenv.Read(filepath.Join(root, "backend", ".env"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(env["DATABASE_URL"], "sslmode=require"))

	secondIgnore, err := os.ReadFile(filepath.Join(root, "frontend", ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, string(firstIgnore), string(secondIgnore))
}

func TestPrepare_CompanionPointsAtParent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), "<h1>app</h1>")
	writeFile(t, filepath.Join(root, ".env.production"), "VITE_API_BASE_URL=http://localhost:3000/api\nVITE_THEME=dark\n")
	plan := testPlan(t, root, domain.AppTypeCompanionApp, "joes-diner")

	prepared, err := testPreparer().Prepare(context.Background(), root, plan)
	require.NoError(t, err)
	require.Len(t, prepared.Services, 1)
	assert.Equal(t, root, prepared.Services[0].Dir)

	runtime, err := godotenv.Read(filepath.Join(root, ".env.production"))
	require.NoError(t, err)
	assert.Equal(t, "https://joes-diner-backend-production.up.railway.app/api", runtime["VITE_API_BASE_URL"])
	assert.Equal(t, "dark", runtime["VITE_THEME"])
}

func TestPrepare_MissingProject(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	plan := testPlan(t, root, domain.AppTypeWebsite, "")

	_, err := testPreparer().Prepare(context.Background(), root, plan)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestPrepare_MissingServiceDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "frontend", "index.html"), "x")
	plan := testPlan(t, root, domain.AppTypeWebsite, "")

	_, err := testPreparer().Prepare(context.Background(), root, plan)
	assert.ErrorIs(t, err, ErrServiceDirNotFound)
}

func TestPrepare_CustomDatabaseParam(t *testing.T) {
	root := fullStackProject(t)
	plan := testPlan(t, root, domain.AppTypeWebsite, "")
	p := NewPreparer(Config{DatabaseParam: "ssl=true"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	prepared, err := p.Prepare(context.Background(), root, plan)
	require.NoError(t, err)

	backend, _ := prepared.Service(deployment.RoleBackend)
	assert.Equal(t, "postgres://u:p@db.example.com/acme?ssl=true", backend.Env["DATABASE_URL"])
}

func TestPrepare_Cancelled(t *testing.T) {
	root := fullStackProject(t)
	plan := testPlan(t, root, domain.AppTypeWebsite, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testPreparer().Prepare(ctx, root, plan)
	assert.ErrorIs(t, err, context.Canceled)
}
