package workers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/shipyard/internal/core/crypto"
	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/progress"
	"github.com/artpar/shipyard/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var testKey = bytes.Repeat([]byte{7}, 32)

// fakeDeployer emits a start and a terminal event and returns result.
type fakeDeployer struct {
	result func(req domain.DeploymentRequest) domain.DeploymentResult
	block  chan struct{}

	running    atomic.Int32
	maxRunning atomic.Int32
	calls      atomic.Int32
}

func (f *fakeDeployer) Deploy(ctx context.Context, id string, req domain.DeploymentRequest, reporter progress.Reporter) domain.DeploymentResult {
	f.calls.Add(1)
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		peak := f.maxRunning.Load()
		if n <= peak || f.maxRunning.CompareAndSwap(peak, n) {
			break
		}
	}

	reporter.Report(domain.ProgressEvent{DeploymentID: id, Step: domain.StageCredentials, State: domain.EventRunning})
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}

	result := successResult()
	if f.result != nil {
		result = f.result(req)
	}
	reporter.Report(domain.ProgressEvent{DeploymentID: id, Step: domain.StageComplete, State: domain.EventSucceeded, Progress: 100, Result: &result})
	return result
}

func successResult() domain.DeploymentResult {
	result := domain.NewDeploymentResult(
		domain.URLs{Frontend: "https://acme-cafe.sites.example.com"},
		&domain.AdminCredentials{Email: "admin@acme-cafe.sites.example.com", Password: "correct-horse-battery"},
		"proj-1", nil, nil,
	)
	result.Domains = []domain.Domain{domain.NewDomain("acme-cafe.sites.example.com", "fe.up.railway.app", "CNAME")}
	return result
}

func request(name string) domain.DeploymentRequest {
	return domain.DeploymentRequest{ProjectPath: "/work/" + name, ProjectName: name, AppType: domain.AppTypeWebsite}
}

func waitForStatus(t *testing.T, s store.Store, id string, want domain.DeploymentStatus) *domain.Deployment {
	t.Helper()
	var got *domain.Deployment
	require.Eventually(t, func() bool {
		d, err := s.GetDeployment(context.Background(), id)
		if err != nil {
			return false
		}
		got = d
		return d.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

// =============================================================================
// Configuration
// =============================================================================

func TestDefaultRunnerConfig(t *testing.T) {
	config := DefaultRunnerConfig()

	assert.Equal(t, 5*time.Second, config.Interval)
	assert.Equal(t, 2, config.MaxConcurrent)
	assert.Equal(t, 30*time.Minute, config.RunTimeout)
}

func TestNewRunner_DefaultConfig(t *testing.T) {
	r := NewRunner(setupStore(t), &fakeDeployer{}, nil, RunnerConfig{}, nil)

	assert.Equal(t, 5*time.Second, r.config.Interval)
	assert.Equal(t, 2, r.config.MaxConcurrent)
	assert.Equal(t, 2, cap(r.sem))
}

// =============================================================================
// Submit
// =============================================================================

func TestRunner_SubmitPersistsPending(t *testing.T) {
	s := setupStore(t)
	r := NewRunner(s, &fakeDeployer{}, nil, RunnerConfig{}, testLogger())

	d, err := r.Submit(context.Background(), request("Acme Cafe"))
	require.NoError(t, err)

	got, err := s.GetDeployment(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "acme-cafe", got.Slug)
}

func TestRunner_SubmitRejectsActiveProject(t *testing.T) {
	r := NewRunner(setupStore(t), &fakeDeployer{}, nil, RunnerConfig{}, testLogger())

	first, err := r.Submit(context.Background(), request("Acme Cafe"))
	require.NoError(t, err)

	active, err := r.Submit(context.Background(), request("acme-cafe"))
	assert.True(t, errors.Is(err, ErrDeploymentActive))
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)

	_, err = r.Submit(context.Background(), request("Other Project"))
	assert.NoError(t, err)
}

func TestRunner_SubmitInvalidRequest(t *testing.T) {
	r := NewRunner(setupStore(t), &fakeDeployer{}, nil, RunnerConfig{}, testLogger())

	_, err := r.Submit(context.Background(), domain.DeploymentRequest{ProjectName: "x", AppType: domain.AppTypeWebsite})
	assert.ErrorIs(t, err, domain.ErrProjectPathRequired)
}

// =============================================================================
// Execution
// =============================================================================

func TestRunner_ExecutesAndRecordsResult(t *testing.T) {
	s := setupStore(t)
	broker := progress.NewBroker(progress.BrokerConfig{}, testLogger())
	r := NewRunner(s, &fakeDeployer{}, broker, RunnerConfig{Interval: time.Hour, EncryptionKey: testKey}, testLogger())
	r.Start()
	defer r.Stop()

	d, err := r.Submit(context.Background(), request("Acme Cafe"))
	require.NoError(t, err)

	got := waitForStatus(t, s, d.ID, domain.StatusSucceeded)
	require.NotNil(t, got.Result)
	assert.Equal(t, "https://acme-cafe.sites.example.com", got.Result.URLs.Frontend)
	require.NotNil(t, got.Result.Credentials)
	assert.Equal(t, "admin@acme-cafe.sites.example.com", got.Result.Credentials.Email)
	assert.Empty(t, got.Result.Credentials.Password)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	password, err := crypto.Decrypt(got.AdminPasswordEncrypted, testKey)
	require.NoError(t, err)
	assert.Equal(t, "correct-horse-battery", string(password))

	require.Len(t, got.Domains, 1)
	assert.Equal(t, domain.DomainVerificationPending, got.Domains[0].VerificationStatus)

	events, err := s.ListProgressEvents(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NotNil(t, events[1].Result)
	assert.Empty(t, events[1].Result.Credentials.Password)

	live := broker.Events(d.ID)
	require.Len(t, live, 2)
	assert.Empty(t, live[1].Result.Credentials.Password)
}

func TestRunner_RecordsFailure(t *testing.T) {
	s := setupStore(t)
	deployer := &fakeDeployer{result: func(domain.DeploymentRequest) domain.DeploymentResult {
		return domain.NewDeploymentResult(domain.URLs{}, nil, "", []domain.DeploymentError{
			domain.NewDeploymentError(domain.StageCredentials, domain.KindCredentialMissing, "", "missing credentials for website: dns.token"),
		}, nil)
	}}
	r := NewRunner(s, deployer, nil, RunnerConfig{Interval: time.Hour}, testLogger())
	r.Start()
	defer r.Stop()

	d, err := r.Submit(context.Background(), request("Acme Cafe"))
	require.NoError(t, err)

	got := waitForStatus(t, s, d.ID, domain.StatusFailed)
	assert.Contains(t, got.ErrorMessage, "dns.token")
	assert.Nil(t, got.AdminPasswordEncrypted)

	// The project is free again.
	_, err = r.Submit(context.Background(), request("Acme Cafe"))
	assert.NoError(t, err)
}

func TestRunner_WithoutKeyDoesNotStorePassword(t *testing.T) {
	s := setupStore(t)
	r := NewRunner(s, &fakeDeployer{}, nil, RunnerConfig{Interval: time.Hour}, testLogger())
	r.Start()
	defer r.Stop()

	d, err := r.Submit(context.Background(), request("Acme Cafe"))
	require.NoError(t, err)

	got := waitForStatus(t, s, d.ID, domain.StatusSucceeded)
	assert.Nil(t, got.AdminPasswordEncrypted)
	assert.Empty(t, got.Result.Credentials.Password)
}

func TestRunner_RespectsMaxConcurrent(t *testing.T) {
	s := setupStore(t)
	deployer := &fakeDeployer{block: make(chan struct{})}
	r := NewRunner(s, deployer, nil, RunnerConfig{Interval: 10 * time.Millisecond, MaxConcurrent: 1}, testLogger())
	r.Start()
	defer r.Stop()

	var ids []string
	for _, name := range []string{"One", "Two", "Three"} {
		d, err := r.Submit(context.Background(), request(name))
		require.NoError(t, err)
		ids = append(ids, d.ID)
	}

	require.Eventually(t, func() bool { return deployer.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, deployer.calls.Load())

	close(deployer.block)
	for _, id := range ids {
		waitForStatus(t, s, id, domain.StatusSucceeded)
	}
	assert.EqualValues(t, 1, deployer.maxRunning.Load())
}

func TestRunner_RecoversInterruptedRuns(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	d, err := domain.NewDeployment(request("Acme Cafe"))
	require.NoError(t, err)
	require.NoError(t, d.Transition(domain.StatusRunning))
	require.NoError(t, s.CreateDeployment(ctx, d))

	deployer := &fakeDeployer{}
	r := NewRunner(s, deployer, nil, RunnerConfig{Interval: time.Hour}, testLogger())
	r.Start()
	defer r.Stop()

	got := waitForStatus(t, s, d.ID, domain.StatusFailed)
	assert.Equal(t, "interrupted by restart", got.ErrorMessage)
	assert.Zero(t, deployer.calls.Load())
}

func TestRunner_StopCancelsInFlight(t *testing.T) {
	s := setupStore(t)
	deployer := &fakeDeployer{block: make(chan struct{})}
	r := NewRunner(s, deployer, nil, RunnerConfig{Interval: time.Hour}, testLogger())
	r.Start()

	d, err := r.Submit(context.Background(), request("Acme Cafe"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return deployer.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	got, err := s.GetDeployment(context.Background(), d.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
}

func TestRunner_StopWithoutStart(t *testing.T) {
	r := NewRunner(setupStore(t), &fakeDeployer{}, nil, RunnerConfig{}, testLogger())
	r.Stop()
}

