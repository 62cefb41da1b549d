package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func tarNames(t *testing.T, data []byte) []string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		names = append(names, h.Name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// Pack Tests
// =============================================================================

func TestPack_SkipsGitAndDependencies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.html"), "<h1>hi</h1>")
	writeFile(t, filepath.Join(dir, "src", "app.js"), "app()")
	writeFile(t, filepath.Join(dir, ".git", "HEAD"), "ref")
	writeFile(t, filepath.Join(dir, "node_modules", "x", "index.js"), "x")

	data, err := Pack(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html", "src", "src/app.js"}, tarNames(t, data))
}

func TestPack_MissingDir(t *testing.T) {
	_, err := Pack(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

// =============================================================================
// Archiver Tests
// =============================================================================

type memoryUploader struct {
	mu      sync.Mutex
	buckets []string
	objects map[string][]byte
	failPut error
}

func (m *memoryUploader) EnsureBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets = append(m.buckets, bucket)
	return nil
}

func (m *memoryUploader) PutObject(_ context.Context, _, key, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return nil
}

func TestKey(t *testing.T) {
	assert.Equal(t, "acme-cafe/dep-1/frontend.tar.gz", Key("acme-cafe", "dep-1", "frontend"))
}

func TestArchiver_Archive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "frontend", "index.html"), "fe")
	writeFile(t, filepath.Join(root, "backend", "main.js"), "be")

	up := &memoryUploader{}
	a := NewArchiver(up, "snapshots", testLogger())

	keys, err := a.Archive(context.Background(), "acme-cafe", "dep-1", []Entry{
		{Name: "backend", Dir: filepath.Join(root, "backend")},
		{Name: "frontend", Dir: filepath.Join(root, "frontend")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme-cafe/dep-1/backend.tar.gz", "acme-cafe/dep-1/frontend.tar.gz"}, keys)
	assert.Equal(t, []string{"snapshots"}, up.buckets)
	assert.Equal(t, []string{"main.js"}, tarNames(t, up.objects["acme-cafe/dep-1/backend.tar.gz"]))
}

func TestArchiver_UploadFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), "fe")

	up := &memoryUploader{failPut: errors.New("boom")}
	a := NewArchiver(up, "snapshots", testLogger())

	keys, err := a.Archive(context.Background(), "acme", "dep-1", []Entry{{Name: "frontend", Dir: root}})
	assert.Error(t, err)
	assert.Empty(t, keys)
}

// =============================================================================
// S3 Client Tests
// =============================================================================

func testS3(t *testing.T, handler http.Handler) *S3 {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(server.URL),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("test-key", "test-secret", ""),
		HTTPClient:   &http.Client{Transport: &http.Transport{}},
	})
	return &S3{s3: client}
}

func TestS3_EnsureBucket_Exists(t *testing.T) {
	var methods []string
	var mu sync.Mutex
	c := testS3(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.EnsureBucket(context.Background(), "snapshots"))
	assert.Equal(t, []string{http.MethodHead}, methods)
}

func TestS3_EnsureBucket_Creates(t *testing.T) {
	var created bool
	var mu sync.Mutex
	c := testS3(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			created = true
			w.WriteHeader(http.StatusOK)
		}
	}))

	require.NoError(t, c.EnsureBucket(context.Background(), "snapshots"))
	assert.True(t, created)
}

func TestS3_PutObject(t *testing.T) {
	var body []byte
	var path string
	var mu sync.Mutex
	c := testS3(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	data := []byte("tarball")
	require.NoError(t, c.PutObject(context.Background(), "snapshots", "acme/dep-1/frontend.tar.gz", "application/gzip", data))
	assert.Equal(t, "/snapshots/acme/dep-1/frontend.tar.gz", path)
	assert.Equal(t, data, body)
}
