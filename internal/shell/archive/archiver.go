package archive

import (
	"context"
	"fmt"
	"log/slog"
	"path"
)

// Uploader stores objects.
type Uploader interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key, contentType string, data []byte) error
}

// Entry is one directory to archive.
type Entry struct {
	Name string
	Dir  string
}

// Archiver snapshots workspaces into a bucket.
type Archiver struct {
	uploader Uploader
	bucket   string
	logger   *slog.Logger
}

// NewArchiver creates an archiver writing to bucket.
func NewArchiver(uploader Uploader, bucket string, logger *slog.Logger) *Archiver {
	return &Archiver{
		uploader: uploader,
		bucket:   bucket,
		logger:   logger.With("component", "archive"),
	}
}

// Key returns the object key of an entry: <slug>/<deployment-id>/<name>.tar.gz.
func Key(slug, deploymentID, name string) string {
	return path.Join(slug, deploymentID, name+".tar.gz")
}

// Archive uploads every entry and returns the keys written. It stops at the
// first failure.
func (a *Archiver) Archive(ctx context.Context, slug, deploymentID string, entries []Entry) ([]string, error) {
	if err := a.uploader.EnsureBucket(ctx, a.bucket); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		data, err := Pack(e.Dir)
		if err != nil {
			return keys, err
		}
		key := Key(slug, deploymentID, e.Name)
		if err := a.uploader.PutObject(ctx, a.bucket, key, "application/gzip", data); err != nil {
			return keys, fmt.Errorf("upload %s: %w", e.Name, err)
		}
		a.logger.Debug("workspace archived", "bucket", a.bucket, "key", key, "bytes", len(data))
		keys = append(keys, key)
	}
	return keys, nil
}
