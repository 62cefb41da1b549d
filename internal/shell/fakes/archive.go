package fakes

import (
	"context"
	"sync"
)

// Uploader is an in-memory object store.
type Uploader struct {
	recorder

	mu      sync.Mutex
	objects map[string][]byte
}

// NewUploader creates an empty store.
func NewUploader() *Uploader {
	return &Uploader{objects: make(map[string][]byte)}
}

func (u *Uploader) EnsureBucket(ctx context.Context, bucket string) error {
	return u.record("EnsureBucket", bucket)
}

func (u *Uploader) PutObject(ctx context.Context, bucket, key, contentType string, data []byte) error {
	if err := u.record("PutObject", bucket, key); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[bucket+"/"+key] = append([]byte(nil), data...)
	return nil
}

// Object returns a stored object.
func (u *Uploader) Object(bucket, key string) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	data, ok := u.objects[bucket+"/"+key]
	return data, ok
}
