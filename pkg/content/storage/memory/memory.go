// Package memory provides an in-memory BlobStore for testing and
// development.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tylew/pl4m-com/pkg/content"
)

type object struct {
	data      []byte
	mimeType  string
	etag      string
	updatedAt time.Time
}

// Backend is an in-memory content.BlobStore.
type Backend struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]*object
}

// New creates a new in-memory storage backend.
func New(bucket string) *Backend {
	return &Backend{
		bucket:  bucket,
		objects: make(map[string]*object),
	}
}

func (b *Backend) Put(ctx context.Context, key string, r io.Reader, mimeType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return &content.StorageError{Bucket: b.bucket, Key: key, Op: "put", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = &object{
		data:      data,
		mimeType:  mimeType,
		etag:      fmt.Sprintf("%x", md5.Sum(data)),
		updatedAt: time.Now().UTC(),
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, &content.StorageError{Bucket: b.bucket, Key: key, Op: "get", Err: content.ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *Backend) Meta(ctx context.Context, key string) (*content.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[key]
	if !ok {
		return nil, &content.StorageError{Bucket: b.bucket, Key: key, Op: "meta", Err: content.ErrNotFound}
	}
	return &content.ObjectMeta{
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.mimeType,
		ETag:        obj.etag,
		UpdatedAt:   obj.updatedAt,
	}, nil
}

func (b *Backend) SignedUploadURL(ctx context.Context, key string, mimeType string, ttl time.Duration) (string, error) {
	return "", &content.StorageError{
		Bucket: b.bucket,
		Key:    key,
		Op:     "signed_upload_url",
		Err:    errors.New("memory backend does not support signed uploads"),
	}
}
