// Package fs provides a filesystem BlobStore. Objects are laid out
// under a base directory following their storage keys.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/tylew/pl4m-com/pkg/content"
)

// Config options for the filesystem backend.
type Config struct {
	Bucket    string // Logical bucket name, reported in errors
	BaseDir   string // Base directory for storing files
	URLPrefix string // Optional URL prefix for signed upload URLs
}

// Backend is a filesystem content.BlobStore.
type Backend struct {
	bucket    string
	baseDir   string
	urlPrefix string
}

// New creates a filesystem storage backend, creating the base directory
// if needed.
func New(cfg Config) (*Backend, error) {
	if cfg.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &Backend{
		bucket:    cfg.Bucket,
		baseDir:   cfg.BaseDir,
		urlPrefix: cfg.URLPrefix,
	}, nil
}

func (b *Backend) Put(ctx context.Context, key string, r io.Reader, mimeType string) error {
	filePath := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return &content.StorageError{Bucket: b.bucket, Key: key, Op: "put", Err: err}
	}
	file, err := os.Create(filePath)
	if err != nil {
		return &content.StorageError{Bucket: b.bucket, Key: key, Op: "put", Err: err}
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		return &content.StorageError{Bucket: b.bucket, Key: key, Op: "put", Err: err}
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(b.baseDir, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil, &content.StorageError{Bucket: b.bucket, Key: key, Op: "get", Err: content.ErrNotFound}
	} else if err != nil {
		return nil, &content.StorageError{Bucket: b.bucket, Key: key, Op: "get", Err: err}
	}
	return file, nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(b.baseDir, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, &content.StorageError{Bucket: b.bucket, Key: key, Op: "exists", Err: err}
	}
	return true, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	filePath := filepath.Join(b.baseDir, filepath.FromSlash(key))
	err := os.Remove(filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &content.StorageError{Bucket: b.bucket, Key: key, Op: "delete", Err: err}
	}
	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

func (b *Backend) Meta(ctx context.Context, key string) (*content.ObjectMeta, error) {
	filePath := filepath.Join(b.baseDir, filepath.FromSlash(key))
	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, &content.StorageError{Bucket: b.bucket, Key: key, Op: "meta", Err: content.ErrNotFound}
	} else if err != nil {
		return nil, &content.StorageError{Bucket: b.bucket, Key: key, Op: "meta", Err: err}
	}

	contentType := "application/octet-stream"
	if file, err := os.Open(filePath); err == nil {
		defer file.Close()
		buffer := make([]byte, 512)
		if n, err := file.Read(buffer); err == nil {
			contentType = http.DetectContentType(buffer[:n])
		}
	}

	return &content.ObjectMeta{
		Key:         key,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
	}, nil
}

// SignedUploadURL returns an upload URL under the configured prefix.
// There is no real signing; the URL is only useful when a companion
// handler serves the prefix.
func (b *Backend) SignedUploadURL(ctx context.Context, key string, mimeType string, ttl time.Duration) (string, error) {
	if b.urlPrefix == "" {
		return "", &content.StorageError{
			Bucket: b.bucket,
			Key:    key,
			Op:     "signed_upload_url",
			Err:    errors.New("filesystem backend has no upload URL prefix configured"),
		}
	}
	return fmt.Sprintf("%s/upload/%s", b.urlPrefix, url.PathEscape(key)), nil
}

func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir {
		return
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
