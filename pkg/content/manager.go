package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tylew/pl4m-com/pkg/content/objectkey"
)

const (
	// DefaultBucket is the bucket used when none is configured.
	DefaultBucket = "pl4m-public-content"

	defaultUploadURLTTL = 15 * time.Minute
)

// protectedFields may not be changed through metadata updates. They are
// either store-assigned or derived from the stored bytes.
var protectedFields = map[string]bool{
	"id":          true,
	"storage_key": true,
	"bucket":      true,
	"created_at":  true,
	"mime_type":   true,
	"size_bytes":  true,
}

// Manager coordinates a blob store and a metadata store into one
// content-management surface. Blob writes happen before metadata
// writes; a metadata failure can leave an orphaned blob behind, which
// the caller observes as an error on the whole operation.
type Manager struct {
	registry     *Registry
	store        MetadataStore
	blobs        BlobStore
	bucket       string
	keys         objectkey.Generator
	clock        Clock
	uploadURLTTL time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry overrides the default content-kind registry.
func WithRegistry(r *Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithMetadataStore sets the metadata backend. Required.
func WithMetadataStore(s MetadataStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithBlobStore sets the blob backend. Required.
func WithBlobStore(b BlobStore) Option {
	return func(m *Manager) { m.blobs = b }
}

// WithBucket overrides the default storage bucket name.
func WithBucket(bucket string) Option {
	return func(m *Manager) { m.bucket = bucket }
}

// WithKeyGenerator overrides the storage-key derivation strategy.
func WithKeyGenerator(g objectkey.Generator) Option {
	return func(m *Manager) { m.keys = g }
}

// WithClock overrides the time source. Used by tests to pin timestamps
// and derived storage paths.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithUploadURLTTL overrides the default signed upload URL validity.
func WithUploadURLTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.uploadURLTTL = ttl }
}

// New builds a Manager. A metadata store and a blob store are required;
// everything else has defaults.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		bucket:       DefaultBucket,
		keys:         objectkey.NewDateGenerator(),
		clock:        UTCClock,
		uploadURLTTL: defaultUploadURLTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		return nil, errors.New("content: metadata store is required")
	}
	if m.blobs == nil {
		return nil, errors.New("content: blob store is required")
	}
	if m.registry == nil {
		m.registry = DefaultRegistry()
	}
	return m, nil
}

// Registry exposes the configured content kinds.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Bucket returns the configured storage bucket name.
func (m *Manager) Bucket() string {
	return m.bucket
}

// Upload validates the request, writes the bytes, then creates the
// metadata record. Validation failures happen before any write.
func (m *Manager) Upload(ctx context.Context, req UploadRequest) (*Record, error) {
	rec, err := m.upload(ctx, req)
	if err != nil {
		return nil, &ContentError{Kind: req.Kind, Op: "upload", Err: err}
	}
	return rec, nil
}

func (m *Manager) upload(ctx context.Context, req UploadRequest) (*Record, error) {
	cfg, err := m.registry.Resolve(req.Kind)
	if err != nil {
		return nil, err
	}
	if !cfg.AllowsExtension(req.Filename) {
		return nil, fmt.Errorf("%w: %q for kind %s", ErrInvalidExtension, path.Ext(req.Filename), req.Kind)
	}
	if err := ValidateMetadata(cfg, req.Metadata); err != nil {
		return nil, err
	}

	pathDate := m.clock()
	if req.PathDate != nil {
		pathDate = *req.PathDate
	}
	key, err := m.keys.GenerateKey(req.Kind, req.Filename, pathDate)
	if err != nil {
		return nil, err
	}
	mimeType := cfg.MimeTypeFor(req.Filename)

	data, err := io.ReadAll(req.Reader)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if err := m.blobs.Put(ctx, key, bytes.NewReader(data), mimeType); err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		fields[k] = v
	}
	if m.requiresLastModified(cfg) {
		fields["last_modified"] = m.clock()
	}

	rec := &Record{
		Bucket:     m.bucket,
		StorageKey: key,
		SizeBytes:  int64(len(data)),
		MimeType:   mimeType,
		Fields:     fields,
	}
	// A failure here leaves the blob behind. There is no compensating
	// delete; the error tells the caller the record was not created.
	return m.store.Create(ctx, cfg.Collection, rec, req.CreatedAt)
}

// Get returns a record by kind and ID.
func (m *Manager) Get(ctx context.Context, kind string, id uuid.UUID, includeDeleted bool) (*Record, error) {
	rec, err := m.get(ctx, kind, id, includeDeleted)
	if err != nil {
		return nil, &ContentError{Kind: kind, Op: "get", Err: err}
	}
	return rec, nil
}

func (m *Manager) get(ctx context.Context, kind string, id uuid.UUID, includeDeleted bool) (*Record, error) {
	cfg, err := m.registry.Resolve(kind)
	if err != nil {
		return nil, err
	}
	return m.store.Get(ctx, cfg.Collection, id, includeDeleted)
}

// Download opens the stored bytes of a live record. The caller closes
// the reader.
func (m *Manager) Download(ctx context.Context, kind string, id uuid.UUID) (io.ReadCloser, *Record, error) {
	rec, err := m.get(ctx, kind, id, false)
	if err != nil {
		return nil, nil, &ContentError{Kind: kind, Op: "download", Err: err}
	}
	rc, err := m.blobs.Get(ctx, rec.StorageKey)
	if err != nil {
		return nil, nil, &ContentError{Kind: kind, Op: "download", Err: err}
	}
	return rc, rec, nil
}

// UpdateMetadata merges fields into a live record. Protected fields and
// server-computed fields are rejected.
func (m *Manager) UpdateMetadata(ctx context.Context, kind string, id uuid.UUID, fields map[string]any) (*Record, error) {
	rec, err := m.updateMetadata(ctx, kind, id, fields)
	if err != nil {
		return nil, &ContentError{Kind: kind, Op: "update_metadata", Err: err}
	}
	return rec, nil
}

func (m *Manager) updateMetadata(ctx context.Context, kind string, id uuid.UUID, fields map[string]any) (*Record, error) {
	cfg, err := m.registry.Resolve(kind)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if protectedFields[k] {
			return nil, fmt.Errorf("%w: %s", ErrProtectedField, k)
		}
		if computedMetadata[k] {
			return nil, &ValidationError{Kind: ValidationUnknownField, Field: k}
		}
	}

	merged := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	if m.requiresLastModified(cfg) {
		merged["last_modified"] = m.clock()
	}
	return m.store.Update(ctx, cfg.Collection, id, merged)
}

// UpdateTags mutates a record's tag set with set, add or remove. The
// resulting set is deduplicated and sorted.
func (m *Manager) UpdateTags(ctx context.Context, kind string, id uuid.UUID, update TagUpdate) (*Record, error) {
	rec, err := m.updateTags(ctx, kind, id, update)
	if err != nil {
		return nil, &ContentError{Kind: kind, Op: "update_tags", Err: err}
	}
	return rec, nil
}

func (m *Manager) updateTags(ctx context.Context, kind string, id uuid.UUID, update TagUpdate) (*Record, error) {
	rec, err := m.get(ctx, kind, id, false)
	if err != nil {
		return nil, err
	}
	next, err := ApplyTagOperation(rec.Tags(), update.Tags, update.Operation)
	if err != nil {
		return nil, err
	}
	return m.updateMetadata(ctx, kind, id, map[string]any{"tags": next})
}

// ReplaceContent overwrites a record's stored bytes in place, keeping
// the storage key and MIME type, and refreshes the size.
func (m *Manager) ReplaceContent(ctx context.Context, kind string, id uuid.UUID, r io.Reader) (*Record, error) {
	rec, err := m.replaceContent(ctx, kind, id, r)
	if err != nil {
		return nil, &ContentError{Kind: kind, Op: "replace_content", Err: err}
	}
	return rec, nil
}

func (m *Manager) replaceContent(ctx context.Context, kind string, id uuid.UUID, r io.Reader) (*Record, error) {
	cfg, err := m.registry.Resolve(kind)
	if err != nil {
		return nil, err
	}
	rec, err := m.store.Get(ctx, cfg.Collection, id, true)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if err := m.blobs.Put(ctx, rec.StorageKey, bytes.NewReader(data), rec.MimeType); err != nil {
		return nil, err
	}

	fields := map[string]any{"size_bytes": int64(len(data))}
	if m.requiresLastModified(cfg) {
		fields["last_modified"] = m.clock()
	}
	return m.store.Update(ctx, cfg.Collection, id, fields)
}

// Delete removes a record. A soft delete tombstones the metadata and
// keeps the bytes; a hard delete removes both and is idempotent.
func (m *Manager) Delete(ctx context.Context, kind string, id uuid.UUID, hard bool) error {
	if err := m.delete(ctx, kind, id, hard); err != nil {
		return &ContentError{Kind: kind, Op: "delete", Err: err}
	}
	return nil
}

func (m *Manager) delete(ctx context.Context, kind string, id uuid.UUID, hard bool) error {
	cfg, err := m.registry.Resolve(kind)
	if err != nil {
		return err
	}
	if !hard {
		_, err := m.store.SoftDelete(ctx, cfg.Collection, id)
		return err
	}

	rec, err := m.store.Get(ctx, cfg.Collection, id, true)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	exists, err := m.blobs.Exists(ctx, rec.StorageKey)
	if err != nil {
		return err
	}
	if exists {
		if err := m.blobs.Delete(ctx, rec.StorageKey); err != nil {
			return err
		}
	}
	return m.store.HardDelete(ctx, cfg.Collection, id)
}

// Restore clears a record's tombstone.
func (m *Manager) Restore(ctx context.Context, kind string, id uuid.UUID) (*Record, error) {
	cfg, err := m.registry.Resolve(kind)
	if err != nil {
		return nil, &ContentError{Kind: kind, Op: "restore", Err: err}
	}
	rec, err := m.store.Restore(ctx, cfg.Collection, id)
	if err != nil {
		return nil, &ContentError{Kind: kind, Op: "restore", Err: err}
	}
	return rec, nil
}

// List returns one page of the kind's records.
func (m *Manager) List(ctx context.Context, kind string, opts ListOptions) (*ListResult, error) {
	cfg, err := m.registry.Resolve(kind)
	if err != nil {
		return nil, &ContentError{Kind: kind, Op: "list", Err: err}
	}
	res, err := m.store.List(ctx, cfg.Collection, opts)
	if err != nil {
		return nil, &ContentError{Kind: kind, Op: "list", Err: err}
	}
	return res, nil
}

// AvailableTags returns the distinct tags in use across the kind's live
// records, sorted.
func (m *Manager) AvailableTags(ctx context.Context, kind string) ([]string, error) {
	cfg, err := m.registry.Resolve(kind)
	if err != nil {
		return nil, &ContentError{Kind: kind, Op: "available_tags", Err: err}
	}
	tags, err := m.store.DistinctTags(ctx, cfg.Collection, false)
	if err != nil {
		return nil, &ContentError{Kind: kind, Op: "available_tags", Err: err}
	}
	return tags, nil
}

// AllTags merges the distinct live tags of every registered kind.
func (m *Manager) AllTags(ctx context.Context) ([]string, error) {
	set := make(map[string]bool)
	for _, kind := range m.registry.Kinds() {
		tags, err := m.AvailableTags(ctx, kind)
		if err != nil {
			return nil, err
		}
		for _, t := range tags {
			set[t] = true
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// UploadURL derives the storage key for a direct upload and returns a
// signed PUT URL for it. Unless AllowOverwrite is set, an occupied key
// returns ErrAlreadyExists.
func (m *Manager) UploadURL(ctx context.Context, req UploadURLRequest) (*UploadURLResult, error) {
	res, err := m.uploadURL(ctx, req)
	if err != nil {
		return nil, &ContentError{Kind: req.Kind, Op: "upload_url", Err: err}
	}
	return res, nil
}

func (m *Manager) uploadURL(ctx context.Context, req UploadURLRequest) (*UploadURLResult, error) {
	cfg, err := m.registry.Resolve(req.Kind)
	if err != nil {
		return nil, err
	}
	if !cfg.AllowsExtension(req.Filename) {
		return nil, fmt.Errorf("%w: %q for kind %s", ErrInvalidExtension, strings.ToLower(path.Ext(req.Filename)), req.Kind)
	}

	pathDate := m.clock()
	if req.PathDate != nil {
		pathDate = *req.PathDate
	}
	key, err := m.keys.GenerateKey(req.Kind, req.Filename, pathDate)
	if err != nil {
		return nil, err
	}

	if !req.AllowOverwrite {
		exists, err := m.blobs.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, key)
		}
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = m.uploadURLTTL
	}
	mimeType := cfg.MimeTypeFor(req.Filename)
	url, err := m.blobs.SignedUploadURL(ctx, key, mimeType, ttl)
	if err != nil {
		return nil, err
	}
	return &UploadURLResult{
		URL:        url,
		StorageKey: key,
		Bucket:     m.bucket,
		MimeType:   mimeType,
		ExpiresAt:  m.clock().Add(ttl),
	}, nil
}

func (m *Manager) requiresLastModified(cfg *TypeConfig) bool {
	for _, f := range cfg.RequiredMetadata {
		if computedMetadata[f] {
			return true
		}
	}
	return false
}
