// Package memory provides an in-memory MetadataStore for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tylew/pl4m-com/pkg/content"
)

// storeProtected fields are immutable at the store level regardless of
// what higher layers allow.
var storeProtected = map[string]bool{
	"id":          true,
	"storage_key": true,
	"bucket":      true,
	"created_at":  true,
}

// Repository is an in-memory content.MetadataStore. Records are kept
// per collection and always handed out as copies.
type Repository struct {
	mu          sync.RWMutex
	collections map[string]map[uuid.UUID]*content.Record
	clock       content.Clock
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the time source used for timestamps.
func WithClock(c content.Clock) Option {
	return func(r *Repository) { r.clock = c }
}

// New creates a new in-memory repository.
func New(opts ...Option) *Repository {
	r := &Repository{
		collections: make(map[string]map[uuid.UUID]*content.Record),
		clock:       content.UTCClock,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) collection(name string) map[uuid.UUID]*content.Record {
	coll, ok := r.collections[name]
	if !ok {
		coll = make(map[uuid.UUID]*content.Record)
		r.collections[name] = coll
	}
	return coll
}

func (r *Repository) Create(ctx context.Context, collection string, rec *content.Record, createdAt *time.Time) (*content.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	stored := rec.Clone()
	stored.ID = uuid.New()
	stored.CreatedAt = now
	if createdAt != nil {
		stored.CreatedAt = *createdAt
	}
	stored.UpdatedAt = now
	stored.DeletedAt = nil

	r.collection(collection)[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *Repository) Get(ctx context.Context, collection string, id uuid.UUID, includeDeleted bool) (*content.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.collections[collection][id]
	if !ok {
		return nil, content.ErrNotFound
	}
	if rec.Deleted() && !includeDeleted {
		return nil, content.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *Repository) Update(ctx context.Context, collection string, id uuid.UUID, fields map[string]any) (*content.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.collections[collection][id]
	if !ok {
		return nil, content.ErrNotFound
	}
	if rec.Deleted() {
		return nil, content.ErrAlreadyDeleted
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if storeProtected[k] {
			return nil, fmt.Errorf("%w: %s", content.ErrProtectedField, k)
		}
	}

	for _, k := range keys {
		v := fields[k]
		switch k {
		case "size_bytes":
			switch n := v.(type) {
			case int64:
				rec.SizeBytes = n
			case int:
				rec.SizeBytes = int64(n)
			}
		case "mime_type":
			if s, ok := v.(string); ok {
				rec.MimeType = s
			}
		default:
			if rec.Fields == nil {
				rec.Fields = make(map[string]any)
			}
			rec.Fields[k] = v
		}
	}
	rec.UpdatedAt = r.clock()
	return rec.Clone(), nil
}

func (r *Repository) SoftDelete(ctx context.Context, collection string, id uuid.UUID) (*content.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.collections[collection][id]
	if !ok {
		return nil, content.ErrNotFound
	}
	if rec.Deleted() {
		return nil, content.ErrAlreadyDeleted
	}
	now := r.clock()
	rec.DeletedAt = &now
	rec.UpdatedAt = now
	return rec.Clone(), nil
}

func (r *Repository) Restore(ctx context.Context, collection string, id uuid.UUID) (*content.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.collections[collection][id]
	if !ok {
		return nil, content.ErrNotFound
	}
	if !rec.Deleted() {
		return nil, content.ErrNotDeleted
	}
	rec.DeletedAt = nil
	rec.UpdatedAt = r.clock()
	return rec.Clone(), nil
}

func (r *Repository) HardDelete(ctx context.Context, collection string, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.collections[collection], id)
	return nil
}

func (r *Repository) List(ctx context.Context, collection string, opts content.ListOptions) (*content.ListResult, error) {
	r.mu.RLock()
	records := make([]*content.Record, 0, len(r.collections[collection]))
	for _, rec := range r.collections[collection] {
		if rec.Deleted() && !opts.IncludeDeleted {
			continue
		}
		records = append(records, rec.Clone())
	}
	r.mu.RUnlock()

	return content.ApplyListOptions(records, opts)
}

func (r *Repository) DistinctTags(ctx context.Context, collection string, includeDeleted bool) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(map[string]bool)
	for _, rec := range r.collections[collection] {
		if rec.Deleted() && !includeDeleted {
			continue
		}
		for _, t := range rec.Tags() {
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
