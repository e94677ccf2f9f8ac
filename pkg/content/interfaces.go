package content

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// MetadataStore persists content records in named collections. All
// implementations must return the package sentinel errors so callers
// can classify failures without knowing the backend.
type MetadataStore interface {
	// Create persists a new record. The store assigns a fresh ID and
	// stamps CreatedAt/UpdatedAt; a non-nil createdAt overrides the
	// creation timestamp. The stored record is returned.
	Create(ctx context.Context, collection string, rec *Record, createdAt *time.Time) (*Record, error)

	// Get returns a record by ID. When includeDeleted is false, a
	// tombstoned record is indistinguishable from an absent one: both
	// return ErrNotFound.
	Get(ctx context.Context, collection string, id uuid.UUID, includeDeleted bool) (*Record, error)

	// Update merges fields into a live record and refreshes UpdatedAt.
	// Immutable fields return ErrProtectedField; tombstoned records
	// return ErrAlreadyDeleted.
	Update(ctx context.Context, collection string, id uuid.UUID, fields map[string]any) (*Record, error)

	// SoftDelete tombstones a live record. Deleting a tombstoned record
	// returns ErrAlreadyDeleted.
	SoftDelete(ctx context.Context, collection string, id uuid.UUID) (*Record, error)

	// Restore clears a record's tombstone. Restoring a live record
	// returns ErrNotDeleted.
	Restore(ctx context.Context, collection string, id uuid.UUID) (*Record, error)

	// HardDelete removes a record permanently. Absent records are not
	// an error.
	HardDelete(ctx context.Context, collection string, id uuid.UUID) error

	// List returns one page of a filtered, sorted listing. Tombstoned
	// records are excluded unless opts.IncludeDeleted is set.
	List(ctx context.Context, collection string, opts ListOptions) (*ListResult, error)

	// DistinctTags returns the deduplicated, sorted union of all tags
	// in the collection.
	DistinctTags(ctx context.Context, collection string, includeDeleted bool) ([]string, error)
}

// ObjectMeta describes a stored blob.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
	UpdatedAt   time.Time
}

// BlobStore stores raw content bytes under string keys within a single
// bucket. Implementations report failures as *StorageError.
type BlobStore interface {
	// Put writes an object, overwriting any existing one at the key.
	Put(ctx context.Context, key string, r io.Reader, mimeType string) error

	// Get opens an object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether an object is present at the key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an object. Absent objects are not an error.
	Delete(ctx context.Context, key string) error

	// Meta returns object metadata without fetching the bytes.
	Meta(ctx context.Context, key string) (*ObjectMeta, error)

	// SignedUploadURL returns a URL a client can PUT the object bytes
	// to directly, valid for ttl.
	SignedUploadURL(ctx context.Context, key string, mimeType string, ttl time.Duration) (string, error)
}
