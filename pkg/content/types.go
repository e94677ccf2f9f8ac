package content

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is the metadata row for one logical content item. The stored
// bytes live in a blob store under Bucket/StorageKey; the record only
// references them.
//
// ID, Bucket, StorageKey and CreatedAt are immutable after creation.
// Kind-specific metadata (title, description, tags, ...) lives in Fields.
type Record struct {
	ID         uuid.UUID
	Bucket     string
	StorageKey string
	SizeBytes  int64
	MimeType   string
	Fields     map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// Deleted reports whether the record is tombstoned.
func (r *Record) Deleted() bool {
	return r.DeletedAt != nil
}

// Tags returns the record's tag set, or nil when no tags field is present.
func (r *Record) Tags() []string {
	tags, _ := stringSlice(r.Fields["tags"])
	return tags
}

// Clone returns a copy of the record safe to hand across goroutines.
func (r *Record) Clone() *Record {
	cp := *r
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		cp.DeletedAt = &t
	}
	if r.Fields != nil {
		cp.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			switch vv := v.(type) {
			case []string:
				cp.Fields[k] = append([]string(nil), vv...)
			case []any:
				cp.Fields[k] = append([]any(nil), vv...)
			default:
				cp.Fields[k] = v
			}
		}
	}
	return &cp
}

// MarshalJSON renders the record flat, document-store style: metadata
// fields at the top level alongside the system-assigned ones. System
// fields win on name collisions.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+8)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["id"] = r.ID.String()
	out["bucket"] = r.Bucket
	out["storage_key"] = r.StorageKey
	out["size_bytes"] = r.SizeBytes
	out["mime_type"] = r.MimeType
	out["created_at"] = r.CreatedAt
	out["updated_at"] = r.UpdatedAt
	out["deleted_at"] = r.DeletedAt
	return json.Marshal(out)
}

// FilterOp is a list-filter comparison operator.
type FilterOp string

const (
	OpEqual          FilterOp = "=="
	OpGreaterOrEqual FilterOp = ">="
	OpLessOrEqual    FilterOp = "<="
	OpContainsAny    FilterOp = "array_contains_any"
)

// Filter is one (field, operator, value) condition. Filters in a list
// combine as a conjunction.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// ListOptions controls filtering, ordering and pagination of a listing.
// Zero values take defaults: OrderBy "created_at", Page 1, PerPage 20.
type ListOptions struct {
	IncludeDeleted bool
	Filters        []Filter
	OrderBy        string
	Descending     bool
	Page           int
	PerPage        int
}

// ListResult is one page of a filtered, sorted listing. Total and Pages
// describe the whole filtered result set, not just this page.
type ListResult struct {
	Items   []*Record `json:"items"`
	Total   int       `json:"total"`
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
	Pages   int       `json:"pages"`
}

// Clock supplies the current time. Injected so tests can pin timestamps
// and derived storage paths.
type Clock func() time.Time

// UTCClock is the default Clock.
func UTCClock() time.Time {
	return time.Now().UTC()
}

func stringSlice(v any) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return vv, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
