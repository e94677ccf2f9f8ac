// Package postgres provides a MetadataStore backed by PostgreSQL.
// Records live in a single JSONB document table per database, namespaced
// by collection.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tylew/pl4m-com/pkg/content"
)

// DBTX matches both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var storeProtected = map[string]bool{
	"id":          true,
	"storage_key": true,
	"bucket":      true,
	"created_at":  true,
}

// Repository is a PostgreSQL content.MetadataStore.
//
// Kind metadata is stored as JSONB, so time values inside Fields round
// trip as RFC3339 strings. System timestamps keep their own typed
// columns.
type Repository struct {
	db    DBTX
	clock content.Clock
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the time source used for timestamps.
func WithClock(c content.Clock) Option {
	return func(r *Repository) { r.clock = c }
}

// New creates a repository on an existing connection or transaction.
func New(db DBTX, opts ...Option) *Repository {
	r := &Repository{db: db, clock: content.UTCClock}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewWithPool creates a repository on a pgx connection pool.
func NewWithPool(pool *pgxpool.Pool, opts ...Option) *Repository {
	return New(pool, opts...)
}

// Migrate creates the content_record table and its indexes if they do
// not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS content_record (
			id UUID PRIMARY KEY,
			collection TEXT NOT NULL,
			bucket TEXT NOT NULL,
			storage_key TEXT NOT NULL,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			mime_type TEXT NOT NULL DEFAULT '',
			fields JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_content_record_collection
			ON content_record (collection);
		CREATE INDEX IF NOT EXISTS idx_content_record_collection_live
			ON content_record (collection) WHERE deleted_at IS NULL;
	`)
	if err != nil {
		return fmt.Errorf("migrate content_record: %w", err)
	}
	return nil
}

const recordColumns = `id, bucket, storage_key, size_bytes, mime_type, fields, created_at, updated_at, deleted_at`

func scanRecord(row pgx.Row) (*content.Record, error) {
	var rec content.Record
	var fields []byte
	err := row.Scan(
		&rec.ID,
		&rec.Bucket,
		&rec.StorageKey,
		&rec.SizeBytes,
		&rec.MimeType,
		&fields,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, content.ErrNotFound
		}
		return nil, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode record fields: %w", err)
		}
	}
	return &rec, nil
}

func (r *Repository) Create(ctx context.Context, collection string, rec *content.Record, createdAt *time.Time) (*content.Record, error) {
	now := r.clock()
	stored := rec.Clone()
	stored.ID = uuid.New()
	stored.CreatedAt = now
	if createdAt != nil {
		stored.CreatedAt = *createdAt
	}
	stored.UpdatedAt = now
	stored.DeletedAt = nil

	fields, err := json.Marshal(stored.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode record fields: %w", err)
	}
	if stored.Fields == nil {
		fields = []byte(`{}`)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO content_record (id, collection, bucket, storage_key, size_bytes, mime_type, fields, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL)`,
		stored.ID, collection, stored.Bucket, stored.StorageKey,
		stored.SizeBytes, stored.MimeType, fields, stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return stored, nil
}

func (r *Repository) Get(ctx context.Context, collection string, id uuid.UUID, includeDeleted bool) (*content.Record, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM content_record
		WHERE id = $1 AND collection = $2`,
		id, collection,
	)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, err
	}
	if rec.Deleted() && !includeDeleted {
		return nil, content.ErrNotFound
	}
	return rec, nil
}

func (r *Repository) Update(ctx context.Context, collection string, id uuid.UUID, fields map[string]any) (*content.Record, error) {
	rec, err := r.Get(ctx, collection, id, true)
	if err != nil {
		return nil, err
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

	encoded, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode record fields: %w", err)
	}
	if rec.Fields == nil {
		encoded = []byte(`{}`)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE content_record
		SET size_bytes = $1, mime_type = $2, fields = $3, updated_at = $4
		WHERE id = $5 AND collection = $6 AND deleted_at IS NULL`,
		rec.SizeBytes, rec.MimeType, encoded, rec.UpdatedAt, id, collection,
	)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, content.ErrNotFound
	}
	return rec, nil
}

func (r *Repository) SoftDelete(ctx context.Context, collection string, id uuid.UUID) (*content.Record, error) {
	rec, err := r.Get(ctx, collection, id, true)
	if err != nil {
		return nil, err
	}
	if rec.Deleted() {
		return nil, content.ErrAlreadyDeleted
	}

	now := r.clock()
	_, err = r.db.Exec(ctx, `
		UPDATE content_record
		SET deleted_at = $1, updated_at = $1
		WHERE id = $2 AND collection = $3`,
		now, id, collection,
	)
	if err != nil {
		return nil, fmt.Errorf("soft delete record: %w", err)
	}
	rec.DeletedAt = &now
	rec.UpdatedAt = now
	return rec, nil
}

func (r *Repository) Restore(ctx context.Context, collection string, id uuid.UUID) (*content.Record, error) {
	rec, err := r.Get(ctx, collection, id, true)
	if err != nil {
		return nil, err
	}
	if !rec.Deleted() {
		return nil, content.ErrNotDeleted
	}

	now := r.clock()
	_, err = r.db.Exec(ctx, `
		UPDATE content_record
		SET deleted_at = NULL, updated_at = $1
		WHERE id = $2 AND collection = $3`,
		now, id, collection,
	)
	if err != nil {
		return nil, fmt.Errorf("restore record: %w", err)
	}
	rec.DeletedAt = nil
	rec.UpdatedAt = now
	return rec, nil
}

func (r *Repository) HardDelete(ctx context.Context, collection string, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM content_record
		WHERE id = $1 AND collection = $2`,
		id, collection,
	)
	if err != nil {
		return fmt.Errorf("hard delete record: %w", err)
	}
	return nil
}

// List narrows by collection and tombstone in SQL, then applies the
// shared filter/sort/paginate algebra in memory so listing semantics
// match the in-memory store exactly.
func (r *Repository) List(ctx context.Context, collection string, opts content.ListOptions) (*content.ListResult, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM content_record
		WHERE collection = $1`
	if !opts.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}

	rows, err := r.db.Query(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*content.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	return content.ApplyListOptions(records, opts)
}

func (r *Repository) DistinctTags(ctx context.Context, collection string, includeDeleted bool) ([]string, error) {
	query := `
		SELECT DISTINCT tag
		FROM content_record, jsonb_array_elements_text(fields->'tags') AS tag
		WHERE collection = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY tag`

	rows, err := r.db.Query(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("distinct tags: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distinct tags: %w", err)
	}
	return tags, nil
}
