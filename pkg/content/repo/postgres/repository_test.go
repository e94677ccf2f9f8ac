package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylew/pl4m-com/pkg/content"
)

// Integration tests run only when TEST_DATABASE_URL points at a
// disposable PostgreSQL database.
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))

	repo := NewWithPool(pool)
	require.NoError(t, repo.Migrate(ctx))

	_, err = pool.Exec(ctx, "TRUNCATE content_record")
	require.NoError(t, err)
	return repo
}

func newRecord(tags ...string) *content.Record {
	return &content.Record{
		Bucket:     "pl4m-public-content",
		StorageKey: fmt.Sprintf("2024/03/05/images/%s.jpg", uuid.NewString()),
		SizeBytes:  10,
		MimeType:   "image/jpeg",
		Fields:     map[string]any{"tags": tags},
	}
}

const collection = "tylers-platform-images"

func TestRepository_Roundtrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, collection, newRecord("sunset", "beach"), nil)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)

	got, err := repo.Get(ctx, collection, created.ID, false)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.StorageKey, got.StorageKey)
	assert.Equal(t, []string{"sunset", "beach"}, got.Tags())

	_, err = repo.Get(ctx, collection, uuid.New(), false)
	assert.ErrorIs(t, err, content.ErrNotFound)

	_, err = repo.Get(ctx, "tylers-platform-blog", created.ID, false)
	assert.ErrorIs(t, err, content.ErrNotFound)
}

func TestRepository_UpdateAndProtectedFields(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, collection, newRecord("sunset"), nil)
	require.NoError(t, err)

	updated, err := repo.Update(ctx, collection, created.ID, map[string]any{
		"description": "golden hour",
		"size_bytes":  int64(42),
	})
	require.NoError(t, err)
	assert.Equal(t, "golden hour", updated.Fields["description"])
	assert.Equal(t, int64(42), updated.SizeBytes)

	_, err = repo.Update(ctx, collection, created.ID, map[string]any{"bucket": "elsewhere"})
	assert.ErrorIs(t, err, content.ErrProtectedField)
}

func TestRepository_SoftDeleteRestore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, collection, newRecord(), nil)
	require.NoError(t, err)

	_, err = repo.SoftDelete(ctx, collection, created.ID)
	require.NoError(t, err)

	_, err = repo.Get(ctx, collection, created.ID, false)
	assert.ErrorIs(t, err, content.ErrNotFound)
	_, err = repo.SoftDelete(ctx, collection, created.ID)
	assert.ErrorIs(t, err, content.ErrAlreadyDeleted)
	_, err = repo.Update(ctx, collection, created.ID, map[string]any{"description": "x"})
	assert.ErrorIs(t, err, content.ErrAlreadyDeleted)

	restored, err := repo.Restore(ctx, collection, created.ID)
	require.NoError(t, err)
	assert.False(t, restored.Deleted())

	_, err = repo.Restore(ctx, collection, created.ID)
	assert.ErrorIs(t, err, content.ErrNotDeleted)
}

func TestRepository_HardDeleteIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, collection, newRecord(), nil)
	require.NoError(t, err)

	require.NoError(t, repo.HardDelete(ctx, collection, created.ID))
	_, err = repo.Get(ctx, collection, created.ID, true)
	assert.ErrorIs(t, err, content.ErrNotFound)
	assert.NoError(t, repo.HardDelete(ctx, collection, created.ID))
}

func TestRepository_ListAndDistinctTags(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		createdAt := base.Add(time.Duration(i) * time.Hour)
		_, err := repo.Create(ctx, collection, newRecord(fmt.Sprintf("t%d", i%2)), &createdAt)
		require.NoError(t, err)
	}
	tombstoned, err := repo.Create(ctx, collection, newRecord("hidden"), nil)
	require.NoError(t, err)
	_, err = repo.SoftDelete(ctx, collection, tombstoned.ID)
	require.NoError(t, err)

	res, err := repo.List(ctx, collection, content.ListOptions{Page: 1, PerPage: 3, Descending: true})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 2, res.Pages)
	require.Len(t, res.Items, 3)
	assert.True(t, res.Items[0].CreatedAt.After(res.Items[1].CreatedAt) ||
		res.Items[0].CreatedAt.Equal(res.Items[1].CreatedAt))

	res, err = repo.List(ctx, collection, content.ListOptions{
		Filters: []content.Filter{
			{Field: "tags", Op: content.OpContainsAny, Value: []string{"t0"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)

	tags, err := repo.DistinctTags(ctx, collection, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"t0", "t1"}, tags)

	tags, err = repo.DistinctTags(ctx, collection, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"hidden", "t0", "t1"}, tags)
}
