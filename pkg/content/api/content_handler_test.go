package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylew/pl4m-com/pkg/content"
	memoryrepo "github.com/tylew/pl4m-com/pkg/content/repo/memory"
	memorystorage "github.com/tylew/pl4m-com/pkg/content/storage/memory"
)

type signingBlobStore struct {
	*memorystorage.Backend
}

func (s *signingBlobStore) SignedUploadURL(ctx context.Context, key string, mimeType string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	clock := func() time.Time { return time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC) }
	manager, err := content.New(
		content.WithMetadataStore(memoryrepo.New(memoryrepo.WithClock(clock))),
		content.WithBlobStore(&signingBlobStore{Backend: memorystorage.New("pl4m-public-content")}),
		content.WithClock(clock),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(manager, nil).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func multipartUpload(t *testing.T, filename, data, metadata string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(data))
	require.NoError(t, err)

	if metadata != "" {
		require.NoError(t, w.WriteField("metadata", metadata))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func uploadTestImage(t *testing.T, srv *httptest.Server, filename string, tags ...string) map[string]any {
	t.Helper()
	tagsJSON, err := json.Marshal(tags)
	require.NoError(t, err)
	body, contentType := multipartUpload(t, filename, "image-bytes",
		fmt.Sprintf(`{"tags": %s}`, tagsJSON))

	resp, err := http.Post(srv.URL+"/images", contentType, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeJSON(t, resp)
}

func doRequest(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHandler_ListTypes(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/types")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	types, ok := body["types"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, types, "documents")
	assert.Contains(t, types, "images")
	assert.Contains(t, types, "blog")
}

func TestHandler_UploadAndGet(t *testing.T) {
	srv := newTestServer(t)

	rec := uploadTestImage(t, srv, "sunset.jpg", "sunset", "beach")
	assert.Equal(t, "2024/03/05/images/sunset.jpg", rec["storage_key"])
	assert.Equal(t, "image/jpeg", rec["mime_type"])
	assert.Equal(t, []any{"sunset", "beach"}, rec["tags"])

	id := rec["id"].(string)

	resp, err := http.Get(srv.URL + "/images/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeJSON(t, resp)
	assert.Equal(t, id, got["id"])

	// metadata_only=false streams the stored bytes.
	resp, err = http.Get(srv.URL + "/images/" + id + "?metadata_only=false")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "image-bytes", string(data))
}

func TestHandler_UploadRejections(t *testing.T) {
	srv := newTestServer(t)

	// Wrong extension for the kind.
	body, contentType := multipartUpload(t, "movie.mp4", "x", `{"tags": []}`)
	resp, err := http.Post(srv.URL+"/images", contentType, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_extension", decodeJSON(t, resp)["type"])

	// Unknown kind.
	body, contentType = multipartUpload(t, "a.mp4", "x", `{"tags": []}`)
	resp, err = http.Post(srv.URL+"/videos", contentType, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unknown_content_type", decodeJSON(t, resp)["type"])

	// Missing required metadata.
	body, contentType = multipartUpload(t, "report.pdf", "x", `{"title": "Q3"}`)
	resp, err = http.Post(srv.URL+"/documents", contentType, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", decodeJSON(t, resp)["type"])
}

func TestHandler_PatchTags(t *testing.T) {
	srv := newTestServer(t)
	rec := uploadTestImage(t, srv, "sunset.jpg", "sunset")
	id := rec["id"].(string)

	resp := doRequest(t, http.MethodPatch, srv.URL+"/images/"+id, map[string]any{
		"tags": map[string]any{"values": []string{"beach"}, "operation": "add"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeJSON(t, resp)
	assert.Equal(t, []any{"beach", "sunset"}, updated["tags"])

	resp = doRequest(t, http.MethodPatch, srv.URL+"/images/"+id, map[string]any{
		"tags": map[string]any{"values": []string{"x"}, "operation": "merge"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_operation", decodeJSON(t, resp)["type"])
}

func TestHandler_PatchMetadata(t *testing.T) {
	srv := newTestServer(t)
	rec := uploadTestImage(t, srv, "sunset.jpg", "sunset")
	id := rec["id"].(string)

	resp := doRequest(t, http.MethodPatch, srv.URL+"/images/"+id, map[string]any{
		"metadata": map[string]any{"description": "golden hour"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "golden hour", decodeJSON(t, resp)["description"])

	// Protected fields stay immutable through the API.
	resp = doRequest(t, http.MethodPatch, srv.URL+"/images/"+id, map[string]any{
		"metadata": map[string]any{"storage_key": "elsewhere"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "protected_field", decodeJSON(t, resp)["type"])

	// Empty patches are rejected.
	resp = doRequest(t, http.MethodPatch, srv.URL+"/images/"+id, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHandler_DeleteRestoreFlow(t *testing.T) {
	srv := newTestServer(t)
	rec := uploadTestImage(t, srv, "sunset.jpg", "sunset")
	id := rec["id"].(string)

	resp := doRequest(t, http.MethodDelete, srv.URL+"/images/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/images/" + id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Second soft delete is an error.
	resp = doRequest(t, http.MethodDelete, srv.URL+"/images/"+id, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "already_deleted", decodeJSON(t, resp)["type"])

	resp = doRequest(t, http.MethodPost, srv.URL+"/images/"+id+"/restore", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/images/" + id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Restoring a live record is an error.
	resp = doRequest(t, http.MethodPost, srv.URL+"/images/"+id+"/restore", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "not_deleted", decodeJSON(t, resp)["type"])

	resp = doRequest(t, http.MethodDelete, srv.URL+"/images/"+id+"?hard_delete=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/images/" + id + "?include_deleted=true")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHandler_List(t *testing.T) {
	srv := newTestServer(t)

	uploadTestImage(t, srv, "a.jpg", "sunset")
	uploadTestImage(t, srv, "b.jpg", "city")
	uploadTestImage(t, srv, "c.jpg", "sunset", "city")

	resp, err := http.Get(srv.URL + "/images/list")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	assert.Equal(t, float64(3), body["total"])
	assert.Equal(t, float64(1), body["page"])
	assert.Equal(t, float64(20), body["per_page"])

	resp, err = http.Get(srv.URL + "/images/list?tags=sunset")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), decodeJSON(t, resp)["total"])

	resp, err = http.Get(srv.URL + "/images/list?page=2&per_page=2")
	require.NoError(t, err)
	body = decodeJSON(t, resp)
	assert.Equal(t, float64(2), body["page"])
	items := body["items"].([]any)
	assert.Len(t, items, 1)

	// per_page is clamped to its maximum.
	resp, err = http.Get(srv.URL + "/images/list?per_page=5000")
	require.NoError(t, err)
	assert.Equal(t, float64(100), decodeJSON(t, resp)["per_page"])

	resp, err = http.Get(srv.URL + "/videos/list")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHandler_Tags(t *testing.T) {
	srv := newTestServer(t)

	uploadTestImage(t, srv, "a.jpg", "sunset", "beach")
	uploadTestImage(t, srv, "b.jpg", "city")

	resp, err := http.Get(srv.URL + "/images/tags")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"beach", "city", "sunset"}, decodeJSON(t, resp)["tags"])

	resp, err = http.Get(srv.URL + "/tags")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"beach", "city", "sunset"}, decodeJSON(t, resp)["tags"])
}

func TestHandler_UploadURL(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/images/upload-url", map[string]any{
		"filename": "sunset.jpg",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	assert.Equal(t, "https://signed.example/2024/03/05/images/sunset.jpg", body["url"])
	assert.Equal(t, "2024/03/05/images/sunset.jpg", body["storage_key"])

	resp = doRequest(t, http.MethodPost, srv.URL+"/images/upload-url", map[string]any{
		"filename": "movie.mp4",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_extension", decodeJSON(t, resp)["type"])
}

func TestHandler_InvalidID(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/images/not-a-uuid")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_id", decodeJSON(t, resp)["type"])
}

func TestHandler_GetMissingRecord(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/images/" + strings.Repeat("0", 8) + "-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeJSON(t, resp)["type"])
}
