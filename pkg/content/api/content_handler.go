// Package api exposes the content manager over HTTP using chi and
// render.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tylew/pl4m-com/pkg/content"
)

const (
	maxUploadMemory = 32 << 20 // 32 MB before multipart spills to disk
	maxPerPage      = 100
)

// Handler serves the content REST API.
type Handler struct {
	manager *content.Manager
	logger  *slog.Logger
}

// NewHandler creates an API handler around a content manager.
func NewHandler(manager *content.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{manager: manager, logger: logger}
}

// Routes returns the chi router for the content API. Mount it under
// the desired prefix, typically /api/content.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/types", h.listTypes)
	r.Get("/tags", h.allTags)

	r.Route("/{kind}", func(r chi.Router) {
		r.Post("/", h.upload)
		r.Post("/upload-url", h.uploadURL)
		r.Get("/list", h.list)
		r.Get("/tags", h.kindTags)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Patch("/", h.patch)
			r.Delete("/", h.delete)
			r.Post("/restore", h.restore)
		})
	})

	return r
}

// errorResponse is the JSON body for all error statuses.
type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	errType := "internal_error"

	switch {
	case errors.Is(err, content.ErrNotFound):
		status = http.StatusNotFound
		errType = "not_found"
	case errors.Is(err, content.ErrValidation):
		status = http.StatusBadRequest
		errType = "validation_error"
	case errors.Is(err, content.ErrUnknownContentType):
		status = http.StatusBadRequest
		errType = "unknown_content_type"
	case errors.Is(err, content.ErrInvalidExtension):
		status = http.StatusBadRequest
		errType = "invalid_extension"
	case errors.Is(err, content.ErrInvalidFilename):
		status = http.StatusBadRequest
		errType = "invalid_filename"
	case errors.Is(err, content.ErrProtectedField):
		status = http.StatusBadRequest
		errType = "protected_field"
	case errors.Is(err, content.ErrInvalidOperation):
		status = http.StatusBadRequest
		errType = "invalid_operation"
	case errors.Is(err, content.ErrAlreadyDeleted):
		status = http.StatusBadRequest
		errType = "already_deleted"
	case errors.Is(err, content.ErrNotDeleted):
		status = http.StatusBadRequest
		errType = "not_deleted"
	case errors.Is(err, content.ErrAlreadyExists):
		status = http.StatusBadRequest
		errType = "already_exists"
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("content api request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}

	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error(), Type: errType})
}

func (h *Handler) recordID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid record id", Type: "invalid_id"})
		return uuid.Nil, false
	}
	return id, true
}

// typeInfo is the /types representation of one content kind.
type typeInfo struct {
	ValidExtensions  []string `json:"valid_extensions"`
	RequiredMetadata []string `json:"required_metadata"`
	OptionalMetadata []string `json:"optional_metadata"`
	DefaultMimeType  string   `json:"default_mime_type,omitempty"`
	Collection       string   `json:"collection"`
}

func (h *Handler) listTypes(w http.ResponseWriter, r *http.Request) {
	registry := h.manager.Registry()
	out := make(map[string]typeInfo)
	for _, kind := range registry.Kinds() {
		cfg, err := registry.Resolve(kind)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		out[kind] = typeInfo{
			ValidExtensions:  cfg.ValidExtensions,
			RequiredMetadata: cfg.RequiredMetadata,
			OptionalMetadata: cfg.OptionalMetadata,
			DefaultMimeType:  cfg.DefaultMimeType,
			Collection:       cfg.Collection,
		}
	}
	render.JSON(w, r, map[string]any{"types": out})
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid multipart form", Type: "bad_request"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "missing file field", Type: "bad_request"})
		return
	}
	defer file.Close()

	metadata, err := parseMetadataJSON(r.FormValue("metadata"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid metadata JSON", Type: "bad_request"})
		return
	}

	req := content.UploadRequest{
		Kind:     kind,
		Filename: header.Filename,
		Reader:   file,
		Metadata: metadata,
	}
	if v := r.FormValue("creation_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{Error: "invalid creation_date", Type: "bad_request"})
			return
		}
		req.CreatedAt = &t
	}
	if v := r.FormValue("path_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{Error: "invalid path_date", Type: "bad_request"})
			return
		}
		req.PathDate = &t
	}

	rec, err := h.manager.Upload(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, rec)
}

// uploadURLRequest is the POST /{kind}/upload-url body.
type uploadURLRequest struct {
	Filename       string `json:"filename"`
	PathDate       string `json:"path_date,omitempty"`
	AllowOverwrite bool   `json:"allow_overwrite,omitempty"`
	TTLSeconds     int    `json:"ttl_seconds,omitempty"`
}

func (h *Handler) uploadURL(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	var body uploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid request body", Type: "bad_request"})
		return
	}

	req := content.UploadURLRequest{
		Kind:           kind,
		Filename:       body.Filename,
		AllowOverwrite: body.AllowOverwrite,
		TTL:            time.Duration(body.TTLSeconds) * time.Second,
	}
	if body.PathDate != "" {
		t, err := time.Parse(time.RFC3339, body.PathDate)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{Error: "invalid path_date", Type: "bad_request"})
			return
		}
		req.PathDate = &t
	}

	res, err := h.manager.UploadURL(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}

	// metadata_only defaults to true; pass metadata_only=false for the
	// stored bytes.
	if r.URL.Query().Get("metadata_only") == "false" {
		rc, rec, err := h.manager.Download(r.Context(), kind, id)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", rec.MimeType)
		w.Header().Set("Content-Length", strconv.FormatInt(rec.SizeBytes, 10))
		if _, err := io.Copy(w, rc); err != nil {
			h.logger.Error("streaming content failed",
				"kind", kind, "id", id, "error", err)
		}
		return
	}

	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	rec, err := h.manager.Get(r.Context(), kind, id, includeDeleted)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, rec)
}

// patchRequest is the PATCH /{kind}/{id} body. Any combination of the
// three sections may be present; they apply in order: metadata,
// content, tags.
type patchRequest struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	Content  string         `json:"content,omitempty"` // base64
	Tags     *tagsUpdate    `json:"tags,omitempty"`
}

type tagsUpdate struct {
	Values    []string `json:"values"`
	Operation string   `json:"operation"`
}

func (h *Handler) patch(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}

	var body patchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "invalid request body", Type: "bad_request"})
		return
	}
	if body.Metadata == nil && body.Content == "" && body.Tags == nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "empty update", Type: "bad_request"})
		return
	}

	var rec *content.Record
	var err error

	if body.Metadata != nil {
		rec, err = h.manager.UpdateMetadata(r.Context(), kind, id, coerceDates(body.Metadata))
		if err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	if body.Content != "" {
		data, decErr := base64.StdEncoding.DecodeString(body.Content)
		if decErr != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{Error: "invalid base64 content", Type: "bad_request"})
			return
		}
		rec, err = h.manager.ReplaceContent(r.Context(), kind, id, strings.NewReader(string(data)))
		if err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	if body.Tags != nil {
		rec, err = h.manager.UpdateTags(r.Context(), kind, id, content.TagUpdate{
			Tags:      body.Tags.Values,
			Operation: content.TagOperation(body.Tags.Operation),
		})
		if err != nil {
			h.respondError(w, r, err)
			return
		}
	}

	render.JSON(w, r, rec)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}

	hard := r.URL.Query().Get("hard_delete") == "true"
	if err := h.manager.Delete(r.Context(), kind, id, hard); err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"status": "deleted", "hard": hard})
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}

	rec, err := h.manager.Restore(r.Context(), kind, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, rec)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	q := r.URL.Query()

	opts := content.ListOptions{
		Page:    parseIntDefault(q.Get("page"), 1),
		PerPage: parseIntDefault(q.Get("per_page"), 20),
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage < 1 {
		opts.PerPage = 20
	}
	if opts.PerPage > maxPerPage {
		opts.PerPage = maxPerPage
	}

	if tags := q.Get("tags"); tags != "" {
		values := strings.Split(tags, ",")
		for i := range values {
			values[i] = strings.TrimSpace(values[i])
		}
		opts.Filters = append(opts.Filters, content.Filter{
			Field: "tags",
			Op:    content.OpContainsAny,
			Value: values,
		})
	}
	if v := q.Get("from_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{Error: "invalid from_date", Type: "bad_request"})
			return
		}
		opts.Filters = append(opts.Filters, content.Filter{
			Field: "created_at", Op: content.OpGreaterOrEqual, Value: t,
		})
	}
	if v := q.Get("to_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{Error: "invalid to_date", Type: "bad_request"})
			return
		}
		opts.Filters = append(opts.Filters, content.Filter{
			Field: "created_at", Op: content.OpLessOrEqual, Value: t,
		})
	}

	opts.OrderBy = q.Get("sort_by")
	opts.Descending = q.Get("sort_order") != "asc"
	opts.IncludeDeleted = q.Get("include_deleted") == "true"

	res, err := h.manager.List(r.Context(), kind, opts)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (h *Handler) kindTags(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	tags, err := h.manager.AvailableTags(r.Context(), kind)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"tags": tags})
}

func (h *Handler) allTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.manager.AllTags(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"tags": tags})
}

func parseMetadataJSON(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, err
	}
	return coerceDates(metadata), nil
}

// dateFields are metadata keys whose JSON string values are parsed into
// timestamps at the boundary. Unparseable values pass through unchanged
// and fail type validation downstream.
var dateFields = map[string]bool{
	"taken_at":     true,
	"publish_date": true,
	"created_date": true,
}

func coerceDates(metadata map[string]any) map[string]any {
	for k, v := range metadata {
		if !dateFields[k] {
			continue
		}
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				metadata[k] = t
			}
		}
	}
	return metadata
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
