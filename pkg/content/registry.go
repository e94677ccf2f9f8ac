package content

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// TypeConfig describes one content kind: which files it accepts, which
// metadata fields it requires and allows, how MIME types resolve, and
// which collection its records live in.
type TypeConfig struct {
	// Name is the kind identifier used in API paths and storage keys.
	Name string

	// ValidExtensions are accepted filename extensions, lowercase with
	// leading dot (".pdf", ".jpg").
	ValidExtensions []string

	// RequiredMetadata fields must be present at upload time, except
	// server-computed fields which are stamped by the manager.
	RequiredMetadata []string

	// OptionalMetadata fields may be present. Anything outside the union
	// of required and optional is rejected.
	OptionalMetadata []string

	// DefaultMimeType is used when no per-extension mapping applies.
	DefaultMimeType string

	// MimeTypes maps extensions (without the dot) to MIME types.
	MimeTypes map[string]string

	// Collection names the document-store collection for this kind.
	Collection string
}

// AllowsExtension reports whether the filename's extension is accepted.
// Matching is case-insensitive.
func (c *TypeConfig) AllowsExtension(filename string) bool {
	ext := strings.ToLower(path.Ext(filename))
	for _, allowed := range c.ValidExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// MimeTypeFor resolves the MIME type for a filename: per-extension map
// first, then the kind default, then application/octet-stream.
func (c *TypeConfig) MimeTypeFor(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	if mt, ok := c.MimeTypes[ext]; ok {
		return mt
	}
	if c.DefaultMimeType != "" {
		return c.DefaultMimeType
	}
	return "application/octet-stream"
}

// Registry holds the configured content kinds. Immutable after
// construction, safe for concurrent use.
type Registry struct {
	kinds map[string]*TypeConfig
}

// NewRegistry builds a registry from the given kind configs. It fails
// when a config has an empty name or collection, or when a metadata
// field appears as both required and optional.
func NewRegistry(configs ...TypeConfig) (*Registry, error) {
	kinds := make(map[string]*TypeConfig, len(configs))
	for i := range configs {
		cfg := configs[i]
		if cfg.Name == "" {
			return nil, fmt.Errorf("content type config at index %d has no name", i)
		}
		if cfg.Collection == "" {
			return nil, fmt.Errorf("content type %q has no collection", cfg.Name)
		}
		if _, exists := kinds[cfg.Name]; exists {
			return nil, fmt.Errorf("content type %q registered twice", cfg.Name)
		}
		required := make(map[string]bool, len(cfg.RequiredMetadata))
		for _, f := range cfg.RequiredMetadata {
			required[f] = true
		}
		for _, f := range cfg.OptionalMetadata {
			if required[f] {
				return nil, fmt.Errorf("content type %q lists %q as both required and optional", cfg.Name, f)
			}
		}
		kinds[cfg.Name] = &cfg
	}
	return &Registry{kinds: kinds}, nil
}

// Resolve returns the config for a kind, or ErrUnknownContentType.
func (r *Registry) Resolve(kind string) (*TypeConfig, error) {
	cfg, ok := r.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContentType, kind)
	}
	return cfg, nil
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry returns the standard three kinds: documents, images
// and blog posts.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		TypeConfig{
			Name:             "documents",
			ValidExtensions:  []string{".pdf"},
			RequiredMetadata: []string{"title", "description", "tags"},
			OptionalMetadata: []string{"author", "page_count", "created_date"},
			DefaultMimeType:  "application/pdf",
			Collection:       "tylers-platform-documents",
		},
		TypeConfig{
			Name:             "images",
			ValidExtensions:  []string{".jpg", ".jpeg", ".png", ".gif", ".webp"},
			RequiredMetadata: []string{"tags"},
			OptionalMetadata: []string{"description", "taken_at", "created_date"},
			MimeTypes: map[string]string{
				"jpg":  "image/jpeg",
				"jpeg": "image/jpeg",
				"png":  "image/png",
				"gif":  "image/gif",
				"webp": "image/webp",
			},
			Collection: "tylers-platform-images",
		},
		TypeConfig{
			Name:             "blog",
			ValidExtensions:  []string{".md", ".markdown"},
			RequiredMetadata: []string{"title", "description", "tags", "last_modified"},
			OptionalMetadata: []string{"author", "created_date"},
			DefaultMimeType:  "text/markdown",
			Collection:       "tylers-platform-blog",
		},
	)
	if err != nil {
		panic(fmt.Sprintf("default registry: %v", err))
	}
	return r
}
