package content

import (
	"sort"
	"time"
)

// computedMetadata fields are stamped by the server. They satisfy the
// required-field check implicitly and are rejected when client-supplied.
var computedMetadata = map[string]bool{
	"last_modified": true,
}

// typedMetadata fields must carry a specific value type when present.
var typedMetadata = map[string]string{
	"tags":         "a list of strings",
	"taken_at":     "a timestamp",
	"publish_date": "a timestamp",
	"created_date": "a timestamp",
}

// ValidateMetadata checks client-supplied metadata against a kind's
// schema. Checks run in a fixed order and the first violation wins:
// shape, missing required fields, unknown fields, field types.
func ValidateMetadata(cfg *TypeConfig, metadata map[string]any) error {
	if metadata == nil {
		return &ValidationError{Kind: ValidationShape}
	}

	for _, field := range cfg.RequiredMetadata {
		if computedMetadata[field] {
			continue
		}
		if _, ok := metadata[field]; !ok {
			return &ValidationError{Kind: ValidationMissingField, Field: field}
		}
	}

	allowed := make(map[string]bool, len(cfg.RequiredMetadata)+len(cfg.OptionalMetadata))
	for _, field := range cfg.RequiredMetadata {
		if !computedMetadata[field] {
			allowed[field] = true
		}
	}
	for _, field := range cfg.OptionalMetadata {
		allowed[field] = true
	}

	// Sorted iteration keeps the reported field deterministic.
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !allowed[k] {
			return &ValidationError{Kind: ValidationUnknownField, Field: k}
		}
	}

	for _, k := range keys {
		want, typed := typedMetadata[k]
		if !typed {
			continue
		}
		if err := checkFieldType(k, want, metadata[k]); err != nil {
			return err
		}
	}
	return nil
}

func checkFieldType(field, want string, value any) error {
	switch field {
	case "tags":
		if _, ok := stringSlice(value); !ok {
			return &ValidationError{Kind: ValidationFieldType, Field: field, Want: want}
		}
	default:
		if _, ok := value.(time.Time); !ok {
			return &ValidationError{Kind: ValidationFieldType, Field: field, Want: want}
		}
	}
	return nil
}
