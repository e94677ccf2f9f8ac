package content

import (
	"errors"
	"fmt"

	"github.com/tylew/pl4m-com/pkg/content/objectkey"
)

// Error types
var (
	// ErrUnknownContentType indicates an unregistered content kind
	ErrUnknownContentType = errors.New("unknown content type")

	// ErrInvalidExtension indicates a filename extension the kind does not allow
	ErrInvalidExtension = errors.New("invalid file extension")

	// ErrInvalidFilename indicates a filename unusable as a storage key
	ErrInvalidFilename = objectkey.ErrInvalidFilename

	// ErrProtectedField indicates an attempt to update an immutable field
	ErrProtectedField = errors.New("cannot update protected field")

	// ErrNotFound indicates a record that does not exist (or is tombstoned
	// and the caller did not ask for deleted records)
	ErrNotFound = errors.New("content not found")

	// ErrAlreadyDeleted indicates an operation on a tombstoned record
	ErrAlreadyDeleted = errors.New("content already deleted")

	// ErrNotDeleted indicates a restore of a record that is not tombstoned
	ErrNotDeleted = errors.New("content not deleted")

	// ErrInvalidOperation indicates an unknown tag-algebra verb
	ErrInvalidOperation = errors.New("invalid tag operation")

	// ErrAlreadyExists indicates a storage key that is already occupied
	ErrAlreadyExists = errors.New("object already exists")

	// ErrValidation is the class all metadata validation failures unwrap to
	ErrValidation = errors.New("invalid metadata")
)

// ValidationKind distinguishes the violation classes of metadata
// validation, in the order they are checked.
type ValidationKind string

const (
	ValidationShape        ValidationKind = "shape"
	ValidationMissingField ValidationKind = "missing_field"
	ValidationUnknownField ValidationKind = "unknown_field"
	ValidationFieldType    ValidationKind = "field_type"
)

// ValidationError reports the first metadata violation encountered.
type ValidationError struct {
	Kind  ValidationKind
	Field string
	Want  string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case ValidationShape:
		return "metadata must be a mapping"
	case ValidationMissingField:
		return fmt.Sprintf("missing required metadata field: %s", e.Field)
	case ValidationUnknownField:
		return fmt.Sprintf("unknown metadata field: %s", e.Field)
	case ValidationFieldType:
		return fmt.Sprintf("metadata field %s must be %s", e.Field, e.Want)
	default:
		return "invalid metadata"
	}
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ContentError wraps any failure of a content-manager operation with the
// kind and operation it occurred in. The original cause is preserved for
// errors.Is/As at the API boundary.
type ContentError struct {
	Kind string
	Op   string
	Err  error
}

func (e *ContentError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("content operation %s failed for kind %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("content operation %s failed: %v", e.Op, e.Err)
}

func (e *ContentError) Unwrap() error { return e.Err }

// StorageError represents an error from the blob-storage layer.
type StorageError struct {
	Bucket string
	Key    string
	Op     string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s in bucket %s: %v", e.Op, e.Key, e.Bucket, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
