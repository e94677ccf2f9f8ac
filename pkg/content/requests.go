package content

import (
	"io"
	"time"
)

// UploadRequest carries everything needed to create one content item.
type UploadRequest struct {
	Kind     string
	Filename string
	Reader   io.Reader

	// Metadata is the client-supplied kind metadata. Validated against
	// the kind's schema before any bytes are written.
	Metadata map[string]any

	// CreatedAt, when set, overrides the record creation timestamp.
	CreatedAt *time.Time

	// PathDate, when set, overrides the date used to derive the storage
	// key. Defaults to the current time.
	PathDate *time.Time
}

// UploadURLRequest asks for a signed direct-upload URL without going
// through the server for the bytes.
type UploadURLRequest struct {
	Kind     string
	Filename string

	// PathDate, when set, overrides the key-derivation date.
	PathDate *time.Time

	// AllowOverwrite skips the existence pre-check. Without it a key
	// that is already occupied returns ErrAlreadyExists.
	AllowOverwrite bool

	// TTL bounds the URL validity. Non-positive values take the
	// manager default.
	TTL time.Duration
}

// UploadURLResult is the signed URL plus the parameters the client must
// use with it and the follow-up record-creation call.
type UploadURLResult struct {
	URL        string    `json:"url"`
	StorageKey string    `json:"storage_key"`
	Bucket     string    `json:"bucket"`
	MimeType   string    `json:"mime_type"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// TagUpdate is one tag-set mutation.
type TagUpdate struct {
	Tags      []string
	Operation TagOperation
}
