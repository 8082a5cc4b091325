package share

import (
	"strings"
	"time"
)

// Record is anything an expiring Store can hold.
type Record interface {
	Key() string
	Deadline() time.Time
}

// TextRecord represents a shared text snippet
type TextRecord struct {
	Code      string    `json:"code"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r TextRecord) Key() string { return r.Code }
func (r TextRecord) Deadline() time.Time { return r.ExpiresAt }

// FileRecord represents the metadata of a shared file. The bytes live in
// BlobStorage under StorageKey, which is never derived from OriginalName.
type FileRecord struct {
	Code         string    `json:"code"`
	StorageKey   string    `json:"storage_key"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (r FileRecord) Key() string { return r.Code }
func (r FileRecord) Deadline() time.Time { return r.ExpiresAt }

// CanonicalCode normalizes a user supplied code for lookup.
func CanonicalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
