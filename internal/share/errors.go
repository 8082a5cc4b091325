package share

import "errors"

var (
	ErrEmptyInput      = errors.New("text is required")
	ErrNoFile          = errors.New("no file uploaded")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrNotFound        = errors.New("not found or expired")

	// ErrBlobMissing means a live file record lost its bytes. Callers should
	// treat it like ErrNotFound.
	ErrBlobMissing = errors.New("file missing on server")

	// ErrBlobNotFound is returned by BlobStorage for an unknown key.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrDuplicateCode signals a code generator bug and never reaches clients.
	ErrDuplicateCode      = errors.New("duplicate code")
	ErrCodeSpaceExhausted = errors.New("failed to generate unique code after several attempts")
)
