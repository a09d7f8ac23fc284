package ytrelay

import (
	"ytrelay/extract"
	"ytrelay/formats"
	"ytrelay/internal/retry"
	"ytrelay/metadata"
	"ytrelay/storage"
	"ytrelay/transfer"
	"ytrelay/youtube"
)

// Error types re-exported from the sub-packages for errors.As.
type (
	// ExtractionError is a classified metadata extraction failure.
	ExtractionError = metadata.ExtractionError
	// ToolError wraps a failed yt-dlp run with its stderr.
	ToolError = extract.ToolError
	// TooLargeError reports a format rejected by the size guard.
	TooLargeError = formats.TooLargeError
	// RetryableError wraps the last error once retries are exhausted.
	RetryableError = retry.RetryableError
	// StorageError wraps errors during storage operations.
	StorageError = storage.StorageError
)

// Sentinel errors re-exported from the sub-packages for errors.Is.
var (
	// Transfers
	ErrInvalidRequest  = transfer.ErrInvalidRequest
	ErrArtifactMissing = transfer.ErrArtifactMissing
	ErrTransferFailed  = transfer.ErrFailed
	ErrCancelled       = transfer.ErrCancelled
	ErrPoolFull        = transfer.ErrPoolFull
	ErrPoolClosed      = transfer.ErrPoolClosed
	ErrJobNotFound     = transfer.ErrJobNotFound

	// Extraction and formats
	ErrToolMissing      = extract.ErrToolMissing
	ErrNoArtifact       = extract.ErrNoArtifact
	ErrNotMedia         = extract.ErrNotMedia
	ErrRateLimited      = metadata.ErrRateLimited
	ErrAccessRestricted = metadata.ErrAccessRestricted
	ErrAuthRequired     = metadata.ErrAuthRequired
	ErrTooLarge         = formats.ErrTooLarge

	// YouTube
	ErrChannelNotFound = youtube.ErrChannelNotFound
	ErrInvalidURL      = youtube.ErrInvalidURL
	ErrNotAuthorized   = youtube.ErrNotAuthorized

	// Storage
	ErrNotFound       = storage.ErrNotFound
	ErrAlreadyExists  = storage.ErrAlreadyExists
	ErrInvalidInput   = storage.ErrInvalidInput
	ErrStorageCorrupt = storage.ErrStorageCorrupt
	ErrLockTimeout    = storage.ErrLockTimeout
)

// IsRetryable reports whether err is worth retrying. Errors marked
// permanent are not.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
