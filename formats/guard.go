package formats

import "errors"

// ErrTooLarge is matched by errors.Is on a *TooLargeError.
var ErrTooLarge = errors.New("formats: file too large")

// TooLargeError reports a selected format above the size ceiling.
type TooLargeError struct {
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return "file size " + FormatSize(e.Size) + " exceeds limit " + FormatSize(e.Limit)
}

func (e *TooLargeError) Is(target error) bool { return target == ErrTooLarge }

// Guard rejects c when its known size exceeds limit. Unknown sizes and a
// non-positive limit pass.
func Guard(c Candidate, limit int64) error {
	if limit <= 0 || c.FileSize <= 0 || c.FileSize <= limit {
		return nil
	}
	return &TooLargeError{Size: c.FileSize, Limit: limit}
}
