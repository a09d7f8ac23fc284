package metadata

import (
	"errors"
	"fmt"
	"strings"

	"ytrelay/platform"
)

// Kind classifies an extraction failure.
type Kind int

const (
	KindGeneric Kind = iota
	KindRateLimited
	KindAccessRestricted
	KindAuthRequired
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAccessRestricted:
		return "access_restricted"
	case KindAuthRequired:
		return "auth_required"
	default:
		return "generic"
	}
}

// Sentinel errors matched by errors.Is on an *ExtractionError of the
// corresponding kind.
var (
	ErrRateLimited      = errors.New("metadata: rate limited")
	ErrAccessRestricted = errors.New("metadata: access restricted")
	ErrAuthRequired     = errors.New("metadata: authentication required")
	ErrExtraction       = errors.New("metadata: extraction failed")
)

// ExtractionError is a classified metadata extraction failure.
type ExtractionError struct {
	Platform platform.ID
	Kind     Kind
	// Message is the sanitised message of Err.
	Message string
	Err     error
}

func (e *ExtractionError) Error() string {
	name := platform.DisplayName(e.Platform)
	switch e.Kind {
	case KindRateLimited:
		return fmt.Sprintf("rate limited by %s, wait a few minutes and try again", name)
	case KindAccessRestricted:
		return "video is not accessible (may be private, restricted, or require authentication)"
	case KindAuthRequired:
		return fmt.Sprintf("%s requires authentication or is blocking automated access", name)
	default:
		return fmt.Sprintf("failed to extract metadata from %s: %s", name, e.Message)
	}
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrAccessRestricted:
		return e.Kind == KindAccessRestricted
	case ErrAuthRequired:
		return e.Kind == KindAuthRequired
	case ErrExtraction:
		return true
	}
	return false
}

// Retryable reports whether trying again later may succeed.
func (e *ExtractionError) Retryable() bool { return e.Kind == KindRateLimited }

var (
	rateLimitMarkers = []string{"429", "Too Many Requests"}
	accessMarkers    = []string{"Restricted Video", "This video is not available", "Private video"}
	authMarkers      = []string{"Sign in to confirm you’re not a bot", "Sign in to confirm you're not a bot"}
)

// ClassifyError wraps err in an *ExtractionError. An error that already
// is one is returned unchanged. err must not be nil.
func ClassifyError(id platform.ID, err error) *ExtractionError {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee
	}
	msg := err.Error()
	kind := KindGeneric
	switch {
	case containsAny(msg, rateLimitMarkers):
		kind = KindRateLimited
	case containsAny(msg, accessMarkers):
		kind = KindAccessRestricted
	case containsAny(msg, authMarkers):
		kind = KindAuthRequired
	}
	return &ExtractionError{Platform: id, Kind: kind, Message: Sanitize(msg), Err: err}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
