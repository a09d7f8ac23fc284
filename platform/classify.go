package platform

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	yhttp "ytrelay/http"
)

// Outcome tells how a classification was reached.
type Outcome int

const (
	// Matched means the URL matched the domain or pattern table.
	Matched Outcome = iota
	// Probed means a HEAD probe identified a direct media URL.
	Probed
	// Degraded means the probe failed; Err holds the cause.
	Degraded
	// Unidentified means nothing identified the URL.
	Unidentified
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Probed:
		return "probed"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Classification is the result of Classify.
type Classification struct {
	Platform ID
	Outcome  Outcome
	Err      error
}

// Prober issues the HEAD request used to detect direct media URLs.
type Prober interface {
	Head(ctx context.Context, url string) (*yhttp.Response, error)
}

// Classifier maps URLs to platform ids.
type Classifier struct {
	prober  Prober
	timeout time.Duration
}

// NewClassifier returns a classifier probing unknown URLs through prober.
// A nil prober disables probing.
func NewClassifier(prober Prober, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Classifier{prober: prober, timeout: timeout}
}

// Classify identifies the platform of rawURL. It never fails: probe
// errors are reported through a Degraded outcome.
func (c *Classifier) Classify(ctx context.Context, rawURL string) Classification {
	if id, ok := matchStatic(rawURL); ok {
		return Classification{Platform: id, Outcome: Matched}
	}
	if c == nil || c.prober == nil {
		return Classification{Platform: Unknown, Outcome: Unidentified}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.prober.Head(ctx, rawURL)
	if err != nil {
		log.WithField("url", rawURL).Debugf("platform: probe failed: %v", err)
		return Classification{Platform: Unknown, Outcome: Degraded, Err: err}
	}
	if IsMediaContentType(resp.Header.Get("Content-Type")) {
		return Classification{Platform: DirectURL, Outcome: Probed}
	}
	return Classification{Platform: Unknown, Outcome: Unidentified}
}

// IsMediaContentType reports whether a Content-Type denotes a video file
// or an HLS playlist.
func IsMediaContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return strings.HasPrefix(ct, "video") || strings.Contains(ct, "mpegurl")
}
