// Package extract runs the media extraction side of a transfer: metadata
// lookups and downloads through yt-dlp, and plain HTTP downloads for
// direct media links.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ytrelay/platform"
)

// Progress statuses reported to download callbacks.
const (
	StatusDownloading = "downloading"
	StatusFinished    = "finished"
)

// Progress is one download progress report. Zero values mean unknown.
type Progress struct {
	Status          string
	DownloadedBytes int64
	TotalBytes      int64
	TotalEstimate   int64
	// Speed is in bytes per second.
	Speed float64
	// ETA is in seconds.
	ETA float64
}

// Extractor is implemented by every backend in this package.
type Extractor interface {
	// Extract returns the raw metadata record of url.
	Extract(ctx context.Context, url string, cfg platform.PlatformConfig) (map[string]any, error)
	// Download fetches url into dir and returns the artifact path.
	Download(ctx context.Context, url string, cfg platform.PlatformConfig, dir, format string, progress func(Progress)) (string, error)
}

var (
	// ErrToolMissing means the yt-dlp executable could not be started.
	ErrToolMissing = errors.New("extract: yt-dlp not installed")
	// ErrNoArtifact means a download finished without reporting a file.
	ErrNoArtifact = errors.New("extract: no artifact produced")
	// ErrNotMedia means a direct URL does not serve video content.
	ErrNotMedia = errors.New("extract: url does not point to a video file")
)

// ToolError describes a failed extraction or download.
type ToolError struct {
	// Op is "extract" or "download".
	Op  string
	URL string
	// Stderr is the tail of the tool's error output, if any.
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("extract: %s %s: %v", e.Op, e.URL, e.Err)
	if line := lastLine(e.Stderr); line != "" {
		msg += ": " + line
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// lastLine returns the last non-empty line of s, preferring ERROR lines.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "ERROR:") {
			return strings.TrimSpace(lines[i])
		}
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

// Router sends direct media links to one backend and everything else to
// another. A policy resolved by the registry already names its platform;
// the classifier only runs for policies built without one.
type Router struct {
	Classifier *platform.Classifier
	Tool       Extractor
	Direct     Extractor
}

func (r *Router) pick(ctx context.Context, url string, cfg platform.PlatformConfig) Extractor {
	if r.Direct == nil {
		return r.Tool
	}
	id := cfg.Platform
	if id == "" {
		id = r.Classifier.Classify(ctx, url).Platform
	}
	if id == platform.DirectURL {
		return r.Direct
	}
	return r.Tool
}

func (r *Router) Extract(ctx context.Context, url string, cfg platform.PlatformConfig) (map[string]any, error) {
	return r.pick(ctx, url, cfg).Extract(ctx, url, cfg)
}

func (r *Router) Download(ctx context.Context, url string, cfg platform.PlatformConfig, dir, format string, progress func(Progress)) (string, error) {
	return r.pick(ctx, url, cfg).Download(ctx, url, cfg, dir, format, progress)
}

var (
	_ Extractor = (*Router)(nil)
	_ Extractor = (*Ytdlp)(nil)
	_ Extractor = (*Direct)(nil)
)
