package extract

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cavaliercoder/grab"
	log "github.com/sirupsen/logrus"

	yhttp "ytrelay/http"
	"ytrelay/metadata"
	"ytrelay/platform"
)

const defaultPollInterval = 500 * time.Millisecond

// Direct downloads direct media links over plain HTTP.
type Direct struct {
	http *yhttp.Client
	grab *grab.Client
	// PollInterval is how often progress is reported during a download.
	PollInterval time.Duration
}

// NewDirect returns a direct downloader sharing hc's transport and rate
// limits for its HEAD requests. Downloads run without hc's request timeout.
func NewDirect(hc *yhttp.Client) *Direct {
	std := *hc.StdClient()
	std.Timeout = 0
	g := grab.NewClient()
	g.HTTPClient = &std
	g.UserAgent = "ytrelay/1.0"
	return &Direct{http: hc, grab: g, PollInterval: defaultPollInterval}
}

// Extract describes the file behind rawURL from its response headers.
func (d *Direct) Extract(ctx context.Context, rawURL string, _ platform.PlatformConfig) (map[string]any, error) {
	resp, err := d.http.Head(ctx, rawURL)
	if err != nil {
		return nil, &ToolError{Op: "extract", URL: rawURL, Err: err}
	}
	contentType := resp.Header.Get("Content-Type")
	if !platform.IsMediaContentType(contentType) {
		return nil, &ToolError{Op: "extract", URL: rawURL, Err: ErrNotMedia}
	}

	title, ext := metadata.DirectTitle(rawURL, resp.Header.Get("Content-Disposition"))
	if ext == "" {
		ext = metadata.ContainerFromType(contentType)
	}
	raw := map[string]any{
		"title":       title,
		"description": "Direct video file",
		"ext":         strings.ToLower(ext),
		"webpage_url": rawURL,
	}
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil && n > 0 {
		raw["filesize"] = float64(n)
	}
	return raw, nil
}

// Download fetches rawURL into dir, polling the transfer for progress.
// The format argument does not apply to direct links.
func (d *Direct) Download(ctx context.Context, rawURL string, _ platform.PlatformConfig, dir, _ string, progress func(Progress)) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("extract: create download dir: %w", err)
	}
	req, err := grab.NewRequest(dir, rawURL)
	if err != nil {
		return "", &ToolError{Op: "download", URL: rawURL, Err: err}
	}
	req = req.WithContext(ctx)

	log.Debugln("extract: starting direct download of", rawURL)
	resp := d.grab.Do(req)

	interval := d.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	report := func(status string) {
		if progress == nil {
			return
		}
		p := Progress{
			Status:          status,
			DownloadedBytes: resp.BytesComplete(),
			TotalBytes:      resp.Size,
			Speed:           resp.BytesPerSecond(),
		}
		if eta := resp.ETA(); !eta.IsZero() {
			if secs := time.Until(eta).Seconds(); secs > 0 {
				p.ETA = secs
			}
		}
		progress(p)
	}

	for {
		select {
		case <-ticker.C:
			report(StatusDownloading)
		case <-resp.Done:
			if err := resp.Err(); err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				return "", &ToolError{Op: "download", URL: rawURL, Err: err}
			}
			report(StatusFinished)
			return resp.Filename, nil
		}
	}
}
