package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	yhttp "ytrelay/http"
	"ytrelay/platform"
)

const (
	defaultYtdlpPath    = "yt-dlp"
	defaultYtdlpTimeout = 2 * time.Minute

	// progressPrefix marks the JSON progress lines requested through
	// --progress-template.
	progressPrefix = "ytrelay-progress "
	maxStderr      = 16 * 1024
)

// Ytdlp runs the yt-dlp executable as a subprocess.
type Ytdlp struct {
	// Path is the yt-dlp executable. Defaults to "yt-dlp".
	Path string
	// Timeout bounds a metadata extraction. Downloads are bounded only by
	// their context.
	Timeout time.Duration

	mu    sync.Mutex
	pacer *yhttp.RateLimiter
}

// NewYtdlp returns an adapter for the executable at path.
func NewYtdlp(path string, timeout time.Duration) *Ytdlp {
	if path == "" {
		path = defaultYtdlpPath
	}
	if timeout <= 0 {
		timeout = defaultYtdlpTimeout
	}
	return &Ytdlp{Path: path, Timeout: timeout, pacer: yhttp.NewRateLimiter(yhttp.RateLimiterConfig{})}
}

// Extract runs "yt-dlp -J" and returns the decoded record.
func (y *Ytdlp) Extract(ctx context.Context, rawURL string, cfg platform.PlatformConfig) (map[string]any, error) {
	if err := y.pace(ctx, rawURL, cfg.ExtractDelay); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, y.Timeout)
	defer cancel()

	args := []string{"-J", "--no-warnings", "--no-playlist"}
	args = append(args, commonArgs(cfg)...)
	args = append(args, rawURL)

	cmd := exec.CommandContext(ctx, y.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugf("extract: %s %s", y.Path, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return nil, y.toolError(ctx, "extract", rawURL, stderr.String(), err)
	}

	var raw map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, &ToolError{Op: "extract", URL: rawURL, Err: fmt.Errorf("parse output: %w", err)}
	}
	if raw == nil {
		return nil, &ToolError{Op: "extract", URL: rawURL, Err: errors.New("empty record")}
	}
	return raw, nil
}

// Download fetches rawURL into dir with the given format expression (the
// policy's format when empty) and reports progress as it goes.
func (y *Ytdlp) Download(ctx context.Context, rawURL string, cfg platform.PlatformConfig, dir, format string, progress func(Progress)) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("extract: create download dir: %w", err)
	}
	if format == "" {
		format = cfg.Format
	}

	args := downloadArgs(cfg, dir, format)
	args = append(args, rawURL)

	cmd := exec.CommandContext(ctx, y.Path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", err
	}
	stderr := &tailBuffer{max: maxStderr}

	log.Debugf("extract: %s %s", y.Path, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return "", y.toolError(ctx, "download", rawURL, "", err)
	}

	// yt-dlp writes progress to stderr and the --print path to stdout;
	// both streams are read concurrently and report through one callback.
	var progressMu sync.Mutex
	report := func(p Progress) {
		if progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		progress(p)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanDownload(errPipe, report, func(line string) {
			stderr.Write([]byte(line + "\n"))
		})
	}()

	var path string
	scanDownload(stdout, report, func(line string) {
		if filepath.IsAbs(line) || strings.ContainsRune(line, os.PathSeparator) {
			path = line
		}
	})
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return "", y.toolError(ctx, "download", rawURL, stderr.String(), err)
	}
	if path == "" {
		return "", &ToolError{Op: "download", URL: rawURL, Stderr: stderr.String(), Err: ErrNoArtifact}
	}
	return path, nil
}

// scanDownload consumes one output stream of the tool, forwarding progress
// lines to progress and every other non-empty line to other.
func scanDownload(r io.Reader, progress func(Progress), other func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, progressPrefix) {
			if p, ok := parseProgress(strings.TrimPrefix(line, progressPrefix)); ok {
				progress(p)
			}
			continue
		}
		other(line)
	}
	// Drain so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// progressLine mirrors the fields of yt-dlp's progress dictionary that we
// use. Any of them may be null.
type progressLine struct {
	Status             string   `json:"status"`
	DownloadedBytes    *float64 `json:"downloaded_bytes"`
	TotalBytes         *float64 `json:"total_bytes"`
	TotalBytesEstimate *float64 `json:"total_bytes_estimate"`
	Speed              *float64 `json:"speed"`
	ETA                *float64 `json:"eta"`
}

func parseProgress(s string) (Progress, bool) {
	var pl progressLine
	if err := json.Unmarshal([]byte(s), &pl); err != nil {
		return Progress{}, false
	}
	return Progress{
		Status:          pl.Status,
		DownloadedBytes: int64(val(pl.DownloadedBytes)),
		TotalBytes:      int64(val(pl.TotalBytes)),
		TotalEstimate:   int64(val(pl.TotalBytesEstimate)),
		Speed:           val(pl.Speed),
		ETA:             val(pl.ETA),
	}, true
}

func val(f *float64) float64 {
	if f == nil || *f < 0 {
		return 0
	}
	return *f
}

// commonArgs translates the parts of a policy shared by metadata and
// download runs.
func commonArgs(cfg platform.PlatformConfig) []string {
	var args []string
	if cfg.CookieFile != "" {
		if _, err := os.Stat(cfg.CookieFile); err == nil {
			args = append(args, "--cookies", cfg.CookieFile)
		} else {
			log.Debugf("extract: cookie file %s not found, continuing without", cfg.CookieFile)
		}
	}
	if cfg.ExtractorRetries > 0 {
		args = append(args, "--extractor-retries", strconv.Itoa(cfg.ExtractorRetries))
	}
	return args
}

// downloadArgs translates a policy into download arguments, without the URL.
func downloadArgs(cfg platform.PlatformConfig, dir, format string) []string {
	tmpl := cfg.OutputTemplate
	if tmpl == "" {
		tmpl = "%(title)s.%(ext)s"
	}
	args := []string{
		"--no-warnings", "--no-playlist",
		"--newline", "--progress",
		"--progress-template", "download:" + progressPrefix + "%(progress)j",
		"--print", "after_move:filepath",
		"-o", filepath.Join(dir, tmpl),
		"-f", format,
	}
	args = append(args, commonArgs(cfg)...)
	if cfg.Retries > 0 {
		args = append(args, "--retries", strconv.Itoa(cfg.Retries))
	}
	if cfg.FragmentRetries > 0 {
		args = append(args, "--fragment-retries", strconv.Itoa(cfg.FragmentRetries))
	}
	if cfg.FileAccessRetries > 0 {
		args = append(args, "--file-access-retries", strconv.Itoa(cfg.FileAccessRetries))
	}
	if cfg.ChunkSize > 0 {
		args = append(args, "--http-chunk-size", strconv.FormatInt(cfg.ChunkSize, 10))
	}
	if cfg.WriteInfoJSON {
		args = append(args, "--write-info-json")
	}
	if cfg.WriteDescription {
		args = append(args, "--write-description")
	}
	if cfg.WriteSubtitles {
		args = append(args, "--write-subs")
	}
	if cfg.WriteAutoSubtitles {
		args = append(args, "--write-auto-subs")
	}
	if cfg.MergeOutputFormat != "" {
		args = append(args, "--merge-output-format", cfg.MergeOutputFormat)
	}
	if cfg.RecodeVideo != "" {
		args = append(args, "--recode-video", cfg.RecodeVideo)
	}
	return args
}

// pace waits for the extraction slot of rawURL's host when the policy asks
// for a delay between extractions.
func (y *Ytdlp) pace(ctx context.Context, rawURL string, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	y.mu.Lock()
	if y.pacer == nil {
		y.pacer = yhttp.NewRateLimiter(yhttp.RateLimiterConfig{})
	}
	pacer := y.pacer
	y.mu.Unlock()

	return pacer.Pace(ctx, rawURL, delay)
}

func (y *Ytdlp) toolError(ctx context.Context, op, rawURL, stderr string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		err = ErrToolMissing
	} else if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return &ToolError{Op: op, URL: rawURL, Stderr: stderr, Err: err}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
