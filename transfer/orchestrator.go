package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"ytrelay/extract"
	"ytrelay/formats"
	"ytrelay/metadata"
	"ytrelay/platform"
	"ytrelay/storage"
	"ytrelay/youtube"
)

// Transfer errors.
var (
	ErrInvalidRequest = errors.New("transfer: url and user are required")
	// ErrArtifactMissing means the download reported success but left no
	// file behind.
	ErrArtifactMissing = errors.New("downloaded artifact missing")
	ErrFailed          = errors.New("transfer: failed")
	ErrCancelled       = errors.New("transfer: cancelled")
)

// DefaultHistoryRetention caps the per-user upload history.
const DefaultHistoryRetention = 50

// waitInterval is the store polling period of Wait.
var waitInterval = 250 * time.Millisecond

// Extractor is the media extraction boundary.
type Extractor = extract.Extractor

// Publisher opens upload sessions on the destination.
type Publisher interface {
	Begin(ctx context.Context, userID, path string, req youtube.VideoRequest) (youtube.UploadSession, error)
}

// Classifier identifies the source platform of a URL.
type Classifier interface {
	Classify(ctx context.Context, rawURL string) platform.Classification
}

// Options wires an Orchestrator.
type Options struct {
	Store      Store
	Pool       *Pool
	Extractor  Extractor
	Publisher  Publisher
	Classifier Classifier
	Registry   *platform.Registry
	// History, when set, records completed uploads.
	History storage.HistoryStore

	DownloadDir string
	// MaxSize rejects formats whose known size exceeds it. Zero disables
	// the guard.
	MaxSize          int64
	Privacy          string
	Category         string
	HistoryRetention int
}

// Orchestrator runs transfer jobs.
type Orchestrator struct {
	opts Options
}

// New creates an orchestrator. Missing store, pool and registry get
// in-memory defaults.
func New(opts Options) *Orchestrator {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Pool == nil {
		opts.Pool = NewPool(DefaultPoolConfig())
	}
	if opts.Registry == nil {
		opts.Registry = platform.NewRegistry("", nil)
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = "downloads"
	}
	if opts.Privacy == "" {
		opts.Privacy = youtube.DefaultPrivacy
	}
	if opts.HistoryRetention <= 0 {
		opts.HistoryRetention = DefaultHistoryRetention
	}
	return &Orchestrator{opts: opts}
}

// Store returns the job store.
func (o *Orchestrator) Store() Store { return o.opts.Store }

// Pool returns the worker pool.
func (o *Orchestrator) Pool() *Pool { return o.opts.Pool }

// Submit records a job and hands it to the pool. The returned snapshot
// is in the starting state; poll the store for progress. When the pool
// is full the job is recorded as failed and ErrPoolFull is returned.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Job, error) {
	job, err := o.create(ctx, req)
	if err != nil {
		return nil, err
	}

	err = o.opts.Pool.Submit(req.UserID, func(ctx context.Context) {
		o.execute(ctx, job.ID, req)
	})
	if err != nil {
		o.update(job.ID, func(j *Job) {
			j.Status = StatusError
			j.Error = "server busy, try again later"
		})
		return job, err
	}
	return job, nil
}

// Run executes a job synchronously, bypassing the pool, and returns its
// final record.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Job, error) {
	job, err := o.create(ctx, req)
	if err != nil {
		return nil, err
	}
	o.execute(ctx, job.ID, req)

	final, err := o.opts.Store.Get(context.Background(), job.ID)
	if err != nil {
		return nil, err
	}
	switch final.Status {
	case StatusError:
		return final, fmt.Errorf("%w: %s", ErrFailed, final.Error)
	case StatusCancelled:
		return final, fmt.Errorf("%w: %s", ErrCancelled, final.Error)
	}
	return final, nil
}

// Wait polls the store until job id reaches a terminal state or ctx
// ends.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*Job, error) {
	ticker := time.NewTicker(waitInterval)
	defer ticker.Stop()
	for {
		job, err := o.opts.Store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) create(ctx context.Context, req Request) (*Job, error) {
	if strings.TrimSpace(req.URL) == "" || req.UserID == "" {
		return nil, ErrInvalidRequest
	}
	job := newJob(req)
	if err := o.opts.Store.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// update writes through the store. The job context may already be
// cancelled, so a background context is used.
func (o *Orchestrator) update(id string, fn func(*Job)) {
	if err := o.opts.Store.Update(context.Background(), id, fn); err != nil {
		log.WithField("job", id).Warnf("transfer: update job: %v", err)
	}
}

// execute is the job state machine. It never returns an error: every
// outcome is recorded on the job.
func (o *Orchestrator) execute(ctx context.Context, id string, req Request) {
	started := time.Now()
	logger := log.WithFields(log.Fields{"job": id, "user": req.UserID})

	var pid platform.ID = platform.Unknown
	finish := func(status Status, msg string) {
		o.update(id, func(j *Job) {
			j.Status = status
			j.Error = metadata.Sanitize(msg)
			j.Speed, j.ETA = "", ""
		})
		jobsTotal.WithLabelValues(string(pid), string(status)).Inc()
		jobDuration.WithLabelValues(string(pid)).Observe(time.Since(started).Seconds())
		if status == StatusCompleted {
			logger.Infof("transfer: completed in %s", time.Since(started).Round(time.Second))
		} else {
			logger.Warnf("transfer: %s: %s", status, msg)
		}
	}
	fail := func(prefix string, err error) {
		if ctx.Err() != nil {
			finish(StatusCancelled, "transfer cancelled")
			return
		}
		finish(StatusError, prefix+err.Error())
	}

	if ctx.Err() != nil {
		finish(StatusCancelled, "transfer cancelled before start")
		return
	}

	cls := o.opts.Classifier.Classify(ctx, req.URL)
	pid = cls.Platform
	cfg := o.opts.Registry.Config(cls.Platform)
	logger = logger.WithField("platform", cls.Platform)
	logger.Infof("transfer: classified %s (%s)", req.URL, cls.Outcome)
	o.update(id, func(j *Job) {
		j.Platform = cls.Platform
		j.Status = StatusExtractingMetadata
	})

	raw, outcome := o.extractMetadata(ctx, logger, req.URL, cls.Platform, cfg)
	meta := metadata.Normalize(raw, req.URL, cls.Platform)
	candidates := formats.ParseCandidates(raw)
	o.update(id, func(j *Job) {
		j.Metadata = meta
		j.MetadataOutcome = outcome
	})

	o.update(id, func(j *Job) {
		j.Status = StatusDownloading
		j.Progress = 0
	})
	format, err := o.chooseFormat(logger, req.FormatID, cfg, candidates)
	if err != nil {
		finish(StatusCancelled, err.Error())
		return
	}
	dir := filepath.Join(o.opts.DownloadDir, id)
	defer removeWorkDir(dir)

	path, err := o.opts.Extractor.Download(ctx, req.URL, cfg, dir, format, func(p extract.Progress) {
		o.update(id, func(j *Job) { applyDownload(j, p) })
	})
	defer Cleanup(path)
	if err != nil {
		fail("download failed: ", err)
		return
	}

	o.update(id, func(j *Job) {
		j.Status = StatusDownloadComplete
		j.Progress = DownloadShare
	})
	fi, err := os.Stat(path)
	if err != nil {
		finish(StatusError, ErrArtifactMissing.Error())
		return
	}
	bytesTransferred.WithLabelValues("download").Add(float64(fi.Size()))

	o.update(id, func(j *Job) {
		j.Status = StatusUploading
		j.Speed, j.ETA = "", ""
	})
	video := o.videoRequest(req, meta, cls.Platform)
	result, err := o.upload(ctx, id, req.UserID, path, video)
	if err != nil {
		fail("upload failed: ", err)
		return
	}
	bytesTransferred.WithLabelValues("upload").Add(float64(fi.Size()))

	o.update(id, func(j *Job) {
		j.Progress = 100
		j.Result = result
	})
	finish(StatusCompleted, "")
	o.recordHistory(logger, id, req, cls.Platform, result)
}

func (o *Orchestrator) extractMetadata(ctx context.Context, logger *log.Entry, url string, id platform.ID, cfg platform.PlatformConfig) (map[string]any, MetadataOutcome) {
	raw, err := o.opts.Extractor.Extract(ctx, url, cfg)
	if err != nil {
		xerr := metadata.ClassifyError(id, err)
		logger.Warnf("transfer: metadata extraction failed (%s), continuing with defaults: %v", xerr.Kind, xerr)
		return map[string]any{}, MetadataDefaulted
	}
	return raw, MetadataExtracted
}

// chooseFormat resolves the requested format against the fresh list and
// applies the size guard to an exact format id.
// chooseFormat turns a requested format id or selector expression into
// the format handed to the extractor. A request resolving to one of the
// offered candidates is pinned to that candidate and checked against the
// size ceiling. An empty request uses the platform's expression as is.
func (o *Orchestrator) chooseFormat(logger *log.Entry, requested string, cfg platform.PlatformConfig, candidates []formats.Candidate) (string, error) {
	if strings.TrimSpace(requested) == "" {
		return cfg.Format, nil
	}
	format, stale := formats.Resolve(requested, candidates)
	if stale {
		logger.Infof("transfer: format %q no longer offered, using %s", requested, format)
		return format, nil
	}
	c, ok := formats.Select(format, candidates)
	if !ok {
		if len(candidates) > 0 {
			logger.Infof("transfer: no offered format matches %q, leaving the choice to the extractor", format)
		}
		return format, nil
	}
	if c.FormatID != format {
		logger.Infof("transfer: %q selects format %s (%dp)", format, c.FormatID, c.Height)
	}
	if err := formats.Guard(c, o.opts.MaxSize); err != nil {
		return "", err
	}
	if c.ACodec == "none" {
		return c.FormatID + "+bestaudio/" + c.FormatID, nil
	}
	return c.FormatID, nil
}

func (o *Orchestrator) videoRequest(req Request, meta *metadata.Metadata, id platform.ID) youtube.VideoRequest {
	title := firstNonEmpty(req.Title, meta.Title)
	if r := []rune(title); len(r) > 100 {
		title = string(r[:100])
	}

	description := req.Description
	if description == "" {
		description = firstNonEmpty(meta.EnhancedDescription, meta.Description)
	}
	if req.Automated {
		description = "Original video from " + platform.DisplayName(id) + "\n\n" + description
	}

	tags := req.Tags
	if len(tags) == 0 {
		tags = meta.Tags
	}
	return youtube.VideoRequest{
		Title:       title,
		Description: description,
		Tags:        tags,
		Privacy:     firstNonEmpty(req.Privacy, o.opts.Privacy),
		CategoryID:  o.opts.Category,
	}
}

func (o *Orchestrator) upload(ctx context.Context, id, userID, path string, video youtube.VideoRequest) (*Result, error) {
	sess, err := o.opts.Publisher.Begin(ctx, userID, path, video)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	opened := time.Now()
	for {
		st, created, err := sess.NextChunk(ctx)
		if err != nil {
			uploadFailures.Inc()
			return nil, err
		}
		o.update(id, func(j *Job) { applyUpload(j, st, time.Since(opened)) })
		if created != nil {
			title := video.Title
			if created.Snippet != nil && created.Snippet.Title != "" {
				title = created.Snippet.Title
			}
			return &Result{VideoID: created.Id, URL: youtube.WatchURL(created.Id), Title: title}, nil
		}
	}
}

func (o *Orchestrator) recordHistory(logger *log.Entry, id string, req Request, pid platform.ID, result *Result) {
	if o.opts.History == nil {
		return
	}
	entry := storage.HistoryEntry{
		JobID:     id,
		SourceURL: req.URL,
		Platform:  string(pid),
		VideoID:   result.VideoID,
		VideoURL:  result.URL,
		Title:     result.Title,
	}
	if err := o.opts.History.AppendHistory(context.Background(), req.UserID, entry, o.opts.HistoryRetention); err != nil {
		logger.Warnf("transfer: record history: %v", err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
