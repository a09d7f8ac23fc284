package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	ytapi "google.golang.org/api/youtube/v3"

	"ytrelay/extract"
	"ytrelay/internal/retry"
	"ytrelay/platform"
	"ytrelay/storage"
	"ytrelay/youtube"
)

type fakeClassifier struct{ id platform.ID }

func (f fakeClassifier) Classify(ctx context.Context, rawURL string) platform.Classification {
	return platform.Classification{Platform: f.id, Outcome: platform.Matched}
}

// fakeExtractor writes a small artifact and replays reports.
type fakeExtractor struct {
	raw         map[string]any
	extractErr  error
	downloadErr error
	reports     []extract.Progress
	// noFile reports success without writing the artifact.
	noFile  bool
	sidecar bool

	mu         sync.Mutex
	formats    []string
	path       string
	onProgress func()
}

func (f *fakeExtractor) Extract(ctx context.Context, url string, cfg platform.PlatformConfig) (map[string]any, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return f.raw, nil
}

func (f *fakeExtractor) Download(ctx context.Context, url string, cfg platform.PlatformConfig, dir, format string, progress func(extract.Progress)) (string, error) {
	f.mu.Lock()
	f.formats = append(f.formats, format)
	f.mu.Unlock()
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "clip.mp4")
	for _, p := range f.reports {
		progress(p)
		if f.onProgress != nil {
			f.onProgress()
		}
	}
	if !f.noFile {
		if err := os.WriteFile(path, []byte(strings.Repeat("x", 1000)), 0o644); err != nil {
			return "", err
		}
		if f.sidecar {
			os.WriteFile(path+".info.json", []byte("{}"), 0o644)
			os.WriteFile(strings.TrimSuffix(path, ".mp4")+".description", []byte("d"), 0o644)
		}
	}
	f.mu.Lock()
	f.path = path
	f.mu.Unlock()
	return path, nil
}

type fakeSession struct {
	statuses []youtube.UploadStatus
	err      error
	video    *ytapi.Video
	i        int
}

func (s *fakeSession) NextChunk(ctx context.Context) (youtube.UploadStatus, *ytapi.Video, error) {
	if s.i >= len(s.statuses) {
		if s.err != nil {
			return youtube.UploadStatus{}, nil, s.err
		}
		return youtube.UploadStatus{Sent: 1000, Total: 1000}, s.video, nil
	}
	st := s.statuses[s.i]
	s.i++
	return st, nil, nil
}

func (s *fakeSession) Close() error { return nil }

type fakePublisher struct {
	session  *fakeSession
	beginErr error

	mu       sync.Mutex
	requests []youtube.VideoRequest
}

func (p *fakePublisher) Begin(ctx context.Context, userID, path string, req youtube.VideoRequest) (youtube.UploadSession, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	return p.session, nil
}

func okSession() *fakeSession {
	return &fakeSession{
		statuses: []youtube.UploadStatus{{Sent: 250, Total: 1000}, {Sent: 750, Total: 1000}},
		video:    &ytapi.Video{Id: "abc123", Snippet: &ytapi.VideoSnippet{Title: "Uploaded"}},
	}
}

func sampleRaw() map[string]any {
	return map[string]any{
		"title":       "Sample clip",
		"description": "A clip #fun",
		"uploader":    "someone",
		"duration":    120.0,
		"tags":        []any{"a", "b"},
		"formats": []any{
			map[string]any{"format_id": "137", "height": 1080.0, "vcodec": "avc1", "acodec": "none", "ext": "mp4", "filesize": 200.0 * 1024 * 1024},
			map[string]any{"format_id": "22", "height": 720.0, "vcodec": "avc1", "acodec": "mp4a", "ext": "mp4", "filesize": 400.0 * 1024 * 1024},
		},
	}
}

type historyRecorder struct {
	mu      sync.Mutex
	entries []storage.HistoryEntry
}

func (h *historyRecorder) AppendHistory(ctx context.Context, userID string, entry storage.HistoryEntry, retention int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	return nil
}

func (h *historyRecorder) ListHistory(ctx context.Context, userID string) ([]storage.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]storage.HistoryEntry(nil), h.entries...), nil
}

func newTestOrchestrator(t *testing.T, ex Extractor, pub Publisher, id platform.ID) (*Orchestrator, *historyRecorder) {
	t.Helper()
	history := &historyRecorder{}
	o := New(Options{
		Extractor:   ex,
		Publisher:   pub,
		Classifier:  fakeClassifier{id: id},
		History:     history,
		DownloadDir: t.TempDir(),
		MaxSize:     300 * 1024 * 1024,
	})
	return o, history
}

func TestRunCompletes(t *testing.T) {
	ex := &fakeExtractor{
		raw:     sampleRaw(),
		sidecar: true,
		reports: []extract.Progress{
			{Status: extract.StatusDownloading, DownloadedBytes: 250, TotalBytes: 1000, Speed: 2048, ETA: 3},
			{Status: extract.StatusDownloading, DownloadedBytes: 1000, TotalBytes: 1000},
			{Status: extract.StatusFinished},
		},
	}
	pub := &fakePublisher{session: okSession()}
	o, history := newTestOrchestrator(t, ex, pub, platform.YouTube)

	job, err := o.Run(context.Background(), Request{UserID: "u1", URL: "https://youtube.com/watch?v=x"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, platform.YouTube, job.Platform)
	assert.Equal(t, MetadataExtracted, job.MetadataOutcome)
	require.NotNil(t, job.Result)
	assert.Equal(t, "abc123", job.Result.VideoID)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123", job.Result.URL)
	assert.Equal(t, "Uploaded", job.Result.Title)
	assert.Empty(t, job.Error)

	require.Len(t, pub.requests, 1)
	req := pub.requests[0]
	assert.Equal(t, "Sample clip", req.Title)
	assert.Equal(t, "A clip #fun", req.Description)
	assert.Equal(t, []string{"a", "b"}, req.Tags)
	assert.Equal(t, youtube.DefaultPrivacy, req.Privacy)

	require.Len(t, history.entries, 1)
	assert.Equal(t, "abc123", history.entries[0].VideoID)
	assert.Equal(t, "youtube", history.entries[0].Platform)

	for _, p := range artifactFiles(ex.path) {
		assert.NoFileExists(t, p)
	}
	assert.NoDirExists(t, filepath.Dir(ex.path))
}

func TestRunRequestOverridesMetadata(t *testing.T) {
	pub := &fakePublisher{session: okSession()}
	o, _ := newTestOrchestrator(t, &fakeExtractor{raw: sampleRaw()}, pub, platform.Vimeo)

	_, err := o.Run(context.Background(), Request{
		UserID:      "u1",
		URL:         "https://vimeo.com/1",
		Title:       "Mine",
		Description: "my words",
		Tags:        []string{"x"},
		Privacy:     "unlisted",
	})
	require.NoError(t, err)

	req := pub.requests[0]
	assert.Equal(t, "Mine", req.Title)
	assert.Equal(t, "my words", req.Description)
	assert.Equal(t, []string{"x"}, req.Tags)
	assert.Equal(t, "unlisted", req.Privacy)
}

func TestRunAutomatedDescriptionCredit(t *testing.T) {
	pub := &fakePublisher{session: okSession()}
	o, _ := newTestOrchestrator(t, &fakeExtractor{raw: sampleRaw()}, pub, platform.YouTube)

	_, err := o.Run(context.Background(), Request{UserID: "u1", URL: "https://youtube.com/watch?v=x", Automated: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pub.requests[0].Description, "Original video from YouTube\n\n"))
}

func TestRunMetadataFailureContinues(t *testing.T) {
	ex := &fakeExtractor{extractErr: errors.New("HTTP Error 429: Too Many Requests")}
	pub := &fakePublisher{session: okSession()}
	o, _ := newTestOrchestrator(t, ex, pub, platform.Instagram)

	job, err := o.Run(context.Background(), Request{UserID: "u1", URL: "https://instagram.com/p/x"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, MetadataDefaulted, job.MetadataOutcome)
	assert.Equal(t, "Unknown title", pub.requests[0].Title)
}

func TestRunMissingTotalPinsFifty(t *testing.T) {
	ex := &fakeExtractor{
		raw: sampleRaw(),
		reports: []extract.Progress{
			{Status: extract.StatusDownloading, DownloadedBytes: 100},
			{Status: extract.StatusDownloading, DownloadedBytes: 500},
			{Status: extract.StatusFinished},
		},
	}
	// The publisher fails so the job stops right after the download.
	pub := &fakePublisher{beginErr: errors.New("boom")}
	o, _ := newTestOrchestrator(t, ex, pub, platform.Reddit)

	var seen []float64
	ex.onProgress = func() {
		jobs, _ := o.Store().List(context.Background(), "u1")
		seen = append(seen, jobs[0].Progress)
	}
	job, err := o.Run(context.Background(), Request{UserID: "u1", URL: "https://reddit.com/r/x"})
	require.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, []float64{0, 0, DownloadShare}, seen)
	assert.Equal(t, DownloadShare, job.Progress)
	assert.Contains(t, job.Error, "upload failed")
}

// statusRecorder records every status a job passes through.
type statusRecorder struct {
	*MemoryStore
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) Update(ctx context.Context, id string, fn func(*Job)) error {
	return r.MemoryStore.Update(ctx, id, func(j *Job) {
		before := j.Status
		fn(j)
		if j.Status != before {
			r.mu.Lock()
			r.statuses = append(r.statuses, j.Status)
			r.mu.Unlock()
		}
	})
}

func TestRunSizeGuardCancels(t *testing.T) {
	for _, requested := range []string{"22", "best[height<=720]", "best[ext=mp4][height<1080]/best"} {
		t.Run(requested, func(t *testing.T) {
			ex := &fakeExtractor{raw: sampleRaw()}
			pub := &fakePublisher{session: okSession()}
			store := &statusRecorder{MemoryStore: NewMemoryStore()}
			o := New(Options{
				Store:       store,
				Extractor:   ex,
				Publisher:   pub,
				Classifier:  fakeClassifier{id: platform.YouTube},
				DownloadDir: t.TempDir(),
				MaxSize:     300 * 1024 * 1024,
			})

			job, err := o.Run(context.Background(), Request{UserID: "u1", URL: "https://youtube.com/watch?v=x", FormatID: requested})
			require.ErrorIs(t, err, ErrCancelled)
			assert.Equal(t, StatusCancelled, job.Status)
			assert.Contains(t, job.Error, "exceeds limit")
			assert.Empty(t, ex.formats)
			assert.Empty(t, pub.requests)
			// The rejection happens once downloading has begun.
			assert.Equal(t, []Status{StatusExtractingMetadata, StatusDownloading, StatusCancelled}, store.statuses)
		})
	}
}

func TestRunFormatResolution(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		want      string
	}{
		{"platform default", "", platform.NewRegistry("", nil).Config(platform.YouTube).Format},
		{"video only gets audio", "137", "137+bestaudio/137"},
		{"stale id", "999", "best"},
		{"expression pinned to candidate", "best[height<=1080][ext=mp4]/best", "137+bestaudio/137"},
		{"later alternative", "best[height>=2160]/best[height<=1080]", "137+bestaudio/137"},
		{"unmatched expression passes through", "best[height<=240]", "best[height<=240]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExtractor{raw: sampleRaw()}
			o, _ := newTestOrchestrator(t, ex, &fakePublisher{session: okSession()}, platform.YouTube)
			_, err := o.Run(context.Background(), Request{UserID: "u1", URL: "https://youtube.com/watch?v=x", FormatID: tt.requested})
			require.NoError(t, err)
			require.Len(t, ex.formats, 1)
			assert.Equal(t, tt.want, ex.formats[0])
		})
	}
}

func TestRunExpressionWithoutCandidates(t *testing.T) {
	ex := &fakeExtractor{raw: map[string]any{"title": "no formats listed"}}
	o, _ := newTestOrchestrator(t, ex, &fakePublisher{session: okSession()}, platform.Vimeo)

	_, err := o.Run(context.Background(), Request{UserID: "u1", URL: "https://vimeo.com/1", FormatID: "best[height<=720]"})
	require.NoError(t, err)
	assert.Equal(t, []string{"best[height<=720]"}, ex.formats)
}

func TestRunArtifactMissing(t *testing.T) {
	ex := &fakeExtractor{raw: sampleRaw(), noFile: true}
	pub := &fakePublisher{session: okSession()}
	o, _ := newTestOrchestrator(t, ex, pub, platform.YouTube)

	job, err := o.Run(context.Background(), Request{UserID: "u1", URL: "https://youtube.com/watch?v=x"})
	require.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, StatusError, job.Status)
	assert.Equal(t, "downloaded artifact missing", job.Error)
	assert.Empty(t, pub.requests)
}

func TestRunDownloadFailure(t *testing.T) {
	ex := &fakeExtractor{raw: sampleRaw(), downloadErr: errors.New("ERROR: unable to download\x07")}
	o, _ := newTestOrchestrator(t, ex, &fakePublisher{session: okSession()}, platform.YouTube)

	job, err := o.Run(context.Background(), Request{UserID: "u1", URL: "https://youtube.com/watch?v=x"})
	require.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, StatusError, job.Status)
	assert.Equal(t, "download failed: ERROR: unable to download", job.Error)
}

func TestRunUploadFailureCleansUp(t *testing.T) {
	ex := &fakeExtractor{raw: sampleRaw(), sidecar: true}
	sess := &fakeSession{
		statuses: []youtube.UploadStatus{{Sent: 500, Total: 1000}},
		err:      &googleapi.Error{Code: http.StatusForbidden, Message: "quota"},
	}
	o, history := newTestOrchestrator(t, ex, &fakePublisher{session: sess}, platform.YouTube)

	job, err := o.Run(context.Background(), Request{UserID: "u1", URL: "https://youtube.com/watch?v=x"})
	require.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, StatusError, job.Status)
	assert.Equal(t, 75.0, job.Progress)
	assert.Empty(t, history.entries)
	for _, p := range artifactFiles(ex.path) {
		assert.NoFileExists(t, p)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o, _ := newTestOrchestrator(t, &fakeExtractor{raw: sampleRaw()}, &fakePublisher{session: okSession()}, platform.YouTube)

	job, err := o.Run(ctx, Request{UserID: "u1", URL: "https://youtube.com/watch?v=x"})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StatusCancelled, job.Status)
}

func TestRunInvalidRequest(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeExtractor{}, &fakePublisher{}, platform.YouTube)
	_, err := o.Run(context.Background(), Request{UserID: "u1", URL: "  "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = o.Submit(context.Background(), Request{URL: "https://x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSubmitRunsThroughPool(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeExtractor{raw: sampleRaw()}, &fakePublisher{session: okSession()}, platform.YouTube)

	job, err := o.Submit(context.Background(), Request{UserID: "u1", URL: "https://youtube.com/watch?v=x"})
	require.NoError(t, err)
	assert.Equal(t, StatusStarting, job.Status)

	o.Pool().Wait()
	final, err := o.Store().Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
}

func TestSubmitPoolFull(t *testing.T) {
	release := make(chan struct{})
	block := &blockingExtractor{release: release}
	o := New(Options{
		Pool:        NewPool(PoolConfig{Global: 1, PerUser: 1, Queue: -1}),
		Extractor:   block,
		Publisher:   &fakePublisher{session: okSession()},
		Classifier:  fakeClassifier{id: platform.YouTube},
		DownloadDir: t.TempDir(),
	})

	_, err := o.Submit(context.Background(), Request{UserID: "u1", URL: "https://a"})
	require.NoError(t, err)
	job, err := o.Submit(context.Background(), Request{UserID: "u2", URL: "https://b"})
	require.ErrorIs(t, err, ErrPoolFull)

	rejected, err := o.Store().Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, rejected.Status)

	close(release)
	o.Pool().Wait()
}

type blockingExtractor struct {
	fakeExtractor
	release chan struct{}
}

func (b *blockingExtractor) Extract(ctx context.Context, url string, cfg platform.PlatformConfig) (map[string]any, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return map[string]any{}, nil
}

// flakyUploadServer answers the first three data PUTs with 503.
type flakyUploadServer struct {
	mu       sync.Mutex
	failures int
	received int64
	queries  int
}

func (s *flakyUploadServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Method {
	case http.MethodPost:
		w.Header().Set("Location", "http://"+r.Host+"/session")
	case http.MethodPut:
		cr := r.Header.Get("Content-Range")
		n, _ := io.Copy(io.Discard, r.Body)
		if strings.HasPrefix(cr, "bytes */") {
			s.queries++
		} else if s.failures > 0 {
			s.failures--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		} else {
			s.received += n
		}
		var total int64
		fmt.Sscanf(cr[strings.Index(cr, "/")+1:], "%d", &total)
		if s.received == total {
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "vid503"})
			return
		}
		if s.received > 0 {
			w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", s.received-1))
		}
		w.WriteHeader(308)
	}
}

type httpClients struct{ client *http.Client }

func (c httpClients) Client(ctx context.Context, userID string) (*http.Client, error) {
	return c.client, nil
}

func TestRunRetriesServiceUnavailable(t *testing.T) {
	server := &flakyUploadServer{failures: 3}
	srv := httptest.NewServer(server)
	defer srv.Close()

	uploader := youtube.NewUploader(httpClients{srv.Client()}, 256*1024, retry.Config{
		MaxRetries:     5,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		Multiplier:     2,
	})
	uploader.Endpoint = srv.URL + "/upload"

	o, _ := newTestOrchestrator(t, &fakeExtractor{raw: sampleRaw()}, uploader, platform.YouTube)
	job, err := o.Run(context.Background(), Request{UserID: "u1", URL: "https://youtube.com/watch?v=x"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, "vid503", job.Result.VideoID)
	assert.Equal(t, 3, server.queries)
}
