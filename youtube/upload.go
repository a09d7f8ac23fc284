package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	ytapi "google.golang.org/api/youtube/v3"

	"ytrelay/internal/retry"
)

const (
	// UploadURL opens a resumable upload session.
	UploadURL = "https://www.googleapis.com/upload/youtube/v3/videos?uploadType=resumable&part=snippet,status"

	// DefaultChunkSize is the size of one PUT; it must be a multiple of
	// 256 KiB.
	DefaultChunkSize = 8 * 1024 * 1024
	// DefaultCategory is "People & Blogs".
	DefaultCategory = "22"
	// DefaultPrivacy applies when a request names none.
	DefaultPrivacy = "public"

	statusResumeIncomplete = 308
)

// VideoRequest is the snippet and status of a new upload.
type VideoRequest struct {
	Title       string
	Description string
	Tags        []string
	Privacy     string
	CategoryID  string
}

// UploadStatus reports the bytes the server has acknowledged.
type UploadStatus struct {
	Sent  int64
	Total int64
}

// Fraction is Sent/Total in [0, 1].
func (s UploadStatus) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}
	f := float64(s.Sent) / float64(s.Total)
	if f > 1 {
		return 1
	}
	return f
}

// UploadSession is one resumable upload in progress. NextChunk is called
// until it returns the created video.
type UploadSession interface {
	NextChunk(ctx context.Context) (UploadStatus, *ytapi.Video, error)
	Close() error
}

// ClientProvider yields an authorised HTTP client for a user.
type ClientProvider interface {
	Client(ctx context.Context, userID string) (*http.Client, error)
}

// Uploader implements the resumable upload protocol of the YouTube Data
// API.
type Uploader struct {
	Clients   ClientProvider
	Endpoint  string
	ChunkSize int64
	// Retry governs a whole upload: MaxRetries is shared by all of its
	// chunks. Only 500, 502, 503 and 504 responses and transport failures
	// are retried.
	Retry retry.Config
}

// NewUploader creates an uploader with the default endpoint.
func NewUploader(clients ClientProvider, chunkSize int64, rc retry.Config) *Uploader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Uploader{
		Clients:   clients,
		Endpoint:  UploadURL,
		ChunkSize: chunkSize,
		Retry:     rc,
	}
}

// Begin opens path and starts a resumable session for userID.
func (u *Uploader) Begin(ctx context.Context, userID, path string, req VideoRequest) (UploadSession, error) {
	client, err := u.Clients.Client(ctx, userID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("youtube: open upload: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("youtube: stat upload: %w", err)
	}

	body, err := json.Marshal(videoResource(req))
	if err != nil {
		f.Close()
		return nil, err
	}

	var location string
	err = retry.Do(ctx, u.Retry, uploadRetryable, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")
		httpReq.Header.Set("X-Upload-Content-Length", strconv.FormatInt(fi.Size(), 10))
		httpReq.Header.Set("X-Upload-Content-Type", "video/*")

		resp, err := client.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := googleapi.CheckResponse(resp); err != nil {
			return err
		}
		location = resp.Header.Get("Location")
		return nil
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("youtube: start upload: %w", err)
	}
	if location == "" {
		f.Close()
		return nil, ErrNoUploadURL
	}

	log.WithFields(log.Fields{"user": userID, "bytes": fi.Size()}).Debugln("youtube: resumable session opened")
	return &session{
		client:    client,
		location:  location,
		file:      f,
		size:      fi.Size(),
		chunkSize: u.ChunkSize,
		retry:     u.Retry,
		userID:    userID,
	}, nil
}

func videoResource(req VideoRequest) *ytapi.Video {
	privacy := req.Privacy
	if privacy == "" {
		privacy = DefaultPrivacy
	}
	category := req.CategoryID
	if category == "" {
		category = DefaultCategory
	}
	return &ytapi.Video{
		Snippet: &ytapi.VideoSnippet{
			Title:       req.Title,
			Description: req.Description,
			Tags:        req.Tags,
			CategoryId:  category,
		},
		Status: &ytapi.VideoStatus{PrivacyStatus: privacy},
	}
}

type session struct {
	client    *http.Client
	location  string
	file      *os.File
	size      int64
	chunkSize int64
	retry     retry.Config
	userID    string

	offset int64
	// retries counts the retries spent so far across all chunks.
	retries int
	// resync is set after a failed PUT: the next attempt asks the server
	// how much it has before sending more.
	resync bool
	video  *ytapi.Video
}

// NextChunk sends one chunk, retrying transient failures, and reports
// the acknowledged progress. The created video is returned with the
// final chunk.
func (s *session) NextChunk(ctx context.Context) (UploadStatus, *ytapi.Video, error) {
	if s.video != nil {
		return s.status(), s.video, nil
	}

	notify := func(attempt int, err error, wait time.Duration) {
		s.retries++
		log.WithFields(log.Fields{"user": s.userID, "retry": s.retries, "wait": wait}).
			Warnf("youtube: retriable upload error: %v", err)
	}
	err := retry.DoNotify(ctx, s.remaining(), uploadRetryable, notify, func(ctx context.Context) error {
		if s.resync {
			if err := s.query(ctx); err != nil {
				return err
			}
			s.resync = false
			if s.video != nil {
				return nil
			}
		}
		if err := s.put(ctx); err != nil {
			s.resync = true
			return err
		}
		return nil
	})
	if err != nil {
		var exhausted *retry.RetryableError
		if errors.As(err, &exhausted) {
			exhausted.Retries = s.retries
		}
		return s.status(), nil, fmt.Errorf("youtube: upload chunk: %w", err)
	}
	return s.status(), s.video, nil
}

// remaining is the retry policy for the next chunk: what is left of the
// upload's budget, with the backoff continuing where the last retry
// stopped.
func (s *session) remaining() retry.Config {
	cfg := s.retry
	cfg.MaxRetries = s.retry.MaxRetries - s.retries
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	for i := 0; i < s.retries && cfg.Multiplier > 1; i++ {
		cfg.InitialBackoff = time.Duration(float64(cfg.InitialBackoff) * cfg.Multiplier)
		if cfg.MaxBackoff > 0 && cfg.InitialBackoff > cfg.MaxBackoff {
			cfg.InitialBackoff = cfg.MaxBackoff
			break
		}
	}
	return cfg
}

func (s *session) status() UploadStatus {
	return UploadStatus{Sent: s.offset, Total: s.size}
}

func (s *session) put(ctx context.Context) error {
	length := s.size - s.offset
	if length > s.chunkSize {
		length = s.chunkSize
	}

	var body io.Reader = http.NoBody
	contentRange := fmt.Sprintf("bytes */%d", s.size)
	if length > 0 {
		body = io.NewSectionReader(s.file, s.offset, length)
		contentRange = fmt.Sprintf("bytes %d-%d/%d", s.offset, s.offset+length-1, s.size)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.location, body)
	if err != nil {
		return retry.Permanent(err)
	}
	req.ContentLength = length
	req.Header.Set("Content-Range", contentRange)
	return s.send(req)
}

// query asks the server which bytes it holds after an interrupted PUT.
func (s *session) query(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.location, http.NoBody)
	if err != nil {
		return retry.Permanent(err)
	}
	req.ContentLength = 0
	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", s.size))
	return s.send(req)
}

func (s *session) send(req *http.Request) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case statusResumeIncomplete:
		next, err := parseRange(resp.Header.Get("Range"))
		if err != nil {
			return retry.Permanent(err)
		}
		s.offset = next
		return nil
	case http.StatusOK, http.StatusCreated:
		var video ytapi.Video
		if err := json.NewDecoder(resp.Body).Decode(&video); err != nil {
			return retry.Permanent(fmt.Errorf("decode video resource: %w", err))
		}
		s.offset = s.size
		s.video = &video
		return nil
	}
	if err := googleapi.CheckResponse(resp); err != nil {
		return err
	}
	return &googleapi.Error{Code: resp.StatusCode, Message: "unexpected upload response"}
}

func (s *session) Close() error {
	return s.file.Close()
}

// parseRange returns the next offset from a "bytes=0-N" header. A
// missing header means the server holds nothing yet.
func parseRange(h string) (int64, error) {
	if h == "" {
		return 0, nil
	}
	_, last, ok := strings.Cut(strings.TrimPrefix(h, "bytes="), "-")
	if !ok {
		return 0, fmt.Errorf("youtube: malformed Range header %q", h)
	}
	n, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("youtube: malformed Range header %q", h)
	}
	return n + 1, nil
}

// RetriableStatus lists the HTTP codes a chunk is retried on.
var RetriableStatus = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// uploadRetryable retries the listed server errors and transport
// failures. Every other HTTP error aborts the upload.
func uploadRetryable(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return RetriableStatus[gerr.Code]
	}
	return true
}

// HTTPStatus returns the HTTP code of an upload error, or 0.
func HTTPStatus(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
