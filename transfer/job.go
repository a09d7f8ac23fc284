// Package transfer runs relay jobs: pull a video from its source
// platform, then push it to the user's YouTube channel, reporting
// progress through an injected job store.
package transfer

import (
	"time"

	"github.com/google/uuid"

	"ytrelay/metadata"
	"ytrelay/platform"
)

// Status is the state of a job.
type Status string

const (
	StatusStarting           Status = "starting"
	StatusExtractingMetadata Status = "extracting_metadata"
	StatusDownloading        Status = "downloading"
	StatusDownloadComplete   Status = "download_complete"
	StatusUploading          Status = "uploading"
	StatusCompleted          Status = "completed"
	StatusError              Status = "error"
	StatusCancelled          Status = "cancelled"
)

// Terminal reports whether no further transitions follow s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// MetadataOutcome records how the best-effort metadata step ended.
type MetadataOutcome string

const (
	MetadataPending   MetadataOutcome = ""
	MetadataExtracted MetadataOutcome = "extracted"
	// MetadataDefaulted means extraction failed and defaults were used.
	MetadataDefaulted MetadataOutcome = "defaulted"
)

// Result identifies the uploaded video.
type Result struct {
	VideoID string `json:"video_id"`
	URL     string `json:"video_url"`
	Title   string `json:"title"`
}

// Job is the progress record of one transfer.
type Job struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	SourceURL string      `json:"source_url"`
	Platform  platform.ID `json:"platform"`
	Status    Status      `json:"status"`
	// Progress is 0-50 while downloading and 50-100 while uploading.
	Progress   float64 `json:"progress"`
	Speed      string  `json:"speed,omitempty"`
	ETA        string  `json:"eta,omitempty"`
	Downloaded string  `json:"downloaded,omitempty"`
	Total      string  `json:"total,omitempty"`
	Uploaded   string  `json:"uploaded,omitempty"`
	Error      string  `json:"error,omitempty"`

	MetadataOutcome MetadataOutcome    `json:"metadata_outcome,omitempty"`
	Metadata        *metadata.Metadata `json:"metadata,omitempty"`
	Result          *Result            `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Request asks for one transfer. Empty snippet fields default from the
// extracted metadata.
type Request struct {
	UserID string `json:"user_id"`
	URL    string `json:"url"`
	// FormatID is a format id from the quality listing or a selector
	// expression. Empty uses the platform default.
	FormatID    string   `json:"format_id,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Privacy     string   `json:"privacy,omitempty"`
	// Automated marks jobs enqueued by the automation poller; their
	// description credits the source platform.
	Automated bool `json:"automated,omitempty"`
}

func newJob(req Request) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		SourceURL: req.URL,
		Status:    StatusStarting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// clone returns a copy that shares no mutable state with j.
func (j *Job) clone() *Job {
	c := *j
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.Metadata != nil {
		m := *j.Metadata
		m.Tags = append([]string(nil), j.Metadata.Tags...)
		c.Metadata = &m
	}
	return &c
}
