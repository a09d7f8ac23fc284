package storage

import "time"

// Credentials are the OAuth tokens stored for a user.
type Credentials struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Settings are the per-user automation settings.
type Settings struct {
	UserID string `json:"user_id"`
	// MonitorInterval is the pause between automation cycles, in seconds.
	MonitorInterval int    `json:"monitor_interval"`
	DefaultQuality  string `json:"default_quality"`
	// APIKey is the user's YouTube Data API key, optional.
	APIKey    string    `json:"api_key,omitempty"`
	Privacy   string    `json:"privacy,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Interval returns MonitorInterval as a duration.
func (s *Settings) Interval() time.Duration {
	return time.Duration(s.MonitorInterval) * time.Second
}

// MonitoredChannel is a source channel tracked by the automation poller.
type MonitoredChannel struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	Name      string `json:"name"`
	LogoURL   string `json:"logo_url,omitempty"`
	// LastVideoCount is the baseline the poller diffs against.
	LastVideoCount  int64     `json:"last_video_count"`
	LastChecked     time.Time `json:"last_checked,omitempty"`
	Quality         string    `json:"quality"`
	MonitorInterval int       `json:"monitor_interval"`
	AddedAt         time.Time `json:"added_at"`
}

// LogLevel tags an automation log entry.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogSuccess LogLevel = "success"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is one automation log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"type"`
	Message   string    `json:"message"`
	// Countdown entries overwrite each other instead of piling up.
	Countdown bool `json:"countdown,omitempty"`
}

// HistoryEntry records a completed re-upload.
type HistoryEntry struct {
	JobID       string    `json:"job_id"`
	SourceURL   string    `json:"source_url"`
	Platform    string    `json:"platform"`
	VideoID     string    `json:"video_id"`
	VideoURL    string    `json:"video_url"`
	Title       string    `json:"title"`
	CompletedAt time.Time `json:"completed_at"`
}
