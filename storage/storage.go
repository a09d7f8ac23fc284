// Package storage persists per-user ytrelay state: OAuth credentials,
// automation settings, monitored channels, automation logs, the
// automation service flag and the upload history.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common storage conditions.
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyExists indicates the entity already exists in storage.
	ErrAlreadyExists = errors.New("storage: already exists")
	// ErrInvalidInput indicates invalid or malformed input was provided.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrStorageCorrupt indicates data corruption was detected.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
)

// StorageError wraps storage errors with operation and entity context.
// Use errors.As() to extract this error type and get operation details:
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("Failed to %s %s %s: %v\n", storErr.Op, storErr.Entity, storErr.ID, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("create", "read", "update", "delete").
	Op string
	// Entity is the entity type ("channel", "settings", "tokens", etc.).
	Entity string
	// ID is the entity ID if applicable.
	ID string
	// Err is the underlying error that occurred.
	Err error
}

// Error returns a string representation of the storage error.
func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error { return e.Err }

// Store is the main storage interface.
// Implementations must be safe for concurrent use.
type Store interface {
	TokenStore
	SettingsStore
	ChannelStore
	LogStore
	ServiceStateStore
	HistoryStore

	// Close releases any resources held by the store.
	Close() error
}

// TokenStore holds the OAuth credentials used for uploads. Readers must
// fetch the record on every use so that refreshed tokens are observed.
type TokenStore interface {
	// GetTokens returns ErrNotFound when the user never authorised.
	GetTokens(ctx context.Context, userID string) (*Credentials, error)
	PutTokens(ctx context.Context, creds *Credentials) error
}

// SettingsStore handles per-user automation settings.
type SettingsStore interface {
	// GetSettings returns ErrNotFound when nothing was saved yet.
	GetSettings(ctx context.Context, userID string) (*Settings, error)
	PutSettings(ctx context.Context, settings *Settings) error
}

// ChannelStore handles the monitored channel list of a user.
type ChannelStore interface {
	// AddChannel returns ErrAlreadyExists for a channel already monitored.
	AddChannel(ctx context.Context, channel *MonitoredChannel) error
	// UpdateChannel replaces the stored baseline of an existing channel.
	UpdateChannel(ctx context.Context, channel *MonitoredChannel) error
	// RemoveChannel returns ErrNotFound when the channel is not monitored.
	RemoveChannel(ctx context.Context, userID, channelID string) error
	// ListChannels returns channels in the order they were added.
	ListChannels(ctx context.Context, userID string) ([]*MonitoredChannel, error)
}

// LogStore is the append-only automation log.
type LogStore interface {
	// AppendLog appends entry and drops the oldest entries beyond
	// retention. A countdown entry replaces a trailing countdown entry.
	AppendLog(ctx context.Context, userID string, entry LogEntry, retention int) error
	// ListLogs returns the newest limit entries, oldest first. A limit of
	// zero returns everything.
	ListLogs(ctx context.Context, userID string, limit int) ([]LogEntry, error)
	ClearLogs(ctx context.Context, userID string) error
}

// ServiceStateStore persists the "automation enabled" flag.
type ServiceStateStore interface {
	SetServiceEnabled(ctx context.Context, userID string, enabled bool) error
	// ServiceEnabled reports false for users that never started automation.
	ServiceEnabled(ctx context.Context, userID string) (bool, error)
}

// HistoryStore records completed uploads.
type HistoryStore interface {
	AppendHistory(ctx context.Context, userID string, entry HistoryEntry, retention int) error
	ListHistory(ctx context.Context, userID string) ([]HistoryEntry, error)
}

// SettingsOrDefault loads the user's settings, falling back to defaults
// for a user that never saved any.
func SettingsOrDefault(ctx context.Context, s SettingsStore, userID string, defaults Settings) (*Settings, error) {
	settings, err := s.GetSettings(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		d := defaults
		d.UserID = userID
		return &d, nil
	}
	if err != nil {
		return nil, err
	}
	if settings.MonitorInterval <= 0 {
		settings.MonitorInterval = defaults.MonitorInterval
	}
	if settings.DefaultQuality == "" {
		settings.DefaultQuality = defaults.DefaultQuality
	}
	if settings.Privacy == "" {
		settings.Privacy = defaults.Privacy
	}
	return settings, nil
}
