package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	schemaVersion = "2"
	lockTimeout   = 5 * time.Second
)

// JSONStore implements Store using a single JSON file guarded by a
// cross-process file lock.
type JSONStore struct {
	path string
	lock *FileLock
	data *storeData
	mu   sync.RWMutex
}

// storeData is the top-level JSON structure.
type storeData struct {
	Version   string               `json:"version"`
	UpdatedAt time.Time            `json:"updated_at"`
	Users     map[string]*userData `json:"users"`
}

// userData is everything persisted for one user.
type userData struct {
	Credentials    *Credentials        `json:"credentials,omitempty"`
	Settings       *Settings           `json:"settings,omitempty"`
	Channels       []*MonitoredChannel `json:"channels"`
	Logs           []LogEntry          `json:"logs"`
	ServiceEnabled bool                `json:"service_enabled"`
	History        []HistoryEntry      `json:"history"`
}

// NewJSONStore opens the JSON file store at path, creating it if missing.
func NewJSONStore(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &StorageError{Op: "create", Entity: "store", Err: err}
	}
	s := &JSONStore{
		path: path,
		lock: NewFileLock(path),
	}

	if err := s.lock.Lock(lockTimeout); err != nil {
		return nil, err
	}

	if err := s.load(); err != nil {
		s.lock.Unlock()
		return nil, err
	}

	return s, nil
}

func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.data = newStoreData()
			// Save immediately to catch permission errors early
			return s.save()
		}
		return &StorageError{Op: "read", Entity: "store", Err: err}
	}

	s.data = &storeData{}
	if err := json.Unmarshal(data, s.data); err != nil {
		return &StorageError{Op: "read", Entity: "store", Err: ErrStorageCorrupt}
	}
	if s.data.Users == nil {
		s.data.Users = make(map[string]*userData)
	}
	return nil
}

// save persists the data to disk atomically. Callers hold mu.
func (s *JSONStore) save() error {
	s.data.UpdatedAt = time.Now()

	writer, err := NewAtomicWriter(s.path)
	if err != nil {
		return &StorageError{Op: "write", Entity: "store", Err: err}
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		writer.Abort()
		return &StorageError{Op: "write", Entity: "store", Err: err}
	}

	if err := writer.Commit(); err != nil {
		return &StorageError{Op: "write", Entity: "store", Err: err}
	}
	return nil
}

// Close releases the file lock.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Unlock()
}

func newStoreData() *storeData {
	return &storeData{
		Version:   schemaVersion,
		UpdatedAt: time.Now(),
		Users:     make(map[string]*userData),
	}
}

// user returns the record for userID, creating it when create is set.
func (s *JSONStore) user(userID string, create bool) *userData {
	u, ok := s.data.Users[userID]
	if !ok && create {
		u = &userData{}
		s.data.Users[userID] = u
	}
	return u
}

// --- TokenStore implementation ---

func (s *JSONStore) GetTokens(ctx context.Context, userID string) (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.user(userID, false)
	if u == nil || u.Credentials == nil {
		return nil, &StorageError{Op: "read", Entity: "tokens", ID: userID, Err: ErrNotFound}
	}
	creds := *u.Credentials
	return &creds, nil
}

func (s *JSONStore) PutTokens(ctx context.Context, creds *Credentials) error {
	if creds.UserID == "" {
		return &StorageError{Op: "update", Entity: "tokens", Err: ErrInvalidInput}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *creds
	c.UpdatedAt = time.Now()
	s.user(creds.UserID, true).Credentials = &c
	return s.save()
}

// --- SettingsStore implementation ---

func (s *JSONStore) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.user(userID, false)
	if u == nil || u.Settings == nil {
		return nil, &StorageError{Op: "read", Entity: "settings", ID: userID, Err: ErrNotFound}
	}
	settings := *u.Settings
	return &settings, nil
}

func (s *JSONStore) PutSettings(ctx context.Context, settings *Settings) error {
	if settings.UserID == "" {
		return &StorageError{Op: "update", Entity: "settings", Err: ErrInvalidInput}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *settings
	c.UpdatedAt = time.Now()
	s.user(settings.UserID, true).Settings = &c
	return s.save()
}

// --- ChannelStore implementation ---

func (s *JSONStore) AddChannel(ctx context.Context, channel *MonitoredChannel) error {
	if channel.UserID == "" || channel.ChannelID == "" {
		return &StorageError{Op: "create", Entity: "channel", Err: ErrInvalidInput}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(channel.UserID, true)
	for _, ch := range u.Channels {
		if ch.ChannelID == channel.ChannelID {
			return &StorageError{Op: "create", Entity: "channel", ID: channel.ChannelID, Err: ErrAlreadyExists}
		}
	}

	c := *channel
	if c.AddedAt.IsZero() {
		c.AddedAt = time.Now()
	}
	u.Channels = append(u.Channels, &c)
	return s.save()
}

func (s *JSONStore) UpdateChannel(ctx context.Context, channel *MonitoredChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u := s.user(channel.UserID, false); u != nil {
		for i, ch := range u.Channels {
			if ch.ChannelID == channel.ChannelID {
				c := *channel
				u.Channels[i] = &c
				return s.save()
			}
		}
	}
	return &StorageError{Op: "update", Entity: "channel", ID: channel.ChannelID, Err: ErrNotFound}
}

func (s *JSONStore) RemoveChannel(ctx context.Context, userID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u := s.user(userID, false); u != nil {
		for i, ch := range u.Channels {
			if ch.ChannelID == channelID {
				u.Channels = append(u.Channels[:i], u.Channels[i+1:]...)
				return s.save()
			}
		}
	}
	return &StorageError{Op: "delete", Entity: "channel", ID: channelID, Err: ErrNotFound}
}

func (s *JSONStore) ListChannels(ctx context.Context, userID string) ([]*MonitoredChannel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.user(userID, false)
	if u == nil {
		return []*MonitoredChannel{}, nil
	}
	channels := make([]*MonitoredChannel, 0, len(u.Channels))
	for _, ch := range u.Channels {
		c := *ch
		channels = append(channels, &c)
	}
	return channels, nil
}

// --- LogStore implementation ---

func (s *JSONStore) AppendLog(ctx context.Context, userID string, entry LogEntry, retention int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID, true)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if n := len(u.Logs); entry.Countdown && n > 0 && u.Logs[n-1].Countdown {
		u.Logs[n-1] = entry
	} else {
		u.Logs = append(u.Logs, entry)
	}
	if retention > 0 && len(u.Logs) > retention {
		u.Logs = append([]LogEntry(nil), u.Logs[len(u.Logs)-retention:]...)
	}
	return s.save()
}

func (s *JSONStore) ListLogs(ctx context.Context, userID string, limit int) ([]LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.user(userID, false)
	if u == nil {
		return []LogEntry{}, nil
	}
	logs := u.Logs
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return append([]LogEntry{}, logs...), nil
}

func (s *JSONStore) ClearLogs(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID, false)
	if u == nil {
		return nil
	}
	u.Logs = nil
	return s.save()
}

// --- ServiceStateStore implementation ---

func (s *JSONStore) SetServiceEnabled(ctx context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user(userID, true).ServiceEnabled = enabled
	return s.save()
}

func (s *JSONStore) ServiceEnabled(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.user(userID, false)
	return u != nil && u.ServiceEnabled, nil
}

// --- HistoryStore implementation ---

func (s *JSONStore) AppendHistory(ctx context.Context, userID string, entry HistoryEntry, retention int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID, true)
	if entry.CompletedAt.IsZero() {
		entry.CompletedAt = time.Now()
	}
	u.History = append(u.History, entry)
	if retention > 0 && len(u.History) > retention {
		u.History = append([]HistoryEntry(nil), u.History[len(u.History)-retention:]...)
	}
	return s.save()
}

func (s *JSONStore) ListHistory(ctx context.Context, userID string) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.user(userID, false)
	if u == nil {
		return []HistoryEntry{}, nil
	}
	return append([]HistoryEntry{}, u.History...), nil
}

// Ensure JSONStore implements Store.
var _ Store = (*JSONStore)(nil)
