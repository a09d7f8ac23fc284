// Package automation runs the per-user monitoring loop: poll the
// monitored source channels, detect new uploads and relay them through
// the transfer orchestrator.
package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	yhttp "ytrelay/http"
	"ytrelay/platform"
	"ytrelay/storage"
	"ytrelay/transfer"
	"ytrelay/youtube"
)

var (
	// ErrAlreadyRunning is returned by Start for a user whose loop runs.
	ErrAlreadyRunning = errors.New("automation: already running")
	// ErrNotRunning is returned by Stop for a user without a loop.
	ErrNotRunning = errors.New("automation: not running")
	// ErrManagerClosed rejects Start after Shutdown.
	ErrManagerClosed = errors.New("automation: manager closed")
)

// Config tunes the poller.
type Config struct {
	DefaultInterval time.Duration
	DefaultQuality  string
	// IdleWait is the pause when a user monitors no channels.
	IdleWait time.Duration
	// ErrorCooldown is the pause after a failed cycle.
	ErrorCooldown time.Duration
	LogRetention  int
	// Tick is the countdown step. Every tick counts down one second.
	Tick time.Duration
}

// DefaultConfig returns the stock poller settings.
func DefaultConfig() Config {
	return Config{
		DefaultInterval: 300 * time.Second,
		DefaultQuality:  "1080p",
		IdleWait:        10 * time.Second,
		ErrorCooldown:   time.Minute,
		LogRetention:    1000,
		Tick:            time.Second,
	}
}

// Channels answers channel questions for one poll cycle.
type Channels interface {
	VideoCount(ctx context.Context, channelID string) (youtube.CountResult, error)
	LatestVideos(ctx context.Context, channelID string, n int) ([]youtube.VideoInfo, youtube.Source, error)
	ChannelDetails(ctx context.Context, channelID string) *youtube.ChannelInfo
}

// ChannelsFactory builds the channel source for a user's API key. An
// empty key means RSS only.
type ChannelsFactory func(ctx context.Context, apiKey string) (Channels, error)

// Extractor reads source metadata ahead of a transfer.
type Extractor interface {
	Extract(ctx context.Context, url string, cfg platform.PlatformConfig) (map[string]any, error)
}

// Relay runs transfers.
type Relay interface {
	Submit(ctx context.Context, req transfer.Request) (*transfer.Job, error)
	Wait(ctx context.Context, id string) (*transfer.Job, error)
}

// Options wires a Manager.
type Options struct {
	Store     storage.Store
	Channels  ChannelsFactory
	Extractor Extractor
	Relay     Relay
	Registry  *platform.Registry
	// HTTP resolves channel handles. Nil uses a default client.
	HTTP *yhttp.Client
	// APIKey is used for users that saved none.
	APIKey string
	Config Config
}

// Status is the live state of a user's loop.
type Status struct {
	Running bool `json:"running"`
	// Countdown is the number of seconds until the next cycle, zero
	// while a cycle runs.
	Countdown int64 `json:"countdown"`
	Cycles    int64 `json:"cycles"`
}

type poller struct {
	userID    string
	countdown atomic.Int64
	cycles    atomic.Int64
	done      chan struct{}
}

// Manager starts and stops monitoring loops, one per user.
type Manager struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pollers map[string]*poller
	closed  bool
}

// NewManager creates a manager. Zero config fields take DefaultConfig
// values.
func NewManager(opts Options) *Manager {
	def := DefaultConfig()
	c := &opts.Config
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = def.DefaultInterval
	}
	if c.DefaultQuality == "" {
		c.DefaultQuality = def.DefaultQuality
	}
	if c.IdleWait <= 0 {
		c.IdleWait = def.IdleWait
	}
	if c.ErrorCooldown <= 0 {
		c.ErrorCooldown = def.ErrorCooldown
	}
	if c.LogRetention <= 0 {
		c.LogRetention = def.LogRetention
	}
	if c.Tick <= 0 {
		c.Tick = def.Tick
	}
	if opts.Registry == nil {
		opts.Registry = platform.NewRegistry("", nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		pollers: make(map[string]*poller),
	}
}

// Start enables the service flag of userID and launches its loop.
func (m *Manager) Start(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if _, ok := m.pollers[userID]; ok {
		return ErrAlreadyRunning
	}
	if err := m.opts.Store.SetServiceEnabled(ctx, userID, true); err != nil {
		return err
	}

	p := &poller{userID: userID, done: make(chan struct{})}
	m.pollers[userID] = p
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(m.ctx, p)
	}()
	return nil
}

// Stop clears the service flag of userID. The loop notices within one
// countdown tick and exits.
func (m *Manager) Stop(ctx context.Context, userID string) error {
	m.mu.Lock()
	_, live := m.pollers[userID]
	m.mu.Unlock()

	if err := m.opts.Store.SetServiceEnabled(ctx, userID, false); err != nil {
		return err
	}
	if !live {
		return ErrNotRunning
	}
	m.appendLog(userID, storage.LogInfo, "Monitoring service stopped by user")
	return nil
}

// Wait blocks until the loop of userID has exited or ctx ends.
func (m *Manager) Wait(ctx context.Context, userID string) error {
	m.mu.Lock()
	p, ok := m.pollers[userID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the loop state of userID.
func (m *Manager) Status(userID string) Status {
	m.mu.Lock()
	p, ok := m.pollers[userID]
	m.mu.Unlock()
	if !ok {
		return Status{}
	}
	return Status{Running: true, Countdown: p.countdown.Load(), Cycles: p.cycles.Load()}
}

// Running lists the users with a live loop.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]string, 0, len(m.pollers))
	for u := range m.pollers {
		users = append(users, u)
	}
	return users
}

// Shutdown cancels every loop and waits for them to exit or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settings returns the saved settings of userID with defaults filled in.
func (m *Manager) Settings(ctx context.Context, userID string) (*storage.Settings, error) {
	return storage.SettingsOrDefault(ctx, m.opts.Store, userID, storage.Settings{
		MonitorInterval: int(m.opts.Config.DefaultInterval / time.Second),
		DefaultQuality:  m.opts.Config.DefaultQuality,
	})
}

func (m *Manager) remove(p *poller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pollers[p.userID] == p {
		delete(m.pollers, p.userID)
	}
	close(p.done)
}

// appendLog writes one automation log line. Log failures only reach the
// process log.
func (m *Manager) appendLog(userID string, level storage.LogLevel, msg string) {
	m.writeLog(userID, storage.LogEntry{Timestamp: time.Now(), Level: level, Message: msg})
}

func (m *Manager) writeLog(userID string, entry storage.LogEntry) {
	err := m.opts.Store.AppendLog(context.Background(), userID, entry, m.opts.Config.LogRetention)
	if err != nil {
		log.WithField("user", userID).Warnf("automation: append log: %v", err)
	}
}
