package automation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"ytrelay/metadata"
	"ytrelay/platform"
	"ytrelay/storage"
	"ytrelay/transfer"
	"ytrelay/youtube"
)

// discovered is a new upload waiting to be relayed.
type discovered struct {
	video   youtube.VideoInfo
	title   string
	quality string
}

func (m *Manager) run(ctx context.Context, p *poller) {
	logger := log.WithField("user", p.userID)
	logger.Infoln("automation: monitoring started")
	m.appendLog(p.userID, storage.LogSuccess, "Started monitoring service")
	running.Inc()

	defer func() {
		running.Dec()
		if err := m.opts.Store.SetServiceEnabled(context.Background(), p.userID, false); err != nil {
			logger.Warnf("automation: clear service flag: %v", err)
		}
		m.appendLog(p.userID, storage.LogInfo, "Monitoring service stopped")
		logger.Infoln("automation: monitoring stopped")
		m.remove(p)
	}()

	for {
		if !m.enabled(ctx, p.userID) {
			return
		}

		wait, countdown, err := m.cycle(ctx, p)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			cycles.WithLabelValues("error").Inc()
			logger.Warnf("automation: cycle failed: %v", err)
			m.appendLog(p.userID, storage.LogError, "Monitor cycle error: "+err.Error())
			wait, countdown = m.opts.Config.ErrorCooldown, false
		}

		if !m.sleep(ctx, p, wait, countdown) {
			return
		}
	}
}

// enabled re-reads the persisted service flag. A store error counts as
// enabled so that a transient failure does not end the loop.
func (m *Manager) enabled(ctx context.Context, userID string) bool {
	if ctx.Err() != nil {
		return false
	}
	on, err := m.opts.Store.ServiceEnabled(ctx, userID)
	if err != nil {
		log.WithField("user", userID).Warnf("automation: read service flag: %v", err)
		return true
	}
	return on
}

// sleep waits d, one tick per second of d, re-checking the service flag
// on every tick. With countdown set the remaining time is logged in
// place. It reports false when the loop must exit.
func (m *Manager) sleep(ctx context.Context, p *poller, d time.Duration, countdown bool) bool {
	defer p.countdown.Store(0)

	ticker := time.NewTicker(m.opts.Config.Tick)
	defer ticker.Stop()

	for remaining := int64(d / time.Second); remaining > 0; remaining-- {
		if !m.enabled(ctx, p.userID) {
			return false
		}
		p.countdown.Store(remaining)
		if countdown {
			m.writeLog(p.userID, storage.LogEntry{
				Timestamp: time.Now(),
				Level:     storage.LogInfo,
				Message:   "Cooldown: " + countdownText(remaining) + " remaining",
				Countdown: true,
			})
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return m.enabled(ctx, p.userID)
}

func countdownText(secs int64) string {
	if secs >= 60 {
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	}
	return fmt.Sprintf("%ds", secs)
}

// cycle checks every channel once and relays what it found. It returns
// the pause before the next cycle.
func (m *Manager) cycle(ctx context.Context, p *poller) (time.Duration, bool, error) {
	p.cycles.Inc()
	cfg := m.opts.Config
	userID := p.userID

	settings, err := m.Settings(ctx, userID)
	if err != nil {
		return 0, false, fmt.Errorf("load settings: %w", err)
	}
	channels, err := m.opts.Store.ListChannels(ctx, userID)
	if err != nil {
		return 0, false, fmt.Errorf("load channels: %w", err)
	}
	if len(channels) == 0 {
		m.appendLog(userID, storage.LogWarning, "No channels configured yet, waiting...")
		cycles.WithLabelValues("idle").Inc()
		return cfg.IdleWait, false, nil
	}

	apiKey := settings.APIKey
	if apiKey == "" {
		apiKey = m.opts.APIKey
	}
	src, err := m.opts.Channels(ctx, apiKey)
	if err != nil {
		return 0, false, fmt.Errorf("channel source: %w", err)
	}

	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = ch.Name
	}
	m.appendLog(userID, storage.LogInfo, "Searching for videos in "+strings.Join(names, ", "))

	var found []discovered
	for _, ch := range channels {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		videos, err := m.checkChannel(ctx, userID, src, ch)
		if err != nil {
			log.WithFields(log.Fields{"user": userID, "channel": ch.ChannelID}).Warnf("automation: check channel: %v", err)
			m.appendLog(userID, storage.LogError, fmt.Sprintf("Error checking %s: %v", ch.Name, err))
			continue
		}
		quality := ch.Quality
		if quality == "" {
			quality = settings.DefaultQuality
		}
		for _, v := range videos {
			if d, ok := m.inspect(ctx, userID, v); ok {
				d.quality = quality
				found = append(found, d)
			}
		}
	}

	m.appendLog(userID, storage.LogInfo, fmt.Sprintf("Found %d new videos.", len(found)))
	videosFound.Add(float64(len(found)))
	if len(found) > 0 {
		m.relay(ctx, userID, settings, found)
	}

	cycles.WithLabelValues("ok").Inc()
	m.appendLog(userID, storage.LogInfo, fmt.Sprintf("Starting cooldown: %d seconds", settings.MonitorInterval))
	return settings.Interval(), true, nil
}

// checkChannel diffs the channel's upload count against its baseline,
// saves the new baseline and returns the uploads to relay.
func (m *Manager) checkChannel(ctx context.Context, userID string, src Channels, ch *storage.MonitoredChannel) ([]youtube.VideoInfo, error) {
	logger := log.WithFields(log.Fields{"user": userID, "channel": ch.ChannelID})

	res, err := src.VideoCount(ctx, ch.ChannelID)
	if err != nil {
		return nil, err
	}
	channelChecks.WithLabelValues(res.Source.String()).Inc()
	if res.Source.Degraded() {
		logger.Debugf("automation: count from %s: %v", res.Source, res.Err)
	}

	var videos []youtube.VideoInfo
	switch last := ch.LastVideoCount; {
	case res.Count > last:
		delta := int(res.Count - last)
		logger.Infof("automation: %d new uploads (%d -> %d)", delta, last, res.Count)
		latest, source, err := src.LatestVideos(ctx, ch.ChannelID, delta)
		if err != nil {
			m.appendLog(userID, storage.LogWarning, "Could not fetch video details: "+err.Error())
		} else {
			logger.Debugf("automation: latest videos from %s", source)
			videos = latest
		}
	case res.Count < last && res.Source.Degraded():
		// A feed only lists recent uploads, so its count says nothing
		// about deletions.
		logger.Infof("automation: %s count %d below baseline %d, baseline kept", res.Source, res.Count, last)
		res.Count = last
	case res.Count < last:
		logger.Infof("automation: upload count dropped (%d -> %d), baseline reset", last, res.Count)
	}

	ch.LastVideoCount = res.Count
	ch.LastChecked = time.Now()
	if err := m.opts.Store.UpdateChannel(ctx, ch); err != nil {
		return videos, fmt.Errorf("save baseline: %w", err)
	}
	return videos, nil
}

// inspect extracts the metadata of a new upload. A failure skips the
// video and leaves the rest of the batch alone.
func (m *Manager) inspect(ctx context.Context, userID string, v youtube.VideoInfo) (discovered, bool) {
	published := "unknown date"
	if !v.Published.IsZero() {
		published = v.Published.Format("2006-01-02")
	}
	m.appendLog(userID, storage.LogInfo, fmt.Sprintf("Extracting video metadata... %s, %s", v.Title, published))

	d := discovered{video: v, title: v.Title}
	if m.opts.Extractor == nil {
		return d, true
	}
	raw, err := m.opts.Extractor.Extract(ctx, v.URL(), m.opts.Registry.Config(platform.YouTube))
	if err != nil {
		xerr := metadata.ClassifyError(platform.YouTube, err)
		m.appendLog(userID, storage.LogError, "Failed to extract metadata: "+xerr.Error())
		return d, false
	}
	md := metadata.Normalize(raw, v.URL(), platform.YouTube)
	d.title = md.Title
	m.appendLog(userID, storage.LogSuccess, fmt.Sprintf("Extracted metadata: %s, %s", md.Title, orUnknown(md.UploadDate)))
	return d, true
}

// relay hands each discovered upload to the orchestrator, one at a time.
// Uploads authenticate with the stored refresh token.
func (m *Manager) relay(ctx context.Context, userID string, settings *storage.Settings, found []discovered) {
	if _, err := m.opts.Store.GetTokens(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.appendLog(userID, storage.LogWarning, "YouTube upload requires authorisation, skipping uploads")
		} else {
			m.appendLog(userID, storage.LogError, "Load credentials: "+err.Error())
		}
		return
	}

	n := len(found)
	for i, d := range found {
		if ctx.Err() != nil {
			return
		}
		m.appendLog(userID, storage.LogInfo, fmt.Sprintf("Transferring %d/%d - %s", i+1, n, d.title))

		job, err := m.opts.Relay.Submit(ctx, transfer.Request{
			UserID:    userID,
			URL:       d.video.URL(),
			FormatID:  QualityFormat(d.quality),
			Privacy:   settings.Privacy,
			Automated: true,
		})
		if err == nil {
			job, err = m.opts.Relay.Wait(ctx, job.ID)
		}
		if err == nil && job.Status != transfer.StatusCompleted {
			err = errors.New(orUnknown(job.Error))
		}
		if err != nil {
			transfers.WithLabelValues("failed").Inc()
			m.appendLog(userID, storage.LogError, fmt.Sprintf("Failed to process %s: %v", d.title, err))
			continue
		}
		transfers.WithLabelValues("completed").Inc()
		m.appendLog(userID, storage.LogSuccess, fmt.Sprintf("Uploaded %d/%d - %s", i+1, n, job.Result.URL))
	}
}

// QualityFormat turns a quality label such as "1080p" into a format
// selector capped at that height. "best" and unparsable labels use the
// platform default.
func QualityFormat(quality string) string {
	h, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(quality)), "p"))
	if err != nil || h <= 0 {
		return ""
	}
	return fmt.Sprintf("best[height<=%d][ext=mp4]/best[height<=%d]/best", h, h)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
