package automation

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	yhttp "ytrelay/http"
	"ytrelay/storage"
	"ytrelay/youtube"
)

// Lookup resolves input (channel id, /channel/ URL, @handle, custom URL)
// and returns the channel's details for userID's API key.
func (m *Manager) Lookup(ctx context.Context, userID, input string) (*youtube.ChannelInfo, error) {
	id, err := youtube.ResolveChannelID(ctx, m.opts.HTTP, input)
	if err != nil {
		return nil, err
	}
	src, err := m.channelsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return src.ChannelDetails(ctx, id), nil
}

// AddChannel starts monitoring the channel named by input. The current
// upload count becomes the baseline, so only later uploads are relayed.
func (m *Manager) AddChannel(ctx context.Context, userID, input, quality string) (*storage.MonitoredChannel, error) {
	info, err := m.Lookup(ctx, userID, input)
	if err != nil {
		return nil, err
	}
	if quality == "" {
		quality = m.opts.Config.DefaultQuality
	}
	ch := &storage.MonitoredChannel{
		UserID:         userID,
		ChannelID:      info.ID,
		Name:           info.Name,
		LogoURL:        info.LogoURL,
		LastVideoCount: info.VideoCount,
		Quality:        quality,
	}
	if err := m.opts.Store.AddChannel(ctx, ch); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"user": userID, "channel": ch.ChannelID}).
		Infof("automation: monitoring %s from %d uploads (%s)", ch.Name, ch.LastVideoCount, info.Source)
	m.appendLog(userID, storage.LogInfo, fmt.Sprintf("Added channel %s", ch.Name))
	return ch, nil
}

// RemoveChannel stops monitoring channelID.
func (m *Manager) RemoveChannel(ctx context.Context, userID, channelID string) error {
	if err := m.opts.Store.RemoveChannel(ctx, userID, channelID); err != nil {
		return err
	}
	m.appendLog(userID, storage.LogInfo, "Removed channel "+channelID)
	return nil
}

func (m *Manager) channelsFor(ctx context.Context, userID string) (Channels, error) {
	apiKey := m.opts.APIKey
	if s, err := m.opts.Store.GetSettings(ctx, userID); err == nil && s.APIKey != "" {
		apiKey = s.APIKey
	}
	return m.opts.Channels(ctx, apiKey)
}

// NewChannelsFactory returns a factory combining the Data API, when a
// key is given, with the RSS feed read through client.
func NewChannelsFactory(client *yhttp.Client) ChannelsFactory {
	rss := youtube.NewRSSSource(client)
	return func(ctx context.Context, apiKey string) (Channels, error) {
		if apiKey == "" {
			return youtube.NewChannelSource(nil, rss), nil
		}
		api, err := youtube.NewAPISource(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		return youtube.NewChannelSource(api, rss), nil
	}
}
