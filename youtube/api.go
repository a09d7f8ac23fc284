package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"

	"ytrelay/internal/retry"
)

// APISource answers channel questions through the YouTube Data API v3
// using an API key.
type APISource struct {
	service     *ytapi.Service
	RetryConfig retry.Config
}

// NewAPISource creates a Data API client. Extra options (an HTTP client,
// an endpoint) are passed through to the generated client.
func NewAPISource(ctx context.Context, apiKey string, opts ...option.ClientOption) (*APISource, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := ytapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 2
	return &APISource{service: service, RetryConfig: cfg}, nil
}

// VideoCount returns statistics.videoCount of the channel.
func (a *APISource) VideoCount(ctx context.Context, channelID string) (int64, error) {
	ch, err := a.channel(ctx, channelID, "statistics")
	if err != nil {
		return 0, err
	}
	if ch.Statistics == nil {
		return 0, nil
	}
	return int64(ch.Statistics.VideoCount), nil
}

// ChannelInfo returns the channel's display details.
func (a *APISource) ChannelInfo(ctx context.Context, channelID string) (*ChannelInfo, error) {
	ch, err := a.channel(ctx, channelID, "snippet", "statistics")
	if err != nil {
		return nil, err
	}

	info := &ChannelInfo{ID: channelID, Name: "Unknown Channel", LogoURL: DefaultLogoURL, Source: SourceAPI}
	if ch.Snippet != nil {
		if ch.Snippet.Title != "" {
			info.Name = ch.Snippet.Title
		}
		if t := ch.Snippet.Thumbnails; t != nil && t.High != nil && t.High.Url != "" {
			info.LogoURL = t.High.Url
		}
	}
	if ch.Statistics != nil {
		info.VideoCount = int64(ch.Statistics.VideoCount)
		info.Subscribers = subscribers(ch.Statistics.SubscriberCount)
	}
	return info, nil
}

func (a *APISource) channel(ctx context.Context, channelID string, parts ...string) (*ytapi.Channel, error) {
	var channel *ytapi.Channel
	err := retry.Do(ctx, a.RetryConfig, apiErrorClassifier, func(ctx context.Context) error {
		resp, err := a.service.Channels.List(parts).Id(channelID).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return ErrChannelNotFound
		}
		channel = resp.Items[0]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("youtube: channels.list %s: %w", channelID, err)
	}
	return channel, nil
}

// LatestVideos lists the n newest uploads through search.list ordered
// by date.
func (a *APISource) LatestVideos(ctx context.Context, channelID string, n int) ([]VideoInfo, error) {
	var videos []VideoInfo
	err := retry.Do(ctx, a.RetryConfig, apiErrorClassifier, func(ctx context.Context) error {
		resp, err := a.service.Search.List([]string{"snippet"}).
			ChannelId(channelID).
			Order("date").
			Type("video").
			MaxResults(int64(n)).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}

		videos = videos[:0]
		for _, item := range resp.Items {
			if item.Id == nil || item.Id.VideoId == "" {
				continue
			}
			video := VideoInfo{ID: item.Id.VideoId}
			if item.Snippet != nil {
				video.Title = item.Snippet.Title
				if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
					video.Published = t
				}
				if th := item.Snippet.Thumbnails; th != nil && th.Medium != nil {
					video.Thumbnail = th.Medium.Url
				}
			}
			videos = append(videos, video)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("youtube: search.list %s: %w", channelID, err)
	}
	log.WithField("channel", channelID).Debugf("youtube: api listed %d videos", len(videos))
	return videos, nil
}

// apiErrorClassifier retries server-side failures and rate limits. Quota
// exhaustion and client errors are final; the caller falls back to RSS.
func apiErrorClassifier(err error) bool {
	if errors.Is(err, ErrChannelNotFound) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, item := range gerr.Errors {
			if item.Reason == "quotaExceeded" || item.Reason == "dailyLimitExceeded" {
				return false
			}
		}
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return retry.IsRetryable(err)
}

// subscribers renders a subscriber count the way channel cards show it.
func subscribers(n uint64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM subscribers", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK subscribers", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d subscribers", n)
	}
}

var _ Lister = (*APISource)(nil)
