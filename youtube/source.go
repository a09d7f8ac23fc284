// Package youtube talks to the destination side of a relay: channel
// statistics for the automation poller (Data API with an RSS fallback),
// the resumable upload protocol and the OAuth token plumbing behind it.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Sentinel errors for channel lookups and uploads.
var (
	ErrChannelNotFound = errors.New("youtube: channel not found")
	ErrRateLimited     = errors.New("youtube: rate limited")
	ErrInvalidURL      = errors.New("youtube: invalid channel URL")
	ErrNoAPIKey        = errors.New("youtube: api key required")
	ErrNotAuthorized   = errors.New("youtube: user has not authorised uploads")
	ErrNoUploadURL     = errors.New("youtube: upload session has no location")
)

// DefaultLogoURL is used when a channel exposes no thumbnail.
const DefaultLogoURL = "https://yt3.ggpht.com/a/default-user=s800-c-k-c0x00ffffff-no-rj"

// VideoInfo is one entry of a channel's upload list.
type VideoInfo struct {
	ID        string    `json:"video_id"`
	Title     string    `json:"title"`
	Published time.Time `json:"published"`
	Thumbnail string    `json:"thumbnail,omitempty"`
}

// URL returns the watch URL of the video.
func (v VideoInfo) URL() string {
	return WatchURL(v.ID)
}

// WatchURL builds the public URL of an uploaded video.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// ChannelURL builds the public URL of a channel.
func ChannelURL(id string) string {
	return "https://www.youtube.com/channel/" + id
}

// ChannelInfo describes a channel as shown when it is added to
// monitoring.
type ChannelInfo struct {
	ID           string      `json:"channel_id"`
	Name         string      `json:"name"`
	LogoURL      string      `json:"logo_url"`
	Subscribers  string      `json:"subscribers"`
	VideoCount   int64       `json:"video_count"`
	LatestVideos []VideoInfo `json:"latest_videos"`
	Source       Source      `json:"source"`
}

// Source tells which backend answered a best-effort lookup.
type Source int

const (
	// SourceAPI means the Data API answered.
	SourceAPI Source = iota
	// SourceRSS means the API failed and the RSS feed answered. RSS
	// only lists the newest 15 uploads, so counts are degraded.
	SourceRSS
	// SourceNone means every backend failed; the value is a zero
	// default.
	SourceNone
)

func (s Source) String() string {
	switch s {
	case SourceAPI:
		return "api"
	case SourceRSS:
		return "rss"
	default:
		return "none"
	}
}

// MarshalText renders the source by name in JSON responses.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (s *Source) UnmarshalText(text []byte) error {
	switch string(text) {
	case "api":
		*s = SourceAPI
	case "rss":
		*s = SourceRSS
	case "none", "":
		*s = SourceNone
	default:
		return fmt.Errorf("youtube: unknown source %q", text)
	}
	return nil
}

// Degraded reports whether the answer came from a fallback.
func (s Source) Degraded() bool {
	return s != SourceAPI
}

// CountResult is the outcome of a video count lookup.
type CountResult struct {
	Count  int64
	Source Source
	// Err is the API error that forced the fallback, if any.
	Err error
}

// Lister is one backend able to answer channel questions.
type Lister interface {
	VideoCount(ctx context.Context, channelID string) (int64, error)
	LatestVideos(ctx context.Context, channelID string, n int) ([]VideoInfo, error)
}

// ChannelSource answers channel questions from the Data API and falls
// back to the RSS feed silently.
type ChannelSource struct {
	API Lister
	RSS Lister
}

// NewChannelSource combines the two backends. api may be nil when no
// key is configured.
func NewChannelSource(api, rss Lister) *ChannelSource {
	return &ChannelSource{API: api, RSS: rss}
}

// VideoCount returns the channel's total uploads. A failing API call is
// not an error: the RSS count is returned with SourceRSS. Only when both
// fail is an error returned.
func (c *ChannelSource) VideoCount(ctx context.Context, channelID string) (CountResult, error) {
	apiErr := ErrNoAPIKey
	if c.API != nil {
		n, err := c.API.VideoCount(ctx, channelID)
		if err == nil {
			return CountResult{Count: n, Source: SourceAPI}, nil
		}
		if ctx.Err() != nil {
			return CountResult{Source: SourceNone}, ctx.Err()
		}
		apiErr = err
		log.WithField("channel", channelID).Debugf("youtube: api count failed, using rss: %v", err)
	}
	if c.RSS == nil {
		return CountResult{Source: SourceNone, Err: apiErr}, apiErr
	}

	n, err := c.RSS.VideoCount(ctx, channelID)
	if err != nil {
		return CountResult{Source: SourceNone, Err: apiErr}, err
	}
	return CountResult{Count: n, Source: SourceRSS, Err: apiErr}, nil
}

// LatestVideos returns up to n newest uploads, newest first.
func (c *ChannelSource) LatestVideos(ctx context.Context, channelID string, n int) ([]VideoInfo, Source, error) {
	if n <= 0 {
		return nil, SourceNone, nil
	}
	apiErr := ErrNoAPIKey
	if c.API != nil {
		videos, err := c.API.LatestVideos(ctx, channelID, n)
		if err == nil {
			return videos, SourceAPI, nil
		}
		if ctx.Err() != nil {
			return nil, SourceNone, ctx.Err()
		}
		apiErr = err
		log.WithField("channel", channelID).Warnf("youtube: api search failed, using rss: %v", err)
	}
	if c.RSS == nil {
		return nil, SourceNone, apiErr
	}
	videos, err := c.RSS.LatestVideos(ctx, channelID, n)
	if err != nil {
		return nil, SourceNone, err
	}
	return videos, SourceRSS, nil
}
