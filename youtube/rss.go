package youtube

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"time"

	yhttp "ytrelay/http"
)

const rssFeedURL = "https://www.youtube.com/feeds/videos.xml"

// RSSSource reads a channel's Atom feed. The feed only carries the 15
// newest uploads, so counts derived from it are a lower bound.
type RSSSource struct {
	client  *yhttp.Client
	baseURL string
}

// NewRSSSource creates an RSS reader on top of the shared HTTP client.
func NewRSSSource(client *yhttp.Client) *RSSSource {
	if client == nil {
		client = yhttp.New(nil)
	}
	return &RSSSource{client: client, baseURL: rssFeedURL}
}

// WithBaseURL points the reader at another feed endpoint.
func (r *RSSSource) WithBaseURL(u string) *RSSSource {
	r.baseURL = u
	return r
}

// VideoCount returns the number of entries in the feed.
func (r *RSSSource) VideoCount(ctx context.Context, channelID string) (int64, error) {
	feed, err := r.fetch(ctx, channelID)
	if err != nil {
		return 0, err
	}
	return int64(len(feed.Entries)), nil
}

// LatestVideos returns the first n feed entries, newest first.
func (r *RSSSource) LatestVideos(ctx context.Context, channelID string, n int) ([]VideoInfo, error) {
	feed, err := r.fetch(ctx, channelID)
	if err != nil {
		return nil, err
	}
	videos := feedToVideoInfo(feed)
	if n > 0 && len(videos) > n {
		videos = videos[:n]
	}
	return videos, nil
}

// Title returns the feed's channel name, used when the API is
// unavailable.
func (r *RSSSource) Title(ctx context.Context, channelID string) (string, error) {
	feed, err := r.fetch(ctx, channelID)
	if err != nil {
		return "", err
	}
	if feed.Author.Name != "" {
		return feed.Author.Name, nil
	}
	return feed.Title, nil
}

func (r *RSSSource) fetch(ctx context.Context, channelID string) (*atomFeed, error) {
	if !channelIDRegex.MatchString(channelID) {
		return nil, fmt.Errorf("%w: %q is not a channel id", ErrInvalidURL, channelID)
	}

	feedURL := r.baseURL + "?channel_id=" + url.QueryEscape(channelID)
	resp, err := r.client.Get(ctx, feedURL)
	if err != nil {
		switch yhttp.StatusCode(err) {
		case 404:
			return nil, fmt.Errorf("youtube: rss %s: %w", channelID, ErrChannelNotFound)
		case 429:
			return nil, fmt.Errorf("youtube: rss %s: %w", channelID, ErrRateLimited)
		}
		return nil, fmt.Errorf("youtube: rss %s: %w", channelID, err)
	}

	feed, err := parseAtomFeed(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("youtube: rss %s: %w", channelID, err)
	}
	return feed, nil
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Author  atomAuthor  `xml:"author"`
	Entries []atomEntry `xml:"entry"`
}

type atomAuthor struct {
	Name string `xml:"name"`
	URI  string `xml:"uri"`
}

type atomEntry struct {
	VideoID   string        `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	Title     string        `xml:"title"`
	Published time.Time     `xml:"published"`
	Thumbnail atomThumbnail `xml:"group>thumbnail"`
}

type atomThumbnail struct {
	URL string `xml:"url,attr"`
}

var errEmptyFeed = errors.New("empty feed document")

func parseAtomFeed(data []byte) (*atomFeed, error) {
	if len(data) == 0 {
		return nil, errEmptyFeed
	}
	var feed atomFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("parse atom feed: %w", err)
	}
	return &feed, nil
}

func feedToVideoInfo(feed *atomFeed) []VideoInfo {
	videos := make([]VideoInfo, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		thumb := entry.Thumbnail.URL
		if thumb == "" && entry.VideoID != "" {
			thumb = "https://i.ytimg.com/vi/" + entry.VideoID + "/mqdefault.jpg"
		}
		videos = append(videos, VideoInfo{
			ID:        entry.VideoID,
			Title:     entry.Title,
			Published: entry.Published,
			Thumbnail: thumb,
		})
	}
	return videos
}

var _ Lister = (*RSSSource)(nil)
