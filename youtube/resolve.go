package youtube

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	yhttp "ytrelay/http"
)

// channelIDRegex matches YouTube channel IDs (UC followed by 22 base64 chars).
var channelIDRegex = regexp.MustCompile(`^UC[a-zA-Z0-9_-]{22}$`)

var (
	channelPathRegex = regexp.MustCompile(`youtube\.com/channel/(UC[a-zA-Z0-9_-]{22})`)
	pageChannelRegex = regexp.MustCompile(`"(?:channelId|externalId)":"(UC[a-zA-Z0-9_-]{22})"`)
)

// IsChannelID reports whether s is a bare channel ID.
func IsChannelID(s string) bool {
	return channelIDRegex.MatchString(s)
}

// ResolveChannelID turns a channel ID, a /channel/ URL, an @handle or a
// /c/ or /user/ URL into a channel ID. Handles and custom URLs are
// resolved by reading the channel page.
func ResolveChannelID(ctx context.Context, client *yhttp.Client, input string) (string, error) {
	input = strings.TrimSpace(input)
	if IsChannelID(input) {
		return input, nil
	}
	if m := channelPathRegex.FindStringSubmatch(input); m != nil {
		return m[1], nil
	}

	var page string
	switch {
	case strings.HasPrefix(input, "@"):
		page = "https://www.youtube.com/" + input
	case strings.Contains(input, "youtube.com/@"),
		strings.Contains(input, "youtube.com/c/"),
		strings.Contains(input, "youtube.com/user/"):
		page = input
		if !strings.HasPrefix(page, "http") {
			page = "https://" + page
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, input)
	}

	if client == nil {
		client = yhttp.New(nil)
	}
	resp, err := client.Get(ctx, page)
	if err != nil {
		if yhttp.StatusCode(err) == 404 {
			return "", fmt.Errorf("%w: %s", ErrChannelNotFound, input)
		}
		return "", fmt.Errorf("youtube: resolve %s: %w", input, err)
	}
	m := pageChannelRegex.FindSubmatch(resp.Body)
	if m == nil {
		return "", fmt.Errorf("%w: no channel id on %s", ErrChannelNotFound, page)
	}
	return string(m[1]), nil
}

// ChannelDetails looks up everything shown when a channel is added:
// display details from the API when available, the newest three uploads
// from the feed. Missing pieces get defaults instead of failing.
func (c *ChannelSource) ChannelDetails(ctx context.Context, channelID string) *ChannelInfo {
	info := &ChannelInfo{
		ID:          channelID,
		Name:        "Unknown Channel",
		LogoURL:     DefaultLogoURL,
		Subscribers: "Unknown",
		Source:      SourceNone,
	}

	if api, ok := c.API.(*APISource); ok && api != nil {
		if got, err := api.ChannelInfo(ctx, channelID); err == nil {
			info = got
		}
	}
	if info.Source != SourceAPI {
		if count, err := c.VideoCount(ctx, channelID); err == nil {
			info.VideoCount = count.Count
			info.Source = count.Source
		}
		if rss, ok := c.RSS.(*RSSSource); ok && rss != nil {
			if title, err := rss.Title(ctx, channelID); err == nil && title != "" {
				info.Name = title
			}
		}
	}

	if c.RSS != nil {
		if videos, err := c.RSS.LatestVideos(ctx, channelID, 3); err == nil {
			info.LatestVideos = videos
		}
	}
	return info
}
