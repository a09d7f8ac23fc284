package http

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{FeedRPS: 10.0})
	ctx := context.Background()
	url := "https://www.youtube.com/feeds/videos.xml?channel_id=UC1"

	require.NoError(t, rl.Wait(ctx, url))
	start := time.Now()
	require.NoError(t, rl.Wait(ctx, url))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "second request should wait ~100ms")
}

func TestRateLimiterContextCanceled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{FeedRPS: 1.0})
	ctx, cancel := context.WithCancel(context.Background())
	url := "https://www.youtube.com/feeds/videos.xml"

	require.NoError(t, rl.Wait(ctx, url))
	cancel()
	assert.Error(t, rl.Wait(ctx, url))
}

func TestRateLimiterUnlimitedDomain(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})
	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, rl.Wait(context.Background(), "https://cdn.example.com/a.mp4"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.googleapis.com/youtube/v3/channels", "www.googleapis.com"},
		{"http://127.0.0.1:8080/x", "127.0.0.1"},
		{"not a url", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractDomain(tt.url), tt.url)
	}
}

func TestRateLimiterGetRPS(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.CustomRates["vimeo.com"] = 1.5
	rl := NewRateLimiter(cfg)

	tests := map[string]float64{
		"www.googleapis.com": cfg.DataAPIRPS,
		"www.youtube.com":    cfg.FeedRPS,
		"vimeo.com":          1.5,
		"example.org":        cfg.DefaultRPS,
	}
	for domain, want := range tests {
		assert.Equal(t, want, rl.getRPS(domain), domain)
	}
}

func TestSetCustomRate(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{DefaultRPS: 100})
	url := "https://vimeo.com/76979871"
	require.NoError(t, rl.Wait(context.Background(), url))
	live := rl.limiters["vimeo.com"]
	require.NotNil(t, live)

	rl.SetCustomRate("vimeo.com", 2)
	assert.Same(t, live, rl.limiters["vimeo.com"], "live limiter is retuned, not replaced")
	assert.Equal(t, rate.Limit(2), live.Limit())
	assert.Equal(t, 2.0, rl.getRPS("vimeo.com"))

	rl.SetCustomRate("dailymotion.com", 3)
	assert.NotContains(t, rl.limiters, "dailymotion.com")
	assert.Equal(t, 3.0, rl.getRPS("dailymotion.com"))

	rl.SetCustomRate("vimeo.com", 0)
	assert.NotContains(t, rl.limiters, "vimeo.com")
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Wait(context.Background(), url))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond, "rate 0 means unlimited")
}

func TestPaceKeepsSpacingAcrossCalls(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})
	ctx := context.Background()
	url := "https://www.instagram.com/p/x"

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Pace(ctx, url, 100*time.Millisecond))
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	start = time.Now()
	require.NoError(t, rl.Pace(ctx, "https://other.example/a", 100*time.Millisecond))
	require.NoError(t, rl.Pace(ctx, "https://third.example/a", 100*time.Millisecond))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "hosts are paced independently")

	assert.NoError(t, rl.Pace(ctx, url, 0))
	var nilLimiter *RateLimiter
	assert.NoError(t, nilLimiter.Pace(ctx, url, time.Second))
}

func TestRateLimiterRecordRateLimitError(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	url := "https://www.googleapis.com/youtube/v3/search"
	require.NoError(t, rl.Wait(context.Background(), url))

	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		assert.Equal(t, want, rl.RecordRateLimitError(url, 0), "error %d", i+1)
	}

	state := rl.GetBackoffState(url)
	require.NotNil(t, state)
	assert.Equal(t, state.OriginalRPS*MinRPSMultiplier, state.ReducedRPS)
	assert.True(t, rl.IsBackedOff(url), "backed off right after an error")
}

func TestRateLimiterRetryAfterRespected(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	assert.Equal(t, 30*time.Second, rl.RecordRateLimitError("https://example.com", 30*time.Second))
}

func TestRateLimiterRecordSuccessRecovers(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	url := "https://example.com/x"
	rl.RecordRateLimitError(url, 0)
	rl.RecordSuccess(url)

	state := rl.GetBackoffState(url)
	require.NotNil(t, state)
	assert.Zero(t, state.ConsecutiveErrors)
	assert.Equal(t, state.OriginalRPS*0.75, state.ReducedRPS, "75% kept until half recovers")
}

func TestRateLimiterDisabledDynamicBackoff(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.EnableDynamicBackoff = false
	rl := NewRateLimiter(cfg)

	assert.Equal(t, InitialBackoff, rl.RecordRateLimitError("https://example.com", 0))
	assert.Nil(t, rl.GetBackoffState("https://example.com"))
}

func TestWaitForBackoffCancelled(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.RecordRateLimitError("https://example.com", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, rl.WaitForBackoff(ctx, "https://example.com"))
}
