package metadata

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytrelay/platform"
)

func TestNormalizeDefaults(t *testing.T) {
	raw := map[string]any{
		"title":       nil,
		"description": 42.0,
		"uploader":    []any{"x"},
		"duration":    "abc",
		"view_count":  map[string]any{},
		"tags":        "not-a-list",
	}
	md := Normalize(raw, "https://youtu.be/x", platform.YouTube)

	assert.Equal(t, DefaultTitle, md.Title)
	assert.Equal(t, "42", md.Description)
	assert.Equal(t, DefaultUploader, md.Uploader)
	assert.Equal(t, 0, md.DurationSeconds)
	assert.Equal(t, "0:00", md.Duration)
	assert.Equal(t, int64(0), md.ViewCount)
	assert.Equal(t, "0", md.Views)
	assert.Equal(t, []string{}, md.Tags)
	assert.Equal(t, platform.YouTube, md.Platform)
	assert.Equal(t, "https://youtu.be/x", md.URL)

	empty := Normalize(nil, "", platform.Unknown)
	assert.Equal(t, DefaultTitle, empty.Title)
	assert.Equal(t, DefaultDescription, empty.Description)
}

func TestNormalizeYouTube(t *testing.T) {
	raw := map[string]any{
		"title":       "Line one\nline two\\",
		"description": "Great video\n\n**Resolution:** 1920x1080\n**Format:** MP4",
		"uploader":    "Chan",
		"duration":    3725.6,
		"view_count":  2300000.0,
		"thumbnail":   "https://i.ytimg.com/x.jpg",
		"upload_date": "20240102",
		"tags":        []any{"go", 3.0, "", "music\n"},
	}
	md := Normalize(raw, "u", platform.YouTube)

	assert.Equal(t, "Line one line two", md.Title)
	assert.Equal(t, "Great video", md.Description)
	assert.Equal(t, md.Description, md.EnhancedDescription)
	assert.Equal(t, 3725, md.DurationSeconds)
	assert.Equal(t, "1:02:05", md.Duration)
	assert.Equal(t, "2.3M", md.Views)
	assert.Equal(t, []string{"go", "music"}, md.Tags)
	assert.Equal(t, "20240102", md.UploadDate)
}

func TestNormalizeIsPure(t *testing.T) {
	raw := map[string]any{
		"title":       "#one\ttitle",
		"description": "Hello #world from the vimeo uploader",
		"duration":    61.0,
		"formats": []any{
			map[string]any{"format_id": "a", "height": 720.0, "width": 1280.0, "vcodec": "avc1", "ext": "mp4"},
		},
	}
	a := Normalize(raw, "u", platform.Vimeo)
	b := Normalize(raw, "u", platform.Vimeo)
	assert.Equal(t, a, b)
}

func TestNormalizeEnhancedDescription(t *testing.T) {
	raw := map[string]any{
		"description": "About this clip",
		"fps":         30.0,
		"filesize":    float64(15 * 1024 * 1024),
		"formats": []any{
			map[string]any{"format_id": "lo", "height": 360.0, "width": 640.0, "vcodec": "avc1", "acodec": "mp4a", "ext": "mp4"},
			map[string]any{"format_id": "hi", "height": 1080.0, "width": 1920.0, "vcodec": "avc1.640028", "acodec": "none", "ext": "mp4"},
		},
	}
	md := Normalize(raw, "u", platform.Rumble)

	assert.Equal(t, Technical{
		Resolution: "1920x1080",
		VideoCodec: "avc1.640028",
		FPS:        "30 FPS",
		FileSize:   "15 MB",
		Container:  "MP4",
	}, md.Technical)
	assert.Equal(t, "About this clip", md.Description)
	assert.Equal(t, "About this clip\n\n--- **Technical Details** ---\n"+
		"**Resolution:** 1920x1080\n**File Size:** 15 MB\n**Format:** MP4\n**Frame Rate:** 30 FPS\n**Video Codec:** avc1.640028",
		md.EnhancedDescription)

	// Cleaning the enhanced variant gives back the plain description.
	assert.Equal(t, md.Description, CleanTechnicalDetails(md.EnhancedDescription))
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"newlines", "a\nb\r\nc", "a b c"},
		{"control", "a\x00b\x1fc\x7fd\u0085e", "abcde"},
		{"tabs dropped", "a\tb", "ab"},
		{"backslashes", `C:\path\to`, "C:pathto"},
		{"trim", "  padded \n", "padded"},
		{"unicode kept", "héllo wörld ✓", "héllo wörld ✓"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitizeTruncates(t *testing.T) {
	long := strings.Repeat("é", MaxTextLength+10)
	got := Sanitize(long)
	assert.Equal(t, MaxTextLength+3, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))

	exact := strings.Repeat("x", MaxTextLength)
	assert.Equal(t, exact, Sanitize(exact))
}

func TestCleanTechnicalDetails(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", DefaultDescription},
		{"only whitespace", " \n ", DefaultDescription},
		{"plain", "Just text", "Just text"},
		{
			"block then text",
			"Intro\n\n--- **Technical Details** ---\n**Resolution:** 1x1\n**FPS:** 30\n\nOutro",
			"Intro\n\nOutro",
		},
		{"block at end", "Intro\n\n--- **Technical Details** ---\n**Format:** MP4", "Intro"},
		{"label lines", "A\n**Video Codec:** h264\n**Sample Rate:** 44100 Hz\nB", "A\n\nB"},
		{"only labels", "**File Size:** 3 MB\n**Total Bitrate:** 900 kbps", DefaultDescription},
		{"unknown label kept", "**Director:** Someone", "**Director:** Someone"},
		{"collapses blank runs", "A\n\n\n\n\nB", "A\n\nB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanTechnicalDetails(tt.in))
		})
	}
}

func TestTags(t *testing.T) {
	many := strings.Repeat("#t ", 12)
	tests := []struct {
		name  string
		id    platform.ID
		raw   map[string]any
		title string
		desc  string
		want  []string
	}{
		{"youtube provider tags", platform.YouTube, map[string]any{"tags": []any{"a", "b"}}, "#x", "#y", []string{"a", "b"}},
		{"youtube without tags", platform.YouTube, nil, "", "", []string{}},
		{"instagram description only", platform.Instagram, nil, "#intitle", "love #sun and #sea_side", []string{"sun", "sea_side"}},
		{"instagram cap", platform.Instagram, nil, "", many, []string{"t", "t", "t", "t", "t", "t", "t", "t", "t", "t"}},
		{"twitter title too", platform.Twitter, nil, "#breaking", "#news", []string{"news", "breaking"}},
		{"facebook cap", platform.Facebook, nil, "", many, []string{"t", "t", "t", "t", "t", "t", "t", "t"}},
		{"unicode hashtag", platform.Twitter, nil, "", "#café", []string{"café"}},
		{"keywords", platform.Vimeo, nil, "The Amazing Trip", "trip to the mountains with a dog", []string{"amazing", "trip", "mountains", "dog"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tags(tt.id, tt.raw, tt.title, tt.desc))
		})
	}
}

func TestKeywordsLimit(t *testing.T) {
	words := "alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima"
	got := Keywords(words, 10)
	require.Len(t, got, 10)
	assert.Equal(t, "alpha", got[0])
	assert.Equal(t, "juliet", got[9])
	assert.Empty(t, Keywords("a an to of", 10))
}

func TestFormatDuration(t *testing.T) {
	tests := map[int]string{
		-5:    "0:00",
		0:     "0:00",
		5:     "0:05",
		65:    "1:05",
		600:   "10:00",
		3600:  "1:00:00",
		3725:  "1:02:05",
		36000: "10:00:00",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatDuration(in), in)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[int64]string{
		0:          "0",
		-3:         "0",
		999:        "999",
		1000:       "1.0K",
		1500:       "1.5K",
		999999:     "1000.0K",
		2300000:    "2.3M",
		1000000000: "1.0B",
		4560000000: "4.6B",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatNumber(in), in)
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "0s", FormatTime(-1))
	assert.Equal(t, "42s", FormatTime(42.9))
	assert.Equal(t, "3m 5s", FormatTime(185))
	assert.Equal(t, "1h 2m", FormatTime(3725))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0 B", FormatBytes(0))
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KiB", FormatBytes(1536))
	assert.Equal(t, "10 MiB", FormatBytes(10*1024*1024))
	assert.Equal(t, "2.0 MiB/s", FormatSpeed(2*1024*1024+10))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg       string
		kind      Kind
		sentinel  error
		retryable bool
	}{
		{"HTTP Error 429: Too Many Requests", KindRateLimited, ErrRateLimited, true},
		{"ERROR: [instagram] Restricted Video: you must be 18", KindAccessRestricted, ErrAccessRestricted, false},
		{"This video is not available in your country", KindAccessRestricted, ErrAccessRestricted, false},
		{"Sign in to confirm you’re not a bot", KindAuthRequired, ErrAuthRequired, false},
		{"unsupported URL\nsecond line", KindGeneric, ErrExtraction, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			cause := errors.New(tt.msg)
			ee := ClassifyError(platform.Instagram, cause)

			assert.Equal(t, tt.kind, ee.Kind)
			assert.Equal(t, tt.retryable, ee.Retryable())
			assert.True(t, errors.Is(ee, tt.sentinel))
			assert.True(t, errors.Is(ee, ErrExtraction))
			assert.True(t, errors.Is(ee, cause))
			assert.NotContains(t, ee.Message, "\n")
		})
	}

	ee := ClassifyError(platform.Vimeo, errors.New("boom"))
	assert.Equal(t, "failed to extract metadata from Vimeo: boom", ee.Error())
	assert.Same(t, ee, ClassifyError(platform.YouTube, ee), "already classified")
	assert.False(t, errors.Is(ee, ErrRateLimited))
}

func TestDirectTitle(t *testing.T) {
	tests := []struct {
		url, disposition string
		title, ext       string
	}{
		{"https://cdn.example.com/media/my_holiday-clip.mp4", "", "my holiday clip", "MP4"},
		{"https://cdn.example.com/media/Big%20File.webm?x=1", "", "Big File", "WEBM"},
		{"https://cdn.example.com/stream", "", "stream", ""},
		{"https://cdn.example.com/x.mp4", `attachment; filename="Launch_Day.mov"`, "Launch Day", "MOV"},
		{"https://cdn.example.com/", "", "Direct Video Download", ""},
	}
	for _, tt := range tests {
		title, ext := DirectTitle(tt.url, tt.disposition)
		assert.Equal(t, tt.title, title, tt.url)
		assert.Equal(t, tt.ext, ext, tt.url)
	}
	assert.Equal(t, "WEBM", ContainerFromType("video/webm"))
	assert.Equal(t, "VIDEO", ContainerFromType("application/vnd.apple.mpegurl"))
}

func TestCache(t *testing.T) {
	c := NewCache(time.Minute)
	_, ok := c.Get("u")
	assert.False(t, ok)

	calls := 0
	load := func(context.Context) (Entry, error) {
		calls++
		return Entry{Metadata: &Metadata{Title: "t"}}, nil
	}
	e, err := c.GetOrLoad(context.Background(), "u", load)
	require.NoError(t, err)
	assert.Equal(t, "t", e.Metadata.Title)
	_, err = c.GetOrLoad(context.Background(), "u", load)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, c.Len())

	_, err = c.GetOrLoad(context.Background(), "bad", func(context.Context) (Entry, error) {
		return Entry{}, errors.New("nope")
	})
	assert.Error(t, err)
	_, ok = c.Get("bad")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(20 * time.Millisecond)
	c.Set("u", Entry{})
	_, ok := c.Get("u")
	require.True(t, ok)
	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("u")
	assert.False(t, ok)
}
