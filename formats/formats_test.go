package formats

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func youtubeCandidates() []Candidate {
	return []Candidate{
		{FormatID: "137", Height: 1080, Width: 1920, TBR: 20000, VCodec: "avc1.640028", Ext: "mp4"},
		{FormatID: "248", Height: 1080, Width: 1920, TBR: 25000, VCodec: "vp9", Ext: "webm"},
		{FormatID: "22", Height: 720, Width: 1280, TBR: 4000, FileSize: 50 * 1024 * 1024, VCodec: "avc1.64001F", Ext: "mp4"},
		{FormatID: "18", Height: 480, Width: 854, TBR: 1500, VCodec: "avc1.42001E", Ext: "mp4"},
		{FormatID: "140", VCodec: "none", ACodec: "mp4a.40.2", Ext: "m4a", TBR: 128},
	}
}

func TestParseCandidates(t *testing.T) {
	raw := map[string]any{
		"formats": []any{
			map[string]any{"format_id": "22", "height": 720.0, "vbr": 2000.0, "filesize_approx": 1000.0, "ext": "mp4", "vcodec": "avc1"},
			map[string]any{"format_id": "hls-1", "height": "oops", "tbr": -5.0, "filesize": nil},
			"not a map",
			map[string]any{"format_id": 137.0, "tbr": 100.0, "vbr": 50.0, "filesize": 10.0, "filesize_approx": 20.0},
		},
	}
	got := ParseCandidates(raw)
	require.Len(t, got, 3)

	assert.Equal(t, Candidate{FormatID: "22", Height: 720, TBR: 2000, FileSize: 1000, Ext: "mp4", VCodec: "avc1"}, got[0])
	assert.Equal(t, "hls-1", got[1].FormatID)
	assert.Zero(t, got[1].Height)
	assert.Zero(t, got[1].TBR)
	assert.Equal(t, "137", got[2].FormatID)
	assert.Equal(t, 100.0, got[2].TBR, "tbr wins over vbr")
	assert.Equal(t, int64(10), got[2].FileSize, "filesize wins over approximation")

	assert.Empty(t, ParseCandidates(map[string]any{}))
	assert.Empty(t, ParseCandidates(map[string]any{"formats": "nope"}))
}

func TestSelect(t *testing.T) {
	cands := youtubeCandidates()
	tests := []struct {
		expr   string
		wantID string
		ok     bool
	}{
		{"best[height>=720][height<=1080][ext=mp4]/best[height>=720][ext=mp4]/best[height>=720]/best[ext=mp4]/best", "137", true},
		{"best[height>=1440][ext=mp4]/best[height>=1080][ext=mp4]/best", "137", true},
		{"best[height>=1440]/worst[ext=mp4]", "18", true},
		{"best[ext=webm]", "248", true},
		{"best[vcodec^=avc1][height<1080]", "22", true},
		{"best[vcodec*=mp4a]/best[acodec*=mp4a]", "140", true},
		{"best[filesize<60M]", "22", true},
		{"best[filesize>1G]", "", false},
		{"best[filesize<?1K][height=1080][ext=mp4]", "137", true},
		{"22", "22", true},
		{"999/18", "18", true},
		{"best", "248", true},
		{"worst", "140", true},
		{"best[bogus", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, ok := Select(tt.expr, cands)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.wantID, got.FormatID)
		})
	}
}

func TestResolve(t *testing.T) {
	cands := youtubeCandidates()
	tests := []struct {
		requested string
		want      string
		stale     bool
	}{
		{"", "best", false},
		{"22", "22", false},
		{"399", "best", true},
		{"best[height<=720]", "best[height<=720]", false},
		{"worst", "worst", false},
	}
	for _, tt := range tests {
		got, stale := Resolve(tt.requested, cands)
		assert.Equal(t, tt.want, got, tt.requested)
		assert.Equal(t, tt.stale, stale, tt.requested)
	}
}

func TestRankYouTubeScenario(t *testing.T) {
	p := DefaultPolicy()
	qualities := Rank(youtubeCandidates(), 300, p)

	require.Len(t, qualities, 3)
	assert.Equal(t, []int{1080, 720, 480}, []int{qualities[0].Height, qualities[1].Height, qualities[2].Height})
	assert.Equal(t, "137", qualities[0].FormatID, "mp4/avc1 beats webm/vp9 at 1080")
	assert.Equal(t, "50.0 MB", qualities[1].Size)
	assert.Equal(t, "~732 MB", qualities[0].Size)

	byScore := Recommended(qualities)
	assert.Equal(t, 720, byScore[0].Height)
	assert.Greater(t, qualities[1].Score, qualities[0].Score, "720 near target with size outranks the 1080 bitrate outlier")

	// The declarative chain for the same list stays within 1080 mp4.
	c, ok := Select("best[height>=720][height<=1080][ext=mp4]/best", youtubeCandidates())
	require.True(t, ok)
	assert.LessOrEqual(t, c.Height, 1080)
	assert.Equal(t, "mp4", c.Ext)
}

func TestScore(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name string
		c    Candidate
		dur  float64
		want int
	}{
		{"nothing known", Candidate{Height: 720}, 60, 0},
		{"size only", Candidate{Height: 720, FileSize: 30 * 1024 * 1024}, 60, 10000 - 30},
		{"size unknown duration", Candidate{Height: 720, FileSize: 30 * 1024 * 1024}, 0, 10000 - 10},
		{"tbr at target", Candidate{Height: 1080, TBR: 6000}, 60, 5000 + 2000 + 30},
		{"tbr far above", Candidate{Height: 1080, TBR: 16000}, 60, 5000 - 100},
		{"default target", Candidate{Height: 900, TBR: 5000}, 60, 5000 + 2000 + 25},
		{"mp4 h264", Candidate{Height: 720, Ext: "mp4", VCodec: "H264"}, 60, 700},
		{"vp9", Candidate{Height: 720, VCodec: "vp09.00"}, 60, 0},
		{"vp9 plain", Candidate{Height: 720, VCodec: "vp9"}, 60, 150},
		{"av1", Candidate{Height: 720, VCodec: "av01.0.05M.08"}, 60, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Score(tt.c, tt.dur))
		})
	}
}

func TestScoreFileSizeDominates(t *testing.T) {
	p := DefaultPolicy()
	withSize := Candidate{Height: 1080, FileSize: 100 * 1024 * 1024}
	for _, tbr := range []float64{1000, 6000, 9000} {
		best := Candidate{Height: 1080, TBR: tbr, Ext: "mp4", VCodec: "avc1"}
		assert.Greater(t, p.Score(withSize, 600), p.Score(best, 600), fmt.Sprint(tbr))
	}
}

func TestSizeString(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name string
		c    Candidate
		dur  float64
		want string
	}{
		{"exact KB", Candidate{FileSize: 512 * 1024}, 0, "512.0 KB"},
		{"exact MB", Candidate{FileSize: 15*1024*1024 + 512*1024}, 0, "15.5 MB"},
		{"exact GB", Candidate{FileSize: 3 * 1024 * 1024 * 1024}, 0, "3.0 GB"},
		{"tbr estimate", Candidate{TBR: 8192}, 60, "~60 MB"},
		{"tbr estimate KB", Candidate{TBR: 8}, 60, "~60 KB"},
		{"tbr estimate GB", Candidate{TBR: 8192}, 60 * 60, "~3.5 GB"},
		{"table estimate", Candidate{Height: 1080}, 0, "~176 MB"},
		{"closest height", Candidate{Height: 250}, 16, "~1000 KB"},
		{"nothing", Candidate{}, 0, "~Auto"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.SizeString(tt.c, tt.dur))
		})
	}
}

func TestRankWithoutVideoFormats(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 12; i++ {
		cands = append(cands, Candidate{FormatID: fmt.Sprintf("a%d", i), VCodec: "none", TBR: float64(i)})
	}
	cands[0].FileSize = 2 * 1024 * 1024

	got := Rank(cands, 100, DefaultPolicy())
	require.Len(t, got, 10)
	assert.Equal(t, "a11", got[0].FormatID)
	assert.Equal(t, "Audio Only", got[0].Label)
	assert.Equal(t, "~Auto", got[0].Size)
	assert.Equal(t, 30.0, got[0].FPS)
	assert.Equal(t, "mp4", got[0].Ext)

	got = Rank([]Candidate{{FormatID: "x", VCodec: "none", FileSize: 2 * 1024 * 1024}}, 0, DefaultPolicy())
	assert.Equal(t, "2.0 MB", got[0].Size)
}

func TestRankFallback(t *testing.T) {
	got := Rank(nil, 0, DefaultPolicy())
	assert.Equal(t, Fallback(), got)
	assert.Equal(t, "Best Available", got[0].Label)
	assert.Equal(t, "~Auto", got[0].Size)
}

func TestPolicyFromConfig(t *testing.T) {
	p, err := PolicyFromConfig(map[string]int{"1080": 7000}, map[string]int{"4320": 80000})
	require.NoError(t, err)
	assert.Equal(t, 7000.0, p.Target(1080))
	assert.Equal(t, 4000.0, p.Target(720))
	assert.Equal(t, 5000.0, p.Target(1))
	assert.Equal(t, 80000.0, p.EstimateBitrate(4000))

	_, err = PolicyFromConfig(map[string]int{"tall": 1}, nil)
	assert.Error(t, err)
	_, err = PolicyFromConfig(nil, map[string]int{"720": 0})
	assert.Error(t, err)
}

func TestEstimateBitrateClosest(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 8000.0, p.EstimateBitrate(1000))
	assert.Equal(t, 500.0, p.EstimateBitrate(144))
	assert.Equal(t, 25000.0, p.EstimateBitrate(4320))
	assert.Equal(t, 500.0, p.EstimateBitrate(300), "tie goes to the lower height")
}

func TestGuard(t *testing.T) {
	limit := int64(300 * 1024 * 1024)
	assert.NoError(t, Guard(Candidate{FileSize: limit}, limit))
	assert.NoError(t, Guard(Candidate{}, limit))
	assert.NoError(t, Guard(Candidate{FileSize: limit + 1}, 0))

	err := Guard(Candidate{FileSize: 350 * 1024 * 1024}, limit)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.Equal(t, "file size 350.0 MB exceeds limit 300.0 MB", err.Error())

	var tooLarge *TooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, limit, tooLarge.Limit)
}
