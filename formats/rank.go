package formats

import (
	"fmt"
	"math"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Quality is one row of the quality listing.
type Quality struct {
	FormatID string  `json:"format_id"`
	Height   int     `json:"height"`
	Label    string  `json:"label"`
	Size     string  `json:"filesize"`
	FPS      float64 `json:"fps"`
	Ext      string  `json:"ext"`
	TBR      float64 `json:"tbr"`
	Protocol string  `json:"protocol"`
	Note     string  `json:"format_note"`
	Score    int     `json:"score"`
}

// Fallback is the listing used when nothing usable was reported.
func Fallback() []Quality {
	return []Quality{{FormatID: "best", Label: "Best Available", Size: "~Auto", FPS: 30, Ext: "mp4"}}
}

// Rank lists one representative format per video height, heights
// descending. Without video formats it lists the top ten formats of any
// kind; with no formats at all it returns Fallback().
func Rank(candidates []Candidate, duration float64, p Policy) []Quality {
	groups := make(map[int][]Candidate)
	for _, c := range candidates {
		if c.IsVideo() {
			groups[c.Height] = append(groups[c.Height], c)
		}
	}
	if len(groups) == 0 {
		return rankAny(candidates)
	}

	heights := make([]int, 0, len(groups))
	for h := range groups {
		heights = append(heights, h)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(heights)))

	out := make([]Quality, 0, len(heights))
	for _, h := range heights {
		group := groups[h]
		sort.SliceStable(group, func(i, j int) bool {
			return p.Score(group[i], duration) > p.Score(group[j], duration)
		})
		c := group[0]
		if len(group) > 1 {
			log.Debugf("formats: selected %dp format %s (tbr=%.0f, size=%d, score=%d) over %d alternatives",
				h, c.FormatID, c.TBR, c.FileSize, p.Score(c, duration), len(group)-1)
		}
		out = append(out, Quality{
			FormatID: c.FormatID,
			Height:   h,
			Label:    fmt.Sprintf("%dp", h),
			Size:     p.SizeString(c, duration),
			FPS:      orFloat(c.FPS, 30),
			Ext:      orString(c.Ext, "mp4"),
			TBR:      c.TBR,
			Protocol: orString(c.Protocol, "https"),
			Note:     c.Note,
			Score:    p.Score(c, duration),
		})
	}
	return out
}

func rankAny(candidates []Candidate) []Quality {
	var all []Candidate
	for _, c := range candidates {
		if c.FormatID != "" {
			all = append(all, c)
		}
	}
	if len(all) == 0 {
		return Fallback()
	}
	sort.SliceStable(all, func(i, j int) bool { return better(all[i], all[j]) })
	if len(all) > 10 {
		all = all[:10]
	}

	out := make([]Quality, 0, len(all))
	for _, c := range all {
		label := "Audio Only"
		if c.Height > 0 {
			label = fmt.Sprintf("%dp", c.Height)
		}
		size := "~Auto"
		if c.FileSize > 0 {
			size = formatMBGB(c.FileSize)
		}
		out = append(out, Quality{
			FormatID: c.FormatID,
			Height:   c.Height,
			Label:    label,
			Size:     size,
			FPS:      orFloat(c.FPS, 30),
			Ext:      orString(c.Ext, "mp4"),
			TBR:      c.TBR,
			Protocol: orString(c.Protocol, "https"),
			Note:     c.Note,
		})
	}
	return out
}

// Recommended returns qualities ordered by score, best first.
func Recommended(qualities []Quality) []Quality {
	out := append([]Quality(nil), qualities...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// SizeString renders the expected download size of c: exact when known,
// else "~" plus a bitrate x duration estimate, else "~" plus the table
// estimate for the height, else "~Auto".
func (p Policy) SizeString(c Candidate, duration float64) string {
	if c.FileSize > 0 {
		return FormatSize(c.FileSize)
	}
	if c.TBR > 0 && duration > 0 {
		return "~" + formatEstimateMB(c.TBR*duration/(8*1024))
	}
	if c.Height > 0 && len(p.Estimates) > 0 {
		d := duration
		if d <= 0 {
			d = p.DurationFallback
		}
		return "~" + formatEstimateMB(p.EstimateBitrate(c.Height)*d/(8*1024))
	}
	return "~Auto"
}

// EstimateSize returns the table estimate in bytes for height and duration.
func (p Policy) EstimateSize(height int, duration float64) int64 {
	if duration <= 0 {
		duration = p.DurationFallback
	}
	return int64(p.EstimateBitrate(height) * duration / 8 * 1024)
}

// FormatSize renders an exact byte count with one decimal: KB under 1 MiB,
// MB under 1 GiB, GB above.
func FormatSize(n int64) string {
	f := float64(n)
	switch {
	case f < 1024*1024:
		return fmt.Sprintf("%.1f KB", f/1024)
	case f < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", f/(1024*1024))
	default:
		return fmt.Sprintf("%.1f GB", f/(1024*1024*1024))
	}
}

func formatMBGB(n int64) string {
	f := float64(n)
	if f < 1024*1024*1024 {
		return fmt.Sprintf("%.1f MB", f/(1024*1024))
	}
	return fmt.Sprintf("%.1f GB", f/(1024*1024*1024))
}

// formatEstimateMB renders an estimate given in MiB.
func formatEstimateMB(mb float64) string {
	switch {
	case mb < 1:
		return fmt.Sprintf("%d KB", int(math.Round(mb*1024)))
	case mb < 1024:
		return fmt.Sprintf("%d MB", int(math.Round(mb)))
	default:
		return fmt.Sprintf("%.1f GB", mb/1024)
	}
}

func orFloat(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func lower(s string) string { return strings.ToLower(s) }

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
