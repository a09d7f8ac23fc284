// Package formats parses the format lists reported by the extraction tool,
// evaluates format selector expressions, ranks qualities for display and
// enforces the download size ceiling.
package formats

import (
	"strconv"
	"strings"
)

// Candidate is one downloadable format of a video.
type Candidate struct {
	FormatID string  `json:"format_id"`
	Height   int     `json:"height,omitempty"`
	Width    int     `json:"width,omitempty"`
	FPS      float64 `json:"fps,omitempty"`
	// TBR is the total bitrate in kbps, falling back to the video bitrate.
	TBR float64 `json:"tbr,omitempty"`
	// FileSize is exact when known, else the tool's approximation.
	FileSize int64  `json:"filesize,omitempty"`
	VCodec   string `json:"vcodec,omitempty"`
	ACodec   string `json:"acodec,omitempty"`
	Ext      string `json:"ext,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Note     string `json:"format_note,omitempty"`
}

// IsVideo reports whether c carries a video stream.
func (c Candidate) IsVideo() bool {
	return c.Height > 0 && c.VCodec != "none"
}

// ParseCandidates reads the "formats" array of a raw extraction record.
// Malformed entries and fields are skipped rather than rejected.
func ParseCandidates(raw map[string]any) []Candidate {
	list, _ := raw["formats"].([]any)
	out := make([]Candidate, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := Candidate{
			FormatID: str(m["format_id"]),
			Height:   int(num(m["height"])),
			Width:    int(num(m["width"])),
			FPS:      num(m["fps"]),
			TBR:      num(m["tbr"]),
			FileSize: int64(num(m["filesize"])),
			VCodec:   str(m["vcodec"]),
			ACodec:   str(m["acodec"]),
			Ext:      str(m["ext"]),
			Protocol: str(m["protocol"]),
			Note:     str(m["format_note"]),
		}
		if c.TBR <= 0 {
			c.TBR = num(m["vbr"])
		}
		if c.FileSize <= 0 {
			c.FileSize = int64(num(m["filesize_approx"]))
		}
		out = append(out, c)
	}
	return out
}

// num converts a JSON number (or numeric string) to float64; anything
// else, including negatives, is 0.
func num(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	if f < 0 || f != f {
		return 0
	}
	return f
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
