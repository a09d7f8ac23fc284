// Package metadata turns the raw record reported by the extraction tool
// into a uniform, sanitised Metadata value.
package metadata

import (
	"math"
	"strconv"
	"strings"

	"ytrelay/formats"
	"ytrelay/platform"
)

// Defaults used when a field is missing or malformed.
const (
	DefaultTitle       = "Unknown title"
	DefaultDescription = "No description available"
	DefaultUploader    = "Unknown"
)

// Metadata is the normalised description of a source video.
type Metadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	// EnhancedDescription is Description plus a technical block on
	// platforms that expose one. Uploads use it in place of Description.
	EnhancedDescription string      `json:"enhanced_description"`
	Uploader            string      `json:"uploader"`
	DurationSeconds     int         `json:"duration_seconds"`
	Duration            string      `json:"duration"`
	ViewCount           int64       `json:"view_count"`
	Views               string      `json:"views"`
	Thumbnail           string      `json:"thumbnail"`
	Tags                []string    `json:"tags"`
	Platform            platform.ID `json:"platform"`
	URL                 string      `json:"url"`
	UploadDate          string      `json:"upload_date"`
	Technical           Technical   `json:"technical"`
}

// Technical holds stream details of the best format, as display strings.
type Technical struct {
	Resolution string `json:"resolution,omitempty"`
	VideoCodec string `json:"video_codec,omitempty"`
	AudioCodec string `json:"audio_codec,omitempty"`
	FPS        string `json:"fps,omitempty"`
	FileSize   string `json:"file_size,omitempty"`
	Container  string `json:"container,omitempty"`
}

// Normalize builds a Metadata record from raw. Each field is read on its
// own; a missing or mistyped field falls back to its default without
// affecting the others. The result depends only on the arguments.
func Normalize(raw map[string]any, url string, id platform.ID) *Metadata {
	md := &Metadata{
		Title:      orDefault(Sanitize(text(raw["title"])), DefaultTitle),
		Uploader:   orDefault(Sanitize(text(raw["uploader"])), DefaultUploader),
		Thumbnail:  text(raw["thumbnail"]),
		UploadDate: text(raw["upload_date"]),
		Platform:   id,
		URL:        url,
		Tags:       []string{},
	}

	md.Description = Sanitize(CleanTechnicalDetails(text(raw["description"])))
	if md.Description == "" {
		md.Description = DefaultDescription
	}

	md.DurationSeconds = int(number(raw["duration"]))
	md.Duration = FormatDuration(md.DurationSeconds)
	md.ViewCount = int64(number(raw["view_count"]))
	md.Views = FormatNumber(md.ViewCount)

	for _, tag := range Tags(id, raw, md.Title, md.Description) {
		if tag = Sanitize(tag); tag != "" {
			md.Tags = append(md.Tags, tag)
		}
	}

	md.Technical = technical(raw)
	md.EnhancedDescription = EnhancedDescription(md.Description, md.Technical, id)
	return md
}

// technical reads stream details from the tallest format, then lets the
// top-level fields of raw override them.
func technical(raw map[string]any) Technical {
	var t Technical

	cands := formats.ParseCandidates(raw)
	if len(cands) > 0 {
		best := cands[0]
		for _, c := range cands[1:] {
			if c.Height > best.Height || (c.Height == best.Height && c.Width > best.Width) {
				best = c
			}
		}
		if best.Width > 0 && best.Height > 0 {
			t.Resolution = strconv.Itoa(best.Width) + "x" + strconv.Itoa(best.Height)
		}
		if best.VCodec != "" && best.VCodec != "none" {
			t.VideoCodec = best.VCodec
		}
		if best.ACodec != "" && best.ACodec != "none" {
			t.AudioCodec = best.ACodec
		}
		if best.FPS > 0 {
			t.FPS = fps(best.FPS)
		}
		if best.FileSize > 0 {
			t.FileSize = megabytes(float64(best.FileSize))
		}
		if best.Ext != "" {
			t.Container = strings.ToUpper(best.Ext)
		}
	}

	w, h := number(raw["width"]), number(raw["height"])
	if w > 0 && h > 0 {
		t.Resolution = strconv.Itoa(int(w)) + "x" + strconv.Itoa(int(h))
	}
	if f := number(raw["fps"]); f > 0 {
		t.FPS = fps(f)
	}
	size := number(raw["filesize"])
	if size <= 0 {
		size = number(raw["filesize_approx"])
	}
	if size > 0 {
		t.FileSize = megabytes(size)
	}
	if ext := text(raw["ext"]); t.Container == "" && ext != "" {
		t.Container = strings.ToUpper(ext)
	}
	return t
}

func fps(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64) + " FPS"
}

func megabytes(n float64) string {
	mb := math.Round(n/(1024*1024)*100) / 100
	return strconv.FormatFloat(mb, 'f', -1, 64) + " MB"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// text returns v as a string. Numbers are formatted; anything else is "".
func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// number returns v as a non-negative finite float, or 0.
func number(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
