package metadata

import (
	"regexp"
	"strings"

	"ytrelay/platform"
)

// MaxTextLength is the rune limit applied by Sanitize.
const MaxTextLength = 5000

var controlChars = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f]`)

// Sanitize makes s safe for JSON output and upload fields: newlines become
// spaces, control characters and backslashes are dropped and the result
// is truncated to MaxTextLength runes plus "...".
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	s = controlChars.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, `\`, "")
	if r := []rune(s); len(r) > MaxTextLength {
		s = string(r[:MaxTextLength]) + "..."
	}
	return strings.TrimSpace(s)
}

const technicalHeader = "--- **Technical Details** ---"

var (
	technicalLabels = []string{
		"Resolution", "Format", "Video Codec", "Audio Codec", "Bitrate",
		"FPS", "Frame Rate", "File Size", "Sample Rate", "Audio", "Total Bitrate",
	}
	labelLine   = regexp.MustCompile(`\*\*(?:` + strings.Join(quoteAll(technicalLabels), "|") + `):\*\*[^\n]*`)
	blankRuns   = regexp.MustCompile(`\n\s*\n\s*\n`)
	blockStarts = []string{technicalHeader, "**Technical Details**"}
)

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = regexp.QuoteMeta(s)
	}
	return out
}

// CleanTechnicalDetails removes technical detail blocks and bold-label
// lines such as "**Resolution:** 1920x1080" from a description. An empty
// result becomes DefaultDescription.
func CleanTechnicalDetails(desc string) string {
	if strings.TrimSpace(desc) == "" {
		return DefaultDescription
	}
	for _, start := range blockStarts {
		desc = cutBlocks(desc, start)
	}
	desc = labelLine.ReplaceAllString(desc, "")
	desc = blankRuns.ReplaceAllString(desc, "\n\n")
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return DefaultDescription
	}
	return desc
}

// cutBlocks removes every span starting at marker and running to the next
// blank line or the end of s.
func cutBlocks(s, marker string) string {
	for {
		i := strings.Index(s, marker)
		if i < 0 {
			return s
		}
		end := strings.Index(s[i:], "\n\n")
		if end < 0 {
			s = s[:i]
		} else {
			s = s[:i] + s[i+end:]
		}
	}
}

// enhancedPlatforms get a technical block appended to their description.
var enhancedPlatforms = map[platform.ID]bool{
	platform.Rumble:      true,
	platform.Vimeo:       true,
	platform.Dailymotion: true,
}

// EnhancedDescription appends t as a technical block to desc for the
// platforms that carry one; for every other platform it returns desc.
func EnhancedDescription(desc string, t Technical, id platform.ID) string {
	if !enhancedPlatforms[id] {
		return desc
	}
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, "**"+label+":** "+value)
		}
	}
	add("Resolution", t.Resolution)
	add("File Size", t.FileSize)
	add("Format", t.Container)
	add("Frame Rate", t.FPS)
	add("Video Codec", t.VideoCodec)
	add("Audio Codec", t.AudioCodec)
	if len(lines) == 0 {
		return desc
	}
	return desc + "\n\n" + technicalHeader + "\n" + strings.Join(lines, "\n")
}
