package metadata

import (
	"regexp"
	"strings"

	"ytrelay/platform"
)

var (
	hashtagRe = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)
	keywordRe = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)
)

const maxKeywords = 10

var stopwords = map[string]bool{
	"the": true, "and": true, "or": true, "but": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "of": true, "with": true, "by": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"being": true, "have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "this": true, "that": true, "these": true,
	"those": true, "a": true, "an": true, "as": true, "if": true, "so": true,
	"than": true,
}

// Tags derives the tag list for a video. YouTube uses the provider's tags,
// the social platforms use hashtags and everything else falls back to
// keywords from the title and description.
func Tags(id platform.ID, raw map[string]any, title, description string) []string {
	switch id {
	case platform.YouTube:
		list, _ := raw["tags"].([]any)
		tags := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				tags = append(tags, s)
			}
		}
		return tags
	case platform.Instagram:
		return Hashtags(description, 10)
	case platform.Twitter:
		return Hashtags(description+" "+title, 10)
	case platform.Facebook:
		return Hashtags(description+" "+title, 8)
	default:
		return Keywords(title+" "+description, maxKeywords)
	}
}

// Hashtags returns up to limit hashtags from s, without the leading "#".
func Hashtags(s string, limit int) []string {
	tags := []string{}
	for _, m := range hashtagRe.FindAllStringSubmatch(s, -1) {
		if len(tags) == limit {
			break
		}
		tags = append(tags, m[1])
	}
	return tags
}

// Keywords returns up to limit distinct lower-cased words of three or more
// letters, skipping common stopwords.
func Keywords(s string, limit int) []string {
	tags := []string{}
	seen := make(map[string]bool)
	for _, w := range keywordRe.FindAllString(strings.ToLower(s), -1) {
		if len(tags) == limit {
			break
		}
		if stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		tags = append(tags, w)
	}
	return tags
}
