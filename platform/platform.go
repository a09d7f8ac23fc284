// Package platform identifies the source platform of a URL and holds the
// per-platform download policy.
package platform

import (
	"net/url"
	"strings"
	"unicode"
)

// ID names a source platform.
type ID string

const (
	YouTube     ID = "youtube"
	Instagram   ID = "instagram"
	Facebook    ID = "facebook"
	Twitter     ID = "twitter"
	Dailymotion ID = "dailymotion"
	Vimeo       ID = "vimeo"
	Pinterest   ID = "pinterest"
	Reddit      ID = "reddit"
	TikTok      ID = "tiktok"
	Snapchat    ID = "snapchat"
	Twitch      ID = "twitch"
	Rumble      ID = "rumble"
	DeadToons   ID = "deadtoons"
	CyberVynx   ID = "cybervynx"
	VOE         ID = "voe"
	FileMoon    ID = "filemoon"
	NewerStream ID = "newerstream"
	ShortIcu    ID = "shortic"
	SmoothPre   ID = "smoothpre"
	DirectURL   ID = "direct_url"
	Unknown     ID = "unknown"
)

type domainEntry struct {
	id    ID
	hosts []string
}

// domainTable is matched in order against the URL's host; the first entry
// whose domain equals the host or is a parent domain of it wins.
var domainTable = []domainEntry{
	{YouTube, []string{"youtube.com", "youtu.be", "m.youtube.com"}},
	{Instagram, []string{"instagram.com", "instagr.am"}},
	{Facebook, []string{"facebook.com", "fb.com", "m.facebook.com"}},
	{Twitter, []string{"twitter.com", "x.com"}},
	{Dailymotion, []string{"dailymotion.com", "dai.ly"}},
	{Vimeo, []string{"vimeo.com"}},
	{Pinterest, []string{"pinterest.com", "pin.it"}},
	{Reddit, []string{"reddit.com", "redd.it", "old.reddit.com"}},
	{TikTok, []string{"tiktok.com", "vm.tiktok.com", "vt.tiktok.com"}},
	{Snapchat, []string{"snapchat.com", "snap.com"}},
	{Twitch, []string{"twitch.tv", "clips.twitch.tv", "m.twitch.tv"}},
	{Rumble, []string{"rumble.com"}},
	{DeadToons, []string{"deadtoons.upns.ink"}},
	{CyberVynx, []string{"cybervynx.com"}},
	{VOE, []string{"voe.sx"}},
	{FileMoon, []string{"filemoon.nl"}},
	{NewerStream, []string{"newer.stream"}},
	{ShortIcu, []string{"short.icu"}},
	{SmoothPre, []string{"smoothpre.com"}},
}

// patternTable is consulted only when no domain matched. A pattern matches
// whole labels of the host: "pinterest." matches pinterest.de but not
// notpinterest.de.
var patternTable = []struct {
	id      ID
	pattern string
}{
	{Twitter, "t.co"},
	{Pinterest, "pinterest."},
}

var displayNames = map[ID]string{
	YouTube:     "YouTube",
	Instagram:   "Instagram",
	Facebook:    "Facebook",
	Twitter:     "Twitter/X",
	Dailymotion: "Dailymotion",
	Vimeo:       "Vimeo",
	Pinterest:   "Pinterest",
	Reddit:      "Reddit",
	TikTok:      "TikTok",
	Snapchat:    "Snapchat",
	Twitch:      "Twitch",
	Rumble:      "Rumble",
	DeadToons:   "DeadToons",
	CyberVynx:   "CyberVynx",
	VOE:         "VOE",
	FileMoon:    "FileMoon",
	NewerStream: "NewerStream",
	ShortIcu:    "Short.icu",
	SmoothPre:   "SmoothPre",
	DirectURL:   "Direct URL",
}

// DisplayName returns the human label of id. Unlisted ids are title-cased.
func DisplayName(id ID) string {
	if name, ok := displayNames[id]; ok {
		return name
	}
	return titleCase(string(id))
}

func titleCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Supported lists every known platform id in table order, direct_url last.
func Supported() []ID {
	ids := make([]ID, 0, len(domainTable)+1)
	for _, e := range domainTable {
		ids = append(ids, e.id)
	}
	return append(ids, DirectURL)
}

// Hosts returns the domain table entries of id.
func Hosts(id ID) []string {
	for _, e := range domainTable {
		if e.id == id {
			return append([]string(nil), e.hosts...)
		}
	}
	return nil
}

// matchStatic runs the domain table, then the pattern table, over the
// lower-cased host of rawURL. Paths and queries never match.
func matchStatic(rawURL string) (ID, bool) {
	host := hostOf(rawURL)
	if host == "" {
		return Unknown, false
	}
	for _, e := range domainTable {
		for _, d := range e.hosts {
			if host == d || strings.HasSuffix(host, "."+d) {
				return e.id, true
			}
		}
	}
	labels := "." + host + "."
	for _, p := range patternTable {
		if strings.Contains(labels, "."+strings.Trim(p.pattern, ".")+".") {
			return p.id, true
		}
	}
	return Unknown, false
}

// hostOf returns the lower-cased host name of rawURL. A missing scheme is
// treated as https.
func hostOf(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}
