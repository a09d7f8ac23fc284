package formats

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var filterRe = regexp.MustCompile(`^\[\s*([a-z_]+)\s*(<=|>=|!=|\^=|\*=|\$=|<|>|=)(\?)?\s*([^\]]*?)\s*\]`)

type filter struct {
	field    string
	op       string
	optional bool
	value    string
}

type alternative struct {
	head    string // best, worst or a format id
	filters []filter
}

// ParseSelector parses a "/"-separated format selector expression.
func ParseSelector(expr string) ([]alternative, error) {
	var alts []alternative
	for _, part := range strings.Split(expr, "/") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("formats: empty alternative in %q", expr)
		}
		head := part
		rest := ""
		if i := strings.IndexByte(part, '['); i >= 0 {
			head, rest = part[:i], part[i:]
		}
		switch head {
		case "", "b":
			head = "best"
		case "w":
			head = "worst"
		}
		alt := alternative{head: head}
		for rest != "" {
			m := filterRe.FindStringSubmatch(rest)
			if m == nil {
				return nil, fmt.Errorf("formats: bad filter %q in %q", rest, expr)
			}
			alt.filters = append(alt.filters, filter{field: m[1], op: m[2], optional: m[3] == "?", value: strings.Trim(m[4], `"'`)})
			rest = rest[len(m[0]):]
		}
		alts = append(alts, alt)
	}
	return alts, nil
}

// Select evaluates expr against candidates. The first alternative with a
// match wins. best prefers height, then bitrate, then file size.
func Select(expr string, candidates []Candidate) (Candidate, bool) {
	alts, err := ParseSelector(expr)
	if err != nil {
		return Candidate{}, false
	}
	for _, alt := range alts {
		var pool []Candidate
		for _, c := range candidates {
			if alt.head != "best" && alt.head != "worst" && c.FormatID != alt.head {
				continue
			}
			if alt.matches(c) {
				pool = append(pool, c)
			}
		}
		if len(pool) == 0 {
			continue
		}
		sort.SliceStable(pool, func(i, j int) bool { return better(pool[i], pool[j]) })
		if alt.head == "worst" {
			return pool[len(pool)-1], true
		}
		return pool[0], true
	}
	return Candidate{}, false
}

func better(a, b Candidate) bool {
	if a.Height != b.Height {
		return a.Height > b.Height
	}
	if a.TBR != b.TBR {
		return a.TBR > b.TBR
	}
	return a.FileSize > b.FileSize
}

func (alt alternative) matches(c Candidate) bool {
	for _, f := range alt.filters {
		if !f.matches(c) {
			return false
		}
	}
	return true
}

func (f filter) matches(c Candidate) bool {
	switch f.field {
	case "height", "width", "fps", "tbr", "filesize", "filesize_approx":
		var have float64
		switch f.field {
		case "height":
			have = float64(c.Height)
		case "width":
			have = float64(c.Width)
		case "fps":
			have = c.FPS
		case "tbr":
			have = c.TBR
		default:
			have = float64(c.FileSize)
		}
		if have == 0 {
			return f.optional
		}
		want, err := parseNumber(f.value)
		if err != nil {
			return false
		}
		switch f.op {
		case "<":
			return have < want
		case "<=":
			return have <= want
		case ">":
			return have > want
		case ">=":
			return have >= want
		case "=":
			return have == want
		case "!=":
			return have != want
		}
		return false
	case "ext", "vcodec", "acodec", "protocol", "format_id":
		var have string
		switch f.field {
		case "ext":
			have = c.Ext
		case "vcodec":
			have = c.VCodec
		case "acodec":
			have = c.ACodec
		case "protocol":
			have = c.Protocol
		default:
			have = c.FormatID
		}
		if have == "" {
			return f.optional
		}
		switch f.op {
		case "=":
			return have == f.value
		case "!=":
			return have != f.value
		case "^=":
			return strings.HasPrefix(have, f.value)
		case "*=":
			return strings.Contains(have, f.value)
		case "$=":
			return strings.HasSuffix(have, f.value)
		}
		return false
	}
	return false
}

// parseNumber accepts plain numbers and filesize suffixes (K, M, G, with
// optional "i" and "B").
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	mult := 1.0
	upper := strings.ToUpper(strings.TrimSuffix(strings.TrimSuffix(s, "B"), "b"))
	upper = strings.TrimSuffix(upper, "I")
	if n := len(upper); n > 0 {
		switch upper[n-1] {
		case 'K':
			mult, upper = 1024, upper[:n-1]
		case 'M':
			mult, upper = 1024*1024, upper[:n-1]
		case 'G':
			mult, upper = 1024*1024*1024, upper[:n-1]
		}
	}
	v, err := strconv.ParseFloat(upper, 64)
	if err != nil {
		return 0, err
	}
	return v * mult, nil
}

// Resolve maps a requested format against a fresh candidate list. An empty
// request, or a format id the list no longer contains, becomes "best";
// selector expressions pass through unchanged.
func Resolve(requested string, candidates []Candidate) (format string, stale bool) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return "best", false
	}
	if isExpression(requested) {
		return requested, false
	}
	for _, c := range candidates {
		if c.FormatID == requested {
			return requested, false
		}
	}
	return "best", true
}

func isExpression(s string) bool {
	switch s {
	case "best", "worst", "b", "w":
		return true
	}
	return strings.ContainsAny(s, "/[+")
}
