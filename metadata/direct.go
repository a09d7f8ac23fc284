package metadata

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// DirectTitle derives a title for a direct media link from the
// Content-Disposition filename, else the last path segment of rawURL.
// It also returns the upper-cased file extension, or "" if none.
func DirectTitle(rawURL, contentDisposition string) (title, ext string) {
	name := ""
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			name = params["filename"]
		}
	}
	if name == "" {
		if u, err := url.Parse(rawURL); err == nil {
			name = path.Base(u.Path)
			if unescaped, err := url.PathUnescape(name); err == nil {
				name = unescaped
			}
		}
	}
	if name == "" || name == "/" || name == "." {
		return "Direct Video Download", ""
	}
	if e := path.Ext(name); e != "" && e != name {
		ext = strings.ToUpper(strings.TrimPrefix(e, "."))
		name = strings.TrimSuffix(name, e)
	}
	title = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Direct Video Download"
	}
	return title, ext
}

// ContainerFromType guesses a container label from a Content-Type.
func ContainerFromType(contentType string) string {
	ct := strings.ToLower(contentType)
	for _, c := range []string{"mp4", "webm", "mkv", "avi"} {
		if strings.Contains(ct, c) {
			return strings.ToUpper(c)
		}
	}
	return "VIDEO"
}
