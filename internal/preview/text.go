package preview

import (
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/kennygrant/sanitize"
)

var attrEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Escape entity-escapes text for use in element content and quoted attributes.
func Escape(s string) string {
	return attrEscaper.Replace(s)
}

// Truncate returns at most max characters of s.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// storyText turns a fetched story body into plain text. Markup is stripped
// from HTML bodies; entities are decoded so they are escaped exactly once later.
func storyText(body, contentType string) string {
	body = strings.TrimPrefix(body, "\ufeff")
	if strings.Contains(strings.ToLower(contentType), "html") {
		return html.UnescapeString(sanitize.HTML(body))
	}
	return body
}

// absoluteHTTPS returns raw with an https scheme when it is an absolute
// http(s) URL. Anything else is rejected.
func absoluteHTTPS(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	switch u.Scheme {
	case "https", "http":
		return "https" + raw[len(u.Scheme):], true
	default:
		return "", false
	}
}

func hasStorySuffix(raw string, suffixes []string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, s := range suffixes {
		if s != "" && strings.HasSuffix(p, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
