// Package inspect looks at a deployment the way a link-preview crawler does.
package inspect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"aivision-ssr/internal/fetcher"
)

// RequiredTags must be present and non-empty in every preview document.
var RequiredTags = []string{"og:title", "og:description", "og:image", "og:url", "og:type"}

// Metadata is the link-preview relevant part of an HTML head.
type Metadata struct {
	Title     string
	Canonical string
	// Tags maps og:*, twitter:* and description to their content. The first
	// occurrence of a key wins.
	Tags map[string]string
}

// Extract parses an HTML document and collects its preview metadata.
func Extract(r io.Reader) (Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("parse html: %w", err)
	}
	md := Metadata{
		Title: strings.TrimSpace(doc.Find("head title").First().Text()),
		Tags:  make(map[string]string),
	}
	md.Canonical, _ = doc.Find(`link[rel="canonical"]`).First().Attr("href")

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key, ok := s.Attr("property")
		if !ok {
			key, ok = s.Attr("name")
		}
		if !ok {
			return
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if !strings.HasPrefix(key, "og:") && !strings.HasPrefix(key, "twitter:") && key != "description" {
			return
		}
		if _, seen := md.Tags[key]; seen {
			return
		}
		content, _ := s.Attr("content")
		md.Tags[key] = content
	})
	return md, nil
}

// Get returns the content of a tag or "".
func (m Metadata) Get(key string) string {
	return m.Tags[strings.ToLower(key)]
}

// Keys returns the collected tag names in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m.Tags))
	for k := range m.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Problems lists everything that would stop a crawler from building a card.
func (m Metadata) Problems() []string {
	var problems []string
	if m.Title == "" {
		problems = append(problems, "missing <title>")
	}
	for _, tag := range RequiredTags {
		if strings.TrimSpace(m.Get(tag)) == "" {
			problems = append(problems, "missing "+tag)
		}
	}
	if img := m.Get("og:image"); img != "" {
		u, err := url.Parse(img)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("og:image %q is not an absolute https url", img))
		}
	}
	return problems
}

// PageReport is the outcome of fetching one page as a crawler.
type PageReport struct {
	URL        string
	StatusCode int
	Header     map[string]string
	Metadata   Metadata
	Latency    time.Duration
}

// Problems adds transport-level issues to the metadata problems.
func (p PageReport) Problems() []string {
	var problems []string
	if p.StatusCode < 200 || p.StatusCode >= 300 {
		problems = append(problems, fmt.Sprintf("status %d", p.StatusCode))
	}
	return append(problems, p.Metadata.Problems()...)
}

// FetchPage retrieves rawURL with f and extracts its metadata. The crawler
// identity is whatever user agent f was built with.
func FetchPage(ctx context.Context, f fetcher.Fetcher, rawURL string) (PageReport, error) {
	resp, err := f.Get(ctx, rawURL, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return PageReport{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	md, err := Extract(bytes.NewReader(resp.Body))
	if err != nil {
		return PageReport{}, err
	}
	report := PageReport{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     make(map[string]string),
		Metadata:   md,
		Latency:    resp.Latency,
	}
	for _, h := range []string{"Content-Type", "Cache-Control", "Vercel-CDN-Cache-Control", "ETag"} {
		if v := resp.Header.Get(h); v != "" {
			report.Header[h] = v
		}
	}
	return report, nil
}
