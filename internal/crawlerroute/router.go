// Package crawlerroute decides whether a request is a social-media crawler
// asking for an artist page and, if so, rewrites it to the preview endpoint.
package crawlerroute

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gobwas/glob"

	"aivision-ssr/internal/config"
)

// OriginalPathHeader carries the pre-rewrite path to the preview handler.
const OriginalPathHeader = "X-Original-Path"

// Decision is the outcome of classifying one request.
type Decision struct {
	Rewrite  bool
	ArtistID string
	// Bot is the configured signature that matched, empty when none did. It
	// is set on pass decisions too, so crawler hits on non-artist pages stay
	// visible in the route metrics.
	Bot string
}

// Recorder is told about every routing decision.
type Recorder interface {
	RecordRoute(d Decision)
}

// Router matches artist-page requests from known crawlers.
type Router struct {
	route      glob.Glob
	prefix     string
	ssrPrefix  string
	signatures []string
	lowered    []string
	logger     *slog.Logger
	recorder   Recorder
}

// New compiles the router from configuration.
func New(cfg config.RouterConfig, logger *slog.Logger, recorder Recorder) (*Router, error) {
	g, err := glob.Compile(cfg.ArtistRoute, '/')
	if err != nil {
		return nil, fmt.Errorf("compile artist route: %w", err)
	}
	idx := strings.Index(cfg.ArtistRoute, "*")
	if idx < 0 {
		return nil, fmt.Errorf("artist route %q has no wildcard", cfg.ArtistRoute)
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		route:     g,
		prefix:    cfg.ArtistRoute[:idx],
		ssrPrefix: cfg.SSRPrefix,
		logger:    logger,
		recorder:  recorder,
	}
	for _, sig := range cfg.BotSignatures {
		sig = strings.TrimSpace(sig)
		if sig == "" {
			continue
		}
		r.signatures = append(r.signatures, sig)
		r.lowered = append(r.lowered, strings.ToLower(sig))
	}
	return r, nil
}

// Classify applies the matching rule to a path and user agent.
func (r *Router) Classify(path, userAgent string) Decision {
	bot := r.matchBot(userAgent)
	if bot == "" {
		return Decision{}
	}
	id, ok := r.artistID(path)
	if !ok {
		return Decision{Bot: bot}
	}
	return Decision{Rewrite: true, ArtistID: id, Bot: bot}
}

func (r *Router) matchBot(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	ua := strings.ToLower(userAgent)
	for i, sig := range r.lowered {
		if strings.Contains(ua, sig) {
			return r.signatures[i]
		}
	}
	return ""
}

func (r *Router) artistID(path string) (string, bool) {
	if !strings.HasPrefix(path, r.prefix) || !r.route.Match(path) {
		return "", false
	}
	id := path[len(r.prefix):]
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Middleware sends crawler artist-page requests to preview and everything
// else to next. The rewrite is internal; the client keeps its URL.
func (r *Router) Middleware(next, preview http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		d := r.Classify(req.URL.Path, req.Header.Get("User-Agent"))
		if r.recorder != nil {
			r.recorder.RecordRoute(d)
		}
		if !d.Rewrite {
			next.ServeHTTP(w, req)
			return
		}
		rewritten := req.Clone(req.Context())
		u := *req.URL
		u.Path = r.ssrPrefix + d.ArtistID
		u.RawPath = r.ssrPrefix + url.PathEscape(d.ArtistID)
		rewritten.URL = &u
		rewritten.RequestURI = u.RequestURI()
		rewritten.Header.Set(OriginalPathHeader, req.URL.Path)

		r.logger.Debug("rewriting crawler request",
			"path", req.URL.Path,
			"target", u.Path,
			"bot", d.Bot,
			"artist_id", d.ArtistID,
		)
		preview.ServeHTTP(w, rewritten)
	})
}
