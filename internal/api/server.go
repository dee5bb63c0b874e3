// Package api wires the preview service's HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aivision-ssr/internal/crawlerroute"
	"aivision-ssr/internal/logging"
	"aivision-ssr/internal/metrics"
	"aivision-ssr/pkg/types"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Previewer renders artist previews.
type Previewer interface {
	Render(ctx context.Context, artistID string) (*types.RenderedPreview, error)
	ErrorPage() []byte
	ErrorHeader() http.Header
}

// Options configures a Server.
type Options struct {
	// SSRPrefix is the path the preview endpoint is mounted under.
	SSRPrefix string
	// BotSignatures are listed as allowed agents in robots.txt.
	BotSignatures []string
	// SPA serves everything the crawler router passes through. Nil means 404.
	SPA http.Handler
	// Metrics overrides the /metrics handler.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server exposes the preview endpoint, the SPA and operational routes.
type Server struct {
	previewer Previewer
	router    *crawlerroute.Router
	opts      Options
	logger    *slog.Logger
	mux       *http.ServeMux
	handler   http.Handler
}

// NewServer wires handlers onto an HTTP mux.
func NewServer(previewer Previewer, router *crawlerroute.Router, opts Options) *Server {
	if opts.SSRPrefix == "" {
		opts.SSRPrefix = "/api/ssr/artists/"
	}
	if opts.SPA == nil {
		opts.SPA = http.NotFoundHandler()
	}
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		previewer: previewer,
		router:    router,
		opts:      opts,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.routes()
	s.handler = s.withRequestID(s.mux)
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	preview := http.HandlerFunc(s.handlePreview)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", s.opts.Metrics)
	s.mux.HandleFunc("/robots.txt", s.handleRobots)
	s.mux.Handle(s.opts.SSRPrefix, preview)
	if s.router != nil {
		s.mux.Handle("/", s.router.Middleware(s.opts.SPA, preview))
	} else {
		s.mux.Handle("/", s.opts.SPA)
	}
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r, http.MethodGet, http.MethodHead)
		return
	}
	var b strings.Builder
	for _, sig := range s.opts.BotSignatures {
		fmt.Fprintf(&b, "User-agent: %s\nAllow: /\n\n", sig)
	}
	b.WriteString("User-agent: *\nAllow: /\n")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := metrics.OutcomeError
	defer func() { metrics.RecordRender(outcome, time.Since(start)) }()

	logger := s.logger.With("request_id", logging.RequestID(r.Context()))
	// committed is set once the status line is out; the error page can no
	// longer replace the response after that.
	committed := false
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("preview handler panic",
				"panic", rec,
				"path", r.URL.Path,
				"committed", committed,
				"stack", string(debug.Stack()),
			)
			outcome = metrics.OutcomeError
			if !committed {
				s.writeErrorPage(w, r)
			}
		}
	}()

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		outcome = "method_not_allowed"
		methodNotAllowed(w, r, http.MethodGet, http.MethodHead)
		return
	}

	artistID, ok := s.artistID(r)
	if !ok {
		outcome = "not_found"
		http.NotFound(w, r)
		return
	}
	logger = logger.With("artist_id", artistID)
	if orig := r.Header.Get(crawlerroute.OriginalPathHeader); orig != "" {
		logger = logger.With("original_path", orig)
	}

	out, err := s.previewer.Render(r.Context(), artistID)
	if err != nil || out == nil {
		logger.Error("render preview failed", "error", err)
		s.writeErrorPage(w, r)
		return
	}

	outcome = metrics.OutcomeOK
	if out.Degraded {
		outcome = metrics.OutcomeFallback
	}
	for k, vs := range out.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if out.ETag != "" && etagMatches(r.Header.Get("If-None-Match"), out.ETag) {
		outcome = metrics.OutcomeNotModified
		committed = true
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Length", fmt.Sprint(len(out.Body)))
	committed = true
	w.WriteHeader(out.Status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(out.Body); err != nil {
		logger.Debug("write preview body", "error", err)
	}
}

// artistID extracts the single path segment after the SSR prefix.
func (s *Server) artistID(r *http.Request) (string, bool) {
	escaped := r.URL.EscapedPath()
	if !strings.HasPrefix(escaped, s.opts.SSRPrefix) {
		return "", false
	}
	trimmed := strings.Trim(strings.TrimPrefix(escaped, s.opts.SSRPrefix), "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", false
	}
	id, err := urlPathDecode(trimmed)
	if err != nil || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

func (s *Server) writeErrorPage(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	for k := range h {
		if k != RequestIDHeader {
			h.Del(k)
		}
	}
	for k, vs := range s.previewer.ErrorHeader() {
		h[k] = append([]string(nil), vs...)
	}
	w.WriteHeader(http.StatusInternalServerError)
	if r.Method != http.MethodHead {
		_, _ = w.Write(s.previewer.ErrorPage())
	}
}

// etagMatches implements the strong comparison of If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func urlPathDecode(segment string) (string, error) {
	return url.PathUnescape(segment)
}
