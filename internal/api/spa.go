package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"strings"

	"aivision-ssr/internal/config"
)

// NewSPAHandler serves the single-page application from a static directory or
// proxies it from an upstream host. With neither configured every request is
// a 404.
func NewSPAHandler(cfg config.SPAConfig, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case cfg.Dir != "":
		info, err := os.Stat(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("spa dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("spa dir %q is not a directory", cfg.Dir)
		}
		return newStaticSPA(http.Dir(cfg.Dir)), nil
	case cfg.Upstream != "":
		return newProxySPA(cfg.Upstream, logger)
	default:
		return http.NotFoundHandler(), nil
	}
}

// staticSPA serves files and falls back to index.html for client-side routes.
type staticSPA struct {
	fs     http.FileSystem
	static http.Handler
}

func newStaticSPA(fs http.FileSystem) http.Handler {
	return &staticSPA{fs: fs, static: http.FileServer(fs)}
}

func (h *staticSPA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r, http.MethodGet, http.MethodHead)
		return
	}
	urlPath := path.Clean("/" + r.URL.Path)
	if urlPath != "/" && !strings.HasSuffix(urlPath, "/index.html") {
		if f, err := h.fs.Open(urlPath); err == nil {
			info, statErr := f.Stat()
			_ = f.Close()
			if statErr == nil && !info.IsDir() {
				setCacheHeaders(w, urlPath)
				h.static.ServeHTTP(w, r)
				return
			}
		}
	}

	index := r.Clone(r.Context())
	u := *r.URL
	u.Path = "/"
	u.RawPath = ""
	index.URL = &u
	w.Header().Set("Cache-Control", "no-cache")
	h.static.ServeHTTP(w, index)
}

// setCacheHeaders caches hashed build assets forever and other files for an hour.
func setCacheHeaders(w http.ResponseWriter, urlPath string) {
	if strings.HasPrefix(urlPath, "/assets/") {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
}

func newProxySPA(upstream string, logger *slog.Logger) (http.Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parse spa upstream: %w", err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("spa upstream %q must be an absolute http(s) url", upstream)
	}
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("spa upstream unavailable", "path", r.URL.Path, "error", err)
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
	}
	return proxy, nil
}
