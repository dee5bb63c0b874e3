package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/robotstxt"

	"aivision-ssr/internal/config"
	"aivision-ssr/internal/crawlerroute"
	"aivision-ssr/internal/preview"
	"aivision-ssr/pkg/types"
)

const twitterUA = "Twitterbot/1.0"
const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15 Safari/605.1.15"

type stubBackend struct {
	artists map[string]types.ArtistPreview
}

func (b stubBackend) Artist(ctx context.Context, id string) (types.ArtistPreview, error) {
	a, ok := b.artists[id]
	if !ok {
		return types.ArtistPreview{}, errors.New("status 404")
	}
	return a, nil
}

func (stubBackend) PresignImage(ctx context.Context, imageURL string) (string, error) {
	return "", errors.New("presign disabled")
}

func (stubBackend) StoryText(ctx context.Context, storyURL string) (string, string, error) {
	return "", "", errors.New("story disabled")
}

type panicPreviewer struct{ *preview.Renderer }

func (panicPreviewer) Render(context.Context, string) (*types.RenderedPreview, error) {
	panic("boom")
}

type failingPreviewer struct{ *preview.Renderer }

func (failingPreviewer) Render(context.Context, string) (*types.RenderedPreview, error) {
	return nil, preview.ErrUnexpectedRender
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRenderer(t *testing.T, cfg config.Config) *preview.Renderer {
	t.Helper()
	backend := stubBackend{artists: map[string]types.ArtistPreview{
		"42": {ID: "42", Name: "Nova Wave", BackgroundStory: "A rising star.", ImageURL: "https://cdn.example.com/x.png"},
	}}
	r, err := preview.NewRenderer(backend, preview.OptionsFromConfig(cfg), nil)
	require.NoError(t, err)
	return r
}

func writeSPA(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<!doctype html><div id=\"root\"></div>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app-3f9a.js"), []byte("console.log('spa')"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "favicon.ico"), []byte("ico"), 0o644))
	return dir
}

func newTestServer(t *testing.T, previewer Previewer) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.BaseURL = "https://api.example.com"
	router, err := crawlerroute.New(cfg.Router, discardLogger(), nil)
	require.NoError(t, err)
	spa, err := NewSPAHandler(config.SPAConfig{Dir: writeSPA(t)}, discardLogger())
	require.NoError(t, err)
	if previewer == nil {
		previewer = newRenderer(t, cfg)
	}
	return NewServer(previewer, router, Options{
		SSRPrefix:     cfg.Router.SSRPrefix,
		BotSignatures: cfg.Router.BotSignatures,
		SPA:           spa,
		Logger:        discardLogger(),
	})
}

func do(h http.Handler, method, path, userAgent string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServerHandlers(t *testing.T) {
	server := newTestServer(t, nil)

	assertRoute(t, server, http.MethodGet, "/health", http.StatusOK, "application/json")
	assertRoute(t, server, http.MethodGet, "/robots.txt", http.StatusOK, "text/plain; charset=utf-8")
	assertRoute(t, server, http.MethodGet, "/api/ssr/artists/42", http.StatusOK, "text/html; charset=utf-8")
	assertRoute(t, server, http.MethodGet, "/metrics", http.StatusOK, "")
}

func TestCrawlerGetsPreview(t *testing.T) {
	server := newTestServer(t, nil)

	rr := do(server, http.MethodGet, "/artists/42", twitterUA, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "<title>Nova Wave – AI Vision Contest</title>")
	assert.Contains(t, body, `<meta property="og:image" content="https://cdn.example.com/x.png" />`)
	assert.Contains(t, body, `<meta property="og:url" content="https://www.aivisioncontest.com/artists/42" />`)
	assert.Equal(t, "s-maxage=3600, stale-while-revalidate", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "s-maxage=3600", rr.Header().Get("Vercel-CDN-Cache-Control"))
	assert.NotEmpty(t, rr.Header().Get("ETag"))
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
	assert.Empty(t, rr.Header().Get("Location"))
}

func TestBrowserGetsSPA(t *testing.T) {
	server := newTestServer(t, nil)

	for _, ua := range []string{browserUA, ""} {
		rr := do(server, http.MethodGet, "/artists/42", ua, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `<div id="root"></div>`)
		assert.NotContains(t, rr.Body.String(), "og:title")
		assert.Equal(t, "no-cache", rr.Header().Get("Cache-Control"))
	}

	// A crawler on a non-artist route still gets the SPA.
	rr := do(server, http.MethodGet, "/leaderboard", "facebookexternalhit/1.1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `<div id="root"></div>`)
}

func TestSPAStaticCaching(t *testing.T) {
	server := newTestServer(t, nil)

	rr := do(server, http.MethodGet, "/assets/app-3f9a.js", browserUA, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "public, max-age=31536000, immutable", rr.Header().Get("Cache-Control"))

	rr = do(server, http.MethodGet, "/favicon.ico", browserUA, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "public, max-age=3600", rr.Header().Get("Cache-Control"))

	rr = do(server, http.MethodGet, "/", browserUA, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `<div id="root"></div>`)
}

func TestPreviewConditionalAndHead(t *testing.T) {
	server := newTestServer(t, nil)

	first := do(server, http.MethodGet, "/api/ssr/artists/42", "", nil)
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rr := do(server, http.MethodGet, "/api/ssr/artists/42", "", map[string]string{"If-None-Match": `"other", ` + etag})
	assert.Equal(t, http.StatusNotModified, rr.Code)
	assert.Zero(t, rr.Body.Len())

	rr = do(server, http.MethodHead, "/api/ssr/artists/42", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, rr.Body.Len())
	assert.Equal(t, etag, rr.Header().Get("ETag"))
}

func TestPreviewMethodsAndPaths(t *testing.T) {
	server := newTestServer(t, nil)

	rr := do(server, http.MethodPost, "/api/ssr/artists/42", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "GET, HEAD", rr.Header().Get("Allow"))

	for _, p := range []string{"/api/ssr/artists/", "/api/ssr/artists/42/extra"} {
		rr = do(server, http.MethodGet, p, "", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, p)
	}
}

func TestPreviewFallbackForUnknownArtist(t *testing.T) {
	server := newTestServer(t, nil)

	rr := do(server, http.MethodGet, "/artists/404", "Pinterest/0.2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.Empty(t, rr.Header().Get("ETag"))
	assert.Contains(t, rr.Body.String(), "<title>AI Vision Contest</title>")
	assert.Contains(t, rr.Body.String(), `content="https://www.aivisioncontest.com/og-image.png"`)
}

func TestPreviewPanicAndErrorServeErrorPage(t *testing.T) {
	cfg := config.Default()
	renderer := newRenderer(t, cfg)

	for name, previewer := range map[string]Previewer{
		"panic": panicPreviewer{renderer},
		"error": failingPreviewer{renderer},
	} {
		t.Run(name, func(t *testing.T) {
			server := newTestServer(t, previewer)
			rr := do(server, http.MethodGet, "/artists/42", twitterUA, nil)
			assert.Equal(t, http.StatusInternalServerError, rr.Code)
			assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
			assert.Equal(t, string(renderer.ErrorPage()), rr.Body.String())
			assert.NotContains(t, rr.Body.String(), "boom")
		})
	}
}

// brokenWriter records the status line and fails while the body is written.
type brokenWriter struct {
	header      http.Header
	statuses    []int
	body        strings.Builder
	panicOnBody bool
}

func (w *brokenWriter) Header() http.Header { return w.header }

func (w *brokenWriter) WriteHeader(status int) { w.statuses = append(w.statuses, status) }

func (w *brokenWriter) Write(p []byte) (int, error) {
	if len(w.statuses) == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if w.panicOnBody {
		w.panicOnBody = false
		panic("connection reset")
	}
	return w.body.Write(p)
}

func TestPreviewPanicAfterHeadersKeepsResponse(t *testing.T) {
	server := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/artists/42", nil)
	req.Header.Set("User-Agent", twitterUA)
	w := &brokenWriter{header: make(http.Header), panicOnBody: true}

	require.NotPanics(t, func() { server.ServeHTTP(w, req) })
	assert.Equal(t, []int{http.StatusOK}, w.statuses)
	assert.Empty(t, w.body.String())
	assert.Equal(t, "s-maxage=3600, stale-while-revalidate", w.header.Get("Cache-Control"))
}

func TestRequestIDPropagation(t *testing.T) {
	server := newTestServer(t, nil)

	id := uuid.NewString()
	rr := do(server, http.MethodGet, "/health", "", map[string]string{RequestIDHeader: id})
	assert.Equal(t, id, rr.Header().Get(RequestIDHeader))

	rr = do(server, http.MethodGet, "/health", "", map[string]string{RequestIDHeader: "not a uuid"})
	got := rr.Header().Get(RequestIDHeader)
	assert.NotEqual(t, "not a uuid", got)
	_, err := uuid.Parse(got)
	assert.NoError(t, err)
}

func TestRobotsAllowsCrawlers(t *testing.T) {
	server := newTestServer(t, nil)
	rr := do(server, http.MethodGet, "/robots.txt", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	robots, err := robotstxt.FromBytes(rr.Body.Bytes())
	require.NoError(t, err)
	for _, agent := range append(config.Default().Router.BotSignatures, "SomeOtherBot") {
		assert.True(t, robots.TestAgent("/artists/42", agent), agent)
	}
}

func TestSPAProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "upstream:"+r.URL.Path)
	}))
	defer upstream.Close()

	spa, err := NewSPAHandler(config.SPAConfig{Upstream: upstream.URL}, discardLogger())
	require.NoError(t, err)

	rr := do(spa, http.MethodGet, "/artists/42?ref=share", browserUA, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "upstream:/artists/42", rr.Body.String())
}

func TestSPAHandlerConfig(t *testing.T) {
	h, err := NewSPAHandler(config.SPAConfig{}, nil)
	require.NoError(t, err)
	rr := do(h, http.MethodGet, "/artists/42", browserUA, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	_, err = NewSPAHandler(config.SPAConfig{Dir: filepath.Join(t.TempDir(), "missing")}, nil)
	assert.Error(t, err)

	_, err = NewSPAHandler(config.SPAConfig{Upstream: "ftp://example.com"}, nil)
	assert.Error(t, err)
}

func assertRoute(t *testing.T, h http.Handler, method, path string, wantStatus int, wantContentType string) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d (body=%s)", method, path, wantStatus, rr.Code, rr.Body.String())
	}
	if wantContentType != "" {
		if got := rr.Header().Get("Content-Type"); !strings.EqualFold(got, wantContentType) {
			t.Fatalf("%s %s: expected content-type %s, got %s", method, path, wantContentType, got)
		}
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("%s %s: expected non-empty body", method, path)
	}
}
