// Package preview renders crawler-facing artist pages carrying Open Graph and
// Twitter Card metadata.
package preview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"aivision-ssr/internal/config"
	"aivision-ssr/pkg/types"
)

var (
	// ErrUpstreamUnavailable means the artist record could not be fetched.
	ErrUpstreamUnavailable = errors.New("artist upstream unavailable")
	// ErrImageResolution means the default image replaced the artist image.
	ErrImageResolution = errors.New("image resolution failed")
	// ErrDescriptionResolution means the story text could not be fetched.
	ErrDescriptionResolution = errors.New("description resolution failed")
	// ErrUnexpectedRender covers everything else; the caller serves the error page.
	ErrUnexpectedRender = errors.New("unexpected render error")
)

// Backend is the slice of the Backend API the pipeline reads from.
type Backend interface {
	Artist(ctx context.Context, id string) (types.ArtistPreview, error)
	PresignImage(ctx context.Context, imageURL string) (string, error)
	StoryText(ctx context.Context, storyURL string) (body string, contentType string, err error)
}

// Options configures a Renderer.
type Options struct {
	SiteName    string
	SiteURL     string
	Lang        string
	ArtistPath  string
	TwitterSite string

	DefaultImageURL     string
	ImageWidth          int
	ImageHeight         int
	DefaultDescription  string
	FallbackDescription string
	StoryFallback       string

	MaxDescriptionRunes  int
	PrivateStorageMarker string
	StorySuffixes        []string

	RedirectOnLoad  bool
	FallbackStatus  int
	CacheControl    string
	CDNCacheHeader  string
	CDNCacheControl string

	// Budget bounds the whole pipeline for one request.
	Budget time.Duration
}

// OptionsFromConfig maps the service configuration onto renderer options.
func OptionsFromConfig(cfg config.Config) Options {
	artistPath := cfg.Router.ArtistRoute
	if i := strings.Index(artistPath, "*"); i >= 0 {
		artistPath = artistPath[:i]
	}
	return Options{
		SiteName:             cfg.Site.Name,
		SiteURL:              cfg.Site.URL,
		Lang:                 cfg.Site.Lang,
		ArtistPath:           artistPath,
		TwitterSite:          cfg.Site.TwitterSite,
		DefaultImageURL:      cfg.Site.DefaultImageURL,
		ImageWidth:           cfg.Site.ImageWidth,
		ImageHeight:          cfg.Site.ImageHeight,
		DefaultDescription:   cfg.Site.DefaultDescription,
		FallbackDescription:  cfg.Site.FallbackDescription,
		StoryFallback:        cfg.Preview.StoryFallback,
		MaxDescriptionRunes:  cfg.Preview.MaxDescriptionRunes,
		PrivateStorageMarker: cfg.Preview.PrivateStorageMarker,
		StorySuffixes:        cfg.Preview.StorySuffixes,
		RedirectOnLoad:       cfg.Preview.RedirectOnLoad,
		FallbackStatus:       cfg.Preview.FallbackStatus,
		CacheControl:         cfg.Preview.CacheControl,
		CDNCacheHeader:       cfg.Preview.CDNCacheHeader,
		CDNCacheControl:      cfg.Preview.CDNCacheControl,
		Budget:               cfg.Preview.Budget.Or(8 * time.Second),
	}
}

// Renderer runs the preview pipeline. It holds no per-request state and is
// safe for concurrent use.
type Renderer struct {
	backend  Backend
	opts     Options
	observer Observer
	errPage  []byte
}

// NewRenderer builds a Renderer. A nil observer discards diagnostics.
func NewRenderer(backend Backend, opts Options, observer Observer) (*Renderer, error) {
	if backend == nil {
		return nil, errors.New("preview renderer requires a backend")
	}
	if _, ok := absoluteHTTPS(opts.DefaultImageURL); !ok || !strings.HasPrefix(opts.DefaultImageURL, "https://") {
		return nil, fmt.Errorf("default image %q must be an absolute https url", opts.DefaultImageURL)
	}
	if opts.SiteName == "" || opts.SiteURL == "" {
		return nil, errors.New("site name and url are required")
	}
	opts.SiteURL = strings.TrimRight(opts.SiteURL, "/")
	if opts.ArtistPath == "" {
		opts.ArtistPath = "/artists/"
	}
	if opts.Lang == "" {
		opts.Lang = "en"
	}
	if opts.MaxDescriptionRunes <= 0 {
		opts.MaxDescriptionRunes = 200
	}
	if opts.FallbackStatus == 0 {
		opts.FallbackStatus = http.StatusOK
	}
	if opts.Budget <= 0 {
		opts.Budget = 8 * time.Second
	}
	if opts.CacheControl == "" {
		opts.CacheControl = "s-maxage=3600, stale-while-revalidate"
	}
	if observer == nil {
		observer = Observers(nil)
	}
	return &Renderer{
		backend:  backend,
		opts:     opts,
		observer: observer,
		errPage:  errorPage(opts.SiteName, opts.SiteURL),
	}, nil
}

// Render produces the preview for one artist. Backend failures degrade into
// the generic fallback document; an error is only returned together with
// ErrUnexpectedRender, in which case the caller serves ErrorPage.
func (r *Renderer) Render(ctx context.Context, artistID string) (*types.RenderedPreview, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Budget)
	defer cancel()

	var artist types.ArtistPreview
	err := r.stage(ctx, StageFetchArtist, artistID, func(ctx context.Context) error {
		a, err := r.backend.Artist(ctx, artistID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
		artist = a
		return nil
	})
	if err != nil {
		return r.fallback(ctx, artistID)
	}
	if ao, ok := r.observer.(ArtistObserver); ok {
		ao.ArtistFetched(ctx, artistID, artist)
	}

	var image, description string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_ = r.stage(gctx, StageResolveImage, artistID, func(ctx context.Context) error {
			var err error
			image, err = r.resolveImage(ctx, artist.ImageURL)
			return err
		})
		return nil
	})
	g.Go(func() error {
		_ = r.stage(gctx, StageResolveDescription, artistID, func(ctx context.Context) error {
			var err error
			description, err = r.resolveDescription(ctx, artist.BackgroundStory)
			return err
		})
		return nil
	})
	_ = g.Wait()

	var doc document
	_ = r.stage(ctx, StageSanitize, artistID, func(context.Context) error {
		doc = r.artistDocument(artistID, artist, image, description)
		return nil
	})

	body, err := r.renderDocument(ctx, artistID, doc)
	if err != nil {
		return nil, err
	}
	return r.emit(ctx, artistID, http.StatusOK, body, false), nil
}

// ErrorPage is the static document served with status 500 when Render fails
// or panics.
func (r *Renderer) ErrorPage() []byte {
	return r.errPage
}

// ErrorHeader returns the headers that go with ErrorPage.
func (r *Renderer) ErrorHeader() http.Header {
	return r.noStoreHeader()
}

func (r *Renderer) stage(ctx context.Context, stage Stage, artistID string, fn func(context.Context) error) error {
	start := time.Now()
	r.observer.StageStarted(ctx, stage, artistID)
	if err := fn(ctx); err != nil {
		r.observer.StageFailed(ctx, stage, artistID, err)
		return err
	}
	r.observer.StageCompleted(ctx, stage, artistID, time.Since(start))
	return nil
}

func (r *Renderer) resolveImage(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return r.opts.DefaultImageURL, nil
	}
	if m := r.opts.PrivateStorageMarker; m != "" && strings.Contains(strings.ToLower(raw), m) {
		signed, err := r.backend.PresignImage(ctx, raw)
		if err != nil {
			return r.opts.DefaultImageURL, fmt.Errorf("%w: presign: %w", ErrImageResolution, err)
		}
		abs, ok := absoluteHTTPS(signed)
		if !ok {
			return r.opts.DefaultImageURL, fmt.Errorf("%w: presign returned a non-absolute url", ErrImageResolution)
		}
		return abs, nil
	}
	if abs, ok := absoluteHTTPS(raw); ok {
		return abs, nil
	}
	return r.opts.DefaultImageURL, fmt.Errorf("%w: image url is not absolute", ErrImageResolution)
}

func (r *Renderer) resolveDescription(ctx context.Context, story string) (string, error) {
	text := story
	var err error
	if pointer := strings.TrimSpace(story); hasStorySuffix(pointer, r.opts.StorySuffixes) {
		body, contentType, ferr := r.backend.StoryText(ctx, pointer)
		if ferr != nil {
			text = r.opts.StoryFallback
			err = fmt.Errorf("%w: %w", ErrDescriptionResolution, ferr)
		} else {
			text = storyText(body, contentType)
		}
	}
	if strings.TrimSpace(text) == "" {
		text = r.opts.DefaultDescription
	}
	return Truncate(text, r.opts.MaxDescriptionRunes), err
}

func (r *Renderer) artistPath(artistID string) string {
	return r.opts.ArtistPath + url.PathEscape(artistID)
}

func (r *Renderer) baseDocument(artistID string) document {
	doc := document{
		Lang:        Escape(r.opts.Lang),
		SiteName:    Escape(r.opts.SiteName),
		Image:       Escape(r.opts.DefaultImageURL),
		ImageWidth:  r.opts.ImageWidth,
		ImageHeight: r.opts.ImageHeight,
		URL:         Escape(r.opts.SiteURL + "/"),
		TwitterSite: Escape(r.opts.TwitterSite),
	}
	if artistID != "" {
		doc.URL = Escape(r.opts.SiteURL + r.artistPath(artistID))
		if r.opts.RedirectOnLoad {
			doc.ScriptPath = r.artistPath(artistID)
		}
	}
	if doc.ImageHeight == 0 {
		doc.ImageWidth = 0
	}
	return doc
}

func (r *Renderer) artistDocument(artistID string, artist types.ArtistPreview, image, description string) document {
	doc := r.baseDocument(artistID)
	name := strings.TrimSpace(artist.Name)
	if name == "" {
		doc.Heading = doc.SiteName
		doc.Title = doc.SiteName
	} else {
		doc.Heading = Escape(name)
		doc.Title = Escape(name + " – " + r.opts.SiteName)
	}
	doc.Description = Escape(description)
	doc.Image = Escape(image)
	if audio, ok := absoluteHTTPS(artist.SongURL); ok {
		doc.Audio = Escape(audio)
	}
	doc.LinkText = "View " + doc.Heading + " on " + doc.SiteName
	return doc
}

// fallback renders the generic site document used when the artist is unavailable.
func (r *Renderer) fallback(ctx context.Context, artistID string) (*types.RenderedPreview, error) {
	doc := r.baseDocument(artistID)
	doc.Title = doc.SiteName
	doc.Heading = doc.SiteName
	doc.Description = Escape(Truncate(r.opts.FallbackDescription, r.opts.MaxDescriptionRunes))
	doc.LinkText = "Continue to " + doc.SiteName

	body, err := r.renderDocument(ctx, artistID, doc)
	if err != nil {
		return nil, err
	}
	return r.emit(ctx, artistID, r.opts.FallbackStatus, body, true), nil
}

func (r *Renderer) renderDocument(ctx context.Context, artistID string, doc document) ([]byte, error) {
	var body []byte
	err := r.stage(ctx, StageRender, artistID, func(context.Context) error {
		b, err := doc.render()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnexpectedRender, err)
		}
		body = b
		return nil
	})
	return body, err
}

func (r *Renderer) emit(ctx context.Context, artistID string, status int, body []byte, degraded bool) *types.RenderedPreview {
	out := &types.RenderedPreview{Status: status, Body: body, Degraded: degraded}
	_ = r.stage(ctx, StageEmitHeaders, artistID, func(context.Context) error {
		if degraded {
			out.Header = r.noStoreHeader()
			return nil
		}
		h := make(http.Header)
		h.Set("Content-Type", "text/html; charset=utf-8")
		h.Set("Cache-Control", r.opts.CacheControl)
		if r.opts.CDNCacheHeader != "" && r.opts.CDNCacheControl != "" {
			h.Set(r.opts.CDNCacheHeader, r.opts.CDNCacheControl)
		}
		out.ETag = fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
		h.Set("ETag", out.ETag)
		out.Header = h
		return nil
	})
	return out
}

func (r *Renderer) noStoreHeader() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	if r.opts.CDNCacheHeader != "" {
		h.Set(r.opts.CDNCacheHeader, "no-store")
	}
	return h
}
