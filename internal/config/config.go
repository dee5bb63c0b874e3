package config

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// BackendURLEnv names the environment variable that overrides backend.base_url.
const BackendURLEnv = "BACKEND_URL"

// Config captures everything the preview service needs at start-up.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Site    SiteConfig    `yaml:"site"`
	Router  RouterConfig  `yaml:"router"`
	Preview PreviewConfig `yaml:"preview"`
	Fetch   FetchConfig   `yaml:"fetch"`
	SPA     SPAConfig     `yaml:"spa"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr              string   `yaml:"addr"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
}

// BackendConfig points at the contest Backend API.
type BackendConfig struct {
	BaseURL string            `yaml:"base_url"`
	Timeout Duration          `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// SiteConfig holds the public branding used in every preview document.
type SiteConfig struct {
	Name                string `yaml:"name"`
	URL                 string `yaml:"url"`
	Lang                string `yaml:"lang"`
	DefaultImageURL     string `yaml:"default_image_url"`
	ImageWidth          int    `yaml:"image_width"`
	ImageHeight         int    `yaml:"image_height"`
	DefaultDescription  string `yaml:"default_description"`
	FallbackDescription string `yaml:"fallback_description"`
	TwitterSite         string `yaml:"twitter_site"`
}

// RouterConfig drives crawler detection. The signatures are data, not logic.
type RouterConfig struct {
	ArtistRoute   string   `yaml:"artist_route"`
	SSRPrefix     string   `yaml:"ssr_prefix"`
	BotSignatures []string `yaml:"bot_signatures"`
}

// PreviewConfig tunes the preview pipeline.
type PreviewConfig struct {
	MaxDescriptionRunes  int      `yaml:"max_description_runes"`
	PrivateStorageMarker string   `yaml:"private_storage_marker"`
	StorySuffixes        []string `yaml:"story_suffixes"`
	StoryFallback        string   `yaml:"story_fallback"`
	RedirectOnLoad       bool     `yaml:"redirect_on_load"`
	FallbackStatus       int      `yaml:"fallback_status"`
	CacheControl         string   `yaml:"cache_control"`
	CDNCacheHeader       string   `yaml:"cdn_cache_header"`
	CDNCacheControl      string   `yaml:"cdn_cache_control"`
	Budget               Duration `yaml:"budget"`
}

// FetchConfig controls outbound HTTP.
type FetchConfig struct {
	UserAgent      string          `yaml:"user_agent"`
	MaxBodyBytes   int64           `yaml:"max_body_bytes"`
	ProxyURL       string          `yaml:"proxy_url"`
	StoryRateLimit RateLimitConfig `yaml:"story_rate_limit"`
}

// RateLimitConfig applies a token bucket per story host.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// SPAConfig selects how non-crawler traffic reaches the single-page app.
// Dir serves a built bundle from disk; Upstream proxies to another host.
type SPAConfig struct {
	Dir      string `yaml:"dir"`
	Upstream string `yaml:"upstream"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with the production site defaults.
// Backend.BaseURL is intentionally empty and must come from the file or BACKEND_URL.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: DurationFrom(5 * time.Second),
			ShutdownTimeout:   DurationFrom(15 * time.Second),
		},
		Backend: BackendConfig{
			Timeout: DurationFrom(3 * time.Second),
			Headers: map[string]string{},
		},
		Site: SiteConfig{
			Name:                "AI Vision Contest",
			URL:                 "https://www.aivisioncontest.com",
			Lang:                "en",
			DefaultImageURL:     "https://www.aivisioncontest.com/og-image.png",
			ImageWidth:          1200,
			ImageHeight:         630,
			DefaultDescription:  "AI-generated artist",
			FallbackDescription: "Create AI artists, vote for your favourites and follow the contest.",
		},
		Router: RouterConfig{
			ArtistRoute:   "/artists/*",
			SSRPrefix:     "/api/ssr/artists/",
			BotSignatures: []string{"facebookexternalhit", "Twitterbot", "Pinterest"},
		},
		Preview: PreviewConfig{
			MaxDescriptionRunes:  200,
			PrivateStorageMarker: "amazonaws.com",
			StorySuffixes:        []string{"backstory.txt"},
			StoryFallback:        "Artist background story",
			RedirectOnLoad:       true,
			FallbackStatus:       http.StatusOK,
			CacheControl:         "s-maxage=3600, stale-while-revalidate",
			CDNCacheHeader:       "Vercel-CDN-Cache-Control",
			CDNCacheControl:      "s-maxage=3600",
			Budget:               DurationFrom(8 * time.Second),
		},
		Fetch: FetchConfig{
			UserAgent:    "aivision-ssr/1.0",
			MaxBodyBytes: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file. An empty
// path yields the defaults. The BACKEND_URL environment variable is applied last.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := Default()
		return finish(&cfg, os.LookupEnv)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return load(fh, os.LookupEnv)
}

func load(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return finish(&cfg, lookup)
}

func finish(cfg *Config, lookup func(string) (string, bool)) (*Config, error) {
	cfg.applyEnv(lookup)
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	if v, ok := lookup(BackendURLEnv); ok && strings.TrimSpace(v) != "" {
		c.Backend.BaseURL = v
	}
}

// Validate enforces the invariants the preview pipeline relies on.
func (c Config) Validate() error {
	if err := validateAbsolute("backend.base_url", c.Backend.BaseURL, "http", "https"); err != nil {
		return err
	}
	if err := validateAbsolute("site.url", c.Site.URL, "https"); err != nil {
		return err
	}
	if err := validateAbsolute("site.default_image_url", c.Site.DefaultImageURL, "https"); err != nil {
		return err
	}
	if c.Site.Name == "" {
		return errors.New("site.name must be set")
	}
	if c.Backend.Timeout.Duration <= 0 {
		return fmt.Errorf("backend.timeout must be > 0 (got %s)", c.Backend.Timeout.Duration)
	}
	if len(c.Router.BotSignatures) == 0 {
		return errors.New("router.bot_signatures must include at least one value")
	}
	if !strings.HasPrefix(c.Router.ArtistRoute, "/") || !strings.Contains(c.Router.ArtistRoute, "*") {
		return fmt.Errorf("router.artist_route must be an absolute path pattern with one wildcard (got %q)", c.Router.ArtistRoute)
	}
	if _, err := glob.Compile(c.Router.ArtistRoute, '/'); err != nil {
		return fmt.Errorf("router.artist_route: %w", err)
	}
	if !strings.HasPrefix(c.Router.SSRPrefix, "/") || !strings.HasSuffix(c.Router.SSRPrefix, "/") {
		return fmt.Errorf("router.ssr_prefix must start and end with '/' (got %q)", c.Router.SSRPrefix)
	}
	if c.Preview.MaxDescriptionRunes <= 0 {
		return fmt.Errorf("preview.max_description_runes must be > 0 (got %d)", c.Preview.MaxDescriptionRunes)
	}
	switch c.Preview.FallbackStatus {
	case http.StatusOK, http.StatusInternalServerError:
	default:
		return fmt.Errorf("preview.fallback_status must be 200 or 500 (got %d)", c.Preview.FallbackStatus)
	}
	if c.Preview.Budget.Duration <= 0 {
		return fmt.Errorf("preview.budget must be > 0 (got %s)", c.Preview.Budget.Duration)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	if rl := c.Fetch.StoryRateLimit; rl.Requests < 0 {
		return fmt.Errorf("fetch.story_rate_limit.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.SPA.Dir != "" && c.SPA.Upstream != "" {
		return errors.New("spa.dir and spa.upstream are mutually exclusive")
	}
	if c.SPA.Upstream != "" {
		if err := validateAbsolute("spa.upstream", c.SPA.Upstream, "http", "https"); err != nil {
			return err
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.Logging.Level)
	}
	return nil
}

func validateAbsolute(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s must be set", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must be an absolute url (got %q)", field, raw)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("%s must use scheme %s (got %q)", field, strings.Join(schemes, " or "), raw)
}

func (c *Config) normalise() {
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.Headers == nil {
		c.Backend.Headers = make(map[string]string)
	}
	c.Site.Name = strings.TrimSpace(c.Site.Name)
	c.Site.URL = strings.TrimRight(strings.TrimSpace(c.Site.URL), "/")
	c.Site.DefaultImageURL = strings.TrimSpace(c.Site.DefaultImageURL)
	if c.Site.Lang == "" {
		c.Site.Lang = "en"
	}

	c.Router.ArtistRoute = strings.TrimSpace(c.Router.ArtistRoute)
	c.Router.SSRPrefix = strings.TrimSpace(c.Router.SSRPrefix)
	c.Router.BotSignatures = dedupe(c.Router.BotSignatures)

	c.Preview.PrivateStorageMarker = strings.ToLower(strings.TrimSpace(c.Preview.PrivateStorageMarker))
	c.Preview.StorySuffixes = dedupe(c.Preview.StorySuffixes)

	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	c.SPA.Dir = strings.TrimSpace(c.SPA.Dir)
	c.SPA.Upstream = strings.TrimSpace(c.SPA.Upstream)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// dedupe trims entries and drops blanks and case-insensitive duplicates,
// keeping the first spelling and the configured order.
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, v)
	}
	return cleaned
}

// Enabled reports whether per-host rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}
