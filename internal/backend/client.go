package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"aivision-ssr/internal/fetcher"
	"aivision-ssr/pkg/types"
)

// ErrInvalidPresign is returned when the presign endpoint answers without a usable URL.
var ErrInvalidPresign = errors.New("presign response carried no url")

// StatusError reports a non-2xx answer from an upstream.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.Code)
}

// Observer receives the latency of every outbound call. Call names are
// "artist", "presign" and "story".
type Observer interface {
	ObserveCall(call string, status int, d time.Duration)
}

// Client talks to the contest Backend API.
type Client struct {
	baseURL  string
	timeout  time.Duration
	fetcher  fetcher.Fetcher
	stories  fetcher.Fetcher
	limiter  *fetcher.HostLimiter
	observer Observer
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// Timeout bounds each individual call.
	Timeout time.Duration
	// StoryLimiter throttles story-text hosts. It is never applied to BaseURL calls.
	StoryLimiter *fetcher.HostLimiter
	// StoryFetcher fetches story files from third-party hosts so that backend
	// headers never leave for them. Nil reuses the backend fetcher.
	StoryFetcher fetcher.Fetcher
	Observer     Observer
}

// NewClient builds a Backend API client over f.
func NewClient(f fetcher.Fetcher, opts Options) (*Client, error) {
	if f == nil {
		return nil, errors.New("backend client requires a fetcher")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend base url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.StoryFetcher == nil {
		opts.StoryFetcher = f
	}
	return &Client{
		baseURL:  base,
		timeout:  opts.Timeout,
		fetcher:  f,
		stories:  opts.StoryFetcher,
		limiter:  opts.StoryLimiter,
		observer: opts.Observer,
	}, nil
}

// Artist fetches GET {base}/artist/{id}.
func (c *Client) Artist(ctx context.Context, id string) (types.ArtistPreview, error) {
	var artist types.ArtistPreview
	target := c.baseURL + "/artist/" + url.PathEscape(id)
	resp, err := c.get(ctx, c.fetcher, "artist", target, "application/json")
	if err != nil {
		return artist, err
	}
	if err := json.Unmarshal(resp.Body, &artist); err != nil {
		return artist, fmt.Errorf("decode artist %s: %w", id, err)
	}
	if artist.ID == "" {
		artist.ID = id
	}
	return artist, nil
}

// PresignImage exchanges a private storage URL for a temporary public one.
func (c *Client) PresignImage(ctx context.Context, imageURL string) (string, error) {
	target := c.baseURL + "/presign-image?url=" + url.QueryEscape(imageURL)
	resp, err := c.get(ctx, c.fetcher, "presign", target, "application/json")
	if err != nil {
		return "", err
	}
	var payload struct {
		PresignedURL string `json:"presignedUrl"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", fmt.Errorf("decode presign response: %w", err)
	}
	if strings.TrimSpace(payload.PresignedURL) == "" {
		return "", ErrInvalidPresign
	}
	return strings.TrimSpace(payload.PresignedURL), nil
}

// StoryText fetches a background story file. The returned content type lets
// callers decide whether the body needs markup stripped.
func (c *Client) StoryText(ctx context.Context, storyURL string) (string, string, error) {
	u, err := url.Parse(storyURL)
	if err != nil {
		return "", "", fmt.Errorf("parse story url: %w", err)
	}
	if err := c.limiter.Wait(ctx, u.Hostname()); err != nil {
		return "", "", fmt.Errorf("story rate limit: %w", err)
	}
	resp, err := c.get(ctx, c.stories, "story", storyURL, "text/plain, text/html;q=0.9, */*;q=0.5")
	if err != nil {
		return "", "", err
	}
	return string(resp.Body), resp.ContentType, nil
}

func (c *Client) get(ctx context.Context, f fetcher.Fetcher, call, target, accept string) (*types.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := f.Get(ctx, target, accept)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.observer != nil {
		c.observer.ObserveCall(call, status, time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", call, err)
	}
	if !resp.OK() {
		return nil, &StatusError{Code: resp.StatusCode, URL: target}
	}
	return resp, nil
}
