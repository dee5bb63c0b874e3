package inspect

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserOptions configures the headless landing check.
type BrowserOptions struct {
	Timeout         time.Duration
	UserAgent       string
	DisableHeadless bool
	// Settle is how long to wait after the document is ready so that
	// client-side redirects can run.
	Settle time.Duration
}

// Landing is where a human visitor ends up after loading a URL.
type Landing struct {
	RequestedURL string
	FinalURL     string
	Title        string
	Latency      time.Duration
}

// Redirected reports whether the browser left the requested URL.
func (l Landing) Redirected() bool {
	return l.FinalURL != "" && l.FinalURL != l.RequestedURL
}

// Browser drives headless Chrome sessions using chromedp.
type Browser struct {
	opts   BrowserOptions
	logger *slog.Logger
}

// NewBrowser applies defaults to opts.
func NewBrowser(opts BrowserOptions, logger *slog.Logger) *Browser {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 750 * time.Millisecond
	}
	opts.UserAgent = selectUserAgent(opts.UserAgent)
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{opts: opts, logger: logger}
}

// Land navigates to rawURL as a regular browser and reports the final location.
func (b *Browser) Land(parentCtx context.Context, rawURL string) (Landing, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return Landing{}, fmt.Errorf("url %q must be absolute", rawURL)
	}
	logger := b.logger.With("url", rawURL, "timeout", b.opts.Timeout.String())

	ctx, cancel := context.WithTimeout(parentCtx, b.opts.Timeout)
	defer cancel()

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !b.opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(b.opts.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOpts...)
	defer allocCancel()

	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)
	defer chromeCancel()

	start := time.Now()
	var title, finalURL string
	logger.Debug("chromedp starting landing check")
	err = chromedp.Run(chromeCtx,
		chromedp.Navigate(u.String()),
		waitForDocumentReady(logger),
		chromedp.Sleep(b.opts.Settle),
		waitForDocumentReady(logger),
		chromedp.Title(&title),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		logger.Error("chromedp run failed", "error", err)
		return Landing{}, fmt.Errorf("chromedp run: %w", err)
	}

	landing := Landing{
		RequestedURL: u.String(),
		FinalURL:     finalURL,
		Title:        strings.TrimSpace(title),
		Latency:      time.Since(start),
	}
	logger.Debug("chromedp landing complete",
		"latency_ms", landing.Latency.Milliseconds(),
		"final_url", landing.FinalURL,
	)
	return landing, nil
}

func selectUserAgent(base string) string {
	if strings.TrimSpace(base) != "" {
		return base
	}
	return "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120 Safari/537.36"
}

func waitForDocumentReady(logger *slog.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				logger.Warn("waitForDocumentReady evaluate failed", "error", err)
				return err
			}
			if readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
