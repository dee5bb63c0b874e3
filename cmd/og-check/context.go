package main

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"aivision-ssr/internal/config"
	"aivision-ssr/internal/fetcher"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{configFlag: configFlag, verbose: verbose}
}

// ensureConfig loads the service configuration once. Without a file the
// defaults are used as-is: the CLI never talks to the Backend API, so no
// backend url is required.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			cfg := config.Default()
			c.config = &cfg
			return
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() config.Config {
	cfg, _ := c.ensureConfig()
	if cfg == nil {
		return config.Default()
	}
	return *cfg
}

func (c *commandContext) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if c.verbose != nil && *c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (c *commandContext) fetcher(userAgent string, timeout time.Duration) (*fetcher.HTTPFetcher, error) {
	cfg := c.configValue()
	return fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent:    userAgent,
		Timeout:      timeout,
		MaxBodyBytes: 4 << 20,
		ProxyURL:     cfg.Fetch.ProxyURL,
	})
}
