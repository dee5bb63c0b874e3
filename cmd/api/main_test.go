package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aivision-ssr/internal/config"
)

func TestNewStoryLimiter(t *testing.T) {
	assert.Nil(t, newStoryLimiter(config.RateLimitConfig{}))
	assert.Nil(t, newStoryLimiter(config.RateLimitConfig{Requests: 5}))
	assert.Nil(t, newStoryLimiter(config.RateLimitConfig{Window: config.DurationFrom(time.Second)}))
	assert.NotNil(t, newStoryLimiter(config.RateLimitConfig{Requests: 5, Window: config.DurationFrom(time.Second)}))
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	assert.Equal(t, "", resolveConfigPath("configs/config.yaml"))
	assert.Equal(t, "custom.yaml", resolveConfigPath("custom.yaml"))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "config.yaml"), []byte("{}\n"), 0o644))
	assert.Equal(t, "configs/config.yaml", resolveConfigPath("configs/config.yaml"))
}
