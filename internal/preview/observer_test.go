package preview

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aivision-ssr/pkg/types"
)

func TestLogObserverRecordsArtistContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	backend := &fakeBackend{artists: map[string]types.ArtistPreview{
		"7": {
			ID:              "7",
			Name:            "Lumen",
			BackgroundStory: "Synth pop from the north.",
			ImageURL:        "https://cdn.example.com/l.png",
			SongTitle:       "Northern Glow",
			MusicStyle:      "synthpop",
			Country:         "Norway",
		},
	}}
	r, err := NewRenderer(backend, testOptions(), Observers{LogObserver{Logger: logger}})
	require.NoError(t, err)

	out, err := r.Render(context.Background(), "7")
	require.NoError(t, err)

	logs := buf.String()
	assert.Contains(t, logs, `msg="artist fetched"`)
	assert.Contains(t, logs, `song_title="Northern Glow"`)
	assert.Contains(t, logs, "music_style=synthpop")
	assert.Contains(t, logs, "country=Norway")
	assert.NotContains(t, string(out.Body), "Norway")
}

func TestArtistFetchedSkipsFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r, err := NewRenderer(&fakeBackend{}, testOptions(), LogObserver{Logger: logger})
	require.NoError(t, err)

	_, err = r.Render(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "artist fetched")
}
