package preview

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aivision-ssr/internal/logging"
	"aivision-ssr/pkg/types"
)

// Stage names one step of the preview pipeline.
type Stage string

const (
	StageFetchArtist        Stage = "fetch_artist"
	StageResolveImage       Stage = "resolve_image"
	StageResolveDescription Stage = "resolve_description"
	StageSanitize           Stage = "sanitize"
	StageRender             Stage = "render"
	StageEmitHeaders        Stage = "emit_headers"
)

// Observer is the pipeline's diagnostic side channel.
type Observer interface {
	StageStarted(ctx context.Context, stage Stage, artistID string)
	StageCompleted(ctx context.Context, stage Stage, artistID string, elapsed time.Duration)
	StageFailed(ctx context.Context, stage Stage, artistID string, err error)
}

// ArtistObserver is implemented by observers that want the decoded artist
// record once the fetch stage succeeds.
type ArtistObserver interface {
	ArtistFetched(ctx context.Context, artistID string, artist types.ArtistPreview)
}

// LogObserver writes stage events to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) logger(ctx context.Context) *slog.Logger {
	l := o.Logger
	if l == nil {
		l = slog.Default()
	}
	if id := logging.RequestID(ctx); id != "" {
		l = l.With("request_id", id)
	}
	return l
}

func (o LogObserver) StageStarted(ctx context.Context, stage Stage, artistID string) {
	o.logger(ctx).DebugContext(ctx, "preview stage started", "stage", string(stage), "artist_id", artistID)
}

func (o LogObserver) StageCompleted(ctx context.Context, stage Stage, artistID string, elapsed time.Duration) {
	o.logger(ctx).DebugContext(ctx, "preview stage completed",
		"stage", string(stage),
		"artist_id", artistID,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

func (o LogObserver) StageFailed(ctx context.Context, stage Stage, artistID string, err error) {
	level := slog.LevelWarn
	if errors.Is(err, ErrUnexpectedRender) {
		level = slog.LevelError
	}
	o.logger(ctx).Log(ctx, level, "preview stage failed",
		"stage", string(stage),
		"artist_id", artistID,
		"error", err,
	)
}

// ArtistFetched logs the fields that never reach the document.
func (o LogObserver) ArtistFetched(ctx context.Context, artistID string, artist types.ArtistPreview) {
	o.logger(ctx).DebugContext(ctx, "artist fetched",
		"artist_id", artistID,
		"name", artist.Name,
		"song_title", artist.SongTitle,
		"music_style", artist.MusicStyle,
		"country", artist.Country,
	)
}

// Observers fans every event out to each member.
type Observers []Observer

func (m Observers) StageStarted(ctx context.Context, stage Stage, artistID string) {
	for _, o := range m {
		o.StageStarted(ctx, stage, artistID)
	}
}

func (m Observers) StageCompleted(ctx context.Context, stage Stage, artistID string, elapsed time.Duration) {
	for _, o := range m {
		o.StageCompleted(ctx, stage, artistID, elapsed)
	}
}

func (m Observers) StageFailed(ctx context.Context, stage Stage, artistID string, err error) {
	for _, o := range m {
		o.StageFailed(ctx, stage, artistID, err)
	}
}

func (m Observers) ArtistFetched(ctx context.Context, artistID string, artist types.ArtistPreview) {
	for _, o := range m {
		if ao, ok := o.(ArtistObserver); ok {
			ao.ArtistFetched(ctx, artistID, artist)
		}
	}
}
