package types

import (
	"net/http"
	"time"
)

// ArtistPreview is the read-only projection of a backend artist record used
// to build a link preview.
type ArtistPreview struct {
	ID              string `json:"artist_id"`
	Name            string `json:"name"`
	BackgroundStory string `json:"background_story"`
	ImageURL        string `json:"image_url"`
	SongURL         string `json:"song_url,omitempty"`
	SongTitle       string `json:"song_title,omitempty"`
	MusicStyle      string `json:"music_style,omitempty"`
	Country         string `json:"country,omitempty"`
}

// RenderedPreview is the response artefact for one preview request.
type RenderedPreview struct {
	Status   int
	Header   http.Header
	Body     []byte
	ETag     string
	Degraded bool
}

// Response is the raw outcome of an outbound GET.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
	Latency     time.Duration
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}
