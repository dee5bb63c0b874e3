package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aivision-ssr/internal/fetcher"
)

type recordedCall struct {
	call   string
	status int
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (o *recordingObserver) ObserveCall(call string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, recordedCall{call: call, status: status})
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/artist/42", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Nova Wave","background_story":"A rising star.","image_url":"https://cdn.example.com/x.png","song_url":"https://cdn.example.com/x.mp3"}`))
	})
	mux.HandleFunc("/artist/broken", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":`))
	})
	mux.HandleFunc("/presign-image", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("url") {
		case "https://bucket.s3.amazonaws.com/a b.png":
			_, _ = w.Write([]byte(`{"presignedUrl":"https://bucket.s3.amazonaws.com/a%20b.png?X-Amz-Signature=abc"}`))
		case "https://bucket.s3.amazonaws.com/empty.png":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.Error(w, "denied", http.StatusForbidden)
		}
	})
	mux.HandleFunc("/stories/backstory.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("Born in a data centre."))
	})
	return httptest.NewServer(mux)
}

func newClient(t *testing.T, base string, obs Observer) *Client {
	t.Helper()
	f, err := fetcher.NewHTTPFetcher(fetcher.Options{Timeout: time.Second})
	require.NoError(t, err)
	c, err := NewClient(f, Options{BaseURL: base + "/", Timeout: time.Second, Observer: obs})
	require.NoError(t, err)
	return c
}

func TestArtist(t *testing.T) {
	srv := newBackend(t)
	defer srv.Close()
	obs := &recordingObserver{}
	c := newClient(t, srv.URL, obs)

	artist, err := c.Artist(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", artist.ID)
	assert.Equal(t, "Nova Wave", artist.Name)
	assert.Equal(t, "A rising star.", artist.BackgroundStory)
	assert.Equal(t, "https://cdn.example.com/x.png", artist.ImageURL)
	assert.Equal(t, "https://cdn.example.com/x.mp3", artist.SongURL)
	assert.Equal(t, []recordedCall{{call: "artist", status: http.StatusOK}}, obs.calls)
}

func TestArtistFailures(t *testing.T) {
	srv := newBackend(t)
	defer srv.Close()
	c := newClient(t, srv.URL, nil)

	_, err := c.Artist(context.Background(), "missing")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)

	_, err = c.Artist(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode artist")

	dead := newClient(t, "http://127.0.0.1:1", nil)
	_, err = dead.Artist(context.Background(), "42")
	require.Error(t, err)
}

func TestPresignImage(t *testing.T) {
	srv := newBackend(t)
	defer srv.Close()
	c := newClient(t, srv.URL, nil)

	got, err := c.PresignImage(context.Background(), "https://bucket.s3.amazonaws.com/a b.png")
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.s3.amazonaws.com/a%20b.png?X-Amz-Signature=abc", got)

	_, err = c.PresignImage(context.Background(), "https://bucket.s3.amazonaws.com/empty.png")
	require.ErrorIs(t, err, ErrInvalidPresign)

	_, err = c.PresignImage(context.Background(), "https://bucket.s3.amazonaws.com/other.png")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
}

func TestStoryText(t *testing.T) {
	srv := newBackend(t)
	defer srv.Close()
	c := newClient(t, srv.URL, nil)

	body, contentType, err := c.StoryText(context.Background(), srv.URL+"/stories/backstory.txt")
	require.NoError(t, err)
	assert.Equal(t, "Born in a data centre.", body)
	assert.Equal(t, "text/plain", contentType)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(nil, Options{BaseURL: "https://api.example.com"})
	require.Error(t, err)

	f, err := fetcher.NewHTTPFetcher(fetcher.Options{})
	require.NoError(t, err)
	_, err = NewClient(f, Options{})
	require.Error(t, err)
}

func TestStoryFetcherDoesNotCarryBackendHeaders(t *testing.T) {
	var gotKey string
	story := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		_, _ = w.Write([]byte("story"))
	}))
	defer story.Close()

	backendFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{Headers: map[string]string{"X-Api-Key": "secret"}})
	require.NoError(t, err)
	storyFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{})
	require.NoError(t, err)
	c, err := NewClient(backendFetcher, Options{BaseURL: "https://api.example.com", StoryFetcher: storyFetcher})
	require.NoError(t, err)

	body, _, err := c.StoryText(context.Background(), story.URL+"/backstory.txt")
	require.NoError(t, err)
	assert.Equal(t, "story", body)
	assert.Empty(t, gotKey)
}
