package melodee

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tones/tones/internal/provider"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/authenticate" {
			json.NewEncoder(w).Encode(map[string]string{"accessToken": "fake-token"})
			return
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	p := New()
	cfg := map[string]any{
		"base_url": server.URL,
		"username": "user",
		"password": "pw",
	}
	if err := p.Initialize(context.Background(), cfg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return p
}

func TestProvider_Search(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/search/songs" && r.URL.Query().Get("q") == "test" {
			if r.URL.Query().Get("page") != "2" {
				t.Errorf("page = %s", r.URL.Query().Get("page"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"items":   []map[string]any{{"id": "1", "title": "Test Song", "explicit": true}},
				"total":   11,
				"hasMore": true,
			})
			return
		}
		w.WriteHeader(404)
	})

	page, err := p.ListTracks(context.Background(), provider.TrackQuery{Search: "test"}, provider.ListReq{Cursor: "10", PageSize: 10})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Title != "Test Song" || !page.Items[0].Explicit {
		t.Fatalf("items = %+v", page.Items)
	}
	if page.NextCursor != "20" {
		t.Fatalf("next cursor = %q", page.NextCursor)
	}
}

func TestProvider_GetStreamCarriesExpiry(t *testing.T) {
	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/songs/42" {
			json.NewEncoder(w).Encode(map[string]any{
				"id":        "42",
				"title":     "Song",
				"streamUrl": "https://cdn.example/42.mp3?expires=" + strconv.FormatInt(expires.Unix(), 10),
			})
			return
		}
		w.WriteHeader(404)
	})

	info, err := p.GetStream(context.Background(), "42")
	if err != nil {
		t.Fatal(err)
	}
	if !info.ExpiresAt.Equal(expires) {
		t.Fatalf("expires = %s", info.ExpiresAt)
	}
	if info.Headers["Authorization"] != "Bearer fake-token" {
		t.Fatalf("headers = %v", info.Headers)
	}
	if _, err := p.GetStream(context.Background(), "missing"); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestProvider_GetLyrics(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/songs/1/lyrics":
			json.NewEncoder(w).Encode(map[string]any{"plainLyrics": "la la"})
		case "/api/v1/songs/2/lyrics":
			json.NewEncoder(w).Encode(map[string]any{})
		default:
			w.WriteHeader(404)
		}
	})
	ctx := context.Background()
	l, err := p.GetLyrics(ctx, "1")
	if err != nil || l.Text != "la la" {
		t.Fatalf("lyrics = %q, %v", l.Text, err)
	}
	if _, err := p.GetLyrics(ctx, "2"); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("empty lyrics err = %v", err)
	}
}

func TestProvider_ReauthenticatesOnce(t *testing.T) {
	var calls atomic.Int32
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "7", "title": "Again"})
	})
	track, err := p.GetTrack(context.Background(), "7")
	if err != nil || track.Title != "Again" {
		t.Fatalf("track = %+v, %v", track, err)
	}
}

func TestProvider_StatusMapping(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	if _, err := p.ListTracks(context.Background(), provider.TrackQuery{AlbumID: "a"}, provider.ListReq{}); !provider.IsRetryable(err) {
		t.Fatalf("err = %v", err)
	}
}
