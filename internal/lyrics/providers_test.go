package lyrics

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/tones/tones/internal/provider"
)

func TestLrcLibGetPrefersSynced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/get" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("track_name") != "Blue in Green" || q.Get("artist_name") != "Miles Davis" || q.Get("duration") != "337" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"plainLyrics":  "plain",
			"syncedLyrics": "[00:01.00]synced",
			"duration":     337,
		})
	}))
	defer srv.Close()

	l := NewLrcLib(LrcLibOptions{BaseURL: srv.URL, Enabled: true})
	got, err := l.GetLyrics(context.Background(), song)
	if err != nil {
		t.Fatalf("GetLyrics: %v", err)
	}
	if got != "[00:01.00]synced" {
		t.Fatalf("got %q", got)
	}
}

func TestLrcLibFallsBackToSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/get":
			http.NotFound(w, r)
		case "/api/search":
			json.NewEncoder(w).Encode([]map[string]any{
				{"plainLyrics": "wrong length", "duration": 200},
				{"plainLyrics": "plain only", "duration": 336},
				{"plainLyrics": "p", "syncedLyrics": "[00:02.00]match", "duration": 338},
			})
		}
	}))
	defer srv.Close()

	l := NewLrcLib(LrcLibOptions{BaseURL: srv.URL, Enabled: true})
	got, err := l.GetLyrics(context.Background(), song)
	if err != nil {
		t.Fatalf("GetLyrics: %v", err)
	}
	if got != "[00:02.00]match" {
		t.Fatalf("got %q", got)
	}

	var all []string
	if err := l.GetAllLyrics(context.Background(), song, func(s string) { all = append(all, s) }); err != nil {
		t.Fatalf("GetAllLyrics: %v", err)
	}
	if want := []string{"plain only", "[00:02.00]match"}; !reflect.DeepEqual(all, want) {
		t.Fatalf("all = %v, want %v", all, want)
	}
}

func TestLrcLibNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/search" {
			w.Write([]byte("[]"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	l := NewLrcLib(LrcLibOptions{BaseURL: srv.URL, Enabled: true})
	if _, err := l.GetLyrics(context.Background(), song); !provider.IsNotFound(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestLrcLibServerErrorIsTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	l := NewLrcLib(LrcLibOptions{BaseURL: srv.URL, Enabled: true})
	if _, err := l.GetLyrics(context.Background(), song); !provider.IsTemporary(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestKuGouSearchAndDownload(t *testing.T) {
	lrc := "[id:$00000000]\n[ar:Miles Davis]\n[ti:Blue in Green]\n[00:01.00]line one\n[00:05.00]line two\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/search/song":
			if r.URL.Query().Get("keyword") != "Blue in Green - Miles Davis" {
				t.Errorf("keyword = %q", r.URL.Query().Get("keyword"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status": 1,
				"data": map[string]any{"info": []map[string]any{
					{"hash": "far", "duration": 120, "songname": "x", "singername": "y"},
					{"hash": "abc", "duration": 337, "songname": "Blue in Green", "singername": "Miles Davis"},
				}},
			})
		case "/search":
			if r.URL.Query().Get("hash") != "abc" {
				t.Errorf("hash = %q", r.URL.Query().Get("hash"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status":     200,
				"candidates": []map[string]any{{"id": "1", "accesskey": "k1", "duration": 337000}},
			})
		case "/download":
			json.NewEncoder(w).Encode(map[string]any{
				"status":  200,
				"content": base64.StdEncoding.EncodeToString([]byte(lrc)),
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	k := NewKuGou(KuGouOptions{SearchURL: srv.URL, CandidateURL: srv.URL, DownloadURL: srv.URL, Enabled: true})
	got, err := k.GetLyrics(context.Background(), song)
	if err != nil {
		t.Fatalf("GetLyrics: %v", err)
	}
	if got != "[00:01.00]line one\n[00:05.00]line two" {
		t.Fatalf("got %q", got)
	}
}

func TestKuGouNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":1,"data":{"info":[]}}`))
	}))
	defer srv.Close()

	k := NewKuGou(KuGouOptions{SearchURL: srv.URL, Enabled: true})
	if _, err := k.GetLyrics(context.Background(), song); !provider.IsNotFound(err) {
		t.Fatalf("err = %v", err)
	}
}

type stubLyricsSource struct {
	text string
	err  error
}

func (s stubLyricsSource) GetLyrics(context.Context, string) (provider.Lyrics, error) {
	return provider.Lyrics{Text: s.text}, s.err
}

func TestSourceProvider(t *testing.T) {
	s := NewSource(stubLyricsSource{text: " embedded \n"}, true)
	got, err := s.GetLyrics(context.Background(), song)
	if err != nil || got != "embedded" {
		t.Fatalf("got %q, %v", got, err)
	}

	unsupported := NewSource(stubLyricsSource{err: provider.ErrNotSupported}, true)
	if _, err := unsupported.GetLyrics(context.Background(), song); !provider.IsNotFound(err) {
		t.Fatalf("not supported should read as not found, got %v", err)
	}
	var emitted []string
	if err := unsupported.GetAllLyrics(context.Background(), song, func(s string) { emitted = append(emitted, s) }); err != nil || len(emitted) != 0 {
		t.Fatalf("GetAllLyrics = %v, %v", emitted, err)
	}

	if NewSource(nil, true).IsEnabled() {
		t.Fatal("source without a backend must be disabled")
	}
}

func TestParseKind(t *testing.T) {
	for name, want := range map[string]Kind{"lrclib": KindLrcLib, "KuGou": KindKuGou, " source ": KindSource} {
		got, err := ParseKind(name)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseKind("genius"); err == nil {
		t.Fatal("expected error")
	}
}
