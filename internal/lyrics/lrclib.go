package lyrics

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tones/tones/internal/provider"
)

const (
	lrclibBaseURL   = "https://lrclib.net"
	lrclibTolerance = 2 * time.Second
)

type LrcLibOptions struct {
	BaseURL           string
	HTTPClient        *http.Client
	RequestsPerSecond float64
	Enabled           bool
}

// LrcLib queries the lrclib.net open lyrics database.
type LrcLib struct {
	baseURL string
	client  client
	enabled bool
}

func NewLrcLib(opts LrcLibOptions) *LrcLib {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = lrclibBaseURL
	}
	return &LrcLib{
		baseURL: base,
		client:  newClient(opts.HTTPClient, opts.RequestsPerSecond),
		enabled: opts.Enabled,
	}
}

func (l *LrcLib) Kind() Kind      { return KindLrcLib }
func (l *LrcLib) Name() string    { return "LrcLib" }
func (l *LrcLib) IsEnabled() bool { return l.enabled }

type lrclibRecord struct {
	ID           int     `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// text prefers time-synced LRC over plain text.
func (r lrclibRecord) text() string {
	if s := strings.TrimSpace(r.SyncedLyrics); s != "" {
		return s
	}
	return strings.TrimSpace(r.PlainLyrics)
}

func (r lrclibRecord) duration() time.Duration {
	return time.Duration(r.Duration * float64(time.Second))
}

func (l *LrcLib) GetLyrics(ctx context.Context, track provider.Track) (string, error) {
	q := url.Values{}
	q.Set("track_name", track.Title)
	q.Set("artist_name", track.ArtistName)
	if track.AlbumTitle != "" {
		q.Set("album_name", track.AlbumTitle)
	}
	if d := track.Duration(); d > 0 {
		q.Set("duration", strconv.Itoa(int(d.Round(time.Second)/time.Second)))
	}

	var rec lrclibRecord
	err := l.client.getJSON(ctx, l.baseURL+"/api/get?"+q.Encode(), &rec)
	switch {
	case err == nil && rec.text() != "":
		return rec.text(), nil
	case err != nil && !provider.IsNotFound(err):
		return "", err
	}

	candidates, err := l.search(ctx, track)
	if err != nil {
		return "", err
	}
	best := ""
	for _, c := range candidates {
		if strings.TrimSpace(c.SyncedLyrics) != "" {
			return c.text(), nil
		}
		if best == "" {
			best = c.text()
		}
	}
	if best == "" {
		return "", provider.ErrNotFound
	}
	return best, nil
}

func (l *LrcLib) GetAllLyrics(ctx context.Context, track provider.Track, emit func(string)) error {
	candidates, err := l.search(ctx, track)
	if err != nil {
		if provider.IsNotFound(err) {
			return nil
		}
		return err
	}
	seen := map[string]bool{}
	for _, c := range candidates {
		text := c.text()
		if seen[text] {
			continue
		}
		seen[text] = true
		emit(text)
	}
	return nil
}

// search returns candidates with lyrics whose duration matches the track.
func (l *LrcLib) search(ctx context.Context, track provider.Track) ([]lrclibRecord, error) {
	q := url.Values{}
	q.Set("track_name", track.Title)
	if track.ArtistName != "" {
		q.Set("artist_name", track.ArtistName)
	}
	var records []lrclibRecord
	if err := l.client.getJSON(ctx, l.baseURL+"/api/search?"+q.Encode(), &records); err != nil {
		return nil, err
	}
	out := records[:0]
	for _, r := range records {
		if r.text() == "" || !withinTolerance(r.duration(), track.Duration(), lrclibTolerance) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
