package provider

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

type Capability string

const (
	CapPlaylists Capability = "playlists"
	CapLyrics    Capability = "lyrics"
	CapLoudness  Capability = "loudness"
)

type Capabilities map[Capability]bool

type ListReq struct {
	Cursor   string
	PageSize int
}

type Page[T any] struct {
	Items      []T
	NextCursor string
	TotalHint  int
}

// HasMore reports whether another page can be requested with NextCursor.
func (p Page[T]) HasMore() bool { return p.NextCursor != "" }

// TrackQuery selects which tracks ListTracks enumerates. At most one field
// is expected to be set; an empty query lists the whole library.
type TrackQuery struct {
	AlbumID    string
	ArtistID   string
	PlaylistID string
	Search     string
}

// StreamInfo is a resolved playback location. ExpiresAt is zero when the
// URL does not expire.
type StreamInfo struct {
	URL       string
	Headers   map[string]string
	ExpiresAt time.Time
}

// Expired reports whether the stream URL is expired, or will be within margin.
func (s StreamInfo) Expired(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

type Provider interface {
	ID() string
	Name() string
	Capabilities() Capabilities

	Initialize(ctx context.Context, profileCfg any) error
	Health(ctx context.Context) (bool, string)

	ListTracks(ctx context.Context, q TrackQuery, req ListReq) (Page[Track], error)
	GetTrack(ctx context.Context, id string) (Track, error)

	GetStream(ctx context.Context, trackId string) (StreamInfo, error)
	GetLyrics(ctx context.Context, trackId string) (Lyrics, error)
}

type Track struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	ArtistID    string   `json:"artistId,omitempty"`
	ArtistName  string   `json:"artistName"`
	AlbumID     string   `json:"albumId,omitempty"`
	AlbumTitle  string   `json:"albumTitle,omitempty"`
	DurationMs  int      `json:"durationMs"`
	TrackNo     int      `json:"trackNo,omitempty"`
	DiscNo      int      `json:"discNo,omitempty"`
	Codec       string   `json:"codec,omitempty"`
	BitrateKbps int      `json:"bitrateKbps,omitempty"`
	Explicit    bool     `json:"explicit,omitempty"`
	LoudnessDb  *float64 `json:"loudnessDb,omitempty"`
	StreamURL   string   `json:"streamUrl,omitempty"`
}

// Duration returns the track length, zero when unknown.
func (t Track) Duration() time.Duration {
	if t.DurationMs <= 0 {
		return 0
	}
	return time.Duration(t.DurationMs) * time.Millisecond
}

type Lyrics struct {
	Text string
}

// ExpiryFromURL reads the unix expiry carried by signed stream URLs
// ("expire" or "expires" query parameter). When neither is present the URL
// is assumed valid for fallback from now; a zero fallback means no expiry.
func ExpiryFromURL(raw string, now time.Time, fallback time.Duration) time.Time {
	u, err := url.Parse(raw)
	if err == nil {
		q := u.Query()
		for _, key := range []string{"expire", "expires"} {
			if v := q.Get(key); v != "" {
				if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
					return time.Unix(secs, 0)
				}
			}
		}
	}
	if fallback <= 0 {
		return time.Time{}
	}
	return now.Add(fallback)
}
