// Package lyrics fetches lyrics for the current track from an ordered list of
// providers, caching recent results.
package lyrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/tones/tones/internal/provider"
)

// NotFound is returned in place of lyrics text when no provider had any.
const NotFound = "LYRICS_NOT_FOUND"

// Kind enumerates the known lyrics providers.
type Kind int

const (
	KindLrcLib Kind = iota
	KindKuGou
	KindSource
)

func (k Kind) String() string {
	switch k {
	case KindLrcLib:
		return "lrclib"
	case KindKuGou:
		return "kugou"
	case KindSource:
		return "source"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a config name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "lrclib":
		return KindLrcLib, nil
	case "kugou":
		return KindKuGou, nil
	case "source":
		return KindSource, nil
	}
	return 0, fmt.Errorf("unknown lyrics provider %q", name)
}

// Result is one provider's lyrics for a track.
type Result struct {
	ProviderName string `json:"provider"`
	Lyrics       string `json:"lyrics"`
}

// Provider fetches lyrics from one backend.
type Provider interface {
	Kind() Kind
	Name() string
	IsEnabled() bool
	// GetLyrics returns the best lyrics for track, or provider.ErrNotFound.
	GetLyrics(ctx context.Context, track provider.Track) (string, error)
	// GetAllLyrics calls emit once per distinct candidate, synchronously.
	GetAllLyrics(ctx context.Context, track provider.Track, emit func(string)) error
}

var pureMusic = strings.NewReplacer(
	"纯音乐, 请欣赏", "Pure Music, Please Enjoy",
	"纯音乐，请欣赏", "Pure Music, Please Enjoy",
	"纯音乐", "Pure Music",
	"请欣赏", "Please Enjoy",
)

// Normalize rewrites the Chinese "instrumental, please enjoy" placeholder
// some providers return for instrumentals. NotFound passes through untouched.
func Normalize(text string) string {
	if text == NotFound {
		return text
	}
	return pureMusic.Replace(text)
}
