package lyrics

import (
	"context"
	"strings"

	"github.com/tones/tones/internal/provider"
)

// LyricsSource is the part of a music provider that serves lyrics.
type LyricsSource interface {
	GetLyrics(ctx context.Context, trackID string) (provider.Lyrics, error)
}

// Source asks the active music source for the lyrics it stores with a track.
type Source struct {
	src     LyricsSource
	enabled bool
}

func NewSource(src LyricsSource, enabled bool) *Source {
	return &Source{src: src, enabled: enabled && src != nil}
}

func (s *Source) Kind() Kind      { return KindSource }
func (s *Source) Name() string    { return "Source" }
func (s *Source) IsEnabled() bool { return s.enabled }

func (s *Source) GetLyrics(ctx context.Context, track provider.Track) (string, error) {
	l, err := s.src.GetLyrics(ctx, track.ID)
	if provider.IsNotSupported(err) {
		return "", provider.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(l.Text)
	if text == "" {
		return "", provider.ErrNotFound
	}
	return text, nil
}

func (s *Source) GetAllLyrics(ctx context.Context, track provider.Track, emit func(string)) error {
	text, err := s.GetLyrics(ctx, track)
	if err != nil {
		if provider.IsNotFound(err) {
			return nil
		}
		return err
	}
	emit(text)
	return nil
}
