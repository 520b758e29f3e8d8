// Package playback drives the audio engine from the play queue: it owns the
// queue, persists it, pages in more items, and crossfades between tracks.
package playback

import (
	"context"
	"time"

	"github.com/tones/tones/internal/player"
	"github.com/tones/tones/internal/provider"
)

// Engine is one audio output. *player.Controller implements it.
type Engine interface {
	Load(url string, headers map[string]string, start time.Duration) error
	SetPaused(paused bool) error
	// SetVolume takes a 0..1 level.
	SetVolume(vol float64) error
	SeekTo(pos time.Duration) error
	Position() time.Duration
	Duration() time.Duration
	Events() <-chan player.Event
	Close() error
}

// EngineFactory creates the short-lived secondary engine used for crossfades.
type EngineFactory func(ctx context.Context) (Engine, error)

// StreamResolver turns track ids into playable URLs.
type StreamResolver interface {
	Resolve(ctx context.Context, trackID string) (provider.StreamInfo, error)
	Invalidate(trackID string)
}

// MPVFactory spawns secondary mpv instances configured like opts, each on a
// fresh IPC path. Their events are dropped; the service only polls them.
func MPVFactory(opts player.Options) EngineFactory {
	return func(ctx context.Context) (Engine, error) {
		o := opts
		o.IPCPath = ""
		o.DropEvents = true
		c, err := player.Spawn(ctx, o)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

var _ Engine = (*player.Controller)(nil)
