// Package stream caches resolved playback URLs until shortly before they expire.
package stream

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/tones/tones/internal/provider"
)

const (
	defaultSize    = 64
	defaultMargin  = 30 * time.Second
	defaultTimeout = 15 * time.Second
)

// Source resolves a track id to a stream location.
type Source interface {
	GetStream(ctx context.Context, trackID string) (provider.StreamInfo, error)
}

type Options struct {
	// Size bounds the number of cached URLs. Zero means 64.
	Size int
	// Margin is how long before expiry a cached URL stops being served.
	// Zero means 30s.
	Margin time.Duration
	// Timeout bounds a shared lookup, which outlives any single caller.
	// Zero means 15s.
	Timeout time.Duration
	Now     func() time.Time
}

// Resolver serves cached stream URLs and coalesces concurrent lookups.
type Resolver struct {
	src     Source
	cache   *lru.Cache[string, provider.StreamInfo]
	group   singleflight.Group
	margin  time.Duration
	timeout time.Duration
	now     func() time.Time
}

func NewResolver(src Source, opts Options) (*Resolver, error) {
	if opts.Size <= 0 {
		opts.Size = defaultSize
	}
	if opts.Margin <= 0 {
		opts.Margin = defaultMargin
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cache, err := lru.New[string, provider.StreamInfo](opts.Size)
	if err != nil {
		return nil, fmt.Errorf("stream cache: %w", err)
	}
	return &Resolver{src: src, cache: cache, margin: opts.Margin, timeout: opts.Timeout, now: opts.Now}, nil
}

// Resolve returns a stream URL for trackID that stays valid for at least the
// configured margin.
func (r *Resolver) Resolve(ctx context.Context, trackID string) (provider.StreamInfo, error) {
	if info, ok := r.cache.Get(trackID); ok {
		if !info.Expired(r.now(), r.margin) {
			return info, nil
		}
		r.cache.Remove(trackID)
	}

	ch := r.group.DoChan(trackID, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		info, err := r.src.GetStream(sctx, trackID)
		if err != nil {
			return provider.StreamInfo{}, err
		}
		if !info.Expired(r.now(), r.margin) {
			r.cache.Add(trackID, info)
		}
		return info, nil
	})
	select {
	case <-ctx.Done():
		return provider.StreamInfo{}, fmt.Errorf("resolve stream %s: %w", trackID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return provider.StreamInfo{}, fmt.Errorf("resolve stream %s: %w", trackID, res.Err)
		}
		return res.Val.(provider.StreamInfo), nil
	}
}

// Invalidate drops a cached URL, typically after playback of it failed.
func (r *Resolver) Invalidate(trackID string) {
	r.cache.Remove(trackID)
	r.group.Forget(trackID)
}

// Len reports the number of cached entries.
func (r *Resolver) Len() int { return r.cache.Len() }
