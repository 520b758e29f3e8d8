package lyrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"

	"github.com/tones/tones/internal/diagnostics"
	"github.com/tones/tones/internal/provider"
)

const cacheSize = 3

// ErrSuperseded is returned by Lookup when a newer request replaced it.
var ErrSuperseded = errors.New("lyrics: request superseded")

type Options struct {
	Logger *slog.Logger
	Sink   diagnostics.Sink
}

// Helper runs lyrics requests against its providers. Only one request is
// live at a time: starting a new one cancels the previous, and a cancelled
// request never writes the cache.
type Helper struct {
	logger *slog.Logger
	sink   diagnostics.Sink
	cache  *lru.Cache[string, []Result]

	mu        sync.Mutex
	providers []Provider
	gen       uint64
	cancel    context.CancelFunc
}

// NewHelper builds a helper over providers in their default priority order.
func NewHelper(providers []Provider, opts Options) *Helper {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = diagnostics.Nop{}
	}
	cache, _ := lru.New[string, []Result](cacheSize)
	return &Helper{
		logger:    opts.Logger,
		sink:      opts.Sink,
		cache:     cache,
		providers: append([]Provider(nil), providers...),
	}
}

// SetPreferred moves the providers of kind to the front, keeping the
// relative order of everything else.
func (h *Helper) SetPreferred(kind Kind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	isKind := func(p Provider, _ int) bool { return p.Kind() == kind }
	h.providers = append(lo.Filter(h.providers, isKind), lo.Reject(h.providers, isKind)...)
}

// Order returns the provider kinds in query order.
func (h *Helper) Order() []Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	return lo.Map(h.providers, func(p Provider, _ int) Kind { return p.Kind() })
}

// Cancel aborts the in-flight request, if any.
func (h *Helper) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.gen++
}

func (h *Helper) begin(ctx context.Context) (context.Context, uint64, []Provider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
	h.gen++
	reqCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	return reqCtx, h.gen, append([]Provider(nil), h.providers...)
}

func (h *Helper) finish(gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen == gen && h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// store caches results unless the request that produced them was superseded.
func (h *Helper) store(ctx context.Context, gen uint64, key string, results []Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen || ctx.Err() != nil {
		return
	}
	h.cache.Add(key, results)
}

// GetLyrics returns the first lyrics any enabled provider finds for track, in
// priority order, or NotFound.
func (h *Helper) GetLyrics(ctx context.Context, track provider.Track) string {
	text, err := h.Lookup(ctx, track)
	if err != nil {
		return NotFound
	}
	return text
}

// Lookup is GetLyrics for callers that keep the answer. A request that was
// cancelled or superseded returns an error instead of NotFound, so it is
// not mistaken for a miss.
func (h *Helper) Lookup(ctx context.Context, track provider.Track) (string, error) {
	parent := ctx
	ctx, gen, providers := h.begin(ctx)
	defer h.finish(gen)

	if cached, ok := h.cache.Get(track.ID); ok && len(cached) > 0 {
		return Normalize(cached[0].Lyrics), nil
	}

	for _, p := range providers {
		if err := interrupted(parent, ctx); err != nil {
			return "", err
		}
		if !p.IsEnabled() {
			continue
		}
		text, err := p.GetLyrics(ctx, track)
		if err != nil {
			h.fail(ctx, p, track, err)
			continue
		}
		text = Normalize(text)
		h.store(ctx, gen, track.ID, []Result{{ProviderName: p.Name(), Lyrics: text}})
		return text, nil
	}
	if err := interrupted(parent, ctx); err != nil {
		return "", err
	}
	return NotFound, nil
}

// interrupted reports why a request context made by begin was cancelled.
func interrupted(parent, ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrSuperseded
}

// GetAllLyrics asks every enabled provider and passes each result to fn as it
// arrives. Results are cached per artist and title; a cache hit replays them.
// When nothing is found fn receives NotFound once with an empty provider name.
func (h *Helper) GetAllLyrics(ctx context.Context, track provider.Track, fn func(Result)) {
	ctx, gen, providers := h.begin(ctx)
	defer h.finish(gen)

	key := allKey(track)
	if cached, ok := h.cache.Get(key); ok {
		for _, r := range cached {
			fn(r)
		}
		return
	}

	var all []Result
	for _, p := range providers {
		if ctx.Err() != nil {
			return
		}
		if !p.IsEnabled() {
			continue
		}
		err := p.GetAllLyrics(ctx, track, func(text string) {
			if ctx.Err() != nil {
				return
			}
			r := Result{ProviderName: p.Name(), Lyrics: Normalize(text)}
			all = append(all, r)
			fn(r)
		})
		if err != nil {
			h.fail(ctx, p, track, err)
		}
	}
	if ctx.Err() != nil {
		return
	}
	if len(all) == 0 {
		fn(Result{Lyrics: NotFound})
		return
	}
	h.store(ctx, gen, key, all)
}

func (h *Helper) fail(ctx context.Context, p Provider, track provider.Track, err error) {
	if ctx.Err() != nil {
		return
	}
	if provider.IsNotFound(err) {
		h.logger.Debug("lyrics not found", slog.String("provider", p.Name()), slog.String("track", track.ID))
		return
	}
	h.logger.Warn("lyrics provider failed", slog.String("provider", p.Name()), slog.String("track", track.ID), slog.Any("err", err))
	h.sink.ReportException(diagnostics.WithOperation(ctx, "lyrics"), fmt.Errorf("lyrics %s: %w", p.Name(), err))
}

func allKey(track provider.Track) string {
	return strings.ReplaceAll(track.ArtistName+"-"+track.Title, " ", "")
}
