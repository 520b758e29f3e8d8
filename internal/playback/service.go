package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tones/tones/internal/diagnostics"
	"github.com/tones/tones/internal/player"
	"github.com/tones/tones/internal/provider"
	"github.com/tones/tones/internal/queue"
)

const (
	tickInterval = 50 * time.Millisecond
	// loadMoreThreshold is how close to the end of the queue the next page
	// is requested.
	loadMoreThreshold = 5
	// staleEOF: an end-of-file this soon after loadfile belongs to the file
	// that was replaced.
	staleEOF = time.Second
)

// ErrStopped is returned by calls made after Run has returned.
var ErrStopped = errors.New("playback: service stopped")

type Options struct {
	Logger *slog.Logger
	Sink   diagnostics.Sink
	// NewEngine creates the crossfade secondary. Nil falls back to a
	// single-engine fade.
	NewEngine EngineFactory
	// Persister saves the queues periodically and on shutdown. Nil disables
	// persistence.
	Persister       *queue.Persister
	PersistInterval time.Duration
	// UserVolume is the 0..1 level chosen by the user.
	UserVolume     float64
	NormalizeAudio bool
	// SmoothTransition is the crossfade length; zero disables it.
	SmoothTransition time.Duration
	AutoLoadMore     bool
	HideExplicit     bool
	RequestTimeout   time.Duration
	TickInterval     time.Duration
	Now              func() time.Time
}

// state is owned by the Run goroutine.
type state struct {
	queue         *queue.Queue
	source        queue.Source
	sourceGen     uint64
	loadingMore   bool
	automix       []provider.Track
	automixGen    uint64
	playWhenReady bool
	buffering     bool
	idle          bool
	userVolume    float64
	volume        float64
	loadGen       uint64
	lastLoad      time.Time
	openFiles     int
	failures      int
	held          queue.Snapshot
	spawnSeq      uint64
	xf            crossfade
}

// Service plays the queue on an engine. All state lives on the goroutine
// running Run; other methods hand work to it and wait.
type Service struct {
	opts    Options
	logger  *slog.Logger
	sink    diagnostics.Sink
	engine  Engine
	streams StreamResolver
	now     func() time.Time

	cmds    chan func()
	stopped chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	st state
}

func New(engine Engine, streams StreamResolver, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = diagnostics.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = tickInterval
	}
	if opts.PersistInterval <= 0 {
		opts.PersistInterval = 30 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.UserVolume < 0 || opts.UserVolume > 1 {
		opts.UserVolume = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		opts:    opts,
		logger:  opts.Logger,
		sink:    opts.Sink,
		engine:  engine,
		streams: streams,
		now:     opts.Now,
		cmds:    make(chan func()),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.st.queue = queue.New()
	s.st.idle = true
	s.st.userVolume = opts.UserVolume
	s.st.volume = opts.UserVolume
	return s
}

// Run processes commands, engine events and ticks until ctx is done, then
// releases the secondary engine and saves the queues.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.stopped)
	defer s.cancel()

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	var persistC <-chan time.Time
	if s.opts.Persister != nil {
		t := time.NewTicker(s.opts.PersistInterval)
		defer t.Stop()
		persistC = t.C
	}
	events := s.engine.Events()
	s.restoreVolume()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case fn := <-s.cmds:
			fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				s.fail("engine", errors.New("engine event stream closed"))
				continue
			}
			s.onEngineEvent(ev)
		case <-ticker.C:
			s.tickTransition(s.now())
		case <-persistC:
			s.persistAsync()
		}
	}
}

// do runs fn on the loop goroutine and waits for it to finish.
func (s *Service) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { defer close(done); fn() }:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// post hands the result of background work to the loop. It reports false
// when the loop has exited.
func (s *Service) post(fn func()) bool {
	select {
	case s.cmds <- fn:
		return true
	case <-s.stopped:
		return false
	}
}

func (s *Service) shutdown() {
	s.endTransition()
	s.restoreVolume()
	if s.opts.Persister == nil {
		return
	}
	main, automix := s.snapshots()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.opts.Persister.SaveAll(ctx, main, automix); err != nil {
		s.logger.Warn("save queue on shutdown", slog.Any("err", err))
	}
}

func (s *Service) fail(op string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Warn("playback error", slog.String("op", op), slog.Any("err", err))
	s.sink.ReportException(diagnostics.WithOperation(s.ctx, op), fmt.Errorf("%s: %w", op, err))
}

// PlayQueue replaces the queue with src and starts playing it.
func (s *Service) PlayQueue(ctx context.Context, src queue.Source, playWhenReady bool) error {
	return s.do(ctx, func() { s.playQueue(src, playWhenReady) })
}

func (s *Service) playQueue(src queue.Source, playWhenReady bool) {
	s.cancelTransition()
	s.st.sourceGen++
	gen := s.st.sourceGen
	s.st.source = src
	s.st.loadingMore = false
	s.st.failures = 0
	s.st.held = queue.Snapshot{}
	s.st.queue.Clear()
	s.st.queue.SetTitle(src.Title())
	s.st.playWhenReady = playWhenReady
	s.st.loadGen++

	preload, hasPreload := src.PreloadItem()
	if hasPreload {
		s.st.queue.Replace([]provider.Track{preload}, 0)
		s.startCurrent(0, false)
		s.armMonitoring(0)
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
		defer cancel()
		status, err := src.InitialStatus(ctx)
		s.post(func() { s.onInitialStatus(gen, preload, hasPreload, status, err) })
	}()
}

func (s *Service) onInitialStatus(gen uint64, preload provider.Track, hasPreload bool, status queue.Status, err error) {
	if gen != s.st.sourceGen {
		return
	}
	if err != nil {
		s.fail("initial status", err)
		return
	}
	status = status.FilterExplicit(s.opts.HideExplicit)
	if hasPreload && s.st.idle {
		return
	}
	if status.Title != "" {
		s.st.queue.SetTitle(status.Title)
	}
	if len(status.Items) == 0 {
		return
	}
	idx := min(max(status.Index, 0), len(status.Items)-1)

	if hasPreload {
		before, after := status.Items[:idx], status.Items[idx:]
		if after[0].ID == preload.ID {
			after = after[1:]
		}
		_ = s.st.queue.Insert(0, before...)
		s.st.queue.Add(after...)
	} else {
		s.st.queue.Replace(status.Items, idx)
		s.startCurrent(status.Position, false)
		s.armMonitoring(0)
	}
	s.maybeLoadMore()
}

// startCurrent resolves and loads the current item. keepVolume leaves the
// level to an in-flight fade.
func (s *Service) startCurrent(start time.Duration, keepVolume bool) {
	track, err := s.st.queue.Current()
	if err != nil {
		s.goIdle()
		return
	}
	s.st.idle = false
	s.st.buffering = false
	s.st.loadGen++
	gen := s.st.loadGen
	if !keepVolume {
		s.restoreVolume()
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
		defer cancel()
		info, err := s.streams.Resolve(ctx, track.ID)
		s.post(func() { s.onResolved(gen, track, info, start, err) })
	}()
}

func (s *Service) onResolved(gen uint64, track provider.Track, info provider.StreamInfo, start time.Duration, err error) {
	if gen != s.st.loadGen {
		return
	}
	if err == nil {
		if perr := s.engine.SetPaused(!s.st.playWhenReady); perr != nil {
			s.logger.Debug("set paused before load", slog.Any("err", perr))
		}
		err = s.engine.Load(info.URL, info.Headers, start)
	}
	if err != nil {
		s.fail("load "+track.ID, err)
		s.streams.Invalidate(track.ID)
		s.skipBroken(start)
		return
	}
	s.st.lastLoad = s.now()
	s.st.openFiles++
	s.st.failures = 0
	s.st.held = queue.Snapshot{}
	s.logger.Info("playing", slog.String("track", track.ID), slog.String("title", track.Title), slog.Duration("start", start))
}

// skipBroken moves past an item that could not be loaded, giving up after
// every item failed once. The queue as it was before the first failure is
// held so that giving up does not erase the saved queue.
func (s *Service) skipBroken(at time.Duration) {
	if s.st.failures == 0 {
		s.st.held = s.st.queue.Snapshot(at)
	}
	s.st.failures++
	if s.st.failures >= s.st.queue.Len() {
		s.giveUp()
		return
	}
	if _, err := s.st.queue.SkipNext(); err != nil {
		s.giveUp()
		return
	}
	s.startCurrent(0, false)
	s.armMonitoring(0)
}

func (s *Service) giveUp() {
	held := s.st.held
	s.goIdle()
	s.st.held = held
	s.logger.Warn("no playable items, stopping", slog.Int("items", s.st.queue.Len()))
}

func (s *Service) goIdle() {
	s.st.idle = true
	s.st.held = queue.Snapshot{}
	s.st.loadGen++
	s.endTransition()
	s.restoreVolume()
}

func (s *Service) onEngineEvent(ev player.Event) {
	switch {
	case ev.Err != nil:
		s.fail("engine", ev.Err)
	case ev.Paused != nil:
		s.st.playWhenReady = !*ev.Paused
	case ev.Buffering != nil:
		s.st.buffering = *ev.Buffering
		if s.st.buffering && s.st.xf.phase == phaseTransitioning {
			s.cancelTransition()
		}
	case ev.Ended:
		s.closeFile()
		if s.st.idle || s.now().Sub(s.st.lastLoad) < staleEOF {
			return
		}
		s.onItemEnded()
	case ev.EndReason != "":
		if s.closeFile() > 0 || ev.EndReason != "error" || s.st.idle {
			return
		}
		s.onItemFailed()
	}
}

// closeFile matches an end-file with a load and reports how many loaded
// files are still waiting for theirs. Only at zero does the end-file belong
// to the current item.
func (s *Service) closeFile() int {
	if s.st.openFiles > 0 {
		s.st.openFiles--
	}
	return s.st.openFiles
}

// onItemFailed handles the engine giving up on the current stream, usually
// because its URL expired or the server refused it.
func (s *Service) onItemFailed() {
	track, err := s.st.queue.Current()
	if err != nil {
		return
	}
	s.cancelTransition()
	s.fail("play "+track.ID, errors.New("engine could not play stream"))
	s.streams.Invalidate(track.ID)
	s.skipBroken(s.engine.Position())
}

func (s *Service) onItemEnded() {
	if s.st.xf.phase == phaseTransitioning {
		switch {
		case s.st.xf.mode == modeCrossfade:
			s.completeCrossfade()
			return
		case s.st.xf.mode == modeFallback && s.st.xf.advanced:
			return
		}
		s.endTransition()
	}
	s.advance()
}

// advance moves to the next item after the current one ended.
func (s *Service) advance() {
	repeat := s.st.queue.RepeatMode() == queue.RepeatOne
	if _, err := s.st.queue.Next(); err != nil {
		s.goIdle()
		return
	}
	s.startCurrent(0, false)
	s.armMonitoring(0)
	s.onItemTransition(repeat)
}

func (s *Service) onItemTransition(repeat bool) {
	if !repeat {
		s.maybeLoadMore()
	}
}

func (s *Service) maybeLoadMore() {
	src := s.st.source
	if !s.opts.AutoLoadMore || s.st.loadingMore || src == nil || s.st.idle {
		return
	}
	if s.st.queue.Len()-s.st.queue.CurrentIndex() > loadMoreThreshold || !src.HasNextPage() {
		return
	}
	s.st.loadingMore = true
	gen := s.st.sourceGen
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
		defer cancel()
		items, err := src.NextPage(ctx)
		s.post(func() {
			if gen != s.st.sourceGen {
				return
			}
			s.st.loadingMore = false
			if err != nil {
				s.fail("next page", err)
				return
			}
			if s.st.idle {
				return
			}
			s.st.queue.Add(queue.FilterExplicit(items, s.opts.HideExplicit)...)
		})
	}()
}

func (s *Service) target() float64 {
	track, err := s.st.queue.Current()
	if err != nil {
		return s.st.userVolume
	}
	return s.levelFor(track)
}

// levelFor is the full volume of track at the user's level.
func (s *Service) levelFor(track provider.Track) float64 {
	return s.st.userVolume * NormalizeFactor(track.LoudnessDb, s.opts.NormalizeAudio)
}

func (s *Service) restoreVolume() { s.setMainVolume(s.target()) }

func (s *Service) setMainVolume(v float64) {
	s.st.volume = v
	if err := s.engine.SetVolume(v); err != nil {
		s.logger.Debug("set volume", slog.Any("err", err))
	}
}

// discontinuity cancels any transition before a user jump.
func (s *Service) discontinuity() {
	s.cancelTransition()
}

func (s *Service) SkipNext(ctx context.Context) error {
	return s.do(ctx, func() {
		s.discontinuity()
		if _, err := s.st.queue.SkipNext(); err != nil {
			return
		}
		s.startCurrent(0, false)
		s.armMonitoring(rearmDelay)
		s.onItemTransition(false)
	})
}

// SkipPrevious restarts the current item when past its first three seconds,
// otherwise moves to the previous item.
func (s *Service) SkipPrevious(ctx context.Context) error {
	return s.do(ctx, func() {
		s.discontinuity()
		if s.st.queue.CurrentIndex() <= 0 || s.engine.Position() > 3*time.Second {
			if err := s.engine.SeekTo(0); err != nil {
				s.fail("seek", err)
			}
			return
		}
		if _, err := s.st.queue.Prev(); err != nil {
			return
		}
		s.startCurrent(0, false)
		s.armMonitoring(rearmDelay)
	})
}

// PlayAt jumps to the item at index.
func (s *Service) PlayAt(ctx context.Context, index int) error {
	var err error
	if doErr := s.do(ctx, func() {
		if err = s.st.queue.SetCurrent(index); err != nil {
			return
		}
		s.discontinuity()
		s.st.playWhenReady = true
		s.startCurrent(0, false)
		s.armMonitoring(rearmDelay)
		s.onItemTransition(false)
	}); doErr != nil {
		return doErr
	}
	return err
}

func (s *Service) Seek(ctx context.Context, pos time.Duration) error {
	return s.do(ctx, func() {
		s.discontinuity()
		if err := s.engine.SeekTo(pos); err != nil {
			s.fail("seek", err)
		}
	})
}

func (s *Service) SetPaused(ctx context.Context, paused bool) error {
	return s.do(ctx, func() {
		if paused {
			s.discontinuity()
		}
		s.st.playWhenReady = !paused
		if err := s.engine.SetPaused(paused); err != nil {
			s.fail("pause", err)
		}
	})
}

// SetVolume sets the user volume, 0..1. A running fade picks it up on its
// next step.
func (s *Service) SetVolume(ctx context.Context, vol float64) error {
	return s.do(ctx, func() {
		s.st.userVolume = clamp01(vol)
		if s.st.xf.phase != phaseTransitioning {
			s.restoreVolume()
		}
	})
}

func (s *Service) SetRepeatMode(ctx context.Context, m queue.RepeatMode) error {
	return s.do(ctx, func() { s.st.queue.SetRepeatMode(m) })
}

func (s *Service) ToggleShuffle(ctx context.Context) error {
	return s.do(ctx, func() { s.st.queue.ToggleShuffle() })
}

// AddToQueue appends items, starting playback when nothing is playing.
func (s *Service) AddToQueue(ctx context.Context, items ...provider.Track) error {
	return s.do(ctx, func() { s.addToQueue(items) })
}

func (s *Service) addToQueue(items []provider.Track) {
	if len(items) == 0 {
		return
	}
	if s.st.idle {
		s.playQueue(queue.NewListSource("", items, 0, 0), true)
		return
	}
	s.st.queue.Add(items...)
}

// PlayNext inserts items right after the current one.
func (s *Service) PlayNext(ctx context.Context, items ...provider.Track) error {
	return s.do(ctx, func() { s.playNext(items) })
}

func (s *Service) playNext(items []provider.Track) {
	if len(items) == 0 {
		return
	}
	if s.st.idle {
		s.playQueue(queue.NewListSource("", items, 0, 0), true)
		return
	}
	s.st.queue.AddNext(items...)
}

// Restore loads saved queues. The main queue comes back paused at its saved
// position.
func (s *Service) Restore(ctx context.Context) error {
	if s.opts.Persister == nil {
		return nil
	}
	main, automix := s.opts.Persister.LoadAll(ctx)
	return s.do(ctx, func() {
		if !automix.Empty() {
			s.st.automix = automix.Items
		}
		if main.Empty() {
			return
		}
		s.playQueue(queue.NewListSource(main.Title, main.Items, main.Index, main.Position), false)
		s.st.queue.SetRepeatMode(main.Repeat)
	})
}

// Save writes both queues now.
func (s *Service) Save(ctx context.Context) error {
	if s.opts.Persister == nil {
		return nil
	}
	var main, automix queue.Snapshot
	if err := s.do(ctx, func() { main, automix = s.snapshots() }); err != nil {
		return err
	}
	return s.opts.Persister.SaveAll(ctx, main, automix)
}

func (s *Service) persistAsync() {
	main, automix := s.snapshots()
	go func() {
		ok, err := s.opts.Persister.TrySaveAll(s.ctx, main, automix)
		if !ok {
			s.logger.Debug("queue save already running, skipped")
			return
		}
		if err != nil {
			s.logger.Debug("periodic queue save failed", slog.Any("err", err))
		}
	}()
}

// snapshots captures both queues. An idle player saves an empty main queue,
// which removes its file, unless it gave up after every item failed.
func (s *Service) snapshots() (main, automix queue.Snapshot) {
	switch {
	case !s.st.idle && s.st.queue.Len() > 0:
		main = s.st.queue.Snapshot(s.engine.Position())
	case s.st.idle && !s.st.held.Empty():
		main = s.st.held
	}
	automix = queue.Snapshot{Items: append([]provider.Track(nil), s.st.automix...), Index: -1}
	return main, automix
}
