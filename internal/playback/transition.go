package playback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tones/tones/internal/provider"
	"github.com/tones/tones/internal/queue"
)

// rearmDelay is how long monitoring waits after a seek or skip cancelled a
// transition.
const rearmDelay = 500 * time.Millisecond

type phase int

const (
	phaseIdle phase = iota
	phaseMonitoring
	phaseTransitioning
)

func (p phase) String() string {
	switch p {
	case phaseMonitoring:
		return "monitoring"
	case phaseTransitioning:
		return "transitioning"
	default:
		return "idle"
	}
}

type fadeMode int

const (
	// modeCrossfade plays the next item on a secondary engine while the
	// main engine fades out.
	modeCrossfade fadeMode = iota
	// modeFallback fades the main engine out, advances it, and fades in.
	modeFallback
	// modeFadeOut fades to silence at the end of the queue.
	modeFadeOut
)

// crossfade is the smooth transition state. At most one transition is in
// flight and the secondary engine belongs to it alone.
type crossfade struct {
	phase    phase
	mode     fadeMode
	armAt    time.Time
	started  time.Time
	duration time.Duration
	next     provider.Track
	advanced bool

	secondary Engine
	// spawnGen is non-zero while a secondary engine is being created.
	spawnGen uint64
}

func (s *Service) armMonitoring(delay time.Duration) {
	xf := &s.st.xf
	if s.opts.SmoothTransition <= 0 {
		xf.phase = phaseIdle
		return
	}
	xf.phase = phaseMonitoring
	xf.armAt = s.now().Add(delay)
}

func (s *Service) tickTransition(now time.Time) {
	xf := &s.st.xf
	switch xf.phase {
	case phaseMonitoring:
		if now.Before(xf.armAt) || s.st.idle || s.st.buffering || !s.st.playWhenReady {
			return
		}
		total := s.engine.Duration()
		if total <= 0 {
			return
		}
		remaining := total - s.engine.Position()
		if remaining > 0 && remaining <= s.opts.SmoothTransition {
			s.beginTransition(now)
		}
	case phaseTransitioning:
		s.stepTransition(now)
	}
}

func (s *Service) beginTransition(now time.Time) {
	xf := &s.st.xf
	xf.phase = phaseTransitioning
	xf.started = now
	xf.duration = s.opts.SmoothTransition
	xf.advanced = false
	xf.secondary = nil

	next, err := s.st.queue.PeekNext()
	switch {
	case err != nil:
		xf.mode = modeFadeOut
	case s.opts.NewEngine == nil:
		xf.mode = modeFallback
		xf.next = next
	default:
		xf.mode = modeCrossfade
		xf.next = next
		s.spawnSecondary(next)
	}
	s.logger.Debug("smooth transition started", slog.Int("mode", int(xf.mode)), slog.String("next", xf.next.ID))
}

func (s *Service) spawnSecondary(next provider.Track) {
	s.st.spawnSeq++
	gen := s.st.spawnSeq
	s.st.xf.spawnGen = gen
	go func() {
		eng, err := s.prepareSecondary(next)
		if !s.post(func() { s.onSecondary(gen, eng, err) }) && eng != nil {
			eng.Close()
		}
	}()
}

// prepareSecondary runs off the loop goroutine; the engine is not shared
// until onSecondary adopts it.
func (s *Service) prepareSecondary(next provider.Track) (Engine, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
	defer cancel()
	eng, err := s.opts.NewEngine(ctx)
	if err != nil {
		return nil, fmt.Errorf("create secondary engine: %w", err)
	}
	info, err := s.streams.Resolve(ctx, next.ID)
	if err != nil {
		eng.Close()
		return nil, err
	}
	if err := eng.SetVolume(0); err != nil {
		eng.Close()
		return nil, fmt.Errorf("mute secondary engine: %w", err)
	}
	if err := eng.Load(info.URL, info.Headers, 0); err != nil {
		eng.Close()
		return nil, fmt.Errorf("load secondary engine: %w", err)
	}
	return eng, nil
}

func (s *Service) onSecondary(gen uint64, eng Engine, err error) {
	xf := &s.st.xf
	if xf.phase != phaseTransitioning || xf.spawnGen != gen {
		// The transition it was created for is gone.
		if eng != nil {
			s.release(eng)
		}
		return
	}
	xf.spawnGen = 0
	if err != nil {
		s.fail("secondary engine", err)
		xf.mode = modeFallback
		return
	}
	xf.secondary = eng
}

func (s *Service) stepTransition(now time.Time) {
	xf := &s.st.xf
	p := Progress(now.Sub(xf.started), xf.duration)
	target := s.target()

	switch xf.mode {
	case modeFadeOut:
		// Held at silence until the item ends or playback is interrupted.
		s.setMainVolume(FadeOut(p, target))

	case modeCrossfade:
		out, in := CrossfadeLevels(p, target, s.levelFor(xf.next))
		s.setMainVolume(out)
		if xf.secondary != nil {
			if err := xf.secondary.SetVolume(in); err != nil {
				s.logger.Debug("secondary volume", slog.Any("err", err))
			}
		}
		if p >= 1 {
			s.completeCrossfade()
		}

	case modeFallback:
		if p < 0.5 {
			s.setMainVolume(FadeOut(p*2, target))
			return
		}
		if !xf.advanced {
			xf.advanced = true
			repeat := s.st.queue.RepeatMode()
			if _, err := s.st.queue.Next(); err != nil {
				s.endTransition()
				s.goIdle()
				return
			}
			s.startCurrent(0, true)
			s.onItemTransition(repeat == queue.RepeatOne)
			target = s.target()
		}
		s.setMainVolume(FadeIn((p-0.5)*2, target))
		if p >= 1 {
			s.endTransition()
			s.restoreVolume()
			s.armMonitoring(0)
		}
	}
}

// completeCrossfade hands playback from the secondary engine back to the
// main one at the position the secondary reached.
func (s *Service) completeCrossfade() {
	xf := &s.st.xf
	var pos time.Duration
	if xf.secondary != nil {
		pos = xf.secondary.Position()
	}
	expected := xf.next.ID
	s.endTransition()

	peek, err := s.st.queue.PeekNext()
	if err != nil || peek.ID != expected {
		// The queue changed under the transition.
		pos = 0
	}
	repeat := s.st.queue.RepeatMode()
	if _, err := s.st.queue.Next(); err != nil {
		s.goIdle()
		return
	}
	s.startCurrent(pos, false)
	s.armMonitoring(0)
	s.onItemTransition(repeat == queue.RepeatOne)
}

// endTransition drops the transition state and releases the secondary.
func (s *Service) endTransition() {
	xf := &s.st.xf
	if xf.secondary != nil {
		s.release(xf.secondary)
	}
	xf.secondary = nil
	xf.spawnGen = 0
	xf.advanced = false
	xf.next = provider.Track{}
	xf.phase = phaseIdle
}

// cancelTransition aborts an in-flight transition on a discontinuity such as
// a seek or skip, restoring the volume immediately.
func (s *Service) cancelTransition() {
	was := s.st.xf.phase == phaseTransitioning
	s.endTransition()
	if was {
		s.restoreVolume()
		s.logger.Debug("smooth transition cancelled")
	}
	s.armMonitoring(rearmDelay)
}

func (s *Service) release(eng Engine) {
	go func() {
		if err := eng.Close(); err != nil {
			s.logger.Debug("release secondary engine", slog.Any("err", err))
		}
	}()
}
