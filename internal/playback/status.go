package playback

import (
	"context"

	"github.com/tones/tones/internal/provider"
	"github.com/tones/tones/internal/queue"
)

// Status is a point-in-time view of the service.
type Status struct {
	Title           string           `json:"title"`
	Current         *provider.Track  `json:"current,omitempty"`
	Index           int              `json:"index"`
	Items           []provider.Track `json:"items"`
	Automix         []provider.Track `json:"automix"`
	PositionMs      int64            `json:"positionMs"`
	DurationMs      int64            `json:"durationMs"`
	Paused          bool             `json:"paused"`
	Buffering       bool             `json:"buffering"`
	Idle            bool             `json:"idle"`
	Volume          float64          `json:"volume"`
	NormalizeFactor float64          `json:"normalizeFactor"`
	Transition      string           `json:"transition"`
	Repeat          string           `json:"repeat"`
	Shuffled        bool             `json:"shuffled"`
	HasMore         bool             `json:"hasMore"`
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.do(ctx, func() { st = s.status() })
	return st, err
}

func (s *Service) status() Status {
	q := s.st.queue
	st := Status{
		Title:           q.Title(),
		Index:           q.CurrentIndex(),
		Items:           q.Items(),
		Automix:         append([]provider.Track{}, s.st.automix...),
		Paused:          !s.st.playWhenReady,
		Buffering:       s.st.buffering,
		Idle:            s.st.idle,
		Volume:          s.st.userVolume,
		NormalizeFactor: 1,
		Transition:      s.st.xf.phase.String(),
		Repeat:          q.RepeatMode().String(),
		Shuffled:        q.IsShuffled(),
		HasMore:         s.st.source != nil && s.st.source.HasNextPage(),
	}
	if cur, err := q.Current(); err == nil && !s.st.idle {
		st.Current = &cur
		st.NormalizeFactor = NormalizeFactor(cur.LoudnessDb, s.opts.NormalizeAudio)
		st.PositionMs = s.engine.Position().Milliseconds()
		st.DurationMs = s.engine.Duration().Milliseconds()
	}
	return st
}

// SetAutomix replaces the suggestion list.
func (s *Service) SetAutomix(ctx context.Context, items []provider.Track) error {
	return s.do(ctx, func() {
		s.st.automixGen++
		s.st.automix = queue.FilterExplicit(items, s.opts.HideExplicit)
	})
}

// LoadAutomix fills the suggestion list from src in the background. A later
// SetAutomix, LoadAutomix or ClearAutomix wins over a slow load.
func (s *Service) LoadAutomix(ctx context.Context, src queue.Source) error {
	var gen uint64
	if err := s.do(ctx, func() {
		s.st.automixGen++
		gen = s.st.automixGen
	}); err != nil {
		return err
	}
	go func() {
		lctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
		defer cancel()
		status, err := src.InitialStatus(lctx)
		s.post(func() {
			if gen != s.st.automixGen {
				return
			}
			if err != nil {
				s.fail("automix", err)
				return
			}
			s.st.automix = queue.FilterExplicit(status.Items, s.opts.HideExplicit)
		})
	}()
	return nil
}

// AddAutomixToQueue moves suggestion i to the end of the queue.
func (s *Service) AddAutomixToQueue(ctx context.Context, i int) error {
	return s.takeAutomix(ctx, i, s.addToQueue)
}

// PlayAutomixNext moves suggestion i right after the current item.
func (s *Service) PlayAutomixNext(ctx context.Context, i int) error {
	return s.takeAutomix(ctx, i, s.playNext)
}

func (s *Service) takeAutomix(ctx context.Context, i int, place func([]provider.Track)) error {
	var err error
	if doErr := s.do(ctx, func() {
		if i < 0 || i >= len(s.st.automix) {
			err = queue.ErrOutOfRange
			return
		}
		item := s.st.automix[i]
		s.st.automix = append(s.st.automix[:i:i], s.st.automix[i+1:]...)
		place([]provider.Track{item})
	}); doErr != nil {
		return doErr
	}
	return err
}

func (s *Service) ClearAutomix(ctx context.Context) error {
	return s.do(ctx, func() {
		s.st.automixGen++
		s.st.automix = nil
	})
}
