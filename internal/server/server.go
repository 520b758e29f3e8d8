// Package server exposes the playback service over a small HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sentry "github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"github.com/tones/tones/internal/lyrics"
	"github.com/tones/tones/internal/playback"
	"github.com/tones/tones/internal/provider"
	"github.com/tones/tones/internal/queue"
)

// Player is the part of *playback.Service the API drives.
type Player interface {
	Status(ctx context.Context) (playback.Status, error)
	SetPaused(ctx context.Context, paused bool) error
	Seek(ctx context.Context, pos time.Duration) error
	SkipNext(ctx context.Context) error
	SkipPrevious(ctx context.Context) error
	SetVolume(ctx context.Context, vol float64) error
	AddAutomixToQueue(ctx context.Context, i int) error
	PlayAutomixNext(ctx context.Context, i int) error
	ClearAutomix(ctx context.Context) error
}

// Lyrics is the part of *lyrics.Helper the API uses.
type Lyrics interface {
	GetLyrics(ctx context.Context, track provider.Track) string
	GetAllLyrics(ctx context.Context, track provider.Track, fn func(lyrics.Result))
}

type Options struct {
	Logger *slog.Logger
	// Hub, when set, receives panics and errors from request handlers.
	Hub *sentry.Hub
}

type Server struct {
	player Player
	lyrics Lyrics
	logger *slog.Logger
	engine *gin.Engine
}

func New(player Player, lyr Lyrics, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{player: player, lyrics: lyr, logger: opts.Logger}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog)
	if opts.Hub != nil {
		r.Use(withHub(opts.Hub), sentrygin.New(sentrygin.Options{Repanic: true}))
	}

	r.GET("/status", s.status)
	p := r.Group("/player")
	p.POST("/pause", s.pause(true))
	p.POST("/resume", s.pause(false))
	p.POST("/seek", s.seek)
	p.POST("/next", s.simple(player.SkipNext))
	p.POST("/previous", s.simple(player.SkipPrevious))
	p.POST("/volume", s.volume)

	r.GET("/queue", s.queue)
	r.GET("/automix", s.automix)
	r.POST("/automix/:index/queue", s.automixAt(player.AddAutomixToQueue))
	r.POST("/automix/:index/next", s.automixAt(player.PlayAutomixNext))
	r.DELETE("/automix", s.simple(player.ClearAutomix))

	r.GET("/lyrics", s.getLyrics)
	s.engine = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("control api listening", slog.String("addr", addr))
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// withHub gives every request a clone of hub so sentrygin reports through
// it instead of the global hub.
func withHub(hub *sentry.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := sentry.SetHubOnContext(c.Request.Context(), hub.Clone())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("http request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.FullPath()),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("took", time.Since(start)))
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	if hub := sentry.GetHubFromContext(c.Request.Context()); hub != nil && status >= 500 {
		hub.CaptureException(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) status(c *gin.Context) {
	st, err := s.player.Status(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) simple(fn func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c.Request.Context()); err != nil {
			s.fail(c, http.StatusServiceUnavailable, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) pause(paused bool) gin.HandlerFunc {
	return s.simple(func(ctx context.Context) error { return s.player.SetPaused(ctx, paused) })
}

func (s *Server) seek(c *gin.Context) {
	var body struct {
		PositionMs *int64 `json:"position_ms" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *body.PositionMs < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "position_ms must not be negative"})
		return
	}
	pos := time.Duration(*body.PositionMs) * time.Millisecond
	s.simple(func(ctx context.Context) error { return s.player.Seek(ctx, pos) })(c)
}

func (s *Server) volume(c *gin.Context) {
	var body struct {
		Volume *float64 `json:"volume" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *body.Volume < 0 || *body.Volume > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "volume must be within 0..1"})
		return
	}
	vol := *body.Volume
	s.simple(func(ctx context.Context) error { return s.player.SetVolume(ctx, vol) })(c)
}

func (s *Server) queue(c *gin.Context) {
	st, err := s.player.Status(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"title": st.Title, "index": st.Index, "items": st.Items, "repeat": st.Repeat, "shuffled": st.Shuffled})
}

func (s *Server) automix(c *gin.Context) {
	st, err := s.player.Status(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": st.Automix})
}

func (s *Server) automixAt(fn func(context.Context, int) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		i, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a number"})
			return
		}
		switch err := fn(c.Request.Context(), i); {
		case errors.Is(err, queue.ErrOutOfRange):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case err != nil:
			s.fail(c, http.StatusServiceUnavailable, err)
		default:
			c.Status(http.StatusNoContent)
		}
	}
}

// getLyrics returns lyrics for the current track. With all=1 it streams one
// JSON object per provider result as they arrive.
func (s *Server) getLyrics(c *gin.Context) {
	st, err := s.player.Status(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusServiceUnavailable, err)
		return
	}
	if st.Current == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "nothing is playing"})
		return
	}
	track := *st.Current

	if c.Query("all") == "" || c.Query("all") == "0" {
		text := s.lyrics.GetLyrics(c.Request.Context(), track)
		c.JSON(http.StatusOK, gin.H{"track": track.ID, "lyrics": text, "found": text != lyrics.NotFound})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	enc := json.NewEncoder(c.Writer)
	s.lyrics.GetAllLyrics(c.Request.Context(), track, func(r lyrics.Result) {
		if err := enc.Encode(r); err != nil {
			s.logger.Debug("write lyrics result", slog.Any("err", err))
			return
		}
		c.Writer.Flush()
	})
}
