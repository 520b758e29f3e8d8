package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tones/tones/internal/app"
	"github.com/tones/tones/internal/player"
	"github.com/tones/tones/internal/playback"
	"github.com/tones/tones/internal/provider"
	"github.com/tones/tones/internal/queue"
	"github.com/tones/tones/internal/server"
	"github.com/tones/tones/internal/stream"
	"github.com/tones/tones/internal/ui"
)

// errQuit ends the run group when the now-playing view exits.
var errQuit = errors.New("quit")

// Run starts the daemon and blocks until it is interrupted or the
// now-playing view quits.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := r.loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	logger, closeLog, err := r.openLog(cmd, cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	stateDir, err := r.resolveStateDir(cfg)
	if err != nil {
		return err
	}

	diag, hub, err := buildDiagnostics(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := diag.Close(ctx); err != nil {
			logger.Warn("close diagnostics", slog.Any("err", err))
		}
	}()

	src, err := buildProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}
	streams, err := stream.NewResolver(src, stream.Options{Timeout: cfg.NetworkTimeout()})
	if err != nil {
		return err
	}
	lyr, err := buildLyrics(cfg, src, logger, diag)
	if err != nil {
		return err
	}

	popts := player.Options{
		MPVPath: cfg.Player.MPVPath,
		IPCPath: cfg.Player.IPC,
		Logger:  logger.With(slog.String("component", "mpv")),
	}
	engine := player.New(popts)
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start mpv: %w", err)
	}
	defer engine.Close()

	var persister *queue.Persister
	if cfg.PersistQueue() {
		persister = queue.NewPersister(stateDir, queue.PersisterOptions{Logger: logger, Sink: diag})
	}
	svc := playback.New(engine, streams, playback.Options{
		Logger:           logger.With(slog.String("component", "playback")),
		Sink:             diag,
		NewEngine:        playback.MPVFactory(popts),
		Persister:        persister,
		PersistInterval:  cfg.PersistInterval(),
		UserVolume:       cfg.UserVolume(),
		NormalizeAudio:   cfg.Player.NormalizeAudio,
		SmoothTransition: cfg.SmoothTransitionDuration(),
		AutoLoadMore:     cfg.AutoLoadMore(),
		HideExplicit:     cfg.Queue.HideExplicit,
		RequestTimeout:   cfg.NetworkTimeout(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })

	if err := svc.Restore(gctx); err != nil {
		logger.Warn("restore queue", slog.Any("err", err))
	}
	if q, title, ok := queryFromFlags(cmd); ok {
		if err := svc.PlayQueue(gctx, queue.NewProviderSource(src, title, q, 0, ""), true); err != nil {
			logger.Warn("start queue", slog.String("title", title), slog.Any("err", err))
		}
	}

	if cfg.Server.Listen != "" {
		srv := server.New(svc, lyr, server.Options{Logger: logger.With(slog.String("component", "server")), Hub: hub})
		g.Go(func() error { return srv.Serve(gctx, cfg.Server.Listen) })
	}
	if cmd.Bool("tui") {
		_, noColor := os.LookupEnv("NO_COLOR")
		model := app.New(gctx, svc, app.Options{
			Theme:  ui.GetTheme(cfg.UI.Theme, cfg.UI.NoColor || noColor),
			Lyrics: lyr,
		})
		g.Go(func() error {
			_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx)).Run()
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return errQuit
		})
	}

	logger.Info("tones running", slog.String("provider", src.ID()), slog.String("state_dir", stateDir))
	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// queryFromFlags builds the listing the run command starts with, if any.
func queryFromFlags(cmd *cli.Command) (provider.TrackQuery, string, bool) {
	switch {
	case cmd.String("playlist") != "":
		return provider.TrackQuery{PlaylistID: cmd.String("playlist")}, "Playlist", true
	case cmd.String("album") != "":
		return provider.TrackQuery{AlbumID: cmd.String("album")}, "Album", true
	case cmd.String("artist") != "":
		return provider.TrackQuery{ArtistID: cmd.String("artist")}, "Artist", true
	case cmd.String("search") != "":
		s := cmd.String("search")
		return provider.TrackQuery{Search: s}, "Search: " + s, true
	}
	return provider.TrackQuery{}, "", false
}
