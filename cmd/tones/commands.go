package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"github.com/urfave/cli/v3"

	"github.com/tones/tones/internal/config"
	"github.com/tones/tones/internal/diagnostics"
	"github.com/tones/tones/internal/logging"
	"github.com/tones/tones/internal/lyrics"
	"github.com/tones/tones/internal/provider"
	"github.com/tones/tones/internal/queue"
	"github.com/tones/tones/internal/ui"
)

// configOrDefaults loads the config file, falling back to defaults when it
// is missing or invalid. Commands that never touch the player use it.
func (r *Runner) configOrDefaults(cmd *cli.Command) *config.Config {
	cfg, path, err := r.loadConfig(cmd.String("config"))
	if err == nil {
		return cfg
	}
	fmt.Fprintf(os.Stderr, "warning: %s: %v; using defaults\n", path, err)
	cfg, _ = config.Parse(nil)
	return cfg
}

// Lyrics prints lyrics for the song named by the flags. No music source is
// consulted, only the online providers.
func (r *Runner) Lyrics(ctx context.Context, cmd *cli.Command) error {
	cfg := r.configOrDefaults(cmd)
	logger := logging.Discard()
	if cmd.Bool("log-stderr") {
		var err error
		if logger, err = logging.New(os.Stderr, cmd.String("log-level")); err != nil {
			return err
		}
	}
	helper, err := buildLyrics(cfg, nil, logger, diagnostics.NewManager(diagnostics.LogReporter{Logger: logger}))
	if err != nil {
		return err
	}
	track := provider.Track{
		ID:         "cli",
		Title:      cmd.String("title"),
		ArtistName: cmd.String("artist"),
		AlbumTitle: cmd.String("album"),
		DurationMs: int(cmd.Duration("duration").Milliseconds()),
	}

	if !cmd.Bool("all") {
		text := helper.GetLyrics(ctx, track)
		if text == lyrics.NotFound {
			return errors.New("no lyrics found")
		}
		fmt.Fprintln(r.output, text)
		return nil
	}
	found := false
	helper.GetAllLyrics(ctx, track, func(res lyrics.Result) {
		if res.Lyrics == lyrics.NotFound {
			return
		}
		found = true
		fmt.Fprintf(r.output, "== %s ==\n%s\n\n", res.ProviderName, res.Lyrics)
	})
	if !found {
		return errors.New("no lyrics found")
	}
	return nil
}

type savedQueues struct {
	Main    queue.Snapshot `json:"main"`
	Automix queue.Snapshot `json:"automix"`
}

// Queue prints the snapshots the daemon restores on start.
func (r *Runner) Queue(ctx context.Context, cmd *cli.Command) error {
	cfg := r.configOrDefaults(cmd)
	dir, err := r.resolveStateDir(cfg)
	if err != nil {
		return err
	}
	current, automix := queue.NewPersister(dir, queue.PersisterOptions{Logger: logging.Discard()}).LoadAll(ctx)
	if cmd.Bool("json") {
		return r.writeJSON(savedQueues{Main: current, Automix: automix})
	}
	r.printSnapshot("Queue", current, true)
	r.printSnapshot("Automix", automix, false)
	return nil
}

func (r *Runner) printSnapshot(label string, snap queue.Snapshot, showCurrent bool) {
	if snap.Title != "" {
		label += " · " + snap.Title
	}
	fmt.Fprintf(r.output, "%s (%d)\n", label, len(snap.Items))
	if snap.Empty() {
		fmt.Fprintln(r.output, "  (empty)")
		return
	}
	for i, t := range snap.Items {
		marker := " "
		if showCurrent && i == snap.Index {
			marker = ">"
		}
		fmt.Fprintf(r.output, "%s %3d. %s - %s\n", marker, i+1, t.ArtistName, t.Title)
	}
	if showCurrent {
		fmt.Fprintf(r.output, "  at %s, repeat %s\n", snap.Position.Truncate(time.Second), snap.Repeat)
	}
	fmt.Fprintln(r.output)
}

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

// Doctor runs each check and reports them all, failing if any failed.
func (r *Runner) Doctor(ctx context.Context, cmd *cli.Command) error {
	cfg, path, err := r.loadConfig(cmd.String("config"))
	if err != nil {
		fmt.Fprintf(r.output, "FAIL config   %s: %v\n", path, err)
		return errors.New("doctor found problems")
	}
	fmt.Fprintf(r.output, "ok   config   %s\n", path)

	checks := []check{
		{"mpv", func(context.Context) (string, error) { return exec.LookPath(cfg.Player.MPVPath) }},
		{"state", func(context.Context) (string, error) { return r.checkStateDir(cfg) }},
		{"theme", func(context.Context) (string, error) { return checkTheme(cfg) }},
		{"sentry", func(context.Context) (string, error) { return checkSentry(cfg) }},
		{"source", func(ctx context.Context) (string, error) { return checkProvider(ctx, cfg) }},
	}
	failed := false
	for _, c := range checks {
		detail, err := c.run(ctx)
		if err != nil {
			failed = true
			fmt.Fprintf(r.output, "FAIL %-8s %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(r.output, "ok   %-8s %s\n", c.name, detail)
	}
	if failed {
		return errors.New("doctor found problems")
	}
	return nil
}

func (r *Runner) checkStateDir(cfg *config.Config) (string, error) {
	dir, err := r.resolveStateDir(cfg)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return "", fmt.Errorf("%s not writable: %w", dir, err)
	}
	f.Close()
	os.Remove(f.Name())
	return dir, nil
}

func checkTheme(cfg *config.Config) (string, error) {
	if !ui.ValidTheme(cfg.UI.Theme) {
		return "", fmt.Errorf("unknown theme %q, want one of %s", cfg.UI.Theme, strings.Join(ui.ThemeNames(), ", "))
	}
	return cfg.UI.Theme, nil
}

func checkSentry(cfg *config.Config) (string, error) {
	if cfg.Diagnostics.SentryDSN == "" {
		return "disabled", nil
	}
	dsn, err := sentry.NewDsn(cfg.Diagnostics.SentryDSN)
	if err != nil {
		return "", err
	}
	return dsn.GetHost() + " (" + cfg.Diagnostics.Environment + ")", nil
}

func checkProvider(ctx context.Context, cfg *config.Config) (string, error) {
	ctx, cancel := cfg.DeadlineContext(ctx)
	defer cancel()
	src, err := buildProvider(ctx, cfg, logging.Discard())
	if err != nil {
		return "", err
	}
	if c, ok := src.(interface{ Close() error }); ok {
		defer c.Close()
	}
	healthy, detail := src.Health(ctx)
	if !healthy {
		return "", fmt.Errorf("%s: %s", src.Name(), detail)
	}
	return src.Name() + " " + detail, nil
}
