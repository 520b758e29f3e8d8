package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	sentry "github.com/getsentry/sentry-go"

	"github.com/tones/tones/internal/config"
	"github.com/tones/tones/internal/diagnostics"
	"github.com/tones/tones/internal/lyrics"
	"github.com/tones/tones/internal/provider"
	"github.com/tones/tones/internal/providers/filesystem"
	"github.com/tones/tones/internal/providers/melodee"
)

// buildDiagnostics always logs reports and also sends them to Sentry when a
// DSN is configured. The returned hub is nil without Sentry.
func buildDiagnostics(cfg *config.Config, logger *slog.Logger) (*diagnostics.Manager, *sentry.Hub, error) {
	mgr := diagnostics.NewManager(diagnostics.LogReporter{Logger: logger})
	if cfg.Diagnostics.SentryDSN == "" {
		return mgr, nil, nil
	}
	rep, err := diagnostics.NewSentryReporter(diagnostics.SentryOptions{
		DSN:         cfg.Diagnostics.SentryDSN,
		Environment: cfg.Diagnostics.Environment,
		Release:     "tones@" + version,
		SampleRate:  cfg.Diagnostics.SampleRate,
	})
	if err != nil {
		return nil, nil, err
	}
	mgr.Register(rep)
	logger.Info("sentry enabled", slog.String("session", rep.SessionID()))
	return mgr, rep.Hub(), nil
}

func newProvider(kind string, logger *slog.Logger) (provider.Provider, error) {
	switch kind {
	case "filesystem":
		return filesystem.New(logger.With(slog.String("provider", "filesystem"))), nil
	case "melodee":
		return melodee.New(), nil
	}
	return nil, fmt.Errorf("unknown provider %q", kind)
}

// buildProvider initializes the active profile's music source.
func buildProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Provider, error) {
	profile, ok := cfg.ProfileByID(cfg.ActiveProfile)
	if !ok {
		return nil, fmt.Errorf("active_profile %q not found", cfg.ActiveProfile)
	}
	p, err := newProvider(profile.Provider, logger)
	if err != nil {
		return nil, err
	}
	if err := p.Initialize(ctx, profile.Settings); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", p.Name(), err)
	}
	return p, nil
}

// buildLyrics assembles the lyrics pipeline. src may be nil, which disables
// lyrics stored with the music source.
func buildLyrics(cfg *config.Config, src provider.Provider, logger *slog.Logger, sink diagnostics.Sink) (*lyrics.Helper, error) {
	hc := &http.Client{Timeout: cfg.NetworkTimeout()}
	rps := cfg.Lyrics.RequestsPerSecond
	providers := []lyrics.Provider{
		lyrics.NewLrcLib(lyrics.LrcLibOptions{
			HTTPClient:        hc,
			RequestsPerSecond: rps,
			Enabled:           cfg.LyricsProviderEnabled("lrclib"),
		}),
		lyrics.NewKuGou(lyrics.KuGouOptions{
			HTTPClient:        hc,
			RequestsPerSecond: rps,
			Enabled:           cfg.LyricsProviderEnabled("kugou"),
		}),
	}
	if src != nil {
		enabled := cfg.LyricsProviderEnabled("source") && src.Capabilities()[provider.CapLyrics]
		providers = append(providers, lyrics.NewSource(src, enabled))
	}
	h := lyrics.NewHelper(providers, lyrics.Options{
		Logger: logger.With(slog.String("component", "lyrics")),
		Sink:   sink,
	})
	kind, err := lyrics.ParseKind(cfg.Lyrics.Preferred)
	if err != nil {
		return nil, err
	}
	h.SetPreferred(kind)
	return h, nil
}
