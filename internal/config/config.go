package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds tones runtime configuration loaded from TOML.
type Config struct {
	ConfigVersion int               `toml:"config_version"`
	ActiveProfile string            `toml:"active_profile"`
	UI            UIConfig          `toml:"ui"`
	Player        PlayerConfig      `toml:"player"`
	Queue         QueueConfig       `toml:"queue"`
	Lyrics        LyricsConfig      `toml:"lyrics"`
	Diagnostics   DiagnosticsConfig `toml:"diagnostics"`
	Server        ServerConfig      `toml:"server"`
	Profiles      []Profile         `toml:"profiles"`
}

type UIConfig struct {
	Theme   string `toml:"theme"`
	NoColor bool   `toml:"no_color"`
}

type PlayerConfig struct {
	MPVPath        string `toml:"mpv_path"`
	IPC            string `toml:"ipc"`
	Volume         int    `toml:"volume"`
	NetworkTimeout int    `toml:"network_timeout_ms"`
	NormalizeAudio bool   `toml:"normalize_audio"`
	// SmoothTransition enables the crossfade near track boundaries.
	SmoothTransition        bool `toml:"smooth_transition"`
	SmoothTransitionSeconds int  `toml:"smooth_transition_seconds"`
}

// QueueConfig holds queue persistence and loading settings.
type QueueConfig struct {
	Persist                *bool  `toml:"persist"`
	PersistIntervalSeconds int    `toml:"persist_interval_seconds"`
	AutoLoadMore           *bool  `toml:"auto_load_more"`
	HideExplicit           bool   `toml:"hide_explicit"`
	StateDir               string `toml:"state_dir"`
}

// LyricsConfig selects and tunes lyrics providers.
type LyricsConfig struct {
	Preferred         string          `toml:"preferred"` // lrclib, kugou
	Providers         LyricsProviders `toml:"providers"`
	RequestsPerSecond float64         `toml:"requests_per_second"`
}

type LyricsProviders struct {
	LrcLib *bool `toml:"lrclib"`
	KuGou  *bool `toml:"kugou"`
	Source *bool `toml:"source"`
}

type DiagnosticsConfig struct {
	SentryDSN   string  `toml:"sentry_dsn"`
	Environment string  `toml:"environment"`
	SampleRate  float64 `toml:"sample_rate"`
}

type ServerConfig struct {
	Listen string `toml:"listen"`
}

type Profile struct {
	ID       string         `toml:"id"`
	Name     string         `toml:"name"`
	Provider string         `toml:"provider"`
	Enabled  bool           `toml:"enabled"`
	Settings map[string]any `toml:"settings"`
}

// Load reads configuration from disk. If path is empty, a default OS-specific
// location is used.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = defaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, cfgPath, err
	}
	if err := Validate(*cfg); err != nil {
		return nil, cfgPath, err
	}
	return cfg, cfgPath, nil
}

// Parse decodes TOML and applies defaults without validating.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func defaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	name := "tones"
	if runtime.GOOS == "windows" {
		name = "Tones"
	}
	base := filepath.Join(dir, name)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(base, "config.toml"), nil
}

func boolPtr(v bool) *bool { return &v }

func applyDefaults(cfg *Config) {
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = "dusk"
	}
	if cfg.Player.MPVPath == "" {
		cfg.Player.MPVPath = "mpv"
	}
	if cfg.Player.Volume == 0 {
		cfg.Player.Volume = 100
	}
	if cfg.Player.NetworkTimeout == 0 {
		cfg.Player.NetworkTimeout = 8000
	}
	if cfg.Player.SmoothTransitionSeconds == 0 {
		cfg.Player.SmoothTransitionSeconds = 3
	}
	if cfg.Queue.Persist == nil {
		cfg.Queue.Persist = boolPtr(true)
	}
	if cfg.Queue.AutoLoadMore == nil {
		cfg.Queue.AutoLoadMore = boolPtr(true)
	}
	if cfg.Queue.PersistIntervalSeconds == 0 {
		cfg.Queue.PersistIntervalSeconds = 30
	}
	if cfg.Lyrics.Preferred == "" {
		cfg.Lyrics.Preferred = "lrclib"
	}
	if cfg.Lyrics.Providers.LrcLib == nil {
		cfg.Lyrics.Providers.LrcLib = boolPtr(true)
	}
	if cfg.Lyrics.Providers.KuGou == nil {
		cfg.Lyrics.Providers.KuGou = boolPtr(true)
	}
	if cfg.Lyrics.Providers.Source == nil {
		cfg.Lyrics.Providers.Source = boolPtr(true)
	}
	if cfg.Lyrics.RequestsPerSecond == 0 {
		cfg.Lyrics.RequestsPerSecond = 2
	}
	if cfg.Diagnostics.SentryDSN == "" {
		cfg.Diagnostics.SentryDSN = os.Getenv("SENTRY_DSN")
	}
	if cfg.Diagnostics.Environment == "" {
		cfg.Diagnostics.Environment = "production"
	}
	if cfg.Diagnostics.SampleRate == 0 {
		cfg.Diagnostics.SampleRate = 1.0
	}
}

// Validate performs semantic validation of config.
func Validate(cfg Config) error {
	if cfg.ActiveProfile == "" {
		return errors.New("active_profile is required")
	}
	profile, ok := cfg.ProfileByID(cfg.ActiveProfile)
	if !ok {
		return fmt.Errorf("active_profile %q not found", cfg.ActiveProfile)
	}
	if !profile.Enabled {
		return fmt.Errorf("active_profile %q is disabled", cfg.ActiveProfile)
	}
	if cfg.Player.Volume < 0 || cfg.Player.Volume > 100 {
		return fmt.Errorf("player.volume must be 0-100")
	}
	if cfg.Player.SmoothTransitionSeconds < 0 || cfg.Player.SmoothTransitionSeconds > 15 {
		return fmt.Errorf("player.smooth_transition_seconds must be 0-15")
	}
	if cfg.Queue.PersistIntervalSeconds < 1 {
		return fmt.Errorf("queue.persist_interval_seconds must be positive")
	}
	switch cfg.Lyrics.Preferred {
	case "lrclib", "kugou":
	default:
		return fmt.Errorf("lyrics.preferred must be lrclib or kugou, got %q", cfg.Lyrics.Preferred)
	}
	if cfg.Diagnostics.SampleRate < 0 || cfg.Diagnostics.SampleRate > 1 {
		return fmt.Errorf("diagnostics.sample_rate must be 0-1")
	}
	if _, err := os.Stat(cfg.Player.MPVPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, lookErr := execLookPath(cfg.Player.MPVPath); lookErr != nil {
				return fmt.Errorf("mpv not found (%s): %w", cfg.Player.MPVPath, lookErr)
			}
		}
	}

	switch profile.Provider {
	case "filesystem":
		if err := validateFilesystem(profile.Settings); err != nil {
			return err
		}
	case "melodee":
		if err := validateMelodee(profile.Settings); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown provider: %s", profile.Provider)
	}
	return nil
}

func validateFilesystem(settings map[string]any) error {
	roots, ok := settings["roots"].([]any)
	if !ok || len(roots) == 0 {
		return errors.New("filesystem.roots is required")
	}
	for _, r := range roots {
		s, _ := r.(string)
		if s == "" {
			return errors.New("filesystem.roots contains empty path")
		}
		if _, err := os.Stat(s); err != nil {
			return fmt.Errorf("filesystem root %s: %w", s, err)
		}
	}
	return nil
}

func validateMelodee(settings map[string]any) error {
	baseURL, _ := settings["base_url"].(string)
	if baseURL == "" {
		return errors.New("melodee.base_url is required")
	}
	return nil
}

// ProfileByID returns profile and true when found.
func (c Config) ProfileByID(id string) (Profile, bool) {
	for _, p := range c.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// DeadlineContext returns a context with default timeout based on player network timeout.
func (c Config) DeadlineContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.NetworkTimeout())
}

// NetworkTimeout is the per-request budget for provider calls.
func (c Config) NetworkTimeout() time.Duration {
	d := time.Duration(c.Player.NetworkTimeout) * time.Millisecond
	if d == 0 {
		d = 8 * time.Second
	}
	return d
}

// SmoothTransitionDuration is zero when crossfading is disabled.
func (c Config) SmoothTransitionDuration() time.Duration {
	if !c.Player.SmoothTransition {
		return 0
	}
	return time.Duration(c.Player.SmoothTransitionSeconds) * time.Second
}

// PersistInterval is the period between queue snapshots.
func (c Config) PersistInterval() time.Duration {
	return time.Duration(c.Queue.PersistIntervalSeconds) * time.Second
}

// PersistQueue reports whether queue snapshots are written and restored.
func (c Config) PersistQueue() bool { return c.Queue.Persist == nil || *c.Queue.Persist }

// AutoLoadMore reports whether the next page of a paginated queue is fetched automatically.
func (c Config) AutoLoadMore() bool { return c.Queue.AutoLoadMore == nil || *c.Queue.AutoLoadMore }

// UserVolume returns the configured volume as a 0..1 fraction.
func (c Config) UserVolume() float64 { return float64(c.Player.Volume) / 100 }

// StateDir resolves the directory holding queue snapshots, falling back to fallback.
func (c Config) StateDir(fallback string) string {
	if c.Queue.StateDir != "" {
		return c.Queue.StateDir
	}
	return fallback
}

// LyricsProviderEnabled reports the enable flag for a provider name.
func (c Config) LyricsProviderEnabled(name string) bool {
	var flag *bool
	switch name {
	case "lrclib":
		flag = c.Lyrics.Providers.LrcLib
	case "kugou":
		flag = c.Lyrics.Providers.KuGou
	case "source":
		flag = c.Lyrics.Providers.Source
	default:
		return false
	}
	return flag == nil || *flag
}

// execLookPath is a test seam.
var execLookPath = func(file string) (string, error) {
	return exec.LookPath(file)
}
