package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	// Setup
	tmp, err := os.CreateTemp("", "mpv")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())
	mpvPath := tmp.Name()

	validSettings := map[string]any{
		"roots": []any{os.TempDir()},
	}

	base := func() Config {
		cfg := Config{
			ActiveProfile: "local",
			Player:        PlayerConfig{MPVPath: mpvPath, Volume: 50},
			Profiles: []Profile{
				{ID: "local", Provider: "filesystem", Enabled: true, Settings: validSettings},
			},
		}
		applyDefaults(&cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing active profile", mutate: func(c *Config) { c.ActiveProfile = "missing" }, wantErr: true},
		{name: "disabled profile", mutate: func(c *Config) { c.Profiles[0].Enabled = false }, wantErr: true},
		{name: "invalid mpv path", mutate: func(c *Config) { c.Player.MPVPath = "/invalid/mpv/path" }, wantErr: true},
		{name: "volume out of range", mutate: func(c *Config) { c.Player.Volume = 140 }, wantErr: true},
		{name: "unknown preferred lyrics", mutate: func(c *Config) { c.Lyrics.Preferred = "genius" }, wantErr: true},
		{name: "transition too long", mutate: func(c *Config) { c.Player.SmoothTransitionSeconds = 60 }, wantErr: true},
		{name: "melodee without base url", mutate: func(c *Config) {
			c.Profiles[0].Provider = "melodee"
			c.Profiles[0].Settings = map[string]any{}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`active_profile = "local"`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.PersistQueue() || !cfg.AutoLoadMore() {
		t.Fatal("persist and auto load more default to on")
	}
	if cfg.PersistInterval() != 30*time.Second {
		t.Fatalf("persist interval = %s", cfg.PersistInterval())
	}
	if cfg.SmoothTransitionDuration() != 0 {
		t.Fatal("smooth transition is off unless enabled")
	}
	if cfg.UserVolume() != 1 {
		t.Fatalf("user volume = %v", cfg.UserVolume())
	}
	if cfg.Lyrics.Preferred != "lrclib" || !cfg.LyricsProviderEnabled("kugou") {
		t.Fatal("lyrics defaults not applied")
	}
}

func TestParseExplicitFalse(t *testing.T) {
	cfg, err := Parse([]byte(`
active_profile = "local"

[player]
smooth_transition = true
smooth_transition_seconds = 5
volume = 40

[queue]
persist = false
auto_load_more = false
hide_explicit = true

[lyrics]
preferred = "kugou"

[lyrics.providers]
source = false
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.PersistQueue() || cfg.AutoLoadMore() {
		t.Fatal("explicit false must survive defaults")
	}
	if cfg.SmoothTransitionDuration() != 5*time.Second {
		t.Fatalf("transition = %s", cfg.SmoothTransitionDuration())
	}
	if cfg.UserVolume() != 0.4 {
		t.Fatalf("user volume = %v", cfg.UserVolume())
	}
	if !cfg.Queue.HideExplicit {
		t.Fatal("hide_explicit not parsed")
	}
	if cfg.LyricsProviderEnabled("source") || !cfg.LyricsProviderEnabled("lrclib") {
		t.Fatal("provider flags not parsed")
	}
}

func TestLoadReadsFile(t *testing.T) {
	dir := t.TempDir()
	mpv := filepath.Join(dir, "mpv")
	if err := os.WriteFile(mpv, nil, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.toml")
	data := `active_profile = "remote"

[player]
mpv_path = "` + mpv + `"

[[profiles]]
id = "remote"
provider = "melodee"
enabled = true
settings = { base_url = "http://localhost:5000" }
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path = %s", resolved)
	}
	p, ok := cfg.ProfileByID("remote")
	if !ok || p.Settings["base_url"] != "http://localhost:5000" {
		t.Fatalf("profile not loaded: %+v", p)
	}
}
