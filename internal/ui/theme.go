package ui

import "github.com/charmbracelet/lipgloss"

// DefaultTheme is used when the configured theme is unknown.
const DefaultTheme = "dusk"

// Theme holds the styles of the now-playing view.
type Theme struct {
	Name string
	// Song and Artist style the current track.
	Song    lipgloss.Style
	Artist  lipgloss.Style
	Heading lipgloss.Style
	Queued  lipgloss.Style
	Lyric   lipgloss.Style
	// Muted is secondary text: album, clock line, key hints.
	Muted    lipgloss.Style
	Progress lipgloss.Style
	// Crossfade marks a smooth transition in progress.
	Crossfade lipgloss.Style
	Error     lipgloss.Style
}

// palette is the set of colors a theme is built from.
type palette struct {
	song, artist, heading, queued, lyric, muted, progress, fade, err lipgloss.Color
}

var palettes = map[string]palette{
	"dusk": {
		song: "#F5A3C7", artist: "#C9B8F2", heading: "#7FD1E8",
		queued: "#B4B0C8", lyric: "#E4E0F2", muted: "#6B6787",
		progress: "#F5A3C7", fade: "#F2C572", err: "#FF6B6B",
	},
	"amber": {
		song: "#FFB454", artist: "#E6C79C", heading: "#FF8F40",
		queued: "#BFA98A", lyric: "#F3E6D0", muted: "#7A6A55",
		progress: "#FFB454", fade: "#9CCC65", err: "#F26D50",
	},
	"slate": {
		song: "#FFFFFF", artist: "#C8C8C8", heading: "#E0E0E0",
		queued: "#A8A8A8", lyric: "#D0D0D0", muted: "#6A6A6A",
		progress: "#BBBBBB", fade: "#9A9A9A", err: "#FFFFFF",
	},
}

func (p palette) theme(name string) Theme {
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return Theme{
		Name:      name,
		Song:      fg(p.song).Bold(true),
		Artist:    fg(p.artist),
		Heading:   fg(p.heading).Bold(true),
		Queued:    fg(p.queued),
		Lyric:     fg(p.lyric),
		Muted:     fg(p.muted),
		Progress:  fg(p.progress),
		Crossfade: fg(p.fade).Italic(true),
		Error:     fg(p.err).Bold(true).Underline(true),
	}
}

// ThemeNames lists the themes, colored ones first.
func ThemeNames() []string {
	return []string{"dusk", "amber", "slate", "plain"}
}

func ValidTheme(name string) bool {
	_, ok := palettes[name]
	return ok || name == "plain"
}

// GetTheme returns the named theme. noColor forces Plain whatever the name.
func GetTheme(name string, noColor bool) Theme {
	if noColor || name == "plain" {
		return Plain()
	}
	p, ok := palettes[name]
	if !ok {
		name, p = DefaultTheme, palettes[DefaultTheme]
	}
	return p.theme(name)
}

// Plain renders with text attributes only, for NO_COLOR terminals.
func Plain() Theme {
	s := lipgloss.NewStyle()
	return Theme{
		Name:      "plain",
		Song:      s.Bold(true),
		Artist:    s,
		Heading:   s.Bold(true).Underline(true),
		Queued:    s,
		Lyric:     s,
		Muted:     s.Faint(true),
		Progress:  s,
		Crossfade: s.Italic(true),
		Error:     s.Reverse(true),
	}
}
