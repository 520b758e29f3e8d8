// Package app is the terminal now-playing view of a running playback service.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tones/tones/internal/lyrics"
	"github.com/tones/tones/internal/playback"
	"github.com/tones/tones/internal/provider"
	"github.com/tones/tones/internal/ui"
)

const (
	seekStep   = 5 * time.Second
	volumeStep = 0.05
	upNextRows = 5
	lyricRows  = 8
)

// Controller is the part of *playback.Service the view drives.
type Controller interface {
	Status(ctx context.Context) (playback.Status, error)
	SetPaused(ctx context.Context, paused bool) error
	Seek(ctx context.Context, pos time.Duration) error
	SkipNext(ctx context.Context) error
	SkipPrevious(ctx context.Context) error
	SetVolume(ctx context.Context, vol float64) error
}

// LyricsSource fetches lyrics for the current track. An error means the
// request was interrupted and says nothing about the track.
type LyricsSource interface {
	Lookup(ctx context.Context, track provider.Track) (string, error)
}

type Options struct {
	Theme ui.Theme
	// Lyrics is optional; nil hides the lyrics pane.
	Lyrics       LyricsSource
	PollInterval time.Duration
}

type Model struct {
	ctx    context.Context
	ctrl   Controller
	lyrics LyricsSource
	theme  ui.Theme
	poll   time.Duration

	status     playback.Status
	lyricsFor  string
	lyricsText string
	errorMsg   string
	width      int
}

func New(ctx context.Context, ctrl Controller, opts Options) Model {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.Theme.Name == "" {
		opts.Theme = ui.GetTheme(ui.DefaultTheme, false)
	}
	return Model{ctx: ctx, ctrl: ctrl, lyrics: opts.Lyrics, theme: opts.Theme, poll: opts.PollInterval, width: 60}
}

type statusMsg struct {
	status playback.Status
	err    error
}

type tickMsg time.Time

type lyricsMsg struct {
	trackID string
	text    string
	err     error
}

type clearErrorMsg struct{}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchStatus(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.poll, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		st, err := m.ctrl.Status(m.ctx)
		return statusMsg{status: st, err: err}
	}
}

// act runs a control call and reports the resulting status.
func (m Model) act(fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(m.ctx); err != nil {
			return statusMsg{status: m.status, err: err}
		}
		st, err := m.ctrl.Status(m.ctx)
		return statusMsg{status: st, err: err}
	}
}

func (m Model) fetchLyrics(track provider.Track) tea.Cmd {
	return func() tea.Msg {
		text, err := m.lyrics.Lookup(m.ctx, track)
		return lyricsMsg{trackID: track.ID, text: text, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.fetchStatus(), m.tick())
	case clearErrorMsg:
		m.errorMsg = ""
		return m, nil
	case statusMsg:
		if msg.err != nil {
			m.errorMsg = msg.err.Error()
			return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return clearErrorMsg{} })
		}
		m.status = msg.status
		if cur := msg.status.Current; cur != nil && cur.ID != m.lyricsFor && m.lyrics != nil {
			m.lyricsFor = cur.ID
			m.lyricsText = ""
			return m, m.fetchLyrics(*cur)
		}
		return m, nil
	case lyricsMsg:
		if msg.trackID != m.lyricsFor {
			return m, nil
		}
		if msg.err != nil {
			// Ask again on the next status.
			m.lyricsFor = ""
			return m, nil
		}
		m.lyricsText = msg.text
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case " ":
		paused := !m.status.Paused
		return m, m.act(func(ctx context.Context) error { return m.ctrl.SetPaused(ctx, paused) })
	case "n":
		return m, m.act(m.ctrl.SkipNext)
	case "p":
		return m, m.act(m.ctrl.SkipPrevious)
	case "left", "right":
		pos := time.Duration(m.status.PositionMs) * time.Millisecond
		if msg.String() == "left" {
			pos = max(pos-seekStep, 0)
		} else {
			pos += seekStep
		}
		return m, m.act(func(ctx context.Context) error { return m.ctrl.Seek(ctx, pos) })
	case "+", "=", "-":
		vol := m.status.Volume + volumeStep
		if msg.String() == "-" {
			vol = m.status.Volume - volumeStep
		}
		vol = min(max(vol, 0), 1)
		return m, m.act(func(ctx context.Context) error { return m.ctrl.SetVolume(ctx, vol) })
	}
	return m, nil
}

func (m Model) View() string {
	sections := []string{m.renderNowPlaying(), m.renderUpNext()}
	if m.lyrics != nil {
		sections = append(sections, m.renderLyrics())
	}
	body := lipgloss.JoinVertical(lipgloss.Left, sections...)
	footer := m.theme.Muted.Render("space pause · n/p next/prev · ←/→ seek · +/- volume · q quit")
	if m.errorMsg != "" {
		footer = m.theme.Error.Render(m.errorMsg)
	}
	return body + "\n" + footer + "\n"
}

func (m Model) renderNowPlaying() string {
	var b strings.Builder
	title := "Now Playing"
	if m.status.Title != "" {
		title += " · " + m.status.Title
	}
	b.WriteString(m.theme.Heading.Render(title) + "\n\n")

	cur := m.status.Current
	if cur == nil || m.status.Idle {
		b.WriteString(m.theme.Muted.Render("Nothing playing") + "\n")
		return b.String()
	}
	b.WriteString(m.theme.Song.Render(cur.Title) + "\n")
	b.WriteString(m.theme.Artist.Render(cur.ArtistName) + "\n")
	if cur.AlbumTitle != "" {
		b.WriteString(m.theme.Muted.Render(cur.AlbumTitle) + "\n")
	}
	b.WriteString("\n")

	width := max(m.width-4, 10)
	pct := 0.0
	if m.status.DurationMs > 0 {
		pct = float64(m.status.PositionMs) / float64(m.status.DurationMs)
	}
	filled := min(max(int(float64(width)*pct), 0), width)
	bar := strings.Repeat("━", filled) + strings.Repeat("─", width-filled)
	b.WriteString(m.theme.Progress.Render(bar) + "\n")

	state := "⏵"
	switch {
	case m.status.Buffering:
		state = "…"
	case m.status.Paused:
		state = "⏸"
	}
	line := fmt.Sprintf("%s %s / %s  vol %d%%", state, clock(m.status.PositionMs), clock(m.status.DurationMs), int(m.status.Volume*100+0.5))
	if m.status.NormalizeFactor < 1 {
		line += fmt.Sprintf(" (norm ×%.2f)", m.status.NormalizeFactor)
	}
	if m.status.Repeat != "" && m.status.Repeat != "off" {
		line += "  repeat " + m.status.Repeat
	}
	if m.status.Shuffled {
		line += "  shuffle"
	}
	b.WriteString(m.theme.Muted.Render(line))
	if m.status.Transition == "transitioning" {
		b.WriteString("  " + m.theme.Crossfade.Render("crossfading"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderUpNext() string {
	var b strings.Builder
	b.WriteString("\n" + m.theme.Heading.Render("Up Next") + "\n")
	next := m.status.Items
	if m.status.Index+1 < len(next) {
		next = next[m.status.Index+1:]
	} else {
		next = nil
	}
	if len(next) == 0 {
		b.WriteString(m.theme.Muted.Render("(End of queue)") + "\n")
		return b.String()
	}
	for i, t := range next {
		if i == upNextRows {
			b.WriteString(m.theme.Muted.Render(fmt.Sprintf("… %d more", len(next)-upNextRows)) + "\n")
			break
		}
		b.WriteString(m.theme.Queued.Render(fmt.Sprintf("%s - %s", t.ArtistName, t.Title)) + "\n")
	}
	return b.String()
}

func (m Model) renderLyrics() string {
	var b strings.Builder
	b.WriteString("\n" + m.theme.Heading.Render("Lyrics") + "\n")
	switch m.lyricsText {
	case "":
		if m.status.Current != nil {
			b.WriteString(m.theme.Muted.Render("Loading…") + "\n")
		}
	case lyrics.NotFound:
		b.WriteString(m.theme.Muted.Render("No lyrics found") + "\n")
	default:
		lines := strings.Split(strings.TrimSpace(m.lyricsText), "\n")
		if len(lines) > lyricRows {
			lines = lines[:lyricRows]
		}
		b.WriteString(m.theme.Lyric.Render(strings.Join(lines, "\n")) + "\n")
	}
	return b.String()
}

func clock(ms int64) string {
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
