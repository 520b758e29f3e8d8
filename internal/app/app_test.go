package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tones/tones/internal/lyrics"
	"github.com/tones/tones/internal/playback"
	"github.com/tones/tones/internal/provider"
	"github.com/tones/tones/internal/ui"
)

type fakeController struct {
	status  playback.Status
	paused  *bool
	seek    time.Duration
	volume  float64
	calls   []string
	failing error
}

func (f *fakeController) Status(context.Context) (playback.Status, error) { return f.status, nil }

func (f *fakeController) SetPaused(_ context.Context, p bool) error {
	f.paused = &p
	return f.failing
}

func (f *fakeController) Seek(_ context.Context, pos time.Duration) error {
	f.seek = pos
	return f.failing
}

func (f *fakeController) SkipNext(context.Context) error {
	f.calls = append(f.calls, "next")
	return f.failing
}

func (f *fakeController) SkipPrevious(context.Context) error {
	f.calls = append(f.calls, "prev")
	return f.failing
}

func (f *fakeController) SetVolume(_ context.Context, v float64) error {
	f.volume = v
	return f.failing
}

type fakeLyrics struct {
	asked []string
	err   error
}

func (f *fakeLyrics) Lookup(_ context.Context, t provider.Track) (string, error) {
	f.asked = append(f.asked, t.ID)
	if f.err != nil {
		return "", f.err
	}
	return "line one\nline two", nil
}

func playing() playback.Status {
	cur := provider.Track{ID: "1", Title: "Song", ArtistName: "Artist"}
	return playback.Status{
		Current:         &cur,
		Items:           []provider.Track{cur, {ID: "2", Title: "Next", ArtistName: "B"}},
		PositionMs:      60_000,
		DurationMs:      180_000,
		Volume:          0.5,
		NormalizeFactor: 1,
		Transition:      "monitoring",
	}
}

func newModel(ctrl *fakeController, lyr LyricsSource) Model {
	return New(context.Background(), ctrl, Options{Theme: ui.Plain(), Lyrics: lyr})
}

// press feeds a key and runs the resulting command back into the model.
func press(t *testing.T, m Model, key tea.KeyMsg) Model {
	t.Helper()
	next, cmd := m.Update(key)
	m = next.(Model)
	if cmd != nil {
		next, _ = m.Update(cmd())
		m = next.(Model)
	}
	return m
}

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func TestKeysDriveController(t *testing.T) {
	ctrl := &fakeController{status: playing()}
	m := newModel(ctrl, nil)
	next, _ := m.Update(statusMsg{status: ctrl.status})
	m = next.(Model)

	m = press(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	if ctrl.paused == nil || !*ctrl.paused {
		t.Fatal("space should pause")
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyRight})
	if ctrl.seek != 65*time.Second {
		t.Fatalf("seek = %s", ctrl.seek)
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyLeft})
	if ctrl.seek != 55*time.Second {
		t.Fatalf("seek = %s", ctrl.seek)
	}
	m = press(t, m, runes("+"))
	if ctrl.volume < 0.549 || ctrl.volume > 0.551 {
		t.Fatalf("volume = %v", ctrl.volume)
	}
	m = press(t, m, runes("n"))
	m = press(t, m, runes("p"))
	if strings.Join(ctrl.calls, ",") != "next,prev" {
		t.Fatalf("calls = %v", ctrl.calls)
	}

	_, cmd := m.Update(runes("q"))
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q should return tea.Quit")
	}
}

func TestVolumeClamps(t *testing.T) {
	st := playing()
	st.Volume = 0.02
	ctrl := &fakeController{status: st}
	m := newModel(ctrl, nil)
	next, _ := m.Update(statusMsg{status: st})
	press(t, next.(Model), runes("-"))
	if ctrl.volume != 0 {
		t.Fatalf("volume = %v", ctrl.volume)
	}
}

func TestErrorsShowInFooter(t *testing.T) {
	ctrl := &fakeController{status: playing(), failing: errors.New("service stopped")}
	m := press(t, newModel(ctrl, nil), runes("n"))
	if !strings.Contains(m.View(), "service stopped") {
		t.Fatalf("view missing error:\n%s", m.View())
	}
}

func TestLyricsFetchedOncePerTrack(t *testing.T) {
	lyr := &fakeLyrics{}
	ctrl := &fakeController{status: playing()}
	m := newModel(ctrl, lyr)

	next, cmd := m.Update(statusMsg{status: ctrl.status})
	m = next.(Model)
	if cmd == nil {
		t.Fatal("expected lyrics fetch")
	}
	next, _ = m.Update(cmd())
	m = next.(Model)
	if _, cmd := m.Update(statusMsg{status: ctrl.status}); cmd != nil {
		t.Fatal("same track must not refetch lyrics")
	}
	if len(lyr.asked) != 1 {
		t.Fatalf("asked = %v", lyr.asked)
	}
	view := m.View()
	for _, want := range []string{"Song", "Artist", "1:00 / 3:00", "Next", "line two"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestInterruptedLyricsFetchedAgain(t *testing.T) {
	lyr := &fakeLyrics{err: lyrics.ErrSuperseded}
	ctrl := &fakeController{status: playing()}
	m := newModel(ctrl, lyr)

	next, cmd := m.Update(statusMsg{status: ctrl.status})
	m = next.(Model)
	next, _ = m.Update(cmd())
	m = next.(Model)
	if strings.Contains(m.View(), "No lyrics found") {
		t.Fatal("interrupted request shown as a miss")
	}

	lyr.err = nil
	next, cmd = m.Update(statusMsg{status: ctrl.status})
	m = next.(Model)
	if cmd == nil {
		t.Fatal("expected lyrics to be fetched again")
	}
	next, _ = m.Update(cmd())
	m = next.(Model)
	if len(lyr.asked) != 2 || !strings.Contains(m.View(), "line two") {
		t.Fatalf("asked=%v view:\n%s", lyr.asked, m.View())
	}
}

func TestViewStates(t *testing.T) {
	m := newModel(&fakeController{}, nil)
	if !strings.Contains(m.View(), "Nothing playing") {
		t.Fatal("idle view")
	}

	st := playing()
	st.Transition = "transitioning"
	st.NormalizeFactor = 0.5
	next, _ := m.Update(statusMsg{status: st})
	view := next.(Model).View()
	if !strings.Contains(view, "crossfading") || !strings.Contains(view, "norm ×0.50") {
		t.Fatalf("view:\n%s", view)
	}

	lm := newModel(&fakeController{}, &fakeLyrics{})
	lm.lyricsText = lyrics.NotFound
	if !strings.Contains(lm.View(), "No lyrics found") {
		t.Fatal("not found lyrics")
	}
}
