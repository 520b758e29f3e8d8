package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tones/tones/internal/diagnostics"
	"github.com/tones/tones/internal/provider"
)

func TestPersistenceSaveLoad(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), MainFile))

	loudness := -6.5
	q := New()
	q.SetTitle("Evening")
	q.Add(
		provider.Track{ID: "t1", Title: "Track 1", ArtistName: "Artist 1", DurationMs: 180000},
		provider.Track{ID: "t2", Title: "Track 2", ArtistName: "Artist 2", LoudnessDb: &loudness},
		provider.Track{ID: "t3", Title: "Track 3", ArtistName: "Artist 3", Explicit: true},
	)
	_ = q.SetCurrent(1)
	q.CycleRepeat() // RepeatAll

	ctx := context.Background()
	if err := store.Save(ctx, q.Snapshot(73*time.Second)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Items) != 3 {
		t.Fatalf("expected 3 tracks, got %d", len(snap.Items))
	}
	if snap.Index != 1 || snap.Position != 73*time.Second {
		t.Errorf("index %d position %s", snap.Index, snap.Position)
	}
	if snap.Repeat != RepeatAll || snap.Title != "Evening" {
		t.Errorf("repeat %s title %q", snap.Repeat, snap.Title)
	}
	if snap.Items[1].LoudnessDb == nil || *snap.Items[1].LoudnessDb != -6.5 {
		t.Errorf("loudness lost: %+v", snap.Items[1])
	}
	if !snap.Items[2].Explicit || snap.Items[0].DurationMs != 180000 {
		t.Errorf("track fields lost: %+v", snap.Items)
	}
}

func TestPersistenceMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), AutomixFile)
	store := NewStore(path)
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("Load must not create the file")
	}
	if err := store.Remove(); err != nil {
		t.Fatalf("Remove of missing file: %v", err)
	}
}

func TestPersistenceOverwrite(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), MainFile))
	ctx := context.Background()
	if err := store.Save(ctx, Snapshot{Items: sampleTracks(5), Index: 4}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, Snapshot{Items: sampleTracks(2), Index: 0}); err != nil {
		t.Fatal(err)
	}
	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Items) != 2 || snap.Index != 0 {
		t.Fatalf("got %d items idx %d", len(snap.Items), snap.Index)
	}
	if _, err := os.Stat(store.Path() + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("temporary file left behind")
	}
}

func TestPersistenceInvalidIndex(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), MainFile))
	ctx := context.Background()
	if err := store.Save(ctx, Snapshot{Items: sampleTracks(2), Index: 5, Position: time.Minute}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Index != 1 || snap.Position != 0 {
		t.Errorf("expected clamped index 1 at 0, got %d at %s", snap.Index, snap.Position)
	}
}

func TestPersisterRoundTripAndRemove(t *testing.T) {
	dir := t.TempDir()
	p := NewPersister(dir, PersisterOptions{})
	ctx := context.Background()

	main := Snapshot{Title: "Main", Items: sampleTracks(7), Index: 3, Position: 12 * time.Second}
	automix := Snapshot{Items: sampleTracks(2), Index: -1}
	if err := p.SaveAll(ctx, main, automix); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	for _, name := range []string{MainFile, AutomixFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not written: %v", name, err)
		}
	}

	gotMain, gotAutomix := p.LoadAll(ctx)
	if ids(gotMain.Items) != ids(main.Items) || gotMain.Index != 3 || gotMain.Position != 12*time.Second || gotMain.Title != "Main" {
		t.Fatalf("main = %+v", gotMain)
	}
	if len(gotAutomix.Items) != 2 {
		t.Fatalf("automix = %+v", gotAutomix)
	}

	// An empty queue removes its file.
	if err := p.SaveAll(ctx, Snapshot{}, automix); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, MainFile)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("empty main snapshot should delete the file")
	}
	if err := p.RemoveAll(); err != nil {
		t.Fatal(err)
	}
	gotMain, gotAutomix = p.LoadAll(ctx)
	if !gotMain.Empty() || !gotAutomix.Empty() {
		t.Fatal("expected nothing after RemoveAll")
	}
}

func TestPersisterTrySaveSkipsWhenBusy(t *testing.T) {
	p := NewPersister(t.TempDir(), PersisterOptions{})
	p.mu.Lock()
	ok, err := p.TrySaveAll(context.Background(), Snapshot{Items: sampleTracks(1)}, Snapshot{})
	p.mu.Unlock()
	if ok || err != nil {
		t.Fatalf("TrySaveAll while busy = %v, %v", ok, err)
	}
	ok, err = p.TrySaveAll(context.Background(), Snapshot{Items: sampleTracks(1)}, Snapshot{})
	if !ok || err != nil {
		t.Fatalf("TrySaveAll = %v, %v", ok, err)
	}
}

func TestPersisterReportsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, MainFile), []byte("not a database"), 0o644); err != nil {
		t.Fatal(err)
	}
	var reported []error
	p := NewPersister(dir, PersisterOptions{Sink: diagnostics.Func(func(_ context.Context, err error) {
		reported = append(reported, err)
	})})
	main, _ := p.LoadAll(context.Background())
	if !main.Empty() {
		t.Fatal("corrupt snapshot should read as empty")
	}
	if len(reported) != 1 {
		t.Fatalf("expected one report, got %v", reported)
	}
}
