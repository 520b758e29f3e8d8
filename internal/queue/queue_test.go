package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/tones/tones/internal/provider"
)

func sampleTracks(n int) []provider.Track {
	var out []provider.Track
	for i := 0; i < n; i++ {
		out = append(out, provider.Track{ID: fmt.Sprintf("t%d", i), Title: fmt.Sprintf("Track %d", i)})
	}
	return out
}

func ids(tracks []provider.Track) string {
	s := ""
	for i, t := range tracks {
		if i > 0 {
			s += ","
		}
		s += t.ID
	}
	return s
}

func TestQueueAddAndCurrent(t *testing.T) {
	q := New()
	tracks := []provider.Track{{ID: "1"}, {ID: "2"}}
	q.Add(tracks...)
	if q.Len() != 2 {
		t.Fatalf("expected len 2 got %d", q.Len())
	}
	cur, err := q.Current()
	if err != nil || cur.ID != "1" {
		t.Fatalf("expected first track, got %v err %v", cur, err)
	}
}

func TestQueueNextPrev(t *testing.T) {
	q := New()
	q.Add(sampleTracks(3)...)
	if _, err := q.Next(); err != nil {
		t.Fatalf("next err: %v", err)
	}
	cur, _ := q.Current()
	if cur.ID != "t1" {
		t.Fatalf("expected t1 got %s", cur.ID)
	}
	if _, err := q.Prev(); err != nil {
		t.Fatalf("prev err: %v", err)
	}
	cur, _ = q.Current()
	if cur.ID != "t0" {
		t.Fatalf("expected t0 got %s", cur.ID)
	}
	q.SetCurrent(2)
	if _, err := q.Next(); err != ErrEndOfQueue {
		t.Fatalf("expected end of queue, got %v", err)
	}
}

func TestQueueRemove(t *testing.T) {
	q := New()
	q.Add(sampleTracks(3)...)
	if err := q.Remove(1); err != nil {
		t.Fatalf("remove err: %v", err)
	}
	if q.Len() != 2 {
		t.Fatalf("len after remove: %d", q.Len())
	}
	cur, _ := q.Current()
	if cur.ID != "t0" {
		t.Fatalf("expected current stay t0 got %s", cur.ID)
	}
	if err := q.Remove(0); err != nil {
		t.Fatalf("remove err: %v", err)
	}
	cur, _ = q.Current()
	if cur.ID != "t2" {
		t.Fatalf("expected current t2 got %s", cur.ID)
	}
}

func TestQueueMove(t *testing.T) {
	q := New()
	q.Add(sampleTracks(3)...)
	if err := q.Move(0, 2); err != nil {
		t.Fatalf("move err: %v", err)
	}
	cur, _ := q.Current()
	if cur.ID != "t0" {
		t.Fatalf("expected current t0 got %s", cur.ID)
	}
	if q.CurrentIndex() != 2 {
		t.Fatalf("expected current index 2 got %d", q.CurrentIndex())
	}
}

func TestQueueInsertKeepsCurrent(t *testing.T) {
	q := New()
	q.Add(sampleTracks(3)...)
	q.SetCurrent(1)

	if err := q.Insert(0, provider.Track{ID: "a"}, provider.Track{ID: "b"}); err != nil {
		t.Fatal(err)
	}
	cur, _ := q.Current()
	if cur.ID != "t1" || q.CurrentIndex() != 3 {
		t.Fatalf("current = %s at %d", cur.ID, q.CurrentIndex())
	}
	q.AddNext(provider.Track{ID: "n"})
	if got := ids(q.Items()); got != "a,b,t0,t1,n,t2" {
		t.Fatalf("items = %s", got)
	}
	if q.Remaining() != 3 {
		t.Fatalf("remaining = %d", q.Remaining())
	}
	if err := q.Insert(99); err != ErrOutOfRange {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestQueuePeekNextHonorsRepeat(t *testing.T) {
	q := New()
	q.Add(sampleTracks(2)...)
	q.SetCurrent(1)
	if _, err := q.PeekNext(); err != ErrNoNext {
		t.Fatalf("expected no next, got %v", err)
	}
	q.SetRepeatMode(RepeatAll)
	if next, _ := q.PeekNext(); next.ID != "t0" {
		t.Fatalf("repeat all should wrap, got %s", next.ID)
	}
	q.SetRepeatMode(RepeatOne)
	if next, _ := q.PeekNext(); next.ID != "t1" {
		t.Fatalf("repeat one should replay, got %s", next.ID)
	}
	if next, _ := q.SkipNext(); next.ID != "t0" {
		t.Fatalf("skip under repeat one should move on, got %s", next.ID)
	}
	if q.RepeatMode() != RepeatOne {
		t.Fatal("skip must not change the repeat mode")
	}
}

func TestQueueShuffleRestoresOrder(t *testing.T) {
	q := New()
	q.Add(sampleTracks(20)...)
	q.SetCurrent(5)
	q.ToggleShuffle()
	cur, _ := q.Current()
	if cur.ID != "t5" {
		t.Fatalf("shuffle lost the current track: %s", cur.ID)
	}
	q.ToggleShuffle()
	if q.CurrentIndex() != 5 || ids(q.Items()) != ids(sampleTracks(20)) {
		t.Fatal("unshuffle did not restore original order")
	}
}

func TestQueueSnapshotRestore(t *testing.T) {
	q := New()
	q.SetTitle("Kind of Blue")
	q.Add(sampleTracks(4)...)
	q.SetCurrent(2)
	q.SetRepeatMode(RepeatAll)

	snap := q.Snapshot(42 * time.Second)

	r := New()
	r.Restore(snap)
	if r.Title() != "Kind of Blue" || r.CurrentIndex() != 2 || r.RepeatMode() != RepeatAll {
		t.Fatalf("restored %q idx %d repeat %s", r.Title(), r.CurrentIndex(), r.RepeatMode())
	}
	if ids(r.Items()) != ids(q.Items()) {
		t.Fatal("items differ after restore")
	}
}

func TestQueueReplaceClampsIndex(t *testing.T) {
	q := New()
	q.Replace(sampleTracks(3), 10)
	if q.CurrentIndex() != 2 {
		t.Fatalf("index = %d", q.CurrentIndex())
	}
	q.Replace(nil, 0)
	if q.CurrentIndex() != -1 {
		t.Fatalf("empty replace index = %d", q.CurrentIndex())
	}
}
