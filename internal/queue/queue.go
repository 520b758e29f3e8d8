package queue

import (
	"errors"
	"math/rand"
	"time"

	"github.com/tones/tones/internal/provider"
)

type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatOne
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "off"
	}
}

// Queue maintains an ordered list of tracks and the current position.
type Queue struct {
	title      string
	items      []provider.Track
	current    int
	repeatMode RepeatMode
	shuffled   bool
	original   []provider.Track
}

var (
	ErrEmpty      = errors.New("queue is empty")
	ErrEndOfQueue = errors.New("end of queue")
	ErrNoNext     = errors.New("no next track")
	ErrOutOfRange = errors.New("index out of range")
)

func New() *Queue {
	return &Queue{items: []provider.Track{}, current: -1}
}

// Title is the display name of what is playing, empty when unknown.
func (q *Queue) Title() string { return q.title }

func (q *Queue) SetTitle(title string) { q.title = title }

func (q *Queue) Items() []provider.Track {
	out := make([]provider.Track, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Current() (provider.Track, error) {
	if q.current < 0 || q.current >= len(q.items) {
		return provider.Track{}, ErrEmpty
	}
	return q.items[q.current], nil
}

func (q *Queue) CurrentIndex() int {
	return q.current
}

// Remaining counts the items from the current one to the end, inclusive.
func (q *Queue) Remaining() int {
	if q.current < 0 {
		return len(q.items)
	}
	return len(q.items) - q.current
}

func (q *Queue) Add(tracks ...provider.Track) {
	q.items = append(q.items, tracks...)
	if q.shuffled {
		q.original = append(q.original, tracks...)
	}
	if q.current == -1 && len(q.items) > 0 {
		q.current = 0
	}
}

func (q *Queue) AddNext(tracks ...provider.Track) {
	if q.current == -1 {
		q.Add(tracks...)
		return
	}
	_ = q.Insert(q.current+1, tracks...)
}

// Insert places tracks before idx; idx == Len appends. The current item
// stays current.
func (q *Queue) Insert(idx int, tracks ...provider.Track) error {
	if idx < 0 || idx > len(q.items) {
		return ErrOutOfRange
	}
	if len(tracks) == 0 {
		return nil
	}
	items := make([]provider.Track, 0, len(q.items)+len(tracks))
	items = append(items, q.items[:idx]...)
	items = append(items, tracks...)
	items = append(items, q.items[idx:]...)
	q.items = items
	if q.shuffled {
		q.original = append(q.original, tracks...)
	}
	switch {
	case q.current == -1:
		q.current = 0
	case idx <= q.current:
		q.current += len(tracks)
	}
	return nil
}

// Replace swaps the whole list and points at index, clamped to the list.
func (q *Queue) Replace(tracks []provider.Track, index int) {
	q.items = append([]provider.Track(nil), tracks...)
	q.shuffled = false
	q.original = nil
	switch {
	case len(q.items) == 0:
		q.current = -1
	case index < 0:
		q.current = 0
	case index >= len(q.items):
		q.current = len(q.items) - 1
	default:
		q.current = index
	}
}

func (q *Queue) Remove(idx int) error {
	if idx < 0 || idx >= len(q.items) {
		return ErrOutOfRange
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	if len(q.items) == 0 {
		q.current = -1
		return nil
	}
	if idx < q.current {
		q.current--
	} else if idx == q.current && q.current >= len(q.items) {
		q.current = len(q.items) - 1
	}
	return nil
}

func (q *Queue) Move(from, to int) error {
	if from < 0 || from >= len(q.items) || to < 0 || to >= len(q.items) {
		return ErrOutOfRange
	}
	if from == to {
		return nil
	}
	item := q.items[from]
	if from < to {
		copy(q.items[from:], q.items[from+1:to+1])
	} else {
		copy(q.items[to+1:], q.items[to:from])
	}
	q.items[to] = item
	if q.current == from {
		q.current = to
	} else if from < q.current && to >= q.current {
		q.current--
	} else if from > q.current && to <= q.current {
		q.current++
	}
	return nil
}

func (q *Queue) ToggleShuffle() {
	q.shuffled = !q.shuffled
	currentTrack, _ := q.Current()
	if q.shuffled {
		q.original = make([]provider.Track, len(q.items))
		copy(q.original, q.items)
		rand.Shuffle(len(q.items), func(i, j int) {
			q.items[i], q.items[j] = q.items[j], q.items[i]
		})
	} else if q.original != nil {
		q.items = q.original
		q.original = nil
	}
	q.locate(currentTrack.ID)
}

func (q *Queue) locate(id string) {
	if id == "" {
		return
	}
	for i, t := range q.items {
		if t.ID == id {
			q.current = i
			return
		}
	}
}

func (q *Queue) CycleRepeat() RepeatMode {
	q.repeatMode = (q.repeatMode + 1) % 3
	return q.repeatMode
}

func (q *Queue) SetRepeatMode(m RepeatMode) { q.repeatMode = m }

func (q *Queue) RepeatMode() RepeatMode {
	return q.repeatMode
}

func (q *Queue) IsShuffled() bool {
	return q.shuffled
}

func (q *Queue) Next() (provider.Track, error) {
	if len(q.items) == 0 {
		return provider.Track{}, ErrEmpty
	}

	if q.repeatMode == RepeatOne {
		if q.current == -1 {
			q.current = 0
		}
		return q.items[q.current], nil
	}

	if q.current < len(q.items)-1 {
		q.current++
	} else if q.repeatMode == RepeatAll {
		q.current = 0
	} else {
		return provider.Track{}, ErrEndOfQueue
	}
	return q.items[q.current], nil
}

// SkipNext moves to the following item ignoring repeat-one, which only
// applies to automatic advances.
func (q *Queue) SkipNext() (provider.Track, error) {
	if q.repeatMode != RepeatOne {
		return q.Next()
	}
	q.repeatMode = RepeatAll
	defer func() { q.repeatMode = RepeatOne }()
	return q.Next()
}

// PeekNext returns what Next would return without moving.
func (q *Queue) PeekNext() (provider.Track, error) {
	if len(q.items) == 0 {
		return provider.Track{}, ErrEmpty
	}
	switch {
	case q.repeatMode == RepeatOne && q.current >= 0:
		return q.items[q.current], nil
	case q.current+1 < len(q.items):
		return q.items[q.current+1], nil
	case q.repeatMode == RepeatAll:
		return q.items[0], nil
	}
	return provider.Track{}, ErrNoNext
}

func (q *Queue) Prev() (provider.Track, error) {
	if len(q.items) == 0 {
		return provider.Track{}, ErrEmpty
	}
	if q.current > 0 {
		q.current--
	}
	return q.items[q.current], nil
}

func (q *Queue) SetCurrent(idx int) error {
	if idx < 0 || idx >= len(q.items) {
		return ErrOutOfRange
	}
	q.current = idx
	return nil
}

func (q *Queue) Clear() {
	q.title = ""
	q.items = nil
	q.original = nil
	q.shuffled = false
	q.current = -1
}

// Snapshot captures the queue for persistence.
func (q *Queue) Snapshot(position time.Duration) Snapshot {
	return Snapshot{
		Title:    q.title,
		Items:    q.Items(),
		Index:    q.current,
		Position: position,
		Repeat:   q.repeatMode,
	}
}

// Restore replaces the queue with a snapshot's contents.
func (q *Queue) Restore(s Snapshot) {
	q.Replace(s.Items, s.Index)
	q.title = s.Title
	q.repeatMode = s.Repeat
}
