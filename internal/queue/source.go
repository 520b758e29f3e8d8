package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/tones/tones/internal/provider"
)

// Status is what a Source starts playback with.
type Status struct {
	Title    string
	Items    []provider.Track
	Index    int
	Position time.Duration
}

// FilterExplicit drops explicit items when hide is set. Index keeps pointing
// at the same item or, if that item was dropped, the next surviving one.
func (s Status) FilterExplicit(hide bool) Status {
	if !hide {
		return s
	}
	kept := make([]provider.Track, 0, len(s.Items))
	index := -1
	for i, t := range s.Items {
		if t.Explicit {
			continue
		}
		if index == -1 && i >= s.Index {
			index = len(kept)
		}
		kept = append(kept, t)
	}
	if index == -1 {
		index = len(kept) - 1
	}
	if index < 0 {
		index = 0
	}
	out := s
	out.Items = kept
	out.Index = index
	if len(kept) == 0 || kept[index].ID != itemAt(s.Items, s.Index).ID {
		out.Position = 0
	}
	return out
}

func itemAt(items []provider.Track, i int) provider.Track {
	if i < 0 || i >= len(items) {
		return provider.Track{}
	}
	return items[i]
}

// FilterExplicit drops explicit items when hide is set.
func FilterExplicit(items []provider.Track, hide bool) []provider.Track {
	if !hide {
		return items
	}
	return lo.Reject(items, func(t provider.Track, _ int) bool { return t.Explicit })
}

// Source describes something to play: a fixed list, or a paginated provider
// listing.
type Source interface {
	Title() string
	// PreloadItem is played immediately, before InitialStatus resolves.
	PreloadItem() (provider.Track, bool)
	InitialStatus(ctx context.Context) (Status, error)
	HasNextPage() bool
	NextPage(ctx context.Context) ([]provider.Track, error)
}

// ListSource plays a fixed list.
type ListSource struct {
	title    string
	items    []provider.Track
	index    int
	position time.Duration
	preload  bool
}

func NewListSource(title string, items []provider.Track, index int, position time.Duration) *ListSource {
	return &ListSource{title: title, items: items, index: index, position: position}
}

// WithPreload starts the item at the list's index without waiting for the
// initial status.
func (s *ListSource) WithPreload() *ListSource {
	s.preload = true
	return s
}

func (s *ListSource) Title() string { return s.title }

func (s *ListSource) PreloadItem() (provider.Track, bool) {
	if !s.preload || s.index < 0 || s.index >= len(s.items) {
		return provider.Track{}, false
	}
	return s.items[s.index], true
}

func (s *ListSource) InitialStatus(context.Context) (Status, error) {
	return Status{Title: s.title, Items: s.items, Index: s.index, Position: s.position}, nil
}

func (s *ListSource) HasNextPage() bool { return false }

func (s *ListSource) NextPage(context.Context) ([]provider.Track, error) { return nil, nil }

// Lister is the part of a provider a ProviderSource pages through.
type Lister interface {
	ListTracks(ctx context.Context, q provider.TrackQuery, req provider.ListReq) (provider.Page[provider.Track], error)
}

// ProviderSource pages through a provider listing.
type ProviderSource struct {
	lister   Lister
	query    provider.TrackQuery
	title    string
	pageSize int
	startID  string

	mu     sync.Mutex
	cursor string
	more   bool
}

// NewProviderSource lists q page by page. When startID is set playback
// starts at that track if it is on the first page.
func NewProviderSource(lister Lister, title string, q provider.TrackQuery, pageSize int, startID string) *ProviderSource {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &ProviderSource{lister: lister, query: q, title: title, pageSize: pageSize, startID: startID}
}

func (s *ProviderSource) Title() string { return s.title }

func (s *ProviderSource) PreloadItem() (provider.Track, bool) { return provider.Track{}, false }

func (s *ProviderSource) InitialStatus(ctx context.Context) (Status, error) {
	page, err := s.lister.ListTracks(ctx, s.query, provider.ListReq{PageSize: s.pageSize})
	if err != nil {
		return Status{}, fmt.Errorf("list first page: %w", err)
	}
	s.mu.Lock()
	s.cursor, s.more = page.NextCursor, page.HasMore()
	s.mu.Unlock()

	index := 0
	if s.startID != "" {
		if _, i, ok := lo.FindIndexOf(page.Items, func(t provider.Track) bool { return t.ID == s.startID }); ok {
			index = i
		}
	}
	return Status{Title: s.title, Items: page.Items, Index: index}, nil
}

func (s *ProviderSource) HasNextPage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.more
}

func (s *ProviderSource) NextPage(ctx context.Context) ([]provider.Track, error) {
	s.mu.Lock()
	cursor, more := s.cursor, s.more
	s.mu.Unlock()
	if !more {
		return nil, nil
	}
	page, err := s.lister.ListTracks(ctx, s.query, provider.ListReq{Cursor: cursor, PageSize: s.pageSize})
	if err != nil {
		return nil, fmt.Errorf("list page %q: %w", cursor, err)
	}
	s.mu.Lock()
	s.cursor, s.more = page.NextCursor, page.HasMore()
	s.mu.Unlock()
	return page.Items, nil
}
