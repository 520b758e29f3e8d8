package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tones/tones/internal/provider"
)

type fakeSource struct {
	calls   atomic.Int32
	expires time.Time
	err     error
	gate    chan struct{}
}

func (f *fakeSource) GetStream(ctx context.Context, id string) (provider.StreamInfo, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return provider.StreamInfo{}, ctx.Err()
		}
	}
	if f.err != nil {
		return provider.StreamInfo{}, f.err
	}
	return provider.StreamInfo{URL: "https://cdn.example/" + id, ExpiresAt: f.expires}, nil
}

func TestResolveCachesUntilMargin(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	src := &fakeSource{expires: now.Add(2 * time.Minute)}
	r, err := NewResolver(src, Options{Now: func() time.Time { return now }})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		info, err := r.Resolve(context.Background(), "t1")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if info.URL != "https://cdn.example/t1" {
			t.Fatalf("url = %s", info.URL)
		}
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected one provider call, got %d", got)
	}

	// Inside the margin the cached URL is no longer served.
	now = now.Add(95 * time.Second)
	src.expires = now.Add(10 * time.Minute)
	if _, err := r.Resolve(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("expected refresh near expiry, got %d calls", got)
	}
}

func TestResolveNoExpiryIsCached(t *testing.T) {
	src := &fakeSource{}
	r, _ := NewResolver(src, Options{})
	r.Resolve(context.Background(), "a")
	r.Resolve(context.Background(), "a")
	if src.calls.Load() != 1 {
		t.Fatalf("calls = %d", src.calls.Load())
	}
	r.Invalidate("a")
	r.Resolve(context.Background(), "a")
	if src.calls.Load() != 2 {
		t.Fatalf("expected invalidate to force a refetch, calls = %d", src.calls.Load())
	}
}

func TestResolveCoalescesConcurrentCalls(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	r, _ := NewResolver(src, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve(context.Background(), "same"); err != nil {
				t.Error(err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected coalesced call, got %d", got)
	}
}

func TestResolveCallerCancelDoesNotFailWaiters(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	r, _ := NewResolver(src, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, "same")
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)
	second := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "same")
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: err = %v", err)
	}
	close(src.gate)
	if err := <-second; err != nil {
		t.Fatalf("waiter failed with the first caller: %v", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected one shared lookup, got %d", got)
	}
	if r.Len() != 1 {
		t.Fatal("shared lookup should still be cached")
	}
}

func TestResolveSharedLookupTimesOut(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	defer close(src.gate)
	r, _ := NewResolver(src, Options{Timeout: 20 * time.Millisecond})
	_, err := r.Resolve(context.Background(), "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestResolveErrorNotCached(t *testing.T) {
	src := &fakeSource{err: provider.ErrOffline}
	r, _ := NewResolver(src, Options{})
	_, err := r.Resolve(context.Background(), "x")
	if !errors.Is(err, provider.ErrOffline) {
		t.Fatalf("err = %v", err)
	}
	if r.Len() != 0 {
		t.Fatal("failed resolve must not be cached")
	}
}
