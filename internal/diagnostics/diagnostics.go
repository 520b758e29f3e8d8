// Package diagnostics is the one-way error sink used by the playback and
// lyrics pipelines. Reporting never blocks the caller and never fails.
package diagnostics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Sink receives errors that were recovered locally but are worth knowing about.
type Sink interface {
	ReportException(ctx context.Context, err error)
}

// Func adapts a plain function to a Sink.
type Func func(ctx context.Context, err error)

func (f Func) ReportException(ctx context.Context, err error) { f(ctx, err) }

// Nop discards every report.
type Nop struct{}

func (Nop) ReportException(context.Context, error) {}

// Reporter is a backend the Manager fans reports out to.
type Reporter interface {
	// Name identifies the backend in logs.
	Name() string
	// Report delivers one error. It may block on I/O; the Manager calls it
	// off the caller's goroutine.
	Report(ctx context.Context, err error)
	// Close flushes buffered reports.
	Close(ctx context.Context) error
}

// Manager coordinates reporters, fanning out each error to all of them.
type Manager struct {
	mu        sync.RWMutex
	reporters []Reporter
	wg        sync.WaitGroup
}

func NewManager(reporters ...Reporter) *Manager {
	return &Manager{reporters: reporters}
}

// Register adds a reporter to the manager.
func (m *Manager) Register(r Reporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reporters = append(m.reporters, r)
}

// Reporters returns all registered reporters.
func (m *Manager) Reporters() []Reporter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Reporter, len(m.reporters))
	copy(out, m.reporters)
	return out
}

// ReportException hands err to every reporter without waiting for them.
// Cancellation is not an error worth reporting and is dropped.
func (m *Manager) ReportException(ctx context.Context, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	// Reports outlive the request that produced them.
	ctx = context.WithoutCancel(ctx)
	for _, r := range m.Reporters() {
		m.wg.Add(1)
		go func(r Reporter) {
			defer m.wg.Done()
			r.Report(ctx, err)
		}(r)
	}
}

// Wait blocks until all in-flight reports complete or the context is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for in-flight reports and closes every reporter.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.Wait(ctx); err != nil {
		return err
	}
	var errs []error
	for _, r := range m.Reporters() {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogReporter writes reports to a slog logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Name() string { return "log" }

func (r LogReporter) Report(ctx context.Context, err error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "recovered error", slog.Any("err", err))
}

func (r LogReporter) Close(context.Context) error { return nil }
