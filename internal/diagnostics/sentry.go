package diagnostics

import (
	"context"
	"fmt"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

// SentryOptions configures the Sentry reporter.
type SentryOptions struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
	// BeforeSend inspects or drops events before delivery.
	BeforeSend func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event
}

// SentryReporter sends reports to Sentry on a hub owned by this reporter,
// so its scope and tags never mix with other users of the global hub.
type SentryReporter struct {
	hub       *sentry.Hub
	sessionID string
}

// NewSentryReporter creates a reporter with its own client and hub.
func NewSentryReporter(opts SentryOptions) (*SentryReporter, error) {
	if opts.SampleRate == 0 {
		opts.SampleRate = 1.0
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: opts.Environment,
		Release:     opts.Release,
		SampleRate:  opts.SampleRate,
		BeforeSend:  opts.BeforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	hub := sentry.NewHub(client, sentry.NewScope())
	sessionID := uuid.NewString()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("session_id", sessionID)
		scope.SetTag("component", "playback")
	})
	return &SentryReporter{hub: hub, sessionID: sessionID}, nil
}

func (r *SentryReporter) Name() string { return "sentry" }

// SessionID identifies this process run in every event.
func (r *SentryReporter) SessionID() string { return r.sessionID }

// Hub exposes the reporter's hub so HTTP middleware can share its client.
func (r *SentryReporter) Hub() *sentry.Hub { return r.hub }

func (r *SentryReporter) Report(ctx context.Context, err error) {
	r.hub.WithScope(func(scope *sentry.Scope) {
		if op, ok := ctx.Value(operationKey{}).(string); ok {
			scope.SetTag("operation", op)
		}
		r.hub.CaptureException(err)
	})
}

func (r *SentryReporter) Close(ctx context.Context) error {
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !r.hub.Flush(timeout) {
		return fmt.Errorf("sentry flush timed out after %s", timeout)
	}
	return nil
}

type operationKey struct{}

// WithOperation tags reports made under ctx with the operation name.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}
