package observability

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tbourn/go-modcases/internal/config"
)

// FlushFunc waits up to the given timeout for buffered events to be sent.
type FlushFunc func(time.Duration) bool

func noopFlush(time.Duration) bool { return true }

// sentryBeforeSend is a test seam; nil sends every event.
var sentryBeforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event

// SetupSentry initializes the global Sentry client. An empty DSN disables
// reporting and every capture becomes a no-op.
func SetupSentry(cfg config.SentryConfig, release string) (FlushFunc, error) {
	if cfg.DSN == "" {
		return noopFlush, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          release,
		AttachStacktrace: true,
		BeforeSend:       sentryBeforeSend,
	})
	if err != nil {
		return nil, err
	}
	return sentry.Flush, nil
}

// CaptureError reports err on the hub bound to ctx, falling back to the
// global hub. Tags are attached to this event only.
func CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}
