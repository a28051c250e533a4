package audit

import (
	"context"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event) error
}

// Reader lists recorded events.
type Reader interface {
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// NoOpLogger discards events.
type NoOpLogger struct{}

func (NoOpLogger) Log(context.Context, Event) error { return nil }

// Record writes event through logger. Failures are logged and dropped so an
// audit outage never undoes the primary operation.
func Record(ctx context.Context, logger Logger, event Event) {
	if logger == nil {
		return
	}
	if err := logger.Log(ctx, event); err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithField("action", event.Action).
			Warn("failed to record activity")
	}
}

type requestInfoKey struct{}

type requestInfo struct {
	ip        string
	userAgent string
}

// WithRequestInfo stores the caller's address and user agent so that events
// recorded deeper in the call stack carry them.
func WithRequestInfo(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, requestInfo{ip: ip, userAgent: userAgent})
}

func fillRequestInfo(ctx context.Context, event *Event) {
	info, ok := ctx.Value(requestInfoKey{}).(requestInfo)
	if !ok {
		return
	}
	if event.IPAddress == "" {
		event.IPAddress = info.ip
	}
	if event.UserAgent == "" {
		event.UserAgent = info.userAgent
	}
}
