package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/ports"
)

// LoggingPublisher logs every session event.
type LoggingPublisher struct {
	Logger *slog.Logger
	Level  slog.Level
}

// Publish logs e at the publisher's level.
func (p LoggingPublisher) Publish(ctx context.Context, e *domain.SessionEvent) {
	if p.Logger == nil {
		return
	}
	attrs := []any{"type", e.Type, "session_id", e.SessionID}
	if e.Record != nil {
		if principal := e.Record.PrincipalName(); principal != "" {
			attrs = append(attrs, "principal", principal)
		}
	}
	p.Logger.Log(ctx, p.Level, "Session "+string(e.Type), attrs...)
}

// Fanout combines multiple publishers into one.
// Nil entries are skipped; publishers run in order on the caller's goroutine.
type Fanout []ports.EventPublisher

// Publish forwards e to every publisher.
func (f Fanout) Publish(ctx context.Context, e *domain.SessionEvent) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}
