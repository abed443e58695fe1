package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sreeharimv/auction-platform/internal/event"
)

// Restore rebuilds a session from its durable log and makes it current.
// Nothing is re-appended to the sink.
func (e *Engine) Restore(ctx context.Context, sessionID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.Restore",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	if e.sink == nil {
		return errors.New("restoring session: no event store configured")
	}
	events, err := e.sink.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading events: %w", err)
	}
	s, err := rebuild(sessionID, events)
	if err != nil {
		return err
	}

	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	e.mu.Lock()
	if e.s != nil && e.s.status != Completed {
		e.mu.Unlock()
		return ErrSessionStarted
	}
	e.s = s
	e.publishLocked()
	e.mu.Unlock()
	e.synced = watermark{sessionID: sessionID, version: s.version()}

	e.logger.InfoContext(ctx, "session restored",
		slog.String("session_id", sessionID),
		slog.String("status", string(s.status)),
		slog.Int("version", s.version()),
	)
	return nil
}

// RecoverSession restores the most recently started session. It is used on
// leader startup to pick up where a previous process left off.
func (e *Engine) RecoverSession(ctx context.Context) (string, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.RecoverSession")
	defer span.End()

	if e.sink == nil {
		return "", ErrNoSession
	}
	started, err := e.sink.LoadByType(ctx, event.SessionStarted)
	if err != nil {
		return "", fmt.Errorf("loading session started events: %w", err)
	}
	if len(started) == 0 {
		return "", ErrNoSession
	}
	id := started[len(started)-1].AggregateID
	if err := e.Restore(ctx, id); err != nil {
		return "", fmt.Errorf("recovering session %s: %w", id, err)
	}
	return id, nil
}

// rebuild replays a session log from scratch.
func rebuild(sessionID string, events []event.Event) (*session, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNoSession)
	}
	s := newSession(sessionID)
	for _, ev := range events {
		if err := s.replay(ev); err != nil {
			return nil, err
		}
	}
	return s, nil
}
