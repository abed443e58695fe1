package store

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sreeharimv/auction-platform/internal/event"
)

// Projector keeps player records in step with round outcomes from the
// engine's event feed.
type Projector struct {
	players PlayerRepository
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewProjector returns a Projector writing to players.
func NewProjector(players PlayerRepository, logger *slog.Logger, tp trace.TracerProvider) *Projector {
	return &Projector{
		players: players,
		logger:  logger,
		tracer:  tp.Tracer("github.com/sreeharimv/auction-platform/internal/store"),
	}
}

// Apply projects a single event. Events that do not change a player's
// outcome are ignored.
func (p *Projector) Apply(ctx context.Context, e event.Event) error {
	switch e.Type {
	case event.RoundSold, event.RoundUnsold, event.SaleUndone, event.PlayerReoffered:
	default:
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "Projector.Apply",
		trace.WithAttributes(
			attribute.String("event.type", string(e.Type)),
			attribute.Int("event.version", e.Version),
		),
	)
	defer span.End()

	switch e.Type {
	case event.RoundSold:
		var d event.RoundSoldData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		return p.players.MarkSold(ctx, d.PlayerID, d.TeamID, d.Amount)

	case event.RoundUnsold:
		var d event.RoundUnsoldData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		if d.Requeued {
			return nil
		}
		return p.players.MarkUnsold(ctx, d.PlayerID)

	case event.SaleUndone:
		var d event.SaleUndoneData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		return p.players.Reset(ctx, d.PlayerID)

	default:
		var d event.PlayerReofferedData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		return p.players.Reset(ctx, d.PlayerID)
	}
}

// EventSource re-reads a session's log. The engine satisfies it.
type EventSource interface {
	History(from int) []event.Event
}

// Run projects history and then every event from sub until ctx is done or
// the subscription closes. When the feed drops events, or a version is
// skipped, the missing range is re-read from src. Write failures are logged
// and skipped; the event log stays the source of truth.
func (p *Projector) Run(ctx context.Context, src EventSource, history []event.Event, sub *event.Subscription) {
	defer sub.Close()

	var c cursor
	for _, e := range history {
		p.step(ctx, &c, e)
	}
	var lagged int64
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				p.catchUp(ctx, &c, src)
				return
			}
			if e.AggregateID == c.session && e.Version > c.version+1 {
				p.catchUp(ctx, &c, src)
			}
			p.step(ctx, &c, e)
			if n := sub.Lagged(); n > lagged {
				lagged = n
				p.logger.WarnContext(ctx, "projector fell behind the feed, re-reading the session log",
					slog.String("session_id", c.session),
					slog.Int("version", c.version),
					slog.Int64("lagged", n),
				)
				p.catchUp(ctx, &c, src)
			}
		}
	}
}

// cursor is the last projected event.
type cursor struct {
	session string
	version int
}

func (p *Projector) step(ctx context.Context, c *cursor, e event.Event) {
	if e.AggregateID != c.session {
		c.session, c.version = e.AggregateID, 0
	}
	if e.Version <= c.version {
		return
	}
	p.apply(ctx, e)
	c.version = e.Version
}

func (p *Projector) catchUp(ctx context.Context, c *cursor, src EventSource) {
	if src == nil {
		return
	}
	events := src.History(c.version)
	if len(events) > 0 && events[0].AggregateID != c.session {
		// A new session started; its log begins at version 1.
		events = src.History(0)
	}
	for _, e := range events {
		p.step(ctx, c, e)
	}
}

func (p *Projector) apply(ctx context.Context, e event.Event) {
	if err := p.Apply(ctx, e); err != nil {
		p.logger.ErrorContext(ctx, "failed to project event",
			slog.String("session_id", e.AggregateID),
			slog.String("type", string(e.Type)),
			slog.Int("version", e.Version),
			slog.Any("error", err),
		)
	}
}
