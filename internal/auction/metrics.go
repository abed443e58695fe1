package auction

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sreeharimv/auction-platform/internal/ledger"
)

type metrics struct {
	bids    metric.Int64Counter
	rounds  metric.Int64Counter
	undos   metric.Int64Counter
	defects metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter("github.com/sreeharimv/auction-platform/internal/auction")

	bids, err := meter.Int64Counter("auction.bids",
		metric.WithDescription("Bid submissions by result and rejection reason."))
	if err != nil {
		return nil, fmt.Errorf("creating bids counter: %w", err)
	}
	rounds, err := meter.Int64Counter("auction.rounds.closed",
		metric.WithDescription("Closed rounds by outcome."))
	if err != nil {
		return nil, fmt.Errorf("creating rounds counter: %w", err)
	}
	undos, err := meter.Int64Counter("auction.sales.undone",
		metric.WithDescription("Sales reversed by the operator."))
	if err != nil {
		return nil, fmt.Errorf("creating undo counter: %w", err)
	}
	defects, err := meter.Int64Counter("auction.ledger.defects",
		metric.WithDescription("Ledger re-checks that failed after validation passed."))
	if err != nil {
		return nil, fmt.Errorf("creating defects counter: %w", err)
	}
	return &metrics{bids: bids, rounds: rounds, undos: undos, defects: defects}, nil
}

func (m *metrics) bidAccepted(ctx context.Context) {
	m.bids.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "accepted")))
}

func (m *metrics) bidRejected(ctx context.Context, err error) {
	m.bids.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", "rejected"),
		attribute.String("reason", rejectReason(err)),
	))
}

func (m *metrics) roundClosed(ctx context.Context, outcome Outcome) {
	m.rounds.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (m *metrics) saleUndone(ctx context.Context) {
	m.undos.Add(ctx, 1)
}

func (m *metrics) ledgerDefect(ctx context.Context) {
	m.defects.Add(ctx, 1)
}

// rejectReason maps a bid error to a low-cardinality label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrRoundClosed):
		return "round_closed"
	case errors.Is(err, ErrStaleRound):
		return "stale_round"
	case errors.Is(err, ErrBidTooLow):
		return "bid_too_low"
	case errors.Is(err, ErrSelfOutbid):
		return "self_outbid"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrSquadFull):
		return "squad_full"
	case errors.Is(err, ErrNoOpenRound):
		return "no_open_round"
	case errors.Is(err, ledger.ErrUnknownTeam):
		return "unknown_team"
	default:
		return "other"
	}
}
