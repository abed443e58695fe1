package auction_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	mnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sreeharimv/auction-platform/internal/auction"
	"github.com/sreeharimv/auction-platform/internal/clock"
	"github.com/sreeharimv/auction-platform/internal/event"
	"github.com/sreeharimv/auction-platform/internal/increment"
	"github.com/sreeharimv/auction-platform/internal/ledger"
	"github.com/sreeharimv/auction-platform/internal/money"
	"github.com/sreeharimv/auction-platform/internal/queue"
	"github.com/sreeharimv/auction-platform/internal/roster"
)

// --- mock helpers ---

type mockEventStore struct {
	mu       sync.Mutex
	events   []event.Event
	appendFn func(events ...event.Event) error
}

func (m *mockEventStore) Append(_ context.Context, events ...event.Event) error {
	if m.appendFn != nil {
		if err := m.appendFn(events...); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *mockEventStore) Load(_ context.Context, aggregateID string) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []event.Event
	for _, e := range m.events {
		if e.AggregateID == aggregateID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockEventStore) LoadByType(_ context.Context, eventType event.Type) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []event.Event
	for _, e := range m.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result, nil
}

const lakh = money.Lakh

func newEngine(t *testing.T, es event.Store) *auction.Engine {
	t.Helper()
	clk := clock.Mock{T: time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)}
	e, err := auction.NewEngine(es, slog.New(slog.DiscardHandler), noop.NewTracerProvider(), mnoop.NewMeterProvider(), clk)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func teams(maxPlayers int, ids ...string) []ledger.TeamSpec {
	out := make([]ledger.TeamSpec, len(ids))
	for i, id := range ids {
		out[i] = ledger.TeamSpec{
			ID:         id,
			Name:       "Team " + id,
			Budget:     250 * lakh,
			MinPlayers: 1,
			MaxPlayers: maxPlayers,
		}
	}
	return out
}

func players(ids ...string) []roster.Player {
	out := make([]roster.Player, len(ids))
	for i, id := range ids {
		out[i] = roster.Player{ID: id, Name: "Player " + id}
	}
	return out
}

// params is a session with a flat one-lakh increment over a 50 lakh base.
func params(ps []roster.Player, ts []ledger.TeamSpec) auction.SessionParams {
	return auction.SessionParams{
		Tournament: "Test League",
		Currency:   "₹",
		BasePrice:  50 * lakh,
		Tiers:      []increment.Tier{{From: 0, Increment: lakh}},
		Teams:      ts,
		Players:    ps,
	}
}

func start(t *testing.T, e *auction.Engine, p auction.SessionParams) *auction.RoundSnapshot {
	t.Helper()
	if _, err := e.StartSession(context.Background(), p); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	r := e.CurrentRound()
	if r == nil {
		t.Fatal("expected an open round after start")
	}
	return r
}

func bid(t *testing.T, e *auction.Engine, team string, amount money.Amount) auction.RoundSnapshot {
	t.Helper()
	r := e.CurrentRound()
	if r == nil {
		t.Fatal("no open round")
	}
	snap, err := e.SubmitBid(context.Background(), r.RoundID, team, amount, r.Version)
	if err != nil {
		t.Fatalf("SubmitBid(%s, %d) error = %v", team, amount, err)
	}
	return snap
}

func standings(e *auction.Engine) string {
	var out string
	for _, s := range e.Teams() {
		out += fmt.Sprintf("%s:%d:%v;", s.Team.ID, s.Team.Spent, s.Team.Squad)
	}
	return out
}

// --- tests ---

func TestEngine_StartSession(t *testing.T) {
	es := &mockEventStore{}
	e := newEngine(t, es)

	if got := e.SessionStatus(); got != auction.NotStarted {
		t.Fatalf("SessionStatus() = %s, want NOT_STARTED", got)
	}
	if e.CurrentRound() != nil {
		t.Fatal("expected no round before start")
	}

	r := start(t, e, params(players("p1", "p2"), teams(3, "a", "b")))

	if got := e.SessionStatus(); got != auction.Running {
		t.Errorf("SessionStatus() = %s, want RUNNING", got)
	}
	if r.RoundID != "round-1" || r.Player.ID != "p1" {
		t.Errorf("round = %s/%s, want round-1/p1", r.RoundID, r.Player.ID)
	}
	if r.Amount != 50*lakh || r.NextMinimum != 50*lakh || r.Version != 0 {
		t.Errorf("round = %+v, want base price amount and minimum at version 0", r)
	}
	if len(r.Ladder) != 10 || r.Ladder[1] != 51*lakh {
		t.Errorf("Ladder = %v", r.Ladder)
	}
	if len(es.events) != 2 {
		t.Errorf("persisted %d events, want 2", len(es.events))
	}

	_, err := e.StartSession(context.Background(), params(players("p9"), teams(3, "a", "b")))
	if !errors.Is(err, auction.ErrSessionStarted) {
		t.Errorf("second StartSession() error = %v, want ErrSessionStarted", err)
	}
}

func TestEngine_StartSession_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *auction.SessionParams)
		wantErr error
	}{
		{
			name:    "empty queue",
			mutate:  func(p *auction.SessionParams) { p.Players = nil },
			wantErr: auction.ErrEmptyQueue,
		},
		{
			name:    "zero base price",
			mutate:  func(p *auction.SessionParams) { p.BasePrice = 0 },
			wantErr: auction.ErrInvalidBasePrice,
		},
		{
			name:    "negative base price",
			mutate:  func(p *auction.SessionParams) { p.BasePrice = -lakh },
			wantErr: auction.ErrInvalidBasePrice,
		},
		{
			name:    "malformed tiers",
			mutate:  func(p *auction.SessionParams) { p.Tiers = []increment.Tier{{From: 10, Increment: 1}, {From: 5, Increment: 1}} },
			wantErr: increment.ErrInvalidTiers,
		},
		{
			name:    "duplicate team",
			mutate:  func(p *auction.SessionParams) { p.Teams = teams(3, "a", "a") },
			wantErr: ledger.ErrDuplicateTeam,
		},
		{
			name:    "duplicate player",
			mutate:  func(p *auction.SessionParams) { p.Players = players("p1", "p1") },
			wantErr: queue.ErrAlreadyQueued,
		},
		{
			name: "base price below minimum",
			mutate: func(p *auction.SessionParams) {
				p.Players[0].BasePrice = lakh
			},
		},
		{
			name: "captain in queue",
			mutate: func(p *auction.SessionParams) {
				p.Teams[0].Captain = "p1"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, &mockEventStore{})
			p := params(players("p1", "p2"), teams(3, "a", "b"))
			tt.mutate(&p)

			_, err := e.StartSession(context.Background(), p)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if e.SessionStatus() != auction.NotStarted {
				t.Errorf("SessionStatus() = %s, want NOT_STARTED", e.SessionStatus())
			}
		})
	}
}

func TestEngine_BidScenario(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, &mockEventStore{})
	r := start(t, e, params(players("p1", "p2"), teams(3, "a", "b")))

	snap, err := e.SubmitBid(ctx, r.RoundID, "a", 50*lakh, 0)
	if err != nil {
		t.Fatalf("a opening bid error = %v", err)
	}
	if snap.Leader != "a" || snap.Version != 1 || snap.NextMinimum != 51*lakh {
		t.Fatalf("snapshot after a = %+v", snap)
	}

	if _, err := e.SubmitBid(ctx, r.RoundID, "a", 51*lakh, 1); !errors.Is(err, auction.ErrSelfOutbid) {
		t.Errorf("a self-raise error = %v, want ErrSelfOutbid", err)
	}
	if _, err := e.SubmitBid(ctx, r.RoundID, "b", 5_050_000, 1); !errors.Is(err, auction.ErrBidTooLow) {
		t.Errorf("b low bid error = %v, want ErrBidTooLow", err)
	}
	snap, err = e.SubmitBid(ctx, r.RoundID, "b", 51*lakh, 1)
	if err != nil {
		t.Fatalf("b bid error = %v", err)
	}
	if snap.Leader != "b" || snap.Amount != 51*lakh || snap.Version != 2 {
		t.Fatalf("snapshot after b = %+v", snap)
	}

	res, err := e.CloseRound(ctx, auction.Sold)
	if err != nil {
		t.Fatalf("CloseRound() error = %v", err)
	}
	if res.TeamID != "b" || res.Amount != 51*lakh || res.Player.ID != "p1" {
		t.Errorf("CloseResult = %+v", res)
	}
	if res.Next == nil || res.Next.Player.ID != "p2" || res.Next.RoundID != "round-2" {
		t.Fatalf("Next = %+v, want round-2 for p2", res.Next)
	}

	var b auction.TeamStanding
	for _, s := range e.Teams() {
		if s.Team.ID == "b" {
			b = s
		}
	}
	if b.Team.Spent != 51*lakh || len(b.Team.Squad) != 1 || b.Team.Squad[0] != "p1" {
		t.Errorf("team b = %+v", b.Team)
	}
	if b.Available != 199*lakh {
		t.Errorf("b available = %d, want %d", b.Available, 199*lakh)
	}

	st, err := e.PlayerStatus("p1")
	if err != nil || st != roster.Sold {
		t.Errorf("PlayerStatus(p1) = %s, %v; want sold", st, err)
	}
	if q := e.Queue(); len(q) != 1 || q[0].ID != "p2" {
		t.Errorf("Queue() = %v, want [p2]", q)
	}
}

func TestEngine_SubmitBid_Rejections(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, &mockEventStore{})
	ts := teams(3, "a", "b")
	ts = append(ts, ledger.TeamSpec{ID: "full", Name: "Full", Budget: 250 * lakh, MinPlayers: 1, MaxPlayers: 1, Captain: "cap"})
	ts = append(ts, ledger.TeamSpec{ID: "poor", Name: "Poor", Budget: 10 * lakh, MinPlayers: 1, MaxPlayers: 3})
	r := start(t, e, params(players("p1", "p2"), ts))
	bid(t, e, "a", 50*lakh)

	tests := []struct {
		name    string
		roundID string
		team    string
		amount  money.Amount
		version int
		wantErr error
	}{
		{name: "stale version", roundID: r.RoundID, team: "b", amount: 60 * lakh, version: 0, wantErr: auction.ErrStaleRound},
		{name: "unknown round", roundID: "round-9", team: "b", amount: 60 * lakh, version: 1, wantErr: auction.ErrStaleRound},
		{name: "too low", roundID: r.RoundID, team: "b", amount: 50 * lakh, version: 1, wantErr: auction.ErrBidTooLow},
		{name: "self outbid", roundID: r.RoundID, team: "a", amount: 60 * lakh, version: 1, wantErr: auction.ErrSelfOutbid},
		{name: "squad full despite funds", roundID: r.RoundID, team: "full", amount: 60 * lakh, version: 1, wantErr: auction.ErrSquadFull},
		{name: "insufficient funds", roundID: r.RoundID, team: "poor", amount: 60 * lakh, version: 1, wantErr: auction.ErrInsufficientFunds},
		{name: "unknown team", roundID: r.RoundID, team: "ghost", amount: 60 * lakh, version: 1, wantErr: ledger.ErrUnknownTeam},
		{name: "stale beats too low", roundID: r.RoundID, team: "b", amount: 1, version: 7, wantErr: auction.ErrStaleRound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.SubmitBid(ctx, tt.roundID, tt.team, tt.amount, tt.version)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SubmitBid() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := e.CurrentRound(); got.Version != 1 || got.Leader != "a" {
		t.Errorf("rejections changed the round: %+v", got)
	}

	if _, err := e.CloseRound(ctx, auction.Sold); err != nil {
		t.Fatalf("CloseRound() error = %v", err)
	}
	if _, err := e.SubmitBid(ctx, r.RoundID, "b", 60*lakh, 1); !errors.Is(err, auction.ErrRoundClosed) {
		t.Errorf("bid on closed round error = %v, want ErrRoundClosed", err)
	}
}

func TestEngine_SubmitBid_NotStarted(t *testing.T) {
	e := newEngine(t, &mockEventStore{})
	_, err := e.SubmitBid(context.Background(), "round-1", "a", 50*lakh, 0)
	if !errors.Is(err, auction.ErrNoOpenRound) {
		t.Errorf("error = %v, want ErrNoOpenRound", err)
	}
}

func TestEngine_CompletesWhenQueueEmpty(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, &mockEventStore{})
	r := start(t, e, params(players("p1"), teams(3, "a", "b")))
	bid(t, e, "a", 50*lakh)

	res, err := e.CloseRound(ctx, auction.Sold)
	if err != nil {
		t.Fatalf("CloseRound() error = %v", err)
	}
	if res.Next != nil {
		t.Errorf("Next = %+v, want nil", res.Next)
	}
	if got := e.SessionStatus(); got != auction.Completed {
		t.Fatalf("SessionStatus() = %s, want COMPLETED", got)
	}
	if e.CurrentRound() != nil {
		t.Error("expected no round after completion")
	}

	if _, err := e.SubmitBid(ctx, r.RoundID, "b", 60*lakh, 1); !errors.Is(err, auction.ErrNoOpenRound) {
		t.Errorf("SubmitBid() error = %v, want ErrNoOpenRound", err)
	}
	if _, err := e.CloseRound(ctx, auction.Unsold); !errors.Is(err, auction.ErrNoOpenRound) {
		t.Errorf("CloseRound() error = %v, want ErrNoOpenRound", err)
	}

	// A completed session can be replaced by a new one.
	if _, err := e.StartSession(ctx, params(players("p5"), teams(3, "a", "b"))); err != nil {
		t.Fatalf("StartSession() after completion error = %v", err)
	}
}

func TestEngine_CloseSoldRequiresLeader(t *testing.T) {
	e := newEngine(t, &mockEventStore{})
	start(t, e, params(players("p1"), teams(3, "a", "b")))

	if _, err := e.CloseRound(context.Background(), auction.Sold); !errors.Is(err, auction.ErrNoLeadingBid) {
		t.Errorf("CloseRound(Sold) error = %v, want ErrNoLeadingBid", err)
	}
	if e.CurrentRound() == nil {
		t.Error("round should still be open")
	}
}

func TestEngine_ConcurrentBidsOneWinner(t *testing.T) {
	const bidders = 16

	ctx := context.Background()
	ids := make([]string, bidders)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%02d", i)
	}
	e := newEngine(t, &mockEventStore{})
	r := start(t, e, params(players("p1"), teams(3, ids...)))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     []string
		stale   int
		unknown []error
		ready   = make(chan struct{})
	)
	for _, id := range ids {
		wg.Add(1)
		go func(team string) {
			defer wg.Done()
			<-ready
			_, err := e.SubmitBid(ctx, r.RoundID, team, 60*lakh, r.Version)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won = append(won, team)
			case errors.Is(err, auction.ErrStaleRound):
				stale++
			default:
				unknown = append(unknown, err)
			}
		}(id)
	}
	close(ready)
	wg.Wait()

	if len(won) != 1 {
		t.Fatalf("winners = %v, want exactly one", won)
	}
	if stale != bidders-1 || len(unknown) != 0 {
		t.Errorf("stale = %d, other errors = %v", stale, unknown)
	}
	if got := e.CurrentRound(); got.Leader != won[0] || got.Version != 1 {
		t.Errorf("round = %+v, want leader %s at version 1", got, won[0])
	}
}

func TestEngine_AcceptedBidsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	tiers := []increment.Tier{{From: 0, Increment: 100}, {From: 1000, Increment: 200}, {From: 5000, Increment: 500}}
	policy, err := increment.New(tiers)
	if err != nil {
		t.Fatal(err)
	}

	p := params(players("p1"), []ledger.TeamSpec{
		{ID: "a", Name: "A", Budget: 100_000, MinPlayers: 1, MaxPlayers: 2},
		{ID: "b", Name: "B", Budget: 100_000, MinPlayers: 1, MaxPlayers: 2},
		{ID: "c", Name: "C", Budget: 100_000, MinPlayers: 1, MaxPlayers: 2},
	})
	p.BasePrice = 100
	p.Tiers = tiers
	e := newEngine(t, &mockEventStore{})
	start(t, e, p)

	order := []string{"a", "b", "c", "b", "a", "c"}
	for i := 0; i < 60; i++ {
		r := e.CurrentRound()
		team := order[i%len(order)]
		if team == r.Leader {
			continue
		}
		amount := r.NextMinimum + money.Amount(i%3)*50
		if _, err := e.SubmitBid(ctx, r.RoundID, team, amount, r.Version); err != nil {
			t.Fatalf("bid %d (%s %d) error = %v", i, team, amount, err)
		}
	}

	var prev money.Amount
	first := true
	for _, ev := range e.History(0) {
		if ev.Type != event.BidAccepted {
			continue
		}
		var d event.BidAcceptedData
		if err := ev.Decode(&d); err != nil {
			t.Fatal(err)
		}
		if !first && (d.Amount <= prev || d.Amount < policy.NextMinimumBid(prev)) {
			t.Fatalf("bid %d after %d violates the increment policy", d.Amount, prev)
		}
		prev, first = d.Amount, false
	}
}

func TestEngine_UndoLastSale(t *testing.T) {
	ctx := context.Background()
	es := &mockEventStore{}
	e := newEngine(t, es)
	start(t, e, params(players("p1", "p2"), teams(3, "a", "b")))
	bid(t, e, "a", 50*lakh)
	bid(t, e, "b", 55*lakh)
	before := standings(e)

	if _, err := e.CloseRound(ctx, auction.Sold); err != nil {
		t.Fatalf("CloseRound() error = %v", err)
	}
	if standings(e) == before {
		t.Fatal("sale did not change the ledger")
	}

	snap, err := e.UndoLastSale(ctx)
	if err != nil {
		t.Fatalf("UndoLastSale() error = %v", err)
	}
	if snap.RoundID != "round-1" || snap.Player.ID != "p1" {
		t.Fatalf("reopened %s/%s, want round-1/p1", snap.RoundID, snap.Player.ID)
	}
	if snap.Leader != "b" || snap.Amount != 55*lakh || snap.Version != 2 || snap.Bids != 2 {
		t.Errorf("reopened round = %+v, want pre-sale state", snap)
	}
	if got := standings(e); got != before {
		t.Errorf("ledger after undo = %s, want %s", got, before)
	}
	if q := e.Queue(); len(q) != 2 || q[0].ID != "p1" || q[1].ID != "p2" {
		t.Errorf("Queue() = %v, want [p1 p2]", q)
	}
	if st, _ := e.PlayerStatus("p1"); st != roster.Pending {
		t.Errorf("PlayerStatus(p1) = %s, want pending", st)
	}

	// Only the immediately preceding sale can be undone.
	if _, err := e.UndoLastSale(ctx); !errors.Is(err, auction.ErrUndoUnavailable) {
		t.Errorf("second UndoLastSale() error = %v, want ErrUndoUnavailable", err)
	}

	// Bidding resumes from the restored version.
	bid(t, e, "a", 56*lakh)

	// Re-deriving from the durable log gives the same state.
	restored := newEngine(t, es)
	if err := restored.Restore(ctx, e.SessionID()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got, want := standings(restored), standings(e); got != want {
		t.Errorf("restored ledger = %s, want %s", got, want)
	}
	got, want := restored.CurrentRound(), e.CurrentRound()
	if got.RoundID != want.RoundID || got.Version != want.Version || got.Leader != want.Leader || got.Amount != want.Amount {
		t.Errorf("restored round = %+v, want %+v", got, want)
	}
}

func TestEngine_UndoUnavailableAfterNextBid(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, &mockEventStore{})
	start(t, e, params(players("p1", "p2"), teams(3, "a", "b")))
	bid(t, e, "a", 50*lakh)
	if _, err := e.CloseRound(ctx, auction.Sold); err != nil {
		t.Fatal(err)
	}
	bid(t, e, "b", 50*lakh)

	if _, err := e.UndoLastSale(ctx); !errors.Is(err, auction.ErrUndoUnavailable) {
		t.Errorf("UndoLastSale() error = %v, want ErrUndoUnavailable", err)
	}
}

func TestEngine_UndoAfterUnsoldUnavailable(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, &mockEventStore{})
	start(t, e, params(players("p1", "p2", "p3"), teams(3, "a", "b")))
	bid(t, e, "a", 50*lakh)
	if _, err := e.CloseRound(ctx, auction.Sold); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CloseRound(ctx, auction.Unsold); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UndoLastSale(ctx); !errors.Is(err, auction.ErrUndoUnavailable) {
		t.Errorf("UndoLastSale() error = %v, want ErrUndoUnavailable", err)
	}
}

func TestEngine_UndoFinalSaleReopensSession(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, &mockEventStore{})
	start(t, e, params(players("p1"), teams(3, "a", "b")))
	bid(t, e, "a", 50*lakh)
	if _, err := e.CloseRound(ctx, auction.Sold); err != nil {
		t.Fatal(err)
	}
	if e.SessionStatus() != auction.Completed {
		t.Fatalf("SessionStatus() = %s, want COMPLETED", e.SessionStatus())
	}

	snap, err := e.UndoLastSale(ctx)
	if err != nil {
		t.Fatalf("UndoLastSale() error = %v", err)
	}
	if e.SessionStatus() != auction.Running {
		t.Errorf("SessionStatus() = %s, want RUNNING", e.SessionStatus())
	}
	if snap.Leader != "a" || e.CurrentRound() == nil {
		t.Errorf("round not restored: %+v", snap)
	}
}

func TestEngine_UndoNotStarted(t *testing.T) {
	e := newEngine(t, &mockEventStore{})
	if _, err := e.UndoLastSale(context.Background()); !errors.Is(err, auction.ErrNoOpenRound) {
		t.Errorf("UndoLastSale() error = %v, want ErrNoOpenRound", err)
	}
}

func TestEngine_PauseWithdrawsBidlessRound(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, &mockEventStore{})
	r := start(t, e, params(players("p1", "p2", "p3"), teams(3, "a", "b")))

	if err := e.Reorder(ctx, []string{"p3", "p2", "p1"}); !errors.Is(err, auction.ErrRoundOpen) {
		t.Errorf("Reorder() while open error = %v, want ErrRoundOpen", err)
	}

	if err := e.Pause(ctx); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if e.SessionStatus() != auction.Paused {
		t.Fatalf("SessionStatus() = %s, want PAUSED", e.SessionStatus())
	}
	if e.CurrentRound() != nil {
		t.Fatal("bidless round should be withdrawn on pause")
	}
	if _, err := e.SubmitBid(ctx, r.RoundID, "a", 50*lakh, 0); !errors.Is(err, auction.ErrRoundClosed) {
		t.Errorf("SubmitBid() while paused error = %v, want ErrRoundClosed", err)
	}
	if err := e.Pause(ctx); !errors.Is(err, auction.ErrSessionNotRunning) {
		t.Errorf("second Pause() error = %v, want ErrSessionNotRunning", err)
	}

	if err := e.Reorder(ctx, []string{"p3", "p1"}); !errors.Is(err, queue.ErrOrderMismatch) {
		t.Errorf("Reorder() with missing id error = %v, want ErrOrderMismatch", err)
	}
	if err := e.Reorder(ctx, []string{"p3", "p2", "p1"}); err != nil {
		t.Fatalf("Reorder() error = %v", err)
	}
	log := e.History(0)
	var reordered event.QueueReorderedData
	if err := log[len(log)-1].Decode(&reordered); err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(reordered.Previous) != "[p1 p2 p3]" || fmt.Sprint(reordered.Order) != "[p3 p2 p1]" {
		t.Errorf("reorder event = %+v", reordered)
	}

	if err := e.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	next := e.CurrentRound()
	if next == nil || next.Player.ID != "p3" || next.RoundID != "round-2" || next.Offer != 1 {
		t.Fatalf("round after resume = %+v, want round-2 for p3 on first offer", next)
	}
	if _, err := e.SubmitBid(ctx, r.RoundID, "a", 50*lakh, 0); !errors.Is(err, auction.ErrRoundClosed) {
		t.Errorf("bid on withdrawn round error = %v, want ErrRoundClosed", err)
	}
}

func TestEngine_PauseFreezesRoundWithBids(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, &mockEventStore{})
	r := start(t, e, params(players("p1", "p2"), teams(3, "a", "b")))
	bid(t, e, "a", 50*lakh)

	if err := e.Pause(ctx); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	frozen := e.CurrentRound()
	if frozen == nil || !frozen.Frozen || frozen.Leader != "a" {
		t.Fatalf("round while paused = %+v, want frozen with a leading", frozen)
	}
	if _, err := e.SubmitBid(ctx, r.RoundID, "b", 51*lakh, 1); !errors.Is(err, auction.ErrRoundClosed) {
		t.Errorf("SubmitBid() error = %v, want ErrRoundClosed", err)
	}
	if _, err := e.CloseRound(ctx, auction.Sold); !errors.Is(err, auction.ErrSessionNotRunning) {
		t.Errorf("CloseRound() error = %v, want ErrSessionNotRunning", err)
	}
	if err := e.Reorder(ctx, []string{"p2", "p1"}); !errors.Is(err, auction.ErrRoundOpen) {
		t.Errorf("Reorder() error = %v, want ErrRoundOpen", err)
	}

	if err := e.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if got := e.CurrentRound(); got.RoundID != r.RoundID || got.Frozen {
		t.Errorf("round after resume = %+v", got)
	}
	bid(t, e, "b", 51*lakh)
}

func TestEngine_UnsoldRequeue(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, &mockEventStore{})
	p := params(players("p1", "p2"), teams(3, "a", "b"))
	p.Unsold = event.UnsoldPolicy{Requeue: true, MaxOffers: 2}
	start(t, e, p)

	steps := []struct {
		player   string
		offer    int
		requeued bool
	}{
		{player: "p1", offer: 1, requeued: true},
		{player: "p2", offer: 1, requeued: true},
		{player: "p1", offer: 2, requeued: false},
		{player: "p2", offer: 2, requeued: false},
	}
	for i, st := range steps {
		r := e.CurrentRound()
		if r == nil || r.Player.ID != st.player || r.Offer != st.offer {
			t.Fatalf("step %d: round = %+v, want %s offer %d", i, r, st.player, st.offer)
		}
		res, err := e.CloseRound(ctx, auction.Unsold)
		if err != nil {
			t.Fatalf("step %d: CloseRound() error = %v", i, err)
		}
		if res.Requeued != st.requeued {
			t.Errorf("step %d: Requeued = %v, want %v", i, res.Requeued, st.requeued)
		}
	}

	if e.SessionStatus() != auction.Completed {
		t.Fatalf("SessionStatus() = %s, want COMPLETED", e.SessionStatus())
	}
	for _, id := range []string{"p1", "p2"} {
		if st, _ := e.PlayerStatus(id); st != roster.Unsold {
			t.Errorf("PlayerStatus(%s) = %s, want unsold", id, st)
		}
	}
	if err := e.ReofferPlayer(ctx, "p1", queue.Back); !errors.Is(err, auction.ErrSessionNotRunning) {
		t.Errorf("ReofferPlayer() after completion error = %v, want ErrSessionNotRunning", err)
	}
}

func TestEngine_ReofferPlayer(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, &mockEventStore{})
	start(t, e, params(players("p1", "p2", "p3"), teams(3, "a", "b")))

	if _, err := e.CloseRound(ctx, auction.Unsold); err != nil {
		t.Fatal(err)
	}
	if st, _ := e.PlayerStatus("p1"); st != roster.Unsold {
		t.Fatalf("PlayerStatus(p1) = %s, want unsold", st)
	}

	if err := e.ReofferPlayer(ctx, "p1", queue.Front); !errors.Is(err, auction.ErrRoundOpen) {
		t.Errorf("ReofferPlayer(front) while open error = %v, want ErrRoundOpen", err)
	}
	if err := e.ReofferPlayer(ctx, "p1", queue.Back); err != nil {
		t.Fatalf("ReofferPlayer() error = %v", err)
	}
	if err := e.ReofferPlayer(ctx, "p1", queue.Back); !errors.Is(err, auction.ErrNotUnsold) {
		t.Errorf("repeat ReofferPlayer() error = %v, want ErrNotUnsold", err)
	}
	if err := e.ReofferPlayer(ctx, "nobody", queue.Back); !errors.Is(err, auction.ErrUnknownPlayer) {
		t.Errorf("ReofferPlayer(unknown) error = %v, want ErrUnknownPlayer", err)
	}

	var ids []string
	for _, p := range e.Queue() {
		ids = append(ids, p.ID)
	}
	if fmt.Sprint(ids) != "[p2 p3 p1]" {
		t.Errorf("Queue() = %v, want [p2 p3 p1]", ids)
	}

	// Front placement works once the hammer is idle.
	if _, err := e.CloseRound(ctx, auction.Unsold); err != nil {
		t.Fatal(err)
	}
	if err := e.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.ReofferPlayer(ctx, "p2", queue.Front); err != nil {
		t.Fatalf("ReofferPlayer(front) error = %v", err)
	}
	if err := e.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	if r := e.CurrentRound(); r.Player.ID != "p2" || r.Offer != 1 {
		t.Errorf("round after re-offer = %+v, want p2 first offer", r)
	}
}

func TestEngine_PersistErrorKeepsState(t *testing.T) {
	es := &mockEventStore{
		appendFn: func(events ...event.Event) error {
			return fmt.Errorf("db write error")
		},
	}
	e := newEngine(t, es)
	r := start(t, e, params(players("p1"), teams(3, "a", "b")))

	snap, err := e.SubmitBid(context.Background(), r.RoundID, "a", 50*lakh, 0)
	if err != nil {
		t.Fatalf("SubmitBid() error = %v", err)
	}
	if snap.Version != 1 || len(e.History(0)) != 3 {
		t.Errorf("snapshot = %+v, history = %d events", snap, len(e.History(0)))
	}
}

func TestEngine_PersistRetriesAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	failed := false
	es := &mockEventStore{}
	es.appendFn = func(events ...event.Event) error {
		for _, ev := range events {
			if ev.Type == event.BidAccepted && !failed {
				failed = true
				return fmt.Errorf("connection reset")
			}
		}
		return nil
	}
	e := newEngine(t, es)
	start(t, e, params(players("p1", "p2"), teams(3, "a", "b")))

	bid(t, e, "a", 50*lakh)
	if got := len(es.events); got != 2 {
		t.Fatalf("stored %d events after failed append, want 2", got)
	}
	bid(t, e, "b", 51*lakh)
	if _, err := e.CloseRound(ctx, auction.Sold); err != nil {
		t.Fatal(err)
	}

	for i, ev := range es.events {
		if ev.Version != i+1 {
			t.Fatalf("stored event %d has version %d", i, ev.Version)
		}
	}
	if len(es.events) != len(e.History(0)) {
		t.Fatalf("stored %d events, engine has %d", len(es.events), len(e.History(0)))
	}

	recovered := newEngine(t, es)
	if _, err := recovered.RecoverSession(ctx); err != nil {
		t.Fatalf("RecoverSession() error = %v", err)
	}
	st, err := recovered.PlayerStatus("p1")
	if err != nil || st != roster.Sold {
		t.Errorf("PlayerStatus(p1) = %s, %v, want sold", st, err)
	}
	r := recovered.CurrentRound()
	if r == nil || r.Player.ID != "p2" {
		t.Errorf("recovered round = %+v, want p2 open", r)
	}
}

func TestEngine_SyncReportsFailure(t *testing.T) {
	ctx := context.Background()
	down := true
	es := &mockEventStore{}
	es.appendFn = func(...event.Event) error {
		if down {
			return fmt.Errorf("db unavailable")
		}
		return nil
	}
	e := newEngine(t, es)
	start(t, e, params(players("p1"), teams(3, "a", "b")))
	bid(t, e, "a", 50*lakh)

	if err := e.Sync(ctx); err == nil {
		t.Fatal("Sync() error = nil while the sink is down")
	}
	down = false
	if err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(es.events) != 3 {
		t.Errorf("stored %d events, want 3", len(es.events))
	}
	// Nothing left to write.
	if err := e.Sync(ctx); err != nil || len(es.events) != 3 {
		t.Errorf("second Sync() = %v with %d events", err, len(es.events))
	}
}

func TestEngine_Subscribe(t *testing.T) {
	e := newEngine(t, &mockEventStore{})
	r := start(t, e, params(players("p1", "p2"), teams(3, "a", "b")))

	history, sub := e.Subscribe(0, 8)
	defer sub.Close()
	if len(history) != 2 || history[0].Type != event.SessionStarted || history[1].Type != event.RoundOpened {
		t.Fatalf("history = %v", history)
	}

	bid(t, e, "a", 50*lakh)
	if _, err := e.CloseRound(context.Background(), auction.Sold); err != nil {
		t.Fatal(err)
	}

	want := []event.Type{event.BidAccepted, event.RoundSold, event.RoundOpened}
	for i, wt := range want {
		got := <-sub.Events()
		if got.Type != wt || got.Version != len(history)+i+1 {
			t.Errorf("event %d = %s v%d, want %s v%d", i, got.Type, got.Version, wt, len(history)+i+1)
		}
	}

	var d event.BidAcceptedData
	if err := e.History(2)[0].Decode(&d); err != nil {
		t.Fatal(err)
	}
	if d.RoundID != r.RoundID || d.TeamID != "a" || d.RoundVersion != 1 {
		t.Errorf("bid event = %+v", d)
	}
}

func TestEngine_RecoverSession(t *testing.T) {
	ctx := context.Background()
	es := &mockEventStore{}

	first := newEngine(t, es)
	start(t, first, params(players("p1"), teams(3, "a", "b")))
	if _, err := first.CloseRound(ctx, auction.Unsold); err != nil {
		t.Fatal(err)
	}
	secondID, err := first.StartSession(ctx, params(players("q1", "q2"), teams(3, "a", "b")))
	if err != nil {
		t.Fatal(err)
	}
	bid(t, first, "b", 50*lakh)
	if err := first.Pause(ctx); err != nil {
		t.Fatal(err)
	}

	recovered := newEngine(t, es)
	id, err := recovered.RecoverSession(ctx)
	if err != nil {
		t.Fatalf("RecoverSession() error = %v", err)
	}
	if id != secondID {
		t.Errorf("recovered %s, want %s", id, secondID)
	}
	if recovered.SessionStatus() != auction.Paused {
		t.Errorf("SessionStatus() = %s, want PAUSED", recovered.SessionStatus())
	}
	r := recovered.CurrentRound()
	if r == nil || r.Player.ID != "q1" || r.Leader != "b" || !r.Frozen {
		t.Errorf("recovered round = %+v", r)
	}
	if len(recovered.History(0)) != len(first.History(0)) {
		t.Errorf("history length = %d, want %d", len(recovered.History(0)), len(first.History(0)))
	}
}

func TestEngine_RecoverSession_Empty(t *testing.T) {
	e := newEngine(t, &mockEventStore{})
	if _, err := e.RecoverSession(context.Background()); !errors.Is(err, auction.ErrNoSession) {
		t.Errorf("RecoverSession() error = %v, want ErrNoSession", err)
	}
}

func TestEngine_Restore_VersionGap(t *testing.T) {
	ctx := context.Background()
	es := &mockEventStore{}
	e := newEngine(t, es)
	start(t, e, params(players("p1", "p2"), teams(3, "a", "b")))
	bid(t, e, "a", 50*lakh)

	// Drop the opening round so the bid no longer follows on.
	gapped := &mockEventStore{}
	for _, ev := range es.events {
		if ev.Type != event.RoundOpened {
			gapped.events = append(gapped.events, ev)
		}
	}

	restored := newEngine(t, gapped)
	if err := restored.Restore(ctx, e.SessionID()); err == nil {
		t.Fatal("expected error restoring a log with a gap")
	}
	if restored.SessionStatus() != auction.NotStarted {
		t.Errorf("SessionStatus() = %s, want NOT_STARTED", restored.SessionStatus())
	}
}

func TestEngine_Restore_RunningSession(t *testing.T) {
	es := &mockEventStore{}
	e := newEngine(t, es)
	start(t, e, params(players("p1"), teams(3, "a", "b")))

	if err := e.Restore(context.Background(), e.SessionID()); !errors.Is(err, auction.ErrSessionStarted) {
		t.Errorf("Restore() over a running session error = %v, want ErrSessionStarted", err)
	}
}

func TestEngine_TeamsAdvisory(t *testing.T) {
	e := newEngine(t, &mockEventStore{})
	p := params(players("p1"), []ledger.TeamSpec{
		{ID: "a", Name: "A", Budget: 250 * lakh, MinPlayers: 8, MaxPlayers: 9},
	})
	start(t, e, p)

	ts := e.Teams()
	if len(ts) != 1 {
		t.Fatalf("Teams() = %v", ts)
	}
	// 7 mandatory slots remain after the next purchase, each reserved at 50L.
	if ts[0].MaxAdvisedBid != 250*lakh-7*50*lakh {
		t.Errorf("MaxAdvisedBid = %d", ts[0].MaxAdvisedBid)
	}
}
