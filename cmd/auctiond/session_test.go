package main

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	mnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sreeharimv/auction-platform/internal/auction"
	"github.com/sreeharimv/auction-platform/internal/clock"
	"github.com/sreeharimv/auction-platform/internal/config"
	"github.com/sreeharimv/auction-platform/internal/event"
	"github.com/sreeharimv/auction-platform/internal/money"
	"github.com/sreeharimv/auction-platform/internal/store"
)

type memEvents struct {
	mu     sync.Mutex
	events []event.Event
}

func (m *memEvents) Append(_ context.Context, events ...event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *memEvents) Load(_ context.Context, id string) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Event
	for _, e := range m.events {
		if e.AggregateID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEvents) LoadByType(_ context.Context, t event.Type) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out, nil
}

type memPlayers struct {
	players []store.Player
}

func (m *memPlayers) Create(_ context.Context, p *store.Player) error {
	p.Status = "pending"
	m.players = append(m.players, *p)
	return nil
}

func (m *memPlayers) GetByID(_ context.Context, id string) (*store.Player, error) {
	for i := range m.players {
		if m.players[i].ID == id {
			return &m.players[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memPlayers) ListAuctionable(context.Context) ([]store.Player, error) {
	var out []store.Player
	for _, p := range m.players {
		if p.Status == "pending" {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPlayers) MarkSold(context.Context, string, string, money.Amount) error { return nil }
func (m *memPlayers) MarkUnsold(context.Context, string) error { return nil }
func (m *memPlayers) Reset(context.Context, string) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Tournament: config.TournamentConfig{Name: "Premier League", Currency: "₹", BasePrice: 5_000_000},
		Teams: config.TeamsConfig{
			Budget:     25_000_000,
			MinPlayers: 1,
			MaxPlayers: 9,
			List: []config.TeamConfig{
				{ID: "gt", Name: "Gujarat Titans", Captain: "hardik"},
				{ID: "csk", Name: "Chennai Super Kings"},
			},
		},
		Players: []config.PlayerConfig{
			{ID: "hardik", Name: "Hardik"},
			{ID: "gill", Name: "Gill", BasePrice: 7_500_000},
			{ID: "bumrah", Name: "Bumrah"},
		},
		Auction: config.AuctionConfig{
			Increments: [3]money.Amount{1_000_000, 2_500_000, 5_000_000},
			Unsold:     "requeue",
			MaxOffers:  2,
		},
	}
}

func newEngine(t *testing.T, sink event.Store) *auction.Engine {
	t.Helper()
	eng, err := auction.NewEngine(sink, slog.New(slog.DiscardHandler), noop.NewTracerProvider(), mnoop.NewMeterProvider(),
		clock.Mock{T: time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func TestSeedPlayers(t *testing.T) {
	cfg := testConfig()
	repo := &memPlayers{}

	got, err := seedPlayers(context.Background(), cfg, repo)
	if err != nil {
		t.Fatalf("seedPlayers() error = %v", err)
	}
	if len(got) != 3 || got[1].QueuePos != 2 || got[1].BasePrice != 7_500_000 {
		t.Fatalf("seedPlayers() = %+v", got)
	}

	// A populated store is left alone.
	cfg.Players = append(cfg.Players, config.PlayerConfig{ID: "rashid", Name: "Rashid"})
	got, err = seedPlayers(context.Background(), cfg, repo)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || len(repo.players) != 3 {
		t.Errorf("seedPlayers() reseeded a populated store: %d players", len(repo.players))
	}
}

func TestSessionParams_SkipsCaptains(t *testing.T) {
	cfg := testConfig()
	players := []store.Player{{ID: "hardik"}, {ID: "gill", BasePrice: 7_500_000}, {ID: "bumrah"}}

	p, err := sessionParams(cfg, players)
	if err != nil {
		t.Fatalf("sessionParams() error = %v", err)
	}
	var ids []string
	for _, pl := range p.Players {
		ids = append(ids, pl.ID)
	}
	if !slices.Equal(ids, []string{"gill", "bumrah"}) {
		t.Errorf("queue = %v, want [gill bumrah]", ids)
	}
	if len(p.Tiers) != 3 || p.Tiers[1].From != 10_000_000 {
		t.Errorf("tiers = %+v", p.Tiers)
	}
	if !p.Unsold.Requeue || p.Unsold.MaxOffers != 2 {
		t.Errorf("unsold = %+v", p.Unsold)
	}
}

func TestResumeOrStart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	sink := &memEvents{}
	repo := &memPlayers{}
	logger := slog.New(slog.DiscardHandler)

	first := newEngine(t, sink)
	if err := resumeOrStart(ctx, first, cfg, repo, logger); err != nil {
		t.Fatalf("resumeOrStart() on empty log error = %v", err)
	}
	if first.SessionStatus() != auction.Running {
		t.Fatalf("status = %s, want RUNNING", first.SessionStatus())
	}
	r := first.CurrentRound()
	if r.Player.ID != "gill" || r.BasePrice != 7_500_000 {
		t.Fatalf("first round = %+v", r)
	}
	if _, err := first.SubmitBid(ctx, r.RoundID, "csk", 7_500_000, r.Version); err != nil {
		t.Fatal(err)
	}

	// A new leader picks the session up from the log.
	second := newEngine(t, sink)
	if err := resumeOrStart(ctx, second, cfg, repo, logger); err != nil {
		t.Fatalf("resumeOrStart() on populated log error = %v", err)
	}
	if second.SessionID() != first.SessionID() {
		t.Errorf("session id = %s, want %s", second.SessionID(), first.SessionID())
	}
	if got := second.CurrentRound(); got.Leader != "csk" || got.Amount != 7_500_000 {
		t.Errorf("recovered round = %+v", got)
	}
}

func TestResumeOrStart_NoPlayers(t *testing.T) {
	cfg := testConfig()
	cfg.Players = nil
	eng := newEngine(t, &memEvents{})
	if err := resumeOrStart(context.Background(), eng, cfg, &memPlayers{}, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("resumeOrStart() error = %v", err)
	}
	if eng.SessionStatus() != auction.NotStarted {
		t.Errorf("status = %s, want NOT_STARTED", eng.SessionStatus())
	}
}
