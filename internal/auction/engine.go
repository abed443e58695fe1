// Package auction runs a player auction session: it arbitrates concurrent
// bids against the live round, closes rounds against the team ledger and
// advances the player queue. All state is derived from an append-only event
// log, which is also what makes undo and crash recovery possible.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sreeharimv/auction-platform/internal/clock"
	"github.com/sreeharimv/auction-platform/internal/event"
	"github.com/sreeharimv/auction-platform/internal/increment"
	"github.com/sreeharimv/auction-platform/internal/ledger"
	"github.com/sreeharimv/auction-platform/internal/money"
	"github.com/sreeharimv/auction-platform/internal/queue"
	"github.com/sreeharimv/auction-platform/internal/roster"
)

// Outcome is how an operator closes a round.
type Outcome string

const (
	Sold   Outcome = "SOLD"
	Unsold Outcome = "UNSOLD"
)

// SessionParams configures a new session.
type SessionParams struct {
	Tournament string
	Currency   string
	// BasePrice is the tournament minimum. Players without their own base
	// price are offered at it.
	BasePrice money.Amount
	Tiers     []increment.Tier
	Teams     []ledger.TeamSpec
	// Players is the auction queue in offer order.
	Players []roster.Player
	Unsold  event.UnsoldPolicy
}

// CloseResult describes a closed round and what followed it.
type CloseResult struct {
	RoundID  string
	Player   roster.Player
	Outcome  Outcome
	TeamID   string
	Amount   money.Amount
	Requeued bool
	// Next is the round opened after the close, nil when the session
	// completed.
	Next *RoundSnapshot
}

// TeamStanding is a team's ledger position.
type TeamStanding struct {
	Team      ledger.Team
	Available money.Amount
	// MaxAdvisedBid keeps the base price in reserve for every mandatory
	// squad slot. It is never enforced.
	MaxAdvisedBid money.Amount
}

type view struct {
	sessionID string
	status    SessionStatus
	round     *RoundSnapshot
}

// watermark is the last version of a session the sink has acknowledged.
type watermark struct {
	sessionID string
	version   int
}

// Engine owns one auction session at a time. Every mutation is serialized
// on a single lock; reads are served from an atomically published view.
type Engine struct {
	mu sync.Mutex
	s  *session

	view atomic.Pointer[view]
	feed *event.Feed

	sink   event.Store
	syncMu sync.Mutex
	synced watermark

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
	clock   clock.Clock
}

// NewEngine creates an Engine. Accepted events are appended to sink after
// each command; a nil sink keeps the log in memory only.
func NewEngine(sink event.Store, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, clk clock.Clock) (*Engine, error) {
	m, err := newMetrics(mp)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		feed:    event.NewFeed(),
		sink:    sink,
		logger:  logger,
		tracer:  tp.Tracer("github.com/sreeharimv/auction-platform/internal/auction"),
		metrics: m,
		clock:   clk,
	}
	e.view.Store(&view{status: NotStarted})
	return e, nil
}

// StartSession begins a new session and opens the first round. A completed
// session may be replaced; a running or paused one may not.
func (e *Engine) StartSession(ctx context.Context, p SessionParams) (string, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.StartSession",
		trace.WithAttributes(
			attribute.String("tournament", p.Tournament),
			attribute.Int("teams", len(p.Teams)),
			attribute.Int("players", len(p.Players)),
		),
	)
	defer span.End()

	players, err := normalizePlayers(p)
	if err != nil {
		return "", err
	}
	// Write out whatever the previous session still owes the sink.
	e.persist(ctx)

	e.mu.Lock()
	if e.s != nil && e.s.status != Completed {
		e.mu.Unlock()
		return "", ErrSessionStarted
	}
	now := e.clock.Now()
	s := newSession(uuid.NewString())
	err = s.emit(event.SessionStarted, event.SessionStartedData{
		Tournament: p.Tournament,
		Currency:   p.Currency,
		BasePrice:  p.BasePrice,
		Tiers:      p.Tiers,
		Teams:      p.Teams,
		Players:    players,
		Unsold:     p.Unsold,
	}, now)
	if err == nil {
		err = s.openNext(now)
	}
	if err != nil {
		e.mu.Unlock()
		return "", fmt.Errorf("starting session: %w", err)
	}
	e.s = s
	e.flushLocked()
	e.mu.Unlock()

	e.persist(ctx)
	e.logger.InfoContext(ctx, "auction session started",
		slog.String("session_id", s.id),
		slog.String("tournament", p.Tournament),
		slog.Int("teams", len(p.Teams)),
		slog.Int("players", len(players)),
	)
	return s.id, nil
}

func normalizePlayers(p SessionParams) ([]roster.Player, error) {
	if p.BasePrice <= 0 {
		return nil, fmt.Errorf("starting session: %w: %d", ErrInvalidBasePrice, p.BasePrice)
	}
	if len(p.Players) == 0 {
		return nil, fmt.Errorf("starting session: %w", ErrEmptyQueue)
	}
	captains := make(map[string]string, len(p.Teams))
	for _, t := range p.Teams {
		if t.Captain != "" {
			captains[t.Captain] = t.ID
		}
	}
	out := make([]roster.Player, len(p.Players))
	for i, pl := range p.Players {
		if team, ok := captains[pl.ID]; ok {
			return nil, fmt.Errorf("player %s is captain of %s and cannot be auctioned", pl.ID, team)
		}
		if pl.BasePrice == 0 {
			pl.BasePrice = p.BasePrice
		}
		if pl.BasePrice < p.BasePrice {
			return nil, fmt.Errorf("player %s: base price %d below minimum %d", pl.ID, pl.BasePrice, p.BasePrice)
		}
		out[i] = pl
	}
	return out, nil
}

// CurrentRound returns the live round, or nil if none is active.
func (e *Engine) CurrentRound() *RoundSnapshot {
	return e.view.Load().round
}

// SessionStatus returns the status of the current session.
func (e *Engine) SessionStatus() SessionStatus {
	return e.view.Load().status
}

// SessionID returns the current session id, empty before the first start.
func (e *Engine) SessionID() string {
	return e.view.Load().sessionID
}

// SubmitBid places a bid for team on the given round. expectedVersion must
// match the version of the snapshot the caller bid against.
func (e *Engine) SubmitBid(ctx context.Context, roundID, teamID string, amount money.Amount, expectedVersion int) (RoundSnapshot, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.SubmitBid",
		trace.WithAttributes(
			attribute.String("round.id", roundID),
			attribute.String("team.id", teamID),
			attribute.Int64("bid.amount", int64(amount)),
			attribute.Int("round.version", expectedVersion),
		),
	)
	defer span.End()

	e.mu.Lock()
	err := e.submitBidLocked(roundID, teamID, amount, expectedVersion)
	e.flushLocked()
	snap := e.view.Load().round
	e.mu.Unlock()

	if err != nil {
		e.metrics.bidRejected(ctx, err)
		e.logger.DebugContext(ctx, "bid rejected",
			slog.String("round_id", roundID),
			slog.String("team_id", teamID),
			slog.Int64("amount", int64(amount)),
			slog.Any("error", err),
		)
		return RoundSnapshot{}, err
	}

	e.persist(ctx)
	e.metrics.bidAccepted(ctx)
	e.logger.InfoContext(ctx, "bid accepted",
		slog.String("round_id", roundID),
		slog.String("team_id", teamID),
		slog.Int64("amount", int64(amount)),
		slog.Int("version", snap.Version),
	)
	return *snap, nil
}

func (e *Engine) submitBidLocked(roundID, teamID string, amount money.Amount, expectedVersion int) error {
	s := e.s
	if s == nil {
		return ErrNoOpenRound
	}
	switch s.status {
	case Paused:
		return fmt.Errorf("%w: session paused", ErrRoundClosed)
	case Running:
	default:
		return ErrNoOpenRound
	}
	r := s.round
	if r == nil {
		return ErrNoOpenRound
	}
	if r.ID != roundID {
		if s.closed[roundID] {
			return fmt.Errorf("%w: %s", ErrRoundClosed, roundID)
		}
		return fmt.Errorf("%w: round %s is live", ErrStaleRound, r.ID)
	}
	if r.Status != RoundOpen {
		return ErrRoundClosed
	}
	if expectedVersion != r.Version {
		return fmt.Errorf("%w: version %d, current %d", ErrStaleRound, expectedVersion, r.Version)
	}
	if floor := r.minimumBid(s.policy); amount < floor {
		return fmt.Errorf("%w: minimum is %d", ErrBidTooLow, floor)
	}
	if teamID == r.Leader {
		return ErrSelfOutbid
	}
	if err := s.ledger.CheckAfford(teamID, amount); err != nil {
		return err
	}

	now := e.clock.Now()
	return s.emit(event.BidAccepted, event.BidAcceptedData{
		RoundID:      r.ID,
		TeamID:       teamID,
		Amount:       amount,
		RoundVersion: r.Version + 1,
		ReceivedAt:   now.UTC(),
	}, now)
}

// CloseRound closes the live round and opens the next one, or completes the
// session when the queue is exhausted.
func (e *Engine) CloseRound(ctx context.Context, outcome Outcome) (CloseResult, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.CloseRound",
		trace.WithAttributes(attribute.String("outcome", string(outcome))),
	)
	defer span.End()

	e.mu.Lock()
	res, err := e.closeRoundLocked(ctx, outcome)
	e.flushLocked()
	if err == nil {
		res.Next = e.view.Load().round
	}
	e.mu.Unlock()

	e.persist(ctx)
	if err != nil {
		return CloseResult{}, err
	}

	e.metrics.roundClosed(ctx, outcome)
	e.logger.InfoContext(ctx, "round closed",
		slog.String("round_id", res.RoundID),
		slog.String("player_id", res.Player.ID),
		slog.String("outcome", string(outcome)),
		slog.String("team_id", res.TeamID),
		slog.Int64("amount", int64(res.Amount)),
		slog.Bool("requeued", res.Requeued),
	)
	return res, nil
}

func (e *Engine) closeRoundLocked(ctx context.Context, outcome Outcome) (CloseResult, error) {
	s := e.s
	if s == nil || s.status == NotStarted || s.status == Completed {
		return CloseResult{}, ErrNoOpenRound
	}
	if s.status != Running {
		return CloseResult{}, ErrSessionNotRunning
	}
	r := s.round
	if r == nil {
		return CloseResult{}, ErrNoOpenRound
	}
	res := CloseResult{RoundID: r.ID, Player: r.Player, Outcome: outcome}
	now := e.clock.Now()

	switch outcome {
	case Sold:
		if r.Leader == "" {
			return CloseResult{}, ErrNoLeadingBid
		}
		res.TeamID, res.Amount = r.Leader, r.Amount
		err := s.emit(event.RoundSold, event.RoundSoldData{
			RoundID:  r.ID,
			PlayerID: r.Player.ID,
			TeamID:   r.Leader,
			Amount:   r.Amount,
		}, now)
		if err != nil {
			// The leader passed CheckAfford when it bid; a failing re-check
			// means state was corrupted elsewhere.
			e.metrics.ledgerDefect(ctx)
			e.logger.ErrorContext(ctx, "ledger rejected sale after bid validation",
				slog.Bool("defect", true),
				slog.String("round_id", r.ID),
				slog.String("team_id", r.Leader),
				slog.Int64("amount", int64(r.Amount)),
				slog.Any("error", err),
			)
			return CloseResult{}, fmt.Errorf("committing sale of %s to %s: %w", r.Player.ID, r.Leader, err)
		}
	case Unsold:
		res.Requeued = s.params.Unsold.Requeue && r.Offer < s.maxOffers()
		err := s.emit(event.RoundUnsold, event.RoundUnsoldData{
			RoundID:  r.ID,
			PlayerID: r.Player.ID,
			Requeued: res.Requeued,
		}, now)
		if err != nil {
			return CloseResult{}, fmt.Errorf("closing round %s unsold: %w", r.ID, err)
		}
	default:
		return CloseResult{}, fmt.Errorf("unknown outcome %q", outcome)
	}

	if err := s.openNext(now); err != nil {
		return CloseResult{}, fmt.Errorf("advancing queue: %w", err)
	}
	return res, nil
}

// UndoLastSale reverses the most recent sale and re-opens its round at the
// state it was sold in. It is only available until the following round
// takes a bid.
func (e *Engine) UndoLastSale(ctx context.Context) (RoundSnapshot, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.UndoLastSale")
	defer span.End()

	e.mu.Lock()
	err := e.undoLocked(ctx)
	e.flushLocked()
	snap := e.view.Load().round
	e.mu.Unlock()

	e.persist(ctx)
	if err != nil {
		return RoundSnapshot{}, err
	}

	e.metrics.saleUndone(ctx)
	e.logger.InfoContext(ctx, "sale undone",
		slog.String("round_id", snap.RoundID),
		slog.String("player_id", snap.Player.ID),
		slog.String("team_id", snap.Leader),
		slog.Int64("amount", int64(snap.Amount)),
	)
	return *snap, nil
}

func (e *Engine) undoLocked(ctx context.Context) error {
	s := e.s
	if s == nil || s.status == NotStarted {
		return ErrNoOpenRound
	}
	if s.status == Paused {
		return ErrSessionNotRunning
	}
	last := s.lastSale
	if last == nil {
		return ErrUndoUnavailable
	}
	d := event.SaleUndoneData{
		RoundID:  last.roundID,
		PlayerID: last.playerID,
		TeamID:   last.teamID,
		Amount:   last.amount,
	}
	if s.round != nil {
		d.WithdrawnRoundID = s.round.ID
	}
	if err := s.emit(event.SaleUndone, d, e.clock.Now()); err != nil {
		if errors.Is(err, ErrNoSuchCommitment) {
			e.metrics.ledgerDefect(ctx)
			e.logger.ErrorContext(ctx, "ledger has no record of the sale being undone",
				slog.Bool("defect", true),
				slog.String("round_id", last.roundID),
				slog.String("team_id", last.teamID),
				slog.Any("error", err),
			)
		}
		return fmt.Errorf("undoing sale in %s: %w", last.roundID, err)
	}
	return nil
}

// Pause halts bidding. A round without bids is withdrawn and its player is
// offered again on resume; a round with bids stays frozen.
func (e *Engine) Pause(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "Engine.Pause")
	defer span.End()

	e.mu.Lock()
	err := e.pauseLocked()
	e.flushLocked()
	e.mu.Unlock()

	e.persist(ctx)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "session paused", slog.String("session_id", e.SessionID()))
	return nil
}

func (e *Engine) pauseLocked() error {
	s := e.s
	if s == nil || s.status != Running {
		return ErrSessionNotRunning
	}
	now := e.clock.Now()
	if r := s.round; r != nil && len(r.Bids) == 0 {
		err := s.emit(event.RoundWithdrawn, event.RoundWithdrawnData{
			RoundID:  r.ID,
			PlayerID: r.Player.ID,
			Reason:   "paused",
		}, now)
		if err != nil {
			return err
		}
	}
	return s.emit(event.SessionPaused, struct{}{}, now)
}

// Resume restarts bidding, re-opening a round if the pause withdrew one.
func (e *Engine) Resume(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "Engine.Resume")
	defer span.End()

	e.mu.Lock()
	err := e.resumeLocked()
	e.flushLocked()
	e.mu.Unlock()

	e.persist(ctx)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "session resumed", slog.String("session_id", e.SessionID()))
	return nil
}

func (e *Engine) resumeLocked() error {
	s := e.s
	if s == nil || s.status != Paused {
		return ErrSessionNotRunning
	}
	now := e.clock.Now()
	if err := s.emit(event.SessionResumed, struct{}{}, now); err != nil {
		return err
	}
	if s.round == nil {
		return s.openNext(now)
	}
	return nil
}

// Reorder sets the order of the pending queue. It is only permitted while
// no round is open, which in practice means while paused.
func (e *Engine) Reorder(ctx context.Context, playerIDs []string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.Reorder",
		trace.WithAttributes(attribute.Int("players", len(playerIDs))),
	)
	defer span.End()

	e.mu.Lock()
	err := e.reorderLocked(playerIDs)
	e.flushLocked()
	e.mu.Unlock()

	e.persist(ctx)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "queue reordered", slog.Int("players", len(playerIDs)))
	return nil
}

func (e *Engine) reorderLocked(ids []string) error {
	s := e.s
	if s == nil || (s.status != Running && s.status != Paused) {
		return ErrSessionNotRunning
	}
	if s.round != nil {
		return fmt.Errorf("%w: %s", ErrRoundOpen, s.round.ID)
	}
	return s.emit(event.QueueReordered, event.QueueReorderedData{
		Order:    slices.Clone(ids),
		Previous: s.queue.IDs(),
	}, e.clock.Now())
}

// ReofferPlayer puts a player who finished unsold back in the queue. Front
// placement needs the hammer to be idle, since the head of the queue is
// the player under it.
func (e *Engine) ReofferPlayer(ctx context.Context, playerID string, pos queue.Position) error {
	ctx, span := e.tracer.Start(ctx, "Engine.ReofferPlayer",
		trace.WithAttributes(
			attribute.String("player.id", playerID),
			attribute.String("position", pos.String()),
		),
	)
	defer span.End()

	e.mu.Lock()
	err := e.reofferLocked(playerID, pos)
	e.flushLocked()
	e.mu.Unlock()

	e.persist(ctx)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "player re-offered",
		slog.String("player_id", playerID),
		slog.String("position", pos.String()),
	)
	return nil
}

func (e *Engine) reofferLocked(playerID string, pos queue.Position) error {
	s := e.s
	if s == nil || (s.status != Running && s.status != Paused) {
		return ErrSessionNotRunning
	}
	st, ok := s.outcome[playerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	if st != roster.Unsold {
		return fmt.Errorf("%w: %s is %s", ErrNotUnsold, playerID, st)
	}
	if pos == queue.Front && s.round != nil {
		return fmt.Errorf("%w: %s", ErrRoundOpen, s.round.ID)
	}
	return s.emit(event.PlayerReoffered, event.PlayerReofferedData{
		PlayerID: playerID,
		Front:    pos == queue.Front,
	}, e.clock.Now())
}

// Teams returns every team's standing in configuration order.
func (e *Engine) Teams() []TeamStanding {
	e.mu.Lock()
	s := e.s
	e.mu.Unlock()
	if s == nil || s.ledger == nil {
		return nil
	}
	teams := s.ledger.Teams()
	out := make([]TeamStanding, 0, len(teams))
	for _, t := range teams {
		advised, _ := s.ledger.MaxAdvisedBid(t.ID, s.params.BasePrice)
		out = append(out, TeamStanding{Team: t, Available: t.Available(), MaxAdvisedBid: advised})
	}
	return out
}

// Queue returns the pending players in offer order. The head is the player
// under the hammer while a round is open.
func (e *Engine) Queue() []roster.Player {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s == nil || e.s.queue == nil {
		return nil
	}
	return e.s.queue.Players()
}

// PlayerStatus returns the auction outcome of a player.
func (e *Engine) PlayerStatus(playerID string) (roster.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s == nil || e.s.outcome == nil {
		return "", ErrSessionNotRunning
	}
	st, ok := e.s.outcome[playerID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	return st, nil
}

// History returns the session's events with a version greater than from.
func (e *Engine) History(from int) []event.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.historyLocked(from)
}

func (e *Engine) historyLocked(from int) []event.Event {
	if e.s == nil || from >= len(e.s.log) {
		return nil
	}
	if from < 0 {
		from = 0
	}
	return slices.Clone(e.s.log[from:])
}

// Subscribe returns the events after version from together with a live
// subscription that continues exactly where the history ends.
func (e *Engine) Subscribe(from, buffer int) ([]event.Event, *event.Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.historyLocked(from), e.feed.Subscribe(buffer)
}

// Close ends every feed subscription.
func (e *Engine) Close() {
	e.feed.Close()
}

// flushLocked publishes the view and feed for events emitted by the last
// command.
func (e *Engine) flushLocked() {
	if e.s == nil {
		return
	}
	events := e.s.drain()
	if len(events) == 0 {
		return
	}
	e.publishLocked()
	e.feed.Publish(events...)
}

func (e *Engine) publishLocked() {
	s := e.s
	v := &view{sessionID: s.id, status: s.status}
	if s.round != nil {
		v.round = s.round.snapshot(s.id, s.policy, s.status == Paused)
	}
	e.view.Store(v)
}

// persist logs Sync failures. The in-memory log stays authoritative; the
// unwritten tail is retried by the next command.
func (e *Engine) persist(ctx context.Context) {
	if err := e.Sync(ctx); err != nil {
		e.logger.ErrorContext(ctx, "failed to persist session events",
			slog.String("session_id", e.SessionID()),
			slog.Int("persisted_version", e.persistedVersion()),
			slog.Any("error", err),
		)
	}
}

// Sync appends every event of the current session that the sink has not
// acknowledged yet, in version order. Appends are serialized so the
// durable log never has gaps.
func (e *Engine) Sync(ctx context.Context) error {
	if e.sink == nil {
		return nil
	}
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	e.mu.Lock()
	if e.s == nil {
		e.mu.Unlock()
		return nil
	}
	id := e.s.id
	if id != e.synced.sessionID {
		e.synced = watermark{sessionID: id}
	}
	pending := e.historyLocked(e.synced.version)
	e.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	err := e.sink.Append(ctx, pending...)
	if err == nil {
		e.synced.version = pending[len(pending)-1].Version
		return nil
	}
	// The append may have committed before failing; resume from whatever
	// the sink actually holds.
	if stored, lerr := e.sink.Load(ctx, id); lerr == nil && len(stored) > e.synced.version && len(stored) <= pending[len(pending)-1].Version {
		e.synced.version = len(stored)
	}
	return fmt.Errorf("appending %d events from version %d: %w", len(pending), pending[0].Version, err)
}

func (e *Engine) persistedVersion() int {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	return e.synced.version
}
