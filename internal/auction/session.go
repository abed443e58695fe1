package auction

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sreeharimv/auction-platform/internal/event"
	"github.com/sreeharimv/auction-platform/internal/increment"
	"github.com/sreeharimv/auction-platform/internal/ledger"
	"github.com/sreeharimv/auction-platform/internal/money"
	"github.com/sreeharimv/auction-platform/internal/queue"
	"github.com/sreeharimv/auction-platform/internal/roster"
)

// SessionStatus is the lifecycle state of an auction session.
type SessionStatus string

const (
	NotStarted SessionStatus = "NOT_STARTED"
	Running    SessionStatus = "RUNNING"
	Paused     SessionStatus = "PAUSED"
	Completed  SessionStatus = "COMPLETED"
)

// sale is the most recent sale that may still be undone.
type sale struct {
	roundID  string
	playerID string
	teamID   string
	amount   money.Amount
}

// session is the full state of one auction, derived entirely from its event
// log. Every change goes through apply so that live commands and replay can
// never diverge.
type session struct {
	id     string
	status SessionStatus
	params event.SessionStartedData

	policy  increment.Policy
	ledger  *ledger.Ledger
	queue   *queue.Queue
	players map[string]roster.Player
	outcome map[string]roster.Status
	offers  map[string]int

	round    *Round
	closed   map[string]bool
	lastSale *sale
	roundSeq int

	log     []event.Event
	pending []event.Event
}

func newSession(id string) *session {
	return &session{id: id, status: NotStarted}
}

// emit records a new event at the next version and applies it. A failed
// apply leaves both the state and the log untouched.
func (s *session) emit(t event.Type, payload any, now time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", t, err)
	}
	e := event.Event{
		ID:          uuid.NewString(),
		AggregateID: s.id,
		Type:        t,
		Data:        data,
		Version:     len(s.log) + 1,
		CreatedAt:   now.UTC(),
	}
	if err := s.apply(e); err != nil {
		return err
	}
	s.log = append(s.log, e)
	s.pending = append(s.pending, e)
	return nil
}

// replay applies a stored event. Versions must be contiguous.
func (s *session) replay(e event.Event) error {
	if want := len(s.log) + 1; e.Version != want {
		return fmt.Errorf("session %s: event version %d, want %d", s.id, e.Version, want)
	}
	if err := s.apply(e); err != nil {
		return fmt.Errorf("applying %s v%d: %w", e.Type, e.Version, err)
	}
	s.log = append(s.log, e)
	return nil
}

func (s *session) drain() []event.Event {
	out := s.pending
	s.pending = nil
	return out
}

func (s *session) version() int { return len(s.log) }

func (s *session) apply(e event.Event) error {
	switch e.Type {
	case event.SessionStarted:
		var d event.SessionStartedData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		return s.applyStarted(d)

	case event.RoundOpened:
		var d event.RoundOpenedData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		head, ok := s.queue.Peek()
		if !ok || head.ID != d.PlayerID {
			return fmt.Errorf("round %s: player %s is not at the head of the queue", d.RoundID, d.PlayerID)
		}
		s.roundSeq++
		s.offers[d.PlayerID] = d.Offer
		s.round = newRound(d.RoundID, head, d.BasePrice, d.Offer)

	case event.BidAccepted:
		var d event.BidAcceptedData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		if s.round == nil || s.round.ID != d.RoundID {
			return fmt.Errorf("bid for %s: %w", d.RoundID, ErrNoOpenRound)
		}
		s.round.accept(Bid{TeamID: d.TeamID, Amount: d.Amount, Version: d.RoundVersion, ReceivedAt: d.ReceivedAt})
		s.lastSale = nil

	case event.RoundSold:
		var d event.RoundSoldData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		r, err := s.activeRound(d.RoundID)
		if err != nil {
			return err
		}
		if r.Player.ID != d.PlayerID {
			return fmt.Errorf("round %s is for %s, not %s", r.ID, r.Player.ID, d.PlayerID)
		}
		r.Status = RoundClosing
		if err := s.ledger.Commit(d.TeamID, d.PlayerID, d.Amount); err != nil {
			r.Status = RoundOpen
			return err
		}
		s.closeRound(r)
		s.outcome[d.PlayerID] = roster.Sold
		s.lastSale = &sale{roundID: d.RoundID, playerID: d.PlayerID, teamID: d.TeamID, amount: d.Amount}

	case event.RoundUnsold:
		var d event.RoundUnsoldData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		r, err := s.activeRound(d.RoundID)
		if err != nil {
			return err
		}
		s.closeRound(r)
		if d.Requeued {
			if err := s.queue.Requeue(r.Player, queue.Back); err != nil {
				return err
			}
		} else {
			s.outcome[d.PlayerID] = roster.Unsold
		}
		s.lastSale = nil

	case event.RoundWithdrawn:
		var d event.RoundWithdrawnData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		if _, err := s.activeRound(d.RoundID); err != nil {
			return err
		}
		s.withdraw()

	case event.SaleUndone:
		var d event.SaleUndoneData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		return s.applyUndo(d)

	case event.SessionPaused:
		s.status = Paused

	case event.SessionResumed:
		s.status = Running

	case event.SessionCompleted:
		s.status = Completed
		s.round = nil

	case event.QueueReordered:
		var d event.QueueReorderedData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		return s.queue.Reorder(d.Order)

	case event.PlayerReoffered:
		var d event.PlayerReofferedData
		if err := e.Decode(&d); err != nil {
			return fmt.Errorf("decoding %s: %w", e.Type, err)
		}
		p, ok := s.players[d.PlayerID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPlayer, d.PlayerID)
		}
		pos := queue.Back
		if d.Front {
			pos = queue.Front
		}
		if err := s.queue.Requeue(p, pos); err != nil {
			return err
		}
		s.outcome[d.PlayerID] = roster.Pending
		s.offers[d.PlayerID] = 0

	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

func (s *session) applyStarted(d event.SessionStartedData) error {
	if s.status != NotStarted {
		return ErrSessionStarted
	}
	policy, err := increment.New(d.Tiers)
	if err != nil {
		return err
	}
	l, err := ledger.New(d.Teams)
	if err != nil {
		return err
	}
	q, err := queue.New(d.Players)
	if err != nil {
		return err
	}

	s.params = d
	s.policy = policy
	s.ledger = l
	s.queue = q
	s.players = make(map[string]roster.Player, len(d.Players))
	s.outcome = make(map[string]roster.Status, len(d.Players))
	s.offers = make(map[string]int, len(d.Players))
	s.closed = make(map[string]bool)
	for _, p := range d.Players {
		s.players[p.ID] = p
		s.outcome[p.ID] = roster.Pending
	}
	s.status = Running
	return nil
}

// applyUndo reverses the last sale and re-opens its round with the bids it
// had when it was sold. A bidless successor round is discarded.
func (s *session) applyUndo(d event.SaleUndoneData) error {
	if s.lastSale == nil || s.lastSale.roundID != d.RoundID {
		return fmt.Errorf("round %s: %w", d.RoundID, ErrUndoUnavailable)
	}
	if s.round != nil && (s.round.ID != d.WithdrawnRoundID || len(s.round.Bids) > 0) {
		return fmt.Errorf("round %s is in progress: %w", s.round.ID, ErrUndoUnavailable)
	}
	r, err := s.rebuildRound(d.RoundID)
	if err != nil {
		return err
	}
	if err := s.ledger.Rollback(d.TeamID, d.PlayerID, d.Amount); err != nil {
		return err
	}

	if s.round != nil {
		s.withdraw()
	}
	// The sold player left the queue on close, so this cannot collide.
	_ = s.queue.Requeue(r.Player, queue.Front)
	delete(s.closed, r.ID)
	s.outcome[d.PlayerID] = roster.Pending
	s.offers[d.PlayerID] = r.Offer
	s.round = r
	s.lastSale = nil
	if s.status == Completed {
		s.status = Running
	}
	return nil
}

// rebuildRound derives a round's state from the log.
func (s *session) rebuildRound(id string) (*Round, error) {
	var r *Round
	for _, e := range s.log {
		switch e.Type {
		case event.RoundOpened:
			var d event.RoundOpenedData
			if err := e.Decode(&d); err != nil {
				return nil, err
			}
			if d.RoundID == id {
				r = newRound(id, s.players[d.PlayerID], d.BasePrice, d.Offer)
			}
		case event.BidAccepted:
			var d event.BidAcceptedData
			if err := e.Decode(&d); err != nil {
				return nil, err
			}
			if r != nil && d.RoundID == id {
				r.accept(Bid{TeamID: d.TeamID, Amount: d.Amount, Version: d.RoundVersion, ReceivedAt: d.ReceivedAt})
			}
		}
	}
	if r == nil {
		return nil, fmt.Errorf("round %s not found in log", id)
	}
	return r, nil
}

func (s *session) activeRound(id string) (*Round, error) {
	if s.round == nil || s.round.ID != id {
		return nil, fmt.Errorf("round %s: %w", id, ErrNoOpenRound)
	}
	return s.round, nil
}

// closeRound archives r and removes its player from the head of the queue.
func (s *session) closeRound(r *Round) {
	r.Status = RoundClosed
	s.closed[r.ID] = true
	_, _ = s.queue.Advance()
	s.round = nil
}

// withdraw discards the active round without an outcome. Its player stays
// at the head of the queue and the offer is not counted.
func (s *session) withdraw() {
	pid := s.round.Player.ID
	s.offers[pid] = s.round.Offer - 1
	s.closed[s.round.ID] = true
	s.round = nil
}

// openNext opens a round for the head of the queue, or completes the
// session if the queue is empty.
func (s *session) openNext(now time.Time) error {
	head, ok := s.queue.Peek()
	if !ok {
		return s.emit(event.SessionCompleted, struct{}{}, now)
	}
	return s.emit(event.RoundOpened, event.RoundOpenedData{
		RoundID:   fmt.Sprintf("round-%d", s.roundSeq+1),
		PlayerID:  head.ID,
		BasePrice: head.BasePrice,
		Offer:     s.offers[head.ID] + 1,
	}, now)
}

// maxOffers is how many rounds a player may be offered in.
func (s *session) maxOffers() int {
	if !s.params.Unsold.Requeue || s.params.Unsold.MaxOffers < 1 {
		return 1
	}
	return s.params.Unsold.MaxOffers
}
