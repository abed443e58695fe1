package auction

import (
	"time"

	"github.com/sreeharimv/auction-platform/internal/increment"
	"github.com/sreeharimv/auction-platform/internal/money"
	"github.com/sreeharimv/auction-platform/internal/roster"
)

// ladderSize is how many upcoming valid bids a snapshot advertises.
const ladderSize = 10

// RoundStatus is the lifecycle state of a round.
type RoundStatus string

const (
	RoundOpen    RoundStatus = "open"
	RoundClosing RoundStatus = "closing"
	RoundClosed  RoundStatus = "closed"
)

// Bid is one accepted bid.
type Bid struct {
	TeamID     string
	Amount     money.Amount
	Version    int
	ReceivedAt time.Time
}

// Round is the live bidding state for one player. It is owned by the
// session and only mutated while the engine lock is held.
type Round struct {
	ID        string
	Player    roster.Player
	BasePrice money.Amount
	Offer     int
	Status    RoundStatus
	Leader    string
	Amount    money.Amount
	Version   int
	Bids      []Bid
}

func newRound(id string, p roster.Player, base money.Amount, offer int) *Round {
	return &Round{
		ID:        id,
		Player:    p,
		BasePrice: base,
		Offer:     offer,
		Status:    RoundOpen,
		Amount:    base,
	}
}

// minimumBid is the smallest amount the next bid may carry. The opening bid
// may match the base price.
func (r *Round) minimumBid(p increment.Policy) money.Amount {
	if len(r.Bids) == 0 {
		return r.BasePrice
	}
	return p.NextMinimumBid(r.Amount)
}

func (r *Round) accept(b Bid) {
	r.Bids = append(r.Bids, b)
	r.Leader = b.TeamID
	r.Amount = b.Amount
	r.Version = b.Version
}

// RoundSnapshot is an immutable, consistent view of a round.
type RoundSnapshot struct {
	SessionID   string         `json:"session_id"`
	RoundID     string         `json:"round_id"`
	Player      roster.Player  `json:"player"`
	BasePrice   money.Amount   `json:"base_price"`
	Offer       int            `json:"offer"`
	Status      RoundStatus    `json:"status"`
	Leader      string         `json:"leader,omitempty"`
	Amount      money.Amount   `json:"amount"`
	Version     int            `json:"version"`
	Bids        int            `json:"bids"`
	NextMinimum money.Amount   `json:"next_minimum"`
	Ladder      []money.Amount `json:"ladder"`
	// Frozen is set while the session is paused with bids on the round.
	Frozen bool `json:"frozen,omitempty"`
}

func (r *Round) snapshot(sessionID string, p increment.Policy, frozen bool) *RoundSnapshot {
	next := r.minimumBid(p)
	return &RoundSnapshot{
		SessionID:   sessionID,
		RoundID:     r.ID,
		Player:      r.Player,
		BasePrice:   r.BasePrice,
		Offer:       r.Offer,
		Status:      r.Status,
		Leader:      r.Leader,
		Amount:      r.Amount,
		Version:     r.Version,
		Bids:        len(r.Bids),
		NextMinimum: next,
		Ladder:      p.Ladder(next, ladderSize),
		Frozen:      frozen,
	}
}
