package event

import (
	"encoding/json"
	"time"

	"github.com/sreeharimv/auction-platform/internal/increment"
	"github.com/sreeharimv/auction-platform/internal/ledger"
	"github.com/sreeharimv/auction-platform/internal/money"
	"github.com/sreeharimv/auction-platform/internal/roster"
)

// Type identifies an event kind.
type Type string

const (
	SessionStarted   Type = "session.started"
	SessionPaused    Type = "session.paused"
	SessionResumed   Type = "session.resumed"
	SessionCompleted Type = "session.completed"

	RoundOpened    Type = "round.opened"
	BidAccepted    Type = "round.bid_accepted"
	RoundSold      Type = "round.sold"
	RoundUnsold    Type = "round.unsold"
	RoundWithdrawn Type = "round.withdrawn"
	SaleUndone     Type = "round.sale_undone"

	QueueReordered  Type = "queue.reordered"
	PlayerReoffered Type = "queue.player_reoffered"
)

// Event is one entry of a session's append-only log. AggregateID is the
// session ID and Version its position in that log, starting at 1.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// UnsoldPolicy controls what happens to a player closed without a sale.
type UnsoldPolicy struct {
	// Requeue sends the player to the back of the queue instead of
	// finalizing them as unsold.
	Requeue bool `json:"requeue"`
	// MaxOffers caps how many rounds a player may be offered in when
	// Requeue is set. Zero means a single offer.
	MaxOffers int `json:"max_offers"`
}

// SessionStartedData is the payload for SessionStarted events. It carries
// everything needed to rebuild the session from scratch.
type SessionStartedData struct {
	Tournament string            `json:"tournament"`
	Currency   string            `json:"currency"`
	BasePrice  money.Amount      `json:"base_price"`
	Tiers      []increment.Tier  `json:"tiers"`
	Teams      []ledger.TeamSpec `json:"teams"`
	Players    []roster.Player   `json:"players"`
	Unsold     UnsoldPolicy      `json:"unsold"`
}

// RoundOpenedData is the payload for RoundOpened events.
type RoundOpenedData struct {
	RoundID   string       `json:"round_id"`
	PlayerID  string       `json:"player_id"`
	BasePrice money.Amount `json:"base_price"`
	Offer     int          `json:"offer"`
}

// BidAcceptedData is the payload for BidAccepted events.
type BidAcceptedData struct {
	RoundID      string       `json:"round_id"`
	TeamID       string       `json:"team_id"`
	Amount       money.Amount `json:"amount"`
	RoundVersion int          `json:"round_version"`
	ReceivedAt   time.Time    `json:"received_at"`
}

// RoundSoldData is the payload for RoundSold events.
type RoundSoldData struct {
	RoundID  string       `json:"round_id"`
	PlayerID string       `json:"player_id"`
	TeamID   string       `json:"team_id"`
	Amount   money.Amount `json:"amount"`
}

// RoundUnsoldData is the payload for RoundUnsold events.
type RoundUnsoldData struct {
	RoundID  string `json:"round_id"`
	PlayerID string `json:"player_id"`
	Requeued bool   `json:"requeued"`
}

// RoundWithdrawnData is the payload for RoundWithdrawn events. A withdrawn
// round had no bids and its player stays at the head of the queue.
type RoundWithdrawnData struct {
	RoundID  string `json:"round_id"`
	PlayerID string `json:"player_id"`
	Reason   string `json:"reason"`
}

// SaleUndoneData is the payload for SaleUndone events.
type SaleUndoneData struct {
	RoundID  string       `json:"round_id"`
	PlayerID string       `json:"player_id"`
	TeamID   string       `json:"team_id"`
	Amount   money.Amount `json:"amount"`
	// WithdrawnRoundID is the bidless successor round discarded by the undo.
	WithdrawnRoundID string `json:"withdrawn_round_id,omitempty"`
}

// QueueReorderedData is the payload for QueueReordered events.
type QueueReorderedData struct {
	Order    []string `json:"order"`
	Previous []string `json:"previous,omitempty"`
}

// PlayerReofferedData is the payload for PlayerReoffered events.
type PlayerReofferedData struct {
	PlayerID string `json:"player_id"`
	Front    bool   `json:"front"`
}
