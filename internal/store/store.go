// Package store defines the persistence collaborator of the auction engine:
// the player records it borrows at session start and the durable event log
// it writes to.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sreeharimv/auction-platform/internal/money"
	"github.com/sreeharimv/auction-platform/internal/roster"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Player is a stored player record.
type Player struct {
	ID        string     `db:"id"`
	Name      string     `db:"name"`
	Role      string     `db:"role"`
	BasePrice int64      `db:"base_price"`
	Age       int        `db:"age"`
	Batting   string     `db:"batting"`
	Bowling   string     `db:"bowling"`
	Photo     string     `db:"photo"`
	Status    string     `db:"status"`
	TeamID    *string    `db:"team_id"`
	SoldPrice *int64     `db:"sold_price"`
	QueuePos  int        `db:"queue_pos"`
	SoldAt    *time.Time `db:"sold_at"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// Roster returns the part of the record the engine works with.
func (p Player) Roster() roster.Player {
	return roster.Player{
		ID:        p.ID,
		Name:      p.Name,
		Role:      p.Role,
		BasePrice: money.Amount(p.BasePrice),
		Age:       p.Age,
		Batting:   p.Batting,
		Bowling:   p.Bowling,
		Photo:     p.Photo,
	}
}

// PlayerRepository defines player persistence operations.
type PlayerRepository interface {
	Create(ctx context.Context, p *Player) error
	GetByID(ctx context.Context, id string) (*Player, error)
	// ListAuctionable returns pending players in queue order.
	ListAuctionable(ctx context.Context) ([]Player, error)
	MarkSold(ctx context.Context, id, teamID string, price money.Amount) error
	MarkUnsold(ctx context.Context, id string) error
	// Reset returns a player to pending, clearing any sale.
	Reset(ctx context.Context, id string) error
}
