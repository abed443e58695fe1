// Package roster holds the player reference the auction engine borrows from
// the player store for the lifetime of a session.
package roster

import "github.com/sreeharimv/auction-platform/internal/money"

// Status is the auction outcome of a player.
type Status string

const (
	Pending Status = "pending"
	Sold    Status = "sold"
	Unsold  Status = "unsold"
)

// Player is the subset of a player record the engine needs.
type Player struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Role      string       `json:"role,omitempty"`
	BasePrice money.Amount `json:"base_price"`
	Age       int          `json:"age,omitempty"`
	Batting   string       `json:"batting,omitempty"`
	Bowling   string       `json:"bowling,omitempty"`
	// Photo is an opaque reference into the photo store.
	Photo string `json:"photo,omitempty"`
}
