// Package queue holds the ordered list of players still to be auctioned.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sreeharimv/auction-platform/internal/roster"
)

// Errors returned by queue operations.
var (
	ErrEmptyQueue    = errors.New("queue is empty")
	ErrOrderMismatch = errors.New("new order is not a permutation of the queue")
	ErrAlreadyQueued = errors.New("player is already queued")
)

// Position selects where Requeue inserts a player.
type Position int

const (
	Back Position = iota
	Front
)

func (p Position) String() string {
	if p == Front {
		return "front"
	}
	return "back"
}

// Queue is a FIFO of pending players. The head is the player currently
// (or next) under the hammer. It is safe for concurrent use.
type Queue struct {
	mu      sync.RWMutex
	players []roster.Player
}

// New returns a queue in the given order.
func New(players []roster.Player) (*Queue, error) {
	seen := make(map[string]struct{}, len(players))
	for _, p := range players {
		if p.ID == "" {
			return nil, errors.New("player with empty id")
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("player %s: %w", p.ID, ErrAlreadyQueued)
		}
		seen[p.ID] = struct{}{}
	}
	return &Queue{players: append([]roster.Player(nil), players...)}, nil
}

// Peek returns the head of the queue.
func (q *Queue) Peek() (roster.Player, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.players) == 0 {
		return roster.Player{}, false
	}
	return q.players[0], true
}

// Advance removes and returns the head.
func (q *Queue) Advance() (roster.Player, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.players) == 0 {
		return roster.Player{}, ErrEmptyQueue
	}
	head := q.players[0]
	q.players = q.players[1:]
	return head, nil
}

// Requeue inserts p at the front or back.
func (q *Queue) Requeue(p roster.Player, pos Position) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexOf(p.ID) >= 0 {
		return fmt.Errorf("player %s: %w", p.ID, ErrAlreadyQueued)
	}
	if pos == Front {
		q.players = append([]roster.Player{p}, q.players...)
		return nil
	}
	q.players = append(q.players, p)
	return nil
}

// Reorder replaces the queue order with ids, which must name every queued
// player exactly once.
func (q *Queue) Reorder(ids []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(ids) != len(q.players) {
		return fmt.Errorf("%w: got %d ids for %d players", ErrOrderMismatch, len(ids), len(q.players))
	}
	byID := make(map[string]roster.Player, len(q.players))
	for _, p := range q.players {
		byID[p.ID] = p
	}
	next := make([]roster.Player, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: %s missing or repeated", ErrOrderMismatch, id)
		}
		delete(byID, id)
		next = append(next, p)
	}
	q.players = next
	return nil
}

// Len returns the number of queued players.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.players)
}

// Players returns a copy of the queue in order.
func (q *Queue) Players() []roster.Player {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]roster.Player(nil), q.players...)
}

// IDs returns the queued player ids in order.
func (q *Queue) IDs() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	ids := make([]string, len(q.players))
	for i, p := range q.players {
		ids[i] = p.ID
	}
	return ids
}

func (q *Queue) indexOf(id string) int {
	for i, p := range q.players {
		if p.ID == id {
			return i
		}
	}
	return -1
}
