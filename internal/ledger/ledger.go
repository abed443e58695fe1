// Package ledger keeps per-team budget and squad bookkeeping for an auction
// session. All operations are atomic with respect to each other.
package ledger

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sreeharimv/auction-platform/internal/money"
)

// Errors returned by ledger operations.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSquadFull         = errors.New("squad is full")
	ErrNoSuchCommitment  = errors.New("no such commitment")
	ErrUnknownTeam       = errors.New("unknown team")
	ErrDuplicateTeam     = errors.New("duplicate team")
	ErrAlreadyInSquad    = errors.New("player already in squad")
)

// TeamSpec is the configured shape of a team at session start.
type TeamSpec struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Budget     money.Amount `json:"budget"`
	MinPlayers int          `json:"min_players"`
	MaxPlayers int          `json:"max_players"`
	// Captain, if set, is placed in the squad at zero cost.
	Captain string `json:"captain,omitempty"`
}

// Team is a point-in-time view of one team's account.
type Team struct {
	ID         string
	Name       string
	Budget     money.Amount
	Spent      money.Amount
	MinPlayers int
	MaxPlayers int
	Squad      []string
}

// Available returns Budget - Spent.
func (t Team) Available() money.Amount { return t.Budget - t.Spent }

// SlotsLeft returns how many more players the team may acquire.
func (t Team) SlotsLeft() int { return t.MaxPlayers - len(t.Squad) }

type account struct {
	spec  TeamSpec
	spent money.Amount
	squad []string
	paid  map[string]money.Amount
}

func (a *account) view() Team {
	return Team{
		ID:         a.spec.ID,
		Name:       a.spec.Name,
		Budget:     a.spec.Budget,
		Spent:      a.spent,
		MinPlayers: a.spec.MinPlayers,
		MaxPlayers: a.spec.MaxPlayers,
		Squad:      slices.Clone(a.squad),
	}
}

func (a *account) check(amount money.Amount) error {
	if len(a.squad) >= a.spec.MaxPlayers {
		return fmt.Errorf("%w: %s has %d/%d players", ErrSquadFull, a.spec.ID, len(a.squad), a.spec.MaxPlayers)
	}
	if avail := a.spec.Budget - a.spent; amount > avail {
		return fmt.Errorf("%w: %s has %d available, needs %d", ErrInsufficientFunds, a.spec.ID, avail, amount)
	}
	return nil
}

// Ledger holds every team's account. It is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*account
	order    []string
}

// New builds a ledger from team specs and seeds any captains.
func New(specs []TeamSpec) (*Ledger, error) {
	l := &Ledger{accounts: make(map[string]*account, len(specs))}
	for _, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("team %q has no id", s.Name)
		}
		if _, ok := l.accounts[s.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTeam, s.ID)
		}
		if s.Budget < 0 {
			return nil, fmt.Errorf("team %s: negative budget", s.ID)
		}
		if s.MaxPlayers <= 0 || s.MinPlayers < 0 || s.MinPlayers > s.MaxPlayers {
			return nil, fmt.Errorf("team %s: invalid squad bounds %d..%d", s.ID, s.MinPlayers, s.MaxPlayers)
		}
		l.accounts[s.ID] = &account{spec: s, paid: make(map[string]money.Amount)}
		l.order = append(l.order, s.ID)
	}
	for _, s := range specs {
		if s.Captain == "" {
			continue
		}
		if err := l.Seed(s.ID, s.Captain); err != nil {
			return nil, fmt.Errorf("seeding captain for %s: %w", s.ID, err)
		}
	}
	return l, nil
}

func (l *Ledger) get(team string) (*account, error) {
	a, ok := l.accounts[team]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTeam, team)
	}
	return a, nil
}

// Available returns the team's uncommitted funds.
func (l *Ledger) Available(team string) (money.Amount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, err := l.get(team)
	if err != nil {
		return 0, err
	}
	return a.spec.Budget - a.spent, nil
}

// CheckAfford reports why team could not pay amount for one more player, or
// nil if it can. A full squad is rejected regardless of funds.
func (l *Ledger) CheckAfford(team string, amount money.Amount) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, err := l.get(team)
	if err != nil {
		return err
	}
	return a.check(amount)
}

// CanAfford is CheckAfford reduced to a bool.
func (l *Ledger) CanAfford(team string, amount money.Amount) bool {
	return l.CheckAfford(team, amount) == nil
}

// Commit deducts amount from team and adds player to its squad.
func (l *Ledger) Commit(team, player string, amount money.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, err := l.get(team)
	if err != nil {
		return err
	}
	if _, ok := a.paid[player]; ok {
		return fmt.Errorf("%w: %s in %s", ErrAlreadyInSquad, player, team)
	}
	if err := a.check(amount); err != nil {
		return err
	}
	a.spent += amount
	a.squad = append(a.squad, player)
	a.paid[player] = amount
	return nil
}

// Seed places player in team's squad at zero cost.
func (l *Ledger) Seed(team, player string) error {
	return l.Commit(team, player, 0)
}

// Rollback reverses an earlier Commit of exactly (team, player, amount).
func (l *Ledger) Rollback(team, player string, amount money.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, err := l.get(team)
	if err != nil {
		return err
	}
	paid, ok := a.paid[player]
	if !ok || paid != amount {
		return fmt.Errorf("%w: %s/%s at %d", ErrNoSuchCommitment, team, player, amount)
	}
	a.spent -= amount
	delete(a.paid, player)
	a.squad = slices.DeleteFunc(a.squad, func(id string) bool { return id == player })
	return nil
}

// MaxAdvisedBid is the most team can bid while still keeping basePrice in
// reserve for every mandatory slot left after this purchase. It is advisory
// only; the ledger enforces just funds and squad size.
func (l *Ledger) MaxAdvisedBid(team string, basePrice money.Amount) (money.Amount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, err := l.get(team)
	if err != nil {
		return 0, err
	}
	mandatory := a.spec.MinPlayers - (len(a.squad) + 1)
	if mandatory < 0 {
		mandatory = 0
	}
	return a.spec.Budget - a.spent - money.Amount(mandatory)*basePrice, nil
}

// Team returns a snapshot of one team.
func (l *Ledger) Team(id string) (Team, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, err := l.get(id)
	if err != nil {
		return Team{}, err
	}
	return a.view(), nil
}

// Teams returns snapshots of all teams in configuration order.
func (l *Ledger) Teams() []Team {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Team, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.accounts[id].view())
	}
	return out
}
