// Package increment implements the bid increment policy: an ordered tier
// table mapping the current bid to the minimum raise.
package increment

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sreeharimv/auction-platform/internal/money"
)

// ErrInvalidTiers is returned when a tier table is empty, unordered or has a
// non-positive increment.
var ErrInvalidTiers = errors.New("invalid increment tiers")

// Tier applies Increment to any current bid at or above From.
type Tier struct {
	From      money.Amount `json:"from" yaml:"from"`
	Increment money.Amount `json:"increment" yaml:"increment"`
}

// Policy is an immutable, validated tier table. The zero value is not usable;
// construct with New or FromBasePrice.
type Policy struct {
	tiers []Tier
}

// New validates tiers and returns a Policy. Lower bounds must be
// non-negative and strictly increasing, increments positive.
func New(tiers []Tier) (Policy, error) {
	if len(tiers) == 0 {
		return Policy{}, fmt.Errorf("%w: no tiers", ErrInvalidTiers)
	}
	for i, t := range tiers {
		if t.From < 0 {
			return Policy{}, fmt.Errorf("%w: tier %d starts below zero", ErrInvalidTiers, i)
		}
		if t.Increment <= 0 {
			return Policy{}, fmt.Errorf("%w: tier %d increment must be positive", ErrInvalidTiers, i)
		}
		if i > 0 && t.From <= tiers[i-1].From {
			return Policy{}, fmt.Errorf("%w: tier %d lower bound %d not above %d", ErrInvalidTiers, i, t.From, tiers[i-1].From)
		}
	}
	cp := make([]Tier, len(tiers))
	copy(cp, tiers)
	return Policy{tiers: cp}, nil
}

// FromBasePrice builds the three-tier table used by tournaments that express
// increments relative to the base price: below 2x base the first increment
// applies, below 4x the second, above that the third.
func FromBasePrice(base money.Amount, increments [3]money.Amount) (Policy, error) {
	if base <= 0 {
		return Policy{}, fmt.Errorf("%w: base price must be positive", ErrInvalidTiers)
	}
	return New([]Tier{
		{From: 0, Increment: increments[0]},
		{From: 2 * base, Increment: increments[1]},
		{From: 4 * base, Increment: increments[2]},
	})
}

// Tiers returns a copy of the tier table.
func (p Policy) Tiers() []Tier {
	cp := make([]Tier, len(p.tiers))
	copy(cp, p.tiers)
	return cp
}

// RequiredIncrement returns the minimum raise over current. The governing
// tier is the one with the greatest lower bound <= current; bids below the
// first bound use the first tier.
func (p Policy) RequiredIncrement(current money.Amount) money.Amount {
	idx := sort.Search(len(p.tiers), func(i int) bool { return p.tiers[i].From > current })
	if idx == 0 {
		return p.tiers[0].Increment
	}
	return p.tiers[idx-1].Increment
}

// NextMinimumBid is current + RequiredIncrement(current).
func (p Policy) NextMinimumBid(current money.Amount) money.Amount {
	return current + p.RequiredIncrement(current)
}

// Ladder returns n successive valid bid amounts starting at from, each the
// next minimum over the previous.
func (p Policy) Ladder(from money.Amount, n int) []money.Amount {
	if n <= 0 {
		return nil
	}
	out := make([]money.Amount, 0, n)
	cur := from
	for i := 0; i < n; i++ {
		out = append(out, cur)
		cur = p.NextMinimumBid(cur)
	}
	return out
}
