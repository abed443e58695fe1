package auction

import (
	"errors"

	"github.com/sreeharimv/auction-platform/internal/ledger"
	"github.com/sreeharimv/auction-platform/internal/queue"
)

// Bid rejections. All of them are reported to the submitting caller only.
var (
	ErrRoundClosed = errors.New("round is closed")
	ErrStaleRound  = errors.New("round has moved on, retry against the latest snapshot")
	ErrBidTooLow   = errors.New("bid is below the minimum")
	ErrSelfOutbid  = errors.New("team is already the highest bidder")

	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrSquadFull         = ledger.ErrSquadFull
)

// Session and ordering errors.
var (
	ErrNoOpenRound       = errors.New("no open round")
	ErrNoLeadingBid      = errors.New("round has no leading bid")
	ErrSessionNotRunning = errors.New("session is not running")
	ErrSessionStarted    = errors.New("session already started")
	ErrNoSession         = errors.New("no session to recover")
	ErrUndoUnavailable   = errors.New("no sale to undo")
	ErrRoundOpen         = errors.New("a round is open")
	ErrUnknownPlayer     = errors.New("unknown player")
	ErrNotUnsold         = errors.New("player is not unsold")
	ErrInvalidBasePrice  = errors.New("base price must be positive")

	ErrNoSuchCommitment = ledger.ErrNoSuchCommitment
	ErrEmptyQueue       = queue.ErrEmptyQueue
)
