package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sreeharimv/auction-platform/internal/clock"
	"github.com/sreeharimv/auction-platform/internal/money"
	"github.com/sreeharimv/auction-platform/internal/roster"
	"github.com/sreeharimv/auction-platform/internal/store"
)

// PlayerRepo implements store.PlayerRepository with sqlx.
type PlayerRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewPlayerRepo returns a new PlayerRepo.
func NewPlayerRepo(db *sqlx.DB, clk clock.Clock) *PlayerRepo {
	return &PlayerRepo{db: db, clock: clk}
}

func (r *PlayerRepo) Create(ctx context.Context, p *store.Player) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = string(roster.Pending)
	}
	now := r.clock.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO players (id, name, role, base_price, age, batting, bowling, photo, status, queue_pos, created_at, updated_at)
		 VALUES (:id, :name, :role, :base_price, :age, :batting, :bowling, :photo, :status, :queue_pos, :created_at, :updated_at)`, p)
	if err != nil {
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

func (r *PlayerRepo) GetByID(ctx context.Context, id string) (*store.Player, error) {
	var p store.Player
	err := r.db.GetContext(ctx, &p, `SELECT * FROM players WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("player %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return &p, nil
}

func (r *PlayerRepo) ListAuctionable(ctx context.Context) ([]store.Player, error) {
	var players []store.Player
	err := r.db.SelectContext(ctx, &players,
		`SELECT * FROM players WHERE status = $1 ORDER BY queue_pos, name`, roster.Pending)
	if err != nil {
		return nil, fmt.Errorf("listing auctionable players: %w", err)
	}
	return players, nil
}

func (r *PlayerRepo) MarkSold(ctx context.Context, id, teamID string, price money.Amount) error {
	now := r.clock.Now().UTC()
	return r.update(ctx, id,
		`UPDATE players SET status = $1, team_id = $2, sold_price = $3, sold_at = $4, updated_at = $4 WHERE id = $5`,
		roster.Sold, teamID, int64(price), now, id)
}

func (r *PlayerRepo) MarkUnsold(ctx context.Context, id string) error {
	return r.update(ctx, id,
		`UPDATE players SET status = $1, team_id = NULL, sold_price = NULL, sold_at = NULL, updated_at = $2 WHERE id = $3`,
		roster.Unsold, r.clock.Now().UTC(), id)
}

func (r *PlayerRepo) Reset(ctx context.Context, id string) error {
	return r.update(ctx, id,
		`UPDATE players SET status = $1, team_id = NULL, sold_price = NULL, sold_at = NULL, updated_at = $2 WHERE id = $3`,
		roster.Pending, r.clock.Now().UTC(), id)
}

func (r *PlayerRepo) update(ctx context.Context, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating player %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("player %s: %w", id, store.ErrNotFound)
	}
	return nil
}
