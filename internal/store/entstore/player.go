package entstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sreeharimv/auction-platform/internal/clock"
	"github.com/sreeharimv/auction-platform/internal/money"
	"github.com/sreeharimv/auction-platform/internal/roster"
	"github.com/sreeharimv/auction-platform/internal/store"
)

const playerColumns = `id, name, role, base_price, age, batting, bowling, photo, status,
	team_id, sold_price, queue_pos, sold_at, created_at, updated_at`

// PlayerRepo implements store.PlayerRepository using database/sql.
type PlayerRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewPlayerRepo returns a new PlayerRepo.
func NewPlayerRepo(db *sql.DB, clk clock.Clock) *PlayerRepo {
	return &PlayerRepo{db: db, clock: clk}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row scanner) (store.Player, error) {
	var (
		p         store.Player
		teamID    sql.NullString
		soldPrice sql.NullInt64
		soldAt    sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Name, &p.Role, &p.BasePrice, &p.Age, &p.Batting, &p.Bowling, &p.Photo, &p.Status,
		&teamID, &soldPrice, &p.QueuePos, &soldAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return store.Player{}, err
	}
	if teamID.Valid {
		p.TeamID = &teamID.String
	}
	if soldPrice.Valid {
		p.SoldPrice = &soldPrice.Int64
	}
	if soldAt.Valid {
		p.SoldAt = &soldAt.Time
	}
	return p, nil
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
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO players (id, name, role, base_price, age, batting, bowling, photo, status, queue_pos, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.Name, p.Role, p.BasePrice, p.Age, p.Batting, p.Bowling, p.Photo, p.Status, p.QueuePos, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

func (r *PlayerRepo) GetByID(ctx context.Context, id string) (*store.Player, error) {
	p, err := scanPlayer(r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("player %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return &p, nil
}

func (r *PlayerRepo) ListAuctionable(ctx context.Context) ([]store.Player, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE status = $1 ORDER BY queue_pos, name`, string(roster.Pending))
	if err != nil {
		return nil, fmt.Errorf("listing auctionable players: %w", err)
	}
	defer rows.Close()

	var players []store.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning player row: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (r *PlayerRepo) MarkSold(ctx context.Context, id, teamID string, price money.Amount) error {
	now := r.clock.Now().UTC()
	return r.update(ctx, id,
		`UPDATE players SET status = $1, team_id = $2, sold_price = $3, sold_at = $4, updated_at = $4 WHERE id = $5`,
		string(roster.Sold), teamID, int64(price), now, id)
}

func (r *PlayerRepo) MarkUnsold(ctx context.Context, id string) error {
	return r.update(ctx, id,
		`UPDATE players SET status = $1, team_id = NULL, sold_price = NULL, sold_at = NULL, updated_at = $2 WHERE id = $3`,
		string(roster.Unsold), r.clock.Now().UTC(), id)
}

func (r *PlayerRepo) Reset(ctx context.Context, id string) error {
	return r.update(ctx, id,
		`UPDATE players SET status = $1, team_id = NULL, sold_price = NULL, sold_at = NULL, updated_at = $2 WHERE id = $3`,
		string(roster.Pending), r.clock.Now().UTC(), id)
}

func (r *PlayerRepo) update(ctx context.Context, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating player %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating player %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("player %s: %w", id, store.ErrNotFound)
	}
	return nil
}
