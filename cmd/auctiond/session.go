package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sreeharimv/auction-platform/internal/auction"
	"github.com/sreeharimv/auction-platform/internal/config"
	"github.com/sreeharimv/auction-platform/internal/roster"
	"github.com/sreeharimv/auction-platform/internal/store"
)

// seedPlayers writes the configured player pool when the store has no
// auctionable players yet.
func seedPlayers(ctx context.Context, cfg *config.Config, repo store.PlayerRepository) ([]store.Player, error) {
	existing, err := repo.ListAuctionable(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	if len(existing) > 0 || len(cfg.Players) == 0 {
		return existing, nil
	}
	seeded := make([]store.Player, 0, len(cfg.Players))
	for idx, pc := range cfg.Players {
		p := store.Player{
			ID:        pc.ID,
			Name:      pc.Name,
			Role:      pc.Role,
			BasePrice: int64(pc.BasePrice),
			Age:       pc.Age,
			Batting:   pc.Batting,
			Bowling:   pc.Bowling,
			Photo:     pc.Photo,
			QueuePos:  idx + 1,
		}
		if err := repo.Create(ctx, &p); err != nil {
			return nil, fmt.Errorf("seeding player %s: %w", pc.ID, err)
		}
		seeded = append(seeded, p)
	}
	return seeded, nil
}

// sessionParams builds the session from configuration and the stored
// pool. Captains are seeded into their squads and never offered.
func sessionParams(cfg *config.Config, players []store.Player) (auction.SessionParams, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return auction.SessionParams{}, err
	}
	teams := cfg.TeamSpecs()
	captains := make(map[string]bool, len(teams))
	for _, t := range teams {
		if t.Captain != "" {
			captains[t.Captain] = true
		}
	}
	queue := make([]roster.Player, 0, len(players))
	for _, p := range players {
		if !captains[p.ID] {
			queue = append(queue, p.Roster())
		}
	}
	return auction.SessionParams{
		Tournament: cfg.Tournament.Name,
		Currency:   cfg.Tournament.Currency,
		BasePrice:  cfg.Tournament.BasePrice,
		Tiers:      policy.Tiers(),
		Teams:      teams,
		Players:    queue,
		Unsold:     cfg.UnsoldPolicy(),
	}, nil
}

// resumeOrStart recovers the latest session from the event log, starting a
// fresh one when the log is empty or the last session finished.
func resumeOrStart(ctx context.Context, eng *auction.Engine, cfg *config.Config, repo store.PlayerRepository, logger *slog.Logger) error {
	id, err := eng.RecoverSession(ctx)
	switch {
	case err == nil && eng.SessionStatus() != auction.Completed:
		logger.InfoContext(ctx, "resumed auction session",
			slog.String("session_id", id),
			slog.String("status", string(eng.SessionStatus())),
		)
		return nil
	case err != nil && !errors.Is(err, auction.ErrNoSession):
		return fmt.Errorf("recovering session: %w", err)
	}

	players, err := seedPlayers(ctx, cfg, repo)
	if err != nil {
		return err
	}
	if len(players) == 0 {
		logger.WarnContext(ctx, "no auctionable players, waiting for a player pool")
		return nil
	}
	params, err := sessionParams(cfg, players)
	if err != nil {
		return err
	}
	id, err = eng.StartSession(ctx, params)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	logger.InfoContext(ctx, "started auction session",
		slog.String("session_id", id),
		slog.Int("players", len(params.Players)),
		slog.Int("teams", len(params.Teams)),
	)
	return nil
}
