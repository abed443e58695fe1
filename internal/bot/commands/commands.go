// Package commands implements the auction's Discord slash commands.
// Interactions are reduced to a Request and answered by Dispatch, so the
// command logic runs without a live gateway.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sreeharimv/auction-platform/internal/auction"
	"github.com/sreeharimv/auction-platform/internal/money"
	"github.com/sreeharimv/auction-platform/internal/queue"
	"github.com/sreeharimv/auction-platform/internal/roster"
)

// Engine is the part of the auction engine the commands drive.
type Engine interface {
	CurrentRound() *auction.RoundSnapshot
	SessionStatus() auction.SessionStatus
	SubmitBid(ctx context.Context, roundID, teamID string, amount money.Amount, expectedVersion int) (auction.RoundSnapshot, error)
	CloseRound(ctx context.Context, outcome auction.Outcome) (auction.CloseResult, error)
	UndoLastSale(ctx context.Context) (auction.RoundSnapshot, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Reorder(ctx context.Context, playerIDs []string) error
	ReofferPlayer(ctx context.Context, playerID string, pos queue.Position) error
	Teams() []auction.TeamStanding
	Queue() []roster.Player
}

// TeamResolver maps a Discord user to the team they bid for.
type TeamResolver func(userID string) (teamID string, ok bool)

// Options configures Handlers.
type Options struct {
	// AdminRoleID gates operator commands. Empty lets every member operate.
	AdminRoleID string
	Currency    string
	// QueuePreview caps how many upcoming players /round lists.
	QueuePreview int
}

// Request is a slash command reduced to what the handlers need.
type Request struct {
	Command string
	UserID  string
	RoleIDs []string
	Options map[string]any
}

func (r Request) str(name string) string {
	v, _ := r.Options[name].(string)
	return v
}

func (r Request) integer(name string) (int64, bool) {
	v, ok := r.Options[name].(int64)
	return v, ok
}

func (r Request) flag(name string) bool {
	v, _ := r.Options[name].(bool)
	return v
}

// Reply is the response to a Request. Ephemeral replies are shown only to
// the caller; bid rejections are always ephemeral.
type Reply struct {
	Content   string
	Ephemeral bool
}

func public(format string, args ...any) Reply {
	return Reply{Content: fmt.Sprintf(format, args...)}
}

func private(format string, args ...any) Reply {
	return Reply{Content: fmt.Sprintf(format, args...), Ephemeral: true}
}

// Handlers process Discord interactions.
type Handlers struct {
	engine Engine
	teamOf TeamResolver
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandlers creates new command handlers.
func NewHandlers(engine Engine, teamOf TeamResolver, opts Options, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	if opts.QueuePreview <= 0 {
		opts.QueuePreview = 5
	}
	return &Handlers{
		engine: engine,
		teamOf: teamOf,
		opts:   opts,
		logger: logger,
		tracer: tp.Tracer("github.com/sreeharimv/auction-platform/internal/bot/commands"),
	}
}

// adminOnly lists the operator commands.
var adminOnly = map[string]bool{
	"sell": true, "pass": true, "undo": true, "pause": true,
	"resume": true, "reorder": true, "reoffer": true,
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	teamOpt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "team",
		Description: "Bid on behalf of this team id (operators only)",
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        "bid",
			Description: "Bid on the player under the hammer",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Bid amount in whole currency units",
					Required:    true,
				},
				teamOpt,
			},
		},
		{
			Name:        "raise",
			Description: "Bid the next minimum amount",
			Options:     []*discordgo.ApplicationCommandOption{teamOpt},
		},
		{
			Name:        "round",
			Description: "Show the current round and who is next",
		},
		{
			Name:        "teams",
			Description: "Show team purses and squads",
		},
		{
			Name:        "sell",
			Description: "Sell the player to the leading bidder (operators only)",
		},
		{
			Name:        "pass",
			Description: "Close the round without a sale (operators only)",
		},
		{
			Name:        "undo",
			Description: "Reverse the last sale (operators only)",
		},
		{
			Name:        "pause",
			Description: "Pause the auction (operators only)",
		},
		{
			Name:        "resume",
			Description: "Resume the auction (operators only)",
		},
		{
			Name:        "reorder",
			Description: "Set the order of pending players (operators only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "order",
					Description: "Comma separated player ids, every pending player exactly once",
					Required:    true,
				},
			},
		},
		{
			Name:        "reoffer",
			Description: "Put an unsold player back in the queue (operators only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "player",
					Description: "Player id",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "front",
					Description: "Offer next instead of last",
				},
			},
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	reply := h.Dispatch(context.Background(), requestFrom(i))

	resp := &discordgo.InteractionResponseData{Content: reply.Content}
	if reply.Ephemeral {
		resp.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: resp,
	}); err != nil {
		h.logger.Error("failed to respond to interaction", slog.String("command", i.ApplicationCommandData().Name), slog.Any("error", err))
	}
}

func requestFrom(i *discordgo.InteractionCreate) Request {
	data := i.ApplicationCommandData()
	req := Request{Command: data.Name, Options: make(map[string]any, len(data.Options))}
	switch {
	case i.Member != nil && i.Member.User != nil:
		req.UserID = i.Member.User.ID
		req.RoleIDs = i.Member.Roles
	case i.User != nil:
		req.UserID = i.User.ID
	}
	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionInteger:
			req.Options[opt.Name] = opt.IntValue()
		case discordgo.ApplicationCommandOptionBoolean:
			req.Options[opt.Name] = opt.BoolValue()
		case discordgo.ApplicationCommandOptionString:
			req.Options[opt.Name] = opt.StringValue()
		}
	}
	return req
}

// Dispatch runs one command and returns the reply.
func (h *Handlers) Dispatch(ctx context.Context, req Request) Reply {
	ctx, span := h.tracer.Start(ctx, "Dispatch",
		trace.WithAttributes(
			attribute.String("command", req.Command),
			attribute.String("discord.user", req.UserID),
		),
	)
	defer span.End()

	if adminOnly[req.Command] && !h.isAdmin(req) {
		return private("Only auction operators can use `/%s`.", req.Command)
	}

	var reply Reply
	switch req.Command {
	case "bid":
		reply = h.handleBid(ctx, req)
	case "raise":
		reply = h.handleRaise(ctx, req)
	case "round":
		reply = h.handleRound()
	case "teams":
		reply = h.handleTeams()
	case "sell":
		reply = h.handleClose(ctx, auction.Sold)
	case "pass":
		reply = h.handleClose(ctx, auction.Unsold)
	case "undo":
		reply = h.handleUndo(ctx)
	case "pause":
		reply = h.handlePause(ctx)
	case "resume":
		reply = h.handleResume(ctx)
	case "reorder":
		reply = h.handleReorder(ctx, req)
	case "reoffer":
		reply = h.handleReoffer(ctx, req)
	default:
		reply = private("Unknown command")
	}
	if reply.Ephemeral {
		span.SetStatus(codes.Error, reply.Content)
	}
	return reply
}

func (h *Handlers) isAdmin(req Request) bool {
	return h.opts.AdminRoleID == "" || slices.Contains(req.RoleIDs, h.opts.AdminRoleID)
}

// bidder resolves the team a request bids for. Operators may name any team.
func (h *Handlers) bidder(req Request) (string, *Reply) {
	if team := req.str("team"); team != "" {
		if !h.isAdmin(req) {
			r := private("Only auction operators can bid for another team.")
			return "", &r
		}
		return team, nil
	}
	team, ok := h.teamOf(req.UserID)
	if !ok {
		r := private("You are not registered to bid for any team.")
		return "", &r
	}
	return team, nil
}

func (h *Handlers) handleBid(ctx context.Context, req Request) Reply {
	team, rej := h.bidder(req)
	if rej != nil {
		return *rej
	}
	amount, ok := req.integer("amount")
	if !ok {
		return private("An amount is required.")
	}
	r := h.engine.CurrentRound()
	if r == nil {
		return private("There is no round open.")
	}
	return h.submit(ctx, r, team, money.Amount(amount))
}

func (h *Handlers) handleRaise(ctx context.Context, req Request) Reply {
	team, rej := h.bidder(req)
	if rej != nil {
		return *rej
	}
	r := h.engine.CurrentRound()
	if r == nil {
		return private("There is no round open.")
	}
	return h.submit(ctx, r, team, r.NextMinimum)
}

func (h *Handlers) submit(ctx context.Context, r *auction.RoundSnapshot, team string, amount money.Amount) Reply {
	snap, err := h.engine.SubmitBid(ctx, r.RoundID, team, amount, r.Version)
	if err != nil {
		return private("Bid of %s rejected: %s", h.amt(amount), h.describe(err, r))
	}
	h.logger.InfoContext(ctx, "bid placed via discord",
		slog.String("round_id", snap.RoundID),
		slog.String("team_id", team),
		slog.Int64("amount", int64(amount)),
	)
	reply := public("**%s** bids **%s** for %s. Next bid: %s", team, h.amt(snap.Amount), snap.Player.Name, h.amt(snap.NextMinimum))
	for _, st := range h.engine.Teams() {
		if st.Team.ID == team && snap.Amount > st.MaxAdvisedBid {
			reply.Content += fmt.Sprintf("\n⚠️ %s is above the advised maximum of %s for a full squad.", h.amt(snap.Amount), h.amt(st.MaxAdvisedBid))
		}
	}
	return reply
}

func (h *Handlers) handleRound() Reply {
	switch h.engine.SessionStatus() {
	case auction.NotStarted:
		return private("The auction has not started.")
	case auction.Completed:
		return public("The auction is complete.")
	}
	var b strings.Builder
	r := h.engine.CurrentRound()
	if r == nil {
		b.WriteString("No round is open.")
	} else {
		fmt.Fprintf(&b, "**%s** (%s), base %s, offer %d\n", r.Player.Name, r.Player.Role, h.amt(r.BasePrice), r.Offer)
		if r.Leader == "" {
			fmt.Fprintf(&b, "No bids yet. Opening bid: %s", h.amt(r.NextMinimum))
		} else {
			fmt.Fprintf(&b, "Leading: **%s** at %s. Next bid: %s", r.Leader, h.amt(r.Amount), h.amt(r.NextMinimum))
		}
		if r.Frozen {
			b.WriteString("\nBidding is paused.")
		}
	}
	upcoming := h.engine.Queue()
	if r != nil && len(upcoming) > 0 && upcoming[0].ID == r.Player.ID {
		upcoming = upcoming[1:]
	}
	if len(upcoming) > 0 {
		b.WriteString("\nUp next:")
		for idx, p := range upcoming {
			if idx == h.opts.QueuePreview {
				fmt.Fprintf(&b, "\n…and %d more", len(upcoming)-idx)
				break
			}
			fmt.Fprintf(&b, "\n%d. %s", idx+1, p.Name)
		}
	}
	return Reply{Content: b.String()}
}

func (h *Handlers) handleTeams() Reply {
	teams := h.engine.Teams()
	if len(teams) == 0 {
		return private("The auction has not started.")
	}
	var b strings.Builder
	b.WriteString("**Team Purses:**")
	for _, st := range teams {
		fmt.Fprintf(&b, "\n**%s** purse %s, spent %s, squad %d/%d, advised max %s",
			st.Team.Name, h.amt(st.Available), h.amt(st.Team.Spent),
			len(st.Team.Squad), st.Team.MaxPlayers, h.amt(st.MaxAdvisedBid))
	}
	return Reply{Content: b.String()}
}

func (h *Handlers) handleClose(ctx context.Context, outcome auction.Outcome) Reply {
	res, err := h.engine.CloseRound(ctx, outcome)
	if err != nil {
		return private("Could not close the round: %s", h.describe(err, h.engine.CurrentRound()))
	}
	var b strings.Builder
	if res.Outcome == auction.Sold {
		fmt.Fprintf(&b, "🔨 **%s** sold to **%s** for %s", res.Player.Name, res.TeamID, h.amt(res.Amount))
	} else {
		fmt.Fprintf(&b, "**%s** goes unsold", res.Player.Name)
		if res.Requeued {
			b.WriteString(" and returns at the end of the queue")
		}
	}
	if res.Next == nil {
		b.WriteString("\nThe auction is complete.")
	} else {
		fmt.Fprintf(&b, "\nNow up: **%s**, base %s", res.Next.Player.Name, h.amt(res.Next.BasePrice))
	}
	return Reply{Content: b.String()}
}

func (h *Handlers) handleUndo(ctx context.Context) Reply {
	snap, err := h.engine.UndoLastSale(ctx)
	if err != nil {
		return private("Could not undo: %s", h.describe(err, nil))
	}
	if snap.Leader == "" {
		return public("Sale undone. **%s** is back under the hammer.", snap.Player.Name)
	}
	return public("Sale undone. **%s** is back under the hammer with **%s** leading at %s.", snap.Player.Name, snap.Leader, h.amt(snap.Amount))
}

func (h *Handlers) handlePause(ctx context.Context) Reply {
	if err := h.engine.Pause(ctx); err != nil {
		return private("Could not pause: %s", h.describe(err, nil))
	}
	return public("⏸️ The auction is paused.")
}

func (h *Handlers) handleResume(ctx context.Context) Reply {
	if err := h.engine.Resume(ctx); err != nil {
		return private("Could not resume: %s", h.describe(err, nil))
	}
	return public("▶️ The auction has resumed.")
}

func (h *Handlers) handleReorder(ctx context.Context, req Request) Reply {
	var ids []string
	for _, id := range strings.Split(req.str("order"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if err := h.engine.Reorder(ctx, ids); err != nil {
		return private("Could not reorder: %s", h.describe(err, nil))
	}
	return public("Queue reordered: %s", strings.Join(ids, ", "))
}

func (h *Handlers) handleReoffer(ctx context.Context, req Request) Reply {
	player := req.str("player")
	pos := queue.Back
	if req.flag("front") {
		pos = queue.Front
	}
	if err := h.engine.ReofferPlayer(ctx, player, pos); err != nil {
		return private("Could not re-offer %s: %s", player, h.describe(err, nil))
	}
	return public("%s goes back to the %s of the queue.", player, pos)
}

func (h *Handlers) amt(a money.Amount) string {
	return money.Format(a, h.opts.Currency)
}

// describe turns an engine error into text for the caller.
func (h *Handlers) describe(err error, r *auction.RoundSnapshot) string {
	switch {
	case errors.Is(err, auction.ErrBidTooLow) && r != nil:
		return fmt.Sprintf("the minimum is %s", h.amt(r.NextMinimum))
	case errors.Is(err, auction.ErrStaleRound):
		return "another bid landed first, check `/round` and try again"
	case errors.Is(err, auction.ErrSelfOutbid):
		return "your team already leads"
	case errors.Is(err, auction.ErrInsufficientFunds):
		return "not enough purse left"
	case errors.Is(err, auction.ErrSquadFull):
		return "the squad is full"
	case errors.Is(err, auction.ErrNoLeadingBid):
		return "nobody has bid, use `/pass` instead"
	case errors.Is(err, auction.ErrRoundOpen):
		return "close the current round first"
	default:
		return err.Error()
	}
}
