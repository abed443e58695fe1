// Package bot connects the auction engine to Discord.
package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/trace"

	"github.com/sreeharimv/auction-platform/internal/bot/commands"
	"github.com/sreeharimv/auction-platform/internal/config"
	"github.com/sreeharimv/auction-platform/internal/event"
)

// Engine is what the bot needs from the auction engine: the command
// surface plus the event feed for announcements.
type Engine interface {
	commands.Engine
	Subscribe(from, buffer int) ([]event.Event, *event.Subscription)
}

// Bot wraps the Discord session and command handlers.
type Bot struct {
	session  *discordgo.Session
	cfg      config.DiscordConfig
	engine   Engine
	currency string
	logger   *slog.Logger
	handlers *commands.Handlers
	cmds     []*discordgo.ApplicationCommand
}

// New creates a new Bot instance.
func New(cfg *config.Config, engine Engine, logger *slog.Logger, tp trace.TracerProvider) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}

	handlers := commands.NewHandlers(engine, cfg.TeamForDiscordUser, commands.Options{
		AdminRoleID: cfg.Discord.AdminRoleID,
		Currency:    cfg.Tournament.Currency,
	}, logger, tp)

	return &Bot{
		session:  session,
		cfg:      cfg.Discord,
		engine:   engine,
		currency: cfg.Tournament.Currency,
		logger:   logger,
		handlers: handlers,
	}, nil
}

// Start opens the Discord connection, registers slash commands and, when
// a channel is configured, starts announcing the auction there until ctx
// is done.
func (b *Bot) Start(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.InfoContext(ctx, "bot is ready", slog.String("user", s.State.User.Username))
	})

	b.session.AddHandler(b.handlers.InteractionCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.cfg.GuildID, commands.SlashCommands())
	if err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}
	b.cmds = registered
	b.logger.InfoContext(ctx, "slash commands registered", slog.Int("count", len(registered)))

	if b.cfg.ChannelID != "" {
		history, sub := b.engine.Subscribe(0, event.DefaultBuffer)
		go b.announce(ctx, history, sub, func(msg string) error {
			_, err := b.session.ChannelMessageSend(b.cfg.ChannelID, msg)
			return err
		})
	}
	return nil
}

// announce posts live events through send. History only primes names.
func (b *Bot) announce(ctx context.Context, history []event.Event, sub *event.Subscription, send func(string) error) {
	defer sub.Close()

	a := NewAnnouncer(b.currency)
	for _, ev := range history {
		a.Observe(ev)
	}
	var dropped int64
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if n := sub.Lagged(); n > dropped {
				b.logger.WarnContext(ctx, "announcement feed fell behind", slog.Int64("dropped", n-dropped))
				dropped = n
			}
			msg, ok, err := a.Render(ev)
			if err != nil {
				b.logger.ErrorContext(ctx, "failed to render announcement", slog.String("type", string(ev.Type)), slog.Any("error", err))
				continue
			}
			if !ok {
				continue
			}
			if err := send(msg); err != nil {
				b.logger.ErrorContext(ctx, "failed to post announcement", slog.String("channel", b.cfg.ChannelID), slog.Any("error", err))
			}
		}
	}
}

// Stop removes the registered commands and closes the connection.
func (b *Bot) Stop() error {
	for _, cmd := range b.cmds {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.cfg.GuildID, cmd.ID); err != nil {
			b.logger.Error("failed to delete command", slog.String("command", cmd.Name), slog.Any("error", err))
		}
	}
	return b.session.Close()
}
