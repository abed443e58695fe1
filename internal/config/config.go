package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sreeharimv/auction-platform/internal/event"
	"github.com/sreeharimv/auction-platform/internal/increment"
	"github.com/sreeharimv/auction-platform/internal/ledger"
	"github.com/sreeharimv/auction-platform/internal/money"
)

// Config represents the application configuration.
type Config struct {
	Tournament     TournamentConfig     `yaml:"tournament"`
	Teams          TeamsConfig          `yaml:"teams"`
	Players        []PlayerConfig       `yaml:"players"`
	Auction        AuctionConfig        `yaml:"auction"`
	Discord        DiscordConfig        `yaml:"discord"`
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// TournamentConfig holds tournament-wide settings.
type TournamentConfig struct {
	Name         string       `yaml:"name"`
	Currency     string       `yaml:"currency"`
	BasePrice    money.Amount `yaml:"base_price"`
	MinBasePrice money.Amount `yaml:"min_base_price"`
}

// TeamsConfig lists the franchises. Budget and squad limits apply to every
// team that does not override them.
type TeamsConfig struct {
	Budget     money.Amount `yaml:"budget"`
	MinPlayers int          `yaml:"min_players"`
	MaxPlayers int          `yaml:"max_players"`
	List       []TeamConfig `yaml:"list"`
}

// TeamConfig describes one franchise.
type TeamConfig struct {
	ID      string       `yaml:"id"`
	Name    string       `yaml:"name"`
	Budget  money.Amount `yaml:"budget"`
	Captain string       `yaml:"captain"`
	// DiscordIDs are the users allowed to bid for this team.
	DiscordIDs []string `yaml:"discord_ids"`
}

// PlayerConfig seeds the player pool when the database has none.
type PlayerConfig struct {
	ID        string       `yaml:"id"`
	Name      string       `yaml:"name"`
	Role      string       `yaml:"role"`
	BasePrice money.Amount `yaml:"base_price"`
	Age       int          `yaml:"age"`
	Batting   string       `yaml:"batting"`
	Bowling   string       `yaml:"bowling"`
	Photo     string       `yaml:"photo"`
}

// AuctionConfig holds bidding rules.
type AuctionConfig struct {
	// Tiers, when set, replace Increments.
	Tiers []increment.Tier `yaml:"tiers"`
	// Increments apply below 2x, below 4x and above 4x the base price.
	Increments [3]money.Amount `yaml:"increments"`
	Unsold     string          `yaml:"unsold"` // "finalize" or "requeue"
	MaxOffers  int             `yaml:"max_offers"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	Token       string `yaml:"token"`
	GuildID     string `yaml:"guild_id"`
	AdminRoleID string `yaml:"admin_role_id"`
	// ChannelID receives live auction announcements. Empty disables them.
	ChannelID string `yaml:"channel_id"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "sqlx" or "ent"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Tournament: TournamentConfig{
			Currency:     "₹",
			BasePrice:    5_000_000,
			MinBasePrice: 5_000_000,
		},
		Teams: TeamsConfig{
			Budget:     25_000_000,
			MinPlayers: 8,
			MaxPlayers: 9,
		},
		Auction: AuctionConfig{
			Increments: [3]money.Amount{1_000_000, 2_500_000, 5_000_000},
			Unsold:     "finalize",
		},
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "sqlx",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctiond",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auctiond-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlx", "ent":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"sqlx\" or \"ent\"", c.Database.Driver)
	}

	if c.Tournament.BasePrice < c.Tournament.MinBasePrice {
		return fmt.Errorf("base price %d below minimum %d", c.Tournament.BasePrice, c.Tournament.MinBasePrice)
	}

	if len(c.Teams.List) < 2 {
		return errors.New("at least two teams are required")
	}
	seen := make(map[string]bool, len(c.Teams.List))
	owners := make(map[string]string)
	for _, t := range c.Teams.List {
		if t.ID == "" {
			return fmt.Errorf("team %q has no id", t.Name)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate team id %q", t.ID)
		}
		seen[t.ID] = true
		for _, uid := range t.DiscordIDs {
			if other, ok := owners[uid]; ok {
				return fmt.Errorf("discord user %s assigned to both %s and %s", uid, other, t.ID)
			}
			owners[uid] = t.ID
		}
	}
	if c.Teams.MinPlayers < 0 || c.Teams.MaxPlayers <= 0 || c.Teams.MinPlayers > c.Teams.MaxPlayers {
		return fmt.Errorf("invalid squad limits: min %d, max %d", c.Teams.MinPlayers, c.Teams.MaxPlayers)
	}

	switch c.Auction.Unsold {
	case "finalize", "requeue":
	default:
		return fmt.Errorf("unsupported unsold policy %q: must be \"finalize\" or \"requeue\"", c.Auction.Unsold)
	}
	if c.Auction.MaxOffers < 0 {
		return fmt.Errorf("max_offers must not be negative, got %d", c.Auction.MaxOffers)
	}

	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}

// Policy returns the increment policy described by the auction section.
func (c *Config) Policy() (increment.Policy, error) {
	if len(c.Auction.Tiers) > 0 {
		return increment.New(c.Auction.Tiers)
	}
	return increment.FromBasePrice(c.Tournament.BasePrice, c.Auction.Increments)
}

// UnsoldPolicy returns how the engine treats players closed without a sale.
func (c *Config) UnsoldPolicy() event.UnsoldPolicy {
	return event.UnsoldPolicy{
		Requeue:   c.Auction.Unsold == "requeue",
		MaxOffers: c.Auction.MaxOffers,
	}
}

// TeamSpecs returns the ledger seed for every configured team.
func (c *Config) TeamSpecs() []ledger.TeamSpec {
	specs := make([]ledger.TeamSpec, 0, len(c.Teams.List))
	for _, t := range c.Teams.List {
		budget := t.Budget
		if budget == 0 {
			budget = c.Teams.Budget
		}
		name := t.Name
		if name == "" {
			name = t.ID
		}
		specs = append(specs, ledger.TeamSpec{
			ID:         t.ID,
			Name:       name,
			Budget:     budget,
			MinPlayers: c.Teams.MinPlayers,
			MaxPlayers: c.Teams.MaxPlayers,
			Captain:    t.Captain,
		})
	}
	return specs
}

// TeamForDiscordUser returns the team a Discord user bids for.
func (c *Config) TeamForDiscordUser(userID string) (string, bool) {
	for _, t := range c.Teams.List {
		for _, uid := range t.DiscordIDs {
			if uid == userID {
				return t.ID, true
			}
		}
	}
	return "", false
}
