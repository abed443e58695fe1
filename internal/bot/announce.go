package bot

import (
	"fmt"

	"github.com/sreeharimv/auction-platform/internal/event"
	"github.com/sreeharimv/auction-platform/internal/money"
)

// Announcer renders session events as channel messages. It learns names
// from SessionStarted, so it must observe the log from the start.
type Announcer struct {
	currency string
	players  map[string]string
	teams    map[string]string
}

// NewAnnouncer returns an Announcer that formats amounts with currency.
func NewAnnouncer(currency string) *Announcer {
	return &Announcer{
		currency: currency,
		players:  make(map[string]string),
		teams:    make(map[string]string),
	}
}

// Observe records names carried by ev without rendering it.
func (a *Announcer) Observe(ev event.Event) {
	if ev.Type != event.SessionStarted {
		return
	}
	var d event.SessionStartedData
	if err := ev.Decode(&d); err != nil {
		return
	}
	if d.Currency != "" {
		a.currency = d.Currency
	}
	for _, p := range d.Players {
		a.players[p.ID] = p.Name
	}
	for _, t := range d.Teams {
		a.teams[t.ID] = t.Name
	}
}

// Render returns the announcement for ev. Bids and bookkeeping events are
// not announced.
func (a *Announcer) Render(ev event.Event) (string, bool, error) {
	a.Observe(ev)

	switch ev.Type {
	case event.SessionStarted:
		var d event.SessionStartedData
		if err := ev.Decode(&d); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("📣 **%s** auction is live: %d teams, %d players.", d.Tournament, len(d.Teams), len(d.Players)), true, nil

	case event.RoundOpened:
		var d event.RoundOpenedData
		if err := ev.Decode(&d); err != nil {
			return "", false, err
		}
		msg := fmt.Sprintf("🏏 Now under the hammer: **%s**, base %s", a.player(d.PlayerID), a.amt(d.BasePrice))
		if d.Offer > 1 {
			msg += fmt.Sprintf(" (offer %d)", d.Offer)
		}
		return msg, true, nil

	case event.RoundSold:
		var d event.RoundSoldData
		if err := ev.Decode(&d); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("🔨 **%s** SOLD to **%s** for %s", a.player(d.PlayerID), a.team(d.TeamID), a.amt(d.Amount)), true, nil

	case event.RoundUnsold:
		var d event.RoundUnsoldData
		if err := ev.Decode(&d); err != nil {
			return "", false, err
		}
		if d.Requeued {
			return fmt.Sprintf("**%s** unsold, back to the end of the queue", a.player(d.PlayerID)), true, nil
		}
		return fmt.Sprintf("**%s** UNSOLD", a.player(d.PlayerID)), true, nil

	case event.SaleUndone:
		var d event.SaleUndoneData
		if err := ev.Decode(&d); err != nil {
			return "", false, err
		}
		return fmt.Sprintf("↩️ Sale of **%s** to **%s** reversed, %s refunded", a.player(d.PlayerID), a.team(d.TeamID), a.amt(d.Amount)), true, nil

	case event.SessionPaused:
		return "⏸️ Auction paused", true, nil
	case event.SessionResumed:
		return "▶️ Auction resumed", true, nil
	case event.SessionCompleted:
		return "🏁 Auction complete", true, nil
	}
	return "", false, nil
}

func (a *Announcer) player(id string) string {
	if name, ok := a.players[id]; ok && name != "" {
		return name
	}
	return id
}

func (a *Announcer) team(id string) string {
	if name, ok := a.teams[id]; ok && name != "" {
		return name
	}
	return id
}

func (a *Announcer) amt(v money.Amount) string {
	return money.Format(v, a.currency)
}
