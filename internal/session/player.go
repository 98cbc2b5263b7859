package session

import (
	"time"

	"github.com/luciancaetano/kephasmmo"
)

// NoGuild marks a player without a guild, in both GuildID and GuildRank.
const NoGuild = -1

// Player is a character bound to a live client connection.
type Player struct {
	Conn        kephasmmo.Conn
	AccountID   int
	CharID      int
	Name        string
	Permissions int
	GuildID     int
	GuildRank   int
	// PartyID is "" when the player is not in a party. The party itself lives in the
	// directory's registry.
	PartyID string

	invitation *Invitation
}

// CharacterInfo is what a connection presents to become a Player.
type CharacterInfo struct {
	AccountID   int
	CharID      int
	Name        string
	Permissions int
	GuildID     int
	GuildRank   int
}

func (p *Player) IsGM() bool {
	return p.Permissions > 0
}

func (p *Player) InGuild() bool {
	return p.GuildID != NoGuild
}

func (p *Player) InParty() bool {
	return p.PartyID != ""
}

func (p *Player) Send(msg []byte) {
	p.Conn.Send(msg)
}

// Invite stores inv as the player's pending invitation, replacing any older one.
func (p *Player) Invite(inv Invitation) {
	p.invitation = &inv
}

// PendingInvitation returns the invitation if one exists and has not expired at now. An
// expired invitation is dropped.
func (p *Player) PendingInvitation(now time.Time) (Invitation, bool) {
	if p.invitation == nil {
		return Invitation{}, false
	}
	if p.invitation.Expired(now) {
		p.invitation = nil
		return Invitation{}, false
	}
	return *p.invitation, true
}

func (p *Player) HasPendingInvitation(now time.Time) bool {
	_, ok := p.PendingInvitation(now)
	return ok
}

func (p *Player) ClearInvitation() {
	p.invitation = nil
}
